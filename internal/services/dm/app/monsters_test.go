package app

import (
	"context"
	"errors"
	"testing"

	"github.com/emberhollow/gloomvale/internal/platform/logging"
	"github.com/emberhollow/gloomvale/internal/services/dm/domain/combat"
	"github.com/emberhollow/gloomvale/internal/services/dm/domain/event"
	"github.com/emberhollow/gloomvale/internal/services/dm/storage"
)

func seedMonster(t *testing.T, store *memMonsterStore, record storage.MonsterRecord) storage.MonsterRecord {
	t.Helper()
	saved, err := store.PutMonster(context.Background(), record)
	if err != nil {
		t.Fatalf("seed monster: %v", err)
	}
	return saved
}

func TestSaveMonsterKeepsCombatStatistics(t *testing.T) {
	store := newMemMonsterStore()
	service := NewMonsterService(store, &captureSink{}, logging.Discard())

	seeded := seedMonster(t, store, storage.MonsterRecord{
		Name: "Ogre", Level: 4, HP: 30, MaxHP: 30, Strength: 18, Agility: 10,
		IsAlive: true, X: 3, Y: 3, DamageRoll: "2d6",
	})

	err := service.SaveMonster(context.Background(), combat.MonsterState{
		ID: seeded.ID, Name: "Ogre", HP: 11, MaxHP: 30, IsAlive: true,
		Position: combat.Position{X: 4, Y: 3},
	})
	if err != nil {
		t.Fatalf("save monster: %v", err)
	}

	reloaded, err := store.GetMonster(context.Background(), seeded.ID)
	if err != nil {
		t.Fatalf("get monster: %v", err)
	}
	if reloaded.HP != 11 || reloaded.X != 4 {
		t.Fatalf("mutable state not persisted: %+v", reloaded)
	}
	if reloaded.Strength != 18 || reloaded.DamageRoll != "2d6" {
		t.Fatalf("combat statistics must survive a save: %+v", reloaded)
	}
}

func TestDeleteMonsterEmitsDeathEvent(t *testing.T) {
	store := newMemMonsterStore()
	sink := &captureSink{}
	service := NewMonsterService(store, sink, logging.Discard())

	seeded := seedMonster(t, store, storage.MonsterRecord{
		Name: "Goblin", Level: 2, HP: 0, MaxHP: 3, IsAlive: false, X: 4, Y: 9,
	})

	killer := event.Participant{Kind: "player", ID: 1, Name: "Hero"}
	if err := service.DeleteMonster(context.Background(), seeded.ID, killer); err != nil {
		t.Fatalf("delete monster: %v", err)
	}

	if _, err := store.GetMonster(context.Background(), seeded.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected monster gone, got %v", err)
	}

	deaths := sink.byType(event.TypeMonsterDeath)
	if len(deaths) != 1 {
		t.Fatalf("expected one death event, got %d", len(deaths))
	}
	evt := deaths[0]
	if evt.Subject == nil || evt.Subject.Name != "Goblin" {
		t.Fatalf("unexpected subject %+v", evt.Subject)
	}
	if evt.Attacker == nil || evt.Attacker.Name != "Hero" {
		t.Fatalf("expected killer attribution, got %+v", evt.Attacker)
	}
	if evt.X != 4 || evt.Y != 9 {
		t.Fatalf("expected death location, got %d,%d", evt.X, evt.Y)
	}
}

func TestDeleteMonsterMissing(t *testing.T) {
	service := NewMonsterService(newMemMonsterStore(), &captureSink{}, logging.Discard())
	err := service.DeleteMonster(context.Background(), 42, event.Participant{})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
