package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/emberhollow/gloomvale/internal/services/dm/domain/combat"
	"github.com/emberhollow/gloomvale/internal/services/dm/domain/event"
	"github.com/emberhollow/gloomvale/internal/services/dm/storage"
)

// MonsterService owns world-monster state. It implements combat.MonsterWriter.
type MonsterService struct {
	store  storage.MonsterStore
	sink   event.Sink
	logger logrus.FieldLogger
	clock  func() time.Time
}

// NewMonsterService builds a monster service. A nil sink discards events and
// a nil logger falls back to the logrus default.
func NewMonsterService(store storage.MonsterStore, sink event.Sink, logger logrus.FieldLogger) *MonsterService {
	if sink == nil {
		sink = event.NopSink{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &MonsterService{store: store, sink: sink, logger: logger, clock: time.Now}
}

// LoadMonster loads one monster's combat-facing state.
func (s *MonsterService) LoadMonster(ctx context.Context, monsterID int64) (combat.MonsterState, error) {
	record, err := s.store.GetMonster(ctx, monsterID)
	if err != nil {
		return combat.MonsterState{}, fmt.Errorf("load monster %d: %w", monsterID, err)
	}
	return monsterState(record), nil
}

// SaveMonster persists a monster's post-combat HP, liveness and position.
// The stored record keeps its combat statistics; only the mutable state
// changes.
func (s *MonsterService) SaveMonster(ctx context.Context, state combat.MonsterState) error {
	record, err := s.store.GetMonster(ctx, state.ID)
	if err != nil {
		return fmt.Errorf("load monster %d: %w", state.ID, err)
	}
	record.HP = state.HP
	record.IsAlive = state.IsAlive
	record.X = state.Position.X
	record.Y = state.Position.Y
	if _, err := s.store.PutMonster(ctx, record); err != nil {
		return fmt.Errorf("save monster %d: %w", state.ID, err)
	}
	return nil
}

// DeleteMonster removes a dead monster from the world and emits
// monster:death with killer attribution.
func (s *MonsterService) DeleteMonster(ctx context.Context, monsterID int64, killedBy event.Participant) error {
	record, err := s.store.GetMonster(ctx, monsterID)
	if err != nil {
		return fmt.Errorf("load monster %d: %w", monsterID, err)
	}
	if err := s.store.DeleteMonster(ctx, monsterID); err != nil {
		return fmt.Errorf("delete monster %d: %w", monsterID, err)
	}
	s.logger.WithFields(logrus.Fields{
		"monster":   record.Name,
		"killed_by": killedBy.Name,
	}).Info("monster removed from the world")
	return s.sink.Emit(ctx, event.Event{
		Type:      event.TypeMonsterDeath,
		Subject:   &event.Participant{Kind: string(combat.KindMonster), ID: record.ID, Name: record.Name},
		Attacker:  &killedBy,
		X:         record.X,
		Y:         record.Y,
		Timestamp: s.clock(),
	})
}

func monsterState(record storage.MonsterRecord) combat.MonsterState {
	return combat.MonsterState{
		ID:       record.ID,
		Name:     record.Name,
		HP:       record.HP,
		MaxHP:    record.MaxHP,
		IsAlive:  record.IsAlive,
		Position: combat.Position{X: record.X, Y: record.Y},
	}
}

// monsterCombatant resolves a monster record into an engine roster entry.
func monsterCombatant(record storage.MonsterRecord) *combat.Combatant {
	return &combat.Combatant{
		ID:         record.ID,
		Name:       record.Name,
		Kind:       combat.KindMonster,
		HP:         record.HP,
		MaxHP:      record.MaxHP,
		Strength:   record.Strength,
		Agility:    record.Agility,
		Level:      record.Level,
		IsAlive:    record.IsAlive,
		Position:   combat.Position{X: record.X, Y: record.Y},
		DamageRoll: record.DamageRoll,
	}
}

// auditLog adapts the combat-log store to the applier's audit contract.
type auditLog struct {
	store storage.CombatLogStore
}

// CreateCombatLogEntry implements combat.AuditLog.
func (a auditLog) CreateCombatLogEntry(ctx context.Context, entry combat.AuditEntry) error {
	_, err := a.store.AppendCombatLog(ctx, storage.CombatLogRecord{
		AttackerID:   entry.AttackerID,
		AttackerKind: string(entry.AttackerKind),
		DefenderID:   entry.DefenderID,
		DefenderKind: string(entry.DefenderKind),
		Damage:       entry.Damage,
		X:            entry.X,
		Y:            entry.Y,
	})
	if err != nil {
		return fmt.Errorf("append combat log: %w", err)
	}
	return nil
}
