// Package app hosts the dm application services: player and monster state
// management and combat orchestration.
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

// Progression constants. XP thresholds are triangular: reaching level L
// requires xpPerLevelBase * L * (L-1) / 2 total XP, so each level costs
// xpPerLevelBase * (L-1) more than the one before.
const (
	xpPerLevelBase         = 100
	skillPointInterval     = 4
	skillPointsPerInterval = 2
	hitDieMax              = 10
	hitDieAverage          = 6
)

// xpThreshold returns the total XP required to hold the given level.
func xpThreshold(level int) int {
	if level <= 1 {
		return 0
	}
	return xpPerLevelBase * level * (level - 1) / 2
}

// levelForXP returns the highest level the XP total supports.
func levelForXP(xp int) int {
	level := 1
	for xp >= xpThreshold(level+1) {
		level++
	}
	return level
}

// maxHPForLevel computes hit points from scratch: a maxed hit die at first
// level, the average die for every level after, constitution modifier each
// time, never less than 1 per level.
func maxHPForLevel(level, constitution int) int {
	conMod := combat.AbilityModifier(constitution)
	hp := max(1, hitDieMax+conMod)
	for l := 2; l <= level; l++ {
		hp += max(1, hitDieAverage+conMod)
	}
	return hp
}

// skillPointsForLevel returns the cumulative skill points granted by level.
func skillPointsForLevel(level int) int {
	if level < skillPointInterval {
		return 0
	}
	return (level / skillPointInterval) * skillPointsPerInterval
}

// PlayerService owns player character state: stat updates with automatic
// level progression, respawn and recovery. It implements combat.PlayerWriter.
type PlayerService struct {
	store  storage.PlayerStore
	sink   event.Sink
	logger logrus.FieldLogger
	clock  func() time.Time
}

// NewPlayerService builds a player service. A nil sink discards events and a
// nil logger falls back to the logrus default.
func NewPlayerService(store storage.PlayerStore, sink event.Sink, logger logrus.FieldLogger) *PlayerService {
	if sink == nil {
		sink = event.NopSink{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PlayerService{store: store, sink: sink, logger: logger, clock: time.Now}
}

// Player loads one player's combat-facing state.
func (s *PlayerService) Player(ctx context.Context, playerID int64) (combat.PlayerState, error) {
	record, err := s.store.GetPlayer(ctx, playerID)
	if err != nil {
		return combat.PlayerState{}, fmt.Errorf("load player %d: %w", playerID, err)
	}
	return playerState(record), nil
}

// UpdatePlayerStats applies a stats delta. Writing XP recomputes the level:
// crossing one or more thresholds raises the level, recalculates max HP,
// restores the player to full health, grants any skill points due and emits
// one player:levelup event for the transition.
func (s *PlayerService) UpdatePlayerStats(ctx context.Context, playerID int64, delta combat.StatsDelta) (combat.PlayerState, error) {
	record, err := s.store.GetPlayer(ctx, playerID)
	if err != nil {
		return combat.PlayerState{}, fmt.Errorf("load player %d: %w", playerID, err)
	}

	if delta.XP != nil {
		record.XP = *delta.XP
	}
	if delta.Gold != nil {
		record.Gold = *delta.Gold
	}
	if delta.HP != nil {
		record.HP = *delta.HP
		record.IsAlive = record.HP > 0
	}
	if delta.Level != nil {
		record.Level = *delta.Level
	}

	previousLevel := record.Level
	leveledUp := false
	if delta.XP != nil {
		if newLevel := levelForXP(record.XP); newLevel > record.Level {
			record.Level = newLevel
			record.MaxHP = maxHPForLevel(newLevel, record.Constitution)
			record.HP = record.MaxHP
			record.IsAlive = true
			record.SkillPoints += skillPointsForLevel(newLevel) - skillPointsForLevel(previousLevel)
			leveledUp = true
		}
	}

	saved, err := s.store.PutPlayer(ctx, record)
	if err != nil {
		return combat.PlayerState{}, fmt.Errorf("save player %d: %w", playerID, err)
	}

	if leveledUp {
		s.logger.WithFields(logrus.Fields{
			"player": saved.Name,
			"level":  saved.Level,
		}).Info("player leveled up")
		if err := s.sink.Emit(ctx, event.Event{
			Type:              event.TypePlayerLevelUp,
			Subject:           &event.Participant{Kind: string(combat.KindPlayer), ID: saved.ID, Name: saved.Name},
			NewLevel:          saved.Level,
			SkillPointsGained: skillPointsForLevel(saved.Level) - skillPointsForLevel(previousLevel),
			X:                 saved.X,
			Y:                 saved.Y,
			Timestamp:         s.clock(),
		}); err != nil {
			return combat.PlayerState{}, err
		}
	}
	return playerState(saved), nil
}

// RespawnPlayer returns a defeated player to their spawn point at full
// health and emits player:respawn.
func (s *PlayerService) RespawnPlayer(ctx context.Context, playerID int64) (combat.PlayerState, error) {
	record, err := s.store.GetPlayer(ctx, playerID)
	if err != nil {
		return combat.PlayerState{}, fmt.Errorf("load player %d: %w", playerID, err)
	}
	record.HP = record.MaxHP
	record.IsAlive = true
	record.X = record.SpawnX
	record.Y = record.SpawnY

	saved, err := s.store.PutPlayer(ctx, record)
	if err != nil {
		return combat.PlayerState{}, fmt.Errorf("save player %d: %w", playerID, err)
	}
	s.logger.WithField("player", saved.Name).Info("player respawned")
	if err := s.sink.Emit(ctx, event.Event{
		Type:      event.TypePlayerRespawn,
		Subject:   &event.Participant{Kind: string(combat.KindPlayer), ID: saved.ID, Name: saved.Name},
		X:         saved.X,
		Y:         saved.Y,
		Timestamp: s.clock(),
	}); err != nil {
		return combat.PlayerState{}, err
	}
	return playerState(saved), nil
}

// RestorePlayerHealth heals a player to full where they stand.
func (s *PlayerService) RestorePlayerHealth(ctx context.Context, playerID int64) (combat.PlayerState, error) {
	record, err := s.store.GetPlayer(ctx, playerID)
	if err != nil {
		return combat.PlayerState{}, fmt.Errorf("load player %d: %w", playerID, err)
	}
	record.HP = record.MaxHP
	record.IsAlive = true

	saved, err := s.store.PutPlayer(ctx, record)
	if err != nil {
		return combat.PlayerState{}, fmt.Errorf("save player %d: %w", playerID, err)
	}
	return playerState(saved), nil
}

func playerState(record storage.PlayerRecord) combat.PlayerState {
	return combat.PlayerState{
		ID:          record.ID,
		Name:        record.Name,
		Level:       record.Level,
		XP:          record.XP,
		Gold:        record.Gold,
		HP:          record.HP,
		MaxHP:       record.MaxHP,
		SkillPoints: record.SkillPoints,
		IsAlive:     record.IsAlive,
		Position:    combat.Position{X: record.X, Y: record.Y},
		ClientID:    record.AccountID,
	}
}

// playerCombatant resolves a player record into an engine roster entry.
func playerCombatant(record storage.PlayerRecord) *combat.Combatant {
	return &combat.Combatant{
		ID:          record.ID,
		Name:        record.Name,
		Kind:        combat.KindPlayer,
		HP:          record.HP,
		MaxHP:       record.MaxHP,
		Strength:    record.Strength,
		Agility:     record.Agility,
		Level:       record.Level,
		IsAlive:     record.IsAlive,
		Position:    combat.Position{X: record.X, Y: record.Y},
		DamageRoll:  record.DamageRoll,
		AttackBonus: record.AttackBonus,
		DamageBonus: record.DamageBonus,
		ArmorBonus:  record.ArmorBonus,
		ClientID:    record.AccountID,
	}
}
