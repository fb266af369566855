// Package event defines the combat lifecycle events the dm service emits and
// the sink contract observers implement.
package event

import (
	"context"
	"time"
)

// Type discriminates the event union.
type Type string

const (
	TypeCombatStart   Type = "combat:start"
	TypeCombatHit     Type = "combat:hit"
	TypeCombatMiss    Type = "combat:miss"
	TypeCombatEnd     Type = "combat:end"
	TypeMonsterDeath  Type = "monster:death"
	TypePlayerRespawn Type = "player:respawn"
	TypePlayerLevelUp Type = "player:levelup"
)

// Participant identifies one side of a combat event.
type Participant struct {
	Kind string `json:"kind"` // "player" or "monster"
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Event is the tagged union carried on the bus. Only the fields relevant to
// the Type are populated.
type Event struct {
	Type     Type   `json:"type"`
	CombatID string `json:"combatId,omitempty"`
	// Subject is the participant a non-combat lifecycle event is about
	// (the respawned player, the leveled-up player, the dead monster).
	Subject           *Participant `json:"subject,omitempty"`
	Attacker          *Participant `json:"attacker,omitempty"`
	Defender          *Participant `json:"defender,omitempty"`
	Winner            *Participant `json:"winner,omitempty"`
	Loser             *Participant `json:"loser,omitempty"`
	Damage            int          `json:"damage,omitempty"`
	XPGained          int          `json:"xpGained,omitempty"`
	GoldGained        int          `json:"goldGained,omitempty"`
	NewLevel          int          `json:"newLevel,omitempty"`
	SkillPointsGained int          `json:"skillPointsGained,omitempty"`
	X                 int          `json:"x"`
	Y                 int          `json:"y"`
	Timestamp         time.Time    `json:"timestamp"`
}

// Sink accepts events. Emit is called on the critical path of combat
// resolution: implementations must preserve per-combat ordering, and an
// error aborts the emitting operation.
type Sink interface {
	Emit(ctx context.Context, evt Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, evt Event) error

// Emit implements Sink.
func (f SinkFunc) Emit(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// NopSink discards every event. Useful for callers that resolve combat
// without observers attached.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(context.Context, Event) error { return nil }
