// Package storage defines the persistence contracts of the dm service.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested persistence record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a write collided with a uniqueness constraint.
	ErrConflict = errors.New("record conflict")
)

// PlayerRecord stores one player character.
type PlayerRecord struct {
	ID           int64
	AccountID    string
	Name         string
	Level        int
	XP           int
	Gold         int
	HP           int
	MaxHP        int
	Strength     int
	Agility      int
	Constitution int
	SkillPoints  int
	IsAlive      bool
	X            int
	Y            int
	SpawnX       int
	SpawnY       int
	DamageRoll   string
	AttackBonus  int
	DamageBonus  int
	ArmorBonus   int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MonsterRecord stores one live monster in the world.
type MonsterRecord struct {
	ID         int64
	Name       string
	Level      int
	HP         int
	MaxHP      int
	Strength   int
	Agility    int
	IsAlive    bool
	X          int
	Y          int
	DamageRoll string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CombatLogRecord stores one immutable combat-history entry.
type CombatLogRecord struct {
	ID           int64
	AttackerID   int64
	AttackerKind string
	DefenderID   int64
	DefenderKind string
	Damage       int
	X            int
	Y            int
	CreatedAt    time.Time
}

// IntentStatus identifies one combat-intent lifecycle state.
type IntentStatus string

const (
	// IntentStatusPending means the resolved combat awaits result application.
	IntentStatusPending IntentStatus = "pending"
	// IntentStatusApplied means every downstream effect has been performed.
	IntentStatusApplied IntentStatus = "applied"
	// IntentStatusFailed means application errored and can be retried.
	IntentStatusFailed IntentStatus = "failed"
)

// CombatIntentRecord stores one resolved combat pending application. The
// intent is written before any state change so a crash mid-application leaves
// a durable record to resume from.
type CombatIntentRecord struct {
	ID           string
	PayloadJSON  string
	Status       IntentStatus
	AttemptCount int
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	AppliedAt    *time.Time
}

// PlayerStore persists player characters.
type PlayerStore interface {
	GetPlayer(ctx context.Context, playerID int64) (PlayerRecord, error)
	GetPlayerByName(ctx context.Context, name string) (PlayerRecord, error)
	PutPlayer(ctx context.Context, record PlayerRecord) (PlayerRecord, error)
}

// MonsterStore persists world monsters.
type MonsterStore interface {
	GetMonster(ctx context.Context, monsterID int64) (MonsterRecord, error)
	PutMonster(ctx context.Context, record MonsterRecord) (MonsterRecord, error)
	DeleteMonster(ctx context.Context, monsterID int64) error
}

// CombatLogStore appends and reads the immutable combat history.
type CombatLogStore interface {
	AppendCombatLog(ctx context.Context, record CombatLogRecord) (CombatLogRecord, error)
	ListCombatLogsByAttacker(ctx context.Context, attackerID int64, limit int) ([]CombatLogRecord, error)
}

// CombatIntentStore persists the combat-application outbox.
type CombatIntentStore interface {
	PutIntent(ctx context.Context, record CombatIntentRecord) error
	GetIntent(ctx context.Context, intentID string) (CombatIntentRecord, error)
	MarkIntentApplied(ctx context.Context, intentID string, appliedAt time.Time) error
	MarkIntentFailed(ctx context.Context, intentID string, lastError string) error
	ListPendingIntents(ctx context.Context, limit int) ([]CombatIntentRecord, error)
}
