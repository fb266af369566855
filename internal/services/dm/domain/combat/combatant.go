// Package combat implements the dice-driven battle simulator and the
// application of resolved combat outcomes to persistent state.
package combat

import "time"

// CombatantKind distinguishes players from monsters.
type CombatantKind string

const (
	KindPlayer  CombatantKind = "player"
	KindMonster CombatantKind = "monster"
)

// Position is a world tile coordinate.
type Position struct {
	X int
	Y int
}

// LevelUp describes a level gain detected while applying combat rewards.
type LevelUp struct {
	PreviousLevel      int
	NewLevel           int
	SkillPointsAwarded int
}

// Combatant is an in-memory snapshot of one fighter for a single combat
// invocation. The engine mutates HP and IsAlive in place; the results applier
// resynchronizes level, HP and position after rewards, heals and respawns.
//
// Negative IDs mark ephemeral, procedurally generated monsters that never
// persist.
type Combatant struct {
	ID       int64
	Name     string
	Kind     CombatantKind
	HP       int
	MaxHP    int
	Strength int
	Agility  int
	Level    int
	IsAlive  bool
	Position Position

	// DamageRoll is the weapon dice string, e.g. "1d6". Empty means the
	// default damage die.
	DamageRoll string

	// Equipment bonuses feed the attack roll, damage total and effective AC.
	AttackBonus int
	DamageBonus int
	ArmorBonus  int

	// ClientID routes notifications for players. Required for any player
	// reaching the results applier; absence there is an integrity bug.
	ClientID string

	// LevelUp is attached by the results applier for downstream narrative.
	LevelUp *LevelUp
}

// InitiativeEntry records one combatant's initiative roll.
type InitiativeEntry struct {
	Name     string
	Roll     int
	Modifier int
	Total    int
}

// Round is one attack resolution. Immutable once appended to a log.
type Round struct {
	RoundNumber  int
	AttackerName string
	DefenderName string

	AttackRoll     int
	AttackModifier int
	TotalAttack    int
	DefenderAC     int
	Hit            bool

	Damage          int
	DefenderHPAfter int
	Killed          bool

	// Base values and equipment contributions, split out for narrative use.
	BaseAttackModifier int
	AttackBonus        int
	BaseDefenderAC     int
	ArmorBonus         int
	BaseDamage         int
	DamageBonus        int
}

// Side indexes the two rosters of a combat.
type Side int

const (
	SideA Side = 0
	SideB Side = 1
	// SideNone marks a stalemate, where neither roster won.
	SideNone Side = -1
)

// DetailedCombatLog is the full record of a resolved combat. It is the sole
// artifact passed from the engine to the results applier: the transaction
// intent for every downstream effect.
type DetailedCombatLog struct {
	CombatID     string
	Participant1 string
	Participant2 string

	Initiative    []InitiativeEntry
	FirstAttacker string
	Rounds        []Round

	// Winner and Loser are display names (side names in team combat) kept
	// for narrative. Effect application resolves identity through
	// WinnerSide/WinnerID/LoserID, never through these strings.
	Winner     string
	Loser      string
	WinnerSide Side
	WinnerID   int64
	LoserID    int64
	Stalemate  bool

	XPAwarded   int
	GoldAwarded int

	Timestamp time.Time
	Location  Position
}

// TotalDamage sums the damage dealt across all rounds.
func (l *DetailedCombatLog) TotalDamage() int {
	total := 0
	for _, round := range l.Rounds {
		total += round.Damage
	}
	return total
}

// AttackOrigin classifies how a fight was initiated. It governs the loser
// recovery policy in the results applier.
type AttackOrigin string

const (
	OriginUnspecified AttackOrigin = ""
	OriginPvE         AttackOrigin = "pve"
	OriginTextPvP     AttackOrigin = "text-pvp"
	OriginDropdownPvP AttackOrigin = "dropdown-pvp"
)
