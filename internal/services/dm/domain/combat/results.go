package combat

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/emberhollow/gloomvale/internal/services/dm/domain/event"
)

// ErrMissingIdentity indicates a player combatant reached the results applier
// without a resolvable client identity. That is an upstream data-integrity
// bug, never a recoverable user error, so it is surfaced instead of defaulted.
var ErrMissingIdentity = errors.New("player combatant missing client identity")

// PlayerState is the persisted view of a player the applier reads and writes.
type PlayerState struct {
	ID          int64
	Name        string
	Level       int
	XP          int
	Gold        int
	HP          int
	MaxHP       int
	SkillPoints int
	IsAlive     bool
	Position    Position
	ClientID    string
}

// StatsDelta carries the fields of a player-stats update. Nil fields are left
// untouched.
type StatsDelta struct {
	XP    *int
	Gold  *int
	HP    *int
	Level *int
}

// MonsterState is the persisted view of a monster.
type MonsterState struct {
	ID       int64
	Name     string
	HP       int
	MaxHP    int
	IsAlive  bool
	Position Position
}

// PlayerWriter is the player-service contract the applier requires.
type PlayerWriter interface {
	Player(ctx context.Context, playerID int64) (PlayerState, error)
	UpdatePlayerStats(ctx context.Context, playerID int64, delta StatsDelta) (PlayerState, error)
	RespawnPlayer(ctx context.Context, playerID int64) (PlayerState, error)
	RestorePlayerHealth(ctx context.Context, playerID int64) (PlayerState, error)
}

// MonsterWriter is the monster-service contract the applier requires.
type MonsterWriter interface {
	LoadMonster(ctx context.Context, monsterID int64) (MonsterState, error)
	SaveMonster(ctx context.Context, state MonsterState) error
	DeleteMonster(ctx context.Context, monsterID int64, killedBy event.Participant) error
}

// AuditEntry is one immutable combat-history record.
type AuditEntry struct {
	AttackerID   int64
	AttackerKind CombatantKind
	DefenderID   int64
	DefenderKind CombatantKind
	Damage       int
	X            int
	Y            int
}

// AuditLog appends combat-history records to durable storage.
type AuditLog interface {
	CreateCombatLogEntry(ctx context.Context, entry AuditEntry) error
}

// Effects reports the state changes an Apply call produced, for downstream
// notification and narrative.
type Effects struct {
	Respawns        []PlayerState
	LevelUps        []LevelUp
	MonstersRemoved []int64
}

// ApplyOptions tune one results application.
type ApplyOptions struct {
	// Origin overrides attack-origin classification. When unset, the fight
	// is PvE if either side fields a monster, otherwise text PvP.
	Origin AttackOrigin
}

// Applier translates a resolved combat log into persisted state changes
// across the player and monster services and the audit log.
//
// The pipeline is not transactional across services: any error propagates to
// the caller with earlier effects already applied. Callers that need resume
// semantics record the log as a durable intent before invoking Apply (see the
// combat service).
type Applier struct {
	players  PlayerWriter
	monsters MonsterWriter
	audit    AuditLog
	logger   logrus.FieldLogger
}

// NewApplier builds an applier. A nil logger falls back to the logrus default.
func NewApplier(players PlayerWriter, monsters MonsterWriter, audit AuditLog, logger logrus.FieldLogger) *Applier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Applier{players: players, monsters: monsters, audit: audit, logger: logger}
}

// Apply performs all downstream effects of a resolved combat: loser respawn
// or heal, monster removal or update, reward crediting with level-up
// detection, winner recovery, and exactly one audit entry.
//
// The rosters must be the same slices the engine resolved; their members are
// resynchronized in place from the persisted writes.
func (a *Applier) Apply(ctx context.Context, combatLog *DetailedCombatLog, teamA, teamB []*Combatant, opts ApplyOptions) (Effects, error) {
	var effects Effects
	if combatLog == nil {
		return effects, errors.New("combat log is required")
	}
	if len(teamA) == 0 || len(teamB) == 0 {
		return effects, ErrEmptyTeam
	}

	logger := a.logger.WithField("combat_id", combatLog.CombatID)

	origin := opts.Origin
	if origin == OriginUnspecified {
		origin = classifyOrigin(teamA, teamB)
	}

	if combatLog.Stalemate {
		if err := a.applyStalemate(ctx, teamA, teamB, logger); err != nil {
			return effects, err
		}
		return effects, a.appendAudit(ctx, combatLog, representative(teamA), representative(teamB))
	}

	winners, losers := teamA, teamB
	if combatLog.WinnerSide == SideB {
		winners, losers = teamB, teamA
	}
	winnerRep := representative(winners)
	loserRep := representative(losers)

	logger.WithFields(logrus.Fields{
		"winner": combatLog.Winner,
		"loser":  combatLog.Loser,
		"origin": string(origin),
	}).Debug("applying combat results")

	for _, loser := range losers {
		if err := a.applyLoser(ctx, loser, winnerRep, origin, &effects, logger); err != nil {
			return effects, err
		}
	}

	xpShares := splitReward(combatLog.XPAwarded, countPlayers(winners))
	goldShares := splitReward(combatLog.GoldAwarded, countPlayers(winners))
	playerIndex := 0
	for _, winner := range winners {
		if winner.Kind == KindPlayer {
			err := a.applyPlayerWinner(ctx, winner, xpShares[playerIndex], goldShares[playerIndex], &effects, logger)
			if err != nil {
				return effects, err
			}
			playerIndex++
			continue
		}
		// Monsters accrue no XP or gold; only their surviving state is
		// persisted.
		if err := a.persistMonster(ctx, winner); err != nil {
			return effects, err
		}
	}

	return effects, a.appendAudit(ctx, combatLog, winnerRep, loserRep)
}

func (a *Applier) applyLoser(ctx context.Context, loser, winnerRep *Combatant, origin AttackOrigin, effects *Effects, logger logrus.FieldLogger) error {
	if loser.Kind == KindPlayer {
		if loser.ClientID == "" {
			return fmt.Errorf("loser %s: %w", loser.Name, ErrMissingIdentity)
		}

		// PvE and dropdown-initiated PvP send the defeated player back to
		// their spawn point; plain text PvP heals them where they stand.
		if origin == OriginPvE || origin == OriginDropdownPvP {
			respawned, err := a.players.RespawnPlayer(ctx, loser.ID)
			if err != nil {
				return fmt.Errorf("respawn player %d: %w", loser.ID, err)
			}
			syncPlayer(loser, respawned)
			effects.Respawns = append(effects.Respawns, respawned)
			logger.WithField("player", loser.Name).Info("defeated player respawned")
			return nil
		}

		healed, err := a.players.RestorePlayerHealth(ctx, loser.ID)
		if err != nil {
			return fmt.Errorf("restore player %d: %w", loser.ID, err)
		}
		syncPlayer(loser, healed)
		logger.WithField("player", loser.Name).Info("defeated player restored to full health")
		return nil
	}

	if loser.ID < 0 {
		// Ephemeral monsters never persist; nothing to delete or update.
		return nil
	}
	if !loser.IsAlive {
		killedBy := event.Participant{Kind: string(winnerRep.Kind), ID: winnerRep.ID, Name: winnerRep.Name}
		if err := a.monsters.DeleteMonster(ctx, loser.ID, killedBy); err != nil {
			return fmt.Errorf("delete monster %d: %w", loser.ID, err)
		}
		effects.MonstersRemoved = append(effects.MonstersRemoved, loser.ID)
		logger.WithField("monster", loser.Name).Info("defeated monster removed from the world")
		return nil
	}
	return a.persistMonster(ctx, loser)
}

func (a *Applier) applyPlayerWinner(ctx context.Context, winner *Combatant, xpShare, goldShare int, effects *Effects, logger logrus.FieldLogger) error {
	if winner.ClientID == "" {
		return fmt.Errorf("winner %s: %w", winner.Name, ErrMissingIdentity)
	}

	// The persisted record, not the in-memory combatant, is the source of
	// truth for XP and gold. Re-reading prevents compounding a stale
	// snapshot if the player was modified since combat began.
	current, err := a.players.Player(ctx, winner.ID)
	if err != nil {
		return fmt.Errorf("load player %d: %w", winner.ID, err)
	}

	newXP := current.XP + xpShare
	delta := StatsDelta{XP: &newXP}
	if goldShare > 0 {
		newGold := current.Gold + goldShare
		delta.Gold = &newGold
	}
	updated, err := a.players.UpdatePlayerStats(ctx, winner.ID, delta)
	if err != nil {
		return fmt.Errorf("update player %d stats: %w", winner.ID, err)
	}
	logger.WithFields(logrus.Fields{
		"player": winner.Name,
		"xp":     xpShare,
		"gold":   goldShare,
	}).Info("rewards credited")

	if updated.Level > current.Level {
		levelUp := LevelUp{
			PreviousLevel:      current.Level,
			NewLevel:           updated.Level,
			SkillPointsAwarded: max(0, updated.SkillPoints-current.SkillPoints),
		}
		winner.Level = updated.Level
		winner.MaxHP = updated.MaxHP
		winner.HP = updated.HP
		winner.LevelUp = &levelUp
		effects.LevelUps = append(effects.LevelUps, levelUp)
	}

	// Post-combat recovery: the winner always leaves at full health.
	healed, err := a.players.RestorePlayerHealth(ctx, winner.ID)
	if err != nil {
		return fmt.Errorf("heal player %d: %w", winner.ID, err)
	}
	winner.Level = healed.Level
	syncPlayer(winner, healed)
	return nil
}

func (a *Applier) applyStalemate(ctx context.Context, teamA, teamB []*Combatant, logger logrus.FieldLogger) error {
	logger.Info("stalemate: no rewards, surviving combatants recover")
	for _, combatant := range append(append([]*Combatant{}, teamA...), teamB...) {
		if combatant.Kind == KindPlayer {
			if combatant.ClientID == "" {
				return fmt.Errorf("combatant %s: %w", combatant.Name, ErrMissingIdentity)
			}
			healed, err := a.players.RestorePlayerHealth(ctx, combatant.ID)
			if err != nil {
				return fmt.Errorf("restore player %d: %w", combatant.ID, err)
			}
			syncPlayer(combatant, healed)
			continue
		}
		if err := a.persistMonster(ctx, combatant); err != nil {
			return err
		}
	}
	return nil
}

func (a *Applier) persistMonster(ctx context.Context, monster *Combatant) error {
	if monster.ID < 0 {
		return nil
	}
	state := MonsterState{
		ID:       monster.ID,
		Name:     monster.Name,
		HP:       monster.HP,
		MaxHP:    monster.MaxHP,
		IsAlive:  monster.IsAlive,
		Position: monster.Position,
	}
	if err := a.monsters.SaveMonster(ctx, state); err != nil {
		return fmt.Errorf("save monster %d: %w", monster.ID, err)
	}
	return nil
}

func (a *Applier) appendAudit(ctx context.Context, combatLog *DetailedCombatLog, attacker, defender *Combatant) error {
	entry := AuditEntry{
		AttackerID:   attacker.ID,
		AttackerKind: attacker.Kind,
		DefenderID:   defender.ID,
		DefenderKind: defender.Kind,
		Damage:       combatLog.TotalDamage(),
		X:            combatLog.Location.X,
		Y:            combatLog.Location.Y,
	}
	if err := a.audit.CreateCombatLogEntry(ctx, entry); err != nil {
		return fmt.Errorf("append combat audit entry: %w", err)
	}
	return nil
}

func classifyOrigin(teamA, teamB []*Combatant) AttackOrigin {
	for _, combatant := range append(append([]*Combatant{}, teamA...), teamB...) {
		if combatant.Kind == KindMonster {
			return OriginPvE
		}
	}
	return OriginTextPvP
}

func countPlayers(team []*Combatant) int {
	count := 0
	for _, combatant := range team {
		if combatant.Kind == KindPlayer {
			count++
		}
	}
	return count
}

// splitReward divides a reward evenly across count recipients, giving the
// remainder to the earliest roster positions. Every recipient of a positive
// reward receives at least 1.
func splitReward(total, count int) []int {
	if count <= 0 {
		return nil
	}
	shares := make([]int, count)
	if total <= 0 {
		return shares
	}
	base := total / count
	remainder := total % count
	for i := range shares {
		shares[i] = base
		if i < remainder {
			shares[i]++
		}
		if shares[i] < 1 {
			shares[i] = 1
		}
	}
	return shares
}

func syncPlayer(combatant *Combatant, state PlayerState) {
	combatant.HP = state.HP
	combatant.MaxHP = state.MaxHP
	combatant.IsAlive = state.IsAlive
	combatant.Position = state.Position
}
