package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/emberhollow/gloomvale/internal/platform/lease"
	"github.com/emberhollow/gloomvale/internal/services/dm/domain/combat"
	"github.com/emberhollow/gloomvale/internal/services/dm/domain/event"
	"github.com/emberhollow/gloomvale/internal/services/dm/storage"
)

// ErrSelfAttack indicates a player tried to fight themselves.
var ErrSelfAttack = errors.New("a combatant cannot attack itself")

// defaultCombatTimeout bounds one resolution wall-clock. The round cap bounds
// work; the timeout bounds time, covering slow sinks and stores too.
const defaultCombatTimeout = 30 * time.Second

// CombatDeps wires a CombatService.
type CombatDeps struct {
	Players      *PlayerService
	Monsters     *MonsterService
	PlayerStore  storage.PlayerStore
	MonsterStore storage.MonsterStore
	Intents      storage.CombatIntentStore
	CombatLogs   storage.CombatLogStore
	Sink         event.Sink
	Roller       combat.Roller
	Logger       logrus.FieldLogger
	// Timeout bounds one full resolve-and-apply pipeline; zero keeps the
	// default.
	Timeout time.Duration
}

// CombatService orchestrates the attack pipeline: resolve records into
// combatants, serialize access per entity, run the engine, record a durable
// intent and apply the results.
type CombatService struct {
	players      *PlayerService
	monsters     *MonsterService
	playerStore  storage.PlayerStore
	monsterStore storage.MonsterStore
	intents      storage.CombatIntentStore
	engine       *combat.Engine
	applier      *combat.Applier
	leases       *lease.Keeper
	logger       logrus.FieldLogger
	tracer       trace.Tracer
	timeout      time.Duration
}

// NewCombatService builds the orchestrator.
func NewCombatService(deps CombatDeps) *CombatService {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultCombatTimeout
	}
	return &CombatService{
		players:      deps.Players,
		monsters:     deps.Monsters,
		playerStore:  deps.PlayerStore,
		monsterStore: deps.MonsterStore,
		intents:      deps.Intents,
		engine:       combat.NewEngine(deps.Roller, deps.Sink, logger),
		applier:      combat.NewApplier(deps.Players, deps.Monsters, auditLog{store: deps.CombatLogs}, logger),
		leases:       lease.NewKeeper(),
		logger:       logger,
		tracer:       otel.Tracer("gloomvale/dm/combat"),
		timeout:      timeout,
	}
}

// CombatOutcome reports one completed pipeline run.
type CombatOutcome struct {
	Log     *combat.DetailedCombatLog
	Effects combat.Effects
}

// AttackMonster resolves a player-versus-monster fight end to end.
func (s *CombatService) AttackMonster(ctx context.Context, playerID, monsterID int64) (CombatOutcome, error) {
	attacker, err := s.playerStore.GetPlayer(ctx, playerID)
	if err != nil {
		return CombatOutcome{}, fmt.Errorf("load attacker %d: %w", playerID, err)
	}
	defender, err := s.monsterStore.GetMonster(ctx, monsterID)
	if err != nil {
		return CombatOutcome{}, fmt.Errorf("load monster %d: %w", monsterID, err)
	}
	return s.resolve(ctx,
		[]*combat.Combatant{playerCombatant(attacker)},
		[]*combat.Combatant{monsterCombatant(defender)},
		combat.OriginPvE,
		combat.Position{X: attacker.X, Y: attacker.Y})
}

// AttackPlayer resolves a player-versus-player fight end to end. The origin
// decides the loser's fate: dropdown-initiated fights respawn, plain text
// fights heal in place.
func (s *CombatService) AttackPlayer(ctx context.Context, attackerID int64, defenderName string, origin combat.AttackOrigin) (CombatOutcome, error) {
	attacker, err := s.playerStore.GetPlayer(ctx, attackerID)
	if err != nil {
		return CombatOutcome{}, fmt.Errorf("load attacker %d: %w", attackerID, err)
	}
	defender, err := s.playerStore.GetPlayerByName(ctx, defenderName)
	if err != nil {
		return CombatOutcome{}, fmt.Errorf("load defender %q: %w", defenderName, err)
	}
	if attacker.ID == defender.ID {
		return CombatOutcome{}, ErrSelfAttack
	}
	if origin == combat.OriginUnspecified {
		origin = combat.OriginTextPvP
	}
	return s.resolve(ctx,
		[]*combat.Combatant{playerCombatant(attacker)},
		[]*combat.Combatant{playerCombatant(defender)},
		origin,
		combat.Position{X: attacker.X, Y: attacker.Y})
}

// intentPayload is the durable form of a resolved combat awaiting
// application.
type intentPayload struct {
	Log    *combat.DetailedCombatLog `json:"log"`
	TeamA  []combat.Combatant        `json:"teamA"`
	TeamB  []combat.Combatant        `json:"teamB"`
	Origin combat.AttackOrigin       `json:"origin"`
}

func (s *CombatService) resolve(ctx context.Context, teamA, teamB []*combat.Combatant, origin combat.AttackOrigin, location combat.Position) (CombatOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "combat.resolve",
		trace.WithAttributes(
			attribute.String("combat.origin", string(origin)),
			attribute.Int("combat.team_a_size", len(teamA)),
			attribute.Int("combat.team_b_size", len(teamB)),
		))
	defer span.End()

	release, err := s.acquireLeases(ctx, append(append([]*combat.Combatant{}, teamA...), teamB...))
	if err != nil {
		return CombatOutcome{}, err
	}
	defer release()

	combatLog, err := s.engine.RunTeamCombat(ctx, teamA, teamB, combat.TeamOptions{Location: location})
	if err != nil {
		return CombatOutcome{}, err
	}
	span.SetAttributes(attribute.String("combat.id", combatLog.CombatID))

	// Durable intent first: a crash between here and application leaves a
	// resumable record instead of a half-applied combat.
	payload, err := json.Marshal(intentPayload{
		Log:    combatLog,
		TeamA:  flatten(teamA),
		TeamB:  flatten(teamB),
		Origin: origin,
	})
	if err != nil {
		return CombatOutcome{}, fmt.Errorf("encode combat intent: %w", err)
	}
	if err := s.intents.PutIntent(ctx, storage.CombatIntentRecord{
		ID:          combatLog.CombatID,
		PayloadJSON: string(payload),
	}); err != nil {
		return CombatOutcome{}, fmt.Errorf("record combat intent: %w", err)
	}

	effects, err := s.applier.Apply(ctx, combatLog, teamA, teamB, combat.ApplyOptions{Origin: origin})
	if err != nil {
		if markErr := s.intents.MarkIntentFailed(ctx, combatLog.CombatID, err.Error()); markErr != nil {
			s.logger.WithError(markErr).Error("mark combat intent failed")
		}
		return CombatOutcome{}, err
	}
	if err := s.intents.MarkIntentApplied(ctx, combatLog.CombatID, time.Now().UTC()); err != nil {
		return CombatOutcome{}, fmt.Errorf("mark combat intent applied: %w", err)
	}
	return CombatOutcome{Log: combatLog, Effects: effects}, nil
}

// ApplyPending drains unapplied combat intents, retrying their downstream
// effects. Called at startup to resume work interrupted by a crash.
func (s *CombatService) ApplyPending(ctx context.Context, limit int) (int, error) {
	records, err := s.intents.ListPendingIntents(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending intents: %w", err)
	}

	applied := 0
	for _, record := range records {
		var payload intentPayload
		if err := json.Unmarshal([]byte(record.PayloadJSON), &payload); err != nil {
			if markErr := s.intents.MarkIntentFailed(ctx, record.ID, "undecodable payload"); markErr != nil {
				return applied, markErr
			}
			s.logger.WithField("intent", record.ID).Error("combat intent payload undecodable")
			continue
		}

		teamA := inflate(payload.TeamA)
		teamB := inflate(payload.TeamB)
		if _, err := s.applier.Apply(ctx, payload.Log, teamA, teamB, combat.ApplyOptions{Origin: payload.Origin}); err != nil {
			if markErr := s.intents.MarkIntentFailed(ctx, record.ID, err.Error()); markErr != nil {
				return applied, markErr
			}
			s.logger.WithError(err).WithField("intent", record.ID).Warn("combat intent application failed")
			continue
		}
		if err := s.intents.MarkIntentApplied(ctx, record.ID, time.Now().UTC()); err != nil {
			return applied, fmt.Errorf("mark intent %s applied: %w", record.ID, err)
		}
		applied++
	}
	return applied, nil
}

// acquireLeases serializes the pipeline per entity. Keys are acquired in
// sorted order so two overlapping fights cannot deadlock against each other.
func (s *CombatService) acquireLeases(ctx context.Context, combatants []*combat.Combatant) (func(), error) {
	keys := make([]string, 0, len(combatants))
	for _, combatant := range combatants {
		keys = append(keys, fmt.Sprintf("%s:%d", combatant.Kind, combatant.ID))
	}
	sort.Strings(keys)

	type held struct {
		key   string
		token string
	}
	var acquired []held
	release := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			if err := s.leases.Release(acquired[i].key, acquired[i].token); err != nil {
				s.logger.WithError(err).WithField("key", acquired[i].key).Error("lease release failed")
			}
		}
	}

	for _, key := range keys {
		token, err := s.leases.Acquire(ctx, key)
		if err != nil {
			release()
			return nil, fmt.Errorf("acquire lease %s: %w", key, err)
		}
		acquired = append(acquired, held{key: key, token: token})
	}
	return release, nil
}

func flatten(team []*combat.Combatant) []combat.Combatant {
	out := make([]combat.Combatant, 0, len(team))
	for _, combatant := range team {
		out = append(out, *combatant)
	}
	return out
}

func inflate(team []combat.Combatant) []*combat.Combatant {
	out := make([]*combat.Combatant, 0, len(team))
	for i := range team {
		combatant := team[i]
		out = append(out, &combatant)
	}
	return out
}
