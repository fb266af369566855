package combat

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/emberhollow/gloomvale/internal/platform/id"
	"github.com/emberhollow/gloomvale/internal/services/dm/domain/event"
)

// MaxRounds bounds the turn loop. The cap converts a fight where both sides
// have a negligible hit chance into a deterministic stalemate instead of an
// unbounded loop; it is a resource-protection limit, not a balance knob.
const MaxRounds = 100

// ErrEmptyTeam indicates a team combat was requested with an empty roster.
var ErrEmptyTeam = errors.New("team combat requires at least one combatant per side")

// Overrides substitutes individual combat formulas. Every randomness-bearing
// step can be replaced, which is what makes combat outcomes reproducible in
// tests. Nil fields keep the default behavior.
type Overrides struct {
	RollInitiative func(agility int) InitiativeEntry
	AttackRoll     func() int
	AttackModifier func(ability int) int
	DefenderAC     func(agility int) int
	Damage         func(strength int, damageDice string) int
	XPGain         func(winnerLevel, loserLevel int) int
	GoldReward     func(victorLevel, targetLevel int) int
}

// Engine resolves combats into detailed logs, emitting lifecycle events as it
// proceeds. Event emission is on the critical path: the engine does not roll
// the next attack until the previous event has been accepted downstream, so
// observers always see events in round order.
type Engine struct {
	roller Roller
	sink   event.Sink
	logger logrus.FieldLogger
	clock  func() time.Time
	newID  func() (string, error)
}

// NewEngine builds an engine. A nil roller gets a clock-seeded one, a nil
// sink discards events and a nil logger is replaced with the logrus default.
func NewEngine(roller Roller, sink event.Sink, logger logrus.FieldLogger) *Engine {
	if roller == nil {
		roller = NewRoller()
	}
	if sink == nil {
		sink = event.NopSink{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		roller: roller,
		sink:   sink,
		logger: logger,
		clock:  time.Now,
		newID:  id.NewID,
	}
}

// WithClock overrides the engine clock, for tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// TeamOptions tune one combat invocation.
type TeamOptions struct {
	// TeamAName and TeamBName label the rosters in the log (e.g. "Raid
	// party"). Empty values default to the single member's name or a
	// generic side label.
	TeamAName string
	TeamBName string
	Location  Position
	// MaxRounds overrides the round cap; zero keeps MaxRounds.
	MaxRounds int
	Overrides *Overrides
}

// RunCombat resolves a pairwise fight. Both combatants are mutated in place
// (HP, IsAlive). Callers must guarantee the two names differ within this
// invocation.
func (e *Engine) RunCombat(ctx context.Context, first, second *Combatant, opts TeamOptions) (*DetailedCombatLog, error) {
	if first == nil || second == nil {
		return nil, ErrEmptyTeam
	}
	if opts.TeamAName == "" {
		opts.TeamAName = first.Name
	}
	if opts.TeamBName == "" {
		opts.TeamBName = second.Name
	}
	return e.RunTeamCombat(ctx, []*Combatant{first}, []*Combatant{second}, opts)
}

// RunTeamCombat resolves an N-vs-M fight. One initiative roll per combatant
// fixes a single turn order for the whole encounter; each turn the acting
// combatant attacks the living opponent with the lowest current HP. Combat
// ends when one side has no living members or the round cap is reached.
func (e *Engine) RunTeamCombat(ctx context.Context, teamA, teamB []*Combatant, opts TeamOptions) (*DetailedCombatLog, error) {
	if len(teamA) == 0 || len(teamB) == 0 {
		return nil, ErrEmptyTeam
	}

	teamAName := opts.TeamAName
	if teamAName == "" {
		teamAName = sideName(teamA, "Team A")
	}
	teamBName := opts.TeamBName
	if teamBName == "" {
		teamBName = sideName(teamB, "Team B")
	}

	combatID, err := e.newID()
	if err != nil {
		return nil, err
	}
	logger := e.logger.WithField("combat_id", combatID)
	logger.WithFields(logrus.Fields{
		"team_a": teamAName,
		"team_b": teamBName,
	}).Info("combat start")

	rollInitiative := func(agility int) InitiativeEntry {
		if opts.Overrides != nil && opts.Overrides.RollInitiative != nil {
			return opts.Overrides.RollInitiative(agility)
		}
		return RollInitiative(e.roller, agility)
	}
	attackRoll := func() int {
		if opts.Overrides != nil && opts.Overrides.AttackRoll != nil {
			return opts.Overrides.AttackRoll()
		}
		return RollD20(e.roller)
	}
	attackModifier := AbilityModifier
	if opts.Overrides != nil && opts.Overrides.AttackModifier != nil {
		attackModifier = opts.Overrides.AttackModifier
	}
	defenderAC := ArmorClass
	if opts.Overrides != nil && opts.Overrides.DefenderAC != nil {
		defenderAC = opts.Overrides.DefenderAC
	}
	rollDamage := func(strength int, damageDice string) int {
		if opts.Overrides != nil && opts.Overrides.Damage != nil {
			return opts.Overrides.Damage(strength, damageDice)
		}
		return RollDamage(e.roller, strength, damageDice)
	}

	combatants := make([]*Combatant, 0, len(teamA)+len(teamB))
	combatants = append(combatants, teamA...)
	combatants = append(combatants, teamB...)

	sideOf := make(map[*Combatant]Side, len(combatants))
	rosterIndex := make(map[*Combatant]int, len(combatants))
	for i, combatant := range combatants {
		rosterIndex[combatant] = i
		if i < len(teamA) {
			sideOf[combatant] = SideA
		} else {
			sideOf[combatant] = SideB
		}
	}

	initiative := make([]InitiativeEntry, 0, len(combatants))
	initiativeOf := make(map[*Combatant]InitiativeEntry, len(combatants))
	for _, combatant := range combatants {
		entry := rollInitiative(combatant.Agility)
		entry.Name = combatant.Name
		initiative = append(initiative, entry)
		initiativeOf[combatant] = entry
	}

	turnOrder := make([]*Combatant, len(combatants))
	copy(turnOrder, combatants)
	sort.SliceStable(turnOrder, func(i, j int) bool {
		a, b := turnOrder[i], turnOrder[j]
		if initiativeOf[a].Total != initiativeOf[b].Total {
			return initiativeOf[a].Total > initiativeOf[b].Total
		}
		if a.Agility != b.Agility {
			return a.Agility > b.Agility
		}
		return rosterIndex[a] < rosterIndex[b]
	})

	opposing := func(combatant *Combatant) []*Combatant {
		if sideOf[combatant] == SideA {
			return teamB
		}
		return teamA
	}

	// Target the living opponent with the lowest current HP; ties go to the
	// earlier roster position. Biases toward finishing fights.
	pickTarget := func(team []*Combatant) *Combatant {
		var target *Combatant
		for _, candidate := range team {
			if !candidate.IsAlive {
				continue
			}
			if target == nil || candidate.HP < target.HP ||
				(candidate.HP == target.HP && rosterIndex[candidate] < rosterIndex[target]) {
				target = candidate
			}
		}
		return target
	}

	firstCombatant := turnOrder[0]
	firstDefender := pickTarget(opposing(firstCombatant))
	if firstDefender == nil {
		firstDefender = opposing(firstCombatant)[0]
	}

	startedAt := e.clock()
	if err := e.sink.Emit(ctx, event.Event{
		Type:      event.TypeCombatStart,
		CombatID:  combatID,
		Attacker:  participant(firstCombatant),
		Defender:  participant(firstDefender),
		X:         opts.Location.X,
		Y:         opts.Location.Y,
		Timestamp: startedAt,
	}); err != nil {
		return nil, err
	}

	logger.WithField("first_attacker", firstCombatant.Name).Debug("initiative resolved")

	maxRounds := opts.MaxRounds
	if maxRounds <= 0 {
		maxRounds = MaxRounds
	}

	var rounds []Round
	turnIndex := 0
	roundNumber := 1

	for sideAlive(teamA) && sideAlive(teamB) && roundNumber <= maxRounds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attacker := turnOrder[turnIndex%len(turnOrder)]
		spins := 0
		for attacker != nil && !attacker.IsAlive && spins < len(turnOrder) {
			turnIndex++
			attacker = turnOrder[turnIndex%len(turnOrder)]
			spins++
		}
		if attacker == nil || !attacker.IsAlive {
			break
		}

		defender := pickTarget(opposing(attacker))
		if defender == nil {
			break
		}

		roll := attackRoll()
		baseModifier := attackModifier(attacker.Strength)
		totalModifier := baseModifier + attacker.AttackBonus
		totalAttack := roll + totalModifier
		baseAC := defenderAC(defender.Agility)
		effectiveAC := baseAC + defender.ArmorBonus
		hit := totalAttack >= effectiveAC

		var damage, baseDamage int
		killed := false
		if hit {
			baseDamage = rollDamage(attacker.Strength, attacker.DamageRoll)
			damage = baseDamage + attacker.DamageBonus
			if damage < 1 {
				damage = 1
			}
			defender.HP -= damage
			if defender.HP <= 0 {
				defender.HP = 0
				defender.IsAlive = false
				killed = true
			}
		}

		rounds = append(rounds, Round{
			RoundNumber:        roundNumber,
			AttackerName:       attacker.Name,
			DefenderName:       defender.Name,
			AttackRoll:         roll,
			AttackModifier:     totalModifier,
			TotalAttack:        totalAttack,
			DefenderAC:         effectiveAC,
			Hit:                hit,
			Damage:             damage,
			DefenderHPAfter:    defender.HP,
			Killed:             killed,
			BaseAttackModifier: baseModifier,
			AttackBonus:        attacker.AttackBonus,
			BaseDefenderAC:     baseAC,
			ArmorBonus:         defender.ArmorBonus,
			BaseDamage:         baseDamage,
			DamageBonus:        attacker.DamageBonus,
		})

		logger.WithFields(logrus.Fields{
			"round":    roundNumber,
			"attacker": attacker.Name,
			"defender": defender.Name,
			"hit":      hit,
			"damage":   damage,
		}).Debug("round resolved")

		evt := event.Event{
			Type:      event.TypeCombatMiss,
			CombatID:  combatID,
			Attacker:  participant(attacker),
			Defender:  participant(defender),
			X:         opts.Location.X,
			Y:         opts.Location.Y,
			Timestamp: e.clock(),
		}
		if hit {
			evt.Type = event.TypeCombatHit
			evt.Damage = damage
		}
		if err := e.sink.Emit(ctx, evt); err != nil {
			return nil, err
		}

		turnIndex++
		roundNumber++
	}

	teamAAlive := sideAlive(teamA)
	teamBAlive := sideAlive(teamB)
	stalemate := teamAAlive && teamBAlive

	combatLog := &DetailedCombatLog{
		CombatID:      combatID,
		Participant1:  teamAName,
		Participant2:  teamBName,
		Initiative:    initiative,
		FirstAttacker: firstCombatant.Name,
		Rounds:        rounds,
		Timestamp:     startedAt,
		Location:      opts.Location,
	}

	if stalemate {
		// Round cap reached with both sides standing: an explicit draw.
		// Nobody is rewarded and nobody is treated as defeated.
		combatLog.Stalemate = true
		combatLog.WinnerSide = SideNone

		logger.WithField("rounds", len(rounds)).Warn("combat stalemate at round cap")

		if err := e.sink.Emit(ctx, event.Event{
			Type:      event.TypeCombatEnd,
			CombatID:  combatID,
			X:         opts.Location.X,
			Y:         opts.Location.Y,
			Timestamp: e.clock(),
		}); err != nil {
			return nil, err
		}
		return combatLog, nil
	}

	winners, losers := teamA, teamB
	winnerName, loserName := teamAName, teamBName
	combatLog.WinnerSide = SideA
	if teamBAlive {
		winners, losers = teamB, teamA
		winnerName, loserName = teamBName, teamAName
		combatLog.WinnerSide = SideB
	}

	xpGain := func(winnerLevel, loserLevel int) int {
		if opts.Overrides != nil && opts.Overrides.XPGain != nil {
			return opts.Overrides.XPGain(winnerLevel, loserLevel)
		}
		return XPGain(e.roller, winnerLevel, loserLevel)
	}
	goldReward := func(victorLevel, targetLevel int) int {
		if opts.Overrides != nil && opts.Overrides.GoldReward != nil {
			return opts.Overrides.GoldReward(victorLevel, targetLevel)
		}
		return GoldReward(e.roller, victorLevel, targetLevel)
	}

	winnerLevel := averageLevel(winners)
	loserLevel := averageLevel(losers)
	combatLog.Winner = winnerName
	combatLog.Loser = loserName
	combatLog.XPAwarded = xpGain(winnerLevel, loserLevel)
	combatLog.GoldAwarded = goldReward(winnerLevel, loserLevel)

	winnerRep := representative(winners)
	loserRep := representative(losers)
	combatLog.WinnerID = winnerRep.ID
	combatLog.LoserID = loserRep.ID

	logger.WithFields(logrus.Fields{
		"winner": winnerName,
		"loser":  loserName,
		"rounds": len(rounds),
		"xp":     combatLog.XPAwarded,
		"gold":   combatLog.GoldAwarded,
	}).Info("combat resolved")

	if err := e.sink.Emit(ctx, event.Event{
		Type:       event.TypeCombatEnd,
		CombatID:   combatID,
		Winner:     participant(winnerRep),
		Loser:      participant(loserRep),
		XPGained:   combatLog.XPAwarded,
		GoldGained: combatLog.GoldAwarded,
		X:          opts.Location.X,
		Y:          opts.Location.Y,
		Timestamp:  e.clock(),
	}); err != nil {
		return nil, err
	}

	return combatLog, nil
}

func sideName(team []*Combatant, fallback string) string {
	if len(team) == 1 {
		return team[0].Name
	}
	return fallback
}

func sideAlive(team []*Combatant) bool {
	for _, combatant := range team {
		if combatant.IsAlive {
			return true
		}
	}
	return false
}

// representative picks the combatant standing for a side in events and audit
// records: the first living member, or the roster head if none survive.
func representative(team []*Combatant) *Combatant {
	for _, combatant := range team {
		if combatant.IsAlive {
			return combatant
		}
	}
	return team[0]
}

func averageLevel(team []*Combatant) int {
	sum := 0
	for _, combatant := range team {
		sum += combatant.Level
	}
	avg := int(math.Round(float64(sum) / float64(len(team))))
	return max(1, avg)
}

func participant(c *Combatant) *event.Participant {
	return &event.Participant{Kind: string(c.Kind), ID: c.ID, Name: c.Name}
}
