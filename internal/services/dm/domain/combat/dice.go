package combat

import (
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// Default damage dice when a combatant carries no weapon dice string.
const (
	defaultDamageCount = 1
	defaultDamageSides = 6
)

// Roller is the randomness source for combat dice. Injecting it keeps combat
// outcomes exactly reproducible in tests.
type Roller interface {
	// Roll returns the sum of count independent uniform rolls in [1, sides].
	Roll(count, sides int) int
}

type randRoller struct {
	rng *rand.Rand
}

// NewSeededRoller returns a deterministic roller. Given the same seed and the
// same sequence of Roll calls it always produces the same values.
func NewSeededRoller(seed int64) Roller {
	return &randRoller{rng: rand.New(rand.NewSource(seed))}
}

// NewRoller returns a roller seeded from the wall clock.
func NewRoller() Roller {
	return &randRoller{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (r *randRoller) Roll(count, sides int) int {
	if count <= 0 || sides <= 0 {
		return 0
	}
	total := 0
	for i := 0; i < count; i++ {
		total += r.rng.Intn(sides) + 1
	}
	return total
}

// RollD20 rolls one twenty-sided die.
func RollD20(r Roller) int {
	return r.Roll(1, 20)
}

// AbilityModifier maps an ability score onto the classic tabletop modifier
// curve: floor((ability-10)/2). Scores below 10 yield negative modifiers.
func AbilityModifier(ability int) int {
	diff := ability - 10
	if diff < 0 {
		// Integer division truncates toward zero; modifiers round down.
		return (diff - 1) / 2
	}
	return diff / 2
}

// ArmorClass derives a combatant's armor class from agility.
func ArmorClass(agility int) int {
	return 10 + AbilityModifier(agility)
}

// RollInitiative rolls d20 initiative with the agility modifier applied.
func RollInitiative(r Roller, agility int) InitiativeEntry {
	roll := RollD20(r)
	modifier := AbilityModifier(agility)
	return InitiativeEntry{Roll: roll, Modifier: modifier, Total: roll + modifier}
}

// ParseDamageDice parses a weapon dice string such as "2d8". Malformed or
// empty strings fall back to the default damage die rather than failing
// mid-combat.
func ParseDamageDice(dice string) (count, sides int) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(dice)), "d")
	if len(parts) != 2 {
		return defaultDamageCount, defaultDamageSides
	}
	count, err := strconv.Atoi(parts[0])
	if err != nil || count <= 0 {
		return defaultDamageCount, defaultDamageSides
	}
	sides, err = strconv.Atoi(parts[1])
	if err != nil || sides <= 0 {
		return defaultDamageCount, defaultDamageSides
	}
	return count, sides
}

// RollDamage rolls weapon damage with the strength modifier applied. Damage
// is never below 1, even on a minimal roll with a negative modifier.
func RollDamage(r Roller, strength int, damageDice string) int {
	count, sides := ParseDamageDice(damageDice)
	damage := r.Roll(count, sides) + AbilityModifier(strength)
	if damage < 1 {
		return 1
	}
	return damage
}
