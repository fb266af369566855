package combat

import "testing"

func TestXPGainKnownValue(t *testing.T) {
	// base = 20 + 5*4 = 40, variability = 7-2 = 5, levelDiff = +1 -> x1.2.
	roller := &scriptedRoller{results: []int{7}}
	if got := XPGain(roller, 3, 4); got != 54 {
		t.Fatalf("XPGain(3,4) = %d, want 54", got)
	}
}

func TestXPGainEqualLevelsUsesUnitMultiplier(t *testing.T) {
	roller := &scriptedRoller{results: []int{7}}
	// base = 20 + 5*3 = 35, variability 5, multiplier 1.
	if got := XPGain(roller, 3, 3); got != 40 {
		t.Fatalf("XPGain(3,3) = %d, want 40", got)
	}
}

func TestXPGainStrongOpponentCapsAtTriple(t *testing.T) {
	roller := &scriptedRoller{results: []int{2}}
	// base = 20 + 5*20 = 120, variability 0, levelDiff 19 -> capped x3.
	if got := XPGain(roller, 1, 20); got != 360 {
		t.Fatalf("XPGain(1,20) = %d, want 360", got)
	}
}

func TestXPGainFloor(t *testing.T) {
	for winner := 1; winner <= 20; winner++ {
		for loser := 1; loser <= 20; loser++ {
			roller := NewSeededRoller(int64(winner*100 + loser))
			if got := XPGain(roller, winner, loser); got < 5 {
				t.Fatalf("XPGain(%d,%d) = %d below floor", winner, loser, got)
			}
		}
	}
}

func TestGoldRewardKnownValue(t *testing.T) {
	roller := &scriptedRoller{results: []int{20}}
	// base 20, levelDiff +1 -> x1.1 -> floor 22.
	if got := GoldReward(roller, 3, 4); got != 22 {
		t.Fatalf("GoldReward(3,4) = %d, want 22", got)
	}
}

func TestGoldRewardFloor(t *testing.T) {
	for victor := 1; victor <= 20; victor++ {
		for target := 1; target <= 20; target++ {
			roller := NewSeededRoller(int64(victor*100 + target))
			if got := GoldReward(roller, victor, target); got < 5 {
				t.Fatalf("GoldReward(%d,%d) = %d below floor", victor, target, got)
			}
		}
	}
}

func TestRewardFormulasAreIdempotent(t *testing.T) {
	first := XPGain(NewSeededRoller(7), 4, 6)
	second := XPGain(NewSeededRoller(7), 4, 6)
	if first != second {
		t.Fatalf("XPGain not reproducible: %d vs %d", first, second)
	}

	goldFirst := GoldReward(NewSeededRoller(7), 4, 6)
	goldSecond := GoldReward(NewSeededRoller(7), 4, 6)
	if goldFirst != goldSecond {
		t.Fatalf("GoldReward not reproducible: %d vs %d", goldFirst, goldSecond)
	}
}
