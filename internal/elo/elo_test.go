package elo

import "testing"

func TestEqualRatingsSplitEvenly(t *testing.T) {
	if e := Expected(1200, 1200); e != 0.5 {
		t.Errorf("expected 0.5 for equal ratings, got %f", e)
	}
}

func TestProvisionalPairMovesTwenty(t *testing.T) {
	// Two fresh fighters at 1200 and 1250: both provisional, K=40, so the
	// winner gains 20 and the loser drops 20 regardless of the gap.
	w, l := Update(1200, 0, 1250, 0)
	if w != 1220 {
		t.Errorf("winner: got %d, want 1220", w)
	}
	if l != 1230 {
		t.Errorf("loser: got %d, want 1230", l)
	}
}

func TestEstablishedPairMovesTen(t *testing.T) {
	w, l := Update(1500, 30, 1480, 25)
	if w != 1510 || l != 1470 {
		t.Errorf("got %d/%d, want 1510/1470", w, l)
	}
}

func TestKFactorStep(t *testing.T) {
	if k := KFactor(9); k != 40 {
		t.Errorf("9 matches: got K=%d, want 40", k)
	}
	if k := KFactor(10); k != 20 {
		t.Errorf("10 matches: got K=%d, want 20", k)
	}
}

func TestSeedClampsToOneDivision(t *testing.T) {
	refs := []int{1200, 1200, 1200, 1200, 1200}
	if got := Seed(refs, 5); got != 1400 {
		t.Errorf("sweep: got %d, want 1400", got)
	}
	if got := Seed(refs, 0); got != 1000 {
		t.Errorf("shutout: got %d, want 1000", got)
	}
	mid := Seed(refs, 3)
	if mid <= 1200 || mid >= 1400 {
		t.Errorf("3/5 should land between 1200 and 1400, got %d", mid)
	}
	if got := Seed(nil, 0); got != StartingRating {
		t.Errorf("no refs: got %d, want %d", got, StartingRating)
	}
}

func TestDivisionBands(t *testing.T) {
	cases := []struct {
		elo  int
		want string
	}{
		{1100, "bronze"},
		{1299, "bronze"},
		{1300, "silver"},
		{1500, "gold"},
		{1700, "diamond"},
		{2000, "master"},
	}
	for _, c := range cases {
		if got := Division(c.elo); got != c.want {
			t.Errorf("Division(%d) = %s, want %s", c.elo, got, c.want)
		}
	}
}
