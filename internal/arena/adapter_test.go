package arena

import "testing"

func sf2Info(p1Health, p2Health, p1Wins, p2Wins float64) Info {
	return Info{
		P1: map[string]float64{"health": p1Health, "wins": p1Wins, "x_position": 100},
		P2: map[string]float64{"health": p2Health, "wins": p2Wins, "x_position": 200},
	}
}

func TestSF2RoundDetection(t *testing.T) {
	a := newSF2Adapter()
	st := State{}

	// First frame primes the tracker.
	if got := a.IsRoundOver(sf2Info(176, 176, 0, 0), st); got != RoundOngoing {
		t.Fatalf("priming frame = %q, want ongoing", got)
	}
	if got := a.IsRoundOver(sf2Info(176, 50, 0, 0), st); got != RoundOngoing {
		t.Fatalf("mid-round = %q, want ongoing", got)
	}
	// P1 win counter ticks.
	if got := a.IsRoundOver(sf2Info(176, -1, 1, 0), st); got != RoundP1 {
		t.Fatalf("P1 KO = %q, want P1", got)
	}
	// Counter stays stable across transition frames: no double count.
	if got := a.IsRoundOver(sf2Info(176, -1, 1, 0), st); got != RoundOngoing {
		t.Fatalf("transition frame = %q, want ongoing", got)
	}
}

func TestSF2DoubleKO(t *testing.T) {
	a := newSF2Adapter()
	a.IsRoundOver(sf2Info(10, 10, 0, 0), State{})
	if got := a.IsRoundOver(sf2Info(-1, -1, 1, 1), State{}); got != RoundDraw {
		t.Fatalf("double KO = %q, want DRAW", got)
	}
}

func TestSF2MatchOver(t *testing.T) {
	a := newSF2Adapter()
	win := RoundResult{Winner: "P1"}
	loss := RoundResult{Winner: "P2"}
	draw := RoundResult{Winner: "DRAW"}

	cases := []struct {
		history []RoundResult
		format  int
		want    string
	}{
		{[]RoundResult{win}, 3, ""},
		{[]RoundResult{win, win}, 3, "P1"},
		{[]RoundResult{loss, loss}, 3, "P2"},
		{[]RoundResult{win, loss, win}, 3, "P1"},
		// Format exhausted with no majority.
		{[]RoundResult{win, loss, draw}, 3, "DRAW"},
		{[]RoundResult{draw, draw, draw}, 3, "DRAW"},
	}
	for _, c := range cases {
		got := a.IsMatchOver(Info{}, c.history, State{}, c.format)
		if got != c.want {
			t.Errorf("IsMatchOver(%v, format=%d) = %q, want %q", c.history, c.format, got, c.want)
		}
	}
}

func TestSF2HealthNormalization(t *testing.T) {
	a := newSF2Adapter()
	st := a.ExtractState(sf2Info(176, -1, 0, 0))
	if st.P1Health != 1.0 {
		t.Errorf("full health = %v, want 1", st.P1Health)
	}
	// Transition frames report -1; clamp to zero rather than leak negatives
	// into the round history.
	if st.P2Health != 0.0 {
		t.Errorf("transition health = %v, want 0", st.P2Health)
	}
}

func TestSF2MirrorAction(t *testing.T) {
	a := newSF2Adapter()
	action := make([]bool, 12)
	action[6] = true // LEFT
	out := a.MirrorAction(action)
	if out[6] || !out[7] {
		t.Errorf("mirror = left:%v right:%v, want left:false right:true", out[6], out[7])
	}
	if !action[6] {
		t.Error("MirrorAction mutated its input")
	}
}

func teamInfo(p1Health, p2Health, p1Rem, p2Rem float64) Info {
	return Info{
		P1: map[string]float64{"health": p1Health, "remaining": p1Rem},
		P2: map[string]float64{"health": p2Health, "remaining": p2Rem},
	}
}

func TestTeamElimination(t *testing.T) {
	a := newTeamAdapter()
	a.IsRoundOver(teamInfo(120, 120, 3, 3), State{})

	// P2 loses a team member: round to P1.
	if got := a.IsRoundOver(teamInfo(120, 120, 3, 2), State{}); got != RoundP1 {
		t.Fatalf("member KO = %q, want P1", got)
	}
	// Elimination ends the match regardless of format.
	if got := a.IsMatchOver(teamInfo(120, 0, 3, 0), nil, State{}, 99); got != "P1" {
		t.Fatalf("elimination = %q, want P1", got)
	}
	if got := a.IsMatchOver(teamInfo(50, 120, 1, 2), nil, State{}, 1); got != "" {
		t.Fatalf("mid-match = %q, want ongoing", got)
	}
}

func TestForGame(t *testing.T) {
	a, err := ForGame("sf2")
	if err != nil {
		t.Fatal(err)
	}
	b, err := ForGame("sf2")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("ForGame returned a shared instance; per-match state would leak")
	}
	if _, err := ForGame("pong"); err == nil {
		t.Error("expected error for unsupported game")
	}
}

func TestValidateRequired(t *testing.T) {
	info := Info{
		P1: map[string]float64{"health": 1, "wins": 0, "x_position": 10},
		P2: map[string]float64{"health": 1},
	}
	err := newSF2Adapter().ValidateInfo(info)
	if err == nil {
		t.Fatal("expected validation error")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("error type %T, want *ValidationError", err)
	}
	if len(ve.MissingP1) != 0 {
		t.Errorf("P1 missing = %v, want none", ve.MissingP1)
	}
	if len(ve.MissingP2) != 2 {
		t.Errorf("P2 missing = %v, want [wins x_position]", ve.MissingP2)
	}
}
