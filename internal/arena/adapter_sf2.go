package arena

// sf2Adapter covers the SF2-style cabinet: health bars top out at 176, and
// round transitions hold health at -1 for several hundred frames, so round
// end is detected from the win counters, not from health.
type sf2Adapter struct {
	// Win-counter baselines from the previous frame. The delta, not the
	// absolute value, decides the round: the engine keeps the counters
	// stable across the ~600 transition frames.
	prevP1Wins float64
	prevP2Wins float64
	primed     bool
}

const sf2MaxHealth = 176.0

func newSF2Adapter() *sf2Adapter { return &sf2Adapter{} }

func (a *sf2Adapter) GameID() string  { return "sf2" }
func (a *sf2Adapter) Version() string { return "sf2-v2" }

func (a *sf2Adapter) RequiredFields() []string {
	return []string{"health", "wins", "x_position"}
}

func (a *sf2Adapter) DirectionalIndices() (int, int, bool) {
	// Retro pad layout: bit 6 is LEFT, bit 7 is RIGHT.
	return 6, 7, true
}

func (a *sf2Adapter) HasRoundTimer() bool { return true }

func (a *sf2Adapter) ValidateInfo(info Info) error {
	return validateRequired(info, a.RequiredFields())
}

func normHealth(raw, max float64) float64 {
	if raw < 0 {
		return 0
	}
	h := raw / max
	if h > 1 {
		return 1
	}
	return h
}

func (a *sf2Adapter) ExtractState(info Info) State {
	return State{
		P1Health:    normHealth(info.P1["health"], sf2MaxHealth),
		P2Health:    normHealth(info.P2["health"], sf2MaxHealth),
		RoundNumber: info.Round,
		Timer:       info.Timer,
		StageSide:   info.P1["x_position"],
		ComboCount:  info.P1["combo_count"],
	}
}

func (a *sf2Adapter) IsRoundOver(info Info, st State) RoundOutcome {
	p1Wins := info.P1["wins"]
	p2Wins := info.P2["wins"]
	if !a.primed {
		a.prevP1Wins, a.prevP2Wins = p1Wins, p2Wins
		a.primed = true
		return RoundOngoing
	}
	d1 := p1Wins > a.prevP1Wins
	d2 := p2Wins > a.prevP2Wins
	a.prevP1Wins, a.prevP2Wins = p1Wins, p2Wins
	switch {
	case d1 && d2:
		// Double KO: both counters tick. Must surface as a draw.
		return RoundDraw
	case d1:
		return RoundP1
	case d2:
		return RoundP2
	}
	return RoundOngoing
}

func (a *sf2Adapter) IsMatchOver(info Info, history []RoundResult, st State, format int) string {
	need := roundsToWin(format)
	p1, p2 := countRoundWins(history)
	switch {
	case p1 >= need && p2 >= need:
		// Double KO in the deciding round.
		return "DRAW"
	case p1 >= need:
		return "P1"
	case p2 >= need:
		return "P2"
	case len(history) >= format:
		if p1 > p2 {
			return "P1"
		}
		if p2 > p1 {
			return "P2"
		}
		return "DRAW"
	}
	return ""
}

func (a *sf2Adapter) MirrorAction(action []bool) []bool {
	left, right, _ := a.DirectionalIndices()
	return mirrorBits(action, left, right)
}
