package arena

// teamAdapter covers 3v3 team-elimination games: the match ends when one
// side's whole roster is KO'd, regardless of the nominal format. Each KO of
// a team member counts as a round in the history.
type teamAdapter struct {
	prevP1Remaining float64
	prevP2Remaining float64
	primed          bool
}

const teamMaxHealth = 120.0

func newTeamAdapter() *teamAdapter { return &teamAdapter{} }

func (a *teamAdapter) GameID() string  { return "kof3v3" }
func (a *teamAdapter) Version() string { return "kof3v3-v1" }

func (a *teamAdapter) RequiredFields() []string {
	return []string{"health", "remaining"}
}

func (a *teamAdapter) DirectionalIndices() (int, int, bool) {
	return 6, 7, true
}

func (a *teamAdapter) HasRoundTimer() bool { return false }

func (a *teamAdapter) ValidateInfo(info Info) error {
	return validateRequired(info, a.RequiredFields())
}

func (a *teamAdapter) ExtractState(info Info) State {
	return State{
		P1Health:    normHealth(info.P1["health"], teamMaxHealth),
		P2Health:    normHealth(info.P2["health"], teamMaxHealth),
		RoundNumber: info.Round,
		Timer:       info.Timer,
	}
}

func (a *teamAdapter) IsRoundOver(info Info, st State) RoundOutcome {
	p1Rem := info.P1["remaining"]
	p2Rem := info.P2["remaining"]
	if !a.primed {
		a.prevP1Remaining, a.prevP2Remaining = p1Rem, p2Rem
		a.primed = true
		return RoundOngoing
	}
	d1 := p1Rem < a.prevP1Remaining
	d2 := p2Rem < a.prevP2Remaining
	a.prevP1Remaining, a.prevP2Remaining = p1Rem, p2Rem
	switch {
	case d1 && d2:
		return RoundDraw
	case d1:
		// P1 lost a team member, so P2 took the round.
		return RoundP2
	case d2:
		return RoundP1
	}
	return RoundOngoing
}

// IsMatchOver ignores the nominal format: elimination ends the match.
func (a *teamAdapter) IsMatchOver(info Info, history []RoundResult, st State, format int) string {
	if info.P1["remaining"] <= 0 {
		return "P2"
	}
	if info.P2["remaining"] <= 0 {
		return "P1"
	}
	return ""
}

func (a *teamAdapter) MirrorAction(action []bool) []bool {
	left, right, _ := a.DirectionalIndices()
	return mirrorBits(action, left, right)
}
