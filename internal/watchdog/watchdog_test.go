package watchdog

import (
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	timeout := 60 * time.Second

	cases := []struct {
		name        string
		lockedAgo   time.Duration
		beatAgo     time.Duration
		beatPresent bool
		wantDead    bool
		wantReason  string
	}{
		{"fresh lock, no beat yet", 30 * time.Second, 0, false, false, ""},
		{"grace period edge", 120 * time.Second, 0, false, false, ""},
		{"never started", 121 * time.Second, 0, false, true, ReasonNeverStarted},
		{"healthy beat", 10 * time.Minute, 20 * time.Second, true, false, ""},
		{"beat at timeout edge", 10 * time.Minute, 60 * time.Second, true, false, ""},
		{"stale beat", 10 * time.Minute, 61 * time.Second, true, true, ReasonHeartbeatTimeout},
		// A present beat wins over lock age: long matches stay alive.
		{"old lock, fresh beat", 2 * time.Hour, 5 * time.Second, true, false, ""},
	}
	for _, c := range cases {
		v := Classify(now, now.Add(-c.lockedAgo), now.Add(-c.beatAgo), c.beatPresent, timeout)
		if v.Dead != c.wantDead || v.Reason != c.wantReason {
			t.Errorf("%s: got (dead=%v, reason=%q), want (dead=%v, reason=%q)",
				c.name, v.Dead, v.Reason, c.wantDead, c.wantReason)
		}
	}
}
