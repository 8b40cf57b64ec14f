package arena

import (
	"fmt"
	"sort"
	"strings"
)

const (
	// A field missing this many frames in a row, or this many frames
	// total, fails validation. At 60fps that is 5 seconds consecutive or
	// 15 seconds cumulative.
	missingConsecutiveLimit = 300
	missingCumulativeLimit  = 900
)

// FieldValidator tracks missing required info fields over the life of a
// match. Pre-lock a validation failure cancels the match; post-lock it is
// logged only (the pool is already committed).
type FieldValidator struct {
	required []string
	counts   map[string]*missCount // key: "P1.health"
}

type missCount struct {
	consecutive int
	cumulative  int
}

func NewFieldValidator(required []string) *FieldValidator {
	return &FieldValidator{
		required: required,
		counts:   make(map[string]*missCount),
	}
}

func (v *FieldValidator) track(key string, present bool) bool {
	c := v.counts[key]
	if c == nil {
		c = &missCount{}
		v.counts[key] = c
	}
	if present {
		c.consecutive = 0
		return false
	}
	c.consecutive++
	c.cumulative++
	return c.consecutive >= missingConsecutiveLimit || c.cumulative >= missingCumulativeLimit
}

// Observe folds in one frame. It returns an error naming every field that
// has crossed a threshold as of this frame.
func (v *FieldValidator) Observe(info Info) error {
	var failed []string
	for _, f := range v.required {
		_, p1 := info.P1[f]
		if v.track("P1."+f, p1) {
			failed = append(failed, "P1."+f)
		}
		_, p2 := info.P2[f]
		if v.track("P2."+f, p2) {
			failed = append(failed, "P2."+f)
		}
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		return fmt.Errorf("arena: field validation failed: %s", strings.Join(failed, ", "))
	}
	return nil
}
