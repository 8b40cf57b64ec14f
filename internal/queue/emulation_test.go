package queue

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

func TestTargetTierRouting(t *testing.T) {
	ranked := &Job{MatchID: uuid.New()}
	if ranked.TargetTier() != TierRanked {
		t.Errorf("non-calibration job should route to ranked")
	}
	cal := &Job{MatchID: uuid.New(), Calibration: true}
	if cal.TargetTier() != TierCalibration {
		t.Errorf("calibration job should route to cal")
	}
}

func TestTierKeysDistinct(t *testing.T) {
	if queueKey(TierRanked) == queueKey(TierCalibration) {
		t.Fatal("tiers must not share a queue key")
	}
	if processingKey(TierRanked) == processingKey(TierCalibration) {
		t.Fatal("tiers must not share a processing key")
	}
	if queueKey(TierRanked) == processingKey(TierRanked) {
		t.Fatal("queue and processing keys must differ")
	}
}

func TestJobPayloadCarriesCalibrationFlag(t *testing.T) {
	// The promote script routes on the raw JSON `calibration` field; make
	// sure the marshalled form actually carries it.
	job := &Job{
		MatchID:     uuid.New(),
		GameID:      "sf2",
		ModelRefA:   "models/a",
		ModelRefB:   "models/b",
		Format:      3,
		Calibration: true,
	}
	payload, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(payload, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	flag, ok := m["calibration"].(bool)
	if !ok || !flag {
		t.Errorf("payload missing calibration flag: %s", payload)
	}

	var back Job
	if err := json.Unmarshal(payload, &back); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if back != *job {
		t.Errorf("round trip mismatch: %+v != %+v", back, *job)
	}
}
