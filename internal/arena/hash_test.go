package arena

import (
	"crypto/sha256"
	"encoding/hex"
	"reflect"
	"strings"
	"testing"
)

func samplePayload() *HashPayload {
	return &HashPayload{
		Actions:        [][2]uint32{{1, 2}, {0, 4}},
		AdapterVersion: "sf2-v2",
		HashVersion:    HashVersion,
		MatchID:        "0d9f2ad5-3c42-4a2e-9a70-2f12a3c0beef",
		Rounds: []CanonicalRound{
			{Winner: "P1", P1Health: 0.5, P2Health: 0.0},
			{Winner: "P2", P1Health: 0.0, P2Health: 0.25},
		},
		Winner: "P1",
	}
}

func TestCanonicalSerializeKeyOrder(t *testing.T) {
	data, err := CanonicalSerialize(samplePayload())
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	keys := []string{`"actions"`, `"adapter_version"`, `"hash_version"`, `"match_id"`, `"rounds"`, `"winner"`}
	last := -1
	for _, k := range keys {
		i := strings.Index(s, k)
		if i < 0 {
			t.Fatalf("key %s missing from payload %s", k, s)
		}
		if i < last {
			t.Fatalf("key %s out of lexicographic order in %s", k, s)
		}
		last = i
	}
	if strings.ContainsAny(s, " \n\t") {
		t.Errorf("payload contains insignificant whitespace: %s", s)
	}
}

func TestCanonicalSerializeRoundTrip(t *testing.T) {
	p := samplePayload()
	data, err := CanonicalSerialize(p)
	if err != nil {
		t.Fatal(err)
	}
	back, err := DecodeHashPayload(data)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(p, back) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", back, p)
	}
}

func TestMatchHashMatchesPayloadBytes(t *testing.T) {
	data, err := CanonicalSerialize(samplePayload())
	if err != nil {
		t.Fatal(err)
	}
	want := sha256.Sum256(data)
	got := MatchHash(data)
	if got != hex.EncodeToString(want[:]) {
		t.Errorf("MatchHash = %s, want sha256 of the exact payload bytes", got)
	}
	if got != strings.ToLower(got) {
		t.Errorf("MatchHash = %s, want lowercase hex", got)
	}
}

func TestCanonicalSerializeEmptySlices(t *testing.T) {
	data, err := CanonicalSerialize(&HashPayload{Winner: "P1"})
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	if strings.Contains(s, "null") {
		t.Errorf("nil slices must serialize as [], got %s", s)
	}
}
