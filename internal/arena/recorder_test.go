package arena

import (
	"encoding/binary"
	"encoding/json"
	"testing"
)

func TestRecorderOffsets(t *testing.T) {
	r := NewRecorder()
	frames := [][]byte{[]byte("aaaa"), []byte("bb"), []byte("cccccc")}
	for _, f := range frames {
		if err := r.AddFrame(f); err != nil {
			t.Fatal(err)
		}
	}
	video, index, _, err := r.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	if string(video) != "aaaabbcccccc" {
		t.Errorf("video = %q, want concatenated frames", video)
	}
	if len(index) != 3*8 {
		t.Fatalf("index len = %d, want 24", len(index))
	}
	wantOffsets := []uint64{0, 4, 6}
	for i, want := range wantOffsets {
		got := binary.LittleEndian.Uint64(index[i*8:])
		if got != want {
			t.Errorf("offset[%d] = %d, want %d", i, got, want)
		}
	}
}

func TestRecorderStates(t *testing.T) {
	r := NewRecorder()
	r.AddState(0, 1, State{P1Health: 1, P2Health: 0.5, RoundNumber: 1})
	r.AddState(100, 7, State{P1Health: 0.9, P2Health: 0.5, RoundNumber: 1})
	_, _, states, err := r.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	var decoded []map[string]interface{}
	if err := json.Unmarshal(states, &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 2 {
		t.Fatalf("states = %d entries, want 2", len(decoded))
	}
	if decoded[1]["t"].(float64) != 100 || decoded[1]["frame"].(float64) != 7 {
		t.Errorf("second sample = %v, want t=100 frame=7", decoded[1])
	}
}

func TestRecorderCloseIdempotent(t *testing.T) {
	r := NewRecorder()
	if err := r.AddFrame([]byte("x")); err != nil {
		t.Fatal(err)
	}
	r.Close()
	r.Close()
	if err := r.AddFrame([]byte("y")); err == nil {
		t.Error("AddFrame after Close must fail")
	}
	video1, _, _, err := r.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	video2, _, _, err := r.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	if string(video1) != "x" || string(video2) != "x" {
		t.Errorf("repeated Finalize diverged: %q vs %q", video1, video2)
	}
}

func TestRecorderEmptyStates(t *testing.T) {
	r := NewRecorder()
	_, _, states, err := r.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	if string(states) != "[]" {
		t.Errorf("empty states = %q, want []", states)
	}
}
