package arena

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Recorder accumulates the three replay artifacts for a match:
//
//	.mjpeg  concatenated JPEG frames, no container
//	.idx    little-endian uint64 byte offset of each frame in the .mjpeg
//	.json   minified array of timestamped state snapshots
//
// Buffers live in memory until Finalize; the runner uploads them as whole
// objects.
type Recorder struct {
	video  bytes.Buffer
	index  bytes.Buffer
	states []stateSample
	frames int
	closed bool
}

type stateSample struct {
	T     int     `json:"t"`
	Frame int     `json:"frame"`
	P1H   float64 `json:"p1_health"`
	P2H   float64 `json:"p2_health"`
	Round int     `json:"round"`
	Timer float64 `json:"timer"`
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// AddFrame appends one encoded JPEG and records its start offset.
func (r *Recorder) AddFrame(jpeg []byte) error {
	if r.closed {
		return fmt.Errorf("arena: recorder closed")
	}
	var off [8]byte
	binary.LittleEndian.PutUint64(off[:], uint64(r.video.Len()))
	r.index.Write(off[:])
	r.video.Write(jpeg)
	r.frames++
	return nil
}

// AddState snapshots game state at engine frame number frame, wall offset
// t milliseconds from match start.
func (r *Recorder) AddState(t, frame int, st State) {
	if r.closed {
		return
	}
	r.states = append(r.states, stateSample{
		T:     t,
		Frame: frame,
		P1H:   st.P1Health,
		P2H:   st.P2Health,
		Round: st.RoundNumber,
		Timer: st.Timer,
	})
}

func (r *Recorder) Frames() int { return r.frames }

// Finalize closes the recorder and returns the three artifacts. Calling it
// again returns the same bytes.
func (r *Recorder) Finalize() (video, index, states []byte, err error) {
	r.closed = true
	if r.states == nil {
		r.states = []stateSample{}
	}
	js, err := json.Marshal(r.states)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("arena: encode replay states: %w", err)
	}
	return r.video.Bytes(), r.index.Bytes(), js, nil
}

// Close discards nothing but stops further writes. Safe to call more than
// once.
func (r *Recorder) Close() {
	r.closed = true
}
