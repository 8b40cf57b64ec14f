// Package arena executes one match deterministically: it steps the emulator,
// runs both policies, publishes live streams, scores rounds through a
// per-game adapter, and settles the outcome on the ledger.
package arena

import "context"

// Frame is one rendered RGB frame in HWC layout.
type Frame struct {
	Width  int
	Height int
	// Pixels is H*W*3 bytes, row-major, RGB.
	Pixels []byte
}

// Info is the engine's per-frame state report. Player maps hold whatever
// scalar fields the emulator integration exposes; adapters declare which
// keys they require.
type Info struct {
	P1    map[string]float64
	P2    map[string]float64
	Timer float64
	Round int
}

// Engine is the emulator boundary: start, then step with both players'
// button bits. The integration behind it is out of process concern here;
// exactly one engine runs per worker child.
type Engine interface {
	Start(ctx context.Context) (Frame, Info, error)
	Step(ctx context.Context, p1Action, p2Action []bool) (Frame, Info, error)
	Close() error
}

// Policy is one fighter's opaque predict(observation) -> action operation.
type Policy interface {
	Predict(obs Tensor) ([]bool, error)
}

// PolicyFunc adapts a plain function to Policy.
type PolicyFunc func(obs Tensor) ([]bool, error)

func (f PolicyFunc) Predict(obs Tensor) ([]bool, error) { return f(obs) }
