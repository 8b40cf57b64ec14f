package arena

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Bridge talks to the emulator sidecar over newline-delimited JSON on
// stdin/stdout. The sidecar hosts the actual emulator core and the model
// runtime; one sidecar serves exactly one match, so its lifetime is the
// child process's lifetime.
type Bridge struct {
	cmd *exec.Cmd
	in  io.WriteCloser
	out *bufio.Reader

	mu     sync.Mutex
	closed bool
}

type bridgeRequest struct {
	Op     string    `json:"op"`
	Game   string    `json:"game,omitempty"`
	P1     []bool    `json:"p1,omitempty"`
	P2     []bool    `json:"p2,omitempty"`
	Slot   string    `json:"slot,omitempty"`
	Model  string    `json:"model,omitempty"` // base64 blob for load_model
	Shape  []int     `json:"shape,omitempty"`
	Tensor []float32 `json:"tensor,omitempty"`
}

type bridgeResponse struct {
	OK     bool    `json:"ok"`
	Error  string  `json:"error,omitempty"`
	Width  int     `json:"width,omitempty"`
	Height int     `json:"height,omitempty"`
	Pixels string  `json:"pixels,omitempty"` // base64 RGB
	Info   *Info   `json:"info,omitempty"`
	Shape  []int   `json:"shape,omitempty"`
	Action []bool  `json:"action,omitempty"`
}

// StartBridge launches the sidecar. command is a shell-style string, e.g.
// "rawl-emulator --headless".
func StartBridge(ctx context.Context, command string) (*Bridge, error) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return nil, fmt.Errorf("arena: empty bridge command")
	}
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Stderr = os.Stderr
	in, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("arena: bridge stdin: %w", err)
	}
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("arena: bridge stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("arena: start bridge %q: %w", parts[0], err)
	}
	return &Bridge{cmd: cmd, in: in, out: bufio.NewReaderSize(out, 1<<20)}, nil
}

// call sends one request and reads one response. The protocol is strictly
// request/response, so a single lock serializes everything.
func (b *Bridge) call(req *bridgeRequest) (*bridgeResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("arena: bridge closed")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("arena: bridge marshal: %w", err)
	}
	if _, err := b.in.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("arena: bridge write: %w", err)
	}
	line, err := b.out.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("arena: bridge read: %w", err)
	}
	var resp bridgeResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("arena: bridge decode: %w", err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("arena: bridge %s: %s", req.Op, resp.Error)
	}
	return &resp, nil
}

func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	b.in.Close()
	return b.cmd.Wait()
}

// LoadModel ships a model blob into the sidecar under a slot name.
func (b *Bridge) LoadModel(slot string, blob []byte) error {
	_, err := b.call(&bridgeRequest{
		Op:    "load_model",
		Slot:  slot,
		Model: base64.StdEncoding.EncodeToString(blob),
	})
	return err
}

// ObservationShape asks the sidecar what layout the loaded models expect.
func (b *Bridge) ObservationShape() ([]int, error) {
	resp, err := b.call(&bridgeRequest{Op: "obs_shape"})
	if err != nil {
		return nil, err
	}
	return resp.Shape, nil
}

func decodeFrame(resp *bridgeResponse) (Frame, error) {
	pixels, err := base64.StdEncoding.DecodeString(resp.Pixels)
	if err != nil {
		return Frame{}, fmt.Errorf("arena: bridge frame decode: %w", err)
	}
	if want := resp.Width * resp.Height * 3; len(pixels) != want {
		return Frame{}, fmt.Errorf("arena: bridge frame size %d, want %d", len(pixels), want)
	}
	return Frame{Width: resp.Width, Height: resp.Height, Pixels: pixels}, nil
}

// bridgeEngine is the Engine over a running Bridge.
type bridgeEngine struct {
	b    *Bridge
	game string
}

// NewBridgeEngine wraps an already-started bridge as an Engine for the game.
func NewBridgeEngine(b *Bridge, gameID string) Engine {
	return &bridgeEngine{b: b, game: gameID}
}

func (e *bridgeEngine) Start(ctx context.Context) (Frame, Info, error) {
	resp, err := e.b.call(&bridgeRequest{Op: "start", Game: e.game})
	if err != nil {
		return Frame{}, Info{}, err
	}
	frame, err := decodeFrame(resp)
	if err != nil {
		return Frame{}, Info{}, err
	}
	if resp.Info == nil {
		return Frame{}, Info{}, fmt.Errorf("arena: bridge start returned no info")
	}
	return frame, *resp.Info, nil
}

func (e *bridgeEngine) Step(ctx context.Context, p1, p2 []bool) (Frame, Info, error) {
	resp, err := e.b.call(&bridgeRequest{Op: "step", P1: p1, P2: p2})
	if err != nil {
		return Frame{}, Info{}, err
	}
	frame, err := decodeFrame(resp)
	if err != nil {
		return Frame{}, Info{}, err
	}
	if resp.Info == nil {
		return Frame{}, Info{}, fmt.Errorf("arena: bridge step returned no info")
	}
	return frame, *resp.Info, nil
}

func (e *bridgeEngine) Close() error { return e.b.Close() }

// bridgePolicy runs inference in the sidecar against a loaded slot.
type bridgePolicy struct {
	b    *Bridge
	slot string
}

// NewBridgePolicy returns a Policy predicting through the given slot.
func NewBridgePolicy(b *Bridge, slot string) Policy {
	return &bridgePolicy{b: b, slot: slot}
}

func (p *bridgePolicy) Predict(obs Tensor) ([]bool, error) {
	resp, err := p.b.call(&bridgeRequest{
		Op:     "predict",
		Slot:   p.slot,
		Shape:  obs.Shape,
		Tensor: obs.Data,
	})
	if err != nil {
		return nil, err
	}
	return resp.Action, nil
}
