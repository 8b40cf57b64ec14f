package arena

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rawlclub/backend/internal/content"
	"github.com/rawlclub/backend/internal/ledger"
	"github.com/rawlclub/backend/internal/queue"
	"github.com/rawlclub/backend/internal/registry"
)

// --- fakes ---

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, failPut: map[string]bool{}}
}

func (s *fakeStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut[key] {
		return errors.New("store unavailable")
	}
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

func (s *fakeStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, content.ErrNotFound
	}
	return data, nil
}

func (s *fakeStore) GetRange(ctx context.Context, key string, start, end int64) ([]byte, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return data[start:end], nil
}

func (s *fakeStore) Size(ctx context.Context, key string) (int64, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

type fakeLedger struct {
	mu       sync.Mutex
	calls    []string
	lockErr  error
	resolved *uint8
}

func (l *fakeLedger) record(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *fakeLedger) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *fakeLedger) CreateMatch(ctx context.Context, matchID, a, b uuid.UUID, minBet *big.Int, window uint64) error {
	l.record("create")
	return nil
}

func (l *fakeLedger) LockMatch(ctx context.Context, matchID uuid.UUID) error {
	l.record("lock")
	return l.lockErr
}

func (l *fakeLedger) ResolveMatch(ctx context.Context, matchID uuid.UUID, winner uint8) error {
	l.record("resolve")
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resolved = &winner
	return nil
}

func (l *fakeLedger) CancelMatch(ctx context.Context, matchID uuid.UUID) error {
	l.record("cancel")
	return nil
}

func (l *fakeLedger) TimeoutMatch(ctx context.Context, matchID uuid.UUID) error {
	l.record("timeout")
	return nil
}

func (l *fakeLedger) GetMatchPool(ctx context.Context, matchID uuid.UUID) (*ledger.Pool, error) {
	return nil, nil
}

func (l *fakeLedger) GetBet(ctx context.Context, matchID uuid.UUID, wallet string) (*ledger.ChainBet, error) {
	return nil, nil
}

func (l *fakeLedger) BetExists(ctx context.Context, matchID uuid.UUID, wallet string) (bool, error) {
	return false, nil
}

type fakePublisher struct {
	mu         sync.Mutex
	frames     int
	states     int
	ends       int
	heartbeats int
}

func (p *fakePublisher) PublishFrame(ctx context.Context, matchID uuid.UUID, jpeg []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames++
	return nil
}

func (p *fakePublisher) PublishState(ctx context.Context, matchID uuid.UUID, state []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states++
	return nil
}

func (p *fakePublisher) PublishEnd(ctx context.Context, matchID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ends++
	return nil
}

func (p *fakePublisher) Heartbeat(ctx context.Context, matchID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.heartbeats++
	return nil
}

type fakeWriter struct {
	mu        sync.Mutex
	locked    bool
	resolved  *registry.ResolveParams
	cancelled string
	uploads   []string
}

func (w *fakeWriter) MarkLocked(ctx context.Context, id uuid.UUID, at time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.locked = true
	return nil
}

func (w *fakeWriter) MarkResolved(ctx context.Context, id uuid.UUID, p registry.ResolveParams, at time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resolved = &p
	return nil
}

func (w *fakeWriter) MarkCancelled(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelled = reason
	return nil
}

func (w *fakeWriter) InsertFailedUpload(ctx context.Context, matchID uuid.UUID, key string, payload []byte, lastError string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.uploads = append(w.uploads, key)
	return nil
}

// fakeEngine replays a scripted sequence of infos, repeating the last one
// once the script runs out.
type fakeEngine struct {
	infos  []Info
	step   int
	closed bool
}

func (e *fakeEngine) current() Info {
	i := e.step
	if i >= len(e.infos) {
		i = len(e.infos) - 1
	}
	return e.infos[i]
}

func (e *fakeEngine) Start(ctx context.Context) (Frame, Info, error) {
	return solidFrame(2, 2, 128, 128, 128), e.current(), nil
}

func (e *fakeEngine) Step(ctx context.Context, p1, p2 []bool) (Frame, Info, error) {
	e.step++
	return solidFrame(2, 2, 128, 128, 128), e.current(), nil
}

func (e *fakeEngine) Close() error {
	e.closed = true
	return nil
}

// --- harness ---

func testJob(calibration bool) *queue.Job {
	return &queue.Job{
		MatchID:     uuid.New(),
		GameID:      "sf2",
		FighterA:    uuid.New(),
		FighterB:    uuid.New(),
		ModelRefA:   "models/a.bin",
		ModelRefB:   "models/b.bin",
		Format:      3,
		Calibration: calibration,
		HasPool:     !calibration,
	}
}

func testRunner(t *testing.T, engine Engine, store *fakeStore) (*Runner, *fakeLedger, *fakePublisher, *fakeWriter) {
	t.Helper()
	store.objects["models/a.bin"] = []byte("weights-a")
	store.objects["models/b.bin"] = []byte("weights-b")
	models := NewModelCache(store, func(ctx context.Context, ref string, data []byte) (Policy, error) {
		return PolicyFunc(func(obs Tensor) ([]bool, error) {
			return make([]bool, 12), nil
		}), nil
	})

	lg := &fakeLedger{}
	pub := &fakePublisher{}
	writer := &fakeWriter{}
	cfg := RunnerConfig{
		MaxMatchFrames:    1000,
		FrameSkip:         2,
		StreamingFPS:      60,
		DataHz:            10,
		HeartbeatInterval: time.Hour,
	}
	factory := func(ctx context.Context, gameID string) (Engine, []int, error) {
		return engine, []int{2, 2, 3}, nil
	}
	r := NewRunner(cfg, lg, pub, store, models, factory, writer)
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	r.encode = func(f Frame) ([]byte, error) { return []byte("jpg"), nil }
	return r, lg, pub, writer
}

// sf2Script ends the match with two P1 round wins.
func sf2Script() []Info {
	ongoing := sf2Info(176, 176, 0, 0)
	oneWin := sf2Info(176, -1, 1, 0)
	twoWins := sf2Info(176, -1, 2, 0)
	return []Info{ongoing, ongoing, ongoing, oneWin, oneWin, twoWins}
}

func TestRunnerHappyPath(t *testing.T) {
	store := newFakeStore()
	engine := &fakeEngine{infos: sf2Script()}
	r, lg, pub, writer := testRunner(t, engine, store)
	job := testJob(false)

	res, err := r.Run(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	if res.Winner != "P1" {
		t.Errorf("winner = %q, want P1", res.Winner)
	}
	if res.WinnerFighter != job.FighterA {
		t.Errorf("winner fighter = %s, want fighter A", res.WinnerFighter)
	}
	if len(res.RoundHistory) != 2 {
		t.Errorf("rounds = %d, want 2", len(res.RoundHistory))
	}
	if !res.ReplayUploaded {
		t.Error("replay should be uploaded")
	}

	calls := lg.Calls()
	want := []string{"lock", "resolve"}
	if fmt.Sprint(calls) != fmt.Sprint(want) {
		t.Errorf("ledger calls = %v, want %v", calls, want)
	}
	if *lg.resolved != ledger.SideA {
		t.Errorf("resolved side = %d, want %d", *lg.resolved, ledger.SideA)
	}

	// The stored hash payload must hash to the result's matchHash.
	payload, err := store.Get(context.Background(), hashKey(job.MatchID))
	if err != nil {
		t.Fatalf("hash payload not uploaded: %v", err)
	}
	sum := sha256.Sum256(payload)
	if hex.EncodeToString(sum[:]) != res.MatchHash {
		t.Error("matchHash does not match uploaded payload bytes")
	}
	for _, ext := range []string{"mjpeg", "idx", "json"} {
		if _, err := store.Get(context.Background(), replayKey(job.MatchID, ext)); err != nil {
			t.Errorf("replay artifact %s missing", ext)
		}
	}

	if !writer.locked {
		t.Error("registry not marked locked")
	}
	if writer.resolved == nil {
		t.Fatal("registry not marked resolved")
	}
	if writer.resolved.ReplayRef != replayKey(job.MatchID, "mjpeg") {
		t.Errorf("replay ref = %q", writer.resolved.ReplayRef)
	}
	if writer.resolved.MatchHash != res.MatchHash {
		t.Error("registry hash differs from result hash")
	}

	if pub.ends != 1 {
		t.Errorf("end sentinel published %d times, want 1", pub.ends)
	}
	if pub.heartbeats < 1 {
		t.Error("initial heartbeat not written")
	}
	if pub.frames != res.Frames {
		t.Errorf("published %d frames, stepped %d", pub.frames, res.Frames)
	}
	if !engine.closed {
		t.Error("engine not closed")
	}
}

func TestRunnerPreLockValidationFailure(t *testing.T) {
	store := newFakeStore()
	// Missing required fields: validation fails before lock.
	engine := &fakeEngine{infos: []Info{{P1: map[string]float64{}, P2: map[string]float64{}}}}
	r, lg, pub, writer := testRunner(t, engine, store)
	job := testJob(false)

	_, err := r.Run(context.Background(), job)
	var ce *CancelledError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want CancelledError", err)
	}
	if ce.Reason != CancelFieldValidation {
		t.Errorf("reason = %q, want %q", ce.Reason, CancelFieldValidation)
	}
	calls := lg.Calls()
	if fmt.Sprint(calls) != "[cancel]" {
		t.Errorf("ledger calls = %v, want only cancel", calls)
	}
	if writer.cancelled != CancelFieldValidation {
		t.Errorf("registry cancel reason = %q", writer.cancelled)
	}
	if pub.ends != 1 {
		t.Error("end sentinel must be published even on failure")
	}
	if !engine.closed {
		t.Error("engine must be released on failure")
	}
}

func TestRunnerCalibrationSkipsLedger(t *testing.T) {
	store := newFakeStore()
	engine := &fakeEngine{infos: sf2Script()}
	r, lg, _, writer := testRunner(t, engine, store)
	job := testJob(true)

	res, err := r.Run(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	if res.Winner != "P1" {
		t.Errorf("winner = %q, want P1", res.Winner)
	}
	if len(lg.Calls()) != 0 {
		t.Errorf("calibration made ledger calls: %v", lg.Calls())
	}
	if writer.locked || writer.resolved != nil {
		t.Error("calibration must not touch match rows")
	}
}

func TestRunnerMaxFrames(t *testing.T) {
	store := newFakeStore()
	// Script never ends the match.
	engine := &fakeEngine{infos: []Info{sf2Info(176, 176, 0, 0)}}
	r, lg, _, writer := testRunner(t, engine, store)
	r.cfg.MaxMatchFrames = 6
	job := testJob(false)

	_, err := r.Run(context.Background(), job)
	var ce *CancelledError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want CancelledError", err)
	}
	if ce.Reason != CancelMaxFrames {
		t.Errorf("reason = %q, want %q", ce.Reason, CancelMaxFrames)
	}
	calls := lg.Calls()
	if fmt.Sprint(calls) != "[lock cancel]" {
		t.Errorf("ledger calls = %v, want [lock cancel]", calls)
	}
	if writer.cancelled != CancelMaxFrames {
		t.Errorf("registry cancel reason = %q", writer.cancelled)
	}
}

func TestRunnerHashUploadFailureGoesToDeadLetter(t *testing.T) {
	store := newFakeStore()
	engine := &fakeEngine{infos: sf2Script()}
	r, _, _, writer := testRunner(t, engine, store)
	job := testJob(false)
	store.failPut[hashKey(job.MatchID)] = true

	res, err := r.Run(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	// Hash upload failure does not block resolution; the payload is parked
	// for the retry worker.
	if res.MatchHash == "" {
		t.Error("match hash missing")
	}
	found := false
	for _, key := range writer.uploads {
		if key == hashKey(job.MatchID) {
			found = true
		}
	}
	if !found {
		t.Errorf("failed uploads = %v, want hash key recorded", writer.uploads)
	}
}

func TestRunnerReplayUploadFailure(t *testing.T) {
	store := newFakeStore()
	engine := &fakeEngine{infos: sf2Script()}
	r, lg, _, writer := testRunner(t, engine, store)
	job := testJob(false)
	store.failPut[replayKey(job.MatchID, "mjpeg")] = true

	res, err := r.Run(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	if res.ReplayUploaded {
		t.Error("replayUploaded must be false when an artifact fails")
	}
	if writer.resolved == nil {
		t.Fatal("match must still resolve")
	}
	if writer.resolved.ReplayRef != "" {
		t.Errorf("replay ref = %q, want empty on failed upload", writer.resolved.ReplayRef)
	}
	if fmt.Sprint(lg.Calls()) != "[lock resolve]" {
		t.Errorf("ledger calls = %v", lg.Calls())
	}
}

func TestModelCacheEviction(t *testing.T) {
	store := newFakeStore()
	loads := 0
	cache := NewModelCache(store, func(ctx context.Context, ref string, data []byte) (Policy, error) {
		loads++
		return PolicyFunc(func(obs Tensor) ([]bool, error) { return nil, nil }), nil
	})
	cache.cap = 2

	for _, ref := range []string{"models/a", "models/b"} {
		store.objects[ref] = []byte("w")
		if _, err := cache.Load(context.Background(), ref); err != nil {
			t.Fatal(err)
		}
	}
	if loads != 2 {
		t.Fatalf("loads = %d, want 2", loads)
	}

	// Hit: no new load.
	if _, err := cache.Load(context.Background(), "models/a"); err != nil {
		t.Fatal(err)
	}
	if loads != 2 {
		t.Fatalf("cache hit reloaded: loads = %d", loads)
	}

	// Third ref evicts the LRU entry (models/b).
	store.objects["models/c"] = []byte("w")
	if _, err := cache.Load(context.Background(), "models/c"); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Load(context.Background(), "models/b"); err != nil {
		t.Fatal(err)
	}
	if loads != 4 {
		t.Errorf("loads = %d, want 4 (b evicted and reloaded)", loads)
	}
}

func TestModelCacheRejectsUntrustedRef(t *testing.T) {
	cache := NewModelCache(newFakeStore(), func(ctx context.Context, ref string, data []byte) (Policy, error) {
		t.Fatal("loader must not run for untrusted refs")
		return nil, nil
	})
	if _, err := cache.Load(context.Background(), "../../etc/passwd"); err == nil {
		t.Error("expected rejection")
	}
	if _, err := cache.Load(context.Background(), "uploads/sneaky.bin"); err == nil {
		t.Error("expected rejection")
	}
}
