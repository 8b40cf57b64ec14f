package arena

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rawlclub/backend/internal/content"
	"github.com/rawlclub/backend/internal/ledger"
	"github.com/rawlclub/backend/internal/queue"
	"github.com/rawlclub/backend/internal/registry"
	"github.com/rawlclub/backend/internal/streams"
)

// Cancel reasons the runner can emit. The watchdog and reconciler own the
// rest of the enumerated set.
const (
	CancelValidation         = "validation_failed"
	CancelFieldValidation    = "field_validation"
	CancelEngineException    = "engine_exception"
	CancelMaxFrames          = "max_frames_exceeded"
	CancelTerminatedNoWinner = "terminated_no_winner"
)

// CancelledError reports why a match was cancelled instead of resolved.
type CancelledError struct {
	Reason string
	Err    error
}

func (e *CancelledError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("match cancelled (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("match cancelled (%s)", e.Reason)
}

func (e *CancelledError) Unwrap() error { return e.Err }

// EngineFactory builds a fresh engine for a game and reports the observation
// shape both policies were trained with.
type EngineFactory func(ctx context.Context, gameID string) (Engine, []int, error)

// matchWriter is the registry slice the runner touches. The runner's writes
// are optimistic; the event listener is authoritative and every transition
// is conditional on current status.
type matchWriter interface {
	MarkLocked(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkResolved(ctx context.Context, id uuid.UUID, p registry.ResolveParams, at time.Time) error
	MarkCancelled(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
	InsertFailedUpload(ctx context.Context, matchID uuid.UUID, key string, payload []byte, lastError string) error
}

// RunnerConfig carries the timing knobs; values come straight from the
// process config.
type RunnerConfig struct {
	MaxMatchFrames    int
	FrameSkip         int
	StreamingFPS      int
	DataHz            int
	HeartbeatInterval time.Duration
}

// Result is what a successful run hands back to the worker.
type Result struct {
	MatchID        uuid.UUID
	Winner         string // "P1" or "P2", never "DRAW"
	WinnerFighter  uuid.UUID
	RoundHistory   []RoundResult
	MatchHash      string
	AdapterVersion string
	HashVersion    int
	LockedAt       time.Time
	ReplayUploaded bool
	Frames         int
}

// Runner executes exactly one match end to end: models, emulator, frame
// loop, tiebreak, hash, uploads, settlement. One instance per worker child.
type Runner struct {
	cfg     RunnerConfig
	ledger  ledger.Ledger
	pub     streams.Publisher
	store   content.Store
	models  *ModelCache
	engines EngineFactory
	writer  matchWriter

	// injectable in tests
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
	encode func(Frame) ([]byte, error)
}

func NewRunner(cfg RunnerConfig, lg ledger.Ledger, pub streams.Publisher, store content.Store, models *ModelCache, engines EngineFactory, writer matchWriter) *Runner {
	return &Runner{
		cfg:     cfg,
		ledger:  lg,
		pub:     pub,
		store:   store,
		models:  models,
		engines: engines,
		writer:  writer,
		now:     time.Now,
		sleep:   sleepCtx,
		encode:  EncodeJPEG,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Run executes the full phase sequence for one claimed job. Ledger calls
// happen only for matches with a pool; registry lifecycle writes happen for
// everything except calibration, which has no match row at all.
func (r *Runner) Run(ctx context.Context, job *queue.Job) (*Result, error) {
	adapter, err := ForGame(job.GameID)
	if err != nil {
		return nil, r.cancelMatch(ctx, job, "pre-lock", CancelValidation, err)
	}

	polA, err := r.models.Load(ctx, job.ModelRefA)
	if err != nil {
		return nil, r.cancelMatch(ctx, job, "pre-lock", CancelValidation, err)
	}
	polB, err := r.models.Load(ctx, job.ModelRefB)
	if err != nil {
		return nil, r.cancelMatch(ctx, job, "pre-lock", CancelValidation, err)
	}

	engine, obsShape, err := r.engines(ctx, job.GameID)
	if err != nil {
		return nil, r.cancelMatch(ctx, job, "pre-lock", CancelValidation, err)
	}
	defer engine.Close()

	recorder := NewRecorder()
	defer recorder.Close()
	defer func() {
		if err := r.pub.PublishEnd(context.WithoutCancel(ctx), job.MatchID); err != nil {
			log.Printf("[RUNNER] match %s: publish end sentinel: %v", job.MatchID, err)
		}
	}()

	frame, info, err := engine.Start(ctx)
	if err != nil {
		return nil, r.cancelMatch(ctx, job, "pre-lock", CancelValidation, err)
	}

	// Pre-lock validation: a missing required field here means the engine
	// integration is broken for this game, not a transient glitch.
	if err := adapter.ValidateInfo(info); err != nil {
		return nil, r.cancelMatch(ctx, job, "pre-lock", CancelFieldValidation, err)
	}

	obsP1, err := NewObserver(obsShape)
	if err != nil {
		return nil, r.cancelMatch(ctx, job, "pre-lock", CancelValidation, err)
	}
	obsP2, err := NewObserver(obsShape)
	if err != nil {
		return nil, r.cancelMatch(ctx, job, "pre-lock", CancelValidation, err)
	}

	lockedAt := r.now()
	if job.HasPool {
		if err := r.ledger.LockMatch(ctx, job.MatchID); err != nil {
			return nil, r.cancelMatch(ctx, job, "pre-lock", CancelValidation, fmt.Errorf("lock match: %w", err))
		}
	}
	if !job.Calibration {
		if err := r.writer.MarkLocked(ctx, job.MatchID, lockedAt); err != nil {
			log.Printf("[RUNNER] match %s: mark locked: %v", job.MatchID, err)
		}
		if err := r.pub.Heartbeat(ctx, job.MatchID); err != nil {
			log.Printf("[RUNNER] match %s: initial heartbeat: %v", job.MatchID, err)
		}
	}

	winner, history, actions, frames, loopErr := r.frameLoop(ctx, job, adapter, engine, polA, polB, obsP1, obsP2, recorder, frame, info, lockedAt)
	if loopErr != nil {
		var ce *CancelledError
		if errors.As(loopErr, &ce) {
			return nil, r.cancelMatch(ctx, job, "post-lock", ce.Reason, ce.Err)
		}
		return nil, r.cancelMatch(ctx, job, "post-lock", CancelEngineException, loopErr)
	}

	if winner == "DRAW" {
		winner = Tiebreak(job.MatchID, history)
		log.Printf("[RUNNER] match %s: draw broken to %s", job.MatchID, winner)
	}
	if winner != "P1" && winner != "P2" {
		return nil, r.cancelMatch(ctx, job, "post-lock", CancelTerminatedNoWinner, fmt.Errorf("loop ended with winner %q", winner))
	}

	payload := &HashPayload{
		Actions:        actions,
		AdapterVersion: adapter.Version(),
		HashVersion:    HashVersion,
		MatchID:        job.MatchID.String(),
		Rounds:         CanonicalRounds(history),
		Winner:         winner,
	}
	payloadBytes, err := CanonicalSerialize(payload)
	if err != nil {
		return nil, r.cancelMatch(ctx, job, "post-lock", CancelEngineException, err)
	}
	matchHash := MatchHash(payloadBytes)

	replayUploaded := r.uploadArtifacts(ctx, job.MatchID, recorder, payloadBytes)

	res := &Result{
		MatchID:        job.MatchID,
		Winner:         winner,
		WinnerFighter:  job.FighterA,
		RoundHistory:   history,
		MatchHash:      matchHash,
		AdapterVersion: adapter.Version(),
		HashVersion:    HashVersion,
		LockedAt:       lockedAt,
		ReplayUploaded: replayUploaded,
		Frames:         frames,
	}
	if winner == "P2" {
		res.WinnerFighter = job.FighterB
	}

	if job.HasPool {
		code := ledger.SideA
		if winner == "P2" {
			code = ledger.SideB
		}
		if err := r.ledger.ResolveMatch(ctx, job.MatchID, code); err != nil {
			return nil, r.cancelMatch(ctx, job, "post-lock", CancelEngineException, fmt.Errorf("resolve match: %w", err))
		}
	}
	if !job.Calibration {
		historyJSON, _ := json.Marshal(history)
		params := registry.ResolveParams{
			WinnerID:       res.WinnerFighter,
			MatchHash:      matchHash,
			AdapterVersion: adapter.Version(),
			RoundHistory:   historyJSON,
		}
		if replayUploaded {
			params.ReplayRef = replayKey(job.MatchID, "mjpeg")
		}
		if err := r.writer.MarkResolved(ctx, job.MatchID, params, r.now()); err != nil {
			log.Printf("[RUNNER] match %s: mark resolved: %v", job.MatchID, err)
		}
	}

	log.Printf("[RUNNER] match %s resolved: winner=%s rounds=%d frames=%d hash=%s", job.MatchID, winner, len(history), frames, matchHash)
	return res, nil
}

// frameLoop runs batched inference with frame-skip stepping until the adapter declares
// the match over. It returns the adapter's verdict ("P1"/"P2"/"DRAW"), the
// round history, the per-batch action log and the frame count.
func (r *Runner) frameLoop(
	ctx context.Context,
	job *queue.Job,
	adapter Adapter,
	engine Engine,
	polA, polB Policy,
	obsP1, obsP2 *Observer,
	recorder *Recorder,
	frame Frame,
	info Info,
	start time.Time,
) (string, []RoundResult, [][2]uint32, int, error) {
	validator := NewFieldValidator(adapter.RequiredFields())
	batchBudget := time.Second * time.Duration(r.cfg.FrameSkip) / time.Duration(r.cfg.StreamingFPS)
	dataEvery := r.cfg.StreamingFPS / r.cfg.DataHz
	if dataEvery < 1 {
		dataEvery = 1
	}

	var (
		history  []RoundResult
		actions  [][2]uint32
		frames   int
		lastBeat = r.now()
	)

	for {
		if err := ctx.Err(); err != nil {
			return "", history, actions, frames, err
		}
		batchStart := r.now()

		t1 := obsP1.Observe(frame)
		t2 := obsP2.Observe(FlipHorizontal(frame))
		a1, err := polA.Predict(t1)
		if err != nil {
			return "", history, actions, frames, fmt.Errorf("P1 predict: %w", err)
		}
		a2, err := polB.Predict(t2)
		if err != nil {
			return "", history, actions, frames, fmt.Errorf("P2 predict: %w", err)
		}
		// P2 trained on the mirrored view, so its directional buttons are
		// swapped back before stepping the real engine.
		a2 = adapter.MirrorAction(a2)
		actions = append(actions, [2]uint32{ActionBits(a1), ActionBits(a2)})

		for s := 0; s < r.cfg.FrameSkip; s++ {
			frame, info, err = engine.Step(ctx, a1, a2)
			if err != nil {
				return "", history, actions, frames, fmt.Errorf("engine step: %w", err)
			}
			frames++

			jpg, err := r.encode(frame)
			if err != nil {
				return "", history, actions, frames, fmt.Errorf("encode frame: %w", err)
			}
			if err := r.pub.PublishFrame(ctx, job.MatchID, jpg); err != nil {
				log.Printf("[RUNNER] match %s: publish frame: %v", job.MatchID, err)
			}
			if err := recorder.AddFrame(jpg); err != nil {
				return "", history, actions, frames, err
			}

			st := adapter.ExtractState(info)
			if frames%dataEvery == 0 {
				stateJSON, _ := json.Marshal(st)
				if err := r.pub.PublishState(ctx, job.MatchID, stateJSON); err != nil {
					log.Printf("[RUNNER] match %s: publish state: %v", job.MatchID, err)
				}
				recorder.AddState(int(r.now().Sub(start).Milliseconds()), frames, st)
			}

			// Post-lock the pool is committed, so a validation trip is
			// logged and the match plays on.
			if err := validator.Observe(info); err != nil {
				log.Printf("[RUNNER] match %s: %v", job.MatchID, err)
			}

			if outcome := adapter.IsRoundOver(info, st); outcome != RoundOngoing {
				history = append(history, RoundResult{
					Winner:   string(outcome),
					P1Health: st.P1Health,
					P2Health: st.P2Health,
				})
				log.Printf("[RUNNER] match %s: round %d -> %s", job.MatchID, len(history), outcome)
			}
			if w := adapter.IsMatchOver(info, history, st, job.Format); w != "" {
				return w, history, actions, frames, nil
			}

			if frames >= r.cfg.MaxMatchFrames {
				return "", history, actions, frames, &CancelledError{
					Reason: CancelMaxFrames,
					Err:    fmt.Errorf("frame cap %d reached", r.cfg.MaxMatchFrames),
				}
			}
		}

		if !job.Calibration && r.now().Sub(lastBeat) >= r.cfg.HeartbeatInterval {
			if err := r.pub.Heartbeat(ctx, job.MatchID); err != nil {
				log.Printf("[RUNNER] match %s: heartbeat: %v", job.MatchID, err)
			}
			lastBeat = r.now()
		}

		if remain := batchBudget - r.now().Sub(batchStart); remain > 0 {
			if err := r.sleep(ctx, remain); err != nil {
				return "", history, actions, frames, err
			}
		}
	}
}

func replayKey(matchID uuid.UUID, ext string) string {
	return "replays/" + matchID.String() + "." + ext
}

func hashKey(matchID uuid.UUID) string {
	return "hashes/" + matchID.String() + ".json"
}

// uploadArtifacts pushes the hash payload and the three replay files. A
// failed hash upload goes to the dead-letter queue with its payload so the
// retry worker can finish the job; replay bytes are too large to park in the
// row, so their failures are recorded without a payload and the replay ref
// stays unset.
func (r *Runner) uploadArtifacts(ctx context.Context, matchID uuid.UUID, recorder *Recorder, hashPayload []byte) bool {
	video, index, states, err := recorder.Finalize()
	if err != nil {
		log.Printf("[RUNNER] match %s: finalize recorder: %v", matchID, err)
		video, index, states = nil, nil, nil
	}

	if err := r.store.Put(ctx, hashKey(matchID), hashPayload, "application/json"); err != nil {
		log.Printf("[RUNNER] match %s: hash upload failed: %v", matchID, err)
		if dbErr := r.writer.InsertFailedUpload(ctx, matchID, hashKey(matchID), hashPayload, err.Error()); dbErr != nil {
			log.Printf("[RUNNER] match %s: record failed upload: %v", matchID, dbErr)
		}
	}

	uploaded := true
	for _, part := range []struct {
		ext  string
		data []byte
		ct   string
	}{
		{"mjpeg", video, "video/x-motion-jpeg"},
		{"idx", index, "application/octet-stream"},
		{"json", states, "application/json"},
	} {
		if part.data == nil {
			uploaded = false
			continue
		}
		key := replayKey(matchID, part.ext)
		if err := r.store.Put(ctx, key, part.data, part.ct); err != nil {
			uploaded = false
			log.Printf("[RUNNER] match %s: replay upload %s failed: %v", matchID, key, err)
			if dbErr := r.writer.InsertFailedUpload(ctx, matchID, key, nil, err.Error()); dbErr != nil {
				log.Printf("[RUNNER] match %s: record failed upload: %v", matchID, dbErr)
			}
		}
	}
	return uploaded
}

// cancelMatch is both the pre-lock validation path and the phase-9
// post-lock path: cancel the pool so bettors get refunds, mirror the reason
// into the registry. Calibration matches have no row and nothing on chain.
func (r *Runner) cancelMatch(ctx context.Context, job *queue.Job, phase, reason string, cause error) error {
	log.Printf("[RUNNER] match %s cancelled %s (%s): %v", job.MatchID, phase, reason, cause)
	if job.HasPool {
		if err := r.ledger.CancelMatch(ctx, job.MatchID); err != nil {
			log.Printf("[RUNNER] match %s: ledger cancel: %v", job.MatchID, err)
		}
	}
	if !job.Calibration {
		if err := r.writer.MarkCancelled(ctx, job.MatchID, reason, r.now()); err != nil {
			log.Printf("[RUNNER] match %s: mark cancelled: %v", job.MatchID, err)
		}
	}
	return &CancelledError{Reason: reason, Err: cause}
}

// EncodeJPEG renders one RGB frame as a JPEG at streaming quality.
func EncodeJPEG(f Frame) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			src := (y*f.Width + x) * 3
			dst := img.PixOffset(x, y)
			img.Pix[dst] = f.Pixels[src]
			img.Pix[dst+1] = f.Pixels[src+1]
			img.Pix[dst+2] = f.Pixels[src+2]
			img.Pix[dst+3] = 0xff
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70}); err != nil {
		return nil, fmt.Errorf("arena: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
