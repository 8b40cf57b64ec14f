// Package worker is the emulation pool: a parent process that claims jobs
// and runs each match in its own child process, so emulator leaks and
// crashes are bounded by one match. The child re-execs the worker binary in
// run-match mode with the job payload on stdin.
package worker

import (
	"context"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rawlclub/backend/internal/config"
	"github.com/rawlclub/backend/internal/queue"
)

// AliveKey is refreshed by every running pool so the API health check can
// tell whether matches can actually execute.
const AliveKey = "rawl:worker:alive"

const (
	aliveInterval = 10 * time.Second
	aliveTTL      = 30 * time.Second
)

// ChildMode is the argv[1] that switches the worker binary into the
// single-match child.
const ChildMode = "run-match"

type child struct {
	cmd     *exec.Cmd
	tier    queue.Tier
	payload string
	matchID string
	done    chan error
}

type Pool struct {
	jobs *queue.Emulation
	rdb  *redis.Client
	cfg  *config.Config

	children []*child
	draining bool
}

func NewPool(jobs *queue.Emulation, rdb *redis.Client, cfg *config.Config) *Pool {
	return &Pool{jobs: jobs, rdb: rdb, cfg: cfg}
}

// Run is the control loop. It returns once the context is cancelled and all
// children have exited or the drain timeout forced them out.
func (p *Pool) Run(ctx context.Context) {
	if n, err := p.jobs.RecoverProcessing(ctx); err != nil {
		log.Printf("[POOL] recover processing: %v", err)
	} else if n > 0 {
		log.Printf("[POOL] recovered %d orphaned job(s)", n)
	}

	go p.aliveLoop(ctx)

	ticker := time.NewTicker(time.Duration(p.cfg.WorkerPollSeconds) * time.Second)
	defer ticker.Stop()
	log.Printf("[POOL] started, %d slot(s)", p.cfg.MaxConcurrentMatches)

	for {
		select {
		case <-ctx.Done():
			p.drain()
			return
		case <-ticker.C:
			p.reap(context.Background())
			p.fill(ctx)
		}
	}
}

// aliveLoop refreshes the liveness key while the pool runs.
func (p *Pool) aliveLoop(ctx context.Context) {
	ticker := time.NewTicker(aliveInterval)
	defer ticker.Stop()
	for {
		if err := p.rdb.Set(ctx, AliveKey, time.Now().Unix(), aliveTTL).Err(); err != nil && ctx.Err() == nil {
			log.Printf("[POOL] liveness write: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// reap acknowledges every finished child. Ack happens regardless of exit
// status: the child owns settlement, and re-running a settled match would
// double-touch the ledger.
func (p *Pool) reap(ctx context.Context) {
	remaining := p.children[:0]
	for _, c := range p.children {
		select {
		case err := <-c.done:
			if err != nil {
				log.Printf("[POOL] match %s child exited with error: %v", c.matchID, err)
			} else {
				log.Printf("[POOL] match %s child finished", c.matchID)
			}
			if err := p.jobs.Ack(ctx, c.tier, c.payload); err != nil {
				log.Printf("[POOL] match %s: ack: %v", c.matchID, err)
			}
		default:
			remaining = append(remaining, c)
		}
	}
	p.children = remaining
}

// fill claims jobs into free slots, ranked tier first.
func (p *Pool) fill(ctx context.Context) {
	if p.draining {
		return
	}
	for len(p.children) < p.cfg.MaxConcurrentMatches {
		job, payload, tier, err := p.claimAny(ctx)
		if err == queue.ErrEmpty {
			return
		}
		if err != nil {
			log.Printf("[POOL] claim: %v", err)
			return
		}
		c, err := p.spawn(job, payload, tier)
		if err != nil {
			log.Printf("[POOL] match %s: spawn: %v", job.MatchID, err)
			// Give the job back rather than ack it away.
			if qErr := p.jobs.Ack(ctx, tier, payload); qErr == nil {
				if qErr := p.jobs.EnqueueImmediate(ctx, job, tier); qErr != nil {
					log.Printf("[POOL] match %s: requeue: %v", job.MatchID, qErr)
				}
			}
			return
		}
		p.children = append(p.children, c)
		log.Printf("[POOL] match %s claimed (%s), %d/%d slots", job.MatchID, tier, len(p.children), p.cfg.MaxConcurrentMatches)
	}
}

func (p *Pool) claimAny(ctx context.Context) (*queue.Job, string, queue.Tier, error) {
	for _, tier := range []queue.Tier{queue.TierRanked, queue.TierCalibration} {
		job, payload, err := p.jobs.Claim(ctx, tier)
		if err == queue.ErrEmpty {
			continue
		}
		if err != nil {
			return nil, "", tier, err
		}
		return job, payload, tier, nil
	}
	return nil, "", "", queue.ErrEmpty
}

// spawn re-execs this binary in child mode with the raw job payload on
// stdin. The child inherits the environment, so it builds its own config.
func (p *Pool) spawn(job *queue.Job, payload string, tier queue.Tier) (*child, error) {
	cmd := exec.Command(os.Args[0], ChildMode)
	cmd.Stdin = strings.NewReader(payload)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	c := &child{
		cmd:     cmd,
		tier:    tier,
		payload: payload,
		matchID: job.MatchID.String(),
		done:    make(chan error, 1),
	}
	go func() { c.done <- cmd.Wait() }()
	return c, nil
}

// drain waits for running children to finish their matches, then kills
// whatever is left. Children are non-daemon on purpose: a locked pool must
// be resolved or cancelled, not abandoned mid-match.
func (p *Pool) drain() {
	p.draining = true
	if len(p.children) == 0 {
		log.Printf("[POOL] stopped")
		return
	}
	log.Printf("[POOL] draining %d child(ren), timeout %ds", len(p.children), p.cfg.DrainTimeoutSecs)
	deadline := time.After(time.Duration(p.cfg.DrainTimeoutSecs) * time.Second)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for len(p.children) > 0 {
		select {
		case <-deadline:
			for _, c := range p.children {
				log.Printf("[POOL] match %s: drain timeout, killing child", c.matchID)
				c.cmd.Process.Kill()
			}
			p.reap(context.Background())
			log.Printf("[POOL] stopped after forced drain")
			return
		case <-ticker.C:
			p.reap(context.Background())
		}
	}
	log.Printf("[POOL] stopped, all children drained")
}
