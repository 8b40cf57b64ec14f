// Package uploads drains the content-store dead-letter queue: hash payloads
// whose original upload (and its in-process backoff) failed are retried in
// the background until they land or exhaust the budget.
package uploads

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/rawlclub/backend/internal/content"
	"github.com/rawlclub/backend/internal/registry"
)

const (
	pollInterval = 5 * time.Minute
	maxRetries   = 5
	sweepBatch   = 20
)

type Retrier struct {
	reg   *registry.Registry
	store content.Store
}

func NewRetrier(reg *registry.Registry, store content.Store) *Retrier {
	return &Retrier{reg: reg, store: store}
}

func (r *Retrier) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	log.Printf("[UPLOADS] dead-letter retrier started, poll every %v", pollInterval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[UPLOADS] stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Retrier) sweep(ctx context.Context) {
	rows, err := r.reg.RetryableUploads(ctx, maxRetries, sweepBatch)
	if err != nil {
		log.Printf("[UPLOADS] load retryable: %v", err)
		return
	}
	for _, row := range rows {
		if err := r.store.Put(ctx, row.Key, row.Payload, contentTypeFor(row.Key)); err != nil {
			log.Printf("[UPLOADS] retry %s (attempt %d): %v", row.Key, row.RetryCount+1, err)
			if dbErr := r.reg.RecordUploadAttempt(ctx, row.ID, err.Error()); dbErr != nil {
				log.Printf("[UPLOADS] record attempt %s: %v", row.Key, dbErr)
			}
			continue
		}
		if err := r.reg.MarkUploadResolved(ctx, row.ID); err != nil {
			log.Printf("[UPLOADS] mark resolved %s: %v", row.Key, err)
			continue
		}
		log.Printf("[UPLOADS] recovered %s after %d prior failure(s)", row.Key, row.RetryCount)
	}
}

func contentTypeFor(key string) string {
	switch {
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".mjpeg"):
		return "video/x-motion-jpeg"
	default:
		return "application/octet-stream"
	}
}
