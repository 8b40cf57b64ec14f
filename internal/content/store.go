// Package content is the artifact boundary: model blobs, replay files and
// hash payloads. The shipped implementation is filesystem-backed; callers
// only see the Store interface.
package content

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store is the content-store contract the runner and API depend on.
type Store interface {
	// Put writes bytes under key. Implementations do not retry; wrap with
	// WithRetry for the upload paths that need the backoff envelope.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get returns (nil, ErrNotFound) for a missing key.
	Get(ctx context.Context, key string) ([]byte, error)
	// GetRange reads [start, end) of the object.
	GetRange(ctx context.Context, key string, start, end int64) ([]byte, error)
	// Size returns the object length, or ErrNotFound.
	Size(ctx context.Context, key string) (int64, error)
}

// ErrNotFound is returned for missing keys.
var ErrNotFound = errors.New("content: not found")

// Trusted key prefixes for model loading. Anything else is rejected before
// a byte is fetched.
var trustedModelPrefixes = []string{"models/", "pretrained/", "reference/"}

// TrustedModelRef reports whether a model may be loaded from this key.
func TrustedModelRef(ref string) bool {
	for _, p := range trustedModelPrefixes {
		if strings.HasPrefix(ref, p) {
			return true
		}
	}
	return false
}

// FS is a filesystem-backed Store rooted at a directory.
type FS struct {
	root string
}

func NewFS(root string) (*FS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("content: create root: %w", err)
	}
	return &FS{root: root}, nil
}

// path maps a key to a file, refusing traversal outside the root.
func (s *FS) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("content: invalid key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *FS) Put(ctx context.Context, key string, data []byte, contentType string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("content: put %s: %w", key, err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("content: put %s: %w", key, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("content: put %s: %w", key, err)
	}
	return nil
}

func (s *FS) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("content: get %s: %w", key, err)
	}
	return data, nil
}

func (s *FS) GetRange(ctx context.Context, key string, start, end int64) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("content: range %s: %w", key, err)
	}
	defer f.Close()
	if end <= start {
		return nil, fmt.Errorf("content: range %s: empty interval [%d,%d)", key, start, end)
	}
	buf := make([]byte, end-start)
	n, err := f.ReadAt(buf, start)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("content: range %s: %w", key, err)
	}
	return buf[:n], nil
}

func (s *FS) Size(ctx context.Context, key string) (int64, error) {
	p, err := s.path(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("content: size %s: %w", key, err)
	}
	return info.Size(), nil
}

// uploadBackoff is the put retry schedule: five attempts spread over roughly
// fifteen minutes before the dead-letter queue takes over.
var uploadBackoff = []time.Duration{
	30 * time.Second, 60 * time.Second, 120 * time.Second, 240 * time.Second, 480 * time.Second,
}

// Retrying wraps a Store so Put survives transient failures. Reads pass
// through untouched.
type Retrying struct {
	Store
	// Sleep is swapped out in tests.
	Sleep func(context.Context, time.Duration) error
}

func WithRetry(s Store) *Retrying {
	return &Retrying{Store: s, Sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (r *Retrying) Put(ctx context.Context, key string, data []byte, contentType string) error {
	var lastErr error
	for attempt := 0; attempt <= len(uploadBackoff); attempt++ {
		if attempt > 0 {
			wait := uploadBackoff[attempt-1]
			log.Printf("[CONTENT] Put %s attempt %d failed, retrying in %v: %v", key, attempt, wait, lastErr)
			if err := r.Sleep(ctx, wait); err != nil {
				return fmt.Errorf("content: put %s: %w (last: %v)", key, err, lastErr)
			}
		}
		if lastErr = r.Store.Put(ctx, key, data, contentType); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("content: put %s exhausted retries: %w", key, lastErr)
}
