package content

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTrustedModelRef(t *testing.T) {
	cases := []struct {
		ref  string
		want bool
	}{
		{"models/abc123", true},
		{"pretrained/sf2-base", true},
		{"reference/cal-1500", true},
		{"replays/evil", false},
		{"../models/escape", false},
		{"", false},
		{"model/sneaky", false},
	}
	for _, c := range cases {
		if got := TrustedModelRef(c.ref); got != c.want {
			t.Errorf("TrustedModelRef(%q) = %v, want %v", c.ref, got, c.want)
		}
	}
}

func TestFSPutGetRoundTrip(t *testing.T) {
	store, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	data := []byte("jpeg bytes here")
	if err := store.Put(ctx, "replays/m1.mjpeg", data, "video/x-motion-jpeg"); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := store.Get(ctx, "replays/m1.mjpeg")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("round trip mismatch")
	}
	size, err := store.Size(ctx, "replays/m1.mjpeg")
	if err != nil || size != int64(len(data)) {
		t.Errorf("size: got %d, %v", size, err)
	}
}

func TestFSGetRangeHalfOpen(t *testing.T) {
	store, _ := NewFS(t.TempDir())
	ctx := context.Background()
	store.Put(ctx, "k", []byte("0123456789"), "application/octet-stream")

	got, err := store.GetRange(ctx, "k", 2, 5)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if string(got) != "234" {
		t.Errorf("range [2,5): got %q, want \"234\"", got)
	}
}

func TestFSMissingKey(t *testing.T) {
	store, _ := NewFS(t.TempDir())
	ctx := context.Background()
	if _, err := store.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get missing: got %v, want ErrNotFound", err)
	}
	if _, err := store.Size(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("size missing: got %v, want ErrNotFound", err)
	}
}

func TestFSRejectsTraversal(t *testing.T) {
	store, _ := NewFS(t.TempDir())
	ctx := context.Background()
	if err := store.Put(ctx, "../escape", []byte("x"), ""); err == nil {
		t.Fatal("expected traversal rejection")
	}
}

// flaky fails n times before succeeding.
type flaky struct {
	Store
	failures int
	puts     int
}

func (f *flaky) Put(ctx context.Context, key string, data []byte, ct string) error {
	f.puts++
	if f.puts <= f.failures {
		return errors.New("transient")
	}
	return f.Store.Put(ctx, key, data, ct)
}

func TestRetryingPutRecovers(t *testing.T) {
	fs, _ := NewFS(t.TempDir())
	f := &flaky{Store: fs, failures: 3}
	r := WithRetry(f)
	var slept []time.Duration
	r.Sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	if err := r.Put(context.Background(), "k", []byte("x"), ""); err != nil {
		t.Fatalf("put: %v", err)
	}
	want := []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("slept %v, want %v", slept, want)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Errorf("backoff %d: got %v, want %v", i, slept[i], want[i])
		}
	}
}

func TestRetryingPutExhausts(t *testing.T) {
	fs, _ := NewFS(t.TempDir())
	f := &flaky{Store: fs, failures: 100}
	r := WithRetry(f)
	r.Sleep = func(ctx context.Context, d time.Duration) error { return nil }

	if err := r.Put(context.Background(), "k", []byte("x"), ""); err == nil {
		t.Fatal("expected exhaustion error")
	}
	if f.puts != 6 {
		t.Errorf("attempts: got %d, want 6 (1 + 5 retries)", f.puts)
	}
}
