package handlers

import (
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rawlclub/backend/internal/content"
)

type memStore struct {
	objects map[string][]byte
}

func (m *memStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	m.objects[key] = data
	return nil
}

func (m *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, content.ErrNotFound
	}
	return data, nil
}

func (m *memStore) GetRange(ctx context.Context, key string, start, end int64) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, content.ErrNotFound
	}
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return data[start:end], nil
}

func (m *memStore) Size(ctx context.Context, key string) (int64, error) {
	data, ok := m.objects[key]
	if !ok {
		return 0, content.ErrNotFound
	}
	return int64(len(data)), nil
}

// replayFixture stores a three-frame replay with frames "AA", "BBB", "CCCC".
func replayFixture(t *testing.T) (*memStore, uuid.UUID) {
	t.Helper()
	id := uuid.New()
	video := []byte("AABBBCCCC")
	idx := make([]byte, 24)
	binary.LittleEndian.PutUint64(idx[0:], 0)
	binary.LittleEndian.PutUint64(idx[8:], 2)
	binary.LittleEndian.PutUint64(idx[16:], 5)
	return &memStore{objects: map[string][]byte{
		"replays/" + id.String() + ".mjpeg": video,
		"replays/" + id.String() + ".idx":   idx,
	}}, id
}

func frameRequest(store content.Store, path string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/replays/:id/frames", ReplayFrames(store))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestReplayFramesRanges(t *testing.T) {
	store, id := replayFixture(t)
	base := "/replays/" + id.String() + "/frames"

	cases := []struct {
		name  string
		query string
		want  string
	}{
		{"all frames", "?from=0&to=2", "AABBBCCCC"},
		{"middle frame", "?from=1&to=1", "BBB"},
		{"tail frame bounded by video size", "?from=2&to=2", "CCCC"},
		{"to clamped to last frame", "?from=1&to=99", "BBBCCCC"},
		{"defaults serve from zero", "", "AABBBCCCC"},
	}
	for _, c := range cases {
		w := frameRequest(store, base+c.query)
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, body %s", c.name, w.Code, w.Body.String())
			continue
		}
		if got := w.Body.String(); got != c.want {
			t.Errorf("%s: body = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestReplayFramesOutOfBounds(t *testing.T) {
	store, id := replayFixture(t)
	w := frameRequest(store, "/replays/"+id.String()+"/frames?from=3")
	if w.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Errorf("status = %d, want 416", w.Code)
	}
}

func TestReplayFramesMissingReplay(t *testing.T) {
	store := &memStore{objects: map[string][]byte{}}
	w := frameRequest(store, "/replays/"+uuid.NewString()+"/frames")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestReplayFramesBadParams(t *testing.T) {
	store, id := replayFixture(t)
	for _, q := range []string{"?from=-1", "?from=2&to=1", "?from=0&to=1000"} {
		w := frameRequest(store, "/replays/"+id.String()+"/frames"+q)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, w.Code)
		}
	}
}
