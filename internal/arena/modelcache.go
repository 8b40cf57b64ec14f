package arena

import (
	"container/list"
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/rawlclub/backend/internal/content"
)

// modelCacheSize bounds resident policies per worker process.
const modelCacheSize = 16

// PolicyLoader turns fetched model bytes into a runnable Policy.
type PolicyLoader func(ctx context.Context, ref string, data []byte) (Policy, error)

// ModelCache is an LRU of loaded policies keyed by content-store ref. Refs
// outside the trusted prefixes are refused before any bytes move.
type ModelCache struct {
	store  content.Store
	load   PolicyLoader
	cap    int
	mu     sync.Mutex
	order  *list.List // front = most recent
	byRef  map[string]*list.Element
}

type cacheEntry struct {
	ref    string
	policy Policy
}

func NewModelCache(store content.Store, load PolicyLoader) *ModelCache {
	return &ModelCache{
		store: store,
		load:  load,
		cap:   modelCacheSize,
		order: list.New(),
		byRef: make(map[string]*list.Element),
	}
}

// Load returns the policy for ref, fetching and constructing it on a miss.
func (c *ModelCache) Load(ctx context.Context, ref string) (Policy, error) {
	if !content.TrustedModelRef(ref) {
		return nil, fmt.Errorf("arena: untrusted model ref %q", ref)
	}

	c.mu.Lock()
	if el, ok := c.byRef[ref]; ok {
		c.order.MoveToFront(el)
		p := el.Value.(*cacheEntry).policy
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	data, err := c.store.Get(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("arena: fetch model %s: %w", ref, err)
	}
	policy, err := c.load(ctx, ref, data)
	if err != nil {
		return nil, fmt.Errorf("arena: load model %s: %w", ref, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.byRef[ref]; ok {
		// Raced with another loader; keep the first one in.
		c.order.MoveToFront(el)
		return el.Value.(*cacheEntry).policy, nil
	}
	c.byRef[ref] = c.order.PushFront(&cacheEntry{ref: ref, policy: policy})
	for c.order.Len() > c.cap {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		evicted := oldest.Value.(*cacheEntry)
		delete(c.byRef, evicted.ref)
		log.Printf("[ARENA] model cache evicted %s", evicted.ref)
	}
	return policy, nil
}

// Len reports resident entries, for the health surface.
func (c *ModelCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
