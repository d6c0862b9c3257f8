package fetcher

import (
	"context"
	"sync"

	"github.com/temoto/robotstxt"
)

// robotsCache holds one parsed policy per origin. The first caller for an
// origin loads it; concurrent callers wait for that load.
type robotsCache struct {
	mu      sync.Mutex
	entries map[string]*robotsEntry
}

type robotsEntry struct {
	done chan struct{}
	data *robotstxt.RobotsData
	err  error
}

func newRobotsCache() *robotsCache {
	return &robotsCache{entries: make(map[string]*robotsEntry)}
}

func (c *robotsCache) get(ctx context.Context, origin string, load func(context.Context) (*robotstxt.RobotsData, error)) (*robotstxt.RobotsData, error) {
	c.mu.Lock()
	e, ok := c.entries[origin]
	if !ok {
		e = &robotsEntry{done: make(chan struct{})}
		c.entries[origin] = e
	}
	c.mu.Unlock()

	if ok {
		select {
		case <-e.done:
			return e.data, e.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	e.data, e.err = load(ctx)
	if e.err != nil {
		// let the next caller try again
		c.mu.Lock()
		delete(c.entries, origin)
		c.mu.Unlock()
	}
	close(e.done)
	return e.data, e.err
}

func (c *robotsCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*robotsEntry)
}
