package report

import (
	"context"
	"sync"
)

// pool runs report executions on a fixed number of workers fed from an
// unbounded intake queue. Submission never blocks the caller; execution
// concurrency stays at one report per worker slot.
type pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []string
	closed bool
	wg     sync.WaitGroup
}

func newPool(ctx context.Context, workers int, run func(context.Context, string)) *pool {
	if workers <= 0 {
		workers = 1
	}
	p := &pool{}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				id, ok := p.next()
				if !ok {
					return
				}
				run(ctx, id)
			}
		}()
	}
	return p
}

// next blocks until work is available or the pool is shut down and drained.
func (p *pool) next() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.queue) == 0 {
		return "", false
	}
	id := p.queue[0]
	p.queue = p.queue[1:]
	return id, true
}

// submit never blocks. Work submitted after shutdown is dropped; the
// report stays PENDING and can be re-run explicitly.
func (p *pool) submit(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.queue = append(p.queue, id)
	p.cond.Signal()
}

// shutdown stops intake, lets the workers drain the queue and waits for
// in-flight work.
func (p *pool) shutdown() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}

// cancelSet tracks best-effort cancellation requests for running reports.
type cancelSet struct {
	mu  sync.Mutex
	ids map[string]bool
}

func newCancelSet() *cancelSet {
	return &cancelSet{ids: make(map[string]bool)}
}

func (c *cancelSet) set(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[id] = true
}

func (c *cancelSet) has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ids[id]
}

func (c *cancelSet) clear(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.ids, id)
}
