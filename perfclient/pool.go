package perfclient

import "sync"

// objectPool is a free-list allocator shared by every connection
// goroutine a Worker spawns. A worker can have several connections
// mid-handshake at once (RepeatConnections keeps ConnectionCount of
// them in flight for the whole run), so unlike a true per-goroutine
// arena this needs its own lock; the payoff is still avoiding a fresh
// heap allocation per connection on a run that opens millions of them.
type objectPool[T any] struct {
	new func() *T

	mu   sync.Mutex
	free []*T
}

func newObjectPool[T any](newFn func() *T) *objectPool[T] {
	return &objectPool[T]{new: newFn}
}

func (p *objectPool[T]) Alloc() *T {
	p.mu.Lock()
	n := len(p.free)
	if n == 0 {
		p.mu.Unlock()
		return p.new()
	}
	v := p.free[n-1]
	p.free = p.free[:n-1]
	p.mu.Unlock()
	return v
}

func (p *objectPool[T]) Free(v *T) {
	p.mu.Lock()
	p.free = append(p.free, v)
	p.mu.Unlock()
}
