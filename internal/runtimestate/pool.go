package runtimestate

import "github.com/bits-and-blooms/bitset"

// Pool is a bounded, pre-allocated free-list of session objects. Checkout
// runs resetFn on the slot, when one was given. Acquire fails once every
// slot is checked out; the pool never allocates beyond its capacity, and
// the listeners in cmd/socks5d close a connection that finds the pool
// full rather than allocating a session outside it.
type Pool[T any] struct {
	slots    []T
	occupied *bitset.BitSet
	resetFn  func(T)
}

// NewPool preallocates capacity objects via newFn and returns a Pool ready
// for Acquire/Release. newFn receives each slot's fixed index, so a caller
// whose objects need to report their own release (e.g. via an
// OnTornDown-style callback) can close over it once at construction time —
// a slot's index never changes for the life of the pool.
func NewPool[T any](capacity int, newFn func(index int) T, resetFn func(T)) *Pool[T] {
	slots := make([]T, capacity)
	for i := range slots {
		slots[i] = newFn(i)
	}
	return &Pool[T]{
		slots:    slots,
		occupied: bitset.New(uint(capacity)),
		resetFn:  resetFn,
	}
}

// Acquire returns the next free slot, its index, and true — or the zero
// value, -1, and false if the pool is at capacity.
func (p *Pool[T]) Acquire() (T, int, bool) {
	idx, ok := p.occupied.NextClear(0)
	if !ok || int(idx) >= len(p.slots) {
		var zero T
		return zero, -1, false
	}
	p.occupied.Set(idx)
	obj := p.slots[idx]
	if p.resetFn != nil {
		p.resetFn(obj)
	}
	return obj, int(idx), true
}

// Release returns slot idx to the pool. idx must have come from a prior
// Acquire on this Pool; releasing an already-free slot is a no-op.
func (p *Pool[T]) Release(idx int) {
	if idx < 0 || uint(idx) >= p.occupied.Len() {
		return
	}
	p.occupied.Clear(uint(idx))
}

// InUse reports how many slots are currently checked out.
func (p *Pool[T]) InUse() int {
	return int(p.occupied.Count())
}

// Cap reports the pool's fixed capacity.
func (p *Pool[T]) Cap() int {
	return len(p.slots)
}
