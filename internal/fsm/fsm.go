// Package fsm implements the generic state-machine runtime shared by the
// SOCKS5 session and (conceptually) any other readiness-driven state
// machine: a table of numeric states, each carrying optional arrival,
// departure, and readiness hooks, advanced by events delivered from the
// reactor.
package fsm

import "fmt"

// State is one entry of a machine's state table. ID must equal the state's
// index in the table passed to New: state ids are correlative, which lets
// the runtime validate the table once at construction instead of on every
// dispatch.
//
// Hooks receive the opaque context T associated with the machine (normally
// a pointer to the owning session). A nil hook is valid for OnArrival and
// OnDeparture; a nil hook for the currently-dispatched readiness kind is a
// programmer error and panics.
type State[T any] struct {
	ID           uint32
	OnArrival    func(T)
	OnDeparture  func(T)
	OnReadReady  func(T) uint32
	OnWriteReady func(T) uint32
	OnBlockReady func(T) uint32
}

// Machine drives a single context T through a fixed State[T] table.
type Machine[T any] struct {
	states  []State[T]
	initial uint32
	current *State[T]
	started bool
}

// New validates the table (ids must equal index, initial must be in range)
// and returns a Machine positioned before its initial state. The first
// dispatch (Read, Write, or Block) fires OnArrival for the initial state
// before invoking its readiness hook.
func New[T any](states []State[T], initial uint32) *Machine[T] {
	for i, s := range states {
		if s.ID != uint32(i) {
			panic(fmt.Sprintf("fsm: state table misaligned at index %d (id %d)", i, s.ID))
		}
	}
	if int(initial) >= len(states) {
		panic("fsm: initial state out of range")
	}
	return &Machine[T]{states: states, initial: initial}
}

// State returns the id of the current state, or the initial state if the
// machine has not yet dispatched any event.
func (m *Machine[T]) State() uint32 {
	if m.current == nil {
		return m.initial
	}
	return m.current.ID
}

func (m *Machine[T]) handleFirst(ctx T) {
	if m.current == nil {
		m.current = &m.states[m.initial]
		m.started = true
		if m.current.OnArrival != nil {
			m.current.OnArrival(ctx)
		}
	}
}

// jump transitions to next, firing OnDeparture on the outgoing state and
// OnArrival on the incoming one — but only when next differs from current;
// no hooks fire on a self-transition.
func (m *Machine[T]) jump(ctx T, next uint32) {
	if int(next) >= len(m.states) {
		panic(fmt.Sprintf("fsm: transition to out-of-range state %d", next))
	}
	if m.current == &m.states[next] {
		return
	}
	if m.current != nil && m.current.OnDeparture != nil {
		m.current.OnDeparture(ctx)
	}
	m.current = &m.states[next]
	if m.current.OnArrival != nil {
		m.current.OnArrival(ctx)
	}
}

// HandleRead dispatches a READ readiness event to the current state
// (firing OnArrival first on initial entry) and applies the transition the
// hook returns.
func (m *Machine[T]) HandleRead(ctx T) uint32 {
	m.handleFirst(ctx)
	if m.current.OnReadReady == nil {
		panic(fmt.Sprintf("fsm: state %d has no OnReadReady hook", m.current.ID))
	}
	next := m.current.OnReadReady(ctx)
	m.jump(ctx, next)
	return next
}

// HandleWrite dispatches a WRITE readiness event, symmetric to HandleRead.
func (m *Machine[T]) HandleWrite(ctx T) uint32 {
	m.handleFirst(ctx)
	if m.current.OnWriteReady == nil {
		panic(fmt.Sprintf("fsm: state %d has no OnWriteReady hook", m.current.ID))
	}
	next := m.current.OnWriteReady(ctx)
	m.jump(ctx, next)
	return next
}

// HandleBlock dispatches a BLOCK readiness event (a notify_block wakeup),
// symmetric to HandleRead.
func (m *Machine[T]) HandleBlock(ctx T) uint32 {
	m.handleFirst(ctx)
	if m.current.OnBlockReady == nil {
		panic(fmt.Sprintf("fsm: state %d has no OnBlockReady hook", m.current.ID))
	}
	next := m.current.OnBlockReady(ctx)
	m.jump(ctx, next)
	return next
}

// Force transitions directly to next without invoking any readiness hook —
// only the departure/arrival pair for the states involved. Used when an
// event observed off a different fd than the one the current state's hook
// is defined against (e.g. the origin fd closing during COPY) must still
// move the machine along.
func (m *Machine[T]) Force(ctx T, next uint32) {
	m.handleFirst(ctx)
	m.jump(ctx, next)
}

// Close fires the current state's OnDeparture hook, if the machine has
// started and the hook is set. Each call fires it again.
func (m *Machine[T]) Close(ctx T) {
	if m.current != nil && m.current.OnDeparture != nil {
		m.current.OnDeparture(ctx)
	}
}
