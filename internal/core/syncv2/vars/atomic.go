package vars

import (
	"errors"
	"sync/atomic"
)

// ErrClosed is returned by Set once the value has been closed.
var ErrClosed = errors.New("atomic value is closed")

// snapshot is one published state of an AtomicValue. It is never mutated after
// being stored, so a loaded snapshot is always internally consistent.
type snapshot[T any] struct {
	value   T
	version uint64
	closed  bool
}

// AtomicValue is a single-slot, last-write-wins cell for values of any size.
//
// Every Set publishes a fresh snapshot through one pointer, so readers see
// either the previous or the next complete value and never a mix of fields
// from two writes. Get and Set never block: Get is a single atomic load and
// Set is a CAS loop that only retries when another Set or Close won the race.
type AtomicValue[T any] struct {
	current atomic.Pointer[snapshot[T]]
}

// NewAtomicValue creates a new AtomicValue with the given initial value
func NewAtomicValue[T any](initialValue T) *AtomicValue[T] {
	a := &AtomicValue[T]{}
	a.current.Store(&snapshot[T]{value: initialValue, version: 1})
	return a
}

// Get returns the most recently published value. After Close it keeps
// returning the final value.
func (a *AtomicValue[T]) Get() T {
	return a.current.Load().value
}

// Set publishes value, replacing whatever was stored before.
func (a *AtomicValue[T]) Set(value T) error {
	for {
		cur := a.current.Load()
		if cur.closed {
			return ErrClosed
		}
		next := &snapshot[T]{value: value, version: cur.version + 1}
		if a.current.CompareAndSwap(cur, next) {
			return nil
		}
	}
}

// Load returns the current value together with its version.
func (a *AtomicValue[T]) Load() (T, uint64) {
	cur := a.current.Load()
	return cur.value, cur.version
}

// Version returns the current version number. It starts at 1 and grows by one
// on every successful Set.
func (a *AtomicValue[T]) Version() uint64 {
	return a.current.Load().version
}

// Close tombstones the value. Any Set that has not completed by the time Close
// returns fails with ErrClosed. Close is idempotent.
func (a *AtomicValue[T]) Close() {
	for {
		cur := a.current.Load()
		if cur.closed {
			return
		}
		tomb := &snapshot[T]{value: cur.value, version: cur.version, closed: true}
		if a.current.CompareAndSwap(cur, tomb) {
			return
		}
	}
}

// IsClosed reports whether Close has been called.
func (a *AtomicValue[T]) IsClosed() bool {
	return a.current.Load().closed
}
