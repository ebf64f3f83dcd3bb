// Package history keeps the latest sensor reading plus a bounded FIFO
// buffer of past readings for charting.
package history

import (
	"sync"

	"github.com/espnode/sensorbridge/reading"
)

// DefaultCapacity keeps two minutes of history at one reading per second,
// the depth dashboards chart by default.
const DefaultCapacity = 120

// Store is safe for one writer and any number of concurrent readers. A
// single mutex guards the latest slot, the buffer and the sequence counter,
// so a Snapshot is always consistent as of one instant.
type Store struct {
	mu       sync.Mutex
	capacity int
	latest   *reading.Reading
	buf      []reading.Reading // ring, len(buf) <= capacity
	head     int               // index of the oldest entry once full
	seq      uint64
}

// Snapshot is a point-in-time copy of the store. Seq increments on every
// mutation, so pollers can detect change without comparing readings.
type Snapshot struct {
	Latest  *reading.Reading
	History []reading.Reading
	Seq     uint64
}

// New creates a Store holding at most capacity readings. A non-positive
// capacity falls back to DefaultCapacity.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		buf:      make([]reading.Reading, 0, capacity),
	}
}

// Apply replaces the latest slot and appends r to the history, evicting the
// oldest entry once the buffer is at capacity. Insertion order is arrival
// order; this is the only mutation path for readings.
func (s *Store) Apply(r *reading.Reading) {
	if r == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := r.Clone()
	s.latest = &cp
	if len(s.buf) < s.capacity {
		s.buf = append(s.buf, cp)
	} else {
		s.buf[s.head] = cp
		s.head = (s.head + 1) % s.capacity
	}
	s.seq++
}

// Snapshot copies latest and history under the lock and returns them. The
// lock is held only for the copy, never while the caller inspects the
// result. Each reading's Raw map is cloned at the top level so a caller
// cannot corrupt the stored diagnostics; nested Raw values remain shared
// and must be treated as read-only.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Snapshot{Seq: s.seq}
	if s.latest != nil {
		cp := s.latest.Clone()
		out.Latest = &cp
	}
	out.History = make([]reading.Reading, 0, len(s.buf))
	for _, r := range s.buf[s.head:] {
		out.History = append(out.History, r.Clone())
	}
	for _, r := range s.buf[:s.head] {
		out.History = append(out.History, r.Clone())
	}
	return out
}

// Clear empties the history. The latest slot survives: an operator reset
// clears the chart, not the current values.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = s.buf[:0]
	s.head = 0
	s.seq++
}
