package relay

import "sync/atomic"

// Stats counts channel connections and routed messages since start.
type Stats struct {
	active   atomic.Int64
	total    atomic.Int64
	messages atomic.Int64
	dropped  atomic.Int64
}

// TryAcquire reserves a connection slot unless max are already active.
func (s *Stats) TryAcquire(max int) bool {
	for {
		cur := s.active.Load()
		if cur >= int64(max) {
			return false
		}
		if s.active.CompareAndSwap(cur, cur+1) {
			s.total.Add(1)
			return true
		}
	}
}

// Release frees a slot taken by TryAcquire.
func (s *Stats) Release() {
	s.active.Add(-1)
}

func (s *Stats) incMessages() { s.messages.Add(1) }
func (s *Stats) incDropped()  { s.dropped.Add(1) }

// Active returns the number of connections currently holding a slot.
func (s *Stats) Active() int { return int(s.active.Load()) }

// Total returns the number of connections admitted since start.
func (s *Stats) Total() int64 { return s.total.Load() }

// Messages returns the number of inbound messages routed since start.
func (s *Stats) Messages() int64 { return s.messages.Load() }

// Dropped returns the number of inbound frames discarded since start.
func (s *Stats) Dropped() int64 { return s.dropped.Load() }
