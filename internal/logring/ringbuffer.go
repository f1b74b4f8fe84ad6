// Package logring keeps the most recent log records in memory so the admin
// API can show them without reading log files.
package logring

import (
	"log/slog"
	"sync"
	"time"
)

// LogEntry represents a single log record stored in the ring buffer.
type LogEntry struct {
	Time    time.Time      `json:"time"`
	Level   slog.Level     `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Session returns the "session" attribute of the entry, if any.
func (e LogEntry) Session() string {
	s, _ := e.Attrs["session"].(string)
	return s
}

// Query filters Entries. Zero values match everything.
type Query struct {
	Limit    int
	MinLevel slog.Level
	Since    time.Time
	Session  string
}

func (q Query) match(e LogEntry) bool {
	if e.Level < q.MinLevel {
		return false
	}
	if !q.Since.IsZero() && e.Time.Before(q.Since) {
		return false
	}
	if q.Session != "" && e.Session() != q.Session {
		return false
	}
	return true
}

// RingBuffer is a fixed-size circular buffer of log entries.
// Thread-safe via sync.RWMutex.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	next    int // write position
	size    int // filled slots
}

// NewRingBuffer creates a buffer holding at most capacity entries.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{entries: make([]LogEntry, capacity)}
}

// Add stores entry, overwriting the oldest one when full.
func (rb *RingBuffer) Add(entry LogEntry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.entries[rb.next] = entry
	rb.next = (rb.next + 1) % len(rb.entries)
	if rb.size < len(rb.entries) {
		rb.size++
	}
}

// Entries returns matching entries, newest first.
func (rb *RingBuffer) Entries(q Query) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var result []LogEntry
	for i := 0; i < rb.size; i++ {
		if q.Limit > 0 && len(result) >= q.Limit {
			break
		}
		e := rb.entries[(rb.next-1-i+len(rb.entries))%len(rb.entries)]
		if q.match(e) {
			result = append(result, e)
		}
	}
	return result
}

// Len returns the number of entries currently held.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

// Cap returns the buffer capacity.
func (rb *RingBuffer) Cap() int {
	return len(rb.entries)
}
