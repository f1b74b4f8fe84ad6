// Package hub coordinates live session channels: the Registry tracks which
// roles are attached to which session and the Router decides what an inbound
// message does.
package hub

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Channel is the send side of a participant's live connection.
// Implementations must be safe for concurrent Send calls and comparable
// (pointer types) so Release can match the current holder.
type Channel interface {
	Send(ctx context.Context, payload []byte) error
}

// Outcome is the result of a send to one role.
type Outcome int

const (
	Delivered Outcome = iota
	Absent
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Absent:
		return "absent"
	default:
		return "failed"
	}
}

// Delivery is the per-recipient result of a broadcast.
type Delivery struct {
	Role    string
	Outcome Outcome
	Err     error
}

// Registry tracks live channels per session, keyed by role.
// Thread-safe via sync.RWMutex.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]Channel
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[string]Channel),
	}
}

// Attach records ch as the live channel for (sessionID, role). Any earlier
// channel for the same pair is forgotten without being notified.
func (r *Registry) Attach(sessionID, role string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[sessionID] == nil {
		r.sessions[sessionID] = make(map[string]Channel)
	}
	r.sessions[sessionID][role] = ch
	slog.Debug("registry: attached", "session", sessionID, "role", role)
}

// Detach removes (sessionID, role). The session entry goes away with its
// last role. No-op if absent.
func (r *Registry) Detach(sessionID, role string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detachLocked(sessionID, role)
}

// Release detaches (sessionID, role) only while ch is still its live
// channel. Returns false when ch was superseded or already gone.
func (r *Registry) Release(sessionID, role string, ch Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.sessions[sessionID][role]; !ok || cur != ch {
		return false
	}
	r.detachLocked(sessionID, role)
	return true
}

func (r *Registry) detachLocked(sessionID, role string) {
	roles := r.sessions[sessionID]
	if roles == nil {
		return
	}
	if _, ok := roles[role]; !ok {
		return
	}
	delete(roles, role)
	if len(roles) == 0 {
		delete(r.sessions, sessionID)
	}
	slog.Debug("registry: detached", "session", sessionID, "role", role)
}

// Lookup returns the live channel for (sessionID, role).
func (r *Registry) Lookup(sessionID, role string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.sessions[sessionID][role]
	return ch, ok
}

// SendTo delivers payload to one role. The lock is not held while writing.
func (r *Registry) SendTo(ctx context.Context, sessionID, role string, payload []byte) Outcome {
	ch, ok := r.Lookup(sessionID, role)
	if !ok {
		return Absent
	}
	if err := ch.Send(ctx, payload); err != nil {
		slog.Debug("registry: send failed", "session", sessionID, "role", role, "error", err)
		return Failed
	}
	return Delivered
}

// Broadcast sends payload to every role attached to sessionID except
// exclude ("" excludes nobody). Targets are snapshotted under RLock and
// written without holding the lock; a failed write does not stop the rest.
func (r *Registry) Broadcast(ctx context.Context, sessionID string, payload []byte, exclude string) []Delivery {
	type target struct {
		role string
		ch   Channel
	}

	r.mu.RLock()
	roles := r.sessions[sessionID]
	targets := make([]target, 0, len(roles))
	for role, ch := range roles {
		if role != exclude {
			targets = append(targets, target{role, ch})
		}
	}
	r.mu.RUnlock()

	deliveries := make([]Delivery, 0, len(targets))
	for _, t := range targets {
		d := Delivery{Role: t.role, Outcome: Delivered}
		if err := t.ch.Send(ctx, payload); err != nil {
			slog.Debug("registry: broadcast write failed", "session", sessionID, "role", t.role, "error", err)
			d.Outcome = Failed
			d.Err = err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries
}

// Roles returns the attached roles of a session, sorted.
func (r *Registry) Roles(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roles := make([]string, 0, len(r.sessions[sessionID]))
	for role := range r.sessions[sessionID] {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

// Sessions returns every live session id with its sorted roles.
func (r *Registry) Sessions() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string, len(r.sessions))
	for id, roles := range r.sessions {
		list := make([]string, 0, len(roles))
		for role := range roles {
			list = append(list, role)
		}
		sort.Strings(list)
		out[id] = list
	}
	return out
}

// SessionCount returns the number of sessions with at least one role.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ConnectionCount returns the number of attached channels across sessions.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, roles := range r.sessions {
		n += len(roles)
	}
	return n
}
