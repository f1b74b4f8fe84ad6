package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// DefaultIntensity is the neutral value every intensity field starts with.
const DefaultIntensity = "medium"

// ErrNotFound is returned by a Store when no record exists for a session id.
var ErrNotFound = errors.New("session not found")

// Session is the durable preference record shared by both participants.
type Session struct {
	ID          string    `json:"id"`
	ClientName  string    `json:"client_name"`
	Pressure    string    `json:"pressure"`
	Speed       string    `json:"speed"`
	Depth       string    `json:"depth"`
	FocusZones  []string  `json:"focus_zones"`
	IgnoreZones []string  `json:"ignore_zones"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// New returns a record with a fresh id and neutral preferences.
func New(clientName string, now time.Time) Session {
	now = now.UTC()
	return Session{
		ID:          uuid.NewString(),
		ClientName:  clientName,
		Pressure:    DefaultIntensity,
		Speed:       DefaultIntensity,
		Depth:       DefaultIntensity,
		FocusZones:  []string{},
		IgnoreZones: []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy so callers never share zone slices with a store.
func (s Session) Clone() Session {
	c := s
	c.FocusZones = cloneZones(s.FocusZones)
	c.IgnoreZones = cloneZones(s.IgnoreZones)
	return c
}

func cloneZones(z []string) []string {
	out := make([]string, len(z))
	copy(out, z)
	return out
}

// NextUpdateTime returns now, or a timestamp just past prev when the clock
// has not advanced, so updated_at is strictly increasing per record.
func NextUpdateTime(prev, now time.Time) time.Time {
	now = now.UTC()
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}

// Store is the durable document store keyed by session id.
type Store interface {
	Create(ctx context.Context, s Session) (Session, error)
	// Get returns ErrNotFound when the id has no record.
	Get(ctx context.Context, id string) (Session, error)
	// Update merges the present fields of p into the record and stamps
	// UpdatedAt. Returns ErrNotFound when the id has no record.
	Update(ctx context.Context, id string, p Preferences) (Session, error)
	Ping(ctx context.Context) error
	Close() error
}
