package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cortexuvula/massagesync/internal/metrics"
	"github.com/cortexuvula/massagesync/internal/protocol"
	"github.com/cortexuvula/massagesync/internal/session"
)

// Result reports what Route did with one inbound message.
type Result struct {
	Persisted  bool
	Deliveries []Delivery
}

// Router maps an inbound message and its sender to at most one store
// mutation and one broadcast. Both the channel path (Route) and the request
// path (UpdatePreferences) persist through the same call.
type Router struct {
	Registry *Registry
	Store    session.Store
	Metrics  *metrics.Metrics // optional, nil if metrics disabled
}

// NewRouter creates a router over a registry and a store.
func NewRouter(reg *Registry, st session.Store) *Router {
	return &Router{Registry: reg, Store: st}
}

// Route dispatches msg from (sessionID, sender). Every kind is relayed to
// the other roles unchanged; preferences_update is persisted first.
// An error means nothing was broadcast.
func (rt *Router) Route(ctx context.Context, sessionID, sender string, msg protocol.Message) (Result, error) {
	var res Result

	switch msg.Kind {
	case protocol.KindPreferencesUpdate:
		patch, err := msg.Preferences()
		if err != nil {
			return res, err
		}
		_, err = rt.persist(ctx, sessionID, patch)
		switch {
		case err == nil:
			res.Persisted = true
		case errors.Is(err, session.ErrNotFound):
			// Nothing durable to update; the frame is still relayed.
			slog.Debug("router: preferences_update for unknown session", "session", sessionID, "role", sender)
		default:
			return res, err
		}
	case protocol.KindLiveFeedback, protocol.KindSessionData, protocol.KindPreferencesUpdated, protocol.KindPassthrough:
		// Relay only.
	}

	if rt.Metrics != nil {
		rt.Metrics.MessagesTotal.WithLabelValues(msg.Kind.String()).Inc()
	}
	res.Deliveries = rt.broadcast(ctx, sessionID, msg.Raw, sender)
	return res, nil
}

// UpdatePreferences is the request-driven preference update. It persists p
// and then tells every attached role with a preferences_updated frame.
func (rt *Router) UpdatePreferences(ctx context.Context, sessionID string, p session.Preferences) (session.Session, error) {
	rec, err := rt.persist(ctx, sessionID, p)
	if err != nil {
		return session.Session{}, err
	}

	frame, err := protocol.PreferencesUpdated(p, rec.UpdatedAt)
	if err != nil {
		return rec, fmt.Errorf("encoding preferences_updated: %w", err)
	}
	rt.broadcast(ctx, sessionID, frame, "")
	return rec, nil
}

// Snapshot sends the stored record to one role as session_data.
func (rt *Router) Snapshot(ctx context.Context, sessionID, role string) (Outcome, error) {
	rec, err := rt.Store.Get(ctx, sessionID)
	if err != nil {
		return Absent, fmt.Errorf("loading snapshot: %w", err)
	}
	frame, err := protocol.SessionData(rec)
	if err != nil {
		return Failed, fmt.Errorf("encoding snapshot: %w", err)
	}
	out := rt.Registry.SendTo(ctx, sessionID, role, frame)
	rt.countDelivery(out)
	return out, nil
}

// persist is the single write path for preference updates.
func (rt *Router) persist(ctx context.Context, sessionID string, p session.Preferences) (session.Session, error) {
	rec, err := rt.Store.Update(ctx, sessionID, p)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return session.Session{}, err
		}
		if rt.Metrics != nil {
			rt.Metrics.ErrorsTotal.WithLabelValues("store_update").Inc()
		}
		return session.Session{}, fmt.Errorf("updating preferences for %s: %w", sessionID, err)
	}
	return rec, nil
}

func (rt *Router) broadcast(ctx context.Context, sessionID string, payload []byte, exclude string) []Delivery {
	deliveries := rt.Registry.Broadcast(ctx, sessionID, payload, exclude)
	for _, d := range deliveries {
		rt.countDelivery(d.Outcome)
	}
	return deliveries
}

func (rt *Router) countDelivery(o Outcome) {
	if rt.Metrics != nil {
		rt.Metrics.DeliveriesTotal.WithLabelValues(o.String()).Inc()
	}
}
