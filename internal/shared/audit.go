package shared

import (
	"context"
	"errors"
	"time"
)

// SessionEventKind names a lifecycle transition of a portal session.
type SessionEventKind string

// Session lifecycle transitions.
const (
	SessionEventLogin            SessionEventKind = "login"
	SessionEventLogout           SessionEventKind = "logout"
	SessionEventIdleExpired      SessionEventKind = "idle_expired"
	SessionEventInvalidated      SessionEventKind = "invalidated"
	SessionEventTenantSwitched   SessionEventKind = "tenant_switched"
	SessionEventSuperAdminLogin  SessionEventKind = "super_admin_login"
	SessionEventSuperAdminLogout SessionEventKind = "super_admin_logout"
)

// SessionEvent is one audit record of a portal session.
type SessionEvent struct {
	SessionID  string           `json:"session_id"`
	Kind       SessionEventKind `json:"kind"`
	Tenant     string           `json:"tenant,omitempty"`
	UserID     int64            `json:"user_id,omitempty"`
	Email      string           `json:"email,omitempty"`
	RemoteAddr string           `json:"remote_addr,omitempty"`
	UserAgent  string           `json:"user_agent,omitempty"`
	Meta       map[string]any   `json:"meta,omitempty"`
	At         time.Time        `json:"at"`
}

// Validate checks the fields every record needs.
func (e SessionEvent) Validate() error {
	if e.SessionID == "" || e.Kind == "" {
		return errors.New("session event requires session_id/kind")
	}
	return nil
}

// SessionEventPublisher hands session events to the audit pipeline.
type SessionEventPublisher interface {
	Publish(ctx context.Context, ev SessionEvent) error
}

// PublisherFunc adapts a function to SessionEventPublisher.
type PublisherFunc func(ctx context.Context, ev SessionEvent) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, ev SessionEvent) error {
	return f(ctx, ev)
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish discards ev.
func (NopPublisher) Publish(context.Context, SessionEvent) error { return nil }
