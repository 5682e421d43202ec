// Package shell assembles the per-browser-session services: credential
// store, API client, session store and idle monitor.
package shell

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/synod-schools/portal/internal/apiclient"
	"github.com/synod-schools/portal/internal/credential"
	"github.com/synod-schools/portal/internal/idle"
	"github.com/synod-schools/portal/internal/observability"
	"github.com/synod-schools/portal/internal/session"
	"github.com/synod-schools/portal/internal/shared"
)

// Shell is the set of services bound to one browser session.
type Shell struct {
	ID          string
	Credentials credential.Store
	API         *apiclient.Client
	Session     *session.Store

	idle      *idle.Registry
	publisher shared.SessionEventPublisher
	metrics   *observability.Metrics
	logger    *slog.Logger

	mu          sync.Mutex
	navigateTo  string
	lastTenant  string
	lastUser    int64
	lastEmail   string
	unsubscribe func()
	closed      bool
}

// Navigation returns the pending navigation target without consuming it.
func (s *Shell) Navigation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.navigateTo
}

// TakeNavigation returns and clears the pending navigation target.
func (s *Shell) TakeNavigation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	target := s.navigateTo
	s.navigateTo = ""
	return target
}

// Touch reports user activity to the idle monitor.
func (s *Shell) Touch(sig idle.Signal) bool {
	return s.idle.Touch(s.ID, sig)
}

// IdleDeadline returns when the session expires without further activity.
func (s *Shell) IdleDeadline() time.Time {
	if m, ok := s.idle.Lookup(s.ID); ok {
		return m.Deadline()
	}
	return time.Time{}
}

// SuperAdmin reports whether a platform token is stored.
func (s *Shell) SuperAdmin(ctx context.Context) bool {
	cred, err := s.Credentials.Get(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "read platform token", slog.Any("error", err))
		return false
	}
	return cred.SuperAdminToken != ""
}

// Record publishes a lifecycle event for this session.
func (s *Shell) Record(ctx context.Context, ev shared.SessionEvent) {
	ev.SessionID = s.ID
	if client, ok := shared.ClientFromContext(ctx); ok {
		if ev.RemoteAddr == "" {
			ev.RemoteAddr = client.RemoteAddr
		}
		if ev.UserAgent == "" {
			ev.UserAgent = client.UserAgent
		}
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	s.metrics.SessionEvent(string(ev.Kind))
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "publish session event",
			slog.String("kind", string(ev.Kind)),
			slog.Any("error", err))
	}
}

func (s *Shell) navigate(path string) {
	s.mu.Lock()
	s.navigateTo = path
	s.mu.Unlock()
}

func (s *Shell) armIdle() {
	s.idle.Acquire(s.ID, s.expire)
}

// expire runs when the idle deadline passes: full logout and a trip to the login page.
func (s *Shell) expire() {
	ctx := context.Background()
	tenant, userID, email := s.lastSeen()
	if err := s.Session.Logout(ctx); err != nil {
		s.logger.ErrorContext(ctx, "idle logout", slog.Any("error", err))
	}
	s.navigate(session.LoginPath)
	s.logger.InfoContext(ctx, "session idle expired", slog.String("tenant", tenant))
	s.Record(ctx, shared.SessionEvent{Kind: shared.SessionEventIdleExpired, Tenant: tenant, UserID: userID, Email: email})
}

func (s *Shell) onSessionEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventIdentityChanged:
		if ev.State != session.StateAuthenticated || ev.Identity == nil {
			return
		}
		cred, err := s.Credentials.Get(context.Background())
		if err != nil {
			s.logger.Warn("read credential after identity load", slog.Any("error", err))
		}
		s.mu.Lock()
		s.lastTenant = cred.Tenant
		s.lastUser = ev.Identity.ID
		s.lastEmail = ev.Identity.Email
		s.navigateTo = ""
		s.mu.Unlock()
		s.armIdle()
	case session.EventLoggedOut:
		s.idle.Release(s.ID)
		if ev.Err != nil {
			tenant, userID, email := s.lastSeen()
			s.Record(context.Background(), shared.SessionEvent{
				Kind:   shared.SessionEventInvalidated,
				Tenant: tenant,
				UserID: userID,
				Email:  email,
				Meta:   map[string]any{"status": apiclient.StatusOf(ev.Err), "detail": apiclient.Message(ev.Err, "")},
			})
		}
	}
}

func (s *Shell) lastSeen() (string, int64, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTenant, s.lastUser, s.lastEmail
}

// Close releases the idle monitor and the session store. Credentials are kept.
func (s *Shell) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubscribe := s.unsubscribe
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.idle.Release(s.ID)
	s.Session.Close()
	s.metrics.SessionClosed()
}
