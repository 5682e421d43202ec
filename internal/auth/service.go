package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/synod-schools/portal/internal/apiclient"
	"github.com/synod-schools/portal/internal/credential"
	"github.com/synod-schools/portal/internal/observability"
	"github.com/synod-schools/portal/internal/session"
	"github.com/synod-schools/portal/internal/shared"
	"github.com/synod-schools/portal/internal/shell"
)

// Service wraps the login and logout flows of a portal session.
type Service struct {
	repo    Repository
	metrics *observability.Metrics
	logger  *slog.Logger
	wait    time.Duration
}

// ServiceConfig wires a Service. Repo and Metrics are optional.
type ServiceConfig struct {
	Repo         Repository
	Metrics      *observability.Metrics
	Logger       *slog.Logger
	IdentityWait time.Duration
}

// NewService constructs a new Service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	wait := cfg.IdentityWait
	if wait <= 0 {
		wait = 2 * time.Second
	}
	return &Service{repo: cfg.Repo, metrics: cfg.Metrics, logger: logger, wait: wait}
}

// Login signs a tenant user in. Any stored pair is dropped first so the
// request carries only the submitted tenant. On success the new pair is
// stored and the identity fetch is started.
func (s *Service) Login(ctx context.Context, sh *shell.Shell, in Credentials) error {
	tenant := NormalizeTenant(in.Tenant)
	if tenant == "" {
		s.metrics.LoginAttempt(ChannelTenant, false)
		return ErrTenantRequired
	}
	if err := sh.Credentials.Clear(ctx); err != nil {
		return fmt.Errorf("auth: clear credentials: %w", err)
	}

	token, err := sh.API.Login(ctx, tenant, apiclient.LoginRequest{Username: in.Username, Password: in.Password})
	if err != nil {
		s.metrics.LoginAttempt(ChannelTenant, false)
		s.logger.InfoContext(ctx, "tenant login rejected",
			slog.String("tenant", tenant),
			slog.Int("status", apiclient.StatusOf(err)))
		return err
	}
	s.metrics.LoginAttempt(ChannelTenant, true)

	if err := sh.Credentials.Set(ctx, token, tenant); err != nil {
		return fmt.Errorf("auth: store credentials: %w", err)
	}
	s.settle(ctx, sh)

	ev := shared.SessionEvent{Kind: shared.SessionEventLogin, Tenant: tenant}
	if id := sh.Session.Identity(); id != nil {
		ev.UserID = id.ID
		ev.Email = id.Email
	}
	sh.Record(ctx, ev)
	return nil
}

// Logout clears the tenant pair and the identity.
func (s *Service) Logout(ctx context.Context, sh *shell.Shell) error {
	cred, _ := sh.Credentials.Get(ctx)
	ev := shared.SessionEvent{Kind: shared.SessionEventLogout, Tenant: cred.Tenant}
	if id := sh.Session.Identity(); id != nil {
		ev.UserID = id.ID
		ev.Email = id.Email
	}
	if err := sh.Session.Logout(ctx); err != nil {
		return fmt.Errorf("auth: logout: %w", err)
	}
	sh.Record(ctx, ev)
	return nil
}

// SwitchTenant moves the session to another school. The token is kept;
// the changed pair triggers a fresh identity fetch.
func (s *Service) SwitchTenant(ctx context.Context, sh *shell.Shell, tenant string) error {
	tenant = NormalizeTenant(tenant)
	if tenant == "" {
		return ErrTenantRequired
	}
	cred, err := credential.RequireSession(ctx, sh.Credentials)
	if err != nil {
		return err
	}
	if cred.Tenant == tenant {
		return nil
	}
	if err := sh.Credentials.SetTenant(ctx, tenant); err != nil {
		return fmt.Errorf("auth: switch tenant: %w", err)
	}
	s.settle(ctx, sh)

	ev := shared.SessionEvent{
		Kind:   shared.SessionEventTenantSwitched,
		Tenant: tenant,
		Meta:   map[string]any{"from": cred.Tenant},
	}
	if id := sh.Session.Identity(); id != nil {
		ev.UserID = id.ID
		ev.Email = id.Email
	}
	sh.Record(ctx, ev)
	return nil
}

// SuperAdminLogin signs a platform administrator in on the platform channel.
// The tenant pair is left untouched.
func (s *Service) SuperAdminLogin(ctx context.Context, sh *shell.Shell, in Credentials) (*apiclient.User, error) {
	token, err := sh.API.SuperAdminLogin(ctx, apiclient.LoginRequest{Username: in.Username, Password: in.Password})
	if err != nil {
		s.metrics.LoginAttempt(ChannelPlatform, false)
		return nil, err
	}
	s.metrics.LoginAttempt(ChannelPlatform, true)
	if err := sh.Credentials.SetSuperAdminToken(ctx, token); err != nil {
		return nil, fmt.Errorf("auth: store platform token: %w", err)
	}

	profile, err := sh.API.SuperAdminMe(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "load platform profile", slog.Any("error", err))
	}
	ev := shared.SessionEvent{Kind: shared.SessionEventSuperAdminLogin}
	if profile != nil {
		ev.UserID = profile.ID
		ev.Email = profile.Email
	}
	sh.Record(ctx, ev)
	return profile, nil
}

// SuperAdminLogout clears the platform token only.
func (s *Service) SuperAdminLogout(ctx context.Context, sh *shell.Shell) error {
	if err := sh.Credentials.ClearSuperAdminToken(ctx); err != nil {
		return fmt.Errorf("auth: clear platform token: %w", err)
	}
	sh.Record(ctx, shared.SessionEvent{Kind: shared.SessionEventSuperAdminLogout})
	return nil
}

// RecentEvents lists the newest session events, empty without a repository.
func (s *Service) RecentEvents(ctx context.Context, filter EventFilter) ([]shared.SessionEvent, error) {
	if s.repo == nil {
		return nil, nil
	}
	return s.repo.ListSessionEvents(ctx, filter)
}

func (s *Service) settle(ctx context.Context, sh *shell.Shell) {
	if err := sh.Session.Sync(ctx); err != nil {
		s.logger.WarnContext(ctx, "sync session", slog.Any("error", err))
		return
	}
	waitCtx, cancel := context.WithTimeout(ctx, s.wait)
	defer cancel()
	if err := sh.Session.Wait(waitCtx); err != nil {
		s.logger.DebugContext(ctx, "identity still loading", slog.Any("error", err))
	}
	if sh.Session.State() == session.StateTransientError {
		s.logger.WarnContext(ctx, "identity unavailable after login", slog.String("error", sh.Session.Error()))
	}
}
