// Package session tracks who is signed in for one browser session: it
// fetches the identity whenever the stored credential pair changes and
// turns session-invalid responses into a hard logout.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/synod-schools/portal/internal/apiclient"
	"github.com/synod-schools/portal/internal/credential"
	"github.com/synod-schools/portal/internal/rbac"
)

// LoginPath is where a dead session is sent.
const LoginPath = "/login"

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("session: store closed")

// State is the lifecycle stage of the identity.
type State int

const (
	StateUnauthenticated State = iota
	StateLoading
	StateAuthenticated
	StateTransientError
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateAuthenticated:
		return "authenticated"
	case StateTransientError:
		return "error"
	default:
		return "unauthenticated"
	}
}

// Identity is the signed-in user as reported by the API.
type Identity struct {
	ID          int64
	Email       string
	FullName    string
	IsActive    bool
	Roles       []rbac.Role
	Permissions []rbac.Permission
}

// DisplayName prefers the full name over the email.
func (i *Identity) DisplayName() string {
	if i == nil {
		return ""
	}
	if i.FullName != "" {
		return i.FullName
	}
	return i.Email
}

func (i *Identity) clone() *Identity {
	if i == nil {
		return nil
	}
	out := *i
	out.Roles = append([]rbac.Role(nil), i.Roles...)
	out.Permissions = append([]rbac.Permission(nil), i.Permissions...)
	return &out
}

// Snapshot is a consistent view of the store.
type Snapshot struct {
	State    State
	Identity *Identity
	Error    string
}

// Fetcher loads the identity for the stored credential.
type Fetcher interface {
	Me(ctx context.Context) (*apiclient.User, error)
}

// Navigator requests a browser navigation to path.
type Navigator func(path string)

// Options configures a Store.
type Options struct {
	Credentials credential.Store
	API         Fetcher
	Navigator   Navigator
	Logger      *slog.Logger
}

// Store owns the identity state for one browser session.
type Store struct {
	creds    credential.Store
	api      Fetcher
	navigate Navigator
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	identity *Identity
	errMsg   string
	synced   credential.Credential
	rejected credential.Credential
	gen      uint64
	cancel   context.CancelFunc
	settled  chan struct{}
	subs     map[uint64]func(Event)
	nextSub  uint64
	closed   bool
}

// New builds an unauthenticated store. Call Sync to pick up stored credentials.
func New(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		creds:    opts.Credentials,
		api:      opts.API,
		navigate: opts.Navigator,
		logger:   logger,
		subs:     make(map[uint64]func(Event)),
	}
}

// Sync reconciles the store with the credential store. A new or changed
// pair starts one identity fetch; a missing pair drops the identity. After a
// transient failure the same pair is fetched again.
func (s *Store) Sync(ctx context.Context) error {
	cred, err := s.creds.Get(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	if !cred.Valid() {
		changed := s.state != StateUnauthenticated || s.identity != nil
		s.resetLocked()
		notify := s.collectLocked(changed, Event{Kind: EventIdentityChanged, State: StateUnauthenticated})
		s.mu.Unlock()
		notify()
		return nil
	}

	if (s.state == StateLoading || s.state == StateAuthenticated) && samePair(cred, s.synced) {
		s.mu.Unlock()
		return nil
	}
	if s.state == StateUnauthenticated && samePair(cred, s.rejected) {
		s.mu.Unlock()
		return nil
	}

	s.startFetchLocked(ctx, cred)
	notify := s.collectLocked(true, Event{Kind: EventIdentityChanged, State: StateLoading})
	s.mu.Unlock()
	notify()
	return nil
}

// Wait blocks until no identity fetch is pending or ctx ends.
func (s *Store) Wait(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateLoading {
		s.mu.Unlock()
		return nil
	}
	ch := s.settled
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CredentialRefreshed adopts a token rotated by the API. The identity is
// unchanged so no fetch is started.
func (s *Store) CredentialRefreshed(ctx context.Context, token string) {
	s.mu.Lock()
	if s.closed || token == "" {
		s.mu.Unlock()
		return
	}
	if s.synced.Valid() {
		s.synced.Token = token
	}
	notify := s.collectLocked(true, Event{Kind: EventCredentialRefreshed, State: s.state, Token: token})
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "session token refreshed")
	notify()
}

// Logout clears both credential halves and the identity.
func (s *Store) Logout(ctx context.Context) error {
	err := s.creds.Clear(ctx)

	s.mu.Lock()
	s.resetLocked()
	notify := s.collectLocked(!s.closed, Event{Kind: EventLoggedOut, State: StateUnauthenticated})
	s.mu.Unlock()
	notify()
	return err
}

// Close cancels any pending fetch and drops all subscribers.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.resetLocked()
	s.subs = make(map[uint64]func(Event))
}

// State returns the current lifecycle stage.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity returns a copy of the signed-in identity, or nil.
func (s *Store) Identity() *Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity.clone()
}

// Error returns the message of the last transient failure.
func (s *Store) Error() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// Snapshot returns state, identity and error together.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{State: s.state, Identity: s.identity.clone(), Error: s.errMsg}
}

// Evaluator returns an access evaluator over the current identity.
func (s *Store) Evaluator() rbac.Evaluator {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return rbac.Anonymous()
	}
	return rbac.NewEvaluator(s.identity.Roles, s.identity.Permissions)
}

// HasPermission reports whether the identity holds perm. False when signed out.
func (s *Store) HasPermission(perm rbac.Permission) bool {
	return s.Evaluator().HasPermission(perm)
}

// HasAnyPermission reports whether the identity holds any of perms.
func (s *Store) HasAnyPermission(perms ...rbac.Permission) bool {
	return s.Evaluator().HasAnyPermission(perms...)
}

func (s *Store) startFetchLocked(ctx context.Context, cred credential.Credential) {
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	if s.state != StateLoading {
		s.settled = make(chan struct{})
	}
	s.state = StateLoading
	s.identity = nil
	s.errMsg = ""
	s.synced = cred

	go s.fetch(fetchCtx, gen)
}

func (s *Store) fetch(ctx context.Context, gen uint64) {
	user, err := s.api.Me(ctx)
	current, getErr := s.creds.Get(ctx)

	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	if getErr == nil && !samePair(current, s.synced) {
		// The pair was rewritten without a Sync while this fetch ran.
		if current.Valid() {
			s.startFetchLocked(ctx, current)
			s.mu.Unlock()
			return
		}
		s.resetLocked()
		notify := s.collectLocked(true, Event{Kind: EventIdentityChanged, State: StateUnauthenticated})
		s.mu.Unlock()
		notify()
		return
	}
	if s.cancel != nil {
		defer s.cancel()
		s.cancel = nil
	}
	done := s.settled
	s.settled = nil
	defer func() {
		if done != nil {
			close(done)
		}
	}()

	switch {
	case err == nil:
		s.identity = identityFromUser(user, s.logger)
		s.state = StateAuthenticated
		s.errMsg = ""
		notify := s.collectLocked(true, Event{Kind: EventIdentityChanged, State: StateAuthenticated, Identity: s.identity.clone()})
		s.mu.Unlock()
		notify()

	case apiclient.IsSessionInvalid(err):
		s.state = StateUnauthenticated
		s.identity = nil
		s.errMsg = ""
		s.rejected = s.synced
		s.synced = credential.Credential{}
		rejected := s.rejected.Token
		nav := s.navigate
		notify := s.collectLocked(true, Event{Kind: EventLoggedOut, State: StateUnauthenticated, Err: err})
		s.mu.Unlock()

		s.logger.InfoContext(ctx, "session invalidated by api", slog.Any("error", err))
		if _, clearErr := s.creds.ClearToken(ctx, rejected); clearErr != nil {
			s.logger.ErrorContext(ctx, "clear invalid token", slog.Any("error", clearErr))
		}
		notify()
		if nav != nil {
			nav(LoginPath)
		}

	default:
		s.state = StateTransientError
		s.identity = nil
		s.errMsg = apiclient.Message(err, "")
		notify := s.collectLocked(true, Event{Kind: EventIdentityChanged, State: StateTransientError, Err: err})
		s.mu.Unlock()

		s.logger.WarnContext(ctx, "identity fetch failed", slog.Any("error", err))
		notify()
	}
}

func (s *Store) resetLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	s.settleLocked()
	s.state = StateUnauthenticated
	s.identity = nil
	s.errMsg = ""
	s.synced = credential.Credential{}
}

func (s *Store) settleLocked() {
	if s.settled != nil {
		close(s.settled)
		s.settled = nil
	}
}

func samePair(a, b credential.Credential) bool {
	return a.Token == b.Token && a.Tenant == b.Tenant
}

func identityFromUser(user *apiclient.User, logger *slog.Logger) *Identity {
	if user == nil {
		return nil
	}
	roles := make([]rbac.Role, 0, len(user.Roles))
	for _, name := range user.Roles {
		role := rbac.Role(name)
		if !role.Known() {
			logger.Debug("unknown role from api", slog.String("role", name))
		}
		roles = append(roles, role)
	}
	perms := rbac.NormalizePermissions(user.Permissions)
	for _, perm := range perms {
		if !perm.Known() {
			logger.Debug("unknown permission from api", slog.String("permission", perm.String()))
		}
	}
	return &Identity{
		ID:          user.ID,
		Email:       user.Email,
		FullName:    user.FullName,
		IsActive:    user.IsActive,
		Roles:       roles,
		Permissions: perms,
	}
}

// Evaluator returns an access evaluator over the snapshot identity.
func (s Snapshot) Evaluator() rbac.Evaluator {
	if s.Identity == nil {
		return rbac.Anonymous()
	}
	return rbac.NewEvaluator(s.Identity.Roles, s.Identity.Permissions)
}
