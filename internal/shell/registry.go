package shell

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/synod-schools/portal/internal/apiclient"
	"github.com/synod-schools/portal/internal/credential"
	"github.com/synod-schools/portal/internal/idle"
	"github.com/synod-schools/portal/internal/observability"
	"github.com/synod-schools/portal/internal/session"
	"github.com/synod-schools/portal/internal/shared"
)

// ErrEmptySessionID is returned when Open is called without a session id.
var ErrEmptySessionID = errors.New("shell: empty session id")

// CredentialFactory returns the credential store for a browser session.
type CredentialFactory func(sessionID string) credential.Store

// Config wires a Registry.
type Config struct {
	APIBaseURL  string
	APITimeout  time.Duration
	Transport   http.RoundTripper
	IdleTimeout time.Duration
	IdleOptions []idle.Option
	Credentials CredentialFactory
	Publisher   shared.SessionEventPublisher
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

// Registry owns one Shell per browser session.
type Registry struct {
	cfg    Config
	logger *slog.Logger
	idle   *idle.Registry
	group  singleflight.Group

	mu     sync.RWMutex
	shells map[string]*Shell
}

// NewRegistry builds an empty registry.
func NewRegistry(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Credentials == nil {
		stores := make(map[string]credential.Store)
		var mu sync.Mutex
		cfg.Credentials = func(id string) credential.Store {
			mu.Lock()
			defer mu.Unlock()
			if store, ok := stores[id]; ok {
				return store
			}
			store := credential.NewMemoryStore()
			stores[id] = store
			return store
		}
	}
	return &Registry{
		cfg:    cfg,
		logger: logger,
		idle:   idle.NewRegistry(cfg.IdleTimeout, cfg.IdleOptions...),
		shells: make(map[string]*Shell),
	}
}

// Open returns the shell for id, building it on first use. Concurrent
// opens for the same id share one build.
func (r *Registry) Open(ctx context.Context, id string) (*Shell, error) {
	if id == "" {
		return nil, ErrEmptySessionID
	}
	if sh, ok := r.Get(id); ok {
		return sh, nil
	}
	v, err, _ := r.group.Do(id, func() (any, error) {
		if sh, ok := r.Get(id); ok {
			return sh, nil
		}
		sh, err := r.build(ctx, id)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.shells[id] = sh
		r.mu.Unlock()
		r.cfg.Metrics.SessionOpened()
		return sh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Shell), nil
}

// Get returns an already open shell.
func (r *Registry) Get(id string) (*Shell, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sh, ok := r.shells[id]
	return sh, ok
}

// Close releases the shell for id.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	sh, ok := r.shells[id]
	delete(r.shells, id)
	r.mu.Unlock()
	if ok {
		sh.Close()
	}
}

// CloseAll releases every shell, used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	shells := r.shells
	r.shells = make(map[string]*Shell)
	r.mu.Unlock()
	for _, sh := range shells {
		sh.Close()
	}
	r.idle.StopAll()
}

// IDs returns the ids of the open shells.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.shells))
	for id := range r.shells {
		ids = append(ids, id)
	}
	return ids
}

// Sweep closes every shell whose browser session alive reports gone and
// returns how many were closed. Lookup errors keep the shell open.
func (r *Registry) Sweep(ctx context.Context, alive func(ctx context.Context, id string) (bool, error)) int {
	closed := 0
	for _, id := range r.IDs() {
		if ctx.Err() != nil {
			break
		}
		ok, err := alive(ctx, id)
		if err != nil {
			r.logger.WarnContext(ctx, "check browser session", slog.String("session", id), slog.Any("error", err))
			continue
		}
		if !ok {
			r.Close(id)
			closed++
		}
	}
	return closed
}

// RunJanitor sweeps on every tick until ctx is done.
func (r *Registry) RunJanitor(ctx context.Context, interval time.Duration, alive func(ctx context.Context, id string) (bool, error)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(ctx, alive); n > 0 {
				r.logger.InfoContext(ctx, "closed stale shells", slog.Int("count", n))
			}
		}
	}
}

// Len returns the number of open shells.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.shells)
}

func (r *Registry) build(ctx context.Context, id string) (*Shell, error) {
	creds := r.cfg.Credentials(id)
	logger := r.logger.With(slog.String("session", id))

	sh := &Shell{
		ID:          id,
		Credentials: creds,
		idle:        r.idle,
		publisher:   r.cfg.Publisher,
		metrics:     r.cfg.Metrics,
		logger:      logger,
	}

	var store *session.Store
	sh.API = apiclient.New(apiclient.Options{
		BaseURL:   r.cfg.APIBaseURL,
		Timeout:   r.cfg.APITimeout,
		Store:     creds,
		Transport: r.cfg.Transport,
		Logger:    logger,
		OnRefresh: func(ctx context.Context, token string) {
			store.CredentialRefreshed(ctx, token)
		},
	})
	store = session.New(session.Options{
		Credentials: creds,
		API:         sh.API,
		Navigator:   sh.navigate,
		Logger:      logger,
	})
	sh.Session = store
	sh.unsubscribe = store.Subscribe(sh.onSessionEvent)

	cred, err := creds.Get(ctx)
	if err != nil {
		store.Close()
		return nil, err
	}
	if cred.Valid() {
		sh.armIdle()
	}
	return sh, nil
}
