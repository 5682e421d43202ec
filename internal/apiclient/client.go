// Package apiclient talks to the remote school API over the tenant-scoped
// and platform request channels.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/synod-schools/portal/internal/credential"
)

const tracerName = "github.com/synod-schools/portal/internal/apiclient"

// ErrNoAccessToken indicates a login response without a token.
var ErrNoAccessToken = errors.New("api: no access token received")

// LoginRequest is the body of both login endpoints.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse is returned by both login endpoints.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
}

// User is the identity document returned by /auth/me.
type User struct {
	ID          int64    `json:"id"`
	Email       string   `json:"email"`
	FullName    string   `json:"full_name,omitempty"`
	IsActive    bool     `json:"is_active"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	SuperAdmin  bool     `json:"super_admin,omitempty"`
}

// Tenant is one entry of the tenant list.
type Tenant struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Options configures a Client.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	Store     credential.Store
	OnRefresh credential.RefreshFunc
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// Client issues requests to the school API.
type Client struct {
	baseURL  string
	tenant   *http.Client
	platform *http.Client
}

// New wires both request channels over the same credential store.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(opts.BaseURL, "/") + "/api",
		tenant: &http.Client{
			Timeout: timeout,
			Transport: &credential.TenantTransport{
				Store:     opts.Store,
				Base:      opts.Transport,
				OnRefresh: opts.OnRefresh,
				Logger:    opts.Logger,
			},
		},
		platform: &http.Client{
			Timeout: timeout,
			Transport: &credential.PlatformTransport{
				Store: opts.Store,
				Base:  opts.Transport,
			},
		},
	}
}

// Login exchanges tenant user credentials for an access token.
// The tenant travels on the request itself since no pair is stored yet.
func (c *Client) Login(ctx context.Context, tenant string, body LoginRequest) (string, error) {
	var out TokenResponse
	err := c.do(ctx, c.tenant, http.MethodPost, "/auth/login", body, &out, func(req *http.Request) {
		req.Header.Set(credential.HeaderTenant, tenant)
	})
	if err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", ErrNoAccessToken
	}
	return out.AccessToken, nil
}

// SuperAdminLogin exchanges platform credentials for an access token.
func (c *Client) SuperAdminLogin(ctx context.Context, body LoginRequest) (string, error) {
	var out TokenResponse
	if err := c.do(ctx, c.platform, http.MethodPost, "/auth/super-admin/login", body, &out, nil); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", ErrNoAccessToken
	}
	return out.AccessToken, nil
}

// Me fetches the identity bound to the stored tenant credential.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var out User
	if err := c.do(ctx, c.tenant, http.MethodGet, "/auth/me", nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// SuperAdminMe fetches the platform administrator profile.
func (c *Client) SuperAdminMe(ctx context.Context) (*User, error) {
	var out User
	if err := c.do(ctx, c.platform, http.MethodGet, "/auth/super-admin/me", nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// Tenants lists the schools the signed-in user may switch between.
func (c *Client) Tenants(ctx context.Context) ([]Tenant, error) {
	var out []Tenant
	if err := c.do(ctx, c.tenant, http.MethodGet, "/tenants", nil, &out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, client *http.Client, method, path string, body, out any, decorate func(*http.Request)) (err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, method+" "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", path),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: encode %s: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("api: build %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if decorate != nil {
		decorate(req)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(data) == 0 {
		return apiErr
	}
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || len(payload.Detail) == 0 {
		return apiErr
	}
	var detail string
	if err := json.Unmarshal(payload.Detail, &detail); err == nil {
		apiErr.Detail = detail
		return apiErr
	}
	apiErr.Detail = string(payload.Detail)
	return apiErr
}
