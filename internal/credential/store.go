// Package credential holds the bearer credentials of a portal session and the
// HTTP transports that attach them to outbound API requests.
package credential

import (
	"context"
	"errors"
)

// Persisted key names.
const (
	KeyToken           = "token"
	KeyTenant          = "tenant"
	KeySuperAdminToken = "super_admin_token"
)

// ErrNoSession indicates the store does not hold a usable token/tenant pair.
var ErrNoSession = errors.New("credential: no session")

// Credential is a snapshot of the stored values.
type Credential struct {
	Token           string
	Tenant          string
	SuperAdminToken string
}

// Valid reports whether both halves of the tenant-scoped pair are present.
// A token without a tenant, or a tenant without a token, is no session.
func (c Credential) Valid() bool {
	return c.Token != "" && c.Tenant != ""
}

// Store persists credentials. Writes are visible to the next Get.
// Token contents are opaque to the store.
type Store interface {
	Get(ctx context.Context) (Credential, error)
	// Set writes the token and tenant together.
	Set(ctx context.Context, token, tenant string) error
	// SetToken replaces the token, leaving the tenant as is.
	SetToken(ctx context.Context, token string) error
	// SetTenant replaces the tenant, leaving the token as is.
	SetTenant(ctx context.Context, tenant string) error
	// Clear removes the token and tenant together.
	Clear(ctx context.Context) error
	// ClearToken removes the token only, and only while it still equals
	// expected. It reports whether the token was removed.
	ClearToken(ctx context.Context, expected string) (bool, error)
	SetSuperAdminToken(ctx context.Context, token string) error
	ClearSuperAdminToken(ctx context.Context) error
}

// RequireSession loads the credential and fails with ErrNoSession unless the pair is complete.
func RequireSession(ctx context.Context, store Store) (Credential, error) {
	cred, err := store.Get(ctx)
	if err != nil {
		return Credential{}, err
	}
	if !cred.Valid() {
		return cred, ErrNoSession
	}
	return cred, nil
}
