package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/synod-schools/portal/internal/apiclient"
)

// Login channels, also used as metric labels.
const (
	ChannelTenant   = "tenant"
	ChannelPlatform = "platform"
)

// ErrTenantRequired is returned when the tenant slug is empty after normalisation.
var ErrTenantRequired = errors.New("auth: tenant slug required")

// Credentials is what a user submits on a login form.
type Credentials struct {
	Tenant   string
	Username string
	Password string
}

// NormalizeTenant lowercases a tenant slug and drops every character
// outside [a-z0-9-].
func NormalizeTenant(slug string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(slug)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// LoginMessage turns a tenant login failure into the text shown on the form.
func LoginMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTenantRequired):
		return "Tenant is required."
	}
	switch apiclient.StatusOf(err) {
	case http.StatusUnauthorized:
		return "Invalid username or password."
	case http.StatusNotFound:
		return "Tenant not found. Please check the tenant slug."
	}
	return apiclient.Message(err, "Login failed. Please try again.")
}

// SuperAdminLoginMessage turns a platform login failure into form text.
func SuperAdminLoginMessage(err error) string {
	if err == nil {
		return ""
	}
	if apiclient.StatusOf(err) == http.StatusUnauthorized {
		return "Invalid username or password."
	}
	return apiclient.Message(err, "Login failed. Please try again.")
}
