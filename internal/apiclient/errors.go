package apiclient

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Phrases the API uses in "detail" when a token can no longer be used.
var sessionInvalidPhrases = []string{
	"Session expired",
	"Invalid token",
}

// APIError is a non-2xx response from the school API.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api: %d %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("api: %d %s", e.Status, http.StatusText(e.Status))
}

// Message returns a displayable description of the failure.
func (e *APIError) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	return http.StatusText(e.Status)
}

// IsSessionInvalid reports whether err means the credential is dead:
// a 401, or a detail naming an expired session or invalid token.
func IsSessionInvalid(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Status == http.StatusUnauthorized {
		return true
	}
	for _, phrase := range sessionInvalidPhrases {
		if strings.Contains(apiErr.Detail, phrase) {
			return true
		}
	}
	return false
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// Message returns a displayable string for any error returned by the client.
func Message(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	if fallback != "" {
		return fallback
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
