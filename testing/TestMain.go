// Package testing prepares the process environment for packages that load
// the portal configuration in tests. Import it for its side effects.
package testing

import (
	"os"
	stdtesting "testing"
)

var defaults = map[string]string{
	"PORTAL_TEST_MODE": "1",
	"API_BASE_URL":     "http://127.0.0.1:0",
	"SESSION_SECRET":   "test-session-secret",
	"CSRF_SECRET":      "test-csrf-secret",
}

func init() {
	for key, value := range defaults {
		if _, ok := os.LookupEnv(key); !ok {
			_ = os.Setenv(key, value)
		}
	}
}

// TestMain runs m with the defaults applied.
func TestMain(m *stdtesting.M) {
	os.Exit(m.Run())
}
