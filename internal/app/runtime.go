package app

import (
	"os"
	"strconv"
	"sync"
	"testing"
)

// TestModeEnv disables the janitor, request logging and binary startup.
const TestModeEnv = "PORTAL_TEST_MODE"

var inTestMode = sync.OnceValue(func() bool {
	if testing.Testing() {
		return true
	}
	on, _ := strconv.ParseBool(os.Getenv(TestModeEnv))
	return on
})

// InTestMode reports whether the process runs under go test or with
// PORTAL_TEST_MODE set.
func InTestMode() bool {
	return inTestMode()
}
