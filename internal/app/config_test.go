package app_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synod-schools/portal/internal/app"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s")
	t.Setenv("CSRF_SECRET", "c")

	cfg, err := app.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 20*time.Minute, cfg.IdleTimeout())
	assert.Equal(t, int32(8), cfg.PGMaxConns)
	assert.Equal(t, 90, cfg.EventRetentionDays)
	assert.False(t, cfg.IsProduction())
	assert.True(t, app.InTestMode())
}

func TestConfigValidate(t *testing.T) {
	valid := app.Config{SessionSecret: "s", CSRFSecret: "c", APIBaseURL: "http://api", SessionIdleMinutes: 5}
	require.NoError(t, valid.Validate())
	assert.Equal(t, 5*time.Minute, valid.IdleTimeout())

	cases := map[string]func(*app.Config){
		"session secret": func(c *app.Config) { c.SessionSecret = "" },
		"csrf secret":    func(c *app.Config) { c.CSRFSecret = "" },
		"api base url":   func(c *app.Config) { c.APIBaseURL = "" },
		"idle minutes":   func(c *app.Config) { c.SessionIdleMinutes = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
