// Package cli implements the schoolctl commands: tenant sign-in, identity
// and access inspection, tenant switching and session job maintenance.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/synod-schools/portal/internal/auth"
	"github.com/synod-schools/portal/internal/credential"
	"github.com/synod-schools/portal/internal/shell"
)

// Version is set at build time.
var Version = "0.1.0"

const cliSessionID = "schoolctl"

// Config holds schoolctl settings read from SCHOOLCTL_* variables.
type Config struct {
	APIBaseURL  string        `envconfig:"API_BASE_URL" default:"http://localhost:8000"`
	Credentials string        `envconfig:"CREDENTIALS"`
	Password    string        `envconfig:"PASSWORD"`
	Timeout     time.Duration `envconfig:"TIMEOUT" default:"15s"`
	IdleTimeout time.Duration `envconfig:"IDLE_TIMEOUT" default:"20m"`
	RedisAddr   string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	LogLevel    string        `envconfig:"LOG_LEVEL" default:"warn"`
}

// LoadConfig reads the SCHOOLCTL_* environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("schoolctl", &cfg); err != nil {
		return Config{}, err
	}
	if cfg.Credentials == "" {
		cfg.Credentials = DefaultCredentialsPath()
	}
	return cfg, nil
}

// DefaultCredentialsPath is ~/.config/schoolctl/credentials.json, or a
// file in the working directory when no config dir is known.
func DefaultCredentialsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "schoolctl-credentials.json"
	}
	return filepath.Join(dir, "schoolctl", "credentials.json")
}

type env struct {
	cfg    Config
	output string
	api    string
	creds  string
	redis  string
	logger *slog.Logger

	shells *shell.Registry
	shell  *shell.Shell
	auth   *auth.Service
}

// NewRootCommand builds the schoolctl command tree.
func NewRootCommand() *cobra.Command {
	root, _ := newRoot()
	return root
}

func newRoot() (*cobra.Command, *env) {
	rt := &env{}
	root := &cobra.Command{
		Use:   "schoolctl",
		Short: "Sign in to a school and inspect your portal access",
		Long: `schoolctl signs in to a school tenant from the terminal and answers
the same access questions the portal asks: who you are, which menu
entries you see and which modules and actions you may use.

Credentials are kept in a private file shared by every invocation.`,
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			return rt.configure(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			rt.close()
		},
	}
	root.PersistentFlags().StringVarP(&rt.output, "output", "o", "table", "Output format: table, json, yaml")
	root.PersistentFlags().StringVar(&rt.api, "api", "", "School API base URL (default $SCHOOLCTL_API_BASE_URL)")
	root.PersistentFlags().StringVar(&rt.creds, "credentials", "", "Credentials file (default ~/.config/schoolctl/credentials.json)")
	root.PersistentFlags().StringVar(&rt.redis, "redis", "", "Redis address for job commands (default $SCHOOLCTL_REDIS_ADDR)")

	root.AddCommand(
		rt.loginCmd(),
		rt.logoutCmd(),
		rt.whoamiCmd(),
		rt.menuCmd(),
		rt.canCmd(),
		rt.tenantsCmd(),
		rt.useCmd(),
		rt.superAdminCmd(),
		rt.jobsCmd(),
	)
	return root, rt
}

// Execute runs the root command. Shells are released even when a command fails.
func Execute() error {
	root, rt := newRoot()
	defer rt.close()
	return root.Execute()
}

func (rt *env) configure(cmd *cobra.Command) error {
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if rt.api != "" {
		cfg.APIBaseURL = rt.api
	}
	if rt.creds != "" {
		cfg.Credentials = rt.creds
	}
	if rt.redis != "" {
		cfg.RedisAddr = rt.redis
	}
	switch rt.output {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("unknown output format %q", rt.output)
	}
	rt.cfg = cfg
	rt.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	return nil
}

// open builds the file-backed shell and settles its identity.
func (rt *env) open(ctx context.Context) (*shell.Shell, error) {
	if rt.shell != nil {
		return rt.shell, nil
	}
	path := rt.cfg.Credentials
	rt.shells = shell.NewRegistry(shell.Config{
		APIBaseURL:  rt.cfg.APIBaseURL,
		APITimeout:  rt.cfg.Timeout,
		IdleTimeout: rt.cfg.IdleTimeout,
		Credentials: func(string) credential.Store { return credential.NewFileStore(path) },
		Logger:      rt.logger,
	})
	sh, err := rt.shells.Open(ctx, cliSessionID)
	if err != nil {
		return nil, fmt.Errorf("open credentials %s: %w", path, err)
	}
	rt.shell = sh
	rt.auth = auth.NewService(auth.ServiceConfig{Logger: rt.logger, IdentityWait: rt.cfg.Timeout})
	if err := sh.Session.Sync(ctx); err != nil {
		return nil, err
	}
	if err := sh.Session.Wait(ctx); err != nil {
		return nil, err
	}
	return sh, nil
}

func (rt *env) close() {
	if rt.shells != nil {
		rt.shells.CloseAll()
		rt.shells = nil
		rt.shell = nil
	}
}

func (rt *env) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := rt.cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return context.WithTimeout(ctx, 2*timeout)
}

// formatOutput writes data as JSON or YAML. It reports false for table
// output, which each command renders itself.
func (rt *env) formatOutput(w io.Writer, data any) (bool, error) {
	switch rt.output {
	case "json":
		return true, outputJSON(w, data)
	case "yaml":
		return true, outputYAML(w, data)
	default:
		return false, nil
	}
}

func outputJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func outputYAML(w io.Writer, data any) error {
	out, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// errNotSignedIn is returned by commands that need a tenant identity.
var errNotSignedIn = errors.New("not signed in, run 'schoolctl login'")

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
