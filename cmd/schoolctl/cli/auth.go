package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/synod-schools/portal/internal/auth"
	"github.com/synod-schools/portal/internal/credential"
)

// WhoamiOutput describes the signed-in identity.
type WhoamiOutput struct {
	Tenant      string   `json:"tenant" yaml:"tenant"`
	ID          int64    `json:"id" yaml:"id"`
	Email       string   `json:"email" yaml:"email"`
	Name        string   `json:"name" yaml:"name"`
	Roles       []string `json:"roles" yaml:"roles"`
	Permissions []string `json:"permissions" yaml:"permissions"`
	RoleLevel   int      `json:"role_level" yaml:"role_level"`
	SuperAdmin  bool     `json:"super_admin" yaml:"super_admin"`
}

func (rt *env) loginCmd() *cobra.Command {
	var (
		in            auth.Credentials
		passwordStdin bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to a school tenant",
		Example: `  schoolctl login --tenant acme --username t@acme --password-stdin < pass.txt
  SCHOOLCTL_PASSWORD=... schoolctl login -t acme -u t@acme`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if passwordStdin {
				password, err := readLine(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				in.Password = password
			}
			if in.Password == "" {
				in.Password = rt.cfg.Password
			}
			if in.Username == "" || in.Password == "" {
				return errors.New("username and password are required")
			}

			ctx, cancel := rt.context(cmd)
			defer cancel()
			sh, err := rt.open(ctx)
			if err != nil {
				return err
			}
			if err := rt.auth.Login(ctx, sh, in); err != nil {
				return errors.New(auth.LoginMessage(err))
			}
			id := sh.Session.Identity()
			if id == nil {
				if msg := sh.Session.Error(); msg != "" {
					return errors.New(msg)
				}
				return errNotSignedIn
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in to %s as %s.\n", auth.NormalizeTenant(in.Tenant), id.DisplayName())
			return nil
		},
	}
	cmd.Flags().StringVarP(&in.Tenant, "tenant", "t", "", "Tenant slug")
	cmd.Flags().StringVarP(&in.Username, "username", "u", "", "Username or email")
	cmd.Flags().StringVarP(&in.Password, "password", "p", "", "Password (prefer --password-stdin)")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func (rt *env) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out of the current tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rt.context(cmd)
			defer cancel()
			sh, err := rt.open(ctx)
			if err != nil {
				return err
			}
			if err := rt.auth.Logout(ctx, sh); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

func (rt *env) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rt.context(cmd)
			defer cancel()
			sh, err := rt.open(ctx)
			if err != nil {
				return err
			}
			id := sh.Session.Identity()
			if id == nil {
				return errNotSignedIn
			}
			cred, err := sh.Credentials.Get(ctx)
			if err != nil {
				return err
			}
			ev := sh.Session.Evaluator()
			out := WhoamiOutput{
				Tenant:      cred.Tenant,
				ID:          id.ID,
				Email:       id.Email,
				Name:        id.DisplayName(),
				Roles:       make([]string, 0, len(id.Roles)),
				Permissions: make([]string, 0, len(id.Permissions)),
				RoleLevel:   ev.RoleLevel(),
				SuperAdmin:  cred.SuperAdminToken != "",
			}
			for _, r := range id.Roles {
				out.Roles = append(out.Roles, r.String())
			}
			for _, p := range id.Permissions {
				out.Permissions = append(out.Permissions, p.String())
			}

			if done, err := rt.formatOutput(cmd.OutOrStdout(), out); done {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Tenant:\t%s\n", out.Tenant)
			fmt.Fprintf(w, "User:\t%s <%s>\n", out.Name, out.Email)
			fmt.Fprintf(w, "Roles:\t%s\n", joinOrDash(out.Roles))
			fmt.Fprintf(w, "Permissions:\t%s\n", joinOrDash(out.Permissions))
			fmt.Fprintf(w, "Role level:\t%d\n", out.RoleLevel)
			if out.SuperAdmin {
				fmt.Fprintf(w, "Platform:\tsigned in\n")
			}
			return w.Flush()
		},
	}
}

func (rt *env) useCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <tenant>",
		Short: "Switch the signed-in user to another school",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rt.context(cmd)
			defer cancel()
			sh, err := rt.open(ctx)
			if err != nil {
				return err
			}
			err = rt.auth.SwitchTenant(ctx, sh, args[0])
			switch {
			case errors.Is(err, credential.ErrNoSession):
				return errNotSignedIn
			case err != nil:
				return err
			}
			if sh.Session.Identity() == nil {
				return fmt.Errorf("switched to %s but the identity could not be loaded: %s",
					auth.NormalizeTenant(args[0]), sh.Session.Error())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Switched to %s.\n", auth.NormalizeTenant(args[0]))
			return nil
		},
	}
}

func (rt *env) superAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "super-admin",
		Aliases: []string{"platform"},
		Short:   "Manage the platform administrator sign-in",
	}

	var (
		in            auth.Credentials
		passwordStdin bool
	)
	login := &cobra.Command{
		Use:   "login",
		Short: "Sign in as a platform administrator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if passwordStdin {
				password, err := readLine(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				in.Password = password
			}
			if in.Password == "" {
				in.Password = rt.cfg.Password
			}
			if in.Username == "" || in.Password == "" {
				return errors.New("username and password are required")
			}
			ctx, cancel := rt.context(cmd)
			defer cancel()
			sh, err := rt.open(ctx)
			if err != nil {
				return err
			}
			profile, err := rt.auth.SuperAdminLogin(ctx, sh, in)
			if err != nil {
				return errors.New(auth.SuperAdminLoginMessage(err))
			}
			name := in.Username
			if profile != nil && profile.FullName != "" {
				name = profile.FullName
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in to the platform as %s.\n", name)
			return nil
		},
	}
	login.Flags().StringVarP(&in.Username, "username", "u", "", "Platform username or email")
	login.Flags().StringVarP(&in.Password, "password", "p", "", "Password (prefer --password-stdin)")
	login.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")

	logout := &cobra.Command{
		Use:   "logout",
		Short: "Drop the platform token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rt.context(cmd)
			defer cancel()
			sh, err := rt.open(ctx)
			if err != nil {
				return err
			}
			if err := rt.auth.SuperAdminLogout(ctx, sh); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out of the platform.")
			return nil
		},
	}

	whoami := &cobra.Command{
		Use:   "whoami",
		Short: "Show the platform administrator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rt.context(cmd)
			defer cancel()
			sh, err := rt.open(ctx)
			if err != nil {
				return err
			}
			if !sh.SuperAdmin(ctx) {
				return errors.New("not signed in to the platform, run 'schoolctl super-admin login'")
			}
			profile, err := sh.API.SuperAdminMe(ctx)
			if err != nil {
				return err
			}
			out := WhoamiOutput{ID: profile.ID, Email: profile.Email, Name: profile.FullName, SuperAdmin: true}
			if out.Name == "" {
				out.Name = profile.Email
			}
			if done, err := rt.formatOutput(cmd.OutOrStdout(), out); done {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s <%s>\n", out.Name, out.Email)
			return nil
		},
	}

	cmd.AddCommand(login, logout, whoami)
	return cmd
}

func readLine(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", io.ErrUnexpectedEOF
	}
	return strings.TrimRight(scanner.Text(), "\r\n"), nil
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
