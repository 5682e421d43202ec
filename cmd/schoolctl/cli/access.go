package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/synod-schools/portal/internal/rbac"
)

// MenuEntry is one visible navigation entry.
type MenuEntry struct {
	Key   string `json:"key" yaml:"key"`
	Label string `json:"label" yaml:"label"`
	Path  string `json:"path" yaml:"path"`
}

// CheckResult is the outcome of one access question.
type CheckResult struct {
	Kind    string `json:"kind" yaml:"kind"`
	Subject string `json:"subject" yaml:"subject"`
	Allowed bool   `json:"allowed" yaml:"allowed"`
}

// TenantEntry is one school the user may switch to.
type TenantEntry struct {
	ID      int64  `json:"id" yaml:"id"`
	Slug    string `json:"slug" yaml:"slug"`
	Name    string `json:"name" yaml:"name"`
	Current bool   `json:"current" yaml:"current"`
}

var errDenied = errors.New("access denied")

func (rt *env) menuCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "menu",
		Short: "List the portal menu entries visible to you",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rt.context(cmd)
			defer cancel()
			sh, err := rt.open(ctx)
			if err != nil {
				return err
			}
			if sh.Session.Identity() == nil {
				return errNotSignedIn
			}
			items := sh.Session.Evaluator().AccessibleMenuItems()
			out := make([]MenuEntry, 0, len(items))
			for _, item := range items {
				out = append(out, MenuEntry{Key: item.Key, Label: item.Label, Path: item.Path})
			}
			if done, err := rt.formatOutput(cmd.OutOrStdout(), out); done {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tLABEL\tPATH")
			for _, e := range out {
				fmt.Fprintf(w, "%s\t%s\t%s\n", e.Key, e.Label, e.Path)
			}
			return w.Flush()
		},
	}
}

func (rt *env) canCmd() *cobra.Command {
	var (
		modules []string
		actions []string
		roles   []string
		anyOf   bool
	)
	cmd := &cobra.Command{
		Use:   "can [permission...]",
		Short: "Check permissions, module access, actions and roles",
		Long: `can evaluates access the way the portal does and exits non-zero when
any check is denied, or with --any when every check is denied.
Permissions are module.action names. Actions are given as module:action
and accept synonyms such as edit or remove.`,
		Example: `  schoolctl can students.read
  schoolctl can --module finance --action students:edit --role Teacher`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args)+len(modules)+len(actions)+len(roles) == 0 {
				return errors.New("nothing to check")
			}
			ctx, cancel := rt.context(cmd)
			defer cancel()
			sh, err := rt.open(ctx)
			if err != nil {
				return err
			}
			if sh.Session.Identity() == nil {
				return errNotSignedIn
			}
			results, err := evaluate(sh.Session.Evaluator(), args, modules, actions, roles)
			if err != nil {
				return err
			}

			if done, err := rt.formatOutput(cmd.OutOrStdout(), results); done {
				if err != nil {
					return err
				}
			} else {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "CHECK\tSUBJECT\tALLOWED")
				for _, res := range results {
					fmt.Fprintf(w, "%s\t%s\t%s\n", res.Kind, res.Subject, yesNo(res.Allowed))
				}
				if err := w.Flush(); err != nil {
					return err
				}
			}
			if !granted(results, anyOf) {
				return errDenied
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&modules, "module", "m", nil, "Module to check access for")
	cmd.Flags().StringSliceVarP(&actions, "action", "a", nil, "Action to check as module:action")
	cmd.Flags().StringSliceVarP(&roles, "role", "r", nil, "Role to check for")
	cmd.Flags().BoolVar(&anyOf, "any", false, "Succeed when any one check is allowed")
	return cmd
}

// evaluate answers each question in argument order.
func evaluate(ev rbac.Evaluator, perms, modules, actions, roles []string) ([]CheckResult, error) {
	var results []CheckResult
	for _, p := range rbac.NormalizePermissions(perms) {
		results = append(results, CheckResult{Kind: "permission", Subject: p.String(), Allowed: ev.HasPermission(p)})
	}
	for _, m := range modules {
		results = append(results, CheckResult{Kind: "module", Subject: m, Allowed: ev.CanAccessModule(m)})
	}
	for _, a := range actions {
		module, action, ok := strings.Cut(a, ":")
		if !ok || module == "" || action == "" {
			return nil, fmt.Errorf("action %q must be module:action", a)
		}
		results = append(results, CheckResult{
			Kind:    "action",
			Subject: rbac.ActionPermission(module, action).String(),
			Allowed: ev.CanPerformAction(module, action),
		})
	}
	for _, name := range roles {
		role, err := rbac.ParseRole(name)
		if err != nil {
			return nil, err
		}
		results = append(results, CheckResult{Kind: "role", Subject: role.String(), Allowed: ev.HasRole(role)})
	}
	return results, nil
}

// granted reports whether every check passed, or at least one with anyOf.
func granted(results []CheckResult, anyOf bool) bool {
	for _, res := range results {
		if res.Allowed == anyOf {
			return anyOf
		}
	}
	return !anyOf
}

func (rt *env) tenantsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tenants",
		Short: "List the schools you may switch between",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rt.context(cmd)
			defer cancel()
			sh, err := rt.open(ctx)
			if err != nil {
				return err
			}
			if sh.Session.Identity() == nil {
				return errNotSignedIn
			}
			cred, err := sh.Credentials.Get(ctx)
			if err != nil {
				return err
			}
			tenants, err := sh.API.Tenants(ctx)
			if err != nil {
				return fmt.Errorf("list tenants: %w", err)
			}
			out := make([]TenantEntry, 0, len(tenants))
			for _, t := range tenants {
				out = append(out, TenantEntry{ID: t.ID, Slug: t.Slug, Name: t.Name, Current: t.Slug == cred.Tenant})
			}
			if done, err := rt.formatOutput(cmd.OutOrStdout(), out); done {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "\tSLUG\tNAME")
			for _, t := range out {
				marker := ""
				if t.Current {
					marker = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", marker, t.Slug, t.Name)
			}
			return w.Flush()
		},
	}
}

func yesNo(ok bool) string {
	if ok {
		return color.GreenString("yes")
	}
	return color.RedString("no")
}
