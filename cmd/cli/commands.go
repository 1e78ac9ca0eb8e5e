package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/and161185/consulta/internal/backend"
	"github.com/and161185/consulta/internal/config"
	"github.com/and161185/consulta/internal/errs"
	"github.com/and161185/consulta/internal/menu"
	"github.com/and161185/consulta/internal/model"
	"github.com/and161185/consulta/internal/profile"
	"github.com/and161185/consulta/internal/session"
	"github.com/and161185/consulta/internal/storage"
)

var (
	errNotSignedIn = errors.New("not signed in")
	errNoStorage   = errors.New("sign-in needs storage for the credential (--storage file, redis or memory)")
)

// loadConfig is swapped in tests.
var loadConfig = func() (config.Client, error) { return config.LoadClient(storage.DefaultDir()) }

// newRootCmd builds the command tree. The returned func releases whatever
// the executed command opened; cobra skips post-run hooks on failure.
func newRootCmd() (*cobra.Command, func()) {
	var (
		a         *app
		apiURL    string
		store     string
		logLevel  string
		asJSON    bool
		needsApp  = func(cmd *cobra.Command) bool { return cmd.Name() != "version" }
		printJSON = func(w io.Writer, v any) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		}
	)

	root := &cobra.Command{
		Use:           "consulta",
		Short:         "Session, identity context and navigation checks for Consulta",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !needsApp(cmd) {
				return nil
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if apiURL != "" {
				cfg.APIURL = apiURL
			}
			if store != "" {
				cfg.Storage = store
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			a, err = newApp(cmd.Context(), cfg)
			return err
		},
	}
	root.PersistentFlags().StringVar(&apiURL, "api", "", "identity backend base URL (CONSULTA_API_URL)")
	root.PersistentFlags().StringVar(&store, "storage", "", "file, redis, memory or none (CONSULTA_STORAGE)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (CONSULTA_LOG_LEVEL)")
	root.PersistentFlags().BoolVar(&asJSON, "json", false, "print machine-readable JSON")

	var email, password string
	login := &cobra.Command{
		Use:   "login",
		Short: "Sign in and load the full session",
		Long: `Sign in with email and password, then load permissions and contexts.

The password is read from the first line of stdin when --password is not set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if !a.creds.Available() {
				return errNoStorage
			}
			if password == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if _, err := a.session.Login(ctx, email, password); err != nil {
				return describe(a.session.Snapshot(), err)
			}
			if _, err := a.session.LoadSession(ctx); err != nil {
				return describe(a.session.Snapshot(), err)
			}
			s := a.session.Snapshot()
			ret, pending := a.nav.pendingReturn()
			if pending {
				a.nav.arrive(ret)
			}
			if asJSON {
				v := sessionView(s, a.profile.Current())
				v.ReturnURL = ret
				return printJSON(cmd.OutOrStdout(), v)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s\n", s.User.Name)
			if s.CurrentContext != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "context: %s %s (%s)\n", s.CurrentContext.Type, s.CurrentContext.ID, s.CurrentContext.Name)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "home: %s\n", session.DefaultRoute(s.CurrentContext))
			if pending {
				fmt.Fprintf(cmd.OutOrStdout(), "continue: %s\n", ret)
			}
			return nil
		},
	}
	login.Flags().StringVarP(&email, "email", "e", "", "account email")
	login.Flags().StringVarP(&password, "password", "p", "", "account password")
	_ = login.MarkFlagRequired("email")

	logout := &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored credential and context",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.session.Logout(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		},
	}

	whoami := &cobra.Command{
		Use:   "whoami",
		Short: "Show the current identity, context and UI profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.restore(cmd.Context(), cmd.ErrOrStderr())
			s := a.session.Snapshot()
			if !s.IsAuthenticated {
				if ret, ok := a.nav.pendingReturn(); ok {
					fmt.Fprintf(cmd.ErrOrStderr(), "sign in to continue to %s\n", ret)
				}
				return errNotSignedIn
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), sessionView(s, a.profile.Current()))
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s <%s>\n", s.User.Name, s.User.Email)
			fmt.Fprintf(w, "roles: %s\n", strings.Join(s.User.Roles, ", "))
			fmt.Fprintf(w, "permissions: %d\n", len(s.User.Permissions))
			if s.CurrentContext != nil {
				fmt.Fprintf(w, "context: %s %s (%s)\n", s.CurrentContext.Type, s.CurrentContext.ID, s.CurrentContext.Name)
			} else {
				fmt.Fprintln(w, "context: none")
			}
			fmt.Fprintf(w, "profile: %s\n", a.profile.Current())
			if exp, ok := a.creds.Expiry(cmd.Context()); ok {
				fmt.Fprintf(w, "expires: %s\n", exp.Format(time.RFC3339))
			}
			return nil
		},
	}

	contexts := &cobra.Command{
		Use:   "contexts",
		Short: "List the contexts the user can act in",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.restore(cmd.Context(), cmd.ErrOrStderr())
			s := a.session.Snapshot()
			if !s.IsAuthenticated {
				return errNotSignedIn
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), s.User.Contexts)
			}
			for _, c := range s.User.Contexts {
				mark := " "
				if s.CurrentContext != nil && s.CurrentContext.Same(c) {
					mark = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-12s %-16s %s\n", mark, c.Type, c.ID, c.Name)
			}
			return nil
		},
	}

	switchCmd := &cobra.Command{
		Use:   "switch TYPE ID",
		Short: "Change the active context",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, ok := model.ParseContextType(args[0])
			if !ok {
				return fmt.Errorf("%w: unknown context type %q", errs.ErrValidation, args[0])
			}
			a.restore(cmd.Context(), cmd.ErrOrStderr())
			s := a.session.Snapshot()
			if !s.IsAuthenticated {
				return errNotSignedIn
			}
			if !a.session.SwitchContext(cmd.Context(), model.Context{Type: t, ID: args[1]}) {
				return fmt.Errorf("%w: no %s context %q", errs.ErrForbidden, t, args[1])
			}
			cur := a.session.Snapshot().CurrentContext
			fmt.Fprintf(cmd.OutOrStdout(), "context: %s %s (%s)\nhome: %s\n", cur.Type, cur.ID, cur.Name, session.DefaultRoute(cur))
			return nil
		},
	}

	check := &cobra.Command{
		Use:   "check PATH",
		Short: "Evaluate the route checkpoints for PATH",
		Long: `Evaluate the route checkpoints for PATH against the current session.

Prints "allow" or "redirect <target>". Paths not in the route table are public.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.nav.visit(args[0])
			a.restore(cmd.Context(), cmd.ErrOrStderr())
			d := a.guard.Check(args[0], a.session.Snapshot())
			if asJSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{"allowed": d.Allowed, "redirect": d.Redirect.URL()})
			}
			fmt.Fprintln(cmd.OutOrStdout(), d.String())
			return nil
		},
	}

	menuCmd := &cobra.Command{
		Use:   "menu",
		Short: "Show the navigation menu the current user may see",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.restore(cmd.Context(), cmd.ErrOrStderr())
			items := menu.Filter(a.menu.ForProfile(a.profile.Current()), a.session.Snapshot())
			if asJSON {
				return printJSON(cmd.OutOrStdout(), items)
			}
			printMenu(cmd.OutOrStdout(), items, 0)
			return nil
		},
	}

	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the derived UI profile and its base route",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.restore(cmd.Context(), cmd.ErrOrStderr())
			p := a.profile.Current()
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", p, profile.BaseRoute(p))
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "consulta %s (%s)\n", version, buildDate)
		},
	}

	root.AddCommand(login, logout, whoami, contexts, switchCmd, check, menuCmd, profileCmd, versionCmd)
	return root, func() {
		if a != nil {
			a.Close()
		}
	}
}

// describe turns a failed operation into the message users see.
func describe(s model.Session, err error) error {
	if errors.Is(err, session.ErrSuperseded) {
		return err
	}
	var pe *backend.ProblemError
	if errors.As(err, &pe) {
		return fmt.Errorf("%s: %s", pe.Problem.Title, pe.Problem.Detail)
	}
	if s.LastError != nil {
		return fmt.Errorf("%s: %s", s.LastError.Title, s.LastError.Detail)
	}
	return err
}

type sessionJSON struct {
	ID             string          `json:"id"`
	Email          string          `json:"email"`
	Name           string          `json:"name"`
	Roles          []string        `json:"roles"`
	Permissions    []string        `json:"permissions"`
	Contexts       []model.Context `json:"contexts"`
	CurrentContext *model.Context  `json:"currentContext"`
	Profile        model.UIProfile `json:"profile"`
	Home           string          `json:"home"`
	ReturnURL      string          `json:"returnUrl,omitempty"`
}

func sessionView(s model.Session, p model.UIProfile) sessionJSON {
	v := sessionJSON{CurrentContext: s.CurrentContext, Profile: p, Home: session.DefaultRoute(s.CurrentContext)}
	if s.User != nil {
		v.ID, v.Email, v.Name = s.User.ID, s.User.Email, s.User.Name
		v.Roles, v.Permissions, v.Contexts = s.User.Roles, s.User.Permissions, s.User.Contexts
	}
	return v
}

func printMenu(w io.Writer, items []menu.Item, depth int) {
	for _, it := range items {
		fmt.Fprintf(w, "%s%-*s %s\n", strings.Repeat("  ", depth), 24-2*depth, it.Label, it.Path)
		printMenu(w, it.Children, depth+1)
	}
}
