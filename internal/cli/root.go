// Package cli wires the cobra command tree around the core client. It owns
// everything the core treats as external: flag and environment parsing,
// credential resolution, output formatting, and exit semantics.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/akarpov87/m2mfetch/internal/catalog"
	"github.com/akarpov87/m2mfetch/internal/config"
	"github.com/akarpov87/m2mfetch/internal/logging"
	"github.com/akarpov87/m2mfetch/internal/m2m"
)

// Environment variables consulted when the credential flags are absent.
const (
	envUsername = "USGS_USERNAME"
	envAuth     = "USGS_AUTH"
)

// App carries the assembled client stack plus the global flag values.
type App struct {
	out io.Writer
	err io.Writer

	cfg       *config.Config
	log       logging.Logger
	transport *m2m.Transport
	session   *m2m.SessionManager
	catalog   *catalog.Service

	username   string
	auth       string
	authMethod string
	configPath string
	verbosity  int
	dryRun     bool
	strict     bool

	cfgFlags configFlags
	flagSet  *pflag.FlagSet
}

func NewApp() *App {
	return &App{out: os.Stdout, err: os.Stderr}
}

// Execute runs the command tree. The returned error signals a nonzero exit.
func (a *App) Execute(ctx context.Context, args []string) error {
	root := a.newRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func (a *App) newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "m2mfetch",
		Short:         "Search and download scenes from the USGS M2M catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.teardown(cmd.Context())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.username, "username", "", "account username (default $"+envUsername+")")
	pf.StringVar(&a.auth, "auth", "", "application token or password (default $"+envAuth+")")
	pf.StringVar(&a.authMethod, "auth-method", "token", "login method: token or password")
	pf.StringVar(&a.configPath, "config", "", "optional YAML config file")
	pf.CountVarP(&a.verbosity, "verbose", "v", "increase logging verbosity (-v, -vv)")
	pf.BoolVar(&a.dryRun, "dry-run", false, "search and estimate only, submit nothing")
	pf.BoolVar(&a.strict, "strict", false, "exit nonzero when any item in a batch fails")
	a.cfgFlags.register(pf)
	a.flagSet = pf

	root.AddCommand(
		a.newSearchCmd(),
		a.newDownloadCmd(),
		a.newGeocodeCmd(),
		a.newGrid2llCmd(),
		a.newQueueCmd(),
	)
	return root
}

// setup resolves configuration and credentials and assembles the client
// stack. The core never reads the environment; it all happens here.
func (a *App) setup(cmd *cobra.Command) error {
	_ = godotenv.Load()

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfgFlags.apply(cfg, a.flagSet)
	a.cfg = cfg
	a.log = newLogger(a.err, a.verbosity)

	if a.username == "" {
		a.username = os.Getenv(envUsername)
	}
	if a.auth == "" {
		a.auth = os.Getenv(envAuth)
	}
	if a.username == "" {
		return fmt.Errorf("no username given (flag --username or $%s): %w",
			envUsername, m2m.ErrInvalidParameter)
	}
	if a.auth == "" {
		secret, err := getSecret(a.err, "Enter "+a.authMethod+": ")
		if err != nil {
			return fmt.Errorf("read credentials: %w", err)
		}
		a.auth = secret
	}

	creds := m2m.Credentials{Username: a.username}
	switch a.authMethod {
	case "token":
		creds.Token = a.auth
	case "password":
		creds.Password = a.auth
	default:
		return fmt.Errorf("unknown auth method %q: %w", a.authMethod, m2m.ErrInvalidParameter)
	}

	a.transport = m2m.NewTransport(cfg.Endpoint, cfg.HTTPTimeout.Std(), cfg.RequestsPerSecond, a.log)
	a.session = m2m.NewSessionManager(a.transport, creds, a.log)
	a.catalog = catalog.NewService(a.session, a.log)
	return nil
}

// teardown releases the remote session. Best effort: the session manager
// guarantees local state is logged out regardless.
func (a *App) teardown(ctx context.Context) {
	if a.session != nil {
		a.session.Logout(context.WithoutCancel(ctx))
	}
}

func newLogger(w io.Writer, verbosity int) logging.Logger {
	level := slog.LevelWarn
	switch {
	case verbosity >= 2:
		level = slog.LevelDebug
	case verbosity == 1:
		level = slog.LevelInfo
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return logging.NewSlogLogger(slog.New(h))
}
