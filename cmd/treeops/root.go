package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rflorenc/treeops/internal/config"
	"github.com/rflorenc/treeops/internal/metrics"
	"github.com/rflorenc/treeops/internal/models"
	"github.com/rflorenc/treeops/internal/platform"
)

// app carries the state shared by every subcommand.
type app struct {
	cfg    *config.Config
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	getenv func(string) string

	// isTerminal reports whether stdin is interactive.
	isTerminal func() bool

	logger  *slog.Logger
	profile *models.Profile
	metrics *metrics.Recorder
	client  *platform.Client
	exec    *platform.Executor
	waiter  *platform.Waiter
}

func newApp(stdin io.Reader, stdout, stderr io.Writer, getenv func(string) string) *app {
	return &app{
		cfg:    config.Default(),
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		getenv: getenv,
		isTerminal: func() bool {
			f, ok := stdin.(*os.File)
			return ok && term.IsTerminal(int(f.Fd()))
		},
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "treeops",
		Short: "Delete and move CloudTruth project and environment trees",
		Long: "treeops runs bulk lifecycle operations against the CloudTruth API: deleting whole\n" +
			"subtrees of projects or environments in a safe order, and moving an environment\n" +
			"under a new parent while preserving its override values. It also seeds test data\n" +
			"and clears out parameters and integrations.",
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageErrorf("unknown command %q for %q", args[0], cmd.Name())
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SetVersionTemplate("treeops {{.Version}}\n")
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	f := root.PersistentFlags()
	f.StringVar(&a.cfg.Profile, "profile", "", "CloudTruth CLI profile to use (default \"default\" or $"+config.EnvProfile+")")
	f.StringVar(&a.cfg.ConfigFile, "config", "", "Path to the CloudTruth CLI config file (cli.yml)")
	f.StringVar(&a.cfg.APIKey, "api-key", "", "API key (overrides $"+config.EnvAPIKey+" and the profile)")
	f.StringVar(&a.cfg.ServerURL, "server-url", "", "Server URL (overrides $"+config.EnvServerURL+" and the profile)")
	f.BoolVar(&a.cfg.Insecure, "insecure", false, "Skip TLS certificate verification")
	f.IntVar(&a.cfg.PageSize, "page-size", a.cfg.PageSize, "Page size for collection requests")
	f.Float64Var(&a.cfg.RPS, "rps", 0, "Maximum API requests per second (0 = unlimited)")
	f.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "Log level: debug, info, warn, error")
	f.StringVar(&a.cfg.LogFormat, "log-format", a.cfg.LogFormat, "Log format: text or json")

	root.AddCommand(newDeleteTreeCmd(a), newPlanCmd(a), newMoveCmd(a), newServeCmd(a),
		newDeleteParametersCmd(a), newPopulateCmd(a), newDeleteIntegrationsCmd(a))
	return root
}

// noArgs rejects positional arguments as a usage error.
func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return usageErrorf("%s takes no positional arguments, got %q", cmd.CommandPath(), strings.Join(args, " "))
	}
	return nil
}

// setup resolves configuration and builds the API client stack. reg may be
// nil when metrics are not exported.
func (a *app) setup(reg prometheus.Registerer) error {
	if err := a.cfg.Validate(); err != nil {
		return &usageError{err: err}
	}
	a.logger = config.NewLogger(a.cfg.LogLevel, a.cfg.LogFormat, a.stderr).With("run_id", uuid.NewString())

	profile, err := a.cfg.Resolve(a.getenv)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	a.profile = profile

	if reg != nil {
		m, err := metrics.New(reg)
		if err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}
		a.metrics = m
	}

	a.client = platform.NewClient(profile,
		platform.WithLogger(a.logger),
		platform.WithRateLimit(a.cfg.RPS),
		platform.WithMetrics(a.metrics),
	)
	a.exec = platform.NewExecutor(a.client, a.logger, a.metrics)
	a.waiter = platform.NewWaiter(a.client, a.logger, a.metrics)
	a.logger.Debug("configured", "profile", profile.Name, "base_url", a.client.BaseURL(), "api_key", profile.MaskedAPIKey())
	return nil
}

// printer returns a progress sink that highlights outcome keywords.
func (a *app) printer() func(string) {
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()
	return func(line string) {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "FAIL"), strings.HasPrefix(trimmed, "CONFLICT"), strings.HasPrefix(trimmed, "Aborted"):
			line = red(line)
		case strings.HasPrefix(trimmed, "WARNING"), strings.HasPrefix(trimmed, "Interrupted"):
			line = yellow(line)
		case strings.HasPrefix(trimmed, "DELETED"), strings.HasPrefix(trimmed, "CREATED"), strings.HasPrefix(trimmed, "RENAMED"):
			line = green(line)
		case strings.HasPrefix(trimmed, "==="), strings.HasPrefix(trimmed, "---"):
			line = bold(line)
		}
		fmt.Fprintln(a.stdout, line)
	}
}
