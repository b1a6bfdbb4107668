package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/daimoniac/cdpilot/internal/apiclient"
	"github.com/daimoniac/cdpilot/internal/bulk"
	"github.com/daimoniac/cdpilot/internal/config"
	"github.com/daimoniac/cdpilot/internal/errors"
	"github.com/daimoniac/cdpilot/internal/notify"
	"github.com/daimoniac/cdpilot/internal/observability"
	"github.com/daimoniac/cdpilot/internal/policy"
	"github.com/daimoniac/cdpilot/internal/service"
	"github.com/daimoniac/cdpilot/internal/statestore"
	"github.com/spf13/cobra"
)

var (
	// Version info (set via ldflags)
	Version   = "dev"
	GitCommit = "none"
)

// app holds the dependencies shared by all commands. It is initialized once
// the command line has been parsed, so --help works without configuration.
type app struct {
	out io.Writer

	cfg     *config.Config
	logger  *slog.Logger
	svc     *service.Service
	notices *notify.Policy
	store   *statestore.SQLiteStore
}

func (a *app) init() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	a.logger = observability.NewLogger(cfg.Observability.LogLevel)
	slog.SetDefault(a.logger)
	a.logger.Debug("starting cdpilot",
		"version", Version,
		"orchestrator", cfg.Orchestrator.BaseURL(),
		"config_path", cfg.ConfigPath,
		"log_level", cfg.Observability.LogLevel)

	_ = observability.GetMetrics()

	client, err := apiclient.New(apiclient.Config{
		BaseURL:   cfg.Orchestrator.BaseURL(),
		Token:     cfg.Orchestrator.Token,
		Timeout:   cfg.Orchestrator.Timeout,
		LoginPath: cfg.Orchestrator.LoginPath,
		Logger:    a.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator client: %w", err)
	}

	a.svc = service.New(client, a.logger)
	a.notices = notify.NewPolicy(notify.NewLogNotifier(a.logger), observability.NewTelemetry(a.logger))
	return nil
}

// history opens the trigger history store on first use. A nil store with a
// nil error means history is disabled.
func (a *app) history() (*statestore.SQLiteStore, error) {
	if !a.cfg.History.Enabled {
		return nil, nil
	}
	if a.store != nil {
		return a.store, nil
	}

	a.logger.Debug("initializing history store",
		"path", a.cfg.History.SQLitePath)
	store, err := statestore.NewSQLiteStore(a.cfg.History.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sqlite store: %w", err)
	}
	observability.RegisterHistoryCollector(store, a.logger)
	a.store = store
	return store, nil
}

func (a *app) orchestrator(target bulk.Target, explain bool) (*bulk.Orchestrator, error) {
	var explainer policy.FilterExplainer
	if explain {
		engine, err := policy.NewEngine(a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create filter engine: %w", err)
		}
		explainer = engine
	}

	cfg := bulk.Config{
		BatchSize: a.cfg.Bulk.BatchSize,
		ReqPerSec: a.cfg.Bulk.ReqPerSec,
		PageSize:  a.cfg.Bulk.PageSize,
	}
	return bulk.NewOrchestrator(a.svc, explainer, target, cfg, a.logger), nil
}

// fail shows err through the notice policy and returns it for the exit code.
// Transient failures get a hint that re-running may succeed.
func (a *app) fail(err error) error {
	if a.notices != nil {
		a.notices.Show(err, notify.DefaultOptions())
	}
	if hint := retryHint(err); hint != "" {
		fmt.Fprintln(a.out, hint)
	}
	return err
}

func retryHint(err error) string {
	if !errors.IsTransient(err) {
		return ""
	}
	return "the orchestrator did not answer in time or is unavailable, re-run to retry"
}

func (a *app) close() {
	if a.cfg == nil {
		return
	}
	if err := observability.WriteTextfile(a.cfg.Observability.MetricsTextfile); err != nil {
		a.logger.Warn("failed to write metrics textfile",
			"path", a.cfg.Observability.MetricsTextfile,
			"error", err.Error())
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close history store", "error", err.Error())
		}
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "cdpilot",
		Short: "Select and deploy images through the orchestrator API",
		Long: `cdpilot lists deployment candidates of CD pipelines and deploys a
tagged image to many applications at once.

Examples:
  # Images available for one pipeline
  cdpilot materials --pipeline 42 --stage DEPLOY

  # Deploy v1.4.0 to every listed app on environment 7
  cdpilot bulk-deploy --env-id 7 --tag v1.4.0 --app 3:api:42 --app 4:web:43

  # Previous bulk deployments
  cdpilot history`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.init()
		},
	}

	root.AddCommand(newVersionCmd(a))
	root.AddCommand(newMaterialsCmd(a))
	root.AddCommand(newBulkDeployCmd(a))
	root.AddCommand(newHistoryCmd(a))
	root.AddCommand(newHealthCmd(a))
	return root
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.out, "cdpilot %s\n", Version)
			fmt.Fprintf(a.out, "  Git commit: %s\n", GitCommit)
		},
	}
}
