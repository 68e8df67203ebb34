// Package cli implements the sqlgate command-line interface.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"sqlgate/internal/config"
	"sqlgate/internal/exec"
	"sqlgate/internal/gateway"
	"sqlgate/internal/notify"
	"sqlgate/internal/store"
	"sqlgate/internal/timeout"
	"sqlgate/internal/workflow"
)

var (
	flagProject string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "sqlgate",
	Short: "SQL access gateway with whitelist, policy and approval workflows",
	Long: `sqlgate governs SQL statements before they reach a database.

Statements are analyzed, matched against a whitelist, gated by policy rules
and, when necessary, routed through an approval workflow. Cleared statements
execute under a timeout coordinator.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flagVerbose {
			log.SetLevel(log.DebugLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagProject, "project", "C", "", "project path (defaults to current directory)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// projectDir resolves the project path from --project or the working
// directory.
func projectDir() (string, error) {
	if flagProject != "" {
		return flagProject, nil
	}
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	return dir, nil
}

// openEnv loads config and opens the state database for the project.
func openEnv() (*config.Config, *store.DB, error) {
	dir, err := projectDir()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, nil, err
	}
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening state database: %w", err)
	}
	return cfg, db, nil
}

// env bundles everything a command needs, with one Close for all of it.
type env struct {
	cfg   *config.Config
	db    *store.DB
	svc   *gateway.Service
	coord *timeout.Coordinator
	run   *exec.PgxRunner
}

func (e *env) Close() {
	e.run.Close()
	e.coord.Close()
	e.db.Close()
}

// newEnv assembles the full gateway service from the project config.
func newEnv() (*env, error) {
	cfg, db, err := openEnv()
	if err != nil {
		return nil, err
	}

	gov, err := config.LoadGovernance(cfg.GovernanceFile)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := syncWorkflows(db, gov); err != nil {
		db.Close()
		return nil, err
	}

	coord := timeout.NewCoordinator(timeout.Config{
		Fallback:  cfg.FallbackTimeout(),
		Retention: cfg.Retention(),
	})
	applyConfigTimeouts(coord, cfg)

	runner := exec.NewPgxRunner(cfg.Servers, nil)

	var notifier gateway.Notifier
	if cfg.WebhookURL != "" {
		notifier = notify.NewManager(notify.NewWebhook(cfg.WebhookURL), nil)
	}

	svc := gateway.New(gateway.Config{
		Store:                db,
		Runner:               runner,
		Coordinator:          coord,
		Engine:               workflow.NewEngine(db, nil),
		Notifier:             notifier,
		Auditor:              db,
		Rules:                gov.Rules,
		SelfApproveRoles:     cfg.SelfApproveRoles,
		AutoApproveThreshold: cfg.AutoApproveThreshold,
		Level:                cfg.Level(),
	})
	if err := svc.Refresh(); err != nil {
		runner.Close()
		coord.Close()
		db.Close()
		return nil, err
	}

	return &env{cfg: cfg, db: db, svc: svc, coord: coord, run: runner}, nil
}

// syncWorkflows upserts the governance file's workflow definitions.
func syncWorkflows(db *store.DB, gov *config.Governance) error {
	for _, def := range gov.Workflows {
		if err := db.ReplaceWorkflowDefinition(def); err != nil {
			return fmt.Errorf("syncing workflow %s: %w", def.ID, err)
		}
	}
	return nil
}

// applyConfigTimeouts loads the config file's timeout tables into the
// coordinator. Persisted overrides are applied afterwards via Refresh and
// take precedence.
func applyConfigTimeouts(coord *timeout.Coordinator, cfg *config.Config) {
	for principal, secs := range cfg.Timeouts.Principals {
		coord.SetPrincipalOverride(principal, secondsToDuration(secs))
	}
	for server, secs := range cfg.Timeouts.Servers {
		coord.SetServerOverride(server, secondsToDuration(secs))
	}
	for role, secs := range cfg.Timeouts.Roles {
		coord.SetRoleOverride(role, secondsToDuration(secs))
	}
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
