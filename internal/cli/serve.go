package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"sqlgate/internal/config"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway in the foreground",
	Long: `Run the gateway until interrupted.

While serving, the process:
- forwards fired execution timeouts to the webhook and audit log,
- watches the governance file and reloads rules and workflows on change,
- keeps the timeout coordinator's override tables in sync with the store.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	dir, err := projectDir()
	if err != nil {
		return err
	}

	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	logger := log.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go e.svc.ConsumeTimeoutEvents()

	watcher, err := config.NewWatcher(dir)
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	logger.Info("gateway serving",
		"db", e.cfg.DBPath,
		"governance", e.cfg.GovernanceFile,
		"servers", len(e.cfg.Servers))

	for {
		select {
		case <-ctx.Done():
			logger.Info("gateway stopping", "reason", "signal_or_context")
			return nil
		case ev := <-watcher.Events():
			logger.Info("governance change detected", "path", ev.Path)
			if err := reloadGovernance(e); err != nil {
				logger.Error("governance reload failed", "error", err)
			}
		case err := <-watcher.Errors():
			logger.Warn("watch error", "error", err)
		}
	}
}

// reloadGovernance re-reads the governance file and pushes rules, workflow
// definitions and timeout overrides into the running service. A broken file
// leaves the previous configuration in place.
func reloadGovernance(e *env) error {
	gov, err := config.LoadGovernance(e.cfg.GovernanceFile)
	if err != nil {
		return err
	}
	if err := syncWorkflows(e.db, gov); err != nil {
		return err
	}
	e.svc.SetRules(gov.Rules)
	return e.svc.Refresh()
}
