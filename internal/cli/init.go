package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"sqlgate/internal/config"
	"sqlgate/internal/store"
)

var flagInitForce bool

func init() {
	initCmd.Flags().BoolVarP(&flagInitForce, "force", "f", false, "reinitialize even if .sqlgate/ already exists")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize sqlgate in the current project",
	Long: `Initialize the sqlgate directory structure for a project.

Creates the following structure:
  .sqlgate/
  ├── state.db          # SQLite database (WAL mode)
  ├── config.toml       # Gateway configuration
  └── governance.toml   # Policy rules and workflow definitions

Also adds .sqlgate/ to .gitignore if not already present.`,
	RunE: runInit,
}

const defaultGovernanceTemplate = `# sqlgate governance: policy rules and approval workflows
#
# Rules evaluate in order. A matching deny rejects with its message; with any
# rules present, at least one allow must match.

# [[rule]]
# kind = "contains_table"
# action = "deny"
# values = ["audit_log"]
# message = "audit log is protected"

# [[rule]]
# kind = "statement_kind"
# action = "allow"
# values = ["select", "insert", "update", "delete"]

[[workflow]]
id = "default-review"
name = "Default review"
priority = 1

  [[workflow.step]]
  approver_type = "role"
  approver_value = "dba"
  required = true
`

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := projectDir()
	if err != nil {
		return err
	}

	gateDir := filepath.Join(dir, config.DirName)
	if info, err := os.Stat(gateDir); err == nil && info.IsDir() && !flagInitForce {
		return fmt.Errorf("already initialized: %s exists (use --force to reinitialize)", gateDir)
	}

	if err := os.MkdirAll(gateDir, 0750); err != nil {
		return fmt.Errorf("creating %s: %w", gateDir, err)
	}

	// Database: Open applies migrations.
	db, err := store.Open(filepath.Join(gateDir, "state.db"))
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	version, _ := db.GetSchemaVersion()
	db.Close()

	configPath, err := config.WriteDefault(dir)
	if err != nil {
		if !flagInitForce {
			return err
		}
		// Reinitializing keeps an existing config file.
		configPath = filepath.Join(gateDir, config.FileName)
	}

	govPath := filepath.Join(gateDir, "governance.toml")
	if _, err := os.Stat(govPath); os.IsNotExist(err) {
		if err := os.WriteFile(govPath, []byte(defaultGovernanceTemplate), 0644); err != nil {
			return fmt.Errorf("writing governance file: %w", err)
		}
	}

	if err := addToGitignore(dir); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	fmt.Printf("Initialized sqlgate in %s\n", gateDir)
	fmt.Printf("  schema version: %d\n", version)
	fmt.Printf("  config:         %s\n", configPath)
	fmt.Printf("  governance:     %s\n", govPath)
	return nil
}

func addToGitignore(projectDir string) error {
	path := filepath.Join(projectDir, ".gitignore")
	entry := config.DirName + "/"

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading .gitignore: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == entry {
			return nil
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening .gitignore: %w", err)
	}
	defer f.Close()

	prefix := ""
	if len(data) > 0 && !strings.HasSuffix(string(data), "\n") {
		prefix = "\n"
	}
	if _, err := fmt.Fprintf(f, "%s%s\n", prefix, entry); err != nil {
		return fmt.Errorf("updating .gitignore: %w", err)
	}
	return nil
}
