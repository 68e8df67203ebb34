// Package config loads gateway configuration from defaults, the project
// config file and SQLGATE_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"sqlgate/internal/similarity"
)

// DirName is the project directory holding the database and config file.
const DirName = ".sqlgate"

// FileName is the config file name inside DirName.
const FileName = "config.toml"

// Timeouts holds per-subject execution timeout overrides in seconds.
type Timeouts struct {
	// Fallback applies when no override matches.
	Fallback int `mapstructure:"fallback"`
	// Principals maps principal names to timeout seconds.
	Principals map[string]int `mapstructure:"principals"`
	// Servers maps server names to timeout seconds.
	Servers map[string]int `mapstructure:"servers"`
	// Roles maps role names to timeout seconds.
	Roles map[string]int `mapstructure:"roles"`
}

// Config is the resolved gateway configuration.
type Config struct {
	// DBPath is the sqlite state database path.
	DBPath string `mapstructure:"db_path"`
	// GovernanceFile is the policy rules and workflow definitions file.
	GovernanceFile string `mapstructure:"governance_file"`
	// WebhookURL receives decision and timeout notifications. Empty disables.
	WebhookURL string `mapstructure:"webhook_url"`
	// AutoApproveThreshold is the similarity score for auto-approval.
	AutoApproveThreshold float64 `mapstructure:"auto_approve_threshold"`
	// SimilarityLevel is basic, medium or high.
	SimilarityLevel string `mapstructure:"similarity_level"`
	// SelfApproveRoles execute without approval.
	SelfApproveRoles []string `mapstructure:"self_approve_roles"`
	// RetentionMinutes bounds the timeout diagnostic history.
	RetentionMinutes int `mapstructure:"retention_minutes"`
	// Servers maps server names to DSNs for the executor.
	Servers map[string]string `mapstructure:"servers"`
	// Timeouts holds execution timeout settings.
	Timeouts Timeouts `mapstructure:"timeouts"`
}

// Load resolves the configuration for a project directory. A missing config
// file is not an error; defaults and environment variables still apply.
func Load(projectDir string) (*Config, error) {
	v := viper.New()

	setDefaults(v, projectDir)

	path := filepath.Join(projectDir, DirName, FileName)
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("SQLGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, projectDir string) {
	v.SetDefault("db_path", filepath.Join(projectDir, DirName, "state.db"))
	v.SetDefault("governance_file", filepath.Join(projectDir, DirName, "governance.toml"))
	v.SetDefault("webhook_url", "")
	v.SetDefault("auto_approve_threshold", similarity.ThresholdHigh)
	v.SetDefault("similarity_level", string(similarity.DefaultLevel))
	v.SetDefault("self_approve_roles", []string{})
	v.SetDefault("retention_minutes", 60)
	v.SetDefault("timeouts.fallback", 60)
}

func (c *Config) validate() error {
	if c.AutoApproveThreshold < 0 || c.AutoApproveThreshold > 1 {
		return fmt.Errorf("auto_approve_threshold %v outside [0,1]", c.AutoApproveThreshold)
	}
	if !similarity.Level(c.SimilarityLevel).Valid() {
		return fmt.Errorf("unknown similarity_level %q", c.SimilarityLevel)
	}
	if c.Timeouts.Fallback <= 0 {
		return fmt.Errorf("timeouts.fallback must be positive, got %d", c.Timeouts.Fallback)
	}
	return nil
}

// Level returns the configured similarity level.
func (c *Config) Level() similarity.Level {
	return similarity.Level(c.SimilarityLevel)
}

// FallbackTimeout returns the fallback execution timeout.
func (c *Config) FallbackTimeout() time.Duration {
	return time.Duration(c.Timeouts.Fallback) * time.Second
}

// Retention returns the timeout history retention window.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionMinutes) * time.Minute
}

// defaultConfigTemplate is written by `sqlgate init`.
const defaultConfigTemplate = `# sqlgate configuration

# db_path = ".sqlgate/state.db"
# governance_file = ".sqlgate/governance.toml"
# webhook_url = ""
# auto_approve_threshold = 0.90
# similarity_level = "medium"
# self_approve_roles = []
# retention_minutes = 60

[timeouts]
fallback = 60
# [timeouts.principals]
# alice = 120
# [timeouts.servers]
# prod = 30
# [timeouts.roles]
# intern = 15

[servers]
# prod = "postgres://gateway@prod-db:5432/app"
`

// WriteDefault writes the commented default config file. It refuses to
// overwrite an existing file.
func WriteDefault(projectDir string) (string, error) {
	dir := filepath.Join(projectDir, DirName)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err == nil {
		return path, fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}
