package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"sqlgate/internal/policy"
	"sqlgate/internal/similarity"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBPath != filepath.Join(dir, DirName, "state.db") {
		t.Errorf("db path = %s", cfg.DBPath)
	}
	if cfg.AutoApproveThreshold != similarity.ThresholdHigh {
		t.Errorf("threshold = %v, want %v", cfg.AutoApproveThreshold, similarity.ThresholdHigh)
	}
	if cfg.Level() != similarity.DefaultLevel {
		t.Errorf("level = %s", cfg.Level())
	}
	if cfg.FallbackTimeout() != 60*time.Second {
		t.Errorf("fallback = %v", cfg.FallbackTimeout())
	}
	if cfg.Retention() != time.Hour {
		t.Errorf("retention = %v", cfg.Retention())
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, DirName)
	if err := os.MkdirAll(cfgDir, 0750); err != nil {
		t.Fatal(err)
	}

	content := `
webhook_url = "https://hooks.example.com/sqlgate"
auto_approve_threshold = 0.95
self_approve_roles = ["dba", "sre"]

[timeouts]
fallback = 45
[timeouts.servers]
prod = 30

[servers]
prod = "postgres://gateway@prod-db:5432/app"
`
	if err := os.WriteFile(filepath.Join(cfgDir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.WebhookURL != "https://hooks.example.com/sqlgate" {
		t.Errorf("webhook = %s", cfg.WebhookURL)
	}
	if cfg.AutoApproveThreshold != 0.95 {
		t.Errorf("threshold = %v", cfg.AutoApproveThreshold)
	}
	if len(cfg.SelfApproveRoles) != 2 {
		t.Errorf("self approve roles = %v", cfg.SelfApproveRoles)
	}
	if cfg.Timeouts.Fallback != 45 || cfg.Timeouts.Servers["prod"] != 30 {
		t.Errorf("timeouts = %+v", cfg.Timeouts)
	}
	if cfg.Servers["prod"] == "" {
		t.Error("server DSN not loaded")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, DirName)
	if err := os.MkdirAll(cfgDir, 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, FileName), []byte("auto_approve_threshold = 1.5\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for threshold outside [0,1]")
	}
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteDefault(dir)
	if err != nil {
		t.Fatalf("WriteDefault failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file missing: %v", err)
	}

	if _, err := Load(dir); err != nil {
		t.Fatalf("written default does not load: %v", err)
	}

	if _, err := WriteDefault(dir); err == nil {
		t.Fatal("expected error overwriting existing config")
	}
}

func TestLoadGovernance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "governance.toml")
	content := `
[[rule]]
kind = "contains_table"
action = "deny"
values = ["audit_log"]
message = "audit log is protected"

[[rule]]
kind = "statement_kind"
action = "allow"
values = ["select", "delete"]

[[workflow]]
id = "dba-review"
name = "DBA review"
priority = 10
roles = ["analyst"]

  [[workflow.step]]
  approver_type = "role"
  approver_value = "dba"
  required = true

  [[workflow.step]]
  approver_type = "role"
  approver_value = "security"
  required = false
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	gov, err := LoadGovernance(path)
	if err != nil {
		t.Fatalf("LoadGovernance failed: %v", err)
	}
	if len(gov.Rules) != 2 {
		t.Fatalf("rules = %d, want 2", len(gov.Rules))
	}
	if gov.Rules[0].Action != policy.ActionDeny || gov.Rules[0].Message != "audit log is protected" {
		t.Errorf("first rule = %+v", gov.Rules[0])
	}
	if len(gov.Workflows) != 1 {
		t.Fatalf("workflows = %d, want 1", len(gov.Workflows))
	}
	def := gov.Workflows[0]
	if def.ID != "dba-review" || def.Priority != 10 || len(def.Steps) != 2 {
		t.Errorf("workflow = %+v", def)
	}
	if !def.Steps[0].Required || def.Steps[1].Required {
		t.Error("step required flags not honored")
	}
}

func TestLoadGovernanceMissingFileIsEmpty(t *testing.T) {
	gov, err := LoadGovernance(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(gov.Rules) != 0 || len(gov.Workflows) != 0 {
		t.Error("expected empty governance")
	}
}

func TestLoadGovernanceRejectsInvalidRule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "governance.toml")
	content := `
[[rule]]
kind = "matches_regex"
action = "deny"
pattern = "("
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadGovernance(path); err == nil {
		t.Fatal("expected error for invalid regex")
	}
}

func TestWatcherDebounceAggregatesOpsForSamePath(t *testing.T) {
	w := &Watcher{
		projectDir:     t.TempDir(),
		logger:         log.Default(),
		debounceWindow: 100 * time.Millisecond,
		events:         make(chan WatchEvent, 10),
		errors:         make(chan error, 1),
		pending:        make(map[string]fsnotify.Op),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}

	w.record("/tmp/a", fsnotify.Create)
	w.record("/tmp/a", fsnotify.Write)
	w.record("/tmp/b", fsnotify.Remove)

	w.flush()

	got := map[string]fsnotify.Op{}
	for i := 0; i < 2; i++ {
		ev := <-w.events
		got[ev.Path] = ev.Op
	}
	if got["/tmp/a"]&(fsnotify.Create|fsnotify.Write) != (fsnotify.Create | fsnotify.Write) {
		t.Fatalf("aggregated ops = %v", got["/tmp/a"])
	}
	if got["/tmp/b"]&fsnotify.Remove != fsnotify.Remove {
		t.Fatalf("remove op = %v", got["/tmp/b"])
	}
}

func TestWatcherEmitsEventOnGovernanceWrite(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, DirName), 0750); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(dir)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		_ = w.Stop()
	})

	govPath := filepath.Join(dir, DirName, "governance.toml")
	if err := os.WriteFile(govPath, []byte("# rules\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-w.Events():
		if filepath.Clean(ev.Path) != filepath.Clean(govPath) {
			t.Fatalf("event path = %q, want %q", ev.Path, govPath)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watcher event")
	}
}

func TestNewWatcherRequiresPath(t *testing.T) {
	if _, err := NewWatcher("  "); err == nil {
		t.Fatal("expected error for blank project path")
	}
}
