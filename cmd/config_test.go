package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestReadConfigFileAndEnv(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  addr: ":9090"
database:
  path: data/test.db
upstream:
  page_size: 50
pipeline:
  max_pages: 5
  batch_size: 300
  ongoing_only: false
retention:
  days: 14
  hour: 4
scheduler:
  interval: "0 * * * *"
watch:
  keywords: ["전기"]
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := readConfigFile(path)
	if err != nil {
		t.Fatalf("readConfigFile error: %v", err)
	}
	env := map[string]string{"MOEF_API_KEY": "secret", "SERVER_ADDR": ":7070"}
	applyEnv(&cfg, func(k string) string { return env[k] })

	if cfg.Server.Addr != ":7070" {
		t.Fatalf("expected env to override addr, got %s", cfg.Server.Addr)
	}
	if cfg.Upstream.ServiceKey != "secret" || cfg.Upstream.PageSize != 50 {
		t.Fatalf("unexpected upstream config %+v", cfg.Upstream)
	}
	if cfg.Pipeline.MaxPages != 5 || cfg.Pipeline.Writer.BatchSize != 300 {
		t.Fatalf("unexpected pipeline config %+v", cfg.Pipeline)
	}
	if cfg.ongoingOnly() {
		t.Fatalf("expected ongoing_only=false to be honored")
	}
	if cfg.Retention.Days != 14 || cfg.Retention.Hour == nil || *cfg.Retention.Hour != 4 {
		t.Fatalf("unexpected retention config %+v", cfg.Retention)
	}
	if cfg.Scheduler.Interval != "0 * * * *" || len(cfg.Watch.Keywords) != 1 {
		t.Fatalf("unexpected scheduler/watch config %+v %+v", cfg.Scheduler, cfg.Watch)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate error: %v", err)
	}
}

func TestReadConfigFileMissingIsNotFatal(t *testing.T) {
	t.Parallel()

	cfg, err := readConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("expected missing config to be ignored, got %v", err)
	}
	if !cfg.ongoingOnly() {
		t.Fatalf("expected ongoing_only to default to true")
	}
	if err := cfg.validate(); !errors.Is(err, ErrMissingServiceKey) {
		t.Fatalf("expected ErrMissingServiceKey, got %v", err)
	}
}

func TestValidateDatabaseDriver(t *testing.T) {
	t.Parallel()

	cfg := AppConfig{}
	cfg.Upstream.ServiceKey = "k"

	cfg.Database.Driver = "postgres"
	if err := cfg.validate(); err == nil {
		t.Fatalf("expected postgres without dsn to fail")
	}
	cfg.Database.DSN = "host=localhost user=app dbname=jobs"
	if err := cfg.validate(); err != nil {
		t.Fatalf("expected postgres with dsn to pass, got %v", err)
	}
	cfg.Database.Driver = "mysql"
	if err := cfg.validate(); err == nil {
		t.Fatalf("expected unsupported driver to fail")
	}
}
