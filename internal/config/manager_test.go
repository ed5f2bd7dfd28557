package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
http:
  addr: ":8080"
  read_timeout: "10s"
  write_timeout: "2m"
  idle_timeout: "1m"
  rate:
    per_sec: 2
    burst: 5
auth:
  keys:
    - token: "secret"
      owner: "alice"
storage:
  driver: sqlite
  path: /tmp/tasks.db
  busy_timeout: "2s"
solver:
  command: ["python3", "solver.py"]
  timeout: "30s"
  retry_max: 3
  retry_base: "1s"
maintenance:
  enabled: true
  resweep_spec: "0 3 * * *"
  audit_retention: "720h"
`

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", validYAML)
	mgr := NewManager(path)

	cfg, err := mgr.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.HTTP.Addr)
	}
	if len(cfg.Solver.Command) != 2 || cfg.Solver.Command[0] != "python3" {
		t.Errorf("solver command = %v", cfg.Solver.Command)
	}
	if got := mgr.Get(); got != cfg {
		t.Error("Get must return the committed config")
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "config.json",
		`{"solver":{"command":["sh","-c","true"]},"auth":{"keys":[]},"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""}},"http":{"addr":":0"},"storage":{"driver":"memory","path":""}}`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("driver = %q", cfg.Storage.Driver)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "config.yaml", validYAML+"\nsurprise: true\n")
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("unknown key accepted")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	path := writeConfig(t, "config.json", `{"solver":{"command":["x"]}}{}`)
	_, err := NewManager(path).Parse()
	if err == nil || !strings.Contains(err.Error(), "trailing") {
		t.Fatalf("err = %v, want trailing data rejection", err)
	}
}

func TestValidateCatchesEverything(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing solver command", func(c *Config) { c.Solver.Command = nil }, "solver.command"},
		{"bad solver timeout", func(c *Config) { c.Solver.Timeout = "soon" }, "solver.timeout"},
		{"bad driver", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.driver"},
		{"key without owner", func(c *Config) { c.Auth.Keys = []APIKey{{Token: "t"}} }, "owner"},
		{"key without token", func(c *Config) { c.Auth.Keys = []APIKey{{Owner: "o"}} }, "token"},
		{"negative rate", func(c *Config) { c.HTTP.Rate.PerSec = -1 }, "rate.per_sec"},
		{"bad retention", func(c *Config) { c.Maintenance.AuditRetention = "a while" }, "audit_retention"},
	}

	base := func() *Config {
		return &Config{
			Solver:  SolverConfig{Command: []string{"sh", "-c", "true"}},
			Storage: StorageConfig{Driver: "memory"},
		}
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("baseline config invalid: %v", err)
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestValidateAggregates(t *testing.T) {
	cfg := &Config{
		Solver:  SolverConfig{Timeout: "bogus"},
		Storage: StorageConfig{Driver: "postgres"},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"solver.command", "solver.timeout", "storage.driver"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("err = %v, missing %q", err, want)
		}
	}
}

func TestParseDurationField(t *testing.T) {
	if d, err := ParseDurationField("x", " 1500ms "); err != nil || d.Milliseconds() != 1500 {
		t.Errorf("d = %v, err = %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Errorf("empty: d = %v, err = %v", d, err)
	}
	if _, err := ParseDurationField("x", "-3s"); err == nil {
		t.Error("negative duration accepted")
	}
	if d, err := ParseDurationOrDefault("x", "", 42); err != nil || d != 42 {
		t.Errorf("default: d = %v, err = %v", d, err)
	}
}

func TestCoerceYAMLKeepsTypes(t *testing.T) {
	j, format, err := coerceToJSONBytes("c.yaml", []byte("a: 1\nb: [x, y]\nc:\n  d: true\n"))
	if err != nil {
		t.Fatal(err)
	}
	if format != "yaml" {
		t.Errorf("format = %q", format)
	}
	for _, want := range []string{`"a":1`, `"b":["x","y"]`, `"d":true`} {
		if !strings.Contains(string(j), want) {
			t.Errorf("json = %s, missing %s", j, want)
		}
	}
}
