package config

// Config is the root configuration for timebox.
//
// It can be written as JSON or YAML; both are decoded strictly
// (unknown keys are rejected) so typos fail fast on reload.
type Config struct {
	Logging LoggingConfig `json:"logging"`
	HTTP    HTTPConfig    `json:"http"`
	Auth    AuthConfig    `json:"auth"`
	Storage StorageConfig `json:"storage"`
	Solver  SolverConfig  `json:"solver"`

	// Maintenance controls background housekeeping (conflict resweep, audit prune).
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HTTPConfig holds the API server settings.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type HTTPConfig struct {
	Addr string `json:"addr"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Rate limits mutation endpoints per owner. Zero values disable limiting.
	Rate RateConfig `json:"rate,omitempty"`
}

// RateConfig is a token-bucket limit applied per owner to mutation requests.
type RateConfig struct {
	PerSec float64 `json:"per_sec,omitempty"`
	Burst  int     `json:"burst,omitempty"`
}

// AuthConfig declares the API keys the server accepts.
//
// Authentication is deliberately thin: a bearer token maps to an owner id.
// Issuing/rotating tokens is an operational concern outside this service.
type AuthConfig struct {
	Keys []APIKey `json:"keys"`
}

type APIKey struct {
	Token string `json:"token"`
	Owner string `json:"owner"`
}

// StorageConfig controls the task store.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process store (tests, ephemeral runs)
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SolverConfig controls the external solver process.
//
// Command is the argv used to start the process, e.g.
// ["python3", "solver/solver.py"]. The process receives the task list as JSON
// on stdin and must print the proposed schedule as JSON on stdout.
type SolverConfig struct {
	Command []string `json:"command"`

	// Timeout bounds one attempt, measured from process start. Default "30s".
	Timeout string `json:"timeout,omitempty"`

	// RetryMax is the total number of attempts (default 3).
	RetryMax  int    `json:"retry_max,omitempty"`
	RetryBase string `json:"retry_base,omitempty"` // default "1s"
}

// MaintenanceConfig controls background housekeeping.
type MaintenanceConfig struct {
	Enabled bool `json:"enabled"`

	// ResweepSpec is a cron spec (standard 5-field) for re-solving owners whose
	// last run left conflicts. Default "0 3 * * *".
	ResweepSpec string `json:"resweep_spec,omitempty"`

	// AuditRetention prunes audit rows older than this. Default "720h".
	AuditRetention string `json:"audit_retention,omitempty"`
}
