package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks cross-field consistency. It is used both at startup and as
// the hot-reload gate, so a bad edit never replaces a known-good config.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	var errs []string

	if len(c.Solver.Command) == 0 || strings.TrimSpace(c.Solver.Command[0]) == "" {
		errs = append(errs, "solver.command is required")
	}
	if _, err := ParseDurationField("solver.timeout", c.Solver.Timeout); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := ParseDurationField("solver.retry_base", c.Solver.RetryBase); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Solver.RetryMax < 0 {
		errs = append(errs, "solver.retry_max must be >= 0")
	}

	switch d := strings.ToLower(strings.TrimSpace(c.Storage.Driver)); d {
	case "", "sqlite", "sqlite3", "memory":
	default:
		errs = append(errs, "storage.driver must be sqlite or memory, got "+d)
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		errs = append(errs, err.Error())
	}

	for i, k := range c.Auth.Keys {
		if strings.TrimSpace(k.Token) == "" {
			errs = append(errs, fmt.Sprintf("auth.keys[%d].token is required", i))
		}
		if strings.TrimSpace(k.Owner) == "" {
			errs = append(errs, fmt.Sprintf("auth.keys[%d].owner is required", i))
		}
	}

	for _, f := range []struct{ path, raw string }{
		{"http.read_timeout", c.HTTP.ReadTimeout},
		{"http.write_timeout", c.HTTP.WriteTimeout},
		{"http.idle_timeout", c.HTTP.IdleTimeout},
		{"maintenance.audit_retention", c.Maintenance.AuditRetention},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if c.HTTP.Rate.PerSec < 0 {
		errs = append(errs, "http.rate.per_sec must be >= 0")
	}
	if c.HTTP.Rate.Burst < 0 {
		errs = append(errs, "http.rate.burst must be >= 0")
	}

	if len(errs) > 0 {
		return errors.New("invalid config: " + strings.Join(errs, "; "))
	}
	return nil
}
