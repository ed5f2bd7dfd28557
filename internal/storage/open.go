package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "timebox/pkg/logx"
)

// Store is the persistence API consumed by the schedule engine.
//
// Every call is scoped by owner; ErrNotFound covers both "absent" and
// "owned by someone else".
type Store interface {
	// Insert stores a new task and returns its assigned id.
	Insert(ctx context.Context, owner string, t Task) (string, error)

	// UpdateFields applies a partial update to one task.
	UpdateFields(ctx context.Context, owner, id string, f Fields) error

	// Delete removes one task.
	Delete(ctx context.Context, owner, id string) error

	// ListByOwner returns the owner's full task set, deadline-ascending.
	ListByOwner(ctx context.Context, owner string) ([]Task, error)

	// ApplyPlacements writes a whole schedule run's placement outcomes as a
	// single transaction: either every placement lands or none do.
	ApplyPlacements(ctx context.Context, owner string, ps []Placement) error

	// OwnersWithConflicts lists owners whose task set currently contains at
	// least one conflicted task (resweep input).
	OwnersWithConflicts(ctx context.Context) ([]string, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	PruneAudit(ctx context.Context, olderThan time.Time) (int64, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
