package schedule

import (
	"context"

	"timebox/internal/storage"

	logx "timebox/pkg/logx"
)

// Resweep re-solves every owner that currently has conflicting tasks, in the
// hope that edits or completions since the last run opened up room. One
// owner's failure does not stop the sweep.
func (o *Orchestrator) Resweep(ctx context.Context) error {
	owners, err := o.store.OwnersWithConflicts(ctx)
	if err != nil {
		return err
	}
	if len(owners) == 0 {
		return nil
	}
	o.log.Info("conflict resweep starting", logx.Int("owners", len(owners)))

	var failed int
	for _, owner := range owners {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := o.Resolve(ctx, owner); err != nil {
			failed++
			o.log.Warn("resweep failed for owner",
				logx.String("owner", owner),
				logx.Err(err),
			)
		}
	}
	o.log.Info("conflict resweep finished",
		logx.Int("owners", len(owners)),
		logx.Int("failed", failed),
	)
	return nil
}

// Store exposes the underlying store for maintenance jobs that live outside
// the schedule cycle (audit pruning).
func (o *Orchestrator) Store() storage.Store { return o.store }
