package schedule

import (
	"context"
	"time"

	"timebox/internal/solver"
	"timebox/internal/storage"

	logx "timebox/pkg/logx"
)

// defaultConflictReason fills in when the solver flags a conflict but
// forgets to say why.
const defaultConflictReason = "scheduling conflict (no reason reported)"

// SafePlacements turns a verified solver proposal into storable placements.
//
// Collapsing rules:
//   - a half-set window (only one bound present) stores as fully unset
//   - a conflict without a reason gets a placeholder reason
//   - a non-conflict never stores a reason
func SafePlacements(results []solver.Result) []storage.Placement {
	out := make([]storage.Placement, 0, len(results))
	for _, r := range results {
		p := storage.Placement{TaskID: r.ID, Conflict: r.Conflict}
		if r.StartTime != nil && r.EndTime != nil {
			s, e := r.StartTime.Time, r.EndTime.Time
			p.WindowStart, p.WindowEnd = &s, &e
		}
		if r.Conflict {
			p.ConflictReason = r.ConflictReason
			if p.ConflictReason == "" {
				p.ConflictReason = defaultConflictReason
			}
		}
		out = append(out, p)
	}
	return out
}

// Reconciler writes placement batches with a small retry budget. The batch is
// all-or-nothing at the store level, so a retry repeats the whole batch.
type Reconciler struct {
	Store storage.Store
	Log   logx.Logger

	// Attempts is the total write attempts; zero means 3.
	Attempts int
	// Backoff is the pause before the second attempt; it doubles after.
	// Zero means 200ms.
	Backoff time.Duration
}

func (r *Reconciler) attempts() int {
	if r.Attempts <= 0 {
		return 3
	}
	return r.Attempts
}

func (r *Reconciler) backoff() time.Duration {
	if r.Backoff <= 0 {
		return 200 * time.Millisecond
	}
	return r.Backoff
}

// Persist applies the batch for one owner. On exhaustion it returns a
// PersistenceError; the stored schedule is then either fully old or fully new,
// never mixed.
func (r *Reconciler) Persist(ctx context.Context, owner string, ps []storage.Placement) error {
	if len(ps) == 0 {
		return nil
	}
	var lastErr error
	delay := r.backoff()
	for attempt := 1; attempt <= r.attempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = r.Store.ApplyPlacements(ctx, owner, ps)
		if lastErr == nil {
			return nil
		}
		if attempt == r.attempts() {
			break
		}
		r.Log.Warn("placement write failed; retrying",
			logx.String("owner", owner),
			logx.Int("attempt", attempt),
			logx.Err(lastErr),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return &PersistenceError{Err: lastErr}
}
