package schedule

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"timebox/internal/solver"
	"timebox/internal/storage"
)

// durationSlack absorbs sub-second rounding in solver timestamps when
// checking that a placed interval covers the task's duration.
const durationSlack = time.Second

// CheckTask validates the user-owned fields of a single task and returns
// every problem found.
func CheckTask(t storage.Task) []string {
	var probs []string
	if strings.TrimSpace(t.Name) == "" {
		probs = append(probs, "name must not be empty")
	}
	if t.DurationHours <= 0 {
		probs = append(probs, fmt.Sprintf("duration must be positive, got %g", t.DurationHours))
	}
	if t.Deadline.IsZero() {
		probs = append(probs, "deadline is required")
	}
	return probs
}

// CheckTasks validates a whole owner set before it goes to the solver.
// A single bad task aborts the run; nothing is submitted.
func CheckTasks(tasks []storage.Task) error {
	var probs []string
	for _, t := range tasks {
		for _, p := range CheckTask(t) {
			probs = append(probs, fmt.Sprintf("task %s: %s", t.ID, p))
		}
	}
	if len(probs) > 0 {
		return &ValidationError{Problems: probs}
	}
	return nil
}

// CheckProposal verifies the semantic half of the solver contract against the
// submitted set: placed non-conflict intervals must be well-ordered, long
// enough for their task, and mutually disjoint.
//
// Violations are permanent solver errors, never retried.
func CheckProposal(tasks []storage.Task, results []solver.Result) error {
	byID := make(map[string]storage.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	type span struct {
		id         string
		start, end time.Time
	}
	var spans []span

	for _, r := range results {
		if r.Conflict {
			continue
		}
		if r.StartTime == nil || r.EndTime == nil {
			// Unplaced without a conflict flag is tolerated; the reconciler
			// collapses the pair to nil.
			continue
		}
		start, end := r.StartTime.Time, r.EndTime.Time
		if !end.After(start) {
			return solver.Violation(nil, "task %s: end %s not after start %s",
				r.ID, end.Format(time.RFC3339), start.Format(time.RFC3339))
		}
		if t, ok := byID[r.ID]; ok {
			need := time.Duration(t.DurationHours * float64(time.Hour))
			if end.Sub(start)+durationSlack < need {
				return solver.Violation(nil, "task %s: interval %s shorter than duration %s",
					r.ID, end.Sub(start), need)
			}
		}
		spans = append(spans, span{id: r.ID, start: start, end: end})
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start.Before(spans[j].start) })
	for i := 1; i < len(spans); i++ {
		prev, cur := spans[i-1], spans[i]
		if cur.start.Before(prev.end) {
			return solver.Violation(nil, "tasks %s and %s overlap without conflict flag",
				prev.id, cur.id)
		}
	}
	return nil
}
