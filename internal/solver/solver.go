package solver

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TaskInput is one entry of the document written to the solver's stdin.
type TaskInput struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Duration    float64    `json:"duration"` // hours
	Deadline    time.Time  `json:"deadline"`
	Priority    string     `json:"priority"`
	WindowStart *time.Time `json:"window_start,omitempty"`
	WindowEnd   *time.Time `json:"window_end,omitempty"`
	Status      string     `json:"status"`
}

// Result is one entry of the document the solver prints on stdout.
//
// StartTime/EndTime are null (or absent) when the task could not be placed.
type Result struct {
	ID             string     `json:"id"`
	StartTime      *Timestamp `json:"start_time"`
	EndTime        *Timestamp `json:"end_time"`
	Conflict       bool       `json:"conflict"`
	ConflictReason string     `json:"conflict_reason,omitempty"`
}

// Solver computes a placement proposal for a task list.
//
// Implementations must return every submitted task id exactly once, or a
// ContractError. Transient failures (timeout, crash, transport) come back as
// TransientError after the retry budget is exhausted.
type Solver interface {
	Solve(ctx context.Context, tasks []TaskInput) ([]Result, error)
}

// Timestamp decodes the solver's timestamps liberally. Solvers written in
// other ecosystems tend to print ISO 8601 without a zone; we accept that and
// assume local time, alongside full RFC 3339.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return fmt.Errorf("timestamp is empty")
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Format(time.RFC3339Nano) + `"`), nil
}
