package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a task does not exist or belongs to a
	// different owner. The two cases are deliberately indistinguishable.
	ErrNotFound = errors.New("task not found")
)

// Status is the user-controlled lifecycle state of a task.
// It is independent of scheduling outcome, except that completed tasks are
// excluded from re-solving.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// ParseStatus accepts the canonical wire values.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusNotStarted:
		return StatusNotStarted, nil
	case StatusInProgress:
		return StatusInProgress, nil
	case StatusCompleted:
		return StatusCompleted, nil
	}
	return "", fmt.Errorf("invalid status %q", s)
}

// Priority is an ordinal hint passed through to the solver as a tie-break
// signal. It is not enforced internally.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func ParsePriority(s string) (Priority, error) {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityLow:
		return PriorityLow, nil
	case PriorityMedium:
		return PriorityMedium, nil
	case PriorityHigh:
		return PriorityHigh, nil
	}
	return "", fmt.Errorf("invalid priority %q", s)
}

// Task is one scheduling unit owned by exactly one user.
//
// WindowStart/WindowEnd are the solver-proposed occupied interval; both nil
// until a successful schedule run covers this task. ConflictReason is non-empty
// iff Conflict is true.
type Task struct {
	ID            string     `json:"id"`
	Owner         string     `json:"owner"`
	Name          string     `json:"name"`
	DurationHours float64    `json:"duration"`
	Deadline      time.Time  `json:"deadline"`
	Priority      Priority   `json:"priority"`
	WindowStart   *time.Time `json:"window_start,omitempty"`
	WindowEnd     *time.Time `json:"window_end,omitempty"`
	Status        Status     `json:"status"`
	Conflict      bool       `json:"conflict"`
	ConflictReason string    `json:"conflict_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Placed reports whether both window bounds are set.
func (t Task) Placed() bool { return t.WindowStart != nil && t.WindowEnd != nil }

// Fields is a partial update for UpdateFields. Nil pointers leave the column
// untouched. ResetPlacement additionally clears window_start/window_end and the
// conflict flag/reason in the same write (the edit path).
type Fields struct {
	Name          *string
	DurationHours *float64
	Deadline      *time.Time
	Priority      *Priority
	Status        *Status

	ResetPlacement bool
}

// Empty reports whether the update would change nothing.
func (f Fields) Empty() bool {
	return f.Name == nil && f.DurationHours == nil && f.Deadline == nil &&
		f.Priority == nil && f.Status == nil && !f.ResetPlacement
}

// Placement is one task's reconciled scheduling outcome, written by the
// schedule run. It never carries user-owned fields.
type Placement struct {
	TaskID         string
	WindowStart    *time.Time
	WindowEnd      *time.Time
	Conflict       bool
	ConflictReason string
}

// AuditEntry records one mutation request outcome.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At     time.Time
	Owner  string
	Action string
	TaskID string
	OK     bool
	Error  string
	TookMS int64
}

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
