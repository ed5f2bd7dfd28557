package schedule

import (
	"context"
	"strings"
	"sync"
	"time"

	"timebox/internal/eventbus"
	"timebox/internal/solver"
	"timebox/internal/storage"

	logx "timebox/pkg/logx"
)

// Event types published on the bus.
const (
	EventRunStarted   = "schedule.run.started"
	EventRunCompleted = "schedule.run.completed"
	EventRunFailed    = "schedule.run.failed"
	EventTaskMutated  = "task.mutated"
)

// RunInfo is the bus payload for schedule run events.
type RunInfo struct {
	Owner  string `json:"owner"`
	Action string `json:"action"`
	TaskID string `json:"task_id,omitempty"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	TookMS int64  `json:"took_ms"`
}

// Outcome is what a mutation returns: the id it touched (if any) and the
// owner's refreshed schedule.
type Outcome struct {
	TaskID   string
	Schedule []storage.Task
}

// Orchestrator drives the full mutate-solve-persist cycle.
type Orchestrator struct {
	store storage.Store
	slv   solver.Solver
	rec   Reconciler
	bus   eventbus.Bus
	log   logx.Logger

	mu     sync.Mutex
	owners map[string]*sync.Mutex
}

func NewOrchestrator(store storage.Store, slv solver.Solver, bus eventbus.Bus, log logx.Logger) *Orchestrator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Orchestrator{
		store:  store,
		slv:    slv,
		rec:    Reconciler{Store: store, Log: log},
		bus:    bus,
		log:    log,
		owners: make(map[string]*sync.Mutex),
	}
}

// ownerLock returns the mutex serializing one owner's runs. Locks are never
// reaped; the population is bounded by the configured key set.
func (o *Orchestrator) ownerLock(owner string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.owners[owner]
	if !ok {
		m = &sync.Mutex{}
		o.owners[owner] = m
	}
	return m
}

// Add validates and stores a new task, then reschedules the owner.
func (o *Orchestrator) Add(ctx context.Context, owner string, t storage.Task) (Outcome, error) {
	if probs := CheckTask(t); len(probs) > 0 {
		return Outcome{}, &ValidationError{Problems: probs}
	}
	return o.run(ctx, owner, "add", true, func(ctx context.Context) (string, error) {
		return o.store.Insert(ctx, owner, t)
	})
}

// Edit applies a partial update. Any edit wipes the task's placement: the old
// window was computed for the old shape of the task.
func (o *Orchestrator) Edit(ctx context.Context, owner, id string, f storage.Fields) (Outcome, error) {
	if probs := checkFields(f); len(probs) > 0 {
		return Outcome{}, &ValidationError{Problems: probs}
	}
	f.ResetPlacement = true
	return o.run(ctx, owner, "edit", true, func(ctx context.Context) (string, error) {
		return id, o.store.UpdateFields(ctx, owner, id, f)
	})
}

// Delete removes a task and reschedules the remainder.
func (o *Orchestrator) Delete(ctx context.Context, owner, id string) (Outcome, error) {
	return o.run(ctx, owner, "delete", true, func(ctx context.Context) (string, error) {
		return id, o.store.Delete(ctx, owner, id)
	})
}

// SetStatus changes a task's lifecycle state. Marking a task completed does
// not reschedule anything: completed tasks need no placement and every other
// task's window is untouched until the next real mutation.
func (o *Orchestrator) SetStatus(ctx context.Context, owner, id string, st storage.Status) (Outcome, error) {
	if st == storage.StatusCompleted {
		return o.runNoSolve(ctx, owner, "status", func(ctx context.Context) (string, error) {
			return id, o.store.UpdateFields(ctx, owner, id, storage.Fields{Status: &st})
		})
	}
	return o.run(ctx, owner, "status", true, func(ctx context.Context) (string, error) {
		return id, o.store.UpdateFields(ctx, owner, id, storage.Fields{Status: &st})
	})
}

// Resolve re-runs scheduling for an owner with no mutation. Used by the
// conflict resweep and available as an explicit refresh.
func (o *Orchestrator) Resolve(ctx context.Context, owner string) (Outcome, error) {
	return o.run(ctx, owner, "resolve", false, func(ctx context.Context) (string, error) {
		return "", nil
	})
}

// List returns the owner's current schedule without solving.
func (o *Orchestrator) List(ctx context.Context, owner string) ([]storage.Task, error) {
	return o.store.ListByOwner(ctx, owner)
}

// runNoSolve applies a mutation and returns the stored schedule as-is,
// without a solver cycle.
func (o *Orchestrator) runNoSolve(ctx context.Context, owner, action string, mutate func(context.Context) (string, error)) (Outcome, error) {
	lock := o.ownerLock(owner)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	o.publish(EventRunStarted, RunInfo{Owner: owner, Action: action})

	taskID, err := mutate(ctx)
	if err != nil {
		o.finish(owner, action, taskID, start, err)
		return Outcome{}, err
	}
	o.publish(EventTaskMutated, RunInfo{Owner: owner, Action: action, TaskID: taskID, OK: true})

	tasks, err := o.store.ListByOwner(ctx, owner)
	if err != nil {
		o.finish(owner, action, taskID, start, err)
		return Outcome{TaskID: taskID}, err
	}
	o.finish(owner, action, taskID, start, nil)
	return Outcome{TaskID: taskID, Schedule: tasks}, nil
}

// run is the shared cycle. The mutation commits first and stays committed
// whatever the solver does afterwards; a solve or persist failure surfaces as
// an error on an already-mutated store.
func (o *Orchestrator) run(ctx context.Context, owner, action string, mutates bool, mutate func(context.Context) (string, error)) (Outcome, error) {
	lock := o.ownerLock(owner)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	o.publish(EventRunStarted, RunInfo{Owner: owner, Action: action})

	taskID, err := mutate(ctx)
	if err != nil {
		o.finish(owner, action, taskID, start, err)
		return Outcome{}, err
	}
	if mutates {
		o.publish(EventTaskMutated, RunInfo{Owner: owner, Action: action, TaskID: taskID, OK: true})
	}

	out := Outcome{TaskID: taskID}

	tasks, err := o.store.ListByOwner(ctx, owner)
	if err != nil {
		o.finish(owner, action, taskID, start, err)
		return out, err
	}
	if len(tasks) == 0 {
		o.finish(owner, action, taskID, start, nil)
		return out, nil
	}
	if err := CheckTasks(tasks); err != nil {
		o.finish(owner, action, taskID, start, err)
		return out, err
	}

	submit := submission(tasks)
	if len(submit) == 0 {
		// Everything is completed; nothing to place.
		out.Schedule = tasks
		o.finish(owner, action, taskID, start, nil)
		return out, nil
	}

	results, err := o.slv.Solve(ctx, submit)
	if err != nil {
		if solver.IsContractViolation(err) {
			var raw []byte
			if ce, ok := err.(*solver.ContractError); ok {
				raw = ce.Raw
			}
			o.log.Error("solver response rejected",
				logx.String("owner", owner),
				logx.String("payload", string(raw)),
				logx.Err(err),
			)
		}
		o.finish(owner, action, taskID, start, err)
		return out, err
	}
	if err := CheckProposal(tasks, results); err != nil {
		o.log.Error("solver response rejected",
			logx.String("owner", owner),
			logx.Err(err),
		)
		o.finish(owner, action, taskID, start, err)
		return out, err
	}

	// Client gone: keep the mutation, drop the proposal.
	if err := ctx.Err(); err != nil {
		o.finish(owner, action, taskID, start, err)
		return out, err
	}

	if err := o.rec.Persist(ctx, owner, SafePlacements(results)); err != nil {
		o.finish(owner, action, taskID, start, err)
		return out, err
	}

	tasks, err = o.store.ListByOwner(ctx, owner)
	if err != nil {
		o.finish(owner, action, taskID, start, err)
		return out, err
	}
	out.Schedule = tasks
	o.finish(owner, action, taskID, start, nil)
	return out, nil
}

// submission builds the solver input from the stored set, leaving completed
// tasks out. Id coverage downstream is checked against this subset.
func submission(tasks []storage.Task) []solver.TaskInput {
	in := make([]solver.TaskInput, 0, len(tasks))
	for _, t := range tasks {
		if t.Status == storage.StatusCompleted {
			continue
		}
		in = append(in, solver.TaskInput{
			ID:          t.ID,
			Name:        t.Name,
			Duration:    t.DurationHours,
			Deadline:    t.Deadline,
			Priority:    string(t.Priority),
			WindowStart: t.WindowStart,
			WindowEnd:   t.WindowEnd,
			Status:      string(t.Status),
		})
	}
	return in
}

func checkFields(f storage.Fields) []string {
	var probs []string
	if f.Name != nil && strings.TrimSpace(*f.Name) == "" {
		probs = append(probs, "name must not be empty")
	}
	if f.DurationHours != nil && *f.DurationHours <= 0 {
		probs = append(probs, "duration must be positive")
	}
	if f.Deadline != nil && f.Deadline.IsZero() {
		probs = append(probs, "deadline must be a valid time")
	}
	return probs
}

func (o *Orchestrator) publish(typ string, info RunInfo) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(eventbus.Event{Type: typ, Data: info})
}

func (o *Orchestrator) finish(owner, action, taskID string, start time.Time, err error) {
	info := RunInfo{
		Owner:  owner,
		Action: action,
		TaskID: taskID,
		OK:     err == nil,
		TookMS: time.Since(start).Milliseconds(),
	}
	typ := EventRunCompleted
	if err != nil {
		typ = EventRunFailed
		info.Error = err.Error()
	}
	o.publish(typ, info)

	if err != nil {
		o.log.Debug("schedule run failed",
			logx.String("owner", owner),
			logx.String("action", action),
			logx.Err(err),
		)
		return
	}
	o.log.Debug("schedule run completed",
		logx.String("owner", owner),
		logx.String("action", action),
		logx.Int64("took_ms", info.TookMS),
	)
}
