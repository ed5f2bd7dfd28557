// Package schedule is the engine core: it applies a mutation, feeds the
// owner's full task set to the solver, reconciles the proposal into safe
// values, persists it, and returns the refreshed schedule.
//
// All of that happens under a per-owner lock, so concurrent requests from
// one owner serialize while distinct owners proceed in parallel.
package schedule
