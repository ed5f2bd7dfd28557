// Package solver talks to the external scheduling process.
//
// The solver is a black box reached via message passing: write the task list
// as JSON to its stdin, read one JSON document from its stdout, await the exit
// code. This package is the only place allowed to start that process; the rest
// of the engine sees an abstract Solver port.
package solver
