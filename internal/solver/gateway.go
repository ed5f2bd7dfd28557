package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os/exec"
	"strings"
	"sync"
	"time"

	logx "timebox/pkg/logx"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultRetryMax  = 3 // total attempts
	defaultRetryBase = 1 * time.Second

	// Cap on the stderr snippet kept for error messages.
	maxStderrSnippet = 2048
)

// Config controls the external solver process.
type Config struct {
	// Command is the argv used to start the process.
	Command []string

	// Timeout bounds one attempt, measured from process start.
	Timeout time.Duration

	// RetryMax is the total number of attempts for transient failures.
	RetryMax int

	// RetryBase is the backoff before attempt 2; it doubles per attempt.
	RetryBase time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.RetryMax <= 0 {
		c.RetryMax = defaultRetryMax
	}
	if c.RetryBase <= 0 {
		c.RetryBase = defaultRetryBase
	}
	return c
}

// Gateway runs the external solver process with timeout and retry policy.
//
// Concurrency: Solve may be called from many owners at once; each call spawns
// its own process. Apply() swaps the config live on reload.
type Gateway struct {
	mu  sync.Mutex
	cfg Config

	log logx.Logger
}

func NewGateway(cfg Config, log logx.Logger) *Gateway {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gateway{cfg: cfg.withDefaults(), log: log}
}

// Apply swaps the gateway config. In-flight attempts keep their old settings.
func (g *Gateway) Apply(cfg Config) {
	g.mu.Lock()
	g.cfg = cfg.withDefaults()
	g.mu.Unlock()
}

func (g *Gateway) config() Config {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg
}

// Solve submits the task list and returns the parsed proposal.
//
// Retry policy: transient failures (timeout, non-zero exit, transport) are
// retried with exponential backoff up to the attempt ceiling. A response that
// parses but violates the contract is returned immediately as a ContractError.
//
// Cancellation: the in-flight attempt runs under its own deadline and is
// allowed to finish (or be killed by its timeout) even if ctx is abandoned;
// no further attempts are scheduled after ctx is done.
func (g *Gateway) Solve(ctx context.Context, tasks []TaskInput) ([]Result, error) {
	cfg := g.config()
	if len(cfg.Command) == 0 {
		return nil, errors.New("solver command not configured")
	}

	input, err := json.Marshal(tasks)
	if err != nil {
		return nil, fmt.Errorf("encode solver input: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.RetryMax; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		results, err := g.runOnce(cfg, input, attempt)
		if err == nil {
			if verr := verifyCoverage(tasks, results); verr != nil {
				return nil, verr
			}
			return results, nil
		}
		if !IsTransient(err) {
			return nil, err
		}
		lastErr = err

		if attempt == cfg.RetryMax {
			break
		}
		delay := backoff(cfg.RetryBase, attempt)
		g.log.Warn("solver attempt failed; retrying",
			logx.Int("attempt", attempt),
			logx.Duration("delay", delay),
			logx.Err(err),
		)
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return nil, ctx.Err()
		case <-tmr.C:
		}
	}
	return nil, fmt.Errorf("solver failed after %d attempts: %w", cfg.RetryMax, lastErr)
}

// runOnce executes one solver attempt.
//
// The attempt deliberately gets its own timeout context (not derived from the
// caller): an abandoned request must not leave a half-killed process behind,
// so the attempt either finishes or is killed by its own deadline.
func (g *Gateway) runOnce(cfg Config, input []byte, attempt int) ([]Result, error) {
	runCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, cfg.Command[0], cfg.Command[1:]...)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	took := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		return nil, transientf("attempt %d timed out after %s", attempt, cfg.Timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, transientf("attempt %d exited with code %d: %s",
				attempt, exitErr.ExitCode(), snippet(stderr.Bytes()))
		}
		return nil, transientf("attempt %d failed to run: %v", attempt, err)
	}

	g.log.Debug("solver attempt succeeded",
		logx.Int("attempt", attempt),
		logx.Duration("took", took),
		logx.Int("output_bytes", stdout.Len()),
	)

	var results []Result
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &results); err != nil {
		// Unparseable output counts as a crashed attempt, not a contract
		// violation: a dying process often truncates its stdout.
		return nil, transientf("attempt %d produced unparseable output: %v", attempt, err)
	}
	return results, nil
}

// verifyCoverage enforces the id-coverage half of the solver contract:
// every submitted id appears exactly once, nothing extra.
func verifyCoverage(tasks []TaskInput, results []Result) error {
	raw, _ := json.Marshal(results)

	seen := make(map[string]int, len(results))
	for _, r := range results {
		seen[r.ID]++
	}
	for id, n := range seen {
		if n > 1 {
			return Violation(raw, "task id %s appears %d times", id, n)
		}
	}
	for _, t := range tasks {
		if seen[t.ID] == 0 {
			return Violation(raw, "task id %s missing from result", t.ID)
		}
	}
	if len(results) > len(tasks) {
		for _, r := range results {
			if !containsID(tasks, r.ID) {
				return Violation(raw, "result contains unknown task id %s", r.ID)
			}
		}
	}
	return nil
}

func containsID(tasks []TaskInput, id string) bool {
	for _, t := range tasks {
		if t.ID == id {
			return true
		}
	}
	return false
}

func backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	// Small jitter to avoid synchronized retries across owners.
	j := time.Duration(rand.Int63n(int64(d)/10 + 1))
	return d + j
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxStderrSnippet {
		s = s[:maxStderrSnippet] + "..."
	}
	if s == "" {
		return "<no stderr>"
	}
	return s
}
