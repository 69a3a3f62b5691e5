package ralph

import "time"

// TerminationReason identifies why EventLoop.Run stopped.
type TerminationReason int

const (
	// NoTermination means the loop should continue.
	NoTermination TerminationReason = iota
	Cancelled
	Interrupted
	RestartRequested
	CompletionPromise
	LoopStale
	LoopThrashing
	ConsecutiveFailures
	MaxIterationsReached
	MaxRuntimeReached
	MaxCostReached
)

// String renders a human-readable name, used in logging and reports.
func (r TerminationReason) String() string {
	switch r {
	case NoTermination:
		return "none"
	case Cancelled:
		return "cancelled"
	case Interrupted:
		return "interrupted"
	case RestartRequested:
		return "restart_requested"
	case CompletionPromise:
		return "completion_promise"
	case LoopStale:
		return "loop_stale"
	case LoopThrashing:
		return "loop_thrashing"
	case ConsecutiveFailures:
		return "consecutive_failures"
	case MaxIterationsReached:
		return "max_iterations"
	case MaxRuntimeReached:
		return "max_runtime"
	case MaxCostReached:
		return "max_cost"
	default:
		return "unknown"
	}
}

// ExitCode returns the process exit code for the driver to return to its OS.
func (r TerminationReason) ExitCode() int {
	switch r {
	case Cancelled, CompletionPromise:
		return 0
	case Interrupted:
		return 130
	case RestartRequested:
		return 0
	case LoopStale, LoopThrashing, ConsecutiveFailures:
		return 1
	case MaxIterationsReached, MaxRuntimeReached, MaxCostReached:
		return 2
	default:
		return 0
	}
}

// IsSuccess is true only for CompletionPromise.
func (r TerminationReason) IsSuccess() bool {
	return r == CompletionPromise
}

// TerminationChecker is the pure, ordered predicate over LoopState+config
// run after UpdateState each iteration. CheckResult.ResumeEvent is set
// when a CompletionPromise request is rejected for missing required
// events (rule 4): Check clears CompletionRequested and the loop publishes
// the task.resume event instead of terminating.
type TerminationChecker struct {
	Config *RalphConfig
}

// NewTerminationChecker builds a checker bound to cfg.
func NewTerminationChecker(cfg *RalphConfig) *TerminationChecker {
	return &TerminationChecker{Config: cfg}
}

// CheckResult is the outcome of one TerminationChecker.Check call.
type CheckResult struct {
	Reason       TerminationReason
	ResumeEvent  *Event // non-nil iff a completion request was rejected
	MissingTopics []Topic
}

// Check evaluates the nine termination rules, in fixed priority order,
// against state and the current wall clock. state.ConsecutiveFailures
// already tracks the is_error streak (reset to zero on any successful
// iteration).
func (c *TerminationChecker) Check(state *LoopState, now time.Time) CheckResult {
	cfg := c.Config

	if state.CancellationRequested {
		return CheckResult{Reason: Cancelled}
	}
	if state.Interrupted {
		return CheckResult{Reason: Interrupted}
	}
	if state.RestartRequested {
		return CheckResult{Reason: RestartRequested}
	}
	if state.CompletionRequested {
		ok, missing := state.HasAllRequired(cfg.RequiredEvents)
		if ok {
			if cfg.Persistent {
				// rule 4 suppressed while persistent; completion is logged
				// by EventLoop.Run but does not terminate.
				state.CompletionRequested = false
			} else {
				return CheckResult{Reason: CompletionPromise}
			}
		} else {
			state.CompletionRequested = false
			return CheckResult{
				Reason:        NoTermination,
				MissingTopics: missing,
				ResumeEvent: &Event{
					Topic:   "task.resume",
					Payload: renderMissingTopics(missing),
				},
			}
		}
	}
	if state.ConsecutiveSameTopic >= DefaultStaleThreshold {
		return CheckResult{Reason: LoopStale}
	}
	if state.ConsecutiveBlocked() >= cfg.ThrashThreshold {
		return CheckResult{Reason: LoopThrashing}
	}
	if cfg.ConsecutiveFailureLimit > 0 && state.ConsecutiveFailures >= cfg.ConsecutiveFailureLimit {
		return CheckResult{Reason: ConsecutiveFailures}
	}
	if cfg.MaxIterations > 0 && state.Iteration >= cfg.MaxIterations {
		return CheckResult{Reason: MaxIterationsReached}
	}
	if cfg.MaxRuntime > 0 && state.Runtime(now) >= cfg.MaxRuntime {
		return CheckResult{Reason: MaxRuntimeReached}
	}
	if cfg.MaxCost > 0 && state.AccumulatedCost >= cfg.MaxCost {
		return CheckResult{Reason: MaxCostReached}
	}
	return CheckResult{Reason: NoTermination}
}

func renderMissingTopics(missing []Topic) string {
	if len(missing) == 0 {
		return ""
	}
	out := "missing required events: "
	for i, t := range missing {
		if i > 0 {
			out += ", "
		}
		out += string(t)
	}
	return out
}
