package ralph

import "time"

// TerminationReport is returned by EventLoop.Run to whatever sits above the
// core (CLI, TUI, or network layer).
type TerminationReport struct {
	Reason     TerminationReason
	Iterations int
	Duration   time.Duration
	Cost       float64
	SeenTopics []Topic
}

// IsSuccess mirrors TerminationReason.IsSuccess for convenience at the
// call site.
func (r TerminationReport) IsSuccess() bool {
	return r.Reason.IsSuccess()
}

// ExitCode mirrors TerminationReason.ExitCode.
func (r TerminationReport) ExitCode() int {
	return r.Reason.ExitCode()
}

func buildReport(state *LoopState, reason TerminationReason, now time.Time) TerminationReport {
	topics := make([]Topic, 0, len(state.SeenTopics))
	for t := range state.SeenTopics {
		topics = append(topics, t)
	}
	return TerminationReport{
		Reason:     reason,
		Iterations: state.Iteration,
		Duration:   state.Runtime(now),
		Cost:       state.AccumulatedCost,
		SeenTopics: topics,
	}
}
