package ralph

import "time"

// LoopState tracks the counters, flags, and high-water marks that drive
// termination. It lives for exactly one loop invocation. and is
// mutated only from the single-threaded driver — no locking required.
type LoopState struct {
	Iteration           int
	ConsecutiveFailures int
	Activations         map[HatId]int

	SeenTopics           map[Topic]struct{}
	LastEmittedTopic     Topic
	ConsecutiveSameTopic int

	lastBlockedTopic     Topic
	consecutiveBlocked   int

	CompletionRequested   bool
	CancellationRequested bool
	RestartRequested      bool
	Interrupted           bool

	StartedAt      time.Time
	AccumulatedCost float64
}

// NewLoopState returns a zeroed state with its started-at clock set to now.
func NewLoopState(now time.Time) *LoopState {
	return &LoopState{
		Activations: make(map[HatId]int),
		SeenTopics:  make(map[Topic]struct{}),
		StartedAt:   now,
	}
}

// RecordTopic appends topic to SeenTopics and updates the
// last-emitted/consecutive-same-topic tracking. It MUST be called for
// every event accepted onto the bus, on both the parsed path and the
// default_publishes auto-injection path.
func (s *LoopState) RecordTopic(topic Topic) {
	s.SeenTopics[topic] = struct{}{}
	if topic == s.LastEmittedTopic {
		s.ConsecutiveSameTopic++
	} else {
		s.LastEmittedTopic = topic
		s.ConsecutiveSameTopic = 1
	}
}

// RecordBlocked tracks repeated dispatch of the same "*.blocked" topic
// without progress, feeding the LoopThrashing rule. threshold is
// RalphConfig.ThrashThreshold.
func (s *LoopState) RecordBlocked(topic Topic) {
	if topic == s.lastBlockedTopic {
		s.consecutiveBlocked++
	} else {
		s.lastBlockedTopic = topic
		s.consecutiveBlocked = 1
	}
}

// ResetBlocked clears the blocked-repeat streak; called whenever progress
// (a non-blocked topic) is observed.
func (s *LoopState) ResetBlocked() {
	s.lastBlockedTopic = ""
	s.consecutiveBlocked = 0
}

// ConsecutiveBlocked reports the current repeat streak for the same
// "*.blocked" topic.
func (s *LoopState) ConsecutiveBlocked() int {
	return s.consecutiveBlocked
}

// HasAllRequired reports whether every topic in required is present in
// SeenTopics, and lists any that are missing.
func (s *LoopState) HasAllRequired(required []Topic) (bool, []Topic) {
	var missing []Topic
	for _, t := range required {
		if _, ok := s.SeenTopics[t]; !ok {
			missing = append(missing, t)
		}
	}
	return len(missing) == 0, missing
}

// Activate increments the per-hat activation counter and returns the new
// count.
func (s *LoopState) Activate(hat HatId) int {
	s.Activations[hat]++
	return s.Activations[hat]
}

// Runtime returns elapsed wall-clock time since StartedAt.
func (s *LoopState) Runtime(now time.Time) time.Duration {
	return now.Sub(s.StartedAt)
}
