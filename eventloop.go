package ralph

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// EventLoopOption configures an EventLoop at construction via the
// functional options pattern.
type EventLoopOption func(*EventLoop)

// WithLogger overrides the default discard logger.
func WithLogger(logger zerolog.Logger) EventLoopOption {
	return func(l *EventLoop) { l.log = logger }
}

// WithMemory injects a MemoryCollaborator.
func WithMemory(m MemoryCollaborator) EventLoopOption {
	return func(l *EventLoop) { l.memory = m }
}

// WithTasks injects a TaskCollaborator.
func WithTasks(t TaskCollaborator) EventLoopOption {
	return func(l *EventLoop) { l.tasks = t }
}

// WithHuman injects a HumanCollaborator.
func WithHuman(h HumanCollaborator) EventLoopOption {
	return func(l *EventLoop) { l.human = h }
}

// WithWorkspace injects a WorkspaceCollaborator.
func WithWorkspace(w WorkspaceCollaborator) EventLoopOption {
	return func(l *EventLoop) { l.workspace = w }
}

// WithSignals injects a SignalCollaborator.
func WithSignals(s SignalCollaborator) EventLoopOption {
	return func(l *EventLoop) { l.signals = s }
}

// WithSkills injects a SkillIndex used to populate the prompt appendix.
func WithSkills(idx *SkillIndex) EventLoopOption {
	return func(l *EventLoop) { l.skills = idx }
}

// WithNow overrides the clock, for deterministic tests.
func WithNow(now func() time.Time) EventLoopOption {
	return func(l *EventLoop) { l.now = now }
}

// WithEventsFileReader overrides how the events file is read, for tests
// that don't want to touch disk.
func WithEventsFileReader(read func(path string) (string, error)) EventLoopOption {
	return func(l *EventLoop) { l.readEventsFile = read }
}

// EventLoop is the driver: one iteration selects a hat, builds a prompt,
// invokes the executor, ingests results, routes events, and checks
// termination. It is single-threaded and cooperative.
type EventLoop struct {
	config   *RalphConfig
	registry *HatRegistry
	bus      *EventBus
	state    *LoopState
	prompts  *PromptBuilder
	parser   *EventParser
	checker  *TerminationChecker
	executor Executor

	memory    MemoryCollaborator
	tasks     TaskCollaborator
	human     HumanCollaborator
	workspace WorkspaceCollaborator
	signals   SignalCollaborator
	skills    *SkillIndex

	log zerolog.Logger
	now func() time.Time

	fileOffset     int
	readEventsFile func(path string) (string, error)
	workspaceMark  WorkspaceMark
}

// NewEventLoop wires a new loop from config and an Executor, applying any
// options.
func NewEventLoop(config *RalphConfig, executor Executor, opts ...EventLoopOption) (*EventLoop, error) {
	registry, err := config.BuildRegistry()
	if err != nil {
		return nil, err
	}
	l := &EventLoop{
		config:   config,
		registry: registry,
		bus:      NewEventBus(registry),
		prompts:  NewPromptBuilder(),
		parser:   NewEventParser(config.CompletionPromise, config.CancellationPromise),
		checker:  NewTerminationChecker(config),
		executor: executor,
		log:      DiscardLogger(),
		now:      time.Now,
		readEventsFile: func(path string) (string, error) {
			data, err := os.ReadFile(path)
			return string(data), err
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Run drives the loop to completion, publishing config.StartingEvent
// first, and returns the TerminationReport.
func (l *EventLoop) Run(ctx context.Context, objective string) TerminationReport {
	l.state = NewLoopState(l.now())

	if l.config.StartingEvent != "" {
		l.publishAndRecord(Event{Topic: l.config.StartingEvent, Source: CoordinatorHat})
	}

	for {
		completionPending := l.state.CompletionRequested
		result := l.checker.Check(l.state, l.now())
		if l.config.Persistent && completionPending && !l.state.CompletionRequested && result.ResumeEvent == nil {
			l.log.Info().Int("iterations", l.state.Iteration).Msg("completion requested; persistent mode keeps the loop running")
		}
		if result.ResumeEvent != nil {
			l.publishAndRecord(*result.ResumeEvent)
		}
		if result.Reason != NoTermination {
			l.log.Info().
				Str("reason", result.Reason.String()).
				Int("iterations", l.state.Iteration).
				Msg("loop terminated")
			return buildReport(l.state, result.Reason, l.now())
		}

		select {
		case <-ctx.Done():
			l.state.Interrupted = true
			continue
		default:
		}
		if l.signals != nil {
			if sig, ok := l.signals.PollSignal(); ok {
				l.applySignal(sig)
				continue
			}
		}

		if l.drainHumanQueue(ctx) {
			continue
		}

		if err := l.runIteration(ctx, objective); err != nil {
			l.log.Warn().Err(err).Int("iteration", l.state.Iteration).Msg("iteration failed")
		}
	}
}

// drainHumanQueue forwards any pending human.interact questions to the
// injected HumanCollaborator and publishes its outcome back onto the bus,
// targeted at the hat that asked, as human.response, human.guidance, or
// human.timeout, so the next iteration's prompt always carries a concrete
// event rather than silently continuing. Outcome events are targeted
// rather than left to the human.* routing rule, since that rule exists
// only to catch the inbound question itself — an outcome addressed back
// through it would be mistaken for a fresh question on the next pass.
// Reports whether it handled anything.
func (l *EventLoop) drainHumanQueue(ctx context.Context) bool {
	if l.human == nil {
		return false
	}
	pending := l.bus.DrainHumanQueue()
	if len(pending) == 0 {
		return false
	}
	for _, e := range pending {
		originator := e.Source
		if originator == "" {
			originator = CoordinatorHat
		}
		outcome, err := l.human.AwaitResponse(ctx, e.Payload, l.config.InteractionTimeout)
		if err != nil {
			l.log.Warn().Err(err).Msg("human collaborator failed")
			l.publishAndRecord(Event{Topic: "human.timeout", Source: CoordinatorHat, Target: originator, Payload: err.Error()})
			continue
		}
		switch outcome.Kind {
		case HumanTimeout:
			l.publishAndRecord(Event{Topic: "human.timeout", Source: CoordinatorHat, Target: originator, Payload: outcome.Payload})
		case HumanGuidance:
			l.publishAndRecord(Event{Topic: "human.guidance", Source: CoordinatorHat, Target: originator, Payload: outcome.Payload})
		default:
			l.publishAndRecord(Event{Topic: "human.response", Source: CoordinatorHat, Target: originator, Payload: outcome.Payload})
		}
	}
	return true
}

func (l *EventLoop) applySignal(sig SignalKind) {
	switch sig {
	case SignalInterrupt:
		l.state.Interrupted = true
	case SignalRestart:
		l.state.RestartRequested = true
	case SignalCancel:
		l.state.CancellationRequested = true
	}
}

// runIteration executes one pass of the per-iteration state machine:
// SelectHat → BuildPrompt → Execute → ParseAndRoute → PostAudit →
// UpdateState.
func (l *EventLoop) runIteration(ctx context.Context, objective string) error {
	hat := l.selectHat()

	drained := l.bus.DrainPending(hat)
	prompt := l.buildPrompt(ctx, hat, objective, drained)

	if l.workspace != nil {
		if mark, err := l.workspace.Mark(); err == nil {
			l.workspaceMark = mark
		}
	}

	execResult, execErr := l.executor.Execute(ctx, prompt, l.execConfig())
	if execErr != nil {
		l.state.ConsecutiveFailures++
		return &ExecutorFailure{Iteration: l.state.Iteration, Cause: execErr}
	}
	if execResult.IsError {
		l.state.ConsecutiveFailures++
	} else {
		l.state.ConsecutiveFailures = 0
	}
	l.state.AccumulatedCost += execResult.CostUSD

	fileLines := l.readNewFileLines(execResult.EventsFile)
	parsed := l.parser.Parse(hat, execResult.Stdout, fileLines)

	if parsed.CancellationRequested {
		l.state.CancellationRequested = true
	}

	l.routeParsedEvents(hat, parsed.Events)
	if parsed.CompletionRequested {
		l.state.CompletionRequested = true
	}

	if len(parsed.Events) == 0 {
		l.applyDefaultPublishes(hat)
	}

	l.postAudit(hat)

	l.state.Iteration++
	l.state.Activate(hat)
	l.log.Info().
		Int("iteration", l.state.Iteration).
		Str("hat", string(hat)).
		Int("events", len(parsed.Events)).
		Int("malformed_lines", len(parsed.ParseErrors)).
		Msg("iteration complete")
	return nil
}

// selectHat returns the first non-coordinator hat (in the registry's
// deterministic order) with pending events that hasn't hit its
// MaxActivations cap. A capped hat is skipped, not substituted for the
// coordinator, so a later hat with pending work this iteration still gets
// picked; only when none qualify does selection fall back to the
// coordinator.
func (l *EventLoop) selectHat() HatId {
	for _, id := range l.registry.HatIDs() {
		if id == CoordinatorHat {
			continue
		}
		if l.bus.Pending(id) == 0 {
			continue
		}
		if cap := l.hatCap(id); cap > 0 && l.state.Activations[id] >= cap {
			continue
		}
		return id
	}
	return CoordinatorHat
}

func (l *EventLoop) hatCap(hat HatId) int {
	cfg, ok := l.registry.Get(hat)
	if !ok {
		return 0
	}
	return cfg.MaxActivations
}

func (l *EventLoop) buildPrompt(ctx context.Context, hat HatId, objective string, events []Event) string {
	var readyTasks, memoryDigest string
	if l.tasks != nil {
		if stubs, err := l.tasks.ReadyTasks(ctx); err == nil {
			readyTasks = TruncateToBudget(RenderReadyTasks(stubs), l.config.MemoryBudgetTokens)
		}
	}
	if l.memory != nil {
		if digest, err := l.memory.Digest(ctx, l.config.MemoryBudgetTokens); err == nil {
			memoryDigest = digest
		}
	}
	var skills []Skill
	if l.skills != nil {
		skills, _ = l.skills.Load()
	}
	return l.prompts.Build(PromptInputs{
		Config:       l.config,
		Registry:     l.registry,
		ActiveHat:    hat,
		HatEvents:    events,
		Objective:    objective,
		ReadyTasks:   readyTasks,
		MemoryDigest: memoryDigest,
		Skills:       skills,
	})
}

func (l *EventLoop) execConfig() ExecConfig {
	return ExecConfig{IdleTimeout: l.config.IdleTimeout}
}

// readNewFileLines reads only what has been appended to path since the
// last iteration's read offset: read-once per iteration, no lock beyond
// tracking end-of-file position.
func (l *EventLoop) readNewFileLines(path string) []string {
	if path == "" || l.readEventsFile == nil {
		return nil
	}
	content, err := l.readEventsFile(path)
	if err != nil {
		return nil
	}
	lines, offset := ReadFileLines(content, l.fileOffset)
	l.fileOffset = offset
	return lines
}

// routeParsedEvents applies scope enforcement and backpressure gating
// before publishing each surviving event, calling record_topic before
// every publish. Returns whether any event was ultimately accepted.
func (l *EventLoop) routeParsedEvents(hat HatId, events []Event) bool {
	accepted := false
	for _, e := range events {
		if e.Source == "" {
			e.Source = hat
		}

		if l.config.EnforceHatScope && !l.registry.CanPublish(hat, e.Topic) {
			l.publishAndRecord(Event{
				Topic:   Topic(fmt.Sprintf("%s.scope_violation", hat)),
				Source:  hat,
				Payload: fmt.Sprintf("dropped unauthorized publish of %q", e.Topic),
			})
			continue
		}

		if IsBackpressureTopic(e.Topic, l.config.BackpressureTopics) {
			evidence, ok := BuildPressureEvidence(e.Payload)
			if !ok {
				l.publishAndRecord(Event{
					Topic:   Topic(fmt.Sprintf("%s.build_rejected", hat)),
					Source:  hat,
					Payload: "missing backpressure evidence fields",
				})
				continue
			}
			if passed, reasons := evidence.AllPassed(); !passed {
				l.publishAndRecord(Event{
					Topic:   Topic(fmt.Sprintf("%s.build_rejected", hat)),
					Source:  hat,
					Payload: fmt.Sprintf("%v", reasons),
				})
				continue
			}
		}

		l.publishAndRecord(e)
		accepted = true

		if IsBlockedTopic(e.Topic) {
			l.state.RecordBlocked(e.Topic)
		} else {
			l.state.ResetBlocked()
		}
	}
	return accepted
}

// applyDefaultPublishes synthesizes the configured default_publishes
// topic when hat produced zero events. Two easy-to-miss side effects are
// both implemented here: record_topic runs before the publish, and
// completion_requested is set directly when the default topic equals the
// completion promise rather than waiting on a future stdout parse.
func (l *EventLoop) applyDefaultPublishes(hat HatId) {
	if hat == CoordinatorHat {
		return
	}
	cfg, ok := l.registry.Get(hat)
	if !ok || cfg.DefaultPublishes == "" {
		return
	}
	event := Event{Topic: cfg.DefaultPublishes, Source: hat, Payload: ""}
	l.publishAndRecord(event)
	if string(cfg.DefaultPublishes) == l.config.CompletionPromise {
		l.state.CompletionRequested = true
	}
}

// publishAndRecord calls LoopState.RecordTopic before EventBus.Publish on
// every path, so SeenTopics is never stale relative to what was routed.
func (l *EventLoop) publishAndRecord(e Event) {
	l.state.RecordTopic(e.Topic)
	l.bus.Publish(e)
}

// postAudit implements the file-modification audit: if the active hat
// forbids Edit/Write, ask the workspace collaborator whether tracked files
// changed and emit a scope_violation if so.
func (l *EventLoop) postAudit(hat HatId) {
	if l.workspace == nil || hat == CoordinatorHat {
		return
	}
	cfg, ok := l.registry.Get(hat)
	if !ok || !forbidsFileEdits(cfg.DisallowedTools) {
		return
	}
	changed, err := l.workspace.FilesChangedSince(l.workspaceMark)
	if err != nil || !changed {
		return
	}
	l.publishAndRecord(Event{
		Topic:   Topic(fmt.Sprintf("%s.scope_violation", hat)),
		Source:  hat,
		Payload: "tracked files changed despite Edit/Write restriction",
	})
}

func forbidsFileEdits(tools []string) bool {
	for _, t := range tools {
		if t == "Edit" || t == "Write" {
			return true
		}
	}
	return false
}
