package ralph

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// MemoryCollaborator supplies the memory-digest appendix PromptBuilder
// folds into the "Ready tasks / memory digest" section.
type MemoryCollaborator interface {
	Digest(ctx context.Context, budgetTokens int) (string, error)
}

// StaticMemory is a MemoryCollaborator backed by a fixed string, useful
// for tests and for embedding apps that compute their own digest
// upstream.
type StaticMemory struct {
	Text string
}

// Digest returns the configured text, truncated to budgetTokens.
func (m StaticMemory) Digest(ctx context.Context, budgetTokens int) (string, error) {
	return TruncateToBudget(m.Text, budgetTokens), nil
}

// TaskStub is the minimal task-feed shape the core consumes: id, subject,
// and status, nothing else (DESIGN.md).
type TaskStub struct {
	ID      string
	Subject string
	Status  string // "pending", "in_progress", "completed"
}

// TaskCollaborator answers the two ready-task questions the core needs:
// what's ready to work, and is everything closed.
type TaskCollaborator interface {
	ReadyTasks(ctx context.Context) ([]TaskStub, error)
	AllClosed(ctx context.Context) (bool, error)
}

// MemoryTaskCollaborator is an in-memory TaskCollaborator. Mutation happens
// through Add/Complete, for test setup and for embedding apps that manage
// their own task feed.
type MemoryTaskCollaborator struct {
	mu    sync.Mutex
	tasks map[string]TaskStub
}

// NewMemoryTaskCollaborator returns an empty task feed.
func NewMemoryTaskCollaborator() *MemoryTaskCollaborator {
	return &MemoryTaskCollaborator{tasks: make(map[string]TaskStub)}
}

// Add registers a task under a freshly generated id and returns that id.
func (t *MemoryTaskCollaborator) Add(subject, status string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := uuid.NewString()
	t.tasks[id] = TaskStub{ID: id, Subject: subject, Status: status}
	return id
}

// Complete marks a task completed.
func (t *MemoryTaskCollaborator) Complete(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if task, ok := t.tasks[id]; ok {
		task.Status = "completed"
		t.tasks[id] = task
	}
}

// ReadyTasks returns every non-completed task, sorted by id for
// deterministic prompt rendering.
func (t *MemoryTaskCollaborator) ReadyTasks(ctx context.Context) ([]TaskStub, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []TaskStub
	for _, task := range t.tasks {
		if task.Status != "completed" {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AllClosed reports whether every task is completed.
func (t *MemoryTaskCollaborator) AllClosed(ctx context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, task := range t.tasks {
		if task.Status != "completed" {
			return false, nil
		}
	}
	return true, nil
}

// RenderReadyTasks formats a []TaskStub into the plain text PromptBuilder
// embeds in the "Ready tasks" sub-section.
func RenderReadyTasks(tasks []TaskStub) string {
	if len(tasks) == 0 {
		return ""
	}
	var b strings.Builder
	for _, t := range tasks {
		fmt.Fprintf(&b, "- [%s] %s (%s)\n", t.ID, t.Subject, t.Status)
	}
	return b.String()
}

// HumanOutcomeKind selects which of Response, Timeout, or Guidance a
// HumanOutcome returned by a HumanCollaborator carries.
type HumanOutcomeKind int

const (
	HumanResponse HumanOutcomeKind = iota
	HumanTimeout
	HumanGuidance
)

// HumanOutcome carries the collaborator's answer to a human.* question.
type HumanOutcome struct {
	Kind    HumanOutcomeKind
	Payload string
}

// HumanCollaborator awaits a human response to a question raised by the
// agent, bounded by timeout.
type HumanCollaborator interface {
	AwaitResponse(ctx context.Context, question string, timeout time.Duration) (HumanOutcome, error)
}

// AnswerFunc answers a question synchronously; used by
// InteractiveHumanCollaborator to plug in a CLI prompt, a Telegram bridge,
// or a test stub.
type AnswerFunc func(ctx context.Context, question string) (string, error)

// InteractiveHumanCollaborator is a HumanCollaborator backed by a single
// pluggable AnswerFunc: one question in, one timeout-bounded answer out.
type InteractiveHumanCollaborator struct {
	Answer AnswerFunc
}

// NewInteractiveHumanCollaborator wraps an AnswerFunc.
func NewInteractiveHumanCollaborator(answer AnswerFunc) *InteractiveHumanCollaborator {
	return &InteractiveHumanCollaborator{Answer: answer}
}

// AwaitResponse calls Answer and races it against timeout. A timeout never
// silently continues — it returns HumanOutcome{Kind: HumanTimeout} so the
// loop can inject a human.timeout event.
func (h *InteractiveHumanCollaborator) AwaitResponse(ctx context.Context, question string, timeout time.Duration) (HumanOutcome, error) {
	type result struct {
		payload string
		err     error
	}
	done := make(chan result, 1)
	go func() {
		payload, err := h.Answer(ctx, question)
		done <- result{payload, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return HumanOutcome{}, r.err
		}
		return HumanOutcome{Kind: HumanResponse, Payload: r.payload}, nil
	case <-time.After(timeout):
		return HumanOutcome{Kind: HumanTimeout}, nil
	case <-ctx.Done():
		return HumanOutcome{}, ctx.Err()
	}
}

// WorkspaceMark is an opaque checkpoint produced by Mark and compared by
// FilesChangedSince.
type WorkspaceMark string

// WorkspaceCollaborator answers whether tracked files changed since a
// checkpoint, used by the file-modification audit.
type WorkspaceCollaborator interface {
	Mark() (WorkspaceMark, error)
	FilesChangedSince(mark WorkspaceMark) (bool, error)
}

// GitWorkspaceCollaborator shells out to git to detect tracked-file
// changes in Dir.
type GitWorkspaceCollaborator struct {
	Dir string
}

// NewGitWorkspaceCollaborator returns a collaborator rooted at dir.
func NewGitWorkspaceCollaborator(dir string) *GitWorkspaceCollaborator {
	return &GitWorkspaceCollaborator{Dir: dir}
}

// Mark records the current porcelain status as a checkpoint string.
func (g *GitWorkspaceCollaborator) Mark() (WorkspaceMark, error) {
	out, err := g.status()
	if err != nil {
		return "", err
	}
	return WorkspaceMark(out), nil
}

// FilesChangedSince reports whether the current status differs from mark.
func (g *GitWorkspaceCollaborator) FilesChangedSince(mark WorkspaceMark) (bool, error) {
	out, err := g.status()
	if err != nil {
		return false, err
	}
	return WorkspaceMark(out) != mark, nil
}

func (g *GitWorkspaceCollaborator) status() (string, error) {
	cmd := exec.Command("git", "status", "--porcelain", "--untracked-files=no")
	cmd.Dir = g.Dir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git status: %w", err)
	}
	return string(out), nil
}

// SignalKind identifies an external control signal.
type SignalKind int

const (
	SignalInterrupt SignalKind = iota
	SignalRestart
	SignalCancel
)

// SignalCollaborator non-blockingly reports whether an external control
// signal has arrived.
type SignalCollaborator interface {
	PollSignal() (SignalKind, bool)
}

// OSSignalCollaborator maps SIGINT to Interrupt, SIGTERM to Cancel, and
// SIGUSR1 to Restart, draining a buffered channel fed by a background
// os/signal listener that is stopped when Close is called.
type OSSignalCollaborator struct {
	ch   chan SignalKind
	stop chan struct{}
}

// NewOSSignalCollaborator installs signal handlers and returns a
// collaborator ready for PollSignal. Call Close to stop listening.
func NewOSSignalCollaborator() *OSSignalCollaborator {
	c := &OSSignalCollaborator{
		ch:   make(chan SignalKind, 4),
		stop: make(chan struct{}),
	}
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	go func() {
		for {
			select {
			case s := <-sigCh:
				switch s {
				case syscall.SIGUSR1:
					c.ch <- SignalRestart
				case syscall.SIGTERM:
					c.ch <- SignalCancel
				default:
					c.ch <- SignalInterrupt
				}
			case <-c.stop:
				signal.Stop(sigCh)
				return
			}
		}
	}()
	return c
}

// PollSignal returns the next buffered signal without blocking.
func (c *OSSignalCollaborator) PollSignal() (SignalKind, bool) {
	select {
	case s := <-c.ch:
		return s, true
	default:
		return 0, false
	}
}

// Close stops the background signal listener.
func (c *OSSignalCollaborator) Close() {
	close(c.stop)
}
