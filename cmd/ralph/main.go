// Command ralph drives an external AI coding agent through a
// configured hat topology until the objective completes.
//
// Usage:
//
//	ralph -config ralph.yaml "ship the feature"
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	ralph "github.com/ralphcore/ralph"
)

func main() {
	configPath := flag.String("config", "ralph.yaml", "path to the hat/config file")
	command := flag.String("command", "", "agent command to invoke each iteration (default: look up ralph-agent on PATH)")
	skillsDir := flag.String("skills", "", "directory of skill subdirectories to index into the prompt")
	flag.Parse()

	objective := strings.Join(flag.Args(), " ")
	if objective == "" {
		fmt.Fprintln(os.Stderr, "usage: ralph -config ralph.yaml \"objective text\"")
		os.Exit(2)
	}

	cfg, err := ralph.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(2)
	}

	agentCmd, err := ralph.DiscoverCommand(*command)
	if err != nil {
		fmt.Fprintf(os.Stderr, "discovering agent command: %v\n", err)
		os.Exit(2)
	}

	executor := ralph.NewLocalExecutor()
	logger := ralph.NewLogger(os.Stderr)
	signals := ralph.NewOSSignalCollaborator()
	defer signals.Close()

	opts := []ralph.EventLoopOption{
		ralph.WithLogger(logger),
		ralph.WithSignals(signals),
		ralph.WithTasks(ralph.NewMemoryTaskCollaborator()),
	}
	if *skillsDir != "" {
		opts = append(opts, ralph.WithSkills(ralph.NewSkillIndex(*skillsDir)))
	}
	if wd, err := os.Getwd(); err == nil {
		opts = append(opts, ralph.WithWorkspace(ralph.NewGitWorkspaceCollaborator(wd)))
	}

	loop, err := ralph.NewEventLoop(cfg, execAdapter{agentCmd, executor}, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "constructing event loop: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	report := loop.Run(ctx, objective)
	logger.Info().
		Str("reason", report.Reason.String()).
		Int("iterations", report.Iterations).
		Dur("duration", report.Duration).
		Float64("cost_usd", report.Cost).
		Msg("ralph finished")

	os.Exit(report.ExitCode())
}

// execAdapter pins the configured agent command onto every ExecConfig,
// since the core never chooses the command itself.
type execAdapter struct {
	command string
	inner   ralph.Executor
}

func (e execAdapter) Execute(ctx context.Context, prompt string, cfg ralph.ExecConfig) (*ralph.ExecutionResult, error) {
	cfg.Command = e.command
	return e.inner.Execute(ctx, prompt, cfg)
}
