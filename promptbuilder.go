package ralph

import (
	"fmt"
	"strings"
)

// PromptInputs bundles everything PromptBuilder needs to assemble one
// iteration's prompt. Two invocations given identical inputs produce
// byte-identical output.
type PromptInputs struct {
	Config      *RalphConfig
	Registry    *HatRegistry
	ActiveHat   HatId
	HatEvents   []Event // pending events for ActiveHat, already drained in order
	Objective   string
	ReadyTasks  string // pre-rendered, truncated by the caller to MemoryBudgetTokens
	MemoryDigest string // pre-rendered, truncated by the caller
	Skills      []Skill
	HumanNote   string // optional guidance appendix, e.g. after a human.timeout
}

// PromptBuilder assembles the per-iteration prompt string from its seven
// fixed sections, in order. Sections with nothing to show (the HATS table
// when only the coordinator exists, hat instructions, context digests,
// appendices) are left out; EVENTS and OBJECTIVE are always written.
type PromptBuilder struct{}

// NewPromptBuilder returns a stateless builder; PromptBuilder carries no
// fields because every input arrives via PromptInputs (determinism is
// easier to reason about with no hidden state).
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{}
}

// Build renders the full prompt.
func (b *PromptBuilder) Build(in PromptInputs) string {
	var out strings.Builder

	b.writePreamble(&out, in.Config)
	b.writeTopology(&out, in.Registry)
	b.writeActiveHatInstructions(&out, in)
	b.writeEvents(&out, in.HatEvents)
	b.writeObjective(&out, in.Objective)
	b.writeCollaboratorDigests(&out, in)
	b.writeAppendices(&out, in)

	return out.String()
}

func (b *PromptBuilder) writePreamble(out *strings.Builder, cfg *RalphConfig) {
	out.WriteString("# COORDINATOR\n")
	out.WriteString("You are ralph, the coordinator driving this loop to completion.\n")
	fmt.Fprintf(out, "Write the line `%s` by itself as the final non-empty line of your output "+
		"when the objective is fully satisfied.\n", cfg.CompletionPromise)
	if cfg.CancellationPromise != "" {
		fmt.Fprintf(out, "Write the line `%s` by itself as the final non-empty line to cancel the loop instead.\n", cfg.CancellationPromise)
	}
	out.WriteString("\n")
}

func (b *PromptBuilder) writeTopology(out *strings.Builder, reg *HatRegistry) {
	if reg == nil || reg.Len() <= 1 {
		return // only the coordinator exists; table is omitted
	}
	out.WriteString("# HATS\n")
	out.WriteString("| hat | triggers | publishes | description |\n")
	out.WriteString("|---|---|---|---|\n")
	for _, id := range reg.HatIDs() {
		if id == CoordinatorHat {
			continue
		}
		cfg, _ := reg.Get(id)
		fmt.Fprintf(out, "| %s | %s | %s | %s |\n",
			id, joinTopics(cfg.Triggers), joinTopics(cfg.Publishes), cfg.Description)
	}
	out.WriteString("\n")
}

func joinTopics(topics []Topic) string {
	strs := make([]string, len(topics))
	for i, t := range topics {
		strs[i] = string(t)
	}
	return strings.Join(strs, ", ")
}

func (b *PromptBuilder) writeActiveHatInstructions(out *strings.Builder, in PromptInputs) {
	if in.Registry == nil {
		return
	}
	cfg, ok := in.Registry.Get(in.ActiveHat)
	if !ok || strings.TrimSpace(cfg.Instructions) == "" {
		return
	}
	fmt.Fprintf(out, "# ACTIVE HAT: %s\n%s\n\n", in.ActiveHat, cfg.Instructions)
	if len(cfg.DisallowedTools) > 0 {
		out.WriteString("## TOOL RESTRICTIONS\n")
		out.WriteString("The following tools are forbidden for this hat. Using one is a scope " +
			"violation subject to post-iteration audit:\n")
		for _, tool := range cfg.DisallowedTools {
			fmt.Fprintf(out, "- %s\n", tool)
		}
		out.WriteString("\n")
	}
}

func (b *PromptBuilder) writeEvents(out *strings.Builder, events []Event) {
	out.WriteString("# EVENTS\n")
	if len(events) == 0 {
		out.WriteString(renderEvent(Event{Topic: "task.resume", Payload: ""}))
		out.WriteString("\n")
		return
	}
	for _, e := range events {
		out.WriteString(renderEvent(e))
	}
	out.WriteString("\n")
}

func renderEvent(e Event) string {
	src := string(e.Source)
	if src == "" {
		src = "-"
	}
	return fmt.Sprintf("- topic=%s source=%s payload=%s\n", e.Topic, src, e.Payload)
}

func (b *PromptBuilder) writeObjective(out *strings.Builder, objective string) {
	fmt.Fprintf(out, "# OBJECTIVE\n%s\n\n", objective)
}

func (b *PromptBuilder) writeCollaboratorDigests(out *strings.Builder, in PromptInputs) {
	if in.ReadyTasks == "" && in.MemoryDigest == "" {
		return
	}
	out.WriteString("# CONTEXT\n")
	if in.ReadyTasks != "" {
		fmt.Fprintf(out, "## Ready tasks\n%s\n\n", in.ReadyTasks)
	}
	if in.MemoryDigest != "" {
		fmt.Fprintf(out, "## Memory digest\n%s\n\n", in.MemoryDigest)
	}
}

func (b *PromptBuilder) writeAppendices(out *strings.Builder, in PromptInputs) {
	if skillBlock := Render(in.Skills); skillBlock != "" {
		out.WriteString(skillBlock)
		out.WriteString("\n")
	}
	if in.HumanNote != "" {
		fmt.Fprintf(out, "## Human guidance\n%s\n", in.HumanNote)
	}
}

// TruncateToBudget trims s to approximately budgetTokens tokens, using a
// crude 4-characters-per-token heuristic. A truncated result, including
// its trailing ellipsis, is at most budgetTokens*4 bytes long.
func TruncateToBudget(s string, budgetTokens int) string {
	limit := budgetTokens * 4
	if limit <= 0 || len(s) <= limit {
		return s
	}
	const ellipsis = "…"
	return s[:limit-len(ellipsis)] + ellipsis
}
