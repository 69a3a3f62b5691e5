package ralph

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultCompletionPromise is the phrase that requests termination when it
// is the last non-empty line of agent stdout.
const DefaultCompletionPromise = "LOOP_COMPLETE"

// DefaultBackpressureTopics is the inferred default set of build.done-class
// topics.
var DefaultBackpressureTopics = []Topic{"build.done", "review.done", "verify.passed"}

// DefaultThrashThreshold is the conservative default repeat count for
// LoopThrashing.
const DefaultThrashThreshold = 3

// DefaultStaleThreshold is the fixed repeat count for LoopStale; it is
// hard-coded at 3, not configurable.
const DefaultStaleThreshold = 3

// RalphConfig is the immutable snapshot of limits, promises, and hat
// definitions loaded for one loop invocation.
type RalphConfig struct {
	MaxIterations int
	MaxRuntime    time.Duration
	MaxCost       float64

	CompletionPromise  string
	CancellationPromise string // empty disables cancellation detection

	StartingEvent  Topic
	RequiredEvents []Topic

	EnforceHatScope bool
	Persistent      bool

	BackpressureTopics  []Topic
	ThrashThreshold     int
	InteractionTimeout  time.Duration
	IdleTimeout         time.Duration
	MemoryBudgetTokens  int
	ConsecutiveFailureLimit int

	Hats map[HatId]HatConfig
}

// yamlHatConfig mirrors HatConfig with yaml tags; kept separate so the
// exported HatConfig stays free of serialization concerns.
type yamlHatConfig struct {
	Name             string   `yaml:"name"`
	Description      string   `yaml:"description"`
	Triggers         []string `yaml:"triggers"`
	Publishes        []string `yaml:"publishes"`
	Instructions     string   `yaml:"instructions"`
	DefaultPublishes string   `yaml:"default_publishes"`
	DisallowedTools  []string `yaml:"disallowed_tools"`
	MaxActivations   int      `yaml:"max_activations"`
}

type yamlRalphConfig struct {
	MaxIterations           int                      `yaml:"max_iterations"`
	MaxRuntimeSeconds       int                      `yaml:"max_runtime_seconds"`
	MaxCost                 float64                  `yaml:"max_cost"`
	CompletionPromise       string                   `yaml:"completion_promise"`
	CancellationPromise     string                   `yaml:"cancellation_promise"`
	StartingEvent           string                   `yaml:"starting_event"`
	RequiredEvents          []string                 `yaml:"required_events"`
	EnforceHatScope         bool                     `yaml:"enforce_hat_scope"`
	Persistent              bool                     `yaml:"persistent"`
	BackpressureTopics      []string                 `yaml:"backpressure_topics"`
	ThrashThreshold         int                      `yaml:"thrash_threshold"`
	InteractionTimeoutSec   int                      `yaml:"interaction_timeout_seconds"`
	IdleTimeoutSec          int                      `yaml:"idle_timeout_seconds"`
	MemoryBudgetTokens      int                      `yaml:"memory_budget_tokens"`
	ConsecutiveFailureLimit int                      `yaml:"consecutive_failure_limit"`
	Hats                    map[string]yamlHatConfig `yaml:"hats"`
}

// LoadConfig reads and validates a RalphConfig from a YAML file at path.
// This is the module's trust boundary: everything downstream assumes a
// RalphConfig returned from here already satisfies Validate's invariants.
func LoadConfig(path string) (*RalphConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates a RalphConfig from an in-memory YAML
// document, applying documented defaults for omitted fields.
func ParseConfig(data []byte) (*RalphConfig, error) {
	var raw yamlRalphConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config yaml: %w", err)
	}

	cfg := &RalphConfig{
		MaxIterations:           raw.MaxIterations,
		MaxCost:                 raw.MaxCost,
		CompletionPromise:       raw.CompletionPromise,
		CancellationPromise:     raw.CancellationPromise,
		StartingEvent:           Topic(raw.StartingEvent),
		EnforceHatScope:         raw.EnforceHatScope,
		Persistent:              raw.Persistent,
		ThrashThreshold:         raw.ThrashThreshold,
		MemoryBudgetTokens:      raw.MemoryBudgetTokens,
		ConsecutiveFailureLimit: raw.ConsecutiveFailureLimit,
		Hats:                    make(map[HatId]HatConfig),
	}
	if cfg.CompletionPromise == "" {
		cfg.CompletionPromise = DefaultCompletionPromise
	}
	if raw.MaxRuntimeSeconds > 0 {
		cfg.MaxRuntime = time.Duration(raw.MaxRuntimeSeconds) * time.Second
	}
	if cfg.ThrashThreshold <= 0 {
		cfg.ThrashThreshold = DefaultThrashThreshold
	}
	if raw.InteractionTimeoutSec > 0 {
		cfg.InteractionTimeout = time.Duration(raw.InteractionTimeoutSec) * time.Second
	} else {
		cfg.InteractionTimeout = 10 * time.Minute
	}
	if raw.IdleTimeoutSec > 0 {
		cfg.IdleTimeout = time.Duration(raw.IdleTimeoutSec) * time.Second
	} else {
		cfg.IdleTimeout = 15 * time.Minute
	}
	if cfg.MemoryBudgetTokens <= 0 {
		cfg.MemoryBudgetTokens = 4000
	}
	if cfg.ConsecutiveFailureLimit <= 0 {
		cfg.ConsecutiveFailureLimit = 3
	}

	if len(raw.BackpressureTopics) > 0 {
		for _, t := range raw.BackpressureTopics {
			cfg.BackpressureTopics = append(cfg.BackpressureTopics, Topic(t))
		}
	} else {
		cfg.BackpressureTopics = append([]Topic(nil), DefaultBackpressureTopics...)
	}

	for _, t := range raw.RequiredEvents {
		cfg.RequiredEvents = append(cfg.RequiredEvents, Topic(t))
	}

	for id, h := range raw.Hats {
		hc := HatConfig{
			Name:             h.Name,
			Description:      h.Description,
			Instructions:     h.Instructions,
			DefaultPublishes: Topic(h.DefaultPublishes),
			DisallowedTools:  h.DisallowedTools,
			MaxActivations:   h.MaxActivations,
		}
		for _, t := range h.Triggers {
			hc.Triggers = append(hc.Triggers, Topic(t))
		}
		for _, t := range h.Publishes {
			hc.Publishes = append(hc.Publishes, Topic(t))
		}
		cfg.Hats[HatId(id)] = hc
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks valid topic patterns, no duplicate hat id collisions
// beyond what map keys already prevent, and every required-event topic
// reachable from some configured hat's publishes or default_publishes.
// The coordinator's universal publish is not counted; with scope
// enforcement off every required event counts as reachable.
func (c *RalphConfig) Validate() error {
	if c.CompletionPromise == "" {
		return &ConfigError{Field: "completion_promise", Reason: "must not be empty"}
	}
	if !Topic(c.StartingEvent).Valid() && c.StartingEvent != "" {
		return &ConfigError{Field: "starting_event", Reason: "invalid topic pattern"}
	}

	ids := make([]string, 0, len(c.Hats))
	for id := range c.Hats {
		ids = append(ids, string(id))
	}
	sort.Strings(ids) // deterministic error ordering
	for _, sid := range ids {
		id := HatId(sid)
		hc := c.Hats[id]
		if id == CoordinatorHat {
			return &ConfigError{Field: "hats", Reason: "hat id \"ralph\" is reserved for the coordinator"}
		}
		for _, t := range hc.Triggers {
			if !t.Valid() {
				return &ConfigError{Field: "hats." + string(id) + ".triggers", Reason: fmt.Sprintf("invalid topic pattern %q", t)}
			}
		}
		for _, t := range hc.Publishes {
			if !t.Valid() {
				return &ConfigError{Field: "hats." + string(id) + ".publishes", Reason: fmt.Sprintf("invalid topic pattern %q", t)}
			}
		}
	}

	for _, req := range c.RequiredEvents {
		if !req.Valid() {
			return &ConfigError{Field: "required_events", Reason: fmt.Sprintf("invalid topic pattern %q", req)}
		}
		reachable := false
		for _, hc := range c.Hats {
			for _, pub := range hc.Publishes {
				if pub.Match(req) != NoMatch {
					reachable = true
				}
			}
			if hc.DefaultPublishes != "" && hc.DefaultPublishes.Match(req) != NoMatch {
				reachable = true
			}
		}
		if !c.EnforceHatScope {
			reachable = true // without scope enforcement any hat can emit anything
		}
		if !reachable {
			return &ErrUnreachableRequiredEvent{Topic: req}
		}
	}
	return nil
}

// BuildRegistry constructs a HatRegistry from the config's hat topology.
func (c *RalphConfig) BuildRegistry() (*HatRegistry, error) {
	reg := NewHatRegistry(c.EnforceHatScope)
	ids := make([]string, 0, len(c.Hats))
	for id := range c.Hats {
		ids = append(ids, string(id))
	}
	sort.Strings(ids) // register deterministically regardless of map iteration order
	for _, id := range ids {
		if err := reg.Register(HatId(id), c.Hats[HatId(id)]); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
