package ralph

import "sort"

// HatConfig describes a persona: what it listens for, what it is
// authorized to emit, and the instructions injected into its prompt.
type HatConfig struct {
	Name             string
	Description      string
	Triggers         []Topic
	Publishes        []Topic
	Instructions     string
	DefaultPublishes Topic // empty means none
	DisallowedTools  []string
	MaxActivations   int // 0 means unbounded
}

// HatRegistry holds hat definitions and answers subscription and
// publish-authorization queries. It is immutable after initialization:
// Register is only ever called during setup, never mid-loop.
type HatRegistry struct {
	hats            map[HatId]HatConfig
	order           []HatId // insertion order; iteration and routing use sortedIDs instead
	enforceHatScope bool
}

// NewHatRegistry creates a registry pre-seeded with the irremovable
// coordinator hat.
func NewHatRegistry(enforceHatScope bool) *HatRegistry {
	r := &HatRegistry{
		hats:            make(map[HatId]HatConfig),
		enforceHatScope: enforceHatScope,
	}
	r.hats[CoordinatorHat] = HatConfig{
		Name:        "ralph",
		Description: "coordinator (universal fallback)",
		Triggers:    []Topic{"*"},
		Publishes:   []Topic{"*"},
	}
	r.order = append(r.order, CoordinatorHat)
	return r
}

// Register adds a new hat. It fails with *ErrDuplicateHat if id is taken,
// or *ErrAmbiguousTrigger if the new triggers would make more than one hat
// match a non-wildcard topic the registry already routes unambiguously.
func (r *HatRegistry) Register(id HatId, cfg HatConfig) error {
	if _, exists := r.hats[id]; exists {
		return &ErrDuplicateHat{ID: id}
	}
	for _, trigger := range cfg.Triggers {
		if trigger.IsWildcard() {
			continue // wildcard overlaps with specifics are permitted
		}
		if existing, ok := r.GetForTopic(trigger); ok && existing != CoordinatorHat {
			if isExactSubscriber(r.hats[existing], trigger) {
				return &ErrAmbiguousTrigger{Topic: trigger, Hat: id, Competing: existing}
			}
		}
	}
	r.hats[id] = cfg
	r.order = append(r.order, id)
	return nil
}

func isExactSubscriber(cfg HatConfig, topic Topic) bool {
	for _, t := range cfg.Triggers {
		if t.Match(topic) == ExactMatch {
			return true
		}
	}
	return false
}

// GetForTopic returns at most one hat id whose subscription matches topic.
// Exact beats suffix-wildcard beats universal; ties break alphabetically
// by hat id. The coordinator is returned only when nothing else matches.
func (r *HatRegistry) GetForTopic(topic Topic) (HatId, bool) {
	var bestID HatId
	bestKind := NoMatch
	found := false

	for _, id := range r.sortedIDs() {
		if id == CoordinatorHat {
			continue
		}
		cfg := r.hats[id]
		var hatBest MatchKind
		for _, trigger := range cfg.Triggers {
			if kind := trigger.Match(topic); kind > hatBest {
				hatBest = kind
			}
		}
		if hatBest == NoMatch {
			continue
		}
		// sortedIDs() is already alphabetical, so the first hat seen at a
		// given MatchKind keeps priority over later ones at the same kind.
		if !found || hatBest > bestKind {
			bestKind = hatBest
			bestID = id
			found = true
		}
	}
	if found {
		return bestID, true
	}
	return CoordinatorHat, true
}

// Subscribers returns all hat ids whose subscriptions match topic, for
// diagnostic/broadcast use only.
func (r *HatRegistry) Subscribers(topic Topic) []HatId {
	var out []HatId
	for _, id := range r.sortedIDs() {
		cfg := r.hats[id]
		for _, trigger := range cfg.Triggers {
			if trigger.Match(topic) != NoMatch {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// CanPublish reports whether hat is authorized to publish topic.
func (r *HatRegistry) CanPublish(hat HatId, topic Topic) bool {
	if !r.enforceHatScope || hat == CoordinatorHat {
		return true
	}
	cfg, ok := r.hats[hat]
	if !ok {
		return true // unknown hat ids are treated as the coordinator
	}
	for _, pattern := range cfg.Publishes {
		if pattern.Match(topic) != NoMatch {
			return true
		}
	}
	return false
}

// Get returns the configuration for a registered hat.
func (r *HatRegistry) Get(id HatId) (HatConfig, bool) {
	cfg, ok := r.hats[id]
	return cfg, ok
}

// HatIDs returns every registered hat id in deterministic (sorted) order.
func (r *HatRegistry) HatIDs() []HatId {
	return r.sortedIDs()
}

// Len returns the number of registered hats, including the coordinator.
func (r *HatRegistry) Len() int {
	return len(r.hats)
}

func (r *HatRegistry) sortedIDs() []HatId {
	ids := make([]HatId, 0, len(r.hats))
	for id := range r.hats {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
