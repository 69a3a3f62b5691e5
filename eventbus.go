package ralph

// ObserverFunc is a read-only diagnostic callback invoked after every
// publish. Observers must not block; EventBus calls them synchronously
// from Publish since the loop is cooperative and single-threaded.
type ObserverFunc func(hat HatId, event Event)

// HumanQueueHat is the reserved pseudo-hat id for inbound human.interact
// questions, kept separate from the ordinary per-hat queues so a Human
// collaborator can drain it without competing with hat dispatch.
const HumanQueueHat HatId = "__human__"

// EventBus routes published events into per-hat pending queues by topic
// matching. Insertion order is preserved per hat (FIFO); no event is
// dropped silently — unrouted events fall through to the coordinator.
type EventBus struct {
	registry  *HatRegistry
	queues    map[HatId][]Event
	observers []ObserverFunc
}

// NewEventBus creates a bus that routes against registry.
func NewEventBus(registry *HatRegistry) *EventBus {
	return &EventBus{
		registry: registry,
		queues:   make(map[HatId][]Event),
	}
}

// Publish routes event to exactly one queue: event.Target if set, else the
// topic-matched hat (or the coordinator if nothing matches), unless the
// topic is the reserved human.interact question topic, which always routes
// to the human queue regardless of target. Outcome events the loop raises
// in response (human.response/human.guidance/human.timeout) are ordinary
// topics and route by target like any other event.
func (b *EventBus) Publish(event Event) {
	var dest HatId
	switch {
	case event.Topic.IsHumanTopic():
		dest = HumanQueueHat
	case event.HasTarget():
		dest = event.Target
	default:
		hat, _ := b.registry.GetForTopic(event.Topic)
		dest = hat
	}
	b.queues[dest] = append(b.queues[dest], event)
	for _, obs := range b.observers {
		obs(dest, event)
	}
}

// DrainPending removes and returns all pending events for hat in FIFO
// order.
func (b *EventBus) DrainPending(hat HatId) []Event {
	events := b.queues[hat]
	delete(b.queues, hat)
	return events
}

// DrainHumanQueue removes and returns all pending human.interact questions.
func (b *EventBus) DrainHumanQueue() []Event {
	return b.DrainPending(HumanQueueHat)
}

// HatDrain pairs a hat id with its drained events, returned by
// DrainAllPending in deterministic hat order.
type HatDrain struct {
	Hat    HatId
	Events []Event
}

// DrainAllPending drains every hat's queue in the registry's deterministic
// (alphabetical) hat order. EventLoop does not call it; each iteration
// drains only the selected hat via DrainPending.
func (b *EventBus) DrainAllPending() []HatDrain {
	var out []HatDrain
	for _, id := range b.registry.HatIDs() {
		if events := b.DrainPending(id); len(events) > 0 {
			out = append(out, HatDrain{Hat: id, Events: events})
		}
	}
	return out
}

// Observe registers a read-only diagnostic fan-out callback.
func (b *EventBus) Observe(fn ObserverFunc) {
	b.observers = append(b.observers, fn)
}

// Pending reports the number of events currently queued for hat, without
// draining them.
func (b *EventBus) Pending(hat HatId) int {
	return len(b.queues[hat])
}
