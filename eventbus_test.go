package ralph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) (*EventBus, *HatRegistry) {
	t.Helper()
	reg := NewHatRegistry(true)
	require.NoError(t, reg.Register("builder", HatConfig{Triggers: []Topic{"plan.approved"}}))
	return NewEventBus(reg), reg
}

func TestPublishRoutesByTopic(t *testing.T) {
	bus, _ := newTestBus(t)
	bus.Publish(Event{Topic: "plan.approved", Payload: "go"})

	events := bus.DrainPending("builder")
	require.Len(t, events, 1)
	assert.Equal(t, Topic("plan.approved"), events[0].Topic)
}

func TestPublishUnroutedFallsBackToCoordinator(t *testing.T) {
	bus, _ := newTestBus(t)
	bus.Publish(Event{Topic: "mystery.topic"})

	assert.Empty(t, bus.DrainPending("builder"))
	events := bus.DrainPending(CoordinatorHat)
	require.Len(t, events, 1)
}

func TestPublishRespectsExplicitTarget(t *testing.T) {
	bus, _ := newTestBus(t)
	bus.Publish(Event{Topic: "plan.approved", Target: CoordinatorHat})

	assert.Empty(t, bus.DrainPending("builder"))
	assert.Len(t, bus.DrainPending(CoordinatorHat), 1)
}

func TestHumanTopicsRouteToHumanQueueRegardlessOfTarget(t *testing.T) {
	bus, _ := newTestBus(t)
	bus.Publish(Event{Topic: "human.interact", Target: "builder"})

	assert.Empty(t, bus.DrainPending("builder"))
	assert.Len(t, bus.DrainHumanQueue(), 1)
}

func TestHumanOutcomeTopicsRouteByTargetNotHumanQueue(t *testing.T) {
	bus, _ := newTestBus(t)
	bus.Publish(Event{Topic: "human.response", Target: "builder"})
	bus.Publish(Event{Topic: "human.timeout", Target: "builder"})
	bus.Publish(Event{Topic: "human.guidance", Target: "builder"})

	assert.Empty(t, bus.DrainHumanQueue())
	assert.Len(t, bus.DrainPending("builder"), 3)
}

func TestQueueIsFIFO(t *testing.T) {
	bus, _ := newTestBus(t)
	bus.Publish(Event{Topic: "plan.approved", Payload: "first"})
	bus.Publish(Event{Topic: "plan.approved", Payload: "second"})

	events := bus.DrainPending("builder")
	require.Len(t, events, 2)
	assert.Equal(t, "first", events[0].Payload)
	assert.Equal(t, "second", events[1].Payload)
}

func TestDrainAllPendingIsDeterministicallyOrdered(t *testing.T) {
	reg := NewHatRegistry(true)
	require.NoError(t, reg.Register("alpha", HatConfig{Triggers: []Topic{"alpha.go"}}))
	require.NoError(t, reg.Register("zeta", HatConfig{Triggers: []Topic{"zeta.go"}}))
	bus := NewEventBus(reg)
	bus.Publish(Event{Topic: "zeta.go"})
	bus.Publish(Event{Topic: "alpha.go"})

	drains := bus.DrainAllPending()
	require.Len(t, drains, 2)
	assert.Equal(t, HatId("alpha"), drains[0].Hat)
	assert.Equal(t, HatId("zeta"), drains[1].Hat)
}

func TestObserveIsCalledOnPublish(t *testing.T) {
	bus, _ := newTestBus(t)
	var observed []Topic
	bus.Observe(func(hat HatId, e Event) { observed = append(observed, e.Topic) })

	bus.Publish(Event{Topic: "plan.approved"})
	assert.Equal(t, []Topic{"plan.approved"}, observed)
}
