package ralph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHatRegistryHasCoordinator(t *testing.T) {
	reg := NewHatRegistry(true)
	assert.Equal(t, 1, reg.Len())
	_, ok := reg.Get(CoordinatorHat)
	assert.True(t, ok)
}

func TestRegisterDuplicateHat(t *testing.T) {
	reg := NewHatRegistry(true)
	require.NoError(t, reg.Register("planner", HatConfig{Triggers: []Topic{"research.complete"}}))
	err := reg.Register("planner", HatConfig{Triggers: []Topic{"other.topic"}})
	var dup *ErrDuplicateHat
	assert.ErrorAs(t, err, &dup)
}

func TestRegisterAmbiguousTrigger(t *testing.T) {
	reg := NewHatRegistry(true)
	require.NoError(t, reg.Register("a", HatConfig{Triggers: []Topic{"plan.draft"}}))
	err := reg.Register("b", HatConfig{Triggers: []Topic{"plan.draft"}})
	var ambiguous *ErrAmbiguousTrigger
	assert.ErrorAs(t, err, &ambiguous)
}

func TestRegisterWildcardOverlapPermitted(t *testing.T) {
	reg := NewHatRegistry(true)
	require.NoError(t, reg.Register("dispatcher", HatConfig{Triggers: []Topic{"dispatch.*"}}))
	err := reg.Register("builder", HatConfig{Triggers: []Topic{"dispatch.build"}})
	assert.NoError(t, err)
}

func TestGetForTopicPrefersExactOverWildcard(t *testing.T) {
	reg := NewHatRegistry(true)
	require.NoError(t, reg.Register("dispatcher", HatConfig{Triggers: []Topic{"dispatch.*"}}))
	require.NoError(t, reg.Register("builder", HatConfig{Triggers: []Topic{"dispatch.build"}}))

	hat, ok := reg.GetForTopic("dispatch.build")
	require.True(t, ok)
	assert.Equal(t, HatId("builder"), hat)
}

func TestGetForTopicFallsBackToCoordinator(t *testing.T) {
	reg := NewHatRegistry(true)
	require.NoError(t, reg.Register("planner", HatConfig{Triggers: []Topic{"research.complete"}}))

	hat, ok := reg.GetForTopic("unrouted.topic")
	require.True(t, ok)
	assert.Equal(t, CoordinatorHat, hat)
}

func TestGetForTopicAlphabeticalTiebreak(t *testing.T) {
	reg := NewHatRegistry(true)
	require.NoError(t, reg.Register("zeta", HatConfig{Triggers: []Topic{"shared.*"}}))
	require.NoError(t, reg.Register("alpha", HatConfig{Triggers: []Topic{"shared.*"}}))

	hat, ok := reg.GetForTopic("shared.event")
	require.True(t, ok)
	assert.Equal(t, HatId("alpha"), hat)
}

func TestCanPublish(t *testing.T) {
	reg := NewHatRegistry(true)
	require.NoError(t, reg.Register("dispatcher", HatConfig{Publishes: []Topic{"dispatch.*"}}))

	assert.True(t, reg.CanPublish("dispatcher", "dispatch.build"))
	assert.False(t, reg.CanPublish("dispatcher", "build.done"))
	assert.True(t, reg.CanPublish(CoordinatorHat, "anything"))
	assert.True(t, reg.CanPublish("unknown-hat", "anything"))
}

func TestCanPublishScopeDisabled(t *testing.T) {
	reg := NewHatRegistry(false)
	require.NoError(t, reg.Register("dispatcher", HatConfig{Publishes: []Topic{"dispatch.*"}}))
	assert.True(t, reg.CanPublish("dispatcher", "build.done"))
}

func TestSubscribersReturnsAllMatches(t *testing.T) {
	reg := NewHatRegistry(true)
	require.NoError(t, reg.Register("dispatcher", HatConfig{Triggers: []Topic{"dispatch.*"}}))
	require.NoError(t, reg.Register("builder", HatConfig{Triggers: []Topic{"dispatch.build"}}))

	subs := reg.Subscribers("dispatch.build")
	assert.ElementsMatch(t, []HatId{"builder", "dispatcher", CoordinatorHat}, subs)
}
