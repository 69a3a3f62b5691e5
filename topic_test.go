package ralph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicValid(t *testing.T) {
	tests := []struct {
		name  string
		topic Topic
		want  bool
	}{
		{"empty", "", false},
		{"universal", "*", true},
		{"plain", "build.done", true},
		{"suffix wildcard", "build.*", true},
		{"wildcard mid-string", "build.*.done", false},
		{"double wildcard", "build.**", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.topic.Valid())
		})
	}
}

func TestTopicMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern Topic
		topic   Topic
		want    MatchKind
	}{
		{"exact", "build.done", "build.done", ExactMatch},
		{"universal", "*", "anything.here", UniversalMatch},
		{"suffix wildcard hit", "build.*", "build.done", WildcardMatch},
		{"suffix wildcard miss", "build.*", "review.done", NoMatch},
		{"no match", "plan.draft", "plan.approved", NoMatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pattern.Match(tt.topic))
		})
	}
}

func TestTopicExactBeatsWildcard(t *testing.T) {
	// A wildcard subscription always loses to an exact-match subscription
	// for the same topic.
	assert.Greater(t, int(ExactMatch), int(WildcardMatch))
	assert.Greater(t, int(WildcardMatch), int(UniversalMatch))
}

func TestIsHumanTopic(t *testing.T) {
	assert.True(t, Topic("human.interact").IsHumanTopic())
	assert.False(t, Topic("build.done").IsHumanTopic())
}
