package ralph

import (
	"testing"
	"time"

	"pgregory.net/rapid"
)

// TestRapidConsecutiveSameTopicMatchesRunLength checks the invariant
// LoopState.RecordTopic relies on for LoopStale: ConsecutiveSameTopic
// always equals the length of the run of identical topics ending at the
// most recently recorded one, across arbitrary topic sequences.
func TestRapidConsecutiveSameTopicMatchesRunLength(t *testing.T) {
	topicAlphabet := []Topic{"all.built", "build.complete", "plan.draft", "review.done"}

	rapid.Check(t, func(rt *rapid.T) {
		seq := rapid.SliceOfN(rapid.SampledFrom(topicAlphabet), 1, 20).Draw(rt, "seq")

		s := NewLoopState(time.Now())
		for _, topic := range seq {
			s.RecordTopic(topic)
		}

		want := 1
		last := seq[len(seq)-1]
		for i := len(seq) - 2; i >= 0 && seq[i] == last; i-- {
			want++
		}

		if s.ConsecutiveSameTopic != want {
			rt.Fatalf("ConsecutiveSameTopic = %d, want %d for sequence %v", s.ConsecutiveSameTopic, want, seq)
		}
		if s.LastEmittedTopic != last {
			rt.Fatalf("LastEmittedTopic = %q, want %q", s.LastEmittedTopic, last)
		}
	})
}

// TestRapidExactMatchAlwaysOutranksWildcard checks the routing tie-break
// invariant in hat.go: for any topic and any wildcard pattern that also
// matches it, a literal pattern equal to the topic always ranks higher.
func TestRapidExactMatchAlwaysOutranksWildcard(t *testing.T) {
	prefixes := []string{"build", "plan", "review", "deploy"}

	rapid.Check(t, func(rt *rapid.T) {
		prefix := rapid.SampledFrom(prefixes).Draw(rt, "prefix")
		suffix := rapid.SampledFrom([]string{"done", "started", "blocked"}).Draw(rt, "suffix")

		topic := Topic(prefix + "." + suffix)
		exact := topic
		wildcard := Topic(prefix + ".*")
		universal := Topic("*")

		if exact.Match(topic) != ExactMatch {
			rt.Fatalf("exact pattern %q did not report ExactMatch against %q", exact, topic)
		}
		if wildcard.Match(topic) != WildcardMatch {
			rt.Fatalf("wildcard pattern %q did not report WildcardMatch against %q", wildcard, topic)
		}
		if universal.Match(topic) != UniversalMatch {
			rt.Fatalf("universal pattern did not report UniversalMatch against %q", topic)
		}
		if exact.Match(topic) <= wildcard.Match(topic) {
			rt.Fatalf("ExactMatch did not outrank WildcardMatch")
		}
		if wildcard.Match(topic) <= universal.Match(topic) {
			rt.Fatalf("WildcardMatch did not outrank UniversalMatch")
		}
	})
}

// TestRapidGetForTopicDeterministicAcrossRegistrationOrder checks that
// HatRegistry.GetForTopic's result for a fixed topic set does not depend
// on the order hats were registered in, since routing always sorts ids.
func TestRapidGetForTopicDeterministicAcrossRegistrationOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 5).Draw(rt, "n")
		ids := make([]HatId, n)
		for i := 0; i < n; i++ {
			ids[i] = HatId(rapid.StringMatching(`[a-c]`).Draw(rt, "id") + string(rune('0'+i)))
		}

		reg1 := NewHatRegistry(true)
		reg2 := NewHatRegistry(true)
		for _, id := range ids {
			_ = reg1.Register(id, HatConfig{Triggers: []Topic{"build.*"}, Publishes: []Topic{"*"}})
		}
		// register in reverse into reg2
		for i := len(ids) - 1; i >= 0; i-- {
			_ = reg2.Register(ids[i], HatConfig{Triggers: []Topic{"build.*"}, Publishes: []Topic{"*"}})
		}

		got1, _ := reg1.GetForTopic("build.done")
		got2, _ := reg2.GetForTopic("build.done")
		if got1 != got2 {
			rt.Fatalf("registration order changed routing result: %q vs %q", got1, got2)
		}
	})
}
