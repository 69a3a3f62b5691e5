package ralph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExtractsStdoutEventTags(t *testing.T) {
	p := NewEventParser("LOOP_COMPLETE", "")
	result := p.Parse("builder", `some text
<event topic="build.done">{"tests":true}</event>
more text`, nil)

	require.Len(t, result.Events, 1)
	assert.Equal(t, Topic("build.done"), result.Events[0].Topic)
	assert.Equal(t, HatId("builder"), result.Events[0].Source)
}

func TestParseMergesFileEventsAfterStdout(t *testing.T) {
	p := NewEventParser("LOOP_COMPLETE", "")
	result := p.Parse("builder",
		`<event topic="stdout.one">a</event>`,
		[]string{`{"topic":"file.one","payload":"b"}`},
	)

	require.Len(t, result.Events, 2)
	assert.Equal(t, Topic("stdout.one"), result.Events[0].Topic)
	assert.Equal(t, Topic("file.one"), result.Events[1].Topic)
}

func TestParseSkipsMalformedFileLines(t *testing.T) {
	p := NewEventParser("LOOP_COMPLETE", "")
	result := p.Parse("builder", "", []string{"not json", `{"topic":"ok","payload":""}`})

	require.Len(t, result.Events, 1)
	require.Len(t, result.ParseErrors, 1)
	assert.Equal(t, 1, result.ParseErrors[0].Line)
}

func TestCompletionPromiseAsLastLineTriggers(t *testing.T) {
	p := NewEventParser("LOOP_COMPLETE", "")
	result := p.Parse("ralph", "did the work\nLOOP_COMPLETE", nil)
	assert.True(t, result.CompletionRequested)
}

func TestCompletionPromiseInsideEventPayloadDoesNotTrigger(t *testing.T) {
	// A promise phrase inside an event payload never triggers completion.
	p := NewEventParser("LOOP_COMPLETE", "")
	result := p.Parse("ralph", `<event topic="notes.log">LOOP_COMPLETE is the goal</event>`, nil)
	assert.False(t, result.CompletionRequested)
}

func TestCompletionPromiseNotOnLastLineDoesNotTrigger(t *testing.T) {
	p := NewEventParser("LOOP_COMPLETE", "")
	result := p.Parse("ralph", "LOOP_COMPLETE\nbut then more output", nil)
	assert.False(t, result.CompletionRequested)
}

func TestCancellationPromiseDetection(t *testing.T) {
	p := NewEventParser("LOOP_COMPLETE", "ABORT_LOOP")
	result := p.Parse("ralph", "giving up\nABORT_LOOP", nil)
	assert.True(t, result.CancellationRequested)
}

func TestCancellationDisabledWhenEmpty(t *testing.T) {
	p := NewEventParser("LOOP_COMPLETE", "")
	result := p.Parse("ralph", "ABORT_LOOP", nil)
	assert.False(t, result.CancellationRequested)
}

func TestBuildPressureEvidenceRequiresAllFields(t *testing.T) {
	_, ok := BuildPressureEvidence(`{"tests":true,"lint":true}`)
	assert.False(t, ok, "missing fields should fail extraction")

	ev, ok := BuildPressureEvidence(`{"tests":true,"lint":true,"typecheck":true,"audit":true,"coverage":true,"duplication":true,"complexity":5}`)
	require.True(t, ok)
	passed, reasons := ev.AllPassed()
	assert.True(t, passed, reasons)
}

func TestBuildPressureEvidenceComplexityGate(t *testing.T) {
	ev, ok := BuildPressureEvidence(`{"tests":true,"lint":true,"typecheck":true,"audit":true,"coverage":true,"duplication":true,"complexity":11}`)
	require.True(t, ok)
	passed, reasons := ev.AllPassed()
	assert.False(t, passed)
	assert.Contains(t, reasons, "complexity exceeds threshold")
}

func TestIsBlockedTopic(t *testing.T) {
	assert.True(t, IsBlockedTopic("deploy.blocked"))
	assert.False(t, IsBlockedTopic("deploy.done"))
}
