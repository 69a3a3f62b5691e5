package ralph

import (
	"bufio"
	"encoding/json"
	"regexp"
	"strings"
)

// eventTagPattern extracts <event topic="...">payload</event> blocks.
// Payload matching is non-greedy so adjacent tags don't merge.
var eventTagPattern = regexp.MustCompile(`(?s)<event topic="([^"]*)">(.*?)</event>`)

// rawFileEvent is the on-disk JSON-lines wire shape.
type rawFileEvent struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
	Source  string `json:"source"`
	Target  string `json:"target"`
}

// ParseResult is everything EventParser extracts from one iteration's
// agent output before EventLoop applies scope/backpressure gating.
type ParseResult struct {
	Events                []Event
	CompletionRequested   bool
	CancellationRequested bool
	ParseErrors           []*ParseError
}

// EventParser extracts tagged events and backpressure evidence from agent
// output, and enforces the completion-promise safety rules.
type EventParser struct {
	CompletionPromise   string
	CancellationPromise string
}

// NewEventParser builds a parser for the given promise phrases.
func NewEventParser(completionPromise, cancellationPromise string) *EventParser {
	return &EventParser{CompletionPromise: completionPromise, CancellationPromise: cancellationPromise}
}

// Parse extracts events from stdout tags and events-file lines, merging
// them in chronological order: stdout events first (in tag order), then
// file events (in line order), and evaluates the completion/cancellation
// promises against stdout alone (file events never carry a promise).
func (p *EventParser) Parse(source HatId, stdout string, fileLines []string) ParseResult {
	var result ParseResult

	for _, m := range eventTagPattern.FindAllStringSubmatch(stdout, -1) {
		result.Events = append(result.Events, Event{
			Topic:   Topic(m[1]),
			Payload: strings.TrimSpace(m[2]),
			Source:  source,
		})
	}

	for i, line := range fileLines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var raw rawFileEvent
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			result.ParseErrors = append(result.ParseErrors, &ParseError{Line: i + 1, Cause: err})
			continue
		}
		ev := Event{Topic: Topic(raw.Topic), Payload: raw.Payload}
		if raw.Source != "" {
			ev.Source = HatId(raw.Source)
		} else {
			ev.Source = source
		}
		if raw.Target != "" {
			ev.Target = HatId(raw.Target)
		}
		result.Events = append(result.Events, ev)
	}

	result.CompletionRequested = p.promiseMatches(stdout, p.CompletionPromise)
	if p.CancellationPromise != "" {
		result.CancellationRequested = p.promiseMatches(stdout, p.CancellationPromise)
	}

	return result
}

// promiseMatches reports whether phrase is the last non-empty line of
// stdout AND does not fall inside any <event> tag body.
func (p *EventParser) promiseMatches(stdout, phrase string) bool {
	if phrase == "" {
		return false
	}

	stripped := eventTagPattern.ReplaceAllString(stdout, "")
	lastLine := lastNonEmptyLine(stripped)
	return lastLine == phrase
}

func lastNonEmptyLine(s string) string {
	scanner := bufio.NewScanner(strings.NewReader(s))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	last := ""
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			last = line
		}
	}
	return last
}

// ReadFileLines reads the events file's lines without consuming more than
// what has been appended since the last read offset: one pass per
// iteration, no lock beyond tracking end-of-file position between calls.
func ReadFileLines(content string, fromByte int) (lines []string, newOffset int) {
	if fromByte > len(content) {
		fromByte = len(content)
	}
	chunk := content[fromByte:]
	newOffset = len(content)
	if chunk == "" {
		return nil, newOffset
	}
	scanner := bufio.NewScanner(strings.NewReader(chunk))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, newOffset
}

// BuildPressureEvidence extracts BackpressureEvidence from a build.done-class
// event's JSON payload. A missing required boolean field fails the event.
func BuildPressureEvidence(payload string) (BackpressureEvidence, bool) {
	var raw struct {
		Tests       *bool    `json:"tests"`
		Lint        *bool    `json:"lint"`
		Typecheck   *bool    `json:"typecheck"`
		Audit       *bool    `json:"audit"`
		Coverage    *bool    `json:"coverage"`
		Duplication *bool    `json:"duplication"`
		Complexity  *float64 `json:"complexity"`
		Regression  *bool    `json:"regression"`
		SpecVerified *bool   `json:"spec_verified"`
	}
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return BackpressureEvidence{}, false
	}
	if raw.Tests == nil || raw.Lint == nil || raw.Typecheck == nil || raw.Audit == nil ||
		raw.Coverage == nil || raw.Duplication == nil || raw.Complexity == nil {
		return BackpressureEvidence{}, false
	}
	ev := BackpressureEvidence{
		TestsPassed:       *raw.Tests,
		LintPassed:        *raw.Lint,
		TypecheckPassed:   *raw.Typecheck,
		AuditPassed:       *raw.Audit,
		CoveragePassed:    *raw.Coverage,
		DuplicationPassed: *raw.Duplication,
		Complexity:        *raw.Complexity,
	}
	if raw.Regression != nil {
		ev.RegressionChecked = true
		ev.Regression = *raw.Regression
	}
	if raw.SpecVerified != nil {
		ev.SpecVerifiedChecked = true
		ev.SpecVerified = *raw.SpecVerified
	}
	return ev, true
}

// IsBackpressureTopic reports whether topic is in the configured
// build.done-class set.
func IsBackpressureTopic(topic Topic, set []Topic) bool {
	for _, t := range set {
		if t == topic {
			return true
		}
	}
	return false
}

// IsBlockedTopic reports whether topic ends in ".blocked", feeding the
// LoopThrashing rule.
func IsBlockedTopic(topic Topic) bool {
	return strings.HasSuffix(string(topic), ".blocked")
}
