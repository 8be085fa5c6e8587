package correlation

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonywalker1/vigilant-canine/pkg/config"
	"github.com/tonywalker1/vigilant-canine/pkg/events"
)

func fileCreated(path string) events.Event {
	return events.New(events.FileCreated{Path: path}, events.SeverityWarning, "scanner")
}

func testRule() Rule {
	return Rule{
		Name:       "burst of new files",
		EventMatch: "FileCreated",
		Threshold:  3,
		Window:     60 * time.Second,
		Severity:   events.SeverityCritical,
	}
}

func TestThresholdEscalatesOnce(t *testing.T) {
	e := NewEngine([]Rule{testRule()}, zerolog.Nop())

	e.Observe(fileCreated("/a"))
	e.Observe(fileCreated("/b"))
	assert.Empty(t, e.Drain(), "below threshold")

	e.Observe(fileCreated("/c"))
	escalated := e.Drain()
	require.Len(t, escalated, 1)

	event := escalated[0]
	assert.Equal(t, "correlation_engine", event.Source)
	assert.Equal(t, events.SeverityCritical, event.Severity)

	payload, ok := event.Payload.(events.SuspiciousLog)
	require.True(t, ok)
	assert.Equal(t, "burst of new files", payload.RuleName)
	assert.Equal(t, "correlation", payload.UnitName)
	assert.Contains(t, payload.Message, "3 events in 60 seconds")
	assert.Equal(t, uint8(2), payload.Priority)

	// Debounce: more events inside the same window add nothing.
	e.Observe(fileCreated("/d"))
	e.Observe(fileCreated("/e"))
	e.Observe(fileCreated("/f"))
	assert.Empty(t, e.Drain())
}

func TestEscalationAfterDebounceWindow(t *testing.T) {
	e := NewEngine([]Rule{testRule()}, zerolog.Nop())
	now := time.Now()
	e.now = func() time.Time { return now }

	for range 3 {
		e.Observe(fileCreated("/x"))
	}
	require.Len(t, e.Drain(), 1)

	now = now.Add(61 * time.Second)
	for range 3 {
		e.Observe(fileCreated("/y"))
	}
	assert.Len(t, e.Drain(), 1)
}

func TestEventsOutsideWindowDoNotCount(t *testing.T) {
	e := NewEngine([]Rule{testRule()}, zerolog.Nop())
	now := time.Now()
	e.now = func() time.Time { return now }

	e.Observe(fileCreated("/a"))
	e.Observe(fileCreated("/b"))
	now = now.Add(2 * time.Minute)
	e.Observe(fileCreated("/c"))

	assert.Empty(t, e.Drain())
}

func TestOwnEscalationsIgnored(t *testing.T) {
	rule := Rule{
		Name:       "suspicious log storm",
		EventMatch: "SuspiciousLog",
		Threshold:  1,
		Window:     time.Minute,
		Severity:   events.SeverityCritical,
	}
	e := NewEngine([]Rule{rule}, zerolog.Nop())

	e.Observe(events.New(events.SuspiciousLog{RuleName: "r"},
		events.SeverityCritical, "correlation_engine"))
	assert.Empty(t, e.Drain())

	e.Observe(events.New(events.SuspiciousLog{RuleName: "r"},
		events.SeverityWarning, "journal_monitor"))
	assert.Len(t, e.Drain(), 1)
}

func TestNonMatchingVariantIgnored(t *testing.T) {
	e := NewEngine([]Rule{testRule()}, zerolog.Nop())
	for range 5 {
		e.Observe(events.New(events.FileModified{Path: "/f"},
			events.SeverityCritical, "scanner"))
	}
	assert.Empty(t, e.Drain())
}

func TestDrainClearsBuffer(t *testing.T) {
	e := NewEngine([]Rule{testRule()}, zerolog.Nop())
	for range 3 {
		e.Observe(fileCreated("/a"))
	}
	assert.Len(t, e.Drain(), 1)
	assert.Empty(t, e.Drain())
}

func TestKeyCapEviction(t *testing.T) {
	e := NewEngine(nil, zerolog.Nop())
	now := time.Now()
	e.now = func() time.Time { return now }

	// Keys are variant names, so distinct keys are synthesized directly in
	// the history map to exercise the eviction path.
	for i := range maxTrackedKeys + 1 {
		e.mu.Lock()
		e.history[time.Duration(i).String()] = []time.Time{now.Add(-time.Duration(i+1) * time.Second)}
		e.mu.Unlock()
	}
	e.Observe(fileCreated("/trigger"))

	e.mu.Lock()
	defer e.mu.Unlock()
	assert.LessOrEqual(t, len(e.history), maxTrackedKeys/2+2)
	_, kept := e.history["FileCreated"]
	assert.True(t, kept, "the hottest key survives eviction")
}

func TestRulesFromConfig(t *testing.T) {
	cfg := config.CorrelationConfig{
		WindowSeconds: 300,
		Rules: []config.CorrelationRuleConfig{
			{Name: "auth storm", EventMatch: "AuthFailure", Threshold: 5,
				WindowSeconds: 60, EscalatedSeverity: "critical"},
			{Name: "default window", EventMatch: "FileModified", Threshold: 10,
				EscalatedSeverity: "warning"},
		},
	}

	rules, err := RulesFromConfig(cfg)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, time.Minute, rules[0].Window)
	assert.Equal(t, 5*time.Minute, rules[1].Window)

	_, err = RulesFromConfig(config.CorrelationConfig{
		Rules: []config.CorrelationRuleConfig{
			{Name: "bad", EventMatch: "X", Threshold: 0, EscalatedSeverity: "info"},
		},
	})
	assert.Error(t, err)
}
