// Package correlation counts matching events in sliding time windows and
// escalates when a rule's threshold is reached inside its window.
package correlation

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tonywalker1/vigilant-canine/pkg/config"
	"github.com/tonywalker1/vigilant-canine/pkg/events"
)

// engineSource tags escalated events so the engine can ignore its own
// output.
const engineSource = "correlation_engine"

// maxTrackedKeys bounds the per-key history map. When exceeded, the stalest
// half of the keys is discarded.
const maxTrackedKeys = 1000

// Rule escalates when Threshold events whose variant name equals EventMatch
// arrive within Window.
type Rule struct {
	Name       string
	EventMatch string
	Threshold  int
	Window     time.Duration
	Severity   events.Severity
}

// RulesFromConfig converts configured correlation rules, applying the
// engine-wide default window to rules that leave it unset.
func RulesFromConfig(cfg config.CorrelationConfig) ([]Rule, error) {
	rules := make([]Rule, 0, len(cfg.Rules))
	for _, rc := range cfg.Rules {
		severity, err := events.ParseSeverity(rc.EscalatedSeverity)
		if err != nil {
			return nil, fmt.Errorf("correlation rule %s: %w", rc.Name, err)
		}
		if rc.Threshold <= 0 {
			return nil, fmt.Errorf("correlation rule %s: threshold must be positive", rc.Name)
		}
		window := rc.WindowSeconds
		if window <= 0 {
			window = cfg.WindowSeconds
		}
		rules = append(rules, Rule{
			Name:       rc.Name,
			EventMatch: rc.EventMatch,
			Threshold:  rc.Threshold,
			Window:     time.Duration(window) * time.Second,
			Severity:   severity,
		})
	}
	return rules, nil
}

// Engine observes all bus events. Escalations are buffered rather than
// published inline: the bus lock is held during delivery, so the supervisor
// drains the buffer from its own loop and publishes there.
type Engine struct {
	mu        sync.Mutex
	rules     []Rule
	history   map[string][]time.Time
	lastFired map[string]time.Time
	buffer    []events.Event
	now       func() time.Time
	logger    zerolog.Logger
}

// NewEngine creates a correlation engine. Attach it to a bus with
// bus.Subscribe(events.SeverityInfo, engine.Observe).
func NewEngine(rules []Rule, logger zerolog.Logger) *Engine {
	return &Engine{
		rules:     rules,
		history:   make(map[string][]time.Time),
		lastFired: make(map[string]time.Time),
		now:       time.Now,
		logger:    logger.With().Str("component", "correlation").Logger(),
	}
}

// UpdateRules swaps the rule set. Histories survive the swap so a reload
// does not reset in-progress windows.
func (e *Engine) UpdateRules(rules []Rule) {
	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()
}

// Observe is the bus handler. It must not publish; escalations go to the
// internal buffer.
func (e *Engine) Observe(event events.Event) {
	if event.Source == engineSource {
		return
	}

	key := event.Payload.Kind()
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.history[key] = append(e.history[key], now)
	if len(e.history) > maxTrackedKeys {
		e.evictStalestLocked()
	}

	for i := range e.rules {
		rule := &e.rules[i]
		if rule.EventMatch != key {
			continue
		}

		cutoff := now.Add(-rule.Window)
		window := trimBefore(e.history[key], cutoff)
		e.history[key] = window

		if len(window) < rule.Threshold {
			continue
		}
		// Debounce: one escalation per window length per rule.
		if last, ok := e.lastFired[rule.Name]; ok && now.Sub(last) < rule.Window {
			continue
		}
		e.lastFired[rule.Name] = now

		e.buffer = append(e.buffer, events.New(events.SuspiciousLog{
			RuleName: rule.Name,
			UnitName: "correlation",
			Message: fmt.Sprintf("Correlation rule '%s' triggered: %d events in %d seconds (threshold: %d)",
				rule.Name, len(window), int(rule.Window.Seconds()), rule.Threshold),
			Priority: 2,
		}, rule.Severity, engineSource))

		e.logger.Warn().
			Str("rule", rule.Name).
			Int("count", len(window)).
			Msg("Correlation threshold reached")
	}
}

// Drain returns and clears the buffered escalations. The caller publishes
// them on the bus outside any handler.
func (e *Engine) Drain() []events.Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.buffer) == 0 {
		return nil
	}
	out := e.buffer
	e.buffer = nil
	return out
}

func trimBefore(times []time.Time, cutoff time.Time) []time.Time {
	idx := sort.Search(len(times), func(i int) bool {
		return !times[i].Before(cutoff)
	})
	if idx == 0 {
		return times
	}
	return append([]time.Time(nil), times[idx:]...)
}

// evictStalestLocked drops the half of the keys with the oldest newest
// entry.
func (e *Engine) evictStalestLocked() {
	type keyAge struct {
		key    string
		newest time.Time
	}
	ages := make([]keyAge, 0, len(e.history))
	for key, times := range e.history {
		var newest time.Time
		if len(times) > 0 {
			newest = times[len(times)-1]
		}
		ages = append(ages, keyAge{key, newest})
	}
	sort.Slice(ages, func(i, j int) bool {
		return ages[i].newest.Before(ages[j].newest)
	})
	for _, a := range ages[:len(ages)/2] {
		delete(e.history, a.key)
	}

	e.logger.Debug().Int("remaining", len(e.history)).Msg("Evicted stale correlation keys")
}
