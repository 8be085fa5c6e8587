// Package journal tails the systemd journal and matches entries against
// field rules, emitting typed events for authentication failures, privilege
// escalations, and service state changes.
package journal

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tonywalker1/vigilant-canine/pkg/config"
	"github.com/tonywalker1/vigilant-canine/pkg/events"
)

// Well-known journal field names.
const (
	FieldMessage          = "MESSAGE"
	FieldSyslogIdentifier = "SYSLOG_IDENTIFIER"
	FieldSystemdUnit      = "_SYSTEMD_UNIT"
	FieldComm             = "_COMM"
	FieldExe              = "_EXE"
	FieldPriority         = "PRIORITY"
	FieldPID              = "_PID"
	FieldUID              = "_UID"
)

// Entry is one structured journal record.
type Entry struct {
	Message          string
	SyslogIdentifier string
	SystemdUnit      string
	Comm             string
	Exe              string
	Priority         uint8
	PID              uint32
	UID              uint32
	Timestamp        time.Time
	RawFields        map[string]string
}

// fieldValue resolves a field name against the typed fields first, then the
// raw map.
func (e *Entry) fieldValue(name string) string {
	switch name {
	case FieldMessage:
		return e.Message
	case FieldSyslogIdentifier:
		return e.SyslogIdentifier
	case FieldSystemdUnit:
		return e.SystemdUnit
	case FieldComm:
		return e.Comm
	case FieldExe:
		return e.Exe
	}
	return e.RawFields[name]
}

// MatchType selects how a pattern is compared against a field value.
type MatchType uint8

const (
	MatchExact MatchType = iota
	MatchContains
	MatchStartsWith
	MatchRegex
)

// ParseMatchType converts a configuration string into a MatchType.
func ParseMatchType(name string) (MatchType, error) {
	switch name {
	case "exact":
		return MatchExact, nil
	case "contains":
		return MatchContains, nil
	case "starts_with":
		return MatchStartsWith, nil
	case "regex":
		return MatchRegex, nil
	}
	return 0, fmt.Errorf("unknown match type: %q", name)
}

// FieldMatch is one predicate over a journal field.
type FieldMatch struct {
	Field   string
	Pattern string
	Type    MatchType
	Negate  bool
	regex   *regexp.Regexp
}

// Action selects which event variant a matched rule emits.
type Action uint8

const (
	ActionSuspiciousLog Action = iota
	ActionAuthFailure
	ActionPrivilegeEscalation
	ActionServiceState
)

// ParseAction converts a configuration string into an Action.
func ParseAction(name string) (Action, error) {
	switch name {
	case "auth_failure":
		return ActionAuthFailure, nil
	case "privilege_escalation":
		return ActionPrivilegeEscalation, nil
	case "service_state":
		return ActionServiceState, nil
	case "suspicious_log":
		return ActionSuspiciousLog, nil
	}
	return 0, fmt.Errorf("unknown rule action: %q", name)
}

// Rule is one journal matching rule. All field matches must hold (AND);
// a disabled rule never matches.
type Rule struct {
	Name        string
	Description string
	Matches     []FieldMatch
	Action      Action
	Severity    events.Severity
	Enabled     bool
}

func (m *FieldMatch) matches(e *Entry) bool {
	value := e.fieldValue(m.Field)

	var result bool
	switch m.Type {
	case MatchExact:
		result = value == m.Pattern
	case MatchContains:
		result = strings.Contains(value, m.Pattern)
	case MatchStartsWith:
		result = strings.HasPrefix(value, m.Pattern)
	case MatchRegex:
		if m.regex != nil {
			result = m.regex.MatchString(value)
		}
	}

	if m.Negate {
		return !result
	}
	return result
}

// MatchesEntry reports whether the rule matches the entry.
func (r *Rule) MatchesEntry(e *Entry) bool {
	if !r.Enabled {
		return false
	}
	for i := range r.Matches {
		if !r.Matches[i].matches(e) {
			return false
		}
	}
	return true
}

// CompileRule finishes a rule for evaluation, compiling any regex patterns.
func CompileRule(r Rule) (Rule, error) {
	for i := range r.Matches {
		if r.Matches[i].Type != MatchRegex {
			continue
		}
		re, err := regexp.Compile(r.Matches[i].Pattern)
		if err != nil {
			return Rule{}, fmt.Errorf("rule %s: bad pattern %q: %w",
				r.Name, r.Matches[i].Pattern, err)
		}
		r.Matches[i].regex = re
	}
	return r, nil
}

// RulesFromConfig converts configured rules into compiled rules.
func RulesFromConfig(cfgs []config.JournalRuleConfig) ([]Rule, error) {
	rules := make([]Rule, 0, len(cfgs))
	for _, rc := range cfgs {
		action, err := ParseAction(rc.Action)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rc.Name, err)
		}
		severity, err := events.ParseSeverity(rc.Severity)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rc.Name, err)
		}

		r := Rule{
			Name:        rc.Name,
			Description: rc.Description,
			Action:      action,
			Severity:    severity,
			Enabled:     rc.Enabled,
		}
		for _, mc := range rc.Match {
			mt, err := ParseMatchType(mc.Type)
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", rc.Name, err)
			}
			r.Matches = append(r.Matches, FieldMatch{
				Field:   mc.Field,
				Pattern: mc.Pattern,
				Type:    mt,
				Negate:  mc.Negate,
			})
		}

		compiled, err := CompileRule(r)
		if err != nil {
			return nil, err
		}
		rules = append(rules, compiled)
	}
	return rules, nil
}
