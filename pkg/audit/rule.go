package audit

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tonywalker1/vigilant-canine/pkg/config"
	"github.com/tonywalker1/vigilant-canine/pkg/events"
)

// MatchType selects how a pattern is compared against a field value.
type MatchType uint8

const (
	MatchExact MatchType = iota
	MatchContains
	MatchStartsWith
	MatchRegex
	MatchNumericEq
	MatchNumericGt
	MatchNumericLt
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
	case "numeric_eq":
		return MatchNumericEq, nil
	case "numeric_gt":
		return MatchNumericGt, nil
	case "numeric_lt":
		return MatchNumericLt, nil
	}
	return 0, fmt.Errorf("unknown match type: %q", name)
}

// FieldMatch is one predicate over an assembled audit event.
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
	ActionSuspiciousSyscall Action = iota
	ActionProcessExecution
	ActionNetworkConnection
	ActionFailedAccess
	ActionPrivilegeChange
)

// ParseAction converts a configuration string into an Action.
func ParseAction(name string) (Action, error) {
	switch name {
	case "process_execution":
		return ActionProcessExecution, nil
	case "network_connection":
		return ActionNetworkConnection, nil
	case "failed_access":
		return ActionFailedAccess, nil
	case "privilege_change":
		return ActionPrivilegeChange, nil
	case "suspicious_syscall":
		return ActionSuspiciousSyscall, nil
	}
	return 0, fmt.Errorf("unknown rule action: %q", name)
}

// Rule is one audit matching rule. Unlike journal rules, every matching
// audit rule fires; they are independent detectors over the same stream.
type Rule struct {
	Name          string
	Description   string
	Matches       []FieldMatch
	Action        Action
	Severity      events.Severity
	Enabled       bool
	SyscallFilter uint32 // 0 = any syscall
}

// fieldValue resolves a rule field name against the accumulator. The bool
// result distinguishes "present but empty" from "absent".
func fieldValue(a *Accumulator, name string) (string, bool) {
	if sc := a.Syscall; sc != nil {
		switch name {
		case "pid":
			return strconv.FormatInt(int64(sc.PID), 10), true
		case "ppid":
			return strconv.FormatInt(int64(sc.PPID), 10), true
		case "uid":
			return strconv.FormatUint(uint64(sc.UID), 10), true
		case "euid":
			return strconv.FormatUint(uint64(sc.EUID), 10), true
		case "comm":
			return sc.Comm, true
		case "exe":
			return sc.Exe, true
		case "syscall":
			return strconv.FormatUint(uint64(sc.Syscall), 10), true
		case "success":
			return sc.Success, true
		case "exit":
			return strconv.FormatInt(int64(sc.ExitCode), 10), true
		}
	}
	if name == "cwd" && a.CWD != "" {
		return a.CWD, true
	}
	if name == "cmdline" && a.Execve != nil {
		return strings.Join(a.Execve.Argv, " "), true
	}
	if name == "path" && len(a.Paths) > 0 {
		return a.Paths[0].Name, true
	}
	if v, ok := a.RawFields[name]; ok {
		return v, true
	}
	return "", false
}

func (m *FieldMatch) matches(a *Accumulator) bool {
	value, present := fieldValue(a, m.Field)
	if !present {
		return m.Negate
	}

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
	case MatchNumericEq, MatchNumericGt, MatchNumericLt:
		fieldNum, err1 := strconv.ParseInt(value, 10, 64)
		patternNum, err2 := strconv.ParseInt(m.Pattern, 10, 64)
		if err1 == nil && err2 == nil {
			switch m.Type {
			case MatchNumericEq:
				result = fieldNum == patternNum
			case MatchNumericGt:
				result = fieldNum > patternNum
			default:
				result = fieldNum < patternNum
			}
		}
	}

	if m.Negate {
		return !result
	}
	return result
}

// MatchesEvent reports whether the rule matches the assembled event. The
// syscall filter, when set, is checked before the field predicates.
func (r *Rule) MatchesEvent(a *Accumulator) bool {
	if !r.Enabled {
		return false
	}
	if r.SyscallFilter != 0 {
		if a.Syscall == nil || a.Syscall.Syscall != r.SyscallFilter {
			return false
		}
	}
	for i := range r.Matches {
		if !r.Matches[i].matches(a) {
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
func RulesFromConfig(cfgs []config.AuditRuleConfig) ([]Rule, error) {
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
			Name:          rc.Name,
			Description:   rc.Description,
			Action:        action,
			Severity:      severity,
			Enabled:       rc.Enabled,
			SyscallFilter: rc.SyscallFilter,
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
