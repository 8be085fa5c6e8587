package journal

import (
	"strings"

	"github.com/tonywalker1/vigilant-canine/pkg/events"
)

// BuildEvent converts a matched entry into the event variant the rule's
// action selects. Message parsing is best-effort: fields that cannot be
// extracted stay empty and the event still fires.
func BuildEvent(rule *Rule, e *Entry) events.Event {
	var payload events.Payload

	switch rule.Action {
	case ActionAuthFailure:
		payload = events.AuthFailure{
			Username:   parseAuthUsername(e.Message),
			Service:    e.SyslogIdentifier,
			RemoteHost: parseRemoteHost(e.Message),
			Message:    e.Message,
		}

	case ActionPrivilegeEscalation:
		target := "root"
		if user := parseKeyedValue(e.Message, "USER="); user != "" {
			target = user
		}
		payload = events.PrivilegeEscalation{
			TargetUser: target,
			Method:     e.SyslogIdentifier,
			Command:    parseCommand(e.Message),
			Message:    e.Message,
		}

	case ActionServiceState:
		state := "failed"
		if strings.Contains(e.Message, "started") {
			state = "started"
		} else if strings.Contains(e.Message, "stopped") {
			state = "stopped"
		}
		payload = events.ServiceState{
			UnitName: e.SystemdUnit,
			NewState: state,
			Message:  e.Message,
		}

	default:
		payload = events.SuspiciousLog{
			RuleName: rule.Name,
			UnitName: e.SystemdUnit,
			Message:  e.Message,
			Priority: e.Priority,
		}
	}

	return events.New(payload, rule.Severity, "journal_monitor")
}

// parseAuthUsername extracts the account name from messages like
// "Failed password for invalid user admin from 10.0.0.1 port 22 ssh2".
// The segment after "for " can carry qualifiers ("invalid user"), so the
// last whitespace token is the username.
func parseAuthUsername(msg string) string {
	_, rest, ok := strings.Cut(msg, "for ")
	if !ok {
		return ""
	}
	segment := rest
	if idx := strings.Index(rest, " from"); idx >= 0 {
		segment = rest[:idx]
	} else if idx := strings.IndexByte(rest, ' '); idx >= 0 {
		segment = rest[:idx]
	}
	fields := strings.Fields(segment)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// parseRemoteHost extracts the address following "from ".
func parseRemoteHost(msg string) string {
	_, rest, ok := strings.Cut(msg, "from ")
	if !ok {
		return ""
	}
	if idx := strings.IndexByte(rest, ' '); idx >= 0 {
		return rest[:idx]
	}
	return rest
}

// parseCommand returns everything after "COMMAND=".
func parseCommand(msg string) string {
	_, rest, ok := strings.Cut(msg, "COMMAND=")
	if !ok {
		return ""
	}
	return rest
}

// parseKeyedValue returns the space-delimited value after key (e.g. "USER=").
func parseKeyedValue(msg, key string) string {
	_, rest, ok := strings.Cut(msg, key)
	if !ok {
		return ""
	}
	if idx := strings.IndexByte(rest, ' '); idx >= 0 {
		return rest[:idx]
	}
	return rest
}
