package journal

import "github.com/tonywalker1/vigilant-canine/pkg/events"

// DefaultRules returns the built-in rule set covering the common
// authentication, privilege-escalation, and service-failure patterns. Rules
// configured by the administrator are evaluated before these.
func DefaultRules() []Rule {
	rules := []Rule{
		{
			Name:        "ssh_auth_failure",
			Description: "SSH authentication failures",
			Matches: []FieldMatch{
				{Field: FieldSyslogIdentifier, Pattern: "sshd", Type: MatchExact},
				{Field: FieldMessage, Pattern: "Failed password", Type: MatchContains},
			},
			Action:   ActionAuthFailure,
			Severity: events.SeverityWarning,
			Enabled:  true,
		},
		{
			Name:        "ssh_invalid_user",
			Description: "SSH invalid user attempts",
			Matches: []FieldMatch{
				{Field: FieldSyslogIdentifier, Pattern: "sshd", Type: MatchExact},
				{Field: FieldMessage, Pattern: "Invalid user", Type: MatchContains},
			},
			Action:   ActionAuthFailure,
			Severity: events.SeverityWarning,
			Enabled:  true,
		},
		{
			Name:        "sudo_auth_failure",
			Description: "Sudo authentication failures",
			Matches: []FieldMatch{
				{Field: FieldSyslogIdentifier, Pattern: "sudo", Type: MatchExact},
				{Field: FieldMessage, Pattern: "authentication failure", Type: MatchContains},
			},
			Action:   ActionAuthFailure,
			Severity: events.SeverityWarning,
			Enabled:  true,
		},
		{
			Name:        "sudo_command",
			Description: "Successful sudo privilege escalation",
			Matches: []FieldMatch{
				{Field: FieldSyslogIdentifier, Pattern: "sudo", Type: MatchExact},
				{Field: FieldMessage, Pattern: "COMMAND=", Type: MatchContains},
			},
			Action:   ActionPrivilegeEscalation,
			Severity: events.SeverityInfo,
			Enabled:  true,
		},
		{
			Name:        "su_session",
			Description: "Su privilege escalation",
			Matches: []FieldMatch{
				{Field: FieldSyslogIdentifier, Pattern: "su", Type: MatchExact},
				{Field: FieldMessage, Pattern: "session opened", Type: MatchContains},
			},
			Action:   ActionPrivilegeEscalation,
			Severity: events.SeverityInfo,
			Enabled:  true,
		},
		{
			Name:        "service_failed",
			Description: "Systemd service failures",
			Matches: []FieldMatch{
				{Field: FieldMessage, Pattern: "Failed to start", Type: MatchContains},
			},
			Action:   ActionServiceState,
			Severity: events.SeverityWarning,
			Enabled:  true,
		},
		{
			Name:        "kernel_segfault",
			Description: "Kernel segmentation faults",
			Matches: []FieldMatch{
				{Field: FieldSyslogIdentifier, Pattern: "kernel", Type: MatchExact},
				{Field: FieldMessage, Pattern: "segfault", Type: MatchContains},
			},
			Action:   ActionSuspiciousLog,
			Severity: events.SeverityWarning,
			Enabled:  true,
		},
		{
			Name:        "pam_auth_failure",
			Description: "PAM authentication failures",
			Matches: []FieldMatch{
				{Field: FieldMessage, Pattern: "pam_unix.*authentication failure", Type: MatchRegex},
			},
			Action:   ActionAuthFailure,
			Severity: events.SeverityWarning,
			Enabled:  true,
		},
		{
			Name:        "polkit_auth",
			Description: "Polkit authentication requests",
			Matches: []FieldMatch{
				{Field: FieldSyslogIdentifier, Pattern: "polkitd", Type: MatchExact},
				{Field: FieldMessage, Pattern: "Registered Authentication Agent", Type: MatchContains},
			},
			Action:   ActionPrivilegeEscalation,
			Severity: events.SeverityInfo,
			Enabled:  true,
		},
		{
			Name:        "pkexec_command",
			Description: "Pkexec privilege escalation",
			Matches: []FieldMatch{
				{Field: FieldComm, Pattern: "pkexec", Type: MatchExact},
			},
			Action:   ActionPrivilegeEscalation,
			Severity: events.SeverityInfo,
			Enabled:  true,
		},
	}

	for i := range rules {
		compiled, err := CompileRule(rules[i])
		if err != nil {
			// Built-in patterns are static; a failure here is a programming
			// error, not a runtime condition.
			panic(err)
		}
		rules[i] = compiled
	}
	return rules
}
