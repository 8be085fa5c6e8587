package audit

import "github.com/tonywalker1/vigilant-canine/pkg/events"

// DefaultRules returns the built-in audit rule set. Two rules ship disabled
// (suspicious_shell, root_network_connection) because they are too noisy
// without site-specific tuning; administrators can enable them in
// configuration.
func DefaultRules() []Rule {
	rules := []Rule{
		{
			Name:        "compiler_execution",
			Description: "Detect execution of compilers and interpreters",
			Matches: []FieldMatch{
				{Field: "comm", Pattern: `gcc|g\+\+|clang|python|perl|bash|sh`, Type: MatchRegex},
			},
			Action:   ActionProcessExecution,
			Severity: events.SeverityInfo,
			Enabled:  true,
		},
		{
			Name:        "privileged_command",
			Description: "Detect privileged command execution",
			Matches: []FieldMatch{
				{Field: "comm", Pattern: "sudo|su|pkexec|doas", Type: MatchRegex},
			},
			Action:   ActionPrivilegeChange,
			Severity: events.SeverityWarning,
			Enabled:  true,
		},
		{
			Name:        "suspicious_shell",
			Description: "Detect shells spawned by unusual parent processes",
			Matches: []FieldMatch{
				{Field: "comm", Pattern: "bash|sh|zsh|fish", Type: MatchRegex},
			},
			Action:   ActionSuspiciousSyscall,
			Severity: events.SeverityWarning,
			Enabled:  false,
		},
		{
			Name:        "sensitive_file_access",
			Description: "Detect access to sensitive system files",
			Matches: []FieldMatch{
				{Field: "path", Pattern: "/etc/shadow|/etc/sudoers|/etc/passwd", Type: MatchRegex},
			},
			Action:   ActionProcessExecution,
			Severity: events.SeverityWarning,
			Enabled:  true,
		},
		{
			Name:        "failed_access",
			Description: "Detect failed file access attempts",
			Matches: []FieldMatch{
				{Field: "success", Pattern: "no", Type: MatchExact},
				// -EACCES or -EPERM
				{Field: "exit", Pattern: "-13|-1", Type: MatchRegex},
			},
			Action:   ActionFailedAccess,
			Severity: events.SeverityInfo,
			Enabled:  true,
		},
		{
			Name:        "root_network_connection",
			Description: "Detect network connections initiated by root",
			Matches: []FieldMatch{
				{Field: "uid", Pattern: "0", Type: MatchNumericEq},
			},
			Action:   ActionNetworkConnection,
			Severity: events.SeverityWarning,
			Enabled:  false,
		},
		{
			Name:        "setuid_execution",
			Description: "Detect execution of setuid/setgid binaries",
			Matches: []FieldMatch{
				// uid equal to the literal euid value never holds; the
				// negation flags events where uid != euid.
				{Field: "uid", Pattern: "euid", Type: MatchExact, Negate: true},
			},
			Action:   ActionPrivilegeChange,
			Severity: events.SeverityWarning,
			Enabled:  true,
		},
		{
			Name:        "privilege_escalation",
			Description: "Detect privilege escalation syscalls",
			Matches: []FieldMatch{
				// setuid, setgid, setresuid
				{Field: "syscall", Pattern: "105|106|117", Type: MatchRegex},
			},
			Action:   ActionPrivilegeChange,
			Severity: events.SeverityWarning,
			Enabled:  true,
		},
		{
			Name:        "kernel_module_load",
			Description: "Detect kernel module loading",
			Matches: []FieldMatch{
				// init_module, finit_module
				{Field: "syscall", Pattern: "175|313", Type: MatchRegex},
			},
			Action:   ActionSuspiciousSyscall,
			Severity: events.SeverityCritical,
			Enabled:  true,
		},
		{
			Name:        "user_management",
			Description: "Detect user management commands",
			Matches: []FieldMatch{
				{Field: "comm", Pattern: "useradd|usermod|userdel|passwd|groupadd|groupmod|groupdel", Type: MatchRegex},
			},
			Action:   ActionProcessExecution,
			Severity: events.SeverityWarning,
			Enabled:  true,
		},
	}

	for i := range rules {
		compiled, err := CompileRule(rules[i])
		if err != nil {
			panic(err)
		}
		rules[i] = compiled
	}
	return rules
}
