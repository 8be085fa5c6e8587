// Package events defines the in-memory event model and the synchronous
// event bus connecting detectors to the correlation engine and dispatcher.
package events

import (
	"fmt"
	"time"
)

// Severity ranks how alarming an event is.
type Severity uint8

const (
	// SeverityInfo covers routine activity such as scan completion.
	SeverityInfo Severity = iota
	// SeverityWarning covers suspicious but possibly benign activity.
	SeverityWarning
	// SeverityCritical covers likely compromise, e.g. a modified binary.
	SeverityCritical
)

// String returns the lowercase severity name used in storage and logs.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	}
	return "unknown"
}

// ParseSeverity converts a lowercase severity name back to a Severity.
func ParseSeverity(name string) (Severity, error) {
	switch name {
	case "info":
		return SeverityInfo, nil
	case "warning":
		return SeverityWarning, nil
	case "critical":
		return SeverityCritical, nil
	}
	return 0, fmt.Errorf("unknown severity: %q", name)
}

// Payload is the closed union of event variants. Kind returns the variant
// name ("FileModified", "AuthFailure", ...) used as the correlation match
// key and in bus logging.
type Payload interface {
	Kind() string
}

// FileModified reports a content change against an existing baseline.
type FileModified struct {
	Path        string
	OldHash     string
	NewHash     string
	Description string
}

// FileCreated reports a file with no baseline entry.
type FileCreated struct {
	Path   string
	Hash   string
	Source string // package, deployment, etc.; may be empty
}

// FileDeleted reports a baselined file that no longer exists.
type FileDeleted struct {
	Path          string
	LastKnownHash string
}

// FilePermissionChanged reports a mode change without a content change.
type FilePermissionChanged struct {
	Path    string
	OldMode uint32
	NewMode uint32
}

// ScanCompleted summarizes a finished scan pass.
type ScanCompleted struct {
	ScanPath     string
	FilesScanned uint64
	Changes      uint64
	Elapsed      time.Duration
}

// SystemStartup is published once when the daemon comes up.
type SystemStartup struct {
	DistroName string
	DistroType string
}

// AuthFailure reports a failed authentication observed in the journal.
type AuthFailure struct {
	Username   string
	Service    string // "sshd", "sudo", "login"
	RemoteHost string // empty when local
	Message    string
}

// PrivilegeEscalation reports a privilege transition observed in the journal.
type PrivilegeEscalation struct {
	Username   string
	TargetUser string // e.g. "root"
	Method     string // "sudo", "su", "pkexec"
	Command    string
	Message    string
}

// ServiceState reports a systemd unit state transition.
type ServiceState struct {
	UnitName string
	NewState string // "started", "stopped", "failed"
	ExitCode string // empty when not reported
	Message  string
}

// SuspiciousLog reports a journal entry that matched a rule without a more
// specific variant, and is also the shape of correlation escalations.
type SuspiciousLog struct {
	RuleName string
	UnitName string
	Message  string
	Priority uint8 // journal PRIORITY, 0-7
}

// ProcessExecution reports a process launch assembled from audit records.
type ProcessExecution struct {
	PID         int32
	PPID        int32
	UID         uint32
	Username    string
	ExePath     string
	CommandLine string
	CWD         string
}

// NetworkConnection reports a socket operation assembled from audit records.
type NetworkConnection struct {
	PID        int32
	UID        uint32
	Username   string
	Protocol   string
	LocalAddr  string
	LocalPort  uint16
	RemoteAddr string
	RemotePort uint16
}

// FailedAccess reports a denied syscall against a path.
type FailedAccess struct {
	PID          int32
	UID          uint32
	Username     string
	Path         string
	AccessType   string
	ErrorCode    int32
	ErrorMessage string
}

// PrivilegeChange reports a uid transition observed at the syscall level.
type PrivilegeChange struct {
	PID         int32
	OldUID      uint32
	NewUID      uint32
	OldUsername string
	NewUsername string
	Operation   string
}

func (FileModified) Kind() string          { return "FileModified" }
func (FileCreated) Kind() string           { return "FileCreated" }
func (FileDeleted) Kind() string           { return "FileDeleted" }
func (FilePermissionChanged) Kind() string { return "FilePermissionChanged" }
func (ScanCompleted) Kind() string         { return "ScanCompleted" }
func (SystemStartup) Kind() string         { return "SystemStartup" }
func (AuthFailure) Kind() string           { return "AuthFailure" }
func (PrivilegeEscalation) Kind() string   { return "PrivilegeEscalation" }
func (ServiceState) Kind() string          { return "ServiceState" }
func (SuspiciousLog) Kind() string         { return "SuspiciousLog" }
func (ProcessExecution) Kind() string      { return "ProcessExecution" }
func (NetworkConnection) Kind() string     { return "NetworkConnection" }
func (FailedAccess) Kind() string          { return "FailedAccess" }
func (PrivilegeChange) Kind() string       { return "PrivilegeChange" }

// Event wraps a payload with delivery metadata.
type Event struct {
	Payload   Payload
	Severity  Severity
	Timestamp time.Time
	Source    string // e.g. "scanner", "fanotify", "audit"
}

// New builds an Event stamped with the current wall-clock time.
func New(payload Payload, severity Severity, source string) Event {
	return Event{
		Payload:   payload,
		Severity:  severity,
		Timestamp: time.Now(),
		Source:    source,
	}
}
