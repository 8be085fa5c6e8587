// Package dispatch converts bus events into persisted alerts and forwards
// them to the journal and desktop-notification sinks.
package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/tonywalker1/vigilant-canine/pkg/config"
	"github.com/tonywalker1/vigilant-canine/pkg/events"
	"github.com/tonywalker1/vigilant-canine/pkg/notify"
	"github.com/tonywalker1/vigilant-canine/pkg/storage"
)

// ownerCacheSize bounds the path-to-owner lookup cache. Hot paths (log
// rotation, package updates) repeat heavily, so even a small cache removes
// most store round-trips.
const ownerCacheSize = 1024

// Dispatcher subscribes to the bus and turns every event into an alert
// record plus sink deliveries.
type Dispatcher struct {
	bus       *events.Bus
	alerts    *storage.AlertStore
	baselines *storage.BaselineStore
	notifier  *notify.Notifier
	cfg       config.AlertConfig
	logger    zerolog.Logger

	ownerCache *lru.Cache[string, string]
	sub        events.Subscription
	running    bool
}

// New creates a dispatcher. The notifier may be nil when the dbus sink is
// disabled.
func New(bus *events.Bus, alerts *storage.AlertStore, baselines *storage.BaselineStore,
	notifier *notify.Notifier, cfg config.AlertConfig, logger zerolog.Logger) *Dispatcher {
	cache, _ := lru.New[string, string](ownerCacheSize)
	return &Dispatcher{
		bus:        bus,
		alerts:     alerts,
		baselines:  baselines,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger.With().Str("component", "dispatcher").Logger(),
		ownerCache: cache,
	}
}

// Start subscribes to all events. Starting twice is a no-op.
func (d *Dispatcher) Start() {
	if d.running {
		return
	}
	d.sub = d.bus.Subscribe(events.SeverityInfo, d.handleEvent)
	d.running = true
}

// Stop unsubscribes from the bus.
func (d *Dispatcher) Stop() {
	if !d.running {
		return
	}
	d.bus.Unsubscribe(d.sub)
	d.running = false
}

func (d *Dispatcher) handleEvent(event events.Event) {
	alert := d.eventToAlert(event)

	if err := d.alerts.Insert(alert); err != nil {
		d.logger.Error().Err(err).Str("category", alert.Category).Msg("Could not store alert")
		return
	}

	if d.cfg.Journal {
		d.logToJournal(alert)
	}
	if d.cfg.DBus && d.notifier != nil {
		body := ""
		if alert.Details != nil {
			body = *alert.Details
		}
		severity, _ := events.ParseSeverity(alert.Severity)
		d.notifier.Send(severity, alert.Summary, body)
	}
}

func strPtr(s string) *string { return &s }

// eventToAlert builds the alert row for one event. Category and summary
// are per-variant; FileModified and FileCreated consult the baseline store
// so user-owned files are attributed in the summary.
func (d *Dispatcher) eventToAlert(event events.Event) *storage.Alert {
	alert := &storage.Alert{
		Severity: event.Severity.String(),
		Source:   event.Source,
	}

	switch p := event.Payload.(type) {
	case events.FileModified:
		alert.Category = "file_modified"
		alert.Path = strPtr(p.Path)
		if owner := d.ownerForPath(p.Path); owner != "" {
			alert.Summary = fmt.Sprintf("User %s file modified: %s", owner, p.Path)
		} else {
			alert.Summary = fmt.Sprintf("File modified: %s", p.Path)
		}
		alert.Details = strPtr(fmt.Sprintf("Old hash: %s\nNew hash: %s\n%s",
			p.OldHash, p.NewHash, p.Description))

	case events.FileCreated:
		alert.Category = "file_created"
		alert.Path = strPtr(p.Path)
		if owner := d.ownerForPath(p.Path); owner != "" {
			alert.Summary = fmt.Sprintf("User %s new file detected: %s", owner, p.Path)
		} else {
			alert.Summary = fmt.Sprintf("New file detected: %s", p.Path)
		}
		if p.Source != "" {
			alert.Details = strPtr(fmt.Sprintf("Source: %s\nHash: %s", p.Source, p.Hash))
		} else {
			alert.Details = strPtr(fmt.Sprintf("Hash: %s", p.Hash))
		}

	case events.FileDeleted:
		alert.Category = "file_deleted"
		alert.Path = strPtr(p.Path)
		alert.Summary = fmt.Sprintf("File deleted: %s", p.Path)
		alert.Details = strPtr(fmt.Sprintf("Last known hash: %s", p.LastKnownHash))

	case events.FilePermissionChanged:
		alert.Category = "permission_changed"
		alert.Path = strPtr(p.Path)
		alert.Summary = fmt.Sprintf("File permissions changed: %s", p.Path)
		alert.Details = strPtr(fmt.Sprintf("Old mode: %o\nNew mode: %o", p.OldMode, p.NewMode))

	case events.ScanCompleted:
		alert.Category = "scan_completed"
		alert.Summary = fmt.Sprintf("Scan completed: %s", p.ScanPath)
		alert.Details = strPtr(fmt.Sprintf("Files scanned: %d\nChanges: %d\nElapsed: %dms",
			p.FilesScanned, p.Changes, p.Elapsed/time.Millisecond))

	case events.SystemStartup:
		alert.Category = "system_startup"
		alert.Summary = fmt.Sprintf("System startup: %s", p.DistroName)
		alert.Details = strPtr(fmt.Sprintf("Distribution type: %s", p.DistroType))

	case events.AuthFailure:
		alert.Category = "auth_failure"
		alert.Summary = fmt.Sprintf("Authentication failure: %s on %s", p.Username, p.Service)
		details := p.Message
		if p.RemoteHost != "" {
			details = fmt.Sprintf("Remote host: %s\n%s", p.RemoteHost, p.Message)
		}
		alert.Details = strPtr(details)

	case events.PrivilegeEscalation:
		alert.Category = "privilege_escalation"
		alert.Summary = fmt.Sprintf("Privilege escalation: %s -> %s via %s",
			p.Username, p.TargetUser, p.Method)
		details := p.Message
		if p.Command != "" {
			details = fmt.Sprintf("Command: %s\n%s", p.Command, p.Message)
		}
		alert.Details = strPtr(details)

	case events.ServiceState:
		alert.Category = "service_state"
		alert.Summary = fmt.Sprintf("Service %s: %s", p.UnitName, p.NewState)
		alert.Details = strPtr(p.Message)

	case events.SuspiciousLog:
		alert.Category = "suspicious_log"
		alert.Summary = fmt.Sprintf("Suspicious log entry (rule: %s)", p.RuleName)
		alert.Details = strPtr(p.Message)

	case events.ProcessExecution:
		alert.Category = "process_execution"
		alert.Path = strPtr(p.ExePath)
		alert.Summary = fmt.Sprintf("Process executed: %s by %s", p.ExePath, p.Username)
		alert.Details = strPtr(fmt.Sprintf("Command: %s\nPID: %d\nCWD: %s",
			p.CommandLine, p.PID, p.CWD))

	case events.NetworkConnection:
		alert.Category = "network_connection"
		alert.Summary = fmt.Sprintf("Network connection by %s (%s)", p.Username, p.Protocol)
		alert.Details = strPtr(fmt.Sprintf("%s:%d -> %s:%d",
			p.LocalAddr, p.LocalPort, p.RemoteAddr, p.RemotePort))

	case events.FailedAccess:
		alert.Category = "failed_access"
		alert.Path = strPtr(p.Path)
		alert.Summary = fmt.Sprintf("Failed %s access to %s by %s",
			p.AccessType, p.Path, p.Username)
		alert.Details = strPtr(fmt.Sprintf("Error: %s (%d)", p.ErrorMessage, p.ErrorCode))

	case events.PrivilegeChange:
		alert.Category = "privilege_change"
		alert.Summary = fmt.Sprintf("Privilege change: %s -> %s", p.OldUsername, p.NewUsername)
		alert.Details = strPtr(fmt.Sprintf("%s (uid %d -> %d), PID %d",
			p.Operation, p.OldUID, p.NewUID, p.PID))

	default:
		alert.Category = "unknown"
		alert.Summary = fmt.Sprintf("Event: %s", event.Payload.Kind())
	}

	return alert
}

// ownerForPath returns the username when the path's baseline carries a
// "user:<name>" origin label. Lookup failures fall back to the generic
// summary; attribution is never worth failing an alert over.
func (d *Dispatcher) ownerForPath(path string) string {
	if owner, ok := d.ownerCache.Get(path); ok {
		return owner
	}

	owner := ""
	if d.baselines != nil {
		if b, err := d.baselines.FindByPath(path, nil); err == nil && b != nil {
			if name, found := strings.CutPrefix(b.Source, "user:"); found {
				owner = name
			}
		}
	}

	d.ownerCache.Add(path, owner)
	return owner
}

// logToJournal writes the alert to the systemd journal with structured
// fields so journalctl filters can slice by category or path.
func (d *Dispatcher) logToJournal(alert *storage.Alert) {
	vars := map[string]string{
		"VC_ALERT_ID": fmt.Sprintf("%d", alert.ID),
		"VC_CATEGORY": alert.Category,
		"VC_SOURCE":   alert.Source,
	}
	if alert.Path != nil {
		vars["VC_PATH"] = *alert.Path
	}
	if alert.Details != nil {
		vars["VC_DETAILS"] = *alert.Details
	}

	if err := journal.Send(alert.Summary, journalPriority(alert.Severity), vars); err != nil {
		d.logger.Warn().Err(err).Msg("Could not write alert to journal")
	}
}

func journalPriority(severity string) journal.Priority {
	switch severity {
	case "critical":
		return journal.PriCrit
	case "warning":
		return journal.PriWarning
	}
	return journal.PriInfo
}
