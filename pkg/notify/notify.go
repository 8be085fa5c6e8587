// Package notify sends desktop notifications over the D-Bus session bus
// using the freedesktop notification interface. On headless systems the
// notifier degrades to a no-op.
package notify

import (
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"

	"github.com/tonywalker1/vigilant-canine/pkg/events"
)

const (
	appName  = "Vigilant Canine"
	iconName = "security-high"

	notifyService   = "org.freedesktop.Notifications"
	notifyPath      = "/org/freedesktop/Notifications"
	notifyInterface = "org.freedesktop.Notifications"
)

// Notifier holds a session bus connection. Construction never fails:
// without a session bus the notifier is simply unavailable.
type Notifier struct {
	conn      *dbus.Conn
	available bool
	logger    zerolog.Logger
}

// New connects to the session bus. The error path is logged, not returned,
// because a headless daemon is a normal deployment.
func New(logger zerolog.Logger) *Notifier {
	n := &Notifier{
		logger: logger.With().Str("component", "notify").Logger(),
	}

	conn, err := dbus.SessionBus()
	if err != nil {
		n.logger.Info().Err(err).Msg("D-Bus session bus not available; desktop notifications disabled")
		return n
	}
	n.conn = conn
	n.available = true
	return n
}

// Available reports whether a session bus connection exists.
func (n *Notifier) Available() bool {
	return n.available
}

// Send shows one notification. Failures are logged and swallowed; alerts
// are durably recorded elsewhere.
func (n *Notifier) Send(severity events.Severity, summary, body string) {
	if !n.available {
		return
	}

	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(urgency(severity)),
	}

	call := n.conn.Object(notifyService, notifyPath).Call(
		notifyInterface+".Notify", 0,
		appName,
		uint32(0), // replaces_id: always a new notification
		iconName,
		summary,
		body,
		[]string{}, // actions
		hints,
		int32(-1), // timeout: server default
	)
	if call.Err != nil {
		n.logger.Debug().Err(call.Err).Msg("Desktop notification failed")
	}
}

// Close releases the bus connection.
func (n *Notifier) Close() {
	if n.conn != nil {
		n.conn.Close()
		n.conn = nil
		n.available = false
	}
}

// urgency maps severities onto freedesktop urgency levels: 0 low,
// 1 normal, 2 critical.
func urgency(severity events.Severity) byte {
	switch severity {
	case events.SeverityInfo:
		return 0
	case events.SeverityCritical:
		return 2
	}
	return 1
}
