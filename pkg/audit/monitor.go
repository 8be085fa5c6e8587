package audit

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/tonywalker1/vigilant-canine/pkg/config"
	"github.com/tonywalker1/vigilant-canine/pkg/events"
	"github.com/tonywalker1/vigilant-canine/pkg/storage"
)

// Audit netlink control constants (linux/audit.h). x/sys/unix does not
// export the status mask bits.
const (
	auditSet           = 1001
	auditStatusEnabled = 0x0001
	auditStatusPID     = 0x0004
)

// Monitor reads raw audit records from the kernel netlink socket, assembles
// them into events, and evaluates every enabled rule. All matching rules
// fire.
type Monitor struct {
	bus    *events.Bus
	store  *storage.AuditEventStore
	cfg    config.AuditConfig
	logger zerolog.Logger

	rulesMu sync.Mutex
	rules   []Rule

	assembler *Assembler

	cacheMu       sync.Mutex
	usernameCache map[uint32]string

	fd      int
	stop    chan struct{}
	done    sync.WaitGroup
	running bool
	runMu   sync.Mutex
}

// NewMonitor creates an audit monitor. Configured rules run in addition to
// the built-in defaults. The store may be nil to disable persistence.
func NewMonitor(bus *events.Bus, store *storage.AuditEventStore,
	cfg config.AuditConfig, logger zerolog.Logger) (*Monitor, error) {
	rules, err := RulesFromConfig(cfg.Rules)
	if err != nil {
		return nil, err
	}
	rules = append(rules, DefaultRules()...)

	m := &Monitor{
		bus:           bus,
		store:         store,
		cfg:           cfg,
		rules:         rules,
		usernameCache: make(map[uint32]string),
		fd:            -1,
		logger:        logger.With().Str("component", "audit_monitor").Logger(),
	}
	m.assembler = NewAssembler(m.evaluateEvent)
	return m, nil
}

// Start opens the audit netlink socket, registers this process as the
// audit event consumer, and launches the reader goroutine. Requires
// CAP_AUDIT_CONTROL; the returned error says so when the kernel refuses.
func (m *Monitor) Start() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return nil
	}

	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.NETLINK_AUDIT)
	if err != nil {
		if err == unix.EPROTONOSUPPORT {
			return fmt.Errorf("audit subsystem not available: %w", err)
		}
		return fmt.Errorf("open audit socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK}); err != nil {
		unix.Close(fd)
		return fmt.Errorf("bind audit socket: %w", err)
	}
	// Bound read so the stop signal is observed promptly.
	timeout := unix.Timeval{Usec: 250_000}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &timeout); err != nil {
		unix.Close(fd)
		return fmt.Errorf("configure audit socket: %w", err)
	}
	if err := claimAuditSocket(fd); err != nil {
		unix.Close(fd)
		return fmt.Errorf("register audit consumer (requires CAP_AUDIT_CONTROL): %w", err)
	}

	m.fd = fd
	m.stop = make(chan struct{})
	m.running = true
	m.done.Add(1)
	go m.loop()

	m.logger.Info().Int("rules", len(m.rules)).Msg("Audit monitor started")
	return nil
}

// claimAuditSocket tells the kernel to deliver audit events to this pid.
func claimAuditSocket(fd int) error {
	// struct audit_status: mask, enabled, failure, pid, rate_limit,
	// backlog_limit, lost, backlog.
	var status [8]uint32
	status[0] = auditStatusEnabled | auditStatusPID
	status[1] = 1
	status[3] = uint32(os.Getpid())

	payload := make([]byte, 32)
	for i, v := range status {
		payload[i*4] = byte(v)
		payload[i*4+1] = byte(v >> 8)
		payload[i*4+2] = byte(v >> 16)
		payload[i*4+3] = byte(v >> 24)
	}

	// nlmsghdr: len, type, flags, seq, pid
	msg := make([]byte, unix.NLMSG_HDRLEN+len(payload))
	putUint32 := func(off int, v uint32) {
		msg[off] = byte(v)
		msg[off+1] = byte(v >> 8)
		msg[off+2] = byte(v >> 16)
		msg[off+3] = byte(v >> 24)
	}
	putUint32(0, uint32(len(msg)))
	msgType := uint16(auditSet)
	msg[4] = byte(msgType)
	msg[5] = byte(msgType >> 8)
	flags := uint16(unix.NLM_F_REQUEST | unix.NLM_F_ACK)
	msg[6] = byte(flags)
	msg[7] = byte(flags >> 8)
	putUint32(8, 1) // seq
	putUint32(12, 0)
	copy(msg[unix.NLMSG_HDRLEN:], payload)

	return unix.Sendto(fd, msg, 0, &unix.SockaddrNetlink{Family: unix.AF_NETLINK})
}

// Stop signals the reader and waits for it to exit.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	m.runMu.Unlock()

	m.done.Wait()
	unix.Close(m.fd)
	m.fd = -1
}

// UpdateRules swaps the rule set without stopping the reader.
func (m *Monitor) UpdateRules(rules []Rule) {
	m.rulesMu.Lock()
	m.rules = rules
	m.rulesMu.Unlock()
	m.logger.Info().Int("rules", len(rules)).Msg("Audit rules reloaded")
}

func (m *Monitor) loop() {
	defer m.done.Done()

	buf := make([]byte, 64*1024)
	for {
		select {
		case <-m.stop:
			return
		default:
		}

		n, _, err := unix.Recvfrom(m.fd, buf, 0)
		if err == nil && n > 0 {
			msgs, err := syscall.ParseNetlinkMessage(buf[:n])
			if err == nil {
				for _, msg := range msgs {
					m.handleMessage(uint16(msg.Header.Type), msg.Data)
				}
			}
		} else if err != nil && err != unix.EAGAIN && err != unix.EWOULDBLOCK && err != unix.EINTR {
			m.logger.Warn().Err(err).Msg("Audit read failed")
			time.Sleep(100 * time.Millisecond)
		}

		m.assembler.Sweep()
	}
}

func (m *Monitor) handleMessage(recordType uint16, data []byte) {
	if recordType < TypeSyscall || recordType > TypeEOE {
		return
	}
	text := strings.TrimRight(string(data), "\x00")
	m.assembler.Push(recordType, text)
}

func (m *Monitor) shouldExclude(a *Accumulator) bool {
	if a.Syscall == nil {
		return true
	}
	for _, comm := range m.cfg.ExcludeComms {
		if a.Syscall.Comm == comm {
			return true
		}
	}
	for _, uid := range m.cfg.ExcludeUIDs {
		if a.Syscall.UID == uid {
			return true
		}
	}
	return false
}

// evaluateEvent runs every enabled rule against an assembled event and
// publishes one event per matching rule.
func (m *Monitor) evaluateEvent(a *Accumulator) {
	if m.shouldExclude(a) {
		return
	}

	m.rulesMu.Lock()
	defer m.rulesMu.Unlock()

	for i := range m.rules {
		rule := &m.rules[i]
		if !rule.MatchesEvent(a) {
			continue
		}
		event := m.buildEvent(a, rule)
		m.bus.Publish(event)
		m.persist(rule, a, event)
	}
}

func (m *Monitor) buildEvent(a *Accumulator, rule *Rule) events.Event {
	if a.Syscall == nil {
		return events.New(events.SuspiciousLog{
			RuleName: rule.Name,
			UnitName: "audit",
			Message:  "Incomplete audit event",
			Priority: 4,
		}, rule.Severity, "audit")
	}

	sc := a.Syscall
	username := m.username(sc.UID)

	switch rule.Action {
	case ActionProcessExecution:
		cmdline := sc.Comm
		if a.Execve != nil {
			cmdline = SanitizeCommandLine(a.CommandLine(), m.cfg.SanitizeCommandLines)
		}
		return events.New(events.ProcessExecution{
			PID:         sc.PID,
			PPID:        sc.PPID,
			UID:         sc.UID,
			Username:    username,
			ExePath:     sc.Exe,
			CommandLine: cmdline,
			CWD:         a.CWD,
		}, rule.Severity, "audit")

	case ActionFailedAccess:
		var path string
		if len(a.Paths) > 0 {
			path = a.Paths[0].Name
		}
		return events.New(events.FailedAccess{
			PID:          sc.PID,
			UID:          sc.UID,
			Username:     username,
			Path:         path,
			AccessType:   "unknown",
			ErrorCode:    sc.ExitCode,
			ErrorMessage: syscall.Errno(-sc.ExitCode).Error(),
		}, rule.Severity, "audit")

	case ActionPrivilegeChange:
		return events.New(events.PrivilegeChange{
			PID:         sc.PID,
			OldUID:      sc.UID,
			NewUID:      sc.EUID,
			OldUsername: username,
			NewUsername: m.username(sc.EUID),
			Operation:   "syscall_" + strconv.FormatUint(uint64(sc.Syscall), 10),
		}, rule.Severity, "audit")
	}

	// network_connection matches fall through here too: the kernel's
	// sockaddr records are not decoded, so there is nothing more specific
	// to report than the syscall itself.
	return events.New(events.SuspiciousLog{
		RuleName: rule.Name,
		UnitName: "audit",
		Message: fmt.Sprintf("Suspicious syscall %d by %s (%s)",
			sc.Syscall, username, sc.Comm),
		Priority: 4,
	}, rule.Severity, "audit")
}

// username resolves a uid, caching forever: uid-to-name mappings are
// treated as stable for the daemon's uptime.
func (m *Monitor) username(uid uint32) string {
	m.cacheMu.Lock()
	if name, ok := m.usernameCache[uid]; ok {
		m.cacheMu.Unlock()
		return name
	}
	m.cacheMu.Unlock()

	name := strconv.FormatUint(uint64(uid), 10)
	if u, err := user.LookupId(name); err == nil {
		name = u.Username
	}

	m.cacheMu.Lock()
	m.usernameCache[uid] = name
	m.cacheMu.Unlock()
	return name
}

func (m *Monitor) persist(rule *Rule, a *Accumulator, event events.Event) {
	if m.store == nil {
		return
	}

	record := &storage.AuditEvent{
		RuleName:  rule.Name,
		EventType: event.Payload.Kind(),
	}
	if sc := a.Syscall; sc != nil {
		record.PID = sc.PID
		record.UID = sc.UID
		record.Username = m.username(sc.UID)
		record.ExePath = sc.Exe
	}
	switch p := event.Payload.(type) {
	case events.ProcessExecution:
		record.CommandLine = p.CommandLine
		record.Details = p.CWD
	case events.FailedAccess:
		record.Details = fmt.Sprintf("%s access to %s: %s", p.AccessType, p.Path, p.ErrorMessage)
	case events.PrivilegeChange:
		record.Details = fmt.Sprintf("%s: uid %d -> %d", p.Operation, p.OldUID, p.NewUID)
	case events.SuspiciousLog:
		record.Details = p.Message
	}

	if err := m.store.Insert(record); err != nil {
		m.logger.Warn().Err(err).Str("rule", rule.Name).Msg("Could not persist audit event")
	}
}
