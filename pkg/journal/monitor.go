package journal

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/sdjournal"
	"github.com/rs/zerolog"

	"github.com/tonywalker1/vigilant-canine/pkg/config"
	"github.com/tonywalker1/vigilant-canine/pkg/events"
	"github.com/tonywalker1/vigilant-canine/pkg/storage"
)

// selfIdentifier is our own syslog identifier. Entries carrying it are
// dropped before rule evaluation so alert logging cannot feed back into
// the matcher.
const selfIdentifier = "vigilant-canined"

// Monitor tails the local journal and evaluates each new entry against the
// rule set. The first matching rule wins and produces exactly one event.
type Monitor struct {
	bus    *events.Bus
	store  *storage.JournalEventStore
	cfg    config.JournalConfig
	logger zerolog.Logger

	rulesMu sync.Mutex
	rules   []Rule

	journal *sdjournal.Journal
	stop    chan struct{}
	done    sync.WaitGroup
	running bool
	runMu   sync.Mutex
}

// NewMonitor creates a journal monitor. Configured rules run before the
// built-in defaults. The store may be nil to disable persistence.
func NewMonitor(bus *events.Bus, store *storage.JournalEventStore,
	cfg config.JournalConfig, logger zerolog.Logger) (*Monitor, error) {
	rules, err := RulesFromConfig(cfg.Rules)
	if err != nil {
		return nil, err
	}
	rules = append(rules, DefaultRules()...)

	return &Monitor{
		bus:    bus,
		store:  store,
		cfg:    cfg,
		rules:  rules,
		logger: logger.With().Str("component", "journal_monitor").Logger(),
	}, nil
}

// Start opens the journal, seeks to the tail, and launches the reader
// goroutine. Starting twice is a no-op.
func (m *Monitor) Start() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return nil
	}

	j, err := sdjournal.NewJournal()
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	if err := j.SeekTail(); err != nil {
		j.Close()
		return fmt.Errorf("seek journal tail: %w", err)
	}
	// SeekTail leaves the cursor on the last entry; skip it so only new
	// entries are processed.
	if _, err := j.Previous(); err != nil {
		j.Close()
		return fmt.Errorf("position journal cursor: %w", err)
	}

	m.journal = j
	m.stop = make(chan struct{})
	m.running = true
	m.done.Add(1)
	go m.loop()

	m.logger.Info().Int("rules", len(m.rules)).Msg("Journal monitor started")
	return nil
}

// Stop signals the reader and waits for it to exit. Stopping twice is a
// no-op.
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
	m.journal.Close()
	m.journal = nil
}

// UpdateRules swaps the rule set without stopping the reader.
func (m *Monitor) UpdateRules(rules []Rule) {
	m.rulesMu.Lock()
	m.rules = rules
	m.rulesMu.Unlock()
	m.logger.Info().Int("rules", len(rules)).Msg("Journal rules reloaded")
}

func (m *Monitor) loop() {
	defer m.done.Done()

	for {
		select {
		case <-m.stop:
			return
		default:
		}

		status := m.journal.Wait(time.Second)
		if status < 0 {
			m.logger.Warn().Int("status", status).Msg("Journal wait failed")
			continue
		}
		if status == sdjournal.SD_JOURNAL_NOP {
			continue
		}

		for {
			select {
			case <-m.stop:
				return
			default:
			}

			n, err := m.journal.Next()
			if err != nil {
				m.logger.Warn().Err(err).Msg("Journal read failed")
				break
			}
			if n == 0 {
				break
			}

			entry, err := m.journal.GetEntry()
			if err != nil {
				continue
			}
			m.processEntry(extractEntry(entry))
		}
	}
}

func extractEntry(raw *sdjournal.JournalEntry) *Entry {
	e := &Entry{
		Message:          raw.Fields[FieldMessage],
		SyslogIdentifier: raw.Fields[FieldSyslogIdentifier],
		SystemdUnit:      raw.Fields[FieldSystemdUnit],
		Comm:             raw.Fields[FieldComm],
		Exe:              raw.Fields[FieldExe],
		Timestamp:        time.UnixMicro(int64(raw.RealtimeTimestamp)),
		RawFields:        raw.Fields,
	}
	if p, err := strconv.Atoi(raw.Fields[FieldPriority]); err == nil && p >= 0 && p <= 7 {
		e.Priority = uint8(p)
	}
	if pid, err := strconv.ParseUint(raw.Fields[FieldPID], 10, 32); err == nil {
		e.PID = uint32(pid)
	}
	if uid, err := strconv.ParseUint(raw.Fields[FieldUID], 10, 32); err == nil {
		e.UID = uint32(uid)
	}
	return e
}

func (m *Monitor) shouldExclude(e *Entry) bool {
	if e.SyslogIdentifier == selfIdentifier {
		return true
	}
	for _, unit := range m.cfg.ExcludeUnits {
		if e.SystemdUnit == unit {
			return true
		}
	}
	for _, ident := range m.cfg.ExcludeIdentifiers {
		if e.SyslogIdentifier == ident {
			return true
		}
	}
	return false
}

// processEntry applies exclusions and the priority cap, then evaluates
// rules in order. The first match emits one event and records one row.
func (m *Monitor) processEntry(e *Entry) {
	if m.shouldExclude(e) {
		return
	}
	if e.Priority > m.cfg.MaxPriority {
		return
	}

	m.rulesMu.Lock()
	defer m.rulesMu.Unlock()

	for i := range m.rules {
		rule := &m.rules[i]
		if !rule.MatchesEntry(e) {
			continue
		}

		m.bus.Publish(BuildEvent(rule, e))
		m.persist(rule, e)
		return
	}
}

func (m *Monitor) persist(rule *Rule, e *Entry) {
	if m.store == nil {
		return
	}
	record := &storage.JournalEvent{
		RuleName: rule.Name,
		Message:  e.Message,
		Priority: e.Priority,
	}
	if e.SystemdUnit != "" {
		unit := e.SystemdUnit
		record.UnitName = &unit
	}
	if err := m.store.Insert(record); err != nil {
		m.logger.Warn().Err(err).Str("rule", rule.Name).Msg("Could not persist journal event")
	}
}
