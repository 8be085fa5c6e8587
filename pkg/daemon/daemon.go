// Package daemon wires the monitors, stores, and dispatcher together and
// owns the process lifecycle: initialize, run, reload, stop.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tonywalker1/vigilant-canine/pkg/audit"
	"github.com/tonywalker1/vigilant-canine/pkg/baseline"
	"github.com/tonywalker1/vigilant-canine/pkg/config"
	"github.com/tonywalker1/vigilant-canine/pkg/correlation"
	"github.com/tonywalker1/vigilant-canine/pkg/dispatch"
	"github.com/tonywalker1/vigilant-canine/pkg/distro"
	"github.com/tonywalker1/vigilant-canine/pkg/events"
	"github.com/tonywalker1/vigilant-canine/pkg/hash"
	"github.com/tonywalker1/vigilant-canine/pkg/journal"
	"github.com/tonywalker1/vigilant-canine/pkg/monitors/fanotify"
	"github.com/tonywalker1/vigilant-canine/pkg/monitors/home"
	"github.com/tonywalker1/vigilant-canine/pkg/notify"
	"github.com/tonywalker1/vigilant-canine/pkg/policy"
	"github.com/tonywalker1/vigilant-canine/pkg/power"
	"github.com/tonywalker1/vigilant-canine/pkg/scanner"
	"github.com/tonywalker1/vigilant-canine/pkg/storage"
	"github.com/tonywalker1/vigilant-canine/pkg/user"
)

// minInteractiveUID is the first uid considered a human account for home
// monitoring enrollment.
const minInteractiveUID = 1000

// Daemon owns every long-lived component. Initialize builds them, Run
// drives them until Stop, and reload swaps the hot-swappable pieces.
type Daemon struct {
	configPath string
	logger     zerolog.Logger

	cfg       *config.Config
	distro    distro.Info
	db        *storage.DB
	bus       *events.Bus
	strategy  baseline.Strategy
	algorithm hash.Algorithm

	scanner     *scanner.Scanner
	distributed *scanner.DistributedScanner
	fanotify    *fanotify.Monitor
	fanotifyUp  bool
	homeWatches []home.UserWatch
	homeMon     *home.Monitor
	journalMon  *journal.Monitor
	auditMon    *audit.Monitor
	engine      *correlation.Engine
	engineSub   events.Subscription
	notifier    *notify.Notifier
	dispatcher  *dispatch.Dispatcher

	shouldStop   atomic.Bool
	shouldReload atomic.Bool
}

// New creates an uninitialized daemon over the given configuration file.
func New(configPath string, logger zerolog.Logger) *Daemon {
	return &Daemon{
		configPath: configPath,
		logger:     logger.With().Str("component", "daemon").Logger(),
	}
}

// Initialize loads configuration, probes the host, opens the database, and
// constructs every component. Nothing is started yet.
func (d *Daemon) Initialize() error {
	cfg, err := config.LoadConfig(d.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	d.cfg = cfg

	d.distro = distro.Detect(d.logger)
	d.logger.Info().
		Str("name", d.distro.Name).
		Str("version", d.distro.Version).
		Str("type", d.distro.Type.String()).
		Msg("Detected distribution")

	db, err := storage.Open(cfg.Daemon.DBPath, d.logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	d.db = db

	d.bus = events.NewBus(d.logger)
	d.strategy = baseline.ForDistro(d.distro.Type)

	d.algorithm, err = hash.ParseAlgorithm(cfg.Hash.Algorithm)
	if err != nil {
		return err
	}

	paths := d.strategy.MonitorPaths()
	exclude := append(append([]string{}, paths.Exclude...), cfg.Monitor.System.Exclude...)

	d.scanner = scanner.New(db.Baselines(), db.Scans(), d.strategy, d.bus,
		d.algorithm, exclude, d.logger)
	d.fanotify = fanotify.New(db.Baselines(), d.strategy, d.bus, d.algorithm, d.logger)

	if cfg.Alerts.DBus {
		d.notifier = notify.New(d.logger)
	}
	d.dispatcher = dispatch.New(d.bus, db.Alerts(), db.Baselines(), d.notifier,
		cfg.Alerts, d.logger)

	if cfg.Journal.Enabled {
		d.journalMon, err = journal.NewMonitor(d.bus, db.JournalEvents(), cfg.Journal, d.logger)
		if err != nil {
			return fmt.Errorf("journal rules: %w", err)
		}
	}
	if cfg.Audit.Enabled {
		d.auditMon, err = audit.NewMonitor(d.bus, db.AuditEvents(), cfg.Audit, d.logger)
		if err != nil {
			return fmt.Errorf("audit rules: %w", err)
		}
	}
	if cfg.Correlation.Enabled {
		rules, err := correlation.RulesFromConfig(cfg.Correlation)
		if err != nil {
			return fmt.Errorf("correlation rules: %w", err)
		}
		d.engine = correlation.NewEngine(rules, d.logger)
	}

	if cfg.Monitor.Home.Enabled {
		d.homeWatches = d.buildHomeWatches()
		if len(d.homeWatches) > 0 {
			d.homeMon = home.New(db.Baselines(), d.bus, d.algorithm, d.homeWatches, d.logger)
		}
	}

	sensor := power.NewSensor(d.logger)
	d.distributed = scanner.NewDistributed(d.scanner, d.strategy, sensor, d.bus,
		cfg.Scan, d.logger)

	d.logger.Info().Msg("Initialization complete")
	return nil
}

// buildHomeWatches enrolls interactive users per the admin policy and merges
// each user's monitored path set.
func (d *Daemon) buildHomeWatches() []home.UserWatch {
	users, err := user.NewManager().DiscoverUsers(minInteractiveUID)
	if err != nil {
		d.logger.Warn().Err(err).Msg("Could not discover users for home monitoring")
		return nil
	}

	var watches []home.UserWatch
	for _, u := range users {
		if !policy.ShouldMonitorUser(u, d.cfg.Policy.Home, false, false) {
			continue
		}
		merged := policy.MergeHomeConfig(d.cfg.Monitor.Home, d.cfg.Policy.Home, u.HomeDir)
		if len(merged.Paths) == 0 {
			continue
		}
		watches = append(watches, home.UserWatch{
			Username: u.Username,
			Paths:    merged.Paths,
			Exclude:  merged.Exclude,
		})
	}
	return watches
}

// Run starts every component, then ticks once a second until stopped,
// draining correlation escalations and honoring reload requests. Kernel
// channel failures (fanotify, audit) are downgraded to warnings; the daemon
// runs with what it can get.
func (d *Daemon) Run() error {
	if d.db == nil {
		return errors.New("daemon not initialized")
	}

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	signal.Ignore(syscall.SIGPIPE)
	defer signal.Stop(sigCh)
	go d.handleSignals(sigCh)

	d.dispatcher.Start()
	if d.engine != nil {
		d.engineSub = d.bus.Subscribe(events.SeverityInfo, d.engine.Observe)
	}

	if err := d.fanotify.Initialize(); err != nil {
		d.logger.Warn().Err(err).Msg("Fanotify unavailable; realtime file monitoring disabled")
	} else if err := d.fanotify.Start(); err != nil {
		d.logger.Warn().Err(err).Msg("Fanotify start failed")
	} else {
		d.fanotifyUp = true
	}

	if d.journalMon != nil {
		if err := d.journalMon.Start(); err != nil {
			d.logger.Warn().Err(err).Msg("Journal monitor unavailable")
			d.journalMon = nil
		}
	}
	if d.auditMon != nil {
		if err := d.auditMon.Start(); err != nil {
			d.logger.Warn().Err(err).Msg("Audit monitor unavailable")
			d.auditMon = nil
		}
	}
	if d.homeMon != nil {
		if err := d.homeMon.Start(); err != nil {
			d.logger.Warn().Err(err).Msg("Home monitor unavailable")
			d.homeMon = nil
		}
	}

	d.bus.Publish(events.New(events.SystemStartup{
		DistroName: d.distro.Name,
		DistroType: d.distro.Type.String(),
	}, events.SeverityInfo, "daemon"))

	if d.cfg.Scan.OnBoot {
		d.runInitialScan()
	}
	d.runUserScans()

	d.distributed.Start()
	d.logger.Info().Msg("Daemon running")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for !d.shouldStop.Load() {
		<-ticker.C

		if d.engine != nil {
			for _, e := range d.engine.Drain() {
				d.bus.Publish(e)
			}
		}
		if d.shouldReload.CompareAndSwap(true, false) {
			if err := d.reload(); err != nil {
				d.logger.Error().Err(err).Msg("Config reload failed")
			}
		}
	}

	d.shutdown()
	return nil
}

// Stop requests shutdown; the run loop exits on its next tick.
func (d *Daemon) Stop() {
	d.shouldStop.Store(true)
}

// Reload requests a configuration reload on the next tick.
func (d *Daemon) Reload() {
	d.shouldReload.Store(true)
}

func (d *Daemon) handleSignals(sigCh <-chan os.Signal) {
	for sig := range sigCh {
		switch sig {
		case syscall.SIGTERM, syscall.SIGINT:
			d.logger.Info().Str("signal", sig.String()).Msg("Received stop signal")
			d.Stop()
		case syscall.SIGHUP:
			d.logger.Info().Msg("Received reload signal")
			d.Reload()
		}
	}
}

func (d *Daemon) runInitialScan() {
	d.logger.Info().Msg("Running initial scan")
	paths := d.strategy.MonitorPaths()
	roots := append(append([]string{}, paths.Critical...), d.cfg.Monitor.System.Paths...)
	for _, path := range roots {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		stats, err := d.scanner.ScanDirectory(path)
		if err != nil {
			d.logger.Warn().Err(err).Str("path", path).Msg("Initial scan failed")
			continue
		}
		d.logger.Info().
			Str("path", path).
			Uint64("scanned", stats.FilesScanned).
			Uint64("added", stats.FilesAdded).
			Msg("Initial scan pass done")
	}
}

func (d *Daemon) runUserScans() {
	for _, w := range d.homeWatches {
		stats, err := d.scanner.ScanUserPaths(w.Paths, w.Exclude, "user:"+w.Username)
		if err != nil {
			d.logger.Warn().Err(err).Str("user", w.Username).Msg("User scan failed")
			continue
		}
		d.logger.Info().
			Str("user", w.Username).
			Uint64("scanned", stats.FilesScanned).
			Msg("User scan done")
	}
}

// reload re-reads the configuration file and swaps the rule sets and scan
// pacing in place. Components that cannot be reconfigured live (database
// path, monitored mounts) keep their startup settings until restart.
func (d *Daemon) reload() error {
	cfg, err := config.LoadConfig(d.configPath)
	if err != nil {
		return err
	}

	if d.journalMon != nil {
		rules, err := journal.RulesFromConfig(cfg.Journal.Rules)
		if err != nil {
			return fmt.Errorf("journal rules: %w", err)
		}
		d.journalMon.UpdateRules(append(rules, journal.DefaultRules()...))
	}
	if d.auditMon != nil {
		rules, err := audit.RulesFromConfig(cfg.Audit.Rules)
		if err != nil {
			return fmt.Errorf("audit rules: %w", err)
		}
		d.auditMon.UpdateRules(append(rules, audit.DefaultRules()...))
	}
	if d.engine != nil {
		rules, err := correlation.RulesFromConfig(cfg.Correlation)
		if err != nil {
			return fmt.Errorf("correlation rules: %w", err)
		}
		d.engine.UpdateRules(rules)
	}
	d.distributed.UpdateConfig(cfg.Scan)

	d.cfg = cfg
	d.logger.Info().Msg("Configuration reloaded")
	return nil
}

// shutdown stops components in reverse start order.
func (d *Daemon) shutdown() {
	d.logger.Info().Msg("Shutting down")

	d.distributed.Stop()
	if d.homeMon != nil {
		d.homeMon.Stop()
	}
	if d.auditMon != nil {
		d.auditMon.Stop()
	}
	if d.journalMon != nil {
		d.journalMon.Stop()
	}
	if d.fanotifyUp {
		d.fanotify.Stop()
	}
	if d.engine != nil {
		d.bus.Unsubscribe(d.engineSub)
	}
	d.dispatcher.Stop()
	if d.notifier != nil {
		d.notifier.Close()
	}
	if err := d.db.Close(); err != nil {
		d.logger.Warn().Err(err).Msg("Database close failed")
	}

	d.logger.Info().Msg("Daemon stopped")
}
