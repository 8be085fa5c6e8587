package scanner

import (
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tonywalker1/vigilant-canine/pkg/baseline"
	"github.com/tonywalker1/vigilant-canine/pkg/config"
	"github.com/tonywalker1/vigilant-canine/pkg/events"
	"github.com/tonywalker1/vigilant-canine/pkg/power"
)

// DistributedScanner verifies the critical path set continuously in small
// batches, spreading a full pass over the configured interval so the daemon
// never causes an I/O spike. On battery it slows down, and below the pause
// threshold it stops entirely until power recovers.
type DistributedScanner struct {
	scanner  *Scanner
	strategy baseline.Strategy
	sensor   *power.Sensor
	bus      *events.Bus
	logger   zerolog.Logger

	cfgMu sync.Mutex
	cfg   config.ScanConfig

	stop    chan struct{}
	stopped sync.WaitGroup
	running bool
	runMu   sync.Mutex
}

// NewDistributed creates a distributed scanner. Call Start to begin pacing.
func NewDistributed(s *Scanner, strategy baseline.Strategy, sensor *power.Sensor,
	bus *events.Bus, cfg config.ScanConfig, logger zerolog.Logger) *DistributedScanner {
	return &DistributedScanner{
		scanner:  s,
		strategy: strategy,
		sensor:   sensor,
		bus:      bus,
		cfg:      cfg,
		logger:   logger.With().Str("component", "distributed_scanner").Logger(),
	}
}

// Start launches the background verification loop. Starting twice is a no-op.
func (d *DistributedScanner) Start() {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.stop = make(chan struct{})
	d.stopped.Add(1)
	go d.loop()
}

// Stop signals the loop and waits for it to exit.
func (d *DistributedScanner) Stop() {
	d.runMu.Lock()
	if !d.running {
		d.runMu.Unlock()
		return
	}
	d.running = false
	close(d.stop)
	d.runMu.Unlock()
	d.stopped.Wait()
}

// UpdateConfig swaps the pacing configuration; the loop picks it up at the
// next batch boundary.
func (d *DistributedScanner) UpdateConfig(cfg config.ScanConfig) {
	d.cfgMu.Lock()
	d.cfg = cfg
	d.cfgMu.Unlock()
}

func (d *DistributedScanner) config() config.ScanConfig {
	d.cfgMu.Lock()
	defer d.cfgMu.Unlock()
	return d.cfg
}

// sleep waits for the duration or until Stop. Returns false when stopping.
func (d *DistributedScanner) sleep(dur time.Duration) bool {
	if dur <= 0 {
		return true
	}
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-d.stop:
		return false
	}
}

func (d *DistributedScanner) stopping() bool {
	select {
	case <-d.stop:
		return true
	default:
		return false
	}
}

func (d *DistributedScanner) loop() {
	defer d.stopped.Done()

	for !d.stopping() {
		files := d.collectFileList()
		if len(files) == 0 {
			d.logger.Debug().Msg("No files to verify; retrying later")
			if !d.sleep(10 * time.Minute) {
				return
			}
			continue
		}

		cfg := d.config()
		batchSize := cfg.BatchSize
		if batchSize <= 0 {
			// One batch per minute of the interval.
			batchesPerCycle := cfg.IntervalHours * 60
			batchSize = max(1, len(files)/max(1, batchesPerCycle))
		}

		start := time.Now()
		var changes uint64
		cursor := 0
		for cursor < len(files) && !d.stopping() {
			state := d.sensor.Read()

			cfg = d.config()
			if cfg.AdaptivePacing && state.Source == power.SourceBattery &&
				state.BatteryPercent < cfg.BatteryPauseThreshold {
				d.logger.Info().
					Int("battery_percent", state.BatteryPercent).
					Msg("Pausing verification on low battery")
				if !d.sleep(60 * time.Second) {
					return
				}
				continue
			}

			end := min(cursor+batchSize, len(files))
			changes += d.verifyBatch(files[cursor:end])
			cursor = end

			if !d.sleep(d.batchSleep(len(files), batchSize, state)) {
				return
			}
		}

		if d.stopping() {
			return
		}

		d.bus.Publish(events.New(events.ScanCompleted{
			ScanPath:     "distributed",
			FilesScanned: uint64(len(files)),
			Changes:      changes,
			Elapsed:      time.Since(start),
		}, events.SeverityInfo, "distributed_scanner"))

		d.logger.Info().
			Int("files", len(files)).
			Uint64("changes", changes).
			Msg("Verification cycle completed")

		if !d.sleep(time.Duration(d.config().IntervalHours) * time.Hour) {
			return
		}
	}
}

// collectFileList enumerates every regular file under the strategy's
// critical paths, honoring the exclusion prefixes.
func (d *DistributedScanner) collectFileList() []string {
	var files []string
	for _, root := range d.strategy.MonitorPaths().Critical {
		filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				if entry != nil && entry.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.scanner.shouldExclude(path) {
				if entry.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if entry.Type().IsRegular() {
				files = append(files, path)
			}
			return nil
		})
	}
	return files
}

// batchSleep spreads the batches evenly over the interval, stretched by the
// slowdown factor when running on battery.
func (d *DistributedScanner) batchSleep(totalFiles, batchSize int, state power.State) time.Duration {
	if totalFiles == 0 || batchSize == 0 {
		return 0
	}
	cfg := d.config()

	intervalMS := int64(cfg.IntervalHours) * 60 * 60 * 1000
	numBatches := int64((totalFiles + batchSize - 1) / batchSize)
	sleepMS := intervalMS / max(1, numBatches)

	if cfg.AdaptivePacing && state.Source == power.SourceBattery {
		sleepMS = int64(float64(sleepMS) * cfg.BatterySlowdownFactor)
	}
	return time.Duration(sleepMS) * time.Millisecond
}

func (d *DistributedScanner) verifyBatch(files []string) uint64 {
	var changes uint64
	for _, path := range files {
		if d.stopping() {
			return changes
		}
		change, err := d.scanner.VerifyFile(path)
		if err != nil {
			continue
		}
		if change != nil {
			changes++
		}
	}
	return changes
}
