// Package amc hosts the calculation pipeline of the collar: a single queue
// goroutine that owns every classifier, the pasture and fix caches the
// producers write to, and the handlers that turn fixes into zones, zones
// into warnings and warnings into commands.
package amc

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/collar.amc/internal/config"
	"github.com/banshee-data/collar.amc/internal/correction"
	"github.com/banshee-data/collar.amc/internal/events"
	"github.com/banshee-data/collar.amc/internal/fence"
	"github.com/banshee-data/collar.amc/internal/gnssfix"
	"github.com/banshee-data/collar.amc/internal/states"
	"github.com/banshee-data/collar.amc/internal/timeutil"
	"github.com/banshee-data/collar.amc/internal/trend"
	"github.com/banshee-data/collar.amc/internal/zone"
)

// PastureSource loads a downloaded pasture by version.
type PastureSource interface {
	LoadPasture(ctx context.Context, version uint32) (*fence.Pasture, error)
}

// SettingsStore exposes the persisted settings the pipeline reads.
type SettingsStore interface {
	// KeepMode reports whether a new fence keeps the current mode instead
	// of restarting in Teach.
	KeepMode(ctx context.Context) (bool, error)
}

// TaskObserver is told how long every task took.
type TaskObserver interface {
	ObserveTask(kind string, d time.Duration)
}

// Config groups the tuning of every stage.
type Config struct {
	Fix        gnssfix.Config
	Zone       zone.Config
	Trend      trend.Config
	States     states.Config
	Correction correction.Config

	PastureCacheTimeout time.Duration
	FixCacheTimeout     time.Duration
	TickInterval        time.Duration
}

// DefaultConfig returns the built-in tuning.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// ConfigFromTuning builds a Config from the tuning file.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		Fix:                 gnssfix.ConfigFromTuning(cfg),
		Zone:                zone.ConfigFromTuning(cfg),
		Trend:               trend.ConfigFromTuning(cfg),
		States:              states.ConfigFromTuning(cfg),
		Correction:          correction.ConfigFromTuning(cfg),
		PastureCacheTimeout: cfg.GetPastureCacheTimeout(),
		FixCacheTimeout:     cfg.GetFixCacheTimeout(),
		TickInterval:        cfg.GetTickInterval(),
	}
}

// MonitorConfig holds the tuning and the collaborators of a Monitor.
type MonitorConfig struct {
	Config Config

	Clock    timeutil.Clock          // Optional: defaults to the real clock
	Sink     events.Sink             // Optional: events are dropped when nil
	Pastures PastureSource           // Required for new-fence tasks
	Settings SettingsStore           // Optional: keep-mode is off when nil
	Counters correction.CounterStore // Optional: counters are not persisted when nil
	Observer TaskObserver            // Optional: task latency
}

// isNilInterface reports whether i is nil or wraps a nil pointer.
func isNilInterface(i any) bool {
	if i == nil {
		return true
	}
	v := reflect.ValueOf(i)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// Snapshot is a copy of the pipeline state for debug pages and tools.
type Snapshot struct {
	Zone           zone.Zone
	Distance       int16
	HasDistance    bool
	Tier           gnssfix.Tier
	Trend          trend.Snapshot
	Status         states.Status
	ReceiverMode   gnssfix.ReceiverMode
	Correction     correction.State
	ToneHz         int
	LastWarnDist   int
	Counters       correction.Counters
	PastureVersion uint32
	HasPasture     bool
	UpdatedAt      time.Time
}

// Monitor is the engine context. Post methods may be called from any
// goroutine; everything else runs on the goroutine calling Run.
type Monitor struct {
	cfg      Config
	clock    timeutil.Clock
	sink     events.Sink
	pastures PastureSource
	settings SettingsStore
	observer TaskObserver

	queue   *taskQueue
	pasture *PastureCache
	fixes   *FixCache

	pendingVersion atomic.Uint32
	// fenceRetry is set when a pasture swap timed out; the next tick
	// queues the install again.
	fenceRetry bool

	fixClass *gnssfix.Classifier
	zones    *zone.Classifier
	trend    *trend.Set
	tracker  *states.Tracker
	corr     *correction.Engine

	dist           int16
	hasDist        bool
	snap           trend.Snapshot
	meanDist       int16
	slope          int16
	status         states.Status
	receiverWanted gnssfix.ReceiverMode
	receiverActual gnssfix.ReceiverMode
	pastureVersion uint32
	hasPasture     bool

	snapMu   sync.Mutex
	snapshot Snapshot
}

// NewMonitor wires a Monitor. Nothing runs until Run or RunPending.
func NewMonitor(mc MonitorConfig) *Monitor {
	clock := mc.Clock
	if isNilInterface(clock) {
		clock = timeutil.RealClock{}
	}
	sink := mc.Sink
	if isNilInterface(sink) {
		sink = events.Discard
	}

	m := &Monitor{
		cfg:      mc.Config,
		clock:    clock,
		sink:     sink,
		pastures: mc.Pastures,
		queue:    newTaskQueue(),
		pasture:  NewPastureCache(mc.Config.PastureCacheTimeout),
		fixes:    NewFixCache(mc.Config.FixCacheTimeout),
		fixClass: gnssfix.NewClassifier(mc.Config.Fix),
		zones:    zone.NewClassifier(mc.Config.Zone),
		trend:    trend.NewSet(mc.Config.Trend),
		tracker:  states.NewTracker(mc.Config.States),
	}
	if !isNilInterface(mc.Settings) {
		m.settings = mc.Settings
	}
	if !isNilInterface(mc.Observer) {
		m.observer = mc.Observer
	}
	var store correction.CounterStore
	if !isNilInterface(mc.Counters) {
		store = mc.Counters
	}
	m.corr = correction.NewEngine(mc.Config.Correction, clock, sink, store)
	m.fixClass.OnTimeout(m.onTierLost)
	return m
}

// RestoreCounters seeds the correction counters, typically from storage at
// boot. Call it before Run.
func (m *Monitor) RestoreCounters(c correction.Counters) {
	m.corr.RestoreCounters(c)
	m.publishSnapshot()
}

// Run processes tasks until ctx is done. It also posts a tick task every
// TickInterval so fix tiers expire and the warning tone keeps stepping
// between fixes.
func (m *Monitor) Run(ctx context.Context) error {
	interval := m.cfg.TickInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()

	opsf("monitor running (tick %v)", interval)
	for {
		m.RunPending(ctx)
		select {
		case <-ctx.Done():
			opsf("monitor stopped: %v", ctx.Err())
			return ctx.Err()
		case <-m.queue.notify:
		case <-ticker.C():
			m.queue.post(task{kind: taskTick, posted: m.clock.Now()})
		}
	}
}

// RunPending runs queued tasks, including any they post, until the queue
// is empty. It returns the number of tasks run.
func (m *Monitor) RunPending(ctx context.Context) int {
	n := 0
	for ctx.Err() == nil {
		t, ok := m.queue.pop()
		if !ok {
			break
		}
		m.run(ctx, t)
		n++
	}
	return n
}

func (m *Monitor) run(ctx context.Context, t task) {
	start := m.clock.Now()
	switch t.kind {
	case taskFix:
		m.handleFix(ctx)
	case taskNewFence:
		m.handleNewFence(ctx)
	case taskStates:
		m.handleStates()
	case taskCorrections:
		m.handleCorrections()
	case taskTick:
		m.handleTick()
	default:
		m.handleSetting(t)
	}
	m.publishSnapshot()
	if m.observer != nil {
		m.observer.ObserveTask(t.kind.String(), m.clock.Since(start))
	}
}

func (m *Monitor) post(kind taskKind, payload any) {
	if !m.queue.post(task{kind: kind, payload: payload, posted: m.clock.Now()}) {
		tracef("%s task already pending", kind)
	}
}

// PostFix stores a new receiver record and queues a fix task.
func (m *Monitor) PostFix(ctx context.Context, f gnssfix.Fix) error {
	if err := m.fixes.Store(ctx, f); err != nil {
		m.reportCacheTimeout(err)
		return err
	}
	m.post(taskFix, nil)
	return nil
}

// PostFixTimeout records that the receiver stopped delivering records.
func (m *Monitor) PostFixTimeout(ctx context.Context) error {
	if err := m.fixes.MarkTimeout(ctx); err != nil {
		m.reportCacheTimeout(err)
		return err
	}
	m.post(taskFix, nil)
	return nil
}

// PostNewFence queues installation of the given pasture version. A later
// call before the task runs replaces the version.
func (m *Monitor) PostNewFence(version uint32) {
	m.pendingVersion.Store(version)
	m.post(taskNewFence, nil)
}

// PostBeacon reports BLE beacon proximity.
func (m *Monitor) PostBeacon(b states.Beacon) { m.post(taskBeacon, b) }

// PostPower reports the battery level.
func (m *Monitor) PostPower(p states.Power) { m.post(taskPower, p) }

// PostMovement reports the accelerometer activity level.
func (m *Monitor) PostMovement(mv states.Movement) { m.post(taskMovement, mv) }

// PostSoundStatus reports the buzzer state.
func (m *Monitor) PostSoundStatus(s states.Sound) { m.post(taskSound, s) }

// PostMode sets the operating mode.
func (m *Monitor) PostMode(mode states.Mode) { m.post(taskMode, mode) }

// PostReceiverMode reports the acquisition mode the receiver is running.
func (m *Monitor) PostReceiverMode(r gnssfix.ReceiverMode) { m.post(taskReceiverMode, r) }

// PostTurnOffFence turns the fence off until a new one is installed.
func (m *Monitor) PostTurnOffFence() { m.post(taskTurnOff, nil) }

// PostTick queues a tick task. Run posts one every TickInterval; callers
// driving RunPending themselves post their own.
func (m *Monitor) PostTick() { m.post(taskTick, nil) }

// Snapshot returns a copy of the state after the last task.
func (m *Monitor) Snapshot() Snapshot {
	m.snapMu.Lock()
	defer m.snapMu.Unlock()
	return m.snapshot
}

func (m *Monitor) publishSnapshot() {
	s := Snapshot{
		Zone:           m.zones.Zone(),
		Distance:       m.dist,
		HasDistance:    m.hasDist,
		Tier:           m.fixClass.Tier(),
		Trend:          m.snap,
		Status:         m.status,
		ReceiverMode:   m.receiverActual,
		Correction:     m.corr.State(),
		ToneHz:         m.corr.ToneHz(),
		LastWarnDist:   m.corr.LastWarnDist(),
		Counters:       m.corr.Counters(),
		PastureVersion: m.pastureVersion,
		HasPasture:     m.hasPasture,
		UpdatedAt:      m.clock.Now(),
	}
	m.snapMu.Lock()
	m.snapshot = s
	m.snapMu.Unlock()
}
