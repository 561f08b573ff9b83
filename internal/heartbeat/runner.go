// Package heartbeat implements the periodic health pulse described in spec
// §4.6: a runner ticks independently of the executor and scheduler, emits a
// Pulse carrying current load stats, and watches for a client's Ack falling
// behind before raising a missed-heartbeat warning. Grounded on the
// teacher's internal/heartbeat Runner (ticker-driven goroutine, start/stop
// lifecycle, event callback) but rebuilt around spec's Pulse/Ack/Warning
// vocabulary and explicit Starting/Running/Paused/Stopping/Stopped/Error
// status transitions in place of the teacher's ack-delivery-queue model,
// which has no analog here (RestFlow has no chat-channel ack target).
package heartbeat

import (
	"sync"
	"time"
)

// Status is the heartbeat runner's own lifecycle state, emitted as a
// distinct event on every transition (spec §4.6).
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// WarningCode identifies a heartbeat anomaly. The only code spec §4.6
// names is a missed-ack threshold breach.
type WarningCode string

// WarningHeartbeatMissed fires when sequence_current - last_ack exceeds
// the configured MaxMissedHeartbeats.
const WarningHeartbeatMissed WarningCode = "HEARTBEAT_MISSED"

// Stats is an optional payload a caller can attach to a Pulse, e.g. queue
// depths or resource usage the client wants surfaced alongside load.
type Stats map[string]any

// Pulse is emitted at every tick (spec §4.6).
type Pulse struct {
	Sequence     uint64
	Timestamp    time.Time
	ActiveTasks  int
	PendingTasks int
	UptimeMs     int64
	Stats        Stats
}

// Ack is sent back by a client acknowledging it has seen up through
// Sequence.
type Ack struct {
	Sequence uint64
}

// Warning is emitted when the client falls too far behind on acks.
type Warning struct {
	Code      WarningCode
	Timestamp time.Time
	Missed    uint64
}

// StatusEvent is emitted on every lifecycle transition.
type StatusEvent struct {
	Status    Status
	Timestamp time.Time
	Detail    string
}

// LoadStats reports the current active/pending task counts a Pulse should
// carry. internal/tasks.Scheduler (via an adapter) and internal/tasks.Store
// are the natural implementations.
type LoadStats interface {
	ActiveTasks() int
	PendingTasks() int
}

// staticLoadStats is the zero-value LoadStats used when a caller doesn't
// wire one in: every Pulse reports zero load rather than panicking.
type staticLoadStats struct{}

func (staticLoadStats) ActiveTasks() int  { return 0 }
func (staticLoadStats) PendingTasks() int { return 0 }

// Config configures pulse cadence and missed-heartbeat tolerance.
type Config struct {
	// Interval is the time between Pulses.
	Interval time.Duration
	// MaxMissedHeartbeats is the allowed gap between the current sequence
	// and the last acknowledged sequence before a Warning fires.
	MaxMissedHeartbeats int
}

// DefaultConfig mirrors the teacher's config-with-defaults idiom.
func DefaultConfig() Config {
	return Config{Interval: 5 * time.Second, MaxMissedHeartbeats: 3}
}

// PulseFunc receives every emitted Pulse.
type PulseFunc func(Pulse)

// WarningFunc receives every emitted Warning.
type WarningFunc func(Warning)

// StatusFunc receives every lifecycle StatusEvent.
type StatusFunc func(StatusEvent)

// Runner drives the heartbeat loop: tick, emit Pulse, check ack staleness,
// emit Warning if the client has fallen behind.
type Runner struct {
	cfg   Config
	stats LoadStats

	onPulse   PulseFunc
	onWarning WarningFunc
	onStatus  StatusFunc

	startedAt time.Time

	mu       sync.Mutex
	status   Status
	sequence uint64
	lastAck  uint64
	paused   bool

	stopCh    chan struct{}
	doneCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewRunner builds a Runner. stats may be nil, in which case every Pulse
// reports zero active/pending tasks.
func NewRunner(cfg Config, stats LoadStats, onPulse PulseFunc, onWarning WarningFunc, onStatus StatusFunc) *Runner {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxMissedHeartbeats <= 0 {
		cfg.MaxMissedHeartbeats = def.MaxMissedHeartbeats
	}
	if stats == nil {
		stats = staticLoadStats{}
	}
	return &Runner{
		cfg:       cfg,
		stats:     stats,
		onPulse:   onPulse,
		onWarning: onWarning,
		onStatus:  onStatus,
		status:    StatusStopped,
	}
}

// Start launches the tick loop in a background goroutine. Safe to call
// once; subsequent calls are no-ops until Stop.
func (r *Runner) Start() {
	r.startOnce.Do(func() {
		r.mu.Lock()
		r.startedAt = time.Now()
		r.stopCh = make(chan struct{})
		r.doneCh = make(chan struct{})
		r.mu.Unlock()

		r.setStatus(StatusStarting, "")
		r.setStatus(StatusRunning, "")
		go r.loop()
	})
}

// Stop requests a graceful exit and blocks until the loop has exited.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.setStatus(StatusStopping, "")
		if r.stopCh != nil {
			close(r.stopCh)
		}
	})
	if r.doneCh != nil {
		<-r.doneCh
	}
}

// Pause suspends pulse emission without tearing down the loop; Resume
// restarts it. Both are idempotent.
func (r *Runner) Pause() {
	r.mu.Lock()
	wasPaused := r.paused
	r.paused = true
	r.mu.Unlock()
	if !wasPaused {
		r.setStatus(StatusPaused, "")
	}
}

// Resume reverses Pause.
func (r *Runner) Resume() {
	r.mu.Lock()
	wasPaused := r.paused
	r.paused = false
	r.mu.Unlock()
	if wasPaused {
		r.setStatus(StatusRunning, "")
	}
}

// Ack records the client's acknowledged sequence, clamped so an
// out-of-order or duplicate ack can never move lastAck backwards.
func (r *Runner) Ack(ack Ack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ack.Sequence > r.lastAck {
		r.lastAck = ack.Sequence
	}
}

func (r *Runner) loop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.setStatus(StatusStopped, "stopped")
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Runner) tick() {
	r.mu.Lock()
	if r.paused {
		r.mu.Unlock()
		return
	}
	r.sequence++
	seq := r.sequence
	last := r.lastAck
	startedAt := r.startedAt
	r.mu.Unlock()

	pulse := Pulse{
		Sequence:     seq,
		Timestamp:    time.Now(),
		ActiveTasks:  r.stats.ActiveTasks(),
		PendingTasks: r.stats.PendingTasks(),
		UptimeMs:     time.Since(startedAt).Milliseconds(),
	}
	if r.onPulse != nil {
		r.onPulse(pulse)
	}

	missed := seq - last
	if seq > uint64(r.cfg.MaxMissedHeartbeats) && missed > uint64(r.cfg.MaxMissedHeartbeats) {
		if r.onWarning != nil {
			r.onWarning(Warning{Code: WarningHeartbeatMissed, Timestamp: pulse.Timestamp, Missed: missed})
		}
	}
}

func (r *Runner) setStatus(status Status, detail string) {
	r.mu.Lock()
	r.status = status
	r.mu.Unlock()
	if r.onStatus != nil {
		r.onStatus(StatusEvent{Status: status, Timestamp: time.Now(), Detail: detail})
	}
}

// CurrentStatus returns the runner's lifecycle state.
func (r *Runner) CurrentStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// LastSequence returns the most recently emitted pulse sequence number.
func (r *Runner) LastSequence() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sequence
}
