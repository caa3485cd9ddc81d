// Package poller runs the acquisition loop: it reads every configured data
// point once per polling interval and reconnects when the PLC drops.
package poller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/plc-dashboard/internal/events"
	"github.com/thatsimonsguy/plc-dashboard/internal/model"
)

var (
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrClosed         = errors.New("scheduler closed")
)

// Store is the part of the configuration store the scheduler reads.
type Store interface {
	Settings() model.ControllerSettings
	Snapshot() (model.ControllerSettings, []model.DataPoint)
	Subscribe(fn func()) (unsubscribe func())
}

// PLC is the part of the PLC client the scheduler drives.
type PLC interface {
	Connect(settings model.ControllerSettings) bool
	Disconnect()
	IsConnected() bool
	LastError() string
	ReadAllValues(dps []model.DataPoint) map[string]*float64
	TestConnection(settings model.ControllerSettings) bool
	Close()
}

type Metrics interface {
	Gauge(name string, value float64, tags ...string)
	Incr(name string, tags ...string)
}

type nopMetrics struct{}

func (nopMetrics) Gauge(string, float64, ...string) {}
func (nopMetrics) Incr(string, ...string)           {}

type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "idle"
	}
}

type Option func(*Scheduler)

func WithMetrics(m Metrics) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithInitialInterval overrides the stored polling interval until the next
// configuration change.
func WithInitialInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		s.initial = d
	}
}

const fallbackInterval = time.Second

type Scheduler struct {
	store   Store
	plc     PLC
	metrics Metrics

	initial     time.Duration
	interval    atomic.Int64
	unsubscribe func()

	mu      sync.Mutex
	state   State
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}

	valuesMu sync.RWMutex
	values   map[string]*float64

	valuesFeed *events.Feed[map[string]*float64]
	connFeed   *events.Feed[bool]

	closeOnce sync.Once
}

// New subscribes to configuration changes right away; Close releases the
// subscription. Both store and client must outlive the scheduler.
func New(store Store, client PLC, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:      store,
		plc:        client,
		metrics:    nopMetrics{},
		values:     map[string]*float64{},
		valuesFeed: events.NewFeed[map[string]*float64]("values"),
		connFeed:   events.NewFeed[bool]("connection"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.initial > 0 {
		s.setInterval(s.initial)
	} else {
		s.setInterval(store.Settings().PollingInterval())
	}
	s.unsubscribe = store.Subscribe(s.onConfigurationChanged)
	return s
}

func (s *Scheduler) onConfigurationChanged() {
	s.setInterval(s.store.Settings().PollingInterval())
}

func (s *Scheduler) setInterval(d time.Duration) {
	if d <= 0 {
		d = fallbackInterval
	}
	if old := time.Duration(s.interval.Swap(int64(d))); old != d && old != 0 {
		log.Info().Dur("interval", d).Msg("Polling interval changed")
	}
}

func (s *Scheduler) Interval() time.Duration {
	return time.Duration(s.interval.Load())
}

// SubscribeValues delivers every freshly read value set. Each listener gets
// its own copy of the map.
func (s *Scheduler) SubscribeValues(fn func(map[string]*float64)) (unsubscribe func()) {
	return s.valuesFeed.Subscribe(func(values map[string]*float64) {
		fn(copyValues(values))
	})
}

func (s *Scheduler) SubscribeConnection(fn func(connected bool)) (unsubscribe func()) {
	return s.connFeed.Subscribe(fn)
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start launches the polling loop. It can be called once per scheduler and
// never after Close.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = StateRunning

	go func() {
		defer close(s.done)
		s.run(loopCtx)
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
	}()
	return nil
}

// Run starts the loop and blocks until ctx is cancelled or the scheduler is
// stopped.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	<-done
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	log.Info().Dur("interval", s.Interval()).Msg("Polling scheduler started")
	for {
		if ctx.Err() != nil {
			break
		}
		s.tick()

		wait := time.NewTimer(s.Interval())
		select {
		case <-ctx.Done():
			wait.Stop()
		case <-wait.C:
		}
	}
	s.mu.Lock()
	s.state = StateStopping
	s.mu.Unlock()
	log.Info().Msg("Polling scheduler stopped")
}

// tick never lets a failure escape; the loop keeps its schedule.
func (s *Scheduler) tick() {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Polling cycle failed")
			s.metrics.Incr("plc.cycle_errors")
		}
	}()

	settings, points := s.store.Snapshot()

	if !s.plc.IsConnected() {
		s.reconnect(settings)
		return
	}

	values := s.plc.ReadAllValues(points)
	s.valuesMu.Lock()
	s.values = copyValues(values)
	s.valuesMu.Unlock()

	for id, v := range values {
		if v == nil {
			s.metrics.Incr("plc.read_failures", "datapoint:"+id)
			continue
		}
		s.metrics.Gauge("plc.value", *v, "datapoint:"+id)
	}
	s.valuesFeed.Publish(values)

	if !s.plc.IsConnected() {
		s.publishConnection(false)
	}
}

func (s *Scheduler) reconnect(settings model.ControllerSettings) {
	if strings.TrimSpace(settings.IPAddress) == "" {
		return
	}
	log.Info().Str("address", settings.IPAddress).Msg("Attempting to reconnect to PLC")
	s.metrics.Incr("plc.reconnect_attempts")
	s.publishConnection(s.plc.Connect(settings))
}

func (s *Scheduler) publishConnection(connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	s.metrics.Gauge("plc.connected", v)
	s.connFeed.Publish(connected)
}

// Connect is the user-initiated connect; it uses the stored settings.
func (s *Scheduler) Connect() bool {
	settings := s.store.Settings()
	s.setInterval(settings.PollingInterval())
	connected := s.plc.Connect(settings)
	s.publishConnection(connected)
	return connected
}

func (s *Scheduler) Disconnect() {
	s.plc.Disconnect()
	s.publishConnection(false)
}

func (s *Scheduler) TestConnection(settings model.ControllerSettings) bool {
	return s.plc.TestConnection(settings)
}

func (s *Scheduler) IsConnected() bool {
	return s.plc.IsConnected()
}

func (s *Scheduler) LastError() string {
	return s.plc.LastError()
}

// CurrentValues returns a copy of the last published value set.
func (s *Scheduler) CurrentValues() map[string]*float64 {
	s.valuesMu.RLock()
	defer s.valuesMu.RUnlock()
	return copyValues(s.values)
}

// Stop cancels the loop and waits for it to exit. The PLC session is left
// as is; Close also disconnects.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Close stops the loop, drops the configuration subscription and closes the
// PLC session. Safe to call repeatedly and without Start.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.Stop()
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		s.plc.Close()
		log.Info().Msg("Polling scheduler closed")
	})
}

func copyValues(in map[string]*float64) map[string]*float64 {
	out := make(map[string]*float64, len(in))
	for k, v := range in {
		if v == nil {
			out[k] = nil
			continue
		}
		f := *v
		out[k] = &f
	}
	return out
}
