package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/anicoll/froeling-integration/internal/pkg/model"
)

var (
	// ErrUpdateFailed wraps any error that aborted a poll cycle.
	ErrUpdateFailed = errors.New("update failed")

	// ErrRefreshInProgress is returned when a refresh is requested while another is running.
	ErrRefreshInProgress = errors.New("refresh already in progress")
)

const subscriberBuffer = 16

// DeviceSource is the Froeling session as seen by the coordinator.
type DeviceSource interface {
	Connect(ctx context.Context) error
	Disconnect()
	GetDevices(ctx context.Context) (*model.Snapshot, error)
}

type State int32

const (
	StateIdle State = iota
	StateFetching
)

func (s State) String() string {
	if s == StateFetching {
		return "fetching"
	}
	return "idle"
}

type EventKind string

const (
	EventUpdated      EventKind = "updated"
	EventUpdateFailed EventKind = "update_failed"
)

type Event struct {
	Kind     EventKind       `json:"kind"`
	At       time.Time       `json:"at"`
	Snapshot *model.Snapshot `json:"snapshot,omitempty"`
	Error    string          `json:"error,omitempty"`
}

type Status struct {
	State               string     `json:"state"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	LastErrorAt         *time.Time `json:"last_error_at,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	Devices             int        `json:"devices"`
}

// Coordinator polls the Froeling cloud on a fixed interval and publishes
// each successful result as an immutable snapshot. At most one fetch runs
// at a time.
type Coordinator struct {
	source   DeviceSource
	interval time.Duration
	logger   *zap.Logger
	metrics  *Metrics
	now      func() time.Time

	snapshot atomic.Pointer[model.Snapshot]
	fetching atomic.Bool

	mu          sync.Mutex
	lastSuccess time.Time
	lastErr     error
	lastErrAt   time.Time
	failures    int
	subscribers map[int]chan Event
	nextID      int
}

type Option func(*Coordinator)

func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

func New(source DeviceSource, interval time.Duration, opts ...Option) *Coordinator {
	c := &Coordinator{
		source:      source,
		interval:    interval,
		logger:      zap.L(),
		metrics:     NewMetrics(),
		now:         time.Now,
		subscribers: make(map[int]chan Event),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run performs a first refresh, then one per interval until ctx is done.
// A failed refresh is logged and retried on the next tick.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		c.logger.Error("initial refresh failed", zap.Error(err))
	}

	cronLogger := newCronLogger(c.logger)
	scheduler := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger)),
	)
	scheduler.Schedule(cron.Every(c.interval), cron.FuncJob(func() {
		err := c.Refresh(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrRefreshInProgress):
			c.logger.Debug("skipping tick, refresh in progress")
		case ctx.Err() != nil:
			c.logger.Debug("refresh aborted", zap.Error(err))
		default:
			c.logger.Error("refresh failed", zap.Error(err))
		}
	}))
	scheduler.Start()
	c.logger.Info("polling started", zap.Duration("interval", c.interval))

	<-ctx.Done()
	<-scheduler.Stop().Done()
	c.logger.Info("polling stopped")
	return ctx.Err()
}

// Refresh runs one poll cycle: login, fetch, publish, logout. The previous
// snapshot stays published when the cycle fails.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if !c.fetching.CompareAndSwap(false, true) {
		c.metrics.observeSkipped()
		return ErrRefreshInProgress
	}
	defer c.fetching.Store(false)

	start := c.now()
	snapshot, err := c.fetch(ctx)
	took := c.now().Sub(start)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrUpdateFailed, err)
		c.metrics.observeFailure(took)
		c.recordFailure(err)
		c.publish(Event{Kind: EventUpdateFailed, At: c.now(), Error: err.Error()})
		return err
	}

	c.snapshot.Store(snapshot)
	skippedTypes := lo.Map(snapshot.Skipped, func(s model.SkippedComponent, _ int) string {
		return s.Type
	})
	for _, s := range snapshot.Skipped {
		c.logger.Warn("skipped unrecognized component",
			zap.String("type", s.Type),
			zap.String("component_id", s.ComponentID),
		)
	}
	c.metrics.observeSuccess(snapshot.FetchedAt, took, len(snapshot.Devices), skippedTypes)
	c.recordSuccess(snapshot.FetchedAt)
	c.publish(Event{Kind: EventUpdated, At: snapshot.FetchedAt, Snapshot: snapshot})

	c.logger.Info("facility snapshot updated",
		zap.Int("devices", len(snapshot.Devices)),
		zap.Duration("took", took),
	)
	return nil
}

func (c *Coordinator) fetch(ctx context.Context) (*model.Snapshot, error) {
	if err := c.source.Connect(ctx); err != nil {
		return nil, err
	}
	defer c.source.Disconnect()
	return c.source.GetDevices(ctx)
}

// Snapshot returns the last published snapshot, or nil before the first
// successful poll.
func (c *Coordinator) Snapshot() *model.Snapshot {
	return c.snapshot.Load()
}

// GetDeviceByKey looks a record up in the last published snapshot.
func (c *Coordinator) GetDeviceByKey(key string) (model.DeviceRecord, bool) {
	return c.snapshot.Load().Get(key)
}

func (c *Coordinator) State() State {
	if c.fetching.Load() {
		return StateFetching
	}
	return StateIdle
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := Status{
		State:               c.State().String(),
		ConsecutiveFailures: c.failures,
	}
	if !c.lastSuccess.IsZero() {
		status.LastSuccess = lo.ToPtr(c.lastSuccess)
	}
	if c.lastErr != nil {
		status.LastError = c.lastErr.Error()
		status.LastErrorAt = lo.ToPtr(c.lastErrAt)
	}
	if s := c.snapshot.Load(); s != nil {
		status.Devices = len(s.Devices)
	}
	return status
}

// Subscribe returns a channel receiving every poll event and a function that
// cancels the subscription. Events are dropped for subscribers that do not
// keep up.
func (c *Coordinator) Subscribe() (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	ch := make(chan Event, subscriberBuffer)
	c.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subscribers, id)
			close(ch)
		})
	}
}

func (c *Coordinator) publish(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.subscribers {
		select {
		case ch <- e:
		default:
			c.metrics.droppedEvents.Inc()
			c.logger.Warn("subscriber buffer full, dropping event",
				zap.Int("subscriber", id),
				zap.String("event", string(e.Kind)),
			)
		}
	}
}

func (c *Coordinator) recordSuccess(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSuccess = at
	c.failures = 0
}

func (c *Coordinator) recordFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
	c.lastErrAt = c.now()
	c.failures++
}
