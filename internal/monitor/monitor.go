package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/aatn/firegate/internal/config"
	"github.com/aatn/firegate/internal/fireconn"
	"github.com/aatn/firegate/internal/history"
	"github.com/aatn/firegate/internal/notify"
)

// subscriberBuffer is the channel depth per subscriber; slow consumers
// miss results rather than block the probe loop.
const subscriberBuffer = 8

// HealthChecker is the slice of the connection manager the monitor needs.
type HealthChecker interface {
	HealthCheck(ctx context.Context) fireconn.Result
}

// Config holds probe loop settings
type Config struct {
	// Interval between scheduled probes. Default: 30s
	Interval time.Duration

	// Retention is how long probe history is kept; 0 disables pruning.
	Retention time.Duration
}

// DefaultConfig returns the default monitor configuration
func DefaultConfig() Config {
	return Config{
		Interval:  30 * time.Second,
		Retention: 7 * 24 * time.Hour,
	}
}

// Monitor runs scheduled health probes, persists results, and fans them
// out to subscribers.
type Monitor struct {
	checker HealthChecker
	store   *history.Store
	webhook *notify.Webhook
	config  Config
	cron    *cron.Cron
	entryID cron.EntryID

	mu      sync.RWMutex
	running bool
	probing bool
	last    *fireconn.Result
	subs    map[int64]chan fireconn.Result
	nextSub int64

	wg sync.WaitGroup
}

// New creates a monitor. store and webhook may be nil to disable
// persistence and notifications respectively.
func New(checker HealthChecker, store *history.Store, webhook *notify.Webhook, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}

	return &Monitor{
		checker: checker,
		store:   store,
		webhook: webhook,
		config:  cfg,
		cron:    cron.New(),
		subs:    make(map[int64]chan fireconn.Result),
	}
}

// Start schedules the probe loop and runs one immediate probe.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	entryID, err := m.cron.AddFunc(fmt.Sprintf("@every %s", m.config.Interval), m.probe)
	if err != nil {
		return fmt.Errorf("failed to schedule health probes: %w", err)
	}
	m.entryID = entryID
	m.cron.Start()
	m.running = true

	// First probe immediately so Last() is populated without waiting
	// a full interval.
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.probe()
	}()

	log.Info().Dur("interval", m.config.Interval).Msg("Health monitor started")
	return nil
}

// Stop stops the scheduler and waits for any in-flight probe.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	ctx := m.cron.Stop()
	<-ctx.Done()
	m.wg.Wait()

	log.Info().Msg("Health monitor stopped")
}

// IsRunning returns whether the monitor is running
func (m *Monitor) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Last returns the most recent probe result without touching Firestore,
// or nil before the first probe completes.
func (m *Monitor) Last() *fireconn.Result {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.last == nil {
		return nil
	}
	res := *m.last
	return &res
}

// NextRun returns the next scheduled probe time, or zero when not running.
func (m *Monitor) NextRun() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.running || m.entryID == 0 {
		return time.Time{}
	}
	return m.cron.Entry(m.entryID).Next
}

// Subscribe registers a probe result listener. Slow subscribers miss
// results; they are never blocked on.
func (m *Monitor) Subscribe() (int64, <-chan fireconn.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSub++
	id := m.nextSub
	ch := make(chan fireconn.Result, subscriberBuffer)
	m.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (m *Monitor) Unsubscribe(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ch, ok := m.subs[id]; ok {
		delete(m.subs, id)
		close(ch)
	}
}

// probe runs one health check and distributes the result.
func (m *Monitor) probe() {
	m.mu.Lock()
	if m.probing {
		m.mu.Unlock()
		log.Debug().Msg("Skipping health probe, previous probe still running")
		return
	}
	m.probing = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.probing = false
		m.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), config.GetTimeouts().HealthProbe)
	defer cancel()

	res := m.checker.HealthCheck(ctx)

	m.mu.Lock()
	prev := m.last
	m.last = &res
	subs := make([]chan fireconn.Result, 0, len(m.subs))
	for _, ch := range m.subs {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	log.Debug().
		Str("status", string(res.Status)).
		Int("collections", res.Collections).
		Msg("Health probe completed")

	if m.store != nil {
		if err := m.store.RecordCheck(res); err != nil {
			log.Error().Err(err).Msg("Failed to record health probe")
		}
		if m.config.Retention > 0 {
			if _, err := m.store.Prune(time.Now().UTC().Add(-m.config.Retention)); err != nil {
				log.Error().Err(err).Msg("Failed to prune health history")
			}
		}
	}

	for _, ch := range subs {
		select {
		case ch <- res:
		default:
		}
	}

	if prev != nil && prev.Status != res.Status {
		log.Warn().
			Str("previous", string(prev.Status)).
			Str("status", string(res.Status)).
			Str("error", res.Error).
			Msg("Health status transition")

		notifyCtx, notifyCancel := context.WithTimeout(context.Background(), config.GetTimeouts().HTTPClient)
		defer notifyCancel()
		m.webhook.NotifyTransition(notifyCtx, prev.Status, res)
	}
}
