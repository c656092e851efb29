// Package schemarefresh polls schema sources and republishes registry entries whose
// documents changed.
package schemarefresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"talk2data/internal/logging"
	"talk2data/internal/registry"
)

// Default poll bounds used when the config leaves them unset.
const (
	DefaultMinInterval = 30 * time.Second
	DefaultMaxInterval = 5 * time.Minute
)

// Source returns the loader that reads the current document for key.
type Source func(key registry.Key) registry.LoadFunc

// Recorder receives refresh metrics.
type Recorder interface {
	RecordRefresh(ctx context.Context, duration time.Duration, success bool, trigger string)
}

// Change describes one registry update made by a refresh.
type Change struct {
	Key         registry.Key
	Fingerprint string
	// Removed is set when the document disappeared and the entry was dropped.
	Removed bool
}

// Result summarizes one refresh pass.
type Result struct {
	Checked int
	Changes []Change
}

// Config controls refresh behavior.
type Config struct {
	Registry *registry.Registry
	Source   Source
	// Keys are the schemas to watch. When empty every live registry key is polled.
	Keys        []registry.Key
	Logger      *logging.Logger
	Metrics     Recorder
	MinInterval time.Duration
	MaxInterval time.Duration
	// IsNotFound reports source errors that mean the document was deleted.
	IsNotFound func(error) bool
	// OnChange is called after each registry update.
	OnChange func(Change)
}

// Manager keeps registry entries in step with their sources.
type Manager struct {
	registry    *registry.Registry
	source      Source
	keys        []registry.Key
	logger      *logging.Logger
	metrics     Recorder
	minInterval time.Duration
	maxInterval time.Duration
	isNotFound  func(error) bool
	onChange    func(Change)
	wg          sync.WaitGroup
}

// NewManager loads every configured key into the registry and returns a manager.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("schema refresh manager requires a registry")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("schema refresh manager requires a source")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	minInterval := cfg.MinInterval
	maxInterval := cfg.MaxInterval
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	if maxInterval <= 0 {
		maxInterval = DefaultMaxInterval
	}
	if maxInterval < minInterval {
		maxInterval = minInterval
	}

	m := &Manager{
		registry:    cfg.Registry,
		source:      cfg.Source,
		keys:        append([]registry.Key(nil), cfg.Keys...),
		logger:      cfg.Logger.WithFields(slog.String("component", "schema_refresh")),
		metrics:     cfg.Metrics,
		minInterval: minInterval,
		maxInterval: maxInterval,
		isNotFound:  cfg.IsNotFound,
		onChange:    cfg.OnChange,
	}

	start := time.Now()
	for _, key := range m.keys {
		if _, err := m.registry.Get(ctx, key, m.source(key)); err != nil {
			m.recordRefresh(ctx, time.Since(start), false, "startup")
			return nil, fmt.Errorf("failed to load schema %s: %w", key, err)
		}
	}
	m.recordRefresh(ctx, time.Since(start), true, "startup")

	return m, nil
}

// Start begins the background refresh loop.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.refreshLoop(ctx)
	}()
}

// RefreshNow checks every watched key once and republishes the ones that changed.
func (m *Manager) RefreshNow(ctx context.Context) (Result, error) {
	start := time.Now()
	result, err := m.check(ctx)
	m.recordRefresh(ctx, time.Since(start), err == nil, "manual")
	return result, err
}

// Wait blocks until the refresh loop exits or the context is canceled.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) refreshLoop(ctx context.Context) {
	interval := m.minInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("schema refresh stopped")
			return
		case <-timer.C:
			m.refreshOnce(ctx, &interval)
			timer.Reset(interval)
		}
	}
}

func (m *Manager) refreshOnce(ctx context.Context, interval *time.Duration) {
	start := time.Now()
	result, err := m.check(ctx)
	if err != nil {
		m.logger.Warn("schema refresh failed", slog.String("error", err.Error()))
		m.recordRefresh(ctx, time.Since(start), false, "poll")
		*interval = m.minInterval
		return
	}

	if len(result.Changes) == 0 {
		m.recordRefresh(ctx, time.Since(start), true, "poll_no_change")
		*interval = nextInterval(*interval, m.minInterval, m.maxInterval)
		return
	}

	*interval = m.minInterval
	m.recordRefresh(ctx, time.Since(start), true, "poll")
	m.logger.Info("schema refresh complete",
		slog.Int("checked", result.Checked),
		slog.Int("changed", len(result.Changes)),
	)
}

// check reloads each key and publishes models whose fingerprint differs from the cached
// entry. Failures for one key do not stop the others.
func (m *Manager) check(ctx context.Context) (Result, error) {
	keys := m.keys
	if len(keys) == 0 {
		keys = m.registry.Keys()
	}

	var result Result
	var errs []error
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Checked++

		model, err := m.source(key)(ctx)
		if err != nil {
			if m.isNotFound != nil && m.isNotFound(err) {
				if m.registry.Invalidate(key) {
					m.logger.Info("schema removed", slog.String("schema", key.String()))
					m.publish(&result, Change{Key: key, Removed: true})
				}
				continue
			}
			errs = append(errs, fmt.Errorf("schema %s: %w", key, err))
			continue
		}

		current, ok := m.registry.Peek(key)
		if ok && current.Fingerprint == model.Fingerprint() {
			continue
		}
		snap := m.registry.Put(key, model)
		m.publish(&result, Change{Key: key, Fingerprint: snap.Fingerprint})
	}
	return result, errors.Join(errs...)
}

func (m *Manager) publish(result *Result, change Change) {
	result.Changes = append(result.Changes, change)
	if m.onChange != nil {
		m.onChange(change)
	}
}

func nextInterval(current, minInterval, maxInterval time.Duration) time.Duration {
	if current < minInterval {
		return minInterval
	}
	next := current + current/2
	if next > maxInterval {
		return maxInterval
	}
	return next
}

func (m *Manager) recordRefresh(ctx context.Context, duration time.Duration, success bool, trigger string) {
	if m.metrics == nil {
		return
	}
	m.metrics.RecordRefresh(ctx, duration, success, trigger)
}
