// Package registry caches parsed schema models per tenant and schema id.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"talk2data/internal/joinpath"
	"talk2data/internal/logging"
	"talk2data/internal/relindex"
	"talk2data/internal/schemamodel"
)

// Key identifies a cached schema. An empty tenant means a shared schema.
type Key struct {
	Tenant   string
	SchemaID string
}

// NewKey trims both parts of a key.
func NewKey(tenant, schemaID string) Key {
	return Key{Tenant: strings.TrimSpace(tenant), SchemaID: strings.TrimSpace(schemaID)}
}

func (k Key) String() string {
	if k.Tenant == "" {
		return k.SchemaID
	}
	return k.Tenant + "/" + k.SchemaID
}

// flightKey cannot collide across tenants because ids never contain NUL.
func (k Key) flightKey() string {
	return k.Tenant + "\x00" + k.SchemaID
}

// LoadFunc produces a model on a cache miss.
type LoadFunc func(ctx context.Context) (*schemamodel.Model, error)

// DocumentLoader adapts a document loader into a LoadFunc.
func DocumentLoader(loader schemamodel.Loader, opts ...schemamodel.ParseOption) LoadFunc {
	return func(ctx context.Context) (*schemamodel.Model, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return schemamodel.Load(loader, opts...)
	}
}

// Snapshot is an immutable cache entry. Model and Index are fully built before a
// snapshot is published.
type Snapshot struct {
	Key         Key
	Model       *schemamodel.Model
	Index       *relindex.Index
	LoadedAt    time.Time
	Fingerprint string
}

func newSnapshot(key Key, model *schemamodel.Model, loadedAt time.Time) *Snapshot {
	return &Snapshot{
		Key:         key,
		Model:       model,
		Index:       relindex.New(model),
		LoadedAt:    loadedAt,
		Fingerprint: model.Fingerprint(),
	}
}

// Synthesize builds a join path using the snapshot's prebuilt index.
func (s *Snapshot) Synthesize(required []string, opts ...joinpath.Option) (*joinpath.Path, error) {
	return joinpath.SynthesizeWithIndex(s.Model, s.Index, required, opts...)
}

// Recorder receives registry metrics.
type Recorder interface {
	RecordLookup(ctx context.Context, hit bool)
	RecordLoad(ctx context.Context, duration time.Duration, success bool)
}

type noopRecorder struct{}

func (noopRecorder) RecordLookup(context.Context, bool)            {}
func (noopRecorder) RecordLoad(context.Context, time.Duration, bool) {}

// Option configures a Registry.
type Option func(*Registry)

// WithTTL expires entries older than ttl. Zero keeps entries until replaced.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		r.ttl = ttl
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(recorder Recorder) Option {
	return func(r *Registry) {
		if recorder != nil {
			r.metrics = recorder
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *logging.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry holds at most one snapshot per key. All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[Key]*Snapshot
	// generations is bumped by Put and Invalidate so loads started earlier do not publish.
	generations map[Key]uint64
	group       singleflight.Group

	ttl     time.Duration
	now     func() time.Time
	logger  *logging.Logger
	metrics Recorder
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries:     make(map[Key]*Snapshot),
		generations: make(map[Key]uint64),
		now:         time.Now,
		logger:      &logging.Logger{Logger: slog.Default()},
		metrics:     noopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithFields(slog.String("component", "schema_registry"))
	return r
}

// Get returns the cached snapshot for key, calling load at most once per key when it
// is missing. Concurrent callers for the same key share one load. The shared load is
// not cancelled with any single caller; ctx only bounds how long this caller waits.
func (r *Registry) Get(ctx context.Context, key Key, load LoadFunc) (*Snapshot, error) {
	if key.SchemaID == "" {
		return nil, errors.New("registry: schema id is required")
	}
	if snap, ok := r.lookup(key); ok {
		r.metrics.RecordLookup(ctx, true)
		return snap, nil
	}
	r.metrics.RecordLookup(ctx, false)
	if load == nil {
		return nil, fmt.Errorf("registry: no loader for schema %s", key)
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key.flightKey(), func() (any, error) {
		return r.loadAndStore(loadCtx, key, load)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	}
}

func (r *Registry) loadAndStore(ctx context.Context, key Key, load LoadFunc) (*Snapshot, error) {
	r.mu.RLock()
	generation := r.generations[key]
	current, ok := r.entries[key]
	r.mu.RUnlock()
	if ok && !r.expired(current) {
		return current, nil
	}

	start := r.now()
	model, err := load(ctx)
	if err == nil && model == nil {
		err = errors.New("loader returned no model")
	}
	r.metrics.RecordLoad(ctx, r.now().Sub(start), err == nil)
	if err != nil {
		r.logger.Warn("schema load failed", slog.String("schema", key.String()), slog.String("error", err.Error()))
		return nil, fmt.Errorf("load schema %s: %w", key, err)
	}

	snap := newSnapshot(key, model, r.now())

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generations[key] != generation {
		if newer, ok := r.entries[key]; ok && !r.expired(newer) {
			return newer, nil
		}
		return snap, nil
	}
	r.storeLocked(snap)
	return snap, nil
}

// Put replaces the entry for key with model and returns the published snapshot.
func (r *Registry) Put(key Key, model *schemamodel.Model) *Snapshot {
	snap := newSnapshot(key, model, r.now())

	r.mu.Lock()
	defer r.mu.Unlock()
	r.generations[key]++
	r.storeLocked(snap)
	return snap
}

// Invalidate drops the entry for key and reports whether one existed.
func (r *Registry) Invalidate(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generations[key]++
	_, ok := r.entries[key]
	delete(r.entries, key)
	if ok {
		r.logger.Debug("schema invalidated", slog.String("schema", key.String()))
	}
	return ok
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, snap := range r.entries {
		if !r.expired(snap) {
			n++
		}
	}
	return n
}

// Keys returns the live keys sorted by their string form.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	keys := make([]Key, 0, len(r.entries))
	for key, snap := range r.entries {
		if !r.expired(snap) {
			keys = append(keys, key)
		}
	}
	r.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

// Peek returns the live entry for key without loading or recording a lookup.
func (r *Registry) Peek(key Key) (*Snapshot, bool) {
	return r.lookup(key)
}

func (r *Registry) lookup(key Key) (*Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.entries[key]
	if !ok || r.expired(snap) {
		return nil, false
	}
	return snap, true
}

func (r *Registry) expired(snap *Snapshot) bool {
	return r.ttl > 0 && r.now().Sub(snap.LoadedAt) >= r.ttl
}

func (r *Registry) storeLocked(snap *Snapshot) {
	previous, existed := r.entries[snap.Key]
	r.entries[snap.Key] = snap

	switch {
	case !existed:
		r.logger.Info("schema cached",
			slog.String("schema", snap.Key.String()),
			slog.Int("tables", len(snap.Model.Tables)),
			slog.Int("relationships", snap.Index.Len()),
			slog.String("fingerprint", snap.Fingerprint),
		)
	case previous.Fingerprint != snap.Fingerprint:
		r.logger.Info("schema changed",
			slog.String("schema", snap.Key.String()),
			slog.String("previous_fingerprint", previous.Fingerprint),
			slog.String("fingerprint", snap.Fingerprint),
		)
	}
}
