package content

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

// EventKind distinguishes the notifications the engines broadcast.
type EventKind string

const (
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
	EventReset   EventKind = "reset"
)

// Event is the change notification delivered to subscribers. Payload carries
// the serialized override so cross-process bridges can forward it verbatim.
type Event struct {
	Store   string
	Section string
	Kind    EventKind
	Payload json.RawMessage
}

// Fields decodes the payload. A corrupted payload yields an empty map, never
// a panic; subscribers treat it as "no override" and re-resolve from the
// source of truth.
func (e Event) Fields() Fields {
	if len(e.Payload) == 0 {
		return Fields{}
	}
	var fields Fields
	if err := json.Unmarshal(e.Payload, &fields); err != nil {
		return Fields{}
	}
	if fields == nil {
		return Fields{}
	}
	return fields
}

// Options tune the engine's cache and debounce behavior. Zero values select
// the defaults.
type Options struct {
	CacheTTL       time.Duration // in-memory cache lifetime, default 10s
	SaveDebounce   time.Duration // writer-side broadcast delay, default 150ms
	NotifyDebounce time.Duration // subscriber-side delay, default 300ms
	Now            func() time.Time
	Bus            *Bus // shared with other engines when set
}

const (
	defaultCacheTTL       = 10 * time.Second
	defaultSaveDebounce   = 150 * time.Millisecond
	defaultNotifyDebounce = 300 * time.Millisecond
)

type cacheEntry struct {
	fields    Fields
	expiresAt time.Time
}

// Engine resolves section content against the persisted override store with
// a disposable TTL cache in front. Construct one per process; there is no
// implicit shared state.
type Engine struct {
	store BlobStore
	bus   *Bus
	ttl   time.Duration
	now   func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func NewEngine(store BlobStore, opts Options) *Engine {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	bus := opts.Bus
	if bus == nil {
		bus = NewBus(opts.SaveDebounce, opts.NotifyDebounce)
	}
	return &Engine{
		store: store,
		bus:   bus,
		ttl:   opts.CacheTTL,
		now:   now,
		cache: make(map[string]cacheEntry),
	}
}

// Bus exposes the engine's notification channel so the unified store and
// HTTP layer can share it.
func (e *Engine) Bus() *Bus {
	return e.bus
}

// Resolve returns the section's content: defaults overlaid with any persisted
// override. It never fails; storage and parse errors degrade to defaults.
func (e *Engine) Resolve(ctx context.Context, sectionID string, defaults Fields) Fields {
	e.mu.Lock()
	if entry, ok := e.cache[sectionID]; ok && e.now().Before(entry.expiresAt) {
		cached := entry.fields.Clone()
		e.mu.Unlock()
		if len(cached) == 0 {
			// Recoverable inconsistency, e.g. a save raced initialization.
			return defaults.Clone()
		}
		return cached
	}
	e.mu.Unlock()

	overrides := e.loadOverrides(ctx)
	resolved := Merge(defaults, overrides[sectionID])
	if len(resolved) == 0 {
		resolved = defaults.Clone()
	}

	e.mu.Lock()
	e.cache[sectionID] = cacheEntry{fields: resolved.Clone(), expiresAt: e.now().Add(e.ttl)}
	e.mu.Unlock()
	return resolved
}

// Save replaces the section's override (last full write wins at section
// granularity), refreshes the writer's cache entry, and schedules a debounced
// broadcast. Only unrecoverable persistence errors are returned.
func (e *Engine) Save(ctx context.Context, sectionID string, override Fields) error {
	overrides := e.loadOverrides(ctx)
	copied := override.Clone()
	overrides[sectionID] = copied

	data, err := json.Marshal(overrides)
	if err != nil {
		return fmt.Errorf("encode override store: %w", err)
	}
	if err := e.store.Store(ctx, KeyOverrides, data); err != nil {
		return fmt.Errorf("persist override store: %w", err)
	}

	payload, _ := json.Marshal(copied)

	e.mu.Lock()
	prior := e.cache[sectionID].fields
	e.cache[sectionID] = cacheEntry{
		fields:    Merge(prior, copied),
		expiresAt: e.now().Add(e.ttl),
	}
	e.mu.Unlock()

	e.bus.Announce(Event{
		Store:   KeyOverrides,
		Section: sectionID,
		Kind:    EventUpdated,
		Payload: payload,
	})
	return nil
}

// ResetAll discards every override, drops the cache, and notifies
// subscribers immediately.
func (e *Engine) ResetAll(ctx context.Context) error {
	if err := e.store.Delete(ctx, KeyOverrides); err != nil {
		return fmt.Errorf("reset overrides: %w", err)
	}
	e.ClearCache()
	e.bus.Publish(Event{Store: KeyOverrides, Kind: EventReset})
	return nil
}

// ClearCache drops every cache entry and cancels pending broadcast timers.
// Used for administrative force-refresh.
func (e *Engine) ClearCache() {
	e.mu.Lock()
	e.cache = make(map[string]cacheEntry)
	e.mu.Unlock()
	e.bus.CancelPending()
}

// Subscribe registers a change listener on the engine's bus and returns its
// disposer.
func (e *Engine) Subscribe(fn func(Event)) func() {
	return e.bus.Subscribe(fn)
}

// Observe forwards an externally observed change (another process writing
// through the shared blob store) into the subscriber pipeline, invalidating
// the local cache entry first.
func (e *Engine) Observe(event Event) {
	e.mu.Lock()
	delete(e.cache, event.Section)
	e.mu.Unlock()
	e.bus.Publish(event)
}

func (e *Engine) loadOverrides(ctx context.Context) map[string]Fields {
	data, err := e.store.Load(ctx, KeyOverrides)
	if err != nil {
		if err != ErrNotFound {
			log.Printf("content: load override store: %v", err)
		}
		return map[string]Fields{}
	}
	var overrides map[string]Fields
	if err := json.Unmarshal(data, &overrides); err != nil {
		// Corrupted store: discard the raw value so subsequent reads do not
		// repeatedly hit the same failure, then proceed with defaults.
		log.Printf("content: corrupted override store, clearing: %v", err)
		if clearErr := e.store.Delete(ctx, KeyOverrides); clearErr != nil {
			log.Printf("content: clear corrupted store: %v", clearErr)
		}
		return map[string]Fields{}
	}
	if overrides == nil {
		return map[string]Fields{}
	}
	return overrides
}
