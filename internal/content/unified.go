package content

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SectionRecord is the versioned form of a stored section.
type SectionRecord struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"type"`
	Fields       Fields    `json:"data"`
	LastModified time.Time `json:"lastModified"`
	Version      int64     `json:"version"`
}

// UnifiedStore is the versioned variant of the override store. Every save
// across all sections bumps one process-wide monotonic counter, persisted
// beside the section map, so staleness can be detected and conflicts
// resolved later.
type UnifiedStore struct {
	store BlobStore
	bus   *Bus
	now   func() time.Time

	// Serializes the read-merge-write cycle; the blob store itself only
	// guarantees atomicity of a single write.
	mu sync.Mutex
}

func NewUnifiedStore(store BlobStore, bus *Bus, now func() time.Time) *UnifiedStore {
	if bus == nil {
		bus = NewBus(0, 0)
	}
	if now == nil {
		now = time.Now
	}
	return &UnifiedStore{store: store, bus: bus, now: now}
}

func (u *UnifiedStore) Bus() *Bus {
	return u.bus
}

// SaveSection stamps the record with the next global version and the current
// time, then persists the whole section map.
func (u *UnifiedStore) SaveSection(ctx context.Context, id, kind string, fields Fields) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	sections := u.loadSections(ctx)
	version, err := u.bumpVersion(ctx)
	if err != nil {
		return err
	}

	normalized := NormalizeKind(kind)
	sections[id] = SectionRecord{
		ID:           id,
		Kind:         normalized,
		Fields:       FilterFields(normalized, fields),
		LastModified: u.now(),
		Version:      version,
	}

	if err := u.persistSections(ctx, sections); err != nil {
		return err
	}

	payload, _ := json.Marshal(sections[id].Fields)
	u.bus.Announce(Event{
		Store:   KeyUnified,
		Section: id,
		Kind:    EventUpdated,
		Payload: payload,
	})
	return nil
}

// GetSection merges defaults with the stored record, stored fields winning.
// Like Engine.Resolve it never fails.
func (u *UnifiedStore) GetSection(ctx context.Context, id string, defaults Fields) Fields {
	u.mu.Lock()
	sections := u.loadSections(ctx)
	u.mu.Unlock()

	record, ok := sections[id]
	if !ok {
		return defaults.Clone()
	}
	resolved := Merge(defaults, record.Fields)
	if len(resolved) == 0 {
		return defaults.Clone()
	}
	return resolved
}

// Record returns the full versioned record for a section, if present.
func (u *UnifiedStore) Record(ctx context.Context, id string) (SectionRecord, bool) {
	u.mu.Lock()
	sections := u.loadSections(ctx)
	u.mu.Unlock()
	record, ok := sections[id]
	return record, ok
}

// Sections returns every stored record keyed by section id.
func (u *UnifiedStore) Sections(ctx context.Context) map[string]SectionRecord {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.loadSections(ctx)
}

// DeleteSection removes the section entirely and broadcasts a deletion event
// distinct from updates, so subscribers fall back to defaults instead of
// merging against stale data. Deletions are not debounced.
func (u *UnifiedStore) DeleteSection(ctx context.Context, id string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	sections := u.loadSections(ctx)
	if _, ok := sections[id]; !ok {
		return nil
	}
	delete(sections, id)
	if err := u.persistSections(ctx, sections); err != nil {
		return err
	}
	u.bus.Publish(Event{Store: KeyUnified, Section: id, Kind: EventDeleted})
	return nil
}

// Version reads the current global counter. Zero means no save has happened.
func (u *UnifiedStore) Version(ctx context.Context) int64 {
	data, err := u.store.Load(ctx, KeyUnifiedVersion)
	if err != nil {
		return 0
	}
	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0
	}
	return version
}

// MigrateLegacy copies sections from the flat override map and from
// per-section prefixed keys into the versioned store. Additive only: a
// section already present in the versioned store is never overwritten.
// Returns the number of sections imported.
func (u *UnifiedStore) MigrateLegacy(ctx context.Context) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	sections := u.loadSections(ctx)
	imported := 0

	importFields := func(id string, fields Fields) error {
		if _, exists := sections[id]; exists || len(fields) == 0 {
			return nil
		}
		version, err := u.bumpVersion(ctx)
		if err != nil {
			return err
		}
		sections[id] = SectionRecord{
			ID:           id,
			Kind:         NormalizeKind(id),
			Fields:       fields.Clone(),
			LastModified: u.now(),
			Version:      version,
		}
		imported++
		return nil
	}

	// Legacy format 1: the flat override map.
	if data, err := u.store.Load(ctx, KeyOverrides); err == nil {
		var flat map[string]Fields
		if err := json.Unmarshal(data, &flat); err != nil {
			log.Printf("content: skipping corrupted legacy override map: %v", err)
		} else {
			for id, fields := range flat {
				if err := importFields(id, fields); err != nil {
					return imported, err
				}
			}
		}
	}

	// Legacy format 2: individually prefixed per-section keys.
	keys, err := u.store.Keys(ctx, legacyPrefix)
	if err != nil {
		return imported, fmt.Errorf("scan legacy keys: %w", err)
	}
	for _, key := range keys {
		id := strings.TrimPrefix(key, legacyPrefix)
		data, err := u.store.Load(ctx, key)
		if err != nil {
			continue
		}
		var fields Fields
		if err := json.Unmarshal(data, &fields); err != nil {
			log.Printf("content: skipping corrupted legacy section %s: %v", id, err)
			continue
		}
		if err := importFields(id, fields); err != nil {
			return imported, err
		}
	}

	if imported > 0 {
		if err := u.persistSections(ctx, sections); err != nil {
			return imported, err
		}
	}
	return imported, nil
}

func (u *UnifiedStore) loadSections(ctx context.Context) map[string]SectionRecord {
	data, err := u.store.Load(ctx, KeyUnified)
	if err != nil {
		if err != ErrNotFound {
			log.Printf("content: load unified store: %v", err)
		}
		return map[string]SectionRecord{}
	}
	var sections map[string]SectionRecord
	if err := json.Unmarshal(data, &sections); err != nil {
		log.Printf("content: corrupted unified store, clearing: %v", err)
		if clearErr := u.store.Delete(ctx, KeyUnified); clearErr != nil {
			log.Printf("content: clear corrupted unified store: %v", clearErr)
		}
		return map[string]SectionRecord{}
	}
	if sections == nil {
		return map[string]SectionRecord{}
	}
	return sections
}

func (u *UnifiedStore) persistSections(ctx context.Context, sections map[string]SectionRecord) error {
	data, err := json.Marshal(sections)
	if err != nil {
		return fmt.Errorf("encode unified store: %w", err)
	}
	if err := u.store.Store(ctx, KeyUnified, data); err != nil {
		return fmt.Errorf("persist unified store: %w", err)
	}
	return nil
}

// bumpVersion increments and persists the global counter. The counter never
// decreases; a failed persist aborts the save before content is written.
func (u *UnifiedStore) bumpVersion(ctx context.Context) (int64, error) {
	next := u.Version(ctx) + 1
	if err := u.store.Store(ctx, KeyUnifiedVersion, []byte(strconv.FormatInt(next, 10))); err != nil {
		return 0, fmt.Errorf("persist version counter: %w", err)
	}
	return next, nil
}
