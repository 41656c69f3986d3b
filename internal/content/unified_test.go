package content

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestSaveSectionBumpsGlobalVersion(t *testing.T) {
	blob := newMemBlob()
	unified := NewUnifiedStore(blob, nil, nil)
	ctx := context.Background()

	saves := []struct {
		id   string
		kind string
	}{
		{"hero", "hero"},
		{"about", "about"},
		{"hero", "hero"},
		{"pricing", "pricing"},
		{"hero", "hero"},
	}
	for i, save := range saves {
		if err := unified.SaveSection(ctx, save.id, save.kind, Fields{"title": "v"}); err != nil {
			t.Fatalf("SaveSection() %d error = %v", i, err)
		}
	}

	if got := unified.Version(ctx); got != int64(len(saves)) {
		t.Errorf("Version() = %d, want %d", got, len(saves))
	}

	record, ok := unified.Record(ctx, "hero")
	if !ok {
		t.Fatal("hero record missing")
	}
	if record.Version != 5 {
		t.Errorf("hero record version = %d, want 5", record.Version)
	}
}

func TestGetSectionMergesDefaults(t *testing.T) {
	blob := newMemBlob()
	unified := NewUnifiedStore(blob, nil, nil)
	ctx := context.Background()

	if err := unified.SaveSection(ctx, "about", "about", Fields{"bio": "Stored bio"}); err != nil {
		t.Fatalf("SaveSection() error = %v", err)
	}

	resolved := unified.GetSection(ctx, "about", Fields{"bio": "Default bio", "title": "About"})
	if resolved["bio"] != "Stored bio" {
		t.Errorf("stored field should win, got %q", resolved["bio"])
	}
	if resolved["title"] != "About" {
		t.Errorf("default field should be preserved, got %q", resolved["title"])
	}
}

func TestGetSectionUnknownReturnsDefaults(t *testing.T) {
	blob := newMemBlob()
	unified := NewUnifiedStore(blob, nil, nil)

	defaults := Fields{"title": "Default"}
	resolved := unified.GetSection(context.Background(), "missing", defaults)
	if resolved["title"] != "Default" {
		t.Errorf("expected defaults for unknown section, got %v", resolved)
	}
}

func TestSaveSectionFiltersUnknownFields(t *testing.T) {
	blob := newMemBlob()
	unified := NewUnifiedStore(blob, nil, nil)
	ctx := context.Background()

	if err := unified.SaveSection(ctx, "hero", "hero", Fields{
		"title":       "Kept",
		"madeUpField": "dropped",
	}); err != nil {
		t.Fatalf("SaveSection() error = %v", err)
	}

	record, _ := unified.Record(ctx, "hero")
	if record.Fields["title"] != "Kept" {
		t.Errorf("declared field missing: %v", record.Fields)
	}
	if _, ok := record.Fields["madeUpField"]; ok {
		t.Errorf("undeclared field survived for a known kind: %v", record.Fields)
	}

	// Custom kinds keep arbitrary fields.
	if err := unified.SaveSection(ctx, "testimonials", "custom", Fields{"anything": "kept"}); err != nil {
		t.Fatalf("SaveSection() custom error = %v", err)
	}
	record, _ = unified.Record(ctx, "testimonials")
	if record.Fields["anything"] != "kept" {
		t.Errorf("custom section dropped fields: %v", record.Fields)
	}
}

func TestDeleteSectionBroadcastsDeletion(t *testing.T) {
	blob := newMemBlob()
	bus := NewBus(10*time.Millisecond, 5*time.Millisecond)
	unified := NewUnifiedStore(blob, bus, nil)
	ctx := context.Background()

	if err := unified.SaveSection(ctx, "hero", "hero", Fields{"title": "x"}); err != nil {
		t.Fatalf("SaveSection() error = %v", err)
	}

	events := make(chan Event, 4)
	cancel := bus.Subscribe(func(event Event) { events <- event })
	defer cancel()

	if err := unified.DeleteSection(ctx, "hero"); err != nil {
		t.Fatalf("DeleteSection() error = %v", err)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case event := <-events:
			if event.Kind == EventDeleted && event.Section == "hero" {
				if _, ok := unified.Record(ctx, "hero"); ok {
					t.Error("record still present after delete")
				}
				return
			}
		case <-deadline:
			t.Fatal("no deletion event delivered")
		}
	}
}

func TestDeleteMissingSectionIsNoop(t *testing.T) {
	blob := newMemBlob()
	unified := NewUnifiedStore(blob, nil, nil)
	if err := unified.DeleteSection(context.Background(), "missing"); err != nil {
		t.Errorf("DeleteSection() on missing section error = %v", err)
	}
}

func TestMigrateLegacyIsAdditiveOnly(t *testing.T) {
	blob := newMemBlob()
	unified := NewUnifiedStore(blob, nil, nil)
	ctx := context.Background()

	// Existing versioned data must never be overwritten by migration.
	if err := unified.SaveSection(ctx, "hero", "hero", Fields{"title": "Versioned"}); err != nil {
		t.Fatalf("SaveSection() error = %v", err)
	}

	// Legacy format 1: flat override map.
	flat, _ := json.Marshal(map[string]Fields{
		"hero":  {"title": "Legacy hero"},
		"about": {"bio": "Legacy bio"},
	})
	blob.data[KeyOverrides] = flat

	// Legacy format 2: prefixed per-section keys.
	contact, _ := json.Marshal(Fields{"email": "coach@example.com"})
	blob.data[legacyPrefix+"contact"] = contact
	blob.data[legacyPrefix+"broken"] = []byte("{corrupt")

	imported, err := unified.MigrateLegacy(ctx)
	if err != nil {
		t.Fatalf("MigrateLegacy() error = %v", err)
	}
	if imported != 2 {
		t.Errorf("imported = %d, want 2 (about, contact)", imported)
	}

	record, _ := unified.Record(ctx, "hero")
	if record.Fields["title"] != "Versioned" {
		t.Errorf("migration overwrote versioned data: %v", record.Fields)
	}
	if got := unified.GetSection(ctx, "about", nil)["bio"]; got != "Legacy bio" {
		t.Errorf("about not migrated, got %q", got)
	}
	if got := unified.GetSection(ctx, "contact", nil)["email"]; got != "coach@example.com" {
		t.Errorf("contact not migrated, got %q", got)
	}

	// Re-running is a no-op.
	imported, err = unified.MigrateLegacy(ctx)
	if err != nil {
		t.Fatalf("second MigrateLegacy() error = %v", err)
	}
	if imported != 0 {
		t.Errorf("second migration imported %d sections", imported)
	}
}

func TestCorruptedUnifiedStoreRecovers(t *testing.T) {
	blob := newMemBlob()
	blob.data[KeyUnified] = []byte("not json")
	unified := NewUnifiedStore(blob, nil, nil)
	ctx := context.Background()

	resolved := unified.GetSection(ctx, "hero", Fields{"title": "Default"})
	if resolved["title"] != "Default" {
		t.Errorf("expected defaults on corruption, got %v", resolved)
	}
	if err := unified.SaveSection(ctx, "hero", "hero", Fields{"title": "Fresh"}); err != nil {
		t.Fatalf("SaveSection() after corruption error = %v", err)
	}
	if got := unified.GetSection(ctx, "hero", nil)["title"]; got != "Fresh" {
		t.Errorf("store not usable after recovery, got %q", got)
	}
}
