package settings

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestInMemoryStore_BasicCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	entry := &Entry{
		Key:       "taak_aantal_1_met_specifiek_taaktype_en_signalen_anoniem",
		Name:      "Havenbedrijf",
		Variables: json.RawMessage(`{"taakapplicatie_taaktype_url": "https://taken/1/"}`),
	}

	if err := store.Put(ctx, entry); err != nil {
		t.Fatalf("Failed to put entry: %v", err)
	}
	if entry.CreatedAt.IsZero() || entry.UpdatedAt.IsZero() {
		t.Error("Expected timestamps to be set")
	}

	got, err := store.Get(ctx, entry.Key)
	if err != nil {
		t.Fatalf("Failed to get entry: %v", err)
	}
	if got.Name != "Havenbedrijf" {
		t.Errorf("Expected name Havenbedrijf, got %s", got.Name)
	}

	created := got.CreatedAt
	time.Sleep(time.Millisecond)
	updated := &Entry{Key: entry.Key, Variables: json.RawMessage(`[]`)}
	if err := store.Put(ctx, updated); err != nil {
		t.Fatalf("Failed to replace entry: %v", err)
	}
	if !updated.CreatedAt.Equal(created) {
		t.Error("Expected CreatedAt to be preserved on replace")
	}
	if !updated.UpdatedAt.After(created) {
		t.Error("Expected UpdatedAt to move forward on replace")
	}

	if err := store.Delete(ctx, entry.Key); err != nil {
		t.Fatalf("Failed to delete entry: %v", err)
	}
	if _, err := store.Get(ctx, entry.Key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, entry.Key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestInMemoryStore_PutValidation(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	if err := store.Put(ctx, &Entry{Variables: json.RawMessage(`{}`)}); err == nil {
		t.Error("Expected error for missing key")
	}
	if err := store.Put(ctx, &Entry{Key: "x", Variables: json.RawMessage(`{broken`)}); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestInMemoryStore_ListOrderedByKey(t *testing.T) {
	store := NewInMemoryStore(
		Entry{Key: "c", Variables: json.RawMessage(`{}`)},
		Entry{Key: "a", Variables: json.RawMessage(`{}`)},
		Entry{Key: "b", Variables: json.RawMessage(`{}`)},
	)

	entries, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	for i, want := range []string{"a", "b", "c"} {
		if entries[i].Key != want {
			t.Errorf("entries[%d].Key = %s, want %s", i, entries[i].Key, want)
		}
	}
}

func TestInMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(Entry{Key: "a", Name: "origineel", Variables: json.RawMessage(`{}`)})

	got, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	got.Name = "gewijzigd"

	again, _ := store.Get(ctx, "a")
	if again.Name != "origineel" {
		t.Errorf("Expected stored entry to be unaffected, got %s", again.Name)
	}
}

func TestInMemoryStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = store.Put(ctx, &Entry{Key: string(rune('a' + i)), Variables: json.RawMessage(`{}`)})
		}(i)
		go func() {
			defer wg.Done()
			_, _ = store.List(ctx)
		}()
	}
	wg.Wait()

	entries, _ := store.List(ctx)
	if len(entries) != 20 {
		t.Errorf("Expected 20 entries, got %d", len(entries))
	}
}

func TestEntry_Matches(t *testing.T) {
	e := Entry{Key: "vragen", Name: "Vragen set"}

	if !e.Matches("vragen") {
		t.Error("Expected match on key")
	}
	if !e.Matches("Vragen set") {
		t.Error("Expected match on name")
	}
	if e.Matches("") {
		t.Error("Empty key must never match")
	}
	if (Entry{}).Matches("") {
		t.Error("Empty entry must not match empty key")
	}
}
