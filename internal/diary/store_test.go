package diary

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	db, err := gorm.Open(sqlite.Open(filepath.Join(dir, "entries.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.AutoMigrate(&EntryRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := NewStore(StoreConfig{Database: db, AudioDir: dir})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}

func storedEntry(title string) Entry {
	return Entry{
		ID:                  uuid.New(),
		Title:               title,
		RecordedAt:          time.Date(2025, 8, 23, 10, 15, 30, 0, time.UTC),
		Duration:            Duration(2 * time.Second),
		TranscriptionStatus: TranscriptionNone,
	}
}

func TestStoreAddAndGetAll(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := storedEntry("first")
	second := storedEntry("second")
	for _, entry := range []Entry{first, second} {
		if err := store.Add(ctx, entry, []byte("wav-bytes")); err != nil {
			t.Fatalf("failed to add entry: %v", err)
		}
	}

	entries, err := store.GetAll(ctx)
	if err != nil {
		t.Fatalf("failed to list entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ID.String() > entries[1].ID.String() {
		t.Fatal("expected entries in primary-key order")
	}
}

func TestStoreGetAllIsDeterministic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := store.Add(ctx, storedEntry("entry"), []byte("a")); err != nil {
			t.Fatalf("failed to add entry: %v", err)
		}
	}

	first, err := store.GetAll(ctx)
	if err != nil {
		t.Fatalf("failed to list entries: %v", err)
	}
	second, err := store.GetAll(ctx)
	if err != nil {
		t.Fatalf("failed to list entries again: %v", err)
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("order changed between listings at index %d", i)
		}
	}
}

func TestStoreDuplicateAddFailsAndRemovesBlob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	entry := storedEntry("original")

	if err := store.Add(ctx, entry, []byte("first")); err != nil {
		t.Fatalf("failed to add entry: %v", err)
	}
	if err := store.Add(ctx, entry, []byte("second")); err == nil {
		t.Fatal("expected duplicate insert to fail")
	}

	entries, err := store.GetAll(ctx)
	if err != nil {
		t.Fatalf("failed to list entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after failed duplicate, got %d", len(entries))
	}

	// The failed duplicate must not clobber the original audio.
	audio, err := store.GetAudio(ctx, entry.ID)
	if err != nil {
		t.Fatalf("failed to read audio: %v", err)
	}
	if string(audio) != "first" {
		t.Fatalf("original audio clobbered: %q", audio)
	}
}

func TestStoreUpdateTranscription(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	entry := storedEntry("to transcribe")
	if err := store.Add(ctx, entry, []byte("wav")); err != nil {
		t.Fatalf("failed to add entry: %v", err)
	}

	text := "the words"
	updatedAt := time.Date(2025, 8, 23, 12, 0, 0, 0, time.UTC)
	update := TranscriptionUpdate{Text: &text, Status: TranscriptionDone, UpdatedAt: &updatedAt}
	if err := store.UpdateTranscription(ctx, entry.ID, update); err != nil {
		t.Fatalf("failed to update transcription: %v", err)
	}

	entries, err := store.GetAll(ctx)
	if err != nil {
		t.Fatalf("failed to list entries: %v", err)
	}
	got := entries[0]
	if got.TranscriptionStatus != TranscriptionDone {
		t.Fatalf("expected DONE, got %s", got.TranscriptionStatus)
	}
	if got.TranscriptionText == nil || *got.TranscriptionText != text {
		t.Fatalf("unexpected transcription text %v", got.TranscriptionText)
	}
	if got.TranscriptionUpdatedAt == nil || !got.TranscriptionUpdatedAt.Equal(updatedAt) {
		t.Fatalf("unexpected transcription updatedAt %v", got.TranscriptionUpdatedAt)
	}
	if got.Title != entry.Title || !got.RecordedAt.Equal(entry.RecordedAt) {
		t.Fatal("update touched immutable fields")
	}
}

func TestStoreDeleteRemovesRowAndAudio(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	entry := storedEntry("to delete")
	if err := store.Add(ctx, entry, []byte("wav")); err != nil {
		t.Fatalf("failed to add entry: %v", err)
	}
	audioPath := filepath.Join(store.audioDir, entry.ID.String()+".wav")
	if _, err := os.Stat(audioPath); err != nil {
		t.Fatalf("expected audio file to exist: %v", err)
	}

	if err := store.Delete(ctx, entry.ID); err != nil {
		t.Fatalf("failed to delete entry: %v", err)
	}

	entries, err := store.GetAll(ctx)
	if err != nil {
		t.Fatalf("failed to list entries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty store, got %d entries", len(entries))
	}
	if _, err := os.Stat(audioPath); !os.IsNotExist(err) {
		t.Fatalf("expected audio file removed, stat err: %v", err)
	}
}

func TestStoreGetAudio(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	entry := storedEntry("with audio")
	audio := []byte("RIFF....WAVE")
	if err := store.Add(ctx, entry, audio); err != nil {
		t.Fatalf("failed to add entry: %v", err)
	}

	got, err := store.GetAudio(ctx, entry.ID)
	if err != nil {
		t.Fatalf("failed to read audio: %v", err)
	}
	if string(got) != string(audio) {
		t.Fatalf("audio bytes changed: %q", got)
	}

	if _, err := store.GetAudio(ctx, uuid.New()); !errors.Is(err, ErrAudioNotFound) {
		t.Fatalf("expected ErrAudioNotFound, got %v", err)
	}
}
