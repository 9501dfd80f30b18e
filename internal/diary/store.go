package diary

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("diary: database handle is required")
	errMissingAudioDir = errors.New("diary: audio directory is required")

	// ErrAudioNotFound indicates that no audio blob exists for an entry id.
	ErrAudioNotFound = errors.New("diary: audio not found")
)

// StoreConfig carries the dependencies of a Store.
type StoreConfig struct {
	Database *gorm.DB
	AudioDir string
	Logger   *zap.Logger
}

// Store persists entry metadata in SQLite and audio blobs as files named by
// entry id under a single directory.
type Store struct {
	db       *gorm.DB
	audioDir string
	logger   *zap.Logger
}

// NewStore validates the configuration and ensures the audio directory
// exists.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.AudioDir == "" {
		return nil, errMissingAudioDir
	}
	if err := os.MkdirAll(cfg.AudioDir, 0o755); err != nil {
		return nil, fmt.Errorf("diary: create audio directory: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: cfg.Database, audioDir: cfg.AudioDir, logger: logger}, nil
}

// Add writes the audio blob and inserts the metadata row. The blob is staged
// before the insert and promoted to its final name only once the row is
// committed, so a failed create (a duplicate id in particular) neither leaves
// an orphan nor clobbers an existing entry's audio.
func (s *Store) Add(ctx context.Context, entry Entry, audio []byte) error {
	audioPath := s.audioPath(entry.ID)
	stagedPath := audioPath + ".staged"
	if err := os.WriteFile(stagedPath, audio, 0o644); err != nil {
		return fmt.Errorf("diary: write audio %s: %w", entry.ID, err)
	}

	record := recordFromEntry(entry)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&record).Error
	})
	if err != nil {
		if removeErr := os.Remove(stagedPath); removeErr != nil && !os.IsNotExist(removeErr) {
			s.logger.Warn("failed to remove staged audio file",
				zap.String("entry_id", entry.ID.String()), zap.Error(removeErr))
		}
		return fmt.Errorf("diary: insert entry %s: %w", entry.ID, err)
	}
	if err := os.Rename(stagedPath, audioPath); err != nil {
		return fmt.Errorf("diary: promote audio %s: %w", entry.ID, err)
	}
	return nil
}

// UpdateTranscription replaces the transcription columns of an entry row.
func (s *Store) UpdateTranscription(ctx context.Context, id uuid.UUID, update TranscriptionUpdate) error {
	var updatedAtMillis *int64
	if update.UpdatedAt != nil {
		millis := update.UpdatedAt.UnixMilli()
		updatedAtMillis = &millis
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Model(&EntryRecord{}).
			Where("id = ?", id.String()).
			Updates(map[string]any{
				"transcription_text":       update.Text,
				"transcription_status":     string(update.Status),
				"transcription_updated_at": updatedAtMillis,
			}).Error
	})
	if err != nil {
		return fmt.Errorf("diary: update transcription %s: %w", id, err)
	}
	return nil
}

// Delete removes the metadata row and the audio blob. A missing blob is not
// an error.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Where("id = ?", id.String()).Delete(&EntryRecord{}).Error
	})
	if err != nil {
		return fmt.Errorf("diary: delete entry %s: %w", id, err)
	}
	if err := os.Remove(s.audioPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("diary: delete audio %s: %w", id, err)
	}
	return nil
}

// GetAudio reads the audio blob for an entry. Returns ErrAudioNotFound when
// no blob exists.
func (s *Store) GetAudio(ctx context.Context, id uuid.UUID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	audio, err := os.ReadFile(s.audioPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrAudioNotFound, id)
		}
		return nil, fmt.Errorf("diary: read audio %s: %w", id, err)
	}
	return audio, nil
}

// GetAll returns every persisted entry in primary-key order so repeated
// snapshots over an unchanged store are reproducible.
func (s *Store) GetAll(ctx context.Context) ([]Entry, error) {
	var records []EntryRecord
	if err := s.db.WithContext(ctx).Order("id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("diary: list entries: %w", err)
	}
	entries := make([]Entry, 0, len(records))
	for _, record := range records {
		entry, err := entryFromRecord(record)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *Store) audioPath(id uuid.UUID) string {
	return filepath.Join(s.audioDir, id.String()+".wav")
}
