package diary

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TranscriptionStatus enumerates the lifecycle of an entry's transcription.
type TranscriptionStatus string

const (
	// TranscriptionNone marks an entry that was never transcribed.
	TranscriptionNone TranscriptionStatus = "NONE"
	// TranscriptionInProgress marks an entry whose transcription is running.
	TranscriptionInProgress TranscriptionStatus = "IN_PROGRESS"
	// TranscriptionDone marks an entry with a finished transcription.
	TranscriptionDone TranscriptionStatus = "DONE"
	// TranscriptionFailed marks an entry whose transcription failed.
	TranscriptionFailed TranscriptionStatus = "FAILED"
)

// ErrInvalidStatus indicates a transcription status outside the known set.
var ErrInvalidStatus = errors.New("diary: invalid transcription status")

// Valid reports whether the status is one of the known values.
func (s TranscriptionStatus) Valid() bool {
	switch s {
	case TranscriptionNone, TranscriptionInProgress, TranscriptionDone, TranscriptionFailed:
		return true
	}
	return false
}

// UnmarshalJSON rejects unknown status values at the wire boundary.
func (s *TranscriptionStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed := TranscriptionStatus(raw)
	if !parsed.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	*s = parsed
	return nil
}

// Duration is a non-negative time span carried on the wire as integer
// milliseconds.
type Duration time.Duration

// MarshalJSON encodes the duration as whole milliseconds.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).Milliseconds())
}

// UnmarshalJSON decodes whole milliseconds into a duration.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var millis int64
	if err := json.Unmarshal(data, &millis); err != nil {
		return err
	}
	*d = Duration(time.Duration(millis) * time.Millisecond)
	return nil
}

// Millis exposes the raw millisecond value.
func (d Duration) Millis() int64 {
	return time.Duration(d).Milliseconds()
}

// Entry is the unit of synchronization. The id is assigned by the creator and
// immutable; only the transcription fields ever change after creation.
type Entry struct {
	ID                     uuid.UUID           `json:"id"`
	Title                  string              `json:"title"`
	RecordedAt             time.Time           `json:"recordedAt"`
	Duration               Duration            `json:"duration"`
	TranscriptionText      *string             `json:"transcriptionText,omitempty"`
	TranscriptionStatus    TranscriptionStatus `json:"transcriptionStatus"`
	TranscriptionUpdatedAt *time.Time          `json:"transcriptionUpdatedAt,omitempty"`
}

// ErrInvalidEntry indicates entry metadata that cannot enter the store.
var ErrInvalidEntry = errors.New("diary: invalid entry")

// ParseEntryMetadata decodes the JSON metadata part of a create request and
// applies the well-formedness checks the protocol requires: a non-nil id and
// a non-negative duration. A missing status defaults to NONE.
func ParseEntryMetadata(data []byte) (Entry, error) {
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if entry.ID == uuid.Nil {
		return Entry{}, fmt.Errorf("%w: missing id", ErrInvalidEntry)
	}
	if entry.Duration < 0 {
		return Entry{}, fmt.Errorf("%w: negative duration", ErrInvalidEntry)
	}
	if entry.TranscriptionStatus == "" {
		entry.TranscriptionStatus = TranscriptionNone
	}
	return entry, nil
}

// TranscriptionUpdate carries the mutable transcription fields of an entry,
// used both as the PUT request body and inside the corresponding event.
type TranscriptionUpdate struct {
	Text      *string             `json:"transcriptionText"`
	Status    TranscriptionStatus `json:"transcriptionStatus"`
	UpdatedAt *time.Time          `json:"transcriptionUpdatedAt,omitempty"`
}

// EntryRecord is the persisted row backing an Entry. Timestamps are stored as
// epoch milliseconds to keep the schema portable.
type EntryRecord struct {
	ID                           string  `gorm:"column:id;primaryKey;size:36;not null"`
	Title                        string  `gorm:"column:title;type:text;not null"`
	RecordedAtMillis             int64   `gorm:"column:recorded_at;not null"`
	DurationMillis               int64   `gorm:"column:duration_ms;not null"`
	TranscriptionText            *string `gorm:"column:transcription_text;type:text"`
	TranscriptionStatus          string  `gorm:"column:transcription_status;size:20;not null"`
	TranscriptionUpdatedAtMillis *int64  `gorm:"column:transcription_updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (EntryRecord) TableName() string {
	return "entries"
}

func recordFromEntry(entry Entry) EntryRecord {
	record := EntryRecord{
		ID:                  entry.ID.String(),
		Title:               entry.Title,
		RecordedAtMillis:    entry.RecordedAt.UnixMilli(),
		DurationMillis:      entry.Duration.Millis(),
		TranscriptionText:   entry.TranscriptionText,
		TranscriptionStatus: string(entry.TranscriptionStatus),
	}
	if entry.TranscriptionUpdatedAt != nil {
		millis := entry.TranscriptionUpdatedAt.UnixMilli()
		record.TranscriptionUpdatedAtMillis = &millis
	}
	return record
}

func entryFromRecord(record EntryRecord) (Entry, error) {
	id, err := uuid.Parse(record.ID)
	if err != nil {
		return Entry{}, fmt.Errorf("diary: corrupt entry id %q: %w", record.ID, err)
	}
	entry := Entry{
		ID:                  id,
		Title:               record.Title,
		RecordedAt:          time.UnixMilli(record.RecordedAtMillis).UTC(),
		Duration:            Duration(time.Duration(record.DurationMillis) * time.Millisecond),
		TranscriptionText:   record.TranscriptionText,
		TranscriptionStatus: TranscriptionStatus(record.TranscriptionStatus),
	}
	if record.TranscriptionUpdatedAtMillis != nil {
		updatedAt := time.UnixMilli(*record.TranscriptionUpdatedAtMillis).UTC()
		entry.TranscriptionUpdatedAt = &updatedAt
	}
	return entry, nil
}
