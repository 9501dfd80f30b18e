package diary

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event type tags as they appear on the wire.
const (
	EventTypeSnapshot             = "snapshot"
	EventTypeEntryCreated         = "entryCreated"
	EventTypeEntryDeleted         = "entryDeleted"
	EventTypeTranscriptionUpdated = "transcriptionUpdated"
)

// ErrUnknownEventType indicates a wire event whose type tag is not part of
// the protocol.
var ErrUnknownEventType = errors.New("diary: unknown event type")

// Event is the tagged union delivered over the entry stream. Exactly one of
// the concrete types below implements it.
type Event interface {
	EventType() string
}

// Snapshot replaces the subscriber's state wholesale. It is always the first
// event a subscriber receives.
type Snapshot struct {
	Entries []Entry
}

// EventType returns the wire tag for snapshots.
func (Snapshot) EventType() string { return EventTypeSnapshot }

// EntryCreated announces a newly created entry.
type EntryCreated struct {
	Entry Entry
}

// EventType returns the wire tag for creations.
func (EntryCreated) EventType() string { return EventTypeEntryCreated }

// EntryDeleted announces the removal of an entry.
type EntryDeleted struct {
	ID uuid.UUID
}

// EventType returns the wire tag for deletions.
func (EntryDeleted) EventType() string { return EventTypeEntryDeleted }

// TranscriptionUpdated announces a partial update: only the transcription
// fields of the identified entry change.
type TranscriptionUpdated struct {
	ID        uuid.UUID
	Text      *string
	Status    TranscriptionStatus
	UpdatedAt *time.Time
}

// EventType returns the wire tag for transcription updates.
func (TranscriptionUpdated) EventType() string { return EventTypeTranscriptionUpdated }

type snapshotWire struct {
	Type    string  `json:"type"`
	Entries []Entry `json:"entries"`
}

type entryCreatedWire struct {
	Type  string `json:"type"`
	Entry Entry  `json:"entry"`
}

type entryDeletedWire struct {
	Type string    `json:"type"`
	ID   uuid.UUID `json:"id"`
}

type transcriptionUpdatedWire struct {
	Type      string              `json:"type"`
	ID        uuid.UUID           `json:"id"`
	Text      *string             `json:"transcriptionText"`
	Status    TranscriptionStatus `json:"transcriptionStatus"`
	UpdatedAt *time.Time          `json:"transcriptionUpdatedAt,omitempty"`
}

// EncodeEvent serializes an event as a discriminated JSON object with a
// "type" tag.
func EncodeEvent(event Event) ([]byte, error) {
	switch ev := event.(type) {
	case Snapshot:
		entries := ev.Entries
		if entries == nil {
			entries = []Entry{}
		}
		return json.Marshal(snapshotWire{Type: EventTypeSnapshot, Entries: entries})
	case EntryCreated:
		return json.Marshal(entryCreatedWire{Type: EventTypeEntryCreated, Entry: ev.Entry})
	case EntryDeleted:
		return json.Marshal(entryDeletedWire{Type: EventTypeEntryDeleted, ID: ev.ID})
	case TranscriptionUpdated:
		return json.Marshal(transcriptionUpdatedWire{
			Type:      EventTypeTranscriptionUpdated,
			ID:        ev.ID,
			Text:      ev.Text,
			Status:    ev.Status,
			UpdatedAt: ev.UpdatedAt,
		})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEventType, event)
	}
}

// DecodeEvent parses a discriminated JSON object back into its variant.
func DecodeEvent(data []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("diary: malformed event: %w", err)
	}
	switch head.Type {
	case EventTypeSnapshot:
		var wire snapshotWire
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, fmt.Errorf("diary: malformed snapshot event: %w", err)
		}
		entries := wire.Entries
		if entries == nil {
			entries = []Entry{}
		}
		return Snapshot{Entries: entries}, nil
	case EventTypeEntryCreated:
		var wire entryCreatedWire
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, fmt.Errorf("diary: malformed entryCreated event: %w", err)
		}
		return EntryCreated{Entry: wire.Entry}, nil
	case EventTypeEntryDeleted:
		var wire entryDeletedWire
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, fmt.Errorf("diary: malformed entryDeleted event: %w", err)
		}
		return EntryDeleted{ID: wire.ID}, nil
	case EventTypeTranscriptionUpdated:
		var wire transcriptionUpdatedWire
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, fmt.Errorf("diary: malformed transcriptionUpdated event: %w", err)
		}
		return TranscriptionUpdated{
			ID:        wire.ID,
			Text:      wire.Text,
			Status:    wire.Status,
			UpdatedAt: wire.UpdatedAt,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, head.Type)
	}
}
