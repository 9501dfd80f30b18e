package client

import (
	"github.com/google/uuid"
	"github.com/voicediary/voicediary/internal/diary"
)

// fold combines the current entry list with one event into a new list. It is
// pure: the input slice is never mutated, and elements untouched by the event
// are carried over unchanged.
func fold(list []diary.Entry, event diary.Event) []diary.Entry {
	switch ev := event.(type) {
	case diary.Snapshot:
		return dedupeByID(ev.Entries)
	case diary.EntryCreated:
		if containsID(list, ev.Entry.ID) {
			return list
		}
		next := make([]diary.Entry, len(list), len(list)+1)
		copy(next, list)
		return append(next, ev.Entry)
	case diary.EntryDeleted:
		if !containsID(list, ev.ID) {
			return list
		}
		next := make([]diary.Entry, 0, len(list)-1)
		for _, entry := range list {
			if entry.ID != ev.ID {
				next = append(next, entry)
			}
		}
		return next
	case diary.TranscriptionUpdated:
		if !containsID(list, ev.ID) {
			return list
		}
		next := make([]diary.Entry, len(list))
		copy(next, list)
		for i := range next {
			if next[i].ID == ev.ID {
				next[i].TranscriptionText = ev.Text
				next[i].TranscriptionStatus = ev.Status
				next[i].TranscriptionUpdatedAt = ev.UpdatedAt
			}
		}
		return next
	default:
		return list
	}
}

// dedupeByID drops later duplicates so a snapshot never exposes the same id
// twice, keeping the first occurrence.
func dedupeByID(entries []diary.Entry) []diary.Entry {
	seen := make(map[uuid.UUID]struct{}, len(entries))
	deduped := make([]diary.Entry, 0, len(entries))
	for _, entry := range entries {
		if _, ok := seen[entry.ID]; ok {
			continue
		}
		seen[entry.ID] = struct{}{}
		deduped = append(deduped, entry)
	}
	return deduped
}

func containsID(list []diary.Entry, id uuid.UUID) bool {
	for _, entry := range list {
		if entry.ID == id {
			return true
		}
	}
	return false
}
