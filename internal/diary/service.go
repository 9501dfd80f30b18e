package diary

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	errMissingStore = errors.New("diary: store is required")
	noOpLogger      = zap.NewNop()
)

// ServiceError carries an operation-coded failure from the diary service.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the machine-readable failure code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew          = "diary.service.new"
	opCreateEntry         = "diary.create_entry"
	opDeleteEntry         = "diary.delete_entry"
	opUpdateTranscription = "diary.update_transcription"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// subscriberBufferSize bounds how far a subscriber may lag behind the live
// event stream before it is disconnected and forced to resubscribe.
const subscriberBufferSize = 64

// ServiceConfig carries the dependencies of a Service.
type ServiceConfig struct {
	Store  *Store
	Clock  func() time.Time
	Logger *zap.Logger
}

// Service is the authoritative state manager. It owns the in-memory mirror of
// the store, serializes every mutation behind one lock, and fans each emitted
// event out to all attached subscribers.
type Service struct {
	store  *Store
	clock  func() time.Time
	logger *zap.Logger

	mu          sync.Mutex
	entries     map[uuid.UUID]Entry
	subscribers map[int64]chan Event
	nextID      int64
}

// NewService loads the current store contents into memory and returns a
// ready service.
func NewService(ctx context.Context, cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	initial, err := cfg.Store.GetAll(ctx)
	if err != nil {
		return nil, newServiceError(opServiceNew, "load_failed", err)
	}
	entries := make(map[uuid.UUID]Entry, len(initial))
	for _, entry := range initial {
		entries[entry.ID] = entry
	}

	return &Service{
		store:       cfg.Store,
		clock:       clock,
		logger:      logger,
		entries:     entries,
		subscribers: make(map[int64]chan Event),
	}, nil
}

// Subscribe returns a channel that yields a snapshot of the current state
// followed by every event emitted afterwards. The snapshot is captured and
// the subscriber registered under the same lock, so no event published after
// the lock is released can be missed. The returned cancel function detaches
// the subscriber and is safe to call multiple times.
//
// A subscriber that falls more than subscriberBufferSize events behind is
// disconnected: its channel is closed and it must resubscribe for a fresh
// snapshot.
func (s *Service) Subscribe(ctx context.Context) (<-chan Event, func()) {
	stream := make(chan Event, subscriberBufferSize)

	s.mu.Lock()
	stream <- Snapshot{Entries: s.snapshotLocked()}
	s.nextID++
	id := s.nextID
	s.subscribers[id] = stream
	s.mu.Unlock()

	cancel := func() { s.unsubscribe(id) }
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return stream, cancel
}

// Create persists the entry with its audio, applies it to memory and emits
// EntryCreated. On persistence failure nothing is applied and no event is
// emitted.
func (s *Service) Create(ctx context.Context, entry Entry, audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Add(ctx, entry, audio); err != nil {
		s.logError(opCreateEntry, "persist_failed", err, entry.ID)
		return newServiceError(opCreateEntry, "persist_failed", err)
	}
	s.entries[entry.ID] = entry
	s.publishLocked(EntryCreated{Entry: entry})
	return nil
}

// Delete removes an entry. Deleting an absent id is a silent no-op: no event,
// no error.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return nil
	}
	if err := s.store.Delete(ctx, id); err != nil {
		s.logError(opDeleteEntry, "persist_failed", err, id)
		return newServiceError(opDeleteEntry, "persist_failed", err)
	}
	delete(s.entries, id)
	s.publishLocked(EntryDeleted{ID: id})
	return nil
}

// UpdateTranscription replaces the transcription fields of an entry.
// Updating an absent id is a silent no-op. A nil UpdatedAt is normalized to
// the current server time before the update is persisted and emitted.
func (s *Service) UpdateTranscription(ctx context.Context, id uuid.UUID, update TranscriptionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entries[id]
	if !ok {
		return nil
	}
	if update.UpdatedAt == nil {
		now := s.clock().UTC()
		update.UpdatedAt = &now
	}
	if err := s.store.UpdateTranscription(ctx, id, update); err != nil {
		s.logError(opUpdateTranscription, "persist_failed", err, id)
		return newServiceError(opUpdateTranscription, "persist_failed", err)
	}
	current.TranscriptionText = update.Text
	current.TranscriptionStatus = update.Status
	current.TranscriptionUpdatedAt = update.UpdatedAt
	s.entries[id] = current
	s.publishLocked(TranscriptionUpdated{
		ID:        id,
		Text:      update.Text,
		Status:    update.Status,
		UpdatedAt: update.UpdatedAt,
	})
	return nil
}

// GetAudio delegates to the store. It deliberately runs outside the service
// lock so audio reads never serialize behind mutations.
func (s *Service) GetAudio(ctx context.Context, id uuid.UUID) ([]byte, error) {
	return s.store.GetAudio(ctx, id)
}

// Entries returns a consistent copy of the current state in id order.
func (s *Service) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Service) snapshotLocked() []Entry {
	entries := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID.String() < entries[j].ID.String()
	})
	return entries
}

func (s *Service) publishLocked(event Event) {
	for id, stream := range s.subscribers {
		select {
		case stream <- event:
		default:
			// Subscriber buffer full: disconnect it rather than drop an
			// event inside a live stream.
			delete(s.subscribers, id)
			close(stream)
			s.logger.Warn("disconnected slow subscriber", zap.Int64("subscriber_id", id))
		}
	}
}

func (s *Service) unsubscribe(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, id)
}

func (s *Service) logError(operation, reason string, err error, id uuid.UUID) {
	s.logger.Error("diary service error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("entry_id", id.String()),
		zap.Error(err))
}
