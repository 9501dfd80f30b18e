package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/voicediary/voicediary/internal/diary"
	"go.uber.org/zap"
)

// State names the phases of the subscriber's connection state machine.
type State int32

const (
	// StateDisconnected means no stream is open and a reconnect is pending.
	StateDisconnected State = iota
	// StateConnecting means a connection attempt is in flight.
	StateConnecting
	// StateStreaming means events are being received and applied.
	StateStreaming
	// StateStopped is terminal: Stop was called.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	defaultBackoffFloor   = time.Second
	defaultBackoffCeiling = 60 * time.Second
)

// SubscriberConfig carries the dependencies of a Subscriber.
type SubscriberConfig struct {
	BaseURL string
	// HTTPClient must not impose an overall request timeout; the stream is
	// held open indefinitely. Nil uses a fresh client without one.
	HTTPClient *http.Client
	Logger     *zap.Logger
	// BackoffFloor and BackoffCeiling bound the reconnect delay. Zero values
	// use 1s and 60s.
	BackoffFloor   time.Duration
	BackoffCeiling time.Duration
	// Wait blocks for the given duration or until the context is cancelled.
	// Nil uses a timer-based wait; tests substitute their own.
	Wait func(context.Context, time.Duration) error
}

// Subscriber mirrors the server's entry list by folding the event stream into
// a local view. It reconnects with exponential backoff on any stream failure
// and never exposes a torn state: observers always read either the previous
// or the fully folded next list.
type Subscriber struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	floor      time.Duration
	ceiling    time.Duration
	wait       func(context.Context, time.Duration) error

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	mu          sync.RWMutex
	entries     []diary.Entry
	connErr     error
	state       State
	watchers    map[int64]chan struct{}
	nextWatcher int64
}

// NewSubscriber starts the reconnect loop immediately. The caller must Stop
// the subscriber before discarding it.
func NewSubscriber(cfg SubscriberConfig) (*Subscriber, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	floor := cfg.BackoffFloor
	if floor <= 0 {
		floor = defaultBackoffFloor
	}
	ceiling := cfg.BackoffCeiling
	if ceiling <= 0 {
		ceiling = defaultBackoffCeiling
	}
	wait := cfg.Wait
	if wait == nil {
		wait = waitTimer
	}

	ctx, cancel := context.WithCancel(context.Background())
	subscriber := &Subscriber{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
		floor:      floor,
		ceiling:    ceiling,
		wait:       wait,
		cancel:     cancel,
		done:       make(chan struct{}),
		watchers:   make(map[int64]chan struct{}),
	}
	go subscriber.run(ctx)
	return subscriber, nil
}

// Entries returns the current folded list.
func (s *Subscriber) Entries() []diary.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]diary.Entry, len(s.entries))
	copy(entries, s.entries)
	return entries
}

// Entry is the per-id projection of the list. A missing entry is reported as
// absent, never as an error.
func (s *Subscriber) Entry(id uuid.UUID) (diary.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, entry := range s.entries {
		if entry.ID == id {
			return entry, true
		}
	}
	return diary.Entry{}, false
}

// ConnectionError reports the failure that ended the last stream, or nil
// while streaming. The entry list keeps its last-known contents regardless.
func (s *Subscriber) ConnectionError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connErr
}

// State reports the current connection state.
func (s *Subscriber) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Watch registers a change notification channel. The channel coalesces: a
// pending notification covers any number of changes since the last receive.
// The returned cancel function releases the registration.
func (s *Subscriber) Watch() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextWatcher++
	id := s.nextWatcher
	ch := make(chan struct{}, 1)
	s.watchers[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, id)
	}
}

// Stop cancels any in-flight connection attempt or backoff wait and blocks
// until the loop has exited. Safe to call multiple times.
func (s *Subscriber) Stop() {
	s.stopOnce.Do(s.cancel)
	<-s.done
}

func (s *Subscriber) run(ctx context.Context) {
	defer close(s.done)
	delay := s.floor
	for {
		s.transition(StateConnecting, nil)
		streamed, err := s.streamOnce(ctx)
		if ctx.Err() != nil {
			s.transition(StateStopped, nil)
			return
		}
		if streamed {
			delay = s.floor
		}
		if err != nil {
			s.logger.Warn("entry stream failed", zap.Error(err))
		} else {
			s.logger.Info("entry stream closed")
		}
		s.transition(StateDisconnected, err)

		if waitErr := s.wait(ctx, delay); waitErr != nil {
			s.transition(StateStopped, nil)
			return
		}
		delay *= 2
		if delay > s.ceiling {
			delay = s.ceiling
		}
	}
}

// streamOnce opens the stream and folds events until it ends. The first
// return value reports whether Streaming was entered; the error is nil on a
// clean close.
func (s *Subscriber) streamOnce(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/entries", http.NoBody)
	if err != nil {
		return false, fmt.Errorf("client: build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, &TransportError{Op: "open entry stream", Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := classifyResponse(resp); err != nil {
		return false, err
	}

	s.transition(StateStreaming, nil)

	err = readEventStream(resp.Body, func(data string) error {
		event, decodeErr := diary.DecodeEvent([]byte(data))
		if decodeErr != nil {
			return decodeErr
		}
		s.apply(event)
		return nil
	})
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	return true, &TransportError{Op: "read entry stream", Err: err}
}

func (s *Subscriber) apply(event diary.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = fold(s.entries, event)
	s.notifyLocked()
}

func (s *Subscriber) transition(state State, connErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return
	}
	s.state = state
	switch state {
	case StateStreaming:
		s.connErr = nil
	case StateDisconnected:
		s.connErr = connErr
	}
	s.notifyLocked()
}

func (s *Subscriber) notifyLocked() {
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func waitTimer(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
