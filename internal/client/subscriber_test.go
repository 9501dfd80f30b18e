package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voicediary/voicediary/internal/diary"
)

func writeStreamEvent(t *testing.T, w http.ResponseWriter, event diary.Event) {
	t.Helper()
	payload, err := diary.EncodeEvent(event)
	if err != nil {
		t.Errorf("failed to encode event: %v", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	w.(http.Flusher).Flush()
}

func waitUntil(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func immediateWait(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func TestSubscriberResumesAcrossReconnect(t *testing.T) {
	entryA := clientEntry("first")
	entryB := clientEntry("second")

	var connections atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		switch connections.Add(1) {
		case 1:
			writeStreamEvent(t, w, diary.Snapshot{Entries: []diary.Entry{}})
			writeStreamEvent(t, w, diary.EntryCreated{Entry: entryA})
			// Handler return closes the stream cleanly.
		default:
			writeStreamEvent(t, w, diary.Snapshot{Entries: []diary.Entry{entryA}})
			writeStreamEvent(t, w, diary.EntryCreated{Entry: entryB})
			<-r.Context().Done()
		}
	}))
	defer server.Close()

	subscriber, err := NewSubscriber(SubscriberConfig{
		BaseURL: server.URL,
		Wait:    immediateWait,
	})
	if err != nil {
		t.Fatalf("failed to start subscriber: %v", err)
	}
	defer subscriber.Stop()

	waitUntil(t, 2*time.Second, func() bool {
		return len(subscriber.Entries()) == 2
	})
	entries := subscriber.Entries()
	if entries[0].ID != entryA.ID || entries[1].ID != entryB.ID {
		t.Fatalf("unexpected entries after reconnect: %+v", entries)
	}
	if got, ok := subscriber.Entry(entryB.ID); !ok || got.Title != "second" {
		t.Fatalf("expected entry %s present, got %+v ok=%v", entryB.ID, got, ok)
	}
}

func TestSubscriberBackoffDoublesAndResetsAfterStream(t *testing.T) {
	var connections atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch connections.Add(1) {
		case 1, 2, 3:
			http.Error(w, "not yet", http.StatusServiceUnavailable)
		case 4:
			w.Header().Set("Content-Type", "text/event-stream")
			writeStreamEvent(t, w, diary.Snapshot{Entries: []diary.Entry{}})
		default:
			http.Error(w, "gone again", http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	var mu sync.Mutex
	var delays []time.Duration
	subscriber, err := NewSubscriber(SubscriberConfig{
		BaseURL:        server.URL,
		BackoffFloor:   10 * time.Millisecond,
		BackoffCeiling: 40 * time.Millisecond,
		Wait: func(ctx context.Context, d time.Duration) error {
			mu.Lock()
			delays = append(delays, d)
			mu.Unlock()
			return ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("failed to start subscriber: %v", err)
	}
	defer subscriber.Stop()

	waitUntil(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delays) >= 5
	})

	mu.Lock()
	observed := append([]time.Duration(nil), delays[:5]...)
	mu.Unlock()
	expected := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		10 * time.Millisecond, // reset after the stream on connection 4
		20 * time.Millisecond,
	}
	for i, want := range expected {
		if observed[i] != want {
			t.Fatalf("delay %d: expected %v, got %v (all: %v)", i, want, observed[i], observed)
		}
	}
}

func TestSubscriberConnectionErrorLifecycle(t *testing.T) {
	var healthy atomic.Bool
	entry := clientEntry("kept")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			http.Error(w, "warming up", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		writeStreamEvent(t, w, diary.Snapshot{Entries: []diary.Entry{entry}})
		<-r.Context().Done()
	}))
	defer server.Close()

	subscriber, err := NewSubscriber(SubscriberConfig{
		BaseURL: server.URL,
		Wait:    immediateWait,
	})
	if err != nil {
		t.Fatalf("failed to start subscriber: %v", err)
	}
	defer subscriber.Stop()

	waitUntil(t, 2*time.Second, func() bool {
		var serverErr *ServerResponseError
		return errors.As(subscriber.ConnectionError(), &serverErr)
	})

	healthy.Store(true)
	waitUntil(t, 2*time.Second, func() bool {
		return subscriber.State() == StateStreaming && len(subscriber.Entries()) == 1
	})
	if subscriber.ConnectionError() != nil {
		t.Fatalf("expected connection error cleared, got %v", subscriber.ConnectionError())
	}
}

func TestSubscriberKeepsLastKnownEntriesWhileDisconnected(t *testing.T) {
	entry := clientEntry("survivor")
	var served atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if served.Swap(true) {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		writeStreamEvent(t, w, diary.Snapshot{Entries: []diary.Entry{entry}})
	}))
	defer server.Close()

	subscriber, err := NewSubscriber(SubscriberConfig{
		BaseURL: server.URL,
		Wait:    immediateWait,
	})
	if err != nil {
		t.Fatalf("failed to start subscriber: %v", err)
	}
	defer subscriber.Stop()

	waitUntil(t, 2*time.Second, func() bool {
		return len(subscriber.Entries()) == 1 && subscriber.ConnectionError() != nil
	})
	if got := subscriber.Entries()[0].ID; got != entry.ID {
		t.Fatalf("expected last-known entry %s retained, got %s", entry.ID, got)
	}
}

func TestSubscriberStopIsPromptAndIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "never streams", http.StatusInternalServerError)
	}))
	defer server.Close()

	subscriber, err := NewSubscriber(SubscriberConfig{
		BaseURL: server.URL,
		// Timer-based wait: Stop must interrupt the hour-long backoff.
		BackoffFloor: time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to start subscriber: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool {
		return subscriber.ConnectionError() != nil
	})

	finished := make(chan struct{})
	go func() {
		subscriber.Stop()
		subscriber.Stop()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return before deadline")
	}
	if subscriber.State() != StateStopped {
		t.Fatalf("expected stopped state, got %v", subscriber.State())
	}
}

func TestSubscriberWatchCoalescesNotifications(t *testing.T) {
	entry := clientEntry("watched")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeStreamEvent(t, w, diary.Snapshot{Entries: []diary.Entry{}})
		writeStreamEvent(t, w, diary.EntryCreated{Entry: entry})
		<-r.Context().Done()
	}))
	defer server.Close()

	subscriber, err := NewSubscriber(SubscriberConfig{
		BaseURL: server.URL,
		Wait:    immediateWait,
	})
	if err != nil {
		t.Fatalf("failed to start subscriber: %v", err)
	}
	defer subscriber.Stop()

	updates, cancel := subscriber.Watch()
	defer cancel()

	deadline := time.After(2 * time.Second)
	for len(subscriber.Entries()) == 0 {
		select {
		case <-updates:
		case <-deadline:
			t.Fatal("no change notification before deadline")
		}
	}
}
