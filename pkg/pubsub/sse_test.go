package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func publishStatus(t *testing.T, pub *SSEPublisher, runID, state string, step int) {
	t.Helper()
	err := pub.Publish(TopicSelectionStatus, state, SelectionStatus{RunID: runID, State: state, Step: step, Total: 4})
	if err != nil {
		t.Fatalf("Failed to publish %s/%s: %v", runID, state, err)
	}
}

// drain collects the events already queued on a subscription
func drain(sub Subscription) []Event {
	var events []Event
	for {
		select {
		case event := <-sub.Events():
			events = append(events, event)
		case <-time.After(50 * time.Millisecond):
			return events
		}
	}
}

func stepsOf(t *testing.T, events []Event) []int {
	t.Helper()
	var steps []int
	for _, event := range events {
		var status SelectionStatus
		if err := json.Unmarshal(event.Data, &status); err != nil {
			t.Fatalf("Failed to decode payload: %v", err)
		}
		steps = append(steps, status.Step)
	}
	return steps
}

func TestReplayRun_KeepsOnlyTheCurrentRun(t *testing.T) {
	pub := NewSSEPublisher()
	defer pub.Close()

	pub.ConfigureTopic(TopicSelectionStatus, TopicConfig{Replay: ReplayRun})

	publishStatus(t, pub, "run-1", StateLoading, 1)
	publishStatus(t, pub, "run-1", StateReady, 4)
	publishStatus(t, pub, "run-2", StateLoading, 1)
	publishStatus(t, pub, "run-2", StateSelecting, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := pub.Subscribe(ctx, TopicSelectionStatus)
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	events := drain(sub)
	if len(events) != 2 {
		t.Fatalf("Expected 2 replayed events, got %d", len(events))
	}
	for _, event := range events {
		if event.RunID != "run-2" {
			t.Errorf("Expected replayed event of run-2, got %q", event.RunID)
		}
	}
	if steps := stepsOf(t, events); steps[0] != 1 || steps[1] != 2 {
		t.Errorf("Expected steps [1 2], got %v", steps)
	}
	if events[0].Version != 3 || events[1].Version != 4 {
		t.Errorf("Expected versions 3 and 4, got %d and %d", events[0].Version, events[1].Version)
	}
}

func TestReplayRun_LiveEventsFollowReplay(t *testing.T) {
	pub := NewSSEPublisher()
	defer pub.Close()

	pub.ConfigureTopic(TopicSelectionStatus, TopicConfig{Replay: ReplayRun})
	publishStatus(t, pub, "run-1", StateLoading, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := pub.Subscribe(ctx, TopicSelectionStatus)
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	publishStatus(t, pub, "run-1", StateSelecting, 2)

	if steps := stepsOf(t, drain(sub)); len(steps) != 2 || steps[0] != 1 || steps[1] != 2 {
		t.Errorf("Expected steps [1 2], got %v", steps)
	}
}

func TestReplayRun_CapsLongRuns(t *testing.T) {
	pub := NewSSEPublisher()
	defer pub.Close()

	pub.ConfigureTopic(TopicSelectionStatus, TopicConfig{Replay: ReplayRun})
	for i := 1; i <= maxRunEvents+5; i++ {
		publishStatus(t, pub, "run-1", StateChecking, i)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := pub.Subscribe(ctx, TopicSelectionStatus)
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	steps := stepsOf(t, drain(sub))
	if len(steps) != maxRunEvents {
		t.Fatalf("Expected %d replayed events, got %d", maxRunEvents, len(steps))
	}
	if steps[0] != 6 {
		t.Errorf("Expected the oldest events to be dropped first, got first step %d", steps[0])
	}
}

func TestReplayLatest(t *testing.T) {
	pub := NewSSEPublisher()
	defer pub.Close()

	pub.ConfigureTopic(TopicSelectionResult, TopicConfig{Replay: ReplayLatest})
	for _, id := range []string{"run-1", "run-2"} {
		if err := pub.Publish(TopicSelectionResult, "done", SelectionSummary{RunID: id}); err != nil {
			t.Fatalf("Failed to publish: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := pub.Subscribe(ctx, TopicSelectionResult)
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	events := drain(sub)
	if len(events) != 1 {
		t.Fatalf("Expected 1 replayed event, got %d", len(events))
	}
	if events[0].RunID != "run-2" {
		t.Errorf("Expected the result of run-2, got %q", events[0].RunID)
	}
}

func TestReplayNone(t *testing.T) {
	pub := NewSSEPublisher()
	defer pub.Close()

	publishStatus(t, pub, "run-1", StateLoading, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := pub.Subscribe(ctx, TopicSelectionStatus)
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	if events := drain(sub); len(events) != 0 {
		t.Errorf("Expected no replayed events, got %d", len(events))
	}

	publishStatus(t, pub, "run-1", StateReady, 4)

	events := drain(sub)
	if len(events) != 1 {
		t.Fatalf("Expected 1 live event, got %d", len(events))
	}
	if events[0].Type != StateReady {
		t.Errorf("Expected type %q, got %q", StateReady, events[0].Type)
	}
}

func TestConfigureTopic_TrimsRetainedEvents(t *testing.T) {
	pub := NewSSEPublisher()
	defer pub.Close()

	pub.ConfigureTopic(TopicSelectionStatus, TopicConfig{Replay: ReplayRun})
	publishStatus(t, pub, "run-1", StateLoading, 1)
	publishStatus(t, pub, "run-1", StateSelecting, 2)

	pub.ConfigureTopic(TopicSelectionStatus, TopicConfig{Replay: ReplayLatest})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := pub.Subscribe(ctx, TopicSelectionStatus)
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	if steps := stepsOf(t, drain(sub)); len(steps) != 1 || steps[0] != 2 {
		t.Errorf("Expected only step 2, got %v", steps)
	}
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	pub := NewSSEPublisher()
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := pub.Subscribe(ctx, TopicSelectionStatus)
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for {
		pub.mu.Lock()
		n := len(pub.topics[TopicSelectionStatus].subs)
		pub.mu.Unlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Expected the subscription to be removed after cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}

	publishStatus(t, pub, "run-1", StateLoading, 1)
	if events := drain(sub); len(events) != 0 {
		t.Errorf("Expected no events after cancel, got %d", len(events))
	}
}

func TestClosedPublisher(t *testing.T) {
	pub := NewSSEPublisher()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := pub.Subscribe(ctx, TopicSelectionResult)
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	if err := pub.Close(); err != nil {
		t.Fatalf("Failed to close publisher: %v", err)
	}
	if _, ok := <-sub.Events(); ok {
		t.Error("Expected the subscription channel to be closed")
	}

	if err := pub.Publish(TopicSelectionResult, "done", SelectionSummary{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Publish, got %v", err)
	}
	if _, err := pub.Subscribe(context.Background(), TopicSelectionResult); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Subscribe, got %v", err)
	}
}

func TestWriteSSE(t *testing.T) {
	var b strings.Builder
	err := WriteSSE(&b, Event{Topic: TopicSelectionStatus, Type: StateReady, Data: json.RawMessage(`{}`), Version: 7, RunID: "run-1"})
	if err != nil {
		t.Fatalf("Failed to write event: %v", err)
	}

	want := "id: 7\nevent: selection_status\ndata: " +
		`{"topic":"selection_status","type":"ready","data":{},"version":7,"run_id":"run-1"}` + "\n\n"
	if b.String() != want {
		t.Errorf("Expected %q, got %q", want, b.String())
	}
}

func TestStream(t *testing.T) {
	pub := NewSSEPublisher()
	defer pub.Close()

	pub.ConfigureTopic(TopicSelectionStatus, TopicConfig{Replay: ReplayRun})
	publishStatus(t, pub, "run-1", StateLoading, 1)
	publishStatus(t, pub, "run-1", StateReady, 4)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/subscribe/selection_status", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	// Returns when the context times out
	Stream(rec, req, pub, TopicSelectionStatus)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got %q", ct)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, ": connected\n\nid: 1\n") {
		t.Errorf("Expected connection comment then the first event, got %q", body)
	}
	if !strings.Contains(body, "id: 2\n") {
		t.Errorf("Expected the whole run in the stream, got %q", body)
	}
}
