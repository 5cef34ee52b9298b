package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/ritzau/ttcn-selector/pkg/logging"
)

// Replay selects what a new subscriber receives before live events
type Replay int

const (
	// ReplayNone sends only events published after subscribing
	ReplayNone Replay = iota
	// ReplayLatest sends the last event of the topic
	ReplayLatest
	// ReplayRun sends every event of the most recent run, oldest first
	ReplayRun
)

// maxRunEvents caps what ReplayRun keeps for a single run
const maxRunEvents = 32

// subscriberBuffer is the channel size of one subscription
const subscriberBuffer = 64

// TopicConfig configures replay for a topic
type TopicConfig struct {
	Replay Replay
}

// runScoped is implemented by payloads that belong to a selection run
type runScoped interface {
	runID() string
}

func (s SelectionStatus) runID() string  { return s.RunID }
func (s SelectionSummary) runID() string { return s.RunID }

// topicState is the per-topic bookkeeping of an SSEPublisher
type topicState struct {
	config  TopicConfig
	subs    map[*sseSubscription]struct{}
	version int
	run     string  // run the retained events belong to
	retain  []Event // replayed to new subscribers
}

// retainEvent keeps event for later subscribers according to the topic's replay policy
func (t *topicState) retainEvent(event Event) {
	switch t.config.Replay {
	case ReplayLatest:
		t.retain = append(t.retain[:0], event)
	case ReplayRun:
		if event.RunID != t.run {
			t.run = event.RunID
			t.retain = t.retain[:0]
		}
		if len(t.retain) == maxRunEvents {
			t.retain = t.retain[1:]
		}
		t.retain = append(t.retain, event)
	}
}

// SSEPublisher implements Publisher for Server-Sent Event streams
type SSEPublisher struct {
	mu     sync.Mutex
	topics map[string]*topicState
	closed bool
}

// NewSSEPublisher creates a publisher; topics replay nothing until configured
func NewSSEPublisher() *SSEPublisher {
	return &SSEPublisher{topics: make(map[string]*topicState)}
}

func (p *SSEPublisher) topic(name string) *topicState {
	t, ok := p.topics[name]
	if !ok {
		t = &topicState{subs: make(map[*sseSubscription]struct{})}
		p.topics[name] = t
	}
	return t
}

// ConfigureTopic sets the replay policy of a topic. Retained events that the
// new policy would not keep are dropped.
func (p *SSEPublisher) ConfigureTopic(topic string, config TopicConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t := p.topic(topic)
	t.config = config
	retained := t.retain
	t.retain = nil
	t.run = ""
	for _, event := range retained {
		t.retainEvent(event)
	}
}

// Subscribe registers a subscription and queues the replayed events ahead of
// any live event
func (p *SSEPublisher) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}

	t := p.topic(topic)
	sub := &sseSubscription{
		topic:     topic,
		events:    make(chan Event, subscriberBuffer),
		publisher: p,
	}
	for _, event := range t.retain {
		sub.events <- event
	}
	t.subs[sub] = struct{}{}

	if len(t.retain) > 0 {
		logging.Debug("replayed events to new subscriber", "topic", topic, "run", t.run, "events", len(t.retain))
	}

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()

	return sub, nil
}

// Publish sends an event to all subscribers of a topic. Subscribers whose
// buffer is full miss the event.
func (p *SSEPublisher) Publish(topic string, eventType string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	t := p.topic(topic)
	t.version++
	event := Event{Topic: topic, Type: eventType, Data: payload, Version: t.version}
	if rs, ok := data.(runScoped); ok {
		event.RunID = rs.runID()
	}
	t.retainEvent(event)

	for sub := range t.subs {
		select {
		case sub.events <- event:
		default:
			logging.Warn("subscription channel full, dropping event", "topic", topic, "version", event.Version)
		}
	}
	return nil
}

// Close ends every subscription; later calls return ErrClosed
func (p *SSEPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	for _, t := range p.topics {
		for sub := range t.subs {
			close(sub.events)
		}
		t.subs = nil
	}
	return nil
}

func (p *SSEPublisher) unsubscribe(sub *sseSubscription) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.topics[sub.topic]; ok {
		delete(t.subs, sub)
	}
}

type sseSubscription struct {
	topic     string
	events    chan Event
	publisher *SSEPublisher
	once      sync.Once
}

func (s *sseSubscription) Topic() string { return s.topic }

func (s *sseSubscription) Events() <-chan Event { return s.events }

func (s *sseSubscription) Close() error {
	s.once.Do(func() { s.publisher.unsubscribe(s) })
	return nil
}

// WriteSSE writes an event as one SSE message; the version becomes the
// message id
func WriteSSE(w io.Writer, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.Version, event.Topic, data)
	return err
}

// Stream writes the events of a topic to w as Server-Sent Events until the
// request context ends or the publisher closes
func Stream(w http.ResponseWriter, r *http.Request, p Publisher, topic string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	sub, err := p.Subscribe(r.Context(), topic)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer sub.Close() //nolint:errcheck

	flusher, _ := w.(http.Flusher)

	// Initial comment establishes the connection (Safari compatibility)
	_, _ = fmt.Fprintf(w, ": connected\n\n")
	if flusher != nil {
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := WriteSSE(w, event); err != nil {
				logging.DebugContext(r.Context(), "error writing SSE event", "topic", topic, "error", err)
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}
