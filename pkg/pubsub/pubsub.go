package pubsub

import (
	"context"
	"encoding/json"
	"errors"
)

// Topics published by the selector
const (
	TopicSelectionStatus = "selection_status"
	TopicSelectionResult = "selection_result"
)

// States reported on TopicSelectionStatus
const (
	StateLoading   = "loading"
	StateSelecting = "selecting"
	StateChecking  = "checking"
	StateReady     = "ready"
	StateFailed    = "failed"
)

// ErrClosed is returned when publishing to or subscribing on a closed publisher
var ErrClosed = errors.New("publisher is closed")

// Event represents a pub/sub event
type Event struct {
	Topic   string          `json:"topic"`   // Subscription topic (e.g., "selection_status")
	Type    string          `json:"type"`    // Event type (e.g., "loading", "ready")
	Data    json.RawMessage `json:"data"`    // Event payload
	Version int             `json:"version"` // Version number for ordering
	RunID   string          `json:"run_id,omitempty"`
}

// Subscription represents a client subscription to a topic
type Subscription interface {
	// Topic returns the subscription topic
	Topic() string

	// Events returns a channel for receiving events
	Events() <-chan Event

	// Close closes the subscription
	Close() error
}

// Publisher manages pub/sub subscriptions and event publishing
type Publisher interface {
	// Subscribe creates a new subscription to a topic
	// Context cancellation will close the subscription
	Subscribe(ctx context.Context, topic string) (Subscription, error)

	// Publish sends an event to all subscribers of a topic
	Publish(topic string, eventType string, data interface{}) error

	// Close shuts down the publisher and all subscriptions
	Close() error
}

// SelectionStatus is the progress of a selection run
type SelectionStatus struct {
	RunID   string `json:"run_id,omitempty"`
	State   string `json:"state"`   // loading, selecting, checking, ready, failed
	Message string `json:"message"` // Human-readable status message
	Step    int    `json:"step"`    // Current step number (1-based)
	Total   int    `json:"total"`   // Total number of steps
}

// SelectionSummary is the outcome of a finished selection run
type SelectionSummary struct {
	RunID               string   `json:"run_id"`
	Mode                string   `json:"mode"`
	WholeModule         bool     `json:"whole_module"`
	DirtyRatio          int      `json:"dirty_ratio"`
	StartModules        []string `json:"start_modules"`
	ModulesToCheck      []string `json:"modules_to_check"`
	ModulesSkipped      int      `json:"modules_skipped"`
	InfectedDefinitions int      `json:"infected_definitions"`
	DurationMs          int64    `json:"duration_ms"`
}
