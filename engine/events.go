// ABOUTME: Lifecycle event types and the fire-and-forget EventBus the engine publishes through.
// ABOUTME: Publishing never blocks or fails the execution path; subscriber panics are recovered.
package engine

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType identifies the kind of engine lifecycle event.
type EventType string

const (
	EventPipelineStarted   EventType = "pipeline.started"
	EventPipelineCompleted EventType = "pipeline.completed"
	EventPipelineFailed    EventType = "pipeline.failed"
	EventStageStarted      EventType = "stage.started"
	EventStageCompleted    EventType = "stage.completed"
	EventStageFailed       EventType = "stage.failed"
	EventStageSkipped      EventType = "stage.skipped"
	EventStepStarted       EventType = "step.started"
	EventStepCompleted     EventType = "step.completed"
)

// Event represents one lifecycle event emitted during pipeline execution.
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	ExecutionID string         `json:"execution_id"`
	Stage       string         `json:"stage,omitempty"`
	Step        string         `json:"step,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// newEventID creates a lexicographically sortable event identifier.
func newEventID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// EventBus fans events out to subscribers. Publish is fire-and-forget:
// subscriber panics are recovered and publishing never returns an error,
// so the execution path cannot be failed by an observer.
type EventBus struct {
	mu   sync.RWMutex
	subs []func(Event)
}

// NewEventBus creates an empty event bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers a callback invoked for every published event.
// Subscribers are called synchronously and must not block.
func (b *EventBus) Subscribe(fn func(Event)) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}

// Publish stamps the event with an ID and timestamp, then delivers it to
// every subscriber.
func (b *EventBus) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.ID == "" {
		evt.ID = newEventID()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, fn := range subs {
		deliver(fn, evt)
	}
}

// deliver invokes one subscriber with panic recovery.
func deliver(fn func(Event), evt Event) {
	defer func() {
		_ = recover()
	}()
	fn(evt)
}
