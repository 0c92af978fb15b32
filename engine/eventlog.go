// ABOUTME: JSONL event log sink: appends published events to one file per execution under a base directory.
// ABOUTME: Provides query, tail, and summary helpers over a stored execution's event history.
package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// JSONLSink persists events as JSON lines, one file per execution. Attach it
// to a bus with Subscribe(sink.Append); write errors are swallowed so that
// logging can never fail the execution path.
type JSONLSink struct {
	baseDir string

	mu    sync.Mutex
	files map[string]*os.File
}

// NewJSONLSink creates a sink writing under the given base directory.
func NewJSONLSink(baseDir string) (*JSONLSink, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("creating event log directory: %w", err)
	}
	return &JSONLSink{
		baseDir: baseDir,
		files:   make(map[string]*os.File),
	}, nil
}

// Append writes one event to its execution's log file.
func (s *JSONLSink) Append(evt Event) {
	if evt.ExecutionID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.file(evt.ExecutionID)
	if err != nil {
		return
	}

	line, err := json.Marshal(evt)
	if err != nil {
		return
	}
	_, _ = f.Write(append(line, '\n'))
}

// file returns the open log file for an execution, creating it on first use.
// Caller must hold the mutex.
func (s *JSONLSink) file(executionID string) (*os.File, error) {
	if f, ok := s.files[executionID]; ok {
		return f, nil
	}
	path := filepath.Join(s.baseDir, executionID+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	s.files[executionID] = f
	return f, nil
}

// Close closes all open log files.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for id, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.files, id)
	}
	return firstErr
}

// EventFilter specifies criteria for reading back a stored event log.
type EventFilter struct {
	Types []EventType // empty means all types
	Stage string      // empty means all stages
	Limit int         // 0 means unlimited
}

// Events reads back the stored events for an execution, applying the filter.
func (s *JSONLSink) Events(executionID string, filter EventFilter) ([]Event, error) {
	path := filepath.Join(s.baseDir, executionID+".jsonl")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var evt Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			continue
		}
		if !matchesFilter(evt, filter) {
			continue
		}
		events = append(events, evt)
		if filter.Limit > 0 && len(events) >= filter.Limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("reading event log: %w", err)
	}
	return events, nil
}

// Tail returns the last n stored events for an execution.
func (s *JSONLSink) Tail(executionID string, n int) ([]Event, error) {
	events, err := s.Events(executionID, EventFilter{})
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return []Event{}, nil
	}
	if n >= len(events) {
		return events, nil
	}
	return events[len(events)-n:], nil
}

// EventSummary holds aggregate statistics about an execution's events.
type EventSummary struct {
	TotalEvents int
	ByType      map[EventType]int
	ByStage     map[string]int
	FirstEvent  *time.Time
	LastEvent   *time.Time
}

// Summarize produces aggregate statistics for an execution's event log.
func (s *JSONLSink) Summarize(executionID string) (*EventSummary, error) {
	events, err := s.Events(executionID, EventFilter{})
	if err != nil {
		return nil, err
	}

	summary := &EventSummary{
		TotalEvents: len(events),
		ByType:      make(map[EventType]int),
		ByStage:     make(map[string]int),
	}

	for i, evt := range events {
		summary.ByType[evt.Type]++
		if evt.Stage != "" {
			summary.ByStage[evt.Stage]++
		}
		ts := evt.Timestamp
		if i == 0 || ts.Before(*summary.FirstEvent) {
			t := ts
			summary.FirstEvent = &t
		}
		if i == 0 || ts.After(*summary.LastEvent) {
			t := ts
			summary.LastEvent = &t
		}
	}

	return summary, nil
}

// matchesFilter checks whether a single event satisfies all filter criteria.
func matchesFilter(evt Event, filter EventFilter) bool {
	if len(filter.Types) > 0 {
		found := false
		for _, t := range filter.Types {
			if evt.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.Stage != "" && evt.Stage != filter.Stage {
		return false
	}
	return true
}
