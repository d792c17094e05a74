// Package memory records the per-session transcript: one chronological JSON
// document of run and tool events. The historical index mines this exact
// event stream after a turn completes.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"recall/internal/logging"
)

// Event types present in a session transcript.
const (
	EventRunMetadata = "run_metadata"
	EventToolOutput  = "tool_output"
)

// RunStartMarker introduces every run inside a run_metadata event. The text
// after it, up to the " at " timestamp separator, is the user query.
const RunStartMarker = "Started new session with input:"

// Event is one transcript entry.
type Event struct {
	Type        string                 `json:"type"`
	Timestamp   string                 `json:"timestamp"`
	Text        string                 `json:"text,omitempty"`
	ToolName    string                 `json:"tool_name,omitempty"`
	ToolArgs    map[string]interface{} `json:"tool_args,omitempty"`
	ToolResult  map[string]interface{} `json:"tool_result,omitempty"`
	Success     bool                   `json:"success,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
	FinalAnswer string                 `json:"final_answer,omitempty"`
}

// Session accumulates events for one session and persists them as a single
// JSON document after every append.
type Session struct {
	sessionID string
	path      string
	events    []Event
}

// NewSession creates a session transcript under dir. Any existing transcript
// at the same path is loaded so repeated runs of one session accumulate.
func NewSession(sessionID, dir string) *Session {
	s := &Session{
		sessionID: sessionID,
		path:      filepath.Join(dir, fmt.Sprintf("session_%s.json", sessionID)),
	}
	if events, err := LoadTranscript(s.path); err == nil {
		s.events = events
	}
	return s
}

// SessionID returns the session identifier.
func (s *Session) SessionID() string { return s.sessionID }

// Path returns the transcript document path.
func (s *Session) Path() string { return s.path }

// Events returns the recorded events in order.
func (s *Session) Events() []Event { return s.events }

// RecordRunStart appends the run-start marker event for a new query.
func (s *Session) RecordRunStart(userInput string) {
	now := time.Now().Format(time.RFC3339Nano)
	s.append(Event{
		Type:      EventRunMetadata,
		Timestamp: now,
		Text:      fmt.Sprintf("%s %s at %s", RunStartMarker, userInput, now),
	})
}

// RecordTurn appends one tool invocation outcome.
func (s *Session) RecordTurn(toolName string, args map[string]interface{}, result string, success bool, tags []string) {
	s.append(Event{
		Type:       EventToolOutput,
		Timestamp:  time.Now().Format(time.RFC3339Nano),
		ToolName:   toolName,
		ToolArgs:   args,
		ToolResult: map[string]interface{}{"result": result},
		Success:    success,
		Tags:       tags,
	})
}

// RecordFinalAnswer appends the turn's final answer as a dedicated field.
func (s *Session) RecordFinalAnswer(text string) {
	s.append(Event{
		Type:        EventToolOutput,
		Timestamp:   time.Now().Format(time.RFC3339Nano),
		FinalAnswer: text,
		Success:     true,
	})
}

// Items renders the session transcript as short lines for prompt context.
func (s *Session) Items() []string {
	var items []string
	for _, evt := range s.events {
		switch {
		case evt.Type == EventRunMetadata && evt.Text != "":
			items = append(items, evt.Text)
		case evt.FinalAnswer != "":
			items = append(items, evt.FinalAnswer)
		case evt.ToolName != "":
			items = append(items, fmt.Sprintf("%s (success=%v)", evt.ToolName, evt.Success))
		}
	}
	return items
}

func (s *Session) append(evt Event) {
	s.events = append(s.events, evt)
	if err := s.save(); err != nil {
		logging.Get(logging.CategoryMemory).Warn("failed to persist transcript %s: %v", s.path, err)
	}
}

func (s *Session) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.events, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}

// LoadTranscript reads a persisted session transcript.
func LoadTranscript(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("failed to parse transcript %s: %w", path, err)
	}
	return events, nil
}
