package memory

import (
	"strings"
	"testing"
)

func TestSession_RecordRunStart(t *testing.T) {
	s := NewSession("abc", t.TempDir())
	s.RecordRunStart("what is the capital of France")

	events := s.Events()
	if len(events) != 1 {
		t.Fatalf("recorded %d events, want 1", len(events))
	}
	evt := events[0]
	if evt.Type != EventRunMetadata {
		t.Fatalf("Type = %q, want %q", evt.Type, EventRunMetadata)
	}
	if !strings.HasPrefix(evt.Text, RunStartMarker+" what is the capital of France at ") {
		t.Fatalf("Text = %q, want marker, query, timestamp", evt.Text)
	}
	if evt.Timestamp == "" {
		t.Fatal("Timestamp empty")
	}
}

func TestSession_RecordTurn(t *testing.T) {
	s := NewSession("abc", t.TempDir())
	s.RecordTurn("math.add", map[string]interface{}{"a": 2, "b": 3}, "5", true, []string{"arithmetic"})

	events := s.Events()
	if len(events) != 1 {
		t.Fatalf("recorded %d events, want 1", len(events))
	}
	evt := events[0]
	if evt.Type != EventToolOutput {
		t.Fatalf("Type = %q, want %q", evt.Type, EventToolOutput)
	}
	if evt.ToolName != "math.add" {
		t.Fatalf("ToolName = %q", evt.ToolName)
	}
	if got, _ := evt.ToolResult["result"].(string); got != "5" {
		t.Fatalf("ToolResult[result] = %q, want 5", got)
	}
	if !evt.Success {
		t.Fatal("Success = false, want true")
	}
}

func TestSession_RecordFinalAnswer(t *testing.T) {
	s := NewSession("abc", t.TempDir())
	s.RecordFinalAnswer("FINAL_ANSWER: Paris")

	events := s.Events()
	if len(events) != 1 {
		t.Fatalf("recorded %d events, want 1", len(events))
	}
	if events[0].FinalAnswer != "FINAL_ANSWER: Paris" {
		t.Fatalf("FinalAnswer = %q", events[0].FinalAnswer)
	}
	if !events[0].Success {
		t.Fatal("Success = false, want true")
	}
}

func TestSession_PersistsAndReloads(t *testing.T) {
	dir := t.TempDir()

	s := NewSession("abc", dir)
	s.RecordRunStart("first question")
	s.RecordFinalAnswer("FINAL_ANSWER: one")

	// A second session with the same id picks up where the first left off.
	reopened := NewSession("abc", dir)
	if got := len(reopened.Events()); got != 2 {
		t.Fatalf("reopened session has %d events, want 2", got)
	}
	reopened.RecordRunStart("second question")
	if got := len(reopened.Events()); got != 3 {
		t.Fatalf("session has %d events after append, want 3", got)
	}

	events, err := LoadTranscript(reopened.Path())
	if err != nil {
		t.Fatalf("LoadTranscript: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("transcript holds %d events, want 3", len(events))
	}
}

func TestSession_Items(t *testing.T) {
	s := NewSession("abc", t.TempDir())
	s.RecordRunStart("question")
	s.RecordTurn("math.add", nil, "5", true, nil)
	s.RecordFinalAnswer("FINAL_ANSWER: 5")

	items := s.Items()
	if len(items) != 3 {
		t.Fatalf("Items() returned %d lines, want 3", len(items))
	}
	if !strings.Contains(items[0], RunStartMarker) {
		t.Fatalf("items[0] = %q, want run marker line", items[0])
	}
	if items[1] != "math.add (success=true)" {
		t.Fatalf("items[1] = %q", items[1])
	}
	if items[2] != "FINAL_ANSWER: 5" {
		t.Fatalf("items[2] = %q", items[2])
	}
}

func TestLoadTranscript_MissingFile(t *testing.T) {
	if _, err := LoadTranscript("/nonexistent/transcript.json"); err == nil {
		t.Fatal("LoadTranscript on missing file returned nil error")
	}
}
