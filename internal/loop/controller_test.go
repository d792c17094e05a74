package loop

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"recall/internal/config"
	"recall/internal/history"
	"recall/internal/memory"
	"recall/internal/perception"
	"recall/internal/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// scriptedClient plays back canned completions in order. When the script is
// exhausted it returns fallback.
type scriptedClient struct {
	replies  []string
	fallback string
	err      error

	calls   int
	prompts []string
}

func (c *scriptedClient) Complete(ctx context.Context, prompt string) (string, error) {
	c.calls++
	c.prompts = append(c.prompts, prompt)
	if c.err != nil {
		return "", c.err
	}
	if len(c.replies) > 0 {
		r := c.replies[0]
		c.replies = c.replies[1:]
		return r, nil
	}
	return c.fallback, nil
}

// scriptedSandbox plays back canned run results and records the plans it saw.
type scriptedSandbox struct {
	results []string
	plans   []string
}

func (s *scriptedSandbox) Run(ctx context.Context, code string, dispatcher *tools.Dispatcher) string {
	s.plans = append(s.plans, code)
	if len(s.results) == 0 {
		return ""
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r
}

func selectAll(ctx context.Context, client perception.LLMClient, summaries string, all []string, input string) perception.Result {
	return perception.Result{SelectedServers: all}
}

func selectNone(ctx context.Context, client perception.LLMClient, summaries string, all []string, input string) perception.Result {
	return perception.Result{}
}

const solvePlan = `func solve(call func(name string, args map[string]interface{}) (string, error)) string {
	out, err := call("math.add", map[string]interface{}{"a": 2, "b": 3})
	if err != nil {
		return "FURTHER_PROCESSING_REQUIRED: " + err.Error()
	}
	return "FINAL_ANSWER: " + out
}`

type fixture struct {
	cfg     *config.Config
	client  *scriptedClient
	sandbox *scriptedSandbox
	index   *history.Index
	session *memory.Session
	ctrl    *Controller
}

func newFixture(t *testing.T, client *scriptedClient, sb *scriptedSandbox) *fixture {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.History.MemoryIndexFile = filepath.Join(dir, "store.json")

	index := history.NewIndex(cfg.History.MemoryIndexFile)
	session := memory.NewSession("test", dir)
	dispatcher := tools.NewDispatcher(tools.BuiltinServers()...)

	ctrl := New(cfg, client, dispatcher, sb, index, session).WithPerceiver(selectAll)
	return &fixture{cfg: cfg, client: client, sandbox: sb, index: index, session: session, ctrl: ctrl}
}

func TestAnswer_GateRejectsBeforeCollaborators(t *testing.T) {
	f := newFixture(t, &scriptedClient{}, &scriptedSandbox{})

	got := f.ctrl.Answer(context.Background(), "hi")
	if got != "FINAL_ANSWER: Please add a bit more detail to your request." {
		t.Fatalf("Answer = %q", got)
	}
	if f.client.calls != 0 {
		t.Fatalf("completion called %d times for rejected input, want 0", f.client.calls)
	}
	if len(f.session.Events()) != 0 {
		t.Fatalf("rejected input recorded %d events, want 0", len(f.session.Events()))
	}
}

func TestRun_DirectFinalAnswer(t *testing.T) {
	client := &scriptedClient{replies: []string{"FINAL_ANSWER: Paris"}}
	f := newFixture(t, client, &scriptedSandbox{})

	got := f.ctrl.Run(context.Background(), "what is the capital of france")
	if got != "FINAL_ANSWER: Paris" {
		t.Fatalf("Run = %q", got)
	}
	if client.calls != 1 {
		t.Fatalf("completion called %d times, want 1", client.calls)
	}
	if len(f.sandbox.plans) != 0 {
		t.Fatalf("sandbox ran %d plans for a direct answer, want 0", len(f.sandbox.plans))
	}
	if got := len(f.index.Load()); got != 1 {
		t.Fatalf("index holds %d records, want 1", got)
	}
}

func TestRun_FastPathReusesStoredAnswer(t *testing.T) {
	f := newFixture(t, &scriptedClient{}, &scriptedSandbox{})

	f.index.Update([]memory.Event{
		{Type: memory.EventRunMetadata, Text: memory.RunStartMarker + " what is the capital of france at 2026-01-01T00:00:00Z"},
		{Type: memory.EventToolOutput, FinalAnswer: "FINAL_ANSWER: Paris", Success: true},
	}, "seed")

	got := f.ctrl.Run(context.Background(), "What is  the Capital of France")
	if got != "FINAL_ANSWER: Paris" {
		t.Fatalf("Run = %q, want the stored answer verbatim", got)
	}
	if f.client.calls != 0 {
		t.Fatalf("completion called %d times on the fast path, want 0", f.client.calls)
	}
	if len(f.session.Events()) != 0 {
		t.Fatalf("fast-path hit recorded %d events, want 0", len(f.session.Events()))
	}
	if got := len(f.index.Load()); got != 1 {
		t.Fatalf("index holds %d records after fast-path hit, want 1", got)
	}
}

func TestRun_SolvePlanFinalAnswer(t *testing.T) {
	client := &scriptedClient{replies: []string{solvePlan}}
	sb := &scriptedSandbox{results: []string{"FINAL_ANSWER: 5"}}
	f := newFixture(t, client, sb)

	got := f.ctrl.Run(context.Background(), "add two and three")
	if got != "FINAL_ANSWER: 5" {
		t.Fatalf("Run = %q", got)
	}
	if len(sb.plans) != 1 || !strings.Contains(sb.plans[0], "func solve") {
		t.Fatalf("sandbox plans = %v, want the solve plan", sb.plans)
	}

	records := f.index.Load()
	if len(records) != 1 {
		t.Fatalf("index holds %d records, want 1", len(records))
	}
	if records[0].ToolsUsed[0] != "solve_sandbox" {
		t.Fatalf("ToolsUsed = %v", records[0].ToolsUsed)
	}
}

func TestRun_RawSandboxResultBecomesFinalAnswer(t *testing.T) {
	client := &scriptedClient{replies: []string{solvePlan}}
	sb := &scriptedSandbox{results: []string{"42 degrees"}}
	f := newFixture(t, client, sb)

	got := f.ctrl.Run(context.Background(), "temperature in berlin today")
	if got != "FINAL_ANSWER: 42 degrees" {
		t.Fatalf("Run = %q", got)
	}
}

func TestRun_SandboxErrorConsumesLifelineThenRecovers(t *testing.T) {
	client := &scriptedClient{replies: []string{solvePlan, solvePlan}}
	sb := &scriptedSandbox{results: []string{"[sandbox error: boom]", "FINAL_ANSWER: ok"}}
	f := newFixture(t, client, sb)

	got := f.ctrl.Run(context.Background(), "do the thing please")
	if got != "FINAL_ANSWER: ok" {
		t.Fatalf("Run = %q", got)
	}
	if client.calls != 2 {
		t.Fatalf("completion called %d times, want 2 (one retry)", client.calls)
	}
}

func TestRun_EmptySandboxResultConsumesLifeline(t *testing.T) {
	client := &scriptedClient{replies: []string{solvePlan, solvePlan}}
	sb := &scriptedSandbox{results: []string{"", "FINAL_ANSWER: ok"}}
	f := newFixture(t, client, sb)

	got := f.ctrl.Run(context.Background(), "do the thing please")
	if got != "FINAL_ANSWER: ok" {
		t.Fatalf("Run = %q", got)
	}
}

func TestRun_InvalidPlansExhaustAllBudgets(t *testing.T) {
	client := &scriptedClient{fallback: "I would rather chat about the weather."}
	f := newFixture(t, client, &scriptedSandbox{})

	got := f.ctrl.Run(context.Background(), "do the thing please")
	if got != AnswerMaxSteps {
		t.Fatalf("Run = %q, want %q", got, AnswerMaxSteps)
	}
	// 3 steps, each burning 4 planning attempts (initial try plus 3 lifelines).
	if client.calls != 12 {
		t.Fatalf("completion called %d times, want 12", client.calls)
	}
	if got := len(f.index.Load()); got != 0 {
		t.Fatalf("index holds %d records for a failed run, want 0", got)
	}
}

func TestRun_NoToolsSelectedAbortsStep(t *testing.T) {
	f := newFixture(t, &scriptedClient{}, &scriptedSandbox{})
	f.ctrl.WithPerceiver(selectNone)

	got := f.ctrl.Run(context.Background(), "do the thing please")
	if got != AnswerMaxSteps {
		t.Fatalf("Run = %q, want %q", got, AnswerMaxSteps)
	}
	if f.client.calls != 0 {
		t.Fatalf("completion called %d times with no tools selected, want 0", f.client.calls)
	}
}

func TestRun_ForwardingBudgetThenForcedFinalization(t *testing.T) {
	client := &scriptedClient{replies: []string{solvePlan, solvePlan, solvePlan, "the report totals 1.2M"}}
	sb := &scriptedSandbox{results: []string{
		"FURTHER_PROCESSING_REQUIRED: partA",
		"FURTHER_PROCESSING_REQUIRED: partB",
		"FURTHER_PROCESSING_REQUIRED: partC",
	}}
	f := newFixture(t, client, sb)

	got := f.ctrl.Run(context.Background(), "summarize the annual report")
	if got != "FINAL_ANSWER: the report totals 1.2M" {
		t.Fatalf("Run = %q", got)
	}
	// Three plans and one forced finalization; no fourth step.
	if client.calls != 4 {
		t.Fatalf("completion called %d times, want 4", client.calls)
	}
	if !strings.Contains(client.prompts[1], "partA") {
		t.Fatalf("second planning prompt does not carry the forwarded result:\n%s", client.prompts[1])
	}
	if !strings.Contains(client.prompts[1], "summarize the annual report") {
		t.Fatalf("second planning prompt lost the original task:\n%s", client.prompts[1])
	}
	if !strings.Contains(client.prompts[3], "partC") {
		t.Fatalf("finalization prompt does not carry the leftover content:\n%s", client.prompts[3])
	}
}

func TestRun_PlannerFailureYieldsUnknown(t *testing.T) {
	client := &scriptedClient{err: errors.New("provider down")}
	f := newFixture(t, client, &scriptedSandbox{})

	got := f.ctrl.Run(context.Background(), "do the thing please")
	if got != AnswerUnknown {
		t.Fatalf("Run = %q, want %q", got, AnswerUnknown)
	}
	if got := len(f.index.Load()); got != 0 {
		t.Fatalf("index holds %d records for an unknown answer, want 0", got)
	}
}

func TestAnswer_RedactsBannedWords(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.History.MemoryIndexFile = filepath.Join(dir, "store.json")
	cfg.Heuristics.BannedWords = []string{"Hunter2"}

	client := &scriptedClient{replies: []string{"FINAL_ANSWER: the value is Hunter2"}}
	ctrl := New(cfg, client, tools.NewDispatcher(tools.BuiltinServers()...), &scriptedSandbox{},
		history.NewIndex(cfg.History.MemoryIndexFile), memory.NewSession("test", dir)).WithPerceiver(selectAll)

	got := ctrl.Answer(context.Background(), "what is the stored value")
	if got != "FINAL_ANSWER: the value is *******" {
		t.Fatalf("Answer = %q, want the banned word masked", got)
	}
}
