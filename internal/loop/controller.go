// Package loop drives one user task through a bounded sequence of
// perceive/plan/execute attempts, short-circuiting when an equivalent task
// was already answered before. Two budgets nest: an outer step budget and a
// per-step lifeline budget for retries; a third budget bounds how many times
// an intermediate result may be forwarded into a new step.
package loop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"recall/internal/config"
	"recall/internal/heuristics"
	"recall/internal/history"
	"recall/internal/logging"
	"recall/internal/memory"
	"recall/internal/perception"
	"recall/internal/plan"
	"recall/internal/tools"
)

// Protocol markers, case-sensitive and line-anchored.
const (
	MarkerFinalAnswer       = "FINAL_ANSWER:"
	MarkerFurtherProcessing = "FURTHER_PROCESSING_REQUIRED:"
	sandboxErrorPrefix      = "[sandbox error:"
)

// Terminal diagnostics.
const (
	AnswerExecutionFailed = "FINAL_ANSWER: [Execution failed]"
	AnswerMaxSteps        = "FINAL_ANSWER: [Max steps reached]"
	AnswerUnknown         = "FINAL_ANSWER: [unknown]"
)

// Sandbox runs an executable solve plan to completion.
type Sandbox interface {
	Run(ctx context.Context, code string, dispatcher *tools.Dispatcher) string
}

// PerceiveFunc selects tool servers for a task.
type PerceiveFunc func(ctx context.Context, client perception.LLMClient, serverSummaries string, allServers []string, userInput string) perception.Result

// Task is the mutable state of one top-level invocation. It lives for
// exactly one Run call and is mutated only by the controller.
type Task struct {
	UserInput             string
	Step                  int
	LifelinesLeft         int
	FurtherProcessingUses int
	UserInputOverride     string
	FinalAnswer           string
}

// solveOutcome is the controller-visible result of one sandbox delegation.
type solveOutcome int

const (
	solveDone    solveOutcome = iota // task.FinalAnswer is set, Done
	solveForward                     // intermediate result forwarded, consume a step
	solveRetry                       // a lifeline was consumed, retry within the step
)

// Controller is the orchestrating state machine.
type Controller struct {
	cfg        *config.Config
	client     perception.LLMClient
	dispatcher *tools.Dispatcher
	sandbox    Sandbox
	index      *history.Index
	session    *memory.Session
	gate       *heuristics.Gate
	perceive   PerceiveFunc

	sandboxTimeout time.Duration
}

// New wires a controller from its collaborators.
func New(cfg *config.Config, client perception.LLMClient, dispatcher *tools.Dispatcher, sb Sandbox, index *history.Index, session *memory.Session) *Controller {
	timeout, err := time.ParseDuration(cfg.Sandbox.Timeout)
	if err != nil || timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Controller{
		cfg:            cfg,
		client:         client,
		dispatcher:     dispatcher,
		sandbox:        sb,
		index:          index,
		session:        session,
		gate:           heuristics.New(cfg.Heuristics.BlockedDomains, cfg.Heuristics.BannedWords),
		perceive:       perception.Perceive,
		sandboxTimeout: timeout,
	}
}

// WithPerceiver overrides the perception step. Used by tests and by callers
// with an external perception service.
func (c *Controller) WithPerceiver(p PerceiveFunc) *Controller {
	c.perceive = p
	return c
}

// Answer is the top-level entry point: gate the input, run the loop, redact
// the output. Always returns a FINAL_ANSWER-shaped string.
func (c *Controller) Answer(ctx context.Context, userInput string) string {
	gated := c.gate.ValidateInput(userInput)
	if !gated.Allowed {
		logging.Loop("input rejected by heuristics: %s", gated.Reason)
		return gated.Text
	}
	return c.gate.RedactOutput(c.Run(ctx, gated.Text))
}

// Run executes the budgeted loop for one task. Failures from collaborators
// are absorbed and converted into terminal answers; Run never panics across
// its boundary and always returns a final answer string.
func (c *Controller) Run(ctx context.Context, userInput string) string {
	task := &Task{UserInput: userInput}

	// Paraphrase fast path: an equivalent task answered before terminates the
	// run without perception, planning, or a new history record.
	if answer, ok := c.index.BestMatch(userInput, c.cfg.History.JaccardSimilarityThreshold); ok {
		logging.Loop("fast-path answer reused for %q", userInput)
		task.FinalAnswer = answer
		return task.FinalAnswer
	}

	c.session.RecordRunStart(userInput)

	maxSteps := c.cfg.Strategy.MaxSteps
	allowedFPRUses := c.cfg.AllowedFPRUses()

	for step := 0; step < maxSteps; step++ {
		task.Step = step
		task.LifelinesLeft = c.cfg.Strategy.MaxLifelinesPerStep
		logging.Loop("step %d/%d starting", step+1, maxSteps)

	lifelines:
		for task.LifelinesLeft >= 0 {
			effectiveInput := task.UserInput
			if task.UserInputOverride != "" {
				effectiveInput = task.UserInputOverride
			}

			// === Perception ===
			p := c.perceive(ctx, c.client, c.dispatcher.ServerSummaries(), c.dispatcher.ServerNames(), effectiveInput)
			selectedTools := c.dispatcher.ToolsFromServers(p.SelectedServers)
			if len(selectedTools) == 0 && task.UserInputOverride == "" {
				logging.LoopWarn("no tools selected, aborting step %d", step+1)
				break lifelines
			}

			// === Planning ===
			raw := c.generatePlan(ctx, effectiveInput, tools.Summarize(selectedTools))
			classified := plan.Classify(raw)
			logging.Loop("plan classified as %s", classified.Kind)

			// === Execution ===
			switch classified.Kind {
			case plan.DirectFinalAnswer, plan.DirectFurtherProcessing:
				// The planner answered without code: terminal either way.
				task.FinalAnswer = classified.Text
				c.session.RecordFinalAnswer(task.FinalAnswer)
				c.index.Update(c.session.Events(), c.session.SessionID())
				return task.FinalAnswer

			case plan.ExecutableSolve:
				switch c.executeSolve(ctx, task, classified.Text, allowedFPRUses) {
				case solveDone:
					return task.FinalAnswer
				case solveForward:
					// Consumes a step, not a lifeline.
					break lifelines
				case solveRetry:
					// Lifeline already consumed.
				}

			default: // plan.Invalid
				task.LifelinesLeft--
				logging.LoopWarn("invalid plan, retrying (lifelines left: %d)", task.LifelinesLeft)
			}
		}
	}

	logging.LoopWarn("max steps reached without final answer")
	task.FinalAnswer = AnswerMaxSteps
	c.session.RecordFinalAnswer(task.FinalAnswer)
	c.index.Update(c.session.Events(), c.session.SessionID())
	return task.FinalAnswer
}

// executeSolve delegates a solve plan to the sandbox and resolves the result
// into one of the three loop outcomes.
func (c *Controller) executeSolve(ctx context.Context, task *Task, code string, allowedFPRUses int) solveOutcome {
	runCtx, cancel := context.WithTimeout(ctx, c.sandboxTimeout)
	defer cancel()

	result := strings.TrimSpace(c.sandbox.Run(runCtx, code, c.dispatcher))
	planArgs := map[string]interface{}{"plan": code}

	switch {
	case strings.HasPrefix(result, MarkerFinalAnswer):
		task.FinalAnswer = result
		c.session.RecordTurn("solve_sandbox", planArgs, result, true, []string{"sandbox"})
		c.index.Update(c.session.Events(), c.session.SessionID())
		return solveDone

	case strings.HasPrefix(result, MarkerFurtherProcessing):
		content := strings.TrimSpace(strings.TrimPrefix(result, MarkerFurtherProcessing))
		task.FurtherProcessingUses++

		if task.FurtherProcessingUses <= allowedFPRUses {
			task.UserInputOverride = forwardPrompt(task.UserInput, content)
			logging.Loop("forwarding intermediate result to next step (use %d/%d)",
				task.FurtherProcessingUses, allowedFPRUses)
			return solveForward
		}

		// Budget exceeded: force a final answer out of what we have.
		logging.LoopWarn("further-processing budget exceeded, forcing finalization")
		task.FinalAnswer = MarkerFinalAnswer + " " + c.finalizeFromContent(ctx, task.UserInput, content)
		c.session.RecordFinalAnswer(task.FinalAnswer)
		c.index.Update(c.session.Events(), c.session.SessionID())
		return solveDone

	case strings.HasPrefix(result, sandboxErrorPrefix):
		c.session.RecordTurn("solve_sandbox", planArgs, result, false, []string{"sandbox"})
		task.FinalAnswer = AnswerExecutionFailed
		task.LifelinesLeft--
		logging.LoopWarn("sandbox failed, retrying (lifelines left: %d)", task.LifelinesLeft)
		return solveRetry

	case result != "":
		// Raw success: a non-empty string with no known prefix is an
		// implicit final answer.
		task.FinalAnswer = MarkerFinalAnswer + " " + result
		c.session.RecordTurn("solve_sandbox", planArgs, result, true, []string{"sandbox"})
		c.index.Update(c.session.Events(), c.session.SessionID())
		return solveDone

	default:
		c.session.RecordTurn("solve_sandbox", planArgs, result, false, []string{"sandbox"})
		task.LifelinesLeft--
		logging.LoopWarn("empty sandbox result, retrying (lifelines left: %d)", task.LifelinesLeft)
		return solveRetry
	}
}

// forwardPrompt composes the override input for the next step after an
// intermediate result.
func forwardPrompt(originalInput, content string) string {
	return fmt.Sprintf(`Original user task: %s

Your last tool produced this result:

%s

If this fully answers the task, return:
FINAL_ANSWER: your answer

Otherwise, return the next solve() plan.`, originalInput, content)
}
