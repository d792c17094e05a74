package loop

import (
	"context"
	"fmt"
	"strings"

	"recall/internal/history"
	"recall/internal/logging"
)

const plannerPromptTemplate = `You are an agent that solves one user task with the tools below.

Available tools:
%s
Session memory:
%s
Past solved tasks that look similar:
%s
User task:
%s

Respond with exactly ONE of:

1. A Go function executing tool calls, named exactly solve:

   func solve(call func(name string, args map[string]interface{}) (string, error)) string {
       // use call("server.tool", map[string]interface{}{...})
       // return "FINAL_ANSWER: ..." when the task is done, or
       // return "FURTHER_PROCESSING_REQUIRED: ..." with intermediate
       // output that needs another pass
   }

2. FINAL_ANSWER: <answer> - when you can answer directly.
3. FURTHER_PROCESSING_REQUIRED: <content> - when content needs another pass.

Only stdlib imports are available inside solve. Do not explain your choice.`

// generatePlan renders the planning prompt and invokes the completion
// collaborator. Any failure of the call degrades to a direct "[unknown]"
// answer; planning never raises past the loop.
func (c *Controller) generatePlan(ctx context.Context, userInput, toolDescriptions string) string {
	log := logging.Get(logging.CategoryPlan)

	memoryTexts := "None"
	if items := c.session.Items(); len(items) > 0 {
		var b strings.Builder
		for _, it := range items {
			fmt.Fprintf(&b, "- %s\n", it)
		}
		memoryTexts = b.String()
	}

	examples := fewShotBlock(c.index.TopSimilar(userInput, c.cfg.History.TopKSimilarExamples))

	prompt := fmt.Sprintf(plannerPromptTemplate, toolDescriptions, memoryTexts, examples, userInput)
	log.Debug("planner prompt (%d chars): %.2500s", len(prompt), prompt)

	raw, err := c.client.Complete(ctx, prompt)
	if err != nil {
		log.Warn("planning failed: %v", err)
		return "FINAL_ANSWER: [unknown]"
	}
	log.Debug("planner output: %s", raw)
	return strings.TrimSpace(raw)
}

// fewShotBlock renders retrieved examples for the planning prompt. Long
// answers are truncated so one bloated record cannot dominate the prompt.
func fewShotBlock(examples []history.Example) string {
	if len(examples) == 0 {
		return "None available"
	}

	var b strings.Builder
	for _, ex := range examples {
		fa := ex.FinalAnswer
		if len(fa) > 500 {
			fa = fa[:500] + "... [truncated]"
		}
		fmt.Fprintf(&b, "- Past query: %s\n  Tools: %s\n  Outcome: %s\n",
			ex.UserQuery, strings.Join(ex.ToolsUsed, ", "), fa)
	}
	return b.String()
}
