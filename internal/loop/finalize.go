package loop

import (
	"context"
	"fmt"
	"strings"

	"recall/internal/logging"
)

// rawFallbackChars bounds the verbatim fallback when summarization fails.
const rawFallbackChars = 2000

const finalizePromptTemplate = `You are a careful but concise assistant.

The user asked:
%s

You have the following context from tools (search results, excerpts, or documents).
It may include URLs, summaries, long snippets, or even messages like "no results found":

%s

Follow this process strictly:

1. Understand what the user is actually asking for
   (e.g., description of people, relationship between entities, a specific amount,
   a definition, a comparison, etc.).

2. Read the context carefully and look for ANY information that helps answer the question.
   Pay special attention to:
   - How entities are connected (customer/vendor, owner/subsidiary, intermediary,
     related party, fund flow between them, etc.).
   - Numbers (amounts, prices, quantities), dates, names, and clear statements.

3. If the context clearly contains enough information to answer, give a direct,
   specific answer in 1-2 sentences.

4. If the context is partial but still gives clues, synthesize the best possible
   answer. In that case:
   - Make a reasonable inference.
   - Mention that the answer is based on limited information from the context.

5. Only answer exactly "unknown" (or an equivalent like "cannot be determined from the context")
   if BOTH of these are true:
   - The context is truly unrelated to the question OR explicitly says that no results
     or no information were found, AND
   - After reading everything, you find no useful evidence that helps answer the question.

Important:
- Prefer giving a best-effort, concrete answer over saying "unknown" whenever the
  context contains any relevant evidence.
- Do NOT repeat large chunks of the context. Just state the conclusion.
- Your final output must be ONLY the answer text, no bullet points, no explanation
  of your steps.

Now, provide your final answer.`

// finalizeFromContent turns leftover tool output into a concise final answer
// once the further-processing budget is spent. On completion failure it falls
// back to the first chunk of the raw content so the user still gets evidence
// rather than nothing.
func (c *Controller) finalizeFromContent(ctx context.Context, originalQuestion, toolResult string) string {
	prompt := fmt.Sprintf(finalizePromptTemplate, originalQuestion, toolResult)

	text, err := c.client.Complete(ctx, prompt)
	if err != nil {
		logging.LoopWarn("finalization failed: %v", err)
		if len(toolResult) > rawFallbackChars {
			return toolResult[:rawFallbackChars]
		}
		return toolResult
	}
	return strings.TrimSpace(text)
}
