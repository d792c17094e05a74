package history

import (
	"strings"

	"recall/internal/memory"
	"recall/internal/similarity"
)

// Mine scans a session transcript for completed turns and converts each into
// an Example. A turn starts at a run_metadata event carrying the run-start
// marker and extends to the next such event (or end of transcript). Turns
// without a well-formed final answer, or whose answer fails the junk filter,
// are discarded; TurnIndex increases only for surviving turns.
func Mine(events []memory.Event, sessionID string) []Example {
	var examples []Example
	turnIndex := 0

	i := 0
	for i < len(events) {
		evt := events[i]
		i++

		if evt.Type != memory.EventRunMetadata {
			continue
		}
		userQuery, ok := extractUserQuery(evt.Text)
		if !ok {
			continue
		}

		var (
			finalAnswer     string
			toolsUsed       []string
			successfulTools []string
			tags            []string
		)

		j := i
		for j < len(events) {
			next := events[j]
			if next.Type == memory.EventRunMetadata {
				break
			}
			if next.Type == memory.EventToolOutput {
				if next.ToolName != "" {
					toolsUsed = append(toolsUsed, next.ToolName)
					if next.Success {
						successfulTools = append(successfulTools, next.ToolName)
					}
				}
				if fa, ok := extractFinalAnswer(next); ok {
					// Last well-formed answer wins.
					finalAnswer = fa
				}
				tags = append(tags, next.Tags...)
			}
			j++
		}
		i = j

		if finalAnswer == "" || !Indexable(finalAnswer) {
			continue
		}

		examples = append(examples, Example{
			SessionID:       sessionID,
			TurnIndex:       turnIndex,
			UserQuery:       userQuery,
			FinalAnswer:     finalAnswer,
			ToolsUsed:       dedupe(toolsUsed),
			SuccessfulTools: dedupe(successfulTools),
			Tags:            dedupe(tags),
			Keywords:        similarity.Keywords(userQuery),
		})
		turnIndex++
	}

	return examples
}

// extractUserQuery pulls the query out of run-start text shaped like
// "Started new session with input: <query> at <timestamp>".
func extractUserQuery(runText string) (string, bool) {
	idx := strings.Index(runText, memory.RunStartMarker)
	if idx < 0 {
		return "", false
	}
	after := strings.TrimSpace(runText[idx+len(memory.RunStartMarker):])
	if at := strings.Index(after, " at "); at >= 0 {
		after = strings.TrimSpace(after[:at])
	}
	if after == "" {
		return "", false
	}
	return after, true
}

// extractFinalAnswer prefers the dedicated final_answer field over a nested
// tool result.
func extractFinalAnswer(evt memory.Event) (string, bool) {
	if strings.HasPrefix(evt.FinalAnswer, FinalAnswerPrefix) {
		return evt.FinalAnswer, true
	}
	if evt.ToolResult != nil {
		if result, ok := evt.ToolResult["result"].(string); ok && strings.HasPrefix(result, FinalAnswerPrefix) {
			return result, true
		}
	}
	return "", false
}
