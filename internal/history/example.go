// Package history maintains the append-only store of past (query, answer)
// turns mined from session transcripts. It backs two retrieval modes: a
// paraphrase-level fast path that can short-circuit a task, and a
// keyword-similarity search used to enrich planning prompts.
package history

import "strings"

// FinalAnswerPrefix marks a well-formed terminal answer.
const FinalAnswerPrefix = "FINAL_ANSWER:"

// InvalidSolvePlaceholder is the planner fallback answer. Records carrying it
// are never offered as few-shot examples.
const InvalidSolvePlaceholder = "FINAL_ANSWER: [Could not generate valid solve()]"

// Example is one indexed turn. Identity key is (SessionID, TurnIndex);
// records are never mutated or deleted once stored.
type Example struct {
	SessionID       string   `json:"session_id"`
	TurnIndex       int      `json:"turn_index"`
	UserQuery       string   `json:"user_query"`
	FinalAnswer     string   `json:"final_answer"`
	ToolsUsed       []string `json:"tools_used"`
	SuccessfulTools []string `json:"successful_tools"`
	Tags            []string `json:"tags"`
	Keywords        []string `json:"keywords"`
}

// Key returns the identity key for dedup on append.
func (e Example) Key() [2]interface{} {
	return [2]interface{}{e.SessionID, e.TurnIndex}
}

// junkPatterns disqualify a final answer from indexing: diagnostics and
// give-ups would poison both retrieval modes.
var junkPatterns = []string{
	"could not generate",
	"max steps reached",
	"unknown",
	"unexpected",
}

// Indexable reports whether a final answer is worth storing.
func Indexable(finalAnswer string) bool {
	if !strings.HasPrefix(finalAnswer, FinalAnswerPrefix) {
		return false
	}
	lowered := strings.ToLower(finalAnswer)
	for _, pat := range junkPatterns {
		if strings.Contains(lowered, pat) {
			return false
		}
	}
	return true
}

// dedupe removes duplicates preserving first-seen order.
func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}
