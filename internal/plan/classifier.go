// Package plan classifies raw planner output into a closed set of variants.
// Classification is a pure function over text so it can be tested apart from
// the loop that consumes it.
package plan

import (
	"regexp"
	"strings"
)

// Kind is the plan variant.
type Kind int

const (
	// Invalid means the planner produced neither code nor a direct answer.
	Invalid Kind = iota
	// DirectFinalAnswer is a terminal FINAL_ANSWER line from the planner.
	DirectFinalAnswer
	// DirectFurtherProcessing is a FURTHER_PROCESSING_REQUIRED line from the planner.
	DirectFurtherProcessing
	// ExecutableSolve is a solve-function plan to run in the sandbox.
	ExecutableSolve
)

// String implements fmt.Stringer for log output.
func (k Kind) String() string {
	switch k {
	case DirectFinalAnswer:
		return "direct_final_answer"
	case DirectFurtherProcessing:
		return "direct_further_processing"
	case ExecutableSolve:
		return "executable_solve"
	default:
		return "invalid"
	}
}

// Plan is a classified planner output. Text holds the full code for
// ExecutableSolve and the matched marker line for the direct kinds.
type Plan struct {
	Kind Kind
	Text string
}

var (
	// A solve plan is any line declaring a function named exactly "solve",
	// with an optional async qualifier. Both planner dialects are accepted.
	solvePattern = regexp.MustCompile(`(?m)^\s*(?:async\s+)?(?:func|def)\s+solve\s*\(`)

	finalAnswerPattern = regexp.MustCompile(`(?m)^\s*(FINAL_ANSWER:.*)$`)
	furtherPattern     = regexp.MustCompile(`(?m)^\s*(FURTHER_PROCESSING_REQUIRED:.*)$`)

	languageTags = []string{"python", "go", "golang"}
)

// Classify turns raw planner text into a Plan. Code fences are stripped
// before matching. A solve signature takes precedence over direct-answer
// markers: commentary preceding real code must not short-circuit execution.
func Classify(raw string) Plan {
	text := StripFences(strings.TrimSpace(raw))

	if solvePattern.MatchString(text) {
		return Plan{Kind: ExecutableSolve, Text: text}
	}

	if m := finalAnswerPattern.FindStringSubmatch(text); m != nil {
		return Plan{Kind: DirectFinalAnswer, Text: strings.TrimSpace(m[1])}
	}

	if m := furtherPattern.FindStringSubmatch(text); m != nil {
		return Plan{Kind: DirectFurtherProcessing, Text: strings.TrimSpace(m[1])}
	}

	return Plan{Kind: Invalid, Text: text}
}

// StripFences removes a surrounding ``` code fence and an optional language
// tag. The tag is only stripped when it occupies the whole first line, so code
// whose first token merely starts with a tag string is left intact. Text
// without a fence is returned unchanged.
func StripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}

	text = strings.TrimSpace(strings.Trim(text, "`"))
	first, rest, found := strings.Cut(text, "\n")
	if !found {
		return text
	}
	for _, tag := range languageTags {
		if strings.EqualFold(strings.TrimSpace(first), tag) {
			return strings.TrimSpace(rest)
		}
	}
	return text
}
