// Package heuristics gates raw task text before the loop runs and redacts
// answer text before it leaves the system. Rejections are returned as
// ready-to-use FINAL_ANSWER strings so the caller can terminate immediately.
package heuristics

import (
	"fmt"
	"regexp"
	"strings"

	"recall/internal/logging"
)

const (
	minInputWords  = 3
	maxInputChars  = 3000
	maxOutputChars = 4000
	truncateChars  = 1000
)

var (
	harmfulPattern      = regexp.MustCompile(`(?i)rm -rf|powershell|bypass antivirus`)
	confidentialPattern = regexp.MustCompile(`(?i)password|secret key|confidential`)
)

// Result is the outcome of validating task input.
type Result struct {
	Allowed bool
	Text    string // sanitized input when allowed, terminal answer when not
	Reason  string
}

// Gate applies the configured input and output filters.
type Gate struct {
	blockedDomains []string
	bannedWords    []*regexp.Regexp
}

// New builds a gate. Banned terms are escaped before compilation so terms
// containing regexp metacharacters match literally.
func New(blockedDomains, bannedWords []string) *Gate {
	g := &Gate{blockedDomains: blockedDomains}
	for _, w := range bannedWords {
		if w == "" {
			continue
		}
		g.bannedWords = append(g.bannedWords, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(w)))
	}
	return g
}

// ValidateInput evaluates the input rules in fixed priority order; the first
// match wins.
func (g *Gate) ValidateInput(userInput string) Result {
	log := logging.Get(logging.CategoryHeuristics)
	text := strings.TrimSpace(userInput)

	// 1) empty / too short
	if len(strings.Fields(text)) < minInputWords {
		log.Info("rejected input: too short")
		return Result{
			Allowed: false,
			Text:    "FINAL_ANSWER: Please add a bit more detail to your request.",
			Reason:  "too short",
		}
	}

	// 2) too long
	if len(text) > maxInputChars {
		log.Info("rejected input: too long (%d chars)", len(text))
		return Result{
			Allowed: false,
			Text:    "FINAL_ANSWER: Your request is quite long. Please narrow it down.",
			Reason:  "too long",
		}
	}

	// 3) blocked domains
	for _, domain := range g.blockedDomains {
		if domain != "" && strings.Contains(text, domain) {
			log.Info("rejected input: blocked domain %q", domain)
			return Result{
				Allowed: false,
				Text:    "FINAL_ANSWER: For privacy reasons I can't access that site. Please paste the relevant text instead.",
				Reason:  fmt.Sprintf("blocked domain: %s", domain),
			}
		}
	}

	// 4) harmful scripts
	if harmfulPattern.MatchString(text) {
		log.Info("rejected input: harmful pattern")
		return Result{
			Allowed: false,
			Text:    "FINAL_ANSWER: I can't help with harmful or unsafe scripts.",
			Reason:  "harmful pattern",
		}
	}

	// 5) confidential patterns
	if confidentialPattern.MatchString(text) {
		log.Info("rejected input: confidential pattern")
		return Result{
			Allowed: false,
			Text:    "FINAL_ANSWER: This looks confidential. Please remove secrets and try again.",
			Reason:  "confidential pattern",
		}
	}

	return Result{Allowed: true, Text: text}
}

// RedactOutput masks each banned term with an equal-length run of '*' and
// caps oversized answers. Text over the output limit is truncated to its
// first chunk and wrapped as a FURTHER_PROCESSING_REQUIRED signal so the
// caller knows another summarization pass is needed.
func (g *Gate) RedactOutput(answer string) string {
	filtered := answer
	for _, pattern := range g.bannedWords {
		filtered = pattern.ReplaceAllStringFunc(filtered, func(m string) string {
			return strings.Repeat("*", len(m))
		})
	}

	if len(filtered) > maxOutputChars {
		logging.Get(logging.CategoryHeuristics).Info("answer too long (%d chars), requesting another pass", len(filtered))
		return fmt.Sprintf("FURTHER_PROCESSING_REQUIRED: %s...", filtered[:truncateChars])
	}
	return filtered
}
