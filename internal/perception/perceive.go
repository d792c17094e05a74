package perception

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"recall/internal/logging"
)

// Result is the outcome of the perception step.
type Result struct {
	SelectedServers []string
	Reasoning       string
}

const selectionPromptTemplate = `You route a user task to tool servers.

Available servers:
%s
Task:
%s

Reply with a JSON object only, no prose:
{"selected_servers": ["name", ...], "reasoning": "one sentence"}

Pick only servers whose tools could plausibly help. Pick at least one unless
none apply.`

// Perceive asks the model which tool servers suit the task. Perception must
// never kill a task: on any failure it falls back to selecting every server.
func Perceive(ctx context.Context, client LLMClient, serverSummaries string, allServers []string, userInput string) Result {
	log := logging.Get(logging.CategoryPerception)

	prompt := fmt.Sprintf(selectionPromptTemplate, serverSummaries, userInput)
	raw, err := client.Complete(ctx, prompt)
	if err != nil {
		log.Warn("perception call failed, selecting all servers: %v", err)
		return Result{SelectedServers: allServers, Reasoning: "fallback: perception failed"}
	}

	parsed, err := parseSelection(raw)
	if err != nil {
		log.Warn("unparseable perception output, selecting all servers: %v", err)
		return Result{SelectedServers: allServers, Reasoning: "fallback: unparseable selection"}
	}

	// Keep only names that actually exist.
	known := make(map[string]bool, len(allServers))
	for _, s := range allServers {
		known[s] = true
	}
	var selected []string
	for _, s := range parsed.SelectedServers {
		if known[s] {
			selected = append(selected, s)
		}
	}

	log.Info("selected servers for %q: %v", userInput, selected)
	return Result{SelectedServers: selected, Reasoning: parsed.Reasoning}
}

type selectionPayload struct {
	SelectedServers []string `json:"selected_servers"`
	Reasoning       string   `json:"reasoning"`
}

func parseSelection(raw string) (selectionPayload, error) {
	text := strings.TrimSpace(raw)

	// Models habitually wrap JSON in a fence.
	if strings.HasPrefix(text, "```") {
		text = strings.TrimSpace(strings.Trim(text, "`"))
		text = strings.TrimSpace(strings.TrimPrefix(text, "json"))
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return selectionPayload{}, fmt.Errorf("no JSON object in output")
	}

	var payload selectionPayload
	if err := json.Unmarshal([]byte(text[start:end+1]), &payload); err != nil {
		return selectionPayload{}, fmt.Errorf("invalid selection JSON: %w", err)
	}
	return payload, nil
}
