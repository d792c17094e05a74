package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"recall/internal/logging"
	"recall/internal/memory"
	"recall/internal/similarity"
)

// Index is the durable historical store: one JSON document holding an ordered
// list of Examples. Reads and writes swallow I/O and parse failures; a broken
// index degrades to "no cache" instead of killing the task.
type Index struct {
	path string

	// maxRecords bounds the store, trimming oldest records first on update.
	// 0 means unbounded, matching the original behavior.
	maxRecords int
}

// NewIndex opens the index document at path.
func NewIndex(path string) *Index {
	return &Index{path: path}
}

// NewBoundedIndex opens an index that keeps at most maxRecords records.
func NewBoundedIndex(path string, maxRecords int) *Index {
	return &Index{path: path, maxRecords: maxRecords}
}

// Path returns the index document path.
func (ix *Index) Path() string { return ix.path }

// Load reads the whole store. Any failure is logged and yields an empty list.
func (ix *Index) Load() []Example {
	data, err := os.ReadFile(ix.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.HistoryWarn("failed to load historical index: %v", err)
		}
		return nil
	}

	var examples []Example
	if err := json.Unmarshal(data, &examples); err != nil {
		logging.HistoryWarn("historical index %s is not a record list: %v", ix.path, err)
		return nil
	}
	return examples
}

// Update mines the transcript and appends any example whose
// (session_id, turn_index) key is not already stored. The store is rewritten
// only when at least one record was appended. Never returns an error to the
// caller; index maintenance must not abort a task.
func (ix *Index) Update(events []memory.Event, sessionID string) {
	mined := Mine(events, sessionID)
	if len(mined) == 0 {
		logging.History("no indexable examples found for session %s", sessionID)
		return
	}

	examples := ix.Load()
	existing := make(map[[2]interface{}]bool, len(examples))
	for _, ex := range examples {
		existing[ex.Key()] = true
	}

	added := 0
	for _, ex := range mined {
		if existing[ex.Key()] {
			continue
		}
		examples = append(examples, ex)
		existing[ex.Key()] = true
		added++
	}

	if added == 0 {
		logging.History("historical index already up-to-date for session %s", sessionID)
		return
	}

	if ix.maxRecords > 0 && len(examples) > ix.maxRecords {
		examples = examples[len(examples)-ix.maxRecords:]
	}

	if err := ix.save(examples); err != nil {
		logging.HistoryWarn("failed to update historical index for session %s: %v", sessionID, err)
		return
	}
	logging.History("updated historical index for session %s (added %d entries)", sessionID, added)
}

// TopSimilar returns up to k stored examples ranked by Jaccard similarity
// between the query's keyword set and each record's keyword set. Records with
// zero overlap and planner-fallback records are excluded. Ties keep the
// original store order.
func (ix *Index) TopSimilar(query string, k int) []Example {
	examples := ix.Load()
	if len(examples) == 0 {
		return nil
	}

	queryKeywords := similarity.Keywords(query)

	type scored struct {
		sim float64
		ex  Example
	}
	var candidates []scored
	for _, ex := range examples {
		if !strings.HasPrefix(ex.FinalAnswer, FinalAnswerPrefix) {
			continue
		}
		if strings.TrimSpace(ex.FinalAnswer) == InvalidSolvePlaceholder {
			continue
		}

		keywords := ex.Keywords
		if len(keywords) == 0 {
			keywords = similarity.Keywords(ex.UserQuery)
		}

		sim := similarity.Jaccard(queryKeywords, keywords)
		if sim <= 0 {
			continue
		}
		candidates = append(candidates, scored{sim: sim, ex: ex})
	}

	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].sim > candidates[j].sim
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	top := make([]Example, 0, k)
	debug := make([]string, 0, k)
	for _, c := range candidates[:k] {
		top = append(top, c.ex)
		debug = append(debug, fmt.Sprintf("%q (sim=%.2f)", c.ex.UserQuery, c.sim))
	}
	logging.History("similar examples for %q: %s", query, strings.Join(debug, ", "))
	return top
}

// BestMatch is the paraphrase fast path: the single stored record whose query
// is most similar to the given query under the normalized whole-string ratio.
// Returns the record's final answer verbatim (prefix included) when the best
// score is at or above minSimilarity.
func (ix *Index) BestMatch(query string, minSimilarity float64) (string, bool) {
	var (
		bestScore  float64
		bestAnswer string
		found      bool
	)
	for _, ex := range ix.Load() {
		if !strings.HasPrefix(ex.FinalAnswer, FinalAnswerPrefix) {
			continue
		}
		score := similarity.Ratio(query, ex.UserQuery)
		if !found || score > bestScore {
			bestScore = score
			bestAnswer = ex.FinalAnswer
			found = true
		}
	}

	if !found || bestScore < minSimilarity {
		return "", false
	}
	logging.History("fast-path hit for %q (score=%.2f)", query, bestScore)
	return bestAnswer, true
}

// save rewrites the whole document, pretty-formatted and stable across runs.
func (ix *Index) save(examples []Example) error {
	if err := os.MkdirAll(filepath.Dir(ix.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(examples, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(ix.path, data, 0644)
}
