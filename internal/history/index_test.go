package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"recall/internal/memory"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	return NewIndex(filepath.Join(t.TempDir(), "store.json"))
}

func TestLoad_MissingFile(t *testing.T) {
	ix := newTestIndex(t)
	if got := ix.Load(); got != nil {
		t.Fatalf("Load() on missing file = %v, want nil", got)
	}
}

func TestLoad_CorruptFile(t *testing.T) {
	ix := newTestIndex(t)
	if err := os.WriteFile(ix.Path(), []byte("{not a record list"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := ix.Load(); got != nil {
		t.Fatalf("Load() on corrupt file = %v, want nil", got)
	}
}

func TestUpdate_AppendsOnce(t *testing.T) {
	ix := newTestIndex(t)
	events := []memory.Event{
		runStart("add two and three"),
		finalAnswerEvent("FINAL_ANSWER: 5"),
	}

	ix.Update(events, "s1")
	if got := len(ix.Load()); got != 1 {
		t.Fatalf("store holds %d records after first update, want 1", got)
	}

	// Re-running the same transcript must not duplicate records.
	ix.Update(events, "s1")
	if got := len(ix.Load()); got != 1 {
		t.Fatalf("store holds %d records after repeated update, want 1", got)
	}
}

func TestUpdate_MergesSessions(t *testing.T) {
	ix := newTestIndex(t)
	ix.Update([]memory.Event{
		runStart("first question"),
		finalAnswerEvent("FINAL_ANSWER: one"),
	}, "s1")
	ix.Update([]memory.Event{
		runStart("second question"),
		finalAnswerEvent("FINAL_ANSWER: two"),
	}, "s2")

	examples := ix.Load()
	if len(examples) != 2 {
		t.Fatalf("store holds %d records, want 2", len(examples))
	}
	if examples[0].SessionID != "s1" || examples[1].SessionID != "s2" {
		t.Fatalf("sessions = %s, %s, want append order s1, s2", examples[0].SessionID, examples[1].SessionID)
	}
}

func TestUpdate_NothingIndexableWritesNothing(t *testing.T) {
	ix := newTestIndex(t)
	ix.Update([]memory.Event{
		runStart("question"),
		finalAnswerEvent("FINAL_ANSWER: [Max steps reached]"),
	}, "s1")

	if _, err := os.Stat(ix.Path()); !os.IsNotExist(err) {
		t.Fatalf("store file exists after junk-only update, stat err = %v", err)
	}
}

func TestBoundedIndex_TrimsOldestFirst(t *testing.T) {
	ix := NewBoundedIndex(filepath.Join(t.TempDir(), "store.json"), 2)
	ix.Update([]memory.Event{
		runStart("first question"),
		finalAnswerEvent("FINAL_ANSWER: one"),
		runStart("second question"),
		finalAnswerEvent("FINAL_ANSWER: two"),
		runStart("third question"),
		finalAnswerEvent("FINAL_ANSWER: three"),
	}, "s1")

	examples := ix.Load()
	if len(examples) != 2 {
		t.Fatalf("store holds %d records, want 2", len(examples))
	}
	if examples[0].UserQuery != "second question" || examples[1].UserQuery != "third question" {
		t.Fatalf("kept queries = %q, %q, want the two newest", examples[0].UserQuery, examples[1].UserQuery)
	}
}

func seedIndex(t *testing.T, examples []Example) *Index {
	t.Helper()
	ix := newTestIndex(t)
	if err := ix.save(examples); err != nil {
		t.Fatal(err)
	}
	return ix
}

func TestTopSimilar_RanksByKeywordOverlap(t *testing.T) {
	ix := seedIndex(t, []Example{
		{SessionID: "s1", TurnIndex: 0, UserQuery: "prime factorization of ten",
			FinalAnswer: "FINAL_ANSWER: 2 x 5", Keywords: []string{"prime", "factorization", "ten"}},
		{SessionID: "s1", TurnIndex: 1, UserQuery: "list prime numbers below ten",
			FinalAnswer: "FINAL_ANSWER: 2 3 5 7", Keywords: []string{"list", "prime", "numbers", "below", "ten"}},
		{SessionID: "s1", TurnIndex: 2, UserQuery: "weather in paris",
			FinalAnswer: "FINAL_ANSWER: sunny", Keywords: []string{"weather", "paris"}},
		{SessionID: "s1", TurnIndex: 3, UserQuery: "prime numbers below ten",
			FinalAnswer: InvalidSolvePlaceholder, Keywords: []string{"prime", "numbers", "below", "ten"}},
	})

	got := ix.TopSimilar("prime numbers below ten", 3)
	if len(got) != 2 {
		t.Fatalf("TopSimilar returned %d examples, want 2", len(got))
	}
	if got[0].TurnIndex != 1 {
		t.Fatalf("best match TurnIndex = %d, want 1", got[0].TurnIndex)
	}
	if got[1].TurnIndex != 0 {
		t.Fatalf("second match TurnIndex = %d, want 0", got[1].TurnIndex)
	}
}

func TestTopSimilar_KClamps(t *testing.T) {
	ix := seedIndex(t, []Example{
		{SessionID: "s1", TurnIndex: 0, UserQuery: "prime factorization of ten",
			FinalAnswer: "FINAL_ANSWER: 2 x 5", Keywords: []string{"prime", "factorization", "ten"}},
		{SessionID: "s1", TurnIndex: 1, UserQuery: "list prime numbers below ten",
			FinalAnswer: "FINAL_ANSWER: 2 3 5 7", Keywords: []string{"list", "prime", "numbers", "below", "ten"}},
	})

	got := ix.TopSimilar("prime numbers below ten", 1)
	if len(got) != 1 {
		t.Fatalf("TopSimilar returned %d examples, want 1", len(got))
	}
	if got[0].TurnIndex != 1 {
		t.Fatalf("best match TurnIndex = %d, want 1", got[0].TurnIndex)
	}
}

func TestTopSimilar_FallsBackToQueryKeywords(t *testing.T) {
	// Records written before keyword extraction existed carry no keyword list.
	ix := seedIndex(t, []Example{
		{SessionID: "s1", TurnIndex: 0, UserQuery: "prime numbers below ten",
			FinalAnswer: "FINAL_ANSWER: 2 3 5 7"},
	})

	got := ix.TopSimilar("prime numbers", 3)
	if len(got) != 1 {
		t.Fatalf("TopSimilar returned %d examples, want 1", len(got))
	}
}

func TestTopSimilar_EmptyStore(t *testing.T) {
	ix := newTestIndex(t)
	if got := ix.TopSimilar("anything", 3); got != nil {
		t.Fatalf("TopSimilar on empty store = %v, want nil", got)
	}
}

func TestBestMatch_ParaphraseHit(t *testing.T) {
	ix := seedIndex(t, []Example{
		{SessionID: "s1", TurnIndex: 0, UserQuery: "what is the capital of france",
			FinalAnswer: "FINAL_ANSWER: Paris"},
	})

	answer, ok := ix.BestMatch("What is  the Capital of France", 0.8)
	if !ok {
		t.Fatal("BestMatch missed an identical (modulo case and spacing) query")
	}
	if answer != "FINAL_ANSWER: Paris" {
		t.Fatalf("answer = %q, want the stored answer verbatim", answer)
	}
}

func TestBestMatch_BelowThreshold(t *testing.T) {
	ix := seedIndex(t, []Example{
		{SessionID: "s1", TurnIndex: 0, UserQuery: "what is the capital of france",
			FinalAnswer: "FINAL_ANSWER: Paris"},
	})

	if _, ok := ix.BestMatch("summarize this quarterly revenue report", 0.8); ok {
		t.Fatal("BestMatch matched an unrelated query")
	}
}

func TestBestMatch_EmptyStore(t *testing.T) {
	ix := newTestIndex(t)
	if _, ok := ix.BestMatch("anything", 0.8); ok {
		t.Fatal("BestMatch hit on an empty store")
	}
}

func TestBestMatch_SkipsMalformedAnswers(t *testing.T) {
	ix := seedIndex(t, []Example{
		{SessionID: "s1", TurnIndex: 0, UserQuery: "what is the capital of france",
			FinalAnswer: "no prefix here"},
	})

	if _, ok := ix.BestMatch("what is the capital of france", 0.8); ok {
		t.Fatal("BestMatch returned a record without the answer prefix")
	}
}

func TestUpdateFromDir(t *testing.T) {
	dir := t.TempDir()

	s1 := memory.NewSession("aaa", dir)
	s1.RecordRunStart("first question")
	s1.RecordFinalAnswer("FINAL_ANSWER: one")

	s2 := memory.NewSession("bbb", dir)
	s2.RecordRunStart("second question")
	s2.RecordFinalAnswer("FINAL_ANSWER: two")

	ix := NewIndex(filepath.Join(t.TempDir(), "store.json"))
	n, err := ix.UpdateFromDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("UpdateFromDir: %v", err)
	}
	if n != 2 {
		t.Fatalf("UpdateFromDir fed %d transcripts, want 2", n)
	}

	examples := ix.Load()
	if len(examples) != 2 {
		t.Fatalf("store holds %d records after rebuild, want 2", len(examples))
	}
	sessions := map[string]bool{}
	for _, ex := range examples {
		sessions[ex.SessionID] = true
	}
	if !sessions["aaa"] || !sessions["bbb"] {
		t.Fatalf("rebuilt sessions = %v, want aaa and bbb", sessions)
	}
}
