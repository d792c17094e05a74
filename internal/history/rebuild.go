package history

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"recall/internal/logging"
	"recall/internal/memory"
)

// UpdateFromDir re-indexes every session transcript under dir
// (session_<id>.json files). Transcripts load in parallel; index writes stay
// serialized because the store contract assumes a single writer. Unreadable
// transcripts are skipped, not fatal. Returns the number of transcripts fed
// into the index.
func (ix *Index) UpdateFromDir(ctx context.Context, dir string) (int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "session_*.json"))
	if err != nil {
		return 0, err
	}

	type transcript struct {
		sessionID string
		events    []memory.Event
	}

	var (
		mu      sync.Mutex
		loaded  []transcript
		g, gctx = errgroup.WithContext(ctx)
	)
	g.SetLimit(8)

	for _, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			events, err := memory.LoadTranscript(path)
			if err != nil {
				logging.HistoryWarn("skipping unreadable transcript %s: %v", path, err)
				return nil
			}
			mu.Lock()
			loaded = append(loaded, transcript{sessionID: sessionIDFromPath(path), events: events})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	for _, t := range loaded {
		ix.Update(t.events, t.sessionID)
	}
	return len(loaded), nil
}

func sessionIDFromPath(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), ".json")
	return strings.TrimPrefix(name, "session_")
}
