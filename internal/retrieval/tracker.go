package retrieval

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nivantalabs/lessond/internal/lesson"
	"github.com/nivantalabs/lessond/internal/localstore"
	"github.com/nivantalabs/lessond/internal/remotestore"
)

// surfacingTimeout bounds the background counter writes so a hung remote
// store cannot leak goroutines indefinitely.
const surfacingTimeout = 10 * time.Second

// tracker performs surfacing-counter updates off the retrieval path.
// Retrieval latency must not pay for bookkeeping writes; updates are
// at-least-once and losses on crash are acceptable.
type tracker struct {
	local  *localstore.Store
	remote remotestore.Store
	logger *zap.Logger
	wg     sync.WaitGroup
}

func newTracker(local *localstore.Store, remote remotestore.Store, logger *zap.Logger) *tracker {
	return &tracker{local: local, remote: remote, logger: logger}
}

// recordSurfaced asynchronously increments times_surfaced on every store a
// lesson was retrieved from.
func (t *tracker) recordSurfaced(results []rankedLesson) {
	if len(results) == 0 {
		return
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), surfacingTimeout)
		defer cancel()

		for _, r := range results {
			if r.origins&originLocal != 0 {
				t.local.IncrementCounter(r.lesson.Title, lesson.FieldTimesSurfaced)
			}
			if r.origins&originRemote != 0 && t.remote != nil {
				if err := t.remote.IncrementCounter(ctx, r.lesson.Title, lesson.FieldTimesSurfaced); err != nil {
					t.logger.Debug("remote surfacing update failed",
						zap.String("title", r.lesson.Title), zap.Error(err))
				}
			}
		}
	}()
}

// Wait blocks until all in-flight counter updates finish. Tests and shutdown
// call this to observe counters deterministically.
func (t *tracker) Wait() {
	t.wg.Wait()
}
