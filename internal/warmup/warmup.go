// Package warmup drives eager translation of registered subkernels across a
// set of warp widths, reporting per-translation progress to a sink.
package warmup

import (
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kaby76/gpuocelot/internal/cache"
	"github.com/kaby76/gpuocelot/internal/ptx"
	"github.com/kaby76/gpuocelot/internal/translate"
)

// Stage describes a phase of warming one translation.
type Stage string

const (
	// StageQueue means the translation is waiting for a worker.
	StageQueue Stage = "queue"
	// StageTranslate is the lower/optimize/emit phase.
	StageTranslate Stage = "translate"
)

// Status captures progress state within a stage.
type Status string

const (
	// StatusQueued indicates the translation is waiting to start.
	StatusQueued Status = "queued"
	// StatusWorking indicates the translation is being built.
	StatusWorking Status = "working"
	// StatusDone indicates the translation is cached.
	StatusDone Status = "done"
	// StatusError indicates the translation failed.
	StatusError Status = "error"
)

// Event reports progress for one translation (or for the whole run when Item
// is empty).
type Event struct {
	Item    string
	Stage   Stage
	Status  Status
	Err     error
	Elapsed time.Duration
}

// ProgressSink consumes progress events.
type ProgressSink interface {
	OnEvent(Event)
}

// Request describes a warmup run over already registered subkernels.
type Request struct {
	Cache      *cache.TranslationCache
	Subkernels []ptx.SubkernelID
	WarpSizes  []int
	Level      translate.OptimizationLevel

	// Progress receives one queued event per item up front and a
	// working/done (or error) pair as each translation is built. Nil
	// disables reporting.
	Progress ProgressSink
}

// ItemName formats the display name for one subkernel and warp width pair.
func ItemName(id ptx.SubkernelID, warpSize int) string {
	return fmt.Sprintf("subkernel %d ws%d", id, warpSize)
}

// Items lists the display names for every translation the request covers, in
// the order Run schedules them.
func (r *Request) Items() []string {
	names := make([]string, 0, len(r.Subkernels)*len(r.WarpSizes))
	for _, id := range r.Subkernels {
		for _, warp := range r.WarpSizes {
			names = append(names, ItemName(id, warp))
		}
	}
	return names
}

func (r *Request) emit(ev Event) {
	if r.Progress != nil {
		r.Progress.OnEvent(ev)
	}
}

// Run builds every subkernel/warp combination concurrently. Translations that
// share a generic still build it once; the cache serializes that part. The
// first failure cancels nothing already in flight but is returned once all
// workers finish.
func Run(req *Request) error {
	if req.Cache == nil {
		return fmt.Errorf("warmup: nil cache")
	}
	if len(req.WarpSizes) == 0 {
		return fmt.Errorf("warmup: no warp sizes")
	}

	for _, id := range req.Subkernels {
		for _, warp := range req.WarpSizes {
			req.emit(Event{Item: ItemName(id, warp), Stage: StageQueue, Status: StatusQueued})
		}
	}

	var group errgroup.Group
	for _, id := range req.Subkernels {
		id := id
		for _, warp := range req.WarpSizes {
			warp := warp
			group.Go(func() error {
				item := ItemName(id, warp)
				req.emit(Event{Item: item, Stage: StageTranslate, Status: StatusWorking})
				start := time.Now()
				_, err := req.Cache.GetOrInsertTranslation(id, warp, req.Level)
				elapsed := time.Since(start)
				if err != nil {
					req.emit(Event{Item: item, Stage: StageTranslate, Status: StatusError, Err: err, Elapsed: elapsed})
					return err
				}
				req.emit(Event{Item: item, Stage: StageTranslate, Status: StatusDone, Elapsed: elapsed})
				return nil
			})
		}
	}
	return group.Wait()
}
