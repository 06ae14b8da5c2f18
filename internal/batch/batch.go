// Package batch splits work into fixed-size chunks and runs them with
// bounded concurrency. Each chunk succeeds or fails on its own: one failed
// chunk never aborts its siblings.
package batch

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Result accumulates per-batch outcomes of one ForEach call.
type Result struct {
	Batches int
	Failed  int
}

// Split divides items into chunks of at most size elements, preserving order.
func Split[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// ForEach runs fn over items in chunks of size, with at most parallel chunks
// in flight at once (parallel <= 1 means strictly sequential). A chunk's
// error is logged and counted in Result.Failed; it does not stop or cancel
// the other chunks.
func ForEach[T any](ctx context.Context, items []T, size, parallel int, fn func(ctx context.Context, chunk []T) error) Result {
	chunks := Split(items, size)
	if len(chunks) == 0 {
		return Result{}
	}
	if parallel < 1 {
		parallel = 1
	}

	var mu sync.Mutex
	result := Result{Batches: len(chunks)}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			if err := fn(gctx, chunk); err != nil {
				log.Error().Err(err).Int("batch", i).Int("size", len(chunk)).
					Msg("Batch failed")
				mu.Lock()
				result.Failed++
				mu.Unlock()
			}
			// Errors are absorbed so sibling batches keep running.
			return nil
		})
	}
	g.Wait()

	return result
}
