package invoke

import (
	"context"
	"errors"
	"sync"

	"mlforge/internal/config"
	"mlforge/internal/shared"
)

// InvokeBatch fans payloads out through the single-invocation path in
// windows of MaxBatchSize x Concurrency. Calls within a window run
// concurrently; the window boundary is a barrier, and no call in window N+1
// starts before every call in window N has settled. Any failure aborts the
// batch: already-computed results are discarded and the first error is
// returned.
func (g *Governor) InvokeBatch(ctx context.Context, endpoint string, payloads []any, opts *CallOptions) ([]*Response, error) {
	if opts == nil {
		opts = &CallOptions{}
	}
	cfg := config.Merge(g.cfg, opts.Config)
	if !cfg.Batch.Enabled {
		return nil, errors.Join(errors.New("enable batch processing before calling InvokeBatch"), shared.ErrBatchDisabled)
	}
	if len(payloads) == 0 {
		return []*Response{}, nil
	}

	window := cfg.Batch.MaxBatchSize * cfg.Batch.Concurrency
	if window < 1 {
		window = 1
	}

	results := make([]*Response, len(payloads))
	for lo := 0; lo < len(payloads); lo += window {
		hi := min(lo+window, len(payloads))

		var wg sync.WaitGroup
		var mu sync.Mutex
		var firstErr error
		for i := lo; i < hi; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				resp, err := g.Invoke(ctx, endpoint, payloads[i], opts)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
				results[i] = resp
			}(i)
		}
		wg.Wait()

		if firstErr != nil {
			g.log.Errorw("Batch window failed, aborting batch",
				"endpoint", endpoint,
				"window_start", lo,
				"window_end", hi,
				"error", firstErr.Error())
			return nil, firstErr
		}
	}
	return results, nil
}
