// Package history buffers terminal inference events and flushes them to the
// database in batches, and keeps a short-lived redis cache of last-known
// endpoint metadata for operability. It plugs into the invocation governor
// as a metrics callback; losing history must never fail an inference call.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mlforge/internal/shared"
)

type Recorder struct {
	mu      sync.Mutex
	pending []shared.InferenceEvent
	timer   *time.Timer
	retries int

	db  *sql.DB
	rdb *redis.Client
	log *zap.SugaredLogger
}

func NewRecorder(db *sql.DB, rdb *redis.Client, log *zap.SugaredLogger) *Recorder {
	return &Recorder{db: db, rdb: rdb, log: log}
}

// Record buffers one terminal inference event. Matches
// shared.MetricsCallback so it wires straight into monitoring options. Safe
// for concurrent use.
func (r *Recorder) Record(ev shared.InferenceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, ev)

	// First event after a flush arms the timer.
	if r.timer == nil {
		r.timer = time.AfterFunc(shared.HistoryFlushInterval, func() {
			retry := r.Flush()
			for retry != 0 {
				r.log.Warn("History flush requested retry, waiting...")
				time.Sleep(retry)
				retry = r.Flush()
			}
		})
	}
}

// Flush writes all buffered events in one batched insert. Returns a non-zero
// delay when the write failed and should be retried; after the retry budget
// is spent the batch is dropped with an error log rather than growing
// unboundedly.
func (r *Recorder) Flush() time.Duration {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()

	if len(batch) == 0 {
		return 0
	}
	if err := saveEvents(r.db, batch); err != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.retries++
		if r.retries > shared.MaxFlushRetries {
			r.log.Errorw("Dropping history batch after retries exhausted",
				"events", len(batch),
				"error", err.Error())
			r.retries = 0
			return 0
		}
		// Put the batch back in front of anything recorded meanwhile.
		r.pending = append(batch, r.pending...)
		r.log.Warnw("Failed to flush history, will retry",
			"events", len(batch),
			"attempt", r.retries,
			"error", err.Error())
		return shared.HistoryRetryDelay
	}

	r.mu.Lock()
	r.retries = 0
	r.mu.Unlock()
	r.log.Infow("Flushed invocation history", "events", len(batch))
	return 0
}

// Shutdown stops the flush timer and drains the buffer.
func (r *Recorder) Shutdown() {
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()
	if retry := r.Flush(); retry != 0 {
		r.log.Warn("Final history flush failed")
	}
}

func saveEvents(db *sql.DB, events []shared.InferenceEvent) error {
	if db == nil {
		return nil
	}
	sqlStr := `INSERT INTO invocation (
            endpoint, success, latency_ms, error, created_at
        ) VALUES`
	vals := []any{}
	for _, ev := range events {
		sqlStr += "(?, ?, ?, ?, ?),"
		vals = append(vals, ev.EndpointName, ev.Success, ev.Latency.Milliseconds(), ev.Error, ev.Timestamp)
	}
	sqlStr = sqlStr[:len(sqlStr)-1]

	if _, err := db.Exec(sqlStr, vals...); err != nil {
		return fmt.Errorf("failed to save invocation history: %w", err)
	}
	return nil
}

// EndpointRecord is what gets cached per endpoint after a deploy or a
// successful discovery.
type EndpointRecord struct {
	Name       string `json:"name"`
	ConfigName string `json:"config_name,omitempty"`
	ModelName  string `json:"model_name,omitempty"`
	Status     string `json:"status,omitempty"`
}

func endpointKey(name string) string {
	return fmt.Sprintf("v1:endpoint:%s", name)
}

// CacheEndpoint stores endpoint metadata with a TTL; failures are logged and
// swallowed.
func (r *Recorder) CacheEndpoint(ctx context.Context, rec EndpointRecord) {
	if r.rdb == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		r.log.Warnw("Failed to marshal endpoint record", "endpoint", rec.Name, "error", err)
		return
	}
	if err := r.rdb.Set(ctx, endpointKey(rec.Name), data, shared.EndpointCacheTTL).Err(); err != nil {
		r.log.Warnw("Failed to cache endpoint record", "endpoint", rec.Name, "error", err)
	}
}

// LookupEndpoint returns the cached record, or nil on miss or error.
func (r *Recorder) LookupEndpoint(ctx context.Context, name string) *EndpointRecord {
	if r.rdb == nil {
		return nil
	}
	data, err := r.rdb.Get(ctx, endpointKey(name)).Bytes()
	if err != nil {
		return nil
	}
	var rec EndpointRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		r.log.Warnw("Corrupt endpoint cache entry", "endpoint", name, "error", err)
		return nil
	}
	return &rec
}
