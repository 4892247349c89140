// Package stats keeps per-track issuance counters fed from the issuance
// queue.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"certify/internal/issuance"
	"certify/internal/queue"
)

// Snapshot is the counter state returned by /v1/admin/stats.
type Snapshot struct {
	Total   int64            `json:"total"`
	ByTrack map[string]int64 `json:"by_track"`
	ByDay   map[string]int64 `json:"by_day"`
}

// Recorder counts issued certificates.
type Recorder interface {
	Record(ctx context.Context, rec issuance.IssuanceRecord) error
	Snapshot(ctx context.Context) (Snapshot, error)
}

const (
	fieldTotal  = "total"
	prefixTrack = "track:"
	prefixDay   = "day:"
)

func fields(rec issuance.IssuanceRecord) []string {
	return []string{
		fieldTotal,
		prefixTrack + rec.Track.String(),
		prefixDay + rec.IssuedAt.UTC().Format("2006-01-02"),
	}
}

func newSnapshot() Snapshot {
	return Snapshot{ByTrack: map[string]int64{}, ByDay: map[string]int64{}}
}

func (s *Snapshot) add(field string, n int64) {
	switch {
	case field == fieldTotal:
		s.Total += n
	case strings.HasPrefix(field, prefixTrack):
		s.ByTrack[strings.TrimPrefix(field, prefixTrack)] += n
	case strings.HasPrefix(field, prefixDay):
		s.ByDay[strings.TrimPrefix(field, prefixDay)] += n
	}
}

// RedisRecorder keeps the counters in one Redis hash so every API replica
// and worker sees the same numbers.
type RedisRecorder struct {
	client *redis.Client
	key    string
}

func NewRedisRecorder(client *redis.Client, key string) *RedisRecorder {
	if key == "" {
		key = "certify:stats"
	}
	return &RedisRecorder{client: client, key: key}
}

func (r *RedisRecorder) Record(ctx context.Context, rec issuance.IssuanceRecord) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, f := range fields(rec) {
			p.HIncrBy(ctx, r.key, f, 1)
		}
		return nil
	})
	return err
}

func (r *RedisRecorder) Snapshot(ctx context.Context) (Snapshot, error) {
	raw, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return Snapshot{}, err
	}
	snap := newSnapshot()
	for field, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Snapshot{}, fmt.Errorf("stats field %s: %w", field, err)
		}
		snap.add(field, n)
	}
	return snap, nil
}

// MemoryRecorder is the single-process Recorder.
type MemoryRecorder struct {
	mu   sync.Mutex
	snap Snapshot
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{snap: newSnapshot()}
}

func (m *MemoryRecorder) Record(ctx context.Context, rec issuance.IssuanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range fields(rec) {
		m.snap.add(f, 1)
	}
	return nil
}

func (m *MemoryRecorder) Snapshot(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := newSnapshot()
	out.Total = m.snap.Total
	for k, v := range m.snap.ByTrack {
		out.ByTrack[k] = v
	}
	for k, v := range m.snap.ByDay {
		out.ByDay[k] = v
	}
	return out, nil
}

// Consume records every issuance event from q until ctx ends. Malformed
// messages and record failures are logged and skipped. It returns the
// number of events recorded.
func Consume(ctx context.Context, q queue.Queue, rec Recorder, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	messages, err := q.Consume(ctx)
	if err != nil {
		return 0, fmt.Errorf("queue consume init failed: %w", err)
	}
	n := 0
	for msg := range messages {
		if msg.Type != issuance.EventIssued {
			logger.Debug("skipping message", "type", msg.Type)
			continue
		}
		ev, err := issuance.DecodeIssued(msg)
		if err != nil {
			logger.Warn("dropping malformed issuance event", "err", err)
			continue
		}
		if err := rec.Record(ctx, ev); err != nil {
			logger.Error("recording issuance failed", "reg", ev.Reg, "track", ev.Track, "err", err)
			continue
		}
		n++
		logger.Debug("issuance recorded", "reg", ev.Reg, "track", ev.Track)
	}
	return n, nil
}
