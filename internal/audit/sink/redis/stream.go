// Package redis fans audit records out on a capped Redis stream so that
// monitors can tail authority decisions in near real time.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"actiongate/internal/audit"
)

var xaddDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "actiongate_audit_redis_xadd_duration_seconds",
	Help:    "Duration of Redis XADD pipelines for audit batches",
	Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
})

type Stream struct {
	client *redis.Client
	stream string
	maxLen int64
}

// New publishes to stream, trimming it to roughly maxLen entries.
func New(client *redis.Client, stream string, maxLen int64) *Stream {
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &Stream{client: client, stream: stream, maxLen: maxLen}
}

func (s *Stream) Name() string { return "redis" }

func (s *Stream) Write(ctx context.Context, records []audit.Record) error {
	start := time.Now()
	defer func() { xaddDuration.Observe(time.Since(start).Seconds()) }()

	pipe := s.client.Pipeline()
	for _, r := range records {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			MaxLen: s.maxLen,
			Approx: true,
			Values: map[string]any{
				"chain_id":  r.ChainID,
				"sequence":  strconv.FormatUint(r.Sequence, 10),
				"timestamp": r.Timestamp.Format(time.RFC3339Nano),
				"type":      string(r.Type),
				"category":  string(r.Type.Category()),
				"data":      string(r.Data),
				"prev_hash": r.PrevHash,
				"hash":      r.Hash,
			},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("xadd audit batch: %w", err)
	}
	return nil
}

// Close leaves the shared client open; its owner closes it.
func (s *Stream) Close() error { return nil }
