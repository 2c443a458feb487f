// Package timeseries implements per-key token usage recording and
// bucketised queries, backed by storage.TimeSeriesStore.
package timeseries

import (
	"context"
	"time"

	"github.com/routellm/gateway/internal/storage"
)

const retention = 24*time.Hour + time.Hour

// Point is one bucketed sample in a Query result.
type Point struct {
	Timestamp time.Time
	Tokens    int
}

// Series records and queries per-key token usage.
type Series struct {
	store storage.TimeSeriesStore
	now   func() time.Time
}

// New constructs a Series. now defaults to time.Now if nil.
func New(store storage.TimeSeriesStore, now func() time.Time) *Series {
	if now == nil {
		now = time.Now
	}
	return &Series{store: store, now: now}
}

// Record appends a sample and opportunistically prunes anything older than
// the 24h retention window. A non-positive token count is a no-op.
func (s *Series) Record(ctx context.Context, keyID string, tokens int) error {
	if tokens <= 0 {
		return nil
	}
	now := s.now()
	if err := s.store.Append(ctx, keyID, now, tokens); err != nil {
		return err
	}
	return s.store.Prune(ctx, keyID, now.Add(-24*time.Hour))
}

// Query implements the bucketised window query: buckets are aligned so the
// last bucket's upper edge is the next step boundary at or after now, and
// every sample within the window is summed into its bucket, clamping
// anything at or past the window's end into the final bucket.
func (s *Series) Query(ctx context.Context, keyID string, windowMinutes, stepSeconds int) ([]Point, error) {
	now := s.now()
	windowSeconds := windowMinutes * 60
	bucketCount := windowSeconds / stepSeconds
	if bucketCount < 1 {
		bucketCount = 1
	}

	step := time.Duration(stepSeconds) * time.Second
	// Align up to the next step boundary so the last bucket includes now,
	// matching the original's now_aligned_up computation on Unix seconds.
	nowUnix := now.Unix()
	endUnix := ((nowUnix + int64(stepSeconds) - 1) / int64(stepSeconds)) * int64(stepSeconds)
	end := time.Unix(endUnix, 0).UTC()
	start := end.Add(-time.Duration(bucketCount) * step)

	samples, err := s.store.Samples(ctx, keyID, start)
	if err != nil {
		return nil, err
	}

	buckets := make([]int, bucketCount)
	for _, sample := range samples {
		idx := int(sample.Timestamp.Sub(start) / step)
		if idx < 0 {
			continue
		}
		if idx >= bucketCount {
			idx = bucketCount - 1
		}
		buckets[idx] += sample.Tokens
	}

	points := make([]Point, bucketCount)
	for i, tokens := range buckets {
		points[i] = Point{Timestamp: start.Add(time.Duration(i) * step), Tokens: tokens}
	}
	return points, nil
}

// KeysWithData lists every key ID that has at least one retained sample.
func (s *Series) KeysWithData(ctx context.Context) ([]string, error) {
	return s.store.KeysWithData(ctx)
}

// SampleCount reports how many samples are retained for a key.
func (s *Series) SampleCount(ctx context.Context, keyID string) (int, error) {
	return s.store.SampleCount(ctx, keyID)
}

// RetentionTTL is exported for sqlite storage implementations that need to
// set an explicit expiry matching the original's "window + 1h buffer" TTL.
func RetentionTTL() time.Duration { return retention }
