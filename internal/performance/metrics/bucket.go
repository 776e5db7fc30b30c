package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// bucketTotals are the cumulative request counters captured into a bucket.
type bucketTotals struct {
	requests  int64
	successes int64
	failures  int64
	bytes     int64
}

// TimeBucketStore keeps a bounded ring of time buckets.
//
// Interval counters are updated lock-free by request recorders and swapped
// out by the emitter when a bucket is cut.
type TimeBucketStore struct {
	mu         sync.RWMutex
	buckets    []*TimeBucket
	head       int
	count      int
	maxBuckets int
	lastCut    time.Time

	intervalRequests atomic.Int64
	intervalFailures atomic.Int64
}

// NewTimeBucketStore creates a store holding at most maxBuckets buckets.
func NewTimeBucketStore(maxBuckets int) *TimeBucketStore {
	if maxBuckets <= 0 {
		maxBuckets = 3600
	}

	return &TimeBucketStore{
		buckets:    make([]*TimeBucket, maxBuckets),
		maxBuckets: maxBuckets,
		lastCut:    time.Now(),
	}
}

// RecordRequest adds one request to the current interval.
func (tbs *TimeBucketStore) RecordRequest(failed bool) {
	tbs.intervalRequests.Add(1)
	if failed {
		tbs.intervalFailures.Add(1)
	}
}

// cut closes the current interval and appends a bucket.
func (tbs *TimeBucketStore) cut(totals bucketTotals, latencies LatencyPercentiles, activeVUs int, phase Phase) *TimeBucket {
	tbs.mu.Lock()
	defer tbs.mu.Unlock()

	now := time.Now()
	requests := tbs.intervalRequests.Swap(0)
	failures := tbs.intervalFailures.Swap(0)

	seconds := now.Sub(tbs.lastCut).Seconds()
	if seconds <= 0 {
		seconds = 1
	}

	errorRate := 0.0
	if requests > 0 {
		errorRate = float64(failures) / float64(requests)
	}

	bucket := &TimeBucket{
		Timestamp:         now,
		TotalRequests:     totals.requests,
		TotalSuccesses:    totals.successes,
		TotalFailures:     totals.failures,
		TotalBytes:        totals.bytes,
		IntervalRequests:  requests,
		IntervalRPS:       float64(requests) / seconds,
		IntervalErrorRate: errorRate,
		LatencyMin:        latencies.Min,
		LatencyMax:        latencies.Max,
		LatencyP50:        latencies.P50,
		LatencyP90:        latencies.P90,
		LatencyP95:        latencies.P95,
		LatencyP99:        latencies.P99,
		ActiveVUs:         activeVUs,
		Phase:             phase,
	}

	tbs.buckets[tbs.head] = bucket
	tbs.head = (tbs.head + 1) % tbs.maxBuckets
	if tbs.count < tbs.maxBuckets {
		tbs.count++
	}
	tbs.lastCut = now

	return bucket
}

// Buckets returns all buckets in chronological order.
func (tbs *TimeBucketStore) Buckets() []*TimeBucket {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()

	if tbs.count == 0 {
		return nil
	}

	start := 0
	if tbs.count == tbs.maxBuckets {
		start = tbs.head
	}

	result := make([]*TimeBucket, tbs.count)
	for i := range result {
		result[i] = tbs.buckets[(start+i)%tbs.maxBuckets]
	}
	return result
}

// Latest returns the most recent bucket, or nil if none.
func (tbs *TimeBucketStore) Latest() *TimeBucket {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()

	if tbs.count == 0 {
		return nil
	}
	return tbs.buckets[(tbs.head-1+tbs.maxBuckets)%tbs.maxBuckets]
}

// Count returns the number of buckets stored.
func (tbs *TimeBucketStore) Count() int {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()
	return tbs.count
}

// SteadyStateRPS averages the interval RPS of buckets cut during the steady
// phase. The second result is the number of buckets used.
func (tbs *TimeBucketStore) SteadyStateRPS() (float64, int) {
	var total float64
	n := 0
	for _, b := range tbs.Buckets() {
		if b.Phase == PhaseSteady {
			total += b.IntervalRPS
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return total / float64(n), n
}
