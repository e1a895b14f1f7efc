package stats

import (
	"fmt"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Send latency is recorded in microseconds, up to 10 seconds.
const (
	minLatency = 1
	maxLatency = 10_000_000
	precision  = 2
)

// Snapshot is the state of the transfer statistics.
type Snapshot struct {
	Total        int64
	Transferred  int64
	Blocks       int64
	// FailedBlocks counts blocks which could not be sent to any destination.
	FailedBlocks int64
	Elapsed      time.Duration
	LatencyP50   time.Duration
	LatencyP99   time.Duration
	LatencyMax   time.Duration
}

// Throughput returns average transfer rate in bytes per second.
func (s Snapshot) Throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Transferred) / s.Elapsed.Seconds()
}

// Progress returns percentage of transferred data, -1 if total size is unknown.
func (s Snapshot) Progress() float64 {
	if s.Total <= 0 {
		return -1
	}
	return 100 * float64(s.Transferred) / float64(s.Total)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"bytes=%d blocks=%d failed=%d elapsed=%s rate=%.0fB/s p50/p99/max=%s/%s/%s",
		s.Transferred, s.Blocks, s.FailedBlocks, s.Elapsed, s.Throughput(), s.LatencyP50, s.LatencyP99, s.LatencyMax)
}

// Tracker collects statistics of the transfer.
type Tracker struct {
	total   int64
	started time.Time

	mu          sync.Mutex
	transferred int64
	blocks      int64
	failed      int64
	hist        *hdrhistogram.Histogram
}

// New creates tracker for the input of the given size, negative size means unknown.
func New(total int64) *Tracker {
	return &Tracker{
		total:   total,
		started: time.Now(),
		hist:    hdrhistogram.New(minLatency, maxLatency, precision),
	}
}

// Add records sent block.
func (t *Tracker) Add(n int, sendTime time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.transferred += int64(n)
	t.blocks++
	_ = t.hist.RecordValue(min(max(sendTime.Microseconds(), minLatency), maxLatency))
}

// Fail records block which was not delivered to any destination.
func (t *Tracker) Fail() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failed++
}

// Snapshot returns current statistics.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Snapshot{
		Total:        t.total,
		Transferred:  t.transferred,
		Blocks:       t.blocks,
		FailedBlocks: t.failed,
		Elapsed:      time.Since(t.started),
		LatencyP50:   time.Duration(t.hist.ValueAtQuantile(50)) * time.Microsecond,
		LatencyP99:   time.Duration(t.hist.ValueAtQuantile(99)) * time.Microsecond,
		LatencyMax:   time.Duration(t.hist.Max()) * time.Microsecond,
	}
}
