package upload

import (
	"sync"
	"time"
)

// Stats collects the durations and sizes of finished uploads.
type Stats struct {
	sum           time.Duration
	bytes         int64
	finishedFiles int64
	mu            sync.Mutex
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{}
}

// Update records a successful upload of size bytes that took d.
func (s *Stats) Update(d time.Duration, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sum += d
	s.bytes += size
	s.finishedFiles++
}

// Average returns the average duration of the finished uploads.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finishedFiles == 0 {
		return 0
	}
	return s.sum / time.Duration(s.finishedFiles)
}

// FinishedCount returns the number of finished uploads.
func (s *Stats) FinishedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedFiles
}

// TotalBytes returns the number of bytes sent by the finished uploads.
func (s *Stats) TotalBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// Throughput returns the average upload speed in bytes per second.
// Parallel uploads overlap, so this is the per-upload speed, not the speed of the whole batch.
func (s *Stats) Throughput() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sum <= 0 {
		return 0
	}
	return float64(s.bytes) / s.sum.Seconds()
}
