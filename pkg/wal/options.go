package wal

import "time"

// SyncPolicy selects the WAL's durability strategy.
type SyncPolicy int

const (
	// SyncEveryWrite calls fsync() after every write. Safest, lowest
	// throughput.
	SyncEveryWrite SyncPolicy = iota

	// SyncInterval calls fsync() on a periodic background tick. Balanced.
	SyncInterval

	// SyncBatch calls fsync() once the buffer crosses a byte threshold.
	// Highest throughput.
	SyncBatch
)

// Options configures a Writer.
type Options struct {
	// BufferSize is the bufio buffer size before flushing to the OS.
	BufferSize int

	// SyncPolicy selects the durability strategy.
	SyncPolicy SyncPolicy

	// SyncIntervalDuration is the tick period for SyncInterval.
	SyncIntervalDuration time.Duration

	// SyncBatchBytes is the accumulated-bytes threshold for SyncBatch.
	SyncBatchBytes int64
}

// DefaultOptions returns a safe default configuration.
func DefaultOptions() Options {
	return Options{
		BufferSize:           64 * 1024,
		SyncPolicy:           SyncInterval,
		SyncIntervalDuration: 200 * time.Millisecond,
		SyncBatchBytes:       1 * 1024 * 1024,
	}
}
