package wal

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Writer appends Records to a log file under a configured durability
// policy. It also assigns the LSNs its Records carry: log ordering is the
// writer's concern, there is no separate counter type alongside it.
type Writer struct {
	mu      sync.Mutex
	file    *os.File
	bw      *bufio.Writer
	options Options
	path    string

	lsn uint64 // atomic; last LSN handed out

	batchBytes int64 // bytes written since the last sync

	done   chan struct{}
	ticker *time.Ticker
	closed bool
}

// NewWriter opens (or creates) the log file in append mode. startLSN seeds
// the LSN counter — normally the highest LSN observed during replay, so
// appends made after reopening a log continue its sequence instead of
// restarting it.
func NewWriter(path string, opts Options, startLSN uint64) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("wal: failed to open file: %w", err)
	}

	w := &Writer{
		file:    f,
		bw:      bufio.NewWriterSize(f, opts.BufferSize),
		options: opts,
		path:    path,
		lsn:     startLSN,
		done:    make(chan struct{}),
	}

	if opts.SyncPolicy == SyncInterval {
		w.ticker = time.NewTicker(opts.SyncIntervalDuration)
		go w.backgroundSync()
	}

	return w, nil
}

// Path returns the WAL's file path.
func (w *Writer) Path() string { return w.path }

// Append assigns the next LSN to rec, writes it, and applies the writer's
// configured sync policy. The assigned LSN is returned so a caller that
// needs to correlate a write with its log position (the transaction
// manager's commit barrier) can record it.
func (w *Writer) Append(rec Record) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec.LSN = atomic.AddUint64(&w.lsn, 1)
	frame := rec.Encode()

	n, err := w.bw.Write(frame)
	if err != nil {
		return rec.LSN, err
	}
	w.batchBytes += int64(n)

	switch w.options.SyncPolicy {
	case SyncEveryWrite:
		return rec.LSN, w.syncLocked()
	case SyncBatch:
		if w.batchBytes >= w.options.SyncBatchBytes {
			return rec.LSN, w.syncLocked()
		}
	}
	return rec.LSN, nil
}

// Sync forces the buffered writes to disk.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

func (w *Writer) syncLocked() error {
	if err := w.bw.Flush(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.batchBytes = 0
	return nil
}

// Close flushes, fsyncs, and closes the file, stopping the background ticker.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.ticker != nil {
		w.ticker.Stop()
		close(w.done)
	}

	if err := w.syncLocked(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

func (w *Writer) backgroundSync() {
	for {
		select {
		case <-w.ticker.C:
			w.Sync()
		case <-w.done:
			return
		}
	}
}
