package wal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriter_IntervalSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interval.wal")

	opts := Options{
		SyncPolicy:           SyncInterval,
		SyncIntervalDuration: 20 * time.Millisecond,
		BufferSize:           1024,
	}
	w, err := NewWriter(path, opts, 0)
	require.NoError(t, err)

	_, err = w.Append(Record{Op: OpPut, Space: "kv", Key: []byte("k"), Value: []byte("v")})
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NotZero(t, info.Size(), "background sync should have flushed the write to disk")

	require.NoError(t, w.Close())
}

func TestWriter_BatchSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.wal")

	opts := Options{SyncPolicy: SyncBatch, SyncBatchBytes: 50, BufferSize: 1024}
	w, err := NewWriter(path, opts, 0)
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 4; i++ {
		_, err := w.Append(Record{Op: OpPut, Space: "kv", Key: []byte("k"), Value: []byte("12345")})
		require.NoError(t, err)
	}

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NotZero(t, info.Size(), "crossing the batch threshold should trigger a sync")
}

func TestWriter_AppendAssignsMonotonicLSNs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lsn.wal")
	w, err := NewWriter(path, DefaultOptions(), 10)
	require.NoError(t, err)
	defer w.Close()

	lsn1, err := w.Append(Record{Op: OpPut, Space: "kv", Key: []byte("a"), Value: []byte("1")})
	require.NoError(t, err)
	require.Equal(t, uint64(11), lsn1, "Append continues the LSN sequence from startLSN")

	lsn2, err := w.Append(Record{Op: OpPut, Space: "kv", Key: []byte("b"), Value: []byte("2")})
	require.NoError(t, err)
	require.Equal(t, uint64(12), lsn2)
}

func TestWriter_AppendErrorsOnClosedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closed.wal")
	w, err := NewWriter(path, Options{SyncPolicy: SyncEveryWrite, BufferSize: 1024}, 0)
	require.NoError(t, err)

	w.file.Close()
	_, err = w.Append(Record{Op: OpPut, Space: "kv", Key: []byte("k"), Value: []byte("v")})
	require.Error(t, err)
}

func TestWriter_CloseErrorsWhenFileAlreadyClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "close-error.wal")
	w, err := NewWriter(path, DefaultOptions(), 0)
	require.NoError(t, err)

	_, err = w.Append(Record{Op: OpPut, Space: "kv", Key: []byte("k"), Value: []byte("v")})
	require.NoError(t, err)

	w.file.Close()
	require.Error(t, w.Close())
}

func TestNewWriter_ErrorOpeningDirectoryAsFile(t *testing.T) {
	dir := t.TempDir()
	_, err := NewWriter(dir, DefaultOptions(), 0)
	require.Error(t, err)
}
