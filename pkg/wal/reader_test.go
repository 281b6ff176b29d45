package wal

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReader_ReadsRecordsInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "read.wal")

	w, err := NewWriter(path, Options{SyncPolicy: SyncEveryWrite, BufferSize: 1024}, 0)
	require.NoError(t, err)

	_, err = w.Append(Record{Op: OpPut, Space: "kv", Key: []byte("k1"), Value: []byte("first entry")})
	require.NoError(t, err)
	_, err = w.Append(Record{Op: OpPut, Space: "kv", Key: []byte("k2"), Value: []byte("second entry")})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	rec1, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, []byte("first entry"), rec1.Value)

	rec2, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, uint64(2), rec2.LSN)
	require.Equal(t, []byte("second entry"), rec2.Value)

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestReader_ChecksumMismatchOnCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.wal")

	w, err := NewWriter(path, Options{SyncPolicy: SyncEveryWrite}, 0)
	require.NoError(t, err)
	_, err = w.Append(Record{Op: OpPut, Space: "kv", Key: []byte("k"), Value: []byte("critical data")})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	_, err = f.Seek(int64(headerSize+4), 0)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xFF})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Next()
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestReader_TruncatedPayloadIsUnexpectedEOF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "truncated.wal")

	w, err := NewWriter(path, Options{SyncPolicy: SyncEveryWrite}, 0)
	require.NoError(t, err)
	_, err = w.Append(Record{Op: OpPut, Space: "kv", Key: []byte("k"), Value: []byte("loooooong data")})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, os.Truncate(path, int64(headerSize+5)))

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Next()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReader_InvalidMagicRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "badmagic.wal")

	f, err := os.Create(path)
	require.NoError(t, err)
	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:4], 0xCAFEBABE)
	_, err = f.Write(header)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Next()
	require.ErrorIs(t, err, ErrInvalidMagic)
}

func TestReader_TxnCommitBarrierRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commit.wal")

	w, err := NewWriter(path, Options{SyncPolicy: SyncEveryWrite}, 0)
	require.NoError(t, err)
	_, err = w.Append(Record{Op: OpPut, Space: "kv", Key: []byte("k"), Value: []byte("v")})
	require.NoError(t, err)
	_, err = w.Append(Record{Op: OpTxnCommit})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Next()
	require.NoError(t, err)

	commit, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, OpTxnCommit, commit.Op)
}
