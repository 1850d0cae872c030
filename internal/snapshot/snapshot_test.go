package snapshot

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dashdb/dash/internal/model"
	"github.com/dashdb/dash/internal/store"
	"github.com/dashdb/dash/internal/wal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testWAL(t *testing.T) *wal.WAL {
	t.Helper()
	w, err := wal.Open(testLogger(), wal.Config{
		Dir: t.TempDir(),
		SyncEveryRecords: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st := store.New(testLogger())
	require.NoError(t, st.IngestClaim(model.Claim{
		ClaimID: "c1", TenantID: "t1", CanonicalText: "hello", Confidence: 0.9,
	}))

	require.NoError(t, Save(dir, st, 7))

	snap, err := Load(dir)
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Equal(t, uint64(7), snap.WALOffset)
	require.Len(t, snap.Dump.Claims, 1)
}

func TestLoadMissingSnapshotIsNil(t *testing.T) {
	snap, err := Load(t.TempDir())
	require.NoError(t, err)
	require.Nil(t, snap)
}

func TestLoadDetectsTamperedSnapshot(t *testing.T) {
	dir := t.TempDir()
	st := store.New(testLogger())
	require.NoError(t, st.IngestClaim(model.Claim{
		ClaimID: "c1", TenantID: "t1", CanonicalText: "hello", Confidence: 0.9,
	}))
	require.NoError(t, Save(dir, st, 3))

	path := Path(dir)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	data = append(data, []byte(`tampered`)...)
	require.NoError(t, os.WriteFile(path, data, 0o640))

	_, err = Load(dir)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestApplyUnknownKindFailsClosed(t *testing.T) {
	st := store.New(testLogger())
	err := Apply(st, wal.Record{Kind: wal.Kind('Z'), Payload: []byte(`{}`)})
	require.Error(t, err)
}

func TestRecoverFromSnapshotPlusWALDelta(t *testing.T) {
	dir := t.TempDir()
	w := testWAL(t)
	st := store.New(testLogger())

	require.NoError(t, st.IngestClaim(model.Claim{
		ClaimID: "c1", TenantID: "t1", CanonicalText: "snapshot claim", Confidence: 0.8,
	}))
	require.NoError(t, Save(dir, st, w.NextSeq()-1))

	_, err := w.Append(wal.KindClaim, model.Claim{
		ClaimID: "c2", TenantID: "t1", CanonicalText: "wal delta claim", Confidence: 0.7,
	})
	require.NoError(t, err)

	recovered := store.New(testLogger())
	res, err := Recover(testLogger(), dir, recovered, w)
	require.NoError(t, err)
	require.True(t, res.UsedSnapshot)
	require.Equal(t, 1, res.WALDeltaRecordCount)

	c1, ok := recovered.GetClaim("t1", "c1")
	require.True(t, ok)
	require.Equal(t, "snapshot claim", c1.CanonicalText)

	c2, ok := recovered.GetClaim("t1", "c2")
	require.True(t, ok)
	require.Equal(t, "wal delta claim", c2.CanonicalText)
}

func TestRecoverIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w := testWAL(t)
	st := store.New(testLogger())
	require.NoError(t, st.IngestClaim(model.Claim{
		ClaimID: "c1", TenantID: "t1", CanonicalText: "hello", Confidence: 0.8,
	}))
	require.NoError(t, Save(dir, st, w.NextSeq()-1))
	_, err := w.Append(wal.KindClaim, model.Claim{
		ClaimID: "c2", TenantID: "t1", CanonicalText: "world", Confidence: 0.6,
	})
	require.NoError(t, err)

	r1 := store.New(testLogger())
	res1, err := Recover(testLogger(), dir, r1, w)
	require.NoError(t, err)

	r2 := store.New(testLogger())
	res2, err := Recover(testLogger(), dir, r2, w)
	require.NoError(t, err)

	require.Equal(t, res1.WALDeltaRecordCount, res2.WALDeltaRecordCount)
	require.Equal(t, len(r1.Dump().Claims), len(r2.Dump().Claims))
}

func TestCheckpointTrigger(t *testing.T) {
	trig := NewTrigger(CheckpointConfig{MaxWALRecords: 3})
	require.False(t, trig.ShouldCheckpoint())
	trig.RecordAppend(10)
	trig.RecordAppend(10)
	require.False(t, trig.ShouldCheckpoint())
	trig.RecordAppend(10)
	require.True(t, trig.ShouldCheckpoint())
	trig.Reset()
	require.False(t, trig.ShouldCheckpoint())
}
