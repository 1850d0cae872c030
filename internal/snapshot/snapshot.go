// Package snapshot implements the DASH snapshot and checkpoint discipline
// (C3): periodically materializing the in-memory store to disk so startup
// does not have to replay the write-ahead log from the beginning, plus the
// replay orchestration that reconstructs a store from a snapshot and the WAL
// delta past it.
//
// The atomic write-temp+fsync+rename publish technique is grounded on
// internal/wal's SaveCheckpoint; the record-kind dispatch in Replay mirrors
// the teacher's internal/service/trace/wal.go Decode switch, generalized
// from trace spans to claim/evidence/edge/commit records.
package snapshot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dashdb/dash/internal/integrity"
	"github.com/dashdb/dash/internal/model"
	"github.com/dashdb/dash/internal/store"
	"github.com/dashdb/dash/internal/wal"
)

// fileName is the on-disk snapshot artifact name within a store's data dir.
const fileName = "snapshot.json"

// Snapshot is the on-disk shape of a point-in-time store materialization.
// WALOffset is the highest WAL sequence number reflected in Dump; replay
// resumes strictly after this offset.
type Snapshot struct {
	WALOffset uint64      `json:"wal_offset"`
	Dump      store.Dump  `json:"dump"`
	Checksum  string      `json:"checksum"`
}

func checksumOf(d store.Dump, offset uint64) (string, error) {
	body, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("snapshot: marshal dump for checksum: %w", err)
	}
	return integrity.ContentHash(fmt.Sprintf("%d", offset), string(body)), nil
}

// Path returns the on-disk path of the snapshot file within dir.
func Path(dir string) string { return filepath.Join(dir, fileName) }

// Save materializes st to dir atomically: write to a temp file, fsync, then
// rename over any prior snapshot. A reader can never observe a partially
// written snapshot file.
func Save(dir string, st *store.Store, walOffset uint64) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("snapshot: create dir: %w", err)
	}

	d := st.Dump()
	sum, err := checksumOf(d, walOffset)
	if err != nil {
		return err
	}
	snap := Snapshot{WALOffset: walOffset, Dump: d, Checksum: sum}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}

	path := Path(dir)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640) //nolint:gosec // path constructed from dir
	if err != nil {
		return fmt.Errorf("snapshot: open tmp: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close() //nolint:errcheck,gosec // best effort on error path
		return fmt.Errorf("snapshot: write tmp: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close() //nolint:errcheck,gosec // best effort on error path
		return fmt.Errorf("snapshot: fsync tmp: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("snapshot: close tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("snapshot: rename: %w", err)
	}
	return nil
}

// Load reads and verifies the snapshot in dir. A missing snapshot is not an
// error: it returns (nil, nil) so callers fall back to a WAL-only replay
// starting from offset 0 (the replay_only boundary state).
func Load(dir string) (*Snapshot, error) {
	data, err := os.ReadFile(Path(dir)) //nolint:gosec // path constructed from dir
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("snapshot: read: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrCorrupt, err)
	}

	want, err := checksumOf(snap.Dump, snap.WALOffset)
	if err != nil {
		return nil, err
	}
	if want != snap.Checksum {
		return nil, fmt.Errorf("%w: snapshot checksum mismatch", ErrCorrupt)
	}
	return &snap, nil
}

// ErrCorrupt signals a snapshot file that could not be parsed or failed its
// own checksum. Callers
// must fail closed: discard the snapshot and replay the WAL from the start
// rather than load a possibly-truncated or tampered dump.
var ErrCorrupt = fmt.Errorf("snapshot: corrupt snapshot")

// CommitRecord is the KindBatchCommit WAL payload: records that a batch
// with CommitID has been durably applied, carrying the content hash of its
// payload so a replayed batch with the same commit_id but different
// contents is detected as a conflict rather than silently reapplied.
type CommitRecord struct {
	TenantID string `json:"tenant_id"`
	CommitID string `json:"commit_id"`
	Hash string `json:"hash"`
}

// Result reports what a Recover call did, for startup logging and the
// storage-visibility debug surface.
type Result struct {
	UsedSnapshot bool
	SnapshotRecordCount int
	WALDeltaRecordCount int
	FromOffset uint64
	ToOffset uint64
}

// Recover reconstructs st from dir's snapshot (if present and valid) plus
// every WAL record strictly after the snapshot's offset. It is idempotent:
// calling it again against an unmodified WAL and snapshot reapplies the same
// records and leaves the store in the same state, since every underlying
// apply path (IngestClaim, IngestEvidence, IngestEdge, RecordCommit) is
// itself idempotent under re-application of an unchanged record.
func Recover(logger *slog.Logger, dir string, st *store.Store, w *wal.WAL) (Result, error) {
	var res Result

	snap, err := Load(dir)
	if err != nil {
		logger.Warn("snapshot: failed to load, falling back to full WAL replay", "error", err)
		snap = nil
	}

	fromOffset := uint64(0)
	if snap != nil {
		if err := st.LoadDump(snap.Dump); err != nil {
			return res, fmt.Errorf("snapshot: apply dump: %w", err)
		}
		fromOffset = snap.WALOffset
		res.UsedSnapshot = true
		res.SnapshotRecordCount = len(snap.Dump.Claims) + len(snap.Dump.Evidence) + len(snap.Dump.Edges)
	}
	res.FromOffset = fromOffset

	n, err := w.Replay(fromOffset, func(r wal.Record) error {
		return Apply(st, r)
	})
	if err != nil {
		return res, fmt.Errorf("snapshot: wal replay: %w", err)
	}
	res.WALDeltaRecordCount = n
	res.ToOffset = w.NextSeq()
	return res, nil
}

// Apply decodes one WAL record and applies it to st. Claim, evidence, and
// edge records go through the store's normal validating ingest paths so
// replay enforces the same invariants as live writes. An unrecognized kind
// fails closed rather than silently skipping a record — whatever wrote it
// understood a payload shape this build does not.
func Apply(st *store.Store, r wal.Record) error {
	switch r.Kind {
	case wal.KindClaim:
		var c model.Claim
		if err := json.Unmarshal(r.Payload, &c); err != nil {
			return fmt.Errorf("snapshot: decode claim record seq=%d: %w", r.Seq, err)
		}
		return st.IngestClaim(c)

	case wal.KindEvidence:
		var e model.Evidence
		if err := json.Unmarshal(r.Payload, &e); err != nil {
			return fmt.Errorf("snapshot: decode evidence record seq=%d: %w", r.Seq, err)
		}
		return st.IngestEvidence(e)

	case wal.KindClaimEdge:
		var e model.ClaimEdge
		if err := json.Unmarshal(r.Payload, &e); err != nil {
			return fmt.Errorf("snapshot: decode edge record seq=%d: %w", r.Seq, err)
		}
		return st.IngestEdge(e)

	case wal.KindBatchCommit:
		var c CommitRecord
		if err := json.Unmarshal(r.Payload, &c); err != nil {
			return fmt.Errorf("snapshot: decode commit record seq=%d: %w", r.Seq, err)
		}
		st.RecordCommit(c.CommitID, c.Hash)
		return nil

	case wal.KindClaimVector, wal.KindSnapshotBoundary:
		// Reserved for the ANN index's own recovery path and for internal
		// checkpoint markers respectively; neither mutates claim state.
		return nil

	default:
		return fmt.Errorf("snapshot: unrecognized WAL record kind %q at seq=%d", r.Kind, r.Seq)
	}
}
