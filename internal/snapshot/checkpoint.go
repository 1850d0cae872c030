package snapshot

import "sync/atomic"

// CheckpointConfig bounds how much WAL delta accumulates before a new
// snapshot should be taken: checkpoint.max_wal_records / max_wal_bytes.
type CheckpointConfig struct {
	MaxWALRecords uint64 // 0 disables the record-count trigger
	MaxWALBytes uint64 // 0 disables the byte-size trigger
}

// Trigger tracks WAL growth since the last checkpoint using counters
// maintained incrementally on the ingest path, never by rescanning the WAL
// directory — the same cheap-update discipline as the WAL's own unsynced/
// buffered metrics.
type Trigger struct {
	cfg CheckpointConfig

	recordsSinceCheckpoint atomic.Uint64
	bytesSinceCheckpoint atomic.Uint64
}

// NewTrigger constructs a Trigger for cfg.
func NewTrigger(cfg CheckpointConfig) *Trigger {
	return &Trigger{cfg: cfg}
}

// RecordAppend updates the trigger's counters after a WAL append of
// payloadSize bytes. Call this once per successful append on the ingest path.
func (t *Trigger) RecordAppend(payloadSize int) {
	t.recordsSinceCheckpoint.Add(1)
	t.bytesSinceCheckpoint.Add(uint64(payloadSize)) //nolint:gosec // size bounded by maxPayload
}

// ShouldCheckpoint reports whether accumulated WAL growth has crossed either
// configured threshold. A zero-valued threshold never fires.
func (t *Trigger) ShouldCheckpoint() bool {
	if t.cfg.MaxWALRecords > 0 && t.recordsSinceCheckpoint.Load() >= t.cfg.MaxWALRecords {
		return true
	}
	if t.cfg.MaxWALBytes > 0 && t.bytesSinceCheckpoint.Load() >= t.cfg.MaxWALBytes {
		return true
	}
	return false
}

// Reset zeroes the counters after a checkpoint has been taken.
func (t *Trigger) Reset() {
	t.recordsSinceCheckpoint.Store(0)
	t.bytesSinceCheckpoint.Store(0)
}

// Counters reports the current accumulation, for the debug/metrics surface.
func (t *Trigger) Counters() (records, bytes uint64) {
	return t.recordsSinceCheckpoint.Load(), t.bytesSinceCheckpoint.Load()
}
