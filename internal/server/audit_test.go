package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuditLogAppendAndVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := OpenAuditLog(path)
	require.NoError(t, err)
	defer log.Close() //nolint:errcheck

	require.NoError(t, log.Append("k1", "ingest", "tenant-a", "success"))
	require.NoError(t, log.Append("k1", "retrieve", "tenant-a", "success"))
	require.NoError(t, log.Append("k2", "ingest", "tenant-b", "denied"))

	ok, _, err := VerifyAuditLog(path)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAuditLogDetectsTamper(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := OpenAuditLog(path)
	require.NoError(t, err)
	require.NoError(t, log.Append("k1", "ingest", "tenant-a", "success"))
	require.NoError(t, log.Append("k1", "retrieve", "tenant-a", "success"))
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := []byte(string(data))
	tampered[len(tampered)-20] ^= 0xFF
	require.NoError(t, os.WriteFile(path, tampered, 0o644))

	ok, _, err := VerifyAuditLog(path)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNilAuditLogIsNoOp(t *testing.T) {
	var log *AuditLog
	require.NoError(t, log.Append("k1", "ingest", "tenant-a", "success"))
	require.NoError(t, log.Close())
}

func TestOpenAuditLogEmptyPathDisables(t *testing.T) {
	log, err := OpenAuditLog("")
	require.NoError(t, err)
	require.Nil(t, log)
}
