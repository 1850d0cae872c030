package server

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dashdb/dash/internal/ann"
	"github.com/dashdb/dash/internal/auth"
	"github.com/dashdb/dash/internal/authz"
	"github.com/dashdb/dash/internal/boundary"
	"github.com/dashdb/dash/internal/lexical"
	"github.com/dashdb/dash/internal/planner"
	"github.com/dashdb/dash/internal/store"
	"github.com/dashdb/dash/internal/wal"
)

// testDeps wires an in-memory Handlers sufficient for route-level tests,
// with no mirror/router (both optional) and an unrestricted authz policy.
func testDeps(t *testing.T) *Handlers {
	t.Helper()
	dir := t.TempDir()

	w, err := wal.Open(slog.Default(), wal.Config{Dir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	st := store.New(slog.Default())
	annMgr := ann.NewManager(ann.Config{})
	lexMgr := lexical.NewManager()
	t.Cleanup(func() { _ = lexMgr.Close() })
	boundaryMgr := boundary.NewManager()

	p := planner.New(slog.Default(), planner.Config{
		Store:    st,
		ANN:      annMgr,
		Lexical:  lexMgr,
		Boundary: boundaryMgr,
		Weights:  planner.NewWeightStore(),
	})

	return NewHandlers(HandlersDeps{
		Store:       st,
		Planner:     p,
		ANN:         annMgr,
		Lexical:     lexMgr,
		Boundary:    boundaryMgr,
		AuthzPolicy: authz.Policy{AllowedTenants: []string{"*"}},
		WAL:         w,
		Logger:      slog.Default(),
		Version:     "test",
	})
}

func testAuthenticatorForServer(t *testing.T) *auth.Authenticator {
	t.Helper()
	return auth.New(auth.Config{
		ActiveKeys: []auth.KeyConfig{{ID: "k1", Secret: "secret-one", Scopes: []string{"*"}}},
	})
}
