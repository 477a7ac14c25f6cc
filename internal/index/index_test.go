package index_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bunsen-project/bunsen/internal/index"
	"github.com/bunsen-project/bunsen/internal/objstore"
	"github.com/bunsen-project/bunsen/pkg/gitlib"
)

func newStore(t *testing.T) *objstore.Store {
	t.Helper()

	return objstore.FromRepository(gitlib.NewTestRepo(t))
}

func TestUpsertSummaryAppendsNewEntries(t *testing.T) {
	store := newStore(t)

	require.NoError(t, index.UpsertSummary(store, "gdb-2026-08.json", "aaa111", map[string]any{
		"bunsen_commit_id": "aaa111", "pass_count": float64(3),
	}))
	require.NoError(t, index.UpsertSummary(store, "gdb-2026-08.json", "bbb222", map[string]any{
		"bunsen_commit_id": "bbb222", "pass_count": float64(5),
	}))

	tip, err := store.ResolveRef(index.Branch)
	require.NoError(t, err)

	data, err := store.ReadPath(tip, "gdb-2026-08.json")
	require.NoError(t, err)
	assert.Contains(t, string(data), "aaa111")
	assert.Contains(t, string(data), "bbb222")
}

func TestUpsertSummaryReplacesExistingEntry(t *testing.T) {
	store := newStore(t)

	require.NoError(t, index.UpsertSummary(store, "gdb-2026-08.json", "aaa111", map[string]any{
		"bunsen_commit_id": "aaa111", "pass_count": float64(3),
	}))
	require.NoError(t, index.UpsertSummary(store, "gdb-2026-08.json", "aaa111", map[string]any{
		"bunsen_commit_id": "aaa111", "pass_count": float64(4),
	}))

	tip, err := store.ResolveRef(index.Branch)
	require.NoError(t, err)

	data, err := store.ReadPath(tip, "gdb-2026-08.json")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"pass_count":4`)
	assert.NotContains(t, string(data), `"pass_count":3`)
}

func TestUpsertSummaryPreservesOtherFiles(t *testing.T) {
	store := newStore(t)

	require.NoError(t, index.UpsertSummary(store, "gdb-2026-08.json", "aaa111", map[string]any{
		"bunsen_commit_id": "aaa111",
	}))
	require.NoError(t, index.UpsertSummary(store, "systemtap-2026-08.json", "ccc333", map[string]any{
		"bunsen_commit_id": "ccc333",
	}))

	tip, err := store.ResolveRef(index.Branch)
	require.NoError(t, err)

	entries, err := store.ReadTree(tip)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestWriteFullTestrunFile(t *testing.T) {
	store := newStore(t)

	require.NoError(t, index.WriteFullTestrunFile(store, "gdb/testruns-2026-08", "gdb-aaa111.json", map[string]any{
		"bunsen_commit_id": "aaa111",
		"testcases":        []any{map[string]any{"name": "t1", "outcome": "PASS"}},
	}))

	tip, err := store.ResolveRef("gdb/testruns-2026-08")
	require.NoError(t, err)

	data, err := store.ReadPath(tip, "gdb-aaa111.json")
	require.NoError(t, err)
	assert.Contains(t, string(data), "aaa111")
}
