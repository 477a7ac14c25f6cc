package objstore_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bunsen-project/bunsen/internal/bunsenerr"
	"github.com/bunsen-project/bunsen/internal/objstore"
	"github.com/bunsen-project/bunsen/pkg/gitlib"
)

func newStore(t *testing.T) *objstore.Store {
	t.Helper()

	repo := gitlib.NewTestRepo(t)

	return objstore.FromRepository(repo)
}

func TestPutBlobAndGetBlob(t *testing.T) {
	store := newStore(t)

	hash, err := store.PutBlob([]byte("hello"))
	require.NoError(t, err)

	data, err := store.GetBlob(hash)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestPutTreeAndReadPath(t *testing.T) {
	store := newStore(t)

	treeHash, err := store.PutTree([]objstore.Entry{
		{Name: "gcc.log", Data: []byte("PASS: test1\n")},
	})
	require.NoError(t, err)

	commitHash, err := store.MakeCommit(objstore.CommitSpec{
		Tree:      treeHash,
		Name:      "bunsen",
		Email:     "bunsen@localhost",
		Timestamp: time.Unix(0, 0),
		Message:   "ingest",
	})
	require.NoError(t, err)

	data, err := store.ReadPath(commitHash, "gcc.log")
	require.NoError(t, err)
	assert.Equal(t, "PASS: test1\n", string(data))
}

func TestReadPathWithBlobCacheServesRepeatedReadsFromMemory(t *testing.T) {
	store := newStore(t)
	store.EnableBlobCache(0) // 0 falls back to cache.DefaultLRUCacheSize

	treeHash, err := store.PutTree([]objstore.Entry{
		{Name: "gcc.log", Data: []byte("PASS: test1\n")},
	})
	require.NoError(t, err)

	commitHash, err := store.MakeCommit(objstore.CommitSpec{
		Tree:      treeHash,
		Name:      "bunsen",
		Email:     "bunsen@localhost",
		Timestamp: time.Unix(0, 0),
		Message:   "ingest",
	})
	require.NoError(t, err)

	data, err := store.ReadPath(commitHash, "gcc.log")
	require.NoError(t, err)
	assert.Equal(t, "PASS: test1\n", string(data))
	assert.Equal(t, int64(1), store.BlobCacheStats().Misses)

	data, err = store.ReadPath(commitHash, "gcc.log")
	require.NoError(t, err)
	assert.Equal(t, "PASS: test1\n", string(data))
	assert.Equal(t, int64(1), store.BlobCacheStats().Hits)
}

func TestReadTree(t *testing.T) {
	store := newStore(t)

	treeHash, err := store.PutTree([]objstore.Entry{
		{Name: "a.log", Data: []byte("a")},
		{Name: "b.log", Data: []byte("b")},
	})
	require.NoError(t, err)

	commitHash, err := store.MakeCommit(objstore.CommitSpec{
		Tree: treeHash, Name: "bunsen", Email: "bunsen@localhost",
		Timestamp: time.Unix(0, 0), Message: "ingest",
	})
	require.NoError(t, err)

	entries, err := store.ReadTree(commitHash)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestUpdateRefCreatesNewBranch(t *testing.T) {
	store := newStore(t)

	treeHash, err := store.PutTree(nil)
	require.NoError(t, err)

	commitHash, err := store.MakeCommit(objstore.CommitSpec{
		Tree: treeHash, Name: "bunsen", Email: "bunsen@localhost",
		Timestamp: time.Unix(0, 0), Message: "init",
	})
	require.NoError(t, err)

	err = store.UpdateRef("index", gitlib.ZeroHash(), commitHash)
	require.NoError(t, err)

	resolved, err := store.ResolveRef("index")
	require.NoError(t, err)
	assert.Equal(t, commitHash, resolved)
}

func TestUpdateRefConflict(t *testing.T) {
	store := newStore(t)

	treeHash, err := store.PutTree(nil)
	require.NoError(t, err)

	commitA, err := store.MakeCommit(objstore.CommitSpec{
		Tree: treeHash, Name: "bunsen", Email: "bunsen@localhost",
		Timestamp: time.Unix(0, 0), Message: "a",
	})
	require.NoError(t, err)

	require.NoError(t, store.UpdateRef("index", gitlib.ZeroHash(), commitA))

	commitB, err := store.MakeCommit(objstore.CommitSpec{
		Tree: treeHash, Name: "bunsen", Email: "bunsen@localhost",
		Timestamp: time.Unix(0, 0), Message: "b",
	})
	require.NoError(t, err)

	err = store.UpdateRef("index", gitlib.ZeroHash(), commitB)
	require.Error(t, err)

	kind, ok := bunsenerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, bunsenerr.KindRefConflict, kind)
	assert.True(t, errors.Is(err, gitlib.ErrRefConflict))
}

func TestListBranches(t *testing.T) {
	store := newStore(t)

	treeHash, err := store.PutTree(nil)
	require.NoError(t, err)

	commitHash, err := store.MakeCommit(objstore.CommitSpec{
		Tree: treeHash, Name: "bunsen", Email: "bunsen@localhost",
		Timestamp: time.Unix(0, 0), Message: "init",
	})
	require.NoError(t, err)

	require.NoError(t, store.UpdateRef("gcc/testlogs-2026-08", gitlib.ZeroHash(), commitHash))
	require.NoError(t, store.UpdateRef("index", gitlib.ZeroHash(), commitHash))

	branches, err := store.ListBranches()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"gcc/testlogs-2026-08", "index"}, branches)
}
