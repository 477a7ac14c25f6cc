package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bunsen-project/bunsen/internal/bunsenerr"
	"github.com/bunsen-project/bunsen/internal/ingest"
	"github.com/bunsen-project/bunsen/internal/model"
	"github.com/bunsen-project/bunsen/internal/objstore"
	"github.com/bunsen-project/bunsen/internal/repo"
	"github.com/bunsen-project/bunsen/pkg/gitlib"
)

func TestInitThenOpen(t *testing.T) {
	dir := t.TempDir()

	r, err := repo.Init(dir, "gdb")
	require.NoError(t, err)
	r.Close()

	opened, err := repo.Open(dir)
	require.NoError(t, err)
	defer opened.Close()

	assert.Equal(t, "gdb", opened.Config.DefaultProject)
}

func TestOpenMissingRepoFails(t *testing.T) {
	_, err := repo.Open(t.TempDir())
	require.Error(t, err)
}

func TestWithWriteLockRunsIngest(t *testing.T) {
	dir := t.TempDir()

	r, err := repo.Init(dir, "gdb")
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var result ingest.Result

	err = r.WithWriteLock(ctx, func() error {
		var ingestErr error
		result, ingestErr = r.Ingester().Ingest(ingest.Bundle{
			Project: "gdb",
			Files:   map[string][]byte{"gdb.sum": []byte("PASS: t1\n")},
			Testrun: &model.Testrun{
				Config: map[string]any{"arch": "x86_64"},
			},
			IngestTime: time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC),
		})

		return ingestErr
	})
	require.NoError(t, err)
	assert.Equal(t, ingest.CaseNew, result.Case)

	full, err := r.Query().GetTestrun(result.BunsenCommitID)
	require.NoError(t, err)
	assert.Equal(t, result.BunsenCommitID, full["bunsen_commit_id"])
}

func TestOpenRejectsNewerFormatVersion(t *testing.T) {
	dir := t.TempDir()

	r, err := repo.Init(dir, "gdb")
	require.NoError(t, err)

	oldTip, err := r.Store.ResolveRef("index")
	require.NoError(t, err)

	treeHash, err := r.Store.PutTree([]objstore.Entry{
		{Name: repo.FormatFileName, Data: []byte(`{"version":2}`)},
	})
	require.NoError(t, err)

	commitHash, err := r.Store.MakeCommit(objstore.CommitSpec{
		Tree:      treeHash,
		Parents:   []gitlib.Hash{oldTip},
		Name:      "bunsen",
		Email:     "bunsen@local",
		Timestamp: time.Unix(0, 0).UTC(),
		Message:   "bump format version\n",
	})
	require.NoError(t, err)
	require.NoError(t, r.Store.UpdateRef("index", oldTip, commitHash))
	r.Close()

	_, openErr := repo.Open(dir)
	require.Error(t, openErr)

	kind, ok := bunsenerr.KindOf(openErr)
	require.True(t, ok)
	assert.Equal(t, bunsenerr.KindBadConfig, kind)
}
