package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bunsen-project/bunsen/internal/config"
	"github.com/bunsen-project/bunsen/internal/ingest"
	"github.com/bunsen-project/bunsen/internal/model"
	"github.com/bunsen-project/bunsen/internal/objstore"
	"github.com/bunsen-project/bunsen/internal/query"
	"github.com/bunsen-project/bunsen/pkg/gitlib"
)

func newQueryFixture(t *testing.T) (*query.Engine, ingest.Result) {
	t.Helper()

	store := objstore.FromRepository(gitlib.NewTestRepo(t))
	cfg := config.New("gdb")
	ingestEngine := ingest.New(store, cfg)

	result, err := ingestEngine.Ingest(ingest.Bundle{
		Project: "gdb",
		Files: map[string][]byte{
			"gdb.sum": []byte("PASS: test1\n"),
			"gdb.log": []byte("Running gdb.exp ...\nPASS: test1\n"),
		},
		Testrun: &model.Testrun{
			Config:    map[string]any{"arch": "x86_64", "pass_count": float64(1)},
			Testcases: []model.Testcase{{Name: "test1", Outcome: "PASS"}},
		},
		IngestTime: time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	return query.New(store), result
}

func TestHandleListProjects(t *testing.T) {
	t.Parallel()

	q, _ := newQueryFixture(t)

	_, output, err := handleListProjects(context.Background(), q, ListProjectsInput{})
	require.NoError(t, err)
	assert.Equal(t, []string{"gdb"}, output.Data)
}

func TestHandleListMonths_RequiresProject(t *testing.T) {
	t.Parallel()

	q, _ := newQueryFixture(t)

	result, _, err := handleListMonths(context.Background(), q, ListMonthsInput{})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleListTestruns(t *testing.T) {
	t.Parallel()

	q, _ := newQueryFixture(t)

	_, output, err := handleListTestruns(context.Background(), q, ListTestrunsInput{Project: "gdb"})
	require.NoError(t, err)

	runs, ok := output.Data.([]map[string]any)
	require.True(t, ok)
	require.Len(t, runs, 1)
}

func TestHandleGetTestrun(t *testing.T) {
	t.Parallel()

	q, result := newQueryFixture(t)

	_, output, err := handleGetTestrun(context.Background(), q, GetTestrunInput{ID: result.BunsenCommitID[:8]})
	require.NoError(t, err)

	testrun, ok := output.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, result.BunsenCommitID, testrun["bunsen_commit_id"])
	assert.Contains(t, testrun, "testcases")
}

func TestHandleOpenLog(t *testing.T) {
	t.Parallel()

	q, result := newQueryFixture(t)

	_, output, err := handleOpenLog(context.Background(), q, OpenLogInput{ID: result.BunsenCommitID, Path: "gdb.log"})
	require.NoError(t, err)

	data, ok := output.Data.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, data["content"], "PASS: test1")
}

func TestHandleResolveCursor(t *testing.T) {
	t.Parallel()

	q, result := newQueryFixture(t)

	input := ResolveCursorInput{Cursor: "gdb.log:2", CommitID: result.BunsenCommitID}

	_, output, err := handleResolveCursor(context.Background(), q, input)
	require.NoError(t, err)

	data, ok := output.Data.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, data["text"], "PASS: test1")
}
