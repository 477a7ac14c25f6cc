package query_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bunsen-project/bunsen/internal/bunsenerr"
	"github.com/bunsen-project/bunsen/internal/config"
	"github.com/bunsen-project/bunsen/internal/cursor"
	"github.com/bunsen-project/bunsen/internal/ingest"
	"github.com/bunsen-project/bunsen/internal/model"
	"github.com/bunsen-project/bunsen/internal/objstore"
	"github.com/bunsen-project/bunsen/internal/query"
	"github.com/bunsen-project/bunsen/pkg/gitlib"
)

func newFixture(t *testing.T) (*objstore.Store, *ingest.Engine, *query.Engine) {
	t.Helper()

	store := objstore.FromRepository(gitlib.NewTestRepo(t))
	engine := ingest.New(store, config.New("gdb"))

	return store, engine, query.New(store)
}

func ingestOne(t *testing.T, engine *ingest.Engine, project string, arch string) ingest.Result {
	t.Helper()

	result, err := engine.Ingest(ingest.Bundle{
		Project: project,
		Files: map[string][]byte{
			project + ".sum": []byte("PASS: test1\n"),
			project + ".log": []byte("Running " + project + ".exp ...\nPASS: test1\n"),
		},
		Testrun: &model.Testrun{
			Config: map[string]any{"arch": arch, "pass_count": float64(1)},
		},
		IngestTime: time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	return result
}

func TestListProjectsAndMonths(t *testing.T) {
	_, engine, q := newFixture(t)

	ingestOne(t, engine, "gdb", "x86_64")
	ingestOne(t, engine, "systemtap", "aarch64")

	projects, err := q.ListProjects()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"gdb", "systemtap"}, projects)

	months, err := q.ListMonths("gdb")
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-08"}, months)
}

func TestListTestrunsExcludesObsoleteByDefault(t *testing.T) {
	_, engine, q := newFixture(t)

	ingestOne(t, engine, "gdb", "x86_64")

	second, err := engine.Ingest(ingest.Bundle{
		Project: "gdb",
		Files: map[string][]byte{
			"gdb.sum": []byte("PASS: test2\n"),
			"gdb.log": []byte("Running gdb2.exp ...\nPASS: test2\n"),
		},
		Testrun: &model.Testrun{
			Config:   map[string]any{"arch": "armv7", "pass_count": float64(1)},
			Obsolete: true,
		},
		IngestTime: time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, second.BunsenCommitID)

	summaries, err := q.ListTestruns("gdb", "", false)
	require.NoError(t, err)
	assert.Len(t, summaries, 1)

	all, err := q.ListTestruns("gdb", "", true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestGetTestrunByPrefix(t *testing.T) {
	_, engine, q := newFixture(t)

	result := ingestOne(t, engine, "gdb", "x86_64")

	full, err := q.GetTestrun(result.BunsenCommitID[:8])
	require.NoError(t, err)
	assert.Equal(t, result.BunsenCommitID, full["bunsen_commit_id"])
}

func TestGetTestrunIsStableAcrossRepeatedCalls(t *testing.T) {
	_, engine, q := newFixture(t)

	result := ingestOne(t, engine, "gdb", "x86_64")

	first, err := q.GetTestrun(result.BunsenCommitID)
	require.NoError(t, err)

	second, err := q.GetTestrun(result.BunsenCommitID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestGetTestrunTooShortPrefixFails(t *testing.T) {
	_, engine, q := newFixture(t)

	ingestOne(t, engine, "gdb", "x86_64")

	_, err := q.GetTestrun("a")
	require.Error(t, err)

	kind, ok := bunsenerr.KindOf(err)
	require.True(t, ok)
	assert.True(t, kind == bunsenerr.KindAmbiguousID || kind == bunsenerr.KindNotFound)
}

func TestOpenLogReturnsStoredBytes(t *testing.T) {
	_, engine, q := newFixture(t)

	result := ingestOne(t, engine, "gdb", "x86_64")

	data, err := q.OpenLog(result.BunsenCommitID, "gdb.sum")
	require.NoError(t, err)
	assert.Equal(t, "PASS: test1\n", string(data))
}

func TestResolveCursor(t *testing.T) {
	_, engine, q := newFixture(t)

	result := ingestOne(t, engine, "gdb", "x86_64")

	c := cursor.Cursor{CommitID: result.BunsenCommitID, Path: "gdb.log", Start: 1, End: 1}

	text, resolved, err := q.ResolveCursor(c)
	require.NoError(t, err)
	assert.Equal(t, "Running gdb.exp ...", text)
	assert.False(t, resolved.Truncated)
}

func TestUnknownIDIsNotFound(t *testing.T) {
	_, engine, q := newFixture(t)

	ingestOne(t, engine, "gdb", "x86_64")

	_, err := q.GetTestrun("ffffffffff")
	require.Error(t, err)

	kind, ok := bunsenerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, bunsenerr.KindNotFound, kind)
}
