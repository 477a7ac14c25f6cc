package mcp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bunsen-project/bunsen/internal/objstore"
	"github.com/bunsen-project/bunsen/internal/query"
	"github.com/bunsen-project/bunsen/pkg/gitlib"
	"github.com/bunsen-project/bunsen/pkg/mcp"
)

func TestNewServer_RegistersAllQueryTools(t *testing.T) {
	t.Parallel()

	store := objstore.FromRepository(gitlib.NewTestRepo(t))

	srv := mcp.NewServer(mcp.ServerDeps{Query: query.New(store)})

	assert.Equal(t, []string{
		mcp.ToolNameGetTestrun,
		mcp.ToolNameListMonths,
		mcp.ToolNameListProjects,
		mcp.ToolNameListTestruns,
		mcp.ToolNameOpenLog,
		mcp.ToolNameResolveCursor,
	}, srv.ListToolNames())
}
