package extension_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bunsen-project/bunsen/internal/bunsenerr"
	"github.com/bunsen-project/bunsen/internal/extension"
	"github.com/bunsen-project/bunsen/internal/model"
)

func TestResolveBuiltinParser(t *testing.T) {
	dir := t.TempDir()

	reg, err := extension.NewRegistry(dir)
	require.NoError(t, err)

	reg.Register("gdb", extension.ParserFunc(func(_ context.Context, files map[string][]byte) (*model.Testrun, map[string][]byte, error) {
		return &model.Testrun{Config: map[string]any{"arch": "x86_64"}}, files, nil
	}))

	parser, err := reg.Resolve("gdb")
	require.NoError(t, err)

	run, files, err := parser.Parse(context.Background(), map[string][]byte{"gdb.sum": []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, "x86_64", run.Config["arch"])
	assert.Contains(t, files, "gdb.sum")
}

func TestResolveUnknownNameIsNotFound(t *testing.T) {
	reg, err := extension.NewRegistry(t.TempDir())
	require.NoError(t, err)

	_, err = reg.Resolve("missing")
	require.Error(t, err)

	kind, ok := bunsenerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, bunsenerr.KindNotFound, kind)
}

func TestResolveAmbiguousScriptAcrossDirs(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("executable-bit discovery assumes a POSIX filesystem")
	}

	dir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "scripts-main"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "scripts-extra"), 0o755))

	writeScript(t, filepath.Join(dir, "scripts-main", "gdb"))
	writeScript(t, filepath.Join(dir, "scripts-extra", "gdb"))

	reg, err := extension.NewRegistry(dir)
	require.NoError(t, err)

	_, err = reg.Resolve("gdb")
	require.Error(t, err)

	kind, ok := bunsenerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, bunsenerr.KindAmbiguousScript, kind)
}

func TestResolveExternalScriptRunsAndParsesResponse(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shebang scripts assume a POSIX filesystem")
	}

	dir := t.TempDir()
	scriptsDir := filepath.Join(dir, "scripts")
	require.NoError(t, os.MkdirAll(scriptsDir, 0o755))

	script := "#!/bin/sh\ncat <<'EOF'\n" +
		`{"testrun":{"bunsen_version":"","bunsen_commit_id":"","bunsen_testlogs_branch":"","bunsen_testruns_branch":"","arch":"aarch64"},"files":{}}` +
		"\nEOF\n"
	writeScriptContent(t, filepath.Join(scriptsDir, "systemtap"), script)

	reg, err := extension.NewRegistry(dir)
	require.NoError(t, err)

	parser, err := reg.Resolve("systemtap")
	require.NoError(t, err)

	run, _, err := parser.Parse(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "aarch64", run.Config["arch"])
}

func writeScript(t *testing.T, path string) {
	t.Helper()
	writeScriptContent(t, path, "#!/bin/sh\necho '{}'\n")
}

func writeScriptContent(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
}
