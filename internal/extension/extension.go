// Package extension implements the extension registry (C8, spec §4.8):
// resolving the per-project "parse + commit" plug-in named by
// `[bunsen-upload] commit_module` against both in-process Go parsers and
// external scripts discovered under the repository's `scripts*/`
// directories.
package extension

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bunsen-project/bunsen/internal/bunsenerr"
	"github.com/bunsen-project/bunsen/internal/model"
)

// Parser is the contract every plug-in satisfies: given the submitted
// file_map, return a (possibly problems-annotated) testrun and the
// possibly renamed/filtered file_map to store.
type Parser interface {
	Parse(ctx context.Context, files map[string][]byte) (*model.Testrun, map[string][]byte, error)
}

// ParserFunc adapts a plain function to the Parser interface.
type ParserFunc func(ctx context.Context, files map[string][]byte) (*model.Testrun, map[string][]byte, error)

// Parse implements Parser.
func (f ParserFunc) Parse(ctx context.Context, files map[string][]byte) (*model.Testrun, map[string][]byte, error) {
	return f(ctx, files)
}

// Registry resolves a named plug-in from in-process (builtin) parsers and
// external scripts discovered under scripts*/ directories.
type Registry struct {
	builtin    map[string]Parser
	scriptDirs []string
}

// NewRegistry returns a Registry that will search repoDir for directories
// matching "scripts*" (per §4.8 and §6's `<repo>/scripts*/` plug-in source
// roots) in addition to any builtin parsers registered with Register.
func NewRegistry(repoDir string) (*Registry, error) {
	matches, err := filepath.Glob(filepath.Join(repoDir, "scripts*"))
	if err != nil {
		return nil, bunsenerr.Wrap(bunsenerr.KindBadConfig, "glob scripts* directories", err)
	}

	var dirs []string

	for _, m := range matches {
		info, statErr := os.Stat(m)
		if statErr == nil && info.IsDir() {
			dirs = append(dirs, m)
		}
	}

	return &Registry{builtin: map[string]Parser{}, scriptDirs: dirs}, nil
}

// Register adds an in-process parser under name, for projects whose
// commit_module is implemented natively rather than as an external script.
func (r *Registry) Register(name string, p Parser) {
	r.builtin[name] = p
}

// Resolve looks up name among builtin parsers and every scripts*/ root,
// failing AmbiguousScript if more than one candidate satisfies name and
// NotFound if none do.
func (r *Registry) Resolve(name string) (Parser, error) {
	var candidates []string

	if _, ok := r.builtin[name]; ok {
		candidates = append(candidates, "builtin:"+name)
	}

	for _, dir := range r.scriptDirs {
		path := filepath.Join(dir, name)

		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}

		candidates = append(candidates, path)
	}

	switch len(candidates) {
	case 0:
		return nil, bunsenerr.New(bunsenerr.KindNotFound, "no commit_module plug-in named "+name)
	case 1:
		if p, ok := r.builtin[name]; ok {
			return p, nil
		}

		return externalScript{path: candidates[0]}, nil
	default:
		sort.Strings(candidates)

		return nil, bunsenerr.New(bunsenerr.KindAmbiguousScript,
			fmt.Sprintf("commit_module %q matches multiple plug-ins: %s", name, strings.Join(candidates, ", ")))
	}
}

// externalScript invokes an executable found under a scripts*/ directory,
// exchanging file_map/testrun data as JSON over stdin/stdout rather than
// shared memory — the only contract boundary that survives a plug-in
// written in any language, matching §4.8's language-neutral "parse(file_map)
// → (testrun, file_map')" contract.
type externalScript struct {
	path string
}

type scriptRequest struct {
	Files map[string]string `json:"files"` // name -> base64 content
}

type scriptResponse struct {
	Testrun map[string]any    `json:"testrun"`
	Files   map[string]string `json:"files"` // name -> base64 content
}

// Parse implements Parser by running the script as a subprocess.
func (s externalScript) Parse(ctx context.Context, files map[string][]byte) (*model.Testrun, map[string][]byte, error) {
	req := scriptRequest{Files: make(map[string]string, len(files))}
	for name, data := range files {
		req.Files[name] = base64.StdEncoding.EncodeToString(data)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, nil, bunsenerr.Wrap(bunsenerr.KindValidationFailed, "marshal script request", err)
	}

	cmd := exec.CommandContext(ctx, s.path)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, nil, bunsenerr.Wrap(bunsenerr.KindBadConfig,
			fmt.Sprintf("run plug-in %s: %s", s.path, stderr.String()), err)
	}

	var resp scriptResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, nil, bunsenerr.Wrap(bunsenerr.KindValidationFailed, "parse script response", err)
	}

	outFiles := make(map[string][]byte, len(resp.Files))

	for name, encoded := range resp.Files {
		data, decodeErr := base64.StdEncoding.DecodeString(encoded)
		if decodeErr != nil {
			return nil, nil, bunsenerr.Wrap(bunsenerr.KindValidationFailed, "decode script file "+name, decodeErr)
		}

		outFiles[name] = data
	}

	return model.FromMap(resp.Testrun), outFiles, nil
}
