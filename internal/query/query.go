// Package query implements the read-only query surface (C6, spec §4.6):
// enumerating projects, months, and testruns, resolving abbreviated
// bunsen_commit_ids, streaming stored log files, and resolving cursors.
// Every operation here is lock-free; callers must tolerate ref movement
// between successive reads, per §4.7.
package query

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/bunsen-project/bunsen/internal/bunsenerr"
	"github.com/bunsen-project/bunsen/internal/cache"
	"github.com/bunsen-project/bunsen/internal/cursor"
	"github.com/bunsen-project/bunsen/internal/index"
	"github.com/bunsen-project/bunsen/internal/objstore"
	"github.com/bunsen-project/bunsen/pkg/gitlib"
)

// Engine answers queries against a Store.
type Engine struct {
	Store *objstore.Store

	// parsed memoizes GetTestrun's json.Unmarshal result by the blob hash
	// of the FullTestrunFile it came from, so a caller that resolves the
	// same id more than once (an MCP agent re-fetching a testrun it
	// already has the cursor for) doesn't re-parse JSON it already parsed.
	// Blob content is immutable, so there's no invalidation to do.
	parsed *cache.BlobCache[map[string]any]
}

// New returns an Engine bound to store.
func New(store *objstore.Store) *Engine {
	return &Engine{Store: store, parsed: cache.NewBlobCache[map[string]any]()}
}

var (
	indexFilePattern    = regexp.MustCompile(`^(.+)-(\d{4}-\d{2})\.json$`)
	testlogsBranchRe    = regexp.MustCompile(`^(.+)/testlogs-(\d{4}-\d{2})$`)
	testrunsBranchRe    = regexp.MustCompile(`^(.+)/testruns-(\d{4}-\d{2})(?:-(.+))?$`)
	fullTestrunFileIDRe = regexp.MustCompile(`^(.+)-([0-9a-f]{40})\.json$`)
)

// ListProjects enumerates every project name known to the repository,
// derived from the union of index-file name prefixes and testlogs branch
// name prefixes (§4.6).
func (e *Engine) ListProjects() ([]string, error) {
	seen := map[string]bool{}

	names, err := e.indexFileNames()
	if err != nil {
		return nil, err
	}

	for _, name := range names {
		if m := indexFilePattern.FindStringSubmatch(name); m != nil {
			seen[m[1]] = true
		}
	}

	branches, err := e.Store.ListBranches()
	if err != nil {
		return nil, err
	}

	for _, branch := range branches {
		if m := testlogsBranchRe.FindStringSubmatch(branch); m != nil {
			seen[m[1]] = true
		}
	}

	projects := make([]string, 0, len(seen))
	for p := range seen {
		projects = append(projects, p)
	}

	sort.Strings(projects)

	return projects, nil
}

// ListMonths lists every YYYY-MM for project in descending order, derived
// from testlogs branches and index files.
func (e *Engine) ListMonths(project string) ([]string, error) {
	seen := map[string]bool{}

	names, err := e.indexFileNames()
	if err != nil {
		return nil, err
	}

	for _, name := range names {
		if m := indexFilePattern.FindStringSubmatch(name); m != nil && m[1] == project {
			seen[m[2]] = true
		}
	}

	branches, err := e.Store.ListBranches()
	if err != nil {
		return nil, err
	}

	for _, branch := range branches {
		if m := testlogsBranchRe.FindStringSubmatch(branch); m != nil && m[1] == project {
			seen[m[2]] = true
		}
	}

	months := make([]string, 0, len(seen))
	for m := range seen {
		months = append(months, m)
	}

	sort.Sort(sort.Reverse(sort.StringSlice(months)))

	return months, nil
}

// ListTestruns streams every summary for project, optionally restricted to
// one yearMonth ("" means every month). Obsolete-marked summaries are
// excluded unless includeObsolete is set.
func (e *Engine) ListTestruns(project, yearMonth string, includeObsolete bool) ([]map[string]any, error) {
	var months []string

	if yearMonth != "" {
		months = []string{yearMonth}
	} else {
		var err error

		months, err = e.ListMonths(project)
		if err != nil {
			return nil, err
		}
	}

	tip, err := e.Store.ResolveRef(index.Branch)
	if err != nil {
		return nil, err
	}

	var out []map[string]any

	for _, month := range months {
		fileName := project + "-" + month + ".json"

		data, readErr := e.Store.ReadPath(tip, fileName)
		if readErr != nil {
			continue
		}

		var entries []map[string]any
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, bunsenerr.Wrap(bunsenerr.KindValidationFailed, "parse index file "+fileName, err)
		}

		for _, entry := range entries {
			if !includeObsolete && isObsolete(entry) {
				continue
			}

			out = append(out, entry)
		}
	}

	return out, nil
}

// GetTestrun resolves idPrefix (a unique hex prefix of length ≥4, or a
// full id) to a FullTestrun record, searching every testruns branch.
func (e *Engine) GetTestrun(idPrefix string) (map[string]any, error) {
	match, err := e.resolveTestrunFile(idPrefix)
	if err != nil {
		return nil, err
	}

	blobHash, err := e.Store.ResolveBlobHash(match.tip, match.fileName)
	if err != nil {
		return nil, err
	}

	return e.parsed.GetOrCompute(blobHash, func() (map[string]any, error) {
		data, readErr := e.Store.ReadPath(match.tip, match.fileName)
		if readErr != nil {
			return nil, readErr
		}

		var full map[string]any
		if jsonErr := json.Unmarshal(data, &full); jsonErr != nil {
			return nil, bunsenerr.Wrap(bunsenerr.KindValidationFailed, "parse testrun file "+match.fileName, jsonErr)
		}

		return full, nil
	})
}

// OpenLog returns the contents of path from the testlogs commit named by
// idPrefix. The commit id is a content-addressed git object id, so once
// resolved the lookup does not need branch context.
func (e *Engine) OpenLog(idPrefix, path string) ([]byte, error) {
	fullID, err := e.ResolveID(idPrefix)
	if err != nil {
		return nil, err
	}

	return e.Store.ReadPath(gitlib.NewHash(fullID), path)
}

// ResolveCursor resolves c against the stored log blob it names, returning
// the sliced text and a copy of c with Truncated set accordingly. c must
// already carry a commit id (via WithContext or a parsed full-form
// cursor); abbreviated-form ids are expanded via the same prefix
// resolution GetTestrun/OpenLog use.
func (e *Engine) ResolveCursor(c cursor.Cursor) (string, cursor.Cursor, error) {
	if c.CommitID == "" {
		return "", cursor.Cursor{}, bunsenerr.New(bunsenerr.KindBadConfig,
			"cursor has no commit id; supply context via WithContext before resolving")
	}

	fullID, err := e.ResolveID(c.CommitID)
	if err != nil {
		return "", cursor.Cursor{}, err
	}

	data, err := e.Store.ReadPath(gitlib.NewHash(fullID), c.Path)
	if err != nil {
		return "", cursor.Cursor{}, err
	}

	text, resolved := cursor.Resolve(c, data)

	return text, resolved, nil
}

// ResolveID expands idPrefix to the unique full 40-hex bunsen_commit_id it
// names, failing AmbiguousId if more than one stored id shares the prefix
// and NotFound if none do.
func (e *Engine) ResolveID(idPrefix string) (string, error) {
	match, err := e.resolveTestrunFile(idPrefix)
	if err != nil {
		return "", err
	}

	return match.id, nil
}

type testrunFileMatch struct {
	tip      gitlib.Hash
	fileName string
	id       string
}

// resolveTestrunFile scans every testruns branch's FullTestrunFile names
// for one whose embedded id matches idPrefix, per §4.6's prefix-≥4-chars
// abbreviation rule.
func (e *Engine) resolveTestrunFile(idPrefix string) (testrunFileMatch, error) {
	prefix := strings.ToLower(idPrefix)

	const minIDPrefixLen = 4
	if len(prefix) < minIDPrefixLen {
		return testrunFileMatch{}, bunsenerr.New(bunsenerr.KindNotFound,
			"no testrun matches id "+idPrefix+": an abbreviated id needs at least 4 characters")
	}

	branches, err := e.Store.ListBranches()
	if err != nil {
		return testrunFileMatch{}, err
	}

	var matches []testrunFileMatch

	seen := map[string]bool{}

	for _, branch := range branches {
		if !testrunsBranchRe.MatchString(branch) {
			continue
		}

		tip, err := e.Store.ResolveRef(branch)
		if err != nil {
			return testrunFileMatch{}, err
		}

		if tip.IsZero() {
			continue
		}

		entries, err := e.Store.ReadTree(tip)
		if err != nil {
			return testrunFileMatch{}, err
		}

		for _, entry := range entries {
			m := fullTestrunFileIDRe.FindStringSubmatch(entry.Name)
			if m == nil || !strings.HasPrefix(m[2], prefix) {
				continue
			}

			if seen[m[2]] {
				continue
			}

			seen[m[2]] = true

			matches = append(matches, testrunFileMatch{tip: tip, fileName: entry.Name, id: m[2]})
		}
	}

	switch len(matches) {
	case 0:
		return testrunFileMatch{}, bunsenerr.New(bunsenerr.KindNotFound, "no testrun matches id "+idPrefix)
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.id
		}

		return testrunFileMatch{}, bunsenerr.New(bunsenerr.KindAmbiguousID,
			"id "+idPrefix+" matches multiple testruns: "+strings.Join(ids, ", "))
	}
}

func (e *Engine) indexFileNames() ([]string, error) {
	tip, err := e.Store.ResolveRef(index.Branch)
	if err != nil {
		return nil, err
	}

	if tip.IsZero() {
		return nil, nil
	}

	entries, err := e.Store.ReadTree(tip)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name)
	}

	return names, nil
}

func isObsolete(entry map[string]any) bool {
	v, _ := entry["obsolete"].(bool)
	return v
}
