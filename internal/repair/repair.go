// Package repair implements the maintenance scan that heals a repository
// left inconsistent by a process that was killed mid-ingest (spec §4.4,
// §5, §7): it walks every testlogs branch's commit chain and rebuilds any
// FullTestrunFile or IndexFile entry that a later write never reached.
//
// Only the first ref (testlogs) is guaranteed to have advanced before a
// crash, per the end-to-end sequencing in §4.4 step 5 — FullTestrunFile
// and IndexFile writes happen afterward. A testlogs commit's message
// carries the pre-commit summary (everything except bunsen_commit_id,
// which this package fills in from the commit's own hash); it never
// carries testcases, so a FullTestrunFile rebuilt here is summary-only.
// repair never overwrites a FullTestrunFile that already exists, so a
// complete file written before the crash is never downgraded to one
// missing its testcases.
package repair

import (
	"encoding/json"
	"regexp"

	"github.com/bunsen-project/bunsen/internal/bunsenerr"
	"github.com/bunsen-project/bunsen/internal/incomplete"
	"github.com/bunsen-project/bunsen/internal/index"
	"github.com/bunsen-project/bunsen/internal/objstore"
	"github.com/bunsen-project/bunsen/pkg/gitlib"
)

var testlogsBranchPattern = regexp.MustCompile(`^(.+)/testlogs-(\d{4}-\d{2})$`)

// Result summarizes one Repair run.
type Result struct {
	BranchesScanned         int
	CommitsWalked           int
	FullTestrunFilesRebuilt int
	IndexEntriesAppended    int
	MarkersCleared          int
}

// Engine drives repair against a Store.
type Engine struct {
	Store *objstore.Store

	// Dir is the repository root, used to find and clear incomplete-ingest
	// markers once the commit they reference has been healed. Left empty,
	// marker bookkeeping is skipped; the history walk still heals every
	// inconsistency on its own.
	Dir string
}

// New returns an Engine bound to store.
func New(store *objstore.Store) *Engine {
	return &Engine{Store: store}
}

// Repair scans every <project>/testlogs-YYYY-MM branch's commit chain from its tip
// and heals any missing FullTestrunFile or IndexFile entry. Callers must
// hold the repository's write lock, since it writes through the same
// IndexFile/FullTestrunFile update protocol ingest uses.
func (e *Engine) Repair() (Result, error) {
	var result Result

	pendingMarkers, err := e.pendingMarkers()
	if err != nil {
		return Result{}, err
	}

	branches, err := e.Store.ListBranches()
	if err != nil {
		return Result{}, err
	}

	for _, branch := range branches {
		m := testlogsBranchPattern.FindStringSubmatch(branch)
		if m == nil {
			continue
		}

		project, yearMonth := m[1], m[2]

		if err := e.repairBranch(project, yearMonth, branch, pendingMarkers, &result); err != nil {
			return result, err
		}

		result.BranchesScanned++
	}

	return result, nil
}

// pendingMarkers returns the set of incomplete-ingest marker ids currently
// spilled under e.Dir, or nil if marker bookkeeping is disabled.
func (e *Engine) pendingMarkers() (map[string]bool, error) {
	if e.Dir == "" {
		return nil, nil
	}

	ids, err := incomplete.List(e.Dir)
	if err != nil {
		return nil, err
	}

	pending := make(map[string]bool, len(ids))
	for _, id := range ids {
		pending[id] = true
	}

	return pending, nil
}

func (e *Engine) repairBranch(project, yearMonth, branch string, pendingMarkers map[string]bool, result *Result) error {
	tip, err := e.Store.ResolveRef(branch)
	if err != nil {
		return err
	}

	indexName := project + "-" + yearMonth + ".json"

	for hash := tip; !hash.IsZero(); {
		info, err := e.Store.ReadCommit(hash)
		if err != nil {
			return err
		}

		if err := e.healCommit(hash, project, indexName, info.Message, pendingMarkers, result); err != nil {
			return err
		}

		result.CommitsWalked++

		if !info.HasParent {
			break
		}

		hash = info.Parent
	}

	return nil
}

// healCommit parses one testlogs commit's summary and rebuilds whichever
// of its FullTestrunFile/IndexFile entry is missing.
func (e *Engine) healCommit(hash gitlib.Hash, project, indexName, message string, pendingMarkers map[string]bool, result *Result) error {
	var summary map[string]any
	if err := json.Unmarshal([]byte(message), &summary); err != nil {
		return bunsenerr.Wrap(bunsenerr.KindValidationFailed, "parse testlogs commit message "+hash.String(), err)
	}

	id := hash.String()
	summary["bunsen_commit_id"] = id

	testrunsBranch, _ := summary["bunsen_testruns_branch"].(string)
	if testrunsBranch == "" {
		return bunsenerr.New(bunsenerr.KindValidationFailed,
			"testlogs commit "+id+" carries no bunsen_testruns_branch")
	}

	fileName := project + "-" + id + ".json"

	hasFile, err := e.fullTestrunFileExists(testrunsBranch, fileName)
	if err != nil {
		return err
	}

	if !hasFile {
		if err := index.WriteFullTestrunFile(e.Store, testrunsBranch, fileName, summary); err != nil {
			return err
		}

		result.FullTestrunFilesRebuilt++
	}

	hasEntry, err := e.indexEntryExists(indexName, id)
	if err != nil {
		return err
	}

	if !hasEntry {
		if err := index.UpsertSummary(e.Store, indexName, id, summary); err != nil {
			return err
		}

		result.IndexEntriesAppended++
	}

	if pendingMarkers[id] {
		if err := incomplete.Remove(e.Dir, id); err == nil {
			result.MarkersCleared++
		}
	}

	return nil
}

func (e *Engine) fullTestrunFileExists(testrunsBranch, fileName string) (bool, error) {
	tip, err := e.Store.ResolveRef(testrunsBranch)
	if err != nil {
		return false, err
	}

	if tip.IsZero() {
		return false, nil
	}

	if _, err := e.Store.ReadPath(tip, fileName); err != nil {
		return false, nil
	}

	return true, nil
}

func (e *Engine) indexEntryExists(indexName, id string) (bool, error) {
	tip, err := e.Store.ResolveRef(index.Branch)
	if err != nil {
		return false, err
	}

	if tip.IsZero() {
		return false, nil
	}

	data, err := e.Store.ReadPath(tip, indexName)
	if err != nil {
		return false, nil
	}

	var entries []map[string]any
	if err := json.Unmarshal(data, &entries); err != nil {
		return false, bunsenerr.Wrap(bunsenerr.KindValidationFailed, "parse index file "+indexName, err)
	}

	for _, entry := range entries {
		if entryID, _ := entry["bunsen_commit_id"].(string); entryID == id {
			return true, nil
		}
	}

	return false, nil
}
