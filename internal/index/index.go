// Package index maintains the single index branch (append/replace
// testrun summaries in per-project-month IndexFiles) and the per-project
// testruns branches (latest-commit-wins FullTestrunFiles), per the
// update protocol in §4.5.
package index

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bunsen-project/bunsen/internal/bunsenerr"
	"github.com/bunsen-project/bunsen/internal/model"
	"github.com/bunsen-project/bunsen/internal/objstore"
	"github.com/bunsen-project/bunsen/pkg/gitlib"
)

// Branch is the single branch carrying every project's IndexFiles.
const Branch = "index"

// identity is the fixed author/committer identity for index/testrun
// maintenance commits — these are not content-addressed, so a real
// timestamp (rather than the ingest run's normalized one) is appropriate.
const (
	identityName  = "bunsen"
	identityEmail = "bunsen@local"
)

// maxRetries bounds the compare-and-set retry loop for ref updates that
// race with a concurrent writer. Every retry re-reads the branch tip, so
// concurrent updates to different files (or replacements identified by
// id) always converge.
const maxRetries = 8

// UpsertSummary appends summary to the named IndexFile, or replaces the
// existing entry identified by commitID if one is already present.
func UpsertSummary(store *objstore.Store, fileName, commitID string, summary map[string]any) error {
	return retryingUpdate(store, Branch, fileName, func(existing []byte) ([]byte, string, error) {
		var entries []map[string]any

		if existing != nil {
			if err := json.Unmarshal(existing, &entries); err != nil {
				return nil, "", bunsenerr.Wrap(bunsenerr.KindValidationFailed, "parse index file "+fileName, err)
			}
		}

		entries = upsertByCommitID(entries, commitID, summary)

		data, err := encodeArray(entries)
		if err != nil {
			return nil, "", err
		}

		return data, "update " + fileName + " for " + commitID, nil
	})
}

// WriteFullTestrunFile writes (creating or replacing) the named
// FullTestrunFile on branch.
func WriteFullTestrunFile(store *objstore.Store, branch, fileName string, full map[string]any) error {
	return retryingUpdate(store, branch, fileName, func(_ []byte) ([]byte, string, error) {
		data, err := model.CanonicalJSON(full)
		if err != nil {
			return nil, "", bunsenerr.Wrap(bunsenerr.KindValidationFailed, "serialize testrun "+fileName, err)
		}

		return data, "update " + fileName, nil
	})
}

// buildFile produces the new contents of fileName and the commit message,
// given the file's existing contents (nil if absent).
type buildFile func(existing []byte) (data []byte, message string, err error)

// retryingUpdate implements the read-modify-write-CAS loop shared by the
// IndexFile and FullTestrunFile update protocols: read the branch tip,
// merge the unchanged sibling files with the one file build produces,
// commit on top of the old tip, and CAS-advance the branch. On conflict,
// retry from a freshly read tip — safe because every change here is
// either an append or a replace-by-id, both commutative.
func retryingUpdate(store *objstore.Store, branch, fileName string, build buildFile) error {
	for attempt := 0; attempt < maxRetries; attempt++ {
		oldTip, err := store.ResolveRef(branch)
		if err != nil {
			return err
		}

		siblings, existing, err := readTreeExcept(store, oldTip, fileName)
		if err != nil {
			return err
		}

		data, message, err := build(existing)
		if err != nil {
			return err
		}

		treeHash, err := store.PutTreeFiles(append(siblings, objstore.TreeFile{Name: fileName, Data: data}))
		if err != nil {
			return err
		}

		var parents []gitlib.Hash
		if !oldTip.IsZero() {
			parents = []gitlib.Hash{oldTip}
		}

		commitHash, err := store.MakeCommit(objstore.CommitSpec{
			Tree:      treeHash,
			Parents:   parents,
			Name:      identityName,
			Email:     identityEmail,
			Timestamp: time.Now(),
			Message:   message,
		})
		if err != nil {
			return err
		}

		err = store.UpdateRef(branch, oldTip, commitHash)
		if err == nil {
			return nil
		}

		kind, ok := bunsenerr.KindOf(err)
		if !ok || kind != bunsenerr.KindRefConflict {
			return err
		}
	}

	return bunsenerr.New(bunsenerr.KindRefConflict, fmt.Sprintf("%s ref conflict after retries: %s", branch, fileName))
}

// readTreeExcept lists oldTip's top-level entries as reusable TreeFiles,
// skipping fileName, and separately returns fileName's existing contents
// (nil if the branch or file doesn't exist).
func readTreeExcept(store *objstore.Store, oldTip gitlib.Hash, fileName string) ([]objstore.TreeFile, []byte, error) {
	if oldTip.IsZero() {
		return nil, nil, nil
	}

	entries, err := store.ReadTree(oldTip)
	if err != nil {
		return nil, nil, err
	}

	siblings := make([]objstore.TreeFile, 0, len(entries))

	var existing []byte

	for _, e := range entries {
		if e.Name == fileName {
			data, readErr := store.ReadPath(oldTip, fileName)
			if readErr == nil {
				existing = data
			}

			continue
		}

		siblings = append(siblings, objstore.TreeFile{Name: e.Name, Hash: e.Hash()})
	}

	return siblings, existing, nil
}

// upsertByCommitID appends summary to entries, replacing any existing
// entry whose bunsen_commit_id matches in place (preserving its position).
func upsertByCommitID(entries []map[string]any, commitID string, summary map[string]any) []map[string]any {
	for i, e := range entries {
		if id, _ := e["bunsen_commit_id"].(string); id == commitID {
			entries[i] = summary

			return entries
		}
	}

	return append(entries, summary)
}

// encodeArray canonically serializes entries as a JSON array, each element
// canonicalized the same way the commit-message and FullTestrunFile
// summaries are, so cross-view byte-identity holds.
func encodeArray(entries []map[string]any) ([]byte, error) {
	parts := make([][]byte, 0, len(entries))

	for _, e := range entries {
		enc, err := model.CanonicalJSON(e)
		if err != nil {
			return nil, bunsenerr.Wrap(bunsenerr.KindValidationFailed, "serialize index entry", err)
		}

		parts = append(parts, enc)
	}

	out := []byte{'['}

	for i, p := range parts {
		if i > 0 {
			out = append(out, ',')
		}

		out = append(out, p...)
	}

	out = append(out, ']')

	return out, nil
}
