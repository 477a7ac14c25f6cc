// Package ingest implements the engine's ingest entry point: filtering a
// submitted bundle against the manifest whitelist, deriving the
// content-addressed bunsen_commit_id, dispatching the four update cases,
// and writing the testlogs/testruns/index views in the prescribed order.
package ingest

import (
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/bunsen-project/bunsen/internal/bunsenerr"
	"github.com/bunsen-project/bunsen/internal/config"
	"github.com/bunsen-project/bunsen/internal/incomplete"
	"github.com/bunsen-project/bunsen/internal/index"
	"github.com/bunsen-project/bunsen/internal/model"
	"github.com/bunsen-project/bunsen/internal/objstore"
	"github.com/bunsen-project/bunsen/pkg/gitlib"
)

// BunsenVersion is stamped into every ingested testrun's bunsen_version
// field, replacing any value the submitted record carried.
const BunsenVersion = "2.0"

// fixedIdentity is the author/committer identity every content-addressed
// testlogs commit uses, per spec §4.2.
const (
	fixedName  = "bunsen"
	fixedEmail = "bunsen@local"
)

// maxRefConflictRetries bounds the compare-and-set retry loop for ref
// updates that race with a concurrent writer.
const maxRefConflictRetries = 8

// Case identifies which of the four update-case branches an ingest took.
type Case int

// Update cases, per spec §4.4 step 5.
const (
	CaseNew Case = iota + 1
	CaseDupLogsNewRun
	CaseUpdatedRun
	CaseNoop
)

// Bundle is the ingest engine's input: a project, a set of submitted files,
// the parser's testrun record, and an optional caller-supplied extra
// label for the testruns branch.
type Bundle struct {
	Project    string
	Files      map[string][]byte
	Testrun    *model.Testrun
	ExtraLabel string
	IngestTime time.Time
}

// Result is returned on a successful ingest.
type Result struct {
	BunsenCommitID string
	Case           Case
}

// Engine drives ingest against a Store and configuration.
type Engine struct {
	Store  *objstore.Store
	Config *config.Config

	// Logger receives operator-facing ingest events. Defaults to
	// slog.Default() when nil, the same convention pkg/observability's
	// providers use for a caller that hasn't set one up.
	Logger *slog.Logger

	// Dir is the repository root (not bunsen.git), used only to spill an
	// incomplete-ingest marker under .bunsen-incomplete/ if this engine
	// advances the testlogs ref but fails before finishing the
	// FullTestrunFile/IndexFile writes. Left empty, that step is skipped —
	// repair's full-history walk heals the inconsistency either way.
	Dir string
}

// New returns an Engine bound to store and cfg.
func New(store *objstore.Store, cfg *config.Config) *Engine {
	return &Engine{Store: store, Config: cfg}
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}

	return slog.Default()
}

// Ingest runs the full ingest pipeline for bundle and returns the resulting
// bunsen_commit_id. Callers must hold the repository's write lock for the
// duration of this call.
func (e *Engine) Ingest(bundle Bundle) (Result, error) {
	if err := model.ValidateSummary(bundle.Testrun); err != nil {
		return Result{}, err
	}

	if err := model.ValidateTestcases(bundle.Testrun); err != nil {
		return Result{}, err
	}

	files := e.filterManifest(bundle.Files)

	run := bundle.Testrun
	e.normalize(run, bundle.IngestTime)

	extraLabel := bundle.ExtraLabel
	if extraLabel == "" {
		extraLabel = e.deriveExtraLabel(run)
	}

	testlogsBranch := fmt.Sprintf("%s/testlogs-%s", bundle.Project, run.YearMonth)

	testrunsBranch := fmt.Sprintf("%s/testruns-%s", bundle.Project, run.YearMonth)
	if extraLabel != "" {
		testrunsBranch += "-" + extraLabel
	}

	run.BunsenVersion = BunsenVersion
	run.BunsenTestlogsBranch = testlogsBranch
	run.BunsenTestrunsBranch = testrunsBranch

	treeHash, err := e.buildTree(files)
	if err != nil {
		return Result{}, err
	}

	parentID, err := e.Store.ResolveRef(testlogsBranch)
	if err != nil {
		return Result{}, err
	}

	// A resubmission of the same logs must resolve to the commit that
	// already carries that tree, not a freshly minted commit layered on
	// top of the tip — a new commit's parent field is the tip's own hash,
	// so its hash can never equal the tip's regardless of how many times
	// the same bundle is re-ingested. Find that existing commit (if any)
	// by walking the branch's single-parent chain (§4.3) for a tree match,
	// the same check the original implementation's commit_all performs.
	reusedID, testlogsExists, err := e.findReusableCommit(parentID, treeHash)
	if err != nil {
		return Result{}, err
	}

	var commitID gitlib.Hash

	if testlogsExists {
		commitID = reusedID
	} else {
		// The commit message carries the summary as known before the
		// commit id itself exists: bunsen_commit_id cannot appear in its
		// own hash preimage. The complete summary (with bunsen_commit_id
		// filled in) becomes the authoritative view in the IndexFile and
		// FullTestrunFile, matching the case-3 note in the update protocol
		// that the commit-message summary is not the source of truth for
		// this field.
		preCommitSummary := run.ToMap(false)
		delete(preCommitSummary, "bunsen_commit_id")

		preCommitJSON, jsonErr := model.CanonicalJSON(preCommitSummary)
		if jsonErr != nil {
			return Result{}, bunsenerr.Wrap(bunsenerr.KindValidationFailed, "serialize summary", jsonErr)
		}

		var parents []gitlib.Hash
		if !parentID.IsZero() {
			parents = []gitlib.Hash{parentID}
		}

		newID, commitErr := e.Store.MakeCommit(objstore.CommitSpec{
			Tree:      treeHash,
			Parents:   parents,
			Name:      fixedName,
			Email:     fixedEmail,
			Timestamp: commitTimestamp(run),
			Message:   string(preCommitJSON) + "\n",
		})
		if commitErr != nil {
			return Result{}, commitErr
		}

		commitID = newID
	}

	run.BunsenCommitID = commitID.String()

	if err := model.ValidateAssembledSummary(run.ToMap(false)); err != nil {
		return Result{}, err
	}

	existingTestrunPath, existingFullJSON, err := e.findFullTestrunFile(testrunsBranch, bundle.Project, commitID)
	if err != nil {
		return Result{}, err
	}

	caseKind := classify(testlogsExists, existingFullJSON, run)

	if caseKind == CaseNoop {
		return Result{BunsenCommitID: commitID.String(), Case: CaseNoop}, nil
	}

	if caseKind == CaseUpdatedRun {
		e.logSummaryDiff(run.BunsenCommitID, existingFullJSON, run)
	}

	if caseKind == CaseNew {
		if err := e.advanceTestlogsRef(testlogsBranch, parentID, commitID); err != nil {
			return Result{}, err
		}
	}

	testrunFileName := existingTestrunPath
	if testrunFileName == "" {
		testrunFileName = fullTestrunFileName(bundle.Project, commitID)
	}

	indexName := indexFileName(bundle.Project, run.YearMonth)

	if err := index.WriteFullTestrunFile(e.Store, testrunsBranch, testrunFileName, run.ToMap(true)); err != nil {
		return Result{}, e.markIncomplete(bundle.Project, run, testlogsBranch, testrunsBranch, indexName, err)
	}

	if err := index.UpsertSummary(e.Store, indexName, run.BunsenCommitID, run.ToMap(false)); err != nil {
		return Result{}, e.markIncomplete(bundle.Project, run, testlogsBranch, testrunsBranch, indexName, err)
	}

	return Result{BunsenCommitID: commitID.String(), Case: caseKind}, nil
}

// findReusableCommit walks branchTip's single-parent commit chain (§4.3)
// looking for a commit whose tree already matches treeHash. Testlogs
// branches are bounded to roughly a month of logs, so this scan stays
// cheap in practice
// — the same trade-off the original implementation's commit_all accepts.
func (e *Engine) findReusableCommit(branchTip, treeHash gitlib.Hash) (gitlib.Hash, bool, error) {
	for hash := branchTip; !hash.IsZero(); {
		info, err := e.Store.ReadCommit(hash)
		if err != nil {
			return gitlib.Hash{}, false, err
		}

		if info.Tree == treeHash {
			return hash, true, nil
		}

		if !info.HasParent {
			break
		}

		hash = info.Parent
	}

	return gitlib.Hash{}, false, nil
}

// markIncomplete spills an incomplete-ingest marker once the testlogs ref
// has already advanced and a later step in the write order has failed, per
// spec §7's "records an incomplete-ingest marker returned to the caller and
// healed by repair". The original cause is always returned even if the
// marker write itself fails — a failed marker write must never mask the
// real ingest error, since repair heals from testlogs history regardless.
func (e *Engine) markIncomplete(project string, run *model.Testrun, testlogsBranch, testrunsBranch, indexName string, cause error) error {
	if e.Dir == "" {
		return cause
	}

	m := incomplete.Marker{
		BunsenCommitID: run.BunsenCommitID,
		Project:        project,
		TestlogsBranch: testlogsBranch,
		TestrunsBranch: testrunsBranch,
		IndexName:      indexName,
		Summary:        run.ToMap(true),
	}

	path, writeErr := incomplete.Write(e.Dir, m)
	if writeErr != nil {
		e.logger().Error("failed to write incomplete-ingest marker",
			"bunsen_commit_id", run.BunsenCommitID, "error", writeErr)

		return cause
	}

	e.logger().Warn("ingest left incomplete; repair will heal it",
		"bunsen_commit_id", run.BunsenCommitID, "marker", path, "cause", cause)

	return bunsenerr.Wrap(bunsenerr.KindStoreIO,
		"testlogs ref advanced but ingest did not finish; marker written to "+path+"; run `bunsen repair` to heal", cause)
}

// classify determines which of the four update cases applies, given
// whether the provisional commit id already exists on the testlogs branch
// and whether a FullTestrunFile already exists for it.
func classify(testlogsExists bool, existingFullJSON []byte, run *model.Testrun) Case {
	if !testlogsExists {
		return CaseNew
	}

	if existingFullJSON == nil {
		return CaseDupLogsNewRun
	}

	newFullJSON, err := run.FullJSON()
	if err == nil && string(newFullJSON) == string(existingFullJSON) {
		return CaseNoop
	}

	return CaseUpdatedRun
}

// logSummaryDiff logs a unified diff between the previously stored
// FullTestrunFile and the one this ingest is about to write, so an operator
// watching `bunsen ingest` logs can see what a re-submitted
// run actually changed (spec §4.5 case 3 permits overwriting a testrun's
// JSON on a re-ingest, but gives no visibility into what changed by
// itself).
func (e *Engine) logSummaryDiff(bunsenCommitID string, previousFullJSON []byte, run *model.Testrun) {
	newFullJSON, err := run.FullJSON()
	if err != nil {
		return
	}

	dmp := diffmatchpatch.New()

	diffs := dmp.DiffMain(string(previousFullJSON), string(newFullJSON), false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	e.logger().Info("testrun updated on re-ingest",
		"bunsen_commit_id", bunsenCommitID,
		"diff", dmp.DiffPrettyText(diffs))
}

// normalize fills bunsen_version, derives timestamp (falling back to
// ingestTime) and year_month, per spec §4.4 step 2. Source-commit-based
// timestamp fallback is a caller concern (it requires reaching an external
// source repo under a timeout) and is expected to have already populated
// run.Timestamp before Ingest is called if that path was taken.
func (e *Engine) normalize(run *model.Testrun, ingestTime time.Time) {
	if run.BunsenVersion == "" {
		run.BunsenVersion = BunsenVersion
	}

	if run.Timestamp == "" {
		run.Timestamp = ingestTime.UTC().Format(time.RFC3339)
	}

	if run.YearMonth == "" {
		run.YearMonth = yearMonth(run.Timestamp, ingestTime)
	}
}

func yearMonth(timestamp string, fallback time.Time) string {
	if t, err := time.Parse(time.RFC3339, timestamp); err == nil {
		return t.UTC().Format("2006-01")
	}

	return fallback.UTC().Format("2006-01")
}

func commitTimestamp(run *model.Testrun) time.Time {
	if t, err := time.Parse(time.RFC3339, run.Timestamp); err == nil {
		return gitlib.NormalizeTimestamp(t)
	}

	return time.Unix(0, 0).UTC()
}

// filterManifest drops any submitted file whose name doesn't match one of
// the configured manifest globs. An empty manifest passes everything
// through unfiltered.
func (e *Engine) filterManifest(files map[string][]byte) map[string][]byte {
	patterns := e.Config.Upload.Manifest
	if len(patterns) == 0 {
		return files
	}

	out := make(map[string][]byte, len(files))

	for name, data := range files {
		for _, pattern := range patterns {
			if matched, _ := path.Match(pattern, name); matched {
				out[name] = data

				break
			}
		}
	}

	return out
}

// deriveExtraLabel computes extra_label from the configured
// extra_label_fields when the parser didn't supply one directly.
func (e *Engine) deriveExtraLabel(run *model.Testrun) string {
	fields := e.Config.Upload.ExtraLabelFields
	if len(fields) == 0 {
		return ""
	}

	parts := make([]string, 0, len(fields))

	for _, field := range fields {
		val, ok := run.Config[field]
		if !ok {
			continue
		}

		parts = append(parts, fmt.Sprintf("%v", val))
	}

	return strings.Join(parts, "-")
}

func (e *Engine) buildTree(files map[string][]byte) (gitlib.Hash, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}

	sort.Strings(names)

	entries := make([]objstore.Entry, 0, len(names))
	for _, name := range names {
		entries = append(entries, objstore.Entry{Name: name, Data: files[name]})
	}

	return e.Store.PutTree(entries)
}

// advanceTestlogsRef fast-forwards the testlogs branch from parentID to
// newID, retrying on ref conflict up to maxRefConflictRetries times.
func (e *Engine) advanceTestlogsRef(branch string, parentID, newID gitlib.Hash) error {
	oldID := parentID

	for attempt := 0; attempt < maxRefConflictRetries; attempt++ {
		err := e.Store.UpdateRef(branch, oldID, newID)
		if err == nil {
			return nil
		}

		kind, ok := bunsenerr.KindOf(err)
		if !ok || kind != bunsenerr.KindRefConflict {
			return err
		}

		current, resolveErr := e.Store.ResolveRef(branch)
		if resolveErr != nil {
			return resolveErr
		}

		if current == newID {
			return nil
		}

		oldID = current
	}

	return bunsenerr.New(bunsenerr.KindRefConflict, "testlogs ref conflict after retries: "+branch)
}

func (e *Engine) findFullTestrunFile(testrunsBranch, project string, commitID gitlib.Hash) (string, []byte, error) {
	tip, err := e.Store.ResolveRef(testrunsBranch)
	if err != nil {
		return "", nil, err
	}

	if tip.IsZero() {
		return "", nil, nil
	}

	name := fullTestrunFileName(project, commitID)

	data, err := e.Store.ReadPath(tip, name)
	if err != nil {
		return name, nil, nil
	}

	return name, data, nil
}

func fullTestrunFileName(project string, commitID gitlib.Hash) string {
	return fmt.Sprintf("%s-%s.json", project, commitID)
}

func indexFileName(project, yearMonth string) string {
	return fmt.Sprintf("%s-%s.json", project, yearMonth)
}
