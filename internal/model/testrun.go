package model

import (
	"encoding/json"
	"regexp"
	"sort"
)

// ProjectNamePattern is the accepted character class for project names.
var ProjectNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.+-]+$`)

// Testcase is one element of a full testrun's testcases array.
type Testcase struct {
	Name      string `json:"name"`
	Outcome   string `json:"outcome"`
	Subtest   string `json:"subtest,omitempty"`
	OriginLog string `json:"origin_log,omitempty"`
	OriginSum string `json:"origin_sum,omitempty"`

	// Extra carries any additional fields the parser attached to this
	// testcase (e.g. second-order-diff baseline cursors).
	Extra map[string]any `json:"-"`
}

// ValidOutcomes lists the testcase outcomes the model accepts.
var ValidOutcomes = map[string]bool{
	"PASS": true, "FAIL": true, "XFAIL": true, "XPASS": true,
	"KFAIL": true, "KPASS": true, "UNTESTED": true, "UNRESOLVED": true,
	"UNSUPPORTED": true, "ERROR": true,
}

// MarshalJSON flattens Extra into the object alongside the named fields.
func (tc Testcase) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	for k, v := range tc.Extra {
		out[k] = v
	}

	out["name"] = tc.Name
	out["outcome"] = tc.Outcome

	if tc.Subtest != "" {
		out["subtest"] = tc.Subtest
	}

	if tc.OriginLog != "" {
		out["origin_log"] = tc.OriginLog
	}

	if tc.OriginSum != "" {
		out["origin_sum"] = tc.OriginSum
	}

	return json.Marshal(out)
}

// UnmarshalJSON reads the named fields and stashes everything else in Extra.
func (tc *Testcase) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	tc.Extra = map[string]any{}

	for k, v := range raw {
		switch k {
		case "name":
			tc.Name, _ = v.(string)
		case "outcome":
			tc.Outcome, _ = v.(string)
		case "subtest":
			tc.Subtest, _ = v.(string)
		case "origin_log":
			tc.OriginLog, _ = v.(string)
		case "origin_sum":
			tc.OriginSum, _ = v.(string)
		default:
			tc.Extra[k] = v
		}
	}

	return nil
}

// reservedTestrunFields lists the Testrun struct fields that are never
// treated as configuration fields when computing the equivalence key.
var reservedTestrunFields = map[string]bool{
	"bunsen_version": true, "bunsen_commit_id": true,
	"bunsen_testlogs_branch": true, "bunsen_testruns_branch": true,
	"timestamp": true, "year_month": true, "version": true,
	"source_commit_id": true, "source_branch": true,
	"related_testruns_branches": true, "problems": true, "testcases": true,
	"obsolete": true,
}

// Testrun is the full in-memory representation of one testrun record. The
// reserved fields are named struct members; everything else — including
// arch/osver/origin_host/pass_count/fail_count and any configuration
// field a parser attaches — lives in Config and round-trips through JSON
// untouched.
type Testrun struct {
	BunsenVersion           string   `json:"bunsen_version"`
	BunsenCommitID          string   `json:"bunsen_commit_id"`
	BunsenTestlogsBranch    string   `json:"bunsen_testlogs_branch"`
	BunsenTestrunsBranch    string   `json:"bunsen_testruns_branch"`
	Timestamp               string   `json:"timestamp,omitempty"`
	YearMonth               string   `json:"year_month,omitempty"`
	Version                 string   `json:"version,omitempty"`
	SourceCommitID           string   `json:"source_commit_id,omitempty"`
	SourceBranch             string   `json:"source_branch,omitempty"`
	RelatedTestrunsBranches []string `json:"related_testruns_branches,omitempty"`
	Problems                []string `json:"problems,omitempty"`
	Obsolete                bool     `json:"obsolete,omitempty"`

	// Testcases is only present on the full testrun representation; the
	// summary representation omits it entirely.
	Testcases []Testcase `json:"testcases,omitempty"`

	// Config holds every remaining scalar field — architecture, kernel
	// version, compiler version, pass_count, fail_count, origin_host, and
	// whatever else a parser attaches — which together form the
	// equivalence key used when matching testruns across commits.
	Config map[string]any `json:"-"`
}

// ConfigKeys returns the sorted configuration field names, forming a
// deterministic iteration order for equivalence-key comparisons.
func (t *Testrun) ConfigKeys() []string {
	keys := make([]string, 0, len(t.Config))
	for k := range t.Config {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// IsSummary reports whether t lacks a testcases array (i.e. it is the
// IndexFile/commit-message summary representation rather than the full
// testrun).
func (t *Testrun) IsSummary() bool {
	return t.Testcases == nil
}

// ToMap flattens t (reserved fields plus Config) into a plain map, the
// representation CanonicalJSON operates on.
func (t *Testrun) ToMap(includeTestcases bool) map[string]any {
	out := map[string]any{}

	for k, v := range t.Config {
		out[k] = v
	}

	out["bunsen_version"] = t.BunsenVersion
	out["bunsen_commit_id"] = t.BunsenCommitID
	out["bunsen_testlogs_branch"] = t.BunsenTestlogsBranch
	out["bunsen_testruns_branch"] = t.BunsenTestrunsBranch

	if t.Timestamp != "" {
		out["timestamp"] = t.Timestamp
	}

	if t.YearMonth != "" {
		out["year_month"] = t.YearMonth
	}

	if t.Version != "" {
		out["version"] = t.Version
	}

	if t.SourceCommitID != "" {
		out["source_commit_id"] = t.SourceCommitID
	}

	if t.SourceBranch != "" {
		out["source_branch"] = t.SourceBranch
	}

	if len(t.RelatedTestrunsBranches) > 0 {
		out["related_testruns_branches"] = t.RelatedTestrunsBranches
	}

	if len(t.Problems) > 0 {
		out["problems"] = t.Problems
	}

	if t.Obsolete {
		out["obsolete"] = t.Obsolete
	}

	if includeTestcases && t.Testcases != nil {
		tcs := make([]any, len(t.Testcases))
		for i, tc := range t.Testcases {
			m := map[string]any{}

			enc, _ := tc.MarshalJSON() //nolint:errcheck // Testcase marshaling cannot fail.
			_ = json.Unmarshal(enc, &m)

			tcs[i] = m
		}

		out["testcases"] = tcs
	}

	return out
}

// SummaryJSON returns the canonical JSON of the summary view (reserved
// fields and configuration fields, no testcases).
func (t *Testrun) SummaryJSON() ([]byte, error) {
	return CanonicalJSON(t.ToMap(false))
}

// FullJSON returns the canonical JSON of the full view, including testcases.
func (t *Testrun) FullJSON() ([]byte, error) {
	return CanonicalJSON(t.ToMap(true))
}

// FromMap builds a Testrun from a decoded JSON object, splitting reserved
// fields from configuration fields.
func FromMap(m map[string]any) *Testrun {
	t := &Testrun{Config: map[string]any{}}

	for k, v := range m {
		switch k {
		case "bunsen_version":
			t.BunsenVersion, _ = v.(string)
		case "bunsen_commit_id":
			t.BunsenCommitID, _ = v.(string)
		case "bunsen_testlogs_branch":
			t.BunsenTestlogsBranch, _ = v.(string)
		case "bunsen_testruns_branch":
			t.BunsenTestrunsBranch, _ = v.(string)
		case "timestamp":
			t.Timestamp, _ = v.(string)
		case "year_month":
			t.YearMonth, _ = v.(string)
		case "version":
			t.Version, _ = v.(string)
		case "source_commit_id":
			t.SourceCommitID, _ = v.(string)
		case "source_branch":
			t.SourceBranch, _ = v.(string)
		case "related_testruns_branches":
			t.RelatedTestrunsBranches = toStringSlice(v)
		case "problems":
			t.Problems = toStringSlice(v)
		case "obsolete":
			t.Obsolete, _ = v.(bool)
		case "testcases":
			t.Testcases = toTestcases(v)
		default:
			t.Config[k] = v
		}
	}

	return t
}

func toStringSlice(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}

	out := make([]string, 0, len(list))

	for _, elem := range list {
		if s, ok := elem.(string); ok {
			out = append(out, s)
		}
	}

	return out
}

func toTestcases(v any) []Testcase {
	list, ok := v.([]any)
	if !ok {
		return nil
	}

	out := make([]Testcase, 0, len(list))

	for _, elem := range list {
		enc, err := json.Marshal(elem)
		if err != nil {
			continue
		}

		var tc Testcase
		if err := json.Unmarshal(enc, &tc); err != nil {
			continue
		}

		out = append(out, tc)
	}

	return out
}
