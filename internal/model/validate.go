package model

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/bunsen-project/bunsen/internal/bunsenerr"
)

// summarySchema is the JSON Schema a parsed testrun's summary view must
// satisfy before ingest will accept it. It encodes the required-vs-optional
// split from the data model; testcase outcomes are checked against
// testcaseSchema instead.
const summarySchema = `{
  "type": "object",
  "required": ["bunsen_commit_id", "bunsen_testlogs_branch", "bunsen_testruns_branch"],
  "properties": {
    "bunsen_commit_id": {"type": "string", "pattern": "^[0-9a-f]{40}$"},
    "bunsen_testlogs_branch": {"type": "string", "minLength": 1},
    "bunsen_testruns_branch": {"type": "string", "minLength": 1},
    "timestamp": {"type": "string"},
    "year_month": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}$"},
    "pass_count": {"type": "number"},
    "fail_count": {"type": "number"},
    "problems": {"type": "array", "items": {"type": "string"}}
  }
}`

const testcaseSchema = `{
  "type": "object",
  "required": ["name", "outcome"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "outcome": {
      "type": "string",
      "enum": ["PASS", "FAIL", "XFAIL", "XPASS", "KFAIL", "KPASS", "UNTESTED", "UNRESOLVED", "UNSUPPORTED", "ERROR"]
    }
  }
}`

var (
	summarySchemaLoader  = gojsonschema.NewStringLoader(summarySchema)
	testcaseSchemaLoader = gojsonschema.NewStringLoader(testcaseSchema)
)

// ValidateSummary checks that a freshly parsed testrun carries enough
// identifying information to be worth storing, before the engine has
// assigned bunsen_version/bunsen_commit_id/branch names (those are
// engine-derived and can't be checked against the parser's raw output — see
// ValidateAssembledSummary for the post-assignment check). A record with no
// timestamp, no source commit, and no configuration fields is only
// acceptable when it carries a non-empty Problems list (the parser flagged
// it itself); otherwise ingest must reject it with ParseRejected.
func ValidateSummary(t *Testrun) error {
	if t.Timestamp != "" || t.SourceCommitID != "" || len(t.Config) > 0 {
		return nil
	}

	if len(t.Problems) > 0 {
		return nil
	}

	return bunsenerr.New(bunsenerr.KindParseRejected,
		"parsed testrun carries no timestamp, source commit, or configuration fields, and no problems were reported")
}

// ValidateAssembledSummary checks the fully assembled summary view (with
// bunsen_version/bunsen_commit_id/branch names filled in by the engine)
// against summarySchema. This is a defensive check on the engine's own
// output rather than a gate on parser input: the engine guarantees these
// fields, so failure here indicates a bug rather than a bad submission, and
// is reported as ValidationFailed rather than ParseRejected.
func ValidateAssembledSummary(summary map[string]any) error {
	documentLoader := gojsonschema.NewGoLoader(summary)

	result, err := gojsonschema.Validate(summarySchemaLoader, documentLoader)
	if err != nil {
		return bunsenerr.Wrap(bunsenerr.KindValidationFailed, "schema validation error", err)
	}

	if result.Valid() {
		return nil
	}

	return bunsenerr.New(bunsenerr.KindValidationFailed, formatValidationErrors(result))
}

// ValidateTestcases checks every testcase in t against testcaseSchema.
func ValidateTestcases(t *Testrun) error {
	for i, tc := range t.Testcases {
		enc, err := json.Marshal(tc)
		if err != nil {
			return bunsenerr.Wrap(bunsenerr.KindValidationFailed, "marshal testcase", err)
		}

		documentLoader := gojsonschema.NewBytesLoader(enc)

		result, err := gojsonschema.Validate(testcaseSchemaLoader, documentLoader)
		if err != nil {
			return bunsenerr.Wrap(bunsenerr.KindValidationFailed, "schema validation error", err)
		}

		if !result.Valid() {
			return bunsenerr.New(bunsenerr.KindValidationFailed,
				fmt.Sprintf("testcase %d: %s", i, formatValidationErrors(result)))
		}
	}

	return nil
}

func formatValidationErrors(result *gojsonschema.Result) string {
	msg := ""

	for i, e := range result.Errors() {
		if i > 0 {
			msg += "; "
		}

		msg += e.String()
	}

	return msg
}
