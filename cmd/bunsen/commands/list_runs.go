package commands

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bunsen-project/bunsen/internal/query"
)

// NewListRunsCommand creates the `bunsen list-runs` command.
func NewListRunsCommand() *cobra.Command {
	var (
		repoFlag        string
		project         string
		month           string
		format          string
		includeObsolete bool
	)

	cmd := &cobra.Command{
		Use:   "list-runs",
		Short: "List stored testrun summaries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := openRepo(repoFlag)
			if err != nil {
				return err
			}
			defer r.Close()

			q := r.Query()

			runs, err := collectRuns(q, project, month, includeObsolete)
			if err != nil {
				return err
			}

			switch format {
			case "json":
				return renderJSON(cmd, runs)
			case "yaml":
				return renderYAML(cmd, runs)
			default:
				renderTable(cmd, runs)

				return nil
			}
		},
	}

	cmd.Flags().StringVar(&repoFlag, "repo", "", "repository directory (default: $BUNSEN_ROOT or .)")
	cmd.Flags().StringVar(&project, "project", "", "restrict to this project (default: every project)")
	cmd.Flags().StringVar(&month, "month", "", "restrict to this YYYY-MM month (default: every month)")
	cmd.Flags().StringVar(&format, "format", "table", "output format: table, json, or yaml")
	cmd.Flags().BoolVar(&includeObsolete, "include-obsolete", false, "include summaries marked obsolete")

	return cmd
}

// runRow is one listed testrun, with its project name attached since the
// stored summary itself doesn't carry one (it's implied by the index
// file's name).
type runRow struct {
	Project string         `json:"project" yaml:"project"`
	Summary map[string]any `json:"summary" yaml:"summary"`
}

func collectRuns(q *query.Engine, project, month string, includeObsolete bool) ([]runRow, error) {
	projects := []string{project}

	if project == "" {
		var err error

		projects, err = q.ListProjects()
		if err != nil {
			return nil, err
		}
	}

	var rows []runRow

	for _, p := range projects {
		entries, err := q.ListTestruns(p, month, includeObsolete)
		if err != nil {
			return nil, err
		}

		for _, e := range entries {
			rows = append(rows, runRow{Project: p, Summary: e})
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		return fmt.Sprint(rows[i].Summary["timestamp"]) < fmt.Sprint(rows[j].Summary["timestamp"])
	})

	return rows, nil
}

func renderJSON(cmd *cobra.Command, rows []runRow) error {
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(data))

	return nil
}

func renderYAML(cmd *cobra.Command, rows []runRow) error {
	data, err := yaml.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}

	fmt.Fprint(cmd.OutOrStdout(), string(data))

	return nil
}

func renderTable(cmd *cobra.Command, rows []runRow) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Project", "Month", "ID", "When", "Pass/Fail", "Problems"})

	for _, row := range rows {
		id := fmt.Sprint(row.Summary["bunsen_commit_id"])
		if len(id) > idColumnWidth {
			id = id[:idColumnWidth]
		}

		t.AppendRow(table.Row{
			row.Project,
			row.Summary["year_month"],
			id,
			relativeTime(row.Summary["timestamp"]),
			passFailCell(row.Summary),
			problemsCell(row.Summary),
		})
	}

	t.Render()
}

// idColumnWidth is how many leading characters of each bunsen_commit_id the
// table shows; any unique prefix of at least 4 characters resolves.
const idColumnWidth = 12

func relativeTime(v any) string {
	ts, ok := v.(string)
	if !ok || ts == "" {
		return "-"
	}

	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}

	return humanize.Time(t)
}

func passFailCell(summary map[string]any) string {
	pass := numericField(summary, "pass_count")
	fail := numericField(summary, "fail_count")

	cell := fmt.Sprintf("%s/%s", pass, fail)
	if fail != "0" && fail != "-" {
		return color.RedString(cell)
	}

	return color.GreenString(cell)
}

func numericField(summary map[string]any, key string) string {
	v, ok := summary[key]
	if !ok {
		return "-"
	}

	switch n := v.(type) {
	case float64:
		return humanize.Comma(int64(n))
	default:
		return fmt.Sprint(n)
	}
}

func problemsCell(summary map[string]any) string {
	problems, ok := summary["problems"].([]any)
	if !ok || len(problems) == 0 {
		return "-"
	}

	return color.YellowString("%d", len(problems))
}
