package commands

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bunsen-project/bunsen/internal/extension"
	"github.com/bunsen-project/bunsen/internal/ingest"
)

// NewIngestCommand creates the `bunsen ingest` command.
func NewIngestCommand() *cobra.Command {
	var (
		repoFlag string
		project  string
		extra    string
		debug    bool
	)

	cmd := &cobra.Command{
		Use:   "ingest <tar>",
		Short: "Ingest a tar bundle of test logs for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			providers, err := initObservability(debug)
			if err != nil {
				return err
			}

			defer func() {
				if shutdownErr := providers.Shutdown(context.Background()); shutdownErr != nil {
					providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
				}
			}()

			r, err := openRepo(repoFlag)
			if err != nil {
				return err
			}
			defer r.Close()

			proj := project
			if proj == "" {
				proj = r.Config.DefaultProject
			}

			files, err := extractTar(args[0])
			if err != nil {
				return err
			}

			providers.Logger.Info("extracted bundle", "project", proj, "file_count", len(files))

			registry, err := extension.NewRegistry(r.Dir)
			if err != nil {
				return err
			}

			parser, err := registry.Resolve(r.Config.Upload.CommitModule)
			if err != nil {
				return err
			}

			run, parsedFiles, err := parser.Parse(cmd.Context(), files)
			if err != nil {
				return err
			}

			bundle := ingest.Bundle{
				Project:    proj,
				Files:      parsedFiles,
				Testrun:    run,
				ExtraLabel: extra,
				IngestTime: time.Now(),
			}

			var result ingest.Result

			err = r.WithWriteLock(cmd.Context(), func() error {
				ingester := r.Ingester()
				ingester.Logger = providers.Logger

				var ingestErr error
				result, ingestErr = ingester.Ingest(bundle)

				return ingestErr
			})
			if err != nil {
				return err
			}

			providers.Logger.Info("ingest complete",
				"bunsen_commit_id", result.BunsenCommitID, "case", caseLabel(result.Case))

			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n",
				color.GreenString("ingested"), result.BunsenCommitID, caseLabel(result.Case))

			return nil
		},
	}

	cmd.Flags().StringVar(&repoFlag, "repo", "", "repository directory (default: $BUNSEN_ROOT or .)")
	cmd.Flags().StringVar(&project, "project", "", "project name (default: [core] project from config)")
	cmd.Flags().StringVar(&extra, "extra", "", "extra label for the testruns branch")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging to stderr")

	return cmd
}

func caseLabel(c ingest.Case) string {
	switch c {
	case ingest.CaseNew:
		return "new"
	case ingest.CaseDupLogsNewRun:
		return "duplicate logs, new run"
	case ingest.CaseUpdatedRun:
		return "updated run"
	case ingest.CaseNoop:
		return "no-op"
	default:
		return "unknown"
	}
}

// extractTar reads a (optionally gzip-compressed) tar archive into a
// file_map, per spec §4.4's `ingest(project, tar_bytes_or_file_map)` entry
// point.
func extractTar(path string) (map[string][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f

	if isGzip(path) {
		gz, gzErr := gzip.NewReader(f)
		if gzErr != nil {
			return nil, fmt.Errorf("open gzip stream %s: %w", path, gzErr)
		}
		defer gz.Close()

		r = gz
	}

	tr := tar.NewReader(r)
	files := map[string][]byte{}

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("read tar %s: %w", path, err)
		}

		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		var buf bytes.Buffer

		if _, err := io.Copy(&buf, tr); err != nil {
			return nil, fmt.Errorf("read tar entry %s: %w", hdr.Name, err)
		}

		files[hdr.Name] = buf.Bytes()
	}

	return files, nil
}

func isGzip(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	magic := make([]byte, 2)
	if _, err := io.ReadFull(f, magic); err != nil {
		return false
	}

	return magic[0] == 0x1f && magic[1] == 0x8b
}
