package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bunsen-project/bunsen/pkg/gitlib"
)

// NewGetLogsCommand creates the `bunsen get-logs` command.
func NewGetLogsCommand() *cobra.Command {
	var repoFlag string

	cmd := &cobra.Command{
		Use:   "get-logs <bunsen_commit_id> [<path>]",
		Short: "Read a file from a stored testlogs commit, or list its files",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo(repoFlag)
			if err != nil {
				return err
			}
			defer r.Close()

			q := r.Query()

			if len(args) == 2 {
				data, err := q.OpenLog(args[0], args[1])
				if err != nil {
					return err
				}

				_, err = cmd.OutOrStdout().Write(data)

				return err
			}

			fullID, err := q.ResolveID(args[0])
			if err != nil {
				return err
			}

			entries, err := r.Store.ReadTree(gitlib.NewHash(fullID))
			if err != nil {
				return err
			}

			for _, e := range entries {
				fmt.Fprintln(cmd.OutOrStdout(), e.Name)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&repoFlag, "repo", "", "repository directory (default: $BUNSEN_ROOT or .)")

	return cmd
}
