package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bunsen-project/bunsen/internal/cursor"
)

// NewShowCursorCommand creates the `bunsen show-cursor` command.
func NewShowCursorCommand() *cobra.Command {
	var (
		repoFlag string
		branch   string
		commitID string
	)

	cmd := &cobra.Command{
		Use:   "show-cursor <cursor>",
		Short: "Resolve a stored log cursor and print the text it names",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo(repoFlag)
			if err != nil {
				return err
			}
			defer r.Close()

			c, err := cursor.Parse(args[0])
			if err != nil {
				return err
			}

			c = c.WithContext(branch, commitID)

			text, resolved, err := r.Query().ResolveCursor(c)
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), text)

			if resolved.Truncated {
				fmt.Fprintln(cmd.ErrOrStderr(), "(truncated: the stored blob is shorter than the cursor's requested range)")
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&repoFlag, "repo", "", "repository directory (default: $BUNSEN_ROOT or .)")
	cmd.Flags().StringVar(&branch, "branch", "", "testlogs branch, when the cursor omits one")
	cmd.Flags().StringVar(&commitID, "commit-id", "", "bunsen_commit_id, when the cursor omits one")

	return cmd
}
