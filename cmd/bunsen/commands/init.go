package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bunsen-project/bunsen/internal/repo"
)

// NewInitCommand creates the `bunsen init` command.
func NewInitCommand() *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "init <dir>",
		Short: "Create a new bunsen repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Init(args[0], project)
			if err != nil {
				return err
			}
			defer r.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "initialized bunsen repository at %s\n", args[0])

			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "default", "default project name for [core] project")

	return cmd
}
