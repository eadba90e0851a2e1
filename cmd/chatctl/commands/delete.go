package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-link [hash]",
		Short: "Tombstone a channel link so it can no longer be joined",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash := args[0]

			link, err := links.GetByHash(cmd.Context(), hash)
			if err != nil {
				return err
			}
			if link == nil {
				return fmt.Errorf("no link with hash %s", hash)
			}

			if err := links.MarkDeleted(cmd.Context(), hash); err != nil {
				return err
			}
			linkCheck.Invalidate(cmd.Context(), hash)

			fmt.Println("deleted", hash)
			return nil
		},
	}
}
