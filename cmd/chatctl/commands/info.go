package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info [hash]",
		Short: "Show the state of a channel link",
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

			now := time.Now()
			fmt.Printf("hash:     %s\n", link.Hash)
			fmt.Printf("created:  %s\n", link.CreatedAt.Format(time.RFC3339))
			switch {
			case link.Deleted:
				fmt.Println("state:    deleted")
			case link.Expired(now):
				fmt.Printf("state:    expired (%s)\n", link.ExpiresAt.Format(time.RFC3339))
			default:
				fmt.Println("state:    active")
				if !link.ExpiresAt.IsZero() {
					fmt.Printf("expires:  %s\n", link.ExpiresAt.Format(time.RFC3339))
				}
			}

			valid, err := linkCheck.IsValid(cmd.Context(), hash)
			if err != nil {
				return err
			}
			fmt.Printf("joinable: %t\n", valid)
			return nil
		},
	}
}
