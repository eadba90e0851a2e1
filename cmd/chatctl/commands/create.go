package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/model"
)

func createCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "create-link",
		Short: "Create a new channel link",
		RunE: func(cmd *cobra.Command, args []string) error {
			link := &model.ChatLink{
				Hash: newHash(),
			}
			if ttl > 0 {
				link.ExpiresAt = time.Now().Add(ttl)
			}

			if err := links.Create(cmd.Context(), link); err != nil {
				return err
			}

			fmt.Println(link.Hash)
			if ttl > 0 {
				fmt.Printf("expires %s\n", link.ExpiresAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "link lifetime (0 means no expiry)")
	return cmd
}

// newHash builds the short shareable id that doubles as the channel id.
func newHash() string {
	parts := strings.Split(uuid.NewString(), "-")
	return parts[0] + "-" + parts[1]
}
