package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRebuildCommand returns the "rebuild" command.
func NewRebuildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Regenerate the search index from source documents",
		Long:  "Walk every lead and subcollection document and rewrite its denormalized search fields and global index entry. Requires a maintenance token.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var res struct {
				Success   bool   `json:"success"`
				Processed int    `json:"processed"`
				Error     string `json:"error"`
			}
			if err := clientFromCmd(cmd).do("POST", "/api/index/rebuild", nil, &res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("rebuild failed after %d documents: %s", res.Processed, res.Error)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rebuilt %d documents\n", res.Processed)
			return nil
		},
	}

	cmd.Flags().String("addr", "http://localhost:7040", "server address")
	cmd.Flags().String("token", "", "authentication token (or PROSPECT_TOKEN env)")
	return cmd
}
