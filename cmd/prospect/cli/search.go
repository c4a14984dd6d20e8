package cli

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

// NewSearchCommand returns the "search" command.
func NewSearchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Search leads and their activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			status, _ := cmd.Flags().GetString("status")
			cursor, _ := cmd.Flags().GetString("cursor")
			pageSize, _ := cmd.Flags().GetInt("page-size")

			q := url.Values{}
			q.Set("q", args[0])
			if kind != "" {
				q.Set("kind", kind)
			}
			if status != "" {
				q.Set("status", status)
			}
			if cursor != "" {
				q.Set("cursor", cursor)
			}
			if pageSize > 0 {
				q.Set("page_size", strconv.Itoa(pageSize))
			}

			var res struct {
				Docs []struct {
					ID     string         `json:"id"`
					Fields map[string]any `json:"fields"`
				} `json:"docs"`
				Cursor   string `json:"cursor"`
				Strategy string `json:"strategy"`
			}
			if err := clientFromCmd(cmd).do("GET", "/api/search?"+q.Encode(), nil, &res); err != nil {
				return err
			}
			if err := printJSON(res.Docs); err != nil {
				return err
			}
			if res.Cursor != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "next page: --cursor %s\n", res.Cursor)
			}
			return nil
		},
	}

	cmd.Flags().String("addr", "http://localhost:7040", "server address")
	cmd.Flags().String("token", "", "authentication token (or PROSPECT_TOKEN env)")
	cmd.Flags().String("kind", "", "restrict to one kind: lead, activity, proposal, contract")
	cmd.Flags().String("status", "", "status facet")
	cmd.Flags().String("cursor", "", "resume from a previous page")
	cmd.Flags().Int("page-size", 0, "page size (server default when 0)")
	return cmd
}
