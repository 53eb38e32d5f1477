package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/szaher/chatmemory/internal/session"
)

func newSearchCmd() *cobra.Command {
	var (
		topK      int
		days      int
		tags      []string
		sessionID string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Full-text search across stored messages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			hits, err := a.store.Search(cmd.Context(), session.SearchOptions{
				Query:         strings.Join(args, " "),
				TopK:          topK,
				TimeRangeDays: days,
				Tags:          tags,
				SessionID:     sessionID,
			})
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), hits)
			}
			if len(hits) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No matches.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tTITLE\tCREATED\tSNIPPET")
			for _, h := range hits {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", h.SessionID, h.SessionTitle,
					h.CreatedAt.Local().Format(time.DateTime), oneLine(h.Snippet, 80))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&topK, "top-k", session.DefaultTopK, "Maximum number of hits")
	cmd.Flags().IntVar(&days, "days", session.DefaultTimeRangeDays, "Only search messages from the last N days")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Only search sessions carrying this tag (repeatable)")
	cmd.Flags().StringVar(&sessionID, "session", "", "Only search this session")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print hits as JSON")

	return cmd
}

// oneLine collapses whitespace and truncates s to n runes.
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}
