package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/szaher/chatmemory/internal/inject"
	"github.com/szaher/chatmemory/internal/session"
)

func newInjectCmd() *cobra.Command {
	var (
		sessionID string
		query     string
		style     string
		topK      int
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "inject",
		Short: "Render a memory injection block",
		Long: `Render a structured memory injection block for one session (--session)
or for the sessions matching a keyword search (--query).`,
		Example: `  chatmemory inject --session sess_01J...
  chatmemory inject --query "storage design" --style detailed --top-k 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			block, err := a.injector.Inject(cmd.Context(), inject.Request{
				SessionID: sessionID,
				Query:     query,
				Style:     session.Style(style),
				TopK:      topK,
			})
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), block)
			}
			fmt.Fprintln(cmd.OutOrStdout(), block.Text)
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID to inject")
	cmd.Flags().StringVar(&query, "query", "", "Search query for cross-session aggregation")
	cmd.Flags().StringVar(&style, "style", string(session.StyleBrief), "Injection style (brief or detailed)")
	cmd.Flags().IntVar(&topK, "top-k", inject.DefaultTopK, "Number of search hits to aggregate with --query")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	cmd.MarkFlagsMutuallyExclusive("session", "query")
	cmd.MarkFlagsOneRequired("session", "query")

	return cmd
}
