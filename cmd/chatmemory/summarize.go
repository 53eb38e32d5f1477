package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/szaher/chatmemory/internal/session"
)

func newSummarizeCmd() *cobra.Command {
	var (
		style string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "summarize SESSION_ID",
		Short: "Summarize a session with the configured LLM",
		Long:  "Summarize a session. Cached summaries are reused unless --force is given.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := session.ParseStyle(style)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.summarizer.Summarize(cmd.Context(), args[0], st, force)
			if err != nil {
				return err
			}
			if res.Cached {
				a.logger.Debug("returned cached summary", "session_id", res.SessionID, "style", res.Style)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Summary)
			return nil
		},
	}

	cmd.Flags().StringVar(&style, "style", string(session.StyleBrief), "Summary style (brief or detailed)")
	cmd.Flags().BoolVar(&force, "force", false, "Regenerate even if a cached summary exists")

	return cmd
}
