package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/szaher/chatmemory/internal/session"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Create, list and inspect sessions",
	}

	cmd.AddCommand(newSessionCreateCmd())
	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionShowCmd())
	cmd.AddCommand(newSessionAddCmd())

	return cmd
}

func newSessionCreateCmd() *cobra.Command {
	var (
		title string
		tags  []string
		meta  []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new session",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := parseMeta(meta)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			sess, err := a.store.CreateSession(cmd.Context(), session.NewSession{Title: title, Tags: tags, Meta: m})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sess.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Session title")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag to attach (repeatable)")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "Metadata entry as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("title")

	return cmd
}

func newSessionListCmd() *cobra.Command {
	var (
		limit  int
		offset int
		tags   []string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			sessions, total, err := a.store.ListSessions(cmd.Context(), session.ListOptions{Limit: limit, Offset: offset, Tags: tags})
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{"sessions": sessions, "total": total})
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tTAGS\tUPDATED")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.Title, strings.Join(s.Tags, ","),
					s.UpdatedAt.Local().Format(time.DateTime))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d of %d sessions\n", len(sessions), total)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", session.DefaultListLimit, "Maximum number of sessions")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of sessions to skip")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Only list sessions carrying this tag (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print sessions as JSON")

	return cmd
}

// sessionExport is the document written by "session show".
type sessionExport struct {
	Session      *session.Session  `json:"session" yaml:"session"`
	Messages     []session.Message `json:"messages" yaml:"messages"`
	MessageCount int               `json:"message_count" yaml:"message_count"`
}

func newSessionShowCmd() *cobra.Command {
	var (
		format   string
		messages int
	)

	cmd := &cobra.Command{
		Use:   "show SESSION_ID",
		Short: "Show a session and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != formatJSON && format != formatYAML {
				return fmt.Errorf("unsupported format %q (must be json or yaml)", format)
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			sess, err := a.store.GetSession(ctx, args[0])
			if err != nil {
				return err
			}
			msgs, err := a.store.ListMessages(ctx, sess.ID, messages, 0)
			if err != nil {
				return err
			}
			count, err := a.store.CountMessages(ctx, sess.ID)
			if err != nil {
				return err
			}
			return printFormatted(cmd.OutOrStdout(), format, sessionExport{Session: sess, Messages: msgs, MessageCount: count})
		},
	}

	cmd.Flags().StringVar(&format, "format", formatJSON, "Output format (json or yaml)")
	cmd.Flags().IntVar(&messages, "messages", 100, "Maximum number of messages to include (0 for all)")

	return cmd
}

func newSessionAddCmd() *cobra.Command {
	var (
		role    string
		content string
	)

	cmd := &cobra.Command{
		Use:   "add SESSION_ID",
		Short: "Append a message to a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := session.Role(role)
			if !r.Valid() {
				return fmt.Errorf("invalid role %q (must be user, assistant or system)", role)
			}
			if content == "" {
				return fmt.Errorf("--content cannot be empty")
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			saved, err := a.store.SaveMessages(cmd.Context(), args[0], []session.NewMessage{{Role: r, Content: content}})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), saved[0].ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", string(session.RoleUser), "Message role (user, assistant or system)")
	cmd.Flags().StringVar(&content, "content", "", "Message content")
	_ = cmd.MarkFlagRequired("content")

	return cmd
}

// parseMeta turns key=value pairs into a metadata map.
func parseMeta(pairs []string) (map[string]any, error) {
	meta := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --meta %q (want key=value)", p)
		}
		meta[k] = v
	}
	return meta, nil
}
