package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/langheinrich/Cherax-EE-Chat/internal/client"
)

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show relay status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			health, err := opts.client().Health(cmd.Context())
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd, health)
			}
			uptime := time.Duration(health.Uptime * float64(time.Second)).Round(time.Second)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "status: %s\nuptime: %s\nsessions: %d\nmessages: %d\n",
				health.Status, uptime, health.ActiveSessions, health.TotalMessages)
			return err
		},
	}
}

func newSessionsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List sessions known to the relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sessions, err := opts.client().Sessions(cmd.Context())
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd, sessions)
			}
			if len(sessions) == 0 {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tCLIENTS\tREST\tSOCKETS\tMESSAGES\tLAST ACTIVITY")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
					s.SessionID,
					strings.Join(s.ClientIDs, ","),
					s.RestClients,
					s.SocketClients,
					s.MessageCount,
					s.LastActivity.Format(time.RFC3339),
				)
			}
			return tw.Flush()
		},
	}
}

func newMessagesCmd(opts *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "messages",
		Short: "Show the most recent messages across all sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must not be negative")
			}
			messages, total, err := opts.client().Messages(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd, messages)
			}

			out := cmd.OutOrStdout()
			for _, m := range messages {
				fmt.Fprintf(out, "%s [%s] %s: %s\n",
					m.Timestamp.Format(time.TimeOnly), m.SessionID, m.Sender, m.Body)
			}
			_, err = fmt.Fprintf(out, "showing %d of %d\n", len(messages), total)
			return err
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "number of messages to show, 0 for all")
	return cmd
}

func newBroadcastCmd(opts *options) *cobra.Command {
	var sessionID, sender string

	cmd := &cobra.Command{
		Use:   "broadcast <message>",
		Short: "Send a system message to every occupied session, or one session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().Broadcast(cmd.Context(), client.BroadcastRequest{
				Message:   strings.Join(args, " "),
				Sender:    sender,
				SessionID: sessionID,
			})
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd, res)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "broadcast delivered to %d session(s)\n", res.RecipientCount)
			return err
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "only broadcast to this session")
	cmd.Flags().StringVar(&sender, "sender", "", "sender name shown to players")
	return cmd
}

func newClearCmd(opts *options) *cobra.Command {
	var sessionID string
	var all bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear message history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if sessionID == "" && !all {
				return fmt.Errorf("pass --session or --all")
			}
			if err := opts.client().Clear(cmd.Context(), sessionID); err != nil {
				return err
			}
			if sessionID != "" {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "cleared session %s\n", sessionID)
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "cleared all sessions")
			return err
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session to clear")
	cmd.Flags().BoolVar(&all, "all", false, "clear every session and the global log")
	cmd.MarkFlagsMutuallyExclusive("session", "all")
	return cmd
}
