package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/langheinrich/Cherax-EE-Chat/internal/client"
)

type options struct {
	baseURL string
	timeout time.Duration
	json    bool
}

func (o *options) client() *client.Client {
	c := client.New(o.baseURL)
	c.HTTPClient.Timeout = o.timeout
	return c
}

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "relayctl",
		Short:         "Inspect and administer a running chat relay",
		Long:          "relayctl talks to the chat relay HTTP API: list sessions, read the global log, broadcast, clear history, and run a responder bot for testing.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	baseURL := os.Getenv("RELAY_URL")
	if baseURL == "" {
		baseURL = client.DefaultBaseURL
	}
	rootCmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", baseURL, "relay base URL (env RELAY_URL)")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "HTTP request timeout")
	rootCmd.PersistentFlags().BoolVar(&opts.json, "json", false, "print raw JSON")

	rootCmd.AddCommand(
		newHealthCmd(opts),
		newSessionsCmd(opts),
		newMessagesCmd(opts),
		newBroadcastCmd(opts),
		newClearCmd(opts),
		newBotCmd(opts),
	)

	return rootCmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
