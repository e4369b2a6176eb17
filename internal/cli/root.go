// Package cli implements overseerctl, the operator command line for an
// overseer-lite server: health probes, scripted logins, offline proof
// computation and bulk library syncs.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

const defaultServerURL = "http://localhost:8080"

// options are the persistent flags shared by every subcommand.
type options struct {
	serverURL  string
	jsonOutput bool
}

// server returns the URL from the flag, OVERSEER_URL, or the default.
func (o *options) server() string {
	if o.serverURL != "" {
		return o.serverURL
	}
	if env := os.Getenv("OVERSEER_URL"); env != "" {
		return env
	}
	return defaultServerURL
}

// NewRootCommand builds the overseerctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "overseerctl",
		Short: "Operator CLI for overseer-lite",
		Long: `overseerctl talks to an overseer-lite server.

Environment Variables:
  OVERSEER_URL            Server URL (default: http://localhost:8080)
  OVERSEER_PASSWORD       Shared password for login and proof
  OVERSEER_WEBHOOK_TOKEN  Plex webhook token for sync`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.serverURL, "url", "", "Server URL (overrides OVERSEER_URL)")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Output JSON instead of human-readable text")

	root.AddCommand(
		newHealthCommand(opts),
		newLoginCommand(opts),
		newProofCommand(opts),
		newSyncCommand(opts),
	)
	return root
}

func envDefault(value, key string) string {
	if value != "" {
		return value
	}
	return os.Getenv(key)
}
