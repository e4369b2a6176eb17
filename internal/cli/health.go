package cli

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func newHealthCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server liveness and readiness",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHealth(cmd, opts)
		},
	}
}

func runHealth(cmd *cobra.Command, opts *options) error {
	c := NewClient(opts.server())

	health, err := c.Health(cmd.Context())
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	ready, err := c.Ready(cmd.Context())
	if err != nil {
		return fmt.Errorf("readiness check failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if opts.jsonOutput {
		data, _ := json.MarshalIndent(map[string]interface{}{
			"server":    opts.server(),
			"status":    health.Status,
			"ready":     ready.Ready,
			"checks":    ready.Checks,
			"not_ready": ready.Error,
		}, "", "  ")
		fmt.Fprintln(out, string(data))
	} else {
		writeHealthHuman(out, opts.server(), health, ready)
	}

	if !ready.Ready {
		return fmt.Errorf("server not ready: %s", ready.Error)
	}
	return nil
}

func writeHealthHuman(w io.Writer, server string, health *HealthResponse, ready *ReadinessResponse) {
	fmt.Fprintf(w, "Server:  %s\n", server)
	fmt.Fprintf(w, "Status:  %s\n", health.Status)
	fmt.Fprintf(w, "Ready:   %t\n", ready.Ready)
	for _, name := range []string{"store", "storage"} {
		if v, ok := ready.Checks[name]; ok {
			fmt.Fprintf(w, "  %-7s %s\n", name+":", v)
		}
	}
}
