package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newLoginCommand(opts *options) *cobra.Command {
	var (
		password string
		origin   string
		name     string
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and print a session token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := NewClient(opts.server())

			iterations, err := c.Iterations(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetching login parameters: %w", err)
			}
			req, err := buildProof(&proofFlags{
				password:   password,
				origin:     origin,
				iterations: iterations,
			}, opts.server(), time.Now())
			if err != nil {
				return err
			}
			req.Name = name

			resp, err := c.Verify(cmd.Context(), *req)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			if opts.jsonOutput {
				fmt.Fprintf(cmd.OutOrStdout(), "{\"token\":%q,\"name\":%q}\n", resp.Token, resp.Name)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Shared password (default $OVERSEER_PASSWORD)")
	cmd.Flags().StringVar(&origin, "origin", "", "Origin the server expects (default the server URL)")
	cmd.Flags().StringVar(&name, "name", "overseerctl", "Display name recorded on requests")
	return cmd
}
