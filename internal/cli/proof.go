package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/overseer-lite/overseer-lite/internal/crypto"
)

type proofFlags struct {
	password   string
	origin     string
	iterations int
	timestamp  int64
}

func newProofCommand(opts *options) *cobra.Command {
	f := &proofFlags{}
	cmd := &cobra.Command{
		Use:   "proof",
		Short: "Compute a login proof offline",
		Long: `proof prints the body a browser would send to /api/auth/verify.
The origin defaults to the server URL.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := buildProof(f, opts.server(), time.Now())
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(req, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&f.password, "password", "", "Shared password (default $OVERSEER_PASSWORD)")
	cmd.Flags().StringVar(&f.origin, "origin", "", "Origin used as the key derivation salt")
	cmd.Flags().IntVar(&f.iterations, "iterations", crypto.MinIterations, "PBKDF2 iteration count")
	cmd.Flags().Int64Var(&f.timestamp, "timestamp", 0, "Unix timestamp (default now)")
	return cmd
}

func buildProof(f *proofFlags, server string, now time.Time) (*VerifyRequest, error) {
	password := envDefault(f.password, "OVERSEER_PASSWORD")
	if password == "" {
		return nil, errors.New("password is required (--password or OVERSEER_PASSWORD)")
	}
	origin := f.origin
	if origin == "" {
		origin = server
	}
	ts := f.timestamp
	if ts == 0 {
		ts = now.Unix()
	}
	key := crypto.DeriveKey(password, origin, f.iterations)
	return &VerifyRequest{Origin: origin, Timestamp: ts, Hash: crypto.BuildProof(key, ts)}, nil
}
