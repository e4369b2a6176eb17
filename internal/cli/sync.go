package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func newSyncCommand(opts *options) *cobra.Command {
	var (
		file       string
		mediaType  string
		token      string
		clearFirst bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Upload a library export to /sync/library",
		Long: `sync posts a JSON array of library items, each with tmdb_id and
optionally tvdb_id, imdb_id, title and year. Use "-" to read stdin.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if mediaType != "movie" && mediaType != "tv" {
				return errors.New("--media-type must be movie or tv")
			}
			token = envDefault(token, "OVERSEER_WEBHOOK_TOKEN")
			if token == "" {
				return errors.New("webhook token is required (--token or OVERSEER_WEBHOOK_TOKEN)")
			}

			items, err := readItems(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			resp, err := NewClient(opts.server()).SyncLibrary(cmd.Context(), token, mediaType, clearFirst, items)
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}
			if opts.jsonOutput {
				data, _ := json.MarshalIndent(resp, "", "  ")
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Synced %d %s items, %d requests marked as added\n",
				resp.Synced, resp.MediaType, resp.MarkedAsAdded)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "JSON array to upload")
	cmd.Flags().StringVar(&mediaType, "media-type", "", "movie or tv")
	cmd.Flags().StringVar(&token, "token", "", "Plex webhook token (default $OVERSEER_WEBHOOK_TOKEN)")
	cmd.Flags().BoolVar(&clearFirst, "clear", false, "Replace the library of this media type")
	return cmd
}

func readItems(stdin io.Reader, file string) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, fmt.Errorf("reading items: %w", err)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("items must be a JSON array: %w", err)
	}
	return json.RawMessage(data), nil
}
