package webhooks

import (
	"bytes"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/overseer-lite/overseer-lite/internal/db/models"
)

// maxSyncBytes bounds a library export body.
const maxSyncBytes = 32 << 20

// decodeSyncItems reads a JSON array of library items. A non-zero status is
// the client error to report.
func decodeSyncItems(r *http.Request) ([]models.SyncItem, int, string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSyncBytes+1))
	if err != nil {
		return nil, http.StatusBadRequest, "Invalid JSON body"
	}
	if len(body) > maxSyncBytes {
		return nil, http.StatusRequestEntityTooLarge, "Body too large"
	}

	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) {
		return nil, http.StatusBadRequest, "Invalid JSON body"
	}
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, http.StatusBadRequest, "Body must be a JSON array"
	}

	var items []models.SyncItem
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, http.StatusBadRequest, "Invalid JSON body"
	}
	return items, 0, ""
}
