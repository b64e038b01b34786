package download

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/akarpov87/m2mfetch/internal/logging"
	"github.com/akarpov87/m2mfetch/internal/m2m"
)

// Invoker runs one authenticated endpoint call. Implemented by
// m2m.SessionManager; tests substitute fakes.
type Invoker interface {
	Call(ctx context.Context, op string, payload any) (json.RawMessage, error)
}

// Cleaner lists and removes entries on the remote download queue. Used
// standalone for stale-order cleanup and by the orchestrator after every
// terminal request.
type Cleaner struct {
	api Invoker
	log logging.Logger
}

func NewCleaner(api Invoker, log logging.Logger) *Cleaner {
	return &Cleaner{api: api, log: log}
}

// queueRecord is the wire shape of one download-search entry.
type queueRecord struct {
	DownloadID int64  `json:"downloadId"`
	EntityID   string `json:"entityId"`
	DisplayID  string `json:"displayId"`
	ProductID  string `json:"productCode"`
	Filesize   int64  `json:"filesize"`
	URL        string `json:"url"`
	StatusCode string `json:"statusCode"`
	StatusText string `json:"statusText"`
	Label      string `json:"label"`
}

func (r queueRecord) toRequest() Request {
	return Request{
		DownloadID: r.DownloadID,
		EntityID:   r.EntityID,
		DisplayID:  r.DisplayID,
		ProductID:  r.ProductID,
		Filesize:   r.Filesize,
		Status:     statusFromCode(r.StatusCode),
	}
}

// statusFromCode maps the service's single-letter status codes.
func statusFromCode(code string) Status {
	switch code {
	case "A", "D":
		return StatusAvailable
	case "F":
		return StatusFailed
	case "P", "S":
		return StatusPreparing
	case "E", "X":
		return StatusExpired
	default:
		return StatusQueued
	}
}

// ListPending returns the account's queue entries still awaiting completion.
// An empty label matches every label.
func (c *Cleaner) ListPending(ctx context.Context, label string) ([]Request, error) {
	payload := map[string]any{"activeOnly": true}
	if label != "" {
		payload["label"] = label
	}
	data, err := c.api.Call(ctx, "download-search", payload)
	if err != nil {
		if errors.Is(err, m2m.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var records []queueRecord
	if err := m2m.DecodeData("download-search", data, &records); err != nil {
		return nil, err
	}
	requests := make([]Request, 0, len(records))
	for _, r := range records {
		requests = append(requests, r.toRequest())
	}
	return requests, nil
}

// RemoveOutcome is the per-identifier result of a Remove call.
type RemoveOutcome struct {
	DownloadID int64
	NotFound   bool // already removed; non-fatal
	Err        error
}

// Remove deletes queue entries best-effort, one call per identifier.
// An already-removed identifier yields a NotFound outcome, not an error.
func (c *Cleaner) Remove(ctx context.Context, ids []int64) []RemoveOutcome {
	outcomes := make([]RemoveOutcome, 0, len(ids))
	for _, id := range ids {
		out := RemoveOutcome{DownloadID: id}
		_, err := c.api.Call(ctx, "download-remove", map[string]any{"downloadId": id})
		switch {
		case err == nil:
		case errors.Is(err, m2m.ErrNotFound):
			out.NotFound = true
			c.log.Debug(ctx, "queue entry already removed", "downloadId", id)
		default:
			out.Err = err
			c.log.Warn(ctx, "queue removal failed", "downloadId", id, "error", err)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}
