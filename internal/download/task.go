// Package download turns selected scenes into files on disk: option
// discovery, batched request submission, readiness polling, concurrent
// retrieval with integrity checks, and remote queue cleanup.
package download

import "encoding/json"

// Status of a download request on the remote queue, as tracked locally.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusPreparing Status = "preparing"
	StatusAvailable Status = "available"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusAvailable || s == StatusFailed || s == StatusExpired
}

// Option is one product available for a scene. Derived per scene from
// download-options; not persisted.
type Option struct {
	EntityID  string `json:"entityId"`
	DisplayID string `json:"displayId"`
	ProductID string `json:"id"`
	Available bool   `json:"-"`
	Filesize  int64  `json:"filesize"`
}

// optionRecord is the wire shape of one download-options result. The service
// reports availability as either a bool or the strings "Y"/"N".
type optionRecord struct {
	EntityID        string          `json:"entityId"`
	DisplayID       string          `json:"displayId"`
	ID              string          `json:"id"`
	Available       json.RawMessage `json:"available"`
	Filesize        int64           `json:"filesize"`
	ProductName     string          `json:"productName"`
	DownloadSystem  string          `json:"downloadSystem"`
	BulkAvailable   json.RawMessage `json:"bulkAvailable"`
	SecondaryGroups json.RawMessage `json:"secondaryDownloads"`
}

// Request is one entry on the remote download queue.
type Request struct {
	DownloadID int64
	EntityID   string
	DisplayID  string
	ProductID  string
	URL        string // set once the request is available
	Filesize   int64
	Status     Status
}

// Result is the terminal outcome of one request within a run.
type Result struct {
	Request Request
	Path    string // local file path on success
	Bytes   int64
	Reason  string // failure/expiry explanation
}

// Manifest is what an orchestrator run hands back: every submitted request
// lands in exactly one bucket. Scenes that offered no available product are
// listed separately; they are reported, never fatal.
type Manifest struct {
	Succeeded   []Result
	Failed      []Result
	Expired     []Result
	Unavailable []string // entity IDs with no available download option
}

// Submitted is the number of requests the manifest accounts for.
func (m *Manifest) Submitted() int {
	return len(m.Succeeded) + len(m.Failed) + len(m.Expired)
}
