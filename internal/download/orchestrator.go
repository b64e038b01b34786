package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/akarpov87/m2mfetch/internal/logging"
	"github.com/akarpov87/m2mfetch/internal/m2m"
)

// Config bounds the orchestrator pipeline.
type Config struct {
	Concurrency  int           // parallel file transfers
	BatchSize    int           // requests per download-request call
	PollInitial  time.Duration // first readiness-poll delay
	PollCap      time.Duration // backoff ceiling between polls
	PollMaxWait  time.Duration // total wait before a request expires locally
	FetchRetries uint64        // network retries per file transfer
	OutputDir    string
}

func (c *Config) withDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	if c.PollInitial <= 0 {
		c.PollInitial = 5 * time.Second
	}
	if c.PollCap <= 0 {
		c.PollCap = time.Minute
	}
	if c.PollMaxWait <= 0 {
		c.PollMaxWait = time.Hour
	}
	if c.FetchRetries == 0 {
		c.FetchRetries = 3
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
}

// Orchestrator runs the scene-to-files pipeline. One Run per invocation;
// individual request failures never abort the batch.
type Orchestrator struct {
	api     Invoker
	fetcher *Fetcher
	cleaner *Cleaner
	cfg     Config
	log     logging.Logger

	// sleep and newLabel are test seams: a mock clock for deterministic
	// polling, a fixed label for predictable payloads.
	sleep    func(ctx context.Context, d time.Duration) error
	newLabel func() string
}

func NewOrchestrator(api Invoker, fetcher *Fetcher, cfg Config, log logging.Logger) *Orchestrator {
	cfg.withDefaults()
	return &Orchestrator{
		api:      api,
		fetcher:  fetcher,
		cleaner:  NewCleaner(api, log),
		cfg:      cfg,
		log:      log,
		sleep:    sleepCtx,
		newLabel: uuid.NewString,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Options returns the download options for the given scenes, one service
// call for the whole set.
func (o *Orchestrator) Options(ctx context.Context, dataset string, entityIDs []string) ([]Option, error) {
	payload := map[string]any{"datasetName": dataset, "entityIds": entityIDs}
	data, err := o.api.Call(ctx, "download-options", payload)
	if err != nil {
		return nil, err
	}
	var records []optionRecord
	if err := m2m.DecodeData("download-options", data, &records); err != nil {
		return nil, err
	}
	options := make([]Option, 0, len(records))
	for _, r := range records {
		options = append(options, Option{
			EntityID:  r.EntityID,
			DisplayID: r.DisplayID,
			ProductID: r.ID,
			Available: parseAvailable(r.Available),
			Filesize:  r.Filesize,
		})
	}
	return options, nil
}

// parseAvailable tolerates the two encodings the service uses for the
// availability flag: a JSON bool and the strings "Y"/"N".
func parseAvailable(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return string(trimmed) == "true" || string(trimmed) == `"Y"`
}

// Run executes the full pipeline for the given scenes and returns a manifest
// accounting for every submitted request. The returned error is reserved for
// whole-run preconditions (no session, options call failed); per-request
// failures land in the manifest instead.
func (o *Orchestrator) Run(ctx context.Context, dataset string, entityIDs []string) (*Manifest, error) {
	manifest := &Manifest{}

	options, err := o.Options(ctx, dataset, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("discover options: %w", err)
	}
	selected := selectOptions(options, entityIDs, manifest)
	if len(selected) == 0 {
		o.log.Warn(ctx, "no downloadable scenes", "dataset", dataset, "requested", len(entityIDs))
		return manifest, nil
	}

	label := o.newLabel()
	log := o.log.With("label", label)
	requests, err := o.submit(ctx, selected, label, manifest)
	if err != nil {
		// Requests accepted by earlier batches are already on the remote
		// queue; they must not be orphaned there.
		o.cleanup(context.WithoutCancel(ctx), requests)
		return nil, fmt.Errorf("submit requests: %w", err)
	}
	log.Info(ctx, "requests submitted", "count", len(requests))

	o.poll(ctx, requests, label)
	o.retrieve(ctx, requests, manifest)

	// Queue cleanup runs even after cancellation or local failure so the
	// remote queue never accumulates orphans from this run.
	o.cleanup(context.WithoutCancel(ctx), requests)

	return manifest, nil
}

func (o *Orchestrator) cleanup(ctx context.Context, requests []*Request) {
	if len(requests) == 0 {
		return
	}
	ids := make([]int64, 0, len(requests))
	for _, r := range requests {
		ids = append(ids, r.DownloadID)
	}
	o.cleaner.Remove(ctx, ids)
}

// selectOptions picks the first available product per scene and records
// scenes with none as unavailable.
func selectOptions(options []Option, entityIDs []string, manifest *Manifest) []Option {
	byEntity := make(map[string]Option)
	for _, opt := range options {
		if !opt.Available {
			continue
		}
		if _, ok := byEntity[opt.EntityID]; !ok {
			byEntity[opt.EntityID] = opt
		}
	}
	selected := make([]Option, 0, len(byEntity))
	for _, id := range entityIDs {
		opt, ok := byEntity[id]
		if !ok {
			manifest.Unavailable = append(manifest.Unavailable, id)
			continue
		}
		selected = append(selected, opt)
	}
	return selected
}

// requestResponse is the wire shape of the download-request data section.
type requestResponse struct {
	AvailableDownloads []struct {
		DownloadID int64  `json:"downloadId"`
		EntityID   string `json:"entityId"`
		URL        string `json:"url"`
	} `json:"availableDownloads"`
	PreparingDownloads []struct {
		DownloadID int64  `json:"downloadId"`
		EntityID   string `json:"entityId"`
	} `json:"preparingDownloads"`
	FailedDownloads []struct {
		EntityID  string `json:"entityId"`
		ErrorText string `json:"errorMessage"`
	} `json:"failed"`
}

// submit sends download requests in bounded batches under one label.
// Requests the service rejects outright are recorded in the manifest as
// failed. When a batch call itself fails, the requests accepted by earlier
// batches are returned alongside the error so the caller can clean them up.
func (o *Orchestrator) submit(ctx context.Context, selected []Option, label string, manifest *Manifest) ([]*Request, error) {
	sizes := make(map[string]int64, len(selected))
	var requests []*Request

	for start := 0; start < len(selected); start += o.cfg.BatchSize {
		end := min(start+o.cfg.BatchSize, len(selected))
		batch := selected[start:end]

		downloads := make([]map[string]string, 0, len(batch))
		for _, opt := range batch {
			downloads = append(downloads, map[string]string{
				"entityId":  opt.EntityID,
				"productId": opt.ProductID,
			})
			sizes[opt.EntityID] = opt.Filesize
		}
		payload := map[string]any{"downloads": downloads, "label": label}

		data, err := o.api.Call(ctx, "download-request", payload)
		if err != nil {
			return requests, err
		}
		var resp requestResponse
		if err := m2m.DecodeData("download-request", data, &resp); err != nil {
			return requests, err
		}

		for _, d := range resp.AvailableDownloads {
			requests = append(requests, &Request{
				DownloadID: d.DownloadID,
				EntityID:   d.EntityID,
				URL:        d.URL,
				Filesize:   sizes[d.EntityID],
				Status:     StatusAvailable,
			})
		}
		for _, d := range resp.PreparingDownloads {
			requests = append(requests, &Request{
				DownloadID: d.DownloadID,
				EntityID:   d.EntityID,
				Filesize:   sizes[d.EntityID],
				Status:     StatusPreparing,
			})
		}
		for _, d := range resp.FailedDownloads {
			reason := d.ErrorText
			if reason == "" {
				reason = "rejected by service"
			}
			o.log.Warn(ctx, "request rejected", "entityId", d.EntityID, "reason", reason)
			manifest.Failed = append(manifest.Failed, Result{
				Request: Request{
					EntityID: d.EntityID,
					Filesize: sizes[d.EntityID],
					Status:   StatusFailed,
				},
				Reason: reason,
			})
		}
	}
	return requests, nil
}

// retrieveResponse is the wire shape of the download-retrieve data section.
type retrieveResponse struct {
	Available []queueRecord `json:"available"`
	Requested []queueRecord `json:"requested"`
	QueueSize int           `json:"queueSize"`
}

// poll drives each preparing request to a terminal state: available, failed,
// or — once the wait ceiling is reached — locally expired. Backoff starts at
// PollInitial and doubles up to PollCap. Cancellation stops polling; pending
// requests are marked failed so the manifest still accounts for them.
func (o *Orchestrator) poll(ctx context.Context, requests []*Request, label string) {
	pending := make(map[int64]*Request)
	for _, r := range requests {
		if r.Status == StatusPreparing || r.Status == StatusQueued {
			pending[r.DownloadID] = r
		}
	}
	if len(pending) == 0 {
		return
	}

	backoff := retry.WithCappedDuration(o.cfg.PollCap, retry.NewExponential(o.cfg.PollInitial))
	var elapsed time.Duration

	for len(pending) > 0 {
		wait, _ := backoff.Next()
		if elapsed+wait > o.cfg.PollMaxWait {
			for _, r := range pending {
				r.Status = StatusExpired
			}
			o.log.Warn(ctx, "requests expired locally",
				"label", label, "count", len(pending), "waited", elapsed)
			return
		}
		if err := o.sleep(ctx, wait); err != nil {
			for _, r := range pending {
				r.Status = StatusFailed
			}
			o.log.Warn(ctx, "polling canceled", "label", label, "pending", len(pending))
			return
		}
		elapsed += wait

		data, err := o.api.Call(ctx, "download-retrieve", map[string]any{"label": label})
		if err != nil {
			if errors.Is(err, m2m.ErrRateLimited) || errors.Is(err, m2m.ErrNetwork) {
				o.log.Warn(ctx, "poll attempt failed, backing off", "error", err)
				continue
			}
			for _, r := range pending {
				r.Status = StatusFailed
			}
			o.log.Error(ctx, "polling aborted", "label", label, "error", err)
			return
		}
		var resp retrieveResponse
		if err := m2m.DecodeData("download-retrieve", data, &resp); err != nil {
			for _, r := range pending {
				r.Status = StatusFailed
			}
			o.log.Error(ctx, "polling aborted", "label", label, "error", err)
			return
		}

		for _, rec := range resp.Available {
			r, ok := pending[rec.DownloadID]
			if !ok {
				continue
			}
			r.Status = StatusAvailable
			r.URL = rec.URL
			delete(pending, rec.DownloadID)
		}
		for _, rec := range resp.Requested {
			if statusFromCode(rec.StatusCode) != StatusFailed {
				continue
			}
			if r, ok := pending[rec.DownloadID]; ok {
				r.Status = StatusFailed
				delete(pending, rec.DownloadID)
			}
		}
		o.log.Debug(ctx, "poll round complete",
			"label", label, "pending", len(pending), "elapsed", elapsed)
	}
}

// retrieve fetches every available request with a bounded worker pool and
// fills the manifest. A size/checksum mismatch earns one re-download; network
// failures are retried with backoff up to the configured limit.
func (o *Orchestrator) retrieve(ctx context.Context, requests []*Request, manifest *Manifest) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)

	for _, r := range requests {
		r := r
		if r.Status != StatusAvailable {
			mu.Lock()
			res := Result{Request: *r, Reason: string(r.Status)}
			if r.Status == StatusExpired {
				res.Reason = "not ready within wait ceiling"
				manifest.Expired = append(manifest.Expired, res)
			} else {
				manifest.Failed = append(manifest.Failed, res)
			}
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			path, n, err := o.fetchOne(gctx, r)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.Status = StatusFailed
				manifest.Failed = append(manifest.Failed, Result{
					Request: *r, Bytes: n, Reason: err.Error(),
				})
				return nil
			}
			manifest.Succeeded = append(manifest.Succeeded, Result{
				Request: *r, Path: path, Bytes: n,
			})
			return nil
		})
	}
	_ = g.Wait()
}

// fetchOne transfers a single request, retrying transient network failures
// and re-downloading once on an integrity mismatch.
func (o *Orchestrator) fetchOne(ctx context.Context, r *Request) (string, int64, error) {
	var path string
	var n int64
	var integrityRetried bool

	backoff := retry.WithMaxRetries(o.cfg.FetchRetries, retry.NewExponential(time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		path, n, err = o.fetcher.Fetch(ctx, r.URL, o.cfg.OutputDir)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrIntegrity) && !integrityRetried:
			integrityRetried = true
			return retry.RetryableError(err)
		case errors.Is(err, m2m.ErrNetwork), errors.Is(err, m2m.ErrRateLimited):
			return retry.RetryableError(err)
		default:
			return err
		}
	})
	return path, n, err
}
