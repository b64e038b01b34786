package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/akarpov87/m2mfetch/internal/logging"
	"github.com/akarpov87/m2mfetch/internal/m2m"
)

// Invoker runs one authenticated endpoint call. Implemented by
// m2m.SessionManager; tests substitute fakes.
type Invoker interface {
	Call(ctx context.Context, op string, payload any) (json.RawMessage, error)
}

// Service exposes the catalog endpoints.
type Service struct {
	api Invoker
	log logging.Logger
}

func NewService(api Invoker, log logging.Logger) *Service {
	return &Service{api: api, log: log}
}

// searchResponse is the wire shape of the scene-search data section.
type searchResponse struct {
	Results         []sceneRecord `json:"results"`
	RecordsReturned int           `json:"recordsReturned"`
	TotalHits       int           `json:"totalHits"`
	StartingNumber  int           `json:"startingNumber"`
	NextRecord      int           `json:"nextRecord"`
}

// SearchIterator walks search results lazily, one page per underlying call.
// Pages are strictly sequential; within a page, service order is preserved.
// Re-issuing the query through Service.Search restarts the sequence.
type SearchIterator struct {
	svc     *Service
	query   SearchQuery
	buf     []Scene
	idx     int
	next    int // 1-indexed starting number of the next page
	total   int // service-reported totalHits
	fetched int // raw records consumed so far
	done    bool
	err     error
	cur     Scene
}

// Search validates the query and returns an iterator over matching scenes.
// No network call happens until the first Next.
func (s *Service) Search(query SearchQuery) (*SearchIterator, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	return &SearchIterator{svc: s, query: query, next: 1}, nil
}

// Next advances to the next scene, fetching pages as needed. It returns
// false at the end of the sequence or on error; check Err afterwards.
func (it *SearchIterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	for {
		for it.idx < len(it.buf) {
			sc := it.buf[it.idx]
			it.idx++
			if it.query.matchesMonths(sc.AcquisitionDate) {
				it.cur = sc
				return true
			}
		}
		if it.done {
			return false
		}
		if err := it.fetchPage(ctx); err != nil {
			it.err = err
			return false
		}
	}
}

// Scene returns the scene Next advanced to.
func (it *SearchIterator) Scene() Scene { return it.cur }

// Err returns the first error encountered while iterating.
func (it *SearchIterator) Err() error { return it.err }

// TotalHits is the service-reported match count, before any client-side
// month filtering. Valid after the first Next call.
func (it *SearchIterator) TotalHits() int { return it.total }

func (it *SearchIterator) fetchPage(ctx context.Context) error {
	pageSize := it.query.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	payload := map[string]any{
		"datasetName":    it.query.Dataset,
		"maxResults":     pageSize,
		"startingNumber": it.next,
		"metadataType":   "summary",
	}
	filter, err := it.query.sceneFilter()
	if err != nil {
		return err
	}
	if filter != nil {
		payload["sceneFilter"] = filter
	}

	data, err := it.svc.api.Call(ctx, "scene-search", payload)
	if err != nil {
		return err
	}
	var resp searchResponse
	if err := m2m.DecodeData("scene-search", data, &resp); err != nil {
		return err
	}

	it.total = resp.TotalHits
	it.buf = it.buf[:0]
	it.idx = 0
	for _, rec := range resp.Results {
		sc, err := rec.toScene(it.query.Dataset)
		if err != nil {
			return err
		}
		it.buf = append(it.buf, sc)
	}

	it.fetched += len(resp.Results)
	it.next = resp.NextRecord
	if it.next == 0 {
		it.next = resp.StartingNumber + len(resp.Results)
	}
	if len(resp.Results) == 0 || it.fetched >= resp.TotalHits {
		it.done = true
	}
	it.svc.log.Debug(ctx, "fetched search page",
		"dataset", it.query.Dataset, "records", len(resp.Results),
		"fetched", it.fetched, "totalHits", resp.TotalHits)
	return nil
}

// SceneListEntry is one member of a server-side scene list.
type SceneListEntry struct {
	EntityID string `json:"entityId"`
	Dataset  string `json:"datasetName"`
}

// CreateSceneList creates a named server-side list holding the given scene
// identifiers. Creating a list whose name already exists is a conflict,
// regardless of which dataset the existing list is scoped to.
func (s *Service) CreateSceneList(ctx context.Context, name, dataset string, entityIDs []string) error {
	existing, err := s.SceneList(ctx, name)
	if err != nil && !errors.Is(err, m2m.ErrNotFound) {
		return err
	}
	if len(existing) > 0 {
		return fmt.Errorf("scene list %q: %w", name, m2m.ErrConflict)
	}
	return s.AddToSceneList(ctx, name, dataset, entityIDs)
}

// AddToSceneList appends scene identifiers to a list, creating it when
// absent. The service reports how many items it accepted; a mismatch means
// the response cannot be trusted.
func (s *Service) AddToSceneList(ctx context.Context, name, dataset string, entityIDs []string) error {
	payload := map[string]any{
		"listId":      name,
		"datasetName": dataset,
		"idField":     "entityId",
		"entityIds":   entityIDs,
	}
	data, err := s.api.Call(ctx, "scene-list-add", payload)
	if err != nil {
		return err
	}
	var added int
	if err := m2m.DecodeData("scene-list-add", data, &added); err != nil {
		return err
	}
	if added != len(entityIDs) {
		return fmt.Errorf("scene-list-add: accepted %d of %d scenes: %w",
			added, len(entityIDs), m2m.ErrProtocol)
	}
	s.log.Info(ctx, "scenes added to list", "list", name, "count", added)
	return nil
}

// SceneList returns the members of a named list. The server is the source of
// truth; nothing is cached locally.
func (s *Service) SceneList(ctx context.Context, name string) ([]SceneListEntry, error) {
	data, err := s.api.Call(ctx, "scene-list-get", map[string]any{"listId": name})
	if err != nil {
		return nil, err
	}
	var entries []SceneListEntry
	if err := m2m.DecodeData("scene-list-get", data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// SceneListSummary describes a list's contents per dataset.
type SceneListSummary struct {
	Summary  string             `json:"summary"`
	Datasets []SceneListDataset `json:"datasets"`
}

type SceneListDataset struct {
	Dataset string   `json:"datasetName"`
	IDs     []string `json:"entityIds"`
}

// Summary returns the per-dataset breakdown of a named list.
func (s *Service) Summary(ctx context.Context, name, dataset string) (*SceneListSummary, error) {
	payload := map[string]any{"listId": name}
	if dataset != "" {
		payload["datasetName"] = dataset
	}
	data, err := s.api.Call(ctx, "scene-list-summary", payload)
	if err != nil {
		return nil, err
	}
	var summary SceneListSummary
	if err := m2m.DecodeData("scene-list-summary", data, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// DeleteSceneList removes a whole list. Deleting a nonexistent list is a
// no-op success.
func (s *Service) DeleteSceneList(ctx context.Context, name string) error {
	_, err := s.api.Call(ctx, "scene-list-remove", map[string]any{"listId": name})
	if err != nil && !errors.Is(err, m2m.ErrNotFound) {
		return err
	}
	return nil
}

// Geocode looks up a place name. featureType is "US" or "World". A miss is
// ErrNotFound, a valid empty result to the caller.
func (s *Service) Geocode(ctx context.Context, name, featureType string) ([]Place, error) {
	payload := map[string]any{"featureType": featureType, "name": name}
	data, err := s.api.Call(ctx, "placename", payload)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Results []Place `json:"results"`
	}
	if err := m2m.DecodeData("placename", data, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("placename %q: %w", name, m2m.ErrNotFound)
	}
	return resp.Results, nil
}

// GridToLonLat translates a WRS path/row into geographic coordinates.
// shape is "polygon" or "point". A path/row the grid does not contain is
// ErrNotFound.
func (s *Service) GridToLonLat(ctx context.Context, grid GridSystem, shape, path, row string) ([]Coordinate, error) {
	payload := map[string]any{
		"gridType":      string(grid),
		"responseShape": shape,
		"path":          path,
		"row":           row,
	}
	data, err := s.api.Call(ctx, "grid2ll", payload)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Shape       string       `json:"shape"`
		Coordinates []Coordinate `json:"coordinates"`
	}
	if err := m2m.DecodeData("grid2ll", data, &resp); err != nil {
		return nil, err
	}
	if len(resp.Coordinates) == 0 {
		return nil, fmt.Errorf("grid2ll %s %s/%s: %w", grid, path, row, m2m.ErrNotFound)
	}
	return resp.Coordinates, nil
}

// Permissions lists the account's granted permissions, e.g. "download".
func (s *Service) Permissions(ctx context.Context) ([]string, error) {
	data, err := s.api.Call(ctx, "permissions", struct{}{})
	if err != nil {
		return nil, err
	}
	var perms []string
	if err := m2m.DecodeData("permissions", data, &perms); err != nil {
		return nil, err
	}
	return perms, nil
}
