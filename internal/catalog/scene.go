package catalog

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/akarpov87/m2mfetch/internal/m2m"
)

// Scene is one acquisition record in the catalog. Produced by search,
// read-only downstream.
type Scene struct {
	EntityID        string
	DisplayID       string
	Dataset         string
	AcquisitionDate time.Time
	CloudCover      *float64
	Footprint       json.RawMessage // GeoJSON geometry as reported
}

// sceneRecord is the wire shape of one scene-search result.
type sceneRecord struct {
	EntityID          string          `json:"entityId"`
	DisplayID         string          `json:"displayId"`
	CloudCover        *float64        `json:"cloudCover"`
	SpatialFootprint  json.RawMessage `json:"spatialFootprint"`
	TemporalCoverage  *temporalRange  `json:"temporalCoverage"`
	PublishDate       string          `json:"publishDate"`
	Options           map[string]bool `json:"options"`
	Selected          map[string]bool `json:"selected"`
	OrderingID        string          `json:"orderingId"`
	MetadataSceneTime string          `json:"acquisitionDate"`
}

type temporalRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// toScene validates the record and converts it. A record without an entity
// identifier, or with an unparsable acquisition date, is a protocol error.
func (r sceneRecord) toScene(dataset string) (Scene, error) {
	if r.EntityID == "" {
		return Scene{}, fmt.Errorf("scene-search: result without entityId: %w", m2m.ErrProtocol)
	}
	s := Scene{
		EntityID:   r.EntityID,
		DisplayID:  r.DisplayID,
		Dataset:    dataset,
		CloudCover: r.CloudCover,
		Footprint:  r.SpatialFootprint,
	}

	raw := r.MetadataSceneTime
	if raw == "" && r.TemporalCoverage != nil {
		raw = r.TemporalCoverage.StartDate
	}
	if raw != "" {
		t, err := parseSceneTime(raw)
		if err != nil {
			return Scene{}, fmt.Errorf("scene-search: bad acquisition date %q: %w", raw, m2m.ErrProtocol)
		}
		s.AcquisitionDate = t
	}
	return s, nil
}

// parseSceneTime accepts the date layouts the service is known to emit.
func parseSceneTime(raw string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05.000-07",
		"2006-01-02",
		time.RFC3339,
	} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", raw)
}

// Place is one geocoder match.
type Place struct {
	ID          json.Number `json:"id"`
	Name        string      `json:"placename"`
	FeatureName string      `json:"feature_name"`
	CountryCode string      `json:"country_code"`
	CountryName string      `json:"country_name"`
	Latitude    float64     `json:"latitude"`
	Longitude   float64     `json:"longitude"`
}
