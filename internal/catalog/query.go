// Package catalog implements scene search, scene-list management, geocoding
// and grid conversion on top of the m2m session layer.
package catalog

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/akarpov87/m2mfetch/internal/m2m"
)

// GridSystem names a Worldwide Reference System revision.
type GridSystem string

const (
	WRS1 GridSystem = "WRS1"
	WRS2 GridSystem = "WRS2"
)

// Coordinate is a geographic point in decimal degrees, EPSG:4326.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// AOIMode selects how a polygon area-of-interest is sent to the service.
type AOIMode string

const (
	// ModeMbr reduces the AOI to its minimum bounding rectangle.
	ModeMbr AOIMode = "Mbr"
	// ModeCoordinates sends the closed polygon ring as GeoJSON.
	ModeCoordinates AOIMode = "Coordinates"
)

// AOI is an area of interest: a single point with a radius, or a polygon.
type AOI struct {
	Points   []Coordinate
	RadiusKm float64 // required when Points holds a single point
	Mode     AOIMode
}

// IsZero reports whether no spatial constraint was given.
func (a AOI) IsZero() bool { return len(a.Points) == 0 }

// BoundingRect returns the minimal rectangle covering all points as its
// lower-left and upper-right corners.
func (a AOI) BoundingRect() (ll, ur Coordinate) {
	ll = Coordinate{Latitude: math.MaxFloat64, Longitude: math.MaxFloat64}
	ur = Coordinate{Latitude: -math.MaxFloat64, Longitude: -math.MaxFloat64}
	for _, p := range a.Points {
		ll.Latitude = math.Min(ll.Latitude, p.Latitude)
		ll.Longitude = math.Min(ll.Longitude, p.Longitude)
		ur.Latitude = math.Max(ur.Latitude, p.Latitude)
		ur.Longitude = math.Max(ur.Longitude, p.Longitude)
	}
	return ll, ur
}

const (
	kmPerDegreeLat = 110.574
	kmPerDegreeLon = 111.320 // at the equator, scaled by cos(lat)
)

// spatialFilter renders the AOI as the service's spatialFilter object.
// A single point requires a radius and is expanded into a rectangle; a
// polygon in Mbr mode is reduced to its bounding rectangle.
func (a AOI) spatialFilter() (any, error) {
	switch {
	case a.IsZero():
		return nil, nil
	case len(a.Points) == 1:
		if a.RadiusKm <= 0 {
			return nil, fmt.Errorf("point aoi requires a radius: %w", m2m.ErrInvalidParameter)
		}
		p := a.Points[0]
		dLat := a.RadiusKm / kmPerDegreeLat
		dLon := a.RadiusKm / (kmPerDegreeLon * math.Cos(p.Latitude*math.Pi/180))
		return mbrFilter(
			Coordinate{Latitude: p.Latitude - dLat, Longitude: p.Longitude - dLon},
			Coordinate{Latitude: p.Latitude + dLat, Longitude: p.Longitude + dLon},
		), nil
	case a.Mode == ModeCoordinates:
		ring := make([][]float64, 0, len(a.Points)+1)
		for _, p := range a.Points {
			ring = append(ring, []float64{p.Longitude, p.Latitude})
		}
		if a.Points[0] != a.Points[len(a.Points)-1] {
			ring = append(ring, ring[0])
		}
		return map[string]any{
			"filterType": "geojson",
			"geoJson": map[string]any{
				"type":        "Polygon",
				"coordinates": [][][]float64{ring},
			},
		}, nil
	default:
		ll, ur := a.BoundingRect()
		return mbrFilter(ll, ur), nil
	}
}

func mbrFilter(ll, ur Coordinate) map[string]any {
	return map[string]any{
		"filterType": "mbr",
		"lowerLeft":  ll,
		"upperRight": ur,
	}
}

// CloudCoverRange bounds acceptable scene cloud cover in percent.
type CloudCoverRange struct {
	Min            int
	Max            int
	IncludeUnknown bool
}

// SearchQuery describes one catalog search. Immutable once constructed;
// re-issuing the same query restarts the result sequence.
type SearchQuery struct {
	Dataset    string
	StartDate  time.Time
	EndDate    time.Time
	Months     []time.Month // empty means all months
	CloudCover *CloudCoverRange
	AOI        AOI
	PageSize   int // results per page, service default 100
}

// Validate reports parameter problems before any network call is made.
func (q SearchQuery) Validate() error {
	if q.Dataset == "" {
		return fmt.Errorf("dataset is required: %w", m2m.ErrInvalidParameter)
	}
	if !q.StartDate.IsZero() && !q.EndDate.IsZero() && q.EndDate.Before(q.StartDate) {
		return fmt.Errorf("date range ends before it starts: %w", m2m.ErrInvalidParameter)
	}
	if len(q.AOI.Points) == 1 && q.AOI.RadiusKm <= 0 {
		return fmt.Errorf("point aoi requires a radius: %w", m2m.ErrInvalidParameter)
	}
	return nil
}

// matchesMonths applies the month-of-year filter the service cannot express
// natively. An empty filter matches everything.
func (q SearchQuery) matchesMonths(t time.Time) bool {
	if len(q.Months) == 0 {
		return true
	}
	for _, m := range q.Months {
		if t.Month() == m {
			return true
		}
	}
	return false
}

// sceneFilter builds the sceneFilter payload section.
func (q SearchQuery) sceneFilter() (map[string]any, error) {
	filter := map[string]any{}

	if !q.StartDate.IsZero() || !q.EndDate.IsZero() {
		filter["acquisitionFilter"] = map[string]string{
			"start": q.StartDate.Format("2006-01-02"),
			"end":   q.EndDate.Format("2006-01-02"),
		}
	}
	if cc := q.CloudCover; cc != nil {
		filter["cloudCoverFilter"] = map[string]any{
			"min":            cc.Min,
			"max":            cc.Max,
			"includeUnknown": cc.IncludeUnknown,
		}
	}
	spatial, err := q.AOI.spatialFilter()
	if err != nil {
		return nil, err
	}
	if spatial != nil {
		filter["spatialFilter"] = spatial
	}
	if len(filter) == 0 {
		return nil, nil
	}
	return filter, nil
}

var monthNames = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// ParseMonths converts month-name abbreviations into months, preserving
// order. The single name "all" means no filter and yields an empty slice.
// An empty or unknown name is an invalid parameter.
func ParseMonths(names []string) ([]time.Month, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("empty month list: %w", m2m.ErrInvalidParameter)
	}
	if len(names) == 1 && names[0] == "all" {
		return nil, nil
	}
	months := make([]time.Month, 0, len(names))
	for _, name := range names {
		m, ok := monthNames[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("unknown month %q: %w", name, m2m.ErrInvalidParameter)
		}
		months = append(months, m)
	}
	return months, nil
}
