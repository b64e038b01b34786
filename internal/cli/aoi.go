package cli

import (
	"fmt"
	"strconv"

	"github.com/akarpov87/m2mfetch/internal/catalog"
	"github.com/akarpov87/m2mfetch/internal/m2m"
)

// parseAOI turns a flat list of "lat lon" pairs, as given on the command
// line before the -- terminator, into an area of interest. An empty list is
// a valid absent AOI.
func parseAOI(args []string, mode catalog.AOIMode, radiusKm float64) (catalog.AOI, error) {
	if len(args) == 0 {
		return catalog.AOI{}, nil
	}
	if len(args)%2 != 0 {
		return catalog.AOI{}, fmt.Errorf(
			"aoi coordinates must come in lat lon pairs, got %d values: %w",
			len(args), m2m.ErrInvalidParameter)
	}
	points := make([]catalog.Coordinate, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		lat, err := strconv.ParseFloat(args[i], 64)
		if err != nil {
			return catalog.AOI{}, fmt.Errorf("bad latitude %q: %w", args[i], m2m.ErrInvalidParameter)
		}
		lon, err := strconv.ParseFloat(args[i+1], 64)
		if err != nil {
			return catalog.AOI{}, fmt.Errorf("bad longitude %q: %w", args[i+1], m2m.ErrInvalidParameter)
		}
		if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return catalog.AOI{}, fmt.Errorf("coordinate out of range: %s %s: %w",
				args[i], args[i+1], m2m.ErrInvalidParameter)
		}
		points = append(points, catalog.Coordinate{Latitude: lat, Longitude: lon})
	}
	return catalog.AOI{Points: points, RadiusKm: radiusKm, Mode: mode}, nil
}
