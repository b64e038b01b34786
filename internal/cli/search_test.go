package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akarpov87/m2mfetch/internal/catalog"
	"github.com/akarpov87/m2mfetch/internal/m2m"
)

func TestSearchFlagsQuery(t *testing.T) {
	f := &searchFlags{
		product:        "landsat_etm_c2_l1",
		dateStart:      "2019-05-01",
		dateEnd:        "2019-09-30",
		months:         []string{"jun", "jul"},
		cloudCover:     []int{0, 30},
		includeUnknown: true,
		aoiType:        string(catalog.ModeCoordinates),
	}

	q, err := f.query([]string{"52", "13", "53", "13", "53", "14"})
	require.NoError(t, err)

	assert.Equal(t, "landsat_etm_c2_l1", q.Dataset)
	assert.Equal(t, time.Date(2019, 5, 1, 0, 0, 0, 0, time.UTC), q.StartDate)
	assert.Equal(t, time.Date(2019, 9, 30, 0, 0, 0, 0, time.UTC), q.EndDate)
	assert.Equal(t, []time.Month{time.June, time.July}, q.Months)
	require.NotNil(t, q.CloudCover)
	assert.Equal(t, 0, q.CloudCover.Min)
	assert.Equal(t, 30, q.CloudCover.Max)
	assert.True(t, q.CloudCover.IncludeUnknown)
	assert.Len(t, q.AOI.Points, 3)
	assert.Equal(t, catalog.ModeCoordinates, q.AOI.Mode)
}

func TestSearchFlagsQuery_Errors(t *testing.T) {
	tests := []struct {
		name  string
		flags searchFlags
	}{
		{"bad start date", searchFlags{product: "ds", dateStart: "05/01/2019", months: []string{"all"}}},
		{"bad end date", searchFlags{product: "ds", dateEnd: "never", months: []string{"all"}}},
		{"unknown month", searchFlags{product: "ds", months: []string{"smarch"}}},
		{"cloudcover needs two values", searchFlags{product: "ds", months: []string{"all"}, cloudCover: []int{50}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.flags.query(nil)
			require.ErrorIs(t, err, m2m.ErrInvalidParameter)
		})
	}
}
