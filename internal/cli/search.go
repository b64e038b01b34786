package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/akarpov87/m2mfetch/internal/catalog"
	"github.com/akarpov87/m2mfetch/internal/m2m"
)

// searchFlags are the query knobs shared by the search and download commands.
type searchFlags struct {
	product        string
	dateStart      string
	dateEnd        string
	months         []string
	cloudCover     []int
	includeUnknown bool
	aoiType        string
	radiusKm       float64
}

func (f *searchFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.product, "product", "", "dataset to query, e.g. landsat_etm_c2_l1")
	fl.StringVar(&f.dateStart, "date-start", "", "start of acquisition date range (YYYY-MM-DD)")
	fl.StringVar(&f.dateEnd, "date-end", "", "end of acquisition date range (YYYY-MM-DD)")
	fl.StringSliceVar(&f.months, "months", []string{"all"}, "limit query to months within the date range")
	fl.IntSliceVar(&f.cloudCover, "cloudcover", nil, "cloud cover range as min,max percent")
	fl.BoolVar(&f.includeUnknown, "include-unknown-clouds", false, "include imagery with unknown cloud cover")
	fl.StringVar(&f.aoiType, "aoi-type", string(catalog.ModeCoordinates), "how to send a polygon AOI: Mbr or Coordinates")
	fl.Float64Var(&f.radiusKm, "radius", 0, "radius in km around a single-point AOI")
	_ = cmd.MarkFlagRequired("product")
}

// query assembles a SearchQuery from the flags and the positional AOI
// coordinates (everything before the -- terminator).
func (f *searchFlags) query(aoiArgs []string) (catalog.SearchQuery, error) {
	q := catalog.SearchQuery{Dataset: f.product}

	var err error
	if f.dateStart != "" {
		if q.StartDate, err = time.Parse("2006-01-02", f.dateStart); err != nil {
			return q, fmt.Errorf("bad --date-start: %w", m2m.ErrInvalidParameter)
		}
	}
	if f.dateEnd != "" {
		if q.EndDate, err = time.Parse("2006-01-02", f.dateEnd); err != nil {
			return q, fmt.Errorf("bad --date-end: %w", m2m.ErrInvalidParameter)
		}
	}
	if q.Months, err = catalog.ParseMonths(f.months); err != nil {
		return q, err
	}
	if len(f.cloudCover) > 0 {
		if len(f.cloudCover) != 2 {
			return q, fmt.Errorf("--cloudcover wants min,max: %w", m2m.ErrInvalidParameter)
		}
		q.CloudCover = &catalog.CloudCoverRange{
			Min:            f.cloudCover[0],
			Max:            f.cloudCover[1],
			IncludeUnknown: f.includeUnknown,
		}
	}
	if q.AOI, err = parseAOI(aoiArgs, catalog.AOIMode(f.aoiType), f.radiusKm); err != nil {
		return q, err
	}
	return q, nil
}

func (a *App) newSearchCmd() *cobra.Command {
	flags := &searchFlags{}
	cmd := &cobra.Command{
		Use:   "search [lat lon ...] --",
		Short: "Search the catalog and list matching scenes",
		Long: "Search the catalog and list matching scenes.\n\n" +
			"An area of interest is given as lat lon pairs terminated by --.\n" +
			"A single pair needs --radius; several pairs form a polygon.",
		RunE: func(cmd *cobra.Command, args []string) error {
			aoiArgs := args
			if at := cmd.ArgsLenAtDash(); at >= 0 {
				aoiArgs = args[:at]
			}
			q, err := flags.query(aoiArgs)
			if err != nil {
				return err
			}

			it, err := a.catalog.Search(q)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			count := 0
			for it.Next(ctx) {
				sc := it.Scene()
				line := sc.DisplayID
				if line == "" {
					line = sc.EntityID
				}
				if !sc.AcquisitionDate.IsZero() {
					line += "\t" + sc.AcquisitionDate.Format("2006-01-02")
				}
				if sc.CloudCover != nil {
					line += fmt.Sprintf("\t%.0f%% clouds", *sc.CloudCover)
				}
				fmt.Fprintln(a.out, line)
				count++
			}
			if err := it.Err(); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%d scenes (%d total hits reported)\n", count, it.TotalHits())
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
