package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/akarpov87/m2mfetch/internal/m2m"
)

func (a *App) newGeocodeCmd() *cobra.Command {
	var featureType string
	cmd := &cobra.Command{
		Use:   "geocode <place name>",
		Short: "Look up coordinates for a place name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.Join(args, " ")
			places, err := a.catalog.Geocode(cmd.Context(), name, featureType)
			if errors.Is(err, m2m.ErrNotFound) {
				fmt.Fprintf(a.out, "no matches for %q\n", name)
				return nil
			}
			if err != nil {
				return err
			}
			for _, p := range places {
				fmt.Fprintf(a.out, "%s\t%s\t%.6f %.6f\n",
					p.Name, p.CountryName, p.Latitude, p.Longitude)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&featureType, "feature-type", "World", "where to look: US or World")
	return cmd
}
