package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/akarpov87/m2mfetch/internal/catalog"
	"github.com/akarpov87/m2mfetch/internal/m2m"
)

func (a *App) newGrid2llCmd() *cobra.Command {
	var grid, shape string
	cmd := &cobra.Command{
		Use:   "grid2ll <path> <row>",
		Short: "Translate a WRS path/row into geographic coordinates",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			coords, err := a.catalog.GridToLonLat(
				cmd.Context(), catalog.GridSystem(grid), shape, args[0], args[1])
			if errors.Is(err, m2m.ErrNotFound) {
				fmt.Fprintf(a.out, "no geometry for %s %s/%s\n", grid, args[0], args[1])
				return nil
			}
			if err != nil {
				return err
			}
			for _, c := range coords {
				fmt.Fprintf(a.out, "%.6f %.6f\n", c.Latitude, c.Longitude)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&grid, "grid", string(catalog.WRS2), "grid system: WRS1 or WRS2")
	cmd.Flags().StringVar(&shape, "response-shape", "point", "geometry to return: polygon or point")
	return cmd
}
