package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gatherly/placesync/internal/model"
)

var (
	placesBounds     []float64
	placesCategories string
	placesCity       string
	placesLimit      int
	placesRefresh    bool
)

var placesCmd = &cobra.Command{
	Use:   "places",
	Short: "Query places in a map viewport",
	Long:  "Serves the viewport from the tile cache when warm, otherwise fans out to the configured providers, merges duplicates and persists the result.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(placesBounds) != 4 {
			return eris.New("--bounds requires min_lat,min_lng,max_lat,max_lng")
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		q := model.ViewportQuery{
			Bounds: model.Bounds{
				MinLat: placesBounds[0],
				MinLng: placesBounds[1],
				MaxLat: placesBounds[2],
				MaxLng: placesBounds[3],
			},
			City:         placesCity,
			ForceRefresh: placesRefresh,
			Limit:        placesLimit,
		}
		if placesCategories != "" {
			q.Categories = strings.Split(placesCategories, ",")
		}

		results, err := env.Aggregator.Query(ctx, q)
		if err != nil {
			return err
		}

		zap.L().Info("viewport query complete", zap.Int("places", len(results)))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	},
}

func init() {
	placesCmd.Flags().Float64SliceVar(&placesBounds, "bounds", nil, "viewport as min_lat,min_lng,max_lat,max_lng")
	placesCmd.Flags().StringVar(&placesCategories, "categories", "", "comma-separated category selection")
	placesCmd.Flags().StringVar(&placesCity, "city", "", "city scope for category defaults")
	placesCmd.Flags().IntVar(&placesLimit, "limit", 0, "max results (default from config)")
	placesCmd.Flags().BoolVar(&placesRefresh, "refresh", false, "bypass the tile cache")
	rootCmd.AddCommand(placesCmd)
}
