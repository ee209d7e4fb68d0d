package geo

import geohash "github.com/TomiHiltunen/geohash-golang"

// Tile precisions. Precision 6 cells are roughly 1.2 km x 0.6 km and key the
// place tile cache; precision 7 buckets event locations for dedupe keys.
const (
	TilePrecision  = 6
	EventPrecision = 7
)

// TileKey returns the geohash-6 cell containing the point.
func TileKey(lat, lng float64) string {
	return geohash.EncodeWithPrecision(lat, lng, TilePrecision)
}

// EventCell returns the geohash-7 cell containing the point.
func EventCell(lat, lng float64) string {
	return geohash.EncodeWithPrecision(lat, lng, EventPrecision)
}
