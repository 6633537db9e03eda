package provider

import (
	"fmt"
	"os"

	"github.com/paulmach/orb/geojson"
	"github.com/tilezen/go-tilefetch/feature"
)

// LoadGeoJSON reads a GeoJSON feature collection into a Memory provider
// tagged with crs.
func LoadGeoJSON(path string, crs string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read geojson: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse geojson %s: %w", path, err)
	}

	m := NewMemory(feature.FromGeoJSON(fc)...)
	m.SetCRS(crs)
	return m, nil
}
