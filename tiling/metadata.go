package tiling

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// MbtilesMetadata is the name/value metadata table of an MBTiles file.
type MbtilesMetadata struct {
	metadata map[string]string
}

func NewMbtilesMetadata(metadata map[string]string) *MbtilesMetadata {
	if metadata == nil {
		metadata = map[string]string{}
	}
	return &MbtilesMetadata{metadata: metadata}
}

// NewRasterMetadata describes a raster tileset covering bounds (lon/lat)
// between minZoom and maxZoom.
func NewRasterMetadata(name string, format string, bounds orb.Bound, minZoom, maxZoom maptile.Zoom) *MbtilesMetadata {
	m := NewMbtilesMetadata(nil)
	m.Set("name", name)
	m.Set("format", format)
	m.Set("type", "overlay")
	m.SetBounds(bounds)
	m.Set("center", fmt.Sprintf("%s,%s,%d", formatFloat(bounds.Center().X()), formatFloat(bounds.Center().Y()), minZoom))
	m.Set("minzoom", strconv.Itoa(int(minZoom)))
	m.Set("maxzoom", strconv.Itoa(int(maxZoom)))
	return m
}

func (m *MbtilesMetadata) Get(k string) (string, bool) {
	v, exists := m.metadata[k]
	return v, exists
}

// Keys returns the metadata names in sorted order.
func (m *MbtilesMetadata) Keys() []string {
	keys := make([]string, 0, len(m.metadata))
	for k := range m.metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *MbtilesMetadata) Set(key string, value string) {
	m.metadata[key] = value
}

func (m *MbtilesMetadata) SetBounds(b orb.Bound) {
	m.Set("bounds", strings.Join([]string{
		formatFloat(b.Min.X()), formatFloat(b.Min.Y()),
		formatFloat(b.Max.X()), formatFloat(b.Max.Y()),
	}, ","))
}

func (m *MbtilesMetadata) Bounds() (orb.Bound, error) {
	var bounds orb.Bound

	v, exists := m.Get("bounds")
	if !exists {
		return bounds, fmt.Errorf("metadata is missing bounds")
	}

	vals, err := parseFloats(v, 4)
	if err != nil {
		return bounds, fmt.Errorf("invalid bounds metadata: %w", err)
	}

	bounds = orb.Bound{
		Min: orb.Point{vals[0], vals[1]},
		Max: orb.Point{vals[2], vals[3]},
	}
	return bounds, nil
}

// Center returns the center point. A trailing zoom value is ignored.
func (m *MbtilesMetadata) Center() (orb.Point, error) {
	var pt orb.Point

	v, exists := m.Get("center")
	if !exists {
		return pt, fmt.Errorf("metadata is missing center")
	}

	parts := strings.Split(v, ",")
	if len(parts) == 3 {
		v = strings.Join(parts[:2], ",")
	}

	vals, err := parseFloats(v, 2)
	if err != nil {
		return pt, fmt.Errorf("invalid center metadata: %w", err)
	}

	return orb.Point{vals[0], vals[1]}, nil
}

func (m *MbtilesMetadata) MinZoom() (maptile.Zoom, error) {
	return m.zoom("minzoom")
}

func (m *MbtilesMetadata) MaxZoom() (maptile.Zoom, error) {
	return m.zoom("maxzoom")
}

func (m *MbtilesMetadata) zoom(key string) (maptile.Zoom, error) {
	v, exists := m.Get(key)
	if !exists {
		return 0, fmt.Errorf("metadata is missing %s", key)
	}

	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s value: %w", key, err)
	}
	if i < 0 {
		return 0, fmt.Errorf("negative %s value %d", key, i)
	}

	return maptile.Zoom(i), nil
}

func (m *MbtilesMetadata) Format() string {
	return m.metadata["format"]
}

func (m *MbtilesMetadata) Name() string {
	return m.metadata["name"]
}

func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d values, got %d", n, len(parts))
	}

	vals := make([]float64, n)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		vals[i] = f
	}
	return vals, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
