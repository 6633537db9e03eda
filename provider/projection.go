package provider

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

const (
	EPSG4326 = "EPSG:4326"
	EPSG3857 = "EPSG:3857"
)

// Projection converts geometries between coordinate reference systems.
type Projection interface {
	Project(from, to string, g orb.Geometry) (orb.Geometry, error)
	ProjectBound(from, to string, b orb.Bound) (orb.Bound, error)
}

// IsProjectionNeeded reports whether data in from must be converted to be
// drawn in to. An unset crs on either side means no conversion.
func IsProjectionNeeded(from, to string) bool {
	if from == "" || to == "" {
		return false
	}
	return normalizeCRS(from) != normalizeCRS(to)
}

func normalizeCRS(crs string) string {
	c := strings.ToUpper(strings.TrimSpace(crs))
	switch c {
	case "EPSG:900913", "EPSG:102100", "EPSG:102113", "EPSG:3785":
		return EPSG3857
	case "WGS84", "CRS:84":
		return EPSG4326
	}
	return c
}

// SphericalMercator converts between WGS84 lon/lat and web mercator.
type SphericalMercator struct{}

func (SphericalMercator) projection(from, to string) (orb.Projection, error) {
	f, t := normalizeCRS(from), normalizeCRS(to)
	switch {
	case f == EPSG4326 && t == EPSG3857:
		return project.WGS84.ToMercator, nil
	case f == EPSG3857 && t == EPSG4326:
		return project.Mercator.ToWGS84, nil
	}
	return nil, fmt.Errorf("%w: %s to %s", ErrUnsupportedProjection, from, to)
}

// Project returns a projected copy of g. g itself is left untouched.
func (s SphericalMercator) Project(from, to string, g orb.Geometry) (orb.Geometry, error) {
	if !IsProjectionNeeded(from, to) || g == nil {
		return g, nil
	}
	proj, err := s.projection(from, to)
	if err != nil {
		return nil, err
	}
	return project.Geometry(orb.Clone(g), proj), nil
}

func (s SphericalMercator) ProjectBound(from, to string, b orb.Bound) (orb.Bound, error) {
	if !IsProjectionNeeded(from, to) {
		return b, nil
	}
	proj, err := s.projection(from, to)
	if err != nil {
		return orb.Bound{}, err
	}
	return project.Bound(b, proj), nil
}
