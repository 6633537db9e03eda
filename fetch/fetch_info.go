// Package fetch schedules feature requests for a layer whose viewport keeps
// changing: a debounce Delayer, a Dispatcher that holds the latest pending
// request, and a Machine that drains it one request at a time.
package fetch

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
)

var (
	ErrInvalidExtent     = errors.New("fetch: extent has negative width or height")
	ErrInvalidResolution = errors.New("fetch: resolution must be positive")
)

// ChangeType tells whether a viewport change is final or part of an
// ongoing gesture.
type ChangeType int

const (
	// Discrete changes always lead to a fetch.
	Discrete ChangeType = iota
	// Continuous changes happen while dragging and may be ignored.
	Continuous
)

func (c ChangeType) String() string {
	switch c {
	case Discrete:
		return "discrete"
	case Continuous:
		return "continuous"
	default:
		return fmt.Sprintf("ChangeType(%d)", int(c))
	}
}

// FetchInfo describes a single data request: the viewport rectangle in
// world units, the resolution in world units per pixel, the CRS of the
// viewport and the kind of change that caused the request.
type FetchInfo struct {
	Extent     orb.Bound
	Resolution float64
	CRS        string
	ChangeType ChangeType
}

// NewFetchInfo returns a validated FetchInfo.
func NewFetchInfo(extent orb.Bound, resolution float64, crs string, changeType ChangeType) (FetchInfo, error) {
	fi := FetchInfo{
		Extent:     extent,
		Resolution: resolution,
		CRS:        crs,
		ChangeType: changeType,
	}
	if err := fi.Validate(); err != nil {
		return FetchInfo{}, err
	}
	return fi, nil
}

// Validate checks MinX <= MaxX, MinY <= MaxY and Resolution > 0.
func (fi FetchInfo) Validate() error {
	if fi.Extent.Min.X() > fi.Extent.Max.X() || fi.Extent.Min.Y() > fi.Extent.Max.Y() {
		return fmt.Errorf("%w: %v", ErrInvalidExtent, fi.Extent)
	}
	if !(fi.Resolution > 0) {
		return fmt.Errorf("%w: %v", ErrInvalidResolution, fi.Resolution)
	}
	return nil
}

func (fi FetchInfo) Width() float64 {
	return fi.Extent.Max.X() - fi.Extent.Min.X()
}

func (fi FetchInfo) Height() float64 {
	return fi.Extent.Max.Y() - fi.Extent.Min.Y()
}

// ScreenWidth is the width of the extent in pixels.
func (fi FetchInfo) ScreenWidth() float64 {
	return fi.Width() / fi.Resolution
}

// ScreenHeight is the height of the extent in pixels.
func (fi FetchInfo) ScreenHeight() float64 {
	return fi.Height() / fi.Resolution
}

// Grow returns a copy with the extent padded by d on every side.
func (fi FetchInfo) Grow(d float64) FetchInfo {
	fi.Extent = fi.Extent.Pad(d)
	return fi
}

// WithExtent returns a copy with a different extent and resolution.
func (fi FetchInfo) WithExtent(extent orb.Bound, resolution float64) FetchInfo {
	fi.Extent = extent
	fi.Resolution = resolution
	return fi
}
