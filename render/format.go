package render

import (
	"fmt"
	"strings"
)

// Format is the encoding of rendered bitmaps.
type Format int

const (
	PNG Format = iota
	JPEG
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "png":
		return PNG, nil
	case "jpg", "jpeg":
		return JPEG, nil
	}
	return PNG, fmt.Errorf("unknown render format %q", s)
}

func (f Format) String() string {
	switch f {
	case JPEG:
		return "jpeg"
	default:
		return "png"
	}
}

func (f Format) Extension() string {
	switch f {
	case JPEG:
		return "jpg"
	default:
		return "png"
	}
}

func (f Format) ContentType() string {
	switch f {
	case JPEG:
		return "image/jpeg"
	default:
		return "image/png"
	}
}
