package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

func Test_calculateExpectedTiles(t *testing.T) {
	t.Run("whole world to z2", func(t *testing.T) {
		expected := uint32(21)
		zs := []maptile.Zoom{0, 1, 2}
		b := orb.Bound{
			Min: orb.Point{-180.0, -90.0},
			Max: orb.Point{180.0, 90.0},
		}
		actual := calculateExpectedTiles(b, zs)

		if expected != actual {
			t.Fatalf("Expected %d tiles, got %d", expected, actual)
		}
	})

	t.Run("twin cities to z5", func(t *testing.T) {
		expected := uint32(6)
		zs := []maptile.Zoom{0, 1, 2, 3, 4, 5}
		b := orb.Bound{
			Min: orb.Point{-93.5778, 44.6848},
			Max: orb.Point{-92.7482, 45.202},
		}
		actual := calculateExpectedTiles(b, zs)

		if expected != actual {
			t.Fatalf("Expected %d tiles, got %d", expected, actual)
		}
	})
}

func Test_parseZooms(t *testing.T) {
	tests := []struct {
		in      string
		want    []maptile.Zoom
		wantErr bool
	}{
		{"3-5", []maptile.Zoom{3, 4, 5}, false},
		{"0,2, 4", []maptile.Zoom{0, 2, 4}, false},
		{"5-3", nil, true},
		{"a,b", nil, true},
		{"300", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseZooms(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseZooms(%q) error = %v", tt.in, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("parseZooms(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func Test_parseBounds(t *testing.T) {
	got, err := parseBounds("44.6848,-93.5778,45.202,-92.7482")
	if err != nil {
		t.Fatal(err)
	}
	want := orb.Bound{Min: orb.Point{-93.5778, 44.6848}, Max: orb.Point{-92.7482, 45.202}}
	if got != want {
		t.Errorf("parseBounds = %v, want %v", got, want)
	}

	if _, err := parseBounds("1,2,3"); err == nil {
		t.Error("expected an error for three values")
	}
}
