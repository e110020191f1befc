package tile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParent_FlooredDivision(t *testing.T) {
	cases := []struct {
		in   Coord
		want Coord
	}{
		{Coord{0, 0}, Coord{0, 0}},
		{Coord{1, 1}, Coord{0, 0}},
		{Coord{2, 2}, Coord{1, 1}},
		{Coord{-1, -1}, Coord{-1, -1}},
		{Coord{-2, -2}, Coord{-1, -1}},
		{Coord{-3, -3}, Coord{-2, -2}},
	}
	for _, c := range cases {
		require.Equal(t, c.want, c.in.Parent(), "parent of %v", c.in)
	}
}

func TestParent_NoGapAtOrigin(t *testing.T) {
	// A truncating division would map both -1 and 0 differently than floored
	// division; verify the pyramid is contiguous across x=-1/x=0.
	require.Equal(t, Coord{-1, 0}.Parent(), Coord{-1, 0})
	require.Equal(t, Coord{0, 0}.Parent(), Coord{0, 0})
}

func TestChildren_RoundTrip(t *testing.T) {
	parent := Coord{3, -2}
	for _, child := range parent.Children() {
		require.Equal(t, parent, child.Parent())
	}
}

func TestAncestors_SixLevels(t *testing.T) {
	got := Ancestors(Coord{100, 100}, 6)
	require.Len(t, got, 6)
	for i, zc := range got {
		require.Equal(t, i+1, zc.Zoom)
	}
	require.Equal(t, Coord{50, 50}, got[0].Coord)
	require.Equal(t, Coord{1, 1}, got[5].Coord)
}

func TestString(t *testing.T) {
	require.Equal(t, "5_7", Coord{5, 7}.String())
	require.Equal(t, "-1_-2", Coord{-1, -2}.String())
}
