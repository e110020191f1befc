// Package tile provides the flat world-grid coordinate used to address
// grids and tiles across the zoom pyramid.
package tile

import "fmt"

// Coord is a signed grid coordinate. Unlike a geographic tile coordinate,
// it has no notion of projection: it addresses a cell in the flat grid of
// a tenant's map.
type Coord struct {
	X, Y int
}

// New returns a Coord for the given grid coordinates.
func New(x, y int) Coord {
	return Coord{X: x, Y: y}
}

// String renders the coordinate as "{x}_{y}", matching the gridId format
// used by the .hmap container and the tile filename convention.
func (c Coord) String() string {
	return fmt.Sprintf("%d_%d", c.X, c.Y)
}

// Parent returns the coordinate one zoom level up, using floored
// (negative-aware) division so the pyramid stays contiguous across the
// origin. Truncating division would leave a one-tile gap at x=-1, y=-1.
func (c Coord) Parent() Coord {
	return Coord{X: floorDiv(c.X, 2), Y: floorDiv(c.Y, 2)}
}

// Children returns the four coordinates at the next zoom level down that
// composite into this coordinate: (2x,2y), (2x+1,2y), (2x,2y+1), (2x+1,2y+1).
func (c Coord) Children() [4]Coord {
	return [4]Coord{
		{X: 2 * c.X, Y: 2 * c.Y},
		{X: 2*c.X + 1, Y: 2 * c.Y},
		{X: 2 * c.X, Y: 2*c.Y + 1},
		{X: 2*c.X + 1, Y: 2*c.Y + 1},
	}
}

// Ancestors walks Parent() n times and returns the (zoom, coord) pairs for
// zoom 1..n, in ascending zoom order.
func Ancestors(c Coord, n int) []ZoomCoord {
	out := make([]ZoomCoord, 0, n)
	cur := c
	for z := 1; z <= n; z++ {
		cur = cur.Parent()
		out = append(out, ZoomCoord{Zoom: z, Coord: cur})
	}
	return out
}

// ZoomCoord pairs a zoom level with a coordinate at that level.
type ZoomCoord struct {
	Zoom  int
	Coord Coord
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
