package denoiser

import "image"

// Tile is a restartable cursor over the pixels of a rectangle, visiting them
// in raster order (left to right, top to bottom). Advancing never allocates.
// The same cursor drives patch footprints, search windows and chunk tiles.
type Tile struct {
	bounds image.Rectangle
	cur    image.Point
}

// Create a tile over the half-open pixel rectangle [Min, Max).
func NewTile(bounds image.Rectangle) Tile {
	return Tile{bounds: bounds, cur: bounds.Min}
}

// Reset repositions the cursor on the first pixel.
func (t *Tile) Reset() {
	t.cur = t.bounds.Min
}

// Current returns the pixel under the cursor without advancing.
func (t *Tile) Current() image.Point {
	return t.cur
}

// Next advances the cursor to the next pixel in raster order.
func (t *Tile) Next() {
	t.cur.X++
	if t.cur.X == t.bounds.Max.X {
		t.cur.X = t.bounds.Min.X
		t.cur.Y++
	}
}

// NumPixels returns the total pixel count of the tile.
func (t *Tile) NumPixels() int {
	return t.bounds.Dx() * t.bounds.Dy()
}

// Index returns the raster-order rank of p within the tile bounds. It is the
// bit position used for p in similarity masks built over this tile.
func (t *Tile) Index(p image.Point) int {
	return (p.Y-t.bounds.Min.Y)*t.bounds.Dx() + (p.X - t.bounds.Min.X)
}
