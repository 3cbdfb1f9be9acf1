package compositor

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"

	"github.com/ManadaHerath/pixelmap-server/internal/mapdata"
	"github.com/ManadaHerath/pixelmap-server/internal/raster"
	"github.com/ManadaHerath/pixelmap-server/internal/view"
)

// Districts names the district of a cell.
type Districts interface {
	District(c mapdata.Cell) (string, bool)
}

// Outline renders the transparent w x h layer for view s: borders between
// land and sea and between districts, plus a frame around highlight.
func (c *Compositor) Outline(s view.State, w, h int, districts Districts, highlight *mapdata.Cell) *image.RGBA {
	layer := image.NewRGBA(image.Rect(0, 0, w, h))
	if s.Zoom <= 0 {
		return layer
	}

	c.mu.Lock()
	b := c.bitmap
	c.mu.Unlock()

	scale := s.Zoom * float64(c.opts.CellSize)
	if b != nil {
		c.drawBorders(layer, b, s, scale, districts)
	}
	if highlight != nil {
		x0, y0 := screen(s, scale, highlight.Col, highlight.Row)
		x1, y1 := screen(s, scale, highlight.Col+1, highlight.Row+1)
		strokeRect(layer, x0, y0, x1, y1, c.opts.Highlight, 2)
	}
	return layer
}

func (c *Compositor) drawBorders(layer *image.RGBA, b *raster.Bitmap, s view.State, scale float64, districts Districts) {
	cols, rows := b.Dims()
	bounds := layer.Bounds()

	// Visible cells, padded by one so edges on the first row and column are
	// compared against the outside.
	c0 := int(math.Floor(-s.Offset.X/scale)) - 1
	r0 := int(math.Floor(-s.Offset.Y/scale)) - 1
	c1 := int(math.Ceil((float64(bounds.Dx())-s.Offset.X)/scale)) + 1
	r1 := int(math.Ceil((float64(bounds.Dy())-s.Offset.Y)/scale)) + 1
	c0, c1 = max(c0, -1), min(c1, cols)
	r0, r1 = max(r0, -1), min(r1, rows)

	region := func(col, row int) (string, bool) {
		if !b.Occupied(col, row) {
			return "", false
		}
		if districts == nil {
			return "", true
		}
		d, _ := districts.District(mapdata.Cell{Col: col, Row: row})
		return d, true
	}

	for row := r0; row < r1; row++ {
		for col := c0; col < c1; col++ {
			here, land := region(col, row)
			if right, rland := region(col+1, row); land != rland || (land && here != right) {
				x, y0 := screen(s, scale, col+1, row)
				_, y1 := screen(s, scale, col+1, row+1)
				fillRect(layer, x, y0, x+1, y1, c.opts.Border)
			}
			if below, bland := region(col, row+1); land != bland || (land && here != below) {
				x0, y := screen(s, scale, col, row+1)
				x1, _ := screen(s, scale, col+1, row+1)
				fillRect(layer, x0, y, x1, y+1, c.opts.Border)
			}
		}
	}
}

// screen returns the screen position of the top-left corner of a cell.
func screen(s view.State, scale float64, col, row int) (int, int) {
	x := s.Offset.X + float64(col)*scale
	y := s.Offset.Y + float64(row)*scale
	return int(math.Round(x)), int(math.Round(y))
}

func fillRect(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	if x2 <= x1 {
		x2 = x1 + 1
	}
	if y2 <= y1 {
		y2 = y1 + 1
	}
	draw.Draw(img, image.Rect(x1, y1, x2, y2), image.NewUniform(c), image.Point{}, draw.Over)
}

func strokeRect(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA, width int) {
	for i := 0; i < width; i++ {
		fillRect(img, x1-i, y1-i, x2+i, y1-i+1, c)
		fillRect(img, x1-i, y2+i-1, x2+i, y2+i, c)
		fillRect(img, x1-i, y1-i, x1-i+1, y2+i, c)
		fillRect(img, x2+i-1, y1-i, x2+i, y2+i, c)
	}
}
