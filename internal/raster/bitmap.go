package raster

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/ManadaHerath/pixelmap-server/internal/log"
	"github.com/ManadaHerath/pixelmap-server/internal/mapdata"
)

// Bitmap is the occupancy mask: one byte per logical cell, 1 when the cell
// lies on the landmass.
type Bitmap struct {
	grid   Grid
	cells  []byte
	active int
}

// NewBitmap returns an all-zero bitmap for g.
func NewBitmap(g Grid) *Bitmap {
	return &Bitmap{grid: g, cells: make([]byte, g.Len())}
}

func (b *Bitmap) Grid() Grid { return b.grid }

func (b *Bitmap) Dims() (int, int) { return b.grid.Cols, b.grid.Rows }

func (b *Bitmap) Len() int { return len(b.cells) }

// Active is the number of occupied cells.
func (b *Bitmap) Active() int { return b.active }

// State reports Ready: a built bitmap is always usable.
func (b *Bitmap) State() State { return StateReady }

func (b *Bitmap) Occupied(col, row int) bool {
	if !b.grid.Contains(col, row) {
		return false
	}
	return b.cells[row*b.grid.Cols+col] == 1
}

// Set marks a cell; used when building masks by hand.
func (b *Bitmap) Set(col, row int, occupied bool) {
	if !b.grid.Contains(col, row) {
		return
	}
	i := row*b.grid.Cols + col
	switch {
	case occupied && b.cells[i] == 0:
		b.cells[i] = 1
		b.active++
	case !occupied && b.cells[i] == 1:
		b.cells[i] = 0
		b.active--
	}
}

// ProgressFunc receives the number of sampled rows out of total.
type ProgressFunc func(done, total int)

// Build rasterizes md at the grid's resolution and samples the alpha channel
// at every cell centre. A source with no opaque pixels yields an all-zero
// bitmap, which is not an error.
func Build(ctx context.Context, r VectorRasterizer, md *mapdata.MapData, g Grid, progress ProgressFunc) (*Bitmap, error) {
	w, h := g.PixelSize()
	img, err := r.Rasterize(ctx, md, w, h)
	if err != nil {
		if errors.Is(err, ErrRasterize) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrRasterize, err)
	}
	if img == nil || img.Bounds().Dx() < w || img.Bounds().Dy() < h {
		return nil, fmt.Errorf("%w: surface smaller than %dx%d", ErrRasterize, w, h)
	}

	b := NewBitmap(g)
	half := g.CellSize / 2
	origin := img.Bounds().Min
	for row := 0; row < g.Rows; row++ {
		if row%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		y := origin.Y + row*g.CellSize + half
		base := row * g.Cols
		for col := 0; col < g.Cols; col++ {
			x := origin.X + col*g.CellSize + half
			if img.Pix[img.PixOffset(x, y)+3] > 0 {
				b.cells[base+col] = 1
				b.active++
			}
		}
		if progress != nil {
			progress(row+1, g.Rows)
		}
	}

	if b.active == 0 {
		log.Warnf("raster: %dx%d grid has no active cells, nothing is purchasable", g.Cols, g.Rows)
	}
	return b, nil
}

// Mask renders the bitmap as a greyscale image, white for occupied cells.
func Mask(b *Bitmap) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, b.grid.Cols, b.grid.Rows))
	for i, v := range b.cells {
		if v == 1 {
			img.Pix[i] = 0xff
		}
	}
	return img
}
