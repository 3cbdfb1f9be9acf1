// Package raster turns the vector map into a per-cell occupancy bitmap.
package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"

	"github.com/ManadaHerath/pixelmap-server/internal/mapdata"
)

var (
	ErrBadSize   = errors.New("raster: target size must be positive")
	ErrRasterize = errors.New("raster: rasterization failed")
	ErrBadGrid   = errors.New("raster: invalid grid geometry")
)

// VectorRasterizer renders a vector source into a pixel buffer of exactly
// width x height pixels, the viewBox scaled to fill it.
type VectorRasterizer interface {
	Rasterize(ctx context.Context, src *mapdata.MapData, width, height int) (*image.RGBA, error)
}

// SVGRasterizer renders MapData.Source with oksvg and the rasterx scanline
// filler.
type SVGRasterizer struct {
	// Strict fails on SVG elements oksvg does not support instead of
	// skipping them.
	Strict bool
}

func (r SVGRasterizer) Rasterize(ctx context.Context, src *mapdata.MapData, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrBadSize
	}
	if src == nil || len(src.Source) == 0 {
		return nil, fmt.Errorf("%w: empty source", ErrRasterize)
	}

	mode := oksvg.IgnoreErrorMode
	if r.Strict {
		mode = oksvg.StrictErrorMode
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(src.Source), mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRasterize, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	icon.SetTarget(0, 0, float64(width), float64(height))
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	scanner := rasterx.NewScannerGV(width, height, img, img.Bounds())
	dasher := rasterx.NewDasher(width, height, scanner)
	icon.Draw(dasher, 1.0)

	return img, ctx.Err()
}

// Grid is the logical resolution the map is sampled at.
type Grid struct {
	Cols     int
	Rows     int
	CellSize int
}

// NewGrid derives the row count from the viewBox aspect ratio:
// rows = floor(cols * H / W).
func NewGrid(cols, cellSize int, vb mapdata.ViewBox) (Grid, error) {
	if cols <= 0 || cellSize <= 0 || !vb.Valid() {
		return Grid{}, ErrBadGrid
	}
	rows := int(math.Floor(float64(cols) * vb.H / vb.W))
	if rows <= 0 {
		return Grid{}, fmt.Errorf("%w: %d rows", ErrBadGrid, rows)
	}
	return Grid{Cols: cols, Rows: rows, CellSize: cellSize}, nil
}

// PixelSize is the raster surface size for this grid.
func (g Grid) PixelSize() (int, int) {
	return g.Cols * g.CellSize, g.Rows * g.CellSize
}

func (g Grid) Len() int { return g.Cols * g.Rows }

func (g Grid) Contains(col, row int) bool {
	return col >= 0 && col < g.Cols && row >= 0 && row < g.Rows
}
