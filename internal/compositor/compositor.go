// Package compositor paints the map: a base layer of unsold land, the sold
// pixel overlay and a separate outline layer for borders and the highlight.
package compositor

import (
	"image"
	"image/color"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/ManadaHerath/pixelmap-server/internal/grid"
	"github.com/ManadaHerath/pixelmap-server/internal/log"
	"github.com/ManadaHerath/pixelmap-server/internal/raster"
	"github.com/ManadaHerath/pixelmap-server/internal/view"
)

type Options struct {
	CellSize  int
	Unsold    color.RGBA
	Border    color.RGBA
	Highlight color.RGBA
}

// ImageSource hands out decoded pixel images. A miss may start a load in the
// background; the pixel is drawn flat until a later frame.
type ImageSource interface {
	Image(url string) (image.Image, bool)
}

type Compositor struct {
	opts   Options
	images ImageSource

	mu     sync.Mutex
	bitmap *raster.Bitmap
	base   *image.RGBA
}

// New creates a compositor. images may be nil, in which case every sold
// pixel is drawn with its flat colour.
func New(opts Options, images ImageSource) *Compositor {
	if opts.CellSize <= 0 {
		opts.CellSize = 1
	}
	return &Compositor{opts: opts, images: images}
}

func (c *Compositor) Options() Options { return c.opts }

// SetBitmap builds the base layer for b. Calling it again with the same
// bitmap is a no-op.
func (c *Compositor) SetBitmap(b *raster.Bitmap) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b == nil || b == c.bitmap {
		return
	}
	c.bitmap = b
	c.base = c.buildBase(b)
	log.WithField("active", b.Active()).Debugf("compositor: base layer %v", c.base.Bounds().Size())
}

func (c *Compositor) buildBase(b *raster.Bitmap) *image.RGBA {
	cs := c.opts.CellSize
	cols, rows := b.Dims()
	base := image.NewRGBA(image.Rect(0, 0, cols*cs, rows*cs))
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			if !b.Occupied(col, row) {
				continue
			}
			for y := row * cs; y < (row+1)*cs; y++ {
				for x := col * cs; x < (col+1)*cs; x++ {
					base.SetRGBA(x, y, c.opts.Unsold)
				}
			}
		}
	}
	return base
}

// Ready reports whether a base layer exists.
func (c *Compositor) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base != nil
}

// Compose returns a fresh frame: the base layer with pixels drawn over it.
// It returns nil until SetBitmap has been called.
func (c *Compositor) Compose(pixels []grid.SoldPixel) *image.RGBA {
	c.mu.Lock()
	base, b := c.base, c.bitmap
	c.mu.Unlock()
	if base == nil {
		return nil
	}

	frame := image.NewRGBA(base.Bounds())
	copy(frame.Pix, base.Pix)
	for _, p := range pixels {
		c.drawPixel(frame, b, p)
	}
	return frame
}

// drawPixel paints one sold pixel. Pixels off the grid or off the land are
// inert and skipped.
func (c *Compositor) drawPixel(dst *image.RGBA, b *raster.Bitmap, p grid.SoldPixel) {
	if !b.Occupied(p.X, p.Y) {
		return
	}
	cs := c.opts.CellSize
	rect := image.Rect(p.X*cs, p.Y*cs, (p.X+1)*cs, (p.Y+1)*cs)

	fill, err := grid.ParseColor(p.Color)
	if err != nil {
		fill = c.opts.Unsold
	}
	draw.Draw(dst, rect, image.NewUniform(fill), image.Point{}, draw.Src)

	if p.ImageURL == "" || c.images == nil {
		return
	}
	if img, ok := c.images.Image(p.ImageURL); ok {
		draw.ApproxBiLinear.Scale(dst, rect, img, img.Bounds(), draw.Over, nil)
	}
}

// RenderViewport maps a composited frame through the view onto a w x h
// image. Screen = content*zoom + offset.
func RenderViewport(frame image.Image, s view.State, w, h int, background color.Color) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if background != nil {
		draw.Draw(dst, dst.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)
	}
	if frame == nil || s.Zoom <= 0 {
		return dst
	}
	s2d := f64.Aff3{
		s.Zoom, 0, s.Offset.X,
		0, s.Zoom, s.Offset.Y,
	}
	draw.NearestNeighbor.Transform(dst, s2d, frame, frame.Bounds(), draw.Over, nil)
	return dst
}

// Overlay draws layer on top of dst.
func Overlay(dst *image.RGBA, layer image.Image) {
	if layer == nil {
		return
	}
	draw.Draw(dst, dst.Bounds(), layer, image.Point{}, draw.Over)
}
