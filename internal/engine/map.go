// Package engine wires map loading, compositing and per-viewer interaction
// into the pieces the transport layer serves.
package engine

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/ManadaHerath/pixelmap-server/internal/compositor"
	"github.com/ManadaHerath/pixelmap-server/internal/grid"
	"github.com/ManadaHerath/pixelmap-server/internal/log"
	"github.com/ManadaHerath/pixelmap-server/internal/mapdata"
	"github.com/ManadaHerath/pixelmap-server/internal/raster"
	"github.com/ManadaHerath/pixelmap-server/internal/view"
)

// Info summarises the map for clients.
type Info struct {
	State    string  `json:"state"`
	Cols     int     `json:"cols"`
	Rows     int     `json:"rows"`
	CellSize int     `json:"cellSize"`
	Active   int     `json:"activeCells"`
	ViewBox  [4]int  `json:"viewBox"`
	Version  uint64  `json:"frameVersion"`
	Sold     int     `json:"sold"`
	Error    *string `json:"error,omitempty"`
}

// Map owns the shared, viewer-independent state: the occupancy loader, the
// compositor and the latest composited frame.
type Map struct {
	data     *mapdata.MapData
	loader   *raster.Loader
	comp     *compositor.Compositor
	ledger   grid.Store
	sched    *compositor.Scheduler
	interval time.Duration

	mu      sync.RWMutex
	frame   *image.RGBA
	version uint64
	sold    int
}

func NewMap(md *mapdata.MapData, loader *raster.Loader, comp *compositor.Compositor, ledger grid.Store, interval time.Duration) *Map {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Map{
		data:     md,
		loader:   loader,
		comp:     comp,
		ledger:   ledger,
		sched:    compositor.NewScheduler(),
		interval: interval,
	}
}

func (m *Map) Data() *mapdata.MapData { return m.data }

func (m *Map) Loader() *raster.Loader { return m.loader }

func (m *Map) Occupancy() raster.Provider { return m.loader }

func (m *Map) CellSize() int { return m.comp.Options().CellSize }

// WatchImages redraws whenever l finishes loading an image.
func (m *Map) WatchImages(l *compositor.ImageLoader) {
	l.OnLoad(func(string) { m.MarkDirty() })
}

func (m *Map) MarkDirty() { m.sched.MarkDirty() }

// Start rasterizes the map in the background, follows ledger events and
// runs the render loop until ctx is done.
func (m *Map) Start(ctx context.Context) error {
	events, err := m.ledger.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("engine: subscribe to ledger: %w", err)
	}

	done := m.loader.Start(ctx, m.data)
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-done:
		}
		if b, ok := m.loader.Bitmap(); ok {
			m.comp.SetBitmap(b)
			m.MarkDirty()
		}
	}()

	go func() {
		for range events {
			m.MarkDirty()
		}
	}()

	go m.sched.Run(ctx, m.interval, func() {
		if err := m.Render(ctx); err != nil && ctx.Err() == nil {
			log.Errorf("engine: render failed: %v", err)
		}
	})
	return nil
}

// Ready is closed once rasterization finished, successfully or not.
func (m *Map) Ready() <-chan struct{} { return m.loader.Done() }

// Render composes a new frame from the ledger now.
func (m *Map) Render(ctx context.Context) error {
	if !m.comp.Ready() {
		return nil
	}
	pixels, err := m.ledger.List(ctx)
	if err != nil {
		m.MarkDirty()
		return err
	}
	frame := m.comp.Compose(pixels)

	m.mu.Lock()
	m.frame = frame
	m.version++
	m.sold = len(pixels)
	m.mu.Unlock()
	return nil
}

// Frame returns the latest composited frame and its version. The frame is
// nil until the first render after the bitmap is ready.
func (m *Map) Frame() (*image.RGBA, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frame, m.version
}

// ContentSize is the unscaled frame size, known once the map is ready.
func (m *Map) ContentSize() (view.Size, bool) {
	if m.loader.State() != raster.StateReady {
		return view.Size{}, false
	}
	cols, rows := m.loader.Dims()
	cs := float64(m.CellSize())
	return view.Size{W: float64(cols) * cs, H: float64(rows) * cs}, true
}

// Viewport renders the frame through s at w x h with the outline layer on
// top. highlight may be nil.
func (m *Map) Viewport(s view.State, w, h int, highlight *mapdata.Cell) *image.RGBA {
	frame, _ := m.Frame()
	var src image.Image
	if frame != nil {
		src = frame
	}
	dst := compositor.RenderViewport(src, s, w, h, color.White)
	if m.loader.State() == raster.StateReady {
		compositor.Overlay(dst, m.comp.Outline(s, w, h, m.data, highlight))
	}
	return dst
}

func (m *Map) Info() Info {
	m.mu.RLock()
	version, sold := m.version, m.sold
	m.mu.RUnlock()

	info := Info{
		State:    m.loader.State().String(),
		CellSize: m.CellSize(),
		Version:  version,
		Sold:     sold,
	}
	if m.data != nil {
		vb := m.data.ViewBox
		info.ViewBox = [4]int{int(vb.X), int(vb.Y), int(vb.W), int(vb.H)}
	}
	if b, ok := m.loader.Bitmap(); ok {
		info.Cols, info.Rows = b.Dims()
		info.Active = b.Active()
	}
	if err := m.loader.Err(); err != nil {
		msg := err.Error()
		info.Error = &msg
	}
	return info
}
