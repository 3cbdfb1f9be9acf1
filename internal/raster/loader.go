package raster

import (
	"context"
	"sync"
	"time"

	"github.com/ManadaHerath/pixelmap-server/internal/log"
	"github.com/ManadaHerath/pixelmap-server/internal/mapdata"
)

// State is the availability of the occupancy bitmap.
type State int

const (
	StateLoading State = iota
	StateReady
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Provider is read-only access to occupancy.
type Provider interface {
	State() State
	Dims() (cols, rows int)
	Occupied(col, row int) bool
}

// Loader builds a Bitmap in the background once per MapData. Until the
// build finishes, and forever after a failed build, Occupied reports false.
type Loader struct {
	rasterizer VectorRasterizer
	cols       int
	cellSize   int
	progress   ProgressFunc

	mu     sync.RWMutex
	state  State
	grid   Grid
	bitmap *Bitmap
	err    error
	done   chan struct{}
}

// NewLoader creates a loader sampling cols columns at cellSize.
func NewLoader(r VectorRasterizer, cols, cellSize int) *Loader {
	return &Loader{
		rasterizer: r,
		cols:       cols,
		cellSize:   cellSize,
		state:      StateUnavailable,
		done:       make(chan struct{}),
	}
}

// OnProgress sets a callback invoked while sampling rows.
func (l *Loader) OnProgress(fn ProgressFunc) {
	l.mu.Lock()
	l.progress = fn
	l.mu.Unlock()
}

// Start begins an asynchronous build of md. The returned channel closes when
// the build finishes, successfully or not.
func (l *Loader) Start(ctx context.Context, md *mapdata.MapData) <-chan struct{} {
	done := l.begin()
	go func() {
		_ = l.build(ctx, md, done)
	}()
	return done
}

// Load builds md synchronously.
func (l *Loader) Load(ctx context.Context, md *mapdata.MapData) error {
	return l.build(ctx, md, l.begin())
}

func (l *Loader) begin() chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StateLoading
	l.bitmap = nil
	l.err = nil
	l.done = make(chan struct{})
	return l.done
}

func (l *Loader) build(ctx context.Context, md *mapdata.MapData, done chan struct{}) error {
	defer close(done)

	start := time.Now()
	grid, err := NewGrid(l.cols, l.cellSize, viewBoxOf(md))
	var bm *Bitmap
	if err == nil {
		l.mu.Lock()
		l.grid = grid
		progress := l.progress
		l.mu.Unlock()
		bm, err = Build(ctx, l.rasterizer, md, grid, progress)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.state = StateUnavailable
		l.err = err
		log.Errorf("raster: map unavailable: %v", err)
		return err
	}
	l.state = StateReady
	l.bitmap = bm
	log.WithField("active", bm.Active()).
		WithField("cells", bm.Len()).
		WithField("took", time.Since(start).String()).
		Infof("raster: occupancy bitmap ready %dx%d", grid.Cols, grid.Rows)
	return nil
}

func viewBoxOf(md *mapdata.MapData) mapdata.ViewBox {
	if md == nil {
		return mapdata.ViewBox{}
	}
	return md.ViewBox
}

// Done closes when the current build finishes.
func (l *Loader) Done() <-chan struct{} {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.done
}

func (l *Loader) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Err is the last build error, nil when ready or loading.
func (l *Loader) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

// Bitmap returns the built bitmap once ready.
func (l *Loader) Bitmap() (*Bitmap, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.bitmap, l.state == StateReady
}

// Grid is the geometry of the current build; zero before the first build.
func (l *Loader) Grid() Grid {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.grid
}

func (l *Loader) Dims() (int, int) {
	g := l.Grid()
	return g.Cols, g.Rows
}

func (l *Loader) Occupied(col, row int) bool {
	bm, ok := l.Bitmap()
	if !ok {
		return false
	}
	return bm.Occupied(col, row)
}
