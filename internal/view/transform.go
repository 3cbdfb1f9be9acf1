// Package view maps between screen pixels, content pixels and logical grid
// cells, and owns pan/zoom state.
package view

import (
	"math"
	"time"

	"github.com/ManadaHerath/pixelmap-server/internal/mapdata"
)

const (
	DefaultMinZoom       = 0.05
	DefaultMaxZoom       = 50.0
	DefaultButtonStep    = 1.2
	DefaultWheelStep     = 1.1
	DefaultDragThreshold = 5.0
	DefaultFitMargin     = 0.95
	DefaultIdleReset     = 15 * time.Second
)

// Point is a position in screen or content pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) Add(q Point) Point { return Point{p.X + q.X, p.Y + q.Y} }
func (p Point) Sub(q Point) Point { return Point{p.X - q.X, p.Y - q.Y} }

// Size is a width/height pair in pixels.
type Size struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func (s Size) Valid() bool { return s.W > 0 && s.H > 0 }

// State is a zoom and pan offset: screen = content*Zoom + Offset.
type State struct {
	Zoom   float64 `json:"zoom"`
	Offset Point   `json:"offset"`
}

// Options tunes a Controller. Zero fields take the defaults.
type Options struct {
	MinZoom    float64
	MaxZoom    float64
	ButtonStep float64
	WheelStep  float64
	FitMargin  float64
	IdleReset  time.Duration
	CellSize   float64
}

func (o Options) withDefaults() Options {
	if o.MinZoom <= 0 {
		o.MinZoom = DefaultMinZoom
	}
	if o.MaxZoom <= 0 {
		o.MaxZoom = DefaultMaxZoom
	}
	if o.ButtonStep <= 1 {
		o.ButtonStep = DefaultButtonStep
	}
	if o.WheelStep <= 1 {
		o.WheelStep = DefaultWheelStep
	}
	if o.FitMargin <= 0 {
		o.FitMargin = DefaultFitMargin
	}
	if o.IdleReset <= 0 {
		o.IdleReset = DefaultIdleReset
	}
	if o.CellSize <= 0 {
		o.CellSize = 1
	}
	return o
}

// Controller owns the view state of one viewer. It is not safe for
// concurrent use.
type Controller struct {
	opts Options

	state     State
	fit       State
	hasFit    bool
	container Size
	content   Size

	lastInteraction time.Time
	now             func() time.Time
}

// NewController returns a controller at zoom 1 with no fit computed yet.
func NewController(opts Options) *Controller {
	return &Controller{
		opts:  opts.withDefaults(),
		state: State{Zoom: 1},
		now:   time.Now,
	}
}

// SetClock replaces the time source used for idle tracking.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
	c.lastInteraction = now()
}

func (c *Controller) Options() Options { return c.opts }

func (c *Controller) State() State { return c.state }

// Fit is the remembered default view and whether it is known yet.
func (c *Controller) Fit() (State, bool) { return c.fit, c.hasFit }

func (c *Controller) Container() Size { return c.container }

func (c *Controller) Content() Size { return c.content }

// SetContent sets the unscaled content size, e.g. cols*cellSize x rows*cellSize.
func (c *Controller) SetContent(s Size) {
	c.content = s
	c.ensureFit()
}

// Resize records the container size. The fit view is computed the first
// time both sizes are known and applied as the current view.
func (c *Controller) Resize(s Size) {
	c.container = s
	c.ensureFit()
}

func (c *Controller) ensureFit() {
	if c.hasFit || !c.container.Valid() || !c.content.Valid() {
		return
	}
	c.fit = c.computeFit()
	c.hasFit = true
	c.state = c.fit
}

func (c *Controller) computeFit() State {
	zoom := math.Min(c.container.W/c.content.W, c.container.H/c.content.H) * c.opts.FitMargin
	zoom = c.clamp(zoom)
	return State{
		Zoom: zoom,
		Offset: Point{
			X: (c.container.W - c.content.W*zoom) / 2,
			Y: (c.container.H - c.content.H*zoom) / 2,
		},
	}
}

func (c *Controller) clamp(z float64) float64 {
	return math.Max(c.opts.MinZoom, math.Min(c.opts.MaxZoom, z))
}

func (c *Controller) touch() {
	c.lastInteraction = c.now()
}

// SetState applies an explicit view, clamping the zoom.
func (c *Controller) SetState(s State) {
	s.Zoom = c.clamp(s.Zoom)
	c.state = s
	c.touch()
}

// ZoomIn multiplies the zoom by the button step around the container centre.
func (c *Controller) ZoomIn() {
	c.zoomAround(c.center(), c.opts.ButtonStep)
}

// ZoomOut divides the zoom by the button step around the container centre.
func (c *Controller) ZoomOut() {
	c.zoomAround(c.center(), 1/c.opts.ButtonStep)
}

// ZoomAt applies one wheel tick at p. A negative direction zooms in (wheel
// up), a positive one zooms out; zero is ignored.
func (c *Controller) ZoomAt(p Point, direction float64) {
	switch {
	case direction < 0:
		c.zoomAround(p, c.opts.WheelStep)
	case direction > 0:
		c.zoomAround(p, 1/c.opts.WheelStep)
	}
}

// zoomAround keeps the content point under p fixed on screen.
func (c *Controller) zoomAround(p Point, factor float64) {
	content := c.ScreenToContent(p)
	c.state.Zoom = c.clamp(c.state.Zoom * factor)
	c.state.Offset = Point{
		X: p.X - content.X*c.state.Zoom,
		Y: p.Y - content.Y*c.state.Zoom,
	}
	c.touch()
}

func (c *Controller) center() Point {
	return Point{X: c.container.W / 2, Y: c.container.H / 2}
}

// Pan sets the offset to start plus the screen delta since the drag began.
func (c *Controller) Pan(start, delta Point) {
	c.state.Offset = start.Add(delta)
	c.touch()
}

// Reset restores the fit view, computing it if the sizes are known.
func (c *Controller) Reset() {
	c.ensureFit()
	if c.hasFit {
		c.state = c.fit
	}
	c.touch()
}

// Drifted reports whether the current view differs from the fit view.
func (c *Controller) Drifted() bool {
	if !c.hasFit {
		return false
	}
	const eps = 1e-9
	return math.Abs(c.state.Zoom-c.fit.Zoom) > eps ||
		math.Abs(c.state.Offset.X-c.fit.Offset.X) > eps ||
		math.Abs(c.state.Offset.Y-c.fit.Offset.Y) > eps
}

// AutoReset snaps back to the fit view when the view drifted, nothing is
// busy and no interaction happened for the idle period. It reports whether
// it reset.
func (c *Controller) AutoReset(busy bool) bool {
	if busy || !c.Drifted() {
		return false
	}
	if c.now().Sub(c.lastInteraction) < c.opts.IdleReset {
		return false
	}
	c.state = c.fit
	c.touch()
	return true
}

// ScreenToContent undoes the pan and zoom.
func (c *Controller) ScreenToContent(p Point) Point {
	return Point{
		X: (p.X - c.state.Offset.X) / c.state.Zoom,
		Y: (p.Y - c.state.Offset.Y) / c.state.Zoom,
	}
}

// ContentToScreen applies the pan and zoom.
func (c *Controller) ContentToScreen(p Point) Point {
	return Point{
		X: p.X*c.state.Zoom + c.state.Offset.X,
		Y: p.Y*c.state.Zoom + c.state.Offset.Y,
	}
}

// ScreenToLogical returns the cell under a screen point. The result may lie
// outside the grid.
func (c *Controller) ScreenToLogical(p Point) mapdata.Cell {
	return ScreenToLogical(c.state, c.opts.CellSize, p)
}

// LogicalToScreen returns the screen position of a cell centre.
func (c *Controller) LogicalToScreen(cell mapdata.Cell) Point {
	return LogicalToScreen(c.state, c.opts.CellSize, cell)
}

// ScreenToLogical maps a screen point through s to a cell.
func ScreenToLogical(s State, cellSize float64, p Point) mapdata.Cell {
	cx := (p.X - s.Offset.X) / s.Zoom
	cy := (p.Y - s.Offset.Y) / s.Zoom
	return mapdata.Cell{
		Col: int(math.Floor(cx / cellSize)),
		Row: int(math.Floor(cy / cellSize)),
	}
}

// LogicalToScreen maps the centre of cell through s to the screen.
func LogicalToScreen(s State, cellSize float64, cell mapdata.Cell) Point {
	return Point{
		X: (float64(cell.Col)+0.5)*cellSize*s.Zoom + s.Offset.X,
		Y: (float64(cell.Row)+0.5)*cellSize*s.Zoom + s.Offset.Y,
	}
}
