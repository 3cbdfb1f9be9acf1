package engine

import (
	"context"
	"errors"

	"github.com/ManadaHerath/pixelmap-server/internal/log"
	"github.com/ManadaHerath/pixelmap-server/internal/mapdata"
	"github.com/ManadaHerath/pixelmap-server/internal/market"
	"github.com/ManadaHerath/pixelmap-server/internal/raster"
	"github.com/ManadaHerath/pixelmap-server/internal/view"
)

var ErrViewerBusy = errors.New("purchase in progress")

// Result is what a viewer input produced.
type Result struct {
	View     view.State      `json:"view"`
	Outcome  string          `json:"outcome,omitempty"`
	Notice   market.Notice   `json:"notice,omitempty"`
	Message  string          `json:"message,omitempty"`
	Selected *market.Details `json:"selected,omitempty"`
}

type ViewerOptions struct {
	View          view.Options
	DragThreshold float64
	// Viewport is the container size assumed until the client reports one.
	Viewport view.Size
}

// Viewer is one client's interactive session: its own view, gesture and
// selection over the shared Map. It is not safe for concurrent use; the
// owning connection drives it from a single goroutine.
type Viewer struct {
	m       *Map
	hits    *market.HitTester
	buyer   market.Purchaser
	ctrl    *view.Controller
	gesture *view.Gesture
	sel     market.Selection

	hasContent bool
}

func NewViewer(m *Map, hits *market.HitTester, buyer market.Purchaser, opts ViewerOptions) *Viewer {
	if opts.View.CellSize <= 0 {
		opts.View.CellSize = float64(m.CellSize())
	}
	v := &Viewer{
		m:       m,
		hits:    hits,
		buyer:   buyer,
		ctrl:    view.NewController(opts.View),
		gesture: view.NewGesture(opts.DragThreshold),
	}
	v.syncContent()
	if opts.Viewport.Valid() {
		v.ctrl.Resize(opts.Viewport)
	}
	return v
}

// Controller exposes the view controller, mainly for clocks in tests.
func (v *Viewer) Controller() *view.Controller { return v.ctrl }

// syncContent hands the content size to the controller once the map is
// ready, which lets it compute the fit view. It reports whether that
// replaced the current view.
func (v *Viewer) syncContent() bool {
	if v.hasContent {
		return false
	}
	size, ok := v.m.ContentSize()
	if !ok {
		return false
	}
	_, had := v.ctrl.Fit()
	v.ctrl.SetContent(size)
	v.hasContent = true
	_, has := v.ctrl.Fit()
	return !had && has
}

func (v *Viewer) fitted() Result {
	r := v.result()
	r.Outcome = "fit"
	return r
}

func (v *Viewer) result() Result {
	r := Result{View: v.ctrl.State()}
	if d, open := v.sel.Current(); open {
		r.Selected = d
	}
	return r
}

func (v *Viewer) State() view.State { return v.ctrl.State() }

func (v *Viewer) Resize(s view.Size) Result {
	v.syncContent()
	v.ctrl.Resize(s)
	return v.result()
}

func (v *Viewer) PointerDown(p view.Point) {
	v.gesture.Down(p, v.ctrl.State().Offset)
}

// PointerMove pans once the pointer moved past the drag threshold.
func (v *Viewer) PointerMove(p view.Point) (Result, bool) {
	outcome, delta := v.gesture.Move(p)
	if outcome != view.OutcomePan {
		return Result{}, false
	}
	v.ctrl.Pan(v.gesture.StartOffset(), delta)
	r := v.result()
	r.Outcome = "pan"
	return r, true
}

// PointerUp ends a gesture. A click selects the cell under p or reports why
// nothing could be selected.
func (v *Viewer) PointerUp(ctx context.Context, p view.Point) (Result, error) {
	switch v.gesture.Up(p) {
	case view.OutcomeClick:
		return v.click(ctx, p)
	case view.OutcomeDragEnd:
		r := v.result()
		r.Outcome = "drag-end"
		return r, nil
	default:
		return v.result(), nil
	}
}

func (v *Viewer) click(ctx context.Context, p view.Point) (Result, error) {
	if v.sel.Buying() {
		return v.result(), ErrViewerBusy
	}
	// The client clicked through a view it no longer has.
	if v.syncContent() {
		return v.fitted(), nil
	}

	d, notice, err := v.hits.Select(ctx, p, v.ctrl.State(), v.ctrl.Options().CellSize)
	if err != nil {
		return v.result(), err
	}
	if notice != market.NoticeNone {
		r := v.result()
		r.Outcome = "click"
		r.Notice = notice
		r.Message = notice.Message()
		return r, nil
	}
	v.sel.Open(d)
	r := v.result()
	r.Outcome = "click"
	return r, nil
}

// Wheel zooms around p; negative dy zooms in.
func (v *Viewer) Wheel(p view.Point, dy float64) Result {
	v.ctrl.ZoomAt(p, dy)
	return v.result()
}

func (v *Viewer) ZoomIn() Result {
	v.ctrl.ZoomIn()
	return v.result()
}

func (v *Viewer) ZoomOut() Result {
	v.ctrl.ZoomOut()
	return v.result()
}

func (v *Viewer) Reset() Result {
	v.syncContent()
	v.ctrl.Reset()
	return v.result()
}

// Tick applies the fit view once the map finished loading and runs the idle
// auto reset. A drag or an open selection keeps the view where it is. It
// reports whether the view changed.
func (v *Viewer) Tick() (Result, bool) {
	if v.syncContent() {
		return v.fitted(), true
	}
	_, open := v.sel.Current()
	if !v.ctrl.AutoReset(v.gesture.Dragging() || open) {
		return Result{}, false
	}
	r := v.result()
	r.Outcome = "auto-reset"
	return r, true
}

// Close dismisses the selection.
func (v *Viewer) Close() (Result, error) {
	if err := v.sel.Close(); err != nil {
		return v.result(), err
	}
	return v.result(), nil
}

func (v *Viewer) Selection() (*market.Details, bool) { return v.sel.Current() }

// Highlight is the selected cell, if any.
func (v *Viewer) Highlight() *mapdata.Cell {
	d, open := v.sel.Current()
	if !open || d == nil {
		return nil
	}
	c := d.Cell()
	return &c
}

// Purchase buys the selected cell for buyer.
func (v *Viewer) Purchase(ctx context.Context, req market.PurchaseRequest) (Result, error) {
	if v.m.Occupancy().State() == raster.StateLoading {
		return v.result(), market.ErrMapLoading
	}
	d, err := v.sel.Purchase(ctx, v.buyer, req)
	if err != nil {
		log.WithField("buyer", req.BuyerID).Warnf("engine: purchase failed: %v", err)
		return v.result(), err
	}
	v.m.MarkDirty()
	r := v.result()
	r.Selected = d
	return r, nil
}
