package engine

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManadaHerath/pixelmap-server/internal/compositor"
	"github.com/ManadaHerath/pixelmap-server/internal/grid"
	"github.com/ManadaHerath/pixelmap-server/internal/mapdata"
	"github.com/ManadaHerath/pixelmap-server/internal/market"
	"github.com/ManadaHerath/pixelmap-server/internal/raster"
	"github.com/ManadaHerath/pixelmap-server/internal/view"
	"github.com/ManadaHerath/pixelmap-server/internal/wallet"
)

var unsold = color.RGBA{0xd9, 0xd9, 0xd9, 0xff}

// westHalf paints the left half of the target opaque. If gate is set it
// waits for it first.
type westHalf struct {
	gate chan struct{}
}

func (r westHalf) Rasterize(ctx context.Context, src *mapdata.MapData, w, h int) (*image.RGBA, error) {
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w/2; x++ {
			img.SetRGBA(x, y, color.RGBA{A: 0xff})
		}
	}
	return img, nil
}

type harness struct {
	m      *Map
	ledger *grid.MemStore
	wallet *wallet.MemWallet
	hits   *market.HitTester
	svc    *market.Service
}

func newHarness(t *testing.T, r raster.VectorRasterizer) *harness {
	t.Helper()
	md := &mapdata.MapData{
		ViewBox:   mapdata.ViewBox{W: 40, H: 30},
		Districts: map[mapdata.Cell]string{{Col: 5, Row: 5}: "Porto"},
	}
	loader := raster.NewLoader(r, 40, 1)
	comp := compositor.New(compositor.Options{CellSize: 1, Unsold: unsold}, nil)
	h := &harness{
		ledger: grid.NewMemStore(),
		wallet: wallet.NewMemWallet(decimal.NewFromInt(500)),
	}
	h.m = NewMap(md, loader, comp, h.ledger, 5*time.Millisecond)

	pricer := market.NewPricer(7, nil)
	h.hits = market.NewHitTester(loader, h.ledger, pricer, market.Portugal, md)
	h.svc = market.NewService(loader, h.ledger, h.wallet, pricer, h.hits)
	return h
}

func (h *harness) start(t *testing.T) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, h.m.Start(ctx))
	return cancel
}

func (h *harness) waitReady(t *testing.T) {
	t.Helper()
	select {
	case <-h.m.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("map never finished loading")
	}
	require.Eventually(t, func() bool {
		frame, _ := h.m.Frame()
		return frame != nil
	}, 2*time.Second, 5*time.Millisecond)
}

func (h *harness) viewer(t *testing.T) (*Viewer, *time.Time) {
	t.Helper()
	v := NewViewer(h.m, h.hits, h.svc, ViewerOptions{})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	v.Controller().SetClock(func() time.Time { return now })
	v.Resize(view.Size{W: 400, H: 300})
	return v, &now
}

func TestMapRendersAndFollowsLedger(t *testing.T) {
	h := newHarness(t, westHalf{})
	h.start(t)
	h.waitReady(t)

	info := h.m.Info()
	assert.Equal(t, "ready", info.State)
	assert.Equal(t, 40, info.Cols)
	assert.Equal(t, 30, info.Rows)
	assert.Equal(t, 20*30, info.Active)
	assert.Nil(t, info.Error)

	frame, version := h.m.Frame()
	assert.Equal(t, unsold, frame.RGBAAt(3, 3))
	assert.Equal(t, color.RGBA{}, frame.RGBAAt(30, 3))

	_, err := h.ledger.Claim(context.Background(), grid.SoldPixel{X: 3, Y: 3, Color: "#ff0000", OwnerID: "a"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		f, v := h.m.Frame()
		return v > version && f.RGBAAt(3, 3) == color.RGBA{0xff, 0, 0, 0xff}
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.m.Info().Sold)
}

func TestMapViewport(t *testing.T) {
	h := newHarness(t, westHalf{})
	h.start(t)
	h.waitReady(t)

	img := h.m.Viewport(view.State{Zoom: 10}, 100, 100, &mapdata.Cell{Col: 9, Row: 9})
	assert.Equal(t, image.Rect(0, 0, 100, 100), img.Bounds())
	assert.Equal(t, unsold, img.RGBAAt(5, 5))
}

func TestViewerClickSelectsAndReportsNotices(t *testing.T) {
	h := newHarness(t, westHalf{})
	h.start(t)
	h.waitReady(t)
	v, _ := h.viewer(t)
	ctx := context.Background()

	fit, ok := v.Controller().Fit()
	require.True(t, ok)
	assert.InDelta(t, 9.5, fit.Zoom, 1e-9)

	land := v.Controller().LogicalToScreen(mapdata.Cell{Col: 5, Row: 5})
	v.PointerDown(land)
	r, err := v.PointerUp(ctx, land)
	require.NoError(t, err)
	assert.Equal(t, "click", r.Outcome)
	require.NotNil(t, r.Selected)
	assert.Equal(t, mapdata.Cell{Col: 5, Row: 5}, r.Selected.Cell())
	assert.Equal(t, market.StatusAvailable, r.Selected.Status)
	assert.Equal(t, "Porto", r.Selected.District)
	assert.Equal(t, &mapdata.Cell{Col: 5, Row: 5}, v.Highlight())

	sea := v.Controller().LogicalToScreen(mapdata.Cell{Col: 30, Row: 5})
	v.PointerDown(sea)
	r, err = v.PointerUp(ctx, sea)
	require.NoError(t, err)
	assert.Equal(t, market.NoticeOutsideArea, r.Notice)
	assert.NotEmpty(t, r.Message)

	v.PointerDown(view.Point{X: 1, Y: 1})
	r, err = v.PointerUp(ctx, view.Point{X: 1, Y: 1})
	require.NoError(t, err)
	assert.Equal(t, market.NoticeOutOfBounds, r.Notice)

	_, err = v.Close()
	require.NoError(t, err)
	_, open := v.Selection()
	assert.False(t, open)
}

func TestViewerDragDoesNotClick(t *testing.T) {
	h := newHarness(t, westHalf{})
	h.start(t)
	h.waitReady(t)
	v, _ := h.viewer(t)
	before := v.State()

	v.PointerDown(view.Point{X: 100, Y: 100})
	_, moved := v.PointerMove(view.Point{X: 103, Y: 100})
	assert.False(t, moved, "inside the threshold")
	r, moved := v.PointerMove(view.Point{X: 130, Y: 90})
	require.True(t, moved)
	assert.InDelta(t, before.Offset.X+30, r.View.Offset.X, 1e-9)
	assert.InDelta(t, before.Offset.Y-10, r.View.Offset.Y, 1e-9)

	r, err := v.PointerUp(context.Background(), view.Point{X: 100, Y: 100})
	require.NoError(t, err)
	assert.Equal(t, "drag-end", r.Outcome)
	assert.Nil(t, r.Selected)
}

func TestViewerAutoReset(t *testing.T) {
	h := newHarness(t, westHalf{})
	h.start(t)
	h.waitReady(t)
	v, now := h.viewer(t)
	fit := v.State()

	v.Wheel(view.Point{X: 200, Y: 150}, -1)
	assert.InDelta(t, fit.Zoom*1.1, v.State().Zoom, 1e-9)

	*now = now.Add(10 * time.Second)
	_, changed := v.Tick()
	assert.False(t, changed)

	*now = now.Add(6 * time.Second)
	r, changed := v.Tick()
	require.True(t, changed)
	assert.Equal(t, "auto-reset", r.Outcome)
	assert.Equal(t, fit, v.State())

	// An open selection keeps the view.
	land := v.Controller().LogicalToScreen(mapdata.Cell{Col: 2, Row: 2})
	v.PointerDown(land)
	_, err := v.PointerUp(context.Background(), land)
	require.NoError(t, err)
	v.ZoomIn()
	*now = now.Add(time.Minute)
	_, changed = v.Tick()
	assert.False(t, changed)
}

func TestViewerPurchase(t *testing.T) {
	h := newHarness(t, westHalf{})
	h.start(t)
	h.waitReady(t)
	v, _ := h.viewer(t)
	ctx := context.Background()

	_, err := v.Purchase(ctx, market.PurchaseRequest{BuyerID: "alice", Color: "#00ff00"})
	assert.ErrorIs(t, err, market.ErrNothingSelected)

	p := v.Controller().LogicalToScreen(mapdata.Cell{Col: 10, Row: 20})
	v.PointerDown(p)
	_, err = v.PointerUp(ctx, p)
	require.NoError(t, err)

	r, err := v.Purchase(ctx, market.PurchaseRequest{BuyerID: "alice", Color: "#00ff00"})
	require.NoError(t, err)
	require.NotNil(t, r.Selected)
	assert.Equal(t, market.StatusOwned, r.Selected.Status)
	assert.True(t, r.Selected.Price.IsZero())

	pixels, err := h.ledger.List(ctx)
	require.NoError(t, err)
	require.Len(t, pixels, 1)
	assert.Equal(t, 10, pixels[0].X)
	assert.Equal(t, 20, pixels[0].Y)

	require.Eventually(t, func() bool {
		f, _ := h.m.Frame()
		return f.RGBAAt(10, 20) == color.RGBA{0, 0xff, 0, 0xff}
	}, 2*time.Second, 5*time.Millisecond)
}

func TestViewerWhileLoading(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, westHalf{gate: gate})
	h.start(t)
	v := NewViewer(h.m, h.hits, h.svc, ViewerOptions{})
	v.Resize(view.Size{W: 400, H: 300})
	ctx := context.Background()

	_, ok := v.Controller().Fit()
	assert.False(t, ok, "no fit before the content size is known")

	v.PointerDown(view.Point{X: 50, Y: 50})
	r, err := v.PointerUp(ctx, view.Point{X: 50, Y: 50})
	require.NoError(t, err)
	assert.Equal(t, market.NoticeLoading, r.Notice)
	assert.Equal(t, "loading", h.m.Info().State)

	close(gate)
	h.waitReady(t)
	v.Reset()
	_, ok = v.Controller().Fit()
	assert.True(t, ok)
}

func TestViewerReceivesFitOnceLoaded(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, westHalf{gate: gate})
	h.start(t)
	v := NewViewer(h.m, h.hits, h.svc, ViewerOptions{})
	v.Resize(view.Size{W: 400, H: 300})
	v.ZoomIn()
	before := v.State()

	_, changed := v.Tick()
	assert.False(t, changed)

	close(gate)
	h.waitReady(t)

	r, changed := v.Tick()
	require.True(t, changed)
	assert.Equal(t, "fit", r.Outcome)
	assert.NotEqual(t, before, r.View)
	assert.InDelta(t, 9.5, r.View.Zoom, 1e-9)
	assert.Equal(t, r.View, v.State())

	_, changed = v.Tick()
	assert.False(t, changed)
}

func TestViewerClickAfterLoadReportsFitFirst(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, westHalf{gate: gate})
	h.start(t)
	v := NewViewer(h.m, h.hits, h.svc, ViewerOptions{})
	v.Resize(view.Size{W: 400, H: 300})
	close(gate)
	h.waitReady(t)
	ctx := context.Background()

	p := view.Point{X: 200, Y: 150}
	v.PointerDown(p)
	r, err := v.PointerUp(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "fit", r.Outcome)
	assert.Nil(t, r.Selected)

	p = v.Controller().LogicalToScreen(mapdata.Cell{Col: 5, Row: 5})
	v.PointerDown(p)
	r, err = v.PointerUp(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "click", r.Outcome)
	require.NotNil(t, r.Selected)
	assert.Equal(t, mapdata.Cell{Col: 5, Row: 5}, r.Selected.Cell())
}
