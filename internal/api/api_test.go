package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManadaHerath/pixelmap-server/internal/compositor"
	"github.com/ManadaHerath/pixelmap-server/internal/engine"
	"github.com/ManadaHerath/pixelmap-server/internal/grid"
	"github.com/ManadaHerath/pixelmap-server/internal/mapdata"
	"github.com/ManadaHerath/pixelmap-server/internal/market"
	"github.com/ManadaHerath/pixelmap-server/internal/raster"
	"github.com/ManadaHerath/pixelmap-server/internal/view"
	"github.com/ManadaHerath/pixelmap-server/internal/wallet"
)

type westHalf struct{}

func (westHalf) Rasterize(ctx context.Context, src *mapdata.MapData, w, h int) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w/2; x++ {
			img.SetRGBA(x, y, color.RGBA{A: 0xff})
		}
	}
	return img, nil
}

type testServer struct {
	*httptest.Server
	ledger *grid.MemStore
	wallet *wallet.MemWallet
}

// newTestServer serves a 40x30 map whose west half is land, with every new
// user starting at 100 credits.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	md := &mapdata.MapData{ViewBox: mapdata.ViewBox{W: 40, H: 30}}
	loader := raster.NewLoader(westHalf{}, 40, 1)
	comp := compositor.New(compositor.Options{CellSize: 1, Unsold: color.RGBA{0xd9, 0xd9, 0xd9, 0xff}}, nil)
	ledger := grid.NewMemStore()
	w := wallet.NewMemWallet(decimal.NewFromInt(100))

	m := engine.NewMap(md, loader, comp, ledger, 5*time.Millisecond)
	pricer := market.NewPricer(1, nil)
	hits := market.NewHitTester(loader, ledger, pricer, market.Portugal, md)
	svc := market.NewService(loader, ledger, w, pricer, hits)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, m.Start(ctx))
	<-m.Ready()
	require.Eventually(t, func() bool {
		f, _ := m.Frame()
		return f != nil
	}, 2*time.Second, 5*time.Millisecond)

	a := NewAPI(m, hits, svc, ledger, w, engine.ViewerOptions{Viewport: view.Size{W: 400, H: 300}})
	srv := httptest.NewServer(a.Routes())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, ledger: ledger, wallet: w}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func TestMapInfo(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodGet, "/api/map", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info engine.Info
	decode(t, resp, &info)
	assert.Equal(t, "ready", info.State)
	assert.Equal(t, 40, info.Cols)
	assert.Equal(t, 30, info.Rows)
	assert.Equal(t, 600, info.Active)
}

func TestGetPixel(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/api/pixels/5/5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var d market.Details
	decode(t, resp, &d)
	assert.Equal(t, market.StatusAvailable, d.Status)
	assert.True(t, d.Price.IsPositive())

	resp = s.do(t, http.MethodGet, "/api/pixels/30/5", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	var n NoticeResponse
	decode(t, resp, &n)
	assert.Equal(t, market.NoticeOutsideArea, n.Notice)

	resp = s.do(t, http.MethodGet, "/api/pixels/99/5", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	decode(t, resp, &n)
	assert.Equal(t, market.NoticeOutOfBounds, n.Notice)

	resp = s.do(t, http.MethodGet, "/api/pixels/a/5", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPurchaseAndCustomize(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/pixels/10/20/purchase", PurchaseBody{BuyerID: "alice", Color: "#00ff00"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var d market.Details
	decode(t, resp, &d)
	assert.Equal(t, market.StatusOwned, d.Status)
	assert.True(t, d.Price.IsZero())

	resp = s.do(t, http.MethodPost, "/api/pixels/10/20/purchase", PurchaseBody{BuyerID: "bob", Color: "#000"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/pixels/30/20/purchase", PurchaseBody{BuyerID: "bob", Color: "#000"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodPut, "/api/pixels/10/20", CustomizeBody{OwnerID: "bob", Color: "#111"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = s.do(t, http.MethodPut, "/api/pixels/10/20", CustomizeBody{OwnerID: "alice", Color: "#123456", Title: "home"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &d)
	assert.Equal(t, "home", d.Title)

	resp = s.do(t, http.MethodGet, "/api/pixels", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pixels []grid.SoldPixel
	decode(t, resp, &pixels)
	require.Len(t, pixels, 1)
	assert.Equal(t, "#123456", pixels[0].Color)

	resp = s.do(t, http.MethodGet, "/api/wallet/alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var wr WalletResponse
	decode(t, resp, &wr)
	assert.True(t, wr.Balance.LessThan(decimal.NewFromInt(100)))
}

func TestPurchaseInsufficientFunds(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	_, err := s.wallet.Debit(ctx, "carol", decimal.NewFromInt(100))
	require.NoError(t, err)

	resp := s.do(t, http.MethodPost, "/api/pixels/1/1/purchase", PurchaseBody{BuyerID: "carol", Color: "#fff"})
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	pixels, _ := s.ledger.List(ctx)
	assert.Empty(t, pixels)
}

func TestImages(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/api/map/frame.png", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 30), img.Bounds())

	resp = s.do(t, http.MethodGet, "/api/map/view.png?zoom=2&x=5&y=5&w=120&h=90&col=3&row=4", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	img, err = png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 120, 90), img.Bounds())

	for _, q := range []string{"zoom=-1", "zoom=NaN", "zoom=%2BInf", "x=Inf", "h=NaN"} {
		resp = s.do(t, http.MethodGet, "/api/map/view.png?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestViewportZoomIsClamped(t *testing.T) {
	s := newTestServer(t)

	// 1e6 renders exactly like the default 50x ceiling, where the coast
	// between columns 19 and 20 is in view.
	resp := s.do(t, http.MethodGet, "/api/map/view.png?zoom=1e6&x=-950&w=120&h=90", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	clamped, err := png.Decode(resp.Body)
	require.NoError(t, err)

	resp = s.do(t, http.MethodGet, "/api/map/view.png?zoom=50&x=-950&w=120&h=90", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ceiling, err := png.Decode(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, ceiling, clamped)
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) ServerMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg ServerMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == typ {
			return msg
		}
	}
}

func TestViewerSession(t *testing.T) {
	s := newTestServer(t)
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	hello := readUntil(t, conn, "hello")
	require.NotNil(t, hello.Map)
	assert.Equal(t, "ready", hello.Map.State)
	require.NotNil(t, hello.Result)
	// 40x30 in 400x300 with a 0.95 margin.
	assert.InDelta(t, 9.5, hello.Result.View.Zoom, 1e-9)

	// Centre of cell (5,5).
	p := view.Point{X: 10 + 5.5*9.5, Y: 7.5 + 5.5*9.5}
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "pointerdown", X: p.X, Y: p.Y}))
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "pointerup", X: p.X, Y: p.Y}))
	msg := readUntil(t, conn, "view")
	require.NotNil(t, msg.Result.Selected)
	assert.Equal(t, 5, msg.Result.Selected.Col)
	assert.Equal(t, 5, msg.Result.Selected.Row)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "purchase", BuyerID: "alice", Color: "#ff0000"}))
	msg = readUntil(t, conn, "view")
	require.NotNil(t, msg.Result.Selected)
	assert.Equal(t, market.StatusOwned, msg.Result.Selected.Status)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "purchase", BuyerID: "alice", Color: "#ff0000"}))
	msg = readUntil(t, conn, "error")
	assert.Equal(t, grid.ErrPixelTaken.Error(), msg.Error)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "bogus"}))
	msg = readUntil(t, conn, "error")
	assert.Contains(t, msg.Error, "bogus")
}

func TestViewerSessionForwardsLedgerEvents(t *testing.T) {
	s := newTestServer(t)
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	readUntil(t, conn, "hello")

	resp := s.do(t, http.MethodPost, "/api/pixels/2/3/purchase", PurchaseBody{BuyerID: "dave", Color: "#abcdef"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	msg := readUntil(t, conn, "ledger")
	require.NotNil(t, msg.Event)
	assert.Equal(t, grid.EventClaimed, msg.Event.Type)
	assert.Equal(t, 2, msg.Event.Pixel.X)
	assert.Equal(t, 3, msg.Event.Pixel.Y)
}
