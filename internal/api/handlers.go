package api

import (
	"encoding/json"
	"errors"
	"image/png"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/ManadaHerath/pixelmap-server/internal/engine"
	"github.com/ManadaHerath/pixelmap-server/internal/grid"
	"github.com/ManadaHerath/pixelmap-server/internal/log"
	"github.com/ManadaHerath/pixelmap-server/internal/mapdata"
	"github.com/ManadaHerath/pixelmap-server/internal/market"
	"github.com/ManadaHerath/pixelmap-server/internal/view"
	"github.com/ManadaHerath/pixelmap-server/internal/wallet"
)

const maxViewportSide = 4096

// API holds dependencies for HTTP handlers.
type API struct {
	Map    *engine.Map
	Hits   *market.HitTester
	Market *market.Service
	Ledger grid.Store
	Wallet wallet.Service
	Viewer engine.ViewerOptions
}

// NewAPI creates an API over the shared map and services.
func NewAPI(m *engine.Map, hits *market.HitTester, svc *market.Service, ledger grid.Store, w wallet.Service, viewer engine.ViewerOptions) *API {
	return &API{
		Map:    m,
		Hits:   hits,
		Market: svc,
		Ledger: ledger,
		Wallet: w,
		Viewer: viewer,
	}
}

// ===== Helper functions =====

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, grid.ErrPixelNotFound):
		return http.StatusNotFound
	case errors.Is(err, grid.ErrPixelTaken),
		errors.Is(err, grid.ErrConflict),
		errors.Is(err, market.ErrPurchaseInProgress),
		errors.Is(err, engine.ErrViewerBusy):
		return http.StatusConflict
	case errors.Is(err, wallet.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, market.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, market.ErrMapLoading):
		return http.StatusServiceUnavailable
	case errors.Is(err, grid.ErrOutOfBounds),
		errors.Is(err, grid.ErrBadColor),
		errors.Is(err, market.ErrNotPurchasable),
		errors.Is(err, market.ErrNoBuyer),
		errors.Is(err, market.ErrNothingSelected),
		errors.Is(err, wallet.ErrInvalidAmount),
		errors.Is(err, wallet.ErrNoUser):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.WithField("path", r.URL.Path).Errorf("api: %v", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func coords(r *http.Request) (int, int, error) {
	x, err := strconv.Atoi(chi.URLParam(r, "x"))
	if err != nil {
		return 0, 0, errors.New("invalid x coordinate")
	}
	y, err := strconv.Atoi(chi.URLParam(r, "y"))
	if err != nil {
		return 0, 0, errors.New("invalid y coordinate")
	}
	return x, y, nil
}

func queryFloat(r *http.Request, key string, def float64) (float64, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New(key + " is not finite")
	}
	return v, nil
}

// ===== Request/response DTOs =====

type PurchaseBody struct {
	BuyerID  string `json:"buyerId"`
	Color    string `json:"color"`
	Title    string `json:"title,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
}

type CustomizeBody struct {
	OwnerID  string `json:"ownerId"`
	Color    string `json:"color"`
	Title    string `json:"title,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
}

type NoticeResponse struct {
	Notice  market.Notice `json:"notice"`
	Message string        `json:"message"`
}

type WalletResponse struct {
	UserID  string          `json:"userId"`
	Balance decimal.Decimal `json:"balance"`
}

// ===== Handlers =====

// GET /api/map
func (api *API) HandleMap(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.Map.Info())
}

// GET /api/map/frame.png
func (api *API) HandleFrame(w http.ResponseWriter, r *http.Request) {
	frame, version := api.Map.Frame()
	if frame == nil {
		writeError(w, http.StatusServiceUnavailable, "map not ready")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("ETag", strconv.Quote(strconv.FormatUint(version, 10)))
	if err := png.Encode(w, frame); err != nil {
		log.Warnf("api: encode frame: %v", err)
	}
}

// GET /api/map/view.png?zoom=&x=&y=&w=&h=&col=&row=
func (api *API) HandleViewport(w http.ResponseWriter, r *http.Request) {
	var (
		s      view.State
		vw, vh float64
		err    error
	)
	if s.Zoom, err = queryFloat(r, "zoom", 1); err != nil || s.Zoom <= 0 {
		writeError(w, http.StatusBadRequest, "invalid zoom")
		return
	}
	if s.Offset.X, err = queryFloat(r, "x", 0); err != nil {
		writeError(w, http.StatusBadRequest, "invalid x")
		return
	}
	if s.Offset.Y, err = queryFloat(r, "y", 0); err != nil {
		writeError(w, http.StatusBadRequest, "invalid y")
		return
	}
	vw, err = queryFloat(r, "w", api.Viewer.Viewport.W)
	if err != nil || vw <= 0 || vw > maxViewportSide {
		writeError(w, http.StatusBadRequest, "invalid w")
		return
	}
	vh, err = queryFloat(r, "h", api.Viewer.Viewport.H)
	if err != nil || vh <= 0 || vh > maxViewportSide {
		writeError(w, http.StatusBadRequest, "invalid h")
		return
	}

	// Same zoom bounds as an interactive viewer.
	ctrl := view.NewController(api.Viewer.View)
	ctrl.SetState(s)
	s = ctrl.State()

	var highlight *mapdata.Cell
	if q := r.URL.Query(); q.Get("col") != "" && q.Get("row") != "" {
		col, err1 := strconv.Atoi(q.Get("col"))
		row, err2 := strconv.Atoi(q.Get("row"))
		if err1 != nil || err2 != nil {
			writeError(w, http.StatusBadRequest, "invalid highlight cell")
			return
		}
		highlight = &mapdata.Cell{Col: col, Row: row}
	}

	img := api.Map.Viewport(s, int(vw), int(vh), highlight)
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, img); err != nil {
		log.Warnf("api: encode viewport: %v", err)
	}
}

// GET /api/pixels
func (api *API) HandleListPixels(w http.ResponseWriter, r *http.Request) {
	pixels, err := api.Ledger.List(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pixels)
}

// GET /api/pixels/{x}/{y}
func (api *API) HandleGetPixel(w http.ResponseWriter, r *http.Request) {
	x, y, err := coords(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	d, notice, err := api.Hits.At(r.Context(), mapdata.Cell{Col: x, Row: y})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	switch notice {
	case market.NoticeNone:
		writeJSON(w, http.StatusOK, d)
	case market.NoticeLoading:
		writeJSON(w, http.StatusServiceUnavailable, NoticeResponse{Notice: notice, Message: notice.Message()})
	default:
		writeJSON(w, http.StatusNotFound, NoticeResponse{Notice: notice, Message: notice.Message()})
	}
}

// POST /api/pixels/{x}/{y}/purchase
func (api *API) HandlePurchase(w http.ResponseWriter, r *http.Request) {
	x, y, err := coords(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var body PurchaseBody
	if err := parseJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	d, err := api.Market.Purchase(r.Context(), market.PurchaseRequest{
		Col:      x,
		Row:      y,
		BuyerID:  body.BuyerID,
		Color:    body.Color,
		Title:    body.Title,
		ImageURL: body.ImageURL,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	api.Map.MarkDirty()
	writeJSON(w, http.StatusCreated, d)
}

// PUT /api/pixels/{x}/{y}
func (api *API) HandleCustomize(w http.ResponseWriter, r *http.Request) {
	x, y, err := coords(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var body CustomizeBody
	if err := parseJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	d, err := api.Market.Customize(r.Context(), market.CustomizeRequest{
		Col:      x,
		Row:      y,
		OwnerID:  body.OwnerID,
		Color:    body.Color,
		Title:    body.Title,
		ImageURL: body.ImageURL,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	api.Map.MarkDirty()
	writeJSON(w, http.StatusOK, d)
}

// GET /api/wallet/{user}
func (api *API) HandleWallet(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	balance, err := api.Wallet.Balance(r.Context(), user)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WalletResponse{UserID: user, Balance: balance})
}

// Routes builds the router for /api.
func (api *API) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Get("/map", api.HandleMap)
		r.Get("/map/frame.png", api.HandleFrame)
		r.Get("/map/view.png", api.HandleViewport)

		r.Get("/pixels", api.HandleListPixels)
		r.Get("/pixels/{x}/{y}", api.HandleGetPixel)
		r.Put("/pixels/{x}/{y}", api.HandleCustomize)
		r.Post("/pixels/{x}/{y}/purchase", api.HandlePurchase)

		r.Get("/wallet/{user}", api.HandleWallet)

		r.Get("/ws", api.HandleViewerWS)
	})
	return r
}
