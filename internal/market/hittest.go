package market

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ManadaHerath/pixelmap-server/internal/grid"
	"github.com/ManadaHerath/pixelmap-server/internal/mapdata"
	"github.com/ManadaHerath/pixelmap-server/internal/raster"
	"github.com/ManadaHerath/pixelmap-server/internal/view"
)

// Notice explains why a click produced no selection. None of these are
// errors.
type Notice string

const (
	NoticeNone        Notice = ""
	NoticeLoading     Notice = "map-loading"
	NoticeOutOfBounds Notice = "outside-map-bounds"
	NoticeOutsideArea Notice = "outside-interactive-area"
)

func (n Notice) Message() string {
	switch n {
	case NoticeLoading:
		return "The map is still loading, try again in a moment."
	case NoticeOutOfBounds:
		return "That point is outside the map bounds."
	case NoticeOutsideArea:
		return "That point is outside the interactive area."
	default:
		return ""
	}
}

type Status string

const (
	StatusAvailable Status = "available"
	StatusOwned     Status = "owned"
)

// Details describes a selected cell.
type Details struct {
	Col         int             `json:"col"`
	Row         int             `json:"row"`
	Status      Status          `json:"status"`
	Rarity      Rarity          `json:"rarity"`
	Price       decimal.Decimal `json:"price"`
	Location    GPS             `json:"location"`
	District    string          `json:"district,omitempty"`
	OwnerID     string          `json:"ownerId,omitempty"`
	Title       string          `json:"title,omitempty"`
	Color       string          `json:"color,omitempty"`
	ImageURL    string          `json:"imageUrl,omitempty"`
	PurchasedAt *time.Time      `json:"purchasedAt,omitempty"`
	History     []grid.Event    `json:"history,omitempty"`
}

func (d *Details) Cell() mapdata.Cell { return mapdata.Cell{Col: d.Col, Row: d.Row} }

// PixelLookup is read access to the ledger.
type PixelLookup interface {
	Get(ctx context.Context, x, y int) (*grid.SoldPixel, error)
	History(ctx context.Context, x, y int) ([]grid.Event, error)
}

// Districts names the district of a cell. *mapdata.MapData implements it.
type Districts interface {
	District(c mapdata.Cell) (string, bool)
}

type HitTester struct {
	occupancy raster.Provider
	pixels    PixelLookup
	pricer    *Pricer
	bounds    Bounds
	districts Districts
}

func NewHitTester(occupancy raster.Provider, pixels PixelLookup, pricer *Pricer, bounds Bounds, districts Districts) *HitTester {
	return &HitTester{
		occupancy: occupancy,
		pixels:    pixels,
		pricer:    pricer,
		bounds:    bounds,
		districts: districts,
	}
}

// Select maps a screen point through the view to a cell and looks it up.
func (h *HitTester) Select(ctx context.Context, p view.Point, s view.State, cellSize float64) (*Details, Notice, error) {
	return h.At(ctx, view.ScreenToLogical(s, cellSize, p))
}

// At looks up a logical cell. It returns details for an occupied cell, or a
// notice when there is nothing to select.
func (h *HitTester) At(ctx context.Context, c mapdata.Cell) (*Details, Notice, error) {
	switch h.occupancy.State() {
	case raster.StateLoading:
		return nil, NoticeLoading, nil
	case raster.StateUnavailable:
		return nil, NoticeOutsideArea, nil
	}

	cols, rows := h.occupancy.Dims()
	if c.Col < 0 || c.Col >= cols || c.Row < 0 || c.Row >= rows {
		return nil, NoticeOutOfBounds, nil
	}
	if !h.occupancy.Occupied(c.Col, c.Row) {
		return nil, NoticeOutsideArea, nil
	}

	p, err := h.pixels.Get(ctx, c.Col, c.Row)
	if errors.Is(err, grid.ErrPixelNotFound) {
		return h.available(c), NoticeNone, nil
	}
	if err != nil {
		return nil, NoticeNone, err
	}

	history, err := h.pixels.History(ctx, c.Col, c.Row)
	if err != nil {
		return nil, NoticeNone, err
	}
	return h.owned(*p, history), NoticeNone, nil
}

func (h *HitTester) base(c mapdata.Cell) *Details {
	cols, rows := h.occupancy.Dims()
	d := &Details{
		Col:      c.Col,
		Row:      c.Row,
		Rarity:   h.pricer.Rarity(c),
		Location: h.bounds.Locate(c, cols, rows),
	}
	if h.districts != nil {
		d.District, _ = h.districts.District(c)
	}
	return d
}

func (h *HitTester) available(c mapdata.Cell) *Details {
	d := h.base(c)
	d.Status = StatusAvailable
	_, d.Price = h.pricer.Price(c)
	return d
}

// owned describes a sold cell; owned cells are not for sale, so Price is 0.
func (h *HitTester) owned(p grid.SoldPixel, history []grid.Event) *Details {
	d := h.base(mapdata.Cell{Col: p.X, Row: p.Y})
	d.Status = StatusOwned
	d.Price = decimal.Zero
	d.OwnerID = p.OwnerID
	d.Title = p.Title
	d.Color = p.Color
	d.ImageURL = p.ImageURL
	if !p.PurchasedAt.IsZero() {
		at := p.PurchasedAt
		d.PurchasedAt = &at
	}
	d.History = history
	return d
}
