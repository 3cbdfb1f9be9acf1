package market

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/ManadaHerath/pixelmap-server/internal/grid"
	"github.com/ManadaHerath/pixelmap-server/internal/log"
	"github.com/ManadaHerath/pixelmap-server/internal/mapdata"
	"github.com/ManadaHerath/pixelmap-server/internal/raster"
	"github.com/ManadaHerath/pixelmap-server/internal/wallet"
)

var (
	ErrMapLoading     = errors.New("map is still loading")
	ErrNotPurchasable = errors.New("cell is outside the interactive area")
	ErrNotOwner       = grid.ErrNotOwner
	ErrNoBuyer        = errors.New("buyer id required")
)

type PurchaseRequest struct {
	Col      int    `json:"col"`
	Row      int    `json:"row"`
	BuyerID  string `json:"buyerId"`
	Color    string `json:"color"`
	Title    string `json:"title,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
}

type CustomizeRequest struct {
	Col      int    `json:"col"`
	Row      int    `json:"row"`
	OwnerID  string `json:"ownerId"`
	Color    string `json:"color"`
	Title    string `json:"title,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// Purchaser buys a cell and returns its owned details.
type Purchaser interface {
	Purchase(ctx context.Context, req PurchaseRequest) (*Details, error)
}

// Service validates and executes purchases against the ledger and wallet.
type Service struct {
	occupancy raster.Provider
	ledger    grid.Store
	wallet    wallet.Service
	pricer    *Pricer
	hits      *HitTester
}

func NewService(occupancy raster.Provider, ledger grid.Store, w wallet.Service, pricer *Pricer, hits *HitTester) *Service {
	return &Service{
		occupancy: occupancy,
		ledger:    ledger,
		wallet:    w,
		pricer:    pricer,
		hits:      hits,
	}
}

// checkCell rejects cells that cannot hold a sold pixel.
func (s *Service) checkCell(c mapdata.Cell) error {
	switch s.occupancy.State() {
	case raster.StateLoading:
		return ErrMapLoading
	case raster.StateUnavailable:
		return ErrNotPurchasable
	}
	cols, rows := s.occupancy.Dims()
	if c.Col < 0 || c.Col >= cols || c.Row < 0 || c.Row >= rows {
		return grid.ErrOutOfBounds
	}
	if !s.occupancy.Occupied(c.Col, c.Row) {
		return ErrNotPurchasable
	}
	return nil
}

// Purchase debits the buyer and claims the pixel. If the claim fails the
// debit is refunded, so a failed purchase leaves no trace.
func (s *Service) Purchase(ctx context.Context, req PurchaseRequest) (*Details, error) {
	if req.BuyerID == "" {
		return nil, ErrNoBuyer
	}
	if _, err := grid.ParseColor(req.Color); err != nil {
		return nil, err
	}
	cell := mapdata.Cell{Col: req.Col, Row: req.Row}
	if err := s.checkCell(cell); err != nil {
		return nil, err
	}

	_, err := s.ledger.Get(ctx, cell.Col, cell.Row)
	if err == nil {
		return nil, grid.ErrPixelTaken
	}
	if !errors.Is(err, grid.ErrPixelNotFound) {
		return nil, err
	}

	_, price := s.pricer.Price(cell)
	if _, err := s.wallet.Debit(ctx, req.BuyerID, price); err != nil {
		return nil, err
	}

	ev, err := s.ledger.Claim(ctx, grid.SoldPixel{
		X:         cell.Col,
		Y:         cell.Row,
		Color:     req.Color,
		OwnerID:   req.BuyerID,
		Title:     req.Title,
		ImageURL:  req.ImageURL,
		PricePaid: price,
	})
	if err != nil {
		s.refund(ctx, req.BuyerID, price, cell)
		return nil, err
	}

	log.WithField("buyer", req.BuyerID).
		WithField("price", price.StringFixed(2)).
		Infof("market: sold %s", cell)
	return s.hits.owned(ev.Pixel, []grid.Event{ev}), nil
}

func (s *Service) refund(ctx context.Context, buyer string, amount decimal.Decimal, cell mapdata.Cell) {
	// The caller may have given up; the refund must still land.
	ctx = context.WithoutCancel(ctx)
	if _, err := s.wallet.Credit(ctx, buyer, amount); err != nil {
		log.WithField("buyer", buyer).
			WithField("amount", amount.StringFixed(2)).
			Errorf("market: refund for %s failed: %v", cell, err)
	}
}

// Customize updates colour, title and image of a pixel the caller owns.
func (s *Service) Customize(ctx context.Context, req CustomizeRequest) (*Details, error) {
	if _, err := grid.ParseColor(req.Color); err != nil {
		return nil, err
	}
	ev, err := s.ledger.Update(ctx, grid.SoldPixel{
		X:        req.Col,
		Y:        req.Row,
		OwnerID:  req.OwnerID,
		Color:    req.Color,
		Title:    req.Title,
		ImageURL: req.ImageURL,
	})
	if err != nil {
		return nil, err
	}

	history, err := s.ledger.History(ctx, req.Col, req.Row)
	if err != nil {
		return nil, err
	}
	return s.hits.owned(ev.Pixel, history), nil
}
