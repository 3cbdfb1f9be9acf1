package market

import (
	"context"
	"errors"
	"sync"

	"github.com/ManadaHerath/pixelmap-server/internal/grid"
)

var (
	ErrNothingSelected    = errors.New("no pixel selected")
	ErrPurchaseInProgress = errors.New("a purchase is already in progress")
)

type SelectionState int

const (
	SelectionIdle SelectionState = iota
	SelectionSelected
)

func (s SelectionState) String() string {
	if s == SelectionSelected {
		return "selected"
	}
	return "idle"
}

// Selection is the lifecycle of one viewer's detail view:
// Idle -> Selected -> (purchase) -> Selected with owned details, or
// Selected -> Close -> Idle. A failed purchase leaves the details untouched.
type Selection struct {
	mu      sync.Mutex
	state   SelectionState
	details *Details
	buying  bool
}

func (s *Selection) State() SelectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open shows d, replacing any current selection.
func (s *Selection) Open(d *Details) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = SelectionSelected
	s.details = d
}

// Close dismisses the detail view. It is refused while buying.
func (s *Selection) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buying {
		return ErrPurchaseInProgress
	}
	s.state = SelectionIdle
	s.details = nil
	return nil
}

// Current returns the open details.
func (s *Selection) Current() (*Details, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.details, s.state == SelectionSelected
}

// Buying reports whether a purchase is in flight.
func (s *Selection) Buying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buying
}

// Purchase buys the selected cell through p. Only one purchase may run at a
// time; on success the open view becomes the owned details.
func (s *Selection) Purchase(ctx context.Context, p Purchaser, req PurchaseRequest) (*Details, error) {
	s.mu.Lock()
	if s.state != SelectionSelected || s.details == nil {
		s.mu.Unlock()
		return nil, ErrNothingSelected
	}
	if s.buying {
		s.mu.Unlock()
		return nil, ErrPurchaseInProgress
	}
	if s.details.Status == StatusOwned {
		s.mu.Unlock()
		return nil, grid.ErrPixelTaken
	}
	req.Col, req.Row = s.details.Col, s.details.Row
	s.buying = true
	s.mu.Unlock()

	d, err := p.Purchase(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.buying = false
	if err != nil {
		return nil, err
	}
	s.details = d
	return d, nil
}
