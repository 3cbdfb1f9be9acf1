package grid

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrPixelNotFound = errors.New("pixel not found")
	ErrPixelTaken    = errors.New("pixel already sold")
	ErrOutOfBounds   = errors.New("coord out of bounds")
	ErrNotOwner      = errors.New("pixel belongs to another user")
	ErrConflict      = errors.New("pixel changed concurrently")
)

// Store is the pixel ledger. Claim inserts only when the cell is unsold;
// Put upserts; Update edits a sold pixel only while p.OwnerID still owns it.
type Store interface {
	Get(ctx context.Context, x, y int) (*SoldPixel, error)
	List(ctx context.Context) ([]SoldPixel, error)
	Claim(ctx context.Context, p SoldPixel) (Event, error)
	Put(ctx context.Context, p SoldPixel) (Event, error)
	Update(ctx context.Context, p SoldPixel) (Event, error)
	Release(ctx context.Context, x, y int) error
	History(ctx context.Context, x, y int) ([]Event, error)
	// Subscribe streams events until ctx is done.
	Subscribe(ctx context.Context) (<-chan Event, error)
}

func checkCoord(x, y int) error {
	if x < 0 || y < 0 {
		return ErrOutOfBounds
	}
	return nil
}

// customize copies the owner-editable fields of p onto cur.
func customize(cur, p SoldPixel) SoldPixel {
	cur.Color = p.Color
	cur.Title = p.Title
	cur.ImageURL = p.ImageURL
	cur.UpdatedAt = time.Now().UTC()
	return cur
}

type MemStore struct {
	mu      sync.RWMutex
	pixels  map[string]SoldPixel
	history map[string][]Event
	subs    map[chan Event]struct{}
}

func NewMemStore() *MemStore {
	return &MemStore{
		pixels:  make(map[string]SoldPixel),
		history: make(map[string][]Event),
		subs:    make(map[chan Event]struct{}),
	}
}

func (s *MemStore) Get(ctx context.Context, x, y int) (*SoldPixel, error) {
	if err := checkCoord(x, y); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pixels[CoordKey(x, y)]
	if !ok {
		return nil, ErrPixelNotFound
	}
	return &p, nil
}

func (s *MemStore) List(ctx context.Context) ([]SoldPixel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pixels := make([]SoldPixel, 0, len(s.pixels))
	for _, p := range s.pixels {
		pixels = append(pixels, p)
	}
	sortPixels(pixels)
	return pixels, nil
}

func (s *MemStore) Claim(ctx context.Context, p SoldPixel) (Event, error) {
	if err := checkCoord(p.X, p.Y); err != nil {
		return Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := p.Key()
	if _, exists := s.pixels[key]; exists {
		return Event{}, ErrPixelTaken
	}
	now := time.Now().UTC()
	if p.PurchasedAt.IsZero() {
		p.PurchasedAt = now
	}
	p.UpdatedAt = now
	s.pixels[key] = p
	return s.record(newEvent(EventClaimed, p)), nil
}

func (s *MemStore) Put(ctx context.Context, p SoldPixel) (Event, error) {
	if err := checkCoord(p.X, p.Y); err != nil {
		return Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := p.Key()
	typ := EventClaimed
	if old, exists := s.pixels[key]; exists {
		typ = EventUpdated
		if p.PurchasedAt.IsZero() {
			p.PurchasedAt = old.PurchasedAt
		}
	}
	p.UpdatedAt = time.Now().UTC()
	s.pixels[key] = p
	return s.record(newEvent(typ, p)), nil
}

func (s *MemStore) Update(ctx context.Context, p SoldPixel) (Event, error) {
	if err := checkCoord(p.X, p.Y); err != nil {
		return Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := p.Key()
	cur, ok := s.pixels[key]
	if !ok {
		return Event{}, ErrPixelNotFound
	}
	if cur.OwnerID != p.OwnerID {
		return Event{}, ErrNotOwner
	}
	cur = customize(cur, p)
	s.pixels[key] = cur
	return s.record(newEvent(EventUpdated, cur)), nil
}

func (s *MemStore) Release(ctx context.Context, x, y int) error {
	if err := checkCoord(x, y); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := CoordKey(x, y)
	p, ok := s.pixels[key]
	if !ok {
		return ErrPixelNotFound
	}
	delete(s.pixels, key)
	s.record(newEvent(EventReleased, p))
	return nil
}

func (s *MemStore) History(ctx context.Context, x, y int) ([]Event, error) {
	if err := checkCoord(x, y); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.history[CoordKey(x, y)]
	return append([]Event(nil), events...), nil
}

func (s *MemStore) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, 64)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch, nil
}

// record appends to history and fans out. Callers hold s.mu.
func (s *MemStore) record(ev Event) Event {
	key := ev.Pixel.Key()
	s.history[key] = append(s.history[key], ev)
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
			// slow subscriber, drop
		}
	}
	return ev
}

func sortPixels(pixels []SoldPixel) {
	sort.Slice(pixels, func(i, j int) bool {
		if pixels[i].Y != pixels[j].Y {
			return pixels[i].Y < pixels[j].Y
		}
		return pixels[i].X < pixels[j].X
	})
}
