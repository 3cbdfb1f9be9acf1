package grid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SoldPixel is a customized, owned cell. Pixels are keyed by (X, Y).
type SoldPixel struct {
	X           int             `json:"x"`
	Y           int             `json:"y"`
	Color       string          `json:"color"`
	OwnerID     string          `json:"ownerId,omitempty"`
	Title       string          `json:"title,omitempty"`
	ImageURL    string          `json:"imageUrl,omitempty"`
	PricePaid   decimal.Decimal `json:"pricePaid"`
	PurchasedAt time.Time       `json:"purchasedAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func (p SoldPixel) Key() string { return CoordKey(p.X, p.Y) }

type EventType string

const (
	EventClaimed  EventType = "claimed"
	EventUpdated  EventType = "updated"
	EventReleased EventType = "released"
)

// Event records one change to a pixel. Events double as the per-cell
// history and the real-time feed.
type Event struct {
	ID    string    `json:"id"`
	Type  EventType `json:"type"`
	Pixel SoldPixel `json:"pixel"`
	At    time.Time `json:"at"`
}

func newEvent(t EventType, p SoldPixel) Event {
	return Event{ID: GenerateID(), Type: t, Pixel: p, At: time.Now().UTC()}
}

func GenerateID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return "ev_" + hex.EncodeToString(b)
}

func CoordKey(x, y int) string {
	return strconv.Itoa(x) + ":" + strconv.Itoa(y)
}

func ParseCoordKey(key string) (int, int, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("grid: bad coord key %q", key)
	}
	x, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, err
	}
	y, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}
