package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ManadaHerath/pixelmap-server/internal/engine"
	"github.com/ManadaHerath/pixelmap-server/internal/grid"
	"github.com/ManadaHerath/pixelmap-server/internal/log"
	"github.com/ManadaHerath/pixelmap-server/internal/market"
	"github.com/ManadaHerath/pixelmap-server/internal/view"
)

const (
	writeWait    = 5 * time.Second
	tickInterval = time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ClientMessage is an input event sent by a viewer.
type ClientMessage struct {
	Type     string  `json:"type"`
	X        float64 `json:"x,omitempty"`
	Y        float64 `json:"y,omitempty"`
	W        float64 `json:"w,omitempty"`
	H        float64 `json:"h,omitempty"`
	DY       float64 `json:"dy,omitempty"`
	BuyerID  string  `json:"buyerId,omitempty"`
	Color    string  `json:"color,omitempty"`
	Title    string  `json:"title,omitempty"`
	ImageURL string  `json:"imageUrl,omitempty"`
}

// ServerMessage is pushed to a viewer.
type ServerMessage struct {
	Type   string         `json:"type"`
	Map    *engine.Info   `json:"map,omitempty"`
	Result *engine.Result `json:"result,omitempty"`
	Event  *grid.Event    `json:"event,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// GET /api/ws
//
// Each connection gets its own Viewer. Input events are applied in arrival
// order on the connection's goroutine; ledger events are forwarded as they
// happen.
func (api *API) HandleViewerWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := api.Ledger.Subscribe(ctx)
	if err != nil {
		log.Errorf("api: ws subscribe: %v", err)
		return
	}

	v := engine.NewViewer(api.Map, api.Hits, api.Market, api.Viewer)
	info := api.Map.Info()
	hello := v.Reset()
	if err := send(conn, ServerMessage{Type: "hello", Map: &info, Result: &hello}); err != nil {
		return
	}

	inbox := make(chan ClientMessage)
	go func() {
		defer cancel()
		for {
			var msg ClientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warnf("api: ws read: %v", err)
				}
				return
			}
			select {
			case inbox <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		var out ServerMessage
		select {
		case <-ctx.Done():
			return
		case msg := <-inbox:
			var ok bool
			if out, ok = api.apply(ctx, v, msg); !ok {
				continue
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			out = ServerMessage{Type: "ledger", Event: &ev}
		case <-ticker.C:
			res, changed := v.Tick()
			if !changed {
				continue
			}
			out = ServerMessage{Type: "view", Result: &res}
		}
		if err := send(conn, out); err != nil {
			log.Warnf("api: ws write: %v", err)
			return
		}
	}
}

// apply feeds one client event to the viewer. ok is false when there is
// nothing to report.
func (api *API) apply(ctx context.Context, v *engine.Viewer, msg ClientMessage) (out ServerMessage, ok bool) {
	p := view.Point{X: msg.X, Y: msg.Y}

	var (
		res engine.Result
		err error
	)
	switch msg.Type {
	case "resize":
		res = v.Resize(view.Size{W: msg.W, H: msg.H})
	case "pointerdown":
		v.PointerDown(p)
		return ServerMessage{}, false
	case "pointermove":
		if res, ok = v.PointerMove(p); !ok {
			return ServerMessage{}, false
		}
	case "pointerup":
		res, err = v.PointerUp(ctx, p)
	case "wheel":
		res = v.Wheel(p, msg.DY)
	case "zoomin":
		res = v.ZoomIn()
	case "zoomout":
		res = v.ZoomOut()
	case "reset":
		res = v.Reset()
	case "close":
		res, err = v.Close()
	case "purchase":
		res, err = v.Purchase(ctx, market.PurchaseRequest{
			BuyerID:  msg.BuyerID,
			Color:    msg.Color,
			Title:    msg.Title,
			ImageURL: msg.ImageURL,
		})
	default:
		return ServerMessage{Type: "error", Error: "unknown message type " + msg.Type}, true
	}

	if err != nil {
		text := err.Error()
		if statusFor(err) == http.StatusInternalServerError {
			log.Errorf("api: ws %s: %v", msg.Type, err)
			text = "internal error"
		}
		return ServerMessage{Type: "error", Result: &res, Error: text}, true
	}
	return ServerMessage{Type: "view", Result: &res}, true
}

func send(conn *websocket.Conn, msg ServerMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
