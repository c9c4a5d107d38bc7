package realtime

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

const (
	frameJoinEvent  = "joinEvent"
	frameLeaveEvent = "leaveEvent"
	frameJoined     = "joined"
	frameLeft       = "left"
	frameError      = "error"

	maxDecodeErrorsPerConn = 5
	writeTimeout           = 10 * time.Second
)

type clientFrame struct {
	Type    string `json:"type"`
	EventID int64  `json:"eventId"`
}

type wsPeer struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	encoder *json.Encoder
}

func newWSPeer(conn *websocket.Conn) *wsPeer {
	return &wsPeer{conn: conn, encoder: json.NewEncoder(conn)}
}

func (p *wsPeer) Deliver(f Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return p.encoder.Encode(f)
}

// Handler serves the websocket endpoint. Every connection is subscribed to
// the lobby channel and may join or leave event channels with
// {"type":"joinEvent","eventId":N} and {"type":"leaveEvent","eventId":N}.
func (h *Hub) Handler() http.Handler {
	ws := websocket.Handler(h.serveConn)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ws.ServeHTTP(w, r)
	})
}

func (h *Hub) serveConn(conn *websocket.Conn) {
	defer conn.Close()

	peer := newWSPeer(conn)
	h.Join(LobbyChannel, peer)
	defer h.LeaveAll(peer)

	decoder := json.NewDecoder(conn)
	decodeErrors := 0
	for {
		var frame clientFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) {
				return
			}
			decodeErrors++
			_ = peer.Deliver(Frame{Type: frameError, Data: "invalid frame payload"})
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			decoder = json.NewDecoder(conn)
			continue
		}
		decodeErrors = 0

		switch frame.Type {
		case frameJoinEvent, frameLeaveEvent:
			if frame.EventID <= 0 {
				_ = peer.Deliver(Frame{Type: frameError, Data: "eventId is required"})
				continue
			}
			channel := EventChannel(frame.EventID)
			ack := frameJoined
			if frame.Type == frameJoinEvent {
				h.Join(channel, peer)
			} else {
				h.Leave(channel, peer)
				ack = frameLeft
			}
			_ = peer.Deliver(Frame{Type: ack, Channel: channel})
		default:
			_ = peer.Deliver(Frame{Type: frameError, Data: "unsupported frame type"})
		}
	}
}
