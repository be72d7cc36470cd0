package broadcast

import (
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/eddielth/edge-ingest/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// WSViewer is a viewer on a WebSocket connection. Sends are queued on a
// buffered channel drained by writePump; a full buffer counts as a failed send.
type WSViewer struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	log       *logger.Component
}

func NewWSViewer(conn *websocket.Conn, buffer int) *WSViewer {
	return &WSViewer{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
		log:  logger.Named("ws"),
	}
}

func (v *WSViewer) ID() string { return v.id }

func (v *WSViewer) Send(msg []byte) error {
	select {
	case <-v.done:
		return ErrViewerGone
	default:
	}

	select {
	case v.send <- msg:
		return nil
	default:
		return ErrViewerGone
	}
}

// Close stops both pumps and closes the connection. Safe to call more than once.
func (v *WSViewer) Close() {
	v.closeOnce.Do(func() {
		close(v.done)
		v.conn.Close()
	})
}

// readPump keeps the connection alive and notices when the peer goes away.
// Client messages are read and ignored.
func (v *WSViewer) readPump(hub *Hub) {
	defer hub.Remove(v.id)

	v.conn.SetReadLimit(maxMessageSize)
	v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				v.log.Debug("viewer %s read error: %v", v.id, err)
			}
			return
		}
		v.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// writePump writes queued messages, one per frame, and pings the peer
func (v *WSViewer) writePump(hub *Hub) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		hub.Remove(v.id)
	}()

	for {
		select {
		case <-v.done:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			v.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-v.send:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				v.log.Debug("viewer %s write error: %v", v.id, err)
				return
			}
		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				v.log.Debug("viewer %s ping error: %v", v.id, err)
				return
			}
		}
	}
}

// Handler upgrades HTTP requests to viewer connections
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	buffer   int
	log      *logger.Component
}

// NewHandler creates the /ws handler. An empty origins list, or one
// containing "*", accepts any origin.
func NewHandler(hub *Hub, buffer int, origins []string) *Handler {
	h := &Handler{
		hub:    hub,
		buffer: max(buffer, 1),
		log:    logger.Named("ws"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || len(origins) == 0 || slices.Contains(origins, "*") || slices.Contains(origins, origin)
		},
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		h.log.Warn("websocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	v := NewWSViewer(conn, h.buffer)
	h.hub.Add(v)

	go v.writePump(h.hub)
	go v.readPump(h.hub)
}
