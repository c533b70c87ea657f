package socket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"vibin_realtime/models"
)

var (
	// tuning parameters
	writeWait      = 10 * time.Second    // time allowed to write a message to the peer
	pongWait       = 60 * time.Second    // time allowed to read the next pong message from the peer
	pingInterval   = (pongWait * 9) / 10 // send pings to peer with this period
	maxMessageSize = int64(64 * 1024)    // max inbound message size (64KB)
	sendBufSize    = 256                 // per-connection outbound buffer size
)

// Client is one websocket connection of one user.
type Client struct {
	ID     string
	userID string
	hub    *Hub
	conn   *websocket.Conn
	egress chan models.Frame
	done   chan struct{}
	once   sync.Once

	rooms map[string]bool // guarded by hub.mu
}

func newClient(h *Hub, userID string, conn *websocket.Conn) *Client {
	return &Client{
		ID:     uuid.New().String(),
		userID: userID,
		hub:    h,
		conn:   conn,
		egress: make(chan models.Frame, sendBufSize),
		done:   make(chan struct{}),
		rooms:  make(map[string]bool),
	}
}

// readPump handles envelopes in arrival order, one at a time.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				zap.S().Warnf("⚠️ Unexpected close for %s: %v", c.ID, err)
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			c.sendError("", errBadPayload)
			continue
		}
		c.hub.handleEnvelope(c, env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case frame := <-c.egress:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				zap.S().Warnf("⚠️ Write to %s failed: %v", c.ID, err)
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		}
	}
}

// send enqueues frame. A client whose buffer is full is too slow to keep and
// gets disconnected.
func (c *Client) send(frame models.Frame) {
	select {
	case <-c.done:
	case c.egress <- frame:
	default:
		zap.S().Warnf("⚠️ Egress full for client %s, disconnecting", c.ID)
		c.close()
	}
}

func (c *Client) sendError(envelopeType string, err error) {
	frame, ferr := models.NewFrame(models.FrameError, models.ErrorPayload{
		Envelope: envelopeType,
		Message:  clientMessage(err),
	})
	if ferr != nil {
		return
	}
	c.send(frame)
}

func (c *Client) close() {
	// writePump closes the connection, which ends readPump
	c.once.Do(func() { close(c.done) })
}
