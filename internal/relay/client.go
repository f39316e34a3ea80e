package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// client is one connected WebSocket viewer.
type client struct {
	id   string
	conn *websocket.Conn
	log  *logrus.Entry

	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

func newClient(id string, conn *websocket.Conn, log *logrus.Entry) *client {
	return &client{
		id:   id,
		conn: conn,
		log:  log.WithFields(logrus.Fields{"client": id, "remote": conn.RemoteAddr().String()}),
		done: make(chan struct{}),
	}
}

// Close shuts down the connection.
func (c *client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	c.conn.Close()
}

func (c *client) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

func (c *client) sendBinary(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.BinaryMessage, b)
}

// readLoop answers pings and closes the client when the peer goes away.
func (c *client) readLoop() {
	defer c.Close()
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.log.WithError(err).Debug("websocket read error")
				}
			}
			return
		}
		switch msg.Type {
		case TypePing:
			_ = c.send(Message{Type: TypePong, Timestamp: msg.Timestamp})
		case TypePong:
			// heartbeat response, nothing to do
		}
	}
}
