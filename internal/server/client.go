package server

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-roomcast/internal/types"
	"github.com/teris-io/shortid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Client is a single websocket session attached to one room.
type Client struct {
	id       string
	conn     *websocket.Conn
	room     *Room
	log      *log.Logger
	user     types.User
	joinedAt time.Time
	// lastSeen holds unix nanoseconds of the last frame read from the peer
	lastSeen atomic.Int64
	send     chan []byte
	stop     chan struct{}
	stopOnce sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, l *log.Logger) (*Client, error) {
	id, err := shortid.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate connection id: %w", err)
	}

	return &Client{
		id:   id,
		conn: conn,
		log:  l,
		user: user,
		send: make(chan []byte, sendBufferSize),
		stop: make(chan struct{}),
	}, nil
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) User() types.User {
	return c.user
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if !c.sendMessage(websocket.TextMessage, msg) {
				return
			}
		case <-c.stop:
			c.sendMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		if c.room != nil {
			c.room.disconnect(c.id)
		}
		c.conn.Close()
		c.stopClient()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		c.touch()
		if !c.room.clientMessage(&ClientMessage{raw: raw, client: c}) {
			break
		}
	}
}

func (c *Client) queueMessage(msg []byte) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("failed to queue message for connection %q, channel is full", c.id)
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *Client) lastActivity() time.Time {
	if ns := c.lastSeen.Load(); ns != 0 {
		return time.Unix(0, ns)
	}

	return c.joinedAt
}
