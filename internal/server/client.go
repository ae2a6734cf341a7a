package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jdavenport/go-listenroom/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// Client is one websocket connection. A participant may hold several
// connections (e.g. a reconnect racing the old socket's teardown), each
// with its own Client.
type Client struct {
	conn     *websocket.Conn
	srv      *SyncServer
	log      *log.Logger
	user     types.User
	connId   string
	send     chan *ServerMessage
	room     *Room
	roomLock sync.RWMutex
	stop     chan struct{}
	stopOnce sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, srv *SyncServer, l *log.Logger) *Client {
	return &Client{
		conn:   conn,
		srv:    srv,
		log:    l,
		user:   user,
		connId: uuid.NewString(),
		send:   make(chan *ServerMessage, 256),
		stop:   make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
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
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.client = c
		msg.UserId = c.user.Id
		msg.Timestamp = Now()

		c.route(&msg)
	}
}

// route dispatches a parsed message. Track resolution for change_track
// happens here, on the connection's goroutine, so the room actor never
// waits on catalog I/O.
func (c *Client) route(msg *ClientMessage) {
	switch {
	case msg.Join != nil:
		select {
		case c.srv.joinChan <- msg:
		default:
			c.log.Printf("joinChan full")
			c.queueMessage(ErrServiceUnavailable(msg.Id))
		}
	case msg.Leave != nil:
		r := c.getRoom()
		if r == nil {
			c.queueMessage(ErrRoomNotFound(msg.Id))
			return
		}
		c.forward(r.leaveChan, msg, r)
	case msg.ChangeTrack != nil:
		r := c.getRoom()
		if r == nil {
			c.queueMessage(ErrRoomNotFound(msg.Id))
			return
		}

		if msg.ChangeTrack.TrackId != "" {
			track, err := c.srv.resolver.Resolve(msg.ChangeTrack.TrackId)
			if err != nil {
				c.log.Printf("resolve track %q: %v", msg.ChangeTrack.TrackId, err)
				c.queueMessage(ErrTrackNotFound(msg.Id))
				return
			}
			msg.track = &track
		}
		c.forward(r.cmdChan, msg, r)
	case msg.Play != nil, msg.Pause != nil, msg.Seek != nil, msg.Volume != nil,
		msg.SyncRequest != nil, msg.SetMuted != nil, msg.RaiseHand != nil:
		r := c.getRoom()
		if r == nil {
			c.queueMessage(ErrRoomNotFound(msg.Id))
			return
		}
		c.forward(r.cmdChan, msg, r)
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

func (c *Client) forward(ch chan *ClientMessage, msg *ClientMessage, r *Room) {
	select {
	case ch <- msg:
	default:
		c.log.Printf("channel full for room %q", r.externalId)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
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
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.srv.deRegisterChan <- c

	if r := c.getRoom(); r != nil {
		// transport drop, not an explicit leave; the room decides when
		// the departure becomes permanent
		select {
		case r.disconnectChan <- c:
		default:
			c.log.Printf("disconnect channel full for room %q", r.externalId)
		}
	}

	c.stopClient()
}

func (c *Client) setRoom(r *Room) {
	c.roomLock.Lock()
	defer c.roomLock.Unlock()
	c.room = r
}

func (c *Client) clearRoom(id string) {
	c.roomLock.Lock()
	defer c.roomLock.Unlock()

	if c.room != nil && c.room.externalId == id {
		c.room = nil
	}
}

func (c *Client) getRoom() *Room {
	c.roomLock.RLock()
	defer c.roomLock.RUnlock()
	return c.room
}
