package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/avolkov/go-messenger/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	user       types.Account
	send       chan *ServerMessage
	rooms      map[string]*Room
	roomsLock  sync.RWMutex
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewClient(user types.Account, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		id:         uuid.NewString(),
		conn:       conn,
		chatServer: cs,
		log:        l,
		user:       user,
		send:       make(chan *ServerMessage, 256),
		rooms:      make(map[string]*Room),
		stop:       make(chan struct{}),
	}
}

// Id returns the connection identifier issued for this client. It is
// shared with the client in the session event so REST sends can name
// their originating connection.
func (c *Client) Id() string {
	return c.id
}

func (c *Client) Write() {
	ticker := time.NewTicker(time.Duration(pingInterval))
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Println("write exiting")
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
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
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
		c.log.Println("read exiting")
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

		switch {
		case msg.Join != nil:
			c.joinChat(&msg)
		case msg.Leave != nil:
			c.leaveChat(&msg)
		case msg.Publish != nil:
			c.publish(&msg)
		case msg.Signal != nil:
			c.relaySignal(&msg)
		case msg.Call != nil:
			c.relayCall(&msg)
		default:
			c.queueMessage(ErrInvalidMessage(msg.Id))
		}
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
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	c.chatServer.deRegisterChan <- c
	c.leaveAllRooms()
	c.stopClient()
}

func (c *Client) leaveAllRooms() {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	for _, room := range c.rooms {
		room.leaveChan <- &ClientMessage{
			Leave:  &Leave{ChatId: room.externalId},
			UserId: c.user.Id,
			client: c,
		}
	}
}

func (c *Client) joinChat(msg *ClientMessage) {
	select {
	case c.chatServer.joinChan <- msg:
	default:
		c.log.Printf("joinChan full")
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) leaveChat(msg *ClientMessage) {
	r := c.getRoom(msg.Leave.ChatId)
	if r == nil {
		// leaving a chat the connection never joined is a no-op
		c.queueMessage(NoErrOK(msg.Id, nil))
		return
	}

	select {
	case r.leaveChan <- msg:
	default:
		c.log.Printf("leaveChan full for chat %q", r.externalId)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) publish(msg *ClientMessage) {
	req := &publishReq{
		msgId:    msg.Id,
		chatId:   msg.Publish.ChatId,
		senderId: c.user.Id,
		text:     msg.Publish.Text,
		media:    msg.Publish.Media,
		origin:   c,
	}

	select {
	case c.chatServer.publishChan <- req:
	default:
		c.log.Printf("publishChan full")
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

// relaySignal forwards call negotiation payloads to the other
// connections in the chat's room. Nothing is persisted.
func (c *Client) relaySignal(msg *ClientMessage) {
	switch msg.Signal.Type {
	case SignalOffer, SignalAnswer, SignalIceCandidate:
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	r := c.getRoom(msg.Signal.ChatId)
	if r == nil {
		c.queueMessage(ErrChatNotFound(msg.Id))
		return
	}

	select {
	case r.signalChan <- msg:
	default:
		c.log.Printf("signalChan full for chat %q", r.externalId)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

// relayCall addresses a single user's connections directly, bypassing
// chat rooms. Used for ringing a callee and answering a caller.
func (c *Client) relayCall(msg *ClientMessage) {
	var ev *ServerMessage

	switch msg.Call.Type {
	case CallUser:
		if msg.Call.CalleeId == 0 {
			c.queueMessage(ErrInvalidMessage(msg.Id))
			return
		}
		ev = &ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			Call: &CallEvent{
				Type:     CallEventIncoming,
				ChatId:   msg.Call.ChatId,
				CallerId: c.user.Id,
				CalleeId: msg.Call.CalleeId,
				Status:   "pending",
			},
			UserId:     msg.Call.CalleeId,
			SkipClient: c,
		}
	case AnswerCall:
		if msg.Call.CallerId == 0 {
			c.queueMessage(ErrInvalidMessage(msg.Id))
			return
		}
		ev = &ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			Call: &CallEvent{
				Type:     CallEventAnswered,
				ChatId:   msg.Call.ChatId,
				CallerId: msg.Call.CallerId,
				CalleeId: c.user.Id,
				Status:   msg.Call.Status,
			},
			UserId:     msg.Call.CallerId,
			SkipClient: c,
		}
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	select {
	case c.chatServer.broadcastChan <- ev:
		c.queueMessage(NoErrAccepted(msg.Id))
	default:
		c.log.Printf("broadcastChan full")
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) delRoom(id string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, id)
}

func (c *Client) addRoom(r *Room) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[r.externalId] = r
}

func (c *Client) getRoom(id string) *Room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	if room, ok := c.rooms[id]; ok {
		return room
	}

	return nil
}
