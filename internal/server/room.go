package server

import (
	"log"
	"sync"
	"time"

	"github.com/avolkov/go-messenger/internal/database"
	"github.com/avolkov/go-messenger/internal/types"
)

const idleRoomTimeout = time.Second * 30

type exitReq struct {
	done chan struct{}
}

// Room is the live-delivery grouping for one chat. All message appends
// and fanout for the chat run on the room's goroutine, which keeps the
// per-chat total order.
type Room struct {
	id         int
	externalId string
	cs         *ChatServer

	joinChan    chan *ClientMessage
	leaveChan   chan *ClientMessage
	publishChan chan *publishReq
	signalChan  chan *ClientMessage

	clients    map[*Client]struct{}
	clientLock sync.RWMutex

	// lastMsgAt is the timestamp of the chat's most recent message;
	// appends never go below it even if the clock steps backwards.
	lastMsgAt time.Time

	log *log.Logger
	// killTimer unloads the room once no connections remain.
	killTimer *time.Timer
	exit      chan exitReq
	done      chan struct{}
}

type publishReq struct {
	msgId      int
	chatId     string
	senderId   int
	text       string
	media      string
	origin     *Client
	originConn string
	resp       chan publishResult
}

type publishResult struct {
	msg types.Message
	err error
}

func (req *publishReq) reply(res publishResult) {
	if req.resp == nil {
		return
	}

	select {
	case req.resp <- res:
	default:
	}
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.externalId)
	r.killTimer = time.NewTimer(idleRoomTimeout)

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leaveMsg := <-r.leaveChan:
			r.handleLeave(leaveMsg)
		case req := <-r.publishChan:
			r.handlePublish(req)
		case msg := <-r.signalChan:
			r.handleSignal(msg)
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			r.handleRoomExit(e)
			return
		}
	}
}

func (r *Room) handleRoomTimeout() {
	r.log.Printf("room %q timed out", r.externalId)
	select {
	case r.cs.unloadRoomChan <- r.externalId:
	default:
		// server busy, try again later
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleRoomExit(e exitReq) {
	r.log.Printf("room %q is exiting", r.externalId)

	r.clientLock.Lock()
	for c := range r.clients {
		c.delRoom(r.externalId)
	}
	clear(r.clients)
	r.clientLock.Unlock()

	close(r.done)
	if e.done != nil {
		close(e.done)
	}
}

func (r *Room) handleJoin(join *ClientMessage) {
	r.killTimer.Stop()

	r.addClient(join.client)
	join.client.queueMessage(NoErrOK(join.Id, map[string]any{"chat_id": r.externalId}))
}

func (r *Room) handleLeave(leaveMsg *ClientMessage) {
	r.removeClient(leaveMsg.client)

	if leaveMsg.Id != 0 {
		leaveMsg.client.queueMessage(NoErrOK(leaveMsg.Id, nil))
	}
}

// handlePublish validates, persists and fans out one message. The
// insert commits before any delivery is attempted; fanout failures
// never surface to the publisher.
func (r *Room) handlePublish(req *publishReq) {
	if !r.cs.db.IsChatMember(r.id, req.senderId) {
		req.reply(publishResult{err: ErrNotMember})
		if req.origin != nil {
			req.origin.queueMessage(ErrNotChatMember(req.msgId))
		}
		return
	}

	if req.text == "" && req.media == "" {
		req.reply(publishResult{err: ErrEmptyMessage})
		if req.origin != nil {
			req.origin.queueMessage(ErrEmptyPublish(req.msgId))
		}
		return
	}

	ts := Now()
	if ts.Before(r.lastMsgAt) {
		ts = r.lastMsgAt
	}

	dbMsg, err := r.cs.db.CreateMessage(database.Message{
		ChatId:    r.id,
		SenderId:  req.senderId,
		Text:      req.text,
		Media:     req.media,
		CreatedAt: ts,
	})
	if err != nil {
		r.log.Println("error saving message:", err)
		req.reply(publishResult{err: err})
		if req.origin != nil {
			req.origin.queueMessage(ErrInternalError(req.msgId))
		}
		return
	}

	r.lastMsgAt = ts
	r.cs.stats.MessagePublished()

	msg := types.Message{
		Id:        dbMsg.Id,
		ChatId:    r.externalId,
		SenderId:  req.senderId,
		Text:      req.text,
		Media:     req.media,
		Timestamp: ts,
	}

	req.reply(publishResult{msg: msg})
	if req.origin != nil {
		req.origin.queueMessage(NoErrAccepted(req.msgId))
	}

	ev := &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: ts},
		Message:     &msg,
		SkipClient:  req.origin,
	}
	if req.origin == nil {
		// REST publish: skip the named origin connection, or every
		// connection of the sender when none was named
		if req.originConn != "" {
			ev.skipConnId = req.originConn
		} else {
			ev.skipUserId = req.senderId
		}
	}

	r.broadcast(ev)
	r.notifyAbsentMembers(msg, req.senderId)
}

// notifyAbsentMembers pings chat members with no connection in the
// room so their chat lists can refresh.
func (r *Room) notifyAbsentMembers(msg types.Message, senderId int) {
	members, err := r.cs.db.GetChatMembers(r.id)
	if err != nil {
		r.log.Println("GetChatMembers:", err)
		return
	}

	r.clientLock.RLock()
	present := make(map[int]bool, len(r.clients))
	for c := range r.clients {
		present[c.user.Id] = true
	}
	r.clientLock.RUnlock()

	for _, member := range members {
		if present[member.Id] || member.Id == senderId {
			continue
		}

		ev := &ServerMessage{
			BaseMessage: BaseMessage{Timestamp: msg.Timestamp},
			Notification: &Notification{
				NewMessage: &NewMessageNotification{
					ChatId:    r.externalId,
					MessageId: msg.Id,
				},
			},
			UserId: member.Id,
		}

		select {
		case r.cs.broadcastChan <- ev:
		default:
			r.log.Printf("broadcastChan full, dropping notification for user %d", member.Id)
		}
	}
}

// handleSignal forwards a call-negotiation payload to every other
// connection in the room, verbatim and unpersisted.
func (r *Room) handleSignal(msg *ClientMessage) {
	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Signal: &SignalEvent{
			Type:     msg.Signal.Type,
			ChatId:   r.externalId,
			SenderId: msg.UserId,
			Data:     msg.Signal.Data,
		},
		SkipClient: msg.client,
	})
}

func (r *Room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	r.clients[c] = struct{}{}
	c.addRoom(r)
}

func (r *Room) removeClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; !ok {
		// leave is idempotent
		return
	}

	delete(r.clients, c)
	c.delRoom(r.externalId)

	if len(r.clients) == 0 {
		r.log.Printf("no clients in %q, starting kill timer", r.externalId)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

// broadcast queues msg onto every client in the room except the
// origin. Delivery is best-effort: a full send buffer drops the event.
func (r *Room) broadcast(msg *ServerMessage) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	for client := range r.clients {
		if client == msg.SkipClient {
			continue
		}
		if msg.skipConnId != "" && client.id == msg.skipConnId {
			continue
		}
		if msg.skipUserId != 0 && client.user.Id == msg.skipUserId {
			continue
		}

		if client.queueMessage(msg) {
			r.cs.stats.EventDelivered()
		} else {
			r.cs.stats.EventDropped()
		}
	}
}

func (r *Room) clientCount() int {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	return len(r.clients)
}
