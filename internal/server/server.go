package server

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/avolkov/go-messenger/internal/database"
	"github.com/avolkov/go-messenger/internal/metrics"
	"github.com/avolkov/go-messenger/internal/types"
)

var (
	// ErrUnknownChat is returned when a publish targets a chat id that
	// does not exist.
	ErrUnknownChat = errors.New("unknown chat")
	// ErrNotMember is returned when the sender is not a member of the
	// target chat.
	ErrNotMember = errors.New("sender is not a chat member")
	// ErrEmptyMessage is returned when a publish carries neither text
	// nor media.
	ErrEmptyMessage = errors.New("message requires text or media")
	// ErrUnavailable is returned when the server is too busy to accept
	// the request.
	ErrUnavailable = errors.New("service unavailable")
)

type ChatServer struct {
	log   *log.Logger
	db    database.MessengerRepository
	stats metrics.Provider

	clients     map[*Client]struct{}
	userMap     map[int]map[*Client]struct{}
	clientsLock sync.Mutex

	joinChan       chan *ClientMessage
	publishChan    chan *publishReq
	broadcastChan  chan *ServerMessage
	RegisterChan   chan *Client
	deRegisterChan chan *Client
	unloadRoomChan chan string

	rooms map[string]*Room
	stop  chan struct{}
	done  chan struct{}
}

func NewChatServer(logger *log.Logger, db database.MessengerRepository, stats metrics.Provider) (*ChatServer, error) {
	return &ChatServer{
		log:            logger,
		db:             db,
		stats:          stats,
		clients:        make(map[*Client]struct{}),
		userMap:        make(map[int]map[*Client]struct{}),
		joinChan:       make(chan *ClientMessage, 256),
		publishChan:    make(chan *publishReq, 256),
		broadcastChan:  make(chan *ServerMessage, 256),
		RegisterChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		unloadRoomChan: make(chan string, 16),
		rooms:          make(map[string]*Room),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case joinMsg := <-cs.joinChan:
			cs.handleJoin(joinMsg)
		case req := <-cs.publishChan:
			cs.handlePublishRequest(req)
		case msg := <-cs.broadcastChan:
			cs.deliverToUser(msg)
		case client := <-cs.RegisterChan:
			cs.log.Printf("adding connection %s from %q", client.id, client.user.Username)
			cs.addClient(client)
			cs.stats.ConnectionOpened()
			client.queueMessage(&ServerMessage{
				BaseMessage: BaseMessage{Timestamp: Now()},
				Session: &SessionInfo{
					ConnectionId: client.id,
					User:         client.user,
				},
			})
		case client := <-cs.deRegisterChan:
			cs.log.Printf("removing connection %s from %q", client.id, client.user.Username)
			cs.removeClient(client)
			cs.stats.ConnectionClosed()
		case id := <-cs.unloadRoomChan:
			cs.unloadRoom(id)
		case <-cs.stop:
			cs.log.Println("shutting down rooms")
			for _, r := range cs.rooms {
				r.exit <- exitReq{}
				<-r.done
			}

			close(cs.done)
			return
		}
	}
}

// handleJoin subscribes a connection to a chat's room. Joining is
// gated on chat membership so a connection cannot overhear chats it
// does not belong to.
func (cs *ChatServer) handleJoin(joinMsg *ClientMessage) {
	room, err := cs.loadRoom(joinMsg.Join.ChatId)
	if err != nil {
		joinMsg.client.queueMessage(ErrChatNotFound(joinMsg.Id))
		return
	}

	if !cs.db.IsChatMember(room.id, joinMsg.UserId) {
		joinMsg.client.queueMessage(ErrNotChatMember(joinMsg.Id))
		return
	}

	select {
	case room.joinChan <- joinMsg:
	default:
		cs.log.Printf("join channel full on room %q", room.externalId)
		joinMsg.client.queueMessage(ErrServiceUnavailable(joinMsg.Id))
	}
}

func (cs *ChatServer) handlePublishRequest(req *publishReq) {
	room, err := cs.loadRoom(req.chatId)
	if err != nil {
		req.reply(publishResult{err: ErrUnknownChat})
		if req.origin != nil {
			req.origin.queueMessage(ErrChatNotFound(req.msgId))
		}
		return
	}

	select {
	case room.publishChan <- req:
	default:
		cs.log.Printf("publish channel full on room %q", room.externalId)
		req.reply(publishResult{err: ErrUnavailable})
		if req.origin != nil {
			req.origin.queueMessage(ErrServiceUnavailable(req.msgId))
		}
	}
}

// loadRoom returns the live room for a chat, materializing it on first
// use. Rooms are keyed by the chat's external id.
func (cs *ChatServer) loadRoom(externalId string) (*Room, error) {
	if room, ok := cs.rooms[externalId]; ok {
		return room, nil
	}

	chat, err := cs.db.GetChatByExternalId(externalId)
	if err != nil {
		return nil, err
	}

	lastMsgAt, err := cs.db.LastMessageTime(chat.Id)
	if err != nil {
		return nil, err
	}

	room := &Room{
		id:          chat.Id,
		externalId:  chat.ExternalId,
		cs:          cs,
		joinChan:    make(chan *ClientMessage, 256),
		leaveChan:   make(chan *ClientMessage, 256),
		publishChan: make(chan *publishReq, 256),
		signalChan:  make(chan *ClientMessage, 256),
		clients:     make(map[*Client]struct{}),
		lastMsgAt:   lastMsgAt,
		log:         cs.log,
		exit:        make(chan exitReq),
		done:        make(chan struct{}),
	}

	cs.rooms[room.externalId] = room
	cs.stats.RoomLoaded()
	go room.start()

	return room, nil
}

func (cs *ChatServer) unloadRoom(externalId string) {
	r, ok := cs.rooms[externalId]
	if !ok {
		return
	}

	if r.clientCount() > 0 {
		// a client joined between the timeout and the unload
		return
	}

	cs.log.Printf("unloading room %q", r.externalId)
	delete(cs.rooms, externalId)
	r.exit <- exitReq{}
	<-r.done
	cs.stats.RoomUnloaded()
}

// deliverToUser queues a message onto every live connection of the
// addressed user.
func (cs *ChatServer) deliverToUser(msg *ServerMessage) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	for client := range cs.userMap[msg.UserId] {
		if client == msg.SkipClient {
			continue
		}

		if client.queueMessage(msg) {
			cs.stats.EventDelivered()
		} else {
			cs.stats.EventDropped()
		}
	}
}

// PublishMessage persists a message through the chat's room and
// returns it once committed. Fanout to live subscribers happens after
// the append and its outcome never affects the returned message.
func (cs *ChatServer) PublishMessage(ctx context.Context, chatId string, senderId int, text, media, originConn string) (types.Message, error) {
	req := &publishReq{
		chatId:     chatId,
		senderId:   senderId,
		text:       text,
		media:      media,
		originConn: originConn,
		resp:       make(chan publishResult, 1),
	}

	select {
	case cs.publishChan <- req:
	case <-ctx.Done():
		return types.Message{}, ctx.Err()
	}

	select {
	case res := <-req.resp:
		return res.msg, res.err
	case <-ctx.Done():
		return types.Message{}, ctx.Err()
	}
}

func (cs *ChatServer) RegisterClient(c *Client) {
	cs.RegisterChan <- c
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	cs.clients[c] = struct{}{}
	if cs.userMap[c.user.Id] == nil {
		cs.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	cs.userMap[c.user.Id][c] = struct{}{}
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	delete(cs.clients, c)
	if userClients, ok := cs.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(cs.userMap, c.user.Id)
		}
	}
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")

	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	close(cs.stop)

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
