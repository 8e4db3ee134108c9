package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/avolkov/go-messenger/internal/types"
)

// Signal types relayed between call peers. The server forwards these
// verbatim and never persists them.
const (
	SignalOffer        = "call_offer"
	SignalAnswer       = "call_answer"
	SignalIceCandidate = "ice_candidate"
)

// Direct-addressed call control types.
const (
	CallUser   = "call_user"
	AnswerCall = "answer_call"

	CallEventIncoming = "incoming_call"
	CallEventAnswered = "call_answered"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Join    *Join    `json:"join,omitempty"`
	Leave   *Leave   `json:"leave,omitempty"`
	Publish *Publish `json:"publish,omitempty"`
	Signal  *Signal  `json:"signal,omitempty"`
	Call    *Call    `json:"call,omitempty"`
	UserId  int      `json:"-"`
	client  *Client  `json:"-"`
}

type Join struct {
	ChatId string `json:"chat_id"`
}

type Leave struct {
	ChatId string `json:"chat_id"`
}

type Publish struct {
	ChatId string `json:"chat_id"`
	Text   string `json:"text,omitempty"`
	Media  string `json:"media,omitempty"`
}

type Signal struct {
	Type   string          `json:"type"`
	ChatId string          `json:"chat_id"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type Call struct {
	Type     string `json:"type"`
	ChatId   string `json:"chat_id,omitempty"`
	CalleeId int    `json:"callee_id,omitempty"`
	CallerId int    `json:"caller_id,omitempty"`
	// Status is advisory only: pending, accepted or rejected.
	Status string `json:"status,omitempty"`
}

type ServerMessage struct {
	BaseMessage
	Response     *Response      `json:"response,omitempty"`
	Message      *types.Message `json:"message,omitempty"`
	Signal       *SignalEvent   `json:"signal,omitempty"`
	Call         *CallEvent     `json:"call,omitempty"`
	Notification *Notification  `json:"notification,omitempty"`
	Session      *SessionInfo   `json:"session,omitempty"`

	// UserId addresses the message to every connection of one user.
	UserId     int     `json:"-"`
	SkipClient *Client `json:"-"`
	skipConnId string
	skipUserId int
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type SignalEvent struct {
	Type     string          `json:"type"`
	ChatId   string          `json:"chat_id"`
	SenderId int             `json:"sender_id"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type CallEvent struct {
	Type     string `json:"type"`
	ChatId   string `json:"chat_id,omitempty"`
	CallerId int    `json:"caller_id"`
	CalleeId int    `json:"callee_id"`
	Status   string `json:"status,omitempty"`
}

type Notification struct {
	NewMessage *NewMessageNotification `json:"new_message,omitempty"`
}

type NewMessageNotification struct {
	ChatId    string `json:"chat_id"`
	MessageId int    `json:"message_id"`
}

type SessionInfo struct {
	ConnectionId string        `json:"connection_id"`
	User         types.Account `json:"user"`
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
		},
	}
}

func ErrChatNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "chat not found",
		},
	}
}

func ErrNotChatMember(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusForbidden,
			Error:        "not a chat member",
		},
	}
}

func ErrEmptyPublish(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "message requires text or media",
		},
	}
}

func ErrInternalError(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
