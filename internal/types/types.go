package types

import (
	"time"
)

type Account struct {
	Id        int       `json:"id"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Theme     string    `json:"theme,omitempty"`
	Avatar    string    `json:"avatar,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

type Chat struct {
	Id          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	IsGroup     bool      `json:"is_group"`
	Members     []Account `json:"members,omitempty"`
	LastMessage *Message  `json:"last_message,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

type Message struct {
	Id        int       `json:"id"`
	ChatId    string    `json:"chat_id"`
	SenderId  int       `json:"sender_id"`
	Text      string    `json:"text,omitempty"`
	Media     string    `json:"media,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
