package database

import "time"

type Account struct {
	Id           int
	Username     string
	PasswordHash string
	Theme        string
	Avatar       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Chat struct {
	Id         int
	ExternalId string
	Name       string
	IsGroup    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ChatSummary is a chat annotated with its most recent message, if any.
type ChatSummary struct {
	Chat
	LastMessage *Message
}

type Message struct {
	Id        int
	ChatId    int
	SenderId  int
	Text      string
	Media     string
	CreatedAt time.Time
}

type CreateAccountParams struct {
	Username     string
	PasswordHash string
}

type UpdateAccountPrefsParams struct {
	AccountId int
	Theme     string
	Avatar    string
}

type CreateChatParams struct {
	ExternalId string
	Name       string
	IsGroup    bool
	MemberIds  []int
}
