package database

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert violates a uniqueness constraint.
	ErrDuplicate = errors.New("already exists")
)

type MessengerRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (Account, error)
	GetAccountById(accountId int) (Account, error)
	GetAccountByUsername(username string) (Account, error)
	UpdateAccountPrefs(params UpdateAccountPrefsParams) (Account, error)
	SearchAccounts(query string, excludeId, limit int) ([]Account, error)
	CreateChat(params CreateChatParams) (Chat, error)
	GetChatById(id int) (Chat, error)
	GetChatByExternalId(externalId string) (Chat, error)
	FindDirectChat(accountA, accountB int) (Chat, error)
	ListChatsForAccount(accountId int) ([]ChatSummary, error)
	GetChatMembers(chatId int) ([]Account, error)
	IsChatMember(chatId, accountId int) bool
	CreateMessage(msg Message) (Message, error)
	GetMessages(chatId, afterId int) ([]Message, error)
	LastMessageTime(chatId int) (time.Time, error)
}
