package database

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockMessengerRepository struct {
	mock.Mock
}

func (m *MockMessengerRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockMessengerRepository) CreateAccount(params CreateAccountParams) (Account, error) {
	args := m.Called(params)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockMessengerRepository) GetAccountById(accountId int) (Account, error) {
	args := m.Called(accountId)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockMessengerRepository) GetAccountByUsername(username string) (Account, error) {
	args := m.Called(username)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockMessengerRepository) UpdateAccountPrefs(params UpdateAccountPrefsParams) (Account, error) {
	args := m.Called(params)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockMessengerRepository) SearchAccounts(query string, excludeId, limit int) ([]Account, error) {
	args := m.Called(query, excludeId, limit)
	return args.Get(0).([]Account), args.Error(1)
}
func (m *MockMessengerRepository) CreateChat(params CreateChatParams) (Chat, error) {
	args := m.Called(params)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockMessengerRepository) GetChatById(id int) (Chat, error) {
	args := m.Called(id)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockMessengerRepository) GetChatByExternalId(externalId string) (Chat, error) {
	args := m.Called(externalId)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockMessengerRepository) FindDirectChat(accountA, accountB int) (Chat, error) {
	args := m.Called(accountA, accountB)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockMessengerRepository) ListChatsForAccount(accountId int) ([]ChatSummary, error) {
	args := m.Called(accountId)
	return args.Get(0).([]ChatSummary), args.Error(1)
}
func (m *MockMessengerRepository) GetChatMembers(chatId int) ([]Account, error) {
	args := m.Called(chatId)
	return args.Get(0).([]Account), args.Error(1)
}
func (m *MockMessengerRepository) IsChatMember(chatId, accountId int) bool {
	args := m.Called(chatId, accountId)
	return args.Bool(0)
}
func (m *MockMessengerRepository) CreateMessage(msg Message) (Message, error) {
	args := m.Called(msg)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockMessengerRepository) GetMessages(chatId, afterId int) ([]Message, error) {
	args := m.Called(chatId, afterId)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockMessengerRepository) LastMessageTime(chatId int) (time.Time, error) {
	args := m.Called(chatId)
	return args.Get(0).(time.Time), args.Error(1)
}
