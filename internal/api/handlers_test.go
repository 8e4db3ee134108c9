package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/avolkov/go-messenger/internal/config"
	"github.com/avolkov/go-messenger/internal/database"
	"github.com/avolkov/go-messenger/internal/testutil"
	"github.com/avolkov/go-messenger/internal/types"
)

func newTestApp(t *testing.T, db database.MessengerRepository) *MessengerApp {
	t.Helper()
	return NewMessengerApp(http.NewServeMux(), testutil.TestLogger(t), nil, db, nil, &config.Config{
		ServerAddr:     "localhost:8080",
		DatabaseDSN:    "dsn",
		SigningKey:     []byte("secret"),
		AllowedOrigins: []string{"http://localhost:3000"},
	})
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, json.NewEncoder(buf).Encode(v))
	return buf
}

// findCookie returns the named cookie from the recorded response, or
// nil when absent.
func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
	}{
		{
			name:    "successful health check",
			mockErr: nil,
		},
		{
			name:    "failed health check",
			mockErr: errors.New("db error"),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockMessengerRepository{}
			defer db.AssertExpectations(t)
			db.On("Ping").Return(tc.mockErr).Once()

			app := newTestApp(t, db)
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			app.healthCheck(rr, req)

			if tc.mockErr != nil {
				assert.Equal(t, http.StatusInternalServerError, rr.Code, "expected status code to be 500")
			} else {
				assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
				assert.Equal(t, "OK", rr.Body.String(), "expected response body to be 'OK'")
			}
		})
	}
}

func Test_register(t *testing.T) {
	now := time.Now().UTC()
	newAccount := database.Account{
		Id:        1,
		Username:  "newuser",
		Theme:     "dark",
		CreatedAt: now,
		UpdatedAt: now,
	}

	tcases := []struct {
		name           string
		body           any
		mockAccount    database.Account
		mockErr        error
		expectMock     bool
		expectedStatus int
		expectCookie   bool
	}{
		{
			name:           "successfully registers",
			body:           RegisterRequest{Username: "newuser", Password: "password"},
			mockAccount:    newAccount,
			expectMock:     true,
			expectedStatus: http.StatusCreated,
			expectCookie:   true,
		},
		{
			name:           "duplicate username",
			body:           RegisterRequest{Username: "newuser", Password: "password"},
			mockErr:        database.ErrDuplicate,
			expectMock:     true,
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "missing password",
			body:           RegisterRequest{Username: "newuser"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid body",
			body:           "not-json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockMessengerRepository{}
			defer db.AssertExpectations(t)
			if tc.expectMock {
				db.On("CreateAccount", mock.AnythingOfType("database.CreateAccountParams")).
					Return(tc.mockAccount, tc.mockErr).Once()
			}

			app := newTestApp(t, db)
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/auth/register", jsonBody(t, tc.body))
			app.register(rr, req)

			assert.Equal(t, tc.expectedStatus, rr.Code)

			if tc.expectCookie {
				cookie := findCookie(rr, tokenCookieKey)
				require.NotNil(t, cookie, "expected session cookie to be set on register")
				assert.NotEmpty(t, cookie.Value, "expected session token in cookie")

				var resp types.Account
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
				assert.Equal(t, newAccount.Id, resp.Id)
				assert.Equal(t, newAccount.Username, resp.Username)
			}
		})
	}
}

func Test_login(t *testing.T) {
	passwordHash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	require.NoError(t, err)

	account := database.Account{
		Id:           1,
		Username:     "testuser",
		PasswordHash: string(passwordHash),
	}

	tcases := []struct {
		name           string
		body           any
		mockAccount    database.Account
		mockErr        error
		expectMock     bool
		expectedStatus int
	}{
		{
			name:           "successful login",
			body:           LoginRequest{Username: "testuser", Password: "password"},
			mockAccount:    account,
			expectMock:     true,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "wrong password",
			body:           LoginRequest{Username: "testuser", Password: "wrong"},
			mockAccount:    account,
			expectMock:     true,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "unknown user",
			body:           LoginRequest{Username: "ghost", Password: "password"},
			mockErr:        database.ErrNotFound,
			expectMock:     true,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "missing username",
			body:           LoginRequest{Password: "password"},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockMessengerRepository{}
			defer db.AssertExpectations(t)
			if tc.expectMock {
				db.On("GetAccountByUsername", mock.AnythingOfType("string")).
					Return(tc.mockAccount, tc.mockErr).Once()
			}

			app := newTestApp(t, db)
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/auth/login", jsonBody(t, tc.body))
			app.login(rr, req)

			assert.Equal(t, tc.expectedStatus, rr.Code)

			if tc.expectedStatus == http.StatusOK {
				cookie := findCookie(rr, tokenCookieKey)
				require.NotNil(t, cookie, "expected session cookie on login")
				assert.NotEmpty(t, cookie.Value)
			}
		})
	}
}

func Test_logout(t *testing.T) {
	app := newTestApp(t, &database.MockMessengerRepository{})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/auth/logout", nil)
	app.logout(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	cookie := findCookie(rr, tokenCookieKey)
	require.NotNil(t, cookie, "expected cookie to be overwritten")
	assert.Empty(t, cookie.Value, "expected cookie value to be cleared")
	assert.True(t, cookie.Expires.Before(time.Now()), "expected cookie to be expired")
}

func Test_updateAccount(t *testing.T) {
	updated := database.Account{Id: 1, Username: "testuser", Theme: "light", Avatar: "cat.png"}

	tcases := []struct {
		name           string
		body           any
		expectMock     bool
		expectedStatus int
	}{
		{
			name:           "updates preferences",
			body:           UpdateAccountRequest{Theme: "light", Avatar: "cat.png"},
			expectMock:     true,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "rejects unknown theme",
			body:           UpdateAccountRequest{Theme: "neon"},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockMessengerRepository{}
			defer db.AssertExpectations(t)
			if tc.expectMock {
				db.On("UpdateAccountPrefs", database.UpdateAccountPrefsParams{
					AccountId: 1,
					Theme:     "light",
					Avatar:    "cat.png",
				}).Return(updated, nil).Once()
			}

			app := newTestApp(t, db)
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPut, "/api/account", jsonBody(t, tc.body))
			req = req.WithContext(WithUserId(req.Context(), 1))
			app.updateAccount(rr, req)

			assert.Equal(t, tc.expectedStatus, rr.Code)
		})
	}
}

func Test_searchUsers(t *testing.T) {
	t.Run("returns matches excluding self", func(t *testing.T) {
		db := &database.MockMessengerRepository{}
		defer db.AssertExpectations(t)
		db.On("SearchAccounts", "ali", 1, 10).Return([]database.Account{
			{Id: 2, Username: "alice"},
			{Id: 3, Username: "malik"},
		}, nil).Once()

		app := newTestApp(t, db)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/users/search", jsonBody(t, SearchUsersRequest{Query: "ali"}))
		req = req.WithContext(WithUserId(req.Context(), 1))
		app.searchUsers(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var resp struct {
			Users []types.Account `json:"users"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		require.Len(t, resp.Users, 2)
		assert.Equal(t, "alice", resp.Users[0].Username)
	})

	t.Run("rejects empty query", func(t *testing.T) {
		db := &database.MockMessengerRepository{}
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/users/search", jsonBody(t, SearchUsersRequest{}))
		req = req.WithContext(WithUserId(req.Context(), 1))
		app.searchUsers(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)

		var apiErr ApiError
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&apiErr))
		assert.Equal(t, "empty query", apiErr.Message)
		db.AssertNotCalled(t, "SearchAccounts", mock.Anything, mock.Anything, mock.Anything)
	})
}

func Test_createDirectChat(t *testing.T) {
	now := time.Now().UTC()
	peer := database.Account{Id: 2, Username: "peer", CreatedAt: now, UpdatedAt: now}
	chat := database.Chat{Id: 5, ExternalId: "dm123", IsGroup: false, CreatedAt: now, UpdatedAt: now}
	members := []database.Account{{Id: 1, Username: "me"}, peer}

	t.Run("returns existing chat regardless of argument order", func(t *testing.T) {
		db := &database.MockMessengerRepository{}
		defer db.AssertExpectations(t)
		db.On("GetAccountById", peer.Id).Return(peer, nil).Once()
		// pair is canonicalized ascending, caller id is 7 here
		db.On("FindDirectChat", 2, 7).Return(chat, nil).Once()
		db.On("GetChatMembers", chat.Id).Return(members, nil).Once()

		app := newTestApp(t, db)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/chats/direct", jsonBody(t, CreateDirectChatRequest{PeerId: 2}))
		req = req.WithContext(WithUserId(req.Context(), 7))
		app.createDirectChat(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var resp types.Chat
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, chat.ExternalId, resp.Id, "expected external id exposed as the chat id")
		assert.Len(t, resp.Members, 2)
	})

	t.Run("creates chat when none exists", func(t *testing.T) {
		db := &database.MockMessengerRepository{}
		defer db.AssertExpectations(t)
		db.On("GetAccountById", peer.Id).Return(peer, nil).Once()
		db.On("FindDirectChat", 1, 2).Return(database.Chat{}, database.ErrNotFound).Once()
		db.On("CreateChat", mock.MatchedBy(func(p database.CreateChatParams) bool {
			return !p.IsGroup && len(p.MemberIds) == 2 && p.MemberIds[0] == 1 && p.MemberIds[1] == 2
		})).Return(chat, nil).Once()
		db.On("GetChatMembers", chat.Id).Return(members, nil).Once()

		app := newTestApp(t, db)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/chats/direct", jsonBody(t, CreateDirectChatRequest{PeerId: 2}))
		req = req.WithContext(WithUserId(req.Context(), 1))
		app.createDirectChat(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("rejects chat with self", func(t *testing.T) {
		db := &database.MockMessengerRepository{}
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/chats/direct", jsonBody(t, CreateDirectChatRequest{PeerId: 1}))
		req = req.WithContext(WithUserId(req.Context(), 1))
		app.createDirectChat(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		db.AssertNotCalled(t, "FindDirectChat", mock.Anything, mock.Anything)
	})

	t.Run("unknown peer", func(t *testing.T) {
		db := &database.MockMessengerRepository{}
		defer db.AssertExpectations(t)
		db.On("GetAccountById", 99).Return(database.Account{}, database.ErrNotFound).Once()

		app := newTestApp(t, db)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/chats/direct", jsonBody(t, CreateDirectChatRequest{PeerId: 99}))
		req = req.WithContext(WithUserId(req.Context(), 1))
		app.createDirectChat(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func Test_createGroupChat(t *testing.T) {
	now := time.Now().UTC()
	chat := database.Chat{Id: 6, ExternalId: "grp456", Name: "team", IsGroup: true, CreatedAt: now, UpdatedAt: now}

	t.Run("creates group including the creator", func(t *testing.T) {
		db := &database.MockMessengerRepository{}
		defer db.AssertExpectations(t)
		db.On("GetAccountById", 1).Return(database.Account{Id: 1}, nil).Once()
		db.On("GetAccountById", 2).Return(database.Account{Id: 2}, nil).Once()
		db.On("GetAccountById", 3).Return(database.Account{Id: 3}, nil).Once()
		db.On("CreateChat", mock.MatchedBy(func(p database.CreateChatParams) bool {
			return p.IsGroup && p.Name == "team" && len(p.MemberIds) == 3 && p.MemberIds[0] == 1
		})).Return(chat, nil).Once()
		db.On("GetChatMembers", chat.Id).Return([]database.Account{{Id: 1}, {Id: 2}, {Id: 3}}, nil).Once()

		app := newTestApp(t, db)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/chats/group",
			jsonBody(t, CreateGroupChatRequest{Name: "team", MemberIds: []int{2, 3, 2}}))
		req = req.WithContext(WithUserId(req.Context(), 1))
		app.createGroupChat(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)
	})

	t.Run("rejects group with only the creator", func(t *testing.T) {
		db := &database.MockMessengerRepository{}
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/chats/group",
			jsonBody(t, CreateGroupChatRequest{Name: "solo", MemberIds: []int{1}}))
		req = req.WithContext(WithUserId(req.Context(), 1))
		app.createGroupChat(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		db.AssertNotCalled(t, "CreateChat", mock.Anything)
	})

	t.Run("rejects missing name", func(t *testing.T) {
		db := &database.MockMessengerRepository{}
		defer db.AssertExpectations(t)

		app := newTestApp(t, db)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/chats/group",
			jsonBody(t, CreateGroupChatRequest{MemberIds: []int{2}}))
		req = req.WithContext(WithUserId(req.Context(), 1))
		app.createGroupChat(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func Test_listChats(t *testing.T) {
	now := time.Now().UTC()
	chat := database.Chat{Id: 5, ExternalId: "dm123", CreatedAt: now, UpdatedAt: now}
	lastMsg := &database.Message{Id: 9, ChatId: chat.Id, SenderId: 2, Text: "latest", CreatedAt: now}

	db := &database.MockMessengerRepository{}
	defer db.AssertExpectations(t)
	db.On("ListChatsForAccount", 1).Return([]database.ChatSummary{
		{Chat: chat, LastMessage: lastMsg},
	}, nil).Once()
	db.On("GetChatMembers", chat.Id).Return([]database.Account{{Id: 1}, {Id: 2}}, nil).Once()

	app := newTestApp(t, db)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	req = req.WithContext(WithUserId(req.Context(), 1))
	app.listChats(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp []types.Chat
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Len(t, resp, 1)
	assert.Equal(t, chat.ExternalId, resp[0].Id)
	require.NotNil(t, resp[0].LastMessage, "expected last message on the chat summary")
	assert.Equal(t, "latest", resp[0].LastMessage.Text)
	assert.Equal(t, chat.ExternalId, resp[0].LastMessage.ChatId)
}

func Test_listMessages(t *testing.T) {
	now := time.Now().UTC()
	chat := database.Chat{Id: 5, ExternalId: "dm123"}

	t.Run("returns chat history", func(t *testing.T) {
		db := &database.MockMessengerRepository{}
		defer db.AssertExpectations(t)
		db.On("GetChatByExternalId", chat.ExternalId).Return(chat, nil).Once()
		db.On("IsChatMember", chat.Id, 1).Return(true).Once()
		db.On("GetMessages", chat.Id, 0).Return([]database.Message{
			{Id: 1, ChatId: chat.Id, SenderId: 1, Text: "hi", CreatedAt: now},
			{Id: 2, ChatId: chat.Id, SenderId: 2, Text: "hello", CreatedAt: now},
		}, nil).Once()

		app := newTestApp(t, db)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/messages?chat_id=dm123", nil)
		req = req.WithContext(WithUserId(req.Context(), 1))
		app.listMessages(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var resp []types.Message
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		require.Len(t, resp, 2)
		assert.Equal(t, chat.ExternalId, resp[0].ChatId, "expected external chat id on messages")
	})

	t.Run("supports incremental fetch", func(t *testing.T) {
		db := &database.MockMessengerRepository{}
		defer db.AssertExpectations(t)
		db.On("GetChatByExternalId", chat.ExternalId).Return(chat, nil).Once()
		db.On("IsChatMember", chat.Id, 1).Return(true).Once()
		db.On("GetMessages", chat.Id, 7).Return([]database.Message{}, nil).Once()

		app := newTestApp(t, db)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/messages?chat_id=dm123&after_id=7", nil)
		req = req.WithContext(WithUserId(req.Context(), 1))
		app.listMessages(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("forbids non-members", func(t *testing.T) {
		db := &database.MockMessengerRepository{}
		defer db.AssertExpectations(t)
		db.On("GetChatByExternalId", chat.ExternalId).Return(chat, nil).Once()
		db.On("IsChatMember", chat.Id, 3).Return(false).Once()

		app := newTestApp(t, db)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/messages?chat_id=dm123", nil)
		req = req.WithContext(WithUserId(req.Context(), 3))
		app.listMessages(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
		db.AssertNotCalled(t, "GetMessages", mock.Anything, mock.Anything)
	})

	t.Run("unknown chat", func(t *testing.T) {
		db := &database.MockMessengerRepository{}
		defer db.AssertExpectations(t)
		db.On("GetChatByExternalId", "nope").Return(database.Chat{}, database.ErrNotFound).Once()

		app := newTestApp(t, db)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/messages?chat_id=nope", nil)
		req = req.WithContext(WithUserId(req.Context(), 1))
		app.listMessages(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("requires chat id", func(t *testing.T) {
		app := newTestApp(t, &database.MockMessengerRepository{})
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
		req = req.WithContext(WithUserId(req.Context(), 1))
		app.listMessages(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func Test_session(t *testing.T) {
	t.Run("returns current account", func(t *testing.T) {
		db := &database.MockMessengerRepository{}
		defer db.AssertExpectations(t)
		db.On("GetAccountById", 1).Return(database.Account{Id: 1, Username: "testuser"}, nil).Once()

		app := newTestApp(t, db)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		req = req.WithContext(WithUserId(req.Context(), 1))
		app.session(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var resp types.Account
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, "testuser", resp.Username)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		app := newTestApp(t, &database.MockMessengerRepository{})
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		app.session(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}
