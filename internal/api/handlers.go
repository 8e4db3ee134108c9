package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avolkov/go-messenger/internal/database"
	"github.com/avolkov/go-messenger/internal/server"
	"github.com/avolkov/go-messenger/internal/types"
)

type RegisterRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=128"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type UpdateAccountRequest struct {
	Theme  string `json:"theme" validate:"omitempty,oneof=light dark"`
	Avatar string `json:"avatar" validate:"omitempty,max=256"`
}

type CreateDirectChatRequest struct {
	PeerId int `json:"peer_id" validate:"required"`
}

type CreateGroupChatRequest struct {
	Name      string `json:"name" validate:"required,max=128"`
	MemberIds []int  `json:"member_ids" validate:"required,min=1"`
}

type SendMessageRequest struct {
	ChatId string `json:"chat_id" validate:"required"`
	Text   string `json:"text" validate:"required_without=Media"`
	Media  string `json:"media" validate:"omitempty,max=256"`
	// ConnectionId optionally names the sender's live connection so it
	// is excluded from fanout.
	ConnectionId string `json:"connection_id"`
}

type SearchUsersRequest struct {
	Query string `json:"query" validate:"required"`
}

func (a *MessengerApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Printf("json encode: %v", err)
	}
}

func (a *MessengerApp) decodeAndValidate(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}

	return a.validate.Struct(v)
}

func accountResponse(a database.Account) types.Account {
	return types.Account{
		Id:        a.Id,
		Username:  a.Username,
		Theme:     a.Theme,
		Avatar:    a.Avatar,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func (a *MessengerApp) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		errResp := NewBadRequestError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		errResp := NewInternalServerError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	newAccount, err := a.db.CreateAccount(database.CreateAccountParams{
		Username:     req.Username,
		PasswordHash: pwdHash,
	})
	if err != nil {
		errResp := errorResponse(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// registering establishes a session immediately
	token, err := a.createJwtForSession(newAccount.Id, defaultJwtExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))
	a.writeJson(w, http.StatusCreated, accountResponse(newAccount))
}

func (a *MessengerApp) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		errResp := NewBadRequestError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbAccount, err := a.db.GetAccountByUsername(req.Username)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrNotFound) {
			errResp = NewUnauthorizedError()
		} else {
			errResp = NewInternalServerError(err)
		}
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !verifyPassword(dbAccount.PasswordHash, req.Password) {
		errResp := NewUnauthorizedError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token, err := a.createJwtForSession(dbAccount.Id, defaultJwtExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))
	a.writeJson(w, http.StatusOK, accountResponse(dbAccount))
}

func (a *MessengerApp) logout(w http.ResponseWriter, _ *http.Request) {
	// instruct browser to delete cookie by overwriting it with an expired token
	http.SetCookie(w, createJwtCookie("", -time.Hour))
	w.WriteHeader(http.StatusNoContent)
}

func (a *MessengerApp) session(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	account, err := a.db.GetAccountById(userId)
	if err != nil {
		errResp := errorResponse(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	a.writeJson(w, http.StatusOK, accountResponse(account))
}

func (a *MessengerApp) updateAccount(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req UpdateAccountRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		errResp := NewBadRequestError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	account, err := a.db.UpdateAccountPrefs(database.UpdateAccountPrefsParams{
		AccountId: userId,
		Theme:     req.Theme,
		Avatar:    req.Avatar,
	})
	if err != nil {
		errResp := errorResponse(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	a.writeJson(w, http.StatusOK, accountResponse(account))
}

func (a *MessengerApp) chatResponse(chat database.Chat, lastMessage *database.Message) (types.Chat, error) {
	members, err := a.db.GetChatMembers(chat.Id)
	if err != nil {
		return types.Chat{}, err
	}

	resp := types.Chat{
		Id:        chat.ExternalId,
		Name:      chat.Name,
		IsGroup:   chat.IsGroup,
		CreatedAt: chat.CreatedAt,
		UpdatedAt: chat.UpdatedAt,
	}

	for _, member := range members {
		resp.Members = append(resp.Members, accountResponse(member))
	}

	if lastMessage != nil {
		resp.LastMessage = &types.Message{
			Id:        lastMessage.Id,
			ChatId:    chat.ExternalId,
			SenderId:  lastMessage.SenderId,
			Text:      lastMessage.Text,
			Media:     lastMessage.Media,
			Timestamp: lastMessage.CreatedAt,
		}
	}

	return resp, nil
}

func (a *MessengerApp) listChats(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	summaries, err := a.db.ListChatsForAccount(userId)
	if err != nil {
		a.log.Println("list chats:", err)
		errResp := NewInternalServerError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	chats := make([]types.Chat, 0, len(summaries))
	for _, summary := range summaries {
		chat, err := a.chatResponse(summary.Chat, summary.LastMessage)
		if err != nil {
			errResp := NewInternalServerError(err)
			a.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		chats = append(chats, chat)
	}

	a.writeJson(w, http.StatusOK, chats)
}

// createDirectChat finds or creates the unique non-group chat for the
// caller and a peer. The pair is canonicalized by ascending account id
// so lookup is symmetric in argument order.
func (a *MessengerApp) createDirectChat(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateDirectChatRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		errResp := NewBadRequestError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.PeerId == userId {
		errResp := NewBadRequestMessageError("cannot chat with self")
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, err := a.db.GetAccountById(req.PeerId); err != nil {
		errResp := errorResponse(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	first, second := userId, req.PeerId
	if second < first {
		first, second = second, first
	}

	chat, err := a.db.FindDirectChat(first, second)
	if errors.Is(err, database.ErrNotFound) {
		sid, idErr := a.generateChatId()
		if idErr != nil {
			errResp := NewInternalServerError(idErr)
			a.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		chat, err = a.db.CreateChat(database.CreateChatParams{
			ExternalId: sid,
			IsGroup:    false,
			MemberIds:  []int{first, second},
		})
	}
	if err != nil {
		errResp := errorResponse(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	resp, err := a.chatResponse(chat, nil)
	if err != nil {
		errResp := NewInternalServerError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	a.writeJson(w, http.StatusOK, resp)
}

func (a *MessengerApp) createGroupChat(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateGroupChatRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		errResp := NewBadRequestError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	memberIds := []int{userId}
	for _, id := range req.MemberIds {
		if !slices.Contains(memberIds, id) {
			memberIds = append(memberIds, id)
		}
	}

	if len(memberIds) < 2 {
		errResp := NewBadRequestMessageError("group requires at least two members")
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	for _, id := range memberIds {
		if _, err := a.db.GetAccountById(id); err != nil {
			errResp := errorResponse(err)
			a.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	sid, err := a.generateChatId()
	if err != nil {
		errResp := NewInternalServerError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	chat, err := a.db.CreateChat(database.CreateChatParams{
		ExternalId: sid,
		Name:       req.Name,
		IsGroup:    true,
		MemberIds:  memberIds,
	})
	if err != nil {
		errResp := errorResponse(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	resp, err := a.chatResponse(chat, nil)
	if err != nil {
		errResp := NewInternalServerError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	a.writeJson(w, http.StatusCreated, resp)
}

func (a *MessengerApp) listMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId := r.URL.Query().Get("chat_id")
	if externalId == "" {
		errResp := NewBadRequestError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	chat, err := a.db.GetChatByExternalId(externalId)
	if err != nil {
		errResp := errorResponse(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !a.db.IsChatMember(chat.Id, userId) {
		errResp := NewForbiddenError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var afterId int
	if afterStr := r.URL.Query().Get("after_id"); afterStr != "" {
		afterId, err = strconv.Atoi(afterStr)
		if err != nil {
			errResp := NewBadRequestError()
			a.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	messages, err := a.db.GetMessages(chat.Id, afterId)
	if err != nil {
		errResp := NewInternalServerError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	userMessages := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		userMessages = append(userMessages, types.Message{
			Id:        msg.Id,
			ChatId:    chat.ExternalId,
			SenderId:  msg.SenderId,
			Text:      msg.Text,
			Media:     msg.Media,
			Timestamp: msg.CreatedAt,
		})
	}

	a.writeJson(w, http.StatusOK, userMessages)
}

func (a *MessengerApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req SendMessageRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		errResp := NewBadRequestError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := a.cs.PublishMessage(r.Context(), req.ChatId, userId, req.Text, req.Media, req.ConnectionId)
	if err != nil {
		errResp := errorResponse(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	a.writeJson(w, http.StatusCreated, msg)
}

func (a *MessengerApp) searchUsers(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req SearchUsersRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		errResp := NewBadRequestMessageError("empty query")
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	accounts, err := a.db.SearchAccounts(req.Query, userId, 10)
	if err != nil {
		errResp := NewInternalServerError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	users := make([]types.Account, 0, len(accounts))
	for _, account := range accounts {
		users = append(users, accountResponse(account))
	}

	a.writeJson(w, http.StatusOK, map[string]any{"users": users})
}

func (a *MessengerApp) healthCheck(w http.ResponseWriter, _ *http.Request) {
	if err := a.db.Ping(); err != nil {
		a.log.Println("health check:", err)
		errResp := NewInternalServerError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (a *MessengerApp) serveWs(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	account, err := a.db.GetAccountById(userId)
	if err != nil {
		errResp := errorResponse(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(a.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(accountResponse(account), conn, a.cs, a.log)
	a.cs.RegisterClient(client)

	go client.Write()
	go client.Read()
}
