package database

import (
	"database/sql"
	"fmt"
	"time"
)

func (db *PgMessengerRepository) CreateAccount(params CreateAccountParams) (Account, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $3) RETURNING id, username, theme, created_at, updated_at",
		params.Username,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var a Account
	err := res.Scan(
		&a.Id,
		&a.Username,
		&a.Theme,
		&a.CreatedAt,
		&a.UpdatedAt,
	)

	return a, translateErr(err)
}

func (db *PgMessengerRepository) GetAccountById(accountId int) (Account, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, password_hash, theme, COALESCE(avatar, ''), created_at, updated_at "+
			"FROM accounts WHERE id = $1 LIMIT 1",
		accountId,
	)

	return scanAccount(row)
}

func (db *PgMessengerRepository) GetAccountByUsername(username string) (Account, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, password_hash, theme, COALESCE(avatar, ''), created_at, updated_at "+
			"FROM accounts WHERE username = $1 LIMIT 1",
		username,
	)

	return scanAccount(row)
}

func scanAccount(row *sql.Row) (Account, error) {
	var a Account
	err := row.Scan(
		&a.Id,
		&a.Username,
		&a.PasswordHash,
		&a.Theme,
		&a.Avatar,
		&a.CreatedAt,
		&a.UpdatedAt,
	)

	return a, translateErr(err)
}

func (db *PgMessengerRepository) UpdateAccountPrefs(params UpdateAccountPrefsParams) (Account, error) {
	res := db.conn.QueryRow(
		"UPDATE accounts SET theme = $2, avatar = $3, updated_at = $4 "+
			"WHERE id = $1 RETURNING id, username, theme, COALESCE(avatar, ''), created_at, updated_at",
		params.AccountId,
		params.Theme,
		params.Avatar,
		time.Now().UTC(),
	)

	var a Account
	err := res.Scan(
		&a.Id,
		&a.Username,
		&a.Theme,
		&a.Avatar,
		&a.CreatedAt,
		&a.UpdatedAt,
	)

	return a, translateErr(err)
}

// SearchAccounts returns an exact username match when one exists, otherwise
// case-insensitive substring candidates ordered by username.
func (db *PgMessengerRepository) SearchAccounts(query string, excludeId, limit int) ([]Account, error) {
	if limit <= 0 {
		limit = 10
	}

	exact, err := db.GetAccountByUsername(query)
	if err == nil && exact.Id != excludeId {
		return []Account{exact}, nil
	}
	if err != nil && err != ErrNotFound {
		return nil, err
	}

	rows, err := db.conn.Query(
		"SELECT id, username, theme, COALESCE(avatar, '') FROM accounts "+
			"WHERE username ILIKE '%' || $1 || '%' AND id != $2 ORDER BY username LIMIT $3",
		query,
		excludeId,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]Account, 0, limit)
	for rows.Next() {
		var a Account
		if err = rows.Scan(&a.Id, &a.Username, &a.Theme, &a.Avatar); err != nil {
			return nil, err
		}

		accounts = append(accounts, a)
	}

	return accounts, rows.Err()
}

// CreateChat inserts the chat and its full membership set in one
// transaction, so no chat is ever visible without members.
func (db *PgMessengerRepository) CreateChat(params CreateChatParams) (Chat, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Chat{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res := tx.QueryRow(
		"INSERT INTO chats (external_id, name, is_group, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4) RETURNING id, external_id, name, is_group, created_at, updated_at",
		params.ExternalId,
		params.Name,
		params.IsGroup,
		time.Now().UTC(),
	)

	var chat Chat
	err = res.Scan(
		&chat.Id,
		&chat.ExternalId,
		&chat.Name,
		&chat.IsGroup,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		return Chat{}, translateErr(err)
	}

	for _, memberId := range params.MemberIds {
		_, err = tx.Exec(
			"INSERT INTO chat_members (chat_id, account_id, created_at) VALUES ($1, $2, $3)",
			chat.Id,
			memberId,
			time.Now().UTC(),
		)
		if err != nil {
			return Chat{}, translateErr(err)
		}
	}

	if err = tx.Commit(); err != nil {
		return Chat{}, err
	}

	return chat, nil
}

func (db *PgMessengerRepository) GetChatById(id int) (Chat, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, name, is_group, created_at, updated_at FROM chats "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	return scanChat(row)
}

func (db *PgMessengerRepository) GetChatByExternalId(externalId string) (Chat, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, name, is_group, created_at, updated_at FROM chats "+
			"WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	return scanChat(row)
}

func scanChat(row *sql.Row) (Chat, error) {
	var chat Chat
	err := row.Scan(
		&chat.Id,
		&chat.ExternalId,
		&chat.Name,
		&chat.IsGroup,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)

	return chat, translateErr(err)
}

// FindDirectChat looks up the non-group chat containing both accounts.
// Direct chats always have exactly two members, so matching both
// memberships identifies the pair chat.
func (db *PgMessengerRepository) FindDirectChat(accountA, accountB int) (Chat, error) {
	row := db.conn.QueryRow(
		"SELECT c.id, c.external_id, c.name, c.is_group, c.created_at, c.updated_at FROM chats c "+
			"JOIN chat_members ma ON ma.chat_id = c.id AND ma.account_id = $1 "+
			"JOIN chat_members mb ON mb.chat_id = c.id AND mb.account_id = $2 "+
			"WHERE c.is_group = FALSE LIMIT 1",
		accountA,
		accountB,
	)

	return scanChat(row)
}

// ListChatsForAccount returns every chat the account is a member of,
// annotated with the latest message. Ordering is most recent message
// first, chats without messages last, ties broken by chat id.
func (db *PgMessengerRepository) ListChatsForAccount(accountId int) ([]ChatSummary, error) {
	query := `
		SELECT
				c.id,
				c.external_id,
				c.name,
				c.is_group,
				c.created_at,
				c.updated_at,
				lm.id,
				lm.sender_id,
				lm.text,
				lm.media,
				lm.created_at
		FROM chats c
		JOIN chat_members cm ON cm.chat_id = c.id AND cm.account_id = $1
		LEFT JOIN LATERAL (
				SELECT id, sender_id, COALESCE(text, '') AS text, COALESCE(media, '') AS media, created_at
				FROM messages
				WHERE chat_id = c.id
				ORDER BY created_at DESC, id DESC
				LIMIT 1
		) lm ON TRUE
		ORDER BY lm.created_at DESC NULLS LAST, c.id ASC;
`

	rows, err := db.conn.Query(query, accountId)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	var summaries []ChatSummary
	for rows.Next() {
		var (
			summary       ChatSummary
			lastId        sql.NullInt64
			lastSenderId  sql.NullInt64
			lastText      sql.NullString
			lastMedia     sql.NullString
			lastCreatedAt sql.NullTime
		)

		err := rows.Scan(
			&summary.Id,
			&summary.ExternalId,
			&summary.Name,
			&summary.IsGroup,
			&summary.CreatedAt,
			&summary.UpdatedAt,
			&lastId,
			&lastSenderId,
			&lastText,
			&lastMedia,
			&lastCreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		if lastId.Valid {
			summary.LastMessage = &Message{
				Id:        int(lastId.Int64),
				ChatId:    summary.Chat.Id,
				SenderId:  int(lastSenderId.Int64),
				Text:      lastText.String,
				Media:     lastMedia.String,
				CreatedAt: lastCreatedAt.Time,
			}
		}

		summaries = append(summaries, summary)
	}

	return summaries, rows.Err()
}

func (db *PgMessengerRepository) GetChatMembers(chatId int) ([]Account, error) {
	rows, err := db.conn.Query(
		"SELECT a.id, a.username, a.theme, COALESCE(a.avatar, '') FROM chat_members AS m "+
			"JOIN accounts AS a ON m.account_id = a.id WHERE m.chat_id = $1 ORDER BY a.id",
		chatId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members = make([]Account, 0)
	for rows.Next() {
		var a Account
		if err = rows.Scan(&a.Id, &a.Username, &a.Theme, &a.Avatar); err != nil {
			return nil, err
		}

		members = append(members, a)
	}

	return members, rows.Err()
}

func (db *PgMessengerRepository) IsChatMember(chatId, accountId int) bool {
	res := db.conn.QueryRow(
		"SELECT 1 FROM chat_members WHERE chat_id = $1 AND account_id = $2 LIMIT 1",
		chatId,
		accountId,
	)

	var one int
	return res.Scan(&one) == nil
}

func (db *PgMessengerRepository) CreateMessage(msg Message) (Message, error) {
	res := db.conn.QueryRow(
		"INSERT INTO messages (chat_id, sender_id, text, media, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id",
		msg.ChatId,
		msg.SenderId,
		msg.Text,
		msg.Media,
		msg.CreatedAt,
	)

	err := res.Scan(&msg.Id)
	return msg, translateErr(err)
}

// GetMessages returns the chat history ascending by (created_at, id).
// When afterId is set, only messages ordered after that message are
// returned, which lets a reconnecting client catch up.
func (db *PgMessengerRepository) GetMessages(chatId, afterId int) ([]Message, error) {
	rows, err := db.conn.Query(
		"SELECT m.id, m.chat_id, m.sender_id, COALESCE(m.text, ''), COALESCE(m.media, ''), m.created_at "+
			"FROM messages m WHERE m.chat_id = $1 AND ($2 = 0 OR (m.created_at, m.id) > "+
			"(SELECT created_at, id FROM messages WHERE id = $2)) "+
			"ORDER BY m.created_at ASC, m.id ASC",
		chatId,
		afterId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0)
	for rows.Next() {
		var msg Message
		if err = rows.Scan(&msg.Id, &msg.ChatId, &msg.SenderId, &msg.Text, &msg.Media, &msg.CreatedAt); err != nil {
			return nil, err
		}

		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (db *PgMessengerRepository) LastMessageTime(chatId int) (time.Time, error) {
	row := db.conn.QueryRow(
		"SELECT COALESCE(MAX(created_at), 'epoch'::timestamptz) FROM messages WHERE chat_id = $1",
		chatId,
	)

	var t time.Time
	err := row.Scan(&t)
	return t, err
}
