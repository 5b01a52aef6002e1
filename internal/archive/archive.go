package archive

import (
	"encoding/json"
	"time"

	"github.com/nortia-app/chatsync/internal/chat"
	"github.com/nortia-app/chatsync/internal/ident"
)

// UpsertChat inserts or updates a chat row (idempotent on the server id).
// Only server-confirmed chats belong in the archive.
func (db *DB) UpsertChat(c *chat.Chat) error {
	_, err := db.Exec(`
		INSERT INTO chats (id, kind, name, description, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			description = excluded.description,
			updated_at = MAX(updated_at, excluded.updated_at)`,
		c.ID.Server, string(c.Kind), c.Name, c.Description, c.UpdatedAt)
	return err
}

// UpsertMessage inserts or updates a message row (idempotent on chat id plus
// server message id).
func (db *DB) UpsertMessage(chatServerID string, m *chat.Message) error {
	readBy, err := json.Marshal(m.ReadBy)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO messages (chat_id, msg_id, sender, body, msg_kind, read_by, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, msg_id) DO UPDATE SET
			body = excluded.body,
			msg_kind = excluded.msg_kind,
			read_by = excluded.read_by`,
		chatServerID, m.ID.Server, m.Sender, m.Body, string(m.Kind), string(readBy),
		m.Timestamp, time.Now().UnixMilli())
	return err
}

// RecentChats returns the most recently updated chats, newest first.
func (db *DB) RecentChats(limit int) ([]*chat.Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, kind, name, description, updated_at
		FROM chats
		ORDER BY updated_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []*chat.Chat
	for rows.Next() {
		var (
			c    chat.Chat
			id   string
			kind string
		)
		if err := rows.Scan(&id, &kind, &c.Name, &c.Description, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.ID = ident.Server(id)
		c.Kind = chat.Kind(kind)
		c.Status = chat.StatusConfirmed
		chats = append(chats, &c)
	}
	return chats, rows.Err()
}

// RecentMessages returns the newest messages of a chat in ascending
// timestamp order, ready to feed the in-memory store.
func (db *DB) RecentMessages(chatServerID string, limit int) ([]*chat.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT msg_id, sender, body, msg_kind, read_by, timestamp
		FROM (
			SELECT msg_id, sender, body, msg_kind, read_by, timestamp
			FROM messages
			WHERE chat_id = ?
			ORDER BY timestamp DESC
			LIMIT ?
		)
		ORDER BY timestamp ASC`, chatServerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

// MessagesBefore returns messages older than the given timestamp using
// keyset pagination, ascending.
func (db *DB) MessagesBefore(chatServerID string, beforeTs int64, limit int) ([]*chat.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT msg_id, sender, body, msg_kind, read_by, timestamp
		FROM (
			SELECT msg_id, sender, body, msg_kind, read_by, timestamp
			FROM messages
			WHERE chat_id = ? AND timestamp < ?
			ORDER BY timestamp DESC
			LIMIT ?
		)
		ORDER BY timestamp ASC`, chatServerID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanMessages(rows rowScanner) ([]*chat.Message, error) {
	var msgs []*chat.Message
	for rows.Next() {
		var (
			m      chat.Message
			id     string
			kind   string
			readBy string
		)
		if err := rows.Scan(&id, &m.Sender, &m.Body, &kind, &readBy, &m.Timestamp); err != nil {
			return nil, err
		}
		m.ID = ident.Server(id)
		m.Kind = chat.MessageKind(kind)
		m.Status = chat.DeliverySent
		if err := json.Unmarshal([]byte(readBy), &m.ReadBy); err != nil {
			return nil, err
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}
