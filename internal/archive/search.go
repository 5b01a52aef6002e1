package archive

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nortia-app/chatsync/internal/chat"
	"github.com/nortia-app/chatsync/internal/ident"
)

// ErrSearchUnavailable is returned by Search when the full-text index was
// never built, which happens when the linked SQLite lacks the fts5 extension.
var ErrSearchUnavailable = errors.New("full-text search unavailable: sqlite built without fts5")

// SearchResult is one full-text hit with a highlighted snippet.
type SearchResult struct {
	ChatID  string
	Message *chat.Message
	Snippet string
}

// searchSchema is applied outside the migration chain: mattn/go-sqlite3 only
// compiles the fts5 extension behind the sqlite_fts5 build tag, and the
// archive must keep mirroring and paging history on builds without it.
var searchSchema = []string{
	`CREATE VIRTUAL TABLE messages_fts USING fts5(
		body,
		content='messages',
		content_rowid='id'
	)`,
	`CREATE TRIGGER messages_fts_ai AFTER INSERT ON messages BEGIN
		INSERT INTO messages_fts(rowid, body) VALUES (new.id, new.body);
	END`,
	`CREATE TRIGGER messages_fts_ad AFTER DELETE ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, body) VALUES ('delete', old.id, old.body);
	END`,
	`CREATE TRIGGER messages_fts_au AFTER UPDATE ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, body) VALUES ('delete', old.id, old.body);
		INSERT INTO messages_fts(rowid, body) VALUES (new.id, new.body);
	END`,
	`INSERT INTO messages_fts(messages_fts) VALUES ('rebuild')`,
}

// EnsureSearch builds the full-text index over message bodies, including a
// rebuild that picks up rows archived before the index existed. It detects
// the fts5 extension at runtime; on builds without it the error is the
// caller's signal to run without search, nothing else in the archive is
// affected.
func (db *DB) EnsureSearch() error {
	var name string
	err := db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'messages_fts'`,
	).Scan(&name)
	if err == nil {
		db.search = true
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check search index: %w", err)
	}

	for _, stmt := range searchSchema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("build search index: %w", err)
		}
	}
	db.search = true
	return nil
}

// Search performs a full-text search on archived message bodies. An empty
// chatID searches every chat.
func (db *DB) Search(query, chatID string, limit int) ([]SearchResult, error) {
	if !db.search {
		return nil, ErrSearchUnavailable
	}
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.chat_id, m.msg_id, m.sender, m.body, m.msg_kind, m.read_by, m.timestamp,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if chatID != "" {
		q += " AND m.chat_id = ?"
		args = append(args, chatID)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var (
			r      SearchResult
			m      chat.Message
			id     string
			kind   string
			readBy string
		)
		if err := rows.Scan(&r.ChatID, &id, &m.Sender, &m.Body, &kind, &readBy, &m.Timestamp, &r.Snippet); err != nil {
			return nil, err
		}
		m.ID = ident.Server(id)
		m.Kind = chat.MessageKind(kind)
		m.Status = chat.DeliverySent
		if err := json.Unmarshal([]byte(readBy), &m.ReadBy); err != nil {
			return nil, err
		}
		r.Message = &m
		results = append(results, r)
	}
	return results, rows.Err()
}
