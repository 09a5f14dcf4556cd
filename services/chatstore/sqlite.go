package chatstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/sahilchouksey/askable/model"
)

// SQLiteBackend stores chats in a chats(id, data) table through database/sql.
type SQLiteBackend struct {
	db *sql.DB
}

func NewSQLiteBackend(db *sql.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

const upsertChat = `
	INSERT INTO chats (id, data, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT (id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`

func (b *SQLiteBackend) Put(ctx context.Context, id string, chat *model.ChatData) error {
	data, err := model.EncodeChat(chat)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx, upsertChat, id, string(data))
	return err
}

func (b *SQLiteBackend) Get(ctx context.Context, id string) (*model.ChatData, error) {
	var data string
	err := b.db.QueryRowContext(ctx, `SELECT data FROM chats WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, err
	}
	return model.DecodeChat([]byte(data))
}

func (b *SQLiteBackend) Append(ctx context.Context, id string, msg model.Message, fallback *model.ChatData) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var existing *model.ChatData
	var data string
	err = tx.QueryRowContext(ctx, `SELECT data FROM chats WHERE id = ?`, id).Scan(&data)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return err
	default:
		chat, err := model.DecodeChat([]byte(data))
		if err != nil {
			return err
		}
		existing = chat
	}

	next, err := model.EncodeChat(applyAppend(existing, msg, fallback))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, upsertChat, id, string(next)); err != nil {
		return err
	}
	return tx.Commit()
}
