package chatstore

import (
	"context"
	"errors"

	"github.com/sahilchouksey/askable/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GORMBackend stores chats in the chats table (jsonb data column).
type GORMBackend struct {
	db *gorm.DB
}

func NewGORMBackend(db *gorm.DB) *GORMBackend {
	return &GORMBackend{db: db}
}

func (b *GORMBackend) Put(ctx context.Context, id string, chat *model.ChatData) error {
	return b.upsert(b.db.WithContext(ctx), id, chat)
}

func (b *GORMBackend) Get(ctx context.Context, id string) (*model.ChatData, error) {
	var rec model.ChatRecord
	err := b.db.WithContext(ctx).Take(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, err
	}
	return model.DecodeChat(rec.Data)
}

// Append locks the row for the duration of the read-modify-write.
func (b *GORMBackend) Append(ctx context.Context, id string, msg model.Message, fallback *model.ChatData) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing *model.ChatData

		var rec model.ChatRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&rec, "id = ?", id).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return err
		default:
			chat, err := model.DecodeChat(rec.Data)
			if err != nil {
				return err
			}
			existing = chat
		}

		return b.upsert(tx, id, applyAppend(existing, msg, fallback))
	})
}

func (b *GORMBackend) upsert(db *gorm.DB, id string, chat *model.ChatData) error {
	data, err := model.EncodeChat(chat)
	if err != nil {
		return err
	}
	rec := model.ChatRecord{ID: id, Data: datatypes.JSON(data)}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&rec).Error
}
