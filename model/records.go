package model

import (
	"time"

	"gorm.io/datatypes"
)

// ChatRecord is a row of the chats table: the chat id and its JSON blob.
type ChatRecord struct {
	ID        string         `gorm:"type:varchar(64);primaryKey" json:"id"`
	Data      datatypes.JSON `gorm:"type:jsonb;not null" json:"data"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (ChatRecord) TableName() string {
	return "chats"
}

// QuotaCounter is a row of the rate_limits table: messages consumed by one
// identity inside one fixed window.
type QuotaCounter struct {
	Identity    string    `gorm:"type:varchar(255);primaryKey" json:"identity"`
	WindowStart time.Time `gorm:"primaryKey" json:"window_start"`
	Count       int64     `gorm:"not null;default:0" json:"count"`
	ExpiresAt   time.Time `gorm:"index" json:"expires_at"`
}

func (QuotaCounter) TableName() string {
	return "rate_limits"
}
