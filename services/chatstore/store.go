// Package chatstore persists chat sessions as a single JSON blob per id.
//
// Writes never fail a conversation: backend errors are logged and the caller
// carries on without durable history.
package chatstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/sahilchouksey/askable/model"
)

var (
	ErrChatNotFound = errors.New("chat not found")
	ErrPersistence  = errors.New("chat persistence failed")
)

// Backend stores encoded chats. Append must add msg atomically with respect
// to other Appends where the store allows it; when id is missing it creates
// the record from fallback.
type Backend interface {
	Put(ctx context.Context, id string, chat *model.ChatData) error
	Get(ctx context.Context, id string) (*model.ChatData, error)
	Append(ctx context.Context, id string, msg model.Message, fallback *model.ChatData) error
}

// Titler produces a chat title. Implementations never fail.
type Titler interface {
	GenerateTitle(ctx context.Context, columns []string, question string) string
}

type CreateParams struct {
	UserQuestion string
	CSVHeaders   []string
	CSVRows      []map[string]string
	CSVFileURL   string
}

// HistoryItem is one sidebar entry.
type HistoryItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

type Store struct {
	backend Backend
	titler  Titler
	now     func() time.Time
}

func New(backend Backend, titler Titler) *Store {
	return &Store{backend: backend, titler: titler, now: time.Now}
}

// Create allocates an id and persists an empty chat. The id is usable even
// when the insert fails: the first AppendMessage recreates the record.
func (s *Store) Create(ctx context.Context, p CreateParams) string {
	id := uuid.NewString()

	title := ""
	if s.titler != nil {
		title = s.titler.GenerateTitle(ctx, p.CSVHeaders, p.UserQuestion)
	}
	if title == "" {
		title = FallbackTitle(p.UserQuestion)
	}

	created := s.now().UTC()
	chat := &model.ChatData{
		Messages:   []model.Message{},
		CSVFileURL: p.CSVFileURL,
		CSVHeaders: p.CSVHeaders,
		CSVRows:    p.CSVRows,
		Title:      title,
		CreatedAt:  &created,
	}
	if err := s.backend.Put(ctx, id, chat); err != nil {
		log.Errorw("failed to persist new chat", "chat_id", id, "error", err)
	}
	return id
}

// Load returns ErrChatNotFound for unknown ids and wraps ErrPersistence when
// the backend fails.
func (s *Store) Load(ctx context.Context, id string) (*model.ChatData, error) {
	chat, err := s.backend.Get(ctx, id)
	if errors.Is(err, ErrChatNotFound) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		log.Errorw("failed to load chat", "chat_id", id, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return chat, nil
}

// AppendMessage reports whether the message was persisted.
func (s *Store) AppendMessage(ctx context.Context, id string, msg model.Message, fallback *model.ChatData) bool {
	if err := s.backend.Append(ctx, id, msg, fallback); err != nil {
		log.Errorw("failed to append chat message", "chat_id", id, "message_id", msg.ID, "role", msg.Role, "error", err)
		return false
	}
	return true
}

// History lists the given chats newest first, skipping unknown ids.
func (s *Store) History(ctx context.Context, ids []string) []HistoryItem {
	items := make([]HistoryItem, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		chat, err := s.Load(ctx, id)
		if err != nil {
			continue
		}
		item := HistoryItem{ID: id, Title: chat.Title}
		if item.Title == "" {
			item.Title = FallbackTitle(chat.FirstUserText())
		}
		if chat.CreatedAt != nil {
			item.CreatedAt = *chat.CreatedAt
		} else if len(chat.Messages) > 0 {
			item.CreatedAt = chat.Messages[0].CreatedAt
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items
}

const maxFallbackTitle = 50

// FallbackTitle truncates the question to a short title.
func FallbackTitle(question string) string {
	q := strings.Join(strings.Fields(question), " ")
	if q == "" {
		return "Untitled chat"
	}
	if utf8.RuneCountInString(q) <= maxFallbackTitle {
		return q
	}
	r := []rune(q)
	return strings.TrimSpace(string(r[:maxFallbackTitle])) + "…"
}

// applyAppend is the append-or-create rule shared by every backend.
func applyAppend(existing *model.ChatData, msg model.Message, fallback *model.ChatData) *model.ChatData {
	if existing == nil {
		chat := &model.ChatData{Messages: []model.Message{msg}}
		if fallback != nil {
			chat.BackfillDataset(fallback)
			chat.Title = fallback.Title
			chat.CreatedAt = fallback.CreatedAt
		}
		return chat
	}
	existing.BackfillDataset(fallback)
	existing.Messages = append(existing.Messages, msg)
	return existing
}
