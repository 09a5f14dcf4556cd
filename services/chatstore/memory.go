package chatstore

import (
	"context"
	"sync"

	"github.com/sahilchouksey/askable/model"
)

// MemoryBackend keeps encoded blobs in a map. Used when no store is
// configured and in tests.
type MemoryBackend struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{blobs: make(map[string][]byte)}
}

func (b *MemoryBackend) Put(_ context.Context, id string, chat *model.ChatData) error {
	data, err := model.EncodeChat(chat)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.blobs[id] = data
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Get(_ context.Context, id string) (*model.ChatData, error) {
	b.mu.Lock()
	data, ok := b.blobs[id]
	b.mu.Unlock()
	if !ok {
		return nil, ErrChatNotFound
	}
	return model.DecodeChat(data)
}

func (b *MemoryBackend) Append(_ context.Context, id string, msg model.Message, fallback *model.ChatData) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var existing *model.ChatData
	if data, ok := b.blobs[id]; ok {
		chat, err := model.DecodeChat(data)
		if err != nil {
			return err
		}
		existing = chat
	}

	data, err := model.EncodeChat(applyAppend(existing, msg, fallback))
	if err != nil {
		return err
	}
	b.blobs[id] = data
	return nil
}
