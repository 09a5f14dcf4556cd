package model

import (
	"encoding/json"
	"fmt"
)

// EncodeChat serializes a chat to the blob stored by every backend. A nil
// message list is written as []; c is left untouched.
func EncodeChat(c *ChatData) ([]byte, error) {
	out := *c
	if out.Messages == nil {
		out.Messages = []Message{}
	}
	b, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("encode chat: %w", err)
	}
	return b, nil
}

// DecodeChat parses a stored blob.
func DecodeChat(b []byte) (*ChatData, error) {
	var c ChatData
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("decode chat: %w", err)
	}
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	return &c, nil
}
