package model

import (
	"time"
)

// MessageRole represents the role of the message sender
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// ToolState is the lifecycle of a code execution attached to a message.
type ToolState string

const (
	ToolStateStart  ToolState = "start"
	ToolStateResult ToolState = "result"
)

// RunCodeTool is the tool name recorded for code executions.
const RunCodeTool = "runCode"

// ToolArgs holds the code submitted for execution. It is never changed after
// the tool call is created.
type ToolArgs struct {
	Code string `json:"code"`
}

// ToolCall is the structured payload of an execution message.
type ToolCall struct {
	ToolName string           `json:"toolName"`
	State    ToolState        `json:"state"`
	Args     ToolArgs         `json:"args"`
	Result   *ExecutionResult `json:"result,omitempty"`
}

// Message is one entry of a chat's append-only log.
type Message struct {
	ID                    string      `json:"id"`
	Role                  MessageRole `json:"role"`
	Content               string      `json:"content"`
	CreatedAt             time.Time   `json:"createdAt"`
	Duration              *float64    `json:"duration,omitempty"`
	Model                 string      `json:"model,omitempty"`
	IsAutoErrorResolution bool        `json:"isAutoErrorResolution,omitempty"`
	ToolCall              *ToolCall   `json:"toolCall,omitempty"`
}

// ChatData is the persisted blob of a chat, identical for every store.
type ChatData struct {
	Messages   []Message           `json:"messages"`
	CSVFileURL string              `json:"csvFileUrl,omitempty"`
	CSVHeaders []string            `json:"csvHeaders,omitempty"`
	CSVRows    []map[string]string `json:"csvRows,omitempty"`
	Title      string              `json:"title,omitempty"`
	CreatedAt  *time.Time          `json:"createdAt,omitempty"`
}

// HasDataset reports whether any dataset metadata is attached.
func (c *ChatData) HasDataset() bool {
	return c.CSVFileURL != "" || len(c.CSVHeaders) > 0 || len(c.CSVRows) > 0
}

// BackfillDataset copies dataset fields from src when c has none.
func (c *ChatData) BackfillDataset(src *ChatData) bool {
	if src == nil || c.HasDataset() || !src.HasDataset() {
		return false
	}
	c.CSVFileURL = src.CSVFileURL
	c.CSVHeaders = src.CSVHeaders
	c.CSVRows = src.CSVRows
	return true
}

// TrailingAutoResolutions counts the consecutive synthetic retry messages at
// the end of the user-authored part of the log.
func (c *ChatData) TrailingAutoResolutions() int {
	n := 0
	for i := len(c.Messages) - 1; i >= 0; i-- {
		m := c.Messages[i]
		if m.Role != MessageRoleUser {
			continue
		}
		if !m.IsAutoErrorResolution {
			break
		}
		n++
	}
	return n
}

// FirstUserText returns the content of the first user message.
func (c *ChatData) FirstUserText() string {
	for _, m := range c.Messages {
		if m.Role == MessageRoleUser && m.Content != "" {
			return m.Content
		}
	}
	return ""
}

// Seconds converts an elapsed duration to the persisted float form.
func Seconds(d time.Duration) *float64 {
	s := d.Seconds()
	return &s
}
