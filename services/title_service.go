package services

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/sahilchouksey/askable/services/chatstore"
	"github.com/sahilchouksey/askable/services/llm"
)

const (
	DefaultTitleModel = "meta-llama/Llama-3.3-70B-Instruct-Turbo"
	titleMaxTokens    = 100
	titleMaxWords     = 5
)

// TitleService names new chats from the dataset columns and first question.
type TitleService struct {
	registry *llm.Registry
	model    string
}

func NewTitleService(registry *llm.Registry, model string) *TitleService {
	if model == "" {
		model = DefaultTitleModel
	}
	return &TitleService{registry: registry, model: model}
}

// GenerateTitle never fails; any provider problem yields the truncated
// question instead.
func (s *TitleService) GenerateTitle(ctx context.Context, columns []string, question string) string {
	fallback := chatstore.FallbackTitle(question)
	if s == nil || s.registry == nil {
		return fallback
	}

	provider, modelID, err := s.registry.ForModel(s.model)
	if err != nil {
		log.Warnw("title provider unavailable", "model", s.model, "error", err)
		return fallback
	}

	resp, err := provider.Complete(ctx, llm.Request{
		Model:     modelID,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: TitlePrompt(columns, question)}},
		MaxTokens: titleMaxTokens,
	})
	if err != nil {
		log.Warnw("title generation failed, using fallback",
			"model", modelID,
			"error", llm.Serialize(err),
		)
		return fallback
	}

	title := cleanTitle(resp.Text)
	if title == "" {
		return fallback
	}
	return title
}

func cleanTitle(raw string) string {
	line := strings.TrimSpace(raw)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	line = strings.Trim(line, "\"'`*# ")
	line = strings.TrimPrefix(line, "Title:")
	words := strings.Fields(line)
	if len(words) > titleMaxWords {
		words = words[:titleMaxWords]
	}
	return strings.Join(words, " ")
}
