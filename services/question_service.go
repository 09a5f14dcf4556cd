package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/sahilchouksey/askable/services/llm"
	"github.com/sahilchouksey/askable/utils"
)

const MaxQuestions = 3

var (
	ErrNoColumns          = errors.New("columns are required")
	ErrMalformedQuestions = errors.New("model returned malformed questions")
)

const questionsSchema = `{
	"type": "array",
	"minItems": 1,
	"items": {
		"type": "object",
		"required": ["text"],
		"properties": {
			"id": {"type": ["string", "number"]},
			"text": {"type": "string", "minLength": 1}
		}
	}
}`

type Question struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// QuestionService suggests starter questions for an uploaded dataset.
type QuestionService struct {
	registry *llm.Registry
	model    string
	schema   *jsonschema.Schema
}

func NewQuestionService(registry *llm.Registry, model string) (*QuestionService, error) {
	var doc any
	if err := json.Unmarshal([]byte(questionsSchema), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("questions.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("questions.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &QuestionService{registry: registry, model: model, schema: schema}, nil
}

// GenerateQuestions returns at most three questions about the columns.
func (s *QuestionService) GenerateQuestions(ctx context.Context, columns []string) ([]Question, error) {
	cols := make([]string, 0, len(columns))
	for _, c := range columns {
		if c = strings.TrimSpace(c); c != "" {
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		return nil, ErrNoColumns
	}

	provider, modelID, err := s.provider()
	if err != nil {
		return nil, err
	}

	resp, err := provider.Complete(ctx, llm.Request{
		Model:    modelID,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: QuestionsPrompt(cols)}},
	})
	if err != nil {
		log.Errorw("question generation failed", "model", modelID, "error", llm.Serialize(err))
		return nil, err
	}

	questions, err := s.parse(resp.Text)
	if err != nil {
		log.Warnw("could not parse generated questions", "model", modelID, "error", err)
		return nil, err
	}
	return questions, nil
}

// provider uses QUESTIONS_MODEL when set, else the catalog default.
func (s *QuestionService) provider() (llm.Provider, string, error) {
	if s.model != "" {
		return s.registry.ForModel(s.model)
	}
	target, err := s.registry.Resolve("")
	if err != nil {
		return nil, "", err
	}
	return target.Provider, target.Model.Model, nil
}

func (s *QuestionService) parse(text string) ([]Question, error) {
	raw, err := utils.ExtractJSON(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedQuestions, err)
	}

	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedQuestions, err)
	}
	if obj, ok := doc.(map[string]any); ok {
		doc = nil
		for _, key := range []string{"elements", "questions", "items"} {
			if arr, ok := obj[key].([]any); ok {
				doc = arr
				break
			}
		}
	}
	if err := s.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedQuestions, err)
	}

	items := doc.([]any)
	out := make([]Question, 0, MaxQuestions)
	seen := make(map[string]bool, MaxQuestions)
	for _, item := range items {
		if len(out) == MaxQuestions {
			break
		}
		m := item.(map[string]any)
		q := Question{Text: strings.TrimSpace(m["text"].(string))}
		switch id := m["id"].(type) {
		case string:
			q.ID = id
		case float64:
			q.ID = fmt.Sprintf("%g", id)
		}
		if q.ID == "" || seen[q.ID] {
			q.ID = uuid.NewString()
		}
		seen[q.ID] = true
		out = append(out, q)
	}
	return out, nil
}
