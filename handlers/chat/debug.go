package chat

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"github.com/sahilchouksey/askable/services/llm"
	"github.com/sahilchouksey/askable/utils/response"
)

// DebugHandler exposes raw provider calls and the model catalog.
type DebugHandler struct {
	registry   *llm.Registry
	production bool
}

func NewDebugHandler(registry *llm.Registry, production bool) *DebugHandler {
	return &DebugHandler{registry: registry, production: production}
}

// DebugRequest is the body of POST /chat-debug. Model is a provider model id,
// not a catalog slug.
type DebugRequest struct {
	Messages    []llm.Message `json:"messages"`
	Prompt      string        `json:"prompt"`
	System      string        `json:"system"`
	Model       string        `json:"model"`
	MaxTokens   int           `json:"maxTokens"`
	Temperature *float64      `json:"temperature"`
}

// ChatDebug handles POST /chat-debug
func (h *DebugHandler) ChatDebug(c *fiber.Ctx) error {
	var req DebugRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return response.BadRequest(c, "Invalid JSON")
	}

	messages := req.Messages
	if len(messages) == 0 && req.Prompt != "" {
		messages = []llm.Message{{Role: llm.RoleUser, Content: req.Prompt}}
	}
	if len(messages) == 0 {
		return response.BadRequest(c, "messages or prompt is required")
	}

	modelID := req.Model
	if modelID == "" {
		target, err := h.registry.Resolve("")
		if err != nil {
			return response.InternalServerError(c, err.Error())
		}
		modelID = target.Model.Model
	}
	provider, modelID, err := h.registry.ForModel(modelID)
	if err != nil {
		return response.ProviderFailure(c, err, h.production)
	}

	resp, err := provider.Complete(c.UserContext(), llm.Request{
		Model:       modelID,
		System:      req.System,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return response.ProviderFailure(c, err, h.production)
	}

	return c.JSON(fiber.Map{
		"ok":           true,
		"text":         resp.Text,
		"finishReason": resp.FinishReason,
		"model":        resp.Model,
		"usage":        resp.Usage,
	})
}

// Models handles GET /models
func (h *DebugHandler) Models(c *fiber.Ctx) error {
	catalog := h.registry.Catalog()
	if catalog == nil {
		return c.JSON(fiber.Map{"models": []any{}})
	}
	resp := fiber.Map{"models": catalog.Models}
	if def, ok := catalog.Default(); ok {
		resp["default"] = def.Slug
	}
	return c.JSON(resp)
}
