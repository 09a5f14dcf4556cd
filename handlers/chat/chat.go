package chat

import (
	"bufio"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/sahilchouksey/askable/model"
	"github.com/sahilchouksey/askable/services"
	"github.com/sahilchouksey/askable/services/chatstore"
	"github.com/sahilchouksey/askable/services/llm"
	"github.com/sahilchouksey/askable/services/quota"
	"github.com/sahilchouksey/askable/utils/middleware"
	"github.com/sahilchouksey/askable/utils/response"
	"github.com/sahilchouksey/askable/utils/sse"
	"github.com/sahilchouksey/askable/utils/validation"
)

// ChatHandler serves chat turns and chat records.
type ChatHandler struct {
	validator   *validation.Validator
	chatService *services.ChatService
	store       *chatstore.Store
	production  bool
	heartbeat   time.Duration
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatService *services.ChatService, store *chatstore.Store, production bool) *ChatHandler {
	return &ChatHandler{
		validator:   validation.NewValidator(),
		chatService: chatService,
		store:       store,
		production:  production,
		heartbeat:   sse.DefaultHeartbeat,
	}
}

// SetHeartbeat changes how often an idle chat stream checks that the client
// is still connected.
func (h *ChatHandler) SetHeartbeat(d time.Duration) {
	if d > 0 {
		h.heartbeat = d
	}
}

// SendMessageRequest is the body of POST /chat.
type SendMessageRequest struct {
	ID       string          `json:"id" validate:"required,notblank"`
	Message  string          `json:"message" validate:"required,notblank"`
	Model    string          `json:"model"`
	ChatData *model.ChatData `json:"chatData"`
}

// Chat handles POST /chat
// Runs one turn and streams its events as SSE.
func (h *ChatHandler) Chat(c *fiber.Ctx) error {
	var req SendMessageRequest
	if err := h.validator.Decode(c.Body(), &req); err != nil {
		return response.FromError(c, err, h.production)
	}

	turn, err := h.chatService.Prepare(c.UserContext(), services.TurnRequest{
		ChatID:            req.ID,
		Message:           req.Message,
		ModelSlug:         req.Model,
		ChatData:          req.ChatData,
		Identity:          middleware.GetIdentity(c),
		AutoErrorResolved: middleware.AutoErrorResolved(c),
	})
	switch {
	case errors.Is(err, quota.ErrQuotaExceeded):
		log.Infow("chat turn rejected", "chat_id", req.ID, "state", services.StateRateLimited)
		return response.TooManyMessages(c)
	case errors.Is(err, llm.ErrInvalidModel):
		log.Errorw("no model available for chat turn", "chat_id", req.ID, "model", req.Model)
		return response.Text(c, fiber.StatusInternalServerError, response.GenerateFailedMessage)
	case err != nil:
		return response.FromError(c, err, h.production)
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")
	c.Set("X-Accel-Buffering", "no")

	// The fiber ctx is released once the handler returns; only captured
	// values may be used inside the stream writer.
	chatID := req.ID
	production := h.production
	heartbeat := h.heartbeat
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(context.Background())
		stream := sse.NewStream(w, sse.DefaultRetryMS)

		// A closed client only shows up as a failed write; the heartbeat
		// cancels the turn while code runs or the model is silent.
		var wg sync.WaitGroup
		defer wg.Wait()
		defer cancel()
		wg.Add(1)
		go func() {
			defer wg.Done()
			stream.Heartbeat(ctx, heartbeat, func(err error) {
				log.Infow("chat client disconnected", "chat_id", chatID, "error", err)
				cancel()
			})
		}()

		// The recover middleware does not cover the stream writer.
		defer func() {
			if r := recover(); r != nil {
				log.Errorw("chat stream panicked", "chat_id", chatID, "panic", r)
				_ = stream.Error(response.GenerateFailedMessage, nil)
			}
		}()

		if err := stream.KeepAlive(); err != nil {
			return
		}

		result := turn.Run(ctx, func(ev services.TurnEvent) error {
			if ev.Type == services.EventError && production {
				ev.Error = response.GenerateFailedMessage
			}
			if err := stream.Send(string(ev.Type), ev); err != nil {
				cancel()
				return err
			}
			return nil
		})
		log.Infow("chat turn finished",
			"chat_id", chatID,
			"state", result.State,
			"bounces", result.Bounces,
			"messages", len(result.Messages),
			"events", stream.Sent(),
		)
	})

	return nil
}
