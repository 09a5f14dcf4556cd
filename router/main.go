package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/sahilchouksey/askable/database"
	"github.com/sahilchouksey/askable/handlers"
	chat_handlers "github.com/sahilchouksey/askable/handlers/chat"
	"github.com/sahilchouksey/askable/services"
	"github.com/sahilchouksey/askable/services/chatstore"
	"github.com/sahilchouksey/askable/services/llm"
	"github.com/sahilchouksey/askable/services/quota"
	"github.com/sahilchouksey/askable/utils/middleware"
)

// Dependencies are the services the routes are served from.
type Dependencies struct {
	ChatService *services.ChatService
	Store       *chatstore.Store
	Ledger      *quota.Ledger
	Registry    *llm.Registry
	Questions   *services.QuestionService
	Stores      map[string]database.Storage

	AllowedOrigins    string
	RateLimitRequests int
	Production        bool
}

func SetupRoutes(app *fiber.App, deps Dependencies) {
	middleware.SetupSecurity(app, middleware.SecurityConfig{
		AllowedOrigins:    deps.AllowedOrigins,
		RateLimitRequests: deps.RateLimitRequests,
		RateLimitWindow:   time.Minute,
	})

	chatHandler := chat_handlers.NewChatHandler(deps.ChatService, deps.Store, deps.Production)
	questionsHandler := chat_handlers.NewQuestionsHandler(deps.Questions)
	debugHandler := chat_handlers.NewDebugHandler(deps.Registry, deps.Production)

	app.Get("/health", func(c *fiber.Ctx) error {
		return handlers.HandleCheckHealth(c, deps.Stores)
	})

	// Both the bare paths and the /api prefix the web client uses.
	for _, r := range []fiber.Router{app, app.Group("/api")} {
		r.Post("/chat", chatHandler.Chat)
		r.Post("/chat/history", chatHandler.History)
		r.Post("/chats", chatHandler.CreateChat)
		r.Get("/chats/:id", chatHandler.GetChat)
		r.Post("/coding", chatHandler.RunCode)

		r.Get("/limits", func(c *fiber.Ctx) error {
			return handlers.HandleLimits(c, deps.Ledger)
		})

		r.Post("/generate-questions", questionsHandler.Generate)
		r.Post("/chat-debug", debugHandler.ChatDebug)
		r.Get("/models", debugHandler.Models)
	}
}
