package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

type APIServer struct {
	app           *fiber.App
	listenAddress string
}

func NewAPIServer(listenAddress string) *APIServer {
	return &APIServer{
		app: fiber.New(fiber.Config{
			AppName:      "Askable API",
			ErrorHandler: errorHandler,
			// Chat turns stream for as long as the model and the sandbox run.
			WriteTimeout: 0,
			ReadTimeout:  30 * time.Second,
			IdleTimeout:  2 * time.Minute,
		}),
		listenAddress: listenAddress,
	}
}

func (s *APIServer) GetEngine() *fiber.App {
	return s.app
}

func (s *APIServer) Run() error {
	log.Infow("starting API server", "address", s.listenAddress)
	return s.app.Listen(s.listenAddress)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *APIServer) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		log.Errorw("request failed", "path", c.Path(), "error", err)
		return c.Status(code).JSON(fiber.Map{"error": "Internal server error."})
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
