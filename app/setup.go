package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/sahilchouksey/askable/api"
	"github.com/sahilchouksey/askable/config"
	"github.com/sahilchouksey/askable/router"
	"github.com/sahilchouksey/askable/services"
	"github.com/sahilchouksey/askable/services/chatstore"
	"github.com/sahilchouksey/askable/services/cron"
	"github.com/sahilchouksey/askable/services/dataset"
	"github.com/sahilchouksey/askable/services/execution"
	"github.com/sahilchouksey/askable/services/llm"
	"github.com/sahilchouksey/askable/services/quota"
)

// Services is the wired service graph of one process.
type Services struct {
	Env         *config.EnviornmentVariable
	Registry    *llm.Registry
	Store       *chatstore.Store
	Ledger      *quota.Ledger
	ChatService *services.ChatService
	Questions   *services.QuestionService

	conns *connections
}

// Close releases every store connection.
func (s *Services) Close() {
	s.conns.Close()
}

// NewRegistry builds the model catalog and the providers serving it.
func NewRegistry(env *config.EnviornmentVariable) (*llm.Registry, error) {
	catalog, err := config.LoadCatalog(env.MODELS_FILE, env.OPENROUTER_MODEL)
	if err != nil {
		return nil, err
	}

	throttle := llm.NewThrottle(llm.DefaultThrottleConfig())
	openrouter := llm.NewOpenRouter(llm.OpenRouterConfig{
		APIKey:   env.OPENROUTER_API_KEY,
		BaseURL:  env.OPENROUTER_BASE_URL,
		Referrer: env.OPENROUTER_REFERRER,
		AppName:  env.OPENROUTER_APP_NAME,
		Throttle: throttle,
	})
	anthropic := llm.NewAnthropic(llm.AnthropicConfig{
		APIKey:   env.ANTHROPIC_API_KEY,
		Throttle: llm.NewThrottle(llm.DefaultThrottleConfig()),
	})

	return llm.NewRegistry(catalog, llm.WithTracing(openrouter), llm.WithTracing(anthropic)), nil
}

// NewLedger opens the quota store. The ledger fails open without one.
func NewLedger(ctx context.Context, env *config.EnviornmentVariable) (*quota.Ledger, func()) {
	conns := newConnections(env)
	return quota.NewLedger(conns.quotaCounter(ctx), env.DAILY_MESSAGE_LIMIT), conns.Close
}

// Build wires stores, providers and services from the environment.
func Build(ctx context.Context, env *config.EnviornmentVariable) (*Services, error) {
	if !env.OTEL_ENABLED {
		otel.SetTracerProvider(noop.NewTracerProvider())
	}

	registry, err := NewRegistry(env)
	if err != nil {
		return nil, err
	}

	conns := newConnections(env)
	backend, err := conns.chatBackend(ctx)
	if err != nil {
		conns.Close()
		return nil, fmt.Errorf("open chat store %q: %w", env.CHAT_STORE, err)
	}
	ledger := quota.NewLedger(conns.quotaCounter(ctx), env.DAILY_MESSAGE_LIMIT)

	titles := services.NewTitleService(registry, env.TITLE_MODEL)
	store := chatstore.New(backend, titles)

	execBackend, err := execution.NewBackend(env)
	if err != nil {
		conns.Close()
		return nil, err
	}
	gateway := execution.NewGateway(execBackend, env.EXECUTION_TIMEOUT)

	var resolver *dataset.Resolver
	if spacesCfg, ok := dataset.SpacesConfigFromEnv(env); ok {
		spaces, err := dataset.NewSpacesClient(spacesCfg)
		if err != nil {
			log.Warnw("dataset objects unavailable, using inline rows", "error", err)
			resolver = dataset.NewResolver(nil)
		} else {
			resolver = dataset.NewResolver(spaces)
		}
	} else {
		resolver = dataset.NewResolver(nil)
	}

	questions, err := services.NewQuestionService(registry, env.QUESTIONS_MODEL)
	if err != nil {
		conns.Close()
		return nil, err
	}

	chatService := services.NewChatService(services.ChatServiceConfig{
		Store:          store,
		Ledger:         ledger,
		Registry:       registry,
		Runner:         gateway,
		Datasets:       resolver,
		MaxAutoRetries: env.MAX_AUTO_RETRIES,
	})

	log.Infow("services wired",
		"chat_store", env.CHAT_STORE,
		"quota_store", env.QUOTA_STORE,
		"execution_backend", gateway.Backend(),
		"execution_timeout", gateway.Timeout().String(),
		"max_auto_retries", chatService.MaxAutoRetries(),
		"daily_limit", ledger.Limit(),
	)

	return &Services{
		Env:         env,
		Registry:    registry,
		Store:       store,
		Ledger:      ledger,
		ChatService: chatService,
		Questions:   questions,
		conns:       conns,
	}, nil
}

func SetupAndRunServer() error {
	// Load ENV
	if err := config.LoadENV(); err != nil {
		return err
	}

	getEnv, err := config.Get()
	if err != nil {
		return err
	}
	if getEnv.IsProduction() {
		log.SetLevel(log.LevelInfo)
	}

	ctx := context.Background()
	svc, err := Build(ctx, getEnv)
	if err != nil {
		return err
	}
	defer svc.Close()

	// Initialize Cron Manager (only if enabled via environment variable)
	var cronManager *cron.CronManager
	if getEnv.CRON_ENABLED {
		cronManager = cron.NewCronManager(svc.conns.gormDB(), svc.Ledger, svc.conns.storages())
		if err := cronManager.Start(); err != nil {
			// Don't fail the app, just log the warning
			log.Warnw("failed to start cron jobs", "error", err)
			cronManager = nil
		}
	}
	defer func() {
		if cronManager != nil {
			cronManager.Stop()
		}
	}()

	server := api.NewAPIServer(fmt.Sprintf(":%d", getEnv.PORT))
	router.SetupRoutes(server.GetEngine(), router.Dependencies{
		ChatService:       svc.ChatService,
		Store:             svc.Store,
		Ledger:            svc.Ledger,
		Registry:          svc.Registry,
		Questions:         svc.Questions,
		Stores:            svc.conns.storages(),
		AllowedOrigins:    getEnv.ALLOWED_ORIGINS,
		RateLimitRequests: getEnv.RATE_LIMIT_PER_MINUTE,
		Production:        getEnv.IsProduction(),
	})

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Errorw("graceful shutdown failed", "error", err)
		}
	}()

	return server.Run()
}
