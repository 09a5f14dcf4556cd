package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sahilchouksey/askable/model"
	"github.com/sahilchouksey/askable/services/chatstore"
	"github.com/sahilchouksey/askable/services/execution"
	"github.com/sahilchouksey/askable/services/llm"
	"github.com/sahilchouksey/askable/services/quota"
	"github.com/sahilchouksey/askable/utils"
)

const (
	DefaultMaxAutoRetries = 2

	ToolMessageSuccess = "Code execution complete."
	ToolMessageFailure = "Code execution failed."
)

var (
	ErrMissingChatID  = errors.New("id is required")
	ErrMissingMessage = errors.New("message is required")
)

var tracer = otel.Tracer("github.com/sahilchouksey/askable/services")

// TurnState is a step of the chat turn state machine.
type TurnState string

const (
	StateReceived        TurnState = "received"
	StateQuotaChecked    TurnState = "quota-checked"
	StateUserPersisted   TurnState = "user-message-persisted"
	StateModelInvoked    TurnState = "model-invoked"
	StateModelResponded  TurnState = "model-responded"
	StateCodeDetected    TurnState = "code-detected"
	StateExecuting       TurnState = "executing"
	StateExecuted        TurnState = "executed"
	StateErrorResolution TurnState = "error-resolution-turn"
	StateDone            TurnState = "done"
	StateRateLimited     TurnState = "rate-limited"
	StateCancelled       TurnState = "cancelled"
	StateFailed          TurnState = "failed"
)

type EventType string

const (
	EventState EventType = "state"
	EventDelta EventType = "delta"
	EventTool  EventType = "tool"
	EventError EventType = "error"
	EventDone  EventType = "done"
)

// TurnEvent is one notification emitted while a turn runs.
type TurnEvent struct {
	Type      EventType       `json:"type"`
	State     TurnState       `json:"state,omitempty"`
	Delta     string          `json:"delta,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
	ToolCall  *model.ToolCall `json:"toolCall,omitempty"`
	Error     string          `json:"error,omitempty"`
	Bounce    int             `json:"bounce,omitempty"`
}

// EventSink receives turn events in order. A returned error means the
// consumer is gone and cancels the turn.
type EventSink func(TurnEvent) error

// CodeRunner executes extracted code.
type CodeRunner interface {
	Run(ctx context.Context, job execution.Job) model.ExecutionResult
}

// DatasetResolver materializes a chat's dataset for execution.
type DatasetResolver interface {
	Resolve(ctx context.Context, data *model.ChatData) []execution.NamedFile
}

type TurnRequest struct {
	ChatID            string
	Message           string
	ModelSlug         string
	ChatData          *model.ChatData
	Identity          string
	AutoErrorResolved bool
}

// TurnResult summarizes a finished turn.
type TurnResult struct {
	State     TurnState
	Messages  []model.Message
	Execution *model.ExecutionResult
	Bounces   int
	Err       error
}

type ChatServiceConfig struct {
	Store          *chatstore.Store
	Ledger         *quota.Ledger
	Registry       *llm.Registry
	Runner         CodeRunner
	Datasets       DatasetResolver
	MaxAutoRetries int
}

// ChatService drives a user message through the model and the code sandbox.
type ChatService struct {
	store          *chatstore.Store
	ledger         *quota.Ledger
	registry       *llm.Registry
	runner         CodeRunner
	datasets       DatasetResolver
	maxAutoRetries int
	now            func() time.Time
}

func NewChatService(cfg ChatServiceConfig) *ChatService {
	retries := cfg.MaxAutoRetries
	if retries < 0 {
		retries = 0
	}
	return &ChatService{
		store:          cfg.Store,
		ledger:         cfg.Ledger,
		registry:       cfg.Registry,
		runner:         cfg.Runner,
		datasets:       cfg.Datasets,
		maxAutoRetries: retries,
		now:            time.Now,
	}
}

func (s *ChatService) MaxAutoRetries() int {
	return s.maxAutoRetries
}

// Turn is a validated, charged turn ready to stream.
type Turn struct {
	svc     *ChatService
	req     TurnRequest
	chat    *model.ChatData
	target  llm.Target
	bounces int
	charged bool
}

// Prepare validates the request, resolves the model and charges the quota.
// Nothing is persisted when it fails.
func (s *ChatService) Prepare(ctx context.Context, req TurnRequest) (*Turn, error) {
	req.ChatID = strings.TrimSpace(req.ChatID)
	if req.ChatID == "" {
		return nil, ErrMissingChatID
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrMissingMessage
	}

	target, err := s.registry.Resolve(req.ModelSlug)
	if err != nil {
		return nil, err
	}

	chat := s.loadOrFallback(ctx, req.ChatID, req.ChatData)

	t := &Turn{svc: s, req: req, chat: chat, target: target}

	// A client-driven retry is free only while the session is under the
	// bounce cap.
	trailing := chat.TrailingAutoResolutions()
	if req.AutoErrorResolved && trailing < s.maxAutoRetries {
		t.bounces = trailing + 1
		log.Infow("auto error resolution turn, quota bypassed", "chat_id", req.ChatID, "bounce", t.bounces)
		return t, nil
	}
	if req.AutoErrorResolved {
		t.bounces = s.maxAutoRetries
	}

	if s.ledger != nil {
		if err := s.ledger.Consume(ctx, req.Identity); err != nil {
			log.Infow("message quota exceeded", "identity", req.Identity, "chat_id", req.ChatID)
			return nil, err
		}
		t.charged = true
	}
	return t, nil
}

func (s *ChatService) loadOrFallback(ctx context.Context, id string, fallback *model.ChatData) *model.ChatData {
	chat, err := s.store.Load(ctx, id)
	if err != nil {
		chat = &model.ChatData{Messages: []model.Message{}}
		if fallback != nil {
			chat.BackfillDataset(fallback)
			chat.Title = fallback.Title
		}
		return chat
	}
	chat.BackfillDataset(fallback)
	return chat
}

// Charged reports whether Prepare consumed a quota unit.
func (t *Turn) Charged() bool {
	return t.charged
}

// Model is the catalog entry the turn runs on.
func (t *Turn) Model() string {
	return t.target.Model.Model
}

// Run streams the turn to sink and returns once it reaches a terminal state.
// Cancelling ctx, or a sink error, stops the model stream and any execution
// in flight; nothing further is persisted after that.
func (t *Turn) Run(ctx context.Context, sink EventSink) *TurnResult {
	s := t.svc
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ctx, span := tracer.Start(ctx, "chat.turn", trace.WithAttributes(
		attribute.String("chat.id", t.req.ChatID),
		attribute.String("chat.model", t.target.Model.Slug),
		attribute.Bool("chat.auto_error_resolved", t.req.AutoErrorResolved),
	))
	defer span.End()

	res := &TurnResult{Bounces: t.bounces}
	emit := func(ev TurnEvent) {
		if ctx.Err() != nil {
			return
		}
		if err := sink(ev); err != nil {
			log.Infow("turn consumer went away", "chat_id", t.req.ChatID, "error", err)
			cancel()
		}
	}
	state := func(st TurnState) {
		res.State = st
		emit(TurnEvent{Type: EventState, State: st, Bounce: res.Bounces})
	}
	finish := func(st TurnState, err error) *TurnResult {
		res.State = st
		res.Err = err
		span.SetAttributes(attribute.String("chat.state", string(st)), attribute.Int("chat.bounces", res.Bounces))
		if err != nil && st == StateFailed {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			emit(TurnEvent{Type: EventError, State: st, Error: err.Error()})
		}
		emit(TurnEvent{Type: EventState, State: st, Bounce: res.Bounces})
		emit(TurnEvent{Type: EventDone, State: st, Bounce: res.Bounces})
		return res
	}

	userMsg := model.Message{
		ID:                    uuid.NewString(),
		Role:                  model.MessageRoleUser,
		Content:               t.req.Message,
		CreatedAt:             s.now().UTC(),
		IsAutoErrorResolution: t.req.AutoErrorResolved,
	}

	for {
		state(StateReceived)
		state(StateQuotaChecked)

		s.persist(ctx, t, userMsg)
		res.Messages = append(res.Messages, userMsg)
		state(StateUserPersisted)
		if ctx.Err() != nil {
			return finish(StateCancelled, ctx.Err())
		}

		state(StateModelInvoked)
		start := s.now()
		reply, err := t.target.Provider.Stream(ctx, t.llmRequest(), func(delta string) error {
			emit(TurnEvent{Type: EventDelta, Delta: delta})
			return ctx.Err()
		})
		if ctx.Err() != nil {
			return finish(StateCancelled, ctx.Err())
		}
		if err != nil {
			log.Errorw("model stream failed",
				"chat_id", t.req.ChatID,
				"model", t.target.Model.Model,
				"error", llm.Serialize(err),
			)
			return finish(StateFailed, err)
		}

		assistant := model.Message{
			ID:        uuid.NewString(),
			Role:      model.MessageRoleAssistant,
			Content:   reply.Text,
			CreatedAt: s.now().UTC(),
			Duration:  model.Seconds(s.now().Sub(start)),
			Model:     t.target.Model.Model,
		}
		s.persist(ctx, t, assistant)
		res.Messages = append(res.Messages, assistant)
		state(StateModelResponded)

		code, ok := utils.ExtractCode(reply.Text)
		if !ok || s.runner == nil {
			return finish(StateDone, nil)
		}

		state(StateCodeDetected)
		emit(TurnEvent{Type: EventTool, ToolCall: &model.ToolCall{
			ToolName: model.RunCodeTool,
			State:    model.ToolStateStart,
			Args:     model.ToolArgs{Code: code},
		}})
		state(StateExecuting)

		var files []execution.NamedFile
		if s.datasets != nil {
			files = s.datasets.Resolve(ctx, t.chat)
		}
		execStart := s.now()
		result := s.runner.Run(ctx, execution.Job{Code: code, Files: files, SessionID: t.req.ChatID})
		if result.Status == model.ExecutionCancelled || ctx.Err() != nil {
			return finish(StateCancelled, context.Canceled)
		}
		res.Execution = &result

		content := ToolMessageSuccess
		if result.Failed() {
			content = ToolMessageFailure
		}
		toolCall := &model.ToolCall{
			ToolName: model.RunCodeTool,
			State:    model.ToolStateResult,
			Args:     model.ToolArgs{Code: code},
			Result:   &result,
		}
		toolMsg := model.Message{
			ID:        uuid.NewString(),
			Role:      model.MessageRoleAssistant,
			Content:   content,
			CreatedAt: s.now().UTC(),
			Duration:  model.Seconds(s.now().Sub(execStart)),
			ToolCall:  toolCall,
		}
		s.persist(ctx, t, toolMsg)
		res.Messages = append(res.Messages, toolMsg)
		emit(TurnEvent{Type: EventTool, MessageID: toolMsg.ID, ToolCall: toolCall})
		state(StateExecuted)

		if !result.Failed() {
			return finish(StateDone, nil)
		}
		if result.ErrorKind == model.ErrorKindProvider {
			return finish(StateFailed, fmt.Errorf("code execution unavailable: %s", result.ErrorMessage))
		}
		if res.Bounces >= s.maxAutoRetries {
			log.Warnw("auto error resolution limit reached",
				"chat_id", t.req.ChatID,
				"bounces", res.Bounces,
				"error", result.ErrorMessage,
			)
			return finish(StateDone, nil)
		}

		res.Bounces++
		state(StateErrorResolution)
		userMsg = model.Message{
			ID:                    uuid.NewString(),
			Role:                  model.MessageRoleUser,
			Content:               ErrorResolutionPrompt(result.ErrorMessage),
			CreatedAt:             s.now().UTC(),
			IsAutoErrorResolution: true,
		}
	}
}

// persist appends to the store and the turn's in-memory log. Store failures
// are logged by the store and do not stop the turn.
func (s *ChatService) persist(ctx context.Context, t *Turn, msg model.Message) {
	t.chat.Messages = append(t.chat.Messages, msg)
	if ctx.Err() != nil {
		return
	}
	s.store.AppendMessage(ctx, t.req.ChatID, msg, t.req.ChatData)
}

func (t *Turn) llmRequest() llm.Request {
	msgs := make([]llm.Message, 0, len(t.chat.Messages))
	for _, m := range t.chat.Messages {
		if m.Content == "" {
			continue
		}
		role := llm.RoleUser
		if m.Role == model.MessageRoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}
	return llm.Request{
		Model:    t.target.Model.Model,
		System:   CodePrompt(t.chat.CSVHeaders, t.chat.CSVRows),
		Messages: msgs,
	}
}

// RunCode executes code outside a chat turn, persisting the tool message when
// chatID is set and the caller is still waiting.
func (s *ChatService) RunCode(ctx context.Context, chatID string, job execution.Job) (model.ExecutionResult, error) {
	if strings.TrimSpace(job.Code) == "" {
		return model.ExecutionResult{}, execution.ErrMissingCode
	}
	if s.runner == nil {
		return model.ExecutionResult{}, errors.New("code execution is not configured")
	}
	if job.SessionID == "" {
		job.SessionID = chatID
	}
	if len(job.Files) == 0 && chatID != "" && s.datasets != nil {
		if chat, err := s.store.Load(ctx, chatID); err == nil {
			job.Files = s.datasets.Resolve(ctx, chat)
		}
	}

	start := s.now()
	result := s.runner.Run(ctx, job)
	if result.Status == model.ExecutionCancelled || ctx.Err() != nil {
		return model.CancelledResult(), nil
	}

	if chatID != "" {
		content := ToolMessageSuccess
		if result.Failed() {
			content = ToolMessageFailure
		}
		s.store.AppendMessage(ctx, chatID, model.Message{
			ID:        uuid.NewString(),
			Role:      model.MessageRoleAssistant,
			Content:   content,
			CreatedAt: s.now().UTC(),
			Duration:  model.Seconds(s.now().Sub(start)),
			ToolCall: &model.ToolCall{
				ToolName: model.RunCodeTool,
				State:    model.ToolStateResult,
				Args:     model.ToolArgs{Code: job.Code},
				Result:   &result,
			},
		}, nil)
	}
	return result, nil
}
