package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahilchouksey/askable/config"
	"github.com/sahilchouksey/askable/model"
	"github.com/sahilchouksey/askable/services/chatstore"
	"github.com/sahilchouksey/askable/services/dataset"
	"github.com/sahilchouksey/askable/services/execution"
	"github.com/sahilchouksey/askable/services/llm"
	"github.com/sahilchouksey/askable/services/llm/llmtest"
	"github.com/sahilchouksey/askable/services/quota"
)

const (
	caller    = "203.0.113.7"
	groupbyPy = "print(df.groupby('Brand')['Stock'].sum().idxmax())"
)

var brandReply = "Let me compute that.\n```python\n" + groupbyPy + "\n```"

type stubRunner struct {
	mu      sync.Mutex
	results []model.ExecutionResult
	jobs    []execution.Job
	block   bool
}

func (r *stubRunner) Run(ctx context.Context, job execution.Job) model.ExecutionResult {
	r.mu.Lock()
	r.jobs = append(r.jobs, job)
	var res model.ExecutionResult
	if len(r.results) > 0 {
		res = r.results[0]
		r.results = r.results[1:]
	} else {
		res = model.SuccessResult()
	}
	r.mu.Unlock()

	if r.block {
		<-ctx.Done()
		return model.CancelledResult()
	}
	return res
}

type fixture struct {
	svc      *ChatService
	store    *chatstore.Store
	backend  *chatstore.MemoryBackend
	ledger   *quota.Ledger
	counter  *quota.MemoryCounter
	provider *llmtest.Provider
	runner   *stubRunner
}

func newFixture(t *testing.T, limit int, replies ...llmtest.Reply) *fixture {
	t.Helper()
	catalog, err := config.LoadCatalog("", "")
	require.NoError(t, err)

	f := &fixture{
		backend:  chatstore.NewMemoryBackend(),
		counter:  quota.NewMemoryCounter(),
		provider: llmtest.New(llm.ProviderOpenRouter, replies...),
		runner:   &stubRunner{},
	}
	f.store = chatstore.New(f.backend, nil)
	f.ledger = quota.NewLedger(f.counter, limit)
	f.svc = NewChatService(ChatServiceConfig{
		Store:          f.store,
		Ledger:         f.ledger,
		Registry:       llm.NewRegistry(catalog, f.provider),
		Runner:         f.runner,
		Datasets:       dataset.NewResolver(nil),
		MaxAutoRetries: DefaultMaxAutoRetries,
	})
	return f
}

func brandRows() []map[string]string {
	return []map[string]string{
		{"Brand": "Acme", "Stock": "10"},
		{"Brand": "Globex", "Stock": "4"},
		{"Brand": "Acme", "Stock": "7"},
		{"Brand": "Initech", "Stock": "12"},
		{"Brand": "Globex", "Stock": "1"},
	}
}

func (f *fixture) createBrandChat(t *testing.T) string {
	t.Helper()
	return f.store.Create(context.Background(), chatstore.CreateParams{
		UserQuestion: "which brand has most stock",
		CSVHeaders:   []string{"Brand", "Stock"},
		CSVRows:      brandRows(),
	})
}

func (f *fixture) messages(t *testing.T, id string) []model.Message {
	t.Helper()
	chat, err := f.store.Load(context.Background(), id)
	require.NoError(t, err)
	return chat.Messages
}

func (f *fixture) used(t *testing.T) int64 {
	t.Helper()
	n, err := f.counter.Get(context.Background(), caller, f.ledger.Current())
	require.NoError(t, err)
	return n
}

type recorder struct {
	events []TurnEvent
}

func (r *recorder) sink(ev TurnEvent) error {
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) states() []TurnState {
	var out []TurnState
	for _, ev := range r.events {
		if ev.Type == EventState {
			out = append(out, ev.State)
		}
	}
	return out
}

func (r *recorder) text() string {
	var b strings.Builder
	for _, ev := range r.events {
		if ev.Type == EventDelta {
			b.WriteString(ev.Delta)
		}
	}
	return b.String()
}

func runTurn(t *testing.T, f *fixture, req TurnRequest) (*TurnResult, *recorder) {
	t.Helper()
	turn, err := f.svc.Prepare(context.Background(), req)
	require.NoError(t, err)
	rec := &recorder{}
	return turn.Run(context.Background(), rec.sink), rec
}

func TestTurnBrandStockEndToEnd(t *testing.T) {
	f := newFixture(t, 50, llmtest.Text("Let me compute that.\n", "```python\n"+groupbyPy+"\n```"))
	f.runner.results = []model.ExecutionResult{model.SuccessResult(model.OutputItem{Type: model.OutputStdout, Data: "Acme\n"})}
	id := f.createBrandChat(t)

	res, rec := runTurn(t, f, TurnRequest{ChatID: id, Message: "which brand has most stock", Identity: caller})

	require.Equal(t, StateDone, res.State)
	require.NotNil(t, res.Execution)
	assert.Equal(t, model.ExecutionSuccess, res.Execution.Status)
	assert.Len(t, res.Execution.Outputs, 1)
	assert.Equal(t, brandReply, rec.text())

	msgs := f.messages(t, id)
	require.Len(t, msgs, 3)
	assert.Equal(t, model.MessageRoleUser, msgs[0].Role)
	assert.Equal(t, brandReply, msgs[1].Content)
	assert.Equal(t, "deepseek/deepseek-chat-v3.1:free", msgs[1].Model)
	assert.NotNil(t, msgs[1].Duration)
	assert.Equal(t, ToolMessageSuccess, msgs[2].Content)
	require.NotNil(t, msgs[2].ToolCall)
	assert.Equal(t, model.RunCodeTool, msgs[2].ToolCall.ToolName)
	assert.Equal(t, model.ToolStateResult, msgs[2].ToolCall.State)
	assert.Equal(t, groupbyPy, msgs[2].ToolCall.Args.Code)

	assert.Equal(t, int64(1), f.used(t))

	require.Len(t, f.runner.jobs, 1)
	job := f.runner.jobs[0]
	assert.Equal(t, groupbyPy, job.Code)
	require.Len(t, job.Files, 1)
	assert.Equal(t, 6, strings.Count(job.Files[0].Content, "\n"), "header plus five rows")

	req := f.provider.Requests()[0]
	assert.Contains(t, req.System, "The dataset has the following columns: Brand, Stock")
	assert.Contains(t, req.System, "| Acme | 7 |", "third sample row")
	assert.NotContains(t, req.System, "| Initech | 12 |", "at most three sample rows")

	assert.Equal(t, []TurnState{
		StateReceived, StateQuotaChecked, StateUserPersisted, StateModelInvoked,
		StateModelResponded, StateCodeDetected, StateExecuting, StateExecuted, StateDone,
	}, rec.states()[:9])
	assert.Equal(t, EventDone, rec.events[len(rec.events)-1].Type)
}

func TestTurnQuotaExceededPersistsNothing(t *testing.T) {
	f := newFixture(t, 2, llmtest.Text("unused"))
	id := f.createBrandChat(t)
	for i := 0; i < 2; i++ {
		require.NoError(t, f.ledger.Consume(context.Background(), caller))
	}

	_, err := f.svc.Prepare(context.Background(), TurnRequest{ChatID: id, Message: "again?", Identity: caller})
	assert.ErrorIs(t, err, quota.ErrQuotaExceeded)
	assert.Empty(t, f.messages(t, id))
	assert.Empty(t, f.provider.Requests())
}

func TestTurnErrorResolutionBypassesQuota(t *testing.T) {
	fixed := "```python\nprint(df['Stock'].max())\n```"
	f := newFixture(t, 50, llmtest.Text(brandReply), llmtest.Text(fixed))
	f.runner.results = []model.ExecutionResult{
		model.ErrorResult(model.ErrorKindRuntime, "KeyError: 'Brand'"),
		model.SuccessResult(model.OutputItem{Type: model.OutputStdout, Data: "12\n"}),
	}
	id := f.createBrandChat(t)

	res, rec := runTurn(t, f, TurnRequest{ChatID: id, Message: "which brand has most stock", Identity: caller})
	require.Equal(t, StateDone, res.State)
	assert.Equal(t, 1, res.Bounces)

	msgs := f.messages(t, id)
	require.Len(t, msgs, 6)
	synthetic := 0
	for _, m := range msgs {
		if m.IsAutoErrorResolution {
			synthetic++
			assert.Equal(t, model.MessageRoleUser, m.Role)
			assert.Equal(t, "The following error occurred when running the code you provided: KeyError: 'Brand'. Please try to fix the code and try again.", m.Content)
		}
	}
	assert.Equal(t, 1, synthetic)
	assert.Equal(t, ToolMessageFailure, msgs[2].Content)
	assert.Equal(t, ToolMessageSuccess, msgs[5].Content)
	assert.Equal(t, int64(1), f.used(t), "the corrective turn is free")
	assert.Contains(t, rec.states(), StateErrorResolution)
}

func TestTurnBounceCap(t *testing.T) {
	f := newFixture(t, 50, llmtest.Text(brandReply), llmtest.Text(brandReply), llmtest.Text(brandReply), llmtest.Text(brandReply))
	for i := 0; i < 4; i++ {
		f.runner.results = append(f.runner.results, model.ErrorResult(model.ErrorKindRuntime, "NameError"))
	}
	id := f.createBrandChat(t)

	res, _ := runTurn(t, f, TurnRequest{ChatID: id, Message: "q", Identity: caller})
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, DefaultMaxAutoRetries, res.Bounces)
	assert.Len(t, f.runner.jobs, DefaultMaxAutoRetries+1)
	assert.Len(t, f.messages(t, id), 3*(DefaultMaxAutoRetries+1))
}

func TestTurnTimeoutTriggersResolution(t *testing.T) {
	f := newFixture(t, 50, llmtest.Text(brandReply), llmtest.Text("Sorry, no code this time."))
	f.runner.results = []model.ExecutionResult{model.ErrorResult(model.ErrorKindTimedOut, "Code execution timed out after 1m0s.")}
	id := f.createBrandChat(t)

	res, _ := runTurn(t, f, TurnRequest{ChatID: id, Message: "q", Identity: caller})
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 1, res.Bounces)
}

func TestTurnProviderExecutionFailureIsTerminal(t *testing.T) {
	f := newFixture(t, 50, llmtest.Text(brandReply))
	f.runner.results = []model.ExecutionResult{model.ErrorResult(model.ErrorKindProvider, "sandbox down")}
	id := f.createBrandChat(t)

	res, rec := runTurn(t, f, TurnRequest{ChatID: id, Message: "q", Identity: caller})
	assert.Equal(t, StateFailed, res.State)
	assert.Zero(t, res.Bounces)
	assert.Len(t, f.messages(t, id), 3)

	var sawError bool
	for _, ev := range rec.events {
		sawError = sawError || ev.Type == EventError
	}
	assert.True(t, sawError)
}

func TestTurnClientDrivenRetry(t *testing.T) {
	f := newFixture(t, 50, llmtest.Text("fixed, no code"), llmtest.Text("still no code"), llmtest.Text("x"))
	id := f.createBrandChat(t)

	for i := 0; i < DefaultMaxAutoRetries; i++ {
		res, _ := runTurn(t, f, TurnRequest{ChatID: id, Message: ErrorResolutionPrompt("boom"), Identity: caller, AutoErrorResolved: true})
		assert.Equal(t, StateDone, res.State)
	}
	assert.Zero(t, f.used(t), "retries under the cap are free")

	turn, err := f.svc.Prepare(context.Background(), TurnRequest{ChatID: id, Message: ErrorResolutionPrompt("boom"), Identity: caller, AutoErrorResolved: true})
	require.NoError(t, err)
	assert.True(t, turn.Charged(), "beyond the cap the header is ignored")
	assert.Equal(t, int64(1), f.used(t))
}

func TestTurnNoCode(t *testing.T) {
	f := newFixture(t, 50, llmtest.Text("Acme has the most stock."))
	id := f.createBrandChat(t)

	res, _ := runTurn(t, f, TurnRequest{ChatID: id, Message: "q", Identity: caller})
	assert.Equal(t, StateDone, res.State)
	assert.Nil(t, res.Execution)
	assert.Len(t, f.messages(t, id), 2)
	assert.Empty(t, f.runner.jobs)
}

func TestTurnStreamFailurePersistsOnlyUserMessage(t *testing.T) {
	f := newFixture(t, 50, llmtest.Reply{Chunks: []string{"partial "}, Err: &llm.ProviderError{Provider: "openrouter", StatusCode: 502, Message: "bad gateway"}})
	id := f.createBrandChat(t)

	res, _ := runTurn(t, f, TurnRequest{ChatID: id, Message: "q", Identity: caller})
	assert.Equal(t, StateFailed, res.State)
	var pe *llm.ProviderError
	assert.True(t, errors.As(res.Err, &pe))

	msgs := f.messages(t, id)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.MessageRoleUser, msgs[0].Role)
}

func TestTurnCancelledDuringStream(t *testing.T) {
	f := newFixture(t, 50, llmtest.Text("thinking..."))
	f.provider.Block = true
	id := f.createBrandChat(t)

	turn, err := f.svc.Prepare(context.Background(), TurnRequest{ChatID: id, Message: "q", Identity: caller})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	res := turn.Run(ctx, func(ev TurnEvent) error {
		if ev.Type == EventDelta {
			cancel()
		}
		return nil
	})
	assert.Equal(t, StateCancelled, res.State)
	assert.Len(t, f.messages(t, id), 1, "partial assistant text is never persisted")
}

func TestTurnSinkFailureCancelsExecution(t *testing.T) {
	f := newFixture(t, 50, llmtest.Text(brandReply))
	f.runner.block = true
	id := f.createBrandChat(t)

	turn, err := f.svc.Prepare(context.Background(), TurnRequest{ChatID: id, Message: "q", Identity: caller})
	require.NoError(t, err)

	gone := errors.New("client disconnected")
	res := turn.Run(context.Background(), func(ev TurnEvent) error {
		if ev.Type == EventTool {
			return gone
		}
		return nil
	})
	assert.Equal(t, StateCancelled, res.State)
	assert.Len(t, f.messages(t, id), 2, "no tool message after abort")
}

func TestTurnMissingChatUsesFallback(t *testing.T) {
	f := newFixture(t, 50, llmtest.Text("ok"))
	fallback := &model.ChatData{CSVHeaders: []string{"Brand", "Stock"}, CSVRows: brandRows()[:2]}

	res, _ := runTurn(t, f, TurnRequest{ChatID: "not-created-yet", Message: "q", Identity: caller, ChatData: fallback})
	assert.Equal(t, StateDone, res.State)

	chat, err := f.store.Load(context.Background(), "not-created-yet")
	require.NoError(t, err)
	assert.Equal(t, []string{"Brand", "Stock"}, chat.CSVHeaders)
	assert.Len(t, chat.Messages, 2)
	assert.Contains(t, f.provider.Requests()[0].System, "Brand, Stock")
}

func TestPrepareValidation(t *testing.T) {
	f := newFixture(t, 50)
	_, err := f.svc.Prepare(context.Background(), TurnRequest{Message: "q"})
	assert.ErrorIs(t, err, ErrMissingChatID)
	_, err = f.svc.Prepare(context.Background(), TurnRequest{ChatID: "x", Message: "  "})
	assert.ErrorIs(t, err, ErrMissingMessage)

	svc := NewChatService(ChatServiceConfig{Store: f.store, Registry: llm.NewRegistry(nil)})
	_, err = svc.Prepare(context.Background(), TurnRequest{ChatID: "x", Message: "q"})
	assert.ErrorIs(t, err, llm.ErrInvalidModel)
}

func TestPrepareUnknownSlugFallsBackToDefault(t *testing.T) {
	f := newFixture(t, 50)
	turn, err := f.svc.Prepare(context.Background(), TurnRequest{ChatID: "x", Message: "q", ModelSlug: "gpt-17"})
	require.NoError(t, err)
	assert.Equal(t, "deepseek/deepseek-chat-v3.1:free", turn.Model())

	turn, err = f.svc.Prepare(context.Background(), TurnRequest{ChatID: "x", Message: "q", ModelSlug: "kimi-k2-instruct"})
	require.NoError(t, err)
	assert.Equal(t, "moonshotai/kimi-k2:free", turn.Model())
}

func TestRunCodePersistsToolMessage(t *testing.T) {
	f := newFixture(t, 50)
	f.runner.results = []model.ExecutionResult{model.SuccessResult(model.OutputItem{Type: model.OutputText, Data: "42"})}
	id := f.createBrandChat(t)

	res, err := f.svc.RunCode(context.Background(), id, execution.Job{Code: "print(42)"})
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionSuccess, res.Status)

	msgs := f.messages(t, id)
	require.Len(t, msgs, 1)
	assert.Equal(t, ToolMessageSuccess, msgs[0].Content)
	require.Len(t, f.runner.jobs[0].Files, 1, "dataset resolved from the chat")

	_, err = f.svc.RunCode(context.Background(), id, execution.Job{})
	assert.ErrorIs(t, err, execution.ErrMissingCode)
}
