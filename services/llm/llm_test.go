package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahilchouksey/askable/config"
)

func testCatalog(t *testing.T) *config.Catalog {
	t.Helper()
	c, err := config.LoadCatalog("", "")
	require.NoError(t, err)
	return c
}

func TestRegistryResolve(t *testing.T) {
	or := NewOpenRouter(OpenRouterConfig{APIKey: "k"})
	r := NewRegistry(testCatalog(t), or)

	target, err := r.Resolve("qwen3-coder-free")
	require.NoError(t, err)
	assert.Equal(t, "qwen/qwen3-coder:free", target.Model.Model)
	assert.Equal(t, ProviderOpenRouter, target.Provider.Name())

	for _, slug := range []string{"", "no-such-model"} {
		target, err = r.Resolve(slug)
		require.NoError(t, err)
		assert.Equal(t, "deepseek-v3-1", target.Model.Slug)
	}
}

func TestRegistryResolveWithoutDefault(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Resolve("anything")
	assert.ErrorIs(t, err, ErrInvalidModel)
}

func TestRegistryUnknownProvider(t *testing.T) {
	c, err := config.ParseCatalog([]byte("models:\n  - slug: a\n    model: claude-x\n    provider: anthropic\n    default: true\n"), "")
	require.NoError(t, err)
	_, err = NewRegistry(c).Resolve("a")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestRegistryForModel(t *testing.T) {
	or := NewOpenRouter(OpenRouterConfig{APIKey: "k"})
	an := NewAnthropic(AnthropicConfig{APIKey: "k"})
	r := NewRegistry(testCatalog(t), or, an)

	p, model, err := r.ForModel("anthropic:claude-haiku")
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, p.Name())
	assert.Equal(t, "claude-haiku", model)

	p, model, err = r.ForModel("meta-llama/Llama-3.3-70B-Instruct-Turbo")
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenRouter, p.Name())
	assert.Equal(t, "meta-llama/Llama-3.3-70B-Instruct-Turbo", model)
}

func sseChunk(content, finish string) string {
	choice := map[string]any{"index": 0, "delta": map[string]any{"content": content}, "finish_reason": nil}
	if finish != "" {
		choice["finish_reason"] = finish
	}
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion.chunk",
		"created": 1,
		"model":   "qwen/qwen3-coder:free",
		"choices": []any{choice},
	})
	return "data: " + string(b) + "\n\n"
}

func TestOpenRouterStream(t *testing.T) {
	var gotHeaders http.Header
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/chat/completions", r.URL.Path)
		gotHeaders = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("Hel", ""))
		fmt.Fprint(w, sseChunk("lo", "stop"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenRouter(OpenRouterConfig{
		APIKey:   "sk-test",
		BaseURL:  srv.URL + "/api/v1",
		Referrer: "http://localhost:3000",
		AppName:  "Askable",
	})

	var deltas []string
	resp, err := p.Stream(context.Background(), Request{
		Model:    "qwen/qwen3-coder:free",
		System:   "be brief",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.Equal(t, "Hello", resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, "Bearer sk-test", gotHeaders.Get("Authorization"))
	assert.Equal(t, "http://localhost:3000", gotHeaders.Get("HTTP-Referer"))
	assert.Equal(t, "Askable", gotHeaders.Get("X-Title"))

	msgs, _ := gotBody["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestOpenRouterComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Sales Trends"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":7,"completion_tokens":2,"total_tokens":9}}`)
	}))
	defer srv.Close()

	p := NewOpenRouter(OpenRouterConfig{APIKey: "k", BaseURL: srv.URL})
	resp, err := p.Complete(context.Background(), Request{Model: "m", Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.NoError(t, err)
	assert.Equal(t, "Sales Trends", resp.Text)
	assert.Equal(t, int64(9), resp.Usage.TotalTokens)
}

func TestOpenRouterProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Request-Id", "req-1")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"model not found","type":"invalid_request_error","code":"model_not_found"}}`)
	}))
	defer srv.Close()

	p := NewOpenRouter(OpenRouterConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := p.Stream(context.Background(), Request{Model: "m", Messages: []Message{{Role: RoleUser, Content: "x"}}}, func(string) error { return nil })
	require.Error(t, err)

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
	assert.False(t, pe.Retryable())

	s := Serialize(err)
	assert.Equal(t, http.StatusBadRequest, s.Status)
	require.NotNil(t, s.Response)
	assert.Equal(t, "req-1", s.Response.Headers["X-Request-Id"])
}

func TestMissingCredentialsFailAtFirstUse(t *testing.T) {
	p := NewOpenRouter(OpenRouterConfig{})
	_, err := p.Complete(context.Background(), Request{Model: "m", Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENROUTER_API_KEY")
	assert.ErrorIs(t, err, ErrProviderNotEnabled)

	a := NewAnthropic(AnthropicConfig{})
	_, err = a.Stream(context.Background(), Request{Model: "m", Messages: []Message{{Role: RoleUser, Content: "x"}}}, func(string) error { return nil })
	assert.ErrorContains(t, err, "ANTHROPIC_API_KEY")
}

func TestEmptyConversationRejected(t *testing.T) {
	p := NewOpenRouter(OpenRouterConfig{APIKey: "k"})
	_, err := p.Complete(context.Background(), Request{Model: "m"})
	assert.ErrorIs(t, err, ErrEmptyConversation)
}

const anthropicStream = `event: message_start
data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"claude-test","stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":10,"output_tokens":1}}}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Acme "}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"wins"}}

event: content_block_stop
data: {"type":"content_block_stop","index":0}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":5}}

event: message_stop
data: {"type":"message_stop"}

`

func TestAnthropicStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, anthropicStream)
	}))
	defer srv.Close()

	p := NewAnthropic(AnthropicConfig{APIKey: "k", BaseURL: srv.URL})
	var got strings.Builder
	resp, err := p.Stream(context.Background(), Request{
		Model:    "claude-test",
		System:   "sys",
		Messages: []Message{{Role: RoleUser, Content: "who wins?"}},
	}, func(d string) error {
		got.WriteString(d)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Acme wins", got.String())
	assert.Equal(t, "Acme wins", resp.Text)
	assert.Equal(t, "end_turn", resp.FinishReason)
	assert.Equal(t, int64(15), resp.Usage.TotalTokens)
}

func TestStreamAbortsWhenSinkFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("a", ""))
		fmt.Fprint(w, sseChunk("b", "stop"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	sinkErr := errors.New("client gone")
	p := NewOpenRouter(OpenRouterConfig{APIKey: "k", BaseURL: srv.URL, Throttle: NewThrottle(DefaultThrottleConfig())})
	calls := 0
	_, err := p.Stream(context.Background(), Request{Model: "m", Messages: []Message{{Role: RoleUser, Content: "x"}}}, func(string) error {
		calls++
		return sinkErr
	})
	assert.ErrorIs(t, err, sinkErr)
	assert.Equal(t, 1, calls)
}

func noSleepThrottle(retries int) *Throttle {
	th := NewThrottle(ThrottleConfig{RequestsPerSecond: 1000, Burst: 100, Retry: RetryConfig{
		MaxRetries: retries, InitialBackoff: time.Millisecond, MaxBackoff: time.Second,
	}})
	th.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return th
}

func TestThrottleRetriesRetryableErrors(t *testing.T) {
	th := noSleepThrottle(2)
	var calls int32
	err := th.Do(context.Background(), func(ctx context.Context) (bool, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return true, &ProviderError{Provider: "x", StatusCode: http.StatusTooManyRequests}
		}
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls)
	assert.Equal(t, th.base, th.Limit())
}

func TestThrottleGivesUp(t *testing.T) {
	th := noSleepThrottle(1)
	calls := 0
	err := th.Do(context.Background(), func(ctx context.Context) (bool, error) {
		calls++
		return true, &ProviderError{Provider: "x", StatusCode: http.StatusBadGateway}
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestThrottleSlowsDownOn429(t *testing.T) {
	th := noSleepThrottle(0)
	_ = th.Do(context.Background(), func(ctx context.Context) (bool, error) {
		return true, &ProviderError{Provider: "x", StatusCode: http.StatusTooManyRequests}
	})
	assert.Less(t, float64(th.Limit()), float64(th.base))
}

func TestThrottleDoesNotRetry(t *testing.T) {
	th := noSleepThrottle(3)

	calls := 0
	err := th.Do(context.Background(), func(ctx context.Context) (bool, error) {
		calls++
		return true, &ProviderError{Provider: "x", StatusCode: http.StatusBadRequest}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "client errors are final")

	calls = 0
	err = th.Do(context.Background(), func(ctx context.Context) (bool, error) {
		calls++
		return false, &ProviderError{Provider: "x", StatusCode: http.StatusServiceUnavailable}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "a stream that already emitted text is not replayed")
}

func TestParseRetryAfterAndBackoff(t *testing.T) {
	h := http.Header{}
	assert.Zero(t, ParseRetryAfter(h))
	h.Set("Retry-After", "3")
	assert.Equal(t, 3*time.Second, ParseRetryAfter(h))

	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}
	assert.Equal(t, 100*time.Millisecond, CalculateBackoff(0, cfg))
	assert.Equal(t, 400*time.Millisecond, CalculateBackoff(2, cfg))
	assert.Equal(t, time.Second, CalculateBackoff(10, cfg))
}

func TestWrapErrorKeepsContextErrors(t *testing.T) {
	assert.Equal(t, context.Canceled, wrapError("x", context.Canceled))
	var pe *ProviderError
	assert.True(t, errors.As(wrapError("x", errors.New("boom")), &pe))
}
