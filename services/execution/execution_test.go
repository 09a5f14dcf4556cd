package execution

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahilchouksey/askable/model"
)

type stubBackend struct {
	fn   func(ctx context.Context, job Job) (model.ExecutionResult, error)
	seen Job
}

func (s *stubBackend) Name() string { return "stub" }

func (s *stubBackend) Execute(ctx context.Context, job Job) (model.ExecutionResult, error) {
	s.seen = job
	return s.fn(ctx, job)
}

func blocking(ctx context.Context, _ Job) (model.ExecutionResult, error) {
	<-ctx.Done()
	return model.ExecutionResult{}, ctx.Err()
}

func TestGatewayTimeout(t *testing.T) {
	g := NewGateway(&stubBackend{fn: blocking}, 20*time.Millisecond)

	start := time.Now()
	res := g.Run(context.Background(), Job{Code: "while True: pass"})

	assert.Equal(t, model.ExecutionError, res.Status)
	assert.Equal(t, model.ErrorKindTimedOut, res.ErrorKind)
	assert.Equal(t, model.OutcomeTimedOut, res.Outcome())
	assert.Contains(t, res.ErrorMessage, "timed out")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestGatewayCancellation(t *testing.T) {
	g := NewGateway(&stubBackend{fn: blocking}, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	res := g.Run(ctx, Job{Code: "print(1)"})
	assert.Equal(t, model.ExecutionCancelled, res.Status)
	assert.Empty(t, res.ErrorMessage)
	assert.NotNil(t, res.Outputs)
}

func TestGatewayAlreadyCancelled(t *testing.T) {
	called := false
	g := NewGateway(&stubBackend{fn: func(ctx context.Context, job Job) (model.ExecutionResult, error) {
		called = true
		return model.SuccessResult(), nil
	}}, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, model.ExecutionCancelled, g.Run(ctx, Job{Code: "x"}).Status)
	assert.False(t, called)
}

func TestGatewayBackendFailureIsProviderKind(t *testing.T) {
	g := NewGateway(&stubBackend{fn: func(ctx context.Context, job Job) (model.ExecutionResult, error) {
		return model.ExecutionResult{}, errors.New("sandbox unavailable")
	}}, time.Minute)

	res := g.Run(context.Background(), Job{Code: "print(1)"})
	assert.Equal(t, model.ExecutionError, res.Status)
	assert.Equal(t, model.ErrorKindProvider, res.ErrorKind)
	assert.Equal(t, "sandbox unavailable", res.ErrorMessage)
}

func TestGatewayNormalizesRuntimeErrors(t *testing.T) {
	g := NewGateway(&stubBackend{fn: func(ctx context.Context, job Job) (model.ExecutionResult, error) {
		return model.ExecutionResult{
			Status:  model.ExecutionError,
			Outputs: []model.OutputItem{{Type: model.OutputError, Data: "KeyError: 'Brand'"}},
		}, nil
	}}, time.Minute)

	res := g.Run(context.Background(), Job{Code: "print(df['Brand'])"})
	assert.Equal(t, model.ErrorKindRuntime, res.ErrorKind)
	assert.Equal(t, "KeyError: 'Brand'", res.ErrorMessage)
}

func TestGatewayMissingCode(t *testing.T) {
	g := NewGateway(&stubBackend{fn: blocking}, time.Minute)
	res := g.Run(context.Background(), Job{Code: "   "})
	assert.Equal(t, model.ExecutionError, res.Status)
	assert.Equal(t, ErrMissingCode.Error(), res.ErrorMessage)
}

func TestGatewayAddsDataFramePrelude(t *testing.T) {
	stub := &stubBackend{fn: func(ctx context.Context, job Job) (model.ExecutionResult, error) {
		return model.SuccessResult(), nil
	}}
	g := NewGateway(stub, time.Minute)

	res := g.Run(context.Background(), Job{Code: "print(df.shape)", Files: []NamedFile{{Name: "sales data.csv", Content: "a\n1\n"}}})
	require.Equal(t, model.ExecutionSuccess, res.Status)
	assert.True(t, strings.HasPrefix(stub.seen.Code, "import pandas as pd\ndf = pd.read_csv(\"sales_data.csv\")\n"))
	assert.True(t, strings.HasSuffix(stub.seen.Code, "print(df.shape)"))
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "data.csv", SafeName(""))
	assert.Equal(t, "passwd", SafeName("../../etc/passwd"))
	assert.Equal(t, "my_file_1_.csv", SafeName("my file(1).csv"))
}

func TestInlineFilesPreamble(t *testing.T) {
	assert.Empty(t, InlineFilesPreamble(nil))
	p := InlineFilesPreamble([]NamedFile{{Name: "data.csv", Content: "Brand,Stock\n"}})
	assert.Contains(t, p, "import base64")
	assert.Contains(t, p, `with open("data.csv", "w", encoding="utf-8")`)
	assert.Contains(t, p, "QnJhbmQsU3RvY2sK")
}

func TestOpenAIBackend(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/responses", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"resp_1","status":"completed","output":[
			{"type":"code_interpreter_call","status":"completed","outputs":[{"type":"logs","logs":"Acme\n"}]},
			{"type":"message","content":[{"type":"output_text","text":"The output is Acme."}]}]}`)
	}))
	defer srv.Close()

	b := NewOpenAIBackend(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/"})
	res, err := b.Execute(context.Background(), Job{Code: "print('Acme')", Files: []NamedFile{{Name: "data.csv", Content: "x"}}})
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionSuccess, res.Status)
	require.Len(t, res.Outputs, 1)
	assert.Equal(t, model.OutputText, res.Outputs[0].Type)
	assert.Equal(t, "The output is Acme.", res.Outputs[0].Data)

	assert.Equal(t, "o4-mini", body["model"])
	input := body["input"].([]any)[0].(map[string]any)
	text := input["content"].([]any)[0].(map[string]any)["text"].(string)
	assert.True(t, strings.HasPrefix(text, "Run this Python code:\n\nimport base64"))
}

func TestOpenAIBackendTraceback(t *testing.T) {
	res := parseResponsesReply(responsesReply{Output: json.RawMessage(`[
		{"type":"code_interpreter_call","outputs":[{"type":"logs","logs":"Traceback (most recent call last):\n  File \"x\"\nNameError: name 'dff' is not defined\n"}]},
		{"type":"message","content":[{"type":"output_text","text":"It failed."}]}]`)})
	assert.Equal(t, model.ExecutionError, res.Status)
	assert.Equal(t, "NameError: name 'dff' is not defined", res.ErrorMessage)
}

func TestOpenAIBackendRequiresKey(t *testing.T) {
	_, err := NewOpenAIBackend(OpenAIConfig{}).Execute(context.Background(), Job{Code: "x"})
	assert.ErrorContains(t, err, "missing required env var: OPENAI_API_KEY")
}

func TestTogetherBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tci/execute", r.URL.Path)
		var req tciRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "python", req.Language)
		assert.Equal(t, "sess-1", req.SessionID)
		require.Len(t, req.Files, 1)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":{"session_id":"sess-1","status":"success","outputs":[
			{"type":"stdout","data":"Acme\n"},
			{"type":"display_data","data":{"image/png":"iVBORw0KGgo="}}]}}`)
	}))
	defer srv.Close()

	b := NewTogetherBackend(TogetherConfig{APIKey: "k", BaseURL: srv.URL})
	res, err := b.Execute(context.Background(), Job{Code: "print('Acme')", SessionID: "sess-1", Files: []NamedFile{{Name: "d.csv", Content: "a"}}})
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionSuccess, res.Status)
	assert.Equal(t, []model.OutputItem{
		{Type: model.OutputStdout, Data: "Acme\n"},
		{Type: model.OutputImage, Data: "iVBORw0KGgo=", MimeType: "image/png"},
	}, res.Outputs)
}

func TestTogetherRuntimeError(t *testing.T) {
	res := normalizeTCI(tciResponse{Data: struct {
		SessionID string      `json:"session_id"`
		Status    string      `json:"status"`
		Outputs   []tciOutput `json:"outputs"`
	}{Status: "failed", Outputs: []tciOutput{{Type: "error", Data: json.RawMessage(`"ZeroDivisionError: division by zero"`)}}}})
	assert.Equal(t, model.ErrorKindRuntime, res.ErrorKind)
	assert.Equal(t, "ZeroDivisionError: division by zero", res.ErrorMessage)
}

func TestJobsBackendPolls(t *testing.T) {
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/jobs":
			_, _ = io.WriteString(w, `{"id":"j1","status":"queued"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/jobs/j1":
			if atomic.AddInt32(&polls, 1) < 3 {
				_, _ = io.WriteString(w, `{"id":"j1","status":"running"}`)
				return
			}
			_, _ = io.WriteString(w, `{"id":"j1","status":"failed","error":"KeyError: 'Stock'"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/jobs/j1/outputs":
			_, _ = io.WriteString(w, `{"outputs":[{"type":"stderr","data":"Traceback..."},{"type":"weird","data":"x"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	b := NewJobsBackend(JobsConfig{BaseURL: srv.URL, PollInterval: time.Millisecond})
	res, err := b.Execute(context.Background(), Job{Code: "print(df['Stock'])"})
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionError, res.Status)
	assert.Equal(t, "KeyError: 'Stock'", res.ErrorMessage)
	assert.Equal(t, model.OutputText, res.Outputs[1].Type)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&polls), int32(3))
}

func TestJobsBackendCancelsRemoteJob(t *testing.T) {
	deleted := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodPost:
			_, _ = io.WriteString(w, `{"id":"j2","status":"queued"}`)
		case http.MethodGet:
			_, _ = io.WriteString(w, `{"id":"j2","status":"running"}`)
		case http.MethodDelete:
			assert.Equal(t, "/jobs/j2", r.URL.Path)
			deleted <- struct{}{}
			_, _ = io.WriteString(w, `{}`)
		}
	}))
	defer srv.Close()

	g := NewGateway(NewJobsBackend(JobsConfig{BaseURL: srv.URL, PollInterval: 5 * time.Millisecond}), time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	res := g.Run(ctx, Job{Code: "import time; time.sleep(100)"})
	assert.Equal(t, model.ExecutionCancelled, res.Status)
	select {
	case <-deleted:
	case <-time.After(5 * time.Second):
		t.Fatal("remote job was not cancelled")
	}
}

func TestJobsBackendSubmitsOnce(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-not-for-jobs")
	var submits int32
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&submits, 1)
		auth.Store(r.Header.Get("Authorization"))
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b := NewJobsBackend(JobsConfig{BaseURL: srv.URL, PollInterval: time.Millisecond})
	_, err := b.Execute(context.Background(), Job{Code: "print(1)"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submit job")
	assert.Equal(t, int32(1), atomic.LoadInt32(&submits))
	assert.Empty(t, auth.Load())
}

func TestJobsBackendSendsAPIKey(t *testing.T) {
	auth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost:
			auth <- r.Header.Get("Authorization")
			_, _ = io.WriteString(w, `{"id":"j3","status":"succeeded"}`)
		case r.URL.Path == "/jobs/j3/outputs":
			_, _ = io.WriteString(w, `{"outputs":[{"type":"stdout","data":"1\n"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	b := NewJobsBackend(JobsConfig{APIKey: "jobs-key", BaseURL: srv.URL})
	res, err := b.Execute(context.Background(), Job{Code: "print(1)"})
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionSuccess, res.Status)
	assert.Equal(t, "Bearer jobs-key", <-auth)
}

func TestLocalBackend(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
	g := NewGateway(NewLocalBackend(""), 30*time.Second)

	res := g.Run(context.Background(), Job{Code: "print(open('d.txt').read())", Files: []NamedFile{{Name: "d.txt", Content: "Acme"}}})
	require.Equal(t, model.ExecutionSuccess, res.Status, res.ErrorMessage)
	assert.Equal(t, "Acme\n", res.Outputs[0].Data)

	res = g.Run(context.Background(), Job{Code: "1/0"})
	assert.Equal(t, model.ErrorKindRuntime, res.ErrorKind)
	assert.Equal(t, "ZeroDivisionError: division by zero", res.ErrorMessage)

	short := NewGateway(NewLocalBackend(""), 200*time.Millisecond)
	res = short.Run(context.Background(), Job{Code: "import time\ntime.sleep(10)"})
	assert.Equal(t, model.OutcomeTimedOut, res.Outcome())
}
