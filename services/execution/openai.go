package execution

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/sahilchouksey/askable/config"
	"github.com/sahilchouksey/askable/model"
)

const (
	BackendOpenAI = "openai"

	DefaultOpenAIModel = "o4-mini"
)

type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// OpenAIBackend runs code through the Responses API code interpreter tool.
// The reply is a single text output.
type OpenAIBackend struct {
	cfg    OpenAIConfig
	client openai.Client
}

func NewOpenAIBackend(cfg OpenAIConfig) *OpenAIBackend {
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(1)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &OpenAIBackend{cfg: cfg, client: openai.NewClient(opts...)}
}

func (b *OpenAIBackend) Name() string {
	return BackendOpenAI
}

type responsesRequest struct {
	Model   string           `json:"model"`
	Tools   []map[string]any `json:"tools"`
	Include []string         `json:"include,omitempty"`
	Input   []responsesInput `json:"input"`
}

type responsesInput struct {
	Role    string           `json:"role"`
	Content []map[string]any `json:"content"`
}

type responsesReply struct {
	Status     string          `json:"status"`
	OutputText string          `json:"output_text"`
	Output     json.RawMessage `json:"output"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type responsesOutputItem struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Outputs []struct {
		Type string `json:"type"`
		Logs string `json:"logs"`
	} `json:"outputs"`
}

func (b *OpenAIBackend) Execute(ctx context.Context, job Job) (model.ExecutionResult, error) {
	if _, err := config.Require("OPENAI_API_KEY", b.cfg.APIKey); err != nil {
		return model.ExecutionResult{}, err
	}

	code := job.Code
	if preamble := InlineFilesPreamble(job.Files); preamble != "" {
		code = preamble + "\n" + code
	}

	req := responsesRequest{
		Model:   b.cfg.Model,
		Tools:   []map[string]any{{"type": "code_interpreter", "container": map[string]any{"type": "auto"}}},
		Include: []string{"code_interpreter_call.outputs"},
		Input: []responsesInput{{
			Role:    "user",
			Content: []map[string]any{{"type": "input_text", "text": "Run this Python code:\n\n" + code}},
		}},
	}

	var reply responsesReply
	if err := b.client.Post(ctx, "responses", req, &reply); err != nil {
		return model.ExecutionResult{}, err
	}
	if reply.Error != nil && reply.Error.Message != "" {
		return model.ErrorResult(model.ErrorKindProvider, reply.Error.Message), nil
	}
	return parseResponsesReply(reply), nil
}

func parseResponsesReply(reply responsesReply) model.ExecutionResult {
	var items []responsesOutputItem
	_ = json.Unmarshal(reply.Output, &items)

	var (
		text      strings.Builder
		traceback string
	)
	for _, item := range items {
		switch item.Type {
		case "message":
			for _, c := range item.Content {
				if c.Type == "output_text" {
					text.WriteString(c.Text)
				}
			}
		case "code_interpreter_call":
			for _, o := range item.Outputs {
				if o.Type == "logs" && strings.Contains(o.Logs, "Traceback (most recent call last)") {
					traceback = o.Logs
				}
			}
		}
	}

	out := reply.OutputText
	if out == "" {
		out = text.String()
	}
	if out == "" && len(reply.Output) > 0 {
		out = string(reply.Output)
	}

	outputs := []model.OutputItem{{Type: model.OutputText, Data: out}}
	if traceback != "" {
		return model.ErrorResult(model.ErrorKindRuntime, lastLine(traceback), outputs...)
	}
	return model.SuccessResult(outputs...)
}

// lastLine returns the final non-empty line, which for a Python traceback is
// the exception and its message.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return s
}
