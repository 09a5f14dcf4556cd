package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/sahilchouksey/askable/config"
	"github.com/sahilchouksey/askable/model"
)

const (
	BackendTogether = "together"

	DefaultTogetherBaseURL = "https://api.together.xyz/"
)

type TogetherConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// TogetherBackend calls a Together-style code interpreter that returns a list
// of typed outputs. The OpenAI client is used as a plain authenticated JSON
// transport.
type TogetherBackend struct {
	cfg    TogetherConfig
	client openai.Client
}

func NewTogetherBackend(cfg TogetherConfig) *TogetherBackend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTogetherBaseURL
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(1),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &TogetherBackend{cfg: cfg, client: openai.NewClient(opts...)}
}

func (b *TogetherBackend) Name() string {
	return BackendTogether
}

type tciFile struct {
	Name     string `json:"name"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

type tciRequest struct {
	Language  string    `json:"language"`
	Code      string    `json:"code"`
	SessionID string    `json:"session_id,omitempty"`
	Files     []tciFile `json:"files,omitempty"`
}

type tciOutput struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type tciResponse struct {
	Data struct {
		SessionID string      `json:"session_id"`
		Status    string      `json:"status"`
		Outputs   []tciOutput `json:"outputs"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (b *TogetherBackend) Execute(ctx context.Context, job Job) (model.ExecutionResult, error) {
	if _, err := config.Require("TOGETHER_API_KEY", b.cfg.APIKey); err != nil {
		return model.ExecutionResult{}, err
	}

	req := tciRequest{Language: "python", Code: job.Code, SessionID: job.SessionID}
	for _, f := range job.Files {
		req.Files = append(req.Files, tciFile{Name: SafeName(f.Name), Encoding: "string", Content: f.Content})
	}

	var resp tciResponse
	if err := b.client.Post(ctx, "tci/execute", req, &resp); err != nil {
		return model.ExecutionResult{}, err
	}
	if len(resp.Errors) > 0 && resp.Data.Status == "" {
		return model.ExecutionResult{}, fmt.Errorf("code interpreter rejected the request: %s", resp.Errors[0].Message)
	}
	return normalizeTCI(resp), nil
}

func normalizeTCI(resp tciResponse) model.ExecutionResult {
	outputs := make([]model.OutputItem, 0, len(resp.Data.Outputs))
	errMsg := ""
	for _, o := range resp.Data.Outputs {
		switch o.Type {
		case "stdout":
			outputs = append(outputs, model.OutputItem{Type: model.OutputStdout, Data: rawString(o.Data)})
		case "stderr":
			outputs = append(outputs, model.OutputItem{Type: model.OutputStderr, Data: rawString(o.Data)})
		case "error":
			msg := rawString(o.Data)
			outputs = append(outputs, model.OutputItem{Type: model.OutputError, Data: msg})
			if errMsg == "" {
				errMsg = msg
			}
		case "display_data", "execute_result":
			var mime map[string]string
			if err := json.Unmarshal(o.Data, &mime); err != nil {
				outputs = append(outputs, model.OutputItem{Type: model.OutputText, Data: rawString(o.Data)})
				continue
			}
			switch {
			case mime["image/png"] != "":
				outputs = append(outputs, model.OutputItem{Type: model.OutputImage, Data: mime["image/png"], MimeType: "image/png"})
			case mime["image/jpeg"] != "":
				outputs = append(outputs, model.OutputItem{Type: model.OutputImage, Data: mime["image/jpeg"], MimeType: "image/jpeg"})
			case mime["text/plain"] != "":
				outputs = append(outputs, model.OutputItem{Type: model.OutputText, Data: mime["text/plain"]})
			}
		}
	}

	if resp.Data.Status == "success" && errMsg == "" {
		return model.SuccessResult(outputs...)
	}
	return model.ErrorResult(model.ErrorKindRuntime, errMsg, outputs...)
}

// rawString decodes a JSON string, or returns the raw JSON for other values.
func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
