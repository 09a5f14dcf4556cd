package llm

import (
	"context"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/sahilchouksey/askable/config"
)

const ProviderOpenRouter = "openrouter"

type OpenRouterConfig struct {
	APIKey     string
	BaseURL    string
	Referrer   string
	AppName    string
	HTTPClient *http.Client
	Throttle   *Throttle
}

// OpenRouter speaks the OpenAI chat-completions protocol against an
// OpenAI-compatible gateway.
type OpenRouter struct {
	cfg      OpenRouterConfig
	client   openai.Client
	throttle *Throttle
}

func NewOpenRouter(cfg OpenRouterConfig) *OpenRouter {
	base := cfg.BaseURL
	if base != "" && !strings.HasSuffix(base, "/") {
		base += "/"
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if cfg.Referrer != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", cfg.Referrer))
	}
	if cfg.AppName != "" {
		opts = append(opts, option.WithHeader("X-Title", cfg.AppName))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &OpenRouter{cfg: cfg, client: openai.NewClient(opts...), throttle: cfg.Throttle}
}

func (p *OpenRouter) Name() string {
	return ProviderOpenRouter
}

func (p *OpenRouter) checkConfigured() error {
	if _, err := config.Require("OPENROUTER_API_KEY", p.cfg.APIKey); err != nil {
		return &ProviderError{Provider: ProviderOpenRouter, Message: err.Error(), Err: ErrProviderNotEnabled}
	}
	return nil
}

func (p *OpenRouter) params(req Request) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	return params
}

func (p *OpenRouter) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := p.checkConfigured(); err != nil {
		return nil, err
	}
	if len(req.Messages) == 0 {
		return nil, ErrEmptyConversation
	}

	var out *Response
	err := p.throttle.Do(ctx, func(ctx context.Context) (bool, error) {
		completion, err := p.client.Chat.Completions.New(ctx, p.params(req))
		if err != nil {
			return true, wrapError(ProviderOpenRouter, err)
		}
		out = &Response{
			Model: completion.Model,
			Usage: Usage{
				InputTokens:  completion.Usage.PromptTokens,
				OutputTokens: completion.Usage.CompletionTokens,
				TotalTokens:  completion.Usage.TotalTokens,
			},
		}
		if len(completion.Choices) > 0 {
			out.Text = completion.Choices[0].Message.Content
			out.FinishReason = string(completion.Choices[0].FinishReason)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *OpenRouter) Stream(ctx context.Context, req Request, onDelta DeltaFunc) (*Response, error) {
	if err := p.checkConfigured(); err != nil {
		return nil, err
	}
	if len(req.Messages) == 0 {
		return nil, ErrEmptyConversation
	}

	var out *Response
	err := p.throttle.Do(ctx, func(ctx context.Context) (bool, error) {
		stream := p.client.Chat.Completions.NewStreaming(ctx, p.params(req))
		defer stream.Close()

		var (
			text    strings.Builder
			emitted bool
			resp    = &Response{Model: req.Model}
		)
		for stream.Next() {
			chunk := stream.Current()
			if chunk.Model != "" {
				resp.Model = chunk.Model
			}
			if chunk.Usage.TotalTokens > 0 {
				resp.Usage = Usage{
					InputTokens:  chunk.Usage.PromptTokens,
					OutputTokens: chunk.Usage.CompletionTokens,
					TotalTokens:  chunk.Usage.TotalTokens,
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if fr := string(choice.FinishReason); fr != "" {
				resp.FinishReason = fr
			}
			if delta := choice.Delta.Content; delta != "" {
				text.WriteString(delta)
				emitted = true
				if err := onDelta(delta); err != nil {
					return false, err
				}
			}
		}
		if err := stream.Err(); err != nil {
			return !emitted, wrapError(ProviderOpenRouter, err)
		}

		resp.Text = text.String()
		out = resp
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
