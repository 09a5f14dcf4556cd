package llm

import (
	"context"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sahilchouksey/askable/config"
)

const (
	ProviderAnthropic = "anthropic"

	defaultAnthropicMaxTokens = 4096
)

type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Throttle   *Throttle
}

type Anthropic struct {
	cfg      AnthropicConfig
	client   anthropic.Client
	throttle *Throttle
}

func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &Anthropic{cfg: cfg, client: anthropic.NewClient(opts...), throttle: cfg.Throttle}
}

func (p *Anthropic) Name() string {
	return ProviderAnthropic
}

func (p *Anthropic) checkConfigured() error {
	if _, err := config.Require("ANTHROPIC_API_KEY", p.cfg.APIKey); err != nil {
		return &ProviderError{Provider: ProviderAnthropic, Message: err.Error(), Err: ErrProviderNotEnabled}
	}
	return nil
}

func (p *Anthropic) params(req Request) anthropic.MessageNewParams {
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(block))
		}
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	return params
}

func (p *Anthropic) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := p.checkConfigured(); err != nil {
		return nil, err
	}
	if len(req.Messages) == 0 {
		return nil, ErrEmptyConversation
	}

	var out *Response
	err := p.throttle.Do(ctx, func(ctx context.Context) (bool, error) {
		msg, err := p.client.Messages.New(ctx, p.params(req))
		if err != nil {
			return true, wrapError(ProviderAnthropic, err)
		}
		var text strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		out = &Response{
			Text:         text.String(),
			FinishReason: string(msg.StopReason),
			Model:        string(msg.Model),
			Usage: Usage{
				InputTokens:  msg.Usage.InputTokens,
				OutputTokens: msg.Usage.OutputTokens,
				TotalTokens:  msg.Usage.InputTokens + msg.Usage.OutputTokens,
			},
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Anthropic) Stream(ctx context.Context, req Request, onDelta DeltaFunc) (*Response, error) {
	if err := p.checkConfigured(); err != nil {
		return nil, err
	}
	if len(req.Messages) == 0 {
		return nil, ErrEmptyConversation
	}

	var out *Response
	err := p.throttle.Do(ctx, func(ctx context.Context) (bool, error) {
		stream := p.client.Messages.NewStreaming(ctx, p.params(req))
		defer stream.Close()

		var (
			text    strings.Builder
			emitted bool
			resp    = &Response{Model: req.Model}
		)
		for stream.Next() {
			switch ev := stream.Current().AsAny().(type) {
			case anthropic.MessageStartEvent:
				resp.Model = string(ev.Message.Model)
				resp.Usage.InputTokens = ev.Message.Usage.InputTokens
			case anthropic.ContentBlockDeltaEvent:
				delta, ok := ev.Delta.AsAny().(anthropic.TextDelta)
				if !ok || delta.Text == "" {
					continue
				}
				text.WriteString(delta.Text)
				emitted = true
				if err := onDelta(delta.Text); err != nil {
					return false, err
				}
			case anthropic.MessageDeltaEvent:
				resp.FinishReason = string(ev.Delta.StopReason)
				resp.Usage.OutputTokens = ev.Usage.OutputTokens
			}
		}
		if err := stream.Err(); err != nil {
			return !emitted, wrapError(ProviderAnthropic, err)
		}

		resp.Usage.TotalTokens = resp.Usage.InputTokens + resp.Usage.OutputTokens
		resp.Text = text.String()
		out = resp
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
