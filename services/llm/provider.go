// Package llm talks to text-generation providers and resolves which model a
// chat turn uses.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sahilchouksey/askable/config"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
}

type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
	TotalTokens  int64 `json:"totalTokens"`
}

type Response struct {
	Text         string `json:"text"`
	FinishReason string `json:"finishReason"`
	Model        string `json:"model"`
	Usage        Usage  `json:"usage"`
}

// DeltaFunc receives streamed text. Returning an error aborts the stream.
type DeltaFunc func(delta string) error

type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
	// Stream calls onDelta for every text chunk and returns the full reply
	// once the provider finishes.
	Stream(ctx context.Context, req Request, onDelta DeltaFunc) (*Response, error)
}

var (
	ErrInvalidModel       = errors.New("invalid model selected")
	ErrUnknownProvider    = errors.New("unknown provider")
	ErrEmptyConversation  = errors.New("messages are required")
	ErrProviderNotEnabled = errors.New("provider is not configured")
)

// Target is a resolved catalog entry bound to the provider serving it.
type Target struct {
	Provider Provider
	Model    config.ChatModel
}

// Registry maps catalog entries to providers.
type Registry struct {
	catalog   *config.Catalog
	providers map[string]Provider
}

func NewRegistry(catalog *config.Catalog, providers ...Provider) *Registry {
	r := &Registry{catalog: catalog, providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p != nil {
			r.providers[p.Name()] = p
		}
	}
	return r
}

func (r *Registry) Catalog() *config.Catalog {
	return r.catalog
}

// Resolve returns the entry for slug, the catalog default when slug is empty
// or unknown, and ErrInvalidModel when there is no default either.
func (r *Registry) Resolve(slug string) (Target, error) {
	var (
		entry config.ChatModel
		ok    bool
	)
	if r.catalog != nil {
		if slug != "" {
			entry, ok = r.catalog.Lookup(slug)
		}
		if !ok {
			entry, ok = r.catalog.Default()
		}
	}
	if !ok {
		return Target{}, fmt.Errorf("%w: %q", ErrInvalidModel, slug)
	}

	p, err := r.Provider(entry.Provider)
	if err != nil {
		return Target{}, err
	}
	return Target{Provider: p, Model: entry}, nil
}

// Provider returns the provider registered under name.
func (r *Registry) Provider(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// ForModel picks a provider for a raw model id: "anthropic:<id>" goes to the
// anthropic provider when registered, everything else to openrouter.
func (r *Registry) ForModel(modelID string) (Provider, string, error) {
	if rest, ok := strings.CutPrefix(modelID, "anthropic:"); ok {
		p, err := r.Provider(ProviderAnthropic)
		return p, rest, err
	}
	p, err := r.Provider(ProviderOpenRouter)
	return p, modelID, err
}
