// Package llmtest provides a scripted provider for tests.
package llmtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/sahilchouksey/askable/services/llm"
)

// Reply is one scripted answer. Chunks are streamed in order; Err is returned
// after the chunks are sent.
type Reply struct {
	Chunks []string
	Err    error
}

func Text(chunks ...string) Reply {
	return Reply{Chunks: chunks}
}

// Provider answers calls from a queue of replies and records every request.
type Provider struct {
	mu       sync.Mutex
	name     string
	replies  []Reply
	requests []llm.Request
	// Block, when set, makes Stream wait for ctx cancellation after sending
	// its chunks.
	Block bool
}

var ErrScriptExhausted = errors.New("llmtest: no scripted reply left")

func New(name string, replies ...Reply) *Provider {
	return &Provider{name: name, replies: replies}
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Requests() []llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.Request, len(p.requests))
	copy(out, p.requests)
	return out
}

func (p *Provider) next(req llm.Request) (Reply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.replies) == 0 {
		return Reply{}, ErrScriptExhausted
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	return r, nil
}

func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	r, err := p.next(req)
	if err != nil {
		return nil, err
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return &llm.Response{Text: strings.Join(r.Chunks, ""), FinishReason: "stop", Model: req.Model}, nil
}

func (p *Provider) Stream(ctx context.Context, req llm.Request, onDelta llm.DeltaFunc) (*llm.Response, error) {
	r, err := p.next(req)
	if err != nil {
		return nil, err
	}
	for _, c := range r.Chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := onDelta(c); err != nil {
			return nil, err
		}
	}
	if p.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return &llm.Response{Text: strings.Join(r.Chunks, ""), FinishReason: "stop", Model: req.Model}, nil
}
