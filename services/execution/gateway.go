// Package execution runs model-generated Python against a sandbox backend and
// normalizes whatever the backend returns into model.ExecutionResult.
package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sahilchouksey/askable/model"
)

const DefaultTimeout = 60 * time.Second

var ErrMissingCode = errors.New("code is required")

var tracer = otel.Tracer("github.com/sahilchouksey/askable/services/execution")

// NamedFile is a file made available to the code under its name.
type NamedFile struct {
	Name     string `json:"name" validate:"required"`
	Content  string `json:"content"`
	MimeType string `json:"type,omitempty"`
}

type Job struct {
	Code      string
	Files     []NamedFile
	SessionID string
}

// Backend executes a job. Runtime failures of the code itself are reported
// in the result; a returned error means the backend could not run the job.
type Backend interface {
	Name() string
	Execute(ctx context.Context, job Job) (model.ExecutionResult, error)
}

type Gateway struct {
	backend Backend
	timeout time.Duration
}

func NewGateway(backend Backend, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{backend: backend, timeout: timeout}
}

func (g *Gateway) Backend() string {
	return g.backend.Name()
}

func (g *Gateway) Timeout() time.Duration {
	return g.timeout
}

// Run executes job under the gateway timeout. Exactly one terminal status is
// returned: success, error (runtime, timed_out or provider) or cancelled.
func (g *Gateway) Run(ctx context.Context, job Job) model.ExecutionResult {
	if strings.TrimSpace(job.Code) == "" {
		return model.ErrorResult(model.ErrorKindRuntime, ErrMissingCode.Error())
	}
	if ctx.Err() != nil {
		return model.CancelledResult()
	}

	ctx, span := tracer.Start(ctx, "execution.run", trace.WithAttributes(
		attribute.String("execution.backend", g.backend.Name()),
		attribute.Int("execution.files", len(job.Files)),
	))
	defer span.End()

	runCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	job.Code = DataFramePrelude(job.Files) + job.Code

	start := time.Now()
	res, err := g.backend.Execute(runCtx, job)
	result := g.classify(ctx, runCtx, res, err)

	span.SetAttributes(attribute.String("execution.outcome", string(result.Outcome())))
	log.Infow("code execution finished",
		"backend", g.backend.Name(),
		"session_id", job.SessionID,
		"outcome", result.Outcome(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result
}

func (g *Gateway) classify(parent, runCtx context.Context, res model.ExecutionResult, err error) model.ExecutionResult {
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		return model.CancelledResult()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return model.ErrorResult(model.ErrorKindTimedOut,
			fmt.Sprintf("Code execution timed out after %s.", g.timeout))
	case err != nil:
		log.Warnw("execution backend failed", "backend", g.backend.Name(), "error", err)
		return model.ErrorResult(model.ErrorKindProvider, err.Error())
	}
	return normalize(res)
}

// normalize fills the fields every caller relies on.
func normalize(res model.ExecutionResult) model.ExecutionResult {
	if res.Outputs == nil {
		res.Outputs = []model.OutputItem{}
	}
	switch res.Status {
	case model.ExecutionSuccess, model.ExecutionCancelled:
		res.ErrorKind = ""
		res.ErrorMessage = ""
	case model.ExecutionError:
		if res.ErrorKind == "" {
			res.ErrorKind = model.ErrorKindRuntime
		}
		if res.ErrorMessage == "" {
			res.ErrorMessage = firstError(res.Outputs)
		}
	default:
		res.Status = model.ExecutionError
		res.ErrorKind = model.ErrorKindProvider
		res.ErrorMessage = "execution backend returned no status"
	}
	return res
}

func firstError(outputs []model.OutputItem) string {
	for _, o := range outputs {
		if o.Type == model.OutputError {
			return o.Data
		}
	}
	for _, o := range outputs {
		if o.Type == model.OutputStderr && o.Data != "" {
			return o.Data
		}
	}
	return "Unknown error"
}
