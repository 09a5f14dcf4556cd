package execution

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/sahilchouksey/askable/config"
	"github.com/sahilchouksey/askable/model"
)

const (
	BackendJobs = "jobs"

	defaultPollInterval = 500 * time.Millisecond
	cancelTimeout       = 5 * time.Second
)

// JobsConfig configures the polling backend. APIKey is sent as a bearer token
// when set; endpoints on a private network may run without one.
type JobsConfig struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// JobsBackend submits code as an asynchronous job and polls until it reaches
// a terminal state. An aborted caller cancels the remote job.
type JobsBackend struct {
	cfg    JobsConfig
	client openai.Client
}

func NewJobsBackend(cfg JobsConfig) *JobsBackend {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.BaseURL != "" && !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	opts := []option.RequestOption{option.WithMaxRetries(2)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	} else {
		// The client picks up OPENAI_API_KEY from the environment by default.
		opts = append(opts, option.WithHeaderDel("authorization"))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &JobsBackend{cfg: cfg, client: openai.NewClient(opts...)}
}

func (b *JobsBackend) Name() string {
	return BackendJobs
}

type jobAttachment struct {
	Name          string `json:"name"`
	ContentBase64 string `json:"content_base64"`
}

type jobSubmit struct {
	Language    string          `json:"language"`
	Code        string          `json:"code"`
	SessionID   string          `json:"session_id,omitempty"`
	Attachments []jobAttachment `json:"attachments,omitempty"`
}

type jobState struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type jobOutputs struct {
	Outputs []struct {
		Type     string `json:"type"`
		Data     string `json:"data"`
		MimeType string `json:"mime_type"`
	} `json:"outputs"`
}

func (s jobState) terminal() bool {
	switch s.Status {
	case "succeeded", "failed", "cancelled":
		return true
	}
	return false
}

func (b *JobsBackend) Execute(ctx context.Context, job Job) (model.ExecutionResult, error) {
	if _, err := config.Require("EXECUTION_BASE_URL", b.cfg.BaseURL); err != nil {
		return model.ExecutionResult{}, err
	}

	submit := jobSubmit{Language: "python", Code: job.Code, SessionID: job.SessionID}
	for _, f := range job.Files {
		submit.Attachments = append(submit.Attachments, jobAttachment{
			Name:          SafeName(f.Name),
			ContentBase64: base64.StdEncoding.EncodeToString([]byte(f.Content)),
		})
	}

	// A retried submit could start the job twice; polls and cancels retry.
	var state jobState
	if err := b.client.Post(ctx, "jobs", submit, &state, option.WithMaxRetries(0)); err != nil {
		return model.ExecutionResult{}, fmt.Errorf("submit job: %w", err)
	}
	if state.ID == "" {
		return model.ExecutionResult{}, fmt.Errorf("submit job: no job id returned")
	}

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()
	for !state.terminal() {
		select {
		case <-ctx.Done():
			b.cancel(state.ID)
			return model.ExecutionResult{}, ctx.Err()
		case <-ticker.C:
		}
		if err := b.client.Get(ctx, "jobs/"+state.ID, nil, &state); err != nil {
			if ctx.Err() != nil {
				b.cancel(state.ID)
				return model.ExecutionResult{}, ctx.Err()
			}
			return model.ExecutionResult{}, fmt.Errorf("poll job %s: %w", state.ID, err)
		}
	}

	if state.Status == "cancelled" {
		return model.CancelledResult(), nil
	}

	var outs jobOutputs
	if err := b.client.Get(ctx, "jobs/"+state.ID+"/outputs", nil, &outs); err != nil {
		return model.ExecutionResult{}, fmt.Errorf("fetch outputs of job %s: %w", state.ID, err)
	}

	items := make([]model.OutputItem, 0, len(outs.Outputs))
	for _, o := range outs.Outputs {
		item := model.OutputItem{Type: model.OutputType(o.Type), Data: o.Data, MimeType: o.MimeType}
		switch item.Type {
		case model.OutputText, model.OutputStdout, model.OutputStderr, model.OutputImage, model.OutputError:
		default:
			item.Type = model.OutputText
		}
		items = append(items, item)
	}

	if state.Status == "failed" {
		return model.ErrorResult(model.ErrorKindRuntime, state.Error, items...), nil
	}
	return model.SuccessResult(items...), nil
}

// cancel is best effort; the caller's context is already done.
func (b *JobsBackend) cancel(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if err := b.client.Delete(ctx, "jobs/"+id, nil, nil); err != nil {
		log.Warnw("failed to cancel remote job", "job_id", id, "error", err)
	}
}
