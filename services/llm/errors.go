package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// ProviderError is a failed call to a model provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Code       string
	Type       string
	Message    string
	Headers    http.Header
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s API error: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable matches the statuses the retry loop backs off on.
func (e *ProviderError) Retryable() bool {
	return IsRetryableStatusCode(e.StatusCode)
}

// wrapError converts SDK errors into ProviderError. Context errors are
// returned untouched so callers can tell cancellation from failure.
func wrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}

	out := &ProviderError{Provider: provider, Message: err.Error(), Err: err}

	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		out.StatusCode = oaErr.StatusCode
		out.Code = oaErr.Code
		out.Type = oaErr.Type
		if oaErr.Message != "" {
			out.Message = oaErr.Message
		}
		if oaErr.Response != nil {
			out.Headers = oaErr.Response.Header.Clone()
		}
		return out
	}

	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		out.StatusCode = anErr.StatusCode
		if anErr.Response != nil {
			out.Headers = anErr.Response.Header.Clone()
		}
	}
	return out
}

// SerializedError is the operator-facing description of a provider failure.
type SerializedError struct {
	Name     string              `json:"name"`
	Message  string              `json:"message"`
	Causes   []string            `json:"causes,omitempty"`
	Status   int                 `json:"status,omitempty"`
	Code     string              `json:"code,omitempty"`
	Type     string              `json:"type,omitempty"`
	Response *SerializedResponse `json:"response,omitempty"`
}

type SerializedResponse struct {
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// Serialize flattens err and its wrapped chain for logs and debug output.
func Serialize(err error) SerializedError {
	if err == nil {
		return SerializedError{}
	}
	out := SerializedError{Name: fmt.Sprintf("%T", err), Message: err.Error()}

	for inner := errors.Unwrap(err); inner != nil; inner = errors.Unwrap(inner) {
		out.Causes = append(out.Causes, inner.Error())
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		out.Status = pe.StatusCode
		out.Code = pe.Code
		out.Type = pe.Type
		if pe.StatusCode > 0 {
			resp := &SerializedResponse{Status: pe.StatusCode, StatusText: http.StatusText(pe.StatusCode)}
			if len(pe.Headers) > 0 {
				resp.Headers = make(map[string]string, len(pe.Headers))
				for k := range pe.Headers {
					resp.Headers[k] = pe.Headers.Get(k)
				}
			}
			out.Response = resp
		}
	}
	return out
}
