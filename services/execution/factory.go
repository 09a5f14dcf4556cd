package execution

import (
	"fmt"

	"github.com/sahilchouksey/askable/config"
)

// NewBackend picks the backend named by EXECUTION_BACKEND.
func NewBackend(env *config.EnviornmentVariable) (Backend, error) {
	switch env.EXECUTION_BACKEND {
	case BackendOpenAI, "":
		return NewOpenAIBackend(OpenAIConfig{
			APIKey:  env.OPENAI_API_KEY,
			BaseURL: env.EXECUTION_BASE_URL,
			Model:   env.EXECUTION_MODEL,
		}), nil
	case BackendTogether:
		return NewTogetherBackend(TogetherConfig{
			APIKey:  env.TOGETHER_API_KEY,
			BaseURL: env.EXECUTION_BASE_URL,
		}), nil
	case BackendJobs:
		return NewJobsBackend(JobsConfig{
			APIKey:  env.EXECUTION_API_KEY,
			BaseURL: env.EXECUTION_BASE_URL,
		}), nil
	case BackendLocal:
		return NewLocalBackend(""), nil
	default:
		return nil, fmt.Errorf("unknown EXECUTION_BACKEND %q", env.EXECUTION_BACKEND)
	}
}
