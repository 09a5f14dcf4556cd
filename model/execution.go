package model

// ExecutionStatus is the terminal status of one execution attempt.
type ExecutionStatus string

const (
	ExecutionSuccess   ExecutionStatus = "success"
	ExecutionError     ExecutionStatus = "error"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// ExecutionErrorKind tells apart the causes of an error status.
type ExecutionErrorKind string

const (
	ErrorKindRuntime  ExecutionErrorKind = "runtime"
	ErrorKindTimedOut ExecutionErrorKind = "timed_out"
	ErrorKindProvider ExecutionErrorKind = "provider"
)

// OutputType is the type of one execution output item.
type OutputType string

const (
	OutputText   OutputType = "text"
	OutputStdout OutputType = "stdout"
	OutputStderr OutputType = "stderr"
	OutputImage  OutputType = "image"
	OutputError  OutputType = "error"
)

// Outcome folds status and error kind into a single tag.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeError     Outcome = "error"
	OutcomeTimedOut  Outcome = "timedOut"
	OutcomeCancelled Outcome = "cancelled"
)

// OutputItem is one ordered output of an execution. Images carry base64 data.
type OutputItem struct {
	Type     OutputType `json:"type"`
	Data     string     `json:"data"`
	MimeType string     `json:"mimeType,omitempty"`
}

// ExecutionResult is the normalized result of running a code snippet.
type ExecutionResult struct {
	Status       ExecutionStatus    `json:"status"`
	Outputs      []OutputItem       `json:"outputs"`
	ErrorMessage string             `json:"error_message,omitempty"`
	ErrorKind    ExecutionErrorKind `json:"error_kind,omitempty"`
}

func (r ExecutionResult) Outcome() Outcome {
	switch {
	case r.Status == ExecutionSuccess:
		return OutcomeSuccess
	case r.Status == ExecutionCancelled:
		return OutcomeCancelled
	case r.ErrorKind == ErrorKindTimedOut:
		return OutcomeTimedOut
	default:
		return OutcomeError
	}
}

// Failed reports an error status of any kind.
func (r ExecutionResult) Failed() bool {
	return r.Status == ExecutionError
}

func SuccessResult(outputs ...OutputItem) ExecutionResult {
	if outputs == nil {
		outputs = []OutputItem{}
	}
	return ExecutionResult{Status: ExecutionSuccess, Outputs: outputs}
}

func ErrorResult(kind ExecutionErrorKind, message string, outputs ...OutputItem) ExecutionResult {
	if outputs == nil {
		outputs = []OutputItem{}
	}
	return ExecutionResult{Status: ExecutionError, Outputs: outputs, ErrorMessage: message, ErrorKind: kind}
}

func CancelledResult() ExecutionResult {
	return ExecutionResult{Status: ExecutionCancelled, Outputs: []OutputItem{}}
}
