package execution

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sahilchouksey/askable/model"
)

const BackendLocal = "local"

// LocalBackend runs code with a local interpreter in a scratch directory.
// It is meant for development; there is no sandboxing.
type LocalBackend struct {
	Interpreter string
}

func NewLocalBackend(interpreter string) *LocalBackend {
	if interpreter == "" {
		interpreter = "python3"
	}
	return &LocalBackend{Interpreter: interpreter}
}

func (b *LocalBackend) Name() string {
	return BackendLocal
}

func (b *LocalBackend) Execute(ctx context.Context, job Job) (model.ExecutionResult, error) {
	dir, err := os.MkdirTemp("", "askable-exec-*")
	if err != nil {
		return model.ExecutionResult{}, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	for _, f := range job.Files {
		if err := os.WriteFile(filepath.Join(dir, SafeName(f.Name)), []byte(f.Content), 0o600); err != nil {
			return model.ExecutionResult{}, fmt.Errorf("write %s: %w", f.Name, err)
		}
	}
	script := filepath.Join(dir, "main.py")
	if err := os.WriteFile(script, []byte(job.Code), 0o600); err != nil {
		return model.ExecutionResult{}, fmt.Errorf("write script: %w", err)
	}

	before, _ := filepath.Glob(filepath.Join(dir, "*.png"))
	known := make(map[string]bool, len(before))
	for _, p := range before {
		known[p] = true
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, b.Interpreter, "main.py")
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "MPLBACKEND=Agg")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return model.ExecutionResult{}, ctx.Err()
	}

	var outputs []model.OutputItem
	if stdout.Len() > 0 {
		outputs = append(outputs, model.OutputItem{Type: model.OutputStdout, Data: stdout.String()})
	}
	if stderr.Len() > 0 {
		outputs = append(outputs, model.OutputItem{Type: model.OutputStderr, Data: stderr.String()})
	}
	outputs = append(outputs, newImages(dir, known)...)

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return model.ExecutionResult{}, fmt.Errorf("start %s: %w", b.Interpreter, runErr)
		}
		msg := lastLine(stderr.String())
		if strings.TrimSpace(msg) == "" {
			msg = exitErr.Error()
		}
		outputs = append(outputs, model.OutputItem{Type: model.OutputError, Data: msg})
		return model.ErrorResult(model.ErrorKindRuntime, msg, outputs...), nil
	}
	return model.SuccessResult(outputs...), nil
}

func newImages(dir string, known map[string]bool) []model.OutputItem {
	paths, _ := filepath.Glob(filepath.Join(dir, "*.png"))
	sort.Strings(paths)
	var out []model.OutputItem
	for _, p := range paths {
		if known[p] {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		out = append(out, model.OutputItem{
			Type:     model.OutputImage,
			Data:     base64.StdEncoding.EncodeToString(data),
			MimeType: "image/png",
		})
	}
	return out
}
