package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/loqalabs/learnpod/internal/failure"
	"github.com/mattn/go-shellwords"
)

// exitTempFail (EX_TEMPFAIL) marks a command failure worth retrying.
const exitTempFail = 75

// execGenerator hands one task to an external command as JSON on stdin. The
// command replies with a JSON object, or with the bare generated text.
type execGenerator struct {
	argv []string
}

type execTask struct {
	RunID       string            `json:"run_id,omitempty"`
	Task        string            `json:"task"`
	Prompt      string            `json:"prompt"`
	System      string            `json:"system,omitempty"`
	MaxTokens   int               `json:"max_tokens"`
	Temperature float64           `json:"temperature"`
	Hints       map[string]string `json:"hints,omitempty"`
}

type execReply struct {
	Content          string `json:"content"`
	Error            string `json:"error,omitempty"`
	Retry            bool   `json:"retry,omitempty"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

func NewExecGenerator(command string) (Generator, error) {
	argv, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse llm command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("llm command empty")
	}
	return &execGenerator{argv: argv}, nil
}

func (g *execGenerator) Generate(ctx context.Context, req Request, consumer func(Delta) error) error {
	input, err := json.Marshal(execTask{
		RunID:       req.RunID,
		Task:        req.Task,
		Prompt:      req.Prompt,
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Hints:       req.Hints,
	})
	if err != nil {
		return fmt.Errorf("marshal llm task: %w", err)
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, g.argv[0], g.argv[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if detail := strings.TrimSpace(stderr.String()); detail != "" {
			err = fmt.Errorf("%w: %s", err, detail)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == exitTempFail {
			return failure.New(failure.KindTransientService, "llm command", err)
		}
		return failure.New(failure.KindService, "llm command", err)
	}

	reply, err := parseExecReply(stdout.Bytes())
	if err != nil {
		return err
	}
	return consumer(Delta{
		RunID:            req.RunID,
		Content:          reply.Content,
		PromptTokens:     reply.PromptTokens,
		CompletionTokens: reply.CompletionTokens,
		Latency:          time.Since(start),
	})
}

func parseExecReply(out []byte) (execReply, error) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return execReply{Content: string(trimmed)}, nil
	}
	var reply execReply
	if err := json.Unmarshal(trimmed, &reply); err != nil {
		return execReply{}, fmt.Errorf("decode llm reply: %w", err)
	}
	if reply.Error != "" {
		kind := failure.KindService
		if reply.Retry {
			kind = failure.KindTransientService
		}
		return execReply{}, failure.Newf(kind, "llm command", "%s", reply.Error)
	}
	return reply, nil
}
