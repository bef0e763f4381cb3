package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/loqalabs/learnpod/internal/failure"
	"github.com/mattn/go-shellwords"
)

// exitTempFail is EX_TEMPFAIL from sysexits.h; a command exiting with it is retried.
const exitTempFail = 75

const stderrLimit = 4096

// execSynth runs an external speech command once per turn. The turn is sent as
// a JSON object on stdin. The command answers on stdout either with a complete
// WAV file or with JSON lines carrying base64 PCM. The placeholders {voice} and
// {lang} in the command line are replaced per turn.
type execSynth struct {
	argv       []string
	sampleRate int
	channels   int
}

type execTurn struct {
	RunID      string `json:"run_id,omitempty"`
	Turn       int    `json:"turn"`
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	Language   string `json:"language,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// execLine is one JSON line of streamed output. SampleRate and Channels are
// optional and default to the configured format.
type execLine struct {
	PCMBase64  string `json:"pcm_base64"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Final      bool   `json:"final"`
}

func NewExecSynth(command string, sampleRate, channels int) (Synthesizer, error) {
	argv, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("tts command empty")
	}
	return &execSynth{argv: argv, sampleRate: sampleRate, channels: channels}, nil
}

func (e *execSynth) command(req SynthRequest) []string {
	r := strings.NewReplacer("{voice}", req.Voice, "{lang}", req.Language)
	out := make([]string, len(e.argv))
	for i, arg := range e.argv {
		out[i] = r.Replace(arg)
	}
	return out
}

func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		if err := e.run(ctx, req, chunks); err != nil {
			errs <- err
		}
	}()
	return chunks, errs
}

func (e *execSynth) run(ctx context.Context, req SynthRequest, chunks chan<- SynthChunk) error {
	payload, err := json.Marshal(execTurn{
		RunID:      req.RunID,
		Turn:       req.TurnSeq,
		Text:       req.Text,
		Voice:      req.Voice,
		Language:   req.Language,
		SampleRate: e.sampleRate,
		Channels:   e.channels,
	})
	if err != nil {
		return fmt.Errorf("marshal tts turn: %w", err)
	}

	argv := e.command(req)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stderr bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderr, n: stderrLimit}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return failure.New(failure.KindService, "start tts command", err)
	}

	out := bufio.NewReaderSize(stdout, 64*1024)
	head, _ := out.Peek(4)
	var streamErr error
	if string(head) == "RIFF" {
		streamErr = e.forwardWAV(ctx, req, out, chunks)
	} else {
		streamErr = e.forwardLines(ctx, req, out, chunks)
	}
	if streamErr != nil {
		// Drain so the command is not blocked on a full pipe before Wait.
		_, _ = io.Copy(io.Discard, out)
	}
	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if waitErr != nil {
		return commandFailure(waitErr, stderr.String())
	}
	return streamErr
}

func (e *execSynth) forwardWAV(ctx context.Context, req SynthRequest, r io.Reader, chunks chan<- SynthChunk) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read tts wav: %w", err)
	}
	clip, err := DecodeWAV(data)
	if err != nil {
		return failure.New(failure.KindAudioSynthesis, "decode tts wav", err)
	}
	return send(ctx, chunks, SynthChunk{
		RunID:      req.RunID,
		SampleRate: clip.SampleRate,
		Channels:   clip.Channels,
		PCM:        clip.PCM,
		Final:      true,
	})
}

func (e *execSynth) forwardLines(ctx context.Context, req SynthRequest, r io.Reader, chunks chan<- SynthChunk) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*1024), 32*1024*1024)
	seq := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg execLine
		if err := json.Unmarshal(line, &msg); err != nil {
			return failure.New(failure.KindAudioSynthesis, "decode tts line", err)
		}
		pcm, err := base64.StdEncoding.DecodeString(msg.PCMBase64)
		if err != nil {
			return failure.New(failure.KindAudioSynthesis, "decode tts pcm", err)
		}
		chunk := SynthChunk{
			RunID:      req.RunID,
			Sequence:   seq,
			SampleRate: e.sampleRate,
			Channels:   e.channels,
			PCM:        pcm,
			Final:      msg.Final,
		}
		if msg.SampleRate > 0 {
			chunk.SampleRate = msg.SampleRate
		}
		if msg.Channels > 0 {
			chunk.Channels = msg.Channels
		}
		if err := send(ctx, chunks, chunk); err != nil {
			return err
		}
		seq++
	}
	return scanner.Err()
}

func send(ctx context.Context, chunks chan<- SynthChunk, chunk SynthChunk) error {
	select {
	case chunks <- chunk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func commandFailure(err error, stderr string) error {
	detail := strings.TrimSpace(stderr)
	if detail != "" {
		err = fmt.Errorf("%w: %s", err, detail)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == exitTempFail {
		return failure.New(failure.KindTransientService, "tts command", err)
	}
	return failure.New(failure.KindService, "tts command", err)
}

// limitedWriter keeps the first n bytes and silently drops the rest.
type limitedWriter struct {
	w io.Writer
	n int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.n > 0 {
		keep := p
		if len(keep) > l.n {
			keep = keep[:l.n]
		}
		written, err := l.w.Write(keep)
		l.n -= written
		if err != nil {
			return written, err
		}
	}
	return len(p), nil
}
