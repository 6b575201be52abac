package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dotcommander/codexmem/internal/app"
)

const (
	codexCallTimeout = 3 * time.Minute
	// codexKillDelay is how long a SIGTERM'd codex process gets to flush
	// before it is killed outright.
	codexKillDelay = 5 * time.Second

	maxStderrCapture = 4096

	// internalMarkerEnv lets host-tool hooks recognize our own subprocess
	// calls and stay quiet instead of re-ingesting them.
	internalMarkerEnv = "CODEXMEM_INTERNAL"
)

var tokenUsageRe = regexp.MustCompile(`(?i)tokens used[:\s]+([0-9][0-9,]*)`)

// CodexProvider runs sessions through the codex CLI. Each call is a fresh
// subprocess: the conversation history is flattened into one prompt, written
// to a temp directory, and the reply is read back from the CLI's
// --output-last-message file.
type CodexProvider struct {
	binary          string
	reasoningEffort string
	useOss          bool
	ollamaBaseURL   string
	ollamaModel     string
}

// NewCodexProvider builds the CLI provider from resolved config. The binary
// must be on PATH.
func NewCodexProvider(cfg app.Config) (*CodexProvider, error) {
	binary := cfg.CodexBinary
	if binary == "" {
		binary = app.DefaultCodexBinary
	}
	if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("codex binary %q not found in PATH: %w", binary, err)
	}
	return &CodexProvider{
		binary:          binary,
		reasoningEffort: cfg.CodexReasoningEffort,
		useOss:          cfg.CodexUseOss,
		ollamaBaseURL:   cfg.OllamaBaseURL,
		ollamaModel:     cfg.OllamaModel,
	}, nil
}

// Name implements Provider.
func (p *CodexProvider) Name() string { return app.ProviderCodex }

// StartSession implements Provider.
func (p *CodexProvider) StartSession(ctx context.Context, s *Session) error {
	return s.Run(ctx, p.Name(), p.chat)
}

func (p *CodexProvider) chat(ctx context.Context, history []Turn) (string, Usage, error) {
	dir, err := os.MkdirTemp("", "codexmem-codex-")
	if err != nil {
		return "", Usage{}, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	promptPath := filepath.Join(dir, "prompt.txt")
	outputPath := filepath.Join(dir, "last-message.txt")
	if err := os.WriteFile(promptPath, []byte(renderTranscript(history)), 0o600); err != nil {
		return "", Usage{}, fmt.Errorf("write prompt file: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, codexCallTimeout)
	defer cancel()

	args := []string{"exec", "--output-last-message", outputPath}
	if p.reasoningEffort != "" {
		args = append(args, "-c", "model_reasoning_effort="+strconv.Quote(p.reasoningEffort))
	}
	if p.useOss {
		args = append(args, "--oss", "--model", p.ollamaModel)
	}
	args = append(args, "-")

	cmd := exec.CommandContext(ctx, p.binary, args...)
	// Run away from any real project so the host tool's own hooks do not
	// fire on our internal calls.
	cmd.Dir = os.TempDir()
	cmd.Env = append(os.Environ(), internalMarkerEnv+"=1")
	if p.useOss {
		cmd.Env = append(cmd.Env, "OLLAMA_HOST="+p.ollamaBaseURL)
	}

	promptFile, err := os.Open(promptPath)
	if err != nil {
		return "", Usage{}, fmt.Errorf("open prompt file: %w", err)
	}
	defer promptFile.Close()
	cmd.Stdin = promptFile

	var stdout bytes.Buffer
	stderr := &boundedBuffer{max: maxStderrCapture}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	// A timed-out CLI gets SIGTERM first so it can flush the output file,
	// then SIGKILL after the delay.
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = codexKillDelay

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", Usage{}, Transient(p.Name(), 0, fmt.Errorf("codex timed out: %w", ctx.Err()))
		}
		return "", Usage{}, Transient(p.Name(), 0,
			fmt.Errorf("codex failed: %w (stderr: %s)", err, stderr.String()))
	}

	reply, err := os.ReadFile(outputPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", Usage{}, fmt.Errorf("read codex output: %w", err)
	}

	usage := Usage{}
	if total := parseTokenUsage(stdout.String()); total > 0 {
		usage.InputTokens, usage.OutputTokens = SplitTokens(total)
	}
	return strings.TrimSpace(string(reply)), usage, nil
}

// renderTranscript flattens the history for a stateless CLI call. Earlier
// turns are replayed as a labelled transcript; the last user turn stands
// alone as the live request.
func renderTranscript(history []Turn) string {
	if len(history) == 1 {
		return history[0].Text
	}
	var b strings.Builder
	b.WriteString("Conversation so far:\n\n")
	for _, t := range history[:len(history)-1] {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", t.Role, t.Text)
	}
	b.WriteString("[current request]\n")
	b.WriteString(history[len(history)-1].Text)
	return b.String()
}

func parseTokenUsage(stdout string) int64 {
	m := tokenUsageRe.FindStringSubmatch(stdout)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseInt(strings.ReplaceAll(m[1], ",", ""), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// boundedBuffer caps captured bytes, discarding overflow. Keeps a runaway
// CLI from ballooning error messages.
type boundedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	remaining := b.max - b.buf.Len()
	if remaining <= 0 {
		return n, nil
	}
	if len(p) > remaining {
		p = p[:remaining]
	}
	b.buf.Write(p)
	return n, nil
}

func (b *boundedBuffer) String() string {
	s := strings.TrimSpace(b.buf.String())
	if b.buf.Len() >= b.max {
		s += " (truncated)"
	}
	return s
}
