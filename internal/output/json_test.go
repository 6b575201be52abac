package output

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/dotcommander/codexmem/internal/models"
	"github.com/stretchr/testify/require"
)

// Compile-time check: models.RecoverableError must satisfy the local recoverableError interface.
var _ recoverableError = (models.RecoverableError)(nil)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	original := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	defer func() { os.Stdout = original }()

	fn()

	require.NoError(t, w.Close())

	b, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	return string(b)
}

func TestSuccessEnvelope(t *testing.T) {
	s := Success(map[string]any{"running": true, "worker": "http://127.0.0.1:37777"})
	require.Equal(t, "v1", s.SchemaVersion)
	require.True(t, s.Success)
	require.NotNil(t, s.Data)
	require.Empty(t, s.Error)
	require.Empty(t, s.ErrorCode)
}

func TestErrorEnvelope_PlainError(t *testing.T) {
	e := Error(errors.New("worker not reachable"))
	require.Equal(t, "v1", e.SchemaVersion)
	require.False(t, e.Success)
	require.Nil(t, e.Data)
	require.Equal(t, "worker not reachable", e.Error)
	require.Empty(t, e.ErrorCode)
	require.Nil(t, e.ErrorContext)
	require.Empty(t, e.SuggestedAction)
}

func TestPrintWith_Format(t *testing.T) {
	stats := map[string]int{"observations": 11, "sessions": 3}

	t.Run("compact", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, PrintWith(Config{Writer: &buf}, stats))
		require.Equal(t, "{\"observations\":11,\"sessions\":3}\n", buf.String())
	})

	t.Run("pretty", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, PrintWith(Config{Writer: &buf, Pretty: true}, stats))
		out := buf.String()
		require.True(t, strings.HasPrefix(out, "{\n"))
		require.Contains(t, out, "\n  \"observations\": 11")
	})
}

func TestPrint_RespectsPrettyEnv(t *testing.T) {
	payload := map[string]int{"queued": 1}

	t.Setenv("CODEXMEM_PRETTY_JSON", "")
	out := captureStdout(t, func() {
		require.NoError(t, Print(payload))
	})
	require.Equal(t, "{\"queued\":1}\n", out)

	t.Setenv("CODEXMEM_PRETTY_JSON", "1")
	out = captureStdout(t, func() {
		require.NoError(t, Print(payload))
	})
	require.True(t, strings.HasPrefix(out, "{\n"))
}

func TestPrintSuccess_WrapsData(t *testing.T) {
	t.Setenv("CODEXMEM_PRETTY_JSON", "")

	out := captureStdout(t, func() {
		require.NoError(t, PrintSuccess(map[string]int{"promptNumber": 4}))
	})
	require.Contains(t, out, "\"schema_version\":\"v1\"")
	require.Contains(t, out, "\"success\":true")
	require.Contains(t, out, "\"promptNumber\":4")
}

func TestPrintError_WrapsError(t *testing.T) {
	t.Setenv("CODEXMEM_PRETTY_JSON", "")

	out := captureStdout(t, func() {
		require.NoError(t, PrintError(errors.New("settings file is corrupt")))
	})
	require.Contains(t, out, "\"success\":false")
	require.Contains(t, out, "\"error\":\"settings file is corrupt\"")
}

// queueFullErr exercises the enriched-error path with the shape the store's
// recoverable errors carry.
type queueFullErr struct {
	sessionDBID string
	cap         string
}

func (e *queueFullErr) Error() string { return "pending queue is full for session" }
func (e *queueFullErr) ErrorCode() string {
	return "QUEUE_FULL"
}
func (e *queueFullErr) Context() map[string]string {
	return map[string]string{"session_db_id": e.sessionDBID, "cap": e.cap}
}
func (e *queueFullErr) SuggestedAction() string {
	return "wait for the session's agent to drain its queue, then retry"
}

func TestErrorEnvelope_RecoverableError(t *testing.T) {
	resp := Error(&queueFullErr{sessionDBID: "42", cap: "10"})
	require.False(t, resp.Success)
	require.Equal(t, "pending queue is full for session", resp.Error)
	require.Equal(t, "QUEUE_FULL", resp.ErrorCode)
	require.Equal(t, map[string]string{"session_db_id": "42", "cap": "10"}, resp.ErrorContext)
	require.Equal(t, "wait for the session's agent to drain its queue, then retry", resp.SuggestedAction)
}

func TestErrorEnvelope_WrappedRecoverableError(t *testing.T) {
	// errors.As must see through fmt.Errorf wrapping at command call sites.
	resp := Error(fmt.Errorf("enqueue observation: %w", &queueFullErr{sessionDBID: "7", cap: "3"}))
	require.Equal(t, "QUEUE_FULL", resp.ErrorCode)
	require.Equal(t, "7", resp.ErrorContext["session_db_id"])
	require.Contains(t, resp.Error, "enqueue observation")
}

func TestErrorEnvelope_JSONFieldPresence(t *testing.T) {
	render := func(err error) string {
		var buf bytes.Buffer
		require.NoError(t, PrintWith(Config{Writer: &buf}, Error(err)))
		return buf.String()
	}

	enriched := render(&queueFullErr{sessionDBID: "42", cap: "10"})
	require.Contains(t, enriched, `"error_code":"QUEUE_FULL"`)
	require.Contains(t, enriched, `"session_db_id":"42"`)
	require.Contains(t, enriched, `"suggested_action":"wait for the session's agent to drain its queue, then retry"`)

	plain := render(errors.New("plain"))
	require.NotContains(t, plain, "error_code")
	require.NotContains(t, plain, "error_context")
	require.NotContains(t, plain, "suggested_action")
}

func TestDefaultConfig_PrettyToggle(t *testing.T) {
	cases := []struct {
		env    string
		pretty bool
	}{
		{"", false},
		{"0", false},
		{"1", true},
		{"true", true},
	}
	for _, tc := range cases {
		t.Setenv("CODEXMEM_PRETTY_JSON", tc.env)
		cfg := DefaultConfig()
		require.Equal(t, os.Stdout, cfg.Writer)
		require.Equal(t, tc.pretty, cfg.Pretty, "env %q", tc.env)
	}
}
