package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotcommander/codexmem/internal/app"
)

// printedError wraps an error that has already been rendered as a JSON
// envelope, so Execute does not log it a second time.
type printedError struct {
	err error
}

func (e printedError) Error() string {
	// Intentionally hide the original error: the JSON error response is the output.
	return "error already printed"
}

func (e printedError) Unwrap() error { return e.err }

// cmdErr logs a command failure to stderr and marks it printed. Enriched
// errors contribute their context as log attributes.
func cmdErr(err error) error {
	if err == nil {
		return nil
	}
	attrs := []any{"error", err.Error()}
	type contextualError interface {
		ErrorCode() string
		Context() map[string]string
	}
	var detailed contextualError
	if errors.As(err, &detailed) {
		attrs = append(attrs, "code", detailed.ErrorCode())
		for k, v := range detailed.Context() {
			attrs = append(attrs, k, v)
		}
	}
	slog.Error("command error", attrs...)
	return printedError{err: err}
}

// workerAddr resolves the worker host/port, letting --port override the
// configured value.
func workerAddr(cmd *cobra.Command) (string, int) {
	cfg := app.LoadConfig()
	host, port := cfg.WorkerHost, cfg.WorkerPort
	if cmd.Flags().Changed("port") {
		if p, err := cmd.Flags().GetInt("port"); err == nil {
			port = p
		}
	}
	return host, port
}

// workerBaseURL renders the worker address as an http base URL.
func workerBaseURL(cmd *cobra.Command) string {
	host, port := workerAddr(cmd)
	return fmt.Sprintf("http://%s:%d", host, port)
}

// workerReachable probes the worker's health endpoint.
func workerReachable(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
