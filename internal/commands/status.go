package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotcommander/codexmem/internal/app"
	"github.com/dotcommander/codexmem/internal/output"
)

// NewStatusCmd reports the running worker's stats as a JSON envelope.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show worker status and memory stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL := workerBaseURL(cmd)

			info, pidErr := app.ReadPIDFile()
			if !workerReachable(baseURL) {
				type resp struct {
					Running bool   `json:"running"`
					Worker  string `json:"worker"`
					Hint    string `json:"hint"`
				}
				hint := "start it with `codexmem worker`"
				if pidErr == nil {
					hint = fmt.Sprintf("pid file says pid %d on port %d, but the worker is not answering; %s", info.PID, info.Port, hint)
				}
				return output.PrintSuccess(resp{Running: false, Worker: baseURL, Hint: hint})
			}

			stats, err := fetchJSON(baseURL + "/stats")
			if err != nil {
				return cmdErr(err)
			}
			type resp struct {
				Running bool            `json:"running"`
				Worker  string          `json:"worker"`
				Stats   json.RawMessage `json:"stats"`
			}
			return output.PrintSuccess(resp{Running: true, Worker: baseURL, Stats: stats})
		},
	}
}

func fetchJSON(url string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query worker: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read worker response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("worker returned %d: %s", resp.StatusCode, body)
	}
	return json.RawMessage(body), nil
}
