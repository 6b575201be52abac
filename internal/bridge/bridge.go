// Package bridge is the stdio MCP server that exposes memory search to MCP
// clients. It holds no state of its own: every tool call proxies to the
// worker's HTTP surface, spawning the worker first if none is running.
//
// stdout belongs to the JSON-RPC framing. Nothing here may print to it;
// logging goes to stderr, and the spawned worker is fully detached.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	healthTimeout = 1 * time.Second
	spawnWait     = 35 * time.Second
	pollInterval  = 500 * time.Millisecond
)

const serverInstructions = `codexmem is persistent memory distilled from past ` +
	`coding sessions: observations (what was discovered, fixed, decided), ` +
	`session summaries, and the user's own prompts. Start with search to get a ` +
	`compact index of matching records, use timeline to see what happened ` +
	`around a result, and only then fetch full records with get_observations. ` +
	`Never fetch full details without filtering first.`

// Bridge proxies MCP tool calls to the worker.
type Bridge struct {
	workerURL string
	binary    string // executable spawned as "<binary> worker" when the worker is down
	httpc     *http.Client

	spawnWait    time.Duration
	pollInterval time.Duration
}

func New(workerURL, binary string) *Bridge {
	return &Bridge{
		workerURL:    workerURL,
		binary:       binary,
		httpc:        &http.Client{Timeout: 60 * time.Second},
		spawnWait:    spawnWait,
		pollInterval: pollInterval,
	}
}

// Server builds the MCP server with the three memory tools registered.
func (b *Bridge) Server(version string) *server.MCPServer {
	srv := server.NewMCPServer(
		"codexmem",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions(serverInstructions),
	)

	srv.AddTool(
		mcp.NewTool("search",
			mcp.WithDescription("Search memory from past coding sessions. Returns a compact index of matching observations, summaries, and prompts with ids and dates. Narrow with project/type filters, then fetch full records by id with get_observations."),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("Full-text query, keywords or phrases"),
			),
			mcp.WithString("type",
				mcp.Description("What to search: observations (default), summaries, prompts, or all"),
			),
			mcp.WithString("project",
				mcp.Description("Filter by project name"),
			),
			mcp.WithString("obs_type",
				mcp.Description("Filter observations by type: discovery, bugfix, feature, refactor, decision, change"),
			),
			mcp.WithString("concept",
				mcp.Description("Filter by tagged concept"),
			),
			mcp.WithString("file",
				mcp.Description("Filter by touched file path"),
			),
			mcp.WithString("dateStart",
				mcp.Description("Earliest date, YYYY-MM-DD or epoch ms"),
			),
			mcp.WithString("dateEnd",
				mcp.Description("Latest date, YYYY-MM-DD or epoch ms"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Max results (default 20)"),
			),
			mcp.WithNumber("offset",
				mcp.Description("Pagination offset"),
			),
		),
		b.handleSearch,
	)

	srv.AddTool(
		mcp.NewTool("timeline",
			mcp.WithDescription("Show the chronological neighbourhood of an observation: what happened before and after it. Give an observation id as anchor, or a query to anchor on the best full-text match."),
			mcp.WithNumber("anchor",
				mcp.Description("Observation id to centre on"),
			),
			mcp.WithString("query",
				mcp.Description("Full-text query; the best match becomes the anchor"),
			),
			mcp.WithString("project",
				mcp.Description("Filter by project name"),
			),
			mcp.WithNumber("depth_before",
				mcp.Description("Items before the anchor (default 5)"),
			),
			mcp.WithNumber("depth_after",
				mcp.Description("Items after the anchor (default 5)"),
			),
		),
		b.handleTimeline,
	)

	srv.AddTool(
		mcp.NewTool("get_observations",
			mcp.WithDescription("Fetch full observation records by id: narrative, facts, concepts, and touched files. Use after search or timeline has identified the ids worth reading."),
			mcp.WithArray("ids",
				mcp.Required(),
				mcp.Description("Observation ids from a previous search or timeline call"),
				mcp.Items(map[string]any{"type": "number"}),
			),
		),
		b.handleGetObservations,
	)

	return srv
}

// Run serves MCP over stdio until the client hangs up.
func (b *Bridge) Run(version string) error {
	return server.ServeStdio(b.Server(version))
}

func (b *Bridge) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	query, _ := args["query"].(string)
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}

	params := url.Values{}
	params.Set("query", query)
	for _, key := range []string{"type", "project", "obs_type", "concept", "file", "dateStart", "dateEnd"} {
		if v, _ := args[key].(string); v != "" {
			params.Set(key, v)
		}
	}
	for _, key := range []string{"limit", "offset"} {
		if v, ok := args[key].(float64); ok && v > 0 {
			params.Set(key, strconv.Itoa(int(v)))
		}
	}

	text, err := b.callWorker(ctx, http.MethodGet, "/search?"+params.Encode(), nil)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (b *Bridge) handleTimeline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	params := url.Values{}
	if v, ok := args["anchor"].(float64); ok && v > 0 {
		params.Set("anchor", strconv.FormatInt(int64(v), 10))
	}
	if v, _ := args["query"].(string); v != "" {
		params.Set("query", v)
	}
	if v, _ := args["project"].(string); v != "" {
		params.Set("project", v)
	}
	for _, key := range []string{"depth_before", "depth_after"} {
		if v, ok := args[key].(float64); ok && v >= 0 {
			params.Set(key, strconv.Itoa(int(v)))
		}
	}
	if params.Get("anchor") == "" && params.Get("query") == "" {
		return mcp.NewToolResultError("provide an anchor id or a query"), nil
	}

	text, err := b.callWorker(ctx, http.MethodGet, "/timeline?"+params.Encode(), nil)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (b *Bridge) handleGetObservations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, ok := req.GetArguments()["ids"].([]any)
	if !ok || len(raw) == 0 {
		return mcp.NewToolResultError("ids is required and must be a non-empty array of numbers"), nil
	}
	ids := make([]int64, 0, len(raw))
	for _, v := range raw {
		n, ok := v.(float64)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("ids must be numbers, got %T", v)), nil
		}
		ids = append(ids, int64(n))
	}

	text, err := b.callWorker(ctx, http.MethodPost, "/observations/batch", map[string]any{"ids": ids})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

// callWorker performs one worker request, starting the worker if nothing is
// listening. A request that dies on the network is retried once after a
// fresh health check, which covers a worker that exited between calls.
func (b *Bridge) callWorker(ctx context.Context, method, path string, body any) (string, error) {
	if err := b.ensureWorker(ctx); err != nil {
		return "", err
	}

	text, err := b.do(ctx, method, path, body)
	if err == nil {
		return text, nil
	}
	var herr *workerError
	if errors.As(err, &herr) {
		return "", err // worker answered; not a liveness problem
	}

	slog.Warn("worker call failed, restarting worker", "error", err)
	if err := b.ensureWorker(ctx); err != nil {
		return "", err
	}
	return b.do(ctx, method, path, body)
}

// workerError is a response the worker itself produced, as opposed to a
// transport failure.
type workerError struct {
	Status  int
	Message string
}

func (e *workerError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("worker returned %d", e.Status)
}

func (b *Bridge) do(ctx context.Context, method, path string, body any) (string, error) {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return "", err
		}
		reqBody = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.workerURL+path, reqBody)
	if err != nil {
		return "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}

	var decoded struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("malformed worker response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &workerError{Status: resp.StatusCode, Message: decoded.Error}
	}
	for _, c := range decoded.Content {
		if c.Type == "text" {
			return c.Text, nil
		}
	}
	return "", nil
}

// ensureWorker verifies the worker is answering, spawning it when not.
func (b *Bridge) ensureWorker(ctx context.Context) error {
	if b.healthy(ctx) {
		return nil
	}

	slog.Info("worker not responding, starting it", "binary", b.binary)
	if err := b.spawnWorker(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	deadline := time.Now().Add(b.spawnWait)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.pollInterval):
		}
		if b.healthy(ctx) {
			slog.Info("worker is up")
			return nil
		}
	}
	return fmt.Errorf("worker did not become healthy within %s", b.spawnWait)
}

func (b *Bridge) healthy(ctx context.Context) bool {
	hctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(hctx, http.MethodGet, b.workerURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := b.httpc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse
	return resp.StatusCode == http.StatusOK
}

// spawnWorker starts "<binary> worker" in its own session so it survives
// the bridge exiting. The child's stdio is detached; it logs to its own
// files.
func (b *Bridge) spawnWorker() error {
	cmd := exec.Command(b.binary, "worker")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait() //nolint:errcheck // reap the child if it ever exits
	return nil
}
