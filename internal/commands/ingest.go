package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotcommander/codexmem/internal/app"
	"github.com/dotcommander/codexmem/internal/ingest"
	"github.com/dotcommander/codexmem/internal/output"
)

// NewIngestCmd replays recorded transcripts through the running worker so
// past sessions become searchable memory.
func NewIngestCmd() *cobra.Command {
	var (
		paths         []string
		workspace     string
		since         string
		limit         int
		includeSystem bool
		skipSummaries bool
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest recorded session transcripts into memory",
		Long: "Reads rollout transcripts and the legacy history file, posts their records " +
			"to the running worker, and checkpoints progress so re-runs only pick up new lines.",
		RunE: func(cmd *cobra.Command, args []string) error {
			sinceTs, err := parseSince(since)
			if err != nil {
				return cmdErr(err)
			}

			baseURL := workerBaseURL(cmd)
			if !workerReachable(baseURL) {
				return cmdErr(fmt.Errorf("worker not reachable at %s; start it with `codexmem worker`", baseURL))
			}

			statePath, err := app.CheckpointPath()
			if err != nil {
				return cmdErr(err)
			}

			engine := ingest.NewEngine(ingest.NewClient(baseURL, ingest.DefaultRetryPolicy()), ingest.Options{
				Paths:         paths,
				Workspace:     workspace,
				SinceTs:       sinceTs,
				Limit:         limit,
				IncludeSystem: includeSystem,
				SkipSummaries: skipSummaries,
				StatePath:     statePath,
			})
			report, err := engine.Run(cmd.Context())
			if err != nil {
				return cmdErr(err)
			}
			return output.PrintSuccess(report)
		},
	}

	cmd.Flags().StringSliceVar(&paths, "paths", nil, "Transcript files to ingest (default: discovered rollouts + history)")
	cmd.Flags().StringVar(&workspace, "workspace", "", "Project name fallback for records without a cwd")
	cmd.Flags().StringVar(&since, "since", "", "Only ingest records at or after this time (RFC3339 or epoch millis)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Stop after this many records across all files (0 = no limit)")
	cmd.Flags().BoolVar(&includeSystem, "include-system", false, "Keep system-generated noise records")
	cmd.Flags().BoolVar(&skipSummaries, "skip-summaries", false, "Do not queue summarize work for ingested sessions")
	return cmd
}

// parseSince accepts an RFC3339 timestamp or raw epoch milliseconds.
func parseSince(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UnixMilli(), nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ms, nil
	}
	return 0, fmt.Errorf("--since must be RFC3339 or epoch milliseconds, got %q", raw)
}
