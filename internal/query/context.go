package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/dotcommander/codexmem/internal/app"
	"github.com/dotcommander/codexmem/internal/models"
	"github.com/dotcommander/codexmem/internal/store"
	"github.com/dotcommander/codexmem/internal/tags"
)

// ContextOptions selects what goes into an assembled context block.
type ContextOptions struct {
	Project            string
	Count              int
	IncludeSummary     bool
	IncludeLastMessage bool
	Types              []string
	Concepts           []string
}

// ContextOptionsFromConfig maps the configured context toggles onto options
// for one project.
func ContextOptionsFromConfig(cfg app.Config, project string) ContextOptions {
	return ContextOptions{
		Project:            project,
		Count:              cfg.ContextObservationCount,
		IncludeSummary:     cfg.ContextIncludeSummary,
		IncludeLastMessage: cfg.ContextIncludeLastMessage,
		Types:              cfg.ContextObservationTypes,
		Concepts:           cfg.ContextConcepts,
	}
}

// Context assembles recent memory for injection into a new session: the
// latest summary, its closing assistant message, and the most recent
// observations, wrapped in the canonical context tag. Returns "" when the
// project has no memory yet, so callers skip injection entirely.
func (e *Engine) Context(ctx context.Context, opts ContextOptions) (string, error) {
	count := opts.Count
	if count <= 0 {
		count = app.DefaultContextObservationCount
	}

	observations, err := e.recentObservations(opts, count)
	if err != nil {
		return "", err
	}

	var summary *models.Summary
	if opts.IncludeSummary || opts.IncludeLastMessage {
		latest, _, err := store.GetSummariesPage(e.db, store.Filter{Project: opts.Project}, 0, 1)
		if err != nil {
			return "", err
		}
		if len(latest) > 0 {
			summary = &latest[0]
		}
	}

	if len(observations) == 0 && summary == nil {
		return "", nil
	}

	var b strings.Builder
	if opts.Project != "" {
		fmt.Fprintf(&b, "Memory from earlier sessions in project %q.\n", opts.Project)
	} else {
		b.WriteString("Memory from earlier sessions.\n")
	}

	if summary != nil && opts.IncludeSummary {
		b.WriteString("\n## Last session\n")
		writeSummaryField(&b, "Request", summary.Request)
		writeSummaryField(&b, "Investigated", summary.Investigated)
		writeSummaryField(&b, "Learned", summary.Learned)
		writeSummaryField(&b, "Completed", summary.Completed)
		writeSummaryField(&b, "Next steps", summary.NextSteps)
		writeSummaryField(&b, "Notes", summary.Notes)
	}
	if summary != nil && opts.IncludeLastMessage && strings.TrimSpace(summary.LastAssistantMessage) != "" {
		b.WriteString("\n## Last assistant message\n")
		b.WriteString(truncateContext(summary.LastAssistantMessage, 2000))
		b.WriteString("\n")
	}

	if len(observations) > 0 {
		b.WriteString("\n## Recent observations\n")
		for _, o := range observations {
			fmt.Fprintf(&b, "- #%d %s [%s] %s", o.ID, formatDate(o.CreatedAtEpoch), o.Type, o.Title)
			if o.Narrative != "" {
				fmt.Fprintf(&b, ": %s", truncateContext(o.Narrative, 220))
			}
			b.WriteString("\n")
		}
		b.WriteString("\nSearch for details instead of rediscovering them.\n")
	}

	return tags.WrapContext(strings.TrimRight(b.String(), "\n")), nil
}

// recentObservations fetches the newest matching observations, oldest first
// for reading order. Type and concept lists are filtered in memory; the
// store filter handles only single values.
func (e *Engine) recentObservations(opts ContextOptions, count int) ([]models.Observation, error) {
	fetch := count
	if len(opts.Types) > 0 || len(opts.Concepts) > 0 {
		fetch = count * 4
	}
	if fetch > 200 {
		fetch = 200
	}

	rows, _, err := store.GetObservationsPage(e.db, store.Filter{Project: opts.Project}, "", 0, fetch)
	if err != nil {
		return nil, err
	}

	typeSet := toSet(opts.Types)
	conceptSet := toSet(opts.Concepts)

	kept := make([]models.Observation, 0, count)
	for _, o := range rows {
		if len(typeSet) > 0 && !typeSet[string(o.Type)] {
			continue
		}
		if len(conceptSet) > 0 && !hasAny(o.Concepts, conceptSet) {
			continue
		}
		kept = append(kept, o)
		if len(kept) == count {
			break
		}
	}

	// Newest-first from the store; flip to chronological for the reader.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept, nil
}

func writeSummaryField(b *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, value)
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			set[v] = true
		}
	}
	return set
}

func hasAny(values []string, set map[string]bool) bool {
	for _, v := range values {
		if set[v] {
			return true
		}
	}
	return false
}

func truncateContext(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
