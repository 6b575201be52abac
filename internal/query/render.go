package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/dotcommander/codexmem/internal/models"
	"github.com/dotcommander/codexmem/internal/store"
)

// fetchContract reminds the caller how the two-step flow works. It rides at
// the bottom of every index table.
const fetchContract = "Narrow results with query/project/type filters first, then fetch full records by id with get_observations."

func renderSearch(query string, observations []models.Observation, summaries []models.Summary, prompts []models.UserPrompt) string {
	var b strings.Builder
	total := len(observations) + len(summaries) + len(prompts)
	fmt.Fprintf(&b, "## %d result(s) for %q\n", total, query)

	if total == 0 {
		b.WriteString("\nNo matches. Try fewer or broader terms.\n")
		return b.String()
	}

	if len(observations) > 0 {
		b.WriteString("\n### Observations\n\n")
		b.WriteString(observationTable(observations))
	}
	if len(summaries) > 0 {
		b.WriteString("\n### Summaries\n\n")
		b.WriteString(summaryTable(summaries))
	}
	if len(prompts) > 0 {
		b.WriteString("\n### Prompts\n\n")
		b.WriteString(promptTable(prompts))
	}

	b.WriteString("\n")
	b.WriteString(fetchContract)
	b.WriteString("\n")
	return b.String()
}

func renderPromptSearch(query string, prompts []models.UserPrompt, source string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d user prompt(s) matching %q\n", len(prompts), query)
	if len(prompts) > 0 {
		b.WriteString("\n")
		b.WriteString(promptTable(prompts))
	}
	if source == "sqlite" {
		b.WriteString("\n(source=sqlite: full-text ranking, semantic index unavailable or empty)\n")
	}
	return b.String()
}

func observationTable(rows []models.Observation) string {
	var b strings.Builder
	b.WriteString("| id | date | type | title |\n|---|---|---|---|\n")
	for _, o := range rows {
		title := o.Title
		if o.Subtitle != "" {
			title += " - " + o.Subtitle
		}
		fmt.Fprintf(&b, "| #%d | %s | %s | %s |\n", o.ID, formatDate(o.CreatedAtEpoch), o.Type, cell(title, 90))
	}
	return b.String()
}

func summaryTable(rows []models.Summary) string {
	var b strings.Builder
	b.WriteString("| id | date | project | request |\n|---|---|---|---|\n")
	for _, s := range rows {
		fmt.Fprintf(&b, "| #%d | %s | %s | %s |\n", s.ID, formatDate(s.CreatedAtEpoch), cell(s.Project, 30), cell(s.Request, 90))
	}
	return b.String()
}

func promptTable(rows []models.UserPrompt) string {
	var b strings.Builder
	b.WriteString("| id | date | session | # | prompt |\n|---|---|---|---|---|\n")
	for _, p := range rows {
		fmt.Fprintf(&b, "| #%d | %s | %s | %d | %s |\n",
			p.ID, formatDate(p.CreatedAtEpoch), cell(p.ContentSessionID, 30), p.PromptNumber, cell(p.PromptText, 90))
	}
	return b.String()
}

func renderTimeline(tl *store.Timeline) string {
	var b strings.Builder
	if len(tl.Items) > 0 {
		anchor := tl.Items[tl.AnchorIndex]
		fmt.Fprintf(&b, "## Timeline around %s #%d\n\n", anchor.Kind, anchor.RowID())
	}
	for i, item := range tl.Items {
		line := timelineLine(item)
		if i == tl.AnchorIndex {
			fmt.Fprintf(&b, "> %s   <- anchor\n", line)
			continue
		}
		fmt.Fprintf(&b, "- %s\n", line)
	}
	return b.String()
}

func timelineLine(item store.TimelineItem) string {
	when := formatDateTime(item.Epoch())
	if item.Observation != nil {
		o := item.Observation
		return fmt.Sprintf("#%d %s [%s] %s", o.ID, when, o.Type, cell(o.Title, 80))
	}
	if item.Summary != nil {
		s := item.Summary
		return fmt.Sprintf("#%d %s [summary] %s", s.ID, when, cell(s.Request, 80))
	}
	return ""
}

func renderFullObservations(rows []models.Observation) string {
	if len(rows) == 0 {
		return "No observations found for the requested ids.\n"
	}
	var b strings.Builder
	for i, o := range rows {
		if i > 0 {
			b.WriteString("\n---\n\n")
		}
		fmt.Fprintf(&b, "### #%d [%s] %s\n", o.ID, o.Type, o.Title)
		if o.Subtitle != "" {
			fmt.Fprintf(&b, "%s\n", o.Subtitle)
		}
		fmt.Fprintf(&b, "\n%s | project %s", formatDateTime(o.CreatedAtEpoch), o.Project)
		if o.PromptNumber > 0 {
			fmt.Fprintf(&b, " | prompt #%d", o.PromptNumber)
		}
		b.WriteString("\n")
		if o.Narrative != "" {
			fmt.Fprintf(&b, "\n%s\n", o.Narrative)
		}
		if len(o.Facts) > 0 {
			b.WriteString("\nFacts:\n")
			for _, f := range o.Facts {
				fmt.Fprintf(&b, "- %s\n", f)
			}
		}
		if len(o.Concepts) > 0 {
			fmt.Fprintf(&b, "\nConcepts: %s\n", strings.Join(o.Concepts, ", "))
		}
		if len(o.FilesRead) > 0 {
			fmt.Fprintf(&b, "Files read: %s\n", strings.Join(o.FilesRead, ", "))
		}
		if len(o.FilesModified) > 0 {
			fmt.Fprintf(&b, "Files modified: %s\n", strings.Join(o.FilesModified, ", "))
		}
	}
	return b.String()
}

// cell trims text for a table cell: whitespace collapsed, pipes escaped,
// truncated with an ellipsis.
func cell(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, "|", "\\|")
	if max > 0 && len(s) > max {
		s = s[:max] + "…"
	}
	return s
}

func formatDate(epoch int64) string {
	if epoch <= 0 {
		return "-"
	}
	return time.UnixMilli(epoch).UTC().Format("2006-01-02")
}

func formatDateTime(epoch int64) string {
	if epoch <= 0 {
		return "-"
	}
	return time.UnixMilli(epoch).UTC().Format("2006-01-02 15:04")
}
