package agent

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/dotcommander/codexmem/internal/models"
)

// Providers answer in loose XML. Blocks are cut out with regexes first so a
// stray ampersand in one narrative cannot poison the rest of the response;
// each block then goes through encoding/xml with a field-regex fallback for
// the unescaped-entity case.
var (
	observationBlockRe = regexp.MustCompile(`(?s)<observation>(.*?)</observation>`)
	summaryBlockRe     = regexp.MustCompile(`(?s)<summary>(.*?)</summary>`)

	fieldRes = map[string]*regexp.Regexp{}
	itemRes  = map[string]*regexp.Regexp{}
)

func init() {
	for _, tag := range []string{"type", "title", "subtitle", "narrative", "request", "investigated", "learned", "completed", "next_steps", "notes"} {
		fieldRes[tag] = regexp.MustCompile(`(?s)<` + tag + `>(.*?)</` + tag + `>`)
	}
	for list, item := range map[string]string{
		"facts": "fact", "concepts": "concept", "files_read": "file", "files_modified": "file",
	} {
		fieldRes[list] = regexp.MustCompile(`(?s)<` + list + `>(.*?)</` + list + `>`)
		itemRes[item] = regexp.MustCompile(`(?s)<` + item + `>(.*?)</` + item + `>`)
	}
}

type observationXML struct {
	Type          string   `xml:"type"`
	Title         string   `xml:"title"`
	Subtitle      string   `xml:"subtitle"`
	Narrative     string   `xml:"narrative"`
	Facts         []string `xml:"facts>fact"`
	Concepts      []string `xml:"concepts>concept"`
	FilesRead     []string `xml:"files_read>file"`
	FilesModified []string `xml:"files_modified>file"`
}

type summaryXML struct {
	Request      string `xml:"request"`
	Investigated string `xml:"investigated"`
	Learned      string `xml:"learned"`
	Completed    string `xml:"completed"`
	NextSteps    string `xml:"next_steps"`
	Notes        string `xml:"notes"`
}

// ParsedResponse is what one provider turn yielded.
type ParsedResponse struct {
	Observations []models.ParsedObservation
	Summary      *models.ParsedSummary
	Malformed    int
}

// Productive reports whether the turn carried at least one usable block.
func (r ParsedResponse) Productive() bool {
	return len(r.Observations) > 0 || r.Summary != nil
}

// ParseResponse extracts observation and summary blocks from a provider
// response. Malformed blocks are skipped with a warning and counted; at most
// one summary is honored (the first).
func ParseResponse(text string) ParsedResponse {
	var out ParsedResponse

	for _, m := range observationBlockRe.FindAllStringSubmatch(text, -1) {
		obs, ok := parseObservationBlock(m[1])
		if !ok {
			out.Malformed++
			slog.Warn("skipping malformed observation block")
			continue
		}
		if obs.IsEmpty() {
			continue
		}
		out.Observations = append(out.Observations, obs)
	}

	if m := summaryBlockRe.FindStringSubmatch(text); m != nil {
		if sum, ok := parseSummaryBlock(m[1]); ok {
			out.Summary = &sum
		} else {
			out.Malformed++
			slog.Warn("skipping malformed summary block")
		}
	}

	return out
}

func parseObservationBlock(inner string) (models.ParsedObservation, bool) {
	var raw observationXML
	if err := xml.Unmarshal([]byte("<observation>"+inner+"</observation>"), &raw); err != nil {
		raw = observationXML{
			Type:          fieldValue(inner, "type"),
			Title:         fieldValue(inner, "title"),
			Subtitle:      fieldValue(inner, "subtitle"),
			Narrative:     fieldValue(inner, "narrative"),
			Facts:         listValues(inner, "facts", "fact"),
			Concepts:      listValues(inner, "concepts", "concept"),
			FilesRead:     listValues(inner, "files_read", "file"),
			FilesModified: listValues(inner, "files_modified", "file"),
		}
		if raw.Title == "" && raw.Narrative == "" && raw.Subtitle == "" {
			return models.ParsedObservation{}, false
		}
	}

	obsType := models.ObservationType(strings.TrimSpace(strings.ToLower(raw.Type)))
	if !obsType.Valid() {
		obsType = models.ObservationDiscovery
	}

	return models.ParsedObservation{
		Type:          obsType,
		Title:         strings.TrimSpace(raw.Title),
		Subtitle:      strings.TrimSpace(raw.Subtitle),
		Narrative:     strings.TrimSpace(raw.Narrative),
		Facts:         trimList(raw.Facts),
		Concepts:      trimList(raw.Concepts),
		FilesRead:     trimList(raw.FilesRead),
		FilesModified: trimList(raw.FilesModified),
	}, true
}

func parseSummaryBlock(inner string) (models.ParsedSummary, bool) {
	var raw summaryXML
	if err := xml.Unmarshal([]byte("<summary>"+inner+"</summary>"), &raw); err != nil {
		raw = summaryXML{
			Request:      fieldValue(inner, "request"),
			Investigated: fieldValue(inner, "investigated"),
			Learned:      fieldValue(inner, "learned"),
			Completed:    fieldValue(inner, "completed"),
			NextSteps:    fieldValue(inner, "next_steps"),
			Notes:        fieldValue(inner, "notes"),
		}
		if raw.Request == "" && raw.Investigated == "" && raw.Learned == "" &&
			raw.Completed == "" && raw.NextSteps == "" && raw.Notes == "" {
			return models.ParsedSummary{}, false
		}
	}

	return models.ParsedSummary{
		Request:      strings.TrimSpace(raw.Request),
		Investigated: strings.TrimSpace(raw.Investigated),
		Learned:      strings.TrimSpace(raw.Learned),
		Completed:    strings.TrimSpace(raw.Completed),
		NextSteps:    strings.TrimSpace(raw.NextSteps),
		Notes:        strings.TrimSpace(raw.Notes),
	}, true
}

func fieldValue(block, tag string) string {
	if m := fieldRes[tag].FindStringSubmatch(block); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func listValues(block, listTag, itemTag string) []string {
	container := fieldValue(block, listTag)
	if container == "" {
		return nil
	}
	var out []string
	for _, m := range itemRes[itemTag].FindAllStringSubmatch(container, -1) {
		if v := strings.TrimSpace(m[1]); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func trimList(items []string) []string {
	var out []string
	for _, it := range items {
		if v := strings.TrimSpace(it); v != "" {
			out = append(out, v)
		}
	}
	return out
}

const (
	fallbackRequestLimit = 500
	fallbackNotesLimit   = 4000
	syntheticDetailLimit = 1500
)

// FallbackSummary synthesizes a summary from an unstructured summarize turn:
// the session's initial prompt becomes the request, the response text (minus
// any structured blocks) is preserved in notes.
func FallbackSummary(initialPrompt, response string) *models.ParsedSummary {
	text := observationBlockRe.ReplaceAllString(response, "")
	text = summaryBlockRe.ReplaceAllString(text, "")
	return &models.ParsedSummary{
		Request: truncate(strings.TrimSpace(initialPrompt), fallbackRequestLimit),
		Notes:   truncate(strings.TrimSpace(text), fallbackNotesLimit),
	}
}

// SyntheticObservation preserves a tool event whose distillation produced no
// usable blocks. The raw payload is kept so the record can still be searched.
func SyntheticObservation(payload models.ObservationPayload) models.ParsedObservation {
	title := strings.TrimSpace(payload.ToolName)
	if title == "" {
		title = "tool event"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Tool %s ran", title)
	if in := compactJSON(payload.ToolInput); in != "" {
		fmt.Fprintf(&b, " with input %s", truncate(in, syntheticDetailLimit))
	}
	if out := compactJSON(payload.ToolResponse); out != "" {
		fmt.Fprintf(&b, " and returned %s", truncate(out, syntheticDetailLimit))
	}

	return models.ParsedObservation{
		Type:         models.ObservationDiscovery,
		Title:        title,
		Narrative:    b.String(),
		PromptNumber: payload.PromptNumber,
		Cwd:          payload.Cwd,
	}
}

func compactJSON(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	return s
}

// SplitTokens attributes a total-only token count 70% input / 30% output,
// matching the typical distillation ratio of long prompts and short replies.
func SplitTokens(total int64) (input, output int64) {
	if total <= 0 {
		return 0, 0
	}
	input = total * 70 / 100
	return input, total - input
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
