package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/dotcommander/codexmem/internal/models"
)

// Observation type meanings, spelled out once for the opening prompt.
var observationTypeHints = map[string]string{
	"discovery": "something learned about how the code or system behaves",
	"bugfix":    "a defect found and corrected",
	"feature":   "new capability added",
	"refactor":  "structure changed without behavior change",
	"decision":  "a choice made between alternatives, with the reasoning",
	"change":    "any other noteworthy modification",
}

const formatInstructions = `Respond only with the XML blocks described below. No prose outside them.

For each noteworthy insight, emit one block:

<observation>
  <type>TYPE</type>
  <title>one line, specific</title>
  <subtitle>optional second line</subtitle>
  <narrative>2-5 sentences of durable knowledge</narrative>
  <facts>
    <fact>atomic, verifiable statement</fact>
  </facts>
  <concepts>
    <concept>one of the listed concept tags</concept>
  </concepts>
  <files_read>
    <file>path</file>
  </files_read>
  <files_modified>
    <file>path</file>
  </files_modified>
</observation>

If the event carries nothing worth remembering, respond with no blocks at all.

When asked to summarize the session, emit exactly one:

<summary>
  <request>what the user asked for</request>
  <investigated>what was explored</investigated>
  <learned>what was learned</learned>
  <completed>what was finished</completed>
  <next_steps>what remains</next_steps>
  <notes>anything else worth keeping</notes>
</summary>`

// InitPrompt builds the opening instructions for a session. It is merged
// into the first message rather than sent on its own so user and assistant
// turns strictly alternate.
func InitPrompt(mode *Mode, sess *models.Session) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are the memory agent for coding session %s in project %q.\n", sess.ContentSessionID, sess.Project)
	b.WriteString("You watch the session's tool activity and distill it into observations a future agent can search.\n\n")

	b.WriteString("Allowed observation types:\n")
	for _, t := range mode.ObservationTypes {
		hint := observationTypeHints[t]
		if hint == "" {
			fmt.Fprintf(&b, "- %s\n", t)
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", t, hint)
	}

	if len(mode.Concepts) > 0 {
		fmt.Fprintf(&b, "\nConcept tags: %s\n", strings.Join(mode.Concepts, ", "))
	}
	if strings.TrimSpace(mode.Instructions) != "" {
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(mode.Instructions))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(formatInstructions)

	if strings.TrimSpace(sess.InitialPrompt) != "" {
		fmt.Fprintf(&b, "\n\nThe session opened with this user prompt:\n%s", sess.InitialPrompt)
	}

	return b.String()
}

// ObservationPrompt renders one tool event for distillation. The original
// event timestamp rides along so the model can refer to when it happened
// even if processing lags behind the session.
func ObservationPrompt(payload models.ObservationPayload) string {
	var b strings.Builder

	b.WriteString("New tool event to distill.\n\n")
	fmt.Fprintf(&b, "Tool: %s\n", payload.ToolName)
	if payload.PromptNumber > 0 {
		fmt.Fprintf(&b, "During user prompt #%d\n", payload.PromptNumber)
	}
	if payload.Cwd != "" {
		fmt.Fprintf(&b, "Working directory: %s\n", payload.Cwd)
	}
	if payload.TimestampEpoch > 0 {
		fmt.Fprintf(&b, "At: %s\n", time.UnixMilli(payload.TimestampEpoch).UTC().Format(time.RFC3339))
	}
	if in := compactJSON(payload.ToolInput); in != "" {
		fmt.Fprintf(&b, "\nInput:\n%s\n", in)
	}
	if out := compactJSON(payload.ToolResponse); out != "" {
		fmt.Fprintf(&b, "\nResult:\n%s\n", out)
	}

	b.WriteString("\nEmit observation blocks for anything durable, or nothing if trivial.")
	return b.String()
}

// SummarizePrompt asks for the end-of-turn session summary.
func SummarizePrompt(payload models.SummarizePayload) string {
	var b strings.Builder

	b.WriteString("The turn is complete. Summarize the session so far in one <summary> block.\n")
	if msg := strings.TrimSpace(payload.LastAssistantMessage); msg != "" {
		b.WriteString("\nThe assistant's final message of the turn:\n")
		b.WriteString(msg)
		b.WriteString("\n")
	}
	return b.String()
}
