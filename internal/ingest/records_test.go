package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const structuredTranscript = `{"timestamp":"2025-03-01T10:00:00Z","type":"session_meta","payload":{"id":"abc123","cwd":"/u/dev/project-alpha"}}
{"timestamp":"2025-03-01T10:00:05Z","type":"event_msg","payload":{"type":"user_message","message":"wire up the uploader retries"}}
{"timestamp":"2025-03-01T10:00:09Z","type":"event_msg","payload":{"type":"token_count","message":""}}
{"timestamp":"2025-03-01T10:01:00Z","type":"event_msg","payload":{"type":"agent_message","message":"looking at the uploader now"}}
{"timestamp":"2025-03-01T10:02:00Z","type":"response_item","payload":{"type":"message","role":"assistant","phase":"final_answer","content":[{"type":"output_text","text":"Added exponential backoff"},{"type":"output_text","text":"to the uploader."}]}}
not json at all
`

func TestParseTranscriptStructured(t *testing.T) {
	tr := ParseTranscript("/tmp/rollout.jsonl", []byte(structuredTranscript))

	require.Len(t, tr.Records, 3)
	assert.Equal(t, 1, tr.Malformed)
	assert.Equal(t, 6, tr.Lines)

	user := tr.Records[0]
	assert.Equal(t, RecordUser, user.Kind)
	assert.Equal(t, "abc123", user.SessionID)
	assert.Equal(t, "/u/dev/project-alpha", user.Cwd)
	assert.Equal(t, "wire up the uploader retries", user.Text)
	assert.Equal(t, 2, user.LineNumber)
	assert.Greater(t, user.Timestamp, int64(0))

	commentary := tr.Records[1]
	assert.Equal(t, RecordAssistant, commentary.Kind)
	assert.Empty(t, commentary.Phase)

	answer := tr.Records[2]
	assert.Equal(t, RecordAssistant, answer.Kind)
	assert.Equal(t, PhaseFinalAnswer, answer.Phase)
	assert.Equal(t, "Added exponential backoff\nto the uploader.", answer.Text)
	assert.Equal(t, 5, answer.LineNumber)
}

func TestParseTranscriptLegacyFlat(t *testing.T) {
	contents := `{"session_id":"sess-9","ts":1700000000,"text":"fix the login redirect"}
{"session_id":"sess-9","ts":1700000060,"text":"also check the logout path"}
{"text":"missing session id"}
`
	tr := ParseTranscript("/tmp/history.jsonl", []byte(contents))

	require.Len(t, tr.Records, 2)
	assert.Equal(t, 1, tr.Malformed)

	first := tr.Records[0]
	assert.Equal(t, RecordUser, first.Kind)
	assert.Equal(t, "sess-9", first.SessionID)
	assert.Empty(t, first.Cwd)
	// Seconds-resolution timestamps normalise to milliseconds.
	assert.Equal(t, int64(1700000000000), first.Timestamp)
	assert.Equal(t, 1, first.LineNumber)
}

func selectFixture() []Record {
	return []Record{
		{Kind: RecordUser, SessionID: "s", Text: "first prompt", Timestamp: 1000, LineNumber: 1},
		{Kind: RecordUser, SessionID: "s", Text: "⚠ model fell back to gpt-4o", Timestamp: 2000, LineNumber: 2},
		{Kind: RecordUser, SessionID: "s", Text: "   ", Timestamp: 3000, LineNumber: 3},
		{Kind: RecordAssistant, SessionID: "s", Text: "done, see diff", Timestamp: 4000, LineNumber: 4},
		{Kind: RecordUser, SessionID: "s", Text: "MCP client mem timed out after 30s", Timestamp: 5000, LineNumber: 5},
		{Kind: RecordUser, SessionID: "s", Text: "now add tests", Timestamp: 6000, LineNumber: 6},
	}
}

func TestSelectRecordsSkipsSystemAndBlank(t *testing.T) {
	got := SelectRecords(selectFixture(), SelectOptions{})

	require.Len(t, got, 3)
	assert.Equal(t, []int{1, 4, 6}, lineNumbers(got))
}

func TestSelectRecordsIncludeSystem(t *testing.T) {
	got := SelectRecords(selectFixture(), SelectOptions{IncludeSystem: true})

	// Blank text is still dropped, system chatter is kept.
	assert.Equal(t, []int{1, 2, 4, 5, 6}, lineNumbers(got))
}

func TestSelectRecordsCheckpointIsStrictlyGreater(t *testing.T) {
	got := SelectRecords(selectFixture(), SelectOptions{AfterLine: 4})

	assert.Equal(t, []int{6}, lineNumbers(got))
}

func TestSelectRecordsSinceTs(t *testing.T) {
	got := SelectRecords(selectFixture(), SelectOptions{SinceTs: 4000})

	assert.Equal(t, []int{4, 6}, lineNumbers(got))
}

func TestSelectRecordsLimitIsPrefixOfUnlimited(t *testing.T) {
	all := SelectRecords(selectFixture(), SelectOptions{})
	capped := SelectRecords(selectFixture(), SelectOptions{Limit: 2})

	require.Len(t, capped, 2)
	assert.Equal(t, all[:2], capped)
}

func TestLastAssistantAnswerPrecedence(t *testing.T) {
	records := []Record{
		{Kind: RecordUser, Text: "the question"},
		{Kind: RecordAssistant, Text: "thinking out loud"},
		{Kind: RecordAssistant, Phase: PhaseFinalAnswer, Text: "the answer"},
		{Kind: RecordAssistant, Text: "trailing commentary"},
	}
	assert.Equal(t, "the answer", LastAssistantAnswer(records))

	assert.Equal(t, "trailing commentary", LastAssistantAnswer([]Record{
		{Kind: RecordUser, Text: "the question"},
		{Kind: RecordAssistant, Text: "trailing commentary"},
	}))

	assert.Equal(t, "the question", LastAssistantAnswer([]Record{
		{Kind: RecordUser, Text: "the question"},
	}))
}

func TestDiscoverProjects(t *testing.T) {
	root := t.TempDir()
	writeTranscript(t, root, "2025/03/01/rollout-a.jsonl", structuredTranscript)
	writeTranscript(t, root, "2025/03/02/rollout-b.jsonl",
		`{"timestamp":"2025-03-02T09:00:00Z","type":"session_meta","payload":{"id":"def","cwd":"/u/dev/project-beta"}}
{"timestamp":"2025-03-02T09:00:01Z","type":"event_msg","payload":{"type":"user_message","message":"hello"}}
`)
	// Assistant-only session must not surface a project.
	writeTranscript(t, root, "2025/03/03/rollout-c.jsonl",
		`{"timestamp":"2025-03-03T09:00:00Z","type":"session_meta","payload":{"id":"ghi","cwd":"/u/dev/project-gamma"}}
{"timestamp":"2025-03-03T09:00:01Z","type":"event_msg","payload":{"type":"agent_message","message":"resuming"}}
`)

	disc, err := DiscoverProjects(root)
	require.NoError(t, err)

	assert.Equal(t, []string{"project-alpha", "project-beta"}, disc.Projects)
	assert.Equal(t, 3, disc.ScannedFiles)
	assert.Greater(t, disc.ScannedAtEpochMs, int64(0))
}

func lineNumbers(records []Record) []int {
	out := make([]int, len(records))
	for i, r := range records {
		out[i] = r.LineNumber
	}
	return out
}

func writeTranscript(t *testing.T, root, rel, contents string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}
