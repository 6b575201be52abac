package output

import (
	"encoding/json"
	"errors"
	"io"
	"os"
)

// Response represents a standard JSON response
type Response struct {
	SchemaVersion   string            `json:"schema_version"`
	Success         bool              `json:"success"`
	Data            interface{}       `json:"data,omitempty"`
	Error           string            `json:"error,omitempty"`
	ErrorCode       string            `json:"error_code,omitempty"`
	ErrorContext    map[string]string `json:"error_context,omitempty"`
	SuggestedAction string            `json:"suggested_action,omitempty"`
}

// recoverableError mirrors models.RecoverableError without importing it, so
// output stays dependency-free. The test pins the two interfaces together.
type recoverableError interface {
	error
	ErrorCode() string
	Context() map[string]string
	SuggestedAction() string
}

// Success wraps a successful response with data
func Success(data interface{}) Response {
	return Response{
		SchemaVersion: "v1",
		Success:       true,
		Data:          data,
	}
}

// Error wraps an error in a response. Recoverable errors carry their code,
// context, and suggested action through to the JSON so an agent reading the
// output can act on the failure without parsing the message text.
func Error(err error) Response {
	resp := Response{
		SchemaVersion: "v1",
		Success:       false,
		Error:         err.Error(),
	}
	var re recoverableError
	if errors.As(err, &re) {
		resp.ErrorCode = re.ErrorCode()
		resp.ErrorContext = re.Context()
		resp.SuggestedAction = re.SuggestedAction()
	}
	return resp
}

// Config controls where and how responses are rendered.
type Config struct {
	Writer io.Writer
	Pretty bool
}

// DefaultConfig writes to stdout. Output is compact JSON to minimize
// token/output size for agent consumption; set CODEXMEM_PRETTY_JSON=1 for
// human-readable indentation.
func DefaultConfig() Config {
	pretty := os.Getenv("CODEXMEM_PRETTY_JSON")
	return Config{
		Writer: os.Stdout,
		Pretty: pretty == "1" || pretty == "true",
	}
}

// PrintWith renders a value as JSON using the given config.
func PrintWith(cfg Config, v interface{}) error {
	enc := json.NewEncoder(cfg.Writer)
	if cfg.Pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// Print prints a value as JSON to stdout
func Print(v interface{}) error {
	return PrintWith(DefaultConfig(), v)
}

// PrintSuccess prints a success response
func PrintSuccess(data interface{}) error {
	return Print(Success(data))
}

// PrintError prints an error response
func PrintError(err error) error {
	return Print(Error(err))
}

// Keep output package focused: commands should handle human-readable formatting.
