package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dotcommander/codexmem/internal/app"
)

func (s *Server) getSettings(c *gin.Context) {
	settings, err := app.LoadSettings()
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": app.MaskSettings(settings)})
}

// putSettings accepts a flat JSON object of setting overrides. Masked values
// (as returned by GET /settings) are skipped so a client can round-trip the
// settings document without wiping stored secrets. An explicit null or empty
// string deletes the key.
func (s *Server) putSettings(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}

	patch := make(map[string]string, len(body))
	for key, raw := range body {
		value, err := settingValueString(raw)
		if err != nil {
			abortError(c, http.StatusBadRequest, fmt.Errorf("setting %q: %w", key, err))
			return
		}
		if app.IsMaskedValue(value) {
			continue
		}
		if err := app.ValidateSetting(key, value); err != nil {
			abortError(c, http.StatusBadRequest, err)
			return
		}
		patch[key] = value
	}

	saved, err := app.SaveSettings(patch)
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": app.MaskSettings(saved)})
}

// ollamaModels lists locally available Ollama models, first over the HTTP API
// and then via the ollama CLI when the daemon is unreachable.
func (s *Server) ollamaModels(c *gin.Context) {
	baseURL := c.Query("baseUrl")
	if baseURL == "" {
		baseURL = app.LoadConfig().OllamaBaseURL
	}

	if models, err := ollamaModelsFromAPI(c.Request.Context(), baseURL); err == nil {
		c.JSON(http.StatusOK, gin.H{"models": models, "source": "api"})
		return
	}
	if models, err := ollamaModelsFromCLI(c.Request.Context()); err == nil {
		c.JSON(http.StatusOK, gin.H{"models": models, "source": "cli"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": []string{}, "source": "none"})
}

func ollamaModelsFromAPI(ctx context.Context, baseURL string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	url := strings.TrimRight(baseURL, "/") + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama api returned %d", resp.StatusCode)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		if m.Name != "" {
			names = append(names, m.Name)
		}
	}
	return names, nil
}

func ollamaModelsFromCLI(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "ollama", "list").Output()
	if err != nil {
		return nil, err
	}

	var names []string
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(strings.ToUpper(line), "NAME") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) > 0 {
			names = append(names, fields[0])
		}
	}
	return names, nil
}

// settingValueString coerces a decoded JSON value into the string form the
// settings store keeps. Objects stay as raw JSON for keys like ollamaOptions.
func settingValueString(raw any) (string, error) {
	switch v := raw.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", raw)
	}
}
