package agent

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dotcommander/codexmem/internal/app"
	"github.com/dotcommander/codexmem/internal/models"
)

//go:embed modes/*.yaml
var embeddedModes embed.FS

// Mode is a distillation profile: which observation types and concept tags
// the agent is allowed to emit, plus extra guidance folded into the opening
// prompt. The built-in "code" mode ships embedded; users can override any
// mode by dropping <name>.yaml into <dataDir>/modes/.
type Mode struct {
	Name             string   `yaml:"name"`
	Description      string   `yaml:"description,omitempty"`
	ObservationTypes []string `yaml:"observation_types"`
	Concepts         []string `yaml:"concepts"`
	Instructions     string   `yaml:"instructions,omitempty"`
}

// Validate checks the mode is usable.
func (m *Mode) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("mode has no name")
	}
	if len(m.ObservationTypes) == 0 {
		return fmt.Errorf("mode %s declares no observation types", m.Name)
	}
	for _, t := range m.ObservationTypes {
		if !models.ObservationType(t).Valid() {
			return fmt.Errorf("mode %s: unknown observation type %q", m.Name, t)
		}
	}
	return nil
}

// AllowsType reports whether the mode permits the observation type.
func (m *Mode) AllowsType(t models.ObservationType) bool {
	for _, allowed := range m.ObservationTypes {
		if allowed == string(t) {
			return true
		}
	}
	return false
}

// LoadMode resolves a mode by name: user override first, then the embedded
// bundle.
func LoadMode(name string) (*Mode, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = app.DefaultMode
	}

	if dir, err := app.ModesDir(); err == nil {
		path := filepath.Join(dir, name+".yaml")
		if data, err := os.ReadFile(path); err == nil {
			mode, err := parseMode(data)
			if err != nil {
				return nil, fmt.Errorf("mode file %s: %w", path, err)
			}
			return mode, nil
		}
	}

	data, err := embeddedModes.ReadFile("modes/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("unknown mode %q", name)
	}
	mode, err := parseMode(data)
	if err != nil {
		return nil, fmt.Errorf("embedded mode %s: %w", name, err)
	}
	return mode, nil
}

// FallbackMode returns the embedded default. It panics only if the embedded
// bundle itself is broken, which a unit test guards against.
func FallbackMode() *Mode {
	data, err := embeddedModes.ReadFile("modes/" + app.DefaultMode + ".yaml")
	if err != nil {
		panic("embedded default mode missing: " + err.Error())
	}
	mode, err := parseMode(data)
	if err != nil {
		panic("embedded default mode invalid: " + err.Error())
	}
	return mode
}

func parseMode(data []byte) (*Mode, error) {
	var mode Mode
	if err := yaml.Unmarshal(data, &mode); err != nil {
		return nil, err
	}
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	return &mode, nil
}
