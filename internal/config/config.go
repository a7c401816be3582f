// Package config loads cyoa settings from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/glo0ml34f/cyoa/internal/instruct"
	"github.com/glo0ml34f/cyoa/internal/prompt"
)

// DefaultLLMPrompt asks the model for tagged suggestions.
const DefaultLLMPrompt = `PAUSE THE ROLEPLAY.
The assistant will end the response with {{suggestionNumber}} distinct single-sentence suggestions for the next story beat, each suggestion surrounded by ` + "`<suggestion>`" + ` tags:
<suggestion>suggestion_1</suggestion>
<suggestion>suggestion_2</suggestion>
...`

// DefaultImpersonatePrompt steers the user's next message toward a picked suggestion.
const DefaultImpersonatePrompt = `[Narrate for {{user}}: {{suggestionText}}]
[Write User response]`

// API selects the backend request style.
type API string

const (
	APIChat API = "chat"
	APIText API = "text"
)

// Settings holds everything the host passes into the suggestion engine.
type Settings struct {
	LLMPrompt         string   `yaml:"llm_prompt"`
	ImpersonatePrompt string   `yaml:"llm_prompt_impersonate"`
	NumResponses      int      `yaml:"num_responses"`
	ResponseLength    int      `yaml:"response_length"`
	Position          string   `yaml:"position"`
	Depth             *int     `yaml:"depth,omitempty"`
	Role              string   `yaml:"role"`
	ClickDelay        Duration `yaml:"click_delay"`

	API              API                `yaml:"api"`
	Model            string             `yaml:"model"`
	Style            prompt.Style       `yaml:"style"`
	Preset           string             `yaml:"preset"`
	Template         *instruct.Template `yaml:"template,omitempty"`
	CollapseNewlines bool               `yaml:"collapse_newlines"`
	NoAssistantName  bool               `yaml:"no_assistant_name"`

	User      string `yaml:"user"`
	Character string `yaml:"character"`
	PluginDir string `yaml:"plugin_dir"`
	ChatDir   string `yaml:"chat_dir"`
	Width     int    `yaml:"width"`
}

// Duration is a time.Duration that reads "500ms" style strings from YAML.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		LLMPrompt:         DefaultLLMPrompt,
		ImpersonatePrompt: DefaultImpersonatePrompt,
		NumResponses:      3,
		ResponseLength:    350,
		Position:          "suffix",
		Role:              "system",
		ClickDelay:        Duration(500 * time.Millisecond),
		API:               APIChat,
		Model:             "gpt-4o-mini",
		Style:             prompt.StyleRaw,
		Preset:            "chatml",
		User:              "User",
		Character:         "Narrator",
		Width:             80,
	}
}

// DefaultPath returns ~/.cyoa/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".cyoa", "config.yaml")
}

// Load reads settings from path on top of the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (Settings, error) {
	s := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return s, err
		default:
			if err := yaml.Unmarshal(b, &s); err != nil {
				return s, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	s.applyEnv()
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

func (s *Settings) applyEnv() {
	if v := os.Getenv("CYOA_MODEL"); v != "" {
		s.Model = v
	}
	if v := os.Getenv("CYOA_API"); v != "" {
		s.API = API(strings.ToLower(v))
	}
	if v := os.Getenv("CYOA_PLUGINS"); v != "" {
		s.PluginDir = v
	}
}

// Instruction builds the suggestion instruction from the settings.
func (s Settings) Instruction() (prompt.Instruction, error) {
	pos, err := prompt.ParsePosition(s.Position)
	if err != nil {
		return prompt.Instruction{}, err
	}
	role, err := prompt.ParseRole(s.Role)
	if err != nil {
		return prompt.Instruction{}, err
	}
	in := prompt.Instruction{Text: s.LLMPrompt, Position: pos, Depth: s.Depth, Role: role}
	return in, in.Validate()
}

// Formatter returns the instruct template named by the settings.
func (s Settings) Formatter() (prompt.Formatter, error) {
	if s.Template != nil {
		return *s.Template, nil
	}
	return instruct.Preset(s.Preset)
}

// Validate fails fast on settings the engine cannot use.
func (s Settings) Validate() error {
	if _, err := s.Instruction(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if s.NumResponses < 1 {
		return fmt.Errorf("config: num_responses must be at least 1")
	}
	if s.ResponseLength < 0 {
		return fmt.Errorf("config: response_length must not be negative")
	}
	switch s.API {
	case APIChat, APIText:
	default:
		return fmt.Errorf("config: unknown api %q", s.API)
	}
	if s.Style == prompt.StyleInstruct {
		if _, err := s.Formatter(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

// Save writes settings to path.
func Save(path string, s Settings) error {
	b, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
