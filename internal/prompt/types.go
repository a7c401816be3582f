package prompt

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingDepth reports an in-depth instruction without a depth.
	ErrMissingDepth = errors.New("in-depth instruction requires a depth")
	// ErrNoFormatter reports instruct style without a formatter.
	ErrNoFormatter = errors.New("instruct style requires a formatter")
)

// Turn is a read-only view of one chat message.
type Turn struct {
	Name     string `yaml:"name"`
	Text     string `yaml:"text"`
	IsUser   bool   `yaml:"is_user"`
	IsSystem bool   `yaml:"is_system"`
	Narrator bool   `yaml:"narrator"`
	Index    int    `yaml:"index"`
}

// Position controls where an instruction is spliced into the history.
type Position int

const (
	PositionSuffix Position = iota
	PositionPrefix
	PositionInDepth
)

var positionNames = map[Position]string{
	PositionSuffix:  "suffix",
	PositionPrefix:  "prefix",
	PositionInDepth: "in-depth",
}

func (p Position) String() string {
	if s, ok := positionNames[p]; ok {
		return s
	}
	return fmt.Sprintf("Position(%d)", int(p))
}

// MarshalText implements encoding.TextMarshaler.
func (p Position) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Position) UnmarshalText(b []byte) error {
	v, err := ParsePosition(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParsePosition parses "prefix", "suffix" or "in-depth".
func ParsePosition(s string) (Position, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "suffix", "":
		return PositionSuffix, nil
	case "prefix":
		return PositionPrefix, nil
	case "in-depth", "indepth", "in_depth":
		return PositionInDepth, nil
	}
	return 0, fmt.Errorf("unknown position %q", s)
}

// Role is who an instruction is sent as.
type Role int

const (
	RoleSystem Role = iota
	RoleUser
	RoleCharacter
)

func (r Role) String() string {
	switch r {
	case RoleSystem:
		return "system"
	case RoleUser:
		return "user"
	case RoleCharacter:
		return "character"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(b []byte) error {
	v, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// ParseRole parses "system", "user" or "character".
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "system", "":
		return RoleSystem, nil
	case "user":
		return RoleUser, nil
	case "character", "char", "assistant":
		return RoleCharacter, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// Style selects plain "Name: text" lines or instruct-mode wrapping.
type Style int

const (
	StyleRaw Style = iota
	StyleInstruct
)

func (s Style) String() string {
	if s == StyleInstruct {
		return "instruct"
	}
	return "raw"
}

// MarshalText implements encoding.TextMarshaler.
func (s Style) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Style) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "raw", "":
		*s = StyleRaw
	case "instruct":
		*s = StyleInstruct
	default:
		return fmt.Errorf("unknown style %q", string(b))
	}
	return nil
}

// Instruction is text injected into the history. An empty Text means no
// instruction.
type Instruction struct {
	Text     string   `yaml:"text"`
	Position Position `yaml:"position"`
	Depth    *int     `yaml:"depth,omitempty"`
	Role     Role     `yaml:"role"`
	Name     string   `yaml:"name,omitempty"`
}

// Validate rejects an in-depth instruction that has no depth.
func (in Instruction) Validate() error {
	if in.Text != "" && in.Position == PositionInDepth && in.Depth == nil {
		return ErrMissingDepth
	}
	return nil
}

// Depth is a convenience for building in-depth instructions.
func Depth(n int) *int { return &n }

// Edge marks the first and last turn for instruct wrapping.
type Edge int

const (
	EdgeNone Edge = iota
	EdgeFirst
	EdgeLast
)

// Names holds the conversation's user and character names.
type Names struct {
	User string
	Char string
}

// Formatter is the host's instruct-mode formatting capability.
type Formatter interface {
	FormatTurn(t Turn, edge Edge, names Names) string
	AssistantPrefix(name string, names Names) string
	CollapseBlankLines(s string) string
}

// Options carries host settings for Normalize.
type Options struct {
	Style            Style
	Formatter        Formatter
	Names            Names
	Macros           map[string]string
	CollapseNewlines bool
	// NoAssistantName drops the name from the trailing opener.
	NoAssistantName bool
	SuppressOpener  bool
	// Speaker names the opener when someone other than the character
	// speaks next.
	Speaker string
}
