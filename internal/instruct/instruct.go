// Package instruct wraps chat turns in instruct-mode sequences.
package instruct

import (
	"fmt"
	"sort"
	"strings"

	"github.com/glo0ml34f/cyoa/internal/prompt"
)

// Template describes the boundary sequences of one instruct format.
type Template struct {
	Name                string `yaml:"name"`
	InputSequence       string `yaml:"input_sequence"`
	InputSuffix         string `yaml:"input_suffix"`
	OutputSequence      string `yaml:"output_sequence"`
	OutputSuffix        string `yaml:"output_suffix"`
	SystemSequence      string `yaml:"system_sequence"`
	SystemSuffix        string `yaml:"system_suffix"`
	FirstOutputSequence string `yaml:"first_output_sequence"`
	LastOutputSequence  string `yaml:"last_output_sequence"`
	WrapNewlines        bool   `yaml:"wrap"`
	IncludeNames        bool   `yaml:"names"`
}

var presets = map[string]Template{
	"chatml": {
		Name:           "chatml",
		InputSequence:  "<|im_start|>user",
		InputSuffix:    "<|im_end|>\n",
		OutputSequence: "<|im_start|>assistant",
		OutputSuffix:   "<|im_end|>\n",
		SystemSequence: "<|im_start|>system",
		SystemSuffix:   "<|im_end|>\n",
		WrapNewlines:   true,
		IncludeNames:   true,
	},
	"alpaca": {
		Name:           "alpaca",
		InputSequence:  "### Instruction:",
		InputSuffix:    "\n\n",
		OutputSequence: "### Response:",
		OutputSuffix:   "\n\n",
		SystemSequence: "### Input:",
		SystemSuffix:   "\n\n",
		WrapNewlines:   true,
	},
	"llama3": {
		Name:           "llama3",
		InputSequence:  "<|start_header_id|>user<|end_header_id|>\n",
		InputSuffix:    "<|eot_id|>",
		OutputSequence: "<|start_header_id|>assistant<|end_header_id|>\n",
		OutputSuffix:   "<|eot_id|>",
		SystemSequence: "<|start_header_id|>system<|end_header_id|>\n",
		SystemSuffix:   "<|eot_id|>",
		WrapNewlines:   true,
		IncludeNames:   true,
	},
}

// Preset returns the named built-in template.
func Preset(name string) (Template, error) {
	t, ok := presets[strings.ToLower(name)]
	if !ok {
		return Template{}, fmt.Errorf("unknown instruct preset %q", name)
	}
	return t, nil
}

// Presets lists the built-in template names.
func Presets() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (t Template) separator() string {
	if t.WrapNewlines {
		return "\n"
	}
	return ""
}

// FormatTurn implements prompt.Formatter.
func (t Template) FormatTurn(turn prompt.Turn, edge prompt.Edge, _ prompt.Names) string {
	var prefix, suffix string
	switch {
	case turn.Narrator:
		prefix, suffix = t.SystemSequence, t.SystemSuffix
	case turn.IsUser:
		prefix, suffix = t.InputSequence, t.InputSuffix
	default:
		prefix, suffix = t.OutputSequence, t.OutputSuffix
		if edge == prompt.EdgeFirst && t.FirstOutputSequence != "" {
			prefix = t.FirstOutputSequence
		}
		if edge == prompt.EdgeLast && t.LastOutputSequence != "" {
			prefix = t.LastOutputSequence
		}
	}
	body := turn.Text
	if t.IncludeNames && turn.Name != "" && !turn.Narrator {
		body = turn.Name + ": " + body
	}
	sep := t.separator()
	parts := []string{}
	if prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts, body+suffix)
	out := strings.Join(parts, sep)
	if suffix == "" {
		out += sep
	}
	return out
}

// AssistantPrefix implements prompt.Formatter.
func (t Template) AssistantPrefix(name string, _ prompt.Names) string {
	seq := t.OutputSequence
	if t.LastOutputSequence != "" {
		seq = t.LastOutputSequence
	}
	sep := t.separator()
	if t.IncludeNames && name != "" {
		return seq + sep + name
	}
	return seq + sep
}

// CollapseBlankLines implements prompt.Formatter.
func (t Template) CollapseBlankLines(s string) string {
	return prompt.CollapseNewlines(s)
}
