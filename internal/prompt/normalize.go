package prompt

import (
	"regexp"
	"sort"
	"strings"
)

var macroPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// Substitute replaces {{key}} macros. Keys match case-insensitively and
// unknown macros are left as they are.
func Substitute(text string, macros map[string]string) string {
	if len(macros) == 0 {
		return text
	}
	lower := make(map[string]string, len(macros))
	for k, v := range macros {
		lower[strings.ToLower(k)] = v
	}
	return macroPattern.ReplaceAllStringFunc(text, func(tok string) string {
		m := macroPattern.FindStringSubmatch(tok)
		if v, ok := lower[strings.ToLower(m[1])]; ok {
			return v
		}
		return tok
	})
}

var newlineRun = regexp.MustCompile(`\n+`)

// CollapseNewlines folds runs of newlines into one.
func CollapseNewlines(s string) string {
	return newlineRun.ReplaceAllString(s, "\n")
}

// Normalize linearizes turns plus an injected instruction into one text
// prompt for text-completion backends.
func Normalize(turns []Turn, instr Instruction, opts Options) (string, error) {
	if err := instr.Validate(); err != nil {
		return "", err
	}
	if opts.Style == StyleInstruct && opts.Formatter == nil {
		return "", ErrNoFormatter
	}
	core := coreTurns(turns)

	formatted := make([]string, len(core))
	for i, t := range core {
		edge := EdgeNone
		if i == 0 {
			edge = EdgeFirst
		}
		if i == len(core)-1 {
			edge = EdgeLast
		}
		formatted[i] = formatTurn(t, edge, opts)
	}

	var parts []string
	if instr.Text == "" {
		parts = formatted
	} else {
		injected := formatTurn(instructionTurn(instr, opts), EdgeNone, opts)
		parts = splice(formatted, injected, instr)
	}
	out := strings.Join(parts, "")

	if opts.CollapseNewlines {
		if opts.Formatter != nil {
			out = opts.Formatter.CollapseBlankLines(out)
		} else {
			out = CollapseNewlines(out)
		}
	}
	if !opts.SuppressOpener {
		out += opener(opts)
	}
	return out, nil
}

// coreTurns copies, orders and filters the history.
func coreTurns(turns []Turn) []Turn {
	core := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if !t.IsSystem {
			core = append(core, t)
		}
	}
	sort.SliceStable(core, func(i, j int) bool { return core[i].Index < core[j].Index })
	return core
}

func formatTurn(t Turn, edge Edge, opts Options) string {
	if opts.Style == StyleInstruct {
		return opts.Formatter.FormatTurn(t, edge, opts.Names)
	}
	if t.Name != "" && !t.Narrator {
		return t.Name + ": " + t.Text + "\n"
	}
	return t.Text + "\n"
}

func instructionTurn(instr Instruction, opts Options) Turn {
	macros := map[string]string{
		"user": opts.Names.User,
		"char": opts.Names.Char,
	}
	for k, v := range opts.Macros {
		macros[k] = v
	}
	name := instr.Name
	if name == "" {
		switch instr.Role {
		case RoleUser:
			name = opts.Names.User
		case RoleCharacter:
			name = opts.Names.Char
		}
	}
	if name == "" {
		name = "System"
	}
	// raw output keeps the name on system lines; instruct uses the system sequence
	return Turn{
		Name:     name,
		Text:     Substitute(instr.Text, macros),
		IsUser:   instr.Role == RoleUser,
		Narrator: instr.Role == RoleSystem && opts.Style == StyleInstruct,
	}
}

// splice places the injected piece around the formatted turns. An in-depth
// index outside the history drops the instruction.
func splice[T any](items []T, injected T, instr Instruction) []T {
	out := make([]T, 0, len(items)+1)
	switch instr.Position {
	case PositionPrefix:
		out = append(out, injected)
		out = append(out, items...)
	case PositionInDepth:
		idx := len(items) - 1 - *instr.Depth
		out = append(out, items...)
		if idx >= 0 && idx < len(items) {
			out = append(out[:idx+1], append([]T{injected}, items[idx+1:]...)...)
		}
	default:
		out = append(out, items...)
		out = append(out, injected)
	}
	return out
}

func opener(opts Options) string {
	name := opts.Names.Char
	if opts.Speaker != "" {
		name = opts.Speaker
	}
	if opts.Style == StyleInstruct {
		if !opts.NoAssistantName {
			name += ":"
		}
		return opts.Formatter.AssistantPrefix(name, opts.Names)
	}
	if opts.NoAssistantName {
		return ""
	}
	return name + ":"
}
