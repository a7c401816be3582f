package repl

import (
	"fmt"
	"strings"
)

// helpListener intercepts '?' key presses to display inline help.
type helpListener struct {
	r *REPL
}

func (h *helpListener) OnChange(line []rune, pos int, key rune) ([]rune, int, bool) {
	if key != '?' {
		return nil, 0, false
	}
	if pos > 0 {
		line = append(line[:pos-1], line[pos:]...)
		pos--
	}
	h.r.println("")
	h.r.inlineHelp(strings.TrimSpace(string(line)))
	if h.r.rl != nil {
		h.r.rl.Refresh()
	}
	return line, pos, true
}

// inlineHelp prints usage for the command being typed, or the whole table.
func (r *REPL) inlineHelp(line string) {
	if line == "" || !strings.HasPrefix(line, "!") {
		r.help()
		return
	}
	name := strings.Fields(line)[0]
	info, ok := commands[name]
	if !ok {
		if r.plugins.IsCommand(strings.TrimPrefix(name, "!")) {
			r.println(name + " [args] - plugin command")
		}
		return
	}
	r.println(info.Usage + " - " + info.Desc)
	for _, p := range info.Params {
		r.println(fmt.Sprintf("  %s - %s", p.Name, p.Desc))
	}
}
