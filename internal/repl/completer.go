package repl

import (
	"path/filepath"
	"strings"
)

type autoCompleter struct {
	r *REPL
}

// Do completes command names, plugin names for !reload and !mute, and file
// paths for !save and !load.
func (c *autoCompleter) Do(line []rune, pos int) ([][]rune, int) {
	input := string(line[:pos])
	fields := strings.Fields(input)
	prefix := ""
	if len(fields) > 0 && !strings.HasSuffix(input, " ") {
		prefix = fields[len(fields)-1]
	}
	var candidates []string
	switch {
	case len(fields) == 0 || (len(fields) == 1 && prefix != ""):
		for name := range commands {
			candidates = append(candidates, name)
		}
		for _, name := range c.r.plugins.Commands() {
			candidates = append(candidates, "!"+name)
		}
	case fields[0] == "!reload" || fields[0] == "!mute":
		for _, info := range c.r.plugins.List() {
			candidates = append(candidates, info.Name)
		}
	case fields[0] == "!save" || fields[0] == "!load":
		candidates, _ = filepath.Glob(prefix + "*")
	}
	var out [][]rune
	for _, s := range candidates {
		if strings.HasPrefix(s, prefix) {
			out = append(out, []rune(s[len(prefix):]))
		}
	}
	return out, len([]rune(prefix))
}
