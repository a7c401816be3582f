package plugin

import (
	"testing"

	"github.com/glo0ml34f/cyoa/internal/prompt"
)

type plainFallback struct{}

func (plainFallback) FormatTurn(t prompt.Turn, _ prompt.Edge, _ prompt.Names) string {
	return "fallback:" + t.Text + "\n"
}
func (plainFallback) AssistantPrefix(name string, _ prompt.Names) string { return "fb>" + name }
func (plainFallback) CollapseBlankLines(s string) string                { return s }

func TestLuaFormatter(t *testing.T) {
	luaFile := writePlugin(t, `
function init(h)
  plugin.register(h, '{"name":"fmt","cyoa":"0.1.0","version":"0.1.0"}')
  plugin.formatter(h,
    function(name, text, role, edge) return "<" .. role .. ":" .. edge .. ">" .. text .. "\n" end,
    function(name) return "<character>" .. name end)
end
`)
	p, err := GetManager().Load(luaFile)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer GetManager().Unload(p.Info.Name)

	turns := []prompt.Turn{
		{Name: "Ann", Text: "hi", IsUser: true},
		{Name: "Bob", Text: "yo", Index: 1},
	}
	out, err := prompt.Normalize(turns, prompt.Instruction{Text: "note", Position: prompt.PositionPrefix}, prompt.Options{
		Style:            prompt.StyleInstruct,
		Formatter:        GetManager().Formatter(plainFallback{}),
		Names:            prompt.Names{User: "Ann", Char: "Bob"},
		CollapseNewlines: true,
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := "<system:none>note\n<user:first>hi\n<character:last>yo\n<character>Bob:"
	if out != want {
		t.Fatalf("got %q want %q", out, want)
	}
}

func TestFormatterFallback(t *testing.T) {
	f := newManager().Formatter(plainFallback{})
	if got := f.FormatTurn(prompt.Turn{Text: "x"}, prompt.EdgeNone, prompt.Names{}); got != "fallback:x\n" {
		t.Fatalf("turn=%q", got)
	}
	if got := f.AssistantPrefix("Bob:", prompt.Names{}); got != "fb>Bob:" {
		t.Fatalf("prefix=%q", got)
	}
	bare := newManager().Formatter(nil)
	if got := bare.CollapseBlankLines("a\n\n\nb"); got != "a\nb" {
		t.Fatalf("collapse=%q", got)
	}
}
