package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/glo0ml34f/cyoa/internal/session"
	"github.com/glo0ml34f/cyoa/internal/suggest"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParseCmd(t *testing.T) {
	out, err := run(t, "Sure!\n1. Run\n2. Hide\n", "parse")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out != "Run\nHide\n" {
		t.Fatalf("out=%q", out)
	}
	if _, err := run(t, "no options here", "parse"); !errors.Is(err, suggest.ErrNoSuggestions) {
		t.Fatalf("expected ErrNoSuggestions, got %v", err)
	}
	out, err = run(t, "<suggestion>A</suggestion>\n1. B\n", "parse", "--match", "numbered")
	if err != nil || out != "B\n" {
		t.Fatalf("matcher filter: %q %v", out, err)
	}
}

func TestRenderCmd(t *testing.T) {
	out, err := run(t, "<suggestion>Open the door</suggestion>", "render")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	s, err := suggest.Extract(out)
	if err != nil || len(s) != 1 || s[0].Text != "Open the door" {
		t.Fatalf("markup %q did not round-trip: %v %v", out, s, err)
	}
	out, err = run(t, "1. a\n2. b", "render", "--format", "markdown")
	if err != nil || out != "1. a\n2. b\n" {
		t.Fatalf("markdown: %q %v", out, err)
	}
	if _, err := run(t, "1. a", "render", "--format", "pdf"); err == nil {
		t.Fatalf("expected unknown format error")
	}
}

func writeChat(t *testing.T, dir string) string {
	t.Helper()
	chatPath := filepath.Join(dir, "chat.yaml")
	c := session.New("Ann", "Bob")
	c.Append(session.Message{Name: "Bob", Text: "Hello."})
	c.Append(session.Message{Name: "Ann", Text: "Hi.", IsUser: true})
	if err := session.Save(chatPath, c, ""); err != nil {
		t.Fatal(err)
	}
	return chatPath
}

func TestNormalizeCmd(t *testing.T) {
	dir := t.TempDir()
	chatPath := writeChat(t, dir)
	cfg := filepath.Join(dir, "missing.yaml")
	t.Setenv("HOME", dir)

	out, err := run(t, "", "normalize", "--config", cfg, "--chat", chatPath,
		"--text", "Offer {{suggestionNumber}} options.", "--position", "in-depth", "--depth", "1")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	want := "Bob: Hello.\nSystem: Offer 3 options.\nAnn: Hi.\nBob:\n"
	if out != want {
		t.Fatalf("out=%q want %q", out, want)
	}

	out, err = run(t, "", "normalize", "--config", cfg, "--chat", chatPath, "--text", "Go.", "--position", "prefix", "--role", "user")
	if err != nil || !strings.HasPrefix(out, "Ann: Go.\nBob: Hello.") {
		t.Fatalf("prefix: %q %v", out, err)
	}

	out, err = run(t, "", "normalize", "--config", cfg, "--chat", chatPath, "--style", "instruct", "--preset", "chatml")
	if err != nil || !strings.HasPrefix(out, "<|im_start|>assistant\nBob: Hello.") {
		t.Fatalf("instruct: %q %v", out, err)
	}

	if _, err := run(t, "", "normalize", "--config", cfg); err == nil {
		t.Fatalf("expected missing --chat error")
	}
	if _, err := run(t, "", "normalize", "--config", cfg, "--chat", chatPath, "--preset", "nope", "--style", "instruct"); err == nil {
		t.Fatalf("expected unknown preset error")
	}
}

func TestNormalizeUsesPluginFormatter(t *testing.T) {
	dir := t.TempDir()
	chatPath := writeChat(t, dir)
	plugins := filepath.Join(dir, "plugins")
	if err := os.Mkdir(plugins, 0o755); err != nil {
		t.Fatal(err)
	}
	code := `
function init(h)
  plugin.register(h, '{"name":"fmt","cyoa":"0.1.0","version":"0.1.0"}')
  plugin.formatter(h,
    function(name, text, role, edge) return "<" .. role .. ":" .. edge .. ">" .. text .. "\n" end,
    function(name) return "<character>" .. name end)
end
`
	if err := os.WriteFile(filepath.Join(plugins, "fmt.lua"), []byte(code), 0o644); err != nil {
		t.Fatal(err)
	}

	args := []string{"normalize", "--config", filepath.Join(dir, "missing.yaml"), "--plugins", plugins,
		"--chat", chatPath, "--style", "instruct", "--preset", "chatml"}
	out, err := run(t, "", args...)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !strings.HasPrefix(out, "<character:first>") || !strings.Contains(out, "<user:last>") {
		t.Fatalf("plugin formatter not used: %q", out)
	}
	if strings.Contains(out, "<|im_start|>") {
		t.Fatalf("preset used over plugin formatter: %q", out)
	}

	// Shutdown unloads the plugin, so the next run without it uses the preset.
	out, err = run(t, "", append(args[:3:3], "--plugins", dir, "--chat", chatPath, "--style", "instruct", "--preset", "chatml")...)
	if err != nil || !strings.HasPrefix(out, "<|im_start|>") {
		t.Fatalf("preset after unload: %q %v", out, err)
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "", "version")
	if err != nil || out != version+"\n" {
		t.Fatalf("version: %q %v", out, err)
	}
}
