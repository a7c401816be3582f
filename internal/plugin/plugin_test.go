package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"

	"github.com/glo0ml34f/cyoa/internal/prompt"
)

func writePlugin(t *testing.T, code string) string {
	t.Helper()
	dir := t.TempDir()
	luaFile := filepath.Join(dir, "plug.lua")
	if err := os.WriteFile(luaFile, []byte(code), 0o600); err != nil {
		t.Fatalf("write lua: %v", err)
	}
	return luaFile
}

func TestVarsAndHook(t *testing.T) {
	luaFile := writePlugin(t, `
function init(h)
  plugin.register(h, '{"name":"plug","cyoa":"0.1.0","version":"0.1.0"}')
end

function run(h)
  plugin.write(h, "mood", "grim")
  plugin.hook(h, "after_generate", function(name, val) return val .. "-mod" end)
  local val = plugin.read(h, "mood")
  plugin.prompt(h, "ask", "? ")
  return val
end
`)
	SetPrintHandler(func(*Plugin, string) {})
	SetPromptFunc(func(string) (string, error) { return "y", nil })
	defer SetPromptFunc(nil)

	p, err := GetManager().Load(luaFile)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer GetManager().Unload(p.Info.Name)

	if err := p.L.CallByParam(lua.P{Fn: p.L.GetGlobal("run"), NRet: 1, Protect: true}, lua.LString(p.Handle)); err != nil {
		t.Fatalf("call run: %v", err)
	}
	ret := p.L.Get(-1).String()
	p.L.Pop(1)
	if ret != "grim" {
		t.Fatalf("read=%s", ret)
	}
	if got := GetManager().RunHook(HookAfterGenerate, "reply"); got != "reply-mod" {
		t.Fatalf("hook result=%s", got)
	}
	if got := GetManager().RunHook(HookBeforeGenerate, "unchanged"); got != "unchanged" {
		t.Fatalf("unrelated hook changed data: %s", got)
	}
	if !GetManager().HasHook(HookAfterGenerate) {
		t.Fatalf("HasHook false")
	}
	macros := GetManager().Macros()
	if macros["plug_mood"] != "grim" || macros["plug_ask"] != "y" {
		t.Fatalf("macros=%v", macros)
	}
	if got := prompt.Substitute("feeling {{plug_mood}}", macros); got != "feeling grim" {
		t.Fatalf("substitute=%s", got)
	}
}

func TestHookDenied(t *testing.T) {
	luaFile := writePlugin(t, `
function init(h)
  plugin.register(h, '{"name":"sneaky","cyoa":"0.1.0","version":"0.1.0"}')
  plugin.hook(h, "before_generate", function(name, val) return "" end)
end
`)
	SetPromptFunc(func(string) (string, error) { return "n", nil })
	defer SetPromptFunc(nil)
	if _, err := GetManager().Load(luaFile); err == nil {
		GetManager().Unload("sneaky")
		t.Fatalf("expected load to fail when the hook is denied")
	}
	if GetManager().HasHook(HookBeforeGenerate) {
		t.Fatalf("denied hook is active")
	}
}

func TestCommandRun(t *testing.T) {
	luaFile := writePlugin(t, `
function init(h)
  plugin.register(h, '{"name":"plug","cyoa":"0.1.0","version":"0.1.0"}')
  plugin.write(h, "who", "Ann")
  plugin.command(h, "doit")
end

function doit(h, a, b)
  if b == nil then
    last = a
  else
    last = a .. "+" .. b
  end
end
`)
	var added []string
	SetCommandAddFunc(func(c string) { added = append(added, c) })
	defer SetCommandAddFunc(nil)
	SetPrintHandler(func(*Plugin, string) {})
	p, err := GetManager().Load(luaFile)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer GetManager().Unload(p.Info.Name)

	if !GetManager().IsCommand("plug.doit") {
		t.Fatalf("command not registered")
	}
	if strings.Join(added, ",") != "plug.doit" {
		t.Fatalf("add callback=%v", added)
	}
	if err := GetManager().RunCommand("plug.doit", []string{"{{plug_who}}", "b"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if v := p.L.GetGlobal("last"); v.String() != "Ann+b" {
		t.Fatalf("last=%v", v)
	}
	if err := GetManager().RunCommand("plug.nope", nil); err == nil {
		t.Fatalf("expected unknown command error")
	}
}

func TestGen(t *testing.T) {
	luaFile := writePlugin(t, `
function init(h)
  plugin.register(h, '{"name":"gen","cyoa":"0.1.0","version":"0.1.0"}', {"gen"})
  got = plugin.gen(h, "out", "say hi")
end
`)
	SetGenFunc(func(p string) (string, error) { return "model:" + p, nil })
	defer SetGenFunc(nil)
	p, err := GetManager().Load(luaFile)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer GetManager().Unload(p.Info.Name)
	if v := p.L.GetGlobal("got"); v.String() != "model:say hi" {
		t.Fatalf("got=%v", v)
	}
	if v, _ := GetManager().Var("gen_out"); v != "model:say hi" {
		t.Fatalf("var=%s", v)
	}
}

func TestPermissionDenied(t *testing.T) {
	luaFile := writePlugin(t, `
function init(h)
  plugin.register(h, '{"name":"limited","cyoa":"0.1.0","version":"0.1.0"}', {"print"})
  plugin.write(h, "x", "y")
end
`)
	_, err := GetManager().Load(luaFile)
	if err == nil {
		GetManager().Unload("limited")
		t.Fatalf("expected write to be refused")
	}
	if !strings.Contains(err.Error(), "write not allowed") {
		t.Fatalf("err=%v", err)
	}
}

func TestMissingRegister(t *testing.T) {
	luaFile := writePlugin(t, `x = 1`)
	if _, err := GetManager().Load(luaFile); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	code := `function init(h) plugin.register(h, '{"name":"dirplug","cyoa":"0.1.0","version":"1.2.3"}') end`
	if err := os.WriteFile(filepath.Join(dir, "a.lua"), []byte(code), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.lua"), []byte("this is not lua"), 0o600); err != nil {
		t.Fatal(err)
	}
	m := newManager()
	m.SetDir(dir)
	if err := m.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	defer m.Shutdown()
	infos := m.List()
	if len(infos) != 1 || infos[0].Name != "dirplug" || infos[0].Version != "1.2.3" {
		t.Fatalf("infos=%v", infos)
	}
	m.SetDir(filepath.Join(dir, "missing"))
	if err := m.LoadAll(); err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing dir: %v", err)
	}
}
