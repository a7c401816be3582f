package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	"github.com/glo0ml34f/cyoa/internal/prompt"
)

// Hook names run by the host.
const (
	HookBeforeGenerate = "before_generate"
	HookAfterGenerate  = "after_generate"
	HookAfterParse     = "after_parse"
)

// Info describes a plugin's metadata.
type Info struct {
	Name    string `json:"name"`
	Cyoa    string `json:"cyoa"`
	Version string `json:"version"`
}

// Plugin represents a loaded Lua plugin.
type Plugin struct {
	Info     Info
	Handle   string
	path     string
	L        *lua.LState
	init     *lua.LFunction
	shut     *lua.LFunction
	commands map[string]*lua.LFunction
	hooks    map[string][]*lua.LFunction
	allowed  map[string]bool
	format   *luaFormat
}

type luaFormat struct {
	turn     *lua.LFunction
	prefix   *lua.LFunction
	collapse *lua.LFunction
}

// Manager keeps track of loaded plugins and the directory to load from.
type Manager struct {
	plugins  map[string]*Plugin
	dir      string
	mute     map[string]bool
	printFn  func(*Plugin, string)
	commands map[string]*Plugin
	vars     map[string]string
}

var mgr = newManager()

var promptFn func(string) (string, error)
var addCmdFn func(string)
var delCmdFn func(string)
var genFn func(string) (string, error)

var log = logrus.StandardLogger()

func newManager() *Manager {
	return &Manager{
		plugins:  map[string]*Plugin{},
		mute:     map[string]bool{},
		commands: map[string]*Plugin{},
		vars:     map[string]string{},
	}
}

// GetManager returns the global plugin manager.
func GetManager() *Manager { return mgr }

// SetLogger sets the logger used for load and hook failures.
func SetLogger(l *logrus.Logger) { log = l }

// SetPrintHandler sets the function used to display plugin output.
func SetPrintHandler(fn func(*Plugin, string)) { mgr.printFn = fn }

// SetPromptFunc registers the function used to prompt the user for input.
func SetPromptFunc(fn func(string) (string, error)) { promptFn = fn }

// SetCommandAddFunc registers a function called when a plugin adds a command.
func SetCommandAddFunc(fn func(string)) { addCmdFn = fn }

// SetCommandRemoveFunc registers a function called when a plugin command is removed.
func SetCommandRemoveFunc(fn func(string)) { delCmdFn = fn }

// SetGenFunc registers the model call used by plugin.gen.
func SetGenFunc(fn func(string) (string, error)) { genFn = fn }

// Dir returns the configured plugin directory.
func (m *Manager) Dir() string { return m.dir }

// SetDir sets the directory from which plugins are loaded.
func (m *Manager) SetDir(dir string) {
	m.dir = dir
}

// SetPrintHandler registers a function used to display plugin messages.
func (m *Manager) SetPrintHandler(fn func(*Plugin, string)) { m.printFn = fn }

// ToggleMute switches the muted state for a plugin and returns the new state.
func (m *Manager) ToggleMute(name string) bool {
	m.mute[name] = !m.mute[name]
	return m.mute[name]
}

// Muted reports whether prints from the plugin are muted.
func (m *Manager) Muted(name string) bool { return m.mute[name] }

// Var returns a plugin variable by its full macro name.
func (m *Manager) Var(name string) (string, bool) {
	v, ok := m.vars[name]
	return v, ok
}

// SetVar sets a plugin variable by its full macro name.
func (m *Manager) SetVar(name, value string) { m.vars[name] = value }

// Macros returns a copy of all plugin variables for prompt substitution.
func (m *Manager) Macros() map[string]string {
	out := make(map[string]string, len(m.vars))
	for k, v := range m.vars {
		out[k] = v
	}
	return out
}

// LoadAll loads all Lua plugins from the configured directory or
// ~/.cyoa/plugins if none was set.
func (m *Manager) LoadAll() error {
	dir := m.dir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		dir = filepath.Join(home, ".cyoa", "plugins")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".lua") {
			path := filepath.Join(dir, e.Name())
			if _, err := m.Load(path); err != nil {
				log.WithError(err).WithField("plugin", e.Name()).Warn("plugin load failed")
			}
		}
	}
	return nil
}

// checkHandle validates the handle argument and the plugin's permission for fn.
// An empty fn skips the permission check.
func (p *Plugin) checkHandle(L *lua.LState, fn string) bool {
	if L.CheckString(1) != p.Handle {
		L.RaiseError("invalid handle")
		return false
	}
	if fn != "" && p.allowed != nil && !p.allowed[fn] {
		L.RaiseError("%s not allowed", fn)
		return false
	}
	return true
}

// Load loads a plugin from the given path.
func (m *Manager) Load(path string) (*Plugin, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.StringLibName, lua.OpenString},
		{lua.TabLibName, lua.OpenTable},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	p := &Plugin{Handle: uuid.NewString(), L: L, path: path, hooks: map[string][]*lua.LFunction{}}
	api := L.NewTable()
	L.SetGlobal("plugin", api)
	L.SetFuncs(api, map[string]lua.LGFunction{
		"register": func(L *lua.LState) int {
			if !p.checkHandle(L, "") {
				return 0
			}
			infoStr := L.CheckString(2)
			var inf Info
			if err := json.Unmarshal([]byte(infoStr), &inf); err != nil {
				L.RaiseError("register: %v", err)
				return 0
			}
			if inf.Name == "" {
				L.RaiseError("register: name required")
				return 0
			}
			p.Info = inf
			if L.GetTop() >= 3 {
				tbl := L.CheckTable(3)
				var funcs []string
				tbl.ForEach(func(_, v lua.LValue) {
					funcs = append(funcs, v.String())
				})
				if promptFn != nil && len(funcs) > 0 {
					msg := fmt.Sprintf("Plugin %s wants API functions %s. Allow? [y/N] ", inf.Name, strings.Join(funcs, ","))
					resp, err := promptFn(msg)
					if err != nil || strings.ToLower(strings.TrimSpace(resp)) != "y" {
						L.RaiseError("api denied")
						return 0
					}
				}
				p.allowed = map[string]bool{}
				for _, f := range funcs {
					p.allowed[f] = true
				}
			}
			L.Push(lua.LString(p.Handle))
			return 1
		},
		"print": func(L *lua.LState) int {
			if !p.checkHandle(L, "print") {
				return 0
			}
			msg := L.CheckString(2)
			if m.printFn != nil && !m.mute[p.Info.Name] {
				m.printFn(p, msg)
			}
			L.Push(lua.LString(p.Handle))
			return 1
		},
		"format": func(L *lua.LState) int {
			if !p.checkHandle(L, "") {
				return 0
			}
			format := L.CheckString(2)
			args := make([]interface{}, 0, L.GetTop()-2)
			for i := 3; i <= L.GetTop(); i++ {
				val := L.Get(i)
				switch v := val.(type) {
				case lua.LBool:
					args = append(args, bool(v))
				case lua.LNumber:
					args = append(args, float64(v))
				case lua.LString:
					args = append(args, string(v))
				default:
					args = append(args, val.String())
				}
			}
			L.Push(lua.LString(fmt.Sprintf(format, args...)))
			return 1
		},
		"read": func(L *lua.LState) int {
			if !p.checkHandle(L, "read") {
				return 0
			}
			name := L.CheckString(2)
			if val, ok := m.vars[varName(p.Info.Name, name)]; ok {
				L.Push(lua.LString(val))
			} else {
				L.Push(lua.LNil)
			}
			return 1
		},
		"write": func(L *lua.LState) int {
			if !p.checkHandle(L, "write") {
				return 0
			}
			name := L.CheckString(2)
			data := L.CheckString(3)
			m.vars[varName(p.Info.Name, name)] = data
			L.Push(lua.LString(p.Handle))
			return 1
		},
		"prompt": func(L *lua.LState) int {
			if !p.checkHandle(L, "prompt") {
				return 0
			}
			name := L.CheckString(2)
			msg := L.CheckString(3)
			if promptFn == nil {
				L.Push(lua.LString(""))
				return 1
			}
			resp, err := promptFn(msg)
			if err != nil {
				L.RaiseError("prompt: %v", err)
				return 0
			}
			resp = prompt.Substitute(resp, m.vars)
			m.vars[varName(p.Info.Name, name)] = resp
			L.Push(lua.LString(resp))
			return 1
		},
		"hook": func(L *lua.LState) int {
			if !p.checkHandle(L, "") {
				return 0
			}
			hookName := L.CheckString(2)
			cb := L.CheckFunction(3)
			if promptFn != nil {
				msg := fmt.Sprintf("Plugin %s wants hook '%s'. Hooks rewrite everything sent to and read from the model. Allow? [y/N] ", p.Info.Name, hookName)
				resp, err := promptFn(msg)
				if err == nil && strings.ToLower(strings.TrimSpace(resp)) != "y" {
					m.Unload(p.Info.Name)
					L.RaiseError("hook denied")
					return 0
				}
			}
			exists := false
			for _, f := range p.hooks[hookName] {
				if f == cb {
					exists = true
					break
				}
			}
			if !exists {
				p.hooks[hookName] = append(p.hooks[hookName], cb)
				if m.printFn != nil && !m.mute[p.Info.Name] {
					m.printFn(p, fmt.Sprintf("hook registered: %s", hookName))
				}
			}
			L.Push(lua.LString(p.Handle))
			return 1
		},
		"command": func(L *lua.LState) int {
			if !p.checkHandle(L, "") {
				return 0
			}
			cmd := L.CheckString(2)
			if err := m.RegisterCommand(p, cmd); err != nil {
				L.RaiseError("command: %v", err)
				return 0
			}
			L.Push(lua.LString(p.Handle))
			return 1
		},
		"gen": func(L *lua.LState) int {
			if !p.checkHandle(L, "gen") {
				return 0
			}
			name := L.CheckString(2)
			text := L.CheckString(3)
			if genFn == nil {
				L.Push(lua.LString(""))
				return 1
			}
			reply, err := genFn(prompt.Substitute(text, m.vars))
			if err != nil {
				L.RaiseError("gen: %v", err)
				return 0
			}
			m.vars[varName(p.Info.Name, name)] = reply
			L.Push(lua.LString(reply))
			return 1
		},
		"formatter": func(L *lua.LState) int {
			if !p.checkHandle(L, "formatter") {
				return 0
			}
			f := &luaFormat{turn: L.CheckFunction(2)}
			if fn, ok := L.Get(3).(*lua.LFunction); ok {
				f.prefix = fn
			}
			if fn, ok := L.Get(4).(*lua.LFunction); ok {
				f.collapse = fn
			}
			p.format = f
			L.Push(lua.LString(p.Handle))
			return 1
		},
	})
	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, err
	}
	if fn, ok := L.GetGlobal("init").(*lua.LFunction); ok {
		p.init = fn
		if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, lua.LString(p.Handle)); err != nil {
			L.Close()
			return nil, err
		}
	}
	if p.Info.Name == "" {
		L.Close()
		return nil, fmt.Errorf("plugin missing register call")
	}
	if old, ok := m.plugins[p.Info.Name]; ok && old != p {
		m.Unload(p.Info.Name)
	}
	if fn, ok := L.GetGlobal("shutdown").(*lua.LFunction); ok {
		p.shut = fn
	}
	m.plugins[p.Info.Name] = p
	log.WithFields(logrus.Fields{"plugin": p.Info.Name, "version": p.Info.Version}).Debug("plugin loaded")
	return p, nil
}

// Unload unloads the named plugin.
func (m *Manager) Unload(name string) error {
	p, ok := m.plugins[name]
	if !ok {
		return fmt.Errorf("plugin not loaded")
	}
	if p.shut != nil {
		_ = p.L.CallByParam(lua.P{Fn: p.shut, NRet: 0, Protect: true}, lua.LString(p.Handle))
	}
	for cmd, pl := range m.commands {
		if pl == p {
			delete(m.commands, cmd)
			if delCmdFn != nil {
				delCmdFn(cmd)
			}
		}
	}
	p.commands = nil
	p.L.Close()
	delete(m.plugins, name)
	return nil
}

// Reload reloads the named plugin from disk.
func (m *Manager) Reload(name string) error {
	p, ok := m.plugins[name]
	if !ok {
		return fmt.Errorf("plugin not loaded")
	}
	path := p.path
	if err := m.Unload(name); err != nil {
		return err
	}
	_, err := m.Load(path)
	return err
}

// List returns all loaded plugin infos sorted by name.
func (m *Manager) List() []Info {
	infos := make([]Info, 0, len(m.plugins))
	for _, p := range m.plugins {
		infos = append(infos, p.Info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Shutdown unloads all plugins.
func (m *Manager) Shutdown() {
	for name := range m.plugins {
		m.Unload(name)
	}
}

// sorted returns loaded plugins ordered by name so hooks run deterministically.
func (m *Manager) sorted() []*Plugin {
	out := make([]*Plugin, 0, len(m.plugins))
	for _, p := range m.plugins {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Info.Name < out[j].Info.Name })
	return out
}

// RunHook passes data through every callback registered for the hook name.
// A failing callback leaves the data unchanged.
func (m *Manager) RunHook(name, data string) string {
	out := data
	for _, p := range m.sorted() {
		for _, fn := range p.hooks[name] {
			if err := p.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, lua.LString(name), lua.LString(out)); err == nil {
				val := p.L.Get(-1)
				if val != lua.LNil {
					out = val.String()
				}
				p.L.Pop(1)
			} else {
				log.WithError(err).WithFields(logrus.Fields{"plugin": p.Info.Name, "hook": name}).Warn("hook failed")
				p.L.Pop(p.L.GetTop())
			}
		}
	}
	return out
}

// HasHook reports whether any plugin has registered the given hook name.
func (m *Manager) HasHook(name string) bool {
	for _, p := range m.plugins {
		if len(p.hooks[name]) > 0 {
			return true
		}
	}
	return false
}

// HookNames returns the names of hooks registered by the plugin.
func (m *Manager) HookNames(name string) []string {
	p, ok := m.plugins[name]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(p.hooks))
	for h := range p.hooks {
		names = append(names, h)
	}
	sort.Strings(names)
	return names
}

// RegisterCommand registers a new REPL command for the plugin.
func (m *Manager) RegisterCommand(p *Plugin, name string) error {
	if p.Info.Name == "" {
		return fmt.Errorf("plugin not registered")
	}
	cmd := p.Info.Name + "." + name
	if _, ok := m.commands[cmd]; ok {
		return fmt.Errorf("command exists")
	}
	fn, ok := p.L.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return fmt.Errorf("function %s not found", name)
	}
	if p.commands == nil {
		p.commands = map[string]*lua.LFunction{}
	}
	p.commands[name] = fn
	m.commands[cmd] = p
	if addCmdFn != nil {
		addCmdFn(cmd)
	}
	return nil
}

// IsCommand checks whether the name corresponds to a plugin command.
func (m *Manager) IsCommand(name string) bool {
	_, ok := m.commands[name]
	return ok
}

// Commands returns the registered plugin command names, sorted.
func (m *Manager) Commands() []string {
	out := make([]string, 0, len(m.commands))
	for c := range m.commands {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// RunCommand invokes the plugin function for the command. Arguments have
// plugin macros substituted first.
func (m *Manager) RunCommand(name string, args []string) error {
	p, ok := m.commands[name]
	if !ok {
		return fmt.Errorf("command not found")
	}
	local := strings.TrimPrefix(name, p.Info.Name+".")
	fn, ok := p.commands[local]
	if !ok {
		return fmt.Errorf("plugin has no %s function", local)
	}
	vals := []lua.LValue{lua.LString(p.Handle)}
	for _, a := range args {
		vals = append(vals, lua.LString(prompt.Substitute(a, m.vars)))
	}
	return p.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, vals...)
}

func varName(pluginName, name string) string {
	return pluginName + "_" + name
}
