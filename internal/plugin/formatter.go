package plugin

import (
	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	"github.com/glo0ml34f/cyoa/internal/prompt"
)

// Formatter returns a prompt.Formatter backed by the first plugin (by name)
// that registered plugin.formatter. Missing functions and Lua errors fall
// back to fallback.
func (m *Manager) Formatter(fallback prompt.Formatter) prompt.Formatter {
	return &luaFormatter{m: m, fallback: fallback}
}

type luaFormatter struct {
	m        *Manager
	fallback prompt.Formatter
}

func (f *luaFormatter) active() (*Plugin, *luaFormat) {
	for _, p := range f.m.sorted() {
		if p.format != nil {
			return p, p.format
		}
	}
	return nil, nil
}

func (f *luaFormatter) call(p *Plugin, fn *lua.LFunction, args ...lua.LValue) (string, bool) {
	if err := p.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		log.WithError(err).WithFields(logrus.Fields{"plugin": p.Info.Name}).Warn("formatter failed")
		p.L.Pop(p.L.GetTop())
		return "", false
	}
	val := p.L.Get(-1)
	p.L.Pop(1)
	if val == lua.LNil {
		return "", false
	}
	return val.String(), true
}

func roleOf(t prompt.Turn) string {
	switch {
	case t.Narrator:
		return "system"
	case t.IsUser:
		return "user"
	}
	return "character"
}

func edgeName(e prompt.Edge) string {
	switch e {
	case prompt.EdgeFirst:
		return "first"
	case prompt.EdgeLast:
		return "last"
	}
	return "none"
}

func (f *luaFormatter) FormatTurn(t prompt.Turn, edge prompt.Edge, names prompt.Names) string {
	if p, lf := f.active(); lf != nil {
		out, ok := f.call(p, lf.turn, lua.LString(t.Name), lua.LString(t.Text), lua.LString(roleOf(t)), lua.LString(edgeName(edge)))
		if ok {
			return out
		}
	}
	if f.fallback != nil {
		return f.fallback.FormatTurn(t, edge, names)
	}
	if t.Name != "" && !t.Narrator {
		return t.Name + ": " + t.Text + "\n"
	}
	return t.Text + "\n"
}

func (f *luaFormatter) AssistantPrefix(name string, names prompt.Names) string {
	if p, lf := f.active(); lf != nil && lf.prefix != nil {
		if out, ok := f.call(p, lf.prefix, lua.LString(name)); ok {
			return out
		}
	}
	if f.fallback != nil {
		return f.fallback.AssistantPrefix(name, names)
	}
	return name
}

func (f *luaFormatter) CollapseBlankLines(s string) string {
	if p, lf := f.active(); lf != nil && lf.collapse != nil {
		if out, ok := f.call(p, lf.collapse, lua.LString(s)); ok {
			return out
		}
	}
	if f.fallback != nil {
		return f.fallback.CollapseBlankLines(s)
	}
	return prompt.CollapseNewlines(s)
}
