// Package repl is the interactive front-end: a readline loop that sends
// story turns, runs suggestion rounds and dispatches ! commands.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/sirupsen/logrus"

	"github.com/glo0ml34f/cyoa/internal/config"
	"github.com/glo0ml34f/cyoa/internal/cyoa"
	"github.com/glo0ml34f/cyoa/internal/input"
	"github.com/glo0ml34f/cyoa/internal/plugin"
	"github.com/glo0ml34f/cyoa/internal/prompt"
	"github.com/glo0ml34f/cyoa/internal/session"
	"github.com/glo0ml34f/cyoa/internal/suggest"
)

const banner = "\033[1;36m" + `
  ___ _  _ ___   _
 / __| || / _ \ /_\
| (__ \_. | (_) / _ \
 \___||__/ \___/_/ \_\
` + "\033[0m"

const promptText = "\033[1;35mcyoa> \033[0m"

type paramInfo struct {
	Name string
	Desc string
}

type commandInfo struct {
	Usage  string
	Desc   string
	Params []paramInfo
}

var commands = map[string]commandInfo{
	"!cyoa": {Usage: "!cyoa [as]", Desc: "ask the model for next-beat suggestions",
		Params: []paramInfo{{"as", "write the suggestions for this name instead of the user"}}},
	"!pick": {Usage: "!pick N", Desc: "impersonate suggestion N into the composer",
		Params: []paramInfo{{"N", "suggestion number, starting at 1"}}},
	"!edit": {Usage: "!edit N", Desc: "put suggestion N in the composer as is",
		Params: []paramInfo{{"N", "suggestion number, starting at 1"}}},
	"!history": {Usage: "!history", Desc: "show the chat so far"},
	"!save": {Usage: "!save [file]", Desc: "write the chat to disk",
		Params: []paramInfo{{"file", "defaults to the loaded file or <chat_dir>/<id>.yaml"}}},
	"!load": {Usage: "!load file", Desc: "replace the chat with one from disk",
		Params: []paramInfo{{"file", "a chat written by !save"}}},
	"!plugins": {Usage: "!plugins", Desc: "list loaded plugins and their hooks"},
	"!reload":  {Usage: "!reload name", Desc: "reload a plugin from disk", Params: []paramInfo{{"name", "plugin name"}}},
	"!mute":    {Usage: "!mute name", Desc: "toggle printing for a plugin", Params: []paramInfo{{"name", "plugin name"}}},
	"!help":    {Usage: "!help", Desc: "show this help"},
	"!quit":    {Usage: "!quit", Desc: "leave"},
}

// Config wires a REPL to its collaborators.
type Config struct {
	Engine     *cyoa.Engine
	Generator  cyoa.Generator
	Plugins    *plugin.Manager
	Chat       *session.Chat
	ChatPath   string
	Passphrase string
	Log        *logrus.Logger
	Out        io.Writer
	// Style is the glamour style for rendered output. Empty picks one
	// from Out.
	Style string
}

// REPL holds one interactive session.
type REPL struct {
	engine   *cyoa.Engine
	gen      cyoa.Generator
	plugins  *plugin.Manager
	chat     *session.Chat
	chatPath string
	pass     string
	log      *logrus.Logger
	out      io.Writer
	style    string
	ctx      context.Context
	rl       *readline.Instance
	// composer is put in the edit buffer on the next read.
	composer string
}

// New builds a REPL and installs the plugin callbacks that need the terminal.
func New(c Config) *REPL {
	r := &REPL{
		engine:   c.Engine,
		gen:      c.Generator,
		plugins:  c.Plugins,
		chat:     c.Chat,
		chatPath: c.ChatPath,
		pass:     c.Passphrase,
		log:      c.Log,
		out:      c.Out,
		style:    c.Style,
		ctx:      context.Background(),
	}
	if r.out == nil {
		r.out = os.Stdout
	}
	if r.style == "" {
		r.style = suggest.StyleFor(r.out)
	}
	if r.log == nil {
		r.log = logrus.StandardLogger()
	}
	if r.plugins == nil {
		r.plugins = plugin.GetManager()
	}
	if r.chat == nil {
		s := r.engine.Settings()
		r.chat = session.New(s.User, s.Character)
	}
	plugin.SetPrintHandler(func(p *plugin.Plugin, msg string) {
		r.println(fmt.Sprintf("[%s] %s", p.Info.Name, msg))
	})
	plugin.SetPromptFunc(input.ReadLinePrompt)
	plugin.SetCommandAddFunc(func(name string) {
		r.log.WithField("command", "!"+name).Debug("plugin command registered")
	})
	plugin.SetGenFunc(r.generate)
	return r
}

// Chat returns the chat the REPL is working on.
func (r *REPL) Chat() *session.Chat { return r.chat }

func (r *REPL) println(s string) { fmt.Fprintln(r.out, s) }

// generate backs plugin.gen with a bare single-turn request.
func (r *REPL) generate(text string) (string, error) {
	if r.gen == nil {
		return "", errors.New("no model configured")
	}
	s := r.engine.Settings()
	if s.API == config.APIText {
		return r.gen.Complete(r.ctx, text, s.ResponseLength)
	}
	return r.gen.Chat(r.ctx, []prompt.Message{{Role: "user", Content: text}}, s.ResponseLength)
}

// Run launches the interactive loop until !quit or end of input.
func (r *REPL) Run(ctx context.Context) error {
	cfg := &readline.Config{
		Prompt:          promptText,
		AutoComplete:    &autoCompleter{r: r},
		Listener:        &helpListener{r: r},
		InterruptPrompt: "^C",
		EOFPrompt:       "!quit",
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.HistoryFile = filepath.Join(home, ".cyoa", "history")
	}
	rl, err := readline.NewEx(cfg)
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()
	r.rl = rl
	r.ctx = ctx
	r.out = rl.Stdout()
	input.SetReadline(rl)
	defer input.SetReadline(nil)

	r.println(banner + "\nType a line to play, !cyoa for suggestions, !help for more.")
	for {
		line, err := r.readLine()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if r.handleLine(ctx, line) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (r *REPL) readLine() (string, error) {
	if r.composer != "" {
		text := r.composer
		r.composer = ""
		return r.rl.ReadlineWithDefault(text)
	}
	return r.rl.Readline()
}

// handleLine sends story text or runs a command. Returns true if the repl
// should quit.
func (r *REPL) handleLine(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if strings.HasPrefix(line, "!") {
		return r.handleCommand(ctx, line)
	}
	msg, err := r.engine.Reply(ctx, r.chat, line)
	if err != nil {
		r.println("error: " + err.Error())
		return false
	}
	r.render(fmt.Sprintf("**%s**: %s", msg.Name, msg.Text))
	return false
}

// handleCommand executes a ! command. Returns true if the repl should quit.
func (r *REPL) handleCommand(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]
	switch name {
	case "!quit", "!exit":
		return true
	case "!help":
		r.help()
	case "!cyoa":
		round, err := r.engine.Suggest(ctx, r.chat, strings.Join(args, " "))
		if err != nil {
			r.println("cyoa: " + err.Error())
			return false
		}
		r.showSuggestions(round.Suggestions)
	case "!pick", "!edit":
		n, err := pickArg(args)
		if err != nil {
			r.println(commands[name].Usage)
			return false
		}
		var text string
		if name == "!pick" {
			text, err = r.engine.Pick(ctx, r.chat, n)
		} else {
			text, err = r.engine.PickEdit(r.chat, n)
		}
		if err != nil {
			r.println(name[1:] + ": " + err.Error())
			return false
		}
		r.composer = text
		r.println("composer: " + text)
	case "!history":
		r.history()
	case "!save":
		r.save(args)
	case "!load":
		if len(args) != 1 {
			r.println(commands[name].Usage)
			return false
		}
		r.load(args[0])
	case "!plugins":
		infos := r.plugins.List()
		if len(infos) == 0 {
			r.println("no plugins loaded")
		}
		for _, info := range infos {
			line := fmt.Sprintf("%s %s", info.Name, info.Version)
			if hooks := r.plugins.HookNames(info.Name); len(hooks) > 0 {
				line += " hooks: " + strings.Join(hooks, ",")
			}
			if r.plugins.Muted(info.Name) {
				line += " (muted)"
			}
			r.println(line)
		}
	case "!reload":
		if len(args) != 1 {
			r.println(commands[name].Usage)
			return false
		}
		if err := r.plugins.Reload(args[0]); err != nil {
			r.println("reload: " + err.Error())
		}
	case "!mute":
		if len(args) != 1 {
			r.println(commands[name].Usage)
			return false
		}
		if r.plugins.ToggleMute(args[0]) {
			r.println(args[0] + " muted")
		} else {
			r.println(args[0] + " unmuted")
		}
	default:
		cmd := strings.TrimPrefix(name, "!")
		if !r.plugins.IsCommand(cmd) {
			r.println("unknown command, try !help")
			return false
		}
		if err := r.plugins.RunCommand(cmd, args); err != nil {
			r.println(cmd + ": " + err.Error())
		}
	}
	return false
}

func pickArg(args []string) (int, error) {
	if len(args) != 1 {
		return 0, errors.New("one number expected")
	}
	return strconv.Atoi(args[0])
}

func (r *REPL) help() {
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		r.println(fmt.Sprintf("%-16s %s", commands[n].Usage, commands[n].Desc))
	}
	for _, c := range r.plugins.Commands() {
		r.println(fmt.Sprintf("%-16s %s", "!"+c, "plugin command"))
	}
}

func (r *REPL) width() int {
	if w := r.engine.Settings().Width; w > 0 {
		return w
	}
	return 80
}

func (r *REPL) showSuggestions(s []suggest.Suggestion) {
	out, err := suggest.Terminal(s, r.width(), r.style)
	if err != nil {
		r.log.WithError(err).Debug("glamour render failed")
		out = suggest.Markdown(s)
	}
	fmt.Fprint(r.out, out)
	r.println("!pick N to play one, !edit N to change it first")
}

func (r *REPL) render(md string) {
	out, err := suggest.RenderMarkdown(md, r.width(), r.style)
	if err != nil {
		r.log.WithError(err).Debug("glamour render failed")
		r.println(md)
		return
	}
	fmt.Fprint(r.out, out)
}

func (r *REPL) history() {
	if len(r.chat.Messages) == 0 {
		r.println("chat is empty")
		return
	}
	var b strings.Builder
	for _, m := range r.chat.Messages {
		if m.IsOptions() {
			if s, err := suggest.Extract(m.Text); err == nil {
				b.WriteString("*options:*\n\n" + suggest.Markdown(s) + "\n")
			}
			continue
		}
		if m.Name != "" && !m.Narrator {
			fmt.Fprintf(&b, "**%s**: ", m.Name)
		}
		b.WriteString(m.Text + "\n\n")
	}
	r.render(b.String())
}

func (r *REPL) save(args []string) {
	path := r.chatPath
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		dir := r.engine.Settings().ChatDir
		if dir == "" {
			dir = "."
		}
		path = filepath.Join(dir, r.chat.ID+".yaml")
	}
	if err := session.Save(path, r.chat, r.pass); err != nil {
		r.println("save: " + err.Error())
		return
	}
	r.chatPath = path
	r.log.WithFields(logrus.Fields{"chat": r.chat.ID, "path": path, "sealed": r.pass != ""}).Debug("chat saved")
	r.println("saved " + path)
}

func (r *REPL) load(path string) {
	pass := r.pass
	if session.IsSealed(path) && pass == "" {
		p, err := input.ReadPasswordPrompt("passphrase: ")
		if err != nil {
			r.println("load: " + err.Error())
			return
		}
		pass = p
	}
	c, err := session.Load(path, pass)
	if err != nil {
		r.println("load: " + err.Error())
		return
	}
	r.chat, r.chatPath = c, path
	if session.IsSealed(path) {
		r.pass = pass
	}
	r.println(fmt.Sprintf("loaded %s (%d messages)", path, len(c.Messages)))
}
