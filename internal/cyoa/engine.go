// Package cyoa runs suggestion rounds against a chat: ask the model for next
// story beats, show them as options, and turn a pick into the user's next
// message.
package cyoa

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/glo0ml34f/cyoa/internal/config"
	"github.com/glo0ml34f/cyoa/internal/plugin"
	"github.com/glo0ml34f/cyoa/internal/prompt"
	"github.com/glo0ml34f/cyoa/internal/session"
	"github.com/glo0ml34f/cyoa/internal/suggest"
)

// OptionsName is the speaker shown on the options message.
const OptionsName = "CYOA Options"

var (
	ErrEmptyChat = errors.New("chat has no messages")
	ErrBusy      = errors.New("a generation is already in progress")
	ErrNoOptions = errors.New("no suggestions on screen")
	ErrBadPick   = errors.New("no suggestion with that number")
)

// Generator is the text-generation backend.
type Generator interface {
	Chat(ctx context.Context, msgs []prompt.Message, maxTokens int) (string, error)
	Complete(ctx context.Context, text string, maxTokens int) (string, error)
}

// Host is the plugin layer: string hooks and extra macros.
type Host interface {
	RunHook(name, data string) string
	Macros() map[string]string
}

// Engine owns one suggestion workflow. It is safe to share between
// goroutines; only one generation runs at a time.
type Engine struct {
	settings  config.Settings
	gen       Generator
	formatter prompt.Formatter
	host      Host
	log       *logrus.Logger
	busy      atomic.Bool
}

// Round is the outcome of one Suggest call.
type Round struct {
	ID          string
	Suggestions []suggest.Suggestion
	Markup      string
}

// New builds an engine. formatter is required only for instruct style and
// host may be nil.
func New(s config.Settings, gen Generator, formatter prompt.Formatter, host Host, log *logrus.Logger) (*Engine, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.Style == prompt.StyleInstruct && formatter == nil {
		f, err := s.Formatter()
		if err != nil {
			return nil, err
		}
		formatter = f
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{settings: s, gen: gen, formatter: formatter, host: host, log: log}, nil
}

// Settings returns the engine's settings.
func (e *Engine) Settings() config.Settings { return e.settings }

func (e *Engine) acquire() error {
	if !e.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

func (e *Engine) release() { e.busy.Store(false) }

func (e *Engine) names(chat *session.Chat) prompt.Names {
	n := prompt.Names{User: chat.User, Char: chat.Character}
	if n.User == "" {
		n.User = e.settings.User
	}
	if n.Char == "" {
		n.Char = e.settings.Character
	}
	return n
}

func (e *Engine) macros(names prompt.Names, extra map[string]string) map[string]string {
	m := map[string]string{}
	if e.host != nil {
		for k, v := range e.host.Macros() {
			m[k] = v
		}
	}
	m["user"] = names.User
	m["char"] = names.Char
	m["suggestionNumber"] = strconv.Itoa(e.settings.NumResponses)
	for k, v := range extra {
		m[k] = v
	}
	return m
}

func (e *Engine) options(names prompt.Names, macros map[string]string) prompt.Options {
	return prompt.Options{
		Style:            e.settings.Style,
		Formatter:        e.formatter,
		Names:            names,
		Macros:           macros,
		CollapseNewlines: e.settings.CollapseNewlines,
		NoAssistantName:  e.settings.NoAssistantName,
	}
}

// generate sends the history plus instruction to the backend in the
// configured API style.
func (e *Engine) generate(ctx context.Context, turns []prompt.Turn, instr prompt.Instruction, opts prompt.Options) (string, error) {
	if e.settings.API == config.APIText {
		text, err := prompt.Normalize(turns, instr, opts)
		if err != nil {
			return "", err
		}
		return e.gen.Complete(ctx, text, e.settings.ResponseLength)
	}
	msgs, err := prompt.Messages(turns, instr, opts)
	if err != nil {
		return "", err
	}
	return e.gen.Chat(ctx, msgs, e.settings.ResponseLength)
}

func hasTurns(chat *session.Chat) bool {
	for _, t := range chat.Turns() {
		if !t.IsSystem {
			return true
		}
	}
	return false
}

// Suggest asks the model for suggestions and appends them to the chat as an
// options message. as, when set, replaces the user name in the prompt. An
// unparseable reply fails the round with suggest.ErrNoSuggestions.
func (e *Engine) Suggest(ctx context.Context, chat *session.Chat, as string) (Round, error) {
	if !hasTurns(chat) {
		return Round{}, ErrEmptyChat
	}
	if err := e.acquire(); err != nil {
		return Round{}, err
	}
	defer e.release()

	round := Round{ID: uuid.NewString()}
	log := e.log.WithFields(logrus.Fields{"round": round.ID, "chat": chat.ID})
	chat.RemoveLastOptions()

	names := e.names(chat)
	extra := map[string]string{}
	if as = strings.TrimSpace(as); as != "" {
		extra["user"] = as
	}
	instr, err := e.settings.Instruction()
	if err != nil {
		return Round{}, err
	}
	log.WithFields(logrus.Fields{"api": e.settings.API, "position": instr.Position}).Debug("requesting suggestions")
	raw, err := e.generate(ctx, chat.Turns(), instr, e.options(names, e.macros(names, extra)))
	if err != nil {
		return Round{}, fmt.Errorf("generate suggestions: %w", err)
	}

	for _, s := range suggest.Parse(raw) {
		if e.host != nil {
			s.Text = strings.TrimSpace(e.host.RunHook(plugin.HookAfterParse, s.Text))
		}
		if s.Text != "" {
			round.Suggestions = append(round.Suggestions, s)
		}
	}
	if len(round.Suggestions) == 0 {
		log.WithField("reply", raw).Warn("could not parse model reply")
		return Round{}, suggest.ErrNoSuggestions
	}
	if n := len(round.Suggestions); n != e.settings.NumResponses {
		log.WithFields(logrus.Fields{"want": e.settings.NumResponses, "got": n}).Debug("suggestion count differs")
	}
	round.Markup = suggest.Render(round.Suggestions)
	chat.Append(session.Message{
		Name:   OptionsName,
		Text:   round.Markup,
		IsUser: true,
		Extra:  session.Extra{API: "manual", Model: session.OptionsModel},
	})
	return round, nil
}

// Current returns the suggestions of the options message at the end of the chat.
func (e *Engine) Current(chat *session.Chat) ([]suggest.Suggestion, error) {
	last, ok := chat.Last()
	if !ok || !last.IsOptions() {
		return nil, ErrNoOptions
	}
	return suggest.Extract(last.Text)
}

func (e *Engine) pickText(chat *session.Chat, n int, edit bool) (string, error) {
	last, ok := chat.Last()
	if !ok || !last.IsOptions() {
		return "", ErrNoOptions
	}
	if edit {
		text, err := suggest.EditText(last.Text, n-1)
		if err != nil {
			return "", fmt.Errorf("%w: %d", ErrBadPick, n)
		}
		return text, nil
	}
	s, err := suggest.Extract(last.Text)
	if err != nil {
		return "", err
	}
	if n < 1 || n > len(s) {
		return "", fmt.Errorf("%w: %d", ErrBadPick, n)
	}
	return s[n-1].Text, nil
}

// Pick impersonates the n-th (1-based) suggestion on screen.
func (e *Engine) Pick(ctx context.Context, chat *session.Chat, n int) (string, error) {
	text, err := e.pickText(chat, n, false)
	if err != nil {
		return "", err
	}
	return e.Impersonate(ctx, chat, text)
}

// PickEdit returns the n-th (1-based) suggestion for editing.
func (e *Engine) PickEdit(chat *session.Chat, n int) (string, error) {
	text, err := e.pickText(chat, n, true)
	if err != nil {
		return "", err
	}
	return e.Edit(chat, text), nil
}

// Impersonate removes the options message, waits the click delay, and asks
// the model to write the user's next message in the direction of text. The
// result is meant for the composer; it is not appended to the chat.
func (e *Engine) Impersonate(ctx context.Context, chat *session.Chat, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrBadPick
	}
	if err := e.acquire(); err != nil {
		return "", err
	}
	defer e.release()

	chat.RemoveLastOptions()
	if err := sleep(ctx, time.Duration(e.settings.ClickDelay)); err != nil {
		return "", err
	}
	names := e.names(chat)
	macros := e.macros(names, map[string]string{"suggestionText": text})
	instr := prompt.Instruction{
		Text:     e.settings.ImpersonatePrompt,
		Position: prompt.PositionSuffix,
		Role:     prompt.RoleSystem,
	}
	opts := e.options(names, macros)
	opts.Speaker = names.User
	e.log.WithFields(logrus.Fields{"chat": chat.ID, "direction": text}).Debug("impersonating")
	reply, err := e.generate(ctx, chat.Turns(), instr, opts)
	if err != nil {
		return "", fmt.Errorf("impersonate: %w", err)
	}
	return trimSpeaker(reply, names.User), nil
}

// Edit removes the options message and returns text for the composer.
// Empty text leaves the chat untouched.
func (e *Engine) Edit(chat *session.Chat, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	chat.RemoveLastOptions()
	return text
}

// Reply sends the user's message and appends the character's answer.
func (e *Engine) Reply(ctx context.Context, chat *session.Chat, text string) (session.Message, error) {
	text = strings.TrimSpace(text)
	if err := e.acquire(); err != nil {
		return session.Message{}, err
	}
	defer e.release()

	chat.RemoveLastOptions()
	names := e.names(chat)
	if text != "" {
		chat.Append(session.Message{Name: names.User, Text: text, IsUser: true})
	}
	if !hasTurns(chat) {
		return session.Message{}, ErrEmptyChat
	}
	reply, err := e.generate(ctx, chat.Turns(), prompt.Instruction{}, e.options(names, e.macros(names, nil)))
	if err != nil {
		return session.Message{}, fmt.Errorf("reply: %w", err)
	}
	return chat.Append(session.Message{Name: names.Char, Text: trimSpeaker(reply, names.Char)}), nil
}

// trimSpeaker drops a leading "Name:" the model sometimes repeats.
func trimSpeaker(reply, name string) string {
	reply = strings.TrimSpace(reply)
	if name != "" {
		reply = strings.TrimSpace(strings.TrimPrefix(reply, name+":"))
	}
	return reply
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
