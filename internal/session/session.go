// Package session holds the chat history the suggestion engine reads and
// writes, and its on-disk form.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/glo0ml34f/cyoa/internal/prompt"
)

// OptionsModel tags the message that carries rendered suggestions.
const OptionsModel = "cyoa"

// ErrPassphraseRequired is returned when loading a sealed chat without a passphrase.
var ErrPassphraseRequired = errors.New("chat file is encrypted; passphrase required")

// Extra records where a message came from.
type Extra struct {
	API   string `yaml:"api,omitempty"`
	Model string `yaml:"model,omitempty"`
}

// Message is one entry in the chat.
type Message struct {
	ID       string    `yaml:"id"`
	Name     string    `yaml:"name"`
	Text     string    `yaml:"text"`
	IsUser   bool      `yaml:"is_user,omitempty"`
	IsSystem bool      `yaml:"is_system,omitempty"`
	Narrator bool      `yaml:"narrator,omitempty"`
	SendDate time.Time `yaml:"send_date"`
	Extra    Extra     `yaml:"extra,omitempty"`
}

// IsOptions reports whether the message holds rendered suggestions.
func (m Message) IsOptions() bool { return m.Extra.Model == OptionsModel }

// Chat is a conversation between the user and one character.
type Chat struct {
	ID        string    `yaml:"id"`
	User      string    `yaml:"user"`
	Character string    `yaml:"character"`
	Messages  []Message `yaml:"messages"`
}

// New returns an empty chat.
func New(user, character string) *Chat {
	return &Chat{ID: uuid.NewString(), User: user, Character: character}
}

// Append adds a message, filling in the ID and send date when missing.
func (c *Chat) Append(m Message) Message {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.SendDate.IsZero() {
		m.SendDate = time.Now().UTC()
	}
	c.Messages = append(c.Messages, m)
	return m
}

// Last returns the newest message.
func (c *Chat) Last() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// RemoveLastOptions drops the newest message when it carries suggestions.
func (c *Chat) RemoveLastOptions() bool {
	last, ok := c.Last()
	if !ok || !last.IsOptions() {
		return false
	}
	c.Messages = c.Messages[:len(c.Messages)-1]
	return true
}

// Turns returns a read-only view for prompt building. Options messages
// are marked system-only so they never reach the model.
func (c *Chat) Turns() []prompt.Turn {
	out := make([]prompt.Turn, len(c.Messages))
	for i, m := range c.Messages {
		out[i] = prompt.Turn{
			Name:     m.Name,
			Text:     m.Text,
			IsUser:   m.IsUser,
			IsSystem: m.IsSystem || m.IsOptions(),
			Narrator: m.Narrator,
			Index:    i,
		}
	}
	return out
}

// Save writes the chat as YAML, sealed with pass when it is not empty.
func Save(path string, c *Chat, pass string) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if pass != "" {
		if b, err = seal(b, pass); err != nil {
			return fmt.Errorf("seal chat: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// Load reads a chat written by Save.
func Load(path, pass string) (*Chat, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if isSealed(b) {
		if pass == "" {
			return nil, ErrPassphraseRequired
		}
		if b, err = open(b, pass); err != nil {
			return nil, err
		}
	}
	var c Chat
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse chat %s: %w", path, err)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return &c, nil
}

// IsSealed reports whether the file at path is encrypted.
func IsSealed(path string) bool {
	b, err := os.ReadFile(path)
	return err == nil && isSealed(b)
}
