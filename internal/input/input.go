// Package input reads lines, secrets and confirmations from the terminal,
// through the shared readline instance when the REPL has one.
package input

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
)

var (
	rl     *readline.Instance
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
	reader *bufio.Reader
)

// SetReadline assigns the global readline instance used for interactive input.
func SetReadline(r *readline.Instance) { rl = r }

// GetReadline returns the current global readline instance.
func GetReadline() *readline.Instance { return rl }

// ReadPasswordPrompt reads a secret line displaying the given prompt.
func ReadPasswordPrompt(prompt string) (string, error) {
	if rl != nil {
		b, err := rl.ReadPassword(prompt)
		return string(b), err
	}
	tmp, err := readline.NewEx(&readline.Config{})
	if err != nil {
		return "", err
	}
	defer tmp.Close()
	b, err := tmp.ReadPassword(prompt)
	return string(b), err
}

// ReadLinePrompt reads a line showing the given prompt.
func ReadLinePrompt(prompt string) (string, error) {
	if rl != nil {
		old := rl.Config.Prompt
		rl.SetPrompt(prompt)
		defer rl.SetPrompt(old)
		return rl.Readline()
	}
	fmt.Fprint(stdout, prompt)
	return readLine()
}

// EditLine reads a line with text already in the buffer so the user can
// change it before pressing enter.
func EditLine(prompt, text string) (string, error) {
	if rl != nil {
		old := rl.Config.Prompt
		rl.SetPrompt(prompt)
		defer rl.SetPrompt(old)
		return rl.ReadlineWithDefault(text)
	}
	fmt.Fprintf(stdout, "%s\n%s", text, prompt)
	line, err := readLine()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(line) == "" {
		return text, nil
	}
	return line, nil
}

// Confirm asks a yes/no question. Anything but y or yes is a no.
func Confirm(prompt string) bool {
	ans, err := ReadLinePrompt(prompt)
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(ans)) {
	case "y", "yes":
		return true
	}
	return false
}

func readLine() (string, error) {
	if reader == nil {
		reader = bufio.NewReader(stdin)
	}
	line, err := reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
