package prompt

// Message is a role-tagged entry for chat-completion backends.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Messages maps the history onto chat-completion roles, applying the same
// filtering and instruction placement as Normalize.
func Messages(turns []Turn, instr Instruction, opts Options) ([]Message, error) {
	if err := instr.Validate(); err != nil {
		return nil, err
	}
	core := coreTurns(turns)
	msgs := make([]Message, len(core))
	for i, t := range core {
		msgs[i] = turnMessage(t)
	}
	if instr.Text == "" {
		return msgs, nil
	}
	it := instructionTurn(instr, opts)
	injected := Message{Role: "system", Content: it.Text}
	switch instr.Role {
	case RoleUser:
		injected.Role = "user"
	case RoleCharacter:
		injected.Role = "assistant"
	}
	return splice(msgs, injected, instr), nil
}

func turnMessage(t Turn) Message {
	switch {
	case t.Narrator:
		return Message{Role: "system", Content: t.Text}
	case t.IsUser:
		return Message{Role: "user", Content: prefixed(t)}
	default:
		return Message{Role: "assistant", Content: prefixed(t)}
	}
}

func prefixed(t Turn) string {
	if t.Name == "" {
		return t.Text
	}
	return t.Name + ": " + t.Text
}
