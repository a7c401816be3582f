package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/glo0ml34f/cyoa/internal/plugin"
	"github.com/glo0ml34f/cyoa/internal/prompt"
)

const defaultBaseURL = "https://api.openai.com/v1"

var modelName = "gpt-4o-mini"

// SetModelName overrides the model used by new requests.
func SetModelName(name string) {
	if name != "" {
		modelName = name
	}
}

// GetModelName returns the model used by new requests.
func GetModelName() string { return modelName }

// Client interacts with an OpenAI-compatible API.
type Client struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a client using OPENAI_API_KEY and, when set,
// OPENAI_API_URL as the base URL.
func NewClient() (*Client, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	base := os.Getenv("OPENAI_API_URL")
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		APIKey:     key,
		BaseURL:    strings.TrimRight(base, "/"),
		HTTPClient: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

type chatRequest struct {
	Model     string           `json:"model"`
	Messages  []prompt.Message `json:"messages"`
	MaxTokens int              `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message prompt.Message `json:"message"`
	} `json:"choices"`
}

type completionRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
}

// Chat sends role messages to /chat/completions and returns the reply.
// The last message passes through the before_generate hook and the reply
// through after_generate.
func (c *Client) Chat(ctx context.Context, msgs []prompt.Message, maxTokens int) (string, error) {
	msgs = append([]prompt.Message(nil), msgs...)
	if n := len(msgs); n > 0 {
		msgs[n-1].Content = plugin.GetManager().RunHook(plugin.HookBeforeGenerate, msgs[n-1].Content)
	}
	var cr chatResponse
	if err := c.post(ctx, "/chat/completions", chatRequest{Model: modelName, Messages: msgs, MaxTokens: maxTokens}, &cr); err != nil {
		return "", err
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices in response")
	}
	return plugin.GetManager().RunHook(plugin.HookAfterGenerate, cr.Choices[0].Message.Content), nil
}

// Complete sends a single text prompt to /completions and returns the
// generated continuation.
func (c *Client) Complete(ctx context.Context, text string, maxTokens int) (string, error) {
	text = plugin.GetManager().RunHook(plugin.HookBeforeGenerate, text)
	var cr completionResponse
	if err := c.post(ctx, "/completions", completionRequest{Model: modelName, Prompt: text, MaxTokens: maxTokens}, &cr); err != nil {
		return "", err
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices in response")
	}
	return plugin.GetManager().RunHook(plugin.HookAfterGenerate, cr.Choices[0].Text), nil
}

// SendPrompt sends the given text as a single user message.
func (c *Client) SendPrompt(ctx context.Context, text string) (string, error) {
	return c.Chat(ctx, []prompt.Message{{Role: "user", Content: text}}, 0)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("openai: unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("openai: decode response: %w", err)
	}
	return nil
}
