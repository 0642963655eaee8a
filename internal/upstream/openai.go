// Package upstream implements the HTTP client for OpenAI-compatible model
// APIs, covering batched and server-sent-event streaming calls.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrUpstream indicates the provider rejected the request.
	ErrUpstream = errors.New("upstream provider error")

	// ErrUpstreamTimeout indicates the caller-supplied deadline elapsed.
	ErrUpstreamTimeout = errors.New("upstream timeout")

	// ErrUpstreamDisconnected indicates the stream ended before completion.
	ErrUpstreamDisconnected = errors.New("upstream disconnected")
)

const (
	defaultBaseURL  = "https://api.openai.com/v1"
	contentTypeJSON = "application/json"
	userAgent       = "teamgate/1.0"

	sseDataPrefix = "data: "
	sseDoneMarker = "[DONE]"
)

// Message is the wire shape of a chat message. Content is either a string
// or a list of typed content parts.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
	Name    string `json:"name,omitempty"`
}

// Usage is the wire shape of token usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is one completion alternative; batched responses carry Message,
// streamed deltas carry Delta, legacy completions carry Text.
type Choice struct {
	Index        int      `json:"index"`
	Message      *Message `json:"message,omitempty"`
	Delta        *Message `json:"delta,omitempty"`
	Text         string   `json:"text,omitempty"`
	FinishReason string   `json:"finish_reason,omitempty"`
}

// Completion is the response document shared by batched calls and stream
// deltas.
type Completion struct {
	ID                string   `json:"id"`
	Model             string   `json:"model"`
	SystemFingerprint string   `json:"system_fingerprint,omitempty"`
	Choices           []Choice `json:"choices"`
	Usage             *Usage   `json:"usage,omitempty"`
}

// Event is one element of a streamed response.
type Event struct {
	Completion *Completion
	Err        error
}

// Client talks to one OpenAI-compatible endpoint with one credential set.
type Client struct {
	baseURL string
	apiKey  string
	org     string
	http    *http.Client
}

// New constructs a client. An empty baseURL targets the OpenAI API.
func New(baseURL, apiKey, org string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		org:     org,
		http:    httpClient,
	}
}

// CreateChat issues a batched chat completion.
func (c *Client) CreateChat(ctx context.Context, payload map[string]any) (*Completion, error) {
	return c.create(ctx, c.baseURL+"/chat/completions", payload)
}

// CreateCompletion issues a batched legacy text completion.
func (c *Client) CreateCompletion(ctx context.Context, payload map[string]any) (*Completion, error) {
	return c.create(ctx, c.baseURL+"/completions", payload)
}

// StreamChat issues a streaming chat completion and returns the event
// sequence. The channel is closed when the upstream stream ends or the
// context is cancelled.
func (c *Client) StreamChat(ctx context.Context, payload map[string]any) (<-chan Event, error) {
	return c.stream(ctx, c.baseURL+"/chat/completions", payload)
}

// StreamCompletion issues a streaming legacy completion.
func (c *Client) StreamCompletion(ctx context.Context, payload map[string]any) (<-chan Event, error) {
	return c.stream(ctx, c.baseURL+"/completions", payload)
}

// Ping verifies the credentials by listing models.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return parseAPIError(resp)
	}
	return nil
}

func (c *Client) create(ctx context.Context, url string, payload map[string]any) (*Completion, error) {
	resp, err := c.post(ctx, url, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, parseAPIError(resp)
	}

	var completion Completion
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}
	return &completion, nil
}

func (c *Client) stream(ctx context.Context, url string, payload map[string]any) (<-chan Event, error) {
	resp, err := c.post(ctx, url, payload)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, parseAPIError(resp)
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, sseDataPrefix) {
				continue
			}
			data := strings.TrimPrefix(line, sseDataPrefix)
			if data == sseDoneMarker {
				return
			}

			var completion Completion
			if err := json.Unmarshal([]byte(data), &completion); err != nil {
				events <- Event{Err: fmt.Errorf("%w: decode delta: %v", ErrUpstream, err)}
				return
			}
			select {
			case events <- Event{Completion: &completion}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			events <- Event{Err: classify(err)}
		}
	}()
	return events, nil
}

func (c *Client) post(ctx context.Context, url string, payload map[string]any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode payload: %v", ErrUpstream, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	return resp, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.org != "" {
		req.Header.Set("OpenAI-Organization", c.org)
	}
}

// classify maps transport failures onto the upstream error taxonomy.
// Credentials never appear in the wrapped message.
func classify(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return fmt.Errorf("%w: %v", ErrUpstreamDisconnected, err)
	default:
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
}

// apiError is the error document OpenAI-compatible APIs return.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32*1024))
	if err != nil {
		return fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var doc apiError
	if err := json.Unmarshal(body, &doc); err == nil && doc.Error.Message != "" {
		return fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, doc.Error.Message)
	}
	return fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
}
