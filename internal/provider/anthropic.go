package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	anthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"

	// The Messages API requires max_tokens; used when the request leaves it unset.
	anthropicDefaultMaxTokens = 4096
)

// anthropicClient speaks the Anthropic Messages API. System prompts travel in
// a dedicated top-level field rather than as a system-role message.
type anthropicClient struct {
	apiKey   string
	baseURL  string
	client   *http.Client
	streamer *http.Client
}

// NewAnthropic returns a client for the Anthropic API.
func NewAnthropic(apiKey string) Client {
	return &anthropicClient{
		apiKey:   apiKey,
		baseURL:  anthropicBaseURL,
		client:   newHTTPClient(defaultHTTPTimeout),
		streamer: &http.Client{},
	}
}

func (p *anthropicClient) Name() string { return "anthropic" }

func (p *anthropicClient) Capabilities() Capability {
	return CapText | CapStreaming | CapVision | CapReasoning
}

type antContentBlock struct {
	Type     string     `json:"type"`
	Text     string     `json:"text,omitempty"`
	Thinking string     `json:"thinking,omitempty"`
	Source   *antSource `json:"source,omitempty"`
}

type antSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type antMessage struct {
	Role    string            `json:"role"`
	Content []antContentBlock `json:"content"`
}

type antRequest struct {
	Model       string       `json:"model"`
	MaxTokens   int          `json:"max_tokens"`
	System      string       `json:"system,omitempty"`
	Messages    []antMessage `json:"messages"`
	Temperature float32      `json:"temperature,omitempty"`
	Stream      bool         `json:"stream,omitempty"`
}

type antResponse struct {
	Content    []antContentBlock `json:"content"`
	StopReason string            `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *anthropicClient) buildBody(req Request, stream bool) ([]byte, error) {
	out := antRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = anthropicDefaultMaxTokens
	}
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			if out.System != "" {
				out.System += "\n\n"
			}
			out.System += m.Text()
			continue
		}
		blocks := make([]antContentBlock, 0, len(m.Parts))
		for _, pt := range m.Parts {
			if len(pt.Data) > 0 {
				blocks = append(blocks, antContentBlock{
					Type: "image",
					Source: &antSource{
						Type:      "base64",
						MediaType: pt.MIME,
						Data:      base64.StdEncoding.EncodeToString(pt.Data),
					},
				})
			} else if pt.Text != "" {
				blocks = append(blocks, antContentBlock{Type: "text", Text: pt.Text})
			}
		}
		out.Messages = append(out.Messages, antMessage{Role: string(m.Role), Content: blocks})
	}
	return json.Marshal(out)
}

func (p *anthropicClient) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	return httpReq, nil
}

func (p *anthropicClient) apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	var parsed antResponse
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != nil {
		msg = parsed.Error.Message
	}
	return &Error{Provider: p.Name(), Kind: statusKind(resp.StatusCode), Status: resp.StatusCode, Message: msg}
}

func (p *anthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := checkCapabilities(p, req); err != nil {
		return nil, err
	}
	body, err := p.buildBody(req, false)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	httpReq, err := p.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, wrapTransportError(p.Name(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, p.apiError(resp)
	}

	var out antResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &Error{Provider: p.Name(), Kind: KindInvalid, Message: "malformed response: " + err.Error()}
	}
	res := &Response{
		FinishReason: out.StopReason,
		Usage: Usage{
			PromptTokens:     out.Usage.InputTokens,
			CompletionTokens: out.Usage.OutputTokens,
			TotalTokens:      out.Usage.InputTokens + out.Usage.OutputTokens,
		},
	}
	for _, block := range out.Content {
		switch block.Type {
		case "text":
			res.Content += block.Text
		case "thinking":
			res.Reasoning += block.Thinking
		}
	}
	return res, nil
}

func (p *anthropicClient) Stream(ctx context.Context, req Request) (*Stream, error) {
	if err := checkCapabilities(p, req); err != nil {
		return nil, err
	}
	body, err := p.buildBody(req, true)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	httpReq, err := p.newRequest(streamCtx, body)
	if err != nil {
		cancel()
		return nil, err
	}
	resp, err := p.streamer.Do(httpReq)
	if err != nil {
		cancel()
		return nil, wrapTransportError(p.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		defer cancel()
		defer resp.Body.Close()
		return nil, p.apiError(resp)
	}

	s := newStream(cancel)
	go p.readSSE(streamCtx, s, resp.Body)
	return s, nil
}

// readSSE consumes Anthropic stream events. Only content_block_delta frames
// carry payload; message_stop terminates, error frames surface as typed errors.
func (p *anthropicClient) readSSE(ctx context.Context, s *Stream, body io.ReadCloser) {
	defer body.Close()

	type event struct {
		Type  string `json:"type"`
		Delta struct {
			Type     string `json:"type"`
			Text     string `json:"text"`
			Thinking string `json:"thinking"`
		} `json:"delta"`
		Error *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "content_block_delta":
			var c Chunk
			switch ev.Delta.Type {
			case "text_delta":
				c.Text = ev.Delta.Text
			case "thinking_delta":
				c.Reasoning = ev.Delta.Thinking
			default:
				continue
			}
			if !s.emit(ctx, c) {
				s.finish(ctx.Err())
				return
			}
		case "message_stop":
			s.finish(nil)
			return
		case "error":
			msg := "stream error"
			if ev.Error != nil {
				msg = ev.Error.Message
			}
			s.finish(&Error{Provider: p.Name(), Kind: KindUnavailable, Message: msg})
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.finish(wrapTransportError(p.Name(), err))
		return
	}
	s.finish(nil)
}
