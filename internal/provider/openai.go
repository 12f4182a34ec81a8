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

// openAICompat speaks the OpenAI chat-completions wire format, shared by the
// openai, openrouter, and ollama variants. Only the base URL, auth header,
// and capability set differ per variant.
type openAICompat struct {
	name     string
	baseURL  string
	apiKey   string
	caps     Capability
	headers  map[string]string
	client   *http.Client // non-streaming calls, overall timeout
	streamer *http.Client // streaming calls, bounded by ctx only
}

// NewOpenAI returns a client for the OpenAI API.
func NewOpenAI(apiKey string) Client {
	return &openAICompat{
		name:     "openai",
		baseURL:  "https://api.openai.com/v1",
		apiKey:   apiKey,
		caps:     CapText | CapStreaming | CapVision,
		client:   newHTTPClient(defaultHTTPTimeout),
		streamer: &http.Client{},
	}
}

// NewOpenRouter returns a client for the OpenRouter aggregator. OpenRouter
// relays reasoning traces for models that expose them.
func NewOpenRouter(apiKey string) Client {
	return &openAICompat{
		name:    "openrouter",
		baseURL: "https://openrouter.ai/api/v1",
		apiKey:  apiKey,
		caps:    CapText | CapStreaming | CapVision | CapReasoning,
		headers: map[string]string{
			"HTTP-Referer": "https://github.com/prism-chat/prism",
			"X-Title":      "prism",
		},
		client:   newHTTPClient(defaultHTTPTimeout),
		streamer: &http.Client{},
	}
}

// NewOllama returns a client for a local Ollama server via its
// OpenAI-compatible endpoint. No credentials required.
func NewOllama(host string) Client {
	return &openAICompat{
		name:     "ollama",
		baseURL:  strings.TrimRight(host, "/") + "/v1",
		caps:     CapText | CapStreaming | CapVision,
		client:   newHTTPClient(defaultHTTPTimeout),
		streamer: &http.Client{},
	}
}

func (p *openAICompat) Name() string             { return p.name }
func (p *openAICompat) Capabilities() Capability { return p.caps }

// oaMessage is the wire shape of a chat message. Content is a plain string
// for text-only messages and a part array when inline images are present.
type oaMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type oaContentPart struct {
	Type     string      `json:"type"`
	Text     string      `json:"text,omitempty"`
	ImageURL *oaImageURL `json:"image_url,omitempty"`
}

type oaImageURL struct {
	URL string `json:"url"`
}

type oaRequest struct {
	Model       string      `json:"model"`
	Messages    []oaMessage `json:"messages"`
	Temperature float32     `json:"temperature,omitempty"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
	Stream      bool        `json:"stream,omitempty"`
}

type oaResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			Reasoning string `json:"reasoning"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *openAICompat) buildBody(req Request, stream bool) ([]byte, error) {
	msgs := make([]oaMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if !messageHasData(m) {
			msgs = append(msgs, oaMessage{Role: string(m.Role), Content: m.Text()})
			continue
		}
		parts := make([]oaContentPart, 0, len(m.Parts))
		for _, pt := range m.Parts {
			if len(pt.Data) > 0 {
				uri := fmt.Sprintf("data:%s;base64,%s", pt.MIME, base64.StdEncoding.EncodeToString(pt.Data))
				parts = append(parts, oaContentPart{Type: "image_url", ImageURL: &oaImageURL{URL: uri}})
			} else if pt.Text != "" {
				parts = append(parts, oaContentPart{Type: "text", Text: pt.Text})
			}
		}
		msgs = append(msgs, oaMessage{Role: string(m.Role), Content: parts})
	}
	return json.Marshal(oaRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	})
}

func messageHasData(m Message) bool {
	for _, p := range m.Parts {
		if len(p.Data) > 0 {
			return true
		}
	}
	return false
}

func (p *openAICompat) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// apiError reads a failed response body and maps it to a typed Error.
func (p *openAICompat) apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	var parsed oaResponse
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != nil {
		msg = parsed.Error.Message
	}
	return &Error{Provider: p.name, Kind: statusKind(resp.StatusCode), Status: resp.StatusCode, Message: msg}
}

func (p *openAICompat) Complete(ctx context.Context, req Request) (*Response, error) {
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
		return nil, wrapTransportError(p.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, p.apiError(resp)
	}

	var out oaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &Error{Provider: p.name, Kind: KindInvalid, Message: "malformed response: " + err.Error()}
	}
	if len(out.Choices) == 0 {
		return nil, &Error{Provider: p.name, Kind: KindInvalid, Message: "response contains no choices"}
	}
	choice := out.Choices[0]
	return &Response{
		Content:      choice.Message.Content,
		Reasoning:    choice.Message.Reasoning,
		FinishReason: choice.FinishReason,
		Usage: Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		},
	}, nil
}

func (p *openAICompat) Stream(ctx context.Context, req Request) (*Stream, error) {
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
		return nil, wrapTransportError(p.name, err)
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

// readSSE consumes the server-sent event stream until [DONE] or failure.
func (p *openAICompat) readSSE(ctx context.Context, s *Stream, body io.ReadCloser) {
	defer body.Close()

	type delta struct {
		Choices []struct {
			Delta struct {
				Content   string `json:"content"`
				Reasoning string `json:"reasoning"`
			} `json:"delta"`
		} `json:"choices"`
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			s.finish(nil)
			return
		}
		var d delta
		if err := json.Unmarshal([]byte(payload), &d); err != nil {
			continue // tolerate non-delta control frames
		}
		if len(d.Choices) == 0 {
			continue
		}
		c := Chunk{Text: d.Choices[0].Delta.Content, Reasoning: d.Choices[0].Delta.Reasoning}
		if c == (Chunk{}) {
			continue
		}
		if !s.emit(ctx, c) {
			s.finish(ctx.Err())
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.finish(wrapTransportError(p.name, err))
		return
	}
	// Stream ended without [DONE]; treat a clean EOF as completion. Ollama
	// omits the terminator on some versions.
	s.finish(nil)
}
