package provider

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// geminiClient speaks the Gemini API through the official SDK. Roles map
// user→user and assistant→model; system messages become a SystemInstruction.
type geminiClient struct {
	client *genai.Client
}

// NewGemini returns a client for the Gemini API. The context bounds SDK
// client construction only, not later requests.
func NewGemini(ctx context.Context, apiKey string) (Client, error) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &geminiClient{client: c}, nil
}

func (p *geminiClient) Name() string { return "gemini" }

func (p *geminiClient) Capabilities() Capability {
	return CapText | CapStreaming | CapVision
}

// buildContents converts the request into SDK contents plus generation config.
func (p *geminiClient) buildContents(req Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	cfg := &genai.GenerateContentConfig{}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(req.Temperature)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	var contents []*genai.Content
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			if cfg.SystemInstruction == nil {
				cfg.SystemInstruction = &genai.Content{}
			}
			cfg.SystemInstruction.Parts = append(cfg.SystemInstruction.Parts,
				genai.NewPartFromText(m.Text()))
			continue
		}
		role := genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		parts := make([]*genai.Part, 0, len(m.Parts))
		for _, pt := range m.Parts {
			if len(pt.Data) > 0 {
				parts = append(parts, genai.NewPartFromBytes(pt.Data, pt.MIME))
			} else if pt.Text != "" {
				parts = append(parts, genai.NewPartFromText(pt.Text))
			}
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents, cfg
}

// wrapError maps SDK failures into the shared taxonomy.
func (p *geminiClient) wrapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &Error{
			Provider: p.Name(),
			Kind:     statusKind(apiErr.Code),
			Status:   apiErr.Code,
			Message:  apiErr.Message,
		}
	}
	return wrapTransportError(p.Name(), err)
}

func (p *geminiClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := checkCapabilities(p, req); err != nil {
		return nil, err
	}
	contents, cfg := p.buildContents(req)
	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, p.wrapError(err)
	}

	out := &Response{Content: resp.Text()}
	if len(resp.Candidates) > 0 {
		out.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

func (p *geminiClient) Stream(ctx context.Context, req Request) (*Stream, error) {
	if err := checkCapabilities(p, req); err != nil {
		return nil, err
	}
	contents, cfg := p.buildContents(req)

	streamCtx, cancel := context.WithCancel(ctx)
	s := newStream(cancel)
	go func() {
		for resp, err := range p.client.Models.GenerateContentStream(streamCtx, req.Model, contents, cfg) {
			if err != nil {
				s.finish(p.wrapError(err))
				return
			}
			if text := resp.Text(); text != "" {
				if !s.emit(streamCtx, Chunk{Text: text}) {
					s.finish(streamCtx.Err())
					return
				}
			}
		}
		s.finish(nil)
	}()
	return s, nil
}
