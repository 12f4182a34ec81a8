// Package orchestrator coordinates a chat turn end to end: persist the user
// message, assemble context, dispatch to the session's provider, persist the
// reply, then run post-turn enrichment (memory extraction, follow-up
// suggestions, first-turn titling) off the request path.
//
// Turns within one session serialize on an in-process lock; turns across
// sessions run concurrently. Enrichment failures are logged and never fail
// the turn that triggered them.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/prism-chat/prism/internal/assembler"
	"github.com/prism-chat/prism/internal/log"
	"github.com/prism-chat/prism/internal/memory"
	"github.com/prism-chat/prism/internal/provider"
	"github.com/prism-chat/prism/internal/store"
	"github.com/prism-chat/prism/internal/suggest"
)

// turnState labels a turn's progress for logging.
type turnState string

const (
	stateReceived       turnState = "received"
	stateContextBuilt   turnState = "context_built"
	stateDispatched     turnState = "dispatched"
	statePersisted      turnState = "persisted"
	statePostProcessing turnState = "post_processing"
	stateDone           turnState = "done"
	stateErrored        turnState = "errored"
)

// ErrNoFailedTurn is returned by RetryTurn when the session's newest message
// is not an unanswered user message.
var ErrNoFailedTurn = errors.New("no failed turn to retry")

// ErrEmptyMessage is returned when a turn carries no content.
var ErrEmptyMessage = errors.New("message content must not be empty")

// Store is the persistence surface the orchestrator needs.
type Store interface {
	GetSession(ctx context.Context, id uuid.UUID) (*store.Session, error)
	AppendMessages(ctx context.Context, sessionID uuid.UUID, msgs ...store.NewMessage) ([]*store.Message, error)
	LastMessage(ctx context.Context, sessionID uuid.UUID) (*store.Message, error)
	CountMessages(ctx context.Context, sessionID uuid.UUID) (int, error)
	AddAttachment(ctx context.Context, messageID uuid.UUID, fileName, contentType string, size int64, hash string) (*store.Attachment, error)
	MessageAttachments(ctx context.Context, messageID uuid.UUID) ([]*store.Attachment, error)
	UpsertMemory(ctx context.Context, userID uuid.UUID, key, value string, confidence float64) (*store.Memory, error)
	ReplaceSuggestions(ctx context.Context, sessionID uuid.UUID, batch []store.NewSuggestion) ([]*store.Suggestion, error)
	UpdateSessionTitle(ctx context.Context, id uuid.UUID, title string) error
}

// Assembler builds the provider prompt for a session's next turn.
type Assembler interface {
	Assemble(ctx context.Context, userID, sessionID uuid.UUID, budget int) ([]provider.Message, error)
}

// PayloadStore reads spooled attachment payloads back when a retried turn has
// to rebuild its prompt parts from persisted metadata.
type PayloadStore interface {
	Open(hash string) (io.ReadCloser, error)
	ExtractText(ctx context.Context, hash, contentType string) (string, bool, error)
}

// Config carries generation parameters applied to every turn.
type Config struct {
	Temperature     float32
	MaxTokens       int
	SuggestionCount int
	// ContextBudget resolves the token budget for a model. Required.
	ContextBudget func(model string) int
	// Payloads resolves attachment payloads on retried turns. Optional;
	// without it, retries of turns that carried attachments fail.
	Payloads PayloadStore
}

// Orchestrator runs chat turns. Safe for concurrent use.
type Orchestrator struct {
	store     Store
	assembler Assembler
	registry  *provider.Registry
	retrier   *provider.Retrier
	cfg       Config
	logger    log.Logger

	locks *sessionLocks

	// post-turn enrichment, replaceable in tests
	extractFacts func(ctx context.Context, client provider.Client, model, user, assistant string) ([]memory.Fact, error)
	suggestNext  func(ctx context.Context, client provider.Client, model, user, assistant string) ([]suggest.Suggestion, error)

	wg      sync.WaitGroup
	closed  chan struct{}
	closeMu sync.Mutex
}

// New creates an orchestrator.
func New(st Store, asm Assembler, registry *provider.Registry, retrier *provider.Retrier, cfg Config, logger log.Logger) *Orchestrator {
	o := &Orchestrator{
		store:     st,
		assembler: asm,
		registry:  registry,
		retrier:   retrier,
		cfg:       cfg,
		logger:    logger,
		locks:     newSessionLocks(),
		closed:    make(chan struct{}),
	}
	o.extractFacts = func(ctx context.Context, client provider.Client, model, user, assistant string) ([]memory.Fact, error) {
		return memory.NewExtractor(client, model, logger).Extract(ctx, user, assistant)
	}
	o.suggestNext = func(ctx context.Context, client provider.Client, model, user, assistant string) ([]suggest.Suggestion, error) {
		return suggest.NewGenerator(client, model, cfg.SuggestionCount, logger).Generate(ctx, user, assistant)
	}
	return o
}

// Close waits for in-flight post-turn enrichment to finish. New turns started
// after Close behave normally but skip enrichment.
func (o *Orchestrator) Close() {
	o.closeMu.Lock()
	select {
	case <-o.closed:
	default:
		close(o.closed)
	}
	o.closeMu.Unlock()
	o.wg.Wait()
}

// TurnRequest describes one user turn.
type TurnRequest struct {
	SessionID uuid.UUID
	Content   string
	// Attachments are extra prompt parts (extracted document text, inline
	// images) appended to the user message sent to the provider. Only
	// Content is persisted as the message body.
	Attachments []provider.Part
	// Files is attachment metadata recorded against the persisted user
	// message. Payloads live in the spool, keyed by Hash.
	Files []FileMeta
	// Stream selects incremental delivery when the provider supports it.
	Stream bool
}

// FileMeta identifies one spooled attachment on a turn.
type FileMeta struct {
	Name        string
	ContentType string
	Size        int64
	Hash        string
}

// Send runs one turn. Validation failures return synchronously; afterwards
// progress arrives on the returned channel, ending with exactly one EventFinal
// or EventError. The user message is persisted before dispatch, so a provider
// failure leaves the user message in history and nothing else.
func (o *Orchestrator) Send(ctx context.Context, req TurnRequest) (<-chan Event, error) {
	if req.Content == "" {
		return nil, ErrEmptyMessage
	}
	sess, err := o.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	client, err := o.registry.Client(sess.ModelProvider)
	if err != nil {
		return nil, err
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		release := o.locks.acquire(sess.ID)
		defer release()

		o.logger.Debug("turn started", "session_id", sess.ID, "state", stateReceived)

		firstTurn, err := o.isFirstTurn(ctx, sess.ID)
		if err != nil {
			o.fail(ctx, events, sess.ID, err)
			return
		}

		userMsgs, err := o.store.AppendMessages(ctx, sess.ID, store.NewMessage{
			Role:    store.RoleUser,
			Content: req.Content,
		})
		if err != nil {
			o.fail(ctx, events, sess.ID, fmt.Errorf("persisting user message: %w", err))
			return
		}
		for _, f := range req.Files {
			if _, err := o.store.AddAttachment(ctx, userMsgs[0].ID, f.Name, f.ContentType, f.Size, f.Hash); err != nil {
				o.fail(ctx, events, sess.ID, fmt.Errorf("recording attachment: %w", err))
				return
			}
		}

		o.runTurn(ctx, sess, client, userMsgs[0], req, firstTurn, events)
	}()
	return events, nil
}

// RetryTurn re-dispatches the session's last unanswered user message without
// persisting a duplicate. It fails with ErrNoFailedTurn when the newest
// message already has a reply.
func (o *Orchestrator) RetryTurn(ctx context.Context, sessionID uuid.UUID, stream bool) (<-chan Event, error) {
	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	client, err := o.registry.Client(sess.ModelProvider)
	if err != nil {
		return nil, err
	}
	last, err := o.store.LastMessage(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrMessageNotFound) {
			return nil, ErrNoFailedTurn
		}
		return nil, err
	}
	if last.Role != store.RoleUser {
		return nil, ErrNoFailedTurn
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		release := o.locks.acquire(sess.ID)
		defer release()

		parts, err := o.retryParts(ctx, last.ID)
		if err != nil {
			o.fail(ctx, events, sess.ID, err)
			return
		}

		firstTurn := last.SequenceNumber == 1
		req := TurnRequest{SessionID: sessionID, Content: last.Content, Attachments: parts, Stream: stream}
		o.runTurn(ctx, sess, client, last, req, firstTurn, events)
	}()
	return events, nil
}

// retryParts rebuilds the prompt parts for a retried user message from its
// persisted attachment metadata, reading payloads back out of the spool.
func (o *Orchestrator) retryParts(ctx context.Context, messageID uuid.UUID) ([]provider.Part, error) {
	atts, err := o.store.MessageAttachments(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("loading attachments: %w", err)
	}
	if len(atts) == 0 {
		return nil, nil
	}
	if o.cfg.Payloads == nil {
		return nil, errors.New("attachment payloads unavailable")
	}

	parts := make([]provider.Part, 0, len(atts))
	for _, att := range atts {
		if strings.HasPrefix(att.ContentType, "image/") {
			rc, err := o.cfg.Payloads.Open(att.ContentHash)
			if err != nil {
				return nil, fmt.Errorf("opening attachment %s: %w", att.ContentHash, err)
			}
			data, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return nil, fmt.Errorf("reading attachment %s: %w", att.ContentHash, err)
			}
			parts = append(parts, provider.Part{Data: data, MIME: att.ContentType})
			continue
		}
		text, extracted, err := o.cfg.Payloads.ExtractText(ctx, att.ContentHash, att.ContentType)
		if err != nil {
			return nil, fmt.Errorf("extracting attachment %s: %w", att.ContentHash, err)
		}
		if !extracted {
			continue
		}
		parts = append(parts, provider.Part{
			Text: fmt.Sprintf("Attached file %q:\n%s", att.FileName, text),
		})
	}
	return parts, nil
}

// isFirstTurn reports whether the session has no messages yet.
func (o *Orchestrator) isFirstTurn(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	n, err := o.store.CountMessages(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("counting messages: %w", err)
	}
	return n == 0, nil
}

// runTurn executes the dispatch, persist, and enrichment phases. The user
// message is already persisted when this runs.
func (o *Orchestrator) runTurn(ctx context.Context, sess *store.Session, client provider.Client, userMsg *store.Message, req TurnRequest, firstTurn bool, events chan<- Event) {
	prompt, err := o.assembler.Assemble(ctx, sess.UserID, sess.ID, o.cfg.ContextBudget(sess.ModelName))
	if err != nil {
		o.fail(ctx, events, sess.ID, err)
		return
	}
	if len(req.Attachments) > 0 {
		prompt = appendParts(prompt, req.Attachments)
	}
	o.logger.Debug("turn progressed", "session_id", sess.ID, "state", stateContextBuilt, "prompt_messages", len(prompt))

	preq := provider.Request{
		Model:       sess.ModelName,
		Messages:    prompt,
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
	}

	var resp *provider.Response
	if req.Stream && client.Capabilities().Has(provider.CapStreaming) {
		resp, err = o.streamTurn(ctx, client, preq, events)
	} else {
		resp, err = o.retrier.Complete(ctx, client, preq)
	}
	if err != nil {
		o.fail(ctx, events, sess.ID, err)
		return
	}
	o.logger.Debug("turn progressed", "session_id", sess.ID, "state", stateDispatched)

	saved, err := o.store.AppendMessages(ctx, sess.ID, store.NewMessage{
		Role:          store.RoleAssistant,
		Content:       resp.Content,
		Reasoning:     resp.Reasoning,
		ModelProvider: sess.ModelProvider,
		ModelName:     sess.ModelName,
		TokensUsed:    resp.Usage.TotalTokens,
	})
	if err != nil {
		o.fail(ctx, events, sess.ID, fmt.Errorf("persisting assistant message: %w", err))
		return
	}
	o.logger.Debug("turn progressed", "session_id", sess.ID, "state", statePersisted)

	o.spawnPostProcessing(sess, client, userMsg.Content, resp.Content, firstTurn)

	send(ctx, events, Event{Kind: EventFinal, Message: saved[0]})
	o.logger.Debug("turn finished", "session_id", sess.ID, "state", stateDone)
}

// streamTurn relays provider chunks onto the event channel and returns the
// accumulated response. A cancelled stream returns the cancellation error;
// the partial reply is never persisted.
func (o *Orchestrator) streamTurn(ctx context.Context, client provider.Client, preq provider.Request, events chan<- Event) (*provider.Response, error) {
	s, err := o.retrier.Stream(ctx, client, preq)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	var content, reasoning string
	for chunk := range s.Chunks() {
		content += chunk.Text
		reasoning += chunk.Reasoning
		if !send(ctx, events, Event{Kind: EventChunk, Text: chunk.Text, Reasoning: chunk.Reasoning}) {
			return nil, ctx.Err()
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &provider.Response{Content: content, Reasoning: reasoning}, nil
}

// spawnPostProcessing runs enrichment on a background context so the work
// survives the request ending. Skipped entirely once Close has been called.
func (o *Orchestrator) spawnPostProcessing(sess *store.Session, client provider.Client, userInput, assistantResponse string, firstTurn bool) {
	select {
	case <-o.closed:
		return
	default:
	}

	o.logger.Debug("turn progressed", "session_id", sess.ID, "state", statePostProcessing)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx := context.Background()

		if facts, err := o.extractFacts(ctx, client, sess.ModelName, userInput, assistantResponse); err != nil {
			o.logger.Warn("memory extraction failed", "session_id", sess.ID, "error", err)
		} else {
			for _, f := range facts {
				if _, err := o.store.UpsertMemory(ctx, sess.UserID, f.Key, f.Value, f.Confidence); err != nil {
					o.logger.Warn("memory upsert failed", "key", f.Key, "error", err)
				}
			}
		}

		if suggestions, err := o.suggestNext(ctx, client, sess.ModelName, userInput, assistantResponse); err != nil {
			o.logger.Warn("suggestion generation failed", "session_id", sess.ID, "error", err)
		} else if len(suggestions) > 0 {
			batch := make([]store.NewSuggestion, 0, len(suggestions))
			for _, s := range suggestions {
				batch = append(batch, store.NewSuggestion{Question: s.Question, Relevance: s.Relevance})
			}
			if _, err := o.store.ReplaceSuggestions(ctx, sess.ID, batch); err != nil {
				o.logger.Warn("storing suggestions failed", "session_id", sess.ID, "error", err)
			}
		}

		if firstTurn {
			if title := o.generateTitle(ctx, client, sess.ModelName, userInput); title != "" {
				if err := o.store.UpdateSessionTitle(ctx, sess.ID, title); err != nil {
					o.logger.Warn("session title update failed", "session_id", sess.ID, "error", err)
				}
			}
		}
	}()
}

// fail emits the terminal error event.
func (o *Orchestrator) fail(ctx context.Context, events chan<- Event, sessionID uuid.UUID, err error) {
	o.logger.Debug("turn finished", "session_id", sessionID, "state", stateErrored, "error", err)
	send(ctx, events, Event{Kind: EventError, Err: err})
}

// send delivers ev unless ctx is cancelled first. Sends never block on an
// abandoned channel, so a disconnected reader cannot pin the session lock.
func send(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// appendParts attaches extra parts to the newest user message in the prompt.
func appendParts(prompt []provider.Message, parts []provider.Part) []provider.Message {
	for i := len(prompt) - 1; i >= 0; i-- {
		if prompt[i].Role == provider.RoleUser {
			prompt[i].Parts = append(prompt[i].Parts, parts...)
			break
		}
	}
	return prompt
}

var _ Assembler = (*assembler.Assembler)(nil)
