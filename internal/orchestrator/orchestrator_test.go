package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/prism-chat/prism/internal/log"
	"github.com/prism-chat/prism/internal/memory"
	"github.com/prism-chat/prism/internal/provider"
	"github.com/prism-chat/prism/internal/store"
	"github.com/prism-chat/prism/internal/suggest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeStore is an in-memory Store.
type fakeStore struct {
	mu          sync.Mutex
	sessions    map[uuid.UUID]*store.Session
	messages    map[uuid.UUID][]*store.Message
	memories    map[string]*store.Memory // userID/key
	suggestions map[uuid.UUID][]*store.Suggestion
	attachments []*store.Attachment
	appendErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:    make(map[uuid.UUID]*store.Session),
		messages:    make(map[uuid.UUID][]*store.Message),
		memories:    make(map[string]*store.Memory),
		suggestions: make(map[uuid.UUID][]*store.Suggestion),
	}
}

func (f *fakeStore) addSession(provider, model string) *store.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &store.Session{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		Title:         "New Chat",
		ModelProvider: provider,
		ModelName:     model,
	}
	f.sessions[s.ID] = s
	return s
}

func (f *fakeStore) GetSession(ctx context.Context, id uuid.UUID) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeStore) AppendMessages(ctx context.Context, sessionID uuid.UUID, msgs ...store.NewMessage) ([]*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	if _, ok := f.sessions[sessionID]; !ok {
		return nil, store.ErrSessionNotFound
	}
	var out []*store.Message
	for _, nm := range msgs {
		m := &store.Message{
			ID:             uuid.New(),
			SessionID:      sessionID,
			Role:           nm.Role,
			Content:        nm.Content,
			Reasoning:      nm.Reasoning,
			TokensUsed:     nm.TokensUsed,
			SequenceNumber: len(f.messages[sessionID]) + 1,
			CreatedAt:      time.Now(),
		}
		f.messages[sessionID] = append(f.messages[sessionID], m)
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeStore) GetMessages(ctx context.Context, sessionID uuid.UUID) ([]*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*store.Message(nil), f.messages[sessionID]...), nil
}

func (f *fakeStore) LastMessage(ctx context.Context, sessionID uuid.UUID) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[sessionID]
	if len(msgs) == 0 {
		return nil, store.ErrMessageNotFound
	}
	return msgs[len(msgs)-1], nil
}

func (f *fakeStore) CountMessages(ctx context.Context, sessionID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages[sessionID]), nil
}

func (f *fakeStore) AddAttachment(ctx context.Context, messageID uuid.UUID, fileName, contentType string, size int64, hash string) (*store.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	att := &store.Attachment{
		ID:          uuid.New(),
		MessageID:   messageID,
		FileName:    fileName,
		ContentType: contentType,
		SizeBytes:   size,
		ContentHash: hash,
	}
	f.attachments = append(f.attachments, att)
	return att, nil
}

func (f *fakeStore) MessageAttachments(ctx context.Context, messageID uuid.UUID) ([]*store.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Attachment
	for _, att := range f.attachments {
		if att.MessageID == messageID {
			out = append(out, att)
		}
	}
	return out, nil
}

func (f *fakeStore) TopMemories(ctx context.Context, userID uuid.UUID, n int) ([]*store.Memory, error) {
	return nil, nil
}

func (f *fakeStore) UpsertMemory(ctx context.Context, userID uuid.UUID, key, value string, confidence float64) (*store.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := &store.Memory{ID: uuid.New(), UserID: userID, Key: key, Value: value, Confidence: confidence}
	f.memories[userID.String()+"/"+key] = m
	return m, nil
}

func (f *fakeStore) ReplaceSuggestions(ctx context.Context, sessionID uuid.UUID, batch []store.NewSuggestion) ([]*store.Suggestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Suggestion
	for _, ns := range batch {
		out = append(out, &store.Suggestion{
			ID: uuid.New(), SessionID: sessionID, Question: ns.Question, Relevance: ns.Relevance,
		})
	}
	f.suggestions[sessionID] = out
	return out, nil
}

func (f *fakeStore) UpdateSessionTitle(ctx context.Context, id uuid.UUID, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return store.ErrSessionNotFound
	}
	s.Title = title
	return nil
}

// fakeProvider is a scriptable provider client.
type fakeProvider struct {
	name      string
	caps      provider.Capability
	reply     string
	err       error
	streamGap time.Duration // pause between streamed chunks

	mu      sync.Mutex
	lastReq provider.Request
}

func (f *fakeProvider) Name() string                      { return f.name }
func (f *fakeProvider) Capabilities() provider.Capability { return f.caps }

func (f *fakeProvider) request() provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

func (f *fakeProvider) Complete(ctx context.Context, req provider.Request) (*provider.Response, error) {
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &provider.Response{Content: f.reply, Usage: provider.Usage{TotalTokens: 10}}, nil
}

func (f *fakeProvider) Stream(ctx context.Context, req provider.Request) (*provider.Stream, error) {
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return provider.NewScriptedStream(ctx, f.reply, f.streamGap), nil
}

// fakePayloads serves spooled attachment bytes from memory.
type fakePayloads struct {
	objects map[string][]byte
	texts   map[string]string
}

func (p *fakePayloads) Open(hash string) (io.ReadCloser, error) {
	b, ok := p.objects[hash]
	if !ok {
		return nil, errors.New("object not spooled")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (p *fakePayloads) ExtractText(ctx context.Context, hash, contentType string) (string, bool, error) {
	text, ok := p.texts[hash]
	return text, ok, nil
}

// fixture wires an orchestrator around fakes. Enrichment is a no-op unless a
// test overrides the hooks.
func fixture(t *testing.T, client provider.Client) (*Orchestrator, *fakeStore) {
	t.Helper()
	fs := newFakeStore()
	o := New(fs, &passthroughAssembler{store: fs},
		provider.NewRegistryFromClients(client),
		provider.NewRetrier(provider.RetryConfig{
			MaxRetries:      1,
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
		}, log.NewNop()),
		Config{
			Temperature:     0.7,
			MaxTokens:       1024,
			SuggestionCount: 3,
			ContextBudget:   func(string) int { return 8000 },
		},
		log.NewNop(),
	)
	o.extractFacts = func(context.Context, provider.Client, string, string, string) ([]memory.Fact, error) {
		return nil, nil
	}
	o.suggestNext = func(context.Context, provider.Client, string, string, string) ([]suggest.Suggestion, error) {
		return nil, nil
	}
	t.Cleanup(o.Close)
	return o, fs
}

// passthroughAssembler replays stored history as the prompt.
type passthroughAssembler struct{ store *fakeStore }

func (p *passthroughAssembler) Assemble(ctx context.Context, userID, sessionID uuid.UUID, budget int) ([]provider.Message, error) {
	history, err := p.store.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var msgs []provider.Message
	for _, m := range history {
		msgs = append(msgs, provider.TextMessage(provider.Role(m.Role), m.Content))
	}
	return msgs, nil
}

// drain collects all events until the channel closes.
func drain(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("event channel never closed")
		}
	}
}

func terminal(t *testing.T, events []Event) Event {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events emitted")
	}
	last := events[len(events)-1]
	if last.Kind != EventFinal && last.Kind != EventError {
		t.Fatalf("last event is %q, want terminal", last.Kind)
	}
	for _, ev := range events[:len(events)-1] {
		if ev.Kind == EventFinal || ev.Kind == EventError {
			t.Fatal("terminal event emitted before end of stream")
		}
	}
	return last
}

func TestSendPersistsBothMessages(t *testing.T) {
	client := &fakeProvider{name: "ollama", caps: provider.CapText | provider.CapStreaming, reply: "hello!"}
	o, fs := fixture(t, client)
	sess := fs.addSession("ollama", "llama3")

	events, err := o.Send(context.Background(), TurnRequest{SessionID: sess.ID, Content: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	last := terminal(t, drain(t, events))
	if last.Kind != EventFinal {
		t.Fatalf("turn failed: %v", last.Err)
	}
	if last.Message.Content != "hello!" {
		t.Errorf("final message = %q", last.Message.Content)
	}

	msgs, _ := fs.GetMessages(context.Background(), sess.ID)
	if len(msgs) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != store.RoleUser || msgs[1].Role != store.RoleAssistant {
		t.Errorf("roles = %s, %s", msgs[0].Role, msgs[1].Role)
	}
	if msgs[1].TokensUsed != 10 {
		t.Errorf("tokens = %d", msgs[1].TokensUsed)
	}
}

func TestSendStreamEmitsChunks(t *testing.T) {
	client := &fakeProvider{name: "ollama", caps: provider.CapText | provider.CapStreaming, reply: "abc"}
	o, fs := fixture(t, client)
	sess := fs.addSession("ollama", "llama3")

	events, err := o.Send(context.Background(), TurnRequest{SessionID: sess.ID, Content: "hi", Stream: true})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	all := drain(t, events)
	last := terminal(t, all)
	if last.Kind != EventFinal {
		t.Fatalf("turn failed: %v", last.Err)
	}

	var streamed string
	for _, ev := range all {
		if ev.Kind == EventChunk {
			streamed += ev.Text
		}
	}
	if streamed != "abc" {
		t.Errorf("streamed %q, want %q", streamed, "abc")
	}
	if last.Message.Content != "abc" {
		t.Errorf("persisted %q", last.Message.Content)
	}
}

func TestProviderFailureLeavesOnlyUserMessage(t *testing.T) {
	client := &fakeProvider{
		name: "ollama",
		caps: provider.CapText,
		err:  &provider.Error{Provider: "ollama", Kind: provider.KindUnavailable, Message: "down"},
	}
	o, fs := fixture(t, client)
	sess := fs.addSession("ollama", "llama3")

	events, err := o.Send(context.Background(), TurnRequest{SessionID: sess.ID, Content: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	last := terminal(t, drain(t, events))
	if last.Kind != EventError {
		t.Fatal("expected error event")
	}
	if provider.ErrKind(last.Err) != provider.KindUnavailable {
		t.Errorf("error = %v", last.Err)
	}

	msgs, _ := fs.GetMessages(context.Background(), sess.ID)
	if len(msgs) != 1 || msgs[0].Role != store.RoleUser {
		t.Errorf("history after failure = %+v", msgs)
	}
}

func TestCancelMidStreamDropsPartialReply(t *testing.T) {
	client := &fakeProvider{
		name:      "ollama",
		caps:      provider.CapText | provider.CapStreaming,
		reply:     "a long reply that keeps streaming",
		streamGap: 20 * time.Millisecond,
	}
	o, fs := fixture(t, client)
	sess := fs.addSession("ollama", "llama3")

	ctx, cancel := context.WithCancel(context.Background())
	events, err := o.Send(ctx, TurnRequest{SessionID: sess.ID, Content: "hi", Stream: true})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	// Cancel after the first chunk arrives, then drain to the terminal event.
	var last Event
	for ev := range events {
		if ev.Kind == EventChunk {
			cancel()
		}
		last = ev
	}
	cancel()

	if last.Kind != EventError {
		t.Fatalf("last event = %+v, want error", last)
	}
	msgs, _ := fs.GetMessages(context.Background(), sess.ID)
	if len(msgs) != 1 {
		t.Errorf("partial reply persisted: %d messages", len(msgs))
	}
}

func TestEnrichmentFailureDoesNotFailTurn(t *testing.T) {
	client := &fakeProvider{name: "ollama", caps: provider.CapText, reply: "fine"}
	o, fs := fixture(t, client)
	sess := fs.addSession("ollama", "llama3")

	o.extractFacts = func(context.Context, provider.Client, string, string, string) ([]memory.Fact, error) {
		return nil, errors.New("extraction exploded")
	}
	o.suggestNext = func(context.Context, provider.Client, string, string, string) ([]suggest.Suggestion, error) {
		return nil, errors.New("suggestions exploded")
	}

	events, err := o.Send(context.Background(), TurnRequest{SessionID: sess.ID, Content: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	last := terminal(t, drain(t, events))
	if last.Kind != EventFinal {
		t.Fatalf("turn failed because of enrichment: %v", last.Err)
	}
}

func TestEnrichmentStoresFactsAndSuggestions(t *testing.T) {
	client := &fakeProvider{name: "ollama", caps: provider.CapText, reply: "noted"}
	o, fs := fixture(t, client)
	sess := fs.addSession("ollama", "llama3")

	o.extractFacts = func(context.Context, provider.Client, string, string, string) ([]memory.Fact, error) {
		return []memory.Fact{{Key: "favorite_language", Value: "Go", Confidence: 0.9}}, nil
	}
	o.suggestNext = func(context.Context, provider.Client, string, string, string) ([]suggest.Suggestion, error) {
		return []suggest.Suggestion{{Question: "What next?", Relevance: 0.8}}, nil
	}

	events, err := o.Send(context.Background(), TurnRequest{SessionID: sess.ID, Content: "I love Go"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if last := terminal(t, drain(t, events)); last.Kind != EventFinal {
		t.Fatalf("turn failed: %v", last.Err)
	}
	o.Close() // wait for enrichment

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.memories[sess.UserID.String()+"/favorite_language"]; !ok {
		t.Error("fact not stored")
	}
	if len(fs.suggestions[sess.ID]) != 1 {
		t.Error("suggestions not stored")
	}
	if fs.sessions[sess.ID].Title != "noted" {
		t.Errorf("first-turn title = %q, want AI-generated", fs.sessions[sess.ID].Title)
	}
}

func TestTitleOnlyOnFirstTurn(t *testing.T) {
	client := &fakeProvider{name: "ollama", caps: provider.CapText, reply: "Generated Title"}
	o, fs := fixture(t, client)
	sess := fs.addSession("ollama", "llama3")

	send := func(content string) {
		events, err := o.Send(context.Background(), TurnRequest{SessionID: sess.ID, Content: content})
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
		if last := terminal(t, drain(t, events)); last.Kind != EventFinal {
			t.Fatalf("turn failed: %v", last.Err)
		}
	}
	send("first")
	o.Close()
	fs.mu.Lock()
	title := fs.sessions[sess.ID].Title
	fs.mu.Unlock()
	if title != "Generated Title" {
		t.Fatalf("title after first turn = %q", title)
	}

	// Rename, then send again: a later turn must not overwrite the title.
	_ = fs.UpdateSessionTitle(context.Background(), sess.ID, "user renamed")
	o2, _ := fixture(t, client)
	o2.store = fs
	events, err := o2.Send(context.Background(), TurnRequest{SessionID: sess.ID, Content: "second"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if last := terminal(t, drain(t, events)); last.Kind != EventFinal {
		t.Fatalf("turn failed: %v", last.Err)
	}
	o2.Close()

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.sessions[sess.ID].Title != "user renamed" {
		t.Errorf("later turn overwrote title: %q", fs.sessions[sess.ID].Title)
	}
}

func TestTurnsSerializePerSession(t *testing.T) {
	client := &fakeProvider{name: "ollama", caps: provider.CapText, reply: "r"}
	o, fs := fixture(t, client)
	sess := fs.addSession("ollama", "llama3")

	const turns = 5
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			events, err := o.Send(context.Background(), TurnRequest{SessionID: sess.ID, Content: "go"})
			if err != nil {
				t.Errorf("Send: %v", err)
				return
			}
			drain(t, events)
		}()
	}
	wg.Wait()

	msgs, _ := fs.GetMessages(context.Background(), sess.ID)
	if len(msgs) != turns*2 {
		t.Fatalf("persisted %d messages, want %d", len(msgs), turns*2)
	}
	// Serialized turns alternate user/assistant with contiguous sequencing.
	for i, m := range msgs {
		wantRole := store.RoleUser
		if i%2 == 1 {
			wantRole = store.RoleAssistant
		}
		if m.Role != wantRole {
			t.Errorf("position %d: role %s, want %s", i, m.Role, wantRole)
		}
		if m.SequenceNumber != i+1 {
			t.Errorf("position %d: sequence %d", i, m.SequenceNumber)
		}
	}
}

func TestRetryTurn(t *testing.T) {
	client := &fakeProvider{
		name: "ollama",
		caps: provider.CapText,
		err:  &provider.Error{Provider: "ollama", Kind: provider.KindUnavailable, Message: "down"},
	}
	o, fs := fixture(t, client)
	sess := fs.addSession("ollama", "llama3")

	events, err := o.Send(context.Background(), TurnRequest{SessionID: sess.ID, Content: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if last := terminal(t, drain(t, events)); last.Kind != EventError {
		t.Fatal("expected the first attempt to fail")
	}

	// Provider recovers; retry must reuse the stored user message.
	client.err = nil
	client.reply = "recovered"
	events, err = o.RetryTurn(context.Background(), sess.ID, false)
	if err != nil {
		t.Fatalf("RetryTurn: %v", err)
	}
	last := terminal(t, drain(t, events))
	if last.Kind != EventFinal || last.Message.Content != "recovered" {
		t.Fatalf("retry result = %+v", last)
	}

	msgs, _ := fs.GetMessages(context.Background(), sess.ID)
	if len(msgs) != 2 {
		t.Fatalf("retry duplicated messages: %d", len(msgs))
	}

	// A second retry has nothing to redo.
	if _, err := o.RetryTurn(context.Background(), sess.ID, false); !errors.Is(err, ErrNoFailedTurn) {
		t.Errorf("got %v, want ErrNoFailedTurn", err)
	}
}

func TestRetryTurnEmptySession(t *testing.T) {
	client := &fakeProvider{name: "ollama", caps: provider.CapText, reply: "r"}
	o, fs := fixture(t, client)
	sess := fs.addSession("ollama", "llama3")

	if _, err := o.RetryTurn(context.Background(), sess.ID, false); !errors.Is(err, ErrNoFailedTurn) {
		t.Errorf("got %v, want ErrNoFailedTurn", err)
	}
}

func TestRetryTurnResendsAttachments(t *testing.T) {
	client := &fakeProvider{
		name: "ollama",
		caps: provider.CapText | provider.CapVision,
		err:  &provider.Error{Provider: "ollama", Kind: provider.KindUnavailable, Message: "down"},
	}
	o, fs := fixture(t, client)
	o.cfg.Payloads = &fakePayloads{
		objects: map[string][]byte{"imghash": []byte("png-bytes")},
		texts:   map[string]string{"dochash": "quarterly numbers"},
	}
	sess := fs.addSession("ollama", "llama3")

	events, err := o.Send(context.Background(), TurnRequest{
		SessionID: sess.ID,
		Content:   "what is in these files?",
		Attachments: []provider.Part{
			{Data: []byte("png-bytes"), MIME: "image/png"},
			{Text: "Attached file \"report.txt\":\nquarterly numbers"},
		},
		Files: []FileMeta{
			{Name: "cat.png", ContentType: "image/png", Size: 9, Hash: "imghash"},
			{Name: "report.txt", ContentType: "text/plain", Size: 17, Hash: "dochash"},
		},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if last := terminal(t, drain(t, events)); last.Kind != EventError {
		t.Fatal("expected the first attempt to fail")
	}

	client.err = nil
	client.reply = "a cat and a report"
	events, err = o.RetryTurn(context.Background(), sess.ID, false)
	if err != nil {
		t.Fatalf("RetryTurn: %v", err)
	}
	if last := terminal(t, drain(t, events)); last.Kind != EventFinal {
		t.Fatalf("retry failed: %v", last.Err)
	}

	req := client.request()
	var binary, textual int
	for _, msg := range req.Messages {
		for _, part := range msg.Parts {
			if len(part.Data) > 0 {
				binary++
				if part.MIME != "image/png" || !bytes.Equal(part.Data, []byte("png-bytes")) {
					t.Errorf("image part = %q %q", part.MIME, part.Data)
				}
			}
			if strings.Contains(part.Text, "quarterly numbers") {
				textual++
			}
		}
	}
	if binary != 1 {
		t.Errorf("retry carried %d binary parts, want 1", binary)
	}
	if textual != 1 {
		t.Errorf("retry carried %d extracted-text parts, want 1", textual)
	}
}

func TestRetryTurnWithoutAttachmentsSkipsSpool(t *testing.T) {
	client := &fakeProvider{
		name: "ollama",
		caps: provider.CapText,
		err:  &provider.Error{Provider: "ollama", Kind: provider.KindUnavailable, Message: "down"},
	}
	o, fs := fixture(t, client)
	sess := fs.addSession("ollama", "llama3")

	events, err := o.Send(context.Background(), TurnRequest{SessionID: sess.ID, Content: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if last := terminal(t, drain(t, events)); last.Kind != EventError {
		t.Fatal("expected the first attempt to fail")
	}

	// No payload store configured: a retry without attachments still works.
	client.err = nil
	client.reply = "recovered"
	events, err = o.RetryTurn(context.Background(), sess.ID, false)
	if err != nil {
		t.Fatalf("RetryTurn: %v", err)
	}
	if last := terminal(t, drain(t, events)); last.Kind != EventFinal {
		t.Fatalf("retry failed: %v", last.Err)
	}
}

func TestAbandonedReaderReleasesSession(t *testing.T) {
	client := &fakeProvider{
		name:      "ollama",
		caps:      provider.CapText | provider.CapStreaming,
		reply:     strings.Repeat("x", 64),
		streamGap: time.Millisecond,
	}
	o, fs := fixture(t, client)
	sess := fs.addSession("ollama", "llama3")

	ctx, cancel := context.WithCancel(context.Background())
	events, err := o.Send(ctx, TurnRequest{SessionID: sess.ID, Content: "hi", Stream: true})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	// Read one chunk, then walk away without draining the channel. The
	// reply has far more chunks than the channel buffers.
	<-events
	cancel()

	// The abandoned turn must release the session so the next one runs.
	events, err = o.Send(context.Background(), TurnRequest{SessionID: sess.ID, Content: "again"})
	if err != nil {
		t.Fatalf("Send after abandon: %v", err)
	}
	if last := terminal(t, drain(t, events)); last.Kind != EventFinal {
		t.Fatalf("turn after abandon failed: %v", last.Err)
	}
}

func TestSendValidation(t *testing.T) {
	client := &fakeProvider{name: "ollama", caps: provider.CapText, reply: "r"}
	o, fs := fixture(t, client)
	sess := fs.addSession("ollama", "llama3")

	if _, err := o.Send(context.Background(), TurnRequest{SessionID: sess.ID}); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("empty content: got %v", err)
	}
	if _, err := o.Send(context.Background(), TurnRequest{SessionID: uuid.New(), Content: "hi"}); !errors.Is(err, store.ErrSessionNotFound) {
		t.Errorf("missing session: got %v", err)
	}

	other := fs.addSession("openai", "gpt-x")
	_, err := o.Send(context.Background(), TurnRequest{SessionID: other.ID, Content: "hi"})
	var pe *provider.Error
	if !errors.As(err, &pe) || pe.Kind != provider.KindAuth {
		t.Errorf("unconfigured provider: got %v", err)
	}
}
