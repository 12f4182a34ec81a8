package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prism-chat/prism/internal/orchestrator"
	"github.com/prism-chat/prism/internal/store"
)

// fakeStore is an in-memory Store for handler tests.
type fakeStore struct {
	mu          sync.Mutex
	users       map[uuid.UUID]*store.User
	emails      map[string]uuid.UUID
	sessions    map[uuid.UUID]*store.Session
	messages    map[uuid.UUID][]*store.Message
	memories    map[uuid.UUID]map[string]*store.Memory
	suggestions map[uuid.UUID]*store.Suggestion
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       make(map[uuid.UUID]*store.User),
		emails:      make(map[string]uuid.UUID),
		sessions:    make(map[uuid.UUID]*store.Session),
		messages:    make(map[uuid.UUID][]*store.Message),
		memories:    make(map[uuid.UUID]map[string]*store.Memory),
		suggestions: make(map[uuid.UUID]*store.Suggestion),
	}
}

func (f *fakeStore) CreateUser(ctx context.Context, email, name string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, taken := f.emails[email]; taken {
		return nil, store.ErrDuplicateEmail
	}
	u := &store.User{ID: uuid.New(), Email: email, Name: name, CreatedAt: time.Now()}
	f.users[u.ID] = u
	f.emails[email] = u.ID
	return u, nil
}

func (f *fakeStore) GetUser(ctx context.Context, id uuid.UUID) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeStore) CreateSession(ctx context.Context, userID uuid.UUID, title, provider, model string) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[userID]; !ok {
		return nil, store.ErrUserNotFound
	}
	s := &store.Session{
		ID:            uuid.New(),
		UserID:        userID,
		Title:         title,
		ModelProvider: provider,
		ModelName:     model,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	f.sessions[s.ID] = s
	return s, nil
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

func (f *fakeStore) ListSessions(ctx context.Context, userID uuid.UUID, limit int) ([]*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Session
	for _, s := range f.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
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

func (f *fakeStore) UpdateSessionModel(ctx context.Context, id uuid.UUID, provider, model string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return store.ErrSessionNotFound
	}
	s.ModelProvider = provider
	s.ModelName = model
	return nil
}

func (f *fakeStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return store.ErrSessionNotFound
	}
	delete(f.sessions, id)
	delete(f.messages, id)
	return nil
}

func (f *fakeStore) GetMessages(ctx context.Context, sessionID uuid.UUID) ([]*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[sessionID], nil
}

func (f *fakeStore) ListMemories(ctx context.Context, userID uuid.UUID) ([]*store.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Memory
	for _, m := range f.memories[userID] {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeStore) UpsertMemory(ctx context.Context, userID uuid.UUID, key, value string, confidence float64) (*store.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if key == "" {
		return nil, store.ErrEmptyKey
	}
	if _, ok := f.users[userID]; !ok {
		return nil, store.ErrUserNotFound
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	if f.memories[userID] == nil {
		f.memories[userID] = make(map[string]*store.Memory)
	}
	m := &store.Memory{
		ID: uuid.New(), UserID: userID, Key: key, Value: value, Confidence: confidence,
	}
	f.memories[userID][key] = m
	return m, nil
}

func (f *fakeStore) DeleteMemory(ctx context.Context, userID uuid.UUID, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.memories[userID][key]; !ok {
		return store.ErrMemoryNotFound
	}
	delete(f.memories[userID], key)
	return nil
}

func (f *fakeStore) putMemory(userID uuid.UUID, key, value string, confidence float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.memories[userID] == nil {
		f.memories[userID] = make(map[string]*store.Memory)
	}
	f.memories[userID][key] = &store.Memory{
		ID: uuid.New(), UserID: userID, Key: key, Value: value, Confidence: confidence,
	}
}

func (f *fakeStore) SessionSuggestions(ctx context.Context, sessionID uuid.UUID) ([]*store.Suggestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Suggestion
	for _, s := range f.suggestions {
		if s.SessionID == sessionID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkSuggestionUsed(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.suggestions[id]
	if !ok {
		return store.ErrSuggestionNotFound
	}
	s.Used = true
	return nil
}

// fakeTurnRunner scripts turn outcomes.
type fakeTurnRunner struct {
	sendErr  error
	retryErr error
	events   []orchestrator.Event
	lastReq  orchestrator.TurnRequest
}

func (f *fakeTurnRunner) Send(ctx context.Context, req orchestrator.TurnRequest) (<-chan orchestrator.Event, error) {
	f.lastReq = req
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return f.play(), nil
}

func (f *fakeTurnRunner) RetryTurn(ctx context.Context, sessionID uuid.UUID, stream bool) (<-chan orchestrator.Event, error) {
	if f.retryErr != nil {
		return nil, f.retryErr
	}
	return f.play(), nil
}

func (f *fakeTurnRunner) play() <-chan orchestrator.Event {
	ch := make(chan orchestrator.Event, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch
}
