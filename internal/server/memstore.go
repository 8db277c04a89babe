package server

import (
	"context"
	"sync"

	"github.com/furgapp/furgo/internal/models"
)

// In-memory collaborators for standalone runs and tests. Production deploys
// wire the real stores through core.Dependencies instead.

type MemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*models.Profile
	dynamics map[string]models.DynamicInputs
}

func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{
		profiles: make(map[string]*models.Profile),
		dynamics: make(map[string]models.DynamicInputs),
	}
}

func (s *MemoryProfileStore) Put(profile *models.Profile, dyn models.DynamicInputs) {
	s.mu.Lock()
	s.profiles[profile.UserID] = profile
	s.dynamics[profile.UserID] = dyn
	s.mu.Unlock()
}

func (s *MemoryProfileStore) Profile(ctx context.Context, userID string) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.profiles[userID]; ok {
		return p, nil
	}
	// Unknown users get a blank profile; the assembler fills defaults.
	return &models.Profile{UserID: userID}, nil
}

func (s *MemoryProfileStore) DynamicInputs(ctx context.Context, userID string) (models.DynamicInputs, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dynamics[userID], nil
}

type MemoryConversationLog struct {
	mu       sync.Mutex
	messages map[string][]models.Message
}

func NewMemoryConversationLog() *MemoryConversationLog {
	return &MemoryConversationLog{messages: make(map[string][]models.Message)}
}

func (l *MemoryConversationLog) Recent(ctx context.Context, userID string, limit int) ([]models.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msgs := l.messages[userID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (l *MemoryConversationLog) Append(ctx context.Context, userID string, messages ...models.Message) error {
	l.mu.Lock()
	l.messages[userID] = append(l.messages[userID], messages...)
	l.mu.Unlock()
	return nil
}

type StaticLifeProvider struct {
	mu       sync.RWMutex
	contexts map[string]*models.LifeContext
}

func NewStaticLifeProvider() *StaticLifeProvider {
	return &StaticLifeProvider{contexts: make(map[string]*models.LifeContext)}
}

func (p *StaticLifeProvider) Put(userID string, life *models.LifeContext) {
	p.mu.Lock()
	p.contexts[userID] = life
	p.mu.Unlock()
}

func (p *StaticLifeProvider) Current(ctx context.Context, userID string) (*models.LifeContext, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.contexts[userID], nil
}
