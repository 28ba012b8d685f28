package conversation

import (
	"sync"
	"time"

	"github.com/luizcarelo/nps-saas/internal/survey"
)

// Context is the transient dialogue position for one contact. It mirrors
// the durable survey response and is reconstructible from it at any time;
// it is never the source of truth.
type Context struct {
	Token      string
	CampaignID string
	Stage      survey.Stage

	// ContactPhone is the dialable address replies are routed to, which
	// may differ from the identity the message arrived under.
	ContactPhone string

	StartedAt time.Time
}

// Store holds in-flight dialogue contexts keyed by (tenant, identity).
// Pure in-memory map operations, no I/O; tenants never share entries.
type Store struct {
	mu sync.RWMutex
	m  map[string]Context
}

func NewStore() *Store {
	return &Store{m: make(map[string]Context)}
}

func contextKey(tenantID, identity string) string {
	return tenantID + "|" + identity
}

func (s *Store) Get(tenantID, identity string) (Context, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctx, ok := s.m[contextKey(tenantID, identity)]
	return ctx, ok
}

func (s *Store) Set(tenantID, identity string, ctx Context) {
	if tenantID == "" || identity == "" {
		return
	}
	s.mu.Lock()
	s.m[contextKey(tenantID, identity)] = ctx
	s.mu.Unlock()
}

func (s *Store) Clear(tenantID, identity string) {
	s.mu.Lock()
	delete(s.m, contextKey(tenantID, identity))
	s.mu.Unlock()
}

// Len reports the number of live contexts, for observability surfaces.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
