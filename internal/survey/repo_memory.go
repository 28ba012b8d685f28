package survey

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and early development.
// It applies the same tenant scoping and counter coupling as the
// Postgres implementation.
type MemoryStore struct {
	mu sync.Mutex

	Responses map[string]*Response
	Contacts  map[string]*Contact
	Campaigns map[string]*Campaign

	// Clock is injectable for deterministic tests.
	Clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Responses: map[string]*Response{},
		Contacts:  map[string]*Contact{},
		Campaigns: map[string]*Campaign{},
		Clock:     time.Now,
	}
}

func (m *MemoryStore) now() time.Time { return m.Clock().UTC() }

func (m *MemoryStore) CreateResponse(ctx context.Context, r Response) error {
	if r.Token == "" || r.TenantID == "" || r.CampaignID == "" {
		return ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if r.Stage == "" {
		r.Stage = StageVote
	}
	cp := r
	m.Responses[r.Token] = &cp
	return nil
}

func (m *MemoryStore) FindByToken(ctx context.Context, token string) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Responses[token]
	if !ok {
		return Response{}, ErrNotFound
	}
	return *r, nil
}

func (m *MemoryStore) MarkSent(ctx context.Context, token string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Responses[token]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	r.Status = StatusSent
	r.SentAt = &at
	r.UpdatedAt = at
	if c, ok := m.Campaigns[r.CampaignID]; ok {
		c.TotalSent++
	}
	return nil
}

func (m *MemoryStore) MarkFailed(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Responses[token]
	if !ok {
		return ErrNotFound
	}
	r.Status = StatusFailed
	r.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) MarkAnswered(ctx context.Context, token string, score int, at time.Time) error {
	if score < 0 || score > 10 {
		return ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Responses[token]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	s := score
	r.Score = &s
	r.Status = StatusAnswered
	r.Stage = StageAskFeedback
	r.AnsweredAt = &at
	r.UpdatedAt = at
	if c, ok := m.Campaigns[r.CampaignID]; ok {
		c.TotalAnswered++
	}
	return nil
}

func (m *MemoryStore) SetStage(ctx context.Context, token string, stage Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Responses[token]
	if !ok {
		return ErrNotFound
	}
	r.Stage = stage
	r.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) SaveComment(ctx context.Context, token, comment string, tags []string, sentiment Sentiment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Responses[token]
	if !ok {
		return ErrNotFound
	}
	r.Comment = comment
	r.Tags = append([]string(nil), tags...)
	r.Sentiment = sentiment
	r.Stage = StageDone
	r.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) UpsertContact(ctx context.Context, c Contact) (Contact, error) {
	if c.TenantID == "" {
		return Contact{}, ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.Contacts {
		if existing.TenantID == c.TenantID && existing.Phone == c.Phone && c.Phone != "" {
			if c.Name != "" {
				existing.Name = c.Name
			}
			return *existing, nil
		}
	}
	if c.ID == "" {
		return Contact{}, ErrInvalidArgument
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now()
	}
	c.Active = true
	cp := c
	m.Contacts[c.ID] = &cp
	return cp, nil
}

func (m *MemoryStore) ListContacts(ctx context.Context, tenantID string) ([]Contact, error) {
	if tenantID == "" {
		return nil, ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Contact, 0)
	for _, c := range m.Contacts {
		if c.TenantID == tenantID && c.Phone != "" {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) FindRecentSent(ctx context.Context, tenantID string, since time.Time) ([]Response, error) {
	if tenantID == "" {
		return nil, ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Response, 0)
	for _, r := range m.Responses {
		if r.TenantID != tenantID || r.Status != StatusSent {
			continue
		}
		if r.SentAt == nil || r.SentAt.Before(since) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.After(*out[j].SentAt) })
	return out, nil
}

func (m *MemoryStore) FindRecentByContact(ctx context.Context, contactID string, statuses []Status, since time.Time) ([]Response, error) {
	if contactID == "" {
		return nil, ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Response, 0)
	for _, r := range m.Responses {
		if r.ContactID != contactID || !hasStatus(statuses, r.Status) {
			continue
		}
		if r.UpdatedAt.Before(since) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *MemoryStore) MarkCampaignProcessing(ctx context.Context, campaignID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Campaigns[campaignID]
	if !ok {
		return ErrNotFound
	}
	c.Status = CampaignProcessing
	return nil
}

func (m *MemoryStore) CompleteCampaign(ctx context.Context, campaignID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Campaigns[campaignID]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	c.Status = CampaignCompleted
	c.CompletedAt = &at
	return nil
}

func (m *MemoryStore) Metrics(ctx context.Context, tenantID string) (Metrics, error) {
	if tenantID == "" {
		return Metrics{}, ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := Metrics{TenantID: tenantID}
	reached := 0
	for _, r := range m.Responses {
		if r.TenantID != tenantID {
			continue
		}
		if r.Status == StatusSent || r.Status == StatusAnswered {
			reached++
		}
		if r.Status != StatusAnswered || r.Score == nil {
			continue
		}
		out.Total++
		switch {
		case *r.Score >= 9:
			out.Promoters++
		case *r.Score <= 6:
			out.Detractors++
		default:
			out.Neutrals++
		}
	}
	if out.Total > 0 {
		out.NPS = int(float64(out.Promoters-out.Detractors) / float64(out.Total) * 100)
	}
	if reached > 0 {
		out.ResponseRate = out.Total * 100 / reached
	}
	return out, nil
}

func (m *MemoryStore) RecentFeedback(ctx context.Context, tenantID string, limit int) ([]Response, error) {
	if tenantID == "" {
		return nil, ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Response, 0)
	for _, r := range m.Responses {
		if r.TenantID != tenantID || r.Status != StatusAnswered || r.Comment == "" {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].AnsweredAt, out[j].AnsweredAt
		if ai == nil || aj == nil {
			return aj == nil && ai != nil
		}
		return ai.After(*aj)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
