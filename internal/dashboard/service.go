package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/luizcarelo/nps-saas/internal/survey"
)

// updatesChannel carries dashboard refreshes across API instances, so a
// viewer connected to any instance sees mutations handled by another.
const updatesChannel = "dashboard:updates"

const feedbackLimit = 5

// Update is one aggregate snapshot pushed to a tenant's live viewers.
type Update struct {
	Metrics   survey.Metrics `json:"metrics"`
	Feedbacks []Feedback     `json:"feedbacks"`
}

type Feedback struct {
	Token      string           `json:"token"`
	Score      *int             `json:"score,omitempty"`
	Comment    string           `json:"comment"`
	Sentiment  survey.Sentiment `json:"sentiment,omitempty"`
	Tags       []string         `json:"tags,omitempty"`
	AnsweredAt *time.Time       `json:"answered_at,omitempty"`
}

// Envelope is the wire form published on the updates channel.
type Envelope struct {
	TenantID string `json:"tenant_id"`
	Update   Update `json:"update"`
}

// PublishFunc delivers an envelope to viewers. Production wiring uses
// Redis pub/sub; tests inject a recorder.
type PublishFunc func(ctx context.Context, env Envelope) error

// Service computes tenant aggregates and broadcasts them. Notify is
// fire-and-forget: failures are logged, never retried and never block
// the caller.
type Service struct {
	store   survey.Store
	publish PublishFunc
	log     *slog.Logger
}

func NewService(store survey.Store, publish PublishFunc, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, publish: publish, log: log}
}

func (s *Service) Notify(ctx context.Context, tenantID string) {
	if tenantID == "" || s.publish == nil {
		return
	}
	update, err := s.Snapshot(ctx, tenantID)
	if err != nil {
		s.log.Warn("dashboard snapshot failed", "tenant_id", tenantID, "err", err)
		return
	}
	if err := s.publish(ctx, Envelope{TenantID: tenantID, Update: update}); err != nil {
		s.log.Warn("dashboard publish failed", "tenant_id", tenantID, "err", err)
	}
}

// Snapshot builds the current aggregate view for a tenant. Also used by
// the pull-style metrics endpoint.
func (s *Service) Snapshot(ctx context.Context, tenantID string) (Update, error) {
	metrics, err := s.store.Metrics(ctx, tenantID)
	if err != nil {
		return Update{}, err
	}
	recent, err := s.store.RecentFeedback(ctx, tenantID, feedbackLimit)
	if err != nil {
		return Update{}, err
	}

	out := Update{Metrics: metrics, Feedbacks: make([]Feedback, 0, len(recent))}
	for _, r := range recent {
		out.Feedbacks = append(out.Feedbacks, Feedback{
			Token:      r.Token,
			Score:      r.Score,
			Comment:    r.Comment,
			Sentiment:  r.Sentiment,
			Tags:       r.Tags,
			AnsweredAt: r.AnsweredAt,
		})
	}
	return out, nil
}

// RedisPublisher publishes envelopes on the shared updates channel.
func RedisPublisher(rdb *redis.Client) PublishFunc {
	return func(ctx context.Context, env Envelope) error {
		payload, err := json.Marshal(env)
		if err != nil {
			return err
		}
		return rdb.Publish(ctx, updatesChannel, payload).Err()
	}
}
