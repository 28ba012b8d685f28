package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/luizcarelo/nps-saas/internal/conversation"
	"github.com/luizcarelo/nps-saas/internal/gateway"
	"github.com/luizcarelo/nps-saas/internal/identity"
	"github.com/luizcarelo/nps-saas/internal/survey"
)

// ErrTooManyBatches means the tenant already runs its maximum number of
// concurrent dispatch batches.
var ErrTooManyBatches = errors.New("dispatch: tenant batch limit reached")

// Scheduler seeds surveys for a campaign's contact list: it creates the
// durable PENDING rows, sends the initial prompts through the gateway and
// primes dialogue state for the replies.
//
// Failure model: each contact is processed independently; a gateway or
// persistence failure marks that one response FAILED (or leaves it
// PENDING) and the batch moves on. The campaign always reaches COMPLETED.
// A crash mid-batch leaves PENDING/SENT rows with no live context; the
// conversation engine's recovery path is the only way back to those.
type Scheduler struct {
	store       survey.Store
	gw          gateway.Gateway
	contexts    *conversation.Store
	resolver    *identity.Resolver
	broadcaster conversation.Broadcaster
	limiter     Limiter
	log         *slog.Logger

	// Randomized pacing between sends keeps the gateway under its
	// throughput limits.
	minDelay time.Duration
	maxDelay time.Duration

	// sleep and clock are injectable for deterministic tests.
	sleep func(time.Duration)
	clock func() time.Time
}

type SchedulerOptions struct {
	Store       survey.Store
	Gateway     gateway.Gateway
	Contexts    *conversation.Store
	Resolver    *identity.Resolver
	Broadcaster conversation.Broadcaster
	// Limiter is optional; without one batches are unbounded.
	Limiter Limiter
	Logger  *slog.Logger

	MinDelay time.Duration
	MaxDelay time.Duration
}

func NewScheduler(opts SchedulerOptions) *Scheduler {
	s := &Scheduler{
		store:       opts.Store,
		gw:          opts.Gateway,
		contexts:    opts.Contexts,
		resolver:    opts.Resolver,
		broadcaster: opts.Broadcaster,
		limiter:     opts.Limiter,
		log:         opts.Logger,
		minDelay:    opts.MinDelay,
		maxDelay:    opts.MaxDelay,
		sleep:       time.Sleep,
		clock:       time.Now,
	}
	if s.contexts == nil {
		s.contexts = conversation.NewStore()
	}
	if s.resolver == nil {
		s.resolver = identity.NewResolver(identity.Options{})
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.minDelay <= 0 {
		s.minDelay = 3 * time.Second
	}
	if s.maxDelay < s.minDelay {
		s.maxDelay = s.minDelay + 5*time.Second
	}
	return s
}

// ContactInput is one row of the campaign's contact list, as provided by
// the surrounding CRM.
type ContactInput struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

type Request struct {
	CampaignID string         `json:"campaign_id"`
	TenantID   string         `json:"tenant_id"`
	Contacts   []ContactInput `json:"contacts"`
	Channel    string         `json:"channel"`

	// Template names a fallback template; CustomMessage overrides it.
	Template      string `json:"template,omitempty"`
	CustomMessage string `json:"custom_message,omitempty"`
	CompanyName   string `json:"company_name,omitempty"`
}

// Start validates the request and runs the batch as a detached background
// task. The inbound path never blocks on it; they share only the store.
func (s *Scheduler) Start(ctx context.Context, req Request) error {
	if req.CampaignID == "" || req.TenantID == "" {
		return survey.ErrInvalidArgument
	}
	if len(req.Contacts) == 0 {
		return survey.ErrInvalidArgument
	}
	if s.limiter != nil {
		ok, err := s.limiter.Acquire(ctx, req.TenantID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrTooManyBatches
		}
	}
	go func() {
		// Detach from the request context; the batch outlives the call.
		s.Run(context.Background(), req)
	}()
	return nil
}

// Run processes the batch synchronously. Exported for tests and for
// callers that manage their own goroutines.
func (s *Scheduler) Run(ctx context.Context, req Request) {
	log := s.log.With("campaign_id", req.CampaignID, "tenant_id", req.TenantID)
	log.Info("dispatch batch started", "contacts", len(req.Contacts))

	if s.limiter != nil {
		defer func() {
			if err := s.limiter.Release(ctx, req.TenantID); err != nil {
				log.Warn("batch slot release failed", "err", err)
			}
		}()
	}

	if err := s.store.MarkCampaignProcessing(ctx, req.CampaignID); err != nil {
		log.Warn("campaign processing mark failed", "err", err)
	}

	sent, failed := 0, 0
	for i, c := range req.Contacts {
		if i > 0 {
			s.sleep(s.jitter())
		}
		if s.dispatchOne(ctx, req, c, log) {
			sent++
		} else {
			failed++
		}
	}

	if err := s.store.CompleteCampaign(ctx, req.CampaignID, s.clock().UTC()); err != nil {
		log.Error("campaign completion failed", "err", err)
	}
	if s.broadcaster != nil {
		s.broadcaster.Notify(ctx, req.TenantID)
	}
	log.Info("dispatch batch finished", "sent", sent, "failed", failed)
}

func (s *Scheduler) dispatchOne(ctx context.Context, req Request, in ContactInput, log *slog.Logger) bool {
	phone := s.resolver.Resolve(in.Phone)
	if phone == "" {
		log.Warn("contact skipped, no dialable phone", "name", in.Name)
		return false
	}

	contact, err := s.store.UpsertContact(ctx, survey.Contact{
		ID:       uuid.NewString(),
		TenantID: req.TenantID,
		Name:     in.Name,
		Phone:    phone,
		Email:    in.Email,
		Role:     in.Role,
	})
	if err != nil {
		log.Error("contact upsert failed", "name", in.Name, "err", err)
		return false
	}

	token := uuid.NewString()
	if err := s.store.CreateResponse(ctx, survey.Response{
		Token:      token,
		TenantID:   req.TenantID,
		CampaignID: req.CampaignID,
		ContactID:  contact.ID,
		Channel:    req.Channel,
		Status:     survey.StatusPending,
		Stage:      survey.StageVote,
	}); err != nil {
		log.Error("response create failed", "contact_id", contact.ID, "err", err)
		return false
	}

	prompt := renderPrompt(req.Template, req.CustomMessage, contact.Name, req.CompanyName)
	_, err = s.gw.Send(ctx, gateway.SendRequest{TenantID: req.TenantID, Address: phone, Text: prompt})
	if err != nil {
		log.Warn("initial prompt send failed", "contact_id", contact.ID, "err", err)
		if markErr := s.store.MarkFailed(ctx, token); markErr != nil {
			log.Error("failed mark failed", "token", token, "err", markErr)
		}
		return false
	}

	if err := s.store.MarkSent(ctx, token, s.clock().UTC()); err != nil {
		// The prompt went out; the reply can still land via recovery
		// even though the row stayed PENDING.
		log.Error("sent mark failed", "token", token, "err", err)
	}

	convCtx := conversation.Context{
		Token:        token,
		CampaignID:   req.CampaignID,
		Stage:        survey.StageVote,
		ContactPhone: phone,
		StartedAt:    s.clock().UTC(),
	}
	s.contexts.Set(req.TenantID, phone, convCtx)
	if normalized := s.resolver.Normalize(phone); normalized != phone {
		s.contexts.Set(req.TenantID, normalized, convCtx)
	}
	return true
}

func (s *Scheduler) jitter() time.Duration {
	span := s.maxDelay - s.minDelay
	if span <= 0 {
		return s.minDelay
	}
	return s.minDelay + time.Duration(rand.Int63n(int64(span)+1))
}
