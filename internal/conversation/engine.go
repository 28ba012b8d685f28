package conversation

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/luizcarelo/nps-saas/internal/gateway"
	"github.com/luizcarelo/nps-saas/internal/identity"
	"github.com/luizcarelo/nps-saas/internal/survey"
)

// Broadcaster pushes aggregate refreshes to live dashboard viewers.
// Implementations are fire-and-forget: failures are logged by the
// implementation and never surface here.
type Broadcaster interface {
	Notify(ctx context.Context, tenantID string)
}

// Engine drives the scripted survey dialogue:
//
//	VOTE -> ASK_FEEDBACK -> WAIT_FEEDBACK -> DONE
//
// An inbound message without a context (and with no recoverable durable
// state) is dropped, not an error. Persistence failures are contained at
// the per-message boundary and leave both the durable row and the cached
// context untouched so the next inbound message retries cleanly.
type Engine struct {
	contexts    *Store
	responses   survey.Store
	gw          gateway.Gateway
	resolver    *identity.Resolver
	broadcaster Broadcaster
	log         *slog.Logger

	sentLookback     time.Duration
	answeredLookback time.Duration

	// clock is injectable for deterministic tests.
	clock func() time.Time

	// locks serializes handling per (tenant, identity); different
	// identities and tenants proceed fully in parallel.
	locks sync.Map // string -> *sync.Mutex
}

type EngineOptions struct {
	Contexts    *Store
	Responses   survey.Store
	Gateway     gateway.Gateway
	Resolver    *identity.Resolver
	Broadcaster Broadcaster
	Logger      *slog.Logger

	// SentLookback bounds recovery of SENT responses (default 30m).
	SentLookback time.Duration
	// AnsweredLookback bounds mid-dialogue recovery of ANSWERED
	// responses that have not reached DONE (default 60m).
	AnsweredLookback time.Duration
}

func NewEngine(opts EngineOptions) *Engine {
	e := &Engine{
		contexts:         opts.Contexts,
		responses:        opts.Responses,
		gw:               opts.Gateway,
		resolver:         opts.Resolver,
		broadcaster:      opts.Broadcaster,
		log:              opts.Logger,
		sentLookback:     opts.SentLookback,
		answeredLookback: opts.AnsweredLookback,
		clock:            time.Now,
	}
	if e.contexts == nil {
		e.contexts = NewStore()
	}
	if e.resolver == nil {
		e.resolver = identity.NewResolver(identity.Options{})
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.sentLookback <= 0 {
		e.sentLookback = 30 * time.Minute
	}
	if e.answeredLookback <= 0 {
		e.answeredLookback = 60 * time.Minute
	}
	return e
}

// Contexts exposes the dialogue state cache for dispatch-side seeding.
func (e *Engine) Contexts() *Store { return e.contexts }

// HandleMessage implements gateway.InboundHandler. It never returns a
// business error; every failure mode is contained per message.
func (e *Engine) HandleMessage(ctx context.Context, msg gateway.InboundMessage) error {
	if msg.TenantID == "" || msg.From == "" {
		return nil
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}

	raw := e.resolver.Resolve(msg.From) // digit-cleaned; mapped if opaque and learned
	normalized := e.resolver.Normalize(msg.From)

	// Two near-simultaneous messages from one sender must not race on the
	// same response row.
	unlock := e.lockIdentity(msg.TenantID, normalized)
	defer unlock()

	convCtx, identityUsed, ok := e.lookup(msg.TenantID, raw, normalized)
	if !ok {
		convCtx, identityUsed, ok = e.recoverContext(ctx, msg.TenantID, msg.From)
	}
	if !ok {
		if looksLikeVote(text) {
			e.log.Warn("vote without dialogue context dropped",
				"tenant_id", msg.TenantID, "from", raw, "text", text)
		} else {
			e.log.Debug("inbound message without dialogue context dropped",
				"tenant_id", msg.TenantID, "from", raw)
		}
		return nil
	}

	replyTo := convCtx.ContactPhone
	if replyTo == "" {
		replyTo = raw
	}

	switch convCtx.Stage {
	case survey.StageVote:
		e.handleVote(ctx, msg.TenantID, identityUsed, replyTo, text, convCtx)
	case survey.StageAskFeedback:
		e.handleFeedbackDecision(ctx, msg.TenantID, identityUsed, replyTo, text, convCtx)
	case survey.StageWaitFeedback:
		e.handleFeedbackText(ctx, msg.TenantID, identityUsed, replyTo, text, convCtx)
	default:
		// DONE contexts are cleared on transition and never recovered;
		// a stale one here is a no-op.
		e.clearIdentity(msg.TenantID, identityUsed, convCtx)
	}
	return nil
}

func (e *Engine) handleVote(ctx context.Context, tenantID, identityUsed, replyTo, text string, convCtx Context) {
	score, err := strconv.Atoi(text)
	if err != nil || score < 0 || score > 10 {
		if isExit(text) {
			e.clearIdentity(tenantID, identityUsed, convCtx)
			return
		}
		// Long messages are likely unrelated chatter; only short inputs
		// earn a re-prompt.
		if len([]rune(text)) < 5 {
			e.send(ctx, tenantID, replyTo, msgVoteReprompt)
		}
		return
	}

	if err := e.responses.MarkAnswered(ctx, convCtx.Token, score, e.clock().UTC()); err != nil {
		e.logStoreErr(tenantID, convCtx.Token, "mark answered", err)
		return
	}

	e.notify(ctx, tenantID)

	convCtx.Stage = survey.StageAskFeedback
	e.seed(tenantID, convCtx, identityUsed, convCtx.ContactPhone)

	e.send(ctx, tenantID, replyTo, feedbackAsk(score))
}

func (e *Engine) handleFeedbackDecision(ctx context.Context, tenantID, identityUsed, replyTo, text string, convCtx Context) {
	switch {
	case isAffirmative(text):
		if err := e.responses.SetStage(ctx, convCtx.Token, survey.StageWaitFeedback); err != nil {
			e.logStoreErr(tenantID, convCtx.Token, "advance to feedback", err)
			return
		}
		convCtx.Stage = survey.StageWaitFeedback
		e.seed(tenantID, convCtx, identityUsed, convCtx.ContactPhone)
		e.send(ctx, tenantID, replyTo, msgFeedbackOpen)

	case isNegative(text):
		if err := e.responses.SetStage(ctx, convCtx.Token, survey.StageDone); err != nil {
			e.logStoreErr(tenantID, convCtx.Token, "close without feedback", err)
			return
		}
		e.clearIdentity(tenantID, identityUsed, convCtx)
		e.send(ctx, tenantID, replyTo, msgClosingNo)

	default:
		e.send(ctx, tenantID, replyTo, msgClarifyYesNo)
	}
}

func (e *Engine) handleFeedbackText(ctx context.Context, tenantID, identityUsed, replyTo, text string, convCtx Context) {
	tags, sentiment := Analyze(text)

	if err := e.responses.SaveComment(ctx, convCtx.Token, text, tags, sentiment); err != nil {
		e.logStoreErr(tenantID, convCtx.Token, "save comment", err)
		return
	}

	e.clearIdentity(tenantID, identityUsed, convCtx)
	e.send(ctx, tenantID, replyTo, msgClosingThanks)
	e.notify(ctx, tenantID)
}

func (e *Engine) notify(ctx context.Context, tenantID string) {
	if e.broadcaster != nil {
		e.broadcaster.Notify(ctx, tenantID)
	}
}

// lookup tries the cache under every identity the sender may be known by.
func (e *Engine) lookup(tenantID, raw, normalized string) (Context, string, bool) {
	for _, id := range []string{raw, normalized} {
		if id == "" {
			continue
		}
		if ctx, ok := e.contexts.Get(tenantID, id); ok {
			return ctx, id, true
		}
	}
	return Context{}, "", false
}

// seed caches a context under every identity that may address this
// dialogue: the identity the message arrived under, its normalized form,
// and the contact's own number.
func (e *Engine) seed(tenantID string, ctx Context, identities ...string) {
	seen := map[string]bool{}
	for _, id := range identities {
		if id == "" {
			continue
		}
		for _, key := range []string{id, e.resolver.Normalize(id)} {
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			e.contexts.Set(tenantID, key, ctx)
		}
	}
}

func (e *Engine) clearIdentity(tenantID, identityUsed string, ctx Context) {
	for _, id := range []string{identityUsed, e.resolver.Normalize(identityUsed), ctx.ContactPhone, e.resolver.Normalize(ctx.ContactPhone)} {
		if id != "" {
			e.contexts.Clear(tenantID, id)
		}
	}
}

func (e *Engine) send(ctx context.Context, tenantID, address, text string) {
	if e.gw == nil {
		return
	}
	if _, err := e.gw.Send(ctx, gateway.SendRequest{TenantID: tenantID, Address: address, Text: text}); err != nil {
		e.log.Warn("outbound prompt send failed", "tenant_id", tenantID, "address", address, "err", err)
	}
}

func (e *Engine) lockIdentity(tenantID, identity string) func() {
	key := tenantID + "|" + identity
	v, _ := e.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (e *Engine) logStoreErr(tenantID, token, op string, err error) {
	// State is left exactly as it was; the next inbound message retries.
	e.log.Error("dialogue persistence failed", "tenant_id", tenantID, "token", token, "op", op, "err", err)
}

func looksLikeVote(text string) bool {
	if len(text) == 0 || len(text) > 2 {
		return false
	}
	_, err := strconv.Atoi(text)
	return err == nil
}
