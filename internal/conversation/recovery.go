package conversation

import (
	"context"

	"github.com/luizcarelo/nps-saas/internal/survey"
)

// recoverContext reconstructs dialogue state from durable survey records
// after a cache miss (process restart, or an opaque sender identity the
// cache was never keyed under). It never resurrects a response whose
// persisted stage is DONE, and look-back windows keep stale dialogues
// from coming back to life.
func (e *Engine) recoverContext(ctx context.Context, tenantID, rawIdentity string) (Context, string, bool) {
	raw := e.resolver.Resolve(rawIdentity)
	opaque := e.resolver.IsOpaque(rawIdentity)

	candidates := []string{raw, e.resolver.Normalize(rawIdentity)}

	contacts, err := e.responses.ListContacts(ctx, tenantID)
	if err != nil {
		e.log.Error("context recovery failed listing contacts", "tenant_id", tenantID, "err", err)
		return Context{}, "", false
	}

	var contact *survey.Contact
	for i := range contacts {
		for _, cand := range candidates {
			if cand != "" && e.resolver.Match(contacts[i].Phone, cand) {
				contact = &contacts[i]
				break
			}
		}
		if contact != nil {
			break
		}
	}

	if contact == nil {
		// An opaque identifier cannot match any stored phone. Fall back
		// to the tenant's recently sent surveys: a single in-flight one
		// is adopted outright; several force a best-effort most-recent
		// pick, accepted as ambiguous.
		if !opaque {
			e.log.Warn("inbound message matched no contact", "tenant_id", tenantID, "from", raw)
			return Context{}, "", false
		}
		recent, err := e.responses.FindRecentSent(ctx, tenantID, e.clock().Add(-e.sentLookback))
		if err != nil {
			e.log.Error("context recovery failed listing recent sends", "tenant_id", tenantID, "err", err)
			return Context{}, "", false
		}
		if len(recent) == 0 {
			e.log.Warn("opaque sender matched no contact and no recent send", "tenant_id", tenantID, "from", raw)
			return Context{}, "", false
		}
		if len(recent) > 1 {
			e.log.Warn("ambiguous opaque sender, adopting most recent send",
				"tenant_id", tenantID, "from", raw, "candidates", len(recent))
		}
		adopted := recent[0]
		for i := range contacts {
			if contacts[i].ID == adopted.ContactID {
				contact = &contacts[i]
				break
			}
		}
		if contact == nil {
			return Context{}, "", false
		}
	}

	target, ok := e.findRecoverable(ctx, contact.ID)
	if !ok {
		e.log.Warn("no recoverable survey for contact", "tenant_id", tenantID, "contact_id", contact.ID)
		return Context{}, "", false
	}

	convCtx := Context{
		Token:        target.Token,
		CampaignID:   target.CampaignID,
		Stage:        survey.ParseStage(string(target.Stage)),
		ContactPhone: contact.Phone,
		StartedAt:    e.clock().UTC(),
	}

	if opaque {
		e.resolver.LearnMapping(rawIdentity, contact.Phone)
	}

	e.seed(tenantID, convCtx, raw, contact.Phone)
	e.log.Info("dialogue context recovered",
		"tenant_id", tenantID, "contact_id", contact.ID, "stage", convCtx.Stage)
	return convCtx, raw, true
}

// findRecoverable looks for the contact's in-flight response: first a
// recent SENT one (most recent wins on ambiguity), then a recently
// updated ANSWERED one that has not reached DONE.
func (e *Engine) findRecoverable(ctx context.Context, contactID string) (survey.Response, bool) {
	now := e.clock()

	sent, err := e.responses.FindRecentByContact(ctx, contactID, []survey.Status{survey.StatusSent}, now.Add(-e.sentLookback))
	if err != nil {
		e.log.Error("context recovery failed querying sent responses", "contact_id", contactID, "err", err)
		return survey.Response{}, false
	}
	if len(sent) > 1 {
		e.log.Warn("multiple in-flight surveys for contact, adopting most recent",
			"contact_id", contactID, "candidates", len(sent))
	}
	for _, r := range sent {
		if r.Stage != survey.StageDone {
			return r, true
		}
	}

	answered, err := e.responses.FindRecentByContact(ctx, contactID, []survey.Status{survey.StatusAnswered}, now.Add(-e.answeredLookback))
	if err != nil {
		e.log.Error("context recovery failed querying answered responses", "contact_id", contactID, "err", err)
		return survey.Response{}, false
	}
	for _, r := range answered {
		if r.Stage != survey.StageDone {
			return r, true
		}
	}
	return survey.Response{}, false
}
