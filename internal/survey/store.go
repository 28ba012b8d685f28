package survey

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("survey: not found")
	ErrInvalidArgument = errors.New("survey: invalid argument")
)

// Store abstracts durable survey persistence.
//
// Tenancy invariant: every read is tenant-scoped, either directly or via
// the owning campaign.
//
// Counter invariant: MarkSent and MarkAnswered update the response row and
// the campaign counter in the same transaction, so aggregates never drift
// from the rows they summarize.
type Store interface {
	CreateResponse(ctx context.Context, r Response) error
	FindByToken(ctx context.Context, token string) (Response, error)

	// Dispatch-side transitions.
	MarkSent(ctx context.Context, token string, at time.Time) error
	MarkFailed(ctx context.Context, token string) error

	// Dialogue-side transitions.
	MarkAnswered(ctx context.Context, token string, score int, at time.Time) error
	SetStage(ctx context.Context, token string, stage Stage) error
	SaveComment(ctx context.Context, token, comment string, tags []string, sentiment Sentiment) error

	UpsertContact(ctx context.Context, c Contact) (Contact, error)
	ListContacts(ctx context.Context, tenantID string) ([]Contact, error)

	// Recovery queries. Results ordered most-recently-sent/updated first.
	FindRecentSent(ctx context.Context, tenantID string, since time.Time) ([]Response, error)
	FindRecentByContact(ctx context.Context, contactID string, statuses []Status, since time.Time) ([]Response, error)

	MarkCampaignProcessing(ctx context.Context, campaignID string) error
	CompleteCampaign(ctx context.Context, campaignID string, at time.Time) error

	// Dashboard aggregates.
	Metrics(ctx context.Context, tenantID string) (Metrics, error)
	RecentFeedback(ctx context.Context, tenantID string, limit int) ([]Response, error)
}

func hasStatus(set []Status, s Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
