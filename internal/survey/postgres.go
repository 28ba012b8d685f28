package survey

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/luizcarelo/nps-saas/pkg/utils"
)

// NOTE: This store assumes the following tables exist:
// - contacts           UNIQUE (tenant_id, phone)
// - campaigns
// - survey_responses   PRIMARY KEY (token)
//
// score is nullable; sent_at/answered_at/completed_at are nullable
// timestamps; tags is a jsonb/text column holding a JSON array.

// PostgresStore implements Store over database/sql with the pgx stdlib
// driver. Response and campaign counter updates that must not drift are
// wrapped in a transaction.
type PostgresStore struct {
	db *sql.DB

	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

const responseColumns = `
token, tenant_id, campaign_id, contact_id, channel,
score, comment, tags, sentiment, status, stage,
sent_at, answered_at, created_at, updated_at
`

func scanResponse(row interface{ Scan(...any) error }) (Response, error) {
	var (
		r        Response
		score    sql.NullInt64
		comment  sql.NullString
		tags     sql.NullString
		sent     sql.NullString
		sentAt   sql.NullTime
		answered sql.NullTime
	)
	err := row.Scan(
		&r.Token, &r.TenantID, &r.CampaignID, &r.ContactID, &r.Channel,
		&score, &comment, &tags, &sent, (*string)(&r.Status), (*string)(&r.Stage),
		&sentAt, &answered, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Response{}, ErrNotFound
		}
		return Response{}, err
	}
	if score.Valid {
		v := int(score.Int64)
		r.Score = &v
	}
	r.Comment = comment.String
	if tags.Valid && tags.String != "" {
		_ = json.Unmarshal([]byte(tags.String), &r.Tags)
	}
	r.Sentiment = Sentiment(sent.String)
	if sentAt.Valid {
		t := sentAt.Time
		r.SentAt = &t
	}
	if answered.Valid {
		t := answered.Time
		r.AnsweredAt = &t
	}
	r.Stage = ParseStage(string(r.Stage))
	return r, nil
}

func (s *PostgresStore) CreateResponse(ctx context.Context, r Response) error {
	if r.Token == "" || r.TenantID == "" || r.CampaignID == "" {
		return ErrInvalidArgument
	}
	if r.Stage == "" {
		r.Stage = StageVote
	}
	now := s.clock().UTC()
	const q = `
INSERT INTO survey_responses (
  token, tenant_id, campaign_id, contact_id, channel, status, stage, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
`
	_, err := s.db.ExecContext(ctx, q,
		r.Token, r.TenantID, r.CampaignID, r.ContactID, r.Channel, r.Status, r.Stage, now,
	)
	return err
}

func (s *PostgresStore) FindByToken(ctx context.Context, token string) (Response, error) {
	const q = `SELECT ` + responseColumns + ` FROM survey_responses WHERE token = $1`
	return scanResponse(s.db.QueryRowContext(ctx, q, token))
}

func (s *PostgresStore) MarkSent(ctx context.Context, token string, at time.Time) error {
	at = at.UTC()
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		campaignID, err := updateReturningCampaign(ctx, tx, `
UPDATE survey_responses
SET status = $2, sent_at = $3, updated_at = $3
WHERE token = $1
RETURNING campaign_id
`, token, StatusSent, at)
		if err != nil {
			return err
		}
		return bumpCampaignCounter(ctx, tx, campaignID, "total_sent")
	})
}

func (s *PostgresStore) MarkFailed(ctx context.Context, token string) error {
	const q = `UPDATE survey_responses SET status = $2, updated_at = $3 WHERE token = $1`
	res, err := s.db.ExecContext(ctx, q, token, StatusFailed, s.clock().UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresStore) MarkAnswered(ctx context.Context, token string, score int, at time.Time) error {
	if score < 0 || score > 10 {
		return ErrInvalidArgument
	}
	at = at.UTC()
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		campaignID, err := updateReturningCampaign(ctx, tx, `
UPDATE survey_responses
SET score = $2, status = $3, stage = $4, answered_at = $5, updated_at = $5
WHERE token = $1
RETURNING campaign_id
`, token, score, StatusAnswered, StageAskFeedback, at)
		if err != nil {
			return err
		}
		return bumpCampaignCounter(ctx, tx, campaignID, "total_answered")
	})
}

func (s *PostgresStore) SetStage(ctx context.Context, token string, stage Stage) error {
	const q = `UPDATE survey_responses SET stage = $2, updated_at = $3 WHERE token = $1`
	res, err := s.db.ExecContext(ctx, q, token, stage, s.clock().UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresStore) SaveComment(ctx context.Context, token, comment string, tags []string, sentiment Sentiment) error {
	encoded, err := json.Marshal(tags)
	if err != nil {
		return err
	}
	const q = `
UPDATE survey_responses
SET comment = $2, tags = $3, sentiment = $4, stage = $5, updated_at = $6
WHERE token = $1
`
	res, err := s.db.ExecContext(ctx, q, token, comment, string(encoded), sentiment, StageDone, s.clock().UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresStore) UpsertContact(ctx context.Context, c Contact) (Contact, error) {
	if c.TenantID == "" || c.ID == "" {
		return Contact{}, ErrInvalidArgument
	}
	now := s.clock().UTC()
	const q = `
INSERT INTO contacts (id, tenant_id, name, phone, email, role, active, created_at)
VALUES ($1,$2,$3,$4,$5,$6,TRUE,$7)
ON CONFLICT (tenant_id, phone)
DO UPDATE SET name = EXCLUDED.name, active = TRUE
RETURNING id, tenant_id, name, phone, email, role, active, created_at
`
	var out Contact
	var email, role sql.NullString
	err := s.db.QueryRowContext(ctx, q, c.ID, c.TenantID, c.Name, c.Phone, c.Email, c.Role, now).Scan(
		&out.ID, &out.TenantID, &out.Name, &out.Phone, &email, &role, &out.Active, &out.CreatedAt,
	)
	if err != nil {
		return Contact{}, err
	}
	out.Email = email.String
	out.Role = role.String
	return out, nil
}

func (s *PostgresStore) ListContacts(ctx context.Context, tenantID string) ([]Contact, error) {
	if tenantID == "" {
		return nil, ErrInvalidArgument
	}
	const q = `
SELECT id, tenant_id, name, phone, email, role, active, created_at
FROM contacts
WHERE tenant_id = $1 AND phone <> '' AND active
ORDER BY id
`
	rows, err := s.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Contact, 0)
	for rows.Next() {
		var c Contact
		var email, role sql.NullString
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.Phone, &email, &role, &c.Active, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Email = email.String
		c.Role = role.String
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FindRecentSent(ctx context.Context, tenantID string, since time.Time) ([]Response, error) {
	if tenantID == "" {
		return nil, ErrInvalidArgument
	}
	const q = `
SELECT ` + responseColumns + `
FROM survey_responses
WHERE tenant_id = $1 AND status = $2 AND sent_at >= $3
ORDER BY sent_at DESC
LIMIT 10
`
	return s.queryResponses(ctx, q, tenantID, StatusSent, since.UTC())
}

func (s *PostgresStore) FindRecentByContact(ctx context.Context, contactID string, statuses []Status, since time.Time) ([]Response, error) {
	if contactID == "" {
		return nil, ErrInvalidArgument
	}
	set, err := json.Marshal(statuses)
	if err != nil {
		return nil, err
	}
	const q = `
SELECT ` + responseColumns + `
FROM survey_responses
WHERE contact_id = $1
  AND status IN (SELECT jsonb_array_elements_text($2::jsonb))
  AND updated_at >= $3
ORDER BY updated_at DESC
LIMIT 10
`
	return s.queryResponses(ctx, q, contactID, string(set), since.UTC())
}

func (s *PostgresStore) MarkCampaignProcessing(ctx context.Context, campaignID string) error {
	const q = `UPDATE campaigns SET status = $2 WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, campaignID, CampaignProcessing)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresStore) CompleteCampaign(ctx context.Context, campaignID string, at time.Time) error {
	const q = `UPDATE campaigns SET status = $2, completed_at = $3 WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, campaignID, CampaignCompleted, at.UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresStore) Metrics(ctx context.Context, tenantID string) (Metrics, error) {
	if tenantID == "" {
		return Metrics{}, ErrInvalidArgument
	}
	const q = `
SELECT
  COUNT(*) FILTER (WHERE status = 'ANSWERED' AND score IS NOT NULL)              AS total,
  COUNT(*) FILTER (WHERE status = 'ANSWERED' AND score >= 9)                     AS promoters,
  COUNT(*) FILTER (WHERE status = 'ANSWERED' AND score <= 6)                     AS detractors,
  COUNT(*) FILTER (WHERE status = 'ANSWERED' AND score BETWEEN 7 AND 8)          AS neutrals,
  COUNT(*) FILTER (WHERE status IN ('SENT','ANSWERED'))                          AS reached
FROM survey_responses
WHERE tenant_id = $1
`
	out := Metrics{TenantID: tenantID}
	var reached int
	err := s.db.QueryRowContext(ctx, q, tenantID).Scan(
		&out.Total, &out.Promoters, &out.Detractors, &out.Neutrals, &reached,
	)
	if err != nil {
		return Metrics{}, err
	}
	if out.Total > 0 {
		out.NPS = int(float64(out.Promoters-out.Detractors) / float64(out.Total) * 100)
	}
	if reached > 0 {
		out.ResponseRate = out.Total * 100 / reached
	}
	return out, nil
}

func (s *PostgresStore) RecentFeedback(ctx context.Context, tenantID string, limit int) ([]Response, error) {
	if tenantID == "" {
		return nil, ErrInvalidArgument
	}
	if limit <= 0 {
		limit = 5
	}
	const q = `
SELECT ` + responseColumns + `
FROM survey_responses
WHERE tenant_id = $1 AND status = 'ANSWERED' AND comment <> ''
ORDER BY answered_at DESC
LIMIT $2
`
	return s.queryResponses(ctx, q, tenantID, limit)
}

func (s *PostgresStore) queryResponses(ctx context.Context, q string, args ...any) ([]Response, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Response, 0)
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func updateReturningCampaign(ctx context.Context, tx *sql.Tx, q string, args ...any) (string, error) {
	var campaignID string
	if err := tx.QueryRowContext(ctx, q, args...).Scan(&campaignID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return campaignID, nil
}

func bumpCampaignCounter(ctx context.Context, tx *sql.Tx, campaignID, column string) error {
	var q string
	switch column {
	case "total_sent":
		q = `UPDATE campaigns SET total_sent = total_sent + 1 WHERE id = $1`
	case "total_answered":
		q = `UPDATE campaigns SET total_answered = total_answered + 1 WHERE id = $1`
	default:
		return ErrInvalidArgument
	}
	_, err := tx.ExecContext(ctx, q, campaignID)
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
