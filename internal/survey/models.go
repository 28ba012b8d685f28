package survey

import "time"

// Response lifecycle. PENDING rows exist before the first send attempt;
// FAILED rows are terminal for dispatch but are never deleted.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusSent     Status = "SENT"
	StatusAnswered Status = "ANSWERED"
	StatusFailed   Status = "FAILED"
)

// Stage is the position inside the scripted dialogue. It is persisted as a
// first-class column so crash recovery never has to parse free-form
// metadata. Unknown values read back as VOTE.
type Stage string

const (
	StageVote         Stage = "VOTE"
	StageAskFeedback  Stage = "ASK_FEEDBACK"
	StageWaitFeedback Stage = "WAIT_FEEDBACK"
	StageDone         Stage = "DONE"
)

// ParseStage maps a stored value to a Stage, defaulting to VOTE so rows
// written before the column existed still recover.
func ParseStage(s string) Stage {
	switch Stage(s) {
	case StageAskFeedback, StageWaitFeedback, StageDone:
		return Stage(s)
	default:
		return StageVote
	}
}

type Sentiment string

const (
	SentimentPositive Sentiment = "POSITIVE"
	SentimentNegative Sentiment = "NEGATIVE"
	SentimentNeutral  Sentiment = "NEUTRAL"
)

type CampaignStatus string

const (
	CampaignDraft      CampaignStatus = "DRAFT"
	CampaignProcessing CampaignStatus = "PROCESSING"
	CampaignCompleted  CampaignStatus = "COMPLETED"
)

// Response is one survey instance for one contact.
//
// Invariants:
// - Token is globally unique and immutable.
// - Once Stage == DONE, dialogue-driven mutation stops; only downstream
//   triage fields (outside this service) may change.
type Response struct {
	Token      string `json:"token"`
	TenantID   string `json:"tenant_id"`
	CampaignID string `json:"campaign_id"`
	ContactID  string `json:"contact_id"`

	Channel string `json:"channel"`

	Score     *int      `json:"score,omitempty"`
	Comment   string    `json:"comment,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Sentiment Sentiment `json:"sentiment,omitempty"`

	Status Status `json:"status"`
	Stage  Stage  `json:"stage"`

	SentAt     *time.Time `json:"sent_at,omitempty"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Contact is owned by the surrounding CRM; this service only creates
// identities during dispatch and reads phones for matching.
type Contact struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`

	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`

	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Campaign struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`

	Status        CampaignStatus `json:"status"`
	TotalSent     int            `json:"total_sent"`
	TotalAnswered int            `json:"total_answered"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Metrics is the aggregate snapshot pushed to dashboard viewers.
// Promoters score >= 9, detractors <= 6, neutrals 7-8.
type Metrics struct {
	TenantID string `json:"tenant_id"`

	NPS          int `json:"nps"`
	Total        int `json:"total"`
	Promoters    int `json:"promoters"`
	Detractors   int `json:"detractors"`
	Neutrals     int `json:"neutrals"`
	ResponseRate int `json:"response_rate"`
}
