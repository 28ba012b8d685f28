package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/luizcarelo/nps-saas/internal/gateway"
	"github.com/luizcarelo/nps-saas/internal/identity"
	"github.com/luizcarelo/nps-saas/internal/survey"
)

type fakeGateway struct {
	mu   sync.Mutex
	sent []gateway.SendRequest
	fail bool
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) Send(ctx context.Context, req gateway.SendRequest) (gateway.SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail {
		return gateway.SendResult{}, gateway.ErrNotConnected
	}
	g.sent = append(g.sent, req)
	return gateway.SendResult{MessageID: "m1"}, nil
}

func (g *fakeGateway) SessionStatus(ctx context.Context, tenantID string) (gateway.SessionStatus, error) {
	return gateway.SessionStatus{}, nil
}

func (g *fakeGateway) lastText() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.sent) == 0 {
		return ""
	}
	return g.sent[len(g.sent)-1].Text
}

type recordingBroadcaster struct {
	mu      sync.Mutex
	tenants []string
}

func (b *recordingBroadcaster) Notify(ctx context.Context, tenantID string) {
	b.mu.Lock()
	b.tenants = append(b.tenants, tenantID)
	b.mu.Unlock()
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tenants)
}

var testNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

type engineFixture struct {
	engine *Engine
	store  *survey.MemoryStore
	gw     *fakeGateway
	board  *recordingBroadcaster
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	store := survey.NewMemoryStore()
	store.Clock = func() time.Time { return testNow }
	gw := &fakeGateway{}
	board := &recordingBroadcaster{}
	e := NewEngine(EngineOptions{
		Responses:   store,
		Gateway:     gw,
		Resolver:    identity.NewResolver(identity.Options{}),
		Broadcaster: board,
	})
	e.clock = func() time.Time { return testNow }
	return &engineFixture{engine: e, store: store, gw: gw, board: board}
}

const (
	testTenant = "tenant-1"
	testPhone  = "5511988887777"
	testToken  = "tok-1"
)

// seedDialogue installs a SENT survey for the test contact and primes the
// in-memory context at the given stage.
func (f *engineFixture) seedDialogue(t *testing.T, stage survey.Stage) {
	t.Helper()
	sentAt := testNow.Add(-5 * time.Minute)
	f.store.Campaigns["camp-1"] = &survey.Campaign{ID: "camp-1", TenantID: testTenant, Status: survey.CampaignProcessing}
	f.store.Contacts["c1"] = &survey.Contact{ID: "c1", TenantID: testTenant, Name: "Maria", Phone: testPhone, Active: true}
	f.store.Responses[testToken] = &survey.Response{
		Token:      testToken,
		TenantID:   testTenant,
		CampaignID: "camp-1",
		ContactID:  "c1",
		Status:     survey.StatusSent,
		Stage:      survey.StageVote,
		SentAt:     &sentAt,
		UpdatedAt:  sentAt,
	}
	f.engine.Contexts().Set(testTenant, testPhone, Context{
		Token:        testToken,
		CampaignID:   "camp-1",
		Stage:        stage,
		ContactPhone: testPhone,
		StartedAt:    sentAt,
	})
}

func (f *engineFixture) inbound(t *testing.T, text string) {
	t.Helper()
	err := f.engine.HandleMessage(context.Background(), gateway.InboundMessage{
		TenantID: testTenant,
		From:     testPhone,
		Text:     text,
	})
	if err != nil {
		t.Fatalf("handle message: %v", err)
	}
}

func TestSimultaneousVotesRecordSingleAnswer(t *testing.T) {
	f := newEngineFixture(t)
	f.seedDialogue(t, survey.StageVote)

	// Two copies of the same vote arriving at once must serialize on the
	// identity: exactly one marks the response answered, the other lands
	// on the advanced stage and is handled there.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := gateway.InboundMessage{TenantID: testTenant, From: testPhone, Text: "9"}
			if err := f.engine.HandleMessage(context.Background(), msg); err != nil {
				t.Errorf("handle message: %v", err)
			}
		}()
	}
	wg.Wait()

	r := f.store.Responses[testToken]
	if r.Status != survey.StatusAnswered || r.Score == nil || *r.Score != 9 {
		t.Fatalf("expected one answered response with score 9, got %+v", r)
	}
	if got := f.store.Campaigns["camp-1"].TotalAnswered; got != 1 {
		t.Fatalf("expected answered counter 1, got %d", got)
	}
	if got := f.board.count(); got != 1 {
		t.Fatalf("expected 1 broadcast, got %d", got)
	}
	cached, ok := f.engine.Contexts().Get(testTenant, testPhone)
	if !ok || cached.Stage != survey.StageAskFeedback {
		t.Fatalf("expected cached context at ASK_FEEDBACK, got %+v (ok=%v)", cached, ok)
	}
}

func TestVoteAdvancesToFeedbackQuestion(t *testing.T) {
	f := newEngineFixture(t)
	f.seedDialogue(t, survey.StageVote)

	f.inbound(t, "9")

	r := f.store.Responses[testToken]
	if r.Status != survey.StatusAnswered || r.Score == nil || *r.Score != 9 {
		t.Fatalf("expected answered with score 9, got %+v", r)
	}
	if r.Stage != survey.StageAskFeedback {
		t.Fatalf("expected stage ASK_FEEDBACK, got %s", r.Stage)
	}
	if f.board.count() != 1 {
		t.Fatalf("expected one dashboard notification, got %d", f.board.count())
	}
	if !strings.Contains(f.gw.lastText(), "Nota 9") {
		t.Fatalf("expected feedback question, got %q", f.gw.lastText())
	}

	got, ok := f.engine.Contexts().Get(testTenant, testPhone)
	if !ok || got.Stage != survey.StageAskFeedback {
		t.Fatalf("expected cached context at ASK_FEEDBACK, got %+v ok=%v", got, ok)
	}
}

func TestVoteOutOfRangeGetsReprompt(t *testing.T) {
	f := newEngineFixture(t)
	f.seedDialogue(t, survey.StageVote)

	f.inbound(t, "15")

	r := f.store.Responses[testToken]
	if r.Status != survey.StatusSent || r.Score != nil {
		t.Fatalf("expected untouched response, got %+v", r)
	}
	if f.gw.lastText() != msgVoteReprompt {
		t.Fatalf("expected reprompt, got %q", f.gw.lastText())
	}
}

func TestVoteStageIgnoresLongChatter(t *testing.T) {
	f := newEngineFixture(t)
	f.seedDialogue(t, survey.StageVote)

	f.inbound(t, "oi, tudo bem? depois falamos")

	if len(f.gw.sent) != 0 {
		t.Fatalf("expected no outbound message, got %d", len(f.gw.sent))
	}
	if r := f.store.Responses[testToken]; r.Status != survey.StatusSent {
		t.Fatalf("expected response untouched, got %+v", r)
	}
}

func TestVoteStageExitClearsContext(t *testing.T) {
	f := newEngineFixture(t)
	f.seedDialogue(t, survey.StageVote)

	f.inbound(t, "sair")

	if _, ok := f.engine.Contexts().Get(testTenant, testPhone); ok {
		t.Fatalf("expected context cleared after exit")
	}
	if len(f.gw.sent) != 0 {
		t.Fatalf("expected silent exit, got %d sends", len(f.gw.sent))
	}
}

func TestFeedbackDecisionYesOpensFreeText(t *testing.T) {
	f := newEngineFixture(t)
	f.seedDialogue(t, survey.StageAskFeedback)

	f.inbound(t, "Sim, quero")

	if r := f.store.Responses[testToken]; r.Stage != survey.StageWaitFeedback {
		t.Fatalf("expected stage WAIT_FEEDBACK, got %s", r.Stage)
	}
	if f.gw.lastText() != msgFeedbackOpen {
		t.Fatalf("expected open prompt, got %q", f.gw.lastText())
	}
}

func TestFeedbackDecisionNoClosesDialogue(t *testing.T) {
	f := newEngineFixture(t)
	f.seedDialogue(t, survey.StageAskFeedback)

	f.inbound(t, "não")

	if r := f.store.Responses[testToken]; r.Stage != survey.StageDone {
		t.Fatalf("expected stage DONE, got %s", r.Stage)
	}
	if _, ok := f.engine.Contexts().Get(testTenant, testPhone); ok {
		t.Fatalf("expected context cleared")
	}
	if f.gw.lastText() != msgClosingNo {
		t.Fatalf("expected closing message, got %q", f.gw.lastText())
	}
}

func TestFeedbackDecisionUnrecognizedAsksAgain(t *testing.T) {
	f := newEngineFixture(t)
	f.seedDialogue(t, survey.StageAskFeedback)

	f.inbound(t, "talvez amanhã")

	if r := f.store.Responses[testToken]; r.Stage != survey.StageVote {
		t.Fatalf("expected persisted stage untouched, got %s", r.Stage)
	}
	if f.gw.lastText() != msgClarifyYesNo {
		t.Fatalf("expected clarification, got %q", f.gw.lastText())
	}
}

func TestFreeTextFeedbackSavedWithTags(t *testing.T) {
	f := newEngineFixture(t)
	f.seedDialogue(t, survey.StageWaitFeedback)

	f.inbound(t, "Ótimo atendimento, super rápido")

	r := f.store.Responses[testToken]
	if r.Comment != "Ótimo atendimento, super rápido" {
		t.Fatalf("expected comment saved, got %q", r.Comment)
	}
	if len(r.Tags) != 1 || r.Tags[0] != "ATENDIMENTO" {
		t.Fatalf("expected ATENDIMENTO tag, got %v", r.Tags)
	}
	if r.Sentiment != survey.SentimentPositive {
		t.Fatalf("expected positive sentiment, got %s", r.Sentiment)
	}
	if r.Stage != survey.StageDone {
		t.Fatalf("expected stage DONE, got %s", r.Stage)
	}
	if _, ok := f.engine.Contexts().Get(testTenant, testPhone); ok {
		t.Fatalf("expected context cleared after feedback")
	}
	if f.board.count() != 1 {
		t.Fatalf("expected one dashboard notification, got %d", f.board.count())
	}
}

func TestStaleDoneContextIsDropped(t *testing.T) {
	f := newEngineFixture(t)
	f.seedDialogue(t, survey.StageDone)

	f.inbound(t, "obrigado!")

	if len(f.gw.sent) != 0 {
		t.Fatalf("expected no outbound message, got %d", len(f.gw.sent))
	}
	if _, ok := f.engine.Contexts().Get(testTenant, testPhone); ok {
		t.Fatalf("expected stale context cleared")
	}
}

func TestMessageWithoutContextIsDropped(t *testing.T) {
	f := newEngineFixture(t)

	f.inbound(t, "7")

	if len(f.gw.sent) != 0 {
		t.Fatalf("expected silent drop, got %d sends", len(f.gw.sent))
	}
}

// failingStore wraps the memory store and injects one persistence failure.
type failingStore struct {
	*survey.MemoryStore
	failMarkAnswered bool
}

func (s *failingStore) MarkAnswered(ctx context.Context, token string, score int, at time.Time) error {
	if s.failMarkAnswered {
		return errors.New("disk on fire")
	}
	return s.MemoryStore.MarkAnswered(ctx, token, score, at)
}

func TestPersistenceFailureLeavesStateForRetry(t *testing.T) {
	f := newEngineFixture(t)
	f.seedDialogue(t, survey.StageVote)
	fs := &failingStore{MemoryStore: f.store, failMarkAnswered: true}
	f.engine.responses = fs

	f.inbound(t, "9")

	if r := f.store.Responses[testToken]; r.Status != survey.StatusSent {
		t.Fatalf("expected response untouched after failure, got %+v", r)
	}
	if got, _ := f.engine.Contexts().Get(testTenant, testPhone); got.Stage != survey.StageVote {
		t.Fatalf("expected context still at VOTE, got %+v", got)
	}
	if f.board.count() != 0 {
		t.Fatalf("expected no notification on failure")
	}

	// Store recovers; the same vote lands on retry.
	fs.failMarkAnswered = false
	f.inbound(t, "9")

	if r := f.store.Responses[testToken]; r.Status != survey.StatusAnswered {
		t.Fatalf("expected answered after retry, got %+v", r)
	}
}

func TestGatewayFailureDoesNotRollBackVote(t *testing.T) {
	f := newEngineFixture(t)
	f.seedDialogue(t, survey.StageVote)
	f.gw.fail = true

	f.inbound(t, "10")

	r := f.store.Responses[testToken]
	if r.Status != survey.StatusAnswered || *r.Score != 10 {
		t.Fatalf("expected vote persisted despite send failure, got %+v", r)
	}
	if got, _ := f.engine.Contexts().Get(testTenant, testPhone); got.Stage != survey.StageAskFeedback {
		t.Fatalf("expected context advanced, got %+v", got)
	}
}

func TestStoreKeysAreTenantScoped(t *testing.T) {
	s := NewStore()
	s.Set("t1", testPhone, Context{Token: "a"})
	s.Set("t2", testPhone, Context{Token: "b"})

	if got, _ := s.Get("t1", testPhone); got.Token != "a" {
		t.Fatalf("expected t1 context, got %+v", got)
	}
	s.Clear("t1", testPhone)
	if _, ok := s.Get("t1", testPhone); ok {
		t.Fatalf("expected t1 cleared")
	}
	if got, ok := s.Get("t2", testPhone); !ok || got.Token != "b" {
		t.Fatalf("expected t2 untouched, got %+v ok=%v", got, ok)
	}
	if s.Len() != 1 {
		t.Fatalf("expected one live context, got %d", s.Len())
	}
}
