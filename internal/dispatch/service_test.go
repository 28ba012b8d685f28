package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/luizcarelo/nps-saas/internal/conversation"
	"github.com/luizcarelo/nps-saas/internal/gateway"
	"github.com/luizcarelo/nps-saas/internal/identity"
	"github.com/luizcarelo/nps-saas/internal/survey"
)

type fakeGateway struct {
	mu      sync.Mutex
	sent    []gateway.SendRequest
	failFor map[string]bool
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) Send(ctx context.Context, req gateway.SendRequest) (gateway.SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failFor[req.Address] {
		return gateway.SendResult{}, gateway.ErrSendRejected
	}
	g.sent = append(g.sent, req)
	return gateway.SendResult{MessageID: "m1"}, nil
}

func (g *fakeGateway) SessionStatus(ctx context.Context, tenantID string) (gateway.SessionStatus, error) {
	return gateway.SessionStatus{}, nil
}

type countingBroadcaster struct {
	mu sync.Mutex
	n  int
}

func (b *countingBroadcaster) Notify(ctx context.Context, tenantID string) {
	b.mu.Lock()
	b.n++
	b.mu.Unlock()
}

var testNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

type schedulerFixture struct {
	scheduler *Scheduler
	store     *survey.MemoryStore
	gw        *fakeGateway
	contexts  *conversation.Store
	board     *countingBroadcaster
	slept     []time.Duration
}

func newSchedulerFixture(t *testing.T, limiter Limiter) *schedulerFixture {
	t.Helper()
	f := &schedulerFixture{
		store:    survey.NewMemoryStore(),
		gw:       &fakeGateway{failFor: map[string]bool{}},
		contexts: conversation.NewStore(),
		board:    &countingBroadcaster{},
	}
	f.store.Clock = func() time.Time { return testNow }
	f.store.Campaigns["camp-1"] = &survey.Campaign{ID: "camp-1", TenantID: "tenant-1", Status: survey.CampaignDraft}

	f.scheduler = NewScheduler(SchedulerOptions{
		Store:       f.store,
		Gateway:     f.gw,
		Contexts:    f.contexts,
		Resolver:    identity.NewResolver(identity.Options{}),
		Broadcaster: f.board,
		Limiter:     limiter,
	})
	f.scheduler.clock = func() time.Time { return testNow }
	f.scheduler.sleep = func(d time.Duration) { f.slept = append(f.slept, d) }
	return f
}

func batchRequest(n int) Request {
	req := Request{
		CampaignID:  "camp-1",
		TenantID:    "tenant-1",
		Channel:     "whatsapp",
		Template:    "PADRAO",
		CompanyName: "Acme",
	}
	for i := 0; i < n; i++ {
		req.Contacts = append(req.Contacts, ContactInput{
			Name:  fmt.Sprintf("Contact %d", i),
			Phone: fmt.Sprintf("55119%08d", i),
		})
	}
	return req
}

func TestRunToleratesPartialFailures(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	req := batchRequest(10)
	for _, i := range []int{2, 5, 7} {
		f.gw.failFor[req.Contacts[i].Phone] = true
	}

	f.scheduler.Run(context.Background(), req)

	sent, failed := 0, 0
	for _, r := range f.store.Responses {
		switch r.Status {
		case survey.StatusSent:
			sent++
		case survey.StatusFailed:
			failed++
		}
	}
	if sent != 7 || failed != 3 {
		t.Fatalf("expected 7 sent and 3 failed, got %d/%d", sent, failed)
	}

	camp := f.store.Campaigns["camp-1"]
	if camp.Status != survey.CampaignCompleted {
		t.Fatalf("expected campaign COMPLETED, got %s", camp.Status)
	}
	if camp.TotalSent != 7 {
		t.Fatalf("expected total_sent 7, got %d", camp.TotalSent)
	}
	if f.board.n != 1 {
		t.Fatalf("expected one dashboard notification, got %d", f.board.n)
	}
	if len(f.slept) != 9 {
		t.Fatalf("expected a pause between each pair of sends, got %d", len(f.slept))
	}
}

func TestRunSeedsDialogueContexts(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	req := batchRequest(1)

	f.scheduler.Run(context.Background(), req)

	got, ok := f.contexts.Get("tenant-1", req.Contacts[0].Phone)
	if !ok {
		t.Fatalf("expected dialogue context seeded")
	}
	if got.Stage != survey.StageVote || got.Token == "" {
		t.Fatalf("unexpected context %+v", got)
	}
	r, err := f.store.FindByToken(context.Background(), got.Token)
	if err != nil {
		t.Fatalf("find by token: %v", err)
	}
	if r.Status != survey.StatusSent || r.Stage != survey.StageVote {
		t.Fatalf("unexpected response %+v", r)
	}
}

func TestRunRendersPromptPerContact(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	req := batchRequest(1)
	req.Contacts[0].Name = "Maria Souza"

	f.scheduler.Run(context.Background(), req)

	if len(f.gw.sent) != 1 {
		t.Fatalf("expected one send, got %d", len(f.gw.sent))
	}
	text := f.gw.sent[0].Text
	if !strings.Contains(text, "Maria") || !strings.Contains(text, "Acme") {
		t.Fatalf("expected personalized prompt, got %q", text)
	}
	if !strings.Contains(text, "0 a 10") {
		t.Fatalf("expected rating instruction, got %q", text)
	}
}

func TestRunSkipsUndialableContacts(t *testing.T) {
	f := newSchedulerFixture(t, nil)
	req := batchRequest(1)
	req.Contacts[0].Phone = "sem telefone"

	f.scheduler.Run(context.Background(), req)

	if len(f.gw.sent) != 0 {
		t.Fatalf("expected no sends, got %d", len(f.gw.sent))
	}
	if f.store.Campaigns["camp-1"].Status != survey.CampaignCompleted {
		t.Fatalf("expected campaign still completed")
	}
}

func TestStartValidatesRequest(t *testing.T) {
	f := newSchedulerFixture(t, nil)

	err := f.scheduler.Start(context.Background(), Request{TenantID: "tenant-1"})
	if !errors.Is(err, survey.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	err = f.scheduler.Start(context.Background(), Request{CampaignID: "camp-1", TenantID: "tenant-1"})
	if !errors.Is(err, survey.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for empty contacts, got %v", err)
	}
}

type stubLimiter struct {
	allow    bool
	acquired int
	released int
}

func (l *stubLimiter) Acquire(ctx context.Context, tenantID string) (bool, error) {
	l.acquired++
	return l.allow, nil
}

func (l *stubLimiter) Release(ctx context.Context, tenantID string) error {
	l.released++
	return nil
}

func TestStartRejectsWhenTenantAtBatchLimit(t *testing.T) {
	lim := &stubLimiter{allow: false}
	f := newSchedulerFixture(t, lim)

	err := f.scheduler.Start(context.Background(), batchRequest(2))
	if !errors.Is(err, ErrTooManyBatches) {
		t.Fatalf("expected batch limit error, got %v", err)
	}
	if lim.acquired != 1 || lim.released != 0 {
		t.Fatalf("unexpected limiter calls %+v", lim)
	}
}

func TestRunReleasesBatchSlot(t *testing.T) {
	lim := &stubLimiter{allow: true}
	f := newSchedulerFixture(t, lim)

	f.scheduler.Run(context.Background(), batchRequest(1))

	if lim.released != 1 {
		t.Fatalf("expected slot released, got %+v", lim)
	}
}
