package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"eventgate/internal/audit"
	"eventgate/internal/bucketing"
	"eventgate/internal/config"
	"eventgate/internal/hashing"
	"eventgate/internal/model"
	redisrepo "eventgate/internal/repository/redis"
	"eventgate/internal/repository/scylla"
	"eventgate/internal/store/memory"
)

// fakeEventRepository is an in-memory scylla.EventRepository.
type fakeEventRepository struct {
	mu     sync.Mutex
	events map[string]*model.Event
	nextID int
}

func newFakeEventRepository() *fakeEventRepository {
	return &fakeEventRepository{events: make(map[string]*model.Event)}
}

func (r *fakeEventRepository) CreateEvent(_ context.Context, event *model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.EventID == "" {
		r.nextID++
		event.EventID = fmt.Sprintf("event-%d", r.nextID)
	}
	event.CreatedAt = time.Now().UTC()
	copied := *event
	r.events[event.EventID] = &copied
	return nil
}

func (r *fakeEventRepository) GetEventByID(_ context.Context, eventID string) (*model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, ok := r.events[eventID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", scylla.ErrEventNotFound, eventID)
	}
	copied := *event
	return &copied, nil
}

func (r *fakeEventRepository) UpdateEventPIN(_ context.Context, eventID string, pinHash model.HashedCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, ok := r.events[eventID]
	if !ok {
		return fmt.Errorf("%w: %s", scylla.ErrEventNotFound, eventID)
	}
	event.PINHash = pinHash
	now := time.Now().UTC()
	event.UpdatedAt = &now
	return nil
}

func (r *fakeEventRepository) DeleteEvent(_ context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.events, eventID)
	return nil
}

func newTestPINService(cfg *config.Config) (*PINSessionService, *fakeEventRepository, *memory.Store) {
	mem := memory.New()
	buckets := bucketing.NewManager(cfg)
	limiter := NewRateLimiter(redisrepo.NewRateLimitCache(mem), buckets, cfg)
	repo := newFakeEventRepository()

	svc := NewPINSessionService(
		cfg,
		repo,
		redisrepo.NewPINSessionCache(mem),
		limiter,
		hashing.NewHasher(cfg),
		audit.NopEmitter{},
	)
	return svc, repo, mem
}

func TestVerifyPINOpensSession(t *testing.T) {
	cfg := testConfig()
	svc, _, _ := newTestPINService(cfg)
	ctx := context.Background()

	event, err := svc.CreateEvent(ctx, "launch party", "123456")
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}

	session, err := svc.VerifyPIN(ctx, event.EventID, "123456", "10.0.0.1", "agent-a")
	if err != nil {
		t.Fatalf("VerifyPIN: %v", err)
	}
	if session.SessionID == "" {
		t.Fatal("empty session ID")
	}
	if session.EventID != event.EventID {
		t.Fatalf("session event = %q, want %q", session.EventID, event.EventID)
	}
	if session.ClientSignature == "" {
		t.Fatal("fingerprint binding enabled but signature empty")
	}

	got, err := svc.CheckSession(ctx, session.SessionID, event.EventID, "10.0.0.1", "agent-a")
	if err != nil {
		t.Fatalf("CheckSession: %v", err)
	}
	if got.SessionID != session.SessionID {
		t.Fatalf("CheckSession returned session %q", got.SessionID)
	}
}

func TestVerifyPINWrongPIN(t *testing.T) {
	cfg := testConfig()
	svc, _, _ := newTestPINService(cfg)
	ctx := context.Background()

	event, _ := svc.CreateEvent(ctx, "launch party", "123456")

	_, err := svc.VerifyPIN(ctx, event.EventID, "654321", "10.0.0.1", "agent-a")
	if !errors.Is(err, ErrInvalidPIN) {
		t.Fatalf("err = %v, want ErrInvalidPIN", err)
	}
}

func TestVerifyPINFormat(t *testing.T) {
	cfg := testConfig()
	svc, _, _ := newTestPINService(cfg)
	ctx := context.Background()

	event, _ := svc.CreateEvent(ctx, "launch party", "123456")

	for _, pin := range []string{"", "12345", "1234567", "12345a", "12 456"} {
		t.Run(fmt.Sprintf("%q", pin), func(t *testing.T) {
			_, err := svc.VerifyPIN(ctx, event.EventID, pin, "10.0.0.1", "agent-a")
			if !errors.Is(err, ErrPINFormat) {
				t.Fatalf("err = %v, want ErrPINFormat", err)
			}
		})
	}
}

func TestVerifyPINUnknownEvent(t *testing.T) {
	cfg := testConfig()
	svc, _, _ := newTestPINService(cfg)

	_, err := svc.VerifyPIN(context.Background(), "no-such-event", "123456", "10.0.0.1", "agent-a")
	if !errors.Is(err, scylla.ErrEventNotFound) {
		t.Fatalf("err = %v, want ErrEventNotFound", err)
	}
}

func TestVerifyPINRateLimited(t *testing.T) {
	cfg := testConfig()
	svc, _, _ := newTestPINService(cfg)
	ctx := context.Background()

	event, _ := svc.CreateEvent(ctx, "launch party", "123456")

	for i := 0; i < 5; i++ {
		svc.VerifyPIN(ctx, event.EventID, "000001", "10.0.0.1", "agent-a")
	}

	// Window exhausted: even the correct PIN is refused from this origin.
	_, err := svc.VerifyPIN(ctx, event.EventID, "123456", "10.0.0.1", "agent-a")
	var rateErr *RateLimitedError
	if !errors.As(err, &rateErr) {
		t.Fatalf("err = %v, want RateLimitedError", err)
	}

	// Another origin is unaffected.
	if _, err := svc.VerifyPIN(ctx, event.EventID, "123456", "10.0.0.2", "agent-a"); err != nil {
		t.Fatalf("fresh origin: %v", err)
	}
}

func TestCheckSessionBindings(t *testing.T) {
	cfg := testConfig()
	svc, _, _ := newTestPINService(cfg)
	ctx := context.Background()

	eventA, _ := svc.CreateEvent(ctx, "event a", "123456")
	eventB, _ := svc.CreateEvent(ctx, "event b", "222222")

	session, err := svc.VerifyPIN(ctx, eventA.EventID, "123456", "10.0.0.1", "agent-a")
	if err != nil {
		t.Fatalf("VerifyPIN: %v", err)
	}

	tests := []struct {
		name      string
		sessionID string
		eventID   string
		origin    string
		userAgent string
	}{
		{"unknown session", "bogus-session", eventA.EventID, "10.0.0.1", "agent-a"},
		{"empty session", "", eventA.EventID, "10.0.0.1", "agent-a"},
		{"different event", session.SessionID, eventB.EventID, "10.0.0.1", "agent-a"},
		{"different origin", session.SessionID, eventA.EventID, "10.0.0.2", "agent-a"},
		{"different user agent", session.SessionID, eventA.EventID, "10.0.0.1", "agent-b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CheckSession(ctx, tt.sessionID, tt.eventID, tt.origin, tt.userAgent)
			if !errors.Is(err, ErrSessionInvalid) {
				t.Fatalf("err = %v, want ErrSessionInvalid", err)
			}
		})
	}
}

func TestCheckSessionWithoutBinding(t *testing.T) {
	cfg := testConfig()
	cfg.PIN.FingerprintBinding = false
	svc, _, _ := newTestPINService(cfg)
	ctx := context.Background()

	event, _ := svc.CreateEvent(ctx, "launch party", "123456")
	session, err := svc.VerifyPIN(ctx, event.EventID, "123456", "10.0.0.1", "agent-a")
	if err != nil {
		t.Fatalf("VerifyPIN: %v", err)
	}
	if session.ClientSignature != "" {
		t.Fatal("signature set with binding disabled")
	}

	// Any client may present the session when binding is off.
	if _, err := svc.CheckSession(ctx, session.SessionID, event.EventID, "10.9.9.9", "agent-z"); err != nil {
		t.Fatalf("CheckSession: %v", err)
	}
}

func TestSessionExpiry(t *testing.T) {
	cfg := testConfig()
	svc, _, mem := newTestPINService(cfg)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mem.SetClock(func() time.Time { return now })

	event, _ := svc.CreateEvent(ctx, "launch party", "123456")
	session, err := svc.VerifyPIN(ctx, event.EventID, "123456", "10.0.0.1", "agent-a")
	if err != nil {
		t.Fatalf("VerifyPIN: %v", err)
	}

	now = now.Add(cfg.PIN.SessionTTL + time.Minute)
	_, err = svc.CheckSession(ctx, session.SessionID, event.EventID, "10.0.0.1", "agent-a")
	if !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("lapsed session: err = %v, want ErrSessionInvalid", err)
	}
}

func TestRotatePINKeepsSessions(t *testing.T) {
	cfg := testConfig()
	svc, _, _ := newTestPINService(cfg)
	ctx := context.Background()

	event, _ := svc.CreateEvent(ctx, "launch party", "123456")
	session, err := svc.VerifyPIN(ctx, event.EventID, "123456", "10.0.0.1", "agent-a")
	if err != nil {
		t.Fatalf("VerifyPIN: %v", err)
	}

	if err := svc.RotateEventPIN(ctx, event.EventID, "999999"); err != nil {
		t.Fatalf("RotateEventPIN: %v", err)
	}

	// The old PIN no longer opens sessions, but sessions already open hold.
	if _, err := svc.VerifyPIN(ctx, event.EventID, "123456", "10.0.0.3", "agent-b"); !errors.Is(err, ErrInvalidPIN) {
		t.Fatalf("old PIN after rotation: err = %v, want ErrInvalidPIN", err)
	}
	if _, err := svc.VerifyPIN(ctx, event.EventID, "999999", "10.0.0.4", "agent-c"); err != nil {
		t.Fatalf("new PIN: %v", err)
	}
	if _, err := svc.CheckSession(ctx, session.SessionID, event.EventID, "10.0.0.1", "agent-a"); err != nil {
		t.Fatalf("existing session after rotation: %v", err)
	}
}

func TestEndSession(t *testing.T) {
	cfg := testConfig()
	svc, _, _ := newTestPINService(cfg)
	ctx := context.Background()

	event, _ := svc.CreateEvent(ctx, "launch party", "123456")
	session, err := svc.VerifyPIN(ctx, event.EventID, "123456", "10.0.0.1", "agent-a")
	if err != nil {
		t.Fatalf("VerifyPIN: %v", err)
	}

	if err := svc.EndSession(ctx, session.SessionID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	_, err = svc.CheckSession(ctx, session.SessionID, event.EventID, "10.0.0.1", "agent-a")
	if !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("ended session: err = %v, want ErrSessionInvalid", err)
	}

	if err := svc.EndSession(ctx, ""); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("empty session ID: err = %v, want ErrSessionInvalid", err)
	}
}

func TestDeleteEvent(t *testing.T) {
	cfg := testConfig()
	svc, _, _ := newTestPINService(cfg)
	ctx := context.Background()

	event, _ := svc.CreateEvent(ctx, "launch party", "123456")

	if err := svc.DeleteEvent(ctx, event.EventID); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}

	if _, err := svc.VerifyPIN(ctx, event.EventID, "123456", "10.0.0.1", "agent-a"); !errors.Is(err, scylla.ErrEventNotFound) {
		t.Fatalf("PIN after delete: err = %v, want ErrEventNotFound", err)
	}

	if err := svc.DeleteEvent(ctx, "no-such-event"); !errors.Is(err, scylla.ErrEventNotFound) {
		t.Fatalf("delete unknown event: err = %v, want ErrEventNotFound", err)
	}
}

func TestCreateEventSanitizesName(t *testing.T) {
	cfg := testConfig()
	svc, _, _ := newTestPINService(cfg)

	event, err := svc.CreateEvent(context.Background(), "  <b>launch party</b> ", "123456")
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if event.Name != "&lt;b&gt;launch party&lt;/b&gt;" {
		t.Fatalf("stored name = %q, markup not escaped", event.Name)
	}
}
