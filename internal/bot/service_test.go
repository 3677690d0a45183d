package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/carpool-matching/internal/config"
	"github.com/example/carpool-matching/internal/logging"
	"github.com/example/carpool-matching/internal/matcher"
	"github.com/example/carpool-matching/internal/models"
	"github.com/example/carpool-matching/internal/registry"
	"github.com/example/carpool-matching/internal/storage"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

type stubGeocoder struct{ address string }

func (g stubGeocoder) ReverseGeocode(context.Context, models.Coord) (string, error) {
	return g.address, nil
}

type recordingLoader struct {
	mu    sync.Mutex
	calls map[string]int
}

func (r *recordingLoader) ShowLoading(_ context.Context, userID string, seconds int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[userID] = seconds
	return nil
}

type brokenSessions struct{}

func (brokenSessions) GetOrCreateSession(context.Context, string, time.Time) (*models.UserSession, error) {
	return nil, errors.New("connection refused")
}

func (brokenSessions) SaveSession(context.Context, *models.UserSession) error {
	return errors.New("connection refused")
}

type fixture struct {
	svc    *Service
	store  *storage.MemoryStore
	queue  *storage.MemoryQueue
	locks  *storage.MemoryLocker
	loader *recordingLoader
}

func newFixture() *fixture {
	f := &fixture{
		store:  storage.NewMemoryStore(),
		queue:  storage.NewMemoryQueue(),
		locks:  storage.NewMemoryLocker(),
		loader: &recordingLoader{},
	}
	now := func() time.Time { return t0 }
	cfg := config.DefaultMatchingConfig()
	engine := &matcher.Engine{Queue: f.queue, Groups: f.store, Locks: f.locks, Config: cfg, Now: now, Logger: logging.Discard()}
	reg := &registry.Registry{Groups: f.store, Now: now, Logger: logging.Discard()}
	f.svc = &Service{
		Sessions:    f.store,
		Feedback:    f.store,
		Locks:       f.locks,
		Matcher:     engine,
		Registry:    reg,
		Geocoder:    stubGeocoder{address: "Taipei 101"},
		Loading:     f.loader,
		Config:      cfg,
		LockTimeout: 20 * time.Millisecond,
		Now:         now,
		Logger:      logging.Discard(),
	}
	return f
}

func (f *fixture) register(t *testing.T, userID string, ready bool) {
	t.Helper()
	ctx := context.Background()
	s, err := f.store.GetOrCreateSession(ctx, userID, t0)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	s.Name, s.Phone = "Rider "+userID, "0912345678"
	if ready {
		s.Destination = &models.Coord{Lon: 121.5, Lat: 25}
		s.Address = "Taipei Main Station"
		s.Passengers = 1
	}
	if err := f.store.SaveSession(ctx, s); err != nil {
		t.Fatalf("save: %v", err)
	}
}

func (f *fixture) seedGroup(t *testing.T, ids ...string) {
	t.Helper()
	g := &models.MatchGroup{ID: "group-1", LeaderID: ids[0], Status: models.GroupActive, CreatedAt: t0}
	for _, id := range ids {
		g.Members = append(g.Members, models.GroupMember{UserID: id, Passengers: 1})
		g.TotalPassengers++
	}
	if err := f.store.CreateGroup(context.Background(), g); err != nil {
		t.Fatalf("create group: %v", err)
	}
}

func expectKinds(t *testing.T, got []models.Notification, want ...models.NoticeKind) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d notifications %+v, want kinds %v", len(got), got, want)
	}
	for i := range want {
		if got[i].Kind != want[i] {
			t.Fatalf("notification %d kind = %s, want %s", i, got[i].Kind, want[i])
		}
	}
}

func TestRegistrationConversation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	expectKinds(t, f.svc.OnTextInput(ctx, "u1", "hello"), models.NoticeRegisterPrompt)
	expectKinds(t, f.svc.HandlePostback(ctx, "u1", "action=register"), models.NoticeAskName)
	expectKinds(t, f.svc.OnTextInput(ctx, "u1", "Amy"), models.NoticeAskPhone)
	expectKinds(t, f.svc.OnTextInput(ctx, "u1", "12345"), models.NoticeInvalidPhone)
	expectKinds(t, f.svc.OnTextInput(ctx, "u1", "0912345678"), models.NoticeRegistered)
	expectKinds(t, f.svc.OnRegisterRequested(ctx, "u1"), models.NoticeAlreadyRegistered)

	s, _ := f.store.GetOrCreateSession(ctx, "u1", t0)
	if s.Name != "Amy" || s.Phone != "0912345678" || s.State != models.StateNone {
		t.Fatalf("session = %+v", s)
	}
}

func TestDestinationSetupAndMatchingRequest(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.register(t, "u1", false)

	expectKinds(t, f.svc.OnStartMatchingRequested(ctx, "u1"), models.NoticeSettingsIncomplete)
	expectKinds(t, f.svc.OnLocationInput(ctx, "u1", models.Coord{Lon: 121.56, Lat: 25.03}, ""), models.NoticeUnexpectedLocation)
	expectKinds(t, f.svc.OnTextInput(ctx, "u1", "目的地"), models.NoticeAskDestination)
	expectKinds(t, f.svc.OnStartMatchingRequested(ctx, "u1"), models.NoticeFinishCurrentStep)

	notes := f.svc.OnLocationInput(ctx, "u1", models.Coord{Lon: 121.5645, Lat: 25.0339}, "")
	expectKinds(t, notes, models.NoticeAskPassengers)
	s, _ := f.store.GetOrCreateSession(ctx, "u1", t0)
	if s.Address != "Taipei 101" {
		t.Fatalf("address = %q", s.Address)
	}

	expectKinds(t, f.svc.OnTextInput(ctx, "u1", "9"), models.NoticeInvalidPassengers)
	expectKinds(t, f.svc.OnTextInput(ctx, "u1", "2"), models.NoticeSettingsComplete)
	expectKinds(t, f.svc.OnTextInput(ctx, "u1", "Start Matching"), models.NoticeSearching)

	if got := f.loader.calls["u1"]; got != 30 {
		t.Fatalf("loading indicator seconds = %d", got)
	}
	r, err := f.queue.Get(ctx, "u1")
	if err != nil || r.Passengers != 2 {
		t.Fatalf("pending = %+v, %v", r, err)
	}

	expectKinds(t, f.svc.OnStartMatchingRequested(ctx, "u1"), models.NoticeAlreadyQueued)
	expectKinds(t, f.svc.HandlePostback(ctx, "u1", "action=cancel_pending_match"), models.NoticePendingCancelled)
	expectKinds(t, f.svc.OnCancelPending(ctx, "u1"), models.NoticeNothingToCancel)
}

func TestStartMatchingWhileInGroup(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.register(t, "u1", true)
	f.seedGroup(t, "u1", "u2")

	notes := f.svc.OnStartMatchingRequested(ctx, "u1")
	expectKinds(t, notes, models.NoticeAlreadyMatched)
	if _, err := f.queue.Get(ctx, "u1"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("matched user must not be queued, got %v", err)
	}
}

func TestUnregisteredUserCannotMatch(t *testing.T) {
	f := newFixture()
	expectKinds(t, f.svc.OnStartMatchingRequested(context.Background(), "u9"), models.NoticeRegisterPrompt)
	expectKinds(t, f.svc.OnFeedbackRequested(context.Background(), "u9"), models.NoticeRegisterPrompt)
}

func TestVehicleIDThroughPostbackAndText(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.register(t, "u1", true)
	f.seedGroup(t, "u1", "u2", "u3")

	expectKinds(t, f.svc.HandlePostback(ctx, "u2", "action=submit_vehicle&match_id=group-1"), models.NoticeNotLeader)
	expectKinds(t, f.svc.HandlePostback(ctx, "u1", "action=submit_vehicle&match_id=group-1"), models.NoticeAskVehicleID)
	expectKinds(t, f.svc.OnTextInput(ctx, "u1", "??"), models.NoticeInvalidVehicleID)

	notes := f.svc.OnTextInput(ctx, "u1", "abc-1234")
	expectKinds(t, notes, models.NoticeVehicleRegistered, models.NoticeVehicleAnnouncement, models.NoticeVehicleAnnouncement)
	g, _ := f.store.GetGroup(ctx, "group-1")
	if g.VehicleID != "ABC1234" || g.Status != models.GroupActive {
		t.Fatalf("group = %+v", g)
	}

	// back to Active, so free text is ordinary input again
	expectKinds(t, f.svc.OnTextInput(ctx, "u1", "hello"), models.NoticeMainMenu)
}

func TestLeaveGroupThroughPostback(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seedGroup(t, "u1", "u2")

	expectKinds(t, f.svc.HandlePostback(ctx, "u9", "action=cancel_successful_match&match_id=group-1"), models.NoticeNotAMember)
	notes := f.svc.HandlePostback(ctx, "u2", "action=cancel_successful_match&match_id=group-1")
	expectKinds(t, notes, models.NoticeLeftGroup, models.NoticeGroupCancelled)
	if notes[1].UserID != "u1" {
		t.Fatalf("cancellation must go to u1, got %+v", notes[1])
	}
	expectKinds(t, f.svc.OnLeaveGroup(ctx, "u1", "group-1"), models.NoticeGroupNotFound)
	expectKinds(t, f.svc.OnLeaveGroup(ctx, "u1", "nope"), models.NoticeGroupNotFound)
}

func TestFeedbackIsRecorded(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.register(t, "u1", false)

	expectKinds(t, f.svc.OnTextInput(ctx, "u1", "feedback"), models.NoticeAskFeedback)
	expectKinds(t, f.svc.OnTextInput(ctx, "u1", "please add airport routes"), models.NoticeFeedbackThanks)
	fb := f.store.Feedback()
	if len(fb) != 1 || fb[0].Text != "please add airport routes" || fb[0].Name != "Rider u1" {
		t.Fatalf("feedback = %+v", fb)
	}
}

func TestPostbackRouting(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	expectKinds(t, f.svc.HandlePostback(ctx, "u1", "action=help"), models.NoticeHelp)
	expectKinds(t, f.svc.HandlePostback(ctx, "u1", "action=teleport"), models.NoticeUnknownCommand)
	expectKinds(t, f.svc.HandlePostback(ctx, "u1", "action=cancel_successful_match"), models.NoticeUnknownCommand)
	expectKinds(t, f.svc.HandlePostback(ctx, "u1", "%zz"), models.NoticeUnknownCommand)
}

func TestBusyUserGetsBusyNotice(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	unlock, err := f.locks.Lock(ctx, "u1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()
	expectKinds(t, f.svc.OnTextInput(ctx, "u1", "hi"), models.NoticeBusy)
}

func TestStoreFailureIsHiddenFromUser(t *testing.T) {
	f := newFixture()
	f.svc.Sessions = brokenSessions{}
	notes := f.svc.OnRegisterRequested(context.Background(), "u1")
	expectKinds(t, notes, models.NoticeServiceError)
	if notes[0].Text == "" || notes[0].Text == "connection refused" {
		t.Fatalf("unexpected text %q", notes[0].Text)
	}
}
