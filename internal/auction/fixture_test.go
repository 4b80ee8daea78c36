package auction_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/auctionhub/internal/auction"
	"github.com/jensholdgaard/auctionhub/internal/cache"
	"github.com/jensholdgaard/auctionhub/internal/clock"
	"github.com/jensholdgaard/auctionhub/internal/config"
	"github.com/jensholdgaard/auctionhub/internal/event"
	"github.com/jensholdgaard/auctionhub/internal/notify"
	"github.com/jensholdgaard/auctionhub/internal/store"
	"github.com/jensholdgaard/auctionhub/internal/store/memstore"
)

var (
	testTP = noop.NewTracerProvider()
	t0     = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
)

type tb interface {
	Helper()
	Fatalf(format string, args ...any)
}

type delivery struct {
	room string
	user string
	env  event.Envelope
}

// fakePublisher records every delivery.
type fakePublisher struct {
	mu  sync.Mutex
	out []delivery
}

func (p *fakePublisher) BroadcastRoom(auctionID string, env event.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = append(p.out, delivery{room: auctionID, env: env})
}

func (p *fakePublisher) SendToUser(userID string, env event.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = append(p.out, delivery{user: userID, env: env})
}

func (p *fakePublisher) events(t event.Type) []delivery {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []delivery
	for _, d := range p.out {
		if d.env.Event == t {
			out = append(out, d)
		}
	}
	return out
}

type mailbox struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (m *mailbox) Send(_ context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mailbox) to(addr string) []notify.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []notify.Message
	for _, msg := range m.sent {
		if msg.To == addr {
			out = append(out, msg)
		}
	}
	return out
}

type fakeAlerter struct {
	mu   sync.Mutex
	msgs []string
}

func (a *fakeAlerter) Alert(_ context.Context, msg string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, msg)
	return nil
}

func (a *fakeAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.msgs)
}

type fixture struct {
	clock       *clock.Mock
	repos       *store.Repositories
	cache       cache.Cache
	pub         *fakePublisher
	mail        *mailbox
	alerts      *fakeAlerter
	recorder    *notify.Recorder
	coordinator *auction.Coordinator
	scheduler   *auction.Scheduler
	catalog     *auction.Catalog

	seller *store.User
	alice  *store.User
	bob    *store.User
}

func newFixture(t tb) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewMock(t0)
	repos := memstore.New(clk).Repositories()
	c := cache.NewMemory(clk, time.Hour)

	f := &fixture{
		clock:  clk,
		repos:  repos,
		cache:  c,
		pub:    &fakePublisher{},
		mail:   &mailbox{},
		alerts: &fakeAlerter{},
	}
	f.recorder = notify.NewRecorder(repos.Notifications, f.mail, logger, nil)
	f.coordinator = auction.NewCoordinator(repos, c, f.pub, f.recorder, nil,
		config.BiddingConfig{LockTTL: 30 * time.Second}, clk, logger, testTP)
	f.scheduler = auction.NewScheduler(repos, c, f.pub, f.recorder, f.alerts, nil,
		config.SchedulerConfig{LateStartGrace: time.Minute, FireTimeout: 5 * time.Second}, clk, logger, testTP)
	f.catalog = auction.NewCatalog(repos.Auctions, c, f.scheduler, clk, logger, testTP)

	f.seller = f.user(t, "sue", store.RoleSeller)
	f.alice = f.user(t, "alice", store.RoleBuyer)
	f.bob = f.user(t, "bob", store.RoleBuyer)
	return f
}

func (f *fixture) user(t tb, name string, role store.Role) *store.User {
	t.Helper()
	u := &store.User{Username: name, Email: name + "@example.com", Role: role}
	if err := f.repos.Users.Create(context.Background(), u); err != nil {
		t.Fatalf("creating user %s: %v", name, err)
	}
	return u
}

// listing returns a 60 minute auction starting at 50 with increments of 5.
func listing(goLiveAt time.Time) auction.Listing {
	return auction.Listing{
		ItemName:        "Vintage Camera",
		StartingPrice:   decimal.NewFromInt(50),
		BidIncrement:    decimal.NewFromInt(5),
		GoLiveAt:        goLiveAt,
		DurationMinutes: 60,
	}
}

func (f *fixture) create(t tb, goLiveAt time.Time) *store.Auction {
	t.Helper()
	a, err := f.catalog.Create(context.Background(), f.seller.ID, listing(goLiveAt))
	if err != nil {
		t.Fatalf("creating auction: %v", err)
	}
	return a
}

func (f *fixture) status(t tb, id string) store.AuctionStatus {
	t.Helper()
	a, err := f.repos.Auctions.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("loading auction: %v", err)
	}
	return a.Status
}

func (f *fixture) notifications(t tb, userID string, typ store.NotificationType) []store.Notification {
	t.Helper()
	all, err := f.repos.Notifications.ListByUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("listing notifications: %v", err)
	}
	var out []store.Notification
	for _, n := range all {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

func usd(v int64) decimal.Decimal { return decimal.NewFromInt(v) }
