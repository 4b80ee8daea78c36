package auction_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/jensholdgaard/auctionhub/internal/auction"
	"github.com/jensholdgaard/auctionhub/internal/cache"
	"github.com/jensholdgaard/auctionhub/internal/config"
	"github.com/jensholdgaard/auctionhub/internal/event"
	"github.com/jensholdgaard/auctionhub/internal/store"
)

// seed stores an auction directly in the ledger, bypassing the Catalog,
// to model state left behind by a previous process.
func (f *fixture) seed(t *testing.T, status store.AuctionStatus, goLiveAt time.Time, minutes int) *store.Auction {
	t.Helper()
	a := &store.Auction{
		SellerID:        f.seller.ID,
		ItemName:        "Vintage Camera",
		StartingPrice:   usd(50),
		BidIncrement:    usd(5),
		GoLiveAt:        goLiveAt,
		DurationMinutes: minutes,
		Status:          status,
	}
	if err := f.repos.Auctions.Create(context.Background(), a); err != nil {
		t.Fatalf("seeding auction: %v", err)
	}
	return a
}

func TestScheduler_RoundTrip(t *testing.T) {
	f := newFixture(t)
	a, err := f.catalog.Create(context.Background(), f.seller.ID, auction.Listing{
		ItemName:        "Lamp",
		StartingPrice:   usd(10),
		BidIncrement:    usd(1),
		GoLiveAt:        t0.Add(10 * time.Second),
		DurationMinutes: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != store.StatusScheduled {
		t.Fatalf("status = %s, want scheduled", a.Status)
	}

	f.clock.Advance(10 * time.Second)
	if got := f.status(t, a.ID); got != store.StatusLive {
		t.Fatalf("status after 10s = %s, want live", got)
	}
	started := f.pub.events(event.AuctionStarted)
	if len(started) != 1 {
		t.Fatalf("auction_started events = %d, want 1", len(started))
	}
	if endsAt := started[0].env.Data.(event.AuctionStartedData).EndsAt; !endsAt.Equal(t0.Add(70 * time.Second)) {
		t.Errorf("endsAt = %v, want %v", endsAt, t0.Add(70*time.Second))
	}

	f.clock.Advance(60 * time.Second)
	if got := f.status(t, a.ID); got != store.StatusEnded {
		t.Fatalf("status after 70s = %s, want ended", got)
	}
	ended := f.pub.events(event.AuctionEnded)
	if len(ended) != 1 {
		t.Fatalf("auction_ended events = %d, want 1", len(ended))
	}
	if hb := ended[0].env.Data.(event.AuctionEndedData).HighestBid; hb != nil {
		t.Errorf("highestBid = %+v, want nil for an unsold auction", hb)
	}
	if start, end := f.scheduler.Armed(a.ID); start || end {
		t.Errorf("Armed = %v, %v after end, want none", start, end)
	}
}

func TestScheduler_ReconcileLiveAuctionKeepsEndTime(t *testing.T) {
	f := newFixture(t)
	// Went live 30 minutes before this process started.
	a := f.seed(t, store.StatusLive, t0.Add(-30*time.Minute), 60)

	if err := f.scheduler.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got := f.status(t, a.ID); got != store.StatusLive {
		t.Fatalf("status right after reconcile = %s, want live", got)
	}
	if _, end := f.scheduler.Armed(a.ID); !end {
		t.Fatal("end timer not armed")
	}

	f.clock.Advance(30*time.Minute - time.Second)
	if got := f.status(t, a.ID); got != store.StatusLive {
		t.Fatalf("status at T+60m-1s = %s, want live", got)
	}
	f.clock.Advance(time.Second)
	if got := f.status(t, a.ID); got != store.StatusEnded {
		t.Fatalf("status at T+60m = %s, want ended", got)
	}
}

func TestScheduler_ReconcileOverdue(t *testing.T) {
	tests := []struct {
		name       string
		status     store.AuctionStatus
		goLiveAt   time.Time
		wantStatus store.AuctionStatus
		wantAlerts int
	}{
		{name: "start within grace", status: store.StatusScheduled, goLiveAt: t0.Add(-30 * time.Second), wantStatus: store.StatusLive},
		{name: "start past grace", status: store.StatusScheduled, goLiveAt: t0.Add(-5 * time.Minute), wantStatus: store.StatusLive, wantAlerts: 1},
		{name: "end overdue", status: store.StatusLive, goLiveAt: t0.Add(-2 * time.Hour), wantStatus: store.StatusEnded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			a := f.seed(t, tt.status, tt.goLiveAt, 60)

			if err := f.scheduler.Reconcile(context.Background()); err != nil {
				t.Fatalf("Reconcile: %v", err)
			}
			if got := f.status(t, a.ID); got != tt.wantStatus {
				t.Errorf("status = %s, want %s", got, tt.wantStatus)
			}
			if got := f.alerts.count(); got != tt.wantAlerts {
				t.Errorf("alerts = %d, want %d", got, tt.wantAlerts)
			}
		})
	}
}

func TestScheduler_EndNotifiesWinnerAndSeller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, t0)

	bid, err := f.coordinator.PlaceBid(ctx, a.ID, f.alice.ID, usd(80))
	if err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(time.Hour)

	if got := f.status(t, a.ID); got != store.StatusEnded {
		t.Fatalf("status = %s, want ended", got)
	}
	if n := f.notifications(t, f.seller.ID, store.NotifyAuctionEnded); len(n) != 1 {
		t.Errorf("seller auction_ended notifications = %d, want 1", len(n))
	}
	if n := f.notifications(t, f.alice.ID, store.NotifyAuctionWon); len(n) != 1 {
		t.Errorf("bidder auction_won notifications = %d, want 1", len(n))
	}
	if got := f.mail.to(f.alice.Email); len(got) != 1 {
		t.Errorf("emails to bidder = %d, want 1", len(got))
	}
	if got := f.mail.to(f.seller.Email); len(got) != 1 {
		t.Errorf("emails to seller = %d, want 1", len(got))
	}

	ended := f.pub.events(event.AuctionEnded)
	if len(ended) != 1 {
		t.Fatalf("auction_ended events = %d, want 1", len(ended))
	}
	hb := ended[0].env.Data.(event.AuctionEndedData).HighestBid
	if hb == nil || hb.BidID != bid.ID {
		t.Errorf("highestBid = %+v, want bid %s", hb, bid.ID)
	}
}

func TestScheduler_TransitionsRunOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.seed(t, store.StatusScheduled, t0, 60)

	// Both calls see the stale scheduled status; only one may start it.
	f.scheduler.Track(ctx, a)
	f.scheduler.Track(ctx, a)

	if got := len(f.pub.events(event.AuctionStarted)); got != 1 {
		t.Errorf("auction_started events = %d, want 1", got)
	}
}

func TestScheduler_ForceStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, t0.Add(24*time.Hour))

	started, err := f.scheduler.ForceStart(ctx, a.ID)
	if err != nil {
		t.Fatalf("ForceStart: %v", err)
	}
	if started.Status != store.StatusLive || !started.GoLiveAt.Equal(t0) {
		t.Errorf("auction = %s at %v, want live at %v", started.Status, started.GoLiveAt, t0)
	}
	if start, end := f.scheduler.Armed(a.ID); start || !end {
		t.Errorf("Armed = start %v end %v, want end only", start, end)
	}
	if got := len(f.pub.events(event.AuctionStarted)); got != 1 {
		t.Errorf("auction_started events = %d, want 1", got)
	}
	if _, err := f.coordinator.PlaceBid(ctx, a.ID, f.alice.ID, usd(50)); err != nil {
		t.Errorf("bid after force start: %v", err)
	}

	if _, err := f.scheduler.ForceStart(ctx, a.ID); !errors.Is(err, auction.ErrNotScheduled) {
		t.Errorf("second ForceStart err = %v, want ErrNotScheduled", err)
	}
	if _, err := f.scheduler.ForceStart(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("ForceStart missing err = %v, want ErrNotFound", err)
	}

	// The original start time must not fire again.
	f.clock.Advance(24 * time.Hour)
	if got := len(f.pub.events(event.AuctionStarted)); got != 1 {
		t.Errorf("auction_started events after original start time = %d, want 1", got)
	}
}

func TestScheduler_Reset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, t0)
	if _, err := f.coordinator.PlaceBid(ctx, a.ID, f.alice.ID, usd(90)); err != nil {
		t.Fatal(err)
	}

	reset, err := f.scheduler.Reset(ctx, a.ID)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if reset.Status != store.StatusScheduled || reset.HighestBidID != nil {
		t.Errorf("auction after reset = %s highest %v", reset.Status, reset.HighestBidID)
	}
	if snap, _ := f.cache.GetHighestBid(ctx, a.ID); snap != nil {
		t.Errorf("cached highest bid = %+v, want cleared", snap)
	}
	if start, end := f.scheduler.Armed(a.ID); start || end {
		t.Errorf("Armed = %v, %v; past go-live must not re-arm", start, end)
	}
	resets := f.pub.events(event.AuctionReset)
	if len(resets) != 1 || resets[0].env.Data.(event.AuctionResetData).Status != store.StatusScheduled {
		t.Errorf("auction_reset events = %+v", resets)
	}

	// Bids inside the old window wait for an admin start.
	_, err = f.coordinator.PlaceBid(ctx, a.ID, f.bob.ID, usd(95))
	wantCode(t, err, auction.CodeAuctionNotStarted)

	// Nothing ends the auction while it waits for an admin start.
	f.clock.Advance(2 * time.Hour)
	if got := f.status(t, a.ID); got != store.StatusScheduled {
		t.Errorf("status = %s, want scheduled", got)
	}

	// After a force start bidding restarts from the starting price.
	if _, err := f.scheduler.ForceStart(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.coordinator.PlaceBid(ctx, a.ID, f.bob.ID, usd(50)); err != nil {
		t.Errorf("bid at starting price after reset: %v", err)
	}
}

func TestScheduler_ResetWithUndeletableCacheEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fc := &flakyCache{Memory: cache.NewMemory(f.clock, time.Hour), failDeletes: true}
	c := auction.NewCoordinator(f.repos, fc, f.pub, f.recorder, nil,
		config.BiddingConfig{LockTTL: 30 * time.Second}, f.clock, logger, testTP)
	s := auction.NewScheduler(f.repos, fc, f.pub, f.recorder, f.alerts, nil,
		config.SchedulerConfig{LateStartGrace: time.Minute}, f.clock, logger, testTP)
	t.Cleanup(s.Stop)

	a := f.create(t, t0)
	if _, err := c.PlaceBid(ctx, a.ID, f.alice.ID, usd(90)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Reset(ctx, a.ID); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := s.ForceStart(ctx, a.ID); err != nil {
		t.Fatalf("ForceStart: %v", err)
	}

	if _, err := c.PlaceBid(ctx, a.ID, f.bob.ID, usd(50)); err != nil {
		t.Errorf("bid at starting price after reset: %v", err)
	}
	highest, err := f.repos.Bids.Highest(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if highest == nil || highest.BidderID != f.bob.ID {
		t.Errorf("ledger highest = %+v, want bob's bid", highest)
	}
}

func TestScheduler_ResetFutureAuctionRearms(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, t0.Add(time.Hour))

	if _, err := f.scheduler.Reset(context.Background(), a.ID); err != nil {
		t.Fatal(err)
	}
	if start, _ := f.scheduler.Armed(a.ID); !start {
		t.Fatal("start timer not re-armed")
	}
	f.clock.Advance(time.Hour)
	if got := f.status(t, a.ID); got != store.StatusLive {
		t.Errorf("status = %s, want live", got)
	}
}

func TestScheduler_Stop(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, t0.Add(time.Minute))

	f.scheduler.Stop()
	f.clock.Advance(time.Hour)

	if got := f.status(t, a.ID); got != store.StatusScheduled {
		t.Errorf("status = %s, want scheduled after Stop", got)
	}
	f.scheduler.Track(context.Background(), a)
	if start, _ := f.scheduler.Armed(a.ID); start {
		t.Error("Track armed a timer after Stop")
	}
	if got := f.status(t, a.ID); got != store.StatusScheduled {
		t.Errorf("status = %s, want scheduled after Track on a stopped scheduler", got)
	}
}

// Re-arming the same auction any number of times, with any go-live
// instants, yields exactly one start and one end.
func TestScheduler_RearmIsIdempotentProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(rt)
		ctx := context.Background()
		a, err := f.catalog.Create(ctx, f.seller.ID, listing(t0.Add(time.Minute)))
		if err != nil {
			rt.Fatalf("Create: %v", err)
		}

		offsets := rapid.SliceOfN(rapid.IntRange(1, 120), 1, 10).Draw(rt, "offsets")
		for _, off := range offsets {
			a.GoLiveAt = t0.Add(time.Duration(off) * time.Second)
			f.scheduler.Track(ctx, a)
		}

		f.clock.Advance(3 * time.Hour)
		if got := len(f.pub.events(event.AuctionStarted)); got != 1 {
			rt.Fatalf("auction_started events = %d, want 1", got)
		}
		if got := len(f.pub.events(event.AuctionEnded)); got != 1 {
			rt.Fatalf("auction_ended events = %d, want 1", got)
		}
		if n := f.clock.Pending(); n != 0 {
			rt.Fatalf("pending timers = %d, want 0", n)
		}
	})
}
