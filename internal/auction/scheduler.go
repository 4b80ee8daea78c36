package auction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auctionhub/internal/alert"
	"github.com/jensholdgaard/auctionhub/internal/cache"
	"github.com/jensholdgaard/auctionhub/internal/clock"
	"github.com/jensholdgaard/auctionhub/internal/config"
	"github.com/jensholdgaard/auctionhub/internal/event"
	"github.com/jensholdgaard/auctionhub/internal/metrics"
	"github.com/jensholdgaard/auctionhub/internal/notify"
	"github.com/jensholdgaard/auctionhub/internal/store"
)

type timerKind string

const (
	kindStart timerKind = "start"
	kindEnd   timerKind = "end"
)

type timerKey struct {
	kind      timerKind
	auctionID string
}

type armedTimer struct {
	timer clock.Timer
	gen   uint64
}

// Scheduler drives the scheduled -> live -> ended transitions with one
// in-memory timer per pending transition. Timers are not persisted;
// Reconcile rebuilds them from the ledger.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[timerKey]armedTimer
	gen     uint64
	stopped bool

	auctions store.AuctionRepository
	bids     store.BidRepository
	users    store.UserRepository
	cache    cache.Cache
	pub      Publisher
	recorder *notify.Recorder
	alerter  alert.Alerter
	metrics  *metrics.Metrics
	cfg      config.SchedulerConfig

	clock  clock.Clock
	logger *slog.Logger
	tracer trace.Tracer
}

// NewScheduler returns a Scheduler with no timers armed.
func NewScheduler(repos *store.Repositories, c cache.Cache, pub Publisher, rec *notify.Recorder, alerter alert.Alerter, m *metrics.Metrics, cfg config.SchedulerConfig, clk clock.Clock, logger *slog.Logger, tp trace.TracerProvider) *Scheduler {
	if cfg.LateStartGrace <= 0 {
		cfg.LateStartGrace = time.Minute
	}
	if cfg.FireTimeout <= 0 {
		cfg.FireTimeout = 30 * time.Second
	}
	return &Scheduler{
		timers:   make(map[timerKey]armedTimer),
		auctions: repos.Auctions,
		bids:     repos.Bids,
		users:    repos.Users,
		cache:    c,
		pub:      pub,
		recorder: rec,
		alerter:  alerter,
		metrics:  m,
		cfg:      cfg,
		clock:    clk,
		logger:   logger,
		tracer:   tp.Tracer("github.com/jensholdgaard/auctionhub/internal/auction"),
	}
}

// Reconcile arms timers for every scheduled or live auction in the ledger.
// Overdue transitions fire before Reconcile returns.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "Scheduler.Reconcile")
	defer span.End()

	pending, err := s.auctions.List(ctx, store.StatusScheduled, store.StatusLive)
	if err != nil {
		return fmt.Errorf("listing pending auctions: %w", err)
	}

	var scheduled, live int
	for i := range pending {
		a := &pending[i]
		if a.Status == store.StatusScheduled {
			scheduled++
		} else {
			live++
		}
		s.Track(ctx, a)
	}

	s.logger.InfoContext(ctx, "auction timers reconciled",
		slog.Int("scheduled", scheduled),
		slog.Int("live", live),
	)
	return nil
}

// Track arms the next transition for a. Re-tracking an auction replaces
// its timers. Track does nothing once the Scheduler is stopped.
func (s *Scheduler) Track(ctx context.Context, a *store.Auction) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}

	switch a.Status {
	case store.StatusScheduled:
		s.armStart(ctx, a)
	case store.StatusLive:
		s.cancel(kindStart, a.ID)
		s.armEnd(ctx, a)
	default:
		s.cancel(kindStart, a.ID)
		s.cancel(kindEnd, a.ID)
	}
}

func (s *Scheduler) armStart(ctx context.Context, a *store.Auction) {
	delay := a.GoLiveAt.Sub(s.clock.Now())
	if delay > 0 {
		s.arm(timerKey{kindStart, a.ID}, delay, s.start)
		return
	}

	s.cancel(kindStart, a.ID)
	if late := -delay; late > s.cfg.LateStartGrace {
		s.reportLateStart(ctx, a, late)
	}
	s.start(ctx, a.ID)
}

func (s *Scheduler) armEnd(ctx context.Context, a *store.Auction) {
	delay := a.EndsAt().Sub(s.clock.Now())
	if delay > 0 {
		s.arm(timerKey{kindEnd, a.ID}, delay, s.end)
		return
	}
	s.cancel(kindEnd, a.ID)
	s.end(ctx, a.ID)
}

// arm replaces any timer under key.
func (s *Scheduler) arm(key timerKey, d time.Duration, fn func(context.Context, string)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if old, ok := s.timers[key]; ok {
		old.timer.Stop()
	}
	s.gen++
	gen := s.gen
	t := s.clock.AfterFunc(d, func() { s.fire(key, gen, fn) })
	s.timers[key] = armedTimer{timer: t, gen: gen}
	s.metrics.SetTimersArmed(len(s.timers))
}

// fire runs fn unless the timer was replaced or cancelled after it was
// scheduled to run.
func (s *Scheduler) fire(key timerKey, gen uint64, fn func(context.Context, string)) {
	s.mu.Lock()
	cur, ok := s.timers[key]
	if !ok || cur.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	n := len(s.timers)
	s.mu.Unlock()
	s.metrics.SetTimersArmed(n)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FireTimeout)
	defer cancel()
	fn(ctx, key.auctionID)
}

func (s *Scheduler) cancel(kind timerKind, auctionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := timerKey{kind, auctionID}
	if t, ok := s.timers[key]; ok {
		t.timer.Stop()
		delete(s.timers, key)
		s.metrics.SetTimersArmed(len(s.timers))
	}
}

// Armed reports which transitions are pending for auctionID.
func (s *Scheduler) Armed(auctionID string) (start, end bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, start = s.timers[timerKey{kindStart, auctionID}]
	_, end = s.timers[timerKey{kindEnd, auctionID}]
	return start, end
}

// Stop cancels every timer. Later arms are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for key, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, key)
	}
	s.metrics.SetTimersArmed(0)
}

func (s *Scheduler) reportLateStart(ctx context.Context, a *store.Auction, late time.Duration) {
	late = late.Round(time.Second)
	s.logger.WarnContext(ctx, "auction start is overdue",
		slog.String("auction_id", a.ID),
		slog.Duration("late", late),
	)
	s.metrics.IncLateStart()
	msg := fmt.Sprintf("Auction %s (%s) started %s after its go-live time; the scheduler missed the boundary.", a.ID, a.ItemName, late)
	if err := s.alerter.Alert(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "late start alert failed",
			slog.String("auction_id", a.ID),
			slog.Any("error", err),
		)
		s.metrics.IncSideEffectFailure("alert")
	}
}

// start moves a scheduled auction to live and arms its end.
func (s *Scheduler) start(ctx context.Context, auctionID string) {
	ctx, span := s.tracer.Start(ctx, "Scheduler.start",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	ok, err := s.auctions.Transition(ctx, auctionID, store.StatusLive, store.StatusScheduled)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to start auction",
			slog.String("auction_id", auctionID),
			slog.Any("error", err),
		)
		return
	}
	if !ok {
		s.logger.DebugContext(ctx, "auction start skipped", slog.String("auction_id", auctionID))
		return
	}
	s.metrics.IncTransition(string(store.StatusLive))

	a, err := s.auctions.GetByID(ctx, auctionID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load started auction",
			slog.String("auction_id", auctionID),
			slog.Any("error", err),
		)
		return
	}
	s.primeState(ctx, a)
	s.armEnd(ctx, a)

	s.pub.BroadcastRoom(a.ID, event.New(event.AuctionStarted, event.AuctionStartedData{
		AuctionID: a.ID,
		EndsAt:    a.EndsAt(),
	}))

	s.logger.InfoContext(ctx, "auction started",
		slog.String("auction_id", a.ID),
		slog.Time("ends_at", a.EndsAt()),
	)
}

// end moves a live auction to ended and notifies the provisional winner.
func (s *Scheduler) end(ctx context.Context, auctionID string) {
	ctx, span := s.tracer.Start(ctx, "Scheduler.end",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	ok, err := s.auctions.Transition(ctx, auctionID, store.StatusEnded, store.StatusLive)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to end auction",
			slog.String("auction_id", auctionID),
			slog.Any("error", err),
		)
		return
	}
	if !ok {
		s.logger.DebugContext(ctx, "auction end skipped", slog.String("auction_id", auctionID))
		return
	}
	s.metrics.IncTransition(string(store.StatusEnded))

	a, err := s.auctions.GetByID(ctx, auctionID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load ended auction",
			slog.String("auction_id", auctionID),
			slog.Any("error", err),
		)
		return
	}
	s.primeState(ctx, a)

	var snap *store.BidSnapshot
	highest, err := s.bids.Highest(ctx, auctionID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load winning bid",
			slog.String("auction_id", auctionID),
			slog.Any("error", err),
		)
	}
	if highest != nil {
		ss := highest.Snapshot()
		snap = &ss
		s.award(ctx, a, highest)
	}

	s.pub.BroadcastRoom(a.ID, event.New(event.AuctionEnded, event.AuctionEndedData{
		AuctionID:  a.ID,
		HighestBid: snap,
	}))

	s.logger.InfoContext(ctx, "auction ended",
		slog.String("auction_id", a.ID),
		slog.Bool("sold", highest != nil),
	)
}

// award tells the seller to review and the bidder they are winning.
func (s *Scheduler) award(ctx context.Context, a *store.Auction, bid *store.Bid) {
	seller, err := s.users.GetByID(ctx, a.SellerID)
	if err != nil {
		s.logger.WarnContext(ctx, "seller lookup failed", slog.String("auction_id", a.ID), slog.Any("error", err))
		return
	}
	bidder, err := s.users.GetByID(ctx, bid.BidderID)
	if err != nil {
		s.logger.WarnContext(ctx, "bidder lookup failed", slog.String("auction_id", a.ID), slog.Any("error", err))
		return
	}

	s.recorder.Email(ctx, notify.AuctionWon(bidder.Email, a.ItemName, bid.Amount))
	s.recorder.Email(ctx, notify.SellerReview(seller.Email, a.ItemName, bid.Amount))

	s.recorder.Record(ctx, seller.ID, store.NotifyAuctionEnded,
		fmt.Sprintf("Your auction for %q has ended. Please review the highest bid.", a.ItemName),
		map[string]any{"auctionId": a.ID, "highestBid": bid.Amount},
	)
	s.recorder.Record(ctx, bidder.ID, store.NotifyAuctionWon,
		fmt.Sprintf("Congratulations! You won the auction for %q with a bid of $%s.", a.ItemName, bid.Amount.StringFixed(2)),
		map[string]any{"auctionId": a.ID, "winningBid": bid.Amount},
	)
}

// ForceStart makes a scheduled auction live now, bypassing its timer.
func (s *Scheduler) ForceStart(ctx context.Context, auctionID string) (*store.Auction, error) {
	ctx, span := s.tracer.Start(ctx, "Scheduler.ForceStart",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	a, err := s.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("loading auction: %w", err)
	}
	if a.Status != store.StatusScheduled {
		return nil, ErrNotScheduled
	}

	s.cancel(kindStart, auctionID)
	if err := s.auctions.ForceLive(ctx, auctionID, s.clock.Now()); err != nil {
		return nil, fmt.Errorf("forcing auction live: %w", err)
	}
	s.metrics.IncTransition(string(store.StatusLive))

	a, err = s.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("loading auction: %w", err)
	}
	s.primeState(ctx, a)
	s.armEnd(ctx, a)

	s.pub.BroadcastRoom(a.ID, event.New(event.AuctionStarted, event.AuctionStartedData{
		AuctionID: a.ID,
		EndsAt:    a.EndsAt(),
	}))

	s.logger.InfoContext(ctx, "auction force started", slog.String("auction_id", a.ID))
	return a, nil
}

// Reset returns an auction to scheduled and clears its leading bid. The
// start timer is re-armed only when the go-live instant is still ahead;
// otherwise the auction rejects bids as not started until ForceStart.
// A cached leading bid that cannot be deleted is discarded by the
// coordinator on its next read, since it no longer matches the ledger.
func (s *Scheduler) Reset(ctx context.Context, auctionID string) (*store.Auction, error) {
	ctx, span := s.tracer.Start(ctx, "Scheduler.Reset",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	s.cancel(kindStart, auctionID)
	s.cancel(kindEnd, auctionID)
	if err := s.auctions.Reset(ctx, auctionID); err != nil {
		return nil, fmt.Errorf("resetting auction: %w", err)
	}
	s.metrics.IncTransition(string(store.StatusScheduled))

	if err := s.cache.DeleteHighestBid(ctx, auctionID); err != nil {
		s.cacheFailed(ctx, auctionID, err)
	}

	a, err := s.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("loading auction: %w", err)
	}
	s.primeState(ctx, a)
	if a.GoLiveAt.After(s.clock.Now()) {
		s.arm(timerKey{kindStart, a.ID}, a.GoLiveAt.Sub(s.clock.Now()), s.start)
	}

	s.pub.BroadcastRoom(a.ID, event.New(event.AuctionReset, event.AuctionResetData{
		AuctionID: a.ID,
		Status:    a.Status,
	}))

	s.logger.InfoContext(ctx, "auction reset", slog.String("auction_id", a.ID))
	return a, nil
}

func (s *Scheduler) primeState(ctx context.Context, a *store.Auction) {
	if err := primeState(ctx, s.cache, a, s.clock.Now()); err != nil {
		s.cacheFailed(ctx, a.ID, err)
	}
}

func (s *Scheduler) cacheFailed(ctx context.Context, auctionID string, err error) {
	s.logger.WarnContext(ctx, "cache operation failed",
		slog.String("auction_id", auctionID),
		slog.Any("error", err),
	)
	s.metrics.IncSideEffectFailure("cache")
}
