package metrics_test

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jensholdgaard/auctionhub/internal/metrics"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ObserveBid("accepted", 3*time.Millisecond)
	m.ObserveBid("accepted", time.Millisecond)
	m.ObserveBid("BID_TOO_LOW", time.Millisecond)
	m.IncTransition("live")
	m.IncLateStart()
	m.SetTimersArmed(4)
	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed()
	m.SetLeader(true)
	m.IncSideEffectFailure("")

	expected := `
# HELP auctionhub_bids_total Bid adjudications by outcome.
# TYPE auctionhub_bids_total counter
auctionhub_bids_total{outcome="BID_TOO_LOW"} 1
auctionhub_bids_total{outcome="accepted"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "auctionhub_bids_total"); err != nil {
		t.Errorf("bids_total mismatch: %v", err)
	}
	if n, err := testutil.GatherAndCount(reg, "auctionhub_realtime_connections"); err != nil || n != 1 {
		t.Errorf("realtime_connections series = %d (err %v), want 1", n, err)
	}
	leader := `
# HELP auctionhub_scheduler_leader 1 while this replica holds scheduler leadership.
# TYPE auctionhub_scheduler_leader gauge
auctionhub_scheduler_leader 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(leader), "auctionhub_scheduler_leader"); err != nil {
		t.Errorf("scheduler_leader mismatch: %v", err)
	}
	if n, err := testutil.GatherAndCount(reg, "auctionhub_side_effect_failures_total"); err != nil || n != 1 {
		t.Errorf("side_effect_failures_total series = %d (err %v), want 1", n, err)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *metrics.Metrics
	m.ObserveBid("accepted", time.Millisecond)
	m.IncTransition("ended")
	m.IncLateStart()
	m.SetTimersArmed(1)
	m.ConnOpened()
	m.ConnClosed()
	m.SetLeader(false)
	m.IncSideEffectFailure("email")

	unregistered := metrics.New(nil)
	unregistered.ObserveBid("accepted", time.Millisecond)
}
