// Package leader provides Kubernetes Lease-based leader election so that
// only one replica recovers auction lifecycle timers.
package leader

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/jensholdgaard/auctionhub/internal/config"
)

// Observer is told when this replica gains or loses scheduler leadership.
type Observer interface {
	SetLeader(leading bool)
}

type nopObserver struct{}

func (nopObserver) SetLeader(bool) {}

// identity returns the POD_NAME env var if set, otherwise the hostname.
func identity() string {
	if name := os.Getenv("POD_NAME"); name != "" {
		return name
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

// ClientFactory creates a Kubernetes clientset. Tests replace it.
var ClientFactory = func() (kubernetes.Interface, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("building in-cluster config: %w", err)
	}
	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client: %w", err)
	}
	return client, nil
}

// Run invokes lead while this instance holds leadership. lead should block
// until its ctx is done; onStopped runs when leadership is lost.
// With election disabled the instance leads unconditionally until ctx is
// done. Run blocks until the election loop exits.
func Run(ctx context.Context, cfg config.LeaderElectionConfig, logger *slog.Logger, obs Observer, lead func(ctx context.Context), onStopped func()) error {
	if obs == nil {
		obs = nopObserver{}
	}

	if !cfg.Enabled {
		logger.InfoContext(ctx, "leader election disabled, leading as single replica")
		obs.SetLeader(true)
		lead(ctx)
		obs.SetLeader(false)
		onStopped()
		return nil
	}

	client, err := ClientFactory()
	if err != nil {
		return fmt.Errorf("leader election client: %w", err)
	}

	id := identity()
	logger.InfoContext(ctx, "starting leader election",
		slog.String("identity", id),
		slog.String("lease", cfg.LeaseName),
		slog.String("namespace", cfg.LeaseNamespace),
	)

	leaderelection.RunOrDie(ctx, leaderelection.LeaderElectionConfig{
		Lock:            leaseLock(client, cfg, id),
		LeaseDuration:   cfg.LeaseDuration,
		RenewDeadline:   cfg.RenewDeadline,
		RetryPeriod:     cfg.RetryPeriod,
		ReleaseOnCancel: true,
		Callbacks:       callbacks(logger, obs, id, lead, onStopped),
	})
	return nil
}

func leaseLock(client kubernetes.Interface, cfg config.LeaderElectionConfig, id string) *resourcelock.LeaseLock {
	return &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      cfg.LeaseName,
			Namespace: cfg.LeaseNamespace,
		},
		Client:     client.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{Identity: id},
	}
}

func callbacks(logger *slog.Logger, obs Observer, id string, lead func(context.Context), onStopped func()) leaderelection.LeaderCallbacks {
	return leaderelection.LeaderCallbacks{
		OnStartedLeading: func(ctx context.Context) {
			logger.InfoContext(ctx, "acquired scheduler leadership", slog.String("identity", id))
			obs.SetLeader(true)
			lead(ctx)
		},
		OnStoppedLeading: func() {
			logger.Info("lost scheduler leadership", slog.String("identity", id))
			obs.SetLeader(false)
			onStopped()
		},
		OnNewLeader: func(current string) {
			if current == id {
				return
			}
			logger.Info("scheduler leader elected elsewhere", slog.String("leader", current))
		},
	}
}
