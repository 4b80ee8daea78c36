package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jensholdgaard/auctionhub/internal/store"
)

// Recorder persists in-app notifications and hands emails to a Notifier.
// Neither method reports failure to the caller.
type Recorder struct {
	repo     store.NotificationRepository
	mailer   Notifier
	logger   *slog.Logger
	failures FailureCounter
}

// NewRecorder returns a Recorder. failures may be nil.
func NewRecorder(repo store.NotificationRepository, mailer Notifier, logger *slog.Logger, failures FailureCounter) *Recorder {
	return &Recorder{repo: repo, mailer: mailer, logger: logger, failures: failures}
}

// Record stores a notification for userID. meta is encoded as JSON.
func (r *Recorder) Record(ctx context.Context, userID string, typ store.NotificationType, message string, meta any) {
	n := &store.Notification{UserID: userID, Type: typ, Message: message}
	if meta != nil {
		raw, err := json.Marshal(meta)
		if err == nil {
			n.Meta = raw
		}
	}
	if err := r.repo.Create(ctx, n); err != nil {
		r.logger.WarnContext(ctx, "notification not recorded",
			slog.String("user_id", userID),
			slog.String("type", string(typ)),
			slog.Any("error", err),
		)
		if r.failures != nil {
			r.failures.IncSideEffectFailure("notification")
		}
	}
}

// Email sends msg. An empty recipient is skipped.
func (r *Recorder) Email(ctx context.Context, msg Message) {
	if msg.To == "" {
		return
	}
	if err := r.mailer.Send(ctx, msg); err != nil {
		r.logger.WarnContext(ctx, "email dispatch failed",
			slog.String("template", msg.Template),
			slog.Any("error", err),
		)
	}
}
