package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/carpool-matching/internal/models"
	"github.com/example/carpool-matching/internal/observability"
)

// Notifier delivers one notification to its addressee.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// ProfileLookup resolves a user's display name on the messaging platform.
type ProfileLookup interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// Replier answers an inbound event through its reply token. It returns the
// notifications it could not include in the reply.
type Replier interface {
	Reply(ctx context.Context, replyToken string, notes []models.Notification) ([]models.Notification, error)
}

// LoadingIndicator shows the platform's "typing" animation to a user.
type LoadingIndicator interface {
	ShowLoading(ctx context.Context, userID string, seconds int) error
}

// Deliver sends every notification with its own call timeout. Failures are
// logged and counted; they never stop the remaining deliveries.
func Deliver(ctx context.Context, n Notifier, notes []models.Notification, timeout time.Duration, logger *slog.Logger) int {
	failed := 0
	for _, note := range notes {
		callCtx, cancel := withTimeout(ctx, timeout)
		err := n.Notify(callCtx, note)
		cancel()
		if err != nil {
			failed++
			observability.Notifications.WithLabelValues(string(note.Kind), "error").Inc()
			if logger != nil {
				logger.Error("notification failed", "user_id", note.UserID, "kind", note.Kind, "error", err)
			}
			continue
		}
		observability.Notifications.WithLabelValues(string(note.Kind), "ok").Inc()
	}
	return failed
}

// DisplayNameOr looks up a display name, falling back when the lookup fails.
func DisplayNameOr(ctx context.Context, p ProfileLookup, userID, fallback string, timeout time.Duration, logger *slog.Logger) string {
	if p == nil {
		return fallback
	}
	callCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	name, err := p.DisplayName(callCtx, userID)
	if err != nil || name == "" {
		if err != nil && logger != nil {
			logger.Warn("profile lookup failed", "user_id", userID, "error", err)
		}
		return fallback
	}
	return name
}

// ClampLoadingSeconds keeps the indicator duration inside the platform's [5,60] window.
func ClampLoadingSeconds(s int) int {
	if s < 5 || s > 60 {
		return 30
	}
	return s
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// LogNotifier writes notifications to the log instead of a messaging platform.
// It backs local runs and dry-run deployments.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l *LogNotifier) Notify(_ context.Context, n models.Notification) error {
	l.Logger.Info("notification", "user_id", n.UserID, "kind", n.Kind, "text", n.Text, "actions", len(n.Actions))
	return nil
}

func (l *LogNotifier) DisplayName(_ context.Context, _ string) (string, error) { return "", nil }

func (l *LogNotifier) ShowLoading(_ context.Context, userID string, seconds int) error {
	l.Logger.Debug("loading indicator", "user_id", userID, "seconds", seconds)
	return nil
}
