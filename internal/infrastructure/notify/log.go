// Package notify delivers customer notifications.
package notify

import (
	"context"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application/notification"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
)

// LogNotifier writes notifications to the structured log. It stands in for an email
// or push provider.
type LogNotifier struct {
	log observability.Logger
}

func NewLogNotifier(logger observability.Logger) *LogNotifier {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &LogNotifier{log: logger.With(observability.F("component", "notifier"))}
}

func (n *LogNotifier) Notify(ctx context.Context, msg notification.Notification) error {
	fields := []observability.Field{
		observability.F("kind", msg.Kind),
		observability.F("user_id", msg.UserID),
		observability.F("order_id", msg.OrderID),
		observability.F("subject", msg.Subject),
	}
	for k, v := range msg.Data {
		fields = append(fields, observability.F("data."+k, v))
	}
	logctx.FromOr(ctx, n.log).Info("notification_sent", fields...)
	return nil
}
