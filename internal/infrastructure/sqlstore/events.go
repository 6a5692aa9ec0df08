package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
)

type eventLog struct{ q queryer }

func (l eventLog) Record(ctx context.Context, e *payment.Event) error {
	_, err := l.q.ExecContext(ctx, `INSERT INTO webhook_events (provider, event_id, event_type, kind, external_id, received_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(e.Provider), e.ID, e.Type, string(e.Kind), e.ExternalID, fmtTime(time.Now()),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return payment.ErrDuplicateEvent
		}
		return fmt.Errorf("sqlstore: record event: %w", err)
	}
	return nil
}
