package payment

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/store"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

// ReconcileUseCase ingests provider webhooks. Every verified event is recorded by id
// in the same transaction that applies it, so a redelivered event is acknowledged
// without touching state again.
type ReconcileUseCase struct {
	store     store.Store
	registry  *dompay.Registry
	publisher domoutbox.Publisher
	settler   settler
	in        *application.Instruments

	webhookEvents observability.Counter // webhook_events_total{provider,kind,outcome}
}

func NewReconcileUseCase(
	st store.Store,
	registry *dompay.Registry,
	ids application.IDGenerator,
	publisher domoutbox.Publisher,
	tel observability.Observability,
) *ReconcileUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	return &ReconcileUseCase{
		store:         st,
		registry:      registry,
		publisher:     publisher,
		settler:       settler{ids: ids},
		in:            application.NewInstruments(tel, paymentService),
		webhookEvents: tel.Metrics().Counter(observability.MWebhookEvents),
	}
}

type ReconcileInput struct {
	Provider dompay.Provider
	Payload  []byte
	Header   http.Header
}

type ReconcileResult struct {
	Outcome   Outcome
	EventID   string
	EventType string
	OrderID   string
}

func (uc *ReconcileUseCase) Execute(ctx context.Context, cmd ReconcileInput) (_ *ReconcileResult, err error) {
	ctx, run := uc.in.Begin(ctx, useCaseReconcile, "ReconcileWebhook",
		attribute.String("payment.provider", string(cmd.Provider)),
	)
	defer func() { run.End(err) }()

	gw, err := uc.registry.Gateway(cmd.Provider)
	if err != nil {
		run.Reject("PROVIDER_NOT_CONFIGURED")
		return nil, err
	}
	ev, err := gw.VerifyWebhook(ctx, cmd.Payload, cmd.Header)
	if err != nil {
		if errors.Is(err, dompay.ErrSignature) {
			run.Reject("SIGNATURE_INVALID")
			uc.count(cmd.Provider, "unknown", "rejected")
		} else {
			run.Fail("VERIFY_FAILED")
		}
		return nil, err
	}
	if ev.ID == "" {
		// Verified but unreadable; there is nothing to deduplicate or apply.
		run.Status("SETTLE_IGNORED")
		run.Log.Warn("webhook_event_unreadable",
			observability.F("event_type", ev.Type),
			observability.F("reason", ev.FailureReason),
		)
		uc.count(cmd.Provider, string(ev.Kind), string(OutcomeIgnored))
		return &ReconcileResult{EventType: ev.Type, Outcome: OutcomeIgnored}, nil
	}
	run.With("event_id", ev.ID)
	run.With("event_type", ev.Type)
	run.Span.SetAttributes(
		attribute.String("webhook.event_id", ev.ID),
		attribute.String("webhook.event_type", ev.Type),
		attribute.String("webhook.kind", string(ev.Kind)),
	)

	st := settlement{
		Provider:      cmd.Provider,
		Kind:          ev.Kind,
		ExternalID:    ev.ExternalID,
		OrderID:       ev.OrderID,
		Amount:        ev.Amount,
		Currency:      ev.Currency,
		Reference:     ev.Reference,
		FailureReason: ev.FailureReason,
		Metadata:      ev.Metadata,
	}
	var out *settleResult
	err = uc.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Events().Record(ctx, ev); err != nil {
			return err
		}
		var err error
		out, err = uc.settler.apply(ctx, tx, st, run.Log)
		return err
	})
	result := &ReconcileResult{EventID: ev.ID, EventType: ev.Type, OrderID: ev.OrderID}

	switch {
	case errors.Is(err, dompay.ErrDuplicateEvent):
		run.Status("DUPLICATE_EVENT")
		run.Log.Debug("webhook_event_duplicate", observability.F("event_id", ev.ID))
		uc.count(cmd.Provider, string(ev.Kind), string(OutcomeDuplicate))
		result.Outcome = OutcomeDuplicate
		return result, nil
	case err != nil:
		run.Fail("SETTLE_FAILED")
		uc.count(cmd.Provider, string(ev.Kind), "error")
		return nil, wrapRepositoryError(err)
	}

	result.Outcome = out.Outcome
	if out.Order != nil {
		result.OrderID = out.Order.ID
	}
	uc.count(cmd.Provider, string(ev.Kind), string(out.Outcome))
	run.Status("SETTLE_" + strings.ToUpper(string(out.Outcome)))

	switch out.Outcome {
	case OutcomeIgnored:
		run.Log.Info("webhook_event_ignored",
			observability.F("event_id", ev.ID),
			observability.F("event_type", ev.Type),
		)
	case OutcomeUnmatched:
		run.Log.Warn("webhook_event_unmatched",
			observability.F("event_id", ev.ID),
			observability.F("event_type", ev.Type),
			observability.F("external_id", ev.ExternalID),
		)
	case OutcomeDuplicate:
		run.Log.Debug("webhook_event_duplicate", observability.F("event_id", ev.ID))
	}

	run.Publish(ctx, uc.publisher, out.Events...)
	return result, nil
}

func (uc *ReconcileUseCase) count(provider dompay.Provider, kind, outcome string) {
	uc.webhookEvents.Add(1,
		observability.L("provider", string(provider)),
		observability.L("kind", kind),
		observability.L("outcome", outcome),
	)
}
