package payment

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
)

type HandleKind string

const (
	// HandleIntent returns a client secret for an embedded card form.
	HandleIntent HandleKind = "intent"
	// HandleRedirect returns a hosted page the buyer is sent to.
	HandleRedirect HandleKind = "redirect"
)

type HandleRequest struct {
	Order     *order.Order
	Kind      HandleKind
	ReturnURL string
	CancelURL string
}

type Handle struct {
	Provider     Provider
	ExternalID   string
	ClientSecret string
	ApprovalURL  string
}

// Result is a provider-confirmed capture.
type Result struct {
	ExternalID string
	Amount     int64
	Currency   string
	Reference  string
	Metadata   map[string]string
}

type EventKind string

const (
	EventSucceeded EventKind = "succeeded"
	EventFailed    EventKind = "failed"
	EventCancelled EventKind = "cancelled"
	EventIgnored   EventKind = "ignored"
)

// Event is a verified provider notification mapped to the shared vocabulary.
type Event struct {
	ID            string
	Type          string
	Provider      Provider
	Kind          EventKind
	ExternalID    string
	OrderID       string
	Amount        int64
	Currency      string
	Reference     string
	FailureReason string
	Metadata      map[string]string
}

// Gateway is implemented once per provider. Adapters shape provider requests but
// speak only this vocabulary upward.
type Gateway interface {
	Provider() Provider
	// CreateHandle fails with ErrInvalidOrderState unless the order is pending with lines.
	CreateHandle(ctx context.Context, req HandleRequest) (*Handle, error)
	// Confirm is the synchronous buyer-initiated capture or confirmation.
	Confirm(ctx context.Context, externalID string, o *order.Order) (*Result, error)
	// VerifyWebhook fails with ErrSignature and never returns unverified data.
	VerifyWebhook(ctx context.Context, payload []byte, header http.Header) (*Event, error)
}

type RefundRequest struct {
	RefundID string
	Payment  *Payment
	Amount   int64
	Reason   string
}

type RefundResult struct {
	Reference string
	Status    string
}

// Refunder is an optional Gateway capability.
type Refunder interface {
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// CheckPayable is the precondition every adapter enforces before creating a handle.
func CheckPayable(o *order.Order) error {
	if o == nil {
		return fmt.Errorf("%w: no order", ErrInvalidOrderState)
	}
	if o.Status != order.StatusPending {
		return fmt.Errorf("%w: order %s is %s", ErrInvalidOrderState, o.ID, o.Status)
	}
	if len(o.Lines) == 0 {
		return fmt.Errorf("%w: order %s has no lines", ErrInvalidOrderState, o.ID)
	}
	return nil
}
