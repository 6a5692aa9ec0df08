package payment

import "time"

type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundCompleted RefundStatus = "completed"
	RefundFailed    RefundStatus = "failed"
)

type Refund struct {
	ID                string
	PaymentID         string
	OrderID           string
	Amount            int64
	Reason            string
	ProcessedBy       string
	Status            RefundStatus
	ProviderReference string
	FailureReason     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func NewRefund(id string, p *Payment, amount int64, reason, processedBy string) *Refund {
	now := time.Now().UTC()
	return &Refund{
		ID:          id,
		PaymentID:   p.ID,
		OrderID:     p.OrderID,
		Amount:      amount,
		Reason:      reason,
		ProcessedBy: processedBy,
		Status:      RefundPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (r *Refund) Complete(reference string, at time.Time) {
	r.Status = RefundCompleted
	r.ProviderReference = reference
	r.FailureReason = ""
	r.UpdatedAt = at.UTC()
}

// Stall records an attempt whose provider outcome is unknown. The refund stays
// pending and keeps holding its amount.
func (r *Refund) Stall(reason string, at time.Time) {
	r.FailureReason = reason
	r.UpdatedAt = at.UTC()
}

// Resumable reports whether a pending refund may be retried: either its last
// attempt ended without an answer or it has sat untouched longer than lease.
func (r *Refund) Resumable(now time.Time, lease time.Duration) bool {
	if r.Status != RefundPending {
		return false
	}
	return r.FailureReason != "" || now.Sub(r.UpdatedAt) > lease
}

func (r *Refund) Fail(reason string, at time.Time) {
	r.Status = RefundFailed
	r.FailureReason = reason
	r.UpdatedAt = at.UTC()
}
