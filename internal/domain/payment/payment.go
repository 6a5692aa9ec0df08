package payment

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound            = errors.New("payment: not found")
	ErrConflict            = errors.New("payment: conflict")
	ErrSignature           = errors.New("payment: webhook signature verification failed")
	ErrDuplicateEvent      = errors.New("payment: duplicate event")
	ErrNotRefundable       = errors.New("payment: payment is not refundable")
	ErrRefundExceedsAmount = errors.New("payment: refund exceeds remaining amount")
	ErrUnsupportedProvider = errors.New("payment: unsupported provider")
	ErrInvalidOrderState   = errors.New("payment: order cannot be paid in its current state")
	ErrNotCompleted        = errors.New("payment: provider has not completed the payment")
	ErrOrderMismatch       = errors.New("payment: provider payment belongs to another order")
	ErrProvider            = errors.New("payment: provider error")
)

type Provider string

const (
	ProviderStripe Provider = "stripe"
	ProviderPayPal Provider = "paypal"
)

type Status string

const (
	StatusPending           Status = "pending"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusCancelled         Status = "cancelled"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
)

// Settled reports whether money was captured for this payment at some point.
func (s Status) Settled() bool {
	return s == StatusCompleted || s == StatusPartiallyRefunded || s == StatusRefunded
}

// ProviderError wraps a failed provider call. Retryable errors surface as 502.
type ProviderError struct {
	Provider   Provider
	Op         string
	StatusCode int
	Code       string
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("payment: %s %s failed", e.Provider, e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

type Payment struct {
	ID            string
	OrderID       string
	UserID        string
	Provider      Provider
	ExternalID    string
	Amount        int64
	Currency      string
	Status        Status
	Reference     string
	FailureReason string
	Metadata      map[string]string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

func New(id, orderID, userID string, provider Provider, externalID string, amount int64, currency string) *Payment {
	now := time.Now().UTC()
	return &Payment{
		ID:         id,
		OrderID:    orderID,
		UserID:     userID,
		Provider:   provider,
		ExternalID: externalID,
		Amount:     amount,
		Currency:   currency,
		Status:     StatusPending,
		Metadata:   map[string]string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	c := *p
	c.Metadata = make(map[string]string, len(p.Metadata))
	for k, v := range p.Metadata {
		c.Metadata[k] = v
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func (p *Payment) SetMeta(key, value string) {
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	if value != "" {
		p.Metadata[key] = value
	}
}

// Complete marks the payment captured. Completing a settled payment is a no-op.
func (p *Payment) Complete(reference string, at time.Time) bool {
	if p.Status.Settled() {
		return false
	}
	t := at.UTC()
	p.Status = StatusCompleted
	p.FailureReason = ""
	if reference != "" {
		p.Reference = reference
	}
	p.CompletedAt = &t
	p.UpdatedAt = t
	return true
}

// Fail records a provider failure; settled payments are never downgraded.
func (p *Payment) Fail(reason string, at time.Time) bool {
	return p.terminate(StatusFailed, reason, at)
}

func (p *Payment) Cancel(reason string, at time.Time) bool {
	return p.terminate(StatusCancelled, reason, at)
}

func (p *Payment) terminate(s Status, reason string, at time.Time) bool {
	if p.Status.Settled() || p.Status == s {
		return false
	}
	p.Status = s
	p.FailureReason = reason
	p.UpdatedAt = at.UTC()
	return true
}

// ApplyRefunded sets the status from the total refunded so far.
func (p *Payment) ApplyRefunded(refunded int64, at time.Time) {
	switch {
	case refunded <= 0:
		p.Status = StatusCompleted
	case refunded >= p.Amount:
		p.Status = StatusRefunded
	default:
		p.Status = StatusPartiallyRefunded
	}
	p.UpdatedAt = at.UTC()
}
