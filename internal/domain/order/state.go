package order

import "fmt"

// TransitionError reports a transition the state machine refused.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order: cannot move from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidStateTransition }

// OrderState implements the state pattern for order lifecycle transitions.
type OrderState interface {
	Status() Status
	OnPaymentSucceeded(o *Order) (OrderState, error)
	OnPaymentFailed(o *Order, reason string) (OrderState, error)
	OnCancel(o *Order) (OrderState, error)
	OnAdvance(o *Order, target Status) (OrderState, error)
	OnRefund(o *Order, full bool) (OrderState, error)
}

func stateFor(s Status) (OrderState, error) {
	switch s {
	case StatusPending:
		return pendingState{}, nil
	case StatusConfirmed:
		return confirmedState{}, nil
	case StatusProcessing:
		return processingState{}, nil
	case StatusShipped:
		return shippedState{}, nil
	case StatusDelivered:
		return deliveredState{}, nil
	case StatusCancelled:
		return cancelledState{}, nil
	case StatusPaymentFailed:
		return paymentFailedState{}, nil
	case StatusPartiallyRefunded:
		return partiallyRefundedState{}, nil
	case StatusRefunded:
		return refundedState{}, nil
	}
	return nil, fmt.Errorf("order: unknown status %q", s)
}

func deny(from, to Status) (OrderState, error) {
	return nil, &TransitionError{From: from, To: to}
}

func refundStatus(full bool) Status {
	if full {
		return StatusRefunded
	}
	return StatusPartiallyRefunded
}

// refundable is shared by every state from confirmed onwards.
func refundable(full bool) (OrderState, error) {
	if full {
		return refundedState{}, nil
	}
	return partiallyRefundedState{}, nil
}

type pendingState struct{}

func (pendingState) Status() Status { return StatusPending }

func (pendingState) OnPaymentSucceeded(o *Order) (OrderState, error) {
	o.FailureReason = ""
	return confirmedState{}, nil
}

func (pendingState) OnPaymentFailed(o *Order, reason string) (OrderState, error) {
	o.FailureReason = reason
	return paymentFailedState{}, nil
}

func (pendingState) OnCancel(*Order) (OrderState, error) { return cancelledState{}, nil }

func (pendingState) OnAdvance(_ *Order, t Status) (OrderState, error) {
	return deny(StatusPending, t)
}

func (pendingState) OnRefund(_ *Order, full bool) (OrderState, error) {
	return deny(StatusPending, refundStatus(full))
}

type confirmedState struct{}

func (confirmedState) Status() Status { return StatusConfirmed }

func (confirmedState) OnPaymentSucceeded(*Order) (OrderState, error) { return confirmedState{}, nil }

// A failure reported after a success is stale; the order stays confirmed.
func (confirmedState) OnPaymentFailed(*Order, string) (OrderState, error) {
	return deny(StatusConfirmed, StatusPaymentFailed)
}

func (confirmedState) OnCancel(*Order) (OrderState, error) { return cancelledState{}, nil }

func (confirmedState) OnAdvance(_ *Order, t Status) (OrderState, error) {
	if t == StatusProcessing {
		return processingState{}, nil
	}
	return deny(StatusConfirmed, t)
}

func (confirmedState) OnRefund(_ *Order, full bool) (OrderState, error) { return refundable(full) }

type processingState struct{}

func (processingState) Status() Status { return StatusProcessing }

func (processingState) OnPaymentSucceeded(*Order) (OrderState, error) { return processingState{}, nil }
func (processingState) OnPaymentFailed(*Order, string) (OrderState, error) {
	return deny(StatusProcessing, StatusPaymentFailed)
}
func (processingState) OnCancel(*Order) (OrderState, error) {
	return deny(StatusProcessing, StatusCancelled)
}

func (processingState) OnAdvance(_ *Order, t Status) (OrderState, error) {
	switch t {
	case StatusProcessing:
		return processingState{}, nil
	case StatusShipped:
		return shippedState{}, nil
	}
	return deny(StatusProcessing, t)
}

func (processingState) OnRefund(_ *Order, full bool) (OrderState, error) { return refundable(full) }

type shippedState struct{}

func (shippedState) Status() Status { return StatusShipped }

func (shippedState) OnPaymentSucceeded(*Order) (OrderState, error) { return shippedState{}, nil }
func (shippedState) OnPaymentFailed(*Order, string) (OrderState, error) {
	return deny(StatusShipped, StatusPaymentFailed)
}
func (shippedState) OnCancel(*Order) (OrderState, error) {
	return deny(StatusShipped, StatusCancelled)
}

func (shippedState) OnAdvance(_ *Order, t Status) (OrderState, error) {
	switch t {
	case StatusShipped:
		return shippedState{}, nil
	case StatusDelivered:
		return deliveredState{}, nil
	}
	return deny(StatusShipped, t)
}

func (shippedState) OnRefund(_ *Order, full bool) (OrderState, error) { return refundable(full) }

type deliveredState struct{}

func (deliveredState) Status() Status { return StatusDelivered }

func (deliveredState) OnPaymentSucceeded(*Order) (OrderState, error) { return deliveredState{}, nil }
func (deliveredState) OnPaymentFailed(*Order, string) (OrderState, error) {
	return deny(StatusDelivered, StatusPaymentFailed)
}
func (deliveredState) OnCancel(*Order) (OrderState, error) {
	return deny(StatusDelivered, StatusCancelled)
}
func (deliveredState) OnAdvance(_ *Order, t Status) (OrderState, error) {
	if t == StatusDelivered {
		return deliveredState{}, nil
	}
	return deny(StatusDelivered, t)
}

func (deliveredState) OnRefund(_ *Order, full bool) (OrderState, error) { return refundable(full) }

type paymentFailedState struct{}

func (paymentFailedState) Status() Status { return StatusPaymentFailed }

// A late success still confirms the order; the provider has the buyer's money.
func (paymentFailedState) OnPaymentSucceeded(o *Order) (OrderState, error) {
	o.FailureReason = ""
	return confirmedState{}, nil
}

func (paymentFailedState) OnPaymentFailed(o *Order, reason string) (OrderState, error) {
	if reason != "" {
		o.FailureReason = reason
	}
	return paymentFailedState{}, nil
}

// Cancelling is the only way stock held by a failed order returns to the ledger.
func (paymentFailedState) OnCancel(*Order) (OrderState, error) { return cancelledState{}, nil }

func (paymentFailedState) OnAdvance(_ *Order, t Status) (OrderState, error) {
	return deny(StatusPaymentFailed, t)
}

func (paymentFailedState) OnRefund(_ *Order, full bool) (OrderState, error) {
	return deny(StatusPaymentFailed, refundStatus(full))
}

type cancelledState struct{}

func (cancelledState) Status() Status { return StatusCancelled }

func (cancelledState) OnPaymentSucceeded(*Order) (OrderState, error) {
	return deny(StatusCancelled, StatusConfirmed)
}
func (cancelledState) OnPaymentFailed(*Order, string) (OrderState, error) {
	return deny(StatusCancelled, StatusPaymentFailed)
}
func (cancelledState) OnCancel(*Order) (OrderState, error) { return cancelledState{}, nil }
func (cancelledState) OnAdvance(_ *Order, t Status) (OrderState, error) {
	return deny(StatusCancelled, t)
}
func (cancelledState) OnRefund(_ *Order, full bool) (OrderState, error) {
	return deny(StatusCancelled, refundStatus(full))
}

type partiallyRefundedState struct{}

func (partiallyRefundedState) Status() Status { return StatusPartiallyRefunded }

func (partiallyRefundedState) OnPaymentSucceeded(*Order) (OrderState, error) {
	return partiallyRefundedState{}, nil
}
func (partiallyRefundedState) OnPaymentFailed(*Order, string) (OrderState, error) {
	return deny(StatusPartiallyRefunded, StatusPaymentFailed)
}
func (partiallyRefundedState) OnCancel(*Order) (OrderState, error) {
	return deny(StatusPartiallyRefunded, StatusCancelled)
}
func (partiallyRefundedState) OnAdvance(_ *Order, t Status) (OrderState, error) {
	return deny(StatusPartiallyRefunded, t)
}
func (partiallyRefundedState) OnRefund(_ *Order, full bool) (OrderState, error) {
	return refundable(full)
}

type refundedState struct{}

func (refundedState) Status() Status { return StatusRefunded }

func (refundedState) OnPaymentSucceeded(*Order) (OrderState, error) { return refundedState{}, nil }
func (refundedState) OnPaymentFailed(*Order, string) (OrderState, error) {
	return deny(StatusRefunded, StatusPaymentFailed)
}
func (refundedState) OnCancel(*Order) (OrderState, error) {
	return deny(StatusRefunded, StatusCancelled)
}
func (refundedState) OnAdvance(_ *Order, t Status) (OrderState, error) {
	return deny(StatusRefunded, t)
}
func (refundedState) OnRefund(_ *Order, full bool) (OrderState, error) {
	return deny(StatusRefunded, refundStatus(full))
}
