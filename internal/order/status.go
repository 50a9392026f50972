package order

import "github.com/noah-isme/kopi-pos/internal/payment"

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusPreparing Status = "PREPARING"
	StatusReady     Status = "READY"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

// kitchen is the staff-driven sequence; each entry may only move to the next.
var kitchen = []Status{StatusPaid, StatusPreparing, StatusReady, StatusCompleted}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusPreparing, StatusReady, StatusCompleted,
		StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Next returns the kitchen step after s, if any.
func Next(s Status) (Status, bool) {
	for i := 0; i < len(kitchen)-1; i++ {
		if kitchen[i] == s {
			return kitchen[i+1], true
		}
	}
	return "", false
}

// CanTransition reports whether from -> to is allowed. Payment outcomes only
// leave PENDING; staff moves are single forward kitchen steps.
func CanTransition(from, to Status) bool {
	if from == StatusPending {
		switch to {
		case StatusPaid, StatusFailed, StatusCancelled, StatusExpired:
			return true
		}
		return false
	}
	next, ok := Next(from)
	return ok && next == to
}

// Notifies reports whether reaching to sends a message to the customer.
func Notifies(from, to Status) bool {
	return (from == StatusPaid && to == StatusPreparing) ||
		(from == StatusReady && to == StatusCompleted)
}

// TargetFor maps a payment outcome to the order status it drives, or "" when
// the order should stay where it is.
func TargetFor(o payment.Outcome) Status {
	switch o {
	case payment.OutcomePaid:
		return StatusPaid
	case payment.OutcomeFailed:
		return StatusFailed
	}
	return ""
}
