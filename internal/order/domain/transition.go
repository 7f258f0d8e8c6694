package domain

import (
	"github.com/distributed-ecommerce-saga/order-pipeline/shared/types"
)

// AllowedFrom lists the statuses an order may move to target from.
func AllowedFrom(target types.OrderStatus) []types.OrderStatus {
	switch target {
	case types.OrderStatusPaid, types.OrderStatusPaymentFailed:
		return []types.OrderStatus{types.OrderStatusPending}
	case types.OrderStatusShipped:
		return []types.OrderStatus{types.OrderStatusPaid, types.OrderStatusPaymentFailed}
	default:
		return nil
	}
}

// TransitionOutcome classifies a transition that did not change the row.
type TransitionOutcome int

const (
	// OutcomeAlreadyApplied means the order is at or past target; a duplicate.
	OutcomeAlreadyApplied TransitionOutcome = iota
	// OutcomeConflict means the order holds a different outcome of the same stage.
	OutcomeConflict
	// OutcomeNotReady means an earlier stage has not been recorded yet.
	OutcomeNotReady
)

func (o TransitionOutcome) String() string {
	switch o {
	case OutcomeAlreadyApplied:
		return "already_applied"
	case OutcomeConflict:
		return "conflict"
	case OutcomeNotReady:
		return "not_ready"
	default:
		return "unknown"
	}
}

// ClassifyUnapplied decides what a rejected move from current to target means.
// Status never moves backwards, so anything at or beyond target is a no-op.
func ClassifyUnapplied(current, target types.OrderStatus) TransitionOutcome {
	switch {
	case current == target:
		return OutcomeAlreadyApplied
	case current.Stage() > target.Stage():
		return OutcomeAlreadyApplied
	case current.Stage() == target.Stage():
		return OutcomeConflict
	default:
		return OutcomeNotReady
	}
}

// CanTransition reports whether current may move directly to target.
func CanTransition(current, target types.OrderStatus) bool {
	for _, from := range AllowedFrom(target) {
		if from == current {
			return true
		}
	}
	return false
}
