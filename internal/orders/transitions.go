package orders

import "github.com/sokoni-dev/sokoni-payments/internal/domain"

// legalTransitions is the full guard table. Anything not listed is an
// invalid edge and leaves the order untouched.
var legalTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:  {domain.OrderStatusRefunded},
}

// deliverableFrom lists the states a scanned delivery confirmation is
// accepted in. Confirmed and processing orders skip straight to
// delivered when the courier scan arrives first.
var deliverableFrom = map[domain.OrderStatus]bool{
	domain.OrderStatusConfirmed:  true,
	domain.OrderStatusProcessing: true,
	domain.OrderStatusShipped:    true,
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to domain.OrderStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanDeliver reports whether a delivery confirmation is legal from the
// given state.
func CanDeliver(from domain.OrderStatus) bool {
	return deliverableFrom[from]
}

// CanCancel reports whether cancellation is legal from the given state.
func CanCancel(from domain.OrderStatus) bool {
	return from == domain.OrderStatusPending || from == domain.OrderStatusConfirmed
}

// ValidStatus reports whether s is a known order status.
func ValidStatus(s domain.OrderStatus) bool {
	switch s {
	case domain.OrderStatusPending, domain.OrderStatusConfirmed, domain.OrderStatusProcessing,
		domain.OrderStatusShipped, domain.OrderStatusDelivered, domain.OrderStatusCancelled,
		domain.OrderStatusRefunded:
		return true
	}
	return false
}
