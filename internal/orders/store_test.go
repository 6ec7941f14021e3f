package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sokoni-dev/sokoni-payments/internal/domain"
)

// memStore mirrors the repository's transactional guarantees in memory
// for lifecycle tests.
type memStore struct {
	mu        sync.Mutex
	orders    map[string]*domain.Order
	processed map[string]string
	attempts  []domain.PaymentAttempt
	frozen    map[string]bool
	seq       int
}

func newMemStore() *memStore {
	return &memStore{
		orders:    make(map[string]*domain.Order),
		processed: make(map[string]string),
		frozen:    make(map[string]bool),
	}
}

func (s *memStore) Create(_ context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	now := time.Now().UTC()
	order.ID = uuid.New().String()
	order.OrderNumber = fmt.Sprintf("ORD-%s-%04d", now.Format("06-01"), s.seq)
	order.Status = domain.OrderStatusPending
	order.PaymentStatus = domain.PaymentStatusPending
	order.CreatedAt = now
	order.UpdatedAt = now
	order.StatusHistory = []domain.StatusEntry{{
		Status: domain.OrderStatusPending, Note: "order placed", Actor: order.BuyerID, Timestamp: now,
	}}

	clone := *order
	s.orders[order.ID] = &clone
	return nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	clone := *order
	clone.StatusHistory = append([]domain.StatusEntry(nil), order.StatusHistory...)
	return &clone, nil
}

func (s *memStore) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	s.mu.Lock()
	var id string
	for _, o := range s.orders {
		if o.OrderNumber == number {
			id = o.ID
			break
		}
	}
	s.mu.Unlock()
	if id == "" {
		return nil, nil
	}
	return s.GetByID(ctx, id)
}

func (s *memStore) Transition(_ context.Context, orderID string, to domain.OrderStatus, entry domain.StatusEntry) error {
	return s.transition(orderID, to, entry, func(current domain.OrderStatus) bool {
		return CanTransition(current, to)
	})
}

func (s *memStore) Deliver(_ context.Context, orderID string, entry domain.StatusEntry) error {
	return s.transition(orderID, domain.OrderStatusDelivered, entry, CanDeliver)
}

func (s *memStore) transition(orderID string, to domain.OrderStatus, entry domain.StatusEntry, allow func(domain.OrderStatus) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if !allow(order.Status) {
		return fmt.Errorf("%s -> %s: %w", order.Status, to, domain.ErrInvalidTransition)
	}
	if s.frozen[orderID] {
		return domain.ErrOrderFrozen
	}

	entry.Status = to
	order.StatusHistory = append(order.StatusHistory, entry)
	order.Status = to
	order.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memStore) ConfirmPayment(_ context.Context, orderID string, details domain.PaymentDetails, transactionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := details.Provider + "/" + transactionID
	if _, seen := s.processed[key]; seen {
		return false, nil
	}

	order, ok := s.orders[orderID]
	if !ok {
		return false, domain.ErrOrderNotFound
	}
	// Mirrors the repository rollback: nothing is stamped or marked
	// processed for an order that has already closed.
	if order.Status == domain.OrderStatusCancelled || order.Status == domain.OrderStatusRefunded {
		return false, fmt.Errorf("order %s is %s: %w", orderID, order.Status, domain.ErrOrderClosed)
	}
	s.processed[key] = orderID
	if order.PaymentStatus == domain.PaymentStatusPaid {
		return false, nil
	}

	if order.Status == domain.OrderStatusPending {
		order.StatusHistory = append(order.StatusHistory, domain.StatusEntry{
			Status:    domain.OrderStatusConfirmed,
			Note:      fmt.Sprintf("payment %s via %s", details.PaymentID, details.Provider),
			Actor:     "payment-engine",
			Timestamp: time.Now().UTC(),
		})
		order.Status = domain.OrderStatusConfirmed
	}
	order.PaymentStatus = domain.PaymentStatusPaid
	order.PaymentDetails = &details
	order.Commission.Status = domain.CommissionCollected
	return true, nil
}

func (s *memStore) MarkPartialPayment(_ context.Context, orderID string, details domain.PaymentDetails, transactionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := details.Provider + "/" + transactionID
	if _, seen := s.processed[key]; seen {
		return false, nil
	}
	s.processed[key] = orderID

	order, ok := s.orders[orderID]
	if !ok {
		return false, domain.ErrOrderNotFound
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		return false, nil
	}
	order.PaymentStatus = domain.PaymentStatusPartial
	order.PaymentDetails = &details
	return true, nil
}

func (s *memStore) RecordAttempt(_ context.Context, attempt *domain.PaymentAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt.ID = uuid.New().String()
	attempt.CreatedAt = time.Now().UTC()
	s.attempts = append(s.attempts, *attempt)
	return nil
}

// recordingNotifier counts dispatched notifications.
type recordingNotifier struct {
	mu     sync.Mutex
	emails []string
	sms    []string
}

func (n *recordingNotifier) SendEmail(to, subject, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emails = append(n.emails, subject)
}

func (n *recordingNotifier) SendSMS(to, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sms = append(n.sms, to)
}

func (n *recordingNotifier) emailCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.emails)
}
