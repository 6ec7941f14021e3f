package payouts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sokoni-dev/sokoni-payments/internal/domain"
	"github.com/sokoni-dev/sokoni-payments/internal/fees"
	"github.com/sokoni-dev/sokoni-payments/internal/provider"
)

// Store is the persistence surface the engine needs. *PayoutRepository
// satisfies it against Postgres.
type Store interface {
	EligibleOrders(ctx context.Context) ([]domain.Order, error)
	OrdersForPayout(ctx context.Context, ids []string) ([]domain.Order, error)
	Create(ctx context.Context, payout *domain.Payout) error
	Get(ctx context.Context, id string) (*domain.Payout, error)
	BeginProcessing(ctx context.Context, id, actor string) (*domain.Payout, error)
	Complete(ctx context.Context, id, transferID string) error
	Fail(ctx context.Context, id, reason string) error
	Retry(ctx context.Context, id, actor string) error
}

type Engine struct {
	store     Store
	fees      *fees.Calculator
	disburser provider.Disburser
	log       *slog.Logger
	now       func() time.Time
}

func NewEngine(store Store, calc *fees.Calculator, disburser provider.Disburser, log *slog.Logger) *Engine {
	return &Engine{
		store:     store,
		fees:      calc,
		disburser: disburser,
		log:       log,
		now:       time.Now,
	}
}

// sellerSlice is one seller's cut of a single order: their share of the
// gross, the commission and the provider fee, pro-rated by line subtotal.
type sellerSlice struct {
	gross      int64
	commission int64
	fee        int64
}

// CalculatePending aggregates settled, unclaimed orders into one
// candidate per seller. Orders whose provider fee is not modeled are
// skipped and logged rather than paid out with a guessed fee.
func (e *Engine) CalculatePending(ctx context.Context) ([]domain.PayoutCandidate, error) {
	orders, err := e.store.EligibleOrders(ctx)
	if err != nil {
		return nil, err
	}

	bySeller := make(map[string]*domain.PayoutCandidate)
	for i := range orders {
		order := &orders[i]
		slices, err := e.splitOrder(order)
		if err != nil {
			e.log.WarnContext(ctx, "skipping order in payout calculation",
				"order_number", order.OrderNumber, "error", err)
			continue
		}
		for sellerID, slice := range slices {
			c, ok := bySeller[sellerID]
			if !ok {
				c = &domain.PayoutCandidate{SellerID: sellerID}
				bySeller[sellerID] = c
			}
			c.OrderIDs = append(c.OrderIDs, order.ID)
			c.GrossAmount += slice.gross
			c.TotalCommission += slice.commission
			c.TotalFees += slice.fee
		}
	}

	candidates := make([]domain.PayoutCandidate, 0, len(bySeller))
	for _, c := range bySeller {
		c.NetAmount = c.GrossAmount - c.TotalCommission - c.TotalFees
		sort.Strings(c.OrderIDs)
		candidates = append(candidates, *c)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].SellerID < candidates[j].SellerID
	})
	return candidates, nil
}

// splitOrder attributes an order's money to its sellers. A single-seller
// order maps whole; a multi-seller order is pro-rated by each seller's
// line subtotal.
func (e *Engine) splitOrder(order *domain.Order) (map[string]sellerSlice, error) {
	fee, err := e.orderFee(order)
	if err != nil {
		return nil, err
	}

	subtotals := make(map[string]int64)
	for _, item := range order.Items {
		subtotals[item.SellerID] += item.Subtotal
	}
	if len(subtotals) == 0 {
		subtotals[order.SellerID] = order.Subtotal
	}

	if len(subtotals) == 1 {
		for sellerID := range subtotals {
			return map[string]sellerSlice{sellerID: {
				gross:      order.TotalAmount,
				commission: order.Commission.Amount,
				fee:        fee,
			}}, nil
		}
	}

	// The remainder seller absorbs rounding drift so slices always sum
	// back to the order totals. Prefer the seller of record; fall back
	// to the largest line when they sold nothing on this order.
	remainderSeller := order.SellerID
	if _, ok := subtotals[remainderSeller]; !ok {
		var best int64
		for sellerID, lineSubtotal := range subtotals {
			if lineSubtotal > best || (lineSubtotal == best && sellerID < remainderSeller) {
				remainderSeller, best = sellerID, lineSubtotal
			}
		}
	}

	slices := make(map[string]sellerSlice, len(subtotals))
	orderSubtotal := decimal.NewFromInt(order.Subtotal)
	var grossLeft, commissionLeft, feeLeft = order.TotalAmount, order.Commission.Amount, fee
	for sellerID, lineSubtotal := range subtotals {
		if sellerID == remainderSeller {
			continue
		}
		share := decimal.NewFromInt(lineSubtotal).Div(orderSubtotal)
		s := sellerSlice{
			gross:      prorate(order.TotalAmount, share),
			commission: prorate(order.Commission.Amount, share),
			fee:        prorate(fee, share),
		}
		slices[sellerID] = s
		grossLeft -= s.gross
		commissionLeft -= s.commission
		feeLeft -= s.fee
	}
	slices[remainderSeller] = sellerSlice{gross: grossLeft, commission: commissionLeft, fee: feeLeft}
	return slices, nil
}

func prorate(amount int64, share decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(share).Round(0).IntPart()
}

func (e *Engine) orderFee(order *domain.Order) (int64, error) {
	if order.PaymentDetails == nil || order.PaymentDetails.Provider == "" {
		return 0, fmt.Errorf("order %s has no settled provider", order.OrderNumber)
	}
	fee, ok := e.fees.Fee(order.PaymentDetails.Provider, order.TotalAmount)
	if !ok {
		return 0, fmt.Errorf("no fee modeled for %s at %d", order.PaymentDetails.Provider, order.TotalAmount)
	}
	return fee, nil
}

// CreatePayout batches the named orders into a pending payout for one
// seller. Every order must be settled, unclaimed, and carry a modeled
// provider fee; the reservation in the store rejects the batch if any
// order was claimed concurrently.
func (e *Engine) CreatePayout(ctx context.Context, sellerID string, orderIDs []string) (*domain.Payout, error) {
	if sellerID == "" {
		return nil, &domain.ValidationError{Field: "seller_id", Reason: "required"}
	}
	if len(orderIDs) == 0 {
		return nil, &domain.ValidationError{Field: "order_ids", Reason: "at least one order required"}
	}
	seen := make(map[string]bool, len(orderIDs))
	for _, id := range orderIDs {
		if seen[id] {
			return nil, &domain.ValidationError{Field: "order_ids", Reason: "duplicate order " + id}
		}
		seen[id] = true
	}

	orders, err := e.store.OrdersForPayout(ctx, orderIDs)
	if err != nil {
		return nil, err
	}
	if len(orders) != len(orderIDs) {
		return nil, fmt.Errorf("%d of %d orders found: %w", len(orders), len(orderIDs), domain.ErrOrderNotFound)
	}

	payout := &domain.Payout{SellerID: sellerID, OrderIDs: orderIDs}
	for i := range orders {
		order := &orders[i]
		if !order.Paid() {
			return nil, fmt.Errorf("order %s is not settled: %w", order.OrderNumber, domain.ErrOrderNotEligible)
		}
		if order.Commission.Status != domain.CommissionCollected {
			return nil, fmt.Errorf("order %s commission is %s: %w",
				order.OrderNumber, order.Commission.Status, domain.ErrOrderNotEligible)
		}
		slices, err := e.splitOrder(order)
		if err != nil {
			return nil, &domain.ValidationError{Field: "order_ids", Reason: err.Error()}
		}
		slice, ok := slices[sellerID]
		if !ok {
			return nil, fmt.Errorf("order %s has no line items for seller %s: %w",
				order.OrderNumber, sellerID, domain.ErrOrderNotEligible)
		}
		payout.GrossAmount += slice.gross
		payout.TotalCommission += slice.commission
		payout.TotalFees += slice.fee
	}
	payout.NetAmount = payout.GrossAmount - payout.TotalCommission - payout.TotalFees

	if err := e.store.Create(ctx, payout); err != nil {
		return nil, err
	}
	e.log.InfoContext(ctx, "payout created", "payout_id", payout.ID,
		"seller_id", sellerID, "orders", len(orderIDs), "net_amount", payout.NetAmount)
	return payout, nil
}

// Process runs the transfer for a pending payout. Transfer failure
// moves the payout to failed and releases its orders for a later retry.
func (e *Engine) Process(ctx context.Context, id, actor string) (*domain.Payout, error) {
	payout, err := e.store.BeginProcessing(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	transferID, err := e.disburser.Disburse(ctx, payout.SellerID, payout.NetAmount, payout.ID)
	if err != nil {
		e.log.ErrorContext(ctx, "payout transfer failed", "payout_id", id,
			"attempt", payout.Attempts, "error", err)
		if failErr := e.store.Fail(ctx, id, err.Error()); failErr != nil {
			return nil, errors.Join(err, failErr)
		}
		return e.store.Get(ctx, id)
	}

	if err := e.store.Complete(ctx, id, transferID); err != nil {
		return nil, err
	}
	e.log.InfoContext(ctx, "payout completed", "payout_id", id, "transfer_id", transferID)
	return e.store.Get(ctx, id)
}

// Retry re-queues a failed payout once its backoff window has elapsed.
func (e *Engine) Retry(ctx context.Context, id, actor string) (*domain.Payout, error) {
	payout, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if payout == nil {
		return nil, domain.ErrPayoutNotFound
	}
	if payout.Status != domain.PayoutStatusFailed {
		return nil, fmt.Errorf("payout %s is %s: %w", id, payout.Status, domain.ErrPayoutNotRetryable)
	}
	if payout.Attempts >= MaxAttempts {
		return nil, fmt.Errorf("payout %s exhausted %d attempts: %w", id, payout.Attempts, domain.ErrPayoutNotRetryable)
	}
	var last time.Time
	if payout.LastAttemptAt != nil {
		last = *payout.LastAttemptAt
	}
	if eligible, remaining := RetryEligible(payout.Attempts, last, e.now()); !eligible {
		return nil, &domain.RetryBackoffError{Remaining: remaining}
	}

	if err := e.store.Retry(ctx, id, actor); err != nil {
		return nil, err
	}
	e.log.InfoContext(ctx, "payout re-queued", "payout_id", id, "attempt", payout.Attempts)
	return e.store.Get(ctx, id)
}

// Get returns the payout with its orders and audit trail.
func (e *Engine) Get(ctx context.Context, id string) (*domain.Payout, error) {
	payout, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if payout == nil {
		return nil, domain.ErrPayoutNotFound
	}
	return payout, nil
}

var _ Store = (*PayoutRepository)(nil)
