package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusPartial PaymentStatus = "partial"
	PaymentStatusFailed  PaymentStatus = "failed"
)

type PaymentMethod string

const (
	PaymentMethodCard        PaymentMethod = "card"
	PaymentMethodMobileMoney PaymentMethod = "mobile_money"
)

type CommissionStatus string

const (
	CommissionCollected  CommissionStatus = "collected"
	CommissionProcessing CommissionStatus = "processing"
	CommissionPaid       CommissionStatus = "paid"
)

// All money fields are integral minor currency units.
type OrderItem struct {
	ProductID string `json:"product_id"`
	SellerID  string `json:"seller_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Subtotal  int64  `json:"subtotal"`
}

type StatusEntry struct {
	Status    OrderStatus `json:"status"`
	Note      string      `json:"note,omitempty"`
	Actor     string      `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
}

// PaymentDetails is stamped exactly once, on the first successful
// verification, and never cleared afterwards.
type PaymentDetails struct {
	PaymentID     string        `json:"payment_id"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	PaymentDate   time.Time     `json:"payment_date"`
	Provider      string        `json:"provider"`
}

type Commission struct {
	Amount int64            `json:"amount"`
	Status CommissionStatus `json:"status"`
}

type Order struct {
	ID             string          `json:"id"`
	OrderNumber    string          `json:"order_number"`
	BuyerID        string          `json:"buyer_id"`
	SellerID       string          `json:"seller_id"`
	CourierID      string          `json:"courier_id,omitempty"`
	Items          []OrderItem     `json:"items"`
	Subtotal       int64           `json:"subtotal"`
	Tax            int64           `json:"tax"`
	ShippingCost   int64           `json:"shipping_cost"`
	TotalAmount    int64           `json:"total_amount"`
	Status         OrderStatus     `json:"status"`
	StatusHistory  []StatusEntry   `json:"status_history"`
	PaymentMethod  PaymentMethod   `json:"payment_method"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	PaymentDetails *PaymentDetails `json:"payment_details,omitempty"`
	Commission     Commission      `json:"commission"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Paid reports whether the order's payment has been fully confirmed.
// A partial reconciliation match does not count.
func (o *Order) Paid() bool {
	return o.PaymentStatus == PaymentStatusPaid
}

// PaymentAttempt records one outbound request to a provider to collect
// money for one order. Buyers may retry, so several attempts can exist
// per order; only the first verified one may transition the order.
type PaymentAttempt struct {
	ID             string        `json:"id"`
	OrderID        string        `json:"order_id"`
	Provider       string        `json:"provider"`
	ProviderRef    string        `json:"provider_ref"`
	AmountExpected int64         `json:"amount_expected"`
	Method         PaymentMethod `json:"method"`
	CreatedAt      time.Time     `json:"created_at"`
}

type Courier struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}
