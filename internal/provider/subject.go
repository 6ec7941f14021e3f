package provider

// SubjectKind tags what is being paid for.
type SubjectKind string

const (
	SubjectOrder   SubjectKind = "order"
	SubjectInvoice SubjectKind = "invoice"
)

// PaymentSubject is the thing a payment collects money for: an order or
// an invoice. One constructor per case; adapters never infer the kind
// from which fields happen to be set.
type PaymentSubject struct {
	Kind      SubjectKind
	Reference string // platform order or invoice number
	Amount    int64
	Currency  string
	PayerName string
	Phone     string // E.164, required by mobile-money providers
	Email     string
}

// OrderSubject builds a payment subject for an order.
func OrderSubject(orderNumber string, amount int64, currency, payerName, phone, email string) PaymentSubject {
	return PaymentSubject{
		Kind:      SubjectOrder,
		Reference: orderNumber,
		Amount:    amount,
		Currency:  currency,
		PayerName: payerName,
		Phone:     phone,
		Email:     email,
	}
}

// InvoiceSubject builds a payment subject for a standalone invoice.
func InvoiceSubject(invoiceNumber string, amount int64, currency, payerName, phone, email string) PaymentSubject {
	return PaymentSubject{
		Kind:      SubjectInvoice,
		Reference: invoiceNumber,
		Amount:    amount,
		Currency:  currency,
		PayerName: payerName,
		Phone:     phone,
		Email:     email,
	}
}
