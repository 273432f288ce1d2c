// Package event defines the saga contracts: topics, kinds, payloads and the
// versioned envelope that carries them over the bus.
package event

// Topics. Each one is a durable queue consumed with manual acknowledgment.
const (
	TopicOrder   = "order"
	TopicPayment = "payment"
	TopicStock   = "stock"
)

// Kind is the tagged discriminator of an envelope.
type Kind string

const (
	KindReservePayment  Kind = "ReservePayment"
	KindReleasePayment  Kind = "ReleasePayment"
	KindReserveStock    Kind = "ReserveStock"
	KindReleaseStock    Kind = "ReleaseStock"
	KindPaymentReserved Kind = "PaymentReserved"
	KindPaymentRejected Kind = "PaymentRejected"
	KindStockReserved   Kind = "StockReserved"
	KindStockRejected   Kind = "StockRejected"
)

// Rejection reasons carried by PaymentRejected / StockRejected.
const (
	ReasonAccountNotFound    = "account not found"
	ReasonInsufficientCredit = "insufficient credit"
	ReasonItemNotFound       = "item not found"
	ReasonInsufficientStock  = "insufficient stock"
)

// Event is implemented by every payload type.
type Event interface {
	Kind() Kind
	// CorrelationID is the order id the event belongs to.
	CorrelationID() string
}

// Topic returns the topic a kind is published to, or "" for an unknown kind.
func Topic(k Kind) string {
	switch k {
	case KindReservePayment, KindReleasePayment:
		return TopicPayment
	case KindReserveStock, KindReleaseStock:
		return TopicStock
	case KindPaymentReserved, KindPaymentRejected, KindStockReserved, KindStockRejected:
		return TopicOrder
	}
	return ""
}

// TopicOf is Topic(e.Kind()).
func TopicOf(e Event) string {
	return Topic(e.Kind())
}

// LineItem is one (item id, quantity) pair of a stock request.
type LineItem struct {
	ItemID   string `json:"item_id" validate:"required"`
	Quantity int64  `json:"quantity" validate:"gt=0"`
}

type ReservePayment struct {
	OrderID string `json:"order_id" validate:"required"`
	UserID  string `json:"user_id" validate:"required"`
	Amount  int64  `json:"amount" validate:"gte=0"`
}

func (e ReservePayment) Kind() Kind            { return KindReservePayment }
func (e ReservePayment) CorrelationID() string { return e.OrderID }

// ReleasePayment refunds a previously reserved amount.
type ReleasePayment struct {
	OrderID string `json:"order_id" validate:"required"`
	UserID  string `json:"user_id" validate:"required"`
	Amount  int64  `json:"amount" validate:"gte=0"`
}

func (e ReleasePayment) Kind() Kind            { return KindReleasePayment }
func (e ReleasePayment) CorrelationID() string { return e.OrderID }

type ReserveStock struct {
	OrderID string     `json:"order_id" validate:"required"`
	Items   []LineItem `json:"items" validate:"required,min=1,dive"`
}

func (e ReserveStock) Kind() Kind            { return KindReserveStock }
func (e ReserveStock) CorrelationID() string { return e.OrderID }

// ReleaseStock restocks a previously reserved item set.
type ReleaseStock struct {
	OrderID string     `json:"order_id" validate:"required"`
	Items   []LineItem `json:"items" validate:"required,min=1,dive"`
}

func (e ReleaseStock) Kind() Kind            { return KindReleaseStock }
func (e ReleaseStock) CorrelationID() string { return e.OrderID }

type PaymentReserved struct {
	OrderID string `json:"order_id" validate:"required"`
}

func (e PaymentReserved) Kind() Kind            { return KindPaymentReserved }
func (e PaymentReserved) CorrelationID() string { return e.OrderID }

type PaymentRejected struct {
	OrderID string `json:"order_id" validate:"required"`
	Reason  string `json:"reason" validate:"required"`
}

func (e PaymentRejected) Kind() Kind            { return KindPaymentRejected }
func (e PaymentRejected) CorrelationID() string { return e.OrderID }

type StockReserved struct {
	OrderID string `json:"order_id" validate:"required"`
}

func (e StockReserved) Kind() Kind            { return KindStockReserved }
func (e StockReserved) CorrelationID() string { return e.OrderID }

type StockRejected struct {
	OrderID string `json:"order_id" validate:"required"`
	Reason  string `json:"reason" validate:"required"`
}

func (e StockRejected) Kind() Kind            { return KindStockRejected }
func (e StockRejected) CorrelationID() string { return e.OrderID }
