package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category is the explicit product category assigned at catalog ingestion.
// Pricing and billing rules dispatch on it; product names are never sniffed.
type Category string

const (
	CategoryLubricant Category = "lubricant"
	CategoryFilter    Category = "filter"
	CategoryPart      Category = "part"
	CategoryAdditive  Category = "additive"
	CategoryBattery   Category = "battery"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryLubricant, CategoryFilter, CategoryPart, CategoryAdditive, CategoryBattery:
		return true
	}
	return false
}

// BottleVariant applies to lubricant lines only. Other categories leave it empty.
type BottleVariant string

const (
	BottleOpen   BottleVariant = "open"
	BottleClosed BottleVariant = "closed"
)

type Product struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Category   Category        `json:"category"`
	Price      decimal.Decimal `json:"price"`
	CostPrice  decimal.Decimal `json:"cost_price"`
	VolumeSize string          `json:"volume_size,omitempty"`
}

// LineItem is one cart row. LineKey identifies the row: the same product
// added with different options (volume size, bottle variant) is a distinct row.
type LineItem struct {
	LineKey       string          `json:"line_key"`
	ProductID     string          `json:"product_id"`
	Name          string          `json:"name"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Quantity      int             `json:"quantity"`
	Category      Category        `json:"category"`
	Details       string          `json:"details,omitempty"`
	BottleVariant BottleVariant   `json:"bottle_variant,omitempty"`
}

func (l LineItem) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type DiscountKind string

const (
	DiscountPercentage DiscountKind = "percentage"
	DiscountAmount     DiscountKind = "amount"
)

// Discount is the single active cart adjustment. The effective deduction is
// computed against the subtotal and never exceeds it.
type Discount struct {
	Kind  DiscountKind    `json:"kind"`
	Value decimal.Decimal `json:"value"`
}

type TradeInCondition string

const (
	ConditionScrap      TradeInCondition = "scrap"
	ConditionResellable TradeInCondition = "resellable"
)

// BatterySizes is the fixed set of accepted trade-in battery sizes (Ah).
var BatterySizes = []int{40, 50, 60, 70, 80, 100}

func ValidBatterySize(size int) bool {
	for _, s := range BatterySizes {
		if s == size {
			return true
		}
	}
	return false
}

func (c TradeInCondition) Valid() bool {
	return c == ConditionScrap || c == ConditionResellable
}

type TradeInEntry struct {
	ID          string           `json:"id"`
	BatterySize int              `json:"battery_size"`
	Condition   TradeInCondition `json:"condition"`
	Amount      decimal.Decimal  `json:"amount"`
}

// TradeInPrice is one row of the store's suggested trade-in price list.
type TradeInPrice struct {
	BatterySize int              `json:"battery_size"`
	Condition   TradeInCondition `json:"condition"`
	Amount      decimal.Decimal  `json:"amount"`
}

// CartTotals is derived, never stored. Total floors at zero: trade-in may
// exceed the discounted subtotal, and the excess is not paid out as cash.
type CartTotals struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TradeInAmount  decimal.Decimal `json:"trade_in_amount"`
	Total          decimal.Decimal `json:"total"`
}

type ViolationReason string

const (
	ViolationNotFound     ViolationReason = "notFound"
	ViolationUnavailable  ViolationReason = "unavailable"
	ViolationInsufficient ViolationReason = "insufficientQuantity"
)

type StockViolation struct {
	LineKey           string          `json:"line_key"`
	ProductID         string          `json:"product_id"`
	Reason            ViolationReason `json:"reason"`
	AvailableQuantity int             `json:"available_quantity"`
}

// Availability is the catalog's answer for one product, read from the latest
// local snapshot and possibly stale relative to the backend.
type Availability struct {
	CanSell           bool   `json:"can_sell"`
	AvailableQuantity int    `json:"available_quantity"`
	ErrorMessage      string `json:"error_message,omitempty"`
}

type TransactionLine struct {
	ProductID    string          `json:"product_id"`
	Description  string          `json:"description"`
	Quantity     int             `json:"quantity"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	Source       string          `json:"source,omitempty"`
}

type TransactionTradeIn struct {
	ProductRef   string          `json:"product_ref"`
	Name         string          `json:"name"`
	Quantity     int             `json:"quantity"`
	TradeInValue decimal.Decimal `json:"trade_in_value"`
	Size         int             `json:"size"`
	Condition    string          `json:"condition"`
	CostPrice    decimal.Decimal `json:"cost_price"`
}

// Transaction is the submitted form sent to the transaction service.
// ReferenceNumber is generated client-side before any network call and is
// the idempotency key: resubmission with the same reference never
// double-commits.
type Transaction struct {
	ReferenceNumber string               `json:"reference_number"`
	LocationID      string               `json:"location_id"`
	ShopID          string               `json:"shop_id"`
	CashierID       string               `json:"cashier_id"`
	PaymentMethod   string               `json:"payment_method"`
	Lines           []TransactionLine    `json:"lines"`
	TradeIns        []TransactionTradeIn `json:"trade_ins,omitempty"`
	Totals          CartTotals           `json:"totals"`
	CreatedAt       time.Time            `json:"created_at"`
}

// BatteryOnly reports whether every line on the transaction is a battery.
// Battery-only sales use the B bill prefix and the battery bill layout.
func (t Transaction) BatteryOnly() bool {
	if len(t.Lines) == 0 {
		return false
	}
	for _, l := range t.Lines {
		if l.Source != string(CategoryBattery) {
			return false
		}
	}
	return true
}

type QueueStatus string

const (
	QueuePendingSync QueueStatus = "pending-sync"
	QueueSynced      QueueStatus = "synced"
)

// QueueEntry is one durable offline-queue record, keyed by reference number
// and surviving process restarts.
type QueueEntry struct {
	ReferenceNumber string      `json:"reference_number"`
	Payload         Transaction `json:"payload"`
	Status          QueueStatus `json:"status"`
	Attempts        int         `json:"attempts"`
	LastError       string      `json:"last_error,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	SyncedAt        *time.Time  `json:"synced_at,omitempty"`
}

type SyncStatus struct {
	Pending int `json:"pending"`
	Synced  int `json:"synced"`
}

type CheckoutResult struct {
	ReferenceNumber string          `json:"reference_number"`
	Offline         bool            `json:"offline"`
	Total           decimal.Decimal `json:"total"`
	BillHTML        string          `json:"bill_html,omitempty"`
}

type ReceiptItem struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	Details  string          `json:"details,omitempty"`
}

// Receipt is a past transaction as returned by the refund lookup.
type Receipt struct {
	ReferenceNumber string          `json:"reference_number"`
	Date            string          `json:"date"`
	Time            string          `json:"time"`
	PaymentMethod   string          `json:"payment_method"`
	Total           decimal.Decimal `json:"total"`
	Items           []ReceiptItem   `json:"items"`
}

type RefundRequest struct {
	OriginalReferenceNumber string          `json:"original_reference_number"`
	RefundAmount            decimal.Decimal `json:"refund_amount"`
	RefundItems             []ReceiptItem   `json:"refund_items"`
	Reason                  string          `json:"reason"`
	CashierID               string          `json:"cashier_id"`
	ShopID                  string          `json:"shop_id"`
	LocationID              string          `json:"location_id"`
	CustomerID              string          `json:"customer_id,omitempty"`
}

type RefundConfirmation struct {
	ReferenceNumber string `json:"reference_number"`
}

// CheckoutConfirmation is the transaction service's answer to a submitted
// sale. BillHTML is only present for product mixes the backend renders
// itself (battery-only sales).
type CheckoutConfirmation struct {
	ReferenceNumber string `json:"reference_number"`
	BillHTML        string `json:"bill_html,omitempty"`
}

// StaffMember is one roster entry. IDs are the numeric codes staff key in
// at authorization time.
type StaffMember struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Actor struct {
	Username string
	Role     string
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AddLineRequest carries the full product because the terminal UI already
// holds the catalog entry the cashier tapped.
type AddLineRequest struct {
	Product       Product       `json:"product"`
	Quantity      int           `json:"quantity"`
	Details       string        `json:"details,omitempty"`
	BottleVariant BottleVariant `json:"bottle_variant,omitempty"`
}

type SetQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type TradeInRequest struct {
	BatterySize int              `json:"battery_size"`
	Condition   TradeInCondition `json:"condition"`
	Amount      decimal.Decimal  `json:"amount"`
}

type CheckoutSubmitRequest struct {
	CashierID     string `json:"cashier_id"`
	PaymentMethod string `json:"payment_method"`
}

// CartView is the full working-sale state the UI re-renders after every
// mutation: lines, discount, trade-ins, and the derived totals.
type CartView struct {
	Lines    []LineItem     `json:"lines"`
	Discount *Discount      `json:"discount,omitempty"`
	TradeIns []TradeInEntry `json:"trade_ins"`
	Totals   CartTotals     `json:"totals"`
}
