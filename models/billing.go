package models

import "gorm.io/gorm"

// Credit transaction types
const (
	TransactionPurchase  = "purchase"
	TransactionSendDebit = "send_debit"
	TransactionRefund    = "refund"
)

// CreditTransaction records email credit purchases and usage for a school.
type CreditTransaction struct {
	gorm.Model
	SchoolID uint `gorm:"not null;index" json:"school_id"`

	// Positive for purchases/refunds, negative for usage
	Credits      int `gorm:"not null" json:"credits"`
	BalanceAfter int `gorm:"not null" json:"balance_after"`

	Type        string `gorm:"not null" json:"type"` // purchase, send_debit, refund
	Description string `json:"description"`

	// Financial information, set for purchases
	Amount   int    `json:"amount"` // in cents
	Currency string `gorm:"default:'usd'" json:"currency"`

	StripePaymentIntentID string `gorm:"index" json:"stripe_payment_intent_id,omitempty"`
	PaymentStatus         string `gorm:"default:'completed'" json:"payment_status"` // pending, completed, failed, refunded

	// Relations
	School School `json:"-"`
}
