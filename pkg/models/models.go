package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Apartment is one unit in the building roster.
type Apartment struct {
	ID            uuid.UUID       `json:"id"`
	Number        string          `json:"apartment_number"` // Display label, not guaranteed numeric
	Owner         string          `json:"owner_name"`
	Phone         string          `json:"phone,omitempty"`
	Email         string          `json:"email,omitempty"`
	Floor         int             `json:"floor,omitempty"`
	ApartmentSize int             `json:"apartment_size,omitempty"` // Square meters
	MonthlyFee    decimal.Decimal `json:"monthly_fee"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type PaymentStatus string

const (
	StatusPending PaymentStatus = "pending"
	StatusPartial PaymentStatus = "partial"
	StatusPaid    PaymentStatus = "paid"
)

// Payment is one apartment's dues record for one month.
type Payment struct {
	ID               uuid.UUID       `json:"id"`
	ApartmentID      uuid.UUID       `json:"apartment_id"`
	Month            string          `json:"month"` // YYYY-MM
	Amount           decimal.Decimal `json:"amount"`
	PaidAmount       decimal.Decimal `json:"paid_amount"`
	Status           PaymentStatus   `json:"status"`
	DueDate          time.Time       `json:"due_date"`
	PaidDate         *time.Time      `json:"paid_date,omitempty"`
	PaymentMethod    string          `json:"payment_method,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	IsAdvancePayment bool            `json:"is_advance_payment,omitempty"`
	AdvanceMonths    []string        `json:"advance_months,omitempty"` // All months covered by the same advance batch
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Remaining returns the outstanding balance on the record.
func (p *Payment) Remaining() decimal.Decimal {
	return p.Amount.Sub(p.PaidAmount)
}

// IsOutstanding reports whether the record still owes money.
func (p *Payment) IsOutstanding() bool {
	return p.Status == StatusPending || p.Status == StatusPartial
}
