package dues

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/oyilmaz/aptDues/pkg/models"
	"github.com/oyilmaz/aptDues/pkg/store"
)

// ErrDuplicatePayment blocks a second dues record for the same apartment and
// month. The store does not enforce uniqueness; the pre-check here does.
var ErrDuplicatePayment = errors.New("a dues record already exists for this apartment and month")

// Engine handles the business logic for apartments and dues records.
type Engine struct {
	storage store.Storage
}

// NewEngine creates a new Engine with a given Storage implementation.
func NewEngine(s store.Storage) *Engine {
	return &Engine{storage: s}
}

// AddApartment registers a new apartment in the roster.
func (e *Engine) AddApartment(number, owner, phone, email string, floor, size int, monthlyFee decimal.Decimal) (*models.Apartment, error) {
	now := time.Now()
	apartment := &models.Apartment{
		ID:            uuid.New(),
		Number:        number,
		Owner:         owner,
		Phone:         phone,
		Email:         email,
		Floor:         floor,
		ApartmentSize: size,
		MonthlyFee:    monthlyFee,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.storage.CreateApartment(apartment); err != nil {
		return nil, fmt.Errorf("failed to store apartment: %w", err)
	}
	return apartment, nil
}

// GetApartment retrieves an apartment by its ID.
func (e *Engine) GetApartment(id uuid.UUID) (*models.Apartment, error) {
	return e.storage.GetApartment(id)
}

// GetAllApartments retrieves the roster ordered by apartment number.
func (e *Engine) GetAllApartments() ([]*models.Apartment, error) {
	return e.storage.GetAllApartments()
}

// UpdateApartment updates an existing apartment.
func (e *Engine) UpdateApartment(apartment *models.Apartment) error {
	apartment.UpdatedAt = time.Now()
	return e.storage.UpdateApartment(apartment)
}

// DeleteApartment removes an apartment together with all of its dues records.
func (e *Engine) DeleteApartment(id uuid.UUID) error {
	return e.storage.DeleteApartment(id)
}

// GetAllPayments retrieves every dues record.
func (e *Engine) GetAllPayments() ([]*models.Payment, error) {
	return e.storage.GetAllPayments()
}

// GetPayment retrieves a dues record by its ID.
func (e *Engine) GetPayment(id uuid.UUID) (*models.Payment, error) {
	return e.storage.GetPayment(id)
}

// CreatePayment stores a single new pending dues record after checking that
// the apartment exists and the month is not already covered.
func (e *Engine) CreatePayment(apartmentID uuid.UUID, month string, amount decimal.Decimal, dueDate time.Time) (*models.Payment, error) {
	if _, err := ParseMonth(month); err != nil {
		return nil, err
	}
	if _, err := e.storage.GetApartment(apartmentID); err != nil {
		return nil, err
	}

	existing, err := e.storage.GetPaymentsForApartment(apartmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing records: %w", err)
	}
	for _, p := range existing {
		if p.Month == month {
			return nil, ErrDuplicatePayment
		}
	}

	now := time.Now()
	payment := &models.Payment{
		ID:          uuid.New(),
		ApartmentID: apartmentID,
		Month:       month,
		Amount:      amount,
		PaidAmount:  decimal.Zero,
		Status:      models.StatusPending,
		DueDate:     dueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.storage.CreatePayment(payment); err != nil {
		return nil, fmt.Errorf("failed to store payment: %w", err)
	}
	return payment, nil
}

// UpdatePayment updates an existing dues record.
func (e *Engine) UpdatePayment(payment *models.Payment) error {
	payment.UpdatedAt = time.Now()
	return e.storage.UpdatePayment(payment)
}

// DeletePayment deletes a dues record.
func (e *Engine) DeletePayment(id uuid.UUID) error {
	return e.storage.DeletePayment(id)
}

// ApplyPayment records a partial or full payment on a dues record and
// persists the result.
func (e *Engine) ApplyPayment(id uuid.UUID, paidAmount decimal.Decimal) (*models.Payment, error) {
	payment, err := e.storage.GetPayment(id)
	if err != nil {
		return nil, err
	}
	if err := ApplyPayment(payment, paidAmount, time.Now()); err != nil {
		return nil, err
	}
	if err := e.storage.UpdatePayment(payment); err != nil {
		return nil, fmt.Errorf("failed to update payment: %w", err)
	}
	return payment, nil
}

// MarkFullyPaid settles a dues record for its full amount.
func (e *Engine) MarkFullyPaid(id uuid.UUID) (*models.Payment, error) {
	payment, err := e.storage.GetPayment(id)
	if err != nil {
		return nil, err
	}
	if err := MarkFullyPaid(payment, time.Now()); err != nil {
		return nil, err
	}
	if err := e.storage.UpdatePayment(payment); err != nil {
		return nil, fmt.Errorf("failed to update payment: %w", err)
	}
	return payment, nil
}

// RevertToPending resets a dues record to pending. The caller is responsible
// for confirming this with the user beforehand.
func (e *Engine) RevertToPending(id uuid.UUID) (*models.Payment, error) {
	payment, err := e.storage.GetPayment(id)
	if err != nil {
		return nil, err
	}
	RevertToPending(payment, time.Now())
	if err := e.storage.UpdatePayment(payment); err != nil {
		return nil, fmt.Errorf("failed to update payment: %w", err)
	}
	return payment, nil
}

// GenerateMonthlyDues creates a pending dues record for every apartment that
// does not have one for the month yet. Each record is an independent create;
// if one fails, the already stored ones stay in place and the error reports
// how far the batch got.
func (e *Engine) GenerateMonthlyDues(month string, amount decimal.Decimal, dueDate time.Time) ([]*models.Payment, int, error) {
	if _, err := ParseMonth(month); err != nil {
		return nil, 0, err
	}

	apartments, err := e.storage.GetAllApartments()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load apartments: %w", err)
	}
	existing, err := e.storage.GetAllPayments()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load payments: %w", err)
	}

	created, skipped := GenerateMonthlyDues(apartments, existing, month, amount, dueDate)

	var stored []*models.Payment
	for _, payment := range created {
		if err := e.storage.CreatePayment(payment); err != nil {
			return stored, skipped, fmt.Errorf("stored %d of %d records before failing: %w",
				len(stored), len(created), err)
		}
		stored = append(stored, payment)
	}
	return stored, skipped, nil
}

// RecordAdvancePayment validates and persists an advance payment batch. The
// batch is N independent creates; a partial failure leaves the stored records
// in place and is reported, not rolled back.
func (e *Engine) RecordAdvancePayment(apartmentID uuid.UUID, startMonth string, monthCount int,
	monthlyAmount, totalPaid decimal.Decimal) (*AdvancePlan, error) {

	if _, err := e.storage.GetApartment(apartmentID); err != nil {
		return nil, err
	}
	existing, err := e.storage.GetPaymentsForApartment(apartmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing records: %w", err)
	}

	plan, err := PlanAdvancePayment(apartmentID, startMonth, monthCount, monthlyAmount, totalPaid, existing, time.Now())
	if err != nil {
		return nil, err
	}

	stored := 0
	for _, payment := range plan.NewPayments {
		if err := e.storage.CreatePayment(payment); err != nil {
			return plan, fmt.Errorf("stored %d of %d advance records before failing: %w",
				stored, len(plan.NewPayments), err)
		}
		stored++
	}
	return plan, nil
}

// SummarizeMonth computes the collection figures for one month.
func (e *Engine) SummarizeMonth(month string) (MonthlySummary, error) {
	payments, err := e.storage.GetAllPayments()
	if err != nil {
		return MonthlySummary{}, fmt.Errorf("failed to load payments: %w", err)
	}
	return SummarizeMonth(payments, month), nil
}

// Debtors returns every apartment with outstanding dues.
func (e *Engine) Debtors() ([]Debtor, error) {
	apartments, err := e.storage.GetAllApartments()
	if err != nil {
		return nil, fmt.Errorf("failed to load apartments: %w", err)
	}
	payments, err := e.storage.GetAllPayments()
	if err != nil {
		return nil, fmt.Errorf("failed to load payments: %w", err)
	}
	return Debtors(apartments, payments), nil
}
