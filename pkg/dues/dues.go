package dues

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/oyilmaz/aptDues/pkg/models"
)

const (
	minAdvanceMonths = 1
	maxAdvanceMonths = 12
)

// amountTolerance absorbs rounding drift when reconciling an advance payment
// total against monthly amount times month count.
var amountTolerance = decimal.NewFromFloat(0.01)

var (
	ErrNonPositiveAmount = errors.New("paid amount must be greater than zero")
	ErrOverpayment       = errors.New("paid amount cannot exceed the amount due")
	ErrMonthCountRange   = errors.New("month count must be between 1 and 12")
	ErrNothingToProcess  = errors.New("all requested months are already paid")
)

// AmountMismatchError reports that the entered total does not reconcile with
// monthly amount times month count. Difference is entered minus expected.
type AmountMismatchError struct {
	Expected   decimal.Decimal
	Entered    decimal.Decimal
	Difference decimal.Decimal
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("total paid %s does not match expected %s (difference %s)",
		e.Entered.StringFixed(2), e.Expected.StringFixed(2), e.Difference.StringFixed(2))
}

// MonthlySummary aggregates the dues records of a single month.
type MonthlySummary struct {
	Month            string          `json:"month"`
	TotalDue         decimal.Decimal `json:"total_due"`
	TotalCollected   decimal.Decimal `json:"total_collected"`
	PendingAmount    decimal.Decimal `json:"pending_amount"`
	CollectionRate   float64         `json:"collection_rate"`
	PaidCount        int             `json:"paid_count"`
	OutstandingCount int             `json:"outstanding_count"`
}

// SummarizeMonth computes the collection figures for one month. Pending
// records contribute nothing to the collected total since their paid amount
// is zero by invariant.
func SummarizeMonth(payments []*models.Payment, month string) MonthlySummary {
	summary := MonthlySummary{
		Month:          month,
		TotalDue:       decimal.Zero,
		TotalCollected: decimal.Zero,
	}

	for _, p := range payments {
		if p.Month != month {
			continue
		}
		summary.TotalDue = summary.TotalDue.Add(p.Amount)
		switch p.Status {
		case models.StatusPaid:
			summary.TotalCollected = summary.TotalCollected.Add(p.PaidAmount)
			summary.PaidCount++
		case models.StatusPartial:
			summary.TotalCollected = summary.TotalCollected.Add(p.PaidAmount)
			summary.OutstandingCount++
		default:
			summary.OutstandingCount++
		}
	}

	summary.PendingAmount = summary.TotalDue.Sub(summary.TotalCollected)
	if summary.TotalDue.IsPositive() {
		rate, _ := summary.TotalCollected.Div(summary.TotalDue).
			Mul(decimal.NewFromInt(100)).Float64()
		summary.CollectionRate = rate
	}
	return summary
}

// GenerateMonthlyDues constructs one pending dues record for every apartment
// that does not already have one for the month. Existing records are never
// overwritten; the skipped count reports how many apartments already had one.
// The returned records are not yet persisted.
func GenerateMonthlyDues(apartments []*models.Apartment, existing []*models.Payment,
	month string, amount decimal.Decimal, dueDate time.Time) (created []*models.Payment, skipped int) {

	covered := make(map[uuid.UUID]bool)
	for _, p := range existing {
		if p.Month == month {
			covered[p.ApartmentID] = true
		}
	}

	now := time.Now()
	for _, apartment := range apartments {
		if covered[apartment.ID] {
			skipped++
			continue
		}
		created = append(created, &models.Payment{
			ID:          uuid.New(),
			ApartmentID: apartment.ID,
			Month:       month,
			Amount:      amount,
			PaidAmount:  decimal.Zero,
			Status:      models.StatusPending,
			DueDate:     dueDate,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return created, skipped
}

// ApplyPayment records a partial or full payment on a dues record. The paid
// amount replaces the previous one; a single entry may not exceed the amount
// due.
func ApplyPayment(p *models.Payment, paidAmount decimal.Decimal, now time.Time) error {
	if !paidAmount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if paidAmount.GreaterThan(p.Amount) {
		return ErrOverpayment
	}

	if paidAmount.GreaterThanOrEqual(p.Amount) {
		p.Status = models.StatusPaid
	} else {
		p.Status = models.StatusPartial
	}
	p.PaidAmount = paidAmount
	paidDate := now
	p.PaidDate = &paidDate
	p.UpdatedAt = now
	return nil
}

// MarkFullyPaid settles the record for its full amount.
func MarkFullyPaid(p *models.Payment, now time.Time) error {
	return ApplyPayment(p, p.Amount, now)
}

// RevertToPending undoes any payment on the record. Destructive; callers are
// expected to confirm with the user first.
func RevertToPending(p *models.Payment, now time.Time) {
	p.Status = models.StatusPending
	p.PaidAmount = decimal.Zero
	p.PaidDate = nil
	p.UpdatedAt = now
}

// AdvancePlan is the outcome of reconciling an advance payment request
// against the apartment's existing records.
type AdvancePlan struct {
	ApartmentID     uuid.UUID
	RequestedMonths []string
	NewPayments     []*models.Payment
	SkippedMonths   []string // Months that already had a record
	MonthlyAmount   decimal.Decimal
	TotalPaid       decimal.Decimal
}

// PlanAdvancePayment validates an advance payment and builds the batch of
// paid records to persist, one per month that is not already covered. The
// entered total must reconcile with monthly amount times month count within
// tolerance. A month that already has any record for this apartment is
// skipped so a second record for the same (apartment, month) pair is never
// produced.
func PlanAdvancePayment(apartmentID uuid.UUID, startMonth string, monthCount int,
	monthlyAmount, totalPaid decimal.Decimal, existing []*models.Payment,
	now time.Time) (*AdvancePlan, error) {

	if monthCount < minAdvanceMonths || monthCount > maxAdvanceMonths {
		return nil, ErrMonthCountRange
	}
	if !monthlyAmount.IsPositive() || !totalPaid.IsPositive() {
		return nil, ErrNonPositiveAmount
	}

	expectedTotal := monthlyAmount.Mul(decimal.NewFromInt(int64(monthCount)))
	difference := totalPaid.Sub(expectedTotal)
	if difference.Abs().GreaterThan(amountTolerance) {
		return nil, &AmountMismatchError{
			Expected:   expectedTotal,
			Entered:    totalPaid,
			Difference: difference,
		}
	}

	months, err := MonthSequence(startMonth, monthCount)
	if err != nil {
		return nil, err
	}

	covered := make(map[string]bool)
	for _, p := range existing {
		if p.ApartmentID == apartmentID {
			covered[p.Month] = true
		}
	}

	plan := &AdvancePlan{
		ApartmentID:     apartmentID,
		RequestedMonths: months,
		MonthlyAmount:   monthlyAmount,
		TotalPaid:       totalPaid,
	}

	paidDate := now
	for _, month := range months {
		if covered[month] {
			plan.SkippedMonths = append(plan.SkippedMonths, month)
			continue
		}
		dueDate, err := FirstOfMonth(month)
		if err != nil {
			return nil, err
		}
		plan.NewPayments = append(plan.NewPayments, &models.Payment{
			ID:               uuid.New(),
			ApartmentID:      apartmentID,
			Month:            month,
			Amount:           monthlyAmount,
			PaidAmount:       monthlyAmount,
			Status:           models.StatusPaid,
			DueDate:          dueDate,
			PaidDate:         &paidDate,
			IsAdvancePayment: true,
			AdvanceMonths:    months,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}

	if len(plan.NewPayments) == 0 {
		return nil, ErrNothingToProcess
	}
	return plan, nil
}

// ClampMonthCount bounds a requested month count to the supported range.
// Meant for the input layer; PlanAdvancePayment itself rejects out-of-range
// values.
func ClampMonthCount(count int) int {
	if count < minAdvanceMonths {
		return minAdvanceMonths
	}
	if count > maxAdvanceMonths {
		return maxAdvanceMonths
	}
	return count
}

// TotalFromMonthly recomputes the advance total when the monthly amount is
// edited.
func TotalFromMonthly(monthlyAmount decimal.Decimal, monthCount int) decimal.Decimal {
	return monthlyAmount.Mul(decimal.NewFromInt(int64(monthCount))).Round(2)
}

// MonthlyFromTotal recomputes the monthly amount when the total is edited.
func MonthlyFromTotal(totalPaid decimal.Decimal, monthCount int) decimal.Decimal {
	if monthCount < 1 {
		return decimal.Zero
	}
	return totalPaid.Div(decimal.NewFromInt(int64(monthCount))).Round(2)
}

// Debtor is one apartment with outstanding dues.
type Debtor struct {
	Apartment  *models.Apartment `json:"apartment"`
	TotalDebt  decimal.Decimal   `json:"total_debt"`
	OwedMonths []string          `json:"owed_months"`
}

// Debtors joins the roster against outstanding payments and returns every
// apartment that still owes money, with its total debt and owed months.
func Debtors(apartments []*models.Apartment, payments []*models.Payment) []Debtor {
	byApartment := make(map[uuid.UUID][]*models.Payment)
	for _, p := range payments {
		if p.IsOutstanding() {
			byApartment[p.ApartmentID] = append(byApartment[p.ApartmentID], p)
		}
	}

	var debtors []Debtor
	for _, apartment := range apartments {
		owed := byApartment[apartment.ID]
		if len(owed) == 0 {
			continue
		}
		debt := decimal.Zero
		months := make([]string, 0, len(owed))
		for _, p := range owed {
			debt = debt.Add(p.Remaining())
			months = append(months, p.Month)
		}
		sort.Strings(months)
		debtors = append(debtors, Debtor{
			Apartment:  apartment,
			TotalDebt:  debt,
			OwedMonths: months,
		})
	}
	return debtors
}
