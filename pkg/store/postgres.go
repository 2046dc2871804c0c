package store

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/oyilmaz/aptDues/pkg/models"
)

// PostgresStore talks to the hosted data service. The schema lives on the
// service side, so nothing is migrated here; a missing table surfaces as a
// schema failure through Classify.
type PostgresStore struct {
	db *gorm.DB
}

// apartmentRow is the wire shape of the apartments table. Mapping between it
// and models.Apartment happens only at this boundary.
type apartmentRow struct {
	ID              string          `gorm:"column:id;primaryKey"`
	ApartmentNumber string          `gorm:"column:apartment_number"`
	OwnerName       string          `gorm:"column:owner_name"`
	Phone           string          `gorm:"column:phone"`
	Email           string          `gorm:"column:email"`
	Floor           int             `gorm:"column:floor"`
	ApartmentSize   int             `gorm:"column:apartment_size"`
	MonthlyFee      decimal.Decimal `gorm:"column:monthly_fee;type:numeric"`
	CreatedAt       time.Time       `gorm:"column:created_at"`
	UpdatedAt       time.Time       `gorm:"column:updated_at"`
}

func (apartmentRow) TableName() string { return "apartments" }

type paymentRow struct {
	ID               string          `gorm:"column:id;primaryKey"`
	ApartmentID      string          `gorm:"column:apartment_id"`
	Month            string          `gorm:"column:month"`
	Amount           decimal.Decimal `gorm:"column:amount;type:numeric"`
	PaidAmount       decimal.Decimal `gorm:"column:paid_amount;type:numeric"`
	Status           string          `gorm:"column:status"`
	DueDate          time.Time       `gorm:"column:due_date"`
	PaidDate         *time.Time      `gorm:"column:paid_date"`
	PaymentMethod    string          `gorm:"column:payment_method"`
	Notes            string          `gorm:"column:notes"`
	IsAdvancePayment bool            `gorm:"column:is_advance_payment"`
	AdvanceMonths    pq.StringArray  `gorm:"column:advance_months;type:text[]"`
	CreatedAt        time.Time       `gorm:"column:created_at"`
	UpdatedAt        time.Time       `gorm:"column:updated_at"`
}

func (paymentRow) TableName() string { return "payments" }

// NewPostgresStore connects to the hosted data service using the given DSN.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("could not access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(5)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	log.Println("Connected to hosted data service.")
	return &PostgresStore{db: db}, nil
}

func toApartmentRow(a *models.Apartment) *apartmentRow {
	return &apartmentRow{
		ID:              a.ID.String(),
		ApartmentNumber: a.Number,
		OwnerName:       a.Owner,
		Phone:           a.Phone,
		Email:           a.Email,
		Floor:           a.Floor,
		ApartmentSize:   a.ApartmentSize,
		MonthlyFee:      a.MonthlyFee,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func fromApartmentRow(r *apartmentRow) (*models.Apartment, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid apartment id %q: %w", r.ID, err)
	}
	return &models.Apartment{
		ID:            id,
		Number:        r.ApartmentNumber,
		Owner:         r.OwnerName,
		Phone:         r.Phone,
		Email:         r.Email,
		Floor:         r.Floor,
		ApartmentSize: r.ApartmentSize,
		MonthlyFee:    r.MonthlyFee,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}, nil
}

func toPaymentRow(p *models.Payment) *paymentRow {
	return &paymentRow{
		ID:               p.ID.String(),
		ApartmentID:      p.ApartmentID.String(),
		Month:            p.Month,
		Amount:           p.Amount,
		PaidAmount:       p.PaidAmount,
		Status:           string(p.Status),
		DueDate:          p.DueDate,
		PaidDate:         p.PaidDate,
		PaymentMethod:    p.PaymentMethod,
		Notes:            p.Notes,
		IsAdvancePayment: p.IsAdvancePayment,
		AdvanceMonths:    pq.StringArray(p.AdvanceMonths),
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func fromPaymentRow(r *paymentRow) (*models.Payment, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid payment id %q: %w", r.ID, err)
	}
	aptID, err := uuid.Parse(r.ApartmentID)
	if err != nil {
		return nil, fmt.Errorf("invalid apartment id %q on payment: %w", r.ApartmentID, err)
	}
	return &models.Payment{
		ID:               id,
		ApartmentID:      aptID,
		Month:            r.Month,
		Amount:           r.Amount,
		PaidAmount:       r.PaidAmount,
		Status:           models.PaymentStatus(r.Status),
		DueDate:          r.DueDate,
		PaidDate:         r.PaidDate,
		PaymentMethod:    r.PaymentMethod,
		Notes:            r.Notes,
		IsAdvancePayment: r.IsAdvancePayment,
		AdvanceMonths:    []string(r.AdvanceMonths),
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}, nil
}

func (s *PostgresStore) CreateApartment(apartment *models.Apartment) error {
	if err := s.db.Create(toApartmentRow(apartment)).Error; err != nil {
		return fmt.Errorf("failed to create apartment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetApartment(id uuid.UUID) (*models.Apartment, error) {
	var row apartmentRow
	err := s.db.First(&row, "id = ?", id.String()).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get apartment: %w", err)
	}
	return fromApartmentRow(&row)
}

func (s *PostgresStore) UpdateApartment(apartment *models.Apartment) error {
	res := s.db.Model(&apartmentRow{}).
		Where("id = ?", apartment.ID.String()).
		Updates(toApartmentRow(apartment))
	if res.Error != nil {
		return fmt.Errorf("failed to update apartment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteApartment removes an apartment and its payment records in one
// transaction. The service does not enforce the foreign key cascade, so the
// collector does it here.
func (s *PostgresStore) DeleteApartment(id uuid.UUID) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("apartment_id = ?", id.String()).Delete(&paymentRow{}).Error; err != nil {
			return fmt.Errorf("failed to delete associated payments: %w", err)
		}
		res := tx.Where("id = ?", id.String()).Delete(&apartmentRow{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete apartment: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *PostgresStore) GetAllApartments() ([]*models.Apartment, error) {
	var rows []apartmentRow
	if err := s.db.Order("apartment_number").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get all apartments: %w", err)
	}
	apartments := make([]*models.Apartment, 0, len(rows))
	for i := range rows {
		a, err := fromApartmentRow(&rows[i])
		if err != nil {
			return nil, err
		}
		apartments = append(apartments, a)
	}
	return apartments, nil
}

func (s *PostgresStore) CreatePayment(payment *models.Payment) error {
	if err := s.db.Create(toPaymentRow(payment)).Error; err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPayment(id uuid.UUID) (*models.Payment, error) {
	var row paymentRow
	err := s.db.First(&row, "id = ?", id.String()).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return fromPaymentRow(&row)
}

func (s *PostgresStore) UpdatePayment(payment *models.Payment) error {
	// Select forces zero values through: reverting a payment writes
	// paid_amount = 0 and paid_date = NULL.
	res := s.db.Model(&paymentRow{}).
		Where("id = ?", payment.ID.String()).
		Select("month", "amount", "paid_amount", "status", "due_date", "paid_date",
			"payment_method", "notes", "is_advance_payment", "advance_months", "updated_at").
		Updates(toPaymentRow(payment))
	if res.Error != nil {
		return fmt.Errorf("failed to update payment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeletePayment(id uuid.UUID) error {
	res := s.db.Where("id = ?", id.String()).Delete(&paymentRow{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete payment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetAllPayments() ([]*models.Payment, error) {
	var rows []paymentRow
	if err := s.db.Order("month desc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get all payments: %w", err)
	}
	return paymentsFromRows(rows)
}

func (s *PostgresStore) GetPaymentsForApartment(apartmentID uuid.UUID) ([]*models.Payment, error) {
	var rows []paymentRow
	err := s.db.Where("apartment_id = ?", apartmentID.String()).Order("month").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get payments for apartment %s: %w", apartmentID, err)
	}
	return paymentsFromRows(rows)
}

func paymentsFromRows(rows []paymentRow) ([]*models.Payment, error) {
	payments := make([]*models.Payment, 0, len(rows))
	for i := range rows {
		p, err := fromPaymentRow(&rows[i])
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
