package store

import (
	"github.com/google/uuid"
	"github.com/oyilmaz/aptDues/pkg/models"
)

// Storage defines the interface for database operations related to apartments and payments.
type Storage interface {
	CreateApartment(apartment *models.Apartment) error
	GetApartment(id uuid.UUID) (*models.Apartment, error)
	UpdateApartment(apartment *models.Apartment) error
	// DeleteApartment removes the apartment and all of its payment records.
	DeleteApartment(id uuid.UUID) error
	GetAllApartments() ([]*models.Apartment, error)

	CreatePayment(payment *models.Payment) error
	GetPayment(id uuid.UUID) (*models.Payment, error)
	UpdatePayment(payment *models.Payment) error
	DeletePayment(id uuid.UUID) error
	GetAllPayments() ([]*models.Payment, error)
	GetPaymentsForApartment(apartmentID uuid.UUID) ([]*models.Payment, error)

	Close() error
}
