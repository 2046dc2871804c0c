package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oyilmaz/aptDues/pkg/models"
)

func openTestSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "snapshot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSnapshot_EmptyReturnsErrNoSnapshot(t *testing.T) {
	s := openTestSnapshot(t)

	_, err := s.LoadApartments()
	assert.ErrorIs(t, err, ErrNoSnapshot)

	_, err = s.LoadPayments()
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestSnapshot_RoundTrip(t *testing.T) {
	s := openTestSnapshot(t)

	apartments := []*models.Apartment{
		{
			ID:         uuid.New(),
			Number:     "12",
			Owner:      "Ayşe Demir",
			Phone:      "05321234567",
			MonthlyFee: decimal.NewFromInt(550),
			CreatedAt:  time.Now().UTC(),
		},
	}
	paidDate := time.Now().UTC()
	payments := []*models.Payment{
		{
			ID:               uuid.New(),
			ApartmentID:      apartments[0].ID,
			Month:            "2024-04",
			Amount:           decimal.NewFromInt(550),
			PaidAmount:       decimal.NewFromInt(550),
			Status:           models.StatusPaid,
			PaidDate:         &paidDate,
			IsAdvancePayment: true,
			AdvanceMonths:    []string{"2024-04", "2024-05"},
		},
	}

	require.NoError(t, s.SaveApartments(apartments))
	require.NoError(t, s.SavePayments(payments))

	gotApartments, err := s.LoadApartments()
	require.NoError(t, err)
	require.Len(t, gotApartments, 1)
	assert.Equal(t, apartments[0].ID, gotApartments[0].ID)
	assert.Equal(t, "Ayşe Demir", gotApartments[0].Owner)
	assert.True(t, gotApartments[0].MonthlyFee.Equal(decimal.NewFromInt(550)))

	gotPayments, err := s.LoadPayments()
	require.NoError(t, err)
	require.Len(t, gotPayments, 1)
	assert.Equal(t, models.StatusPaid, gotPayments[0].Status)
	assert.True(t, gotPayments[0].IsAdvancePayment)
	assert.Equal(t, []string{"2024-04", "2024-05"}, gotPayments[0].AdvanceMonths)
	require.NotNil(t, gotPayments[0].PaidDate)
}

func TestSnapshot_SaveOverwrites(t *testing.T) {
	s := openTestSnapshot(t)

	first := []*models.Apartment{{ID: uuid.New(), Number: "1", Owner: "Ali"}}
	require.NoError(t, s.SaveApartments(first))

	second := []*models.Apartment{
		{ID: uuid.New(), Number: "2", Owner: "Veli"},
		{ID: uuid.New(), Number: "3", Owner: "Zeynep"},
	}
	require.NoError(t, s.SaveApartments(second))

	got, err := s.LoadApartments()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Veli", got[0].Owner)
}
