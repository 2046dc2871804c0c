// Package report renders the dues report as CSV for spreadsheet import.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/oyilmaz/aptDues/pkg/models"
)

const dateLayout = "2006-01-02"

// utf8BOM makes Excel detect the encoding correctly.
const utf8BOM = "\ufeff"

var header = []string{
	"Apartment", "Owner", "Month", "Amount", "Paid", "Remaining", "Status", "Due Date", "Paid Date",
}

// Row is one payment line of the report.
type Row struct {
	ApartmentNumber string
	Owner           string
	Month           string
	Amount          string
	Paid            string
	Remaining       string
	Status          string
	DueDate         string
	PaidDate        string
}

// StatusLabel renders a payment status for display.
func StatusLabel(status models.PaymentStatus) string {
	switch status {
	case models.StatusPaid:
		return "Paid"
	case models.StatusPartial:
		return "Partial"
	default:
		return "Pending"
	}
}

// BuildRows joins payments to apartments in memory and produces one report
// row per payment, in the order given.
func BuildRows(apartments []*models.Apartment, payments []*models.Payment) []Row {
	byID := make(map[uuid.UUID]*models.Apartment, len(apartments))
	for _, a := range apartments {
		byID[a.ID] = a
	}

	rows := make([]Row, 0, len(payments))
	for _, p := range payments {
		row := Row{
			Month:     p.Month,
			Amount:    p.Amount.StringFixed(2),
			Paid:      p.PaidAmount.StringFixed(2),
			Remaining: p.Remaining().StringFixed(2),
			Status:    StatusLabel(p.Status),
			DueDate:   p.DueDate.Format(dateLayout),
			PaidDate:  "-",
		}
		if p.PaidDate != nil {
			row.PaidDate = p.PaidDate.Format(dateLayout)
		}
		if apartment, ok := byID[p.ApartmentID]; ok {
			row.ApartmentNumber = apartment.Number
			row.Owner = apartment.Owner
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteCSV writes the report with a UTF-8 byte-order mark and every field
// double-quoted.
func WriteCSV(w io.Writer, rows []Row) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return fmt.Errorf("failed to write BOM: %w", err)
	}
	if err := writeLine(w, header); err != nil {
		return err
	}
	for _, row := range rows {
		fields := []string{
			row.ApartmentNumber, row.Owner, row.Month,
			row.Amount, row.Paid, row.Remaining,
			row.Status, row.DueDate, row.PaidDate,
		}
		if err := writeLine(w, fields); err != nil {
			return err
		}
	}
	return nil
}

func writeLine(w io.Writer, fields []string) error {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	if _, err := io.WriteString(w, strings.Join(quoted, ",")+"\n"); err != nil {
		return fmt.Errorf("failed to write report line: %w", err)
	}
	return nil
}
