// Package notify drafts WhatsApp messages for apartments with outstanding
// dues. It only builds text and deep links; sending stays with the operator.
package notify

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/oyilmaz/aptDues/pkg/dues"
)

type MessageType string

const (
	MessageReminder MessageType = "reminder"
	MessageWarning  MessageType = "warning"
	MessageCustom   MessageType = "custom"
)

const reminderTemplate = `Dear %s,

Apartment %s has outstanding dues for the following months:

%s
Total debt: %s

Please make your payment as soon as possible.

Thank you.
Building Management`

const warningTemplate = `Dear %s,

Apartment %s owes %s in dues for %s.

If payment is not received within 7 days of this notice, legal proceedings will be initiated.

Please pay immediately.

Building Management`

// Draft builds the outbound message for one debtor. For MessageCustom the
// template placeholders {name}, {apartment}, {debt} and {months} are
// substituted.
func Draft(debtor dues.Debtor, msgType MessageType, customTemplate string) string {
	name := debtor.Apartment.Owner
	number := debtor.Apartment.Number
	debt := debtor.TotalDebt.StringFixed(2)
	months := strings.Join(debtor.OwedMonths, ", ")

	switch msgType {
	case MessageWarning:
		return fmt.Sprintf(warningTemplate, name, number, debt, months)
	case MessageCustom:
		r := strings.NewReplacer(
			"{name}", name,
			"{apartment}", number,
			"{debt}", debt,
			"{months}", months,
		)
		return r.Replace(customTemplate)
	default:
		return fmt.Sprintf(reminderTemplate, name, number, months, debt)
	}
}

// NormalizePhone strips formatting and converts a national number with a
// leading zero to international format (country code 90).
func NormalizePhone(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	clean := digits.String()
	if strings.HasPrefix(clean, "0") {
		return "90" + clean[1:]
	}
	return clean
}

// DeepLink returns the wa.me URL that opens a chat with the message
// prefilled.
func DeepLink(phone, message string) string {
	return fmt.Sprintf("https://wa.me/%s?text=%s",
		NormalizePhone(phone), url.QueryEscape(message))
}
