package service

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var validPaymentTerms = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^net\s*\d+$`),
	regexp.MustCompile(`(?i)^\d+/\d+\s*net\s*\d+$`),
	regexp.MustCompile(`(?i)^due on receipt$`),
	regexp.MustCompile(`(?i)^cod$`),
	regexp.MustCompile(`(?i)^cia$`),
	regexp.MustCompile(`(?i)^prepaid$`),
}

var boilerplatePhrases = []string{
	"payment is due",
	"please remit",
	"due by the due date",
	"listed above",
	"late payments",
	"subject to",
	"thank you for your business",
	"payable upon receipt",
	"terms and conditions",
}

// invoiceDateLayouts are tried in order. Month-first wins for ambiguous
// slash dates.
var invoiceDateLayouts = []string{
	"2006-01-02",
	"January 2, 2006",
	"1/2/2006",
	"2/1/2006",
}

// isBoilerplateTerms is true when the text is invoice language rather than a
// payment term. Missing terms count as boilerplate.
func isBoilerplateTerms(terms string) bool {
	text := strings.ToLower(strings.TrimSpace(terms))
	if text == "" {
		return true
	}
	for _, re := range validPaymentTerms {
		if re.MatchString(text) {
			return false
		}
	}
	for _, phrase := range boilerplatePhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return len(text) > 30
}

func parseInvoiceDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range invoiceDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// termsFromDates maps the gap between the invoice and due dates to a
// standard net term. It returns "" when either date is unusable or the gap
// is not positive.
func termsFromDates(invoiceDate, dueDate *string) (string, int) {
	if invoiceDate == nil || dueDate == nil {
		return "", 0
	}
	from, ok := parseInvoiceDate(*invoiceDate)
	if !ok {
		return "", 0
	}
	to, ok := parseInvoiceDate(*dueDate)
	if !ok {
		return "", 0
	}

	days := int(to.Sub(from).Hours() / 24)
	switch {
	case days <= 0:
		return "", days
	case days <= 7:
		return "Net 7", days
	case days <= 12:
		return "Net 10", days
	case days <= 20:
		return "Net 15", days
	case days <= 35:
		return "Net 30", days
	case days <= 50:
		return "Net 45", days
	case days <= 70:
		return "Net 60", days
	case days <= 100:
		return "Net 90", days
	default:
		return fmt.Sprintf("Net %d", days), days
	}
}

// termsCheck is the result of checking extracted payment terms.
type termsCheck struct {
	Corrected string
	Days      int
	Reason    string
	// NeedsCorrection is true for missing or boilerplate terms.
	NeedsCorrection bool
}

func checkPaymentTerms(terms, invoiceDate, dueDate *string) termsCheck {
	var reason string
	switch {
	case terms == nil || strings.TrimSpace(*terms) == "":
		reason = "Payment terms was missing"
	case isBoilerplateTerms(*terms):
		reason = fmt.Sprintf("Extracted text '%s...' appears to be boilerplate, not a payment term", truncateRunes(*terms, 50))
	default:
		return termsCheck{}
	}

	inferred, days := termsFromDates(invoiceDate, dueDate)
	if inferred == "" {
		return termsCheck{NeedsCorrection: true, Reason: reason + ". Could not infer from dates."}
	}
	return termsCheck{
		NeedsCorrection: true,
		Corrected:       inferred,
		Days:            days,
		Reason: fmt.Sprintf("%s. Inferred '%s' from invoice date (%s) to due date (%s) = %d days.",
			reason, inferred, *invoiceDate, *dueDate, days),
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
