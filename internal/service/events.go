package service

import (
	"fmt"
	"time"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/domain"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/errors"
)

func newEvent(kind domain.EventKind, actor, title, description string, at time.Time, details map[string]any) domain.AuditEvent {
	return domain.AuditEvent{
		EventType:   kind,
		Timestamp:   at.UTC(),
		Actor:       actor,
		Title:       title,
		Description: description,
		Details:     details,
	}
}

func receivedEvent(state *domain.WorkflowState, at time.Time) domain.AuditEvent {
	details := map[string]any{
		"source_type": state.RawInput.SourceType,
		"text_length": len(state.RawInput.Text),
	}
	if state.RawInput.SourcePath != "" {
		details["source_path"] = state.RawInput.SourcePath
	}
	return newEvent(domain.EventInvoiceReceived, domain.ActorSystem,
		"Invoice Received",
		fmt.Sprintf("Invoice %s received for processing", state.InvoiceID),
		at, details)
}

// validationFailedEvent records a validation run that could not finish,
// e.g. because the vendor master was unreachable.
func validationFailedEvent(err error, at time.Time) domain.AuditEvent {
	return newEvent(domain.EventValidationComplete, domain.ActorValidation,
		"Validation Could Not Complete",
		"Validation stopped before all checks ran: "+err.Error(),
		at, map[string]any{
			"error":      err.Error(),
			"error_code": string(errors.CodeOf(err)),
		})
}

// formatMoney renders an amount as $1,234.56.
func formatMoney(v float64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	s := fmt.Sprintf("%.2f", v)
	whole, frac := s[:len(s)-3], s[len(s)-3:]

	var out []byte
	for i, c := range []byte(whole) {
		if i > 0 && (len(whole)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	if neg {
		return "-$" + string(out) + frac
	}
	return "$" + string(out) + frac
}
