package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/domain"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/logger"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/oracle"
)

const defaultExtractionMaxTokens = 1500

// IngestionStage turns raw invoice text into an InvoiceRecord using the
// oracle, with one self-correcting retry when the first answer looks thin.
type IngestionStage struct {
	oracle    oracle.Oracle
	maxTokens int
	log       *logger.Logger
	now       func() time.Time
}

// NewIngestionStage creates the ingestion stage.
func NewIngestionStage(o oracle.Oracle, maxTokens int, log *logger.Logger) *IngestionStage {
	if maxTokens <= 0 {
		maxTokens = defaultExtractionMaxTokens
	}
	return &IngestionStage{oracle: o, maxTokens: maxTokens, log: log, now: time.Now}
}

// IngestionResult is the extracted record plus retry bookkeeping.
type IngestionResult struct {
	Invoice        *domain.InvoiceRecord
	RetryAttempted bool
	RetryImproved  bool
	OriginalScore  int
	RetryScore     int
	Events         []domain.AuditEvent
}

// IngestionError reports an extraction that produced no usable record.
type IngestionError struct {
	Reason string
	Cause  *oracle.Error
}

func (e *IngestionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ingestion failed: %s: %v", e.Reason, e.Cause)
	}
	return "ingestion failed: " + e.Reason
}

func (e *IngestionError) Unwrap() error {
	if e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Run extracts the invoice. On failure it returns an *IngestionError along
// with a result that carries only the failure event.
func (s *IngestionStage) Run(ctx context.Context, input domain.RawInput) (*IngestionResult, error) {
	text := strings.TrimSpace(input.Text)

	emit(ctx, ProgressLog, "Extracting invoice fields", map[string]any{"text_length": len(text)})

	first, oerr := s.extract(ctx, text, false)
	if oerr != nil {
		ierr := &IngestionError{Reason: failureReason(oerr), Cause: oerr}
		s.log.Error().Err(oerr).Str("kind", string(oerr.Kind)).Msg("Invoice extraction failed")
		return &IngestionResult{Events: []domain.AuditEvent{s.failedEvent(ierr)}}, ierr
	}

	chosen := first
	result := &IngestionResult{OriginalScore: ScoreExtraction(first)}

	if needsRetry(first, input.Text) {
		result.RetryAttempted = true
		emit(ctx, ProgressLog, "Low-confidence extraction, retrying with hints", map[string]any{"original_score": result.OriginalScore})

		retry, rerr := s.extract(ctx, text, true)
		if rerr != nil {
			s.log.Warn().Err(rerr).Msg("Extraction retry failed; keeping first attempt")
		} else {
			result.RetryScore = ScoreExtraction(retry)
			if result.RetryScore > result.OriginalScore {
				chosen = retry
				result.RetryImproved = true
			}
			s.log.Info().
				Int("original_score", result.OriginalScore).
				Int("retry_score", result.RetryScore).
				Bool("improved", result.RetryImproved).
				Msg("Extraction retry scored")
		}
	}

	record := Normalize(chosen, input)
	result.Invoice = &record
	result.Events = []domain.AuditEvent{s.completedEvent(result)}

	s.log.Info().
		Str("invoice_number", record.InvoiceNumber).
		Str("vendor", record.Vendor).
		Float64("amount", record.Amount).
		Int("items", len(record.Items)).
		Int("confidence", record.Confidence).
		Msg("Invoice extracted")
	return result, nil
}

func (s *IngestionStage) extract(ctx context.Context, text string, retry bool) (Extraction, *oracle.Error) {
	user := "Extract invoice data from the following text:\n\n" + text
	purpose := "extraction"
	if retry {
		user = extractionRetryHint + "\n\nExtract invoice data from:\n\n" + text
		purpose = "extraction_retry"
	}

	res := s.oracle.Complete(ctx, oracle.Request{
		Messages: []oracle.Message{
			{Role: oracle.RoleSystem, Content: extractionSystemPrompt + "\n\n" + extractionExamples},
			{Role: oracle.RoleUser, Content: user},
		},
		JSONOnly:  true,
		MaxTokens: s.maxTokens,
		Purpose:   purpose,
	})

	var e Extraction
	if err := res.Decode(&e); err != nil {
		return Extraction{}, err
	}
	return e, nil
}

func failureReason(err *oracle.Error) string {
	switch err.Kind {
	case oracle.KindTimeout:
		return "reasoning service timed out"
	case oracle.KindMalformed:
		return "invalid JSON response"
	default:
		return "reasoning service unavailable"
	}
}

func (s *IngestionStage) completedEvent(r *IngestionResult) domain.AuditEvent {
	rec := r.Invoice
	details := map[string]any{
		"invoice_number":  rec.InvoiceNumber,
		"vendor":          rec.Vendor,
		"amount":          rec.Amount,
		"currency":        rec.Currency,
		"items":           len(rec.Items),
		"confidence":      rec.Confidence,
		"flags":           rec.Flags,
		"retry_attempted": r.RetryAttempted,
		"original_score":  r.OriginalScore,
	}
	if r.RetryAttempted {
		details["retry_score"] = r.RetryScore
		details["retry_improved"] = r.RetryImproved
	}
	desc := fmt.Sprintf("Extracted invoice %s from %s for %s (confidence %d%%)",
		rec.InvoiceNumber, rec.Vendor, formatMoney(rec.Amount), rec.Confidence)
	return newEvent(domain.EventAIProcessing, domain.ActorIngestion, "Invoice Data Extracted", desc, s.now(), details)
}

func (s *IngestionStage) failedEvent(err *IngestionError) domain.AuditEvent {
	details := map[string]any{"reason": err.Reason}
	if err.Cause != nil {
		details["error_kind"] = string(err.Cause.Kind)
	}
	return newEvent(domain.EventAIProcessing, domain.ActorIngestion, "Extraction Failed", err.Error(), s.now(), details)
}
