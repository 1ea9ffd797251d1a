package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/oracle"
)

// ProgressType is the kind of a live progress update.
type ProgressType string

const (
	ProgressStageStart     ProgressType = "stage_start"
	ProgressOracleCall     ProgressType = "oracle_call"
	ProgressOracleResponse ProgressType = "oracle_response"
	ProgressStageComplete  ProgressType = "stage_complete"
	ProgressLog            ProgressType = "log"
	ProgressError          ProgressType = "error"
	ProgressStateUpdate    ProgressType = "state_update"
)

// ProgressEvent is one update sent to a progress sink while an invoice moves
// through the pipeline.
type ProgressEvent struct {
	Type      ProgressType   `json:"type"`
	Stage     string         `json:"stage,omitempty"`
	InvoiceID string         `json:"invoice_id,omitempty"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ProgressFunc receives progress events. It is called synchronously from the
// pipeline goroutine and must not block for long.
type ProgressFunc func(ProgressEvent)

type progressKey struct{}

type progressScope struct {
	fn        ProgressFunc
	invoiceID string
	stage     string
}

// WithProgress attaches a progress sink to ctx.
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	if fn == nil {
		return ctx
	}
	return context.WithValue(ctx, progressKey{}, &progressScope{fn: fn})
}

// withScope tags later events on ctx with the invoice and stage.
func withScope(ctx context.Context, invoiceID, stage string) context.Context {
	scope, ok := ctx.Value(progressKey{}).(*progressScope)
	if !ok {
		return ctx
	}
	next := *scope
	if invoiceID != "" {
		next.invoiceID = invoiceID
	}
	next.stage = stage
	return context.WithValue(ctx, progressKey{}, &next)
}

func emit(ctx context.Context, typ ProgressType, message string, data map[string]any) {
	scope, ok := ctx.Value(progressKey{}).(*progressScope)
	if !ok {
		return
	}
	scope.fn(ProgressEvent{
		Type:      typ,
		Stage:     scope.stage,
		InvoiceID: scope.invoiceID,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// observedOracle reports every oracle call to the progress sink.
type observedOracle struct {
	inner oracle.Oracle
}

// ObserveOracle wraps o so calls show up as oracle_call and oracle_response
// progress events.
func ObserveOracle(o oracle.Oracle) oracle.Oracle {
	if _, ok := o.(observedOracle); ok {
		return o
	}
	return observedOracle{inner: o}
}

func (o observedOracle) Complete(ctx context.Context, req oracle.Request) oracle.Result {
	emit(ctx, ProgressOracleCall, "Calling reasoning service", map[string]any{"purpose": req.Purpose})

	start := time.Now()
	res := o.inner.Complete(ctx, req)
	data := map[string]any{
		"purpose":    req.Purpose,
		"ok":         res.OK(),
		"elapsed_ms": time.Since(start).Milliseconds(),
	}
	if !res.OK() {
		data["error_kind"] = string(res.Err.Kind)
	}
	emit(ctx, ProgressOracleResponse, "Reasoning service responded", data)
	return res
}
