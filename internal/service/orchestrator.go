package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/domain"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/errors"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/logger"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/oracle"
)

// Dependencies are the collaborators the orchestrator drives. PurchaseOrders,
// Idempotency and Publisher are optional.
type Dependencies struct {
	Oracle         oracle.Oracle
	Inventory      InventoryLookup
	Vendors        VendorDirectory
	PurchaseOrders PurchaseOrderLookup
	Gateway        PaymentGateway
	States         StateRepository
	Idempotency    IdempotencyStore
	Publisher      EventPublisher
}

// OrchestratorConfig holds pipeline tuning.
type OrchestratorConfig struct {
	Triage              TriageConfig
	Validation          ValidationConfig
	ExtractionMaxTokens int
	// Concurrency bounds UploadBatch.
	Concurrency int
	// PendingTTL is how long an invoice may wait for a human decision
	// before ExpirePending rejects it. Zero disables expiry.
	PendingTTL time.Duration
}

// Orchestrator moves invoices through the lifecycle. Every state change is a
// compare-and-swap on the stored version.
type Orchestrator struct {
	states      StateRepository
	idempotency IdempotencyStore
	publisher   EventPublisher

	ingestion  *IngestionStage
	validation *ValidationStage
	approval   *ApprovalStage
	payment    *PaymentStage

	cfg   OrchestratorConfig
	log   *logger.Logger
	now   func() time.Time
	newID func() string
}

// NewOrchestrator wires the stages around the given collaborators.
func NewOrchestrator(deps Dependencies, cfg OrchestratorConfig, log *logger.Logger) *Orchestrator {
	if deps.Oracle == nil {
		deps.Oracle = oracle.Disabled{}
	}
	if cfg.Triage.AmountThreshold <= 0 {
		cfg.Triage = DefaultTriageConfig()
	}
	if cfg.Validation.AmountThreshold <= 0 {
		cfg.Validation.AmountThreshold = cfg.Triage.AmountThreshold
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	o := ObserveOracle(deps.Oracle)
	return &Orchestrator{
		states:      deps.States,
		idempotency: deps.Idempotency,
		publisher:   deps.Publisher,
		ingestion:   NewIngestionStage(o, cfg.ExtractionMaxTokens, log.Component("ingestion")),
		validation:  NewValidationStage(o, deps.Inventory, deps.Vendors, deps.PurchaseOrders, cfg.Validation, log.Component("validation")),
		approval:    NewApprovalStage(o, cfg.Triage, log.Component("approval")),
		payment:     NewPaymentStage(o, deps.Gateway, log.Component("payment")),
		cfg:         cfg,
		log:         log,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// UploadRequest is one raw invoice submitted for processing.
type UploadRequest struct {
	Text       string
	SourceType string
	SourcePath string
	// IdempotencyKey makes a retried upload return the original invoice.
	IdempotencyKey string
}

// ApproveRequest is a human approval of a pending invoice.
type ApproveRequest struct {
	InvoiceID  string
	ApprovedBy string
	Notes      string
}

// RejectRequest is a human rejection of a pending invoice.
type RejectRequest struct {
	InvoiceID  string
	RejectedBy string
	Reason     string
}

// BatchItem is the result of one upload in a batch.
type BatchItem struct {
	State *domain.WorkflowState
	Err   error
}

// ── Stage 1: upload, ingestion, validation ───────────────────────────────────

// Upload stores a new invoice and runs ingestion and validation. Extraction
// and validation failures are recorded on the returned state, not returned
// as errors.
func (o *Orchestrator) Upload(ctx context.Context, req UploadRequest) (*domain.WorkflowState, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.InvalidInput("text", "invoice text is required")
	}

	invoiceID := o.newID()
	if req.IdempotencyKey != "" && o.idempotency != nil {
		existingID, claimed, err := o.idempotency.Claim(ctx, req.IdempotencyKey, invoiceID)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeUnavailable, "idempotency check failed")
		}
		if !claimed {
			state, err := o.states.Get(ctx, existingID)
			switch {
			case err == nil:
				o.log.Info().Str("invoice_id", existingID).Msg("Duplicate upload, returning existing invoice")
				return state, nil
			case errors.IsCode(err, errors.ErrCodeNotFound):
				// The earlier attempt never stored its state; rerun under its id.
				o.log.Warn().Str("invoice_id", existingID).Msg("Resuming upload with unfinished idempotency claim")
				invoiceID = existingID
			default:
				return nil, err
			}
		}
	}

	sourceType := req.SourceType
	if sourceType == "" {
		sourceType = domain.SourceText
	}
	now := o.now().UTC()
	state := domain.NewWorkflowState(invoiceID, domain.RawInput{
		Text:       req.Text,
		SourceType: sourceType,
		SourcePath: req.SourcePath,
	}, now)
	received := receivedEvent(state, now)
	state.AuditTrail.Append(received)

	if err := o.states.Put(ctx, state); err != nil {
		// A concurrent retry with the same key stored it first.
		if req.IdempotencyKey != "" && errors.IsCode(err, errors.ErrCodeAlreadyExists) {
			return o.states.Get(ctx, invoiceID)
		}
		return nil, err
	}
	o.publish(ctx, state, state.AuditTrail)
	o.log.Info().Str("invoice_id", invoiceID).Str("source_type", sourceType).Msg("Invoice received")

	ctx = withScope(ctx, invoiceID, domain.StageIngestion)
	emit(ctx, ProgressStageStart, "Ingestion started", nil)

	if err := o.transition(state, domain.StatusIngesting); err != nil {
		return nil, err
	}
	if err := o.commit(ctx, state); err != nil {
		return nil, err
	}

	ingested, ingestErr := o.ingestion.Run(ctx, state.RawInput)

	// Ingestion failures still pass through VALIDATING.
	if err := o.transition(state, domain.StatusValidating); err != nil {
		return nil, err
	}
	if ingestErr != nil {
		emit(ctx, ProgressError, ingestErr.Error(), nil)
		o.fail(state, domain.StatusValidationFailed, ingestErr.Error())
		if err := o.commit(ctx, state, ingested.Events...); err != nil {
			return nil, err
		}
		return state, nil
	}

	state.Invoice = ingested.Invoice
	state.CurrentStage = domain.StageValidation
	emit(ctx, ProgressStageComplete, "Ingestion complete", map[string]any{
		"retry_attempted": ingested.RetryAttempted,
		"confidence":      ingested.Invoice.Confidence,
	})
	if err := o.commit(ctx, state, ingested.Events...); err != nil {
		return nil, err
	}

	ctx = withScope(ctx, "", domain.StageValidation)
	emit(ctx, ProgressStageStart, "Validation started", nil)

	validated, err := o.validation.Run(ctx, *state.Invoice)
	if err != nil {
		o.log.Error().Err(err).Str("invoice_id", invoiceID).Msg("Validation could not complete")
		emit(ctx, ProgressError, err.Error(), nil)
		o.fail(state, domain.StatusValidationFailed, "validation failed: "+err.Error())
		if cerr := o.commit(ctx, state, validationFailedEvent(err, o.now())); cerr != nil {
			return nil, cerr
		}
		return state, nil
	}

	state.Invoice = &validated.Invoice
	state.Validation = &validated.Outcome
	if err := o.transition(state, domain.StatusInbox); err != nil {
		return nil, err
	}
	state.CurrentStage = domain.StageApproval
	emit(ctx, ProgressStageComplete, "Validation complete", map[string]any{
		"is_valid": validated.Outcome.IsValid,
		"errors":   len(validated.Outcome.Errors),
	})
	if err := o.commit(ctx, state, validated.Events...); err != nil {
		return nil, err
	}
	return state, nil
}

// UploadBatch uploads independent invoices concurrently. Results keep the
// order of reqs, and one failure does not stop the others.
func (o *Orchestrator) UploadBatch(ctx context.Context, reqs []UploadRequest) []BatchItem {
	results := make([]BatchItem, len(reqs))

	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			state, err := o.Upload(ctx, req)
			results[i] = BatchItem{State: state, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ── Stage 2: approval ────────────────────────────────────────────────────────

// RouteToApproval triages an INBOX invoice.
func (o *Orchestrator) RouteToApproval(ctx context.Context, invoiceID string) (*domain.WorkflowState, error) {
	state, err := o.states.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if err := state.Require(domain.StatusPendingApproval, domain.StatusInbox); err != nil {
		return nil, err
	}
	if state.Invoice == nil || state.Validation == nil {
		return nil, errors.New(errors.ErrCodeInternal, "invoice in INBOX without validation data")
	}

	ctx = withScope(ctx, invoiceID, domain.StageApproval)
	emit(ctx, ProgressStageStart, "Approval triage started", nil)

	res := o.approval.Run(ctx, *state.Invoice, *state.Validation)
	state.Approval = &res.Decision

	var target domain.InvoiceStatus
	switch res.Decision.Route {
	case domain.RouteAutoApprove:
		target = domain.StatusAutoApproved
		state.RunStatus = domain.RunProcessing
	case domain.RouteAutoReject:
		target = domain.StatusAutoRejected
		state.RunStatus = domain.RunRejected
	default:
		target = domain.StatusPendingApproval
		state.RunStatus = domain.RunAwaitingDecision
	}
	if err := o.transition(state, target); err != nil {
		return nil, err
	}
	state.CurrentStage = NextStage(res.Decision)
	if target == domain.StatusAutoRejected {
		state.CurrentStage = domain.StageDone
	}

	emit(ctx, ProgressStageComplete, "Approval triage complete", map[string]any{
		"route":      string(res.Decision.Route),
		"risk_score": res.Decision.RiskScore,
	})
	if err := o.commit(ctx, state, res.Events...); err != nil {
		return nil, err
	}

	o.log.Info().
		Str("invoice_id", invoiceID).
		Str("route", string(res.Decision.Route)).
		Str("status", string(state.InvoiceStatus)).
		Msg("Invoice routed")
	return state, nil
}

// Approve records a human approval of a PENDING_APPROVAL invoice.
func (o *Orchestrator) Approve(ctx context.Context, req ApproveRequest) (*domain.WorkflowState, error) {
	if strings.TrimSpace(req.ApprovedBy) == "" {
		return nil, errors.InvalidInput("approved_by", "approver identity is required")
	}
	state, err := o.states.Get(ctx, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if err := o.transition(state, domain.StatusApproved); err != nil {
		return nil, err
	}

	now := o.now().UTC()
	actor := domain.HumanActor(req.ApprovedBy)
	state.ApprovedBy = &actor
	state.ApprovedAt = &now
	state.CurrentStage = domain.StagePayment
	state.RunStatus = domain.RunProcessing

	decision := state.Approval
	if decision == nil {
		decision = &domain.ApprovalDecision{Route: domain.RouteToHuman}
		state.Approval = decision
	}
	decision.Approved = true
	decision.RequiresReview = false
	decision.DecidedBy = actor
	decision.DecidedAt = &now
	desc := fmt.Sprintf("Invoice approved by %s", strings.TrimPrefix(actor, domain.HumanPrefix))
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		decision.Reason = notes
		state.DecisionNotes = &notes
		desc += ": " + notes
	}

	ev := newEvent(domain.EventApprovalDecision, actor, "Invoice Approved", desc, now, map[string]any{
		"decision": "approved",
		"notes":    req.Notes,
	})
	if err := o.commit(ctx, state, ev); err != nil {
		return nil, err
	}
	o.log.Info().Str("invoice_id", req.InvoiceID).Str("approved_by", actor).Msg("Invoice approved")
	return state, nil
}

// Reject records a human rejection of a PENDING_APPROVAL invoice.
func (o *Orchestrator) Reject(ctx context.Context, req RejectRequest) (*domain.WorkflowState, error) {
	if strings.TrimSpace(req.RejectedBy) == "" {
		return nil, errors.InvalidInput("rejected_by", "rejecter identity is required")
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, errors.InvalidInput("reason", "rejection reason is required")
	}
	state, err := o.states.Get(ctx, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if err := o.reject(ctx, state, domain.HumanActor(req.RejectedBy), strings.TrimSpace(req.Reason)); err != nil {
		return nil, err
	}
	o.log.Info().Str("invoice_id", req.InvoiceID).Str("rejected_by", domain.Deref(state.RejectedBy)).Msg("Invoice rejected")
	return state, nil
}

func (o *Orchestrator) reject(ctx context.Context, state *domain.WorkflowState, actor, reason string) error {
	if err := o.transition(state, domain.StatusRejected); err != nil {
		return err
	}
	now := o.now().UTC()
	state.RejectedBy = &actor
	state.RejectedAt = &now
	state.RejectionReason = &reason
	state.CurrentStage = domain.StageDone
	state.RunStatus = domain.RunRejected

	decision := state.Approval
	if decision == nil {
		decision = &domain.ApprovalDecision{Route: domain.RouteToHuman}
		state.Approval = decision
	}
	decision.Approved = false
	decision.RequiresReview = false
	decision.DecidedBy = actor
	decision.DecidedAt = &now

	ev := newEvent(domain.EventApprovalDecision, actor, "Invoice Rejected",
		fmt.Sprintf("Invoice rejected by %s: %s", strings.TrimPrefix(actor, domain.HumanPrefix), reason),
		now, map[string]any{"decision": "rejected", "reason": reason})
	return o.commit(ctx, state, ev)
}

// ExpirePending rejects invoices that have waited in PENDING_APPROVAL longer
// than the configured TTL. It returns how many were expired.
func (o *Orchestrator) ExpirePending(ctx context.Context, now time.Time) (int, error) {
	if o.cfg.PendingTTL <= 0 {
		return 0, nil
	}
	stale, err := o.states.List(ctx, domain.ListFilter{
		Status:        domain.StatusPendingApproval,
		UpdatedBefore: now.Add(-o.cfg.PendingTTL),
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, state := range stale {
		reason := fmt.Sprintf("Approval window of %s expired", o.cfg.PendingTTL)
		if err := o.reject(ctx, state, domain.ActorExpiry, reason); err != nil {
			if errors.IsCode(err, errors.ErrCodeConflict) || errors.IsCode(err, errors.ErrCodeInvalidTransition) {
				continue
			}
			return expired, err
		}
		expired++
		o.log.Info().Str("invoice_id", state.InvoiceID).Msg("Pending approval expired")
	}
	return expired, nil
}

// ── Stage 3: payment ─────────────────────────────────────────────────────────

// ExecutePayment pays an approved invoice. PAYING is stored before the
// gateway is called, so a concurrent second call fails with CONFLICT.
func (o *Orchestrator) ExecutePayment(ctx context.Context, invoiceID string) (*domain.WorkflowState, error) {
	state, err := o.states.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if err := state.Require(domain.StatusPaying, domain.StatusApproved, domain.StatusAutoApproved, domain.StatusReadyToPay); err != nil {
		return nil, err
	}

	ctx = withScope(ctx, invoiceID, domain.StagePayment)
	emit(ctx, ProgressStageStart, "Payment started", nil)

	if _, approved := ApprovalSource(state); !approved {
		res := o.payment.Run(ctx, state)
		state.Payment = &res.Outcome
		state.SetError("Payment blocked: invoice was not approved")
		emit(ctx, ProgressError, "Payment blocked: invoice was not approved", nil)
		if err := o.commit(ctx, state, res.Events...); err != nil {
			return nil, err
		}
		return state, nil
	}

	snapshot, err := state.Clone()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to snapshot state")
	}
	if err := o.transition(state, domain.StatusPaying); err != nil {
		return nil, err
	}
	state.CurrentStage = domain.StagePayment
	state.RunStatus = domain.RunProcessing
	if err := o.commit(ctx, state); err != nil {
		return nil, err
	}

	res := o.payment.Run(ctx, snapshot)
	state.Payment = &res.Outcome
	if res.Outcome.Success {
		if err := o.transition(state, domain.StatusPaid); err != nil {
			return nil, err
		}
		state.RunStatus = domain.RunCompleted
		state.CurrentStage = domain.StageDone
	} else {
		o.fail(state, domain.StatusPaymentFailed, domain.Deref(res.Outcome.Error))
		emit(ctx, ProgressError, domain.Deref(res.Outcome.Error), nil)
	}

	emit(ctx, ProgressStageComplete, "Payment finished", map[string]any{"success": res.Outcome.Success})
	if err := o.commit(ctx, state, res.Events...); err != nil {
		return nil, err
	}
	return state, nil
}

// ── Queries ──────────────────────────────────────────────────────────────────

// Get returns the current state of an invoice.
func (o *Orchestrator) Get(ctx context.Context, invoiceID string) (*domain.WorkflowState, error) {
	return o.states.Get(ctx, invoiceID)
}

// List returns invoices matching the filter.
func (o *Orchestrator) List(ctx context.Context, filter domain.ListFilter) ([]*domain.WorkflowState, error) {
	return o.states.List(ctx, filter)
}

// ── Internal helpers ─────────────────────────────────────────────────────────

func (o *Orchestrator) transition(state *domain.WorkflowState, to domain.InvoiceStatus) error {
	from := state.InvoiceStatus
	if err := state.TransitionTo(to, o.now().UTC()); err != nil {
		return err
	}
	o.log.Debug().
		Str("invoice_id", state.InvoiceID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Invoice status changed")
	return nil
}

// fail moves the state to a failure status and records the message.
func (o *Orchestrator) fail(state *domain.WorkflowState, status domain.InvoiceStatus, msg string) {
	if err := o.transition(state, status); err != nil {
		o.log.Error().Err(err).Str("invoice_id", state.InvoiceID).Msg("Could not record failure status")
	}
	state.SetError(msg)
	state.RunStatus = domain.RunFailed
	state.CurrentStage = domain.StageDone
}

// commit appends events and writes the state with a version check.
func (o *Orchestrator) commit(ctx context.Context, state *domain.WorkflowState, events ...domain.AuditEvent) error {
	before := len(state.AuditTrail)
	state.AuditTrail.Append(events...)
	if now := o.now().UTC(); now.After(state.UpdatedAt) {
		state.UpdatedAt = now
	}

	if err := o.states.CompareAndSwap(ctx, state, state.Version); err != nil {
		o.log.Warn().Err(err).Str("invoice_id", state.InvoiceID).Int64("version", state.Version).Msg("State write rejected")
		return err
	}

	emit(ctx, ProgressStateUpdate, "State saved", map[string]any{
		"invoice_status": string(state.InvoiceStatus),
		"version":        state.Version,
	})
	if added := state.AuditTrail[before:]; len(added) > 0 {
		o.publish(ctx, state, added)
	}
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, state *domain.WorkflowState, events []domain.AuditEvent) {
	if o.publisher == nil || len(events) == 0 {
		return
	}
	if err := o.publisher.PublishAuditEvents(ctx, state, events); err != nil {
		o.log.Warn().Err(err).Str("invoice_id", state.InvoiceID).Msg("Failed to publish audit events")
	}
}
