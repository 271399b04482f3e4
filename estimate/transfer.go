package estimate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"tenderestimate/logging"
)

type TransferState string

const (
	StateIdle             TransferState = "idle"
	StateRequested        TransferState = "requested"
	StateApplied          TransferState = "applied"
	StateConflictReported TransferState = "conflict_reported"
	StateResolved         TransferState = "resolved"
	StateFailed           TransferState = "failed"
)

// Outcome is the result of a transfer step. It is one of Applied,
// Conflicted or Failed.
type Outcome interface {
	outcome()
}

// Applied means the store accepted the mutation. Totals is nil when the
// follow-up refresh failed.
type Applied struct {
	Link   *Link
	Totals *Totals
}

// Conflicted means the target work already consumes the material and the
// operator has to pick a Strategy.
type Conflicted struct {
	TransferID string
	Conflict   Conflict
}

// Failed carries the reason nothing was changed.
type Failed struct {
	Err error
}

func (Applied) outcome()    {}
func (Conflicted) outcome() {}
func (Failed) outcome()     {}

// Transfer tracks one move/copy request through its states.
type Transfer struct {
	ID       string
	Request  TransferRequest
	State    TransferState
	Outcome  Outcome
	Conflict *Conflict

	// ReportedAt is set when the conflict is reported.
	ReportedAt time.Time
}

// Transfer moves or copies a material onto a target work. A reported
// conflict keeps the transfer pending until Resolve is called with its ID.
func (e *Engine) Transfer(ctx context.Context, req TransferRequest) *Transfer {
	t := &Transfer{ID: uuid.NewString(), Request: req, State: StateIdle}

	ids := OpError{PositionID: req.PositionID, MaterialID: req.MaterialID, WorkID: req.TargetWorkID}
	if err := validateTransfer(req); err != nil {
		ids.Op, ids.Err = "transfer", err
		return e.fail(t, &ids)
	}

	unlock := e.locks.lock(req.PositionID)
	defer unlock()

	ctx, span := e.tracer.Start(ctx, "estimate.transfer", trace.WithAttributes(
		attribute.String("transfer.id", t.ID),
		attribute.String("position.id", req.PositionID),
		attribute.String("material.id", req.MaterialID),
		attribute.String("mode", string(req.Mode)),
	))
	defer span.End()

	t.State = StateRequested
	log := logging.WithTrace(ctx, e.log)

	var (
		res LinkResult
		err error
		op  = "move_or_copy"
	)
	if req.SourceWorkID == "" && req.Mode == ModeMove {
		op = "create_link"
		res, err = e.store.CreateLink(ctx, req.PositionID, req.TargetWorkID, req.MaterialID)
	} else {
		res, err = e.store.MoveOrCopyMaterial(ctx, req)
	}
	if err != nil {
		span.RecordError(err)
		e.metrics.storeError(op)
		return e.fail(t, storeError("transfer", ids, err))
	}

	if res.Conflict != nil {
		c := *res.Conflict
		c.PositionID = req.PositionID
		c.Mode = req.Mode
		t.State = StateConflictReported
		t.Conflict = &c
		t.Outcome = Conflicted{TransferID: t.ID, Conflict: c}
		t.ReportedAt = e.now()
		e.rememberTransfer(t)
		e.metrics.transfer(req.Mode, "conflict")
		log.Info("transfer conflict reported",
			zap.String("transfer_id", t.ID),
			zap.String("position_id", req.PositionID),
			zap.String("material_id", req.MaterialID),
			zap.String("source_link_id", c.SourceLinkID),
			zap.String("target_link_id", c.TargetLinkID),
		)
		return t
	}

	t.State = StateApplied
	e.metrics.transfer(req.Mode, "applied")
	log.Info("transfer applied",
		zap.String("transfer_id", t.ID),
		zap.String("position_id", req.PositionID),
		zap.String("material_id", req.MaterialID),
		zap.String("target_work_id", req.TargetWorkID),
		zap.String("mode", string(req.Mode)),
	)
	t.Outcome = Applied{Link: res.Link, Totals: e.refreshAfterWrite(ctx, req.PositionID)}
	return t
}

func (e *Engine) fail(t *Transfer, err error) *Transfer {
	t.State = StateFailed
	t.Outcome = Failed{Err: err}
	e.metrics.transfer(t.Request.Mode, "failed")
	e.log.Warn("transfer failed",
		zap.String("transfer_id", t.ID),
		zap.String("position_id", t.Request.PositionID),
		zap.String("material_id", t.Request.MaterialID),
		zap.Error(err),
	)
	return t
}

func validateTransfer(req TransferRequest) error {
	switch {
	case req.PositionID == "" || req.MaterialID == "" || req.TargetWorkID == "":
		return fmt.Errorf("%w: position, material and target work are required", ErrInvalidTransfer)
	case !req.Mode.Valid():
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidTransfer, req.Mode)
	case req.SourceWorkID == req.TargetWorkID:
		return ErrNoOpTransfer
	}
	return nil
}

// PendingTransfer returns a transfer still waiting for a resolution.
func (e *Engine) PendingTransfer(id string) (*Transfer, bool) {
	return e.pendingTransfer(id)
}

func (e *Engine) pendingTransfer(id string) (*Transfer, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.pending[id]
	if !ok || e.expired(t, e.now()) {
		return nil, false
	}
	return t, true
}

// rememberTransfer keeps a conflicted transfer and drops the expired ones.
func (e *Engine) rememberTransfer(t *Transfer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	for id, p := range e.pending {
		if e.expired(p, now) {
			delete(e.pending, id)
		}
	}
	e.pending[t.ID] = t
}

func (e *Engine) expired(t *Transfer, now time.Time) bool {
	return now.Sub(t.ReportedAt) > e.pendingTTL
}

func (e *Engine) pendingCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.pending)
}

func (e *Engine) forgetTransfer(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, id)
}

// forgetConflict drops pending transfers settled through ResolveConflict.
func (e *Engine) forgetConflict(c Conflict) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, t := range e.pending {
		if t.Conflict == nil {
			continue
		}
		if t.Conflict.MaterialID == c.MaterialID && t.Conflict.TargetWorkID == c.TargetWorkID {
			t.State = StateResolved
			delete(e.pending, id)
		}
	}
}
