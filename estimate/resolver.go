package estimate

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"tenderestimate/services"
)

// ConflictSnapshot is the current state of both sides of a conflict, read
// inside the store's transaction.
type ConflictSnapshot struct {
	Mode Mode

	Material   Item
	SourceLink *Link // nil when the material was unlinked
	SourceWork *Item

	// TargetLink and TargetMaterial are nil when the conflict came from a
	// race on an already-linked material rather than from the target work
	// consuming the same catalogue material.
	TargetLink     *Link
	TargetMaterial *Item
	TargetWork     Item
}

// ResolutionPlan lists the writes that settle a conflict. The store applies
// them in one transaction: deletes first, then the surviving link.
type ResolutionPlan struct {
	// SurvivorLinkID is the link left under the target work. Empty means a
	// new link has to be created for SurvivorMaterialID.
	SurvivorLinkID string
	// SurvivorMaterialID is empty when DuplicateMaterial is set: the store
	// copies Material and links the copy.
	SurvivorMaterialID string
	DuplicateMaterial  bool
	WorkID             string
	Coefficients       services.Coefficients

	DeleteLinkIDs []string
	DeleteItemIDs []string
}

// PlanResolution decides how a conflict is settled.
//
// sum keeps the target's link and raises its consumption coefficient until
// the link produces the source volume plus its own. replace drops the
// target's link and material and lets the incoming material take the slot
// with the source link's coefficients.
//
// In move mode the incoming material is absorbed (sum) or relocated
// (replace); in copy mode the source side is left untouched.
func PlanResolution(snap ConflictSnapshot, strategy Strategy) (ResolutionPlan, error) {
	if snap.TargetMaterial != nil && snap.TargetMaterial.ID == snap.Material.ID {
		return ResolutionPlan{}, fmt.Errorf("%w: material %s already sits on the target work", ErrStaleConflict, snap.Material.ID)
	}

	srcCoeffs, srcVolume, err := sourceSide(snap)
	if err != nil {
		return ResolutionPlan{}, err
	}

	if snap.TargetLink == nil || snap.TargetMaterial == nil {
		if !strategy.Valid() {
			return ResolutionPlan{}, fmt.Errorf("%w: unknown strategy %q", ErrInvalidTransfer, strategy)
		}
		// Nothing to merge with or discard: both strategies relocate.
		return planReplace(snap, srcCoeffs), nil
	}

	switch strategy {
	case StrategySum:
		return planSum(snap, srcVolume)
	case StrategyReplace:
		return planReplace(snap, srcCoeffs), nil
	default:
		return ResolutionPlan{}, fmt.Errorf("%w: unknown strategy %q", ErrInvalidTransfer, strategy)
	}
}

// sourceSide returns the coefficients and volume the incoming material
// carried before the conflict. An unlinked material contributes its own
// quantity.
func sourceSide(snap ConflictSnapshot) (services.Coefficients, decimal.Decimal, error) {
	if snap.SourceLink == nil || snap.SourceWork == nil {
		coeffs, err := snap.Material.Coefficients()
		if err != nil {
			return services.Coefficients{}, decimal.Zero, err
		}
		return coeffs, snap.Material.Quantity, nil
	}
	coeffs, err := snap.SourceLink.Coefficients(snap.Material)
	if err != nil {
		return services.Coefficients{}, decimal.Zero, err
	}
	return coeffs, coeffs.Volume(snap.SourceWork.Quantity), nil
}

// consumptionScale bounds the digits of a reconciled consumption. The volume
// read back from it is off by at most qty × conversion × 5e-19, which rounds
// away at services.VolumeScale for any realistic work volume.
const consumptionScale = 18

func planSum(snap ConflictSnapshot, srcVolume decimal.Decimal) (ResolutionPlan, error) {
	tgtCoeffs, err := snap.TargetLink.Coefficients(*snap.TargetMaterial)
	if err != nil {
		return ResolutionPlan{}, err
	}
	tgtVolume := tgtCoeffs.Volume(snap.TargetWork.Quantity)
	merged := srcVolume.Add(tgtVolume)

	coeffs := tgtCoeffs
	denominator := snap.TargetWork.Quantity.Mul(tgtCoeffs.Conversion)
	switch {
	case !denominator.IsZero():
		coeffs.Consumption = merged.DivRound(denominator, consumptionScale)
	case !merged.IsZero():
		return ResolutionPlan{}, fmt.Errorf("%w: cannot fold volume %s into work %q with zero volume or conversion",
			ErrInvalidCoefficient, merged, snap.TargetWork.Name)
	}
	if err := coeffs.Validate(); err != nil {
		return ResolutionPlan{}, err
	}

	plan := ResolutionPlan{
		SurvivorLinkID:     snap.TargetLink.ID,
		SurvivorMaterialID: snap.TargetMaterial.ID,
		WorkID:             snap.TargetWork.ID,
		Coefficients:       coeffs,
	}
	if snap.Mode == ModeMove {
		if snap.SourceLink != nil {
			plan.DeleteLinkIDs = append(plan.DeleteLinkIDs, snap.SourceLink.ID)
		}
		plan.DeleteItemIDs = append(plan.DeleteItemIDs, snap.Material.ID)
	}
	return plan, nil
}

func planReplace(snap ConflictSnapshot, srcCoeffs services.Coefficients) ResolutionPlan {
	plan := ResolutionPlan{
		WorkID:       snap.TargetWork.ID,
		Coefficients: srcCoeffs,
	}
	if snap.TargetLink != nil && snap.TargetMaterial != nil {
		plan.DeleteLinkIDs = []string{snap.TargetLink.ID}
		plan.DeleteItemIDs = []string{snap.TargetMaterial.ID}
	}
	if snap.Mode == ModeCopy {
		plan.DuplicateMaterial = true
		return plan
	}
	plan.SurvivorMaterialID = snap.Material.ID
	if snap.SourceLink != nil {
		plan.SurvivorLinkID = snap.SourceLink.ID
	}
	return plan
}

// Resolve settles the conflict a transfer reported. Resolving a transfer
// that is not (or no longer) in ConflictReported fails with ErrStaleConflict.
func (e *Engine) Resolve(ctx context.Context, transferID string, strategy Strategy) (*Transfer, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidTransfer, strategy)
	}

	t, ok := e.pendingTransfer(transferID)
	if !ok {
		return nil, &OpError{Op: "resolve", Err: fmt.Errorf("%w: transfer %s", ErrStaleConflict, transferID)}
	}

	unlock := e.locks.lock(t.Request.PositionID)
	defer unlock()

	// Another caller may have settled it while we waited for the lock.
	if _, still := e.pendingTransfer(transferID); !still || t.State != StateConflictReported {
		return nil, &OpError{Op: "resolve", PositionID: t.Request.PositionID, Err: fmt.Errorf("%w: transfer %s", ErrStaleConflict, transferID)}
	}

	totals, err := e.resolveLocked(ctx, *t.Conflict, strategy)
	if err != nil {
		if errors.Is(err, ErrStaleConflict) {
			e.forgetTransfer(transferID)
			t.State = StateFailed
			t.Outcome = Failed{Err: err}
		}
		return t, err
	}

	e.forgetTransfer(transferID)
	t.State = StateResolved
	t.Outcome = Applied{Totals: totals}
	return t, nil
}

// ResolveConflict settles a conflict identified by its link pair, for
// callers that did not keep the transfer handle. The store rejects it with
// ErrStaleConflict when either link has changed.
func (e *Engine) ResolveConflict(ctx context.Context, c Conflict, strategy Strategy) (*Totals, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidTransfer, strategy)
	}
	if c.PositionID == "" || c.MaterialID == "" || c.TargetWorkID == "" {
		return nil, fmt.Errorf("%w: conflict needs position, material and target work", ErrInvalidTransfer)
	}

	unlock := e.locks.lock(c.PositionID)
	defer unlock()

	totals, err := e.resolveLocked(ctx, c, strategy)
	if err != nil {
		return nil, err
	}
	e.forgetConflict(c)
	return totals, nil
}

func (e *Engine) resolveLocked(ctx context.Context, c Conflict, strategy Strategy) (*Totals, error) {
	ctx, span := e.tracer.Start(ctx, "estimate.resolve", trace.WithAttributes(
		attribute.String("position.id", c.PositionID),
		attribute.String("material.id", c.MaterialID),
		attribute.String("strategy", string(strategy)),
	))
	defer span.End()

	ids := OpError{
		PositionID:   c.PositionID,
		MaterialID:   c.MaterialID,
		WorkID:       c.TargetWorkID,
		MaterialName: c.MaterialName,
		WorkName:     c.TargetWorkName,
	}

	err := e.store.ResolveConflict(ctx, Resolution{Conflict: c, Strategy: strategy})
	if err != nil {
		err = storeError("resolve", ids, err)
		e.metrics.resolution(strategy, err)
		span.RecordError(err)
		e.log.Warn("conflict resolution failed",
			zap.String("position_id", c.PositionID),
			zap.String("material_id", c.MaterialID),
			zap.String("strategy", string(strategy)),
			zap.Error(err),
		)
		return nil, err
	}
	e.metrics.resolution(strategy, nil)

	e.log.Info("conflict resolved",
		zap.String("position_id", c.PositionID),
		zap.String("material_id", c.MaterialID),
		zap.String("source_link_id", c.SourceLinkID),
		zap.String("target_link_id", c.TargetLinkID),
		zap.String("strategy", string(strategy)),
	)
	return e.refreshAfterWrite(ctx, c.PositionID), nil
}
