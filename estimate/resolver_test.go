package estimate

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenderestimate/services"
)

// mergeSnapshot: material a sits on a work of volume 5 with unit
// coefficients (5 units); the target work of volume 2 already consumes the
// same catalogue material b at 1.5 (3 units).
func mergeSnapshot(mode Mode) ConflictSnapshot {
	a := Item{ID: "a", Kind: services.KindMaterial, Quantity: dec("7"), MaterialRef: "cat"}
	b := Item{ID: "b", Kind: services.KindMaterial, Quantity: dec("1"), MaterialRef: "cat"}
	return ConflictSnapshot{
		Mode:           mode,
		Material:       a,
		SourceLink:     &Link{ID: "src", WorkID: "ws", MaterialID: "a"},
		SourceWork:     &Item{ID: "ws", Kind: services.KindWork, Quantity: dec("5")},
		TargetLink:     &Link{ID: "tgt", WorkID: "wt", MaterialID: "b", ConsumptionCoefficient: nd("1.5")},
		TargetMaterial: &b,
		TargetWork:     Item{ID: "wt", Kind: services.KindWork, Quantity: dec("2")},
	}
}

func TestPlanResolution_SumMove(t *testing.T) {
	plan, err := PlanResolution(mergeSnapshot(ModeMove), StrategySum)
	require.NoError(t, err)

	assert.Equal(t, "tgt", plan.SurvivorLinkID)
	assert.Equal(t, "b", plan.SurvivorMaterialID)
	assert.Equal(t, "wt", plan.WorkID)
	assert.False(t, plan.DuplicateMaterial)
	assert.Equal(t, []string{"src"}, plan.DeleteLinkIDs)
	assert.Equal(t, []string{"a"}, plan.DeleteItemIDs)

	// 5 + 3 = 8 units over a work of volume 2.
	assertDecimal(t, "consumption", "4", plan.Coefficients.Consumption)
	assertDecimal(t, "conversion", "1", plan.Coefficients.Conversion)
	assertDecimal(t, "merged volume", "8", plan.Coefficients.Volume(dec("2")))
}

func TestPlanResolution_SumNonTerminatingQuotient(t *testing.T) {
	snap := mergeSnapshot(ModeMove)
	snap.TargetLink.ConsumptionCoefficient = decimal.NullDecimal{}
	snap.TargetWork.Quantity = dec("3")

	plan, err := PlanResolution(snap, StrategySum)
	require.NoError(t, err)

	// 5 + 3 = 8 units over a work of volume 3: consumption is 8/3.
	assert.True(t, plan.Coefficients.Consumption.GreaterThan(dec("2.666666")))
	assertDecimal(t, "merged volume", "8", plan.Coefficients.Volume(dec("3")))

	// The consumption is persisted as text and read back.
	stored := decimal.RequireFromString(plan.Coefficients.Consumption.String())
	readBack := services.Coefficients{Consumption: stored, Conversion: plan.Coefficients.Conversion}
	assertDecimal(t, "merged volume after reload", "8", readBack.Volume(dec("3")))
}

func TestPlanResolution_SumCopyKeepsSource(t *testing.T) {
	plan, err := PlanResolution(mergeSnapshot(ModeCopy), StrategySum)
	require.NoError(t, err)

	assert.Equal(t, "tgt", plan.SurvivorLinkID)
	assert.Empty(t, plan.DeleteLinkIDs)
	assert.Empty(t, plan.DeleteItemIDs)
	assertDecimal(t, "consumption", "4", plan.Coefficients.Consumption)
}

func TestPlanResolution_SumFromUnlinkedMaterial(t *testing.T) {
	snap := mergeSnapshot(ModeMove)
	snap.SourceLink, snap.SourceWork = nil, nil

	plan, err := PlanResolution(snap, StrategySum)
	require.NoError(t, err)

	// 7 own units + 3 = 10 over volume 2.
	assertDecimal(t, "consumption", "5", plan.Coefficients.Consumption)
	assert.Empty(t, plan.DeleteLinkIDs)
	assert.Equal(t, []string{"a"}, plan.DeleteItemIDs)
}

func TestPlanResolution_SumIntoZeroVolumeWork(t *testing.T) {
	snap := mergeSnapshot(ModeMove)
	snap.TargetWork.Quantity = dec("0")

	_, err := PlanResolution(snap, StrategySum)
	assert.ErrorIs(t, err, ErrInvalidCoefficient)
}

func TestPlanResolution_ReplaceMove(t *testing.T) {
	snap := mergeSnapshot(ModeMove)
	snap.SourceLink.ConsumptionCoefficient = nd("2")
	snap.SourceLink.ConversionCoefficient = nd("1.5")

	plan, err := PlanResolution(snap, StrategyReplace)
	require.NoError(t, err)

	assert.Equal(t, "src", plan.SurvivorLinkID)
	assert.Equal(t, "a", plan.SurvivorMaterialID)
	assert.Equal(t, "wt", plan.WorkID)
	assert.Equal(t, []string{"tgt"}, plan.DeleteLinkIDs)
	assert.Equal(t, []string{"b"}, plan.DeleteItemIDs)
	assert.True(t, plan.Coefficients.Equal(services.Coefficients{Consumption: dec("2"), Conversion: dec("1.5")}),
		"replace carries the source coefficients, got %+v", plan.Coefficients)
}

func TestPlanResolution_ReplaceCopyDuplicates(t *testing.T) {
	plan, err := PlanResolution(mergeSnapshot(ModeCopy), StrategyReplace)
	require.NoError(t, err)

	assert.True(t, plan.DuplicateMaterial)
	assert.Empty(t, plan.SurvivorLinkID)
	assert.Empty(t, plan.SurvivorMaterialID)
	assert.Equal(t, []string{"tgt"}, plan.DeleteLinkIDs)
	assert.True(t, plan.Coefficients.Equal(services.UnitCoefficients()))
}

func TestPlanResolution_RaceRelocatesForBothStrategies(t *testing.T) {
	for _, strategy := range []Strategy{StrategySum, StrategyReplace} {
		t.Run(string(strategy), func(t *testing.T) {
			snap := mergeSnapshot(ModeMove)
			snap.TargetLink, snap.TargetMaterial = nil, nil

			plan, err := PlanResolution(snap, strategy)
			require.NoError(t, err)
			assert.Equal(t, "src", plan.SurvivorLinkID)
			assert.Equal(t, "wt", plan.WorkID)
			assert.Empty(t, plan.DeleteLinkIDs)
			assert.Empty(t, plan.DeleteItemIDs)
		})
	}
}

func TestPlanResolution_Rejects(t *testing.T) {
	t.Run("unknown strategy", func(t *testing.T) {
		_, err := PlanResolution(mergeSnapshot(ModeMove), "average")
		assert.ErrorIs(t, err, ErrInvalidTransfer)
	})
	t.Run("material already on target", func(t *testing.T) {
		snap := mergeSnapshot(ModeMove)
		snap.TargetMaterial = &snap.Material
		_, err := PlanResolution(snap, StrategySum)
		assert.ErrorIs(t, err, ErrStaleConflict)
	})
}

// mergeStore holds the mergeSnapshot situation in a store: a on ws (5),
// b on wt (2 × 1.5).
func mergeStore() *memStore {
	s := newMemStore()
	s.addPosition("p")
	s.addItem(Item{ID: "ws", PositionID: "p", Kind: services.KindWork, Name: "Стяжка", SortOrder: 1, Quantity: dec("5"), UnitRate: dec("100")})
	s.addItem(Item{ID: "wt", PositionID: "p", Kind: services.KindWork, Name: "Выравнивание", SortOrder: 2, Quantity: dec("2"), UnitRate: dec("100")})
	s.addItem(Item{ID: "a", PositionID: "p", Kind: services.KindMaterial, Name: "Смесь", SortOrder: 3, Quantity: dec("7"), UnitRate: dec("10"), MaterialRef: "cat"})
	s.addItem(Item{ID: "b", PositionID: "p", Kind: services.KindMaterial, Name: "Смесь", SortOrder: 4, Quantity: dec("1"), UnitRate: dec("10"), MaterialRef: "cat"})
	s.addLink(Link{ID: "src", PositionID: "p", WorkID: "ws", MaterialID: "a", ConsumptionCoefficient: nd("1"), ConversionCoefficient: nd("1")})
	s.addLink(Link{ID: "tgt", PositionID: "p", WorkID: "wt", MaterialID: "b", ConsumptionCoefficient: nd("1.5")})
	return s
}

func conflictingTransfer(t *testing.T, e *Engine, mode Mode) *Transfer {
	t.Helper()
	tr := e.Transfer(context.Background(), TransferRequest{
		PositionID:   "p",
		MaterialID:   "a",
		SourceWorkID: "ws",
		TargetWorkID: "wt",
		Mode:         mode,
	})
	conflictedOutcome(t, tr)
	return tr
}

func TestResolve_Sum(t *testing.T) {
	s := mergeStore()
	e, logs := newTestEngine(t, s)
	ctx := context.Background()
	tr := conflictingTransfer(t, e, ModeMove)

	resolved, err := e.Resolve(ctx, tr.ID, StrategySum)
	require.NoError(t, err)
	assert.Equal(t, StateResolved, resolved.State)
	applied := appliedOutcome(t, resolved)
	require.NotNil(t, applied.Totals)

	_, stillThere := s.item("a")
	assert.False(t, stillThere, "move+sum absorbs the incoming material")
	_, ok := s.link("src")
	assert.False(t, ok)

	p, err := e.Projection(ctx, "p")
	require.NoError(t, err)
	onTarget := p.Registry.LinksOf("wt")
	require.Len(t, onTarget, 1)
	assert.Equal(t, "tgt", onTarget[0].ID)
	assertDecimal(t, "merged volume", "8", onTarget[0].MaterialVolume)
	assertDecimal(t, "materials", "80", p.Totals.Materials)

	_, pending := e.PendingTransfer(tr.ID)
	assert.False(t, pending)
	assert.Equal(t, 1, logs.FilterMessage("conflict resolved").Len())
}

func TestResolve_Replace(t *testing.T) {
	s := mergeStore()
	src, _ := s.link("src")
	src.ConsumptionCoefficient, src.ConversionCoefficient = nd("2"), nd("1.5")
	s.addLink(src)

	e, _ := newTestEngine(t, s)
	ctx := context.Background()
	tr := conflictingTransfer(t, e, ModeMove)

	_, err := e.Resolve(ctx, tr.ID, StrategyReplace)
	require.NoError(t, err)

	_, ok := s.item("b")
	assert.False(t, ok, "replace drops the target material")
	_, ok = s.link("tgt")
	assert.False(t, ok)

	moved, ok := s.link("src")
	require.True(t, ok)
	assert.Equal(t, "wt", moved.WorkID)
	assertDecimal(t, "consumption", "2", moved.ConsumptionCoefficient.Decimal)
	assertDecimal(t, "conversion", "1.5", moved.ConversionCoefficient.Decimal)

	p, err := e.Projection(ctx, "p")
	require.NoError(t, err)
	assert.Empty(t, p.Registry.LinksOf("ws"))
	// 2 × 2 × 1.5 = 6 units.
	assertDecimal(t, "volume", "6", p.Registry.LinksOf("wt")[0].MaterialVolume)
}

func TestResolve_CopySumKeepsSource(t *testing.T) {
	s := mergeStore()
	e, _ := newTestEngine(t, s)
	tr := conflictingTransfer(t, e, ModeCopy)

	_, err := e.Resolve(context.Background(), tr.ID, StrategySum)
	require.NoError(t, err)

	src, ok := s.link("src")
	require.True(t, ok)
	assert.Equal(t, "ws", src.WorkID)
	tgt, _ := s.link("tgt")
	assertDecimal(t, "consumption", "4", tgt.ConsumptionCoefficient.Decimal)
}

func TestResolve_TwiceIsStale(t *testing.T) {
	s := mergeStore()
	e, _ := newTestEngine(t, s)
	ctx := context.Background()
	tr := conflictingTransfer(t, e, ModeMove)

	_, err := e.Resolve(ctx, tr.ID, StrategySum)
	require.NoError(t, err)

	_, err = e.Resolve(ctx, tr.ID, StrategySum)
	assert.ErrorIs(t, err, ErrStaleConflict)
	assert.Equal(t, 1, s.callCount("resolve"))
}

func TestResolve_ChangedStoreIsStale(t *testing.T) {
	s := mergeStore()
	e, _ := newTestEngine(t, s)
	ctx := context.Background()
	tr := conflictingTransfer(t, e, ModeMove)

	// Someone else removed the target link in the meantime.
	require.NoError(t, s.DeleteLink(ctx, "p", "tgt"))

	resolved, err := e.Resolve(ctx, tr.ID, StrategyReplace)
	assert.ErrorIs(t, err, ErrStaleConflict)
	assert.Equal(t, StateFailed, resolved.State)
	failedOutcome(t, resolved)

	_, pending := e.PendingTransfer(tr.ID)
	assert.False(t, pending, "a stale transfer is forgotten")
	src, _ := s.link("src")
	assert.Equal(t, "ws", src.WorkID, "nothing applied")
}

func TestResolve_StoreFailureKeepsTransferPending(t *testing.T) {
	s := mergeStore()
	e, _ := newTestEngine(t, s)
	ctx := context.Background()
	tr := conflictingTransfer(t, e, ModeMove)

	s.setFail("resolve", assert.AnError)
	_, err := e.Resolve(ctx, tr.ID, StrategySum)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, pending := e.PendingTransfer(tr.ID)
	assert.True(t, pending, "the operator can retry")

	s.setFail("resolve", nil)
	_, err = e.Resolve(ctx, tr.ID, StrategySum)
	assert.NoError(t, err)
}

func TestResolve_InvalidStrategy(t *testing.T) {
	s := mergeStore()
	e, _ := newTestEngine(t, s)
	tr := conflictingTransfer(t, e, ModeMove)

	_, err := e.Resolve(context.Background(), tr.ID, "average")
	assert.ErrorIs(t, err, ErrInvalidTransfer)
	assert.Zero(t, s.callCount("resolve"))
}

func TestResolveConflict_WithoutTransferHandle(t *testing.T) {
	s := mergeStore()
	e, _ := newTestEngine(t, s)
	ctx := context.Background()
	tr := conflictingTransfer(t, e, ModeMove)

	totals, err := e.ResolveConflict(ctx, *tr.Conflict, StrategySum)
	require.NoError(t, err)
	require.NotNil(t, totals)
	assertDecimal(t, "materials", "80", totals.Materials)

	_, pending := e.PendingTransfer(tr.ID)
	assert.False(t, pending, "settling the conflict settles the transfer")

	_, err = e.ResolveConflict(ctx, *tr.Conflict, StrategySum)
	assert.ErrorIs(t, err, ErrStaleConflict)
}

func TestResolveConflict_RequiresIdentity(t *testing.T) {
	e, _ := newTestEngine(t, mergeStore())

	_, err := e.ResolveConflict(context.Background(), Conflict{PositionID: "p"}, StrategySum)
	assert.ErrorIs(t, err, ErrInvalidTransfer)
}
