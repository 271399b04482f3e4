package estimate

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"tenderestimate/services"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nd(s string) decimal.NullDecimal { return decimal.NewNullDecimal(dec(s)) }

func assertDecimal(t *testing.T, what, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "%s: want %s, got %s", what, want, got.String())
}

const screedPosition = "p1"

// screedItems is the floor-screed position used across the package tests:
//
//	w1 screed 10 × 450                    = 4500
//	  m1 mix, 10 × 2 × 1.5 = 30 × 103     = 3090
//	w2 primer work 10 × 60                = 600
//	  m2 primer, 10 × 1.2 × 0.2 = 2.4 × 265 = 636
//	m3 mesh, unlinked, 5 × (10 USD × 90)  = 4500
//
// Works 5100, materials 8226, position 13326.
func screedItems() []Item {
	return []Item{
		{
			ID: "w1", PositionID: screedPosition, Kind: services.KindWork, Name: "Устройство стяжки",
			Unit: "м2", SortOrder: 1, Quantity: dec("10"), UnitRate: dec("450"), Currency: services.CurrencyRUB,
			DetailCostCategory: "floor-screed",
		},
		{
			ID: "m1", PositionID: screedPosition, Kind: services.KindMaterial, Name: "Смесь М150",
			Unit: "м2", SortOrder: 2, Quantity: dec("10"), UnitRate: dec("100"), Currency: services.CurrencyRUB,
			DeliveryPolicy:         services.DeliveryNotIncluded,
			ConsumptionCoefficient: nd("2"), ConversionCoefficient: nd("1.5"),
			DetailCostCategory: "floor-screed",
		},
		{
			ID: "w2", PositionID: screedPosition, Kind: services.KindSubWork, Name: "Грунтование",
			Unit: "м2", SortOrder: 3, Quantity: dec("10"), UnitRate: dec("60"), Currency: services.CurrencyRUB,
			DetailCostCategory: "floor-prep",
		},
		{
			ID: "m2", PositionID: screedPosition, Kind: services.KindMaterial, Name: "Грунтовка",
			Unit: "л", SortOrder: 4, Quantity: dec("2"), UnitRate: dec("250"), Currency: services.CurrencyRUB,
			DeliveryPolicy: services.DeliveryFixedAmount, DeliveryAmount: dec("15"),
			ConsumptionCoefficient: nd("1.2"), ConversionCoefficient: nd("0.2"),
			DetailCostCategory: "floor-prep",
		},
		{
			ID: "m3", PositionID: screedPosition, Kind: services.KindSubMaterial, Name: "Сетка",
			Unit: "м2", SortOrder: 5, Quantity: dec("5"), UnitRate: dec("10"), Currency: services.CurrencyUSD,
			CurrencyRate: dec("90"), DeliveryPolicy: services.DeliveryIncluded,
			DetailCostCategory: "reinforcement",
		},
	}
}

func screedLinks() []Link {
	return []Link{
		{ID: "l1", PositionID: screedPosition, WorkID: "w1", MaterialID: "m1"},
		{ID: "l2", PositionID: screedPosition, WorkID: "w2", MaterialID: "m2"},
	}
}

func screedNodes() map[string]string {
	return map[string]string{
		"floor-screed":  "Полы",
		"floor-prep":    "Полы",
		"reinforcement": "Армирование",
	}
}

func screedRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := BuildRegistry(services.DefaultCalculator(), screedPosition, ItemSet{screedPosition: screedItems()}, screedLinks())
	require.NoError(t, err)
	return reg
}

func newScreedStore() *memStore {
	s := newMemStore()
	s.addPosition(screedPosition)
	for _, it := range screedItems() {
		s.addItem(it)
	}
	for _, l := range screedLinks() {
		s.addLink(l)
	}
	for k, v := range screedNodes() {
		s.nodes[k] = v
	}
	return s
}

func newTestEngine(t *testing.T, s Store) (*Engine, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.InfoLevel)
	return New(s, WithLogger(zap.New(core))), logs
}

func appliedOutcome(t *testing.T, tr *Transfer) Applied {
	t.Helper()
	require.NotNil(t, tr)
	applied, ok := tr.Outcome.(Applied)
	require.Truef(t, ok, "expected Applied outcome, got %T (%+v)", tr.Outcome, tr.Outcome)
	return applied
}

func conflictedOutcome(t *testing.T, tr *Transfer) Conflicted {
	t.Helper()
	require.NotNil(t, tr)
	c, ok := tr.Outcome.(Conflicted)
	require.Truef(t, ok, "expected Conflicted outcome, got %T (%+v)", tr.Outcome, tr.Outcome)
	return c
}

func failedOutcome(t *testing.T, tr *Transfer) Failed {
	t.Helper()
	require.NotNil(t, tr)
	f, ok := tr.Outcome.(Failed)
	require.Truef(t, ok, "expected Failed outcome, got %T (%+v)", tr.Outcome, tr.Outcome)
	return f
}

// testClock is a manual clock for e.now.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
