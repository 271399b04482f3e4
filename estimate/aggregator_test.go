package estimate

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenderestimate/services"
)

func TestAggregate_Screed(t *testing.T) {
	totals, err := Aggregate(services.DefaultCalculator(), screedRegistry(t), screedNodes())
	require.NoError(t, err)

	assertDecimal(t, "works", "5100", totals.Works)
	assertDecimal(t, "linked", "3726", totals.LinkedMaterials)
	assertDecimal(t, "unlinked", "4500", totals.UnlinkedMaterials)
	assertDecimal(t, "materials", "8226", totals.Materials)
	assertDecimal(t, "position", "13326", totals.Position)

	require.Len(t, totals.ByCostNode, 2)
	assertDecimal(t, "Полы", "8826", totals.ByCostNode["Полы"])
	assertDecimal(t, "Армирование", "4500", totals.ByCostNode["Армирование"])
}

func TestAggregate_Invariants(t *testing.T) {
	tests := []struct {
		name  string
		links []Link
	}{
		{"no links", nil},
		{"screed links", screedLinks()},
		{"everything linked", append(screedLinks(), Link{ID: "l3", WorkID: "w1", MaterialID: "m3"})},
		{"only mesh linked", []Link{{ID: "l3", WorkID: "w2", MaterialID: "m3"}}},
	}

	calc := services.DefaultCalculator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := BuildRegistry(calc, screedPosition, ItemSet{screedPosition: screedItems()}, tt.links)
			require.NoError(t, err)
			totals, err := Aggregate(calc, reg, screedNodes())
			require.NoError(t, err)

			assert.True(t, totals.Position.Equal(totals.Works.Add(totals.Materials)), "position = works + materials")
			assert.True(t, totals.Materials.Equal(totals.LinkedMaterials.Add(totals.UnlinkedMaterials)), "materials = linked + unlinked")
			assertDecimal(t, "works never depend on links", "5100", totals.Works)

			sum := decimal.Zero
			for _, v := range totals.ByCostNode {
				sum = sum.Add(v)
			}
			assert.True(t, sum.Equal(totals.Position), "cost nodes add up to the position")

			for _, m := range reg.UnlinkedMaterials() {
				assert.False(t, reg.IsLinked(m.ID))
			}
		})
	}
}

func TestAggregate_LinkedMaterialCountedOnce(t *testing.T) {
	// Mesh linked to the screed at conversion 0.5 prices 10 × 0.5 = 5 units,
	// exactly its own quantity, so the total must not move.
	links := append(screedLinks(), Link{ID: "l3", WorkID: "w1", MaterialID: "m3", ConversionCoefficient: nd("0.5")})

	calc := services.DefaultCalculator()
	reg, err := BuildRegistry(calc, screedPosition, ItemSet{screedPosition: screedItems()}, links)
	require.NoError(t, err)
	totals, err := Aggregate(calc, reg, nil)
	require.NoError(t, err)

	assertDecimal(t, "unlinked", "0", totals.UnlinkedMaterials)
	assertDecimal(t, "linked", "8226", totals.LinkedMaterials)
	assertDecimal(t, "position", "13326", totals.Position)
}

func TestAggregate_WorkWithoutLinksStillCounts(t *testing.T) {
	calc := services.DefaultCalculator()
	reg, err := BuildRegistry(calc, screedPosition, ItemSet{screedPosition: screedItems()}, nil)
	require.NoError(t, err)
	totals, err := Aggregate(calc, reg, nil)
	require.NoError(t, err)

	// m1: 10 × 103, m2: 2 × 265, m3: 4500.
	assertDecimal(t, "works", "5100", totals.Works)
	assertDecimal(t, "unlinked", "6060", totals.UnlinkedMaterials)
	assertDecimal(t, "position", "11160", totals.Position)
}

func TestAggregate_UncategorizedAndUnknownNodes(t *testing.T) {
	items := screedItems()
	items[0].DetailCostCategory = ""
	items[4].DetailCostCategory = "roofing"

	calc := services.DefaultCalculator()
	reg, err := BuildRegistry(calc, screedPosition, ItemSet{screedPosition: items}, screedLinks())
	require.NoError(t, err)
	totals, err := Aggregate(calc, reg, screedNodes())
	require.NoError(t, err)

	assertDecimal(t, "uncategorized", "4500", totals.ByCostNode[""])
	assertDecimal(t, "unknown detail keeps its id", "4500", totals.ByCostNode["roofing"])
}

func TestAggregate_InvalidCurrencyRate(t *testing.T) {
	items := screedItems()
	items[4].CurrencyRate = dec("0")

	calc := services.DefaultCalculator()
	reg, err := BuildRegistry(calc, screedPosition, ItemSet{screedPosition: items}, screedLinks())
	require.NoError(t, err)

	_, err = Aggregate(calc, reg, nil)
	assert.ErrorIs(t, err, ErrInvalidCurrencyRate)
}
