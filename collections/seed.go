package collections

import (
	"fmt"
	"log"

	"github.com/pocketbase/pocketbase/core"
)

// ── Definition structs ───────────────────────────────────────────────────

type itemDef struct {
	key            string // local reference for links
	sortOrder      int
	kind           string
	name           string
	unit           string
	quantity       float64
	unitRate       float64
	currency       string
	currencyRate   float64
	consumption    string
	conversion     string
	deliveryPolicy string
	deliveryAmount float64
	costCategory   string
}

type linkDef struct {
	work     string
	material string
}

type positionDef struct {
	number string
	name   string
	unit   string
	volume float64
	items  []itemDef
	links  []linkDef
}

type costNodeDef struct {
	category string
	name     string
}

var seedCostNodes = []costNodeDef{
	{category: "floor-screed", name: "Полы"},
	{category: "floor-prep", name: "Полы"},
	{category: "reinforcement", name: "Армирование"},
}

var seedPositions = []positionDef{
	{
		number: "1.1",
		name:   "Устройство стяжки пола",
		unit:   "м2",
		volume: 10,
		items: []itemDef{
			{
				key: "screed", sortOrder: 1, kind: "work",
				name: "Устройство цементной стяжки", unit: "м2",
				quantity: 10, unitRate: 450, currency: "RUB",
				costCategory: "floor-screed",
			},
			{
				key: "mix", sortOrder: 2, kind: "material",
				name: "Смесь цементно-песчаная М150", unit: "м2",
				quantity: 10, unitRate: 100, currency: "RUB",
				consumption: "2", conversion: "1.5",
				deliveryPolicy: "not_included",
				costCategory:   "floor-screed",
			},
			{
				key: "primer-work", sortOrder: 3, kind: "sub_work",
				name: "Грунтование основания", unit: "м2",
				quantity: 10, unitRate: 60, currency: "RUB",
				costCategory: "floor-prep",
			},
			{
				key: "primer", sortOrder: 4, kind: "material",
				name: "Грунтовка глубокого проникновения", unit: "л",
				quantity: 2, unitRate: 250, currency: "RUB",
				consumption: "1.2", conversion: "0.2",
				deliveryPolicy: "fixed_amount", deliveryAmount: 15,
				costCategory: "floor-prep",
			},
			{
				key: "mesh", sortOrder: 5, kind: "sub_material",
				name: "Сетка армирующая стеклотканевая", unit: "м2",
				quantity: 5, unitRate: 10, currency: "USD", currencyRate: 90,
				deliveryPolicy: "included",
				costCategory:   "reinforcement",
			},
		},
		links: []linkDef{
			{work: "screed", material: "mix"},
			{work: "primer-work", material: "primer"},
		},
	},
}

// Seed populates the collections with one demo tender. It is safe to call
// on every startup because it returns early if any tender already exists.
func Seed(app core.App) error {
	// ── idempotency: skip if tenders already exist ───────────────────
	tendersCol, err := app.FindCollectionByNameOrId(Tenders)
	if err != nil {
		return fmt.Errorf("seed: could not find tenders collection: %w", err)
	}
	existing, err := app.FindAllRecords(tendersCol)
	if err != nil {
		return fmt.Errorf("seed: could not query tenders: %w", err)
	}
	if len(existing) > 0 {
		return nil // already seeded
	}

	cols := map[string]*core.Collection{}
	for _, name := range []string{Positions, Items, Links, CostNodes} {
		col, err := app.FindCollectionByNameOrId(name)
		if err != nil {
			return fmt.Errorf("seed: could not find %s collection: %w", name, err)
		}
		cols[name] = col
	}

	return app.RunInTransaction(func(txApp core.App) error {
		tender := core.NewRecord(tendersCol)
		tender.Set("title", "ЖК Северный, корпус 2")
		tender.Set("client_name", "ООО «СеверСтрой»")
		tender.Set("tender_number", "T-2024-017")
		if err := txApp.Save(tender); err != nil {
			return fmt.Errorf("seed: save tender: %w", err)
		}

		for _, def := range seedCostNodes {
			rec := core.NewRecord(cols[CostNodes])
			rec.Set("detail_cost_category", def.category)
			rec.Set("name", def.name)
			if err := txApp.Save(rec); err != nil {
				return fmt.Errorf("seed: save cost node %q: %w", def.category, err)
			}
		}

		for i, pd := range seedPositions {
			pos := core.NewRecord(cols[Positions])
			pos.Set("tender", tender.Id)
			pos.Set("sort_order", i+1)
			pos.Set("position_number", pd.number)
			pos.Set("work_name", pd.name)
			pos.Set("unit", pd.unit)
			pos.Set("volume", pd.volume)
			if err := txApp.Save(pos); err != nil {
				return fmt.Errorf("seed: save position %q: %w", pd.number, err)
			}

			ids := make(map[string]string, len(pd.items))
			for _, it := range pd.items {
				rec := core.NewRecord(cols[Items])
				rec.Set("position", pos.Id)
				rec.Set("sort_order", it.sortOrder)
				rec.Set("kind", it.kind)
				rec.Set("name", it.name)
				rec.Set("unit", it.unit)
				rec.Set("quantity", it.quantity)
				rec.Set("unit_rate", it.unitRate)
				rec.Set("currency", it.currency)
				rec.Set("currency_rate", it.currencyRate)
				rec.Set("consumption_coefficient", it.consumption)
				rec.Set("conversion_coefficient", it.conversion)
				rec.Set("delivery_policy", it.deliveryPolicy)
				rec.Set("delivery_amount", it.deliveryAmount)
				rec.Set("detail_cost_category", it.costCategory)
				if err := txApp.Save(rec); err != nil {
					return fmt.Errorf("seed: save item %q: %w", it.name, err)
				}
				ids[it.key] = rec.Id
			}

			for j, ld := range pd.links {
				rec := core.NewRecord(cols[Links])
				rec.Set("position", pos.Id)
				rec.Set("work", ids[ld.work])
				rec.Set("material", ids[ld.material])
				rec.Set("sort_order", j)
				if err := txApp.Save(rec); err != nil {
					return fmt.Errorf("seed: save link %s→%s: %w", ld.work, ld.material, err)
				}
			}
		}

		log.Printf("seed: created demo tender %q with %d position(s)\n", tender.GetString("title"), len(seedPositions))
		return nil
	})
}
