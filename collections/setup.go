package collections

import (
	"fmt"
	"log"

	"github.com/pocketbase/pocketbase/core"
)

const (
	Tenders   = "tenders"
	Positions = "client_positions"
	Items     = "boq_items"
	Links     = "work_material_links"
	CostNodes = "cost_nodes"
)

// Setup programmatically creates/ensures the tenders, client_positions,
// boq_items, work_material_links and cost_nodes collections exist.
func Setup(app core.App) {
	tenders := ensureCollection(app, Tenders, func(c *core.Collection) {
		c.Fields.Add(&core.TextField{Name: "title", Required: true})
		c.Fields.Add(&core.TextField{Name: "client_name", Required: false})
		c.Fields.Add(&core.TextField{Name: "tender_number", Required: false})
		c.Fields.Add(&core.AutodateField{Name: "created", OnCreate: true})
		c.Fields.Add(&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true})
	})

	positions := ensureCollection(app, Positions, func(c *core.Collection) {
		c.Fields.Add(&core.RelationField{
			Name:          "tender",
			Required:      true,
			CollectionId:  tenders.Id,
			CascadeDelete: true,
			MaxSelect:     1,
		})
		c.Fields.Add(&core.NumberField{Name: "sort_order", Required: false})
		c.Fields.Add(&core.TextField{Name: "position_number", Required: false})
		c.Fields.Add(&core.TextField{Name: "work_name", Required: true})
		c.Fields.Add(&core.TextField{Name: "unit", Required: false})
		c.Fields.Add(&core.NumberField{Name: "volume", Required: false})
		c.Fields.Add(&core.NumberField{Name: "total_works_cost", Required: false})
		c.Fields.Add(&core.NumberField{Name: "total_materials_cost", Required: false})
		c.Fields.Add(&core.NumberField{Name: "total_position_cost", Required: false})
		c.Fields.Add(&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true})
	})

	items := ensureCollection(app, Items, func(c *core.Collection) {
		c.Fields.Add(&core.RelationField{
			Name:          "position",
			Required:      true,
			CollectionId:  positions.Id,
			CascadeDelete: true,
			MaxSelect:     1,
		})
		c.Fields.Add(&core.NumberField{Name: "sort_order", Required: false})
		c.Fields.Add(&core.SelectField{
			Name:      "kind",
			Required:  true,
			Values:    []string{"work", "sub_work", "material", "sub_material"},
			MaxSelect: 1,
		})
		c.Fields.Add(&core.TextField{Name: "name", Required: true})
		c.Fields.Add(&core.TextField{Name: "unit", Required: false})
		c.Fields.Add(&core.NumberField{Name: "quantity", Required: false})
		c.Fields.Add(&core.NumberField{Name: "unit_rate", Required: false})
		c.Fields.Add(&core.SelectField{
			Name:      "currency",
			Required:  false,
			Values:    []string{"RUB", "USD", "EUR", "CNY"},
			MaxSelect: 1,
		})
		c.Fields.Add(&core.NumberField{Name: "currency_rate", Required: false})
		// Coefficients are decimal strings; empty means 1.
		c.Fields.Add(&core.TextField{Name: "consumption_coefficient", Required: false})
		c.Fields.Add(&core.TextField{Name: "conversion_coefficient", Required: false})
		c.Fields.Add(&core.SelectField{
			Name:      "delivery_policy",
			Required:  false,
			Values:    []string{"included", "not_included", "fixed_amount"},
			MaxSelect: 1,
		})
		c.Fields.Add(&core.NumberField{Name: "delivery_amount", Required: false})
		c.Fields.Add(&core.TextField{Name: "material_ref", Required: false})
		c.Fields.Add(&core.TextField{Name: "detail_cost_category", Required: false})
	})

	ensureCollection(app, Links, func(c *core.Collection) {
		c.Fields.Add(&core.RelationField{
			Name:          "position",
			Required:      true,
			CollectionId:  positions.Id,
			CascadeDelete: true,
			MaxSelect:     1,
		})
		c.Fields.Add(&core.RelationField{
			Name:          "work",
			Required:      true,
			CollectionId:  items.Id,
			CascadeDelete: true,
			MaxSelect:     1,
		})
		c.Fields.Add(&core.RelationField{
			Name:          "material",
			Required:      true,
			CollectionId:  items.Id,
			CascadeDelete: true,
			MaxSelect:     1,
		})
		c.Fields.Add(&core.NumberField{Name: "sort_order", Required: false})
		// Snapshot of the coefficients; empty inherits from the material.
		c.Fields.Add(&core.TextField{Name: "consumption_coefficient", Required: false})
		c.Fields.Add(&core.TextField{Name: "conversion_coefficient", Required: false})
		// A material is linked to at most one work.
		c.AddIndex("idx_work_material_links_material", true, "material", "")
	})

	ensureCollection(app, CostNodes, func(c *core.Collection) {
		c.Fields.Add(&core.TextField{Name: "detail_cost_category", Required: true})
		c.Fields.Add(&core.TextField{Name: "name", Required: true})
	})
}

// ensureCollection checks if a collection already exists by name. If it does,
// the existing collection is returned. Otherwise a new base collection is
// created, the addFields callback is invoked to populate its fields, and the
// collection is saved.
func ensureCollection(app core.App, name string, addFields func(*core.Collection)) *core.Collection {
	existing, err := app.FindCollectionByNameOrId(name)
	if err == nil && existing != nil {
		log.Printf("Collection %q already exists, skipping creation.\n", name)
		return existing
	}

	collection := core.NewBaseCollection(name)
	addFields(collection)

	if err := app.Save(collection); err != nil {
		log.Fatalf("Failed to create collection %q: %v", name, err)
	}

	fmt.Printf("Created collection %q (id=%s)\n", name, collection.Id)
	return collection
}
