// Package testhelpers provides utilities for testing PocketBase-based applications.
package testhelpers

import (
	"strings"
	"testing"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"

	"tenderestimate/collections"
)

// NewTestApp creates a PocketBase instance backed by a temporary directory.
// It bootstraps the app and runs collections.Setup to create all tables.
// The temporary directory is cleaned up automatically when the test finishes.
func NewTestApp(t *testing.T) *pocketbase.PocketBase {
	t.Helper()

	tmpDir := t.TempDir()
	app := pocketbase.NewWithConfig(pocketbase.Config{
		DefaultDataDir: tmpDir,
	})

	if err := app.Bootstrap(); err != nil {
		t.Fatalf("failed to bootstrap test app: %v", err)
	}

	collections.Setup(app)

	return app
}

// CreateTestTender creates a tender record with the given title and returns it.
func CreateTestTender(t *testing.T, app core.App, title string) *core.Record {
	t.Helper()

	col, err := app.FindCollectionByNameOrId(collections.Tenders)
	if err != nil {
		t.Fatalf("failed to find tenders collection: %v", err)
	}

	record := core.NewRecord(col)
	record.Set("title", title)
	record.Set("client_name", "Test Client")

	if err := app.Save(record); err != nil {
		t.Fatalf("failed to save test tender: %v", err)
	}

	return record
}

// CreateTestPosition creates a client position inside a tender.
func CreateTestPosition(t *testing.T, app core.App, tenderID, name string, volume float64) *core.Record {
	t.Helper()

	col, err := app.FindCollectionByNameOrId(collections.Positions)
	if err != nil {
		t.Fatalf("failed to find client_positions collection: %v", err)
	}

	record := core.NewRecord(col)
	record.Set("tender", tenderID)
	record.Set("position_number", "1")
	record.Set("work_name", name)
	record.Set("unit", "м2")
	record.Set("volume", volume)

	if err := app.Save(record); err != nil {
		t.Fatalf("failed to save test position: %v", err)
	}

	return record
}

// CreateTestWork creates a work item priced in RUB.
func CreateTestWork(t *testing.T, app core.App, positionID, name string, quantity, unitRate float64) *core.Record {
	t.Helper()
	return createTestItem(t, app, positionID, map[string]any{
		"kind":      "work",
		"name":      name,
		"unit":      "м2",
		"quantity":  quantity,
		"unit_rate": unitRate,
		"currency":  "RUB",
	})
}

// CreateTestMaterial creates a material item priced in RUB with delivery
// included. extra overrides or adds fields (coefficients, currency, ...).
func CreateTestMaterial(t *testing.T, app core.App, positionID, name string, quantity, unitRate float64, extra map[string]any) *core.Record {
	t.Helper()
	fields := map[string]any{
		"kind":            "material",
		"name":            name,
		"unit":            "м2",
		"quantity":        quantity,
		"unit_rate":       unitRate,
		"currency":        "RUB",
		"delivery_policy": "included",
	}
	for k, v := range extra {
		fields[k] = v
	}
	return createTestItem(t, app, positionID, fields)
}

func createTestItem(t *testing.T, app core.App, positionID string, fields map[string]any) *core.Record {
	t.Helper()

	col, err := app.FindCollectionByNameOrId(collections.Items)
	if err != nil {
		t.Fatalf("failed to find boq_items collection: %v", err)
	}

	record := core.NewRecord(col)
	record.Set("position", positionID)
	for k, v := range fields {
		record.Set(k, v)
	}

	if err := app.Save(record); err != nil {
		t.Fatalf("failed to save test item %v: %v", fields["name"], err)
	}

	return record
}

// CreateTestLink links a material to a work. Coefficients are left empty so
// the link inherits them from the material.
func CreateTestLink(t *testing.T, app core.App, positionID, workID, materialID string) *core.Record {
	t.Helper()

	col, err := app.FindCollectionByNameOrId(collections.Links)
	if err != nil {
		t.Fatalf("failed to find work_material_links collection: %v", err)
	}

	record := core.NewRecord(col)
	record.Set("position", positionID)
	record.Set("work", workID)
	record.Set("material", materialID)

	if err := app.Save(record); err != nil {
		t.Fatalf("failed to save test link: %v", err)
	}

	return record
}

// CreateTestCostNode maps a detail cost category to a cost node name.
func CreateTestCostNode(t *testing.T, app core.App, category, name string) *core.Record {
	t.Helper()

	col, err := app.FindCollectionByNameOrId(collections.CostNodes)
	if err != nil {
		t.Fatalf("failed to find cost_nodes collection: %v", err)
	}

	record := core.NewRecord(col)
	record.Set("detail_cost_category", category)
	record.Set("name", name)

	if err := app.Save(record); err != nil {
		t.Fatalf("failed to save test cost node: %v", err)
	}

	return record
}

// AssertBodyContains checks that body contains all specified fragments.
func AssertBodyContains(t *testing.T, body string, fragments ...string) {
	t.Helper()

	for _, frag := range fragments {
		if !strings.Contains(body, frag) {
			t.Errorf("expected body to contain %q, but it was not found\nbody (first 500 chars): %s",
				frag, truncate(body, 500))
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
