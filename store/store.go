// Package store persists positions, BOQ items and work-material links in
// PocketBase collections and implements estimate.Store on top of them.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pocketbase/pocketbase/core"

	"tenderestimate/collections"
	"tenderestimate/estimate"
)

// Store is the PocketBase implementation of estimate.Store.
type Store struct {
	app core.App
}

var _ estimate.Store = (*Store)(nil)

func New(app core.App) *Store {
	return &Store{app: app}
}

func notFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func (s *Store) LoadPosition(ctx context.Context, positionID string) (estimate.Position, []estimate.Item, error) {
	if err := ctx.Err(); err != nil {
		return estimate.Position{}, nil, err
	}
	rec, err := s.app.FindRecordById(collections.Positions, positionID)
	if err != nil {
		if notFound(err) {
			return estimate.Position{}, nil, fmt.Errorf("%w: %s", estimate.ErrPositionNotFound, positionID)
		}
		return estimate.Position{}, nil, err
	}
	items, err := loadItems(s.app, positionID)
	if err != nil {
		return estimate.Position{}, nil, err
	}
	return toPosition(rec), items, nil
}

func (s *Store) ListLinks(ctx context.Context, positionID string) ([]estimate.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return loadLinks(s.app, positionID)
}

// CostNodes maps each detail cost category to its cost node name.
func (s *Store) CostNodes(ctx context.Context) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := s.app.FindAllRecords(collections.CostNodes)
	if err != nil {
		return nil, err
	}
	nodes := make(map[string]string, len(records))
	for _, rec := range records {
		nodes[rec.GetString("detail_cost_category")] = rec.GetString("name")
	}
	return nodes, nil
}

func (s *Store) ListPositionIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := s.app.FindAllRecords(collections.Positions)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.Id)
	}
	return ids, nil
}

func (s *Store) UpdateLink(ctx context.Context, positionID, linkID string, update estimate.LinkUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.app.RunInTransaction(func(txApp core.App) error {
		rec, err := findLink(txApp, positionID, linkID)
		if err != nil {
			return err
		}
		rec.Set("consumption_coefficient", nullString(update.ConsumptionCoefficient))
		rec.Set("conversion_coefficient", nullString(update.ConversionCoefficient))
		if update.SortOrder != nil {
			rec.Set("sort_order", *update.SortOrder)
		}
		return txApp.Save(rec)
	})
}

func (s *Store) DeleteLink(ctx context.Context, positionID, linkID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.app.RunInTransaction(func(txApp core.App) error {
		rec, err := findLink(txApp, positionID, linkID)
		if err != nil {
			return err
		}
		return txApp.Delete(rec)
	})
}

func (s *Store) UpdateItem(ctx context.Context, item estimate.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.app.RunInTransaction(func(txApp core.App) error {
		rec, err := txApp.FindRecordById(collections.Items, item.ID)
		if err != nil {
			if notFound(err) {
				return fmt.Errorf("%w: %s", estimate.ErrItemNotFound, item.ID)
			}
			return err
		}
		if rec.GetString("position") != item.PositionID {
			return fmt.Errorf("%w: %s is not in position %s", estimate.ErrItemNotFound, item.ID, item.PositionID)
		}
		fillItem(rec, item)
		return txApp.Save(rec)
	})
}

// CreateItems appends items after the position's last item. Either every
// item is saved or none is.
func (s *Store) CreateItems(ctx context.Context, positionID string, items []estimate.Item) ([]estimate.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	created := make([]estimate.Item, 0, len(items))
	err := s.app.RunInTransaction(func(txApp core.App) error {
		if _, err := txApp.FindRecordById(collections.Positions, positionID); err != nil {
			if notFound(err) {
				return fmt.Errorf("%w: %s", estimate.ErrPositionNotFound, positionID)
			}
			return err
		}
		existing, err := loadItems(txApp, positionID)
		if err != nil {
			return err
		}
		next := 0
		for _, it := range existing {
			if it.SortOrder >= next {
				next = it.SortOrder + 1
			}
		}

		col, err := txApp.FindCollectionByNameOrId(collections.Items)
		if err != nil {
			return err
		}
		for i, item := range items {
			item.PositionID = positionID
			item.SortOrder = next + i
			rec := core.NewRecord(col)
			rec.Set("position", positionID)
			fillItem(rec, item)
			if err := txApp.Save(rec); err != nil {
				return fmt.Errorf("save item %q: %w", item.Name, err)
			}
			item.ID = rec.Id
			created = append(created, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// SavePositionTotals writes the aggregated totals into the position's
// cached cost fields.
func (s *Store) SavePositionTotals(ctx context.Context, positionID string, totals estimate.Totals) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec, err := s.app.FindRecordById(collections.Positions, positionID)
	if err != nil {
		if notFound(err) {
			return fmt.Errorf("%w: %s", estimate.ErrPositionNotFound, positionID)
		}
		return err
	}
	rec.Set("total_works_cost", totals.Works.InexactFloat64())
	rec.Set("total_materials_cost", totals.Materials.InexactFloat64())
	rec.Set("total_position_cost", totals.Position.InexactFloat64())
	return s.app.Save(rec)
}

func loadItems(app core.App, positionID string) ([]estimate.Item, error) {
	records, err := app.FindRecordsByFilter(
		collections.Items,
		"position = {:positionId}",
		"sort_order",
		0, 0,
		map[string]any{"positionId": positionID},
	)
	if err != nil {
		return nil, err
	}
	items := make([]estimate.Item, 0, len(records))
	for _, rec := range records {
		item, err := toItem(rec)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func loadLinks(app core.App, positionID string) ([]estimate.Link, error) {
	records, err := app.FindRecordsByFilter(
		collections.Links,
		"position = {:positionId}",
		"sort_order",
		0, 0,
		map[string]any{"positionId": positionID},
	)
	if err != nil {
		return nil, err
	}
	links := make([]estimate.Link, 0, len(records))
	for _, rec := range records {
		l, err := toLink(rec)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, nil
}

func findLink(app core.App, positionID, linkID string) (*core.Record, error) {
	rec, err := app.FindRecordById(collections.Links, linkID)
	if err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("%w: %s", estimate.ErrLinkNotFound, linkID)
		}
		return nil, err
	}
	if rec.GetString("position") != positionID {
		return nil, fmt.Errorf("%w: %s is not in position %s", estimate.ErrLinkNotFound, linkID, positionID)
	}
	return rec, nil
}
