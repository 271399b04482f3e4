package store

import (
	"context"
	"fmt"

	"github.com/pocketbase/pocketbase/core"

	"tenderestimate/collections"
	"tenderestimate/estimate"
	"tenderestimate/services"
)

// snapshot is a position's items and links as read inside one transaction.
type snapshot struct {
	positionID string
	items      map[string]estimate.Item
	links      []estimate.Link
}

func readSnapshot(app core.App, positionID string) (*snapshot, error) {
	if _, err := app.FindRecordById(collections.Positions, positionID); err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("%w: %s", estimate.ErrPositionNotFound, positionID)
		}
		return nil, err
	}
	items, err := loadItems(app, positionID)
	if err != nil {
		return nil, err
	}
	links, err := loadLinks(app, positionID)
	if err != nil {
		return nil, err
	}
	snap := &snapshot{positionID: positionID, items: make(map[string]estimate.Item, len(items)), links: links}
	for _, it := range items {
		snap.items[it.ID] = it
	}
	return snap, nil
}

func (s *snapshot) material(id string) (estimate.Item, error) {
	it, ok := s.items[id]
	if !ok {
		return estimate.Item{}, fmt.Errorf("%w: material %s in position %s", estimate.ErrItemNotFound, id, s.positionID)
	}
	if !it.Kind.IsMaterial() {
		return estimate.Item{}, fmt.Errorf("%w: %s is a %s, not a material", estimate.ErrInvalidTransfer, id, it.Kind)
	}
	return it, nil
}

func (s *snapshot) work(id string) (estimate.Item, error) {
	it, ok := s.items[id]
	if !ok {
		return estimate.Item{}, fmt.Errorf("%w: work %s in position %s", estimate.ErrItemNotFound, id, s.positionID)
	}
	if !it.Kind.IsWork() {
		return estimate.Item{}, fmt.Errorf("%w: %s is a %s, not a work", estimate.ErrInvalidTransfer, id, it.Kind)
	}
	return it, nil
}

func (s *snapshot) linkOfMaterial(materialID string) *estimate.Link {
	for i := range s.links {
		if s.links[i].MaterialID == materialID {
			return &s.links[i]
		}
	}
	return nil
}

func (s *snapshot) link(id string) *estimate.Link {
	for i := range s.links {
		if s.links[i].ID == id {
			return &s.links[i]
		}
	}
	return nil
}

func (s *snapshot) name(id string) string {
	return s.items[id].Name
}

// conflict builds the operator-facing description of a conflict.
func (s *snapshot) conflict(material estimate.Item, source *estimate.Link, target *estimate.Link, targetWorkID string) *estimate.Conflict {
	c := &estimate.Conflict{
		PositionID:     s.positionID,
		MaterialID:     material.ID,
		TargetWorkID:   targetWorkID,
		MaterialName:   material.Name,
		TargetWorkName: s.name(targetWorkID),
	}
	if source != nil {
		c.SourceLinkID = source.ID
		c.SourceWorkID = source.WorkID
		c.SourceWorkName = s.name(source.WorkID)
	}
	if target != nil {
		c.TargetLinkID = target.ID
	}
	return c
}

// CreateLink links an unlinked material to a work. A material that is
// already on another work, or a work that already consumes the same
// catalogue material, is reported as a conflict.
func (s *Store) CreateLink(ctx context.Context, positionID, workID, materialID string) (estimate.LinkResult, error) {
	if err := ctx.Err(); err != nil {
		return estimate.LinkResult{}, err
	}
	var res estimate.LinkResult
	err := s.app.RunInTransaction(func(txApp core.App) error {
		snap, err := readSnapshot(txApp, positionID)
		if err != nil {
			return err
		}
		material, err := snap.material(materialID)
		if err != nil {
			return err
		}
		if _, err := snap.work(workID); err != nil {
			return err
		}

		if current := snap.linkOfMaterial(materialID); current != nil {
			if current.WorkID == workID {
				l := *current
				res.Link = &l
				return nil
			}
			res.Conflict = snap.conflict(material, current, nil, workID)
			return nil
		}
		if target, ok := estimate.FindConflictingLink(material, workID, snap.links, snap.items); ok {
			res.Conflict = snap.conflict(material, nil, &target, workID)
			return nil
		}

		l, err := insertLink(txApp, positionID, workID, materialID, nil, nextSortOrder(snap, workID))
		if err != nil {
			return err
		}
		res.Link = &l
		return nil
	})
	return res, err
}

// MoveOrCopyMaterial reassigns (move) or duplicates (copy) a material onto
// the target work in one transaction, or reports a conflict without writing
// anything.
func (s *Store) MoveOrCopyMaterial(ctx context.Context, req estimate.TransferRequest) (estimate.LinkResult, error) {
	if err := ctx.Err(); err != nil {
		return estimate.LinkResult{}, err
	}
	var res estimate.LinkResult
	err := s.app.RunInTransaction(func(txApp core.App) error {
		snap, err := readSnapshot(txApp, req.PositionID)
		if err != nil {
			return err
		}
		material, err := snap.material(req.MaterialID)
		if err != nil {
			return err
		}
		if _, err := snap.work(req.TargetWorkID); err != nil {
			return err
		}

		current := snap.linkOfMaterial(material.ID)
		if current != nil && current.WorkID == req.TargetWorkID {
			// Retry of a transfer that already went through.
			l := *current
			res.Link = &l
			return nil
		}
		if current != nil && current.WorkID != req.SourceWorkID {
			// Someone moved the material since the caller looked.
			res.Conflict = snap.conflict(material, current, nil, req.TargetWorkID)
			return nil
		}
		if current == nil && req.SourceWorkID != "" {
			if _, err := snap.work(req.SourceWorkID); err != nil {
				return err
			}
		}

		if target, ok := estimate.FindConflictingLink(material, req.TargetWorkID, snap.links, snap.items); ok {
			res.Conflict = snap.conflict(material, current, &target, req.TargetWorkID)
			return nil
		}

		order := nextSortOrder(snap, req.TargetWorkID)
		switch {
		case req.Mode == estimate.ModeCopy:
			dup, err := duplicateItem(txApp, material)
			if err != nil {
				return err
			}
			var coeffs *services.Coefficients
			if current != nil {
				c, err := current.Coefficients(material)
				if err != nil {
					return err
				}
				coeffs = &c
			}
			l, err := insertLink(txApp, req.PositionID, req.TargetWorkID, dup.ID, coeffs, order)
			if err != nil {
				return err
			}
			res.Link = &l
		case current != nil:
			rec, err := findLink(txApp, req.PositionID, current.ID)
			if err != nil {
				return err
			}
			rec.Set("work", req.TargetWorkID)
			rec.Set("sort_order", order)
			if err := txApp.Save(rec); err != nil {
				return err
			}
			l, err := toLink(rec)
			if err != nil {
				return err
			}
			res.Link = &l
		default:
			l, err := insertLink(txApp, req.PositionID, req.TargetWorkID, material.ID, nil, order)
			if err != nil {
				return err
			}
			res.Link = &l
		}
		return nil
	})
	return res, err
}

// ResolveConflict re-reads both sides of a reported conflict and applies
// the plan for the chosen strategy. Any change to either side since the
// conflict was reported fails with ErrStaleConflict and writes nothing.
func (s *Store) ResolveConflict(ctx context.Context, r estimate.Resolution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := r.Conflict
	return s.app.RunInTransaction(func(txApp core.App) error {
		snap, err := readSnapshot(txApp, c.PositionID)
		if err != nil {
			return err
		}
		cs, err := snap.conflictState(c)
		if err != nil {
			return err
		}
		plan, err := estimate.PlanResolution(cs, r.Strategy)
		if err != nil {
			return err
		}
		return applyPlan(txApp, snap, cs, plan)
	})
}

func stale(c estimate.Conflict, format string, args ...any) error {
	return fmt.Errorf("%w: material %s onto work %s: %s",
		estimate.ErrStaleConflict, c.MaterialID, c.TargetWorkID, fmt.Sprintf(format, args...))
}

// conflictState checks that the conflict still describes the stored data
// and returns both of its sides.
func (s *snapshot) conflictState(c estimate.Conflict) (estimate.ConflictSnapshot, error) {
	cs := estimate.ConflictSnapshot{Mode: c.Mode}
	if !cs.Mode.Valid() {
		cs.Mode = estimate.ModeMove
	}

	material, ok := s.items[c.MaterialID]
	if !ok || !material.Kind.IsMaterial() {
		return cs, stale(c, "material is gone")
	}
	cs.Material = material

	work, ok := s.items[c.TargetWorkID]
	if !ok || !work.Kind.IsWork() {
		return cs, stale(c, "target work is gone")
	}
	cs.TargetWork = work

	current := s.linkOfMaterial(material.ID)
	switch {
	case c.SourceLinkID == "" && current != nil:
		return cs, stale(c, "material was linked in the meantime")
	case c.SourceLinkID != "" && (current == nil || current.ID != c.SourceLinkID):
		return cs, stale(c, "source link %s changed", c.SourceLinkID)
	}
	if current != nil {
		if current.WorkID == c.TargetWorkID {
			return cs, stale(c, "material already sits on the target work")
		}
		src := *current
		srcWork, ok := s.items[src.WorkID]
		if !ok {
			return cs, stale(c, "source work is gone")
		}
		cs.SourceLink = &src
		cs.SourceWork = &srcWork
	}

	if c.TargetLinkID != "" {
		target := s.link(c.TargetLinkID)
		if target == nil || target.WorkID != c.TargetWorkID {
			return cs, stale(c, "target link %s changed", c.TargetLinkID)
		}
		tgtMaterial, ok := s.items[target.MaterialID]
		if !ok {
			return cs, stale(c, "target material is gone")
		}
		tl := *target
		cs.TargetLink = &tl
		cs.TargetMaterial = &tgtMaterial
	}
	return cs, nil
}

func applyPlan(app core.App, snap *snapshot, cs estimate.ConflictSnapshot, plan estimate.ResolutionPlan) error {
	for _, id := range plan.DeleteLinkIDs {
		rec, err := findLink(app, snap.positionID, id)
		if err != nil {
			return err
		}
		if err := app.Delete(rec); err != nil {
			return err
		}
	}
	for _, id := range plan.DeleteItemIDs {
		rec, err := app.FindRecordById(collections.Items, id)
		if err != nil {
			if notFound(err) {
				continue
			}
			return err
		}
		if err := app.Delete(rec); err != nil {
			return err
		}
	}

	coeffs := plan.Coefficients
	if plan.SurvivorLinkID != "" {
		rec, err := findLink(app, snap.positionID, plan.SurvivorLinkID)
		if err != nil {
			return err
		}
		if rec.GetString("work") != plan.WorkID {
			rec.Set("work", plan.WorkID)
			rec.Set("sort_order", nextSortOrder(snap, plan.WorkID))
		}
		setCoefficients(rec, coeffs)
		return app.Save(rec)
	}

	materialID := plan.SurvivorMaterialID
	if plan.DuplicateMaterial {
		dup, err := duplicateItem(app, cs.Material)
		if err != nil {
			return err
		}
		materialID = dup.ID
	}
	_, err := insertLink(app, snap.positionID, plan.WorkID, materialID, &coeffs, nextSortOrder(snap, plan.WorkID))
	return err
}

func insertLink(app core.App, positionID, workID, materialID string, coeffs *services.Coefficients, sortOrder int) (estimate.Link, error) {
	col, err := app.FindCollectionByNameOrId(collections.Links)
	if err != nil {
		return estimate.Link{}, err
	}
	rec := core.NewRecord(col)
	rec.Set("position", positionID)
	rec.Set("work", workID)
	rec.Set("material", materialID)
	rec.Set("sort_order", sortOrder)
	if coeffs != nil {
		setCoefficients(rec, *coeffs)
	}
	if err := app.Save(rec); err != nil {
		return estimate.Link{}, err
	}
	return toLink(rec)
}

// duplicateItem saves a copy of a material line. The copy points back to
// the catalogue material of the original.
func duplicateItem(app core.App, material estimate.Item) (estimate.Item, error) {
	col, err := app.FindCollectionByNameOrId(collections.Items)
	if err != nil {
		return estimate.Item{}, err
	}
	dup := material
	dup.MaterialRef = material.CatalogKey()

	rec := core.NewRecord(col)
	rec.Set("position", material.PositionID)
	fillItem(rec, dup)
	if err := app.Save(rec); err != nil {
		return estimate.Item{}, err
	}
	dup.ID = rec.Id
	return dup, nil
}

func nextSortOrder(snap *snapshot, workID string) int {
	next := 0
	for _, l := range snap.links {
		if l.WorkID == workID && l.SortOrder >= next {
			next = l.SortOrder + 1
		}
	}
	return next
}
