package estimate

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"tenderestimate/services"
)

// memStore is an in-memory Store with the same transfer and resolution
// rules as the PocketBase store. Errors set in fail are returned by the
// named operation until cleared.
type memStore struct {
	mu sync.Mutex

	positions map[string]Position
	items     map[string]Item
	links     map[string]Link
	nodes     map[string]string
	seq       int

	fail  map[string]error
	calls map[string]int
	saved map[string]Totals
}

func newMemStore() *memStore {
	return &memStore{
		positions: make(map[string]Position),
		items:     make(map[string]Item),
		links:     make(map[string]Link),
		nodes:     make(map[string]string),
		fail:      make(map[string]error),
		calls:     make(map[string]int),
		saved:     make(map[string]Totals),
	}
}

var _ Store = (*memStore)(nil)

func (s *memStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s%d", prefix, s.seq)
}

func (s *memStore) enter(op string) error {
	s.calls[op]++
	return s.fail[op]
}

// ── fixtures ──────────────────────────────────────────────────────────

func (s *memStore) addPosition(id string) Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := Position{ID: id, Name: "Position " + id, Volume: decimal.NewFromInt(10)}
	s.positions[id] = p
	return p
}

func (s *memStore) addItem(it Item) Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it.ID == "" {
		it.ID = s.nextID("item")
	}
	if it.Currency == "" {
		it.Currency = services.CurrencyRUB
	}
	s.items[it.ID] = it
	return it
}

func (s *memStore) addLink(l Link) Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == "" {
		l.ID = s.nextID("link")
	}
	s.links[l.ID] = l
	return l
}

func (s *memStore) link(id string) (Link, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[id]
	return l, ok
}

func (s *memStore) item(id string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	return it, ok
}

func (s *memStore) linksOfPosition(positionID string) []Link {
	var out []Link
	for _, l := range s.links {
		if l.PositionID == positionID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *memStore) itemsOfPosition(positionID string) map[string]Item {
	out := make(map[string]Item)
	for id, it := range s.items {
		if it.PositionID == positionID {
			out[id] = it
		}
	}
	return out
}

func (s *memStore) linkOfMaterial(materialID string) *Link {
	for _, l := range s.links {
		if l.MaterialID == materialID {
			l := l
			return &l
		}
	}
	return nil
}

func (s *memStore) deleteItem(id string) {
	delete(s.items, id)
	for lid, l := range s.links {
		if l.MaterialID == id || l.WorkID == id {
			delete(s.links, lid)
		}
	}
}

func (s *memStore) duplicate(material Item) Item {
	dup := material
	dup.ID = s.nextID("item")
	dup.MaterialRef = material.CatalogKey()
	s.items[dup.ID] = dup
	return dup
}

func (s *memStore) insertLink(positionID, workID, materialID string, coeffs *services.Coefficients) Link {
	l := Link{ID: s.nextID("link"), PositionID: positionID, WorkID: workID, MaterialID: materialID}
	if coeffs != nil {
		l.ConsumptionCoefficient = decimal.NewNullDecimal(coeffs.Consumption)
		l.ConversionCoefficient = decimal.NewNullDecimal(coeffs.Conversion)
	}
	s.links[l.ID] = l
	return l
}

func (s *memStore) checkPair(positionID, workID, materialID string) (Item, error) {
	if _, ok := s.positions[positionID]; !ok {
		return Item{}, ErrPositionNotFound
	}
	material, ok := s.items[materialID]
	if !ok || material.PositionID != positionID {
		return Item{}, ErrItemNotFound
	}
	if w, ok := s.items[workID]; !ok || w.PositionID != positionID {
		return Item{}, ErrItemNotFound
	}
	return material, nil
}

func (s *memStore) conflict(positionID string, material Item, source, target *Link, targetWorkID string) *Conflict {
	c := &Conflict{
		PositionID:     positionID,
		MaterialID:     material.ID,
		TargetWorkID:   targetWorkID,
		MaterialName:   material.Name,
		TargetWorkName: s.items[targetWorkID].Name,
	}
	if source != nil {
		c.SourceLinkID, c.SourceWorkID = source.ID, source.WorkID
		c.SourceWorkName = s.items[source.WorkID].Name
	}
	if target != nil {
		c.TargetLinkID = target.ID
	}
	return c
}

// ── Store ─────────────────────────────────────────────────────────────

func (s *memStore) LoadPosition(_ context.Context, positionID string) (Position, []Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("load"); err != nil {
		return Position{}, nil, err
	}
	p, ok := s.positions[positionID]
	if !ok {
		return Position{}, nil, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	var items []Item
	for _, it := range s.itemsOfPosition(positionID) {
		items = append(items, it)
	}
	return p, items, nil
}

func (s *memStore) ListLinks(_ context.Context, positionID string) ([]Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("links"); err != nil {
		return nil, err
	}
	return s.linksOfPosition(positionID), nil
}

func (s *memStore) CostNodes(context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.nodes))
	for k, v := range s.nodes {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) ListPositionIDs(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("list_positions"); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(s.positions))
	for id := range s.positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memStore) CreateLink(_ context.Context, positionID, workID, materialID string) (LinkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("create_link"); err != nil {
		return LinkResult{}, err
	}
	material, err := s.checkPair(positionID, workID, materialID)
	if err != nil {
		return LinkResult{}, err
	}
	if current := s.linkOfMaterial(materialID); current != nil {
		if current.WorkID == workID {
			return LinkResult{Link: current}, nil
		}
		return LinkResult{Conflict: s.conflict(positionID, material, current, nil, workID)}, nil
	}
	if target, ok := FindConflictingLink(material, workID, s.linksOfPosition(positionID), s.itemsOfPosition(positionID)); ok {
		return LinkResult{Conflict: s.conflict(positionID, material, nil, &target, workID)}, nil
	}
	l := s.insertLink(positionID, workID, materialID, nil)
	return LinkResult{Link: &l}, nil
}

func (s *memStore) MoveOrCopyMaterial(_ context.Context, req TransferRequest) (LinkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("move_or_copy"); err != nil {
		return LinkResult{}, err
	}
	material, err := s.checkPair(req.PositionID, req.TargetWorkID, req.MaterialID)
	if err != nil {
		return LinkResult{}, err
	}

	current := s.linkOfMaterial(material.ID)
	if current != nil && current.WorkID == req.TargetWorkID {
		return LinkResult{Link: current}, nil
	}
	if current != nil && current.WorkID != req.SourceWorkID {
		return LinkResult{Conflict: s.conflict(req.PositionID, material, current, nil, req.TargetWorkID)}, nil
	}
	if target, ok := FindConflictingLink(material, req.TargetWorkID, s.linksOfPosition(req.PositionID), s.itemsOfPosition(req.PositionID)); ok {
		return LinkResult{Conflict: s.conflict(req.PositionID, material, current, &target, req.TargetWorkID)}, nil
	}

	switch {
	case req.Mode == ModeCopy:
		var coeffs *services.Coefficients
		if current != nil {
			c, err := current.Coefficients(material)
			if err != nil {
				return LinkResult{}, err
			}
			coeffs = &c
		}
		dup := s.duplicate(material)
		l := s.insertLink(req.PositionID, req.TargetWorkID, dup.ID, coeffs)
		return LinkResult{Link: &l}, nil
	case current != nil:
		l := *current
		l.WorkID = req.TargetWorkID
		s.links[l.ID] = l
		return LinkResult{Link: &l}, nil
	default:
		l := s.insertLink(req.PositionID, req.TargetWorkID, material.ID, nil)
		return LinkResult{Link: &l}, nil
	}
}

func (s *memStore) ResolveConflict(_ context.Context, r Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("resolve"); err != nil {
		return err
	}
	c := r.Conflict
	snap := ConflictSnapshot{Mode: c.Mode}
	if !snap.Mode.Valid() {
		snap.Mode = ModeMove
	}

	material, ok := s.items[c.MaterialID]
	if !ok {
		return ErrStaleConflict
	}
	work, ok := s.items[c.TargetWorkID]
	if !ok {
		return ErrStaleConflict
	}
	snap.Material, snap.TargetWork = material, work

	current := s.linkOfMaterial(material.ID)
	switch {
	case c.SourceLinkID == "" && current != nil:
		return ErrStaleConflict
	case c.SourceLinkID != "" && (current == nil || current.ID != c.SourceLinkID):
		return ErrStaleConflict
	}
	if current != nil {
		if current.WorkID == c.TargetWorkID {
			return ErrStaleConflict
		}
		srcWork := s.items[current.WorkID]
		snap.SourceLink, snap.SourceWork = current, &srcWork
	}
	if c.TargetLinkID != "" {
		target, ok := s.links[c.TargetLinkID]
		if !ok || target.WorkID != c.TargetWorkID {
			return ErrStaleConflict
		}
		tgtMaterial := s.items[target.MaterialID]
		snap.TargetLink, snap.TargetMaterial = &target, &tgtMaterial
	}

	plan, err := PlanResolution(snap, r.Strategy)
	if err != nil {
		return err
	}

	for _, id := range plan.DeleteLinkIDs {
		delete(s.links, id)
	}
	for _, id := range plan.DeleteItemIDs {
		s.deleteItem(id)
	}
	coeffs := plan.Coefficients
	if plan.SurvivorLinkID != "" {
		l := s.links[plan.SurvivorLinkID]
		l.WorkID = plan.WorkID
		l.ConsumptionCoefficient = decimal.NewNullDecimal(coeffs.Consumption)
		l.ConversionCoefficient = decimal.NewNullDecimal(coeffs.Conversion)
		s.links[l.ID] = l
		return nil
	}
	materialID := plan.SurvivorMaterialID
	if plan.DuplicateMaterial {
		materialID = s.duplicate(snap.Material).ID
	}
	s.insertLink(c.PositionID, plan.WorkID, materialID, &coeffs)
	return nil
}

func (s *memStore) UpdateLink(_ context.Context, positionID, linkID string, u LinkUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("update_link"); err != nil {
		return err
	}
	l, ok := s.links[linkID]
	if !ok || l.PositionID != positionID {
		return ErrLinkNotFound
	}
	l.ConsumptionCoefficient = u.ConsumptionCoefficient
	l.ConversionCoefficient = u.ConversionCoefficient
	if u.SortOrder != nil {
		l.SortOrder = *u.SortOrder
	}
	s.links[linkID] = l
	return nil
}

func (s *memStore) DeleteLink(_ context.Context, positionID, linkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("delete_link"); err != nil {
		return err
	}
	l, ok := s.links[linkID]
	if !ok || l.PositionID != positionID {
		return ErrLinkNotFound
	}
	delete(s.links, linkID)
	return nil
}

func (s *memStore) UpdateItem(_ context.Context, item Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("update_item"); err != nil {
		return err
	}
	old, ok := s.items[item.ID]
	if !ok || old.PositionID != item.PositionID {
		return ErrItemNotFound
	}
	s.items[item.ID] = item
	return nil
}

func (s *memStore) CreateItems(_ context.Context, positionID string, items []Item) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("create_items"); err != nil {
		return nil, err
	}
	if _, ok := s.positions[positionID]; !ok {
		return nil, ErrPositionNotFound
	}
	next := 0
	for _, it := range s.items {
		if it.PositionID == positionID && it.SortOrder >= next {
			next = it.SortOrder + 1
		}
	}
	created := make([]Item, len(items))
	for i, it := range items {
		it.ID = s.nextID("item")
		it.PositionID = positionID
		it.SortOrder = next + i
		s.items[it.ID] = it
		created[i] = it
	}
	return created, nil
}

func (s *memStore) SavePositionTotals(_ context.Context, positionID string, totals Totals) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("save_totals"); err != nil {
		return err
	}
	p, ok := s.positions[positionID]
	if !ok {
		return ErrPositionNotFound
	}
	p.Cached = totals
	s.positions[positionID] = p
	s.saved[positionID] = totals
	return nil
}

func (s *memStore) setFail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

func (s *memStore) callCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}
