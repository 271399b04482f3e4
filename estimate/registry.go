package estimate

import (
	"fmt"
	"sort"

	"tenderestimate/services"
)

// ItemSet holds the items of each position the caller knows about, keyed
// by position id. A position with no items is present with a nil slice.
type ItemSet map[string][]Item

// Registry is the read-only view of a position's work→materials links.
type Registry struct {
	positionID string
	items      map[string]Item
	works      []Item
	materials  []Item
	byWork     map[string][]LinkView
	linked     map[string]struct{}
	orphans    []Link
}

// BuildRegistry enriches every link of the position with the material
// volume and line total computed against that link's own work. Building
// twice from the same inputs yields the same registry.
func BuildRegistry(calc services.Calculator, positionID string, set ItemSet, links []Link) (*Registry, error) {
	items, ok := set[positionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}

	r := &Registry{
		positionID: positionID,
		items:      make(map[string]Item, len(items)),
		byWork:     make(map[string][]LinkView),
		linked:     make(map[string]struct{}),
	}

	ordered := append([]Item(nil), items...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].SortOrder != ordered[j].SortOrder {
			return ordered[i].SortOrder < ordered[j].SortOrder
		}
		return ordered[i].ID < ordered[j].ID
	})
	for _, it := range ordered {
		r.items[it.ID] = it
		switch {
		case it.Kind.IsWork():
			r.works = append(r.works, it)
		case it.Kind.IsMaterial():
			r.materials = append(r.materials, it)
		}
	}

	for _, l := range links {
		if l.PositionID != "" && l.PositionID != positionID {
			continue
		}
		work, okWork := r.items[l.WorkID]
		material, okMaterial := r.items[l.MaterialID]
		if !okWork || !okMaterial || !work.Kind.IsWork() || !material.Kind.IsMaterial() {
			r.orphans = append(r.orphans, l)
			continue
		}

		view, err := enrich(calc, l, work, material)
		if err != nil {
			return nil, err
		}
		r.byWork[work.ID] = append(r.byWork[work.ID], view)
		r.linked[material.ID] = struct{}{}
	}

	for workID, views := range r.byWork {
		sort.SliceStable(views, func(i, j int) bool {
			if views[i].SortOrder != views[j].SortOrder {
				return views[i].SortOrder < views[j].SortOrder
			}
			return views[i].ID < views[j].ID
		})
		r.byWork[workID] = views
	}

	return r, nil
}

func enrich(calc services.Calculator, l Link, work, material Item) (LinkView, error) {
	coeffs, err := l.Coefficients(material)
	if err != nil {
		return LinkView{}, fmt.Errorf("link %s (%s → %s): %w", l.ID, material.Name, work.Name, err)
	}
	volume := coeffs.Volume(work.Quantity)

	in := material.PriceInput()
	in.Quantity = volume
	price, err := calc.PriceInLocal(in)
	if err != nil {
		return LinkView{}, fmt.Errorf("material %s (%s): %w", material.ID, material.Name, err)
	}
	delivery := calc.Delivery(in, price)

	return LinkView{
		Link:           l,
		WorkName:       work.Name,
		MaterialName:   material.Name,
		Unit:           material.Unit,
		Currency:       material.Currency,
		WorkQuantity:   work.Quantity,
		Coefficients:   coeffs,
		MaterialVolume: volume,
		UnitPriceLocal: price,
		Delivery:       delivery,
		LineTotal:      price.Add(delivery).Mul(volume),
	}, nil
}

func (r *Registry) PositionID() string { return r.positionID }

// LinksByWork returns a copy of the work id → enriched links mapping.
func (r *Registry) LinksByWork() map[string][]LinkView {
	out := make(map[string][]LinkView, len(r.byWork))
	for k, v := range r.byWork {
		out[k] = append([]LinkView(nil), v...)
	}
	return out
}

func (r *Registry) LinksOf(workID string) []LinkView {
	return append([]LinkView(nil), r.byWork[workID]...)
}

// IsLinked reports whether some work consumes the material.
func (r *Registry) IsLinked(materialID string) bool {
	_, ok := r.linked[materialID]
	return ok
}

// LinkedMaterialIDs returns the linked material ids in sorted order.
func (r *Registry) LinkedMaterialIDs() []string {
	ids := make([]string, 0, len(r.linked))
	for id := range r.linked {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LinkOfMaterial returns the first enriched link consuming the material.
func (r *Registry) LinkOfMaterial(materialID string) (LinkView, bool) {
	for _, w := range r.works {
		for _, v := range r.byWork[w.ID] {
			if v.MaterialID == materialID {
				return v, true
			}
		}
	}
	return LinkView{}, false
}

func (r *Registry) Item(id string) (Item, bool) {
	it, ok := r.items[id]
	return it, ok
}

func (r *Registry) Works() []Item     { return append([]Item(nil), r.works...) }
func (r *Registry) Materials() []Item { return append([]Item(nil), r.materials...) }

// UnlinkedMaterials returns the materials no work consumes, in display order.
func (r *Registry) UnlinkedMaterials() []Item {
	var out []Item
	for _, m := range r.materials {
		if !r.IsLinked(m.ID) {
			out = append(out, m)
		}
	}
	return out
}

// Orphans are links whose work or material is missing from the position.
func (r *Registry) Orphans() []Link { return append([]Link(nil), r.orphans...) }
