package estimate

import "context"

// Store is the transactional backend the engine delegates every read and
// write to. MoveOrCopyMaterial and ResolveConflict must each run as a single
// atomic operation: they either apply completely or report a conflict / error
// without side effects.
//
// Implementations return the package's sentinel errors for the conditions
// they recognize (ErrPositionNotFound, ErrItemNotFound, ErrLinkNotFound,
// ErrStaleConflict, ErrInvalidTransfer). Any other error is reported to the
// caller as ErrStoreUnavailable.
type Store interface {
	LoadPosition(ctx context.Context, positionID string) (Position, []Item, error)
	ListLinks(ctx context.Context, positionID string) ([]Link, error)
	CostNodes(ctx context.Context) (map[string]string, error)
	ListPositionIDs(ctx context.Context) ([]string, error)

	CreateLink(ctx context.Context, positionID, workID, materialID string) (LinkResult, error)
	UpdateLink(ctx context.Context, positionID, linkID string, update LinkUpdate) error
	DeleteLink(ctx context.Context, positionID, linkID string) error
	MoveOrCopyMaterial(ctx context.Context, req TransferRequest) (LinkResult, error)
	ResolveConflict(ctx context.Context, res Resolution) error
	UpdateItem(ctx context.Context, item Item) error
	// CreateItems appends items to the position in one transaction and
	// returns them with their assigned ids.
	CreateItems(ctx context.Context, positionID string, items []Item) ([]Item, error)

	SavePositionTotals(ctx context.Context, positionID string, totals Totals) error
}

// FindConflictingLink returns the link under targetWorkID whose material is
// the same catalogue material as material. items must contain every material
// referenced by links.
func FindConflictingLink(material Item, targetWorkID string, links []Link, items map[string]Item) (Link, bool) {
	for _, l := range links {
		if l.WorkID != targetWorkID || l.MaterialID == material.ID {
			continue
		}
		other, ok := items[l.MaterialID]
		if !ok {
			continue
		}
		if SameMaterial(material, other) {
			return l, true
		}
	}
	return Link{}, false
}
