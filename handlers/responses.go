package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tenderestimate/estimate"
)

// Money and quantities are rendered as decimal strings.

type totalsJSON struct {
	Works             decimal.Decimal            `json:"works"`
	Materials         decimal.Decimal            `json:"materials"`
	Position          decimal.Decimal            `json:"position"`
	LinkedMaterials   decimal.Decimal            `json:"linkedMaterials"`
	UnlinkedMaterials decimal.Decimal            `json:"unlinkedMaterials"`
	ByCostNode        map[string]decimal.Decimal `json:"byCostNode"`
}

func toTotalsJSON(t *estimate.Totals) *totalsJSON {
	if t == nil {
		return nil
	}
	return &totalsJSON{
		Works:             t.Works,
		Materials:         t.Materials,
		Position:          t.Position,
		LinkedMaterials:   t.LinkedMaterials,
		UnlinkedMaterials: t.UnlinkedMaterials,
		ByCostNode:        t.ByCostNode,
	}
}

type linkJSON struct {
	ID                     string `json:"id"`
	WorkID                 string `json:"workId"`
	MaterialID             string `json:"materialId"`
	SortOrder              int    `json:"sortOrder"`
	ConsumptionCoefficient string `json:"consumptionCoefficient,omitempty"`
	ConversionCoefficient  string `json:"conversionCoefficient,omitempty"`
}

func toLinkJSON(l *estimate.Link) *linkJSON {
	if l == nil {
		return nil
	}
	out := &linkJSON{ID: l.ID, WorkID: l.WorkID, MaterialID: l.MaterialID, SortOrder: l.SortOrder}
	if l.ConsumptionCoefficient.Valid {
		out.ConsumptionCoefficient = l.ConsumptionCoefficient.Decimal.String()
	}
	if l.ConversionCoefficient.Valid {
		out.ConversionCoefficient = l.ConversionCoefficient.Decimal.String()
	}
	return out
}

type linkViewJSON struct {
	linkJSON
	MaterialName   string          `json:"materialName"`
	Unit           string          `json:"unit"`
	Currency       string          `json:"currency"`
	Consumption    decimal.Decimal `json:"consumption"`
	Conversion     decimal.Decimal `json:"conversion"`
	MaterialVolume decimal.Decimal `json:"materialVolume"`
	UnitPriceLocal decimal.Decimal `json:"unitPriceLocal"`
	Delivery       decimal.Decimal `json:"delivery"`
	LineTotal      decimal.Decimal `json:"lineTotal"`
}

type workLinksJSON struct {
	WorkID       string          `json:"workId"`
	WorkName     string          `json:"workName"`
	WorkQuantity decimal.Decimal `json:"workQuantity"`
	Links        []linkViewJSON  `json:"links"`
}

type materialJSON struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Unit     string          `json:"unit"`
	Quantity decimal.Decimal `json:"quantity"`
}

type positionLinksJSON struct {
	PositionID string          `json:"positionId"`
	Works      []workLinksJSON `json:"works"`
	Unlinked   []materialJSON  `json:"unlinked"`
	Orphans    int             `json:"orphans,omitempty"`
}

func toPositionLinksJSON(p *estimate.Projection) positionLinksJSON {
	out := positionLinksJSON{
		PositionID: p.Position.ID,
		Works:      []workLinksJSON{},
		Unlinked:   []materialJSON{},
		Orphans:    len(p.Registry.Orphans()),
	}
	for _, w := range p.Registry.Works() {
		wl := workLinksJSON{WorkID: w.ID, WorkName: w.Name, WorkQuantity: w.Quantity, Links: []linkViewJSON{}}
		for _, v := range p.Registry.LinksOf(w.ID) {
			link := v.Link
			wl.Links = append(wl.Links, linkViewJSON{
				linkJSON:       *toLinkJSON(&link),
				MaterialName:   v.MaterialName,
				Unit:           v.Unit,
				Currency:       string(v.Currency),
				Consumption:    v.Coefficients.Consumption,
				Conversion:     v.Coefficients.Conversion,
				MaterialVolume: v.MaterialVolume,
				UnitPriceLocal: v.UnitPriceLocal,
				Delivery:       v.Delivery,
				LineTotal:      v.LineTotal,
			})
		}
		out.Works = append(out.Works, wl)
	}
	for _, m := range p.Registry.UnlinkedMaterials() {
		out.Unlinked = append(out.Unlinked, materialJSON{ID: m.ID, Name: m.Name, Unit: m.Unit, Quantity: m.Quantity})
	}
	return out
}

type conflictJSON struct {
	MaterialID     string `json:"materialId"`
	MaterialName   string `json:"materialName"`
	SourceLinkID   string `json:"sourceLinkId,omitempty"`
	SourceWorkID   string `json:"sourceWorkId,omitempty"`
	SourceWorkName string `json:"sourceWorkName,omitempty"`
	TargetLinkID   string `json:"targetLinkId,omitempty"`
	TargetWorkID   string `json:"targetWorkId"`
	TargetWorkName string `json:"targetWorkName"`
	Mode           string `json:"mode"`
}

type transferJSON struct {
	ID       string        `json:"id"`
	State    string        `json:"state"`
	Status   string        `json:"status"`
	Link     *linkJSON     `json:"link,omitempty"`
	Totals   *totalsJSON   `json:"totals,omitempty"`
	Conflict *conflictJSON `json:"conflict,omitempty"`
}

// writeTransfer answers with a transfer's outcome. Conflicts are a normal
// answer, not an error: the operator picks a strategy next.
func writeTransfer(e *core.RequestEvent, log *zap.Logger, op string, t *estimate.Transfer) error {
	body := transferJSON{ID: t.ID, State: string(t.State)}

	switch o := t.Outcome.(type) {
	case estimate.Applied:
		body.Status = "applied"
		body.Link = toLinkJSON(o.Link)
		body.Totals = toTotalsJSON(o.Totals)
		SetToast(e, "success", "Изменения сохранены")
	case estimate.Conflicted:
		c := o.Conflict
		body.Status = "conflict"
		body.Conflict = &conflictJSON{
			MaterialID:     c.MaterialID,
			MaterialName:   c.MaterialName,
			SourceLinkID:   c.SourceLinkID,
			SourceWorkID:   c.SourceWorkID,
			SourceWorkName: c.SourceWorkName,
			TargetLinkID:   c.TargetLinkID,
			TargetWorkID:   c.TargetWorkID,
			TargetWorkName: c.TargetWorkName,
			Mode:           string(c.Mode),
		}
		conflictToast(e, c.MaterialName, c.TargetWorkName)
	case estimate.Failed:
		return writeError(e, log, op, o.Err)
	default:
		log.Error(op+": transfer has no outcome", zap.String("transfer_id", t.ID))
		return e.JSON(http.StatusInternalServerError, errorBody{Error: "Something went wrong. Please try again.", Code: "internal"})
	}
	return e.JSON(http.StatusOK, body)
}
