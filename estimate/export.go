package estimate

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"tenderestimate/services"
)

// ExportData flattens a projection into printable rows: each work followed
// by the materials it consumes, then the materials no work consumes.
func (p *Projection) ExportData(calc services.Calculator, tenderTitle string, at time.Time) (services.ExportData, error) {
	data := services.ExportData{
		Title:          tenderTitle,
		PositionNumber: p.Position.Number,
		PositionName:   p.Position.Name,
		CreatedDate:    at.Format("02.01.2006"),
		Currency:       calc.LocalCurrency,
		WorksTotal:     p.Totals.Works,
		MaterialsTotal: p.Totals.Materials,
		PositionTotal:  p.Totals.Position,
	}

	for i, work := range p.Registry.Works() {
		price, err := calc.PriceInLocal(work.PriceInput())
		if err != nil {
			return services.ExportData{}, fmt.Errorf("work %s (%s): %w", work.ID, work.Name, err)
		}
		total, err := calc.LineTotal(work.PriceInput())
		if err != nil {
			return services.ExportData{}, fmt.Errorf("work %s (%s): %w", work.ID, work.Name, err)
		}
		data.Rows = append(data.Rows, services.ExportRow{
			Level:          0,
			Index:          fmt.Sprintf("%d", i+1),
			Kind:           work.Kind,
			Name:           work.Name,
			Quantity:       work.Quantity,
			Unit:           work.Unit,
			UnitPriceLocal: price,
			Total:          total,
		})

		for j, v := range p.Registry.LinksOf(work.ID) {
			material, _ := p.Registry.Item(v.MaterialID)
			data.Rows = append(data.Rows, services.ExportRow{
				Level:          1,
				Index:          fmt.Sprintf("%d.%d", i+1, j+1),
				Kind:           material.Kind,
				Name:           v.MaterialName,
				Quantity:       v.MaterialVolume,
				Unit:           v.Unit,
				Coefficients:   coefficientLabel(v.Coefficients),
				UnitPriceLocal: v.UnitPriceLocal,
				Delivery:       v.Delivery,
				Total:          v.LineTotal,
			})
		}
	}

	for i, material := range p.Registry.UnlinkedMaterials() {
		in := material.PriceInput()
		price, err := calc.PriceInLocal(in)
		if err != nil {
			return services.ExportData{}, fmt.Errorf("material %s (%s): %w", material.ID, material.Name, err)
		}
		total, err := calc.LineTotal(in)
		if err != nil {
			return services.ExportData{}, fmt.Errorf("material %s (%s): %w", material.ID, material.Name, err)
		}
		data.Rows = append(data.Rows, services.ExportRow{
			Level:          0,
			Index:          fmt.Sprintf("М%d", i+1),
			Kind:           material.Kind,
			Name:           material.Name,
			Quantity:       material.Quantity,
			Unit:           material.Unit,
			UnitPriceLocal: price,
			Delivery:       calc.Delivery(in, price),
			Total:          total,
		})
	}

	nodes := make([]string, 0, len(p.Totals.ByCostNode))
	for node := range p.Totals.ByCostNode {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		data.ByCostNode = append(data.ByCostNode, services.CostNodeTotal{Node: node, Total: p.Totals.ByCostNode[node]})
	}

	return data, nil
}

func coefficientLabel(c services.Coefficients) string {
	return strings.ReplaceAll(c.Consumption.String()+" × "+c.Conversion.String(), ".", ",")
}
