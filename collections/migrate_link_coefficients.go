package collections

import (
	"fmt"
	"log"
	"strings"

	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"

	"tenderestimate/services"
)

// SnapshotLinkCoefficients copies the normalized coefficients of each
// material onto links created before links carried their own snapshot.
// Safe to call on every startup -- returns early if nothing to migrate.
func SnapshotLinkCoefficients(app core.App) (int, error) {
	links, err := app.FindRecordsByFilter(
		Links,
		"consumption_coefficient = '' || conversion_coefficient = ''",
		"",
		0,
		0,
	)
	if err != nil {
		return 0, fmt.Errorf("migrate: could not query links: %w", err)
	}
	if len(links) == 0 {
		return 0, nil
	}

	log.Printf("migrate: snapshotting coefficients on %d link(s)\n", len(links))

	migrated := 0
	err = app.RunInTransaction(func(txApp core.App) error {
		for _, link := range links {
			material, err := txApp.FindRecordById(Items, link.GetString("material"))
			if err != nil {
				log.Printf("migrate: link %s has no material: %v\n", link.Id, err)
				continue
			}

			consumption, err := textDecimal(link, material, "consumption_coefficient")
			if err != nil {
				return err
			}
			conversion, err := textDecimal(link, material, "conversion_coefficient")
			if err != nil {
				return err
			}
			coeffs, err := services.NormalizeCoefficients(consumption, conversion)
			if err != nil {
				return fmt.Errorf("migrate: link %s: %w", link.Id, err)
			}

			link.Set("consumption_coefficient", coeffs.Consumption.String())
			link.Set("conversion_coefficient", coeffs.Conversion.String())
			if err := txApp.Save(link); err != nil {
				return fmt.Errorf("migrate: save link %s: %w", link.Id, err)
			}
			migrated++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return migrated, nil
}

// textDecimal reads field from the link, falling back to the material.
func textDecimal(link, material *core.Record, field string) (decimal.NullDecimal, error) {
	raw := strings.TrimSpace(link.GetString(field))
	if raw == "" {
		raw = strings.TrimSpace(material.GetString(field))
	}
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", "."))
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("migrate: %s %q on link %s: %w", field, raw, link.Id, err)
	}
	return decimal.NewNullDecimal(d), nil
}
