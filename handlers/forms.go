package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"

	"tenderestimate/estimate"
	"tenderestimate/services"
)

var errMalformedBody = errors.New("malformed request body")

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// decodeForm reads a JSON body into dst and runs its validation rules.
func decodeForm(e *core.RequestEvent, dst validation.Validatable) error {
	dec := json.NewDecoder(io.LimitReader(e.Request.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	return dst.Validate()
}

// parseDecimal accepts both "1.5" and "1,5".
func parseDecimal(s string) (decimal.Decimal, error) {
	return services.ParseDecimal(s)
}

// optionalDecimal turns a coefficient field into a NullDecimal. Blank means
// unset.
func optionalDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := parseDecimal(*s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

var isDecimal = validation.By(func(value interface{}) error {
	v, _ := validation.Indirect(value)
	s, _ := v.(string)
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if _, err := parseDecimal(s); err != nil {
		return errors.New("must be a decimal number")
	}
	return nil
})

func stringsOf[T ~string](values []T) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

type transferForm struct {
	MaterialID   string `json:"materialId"`
	SourceWorkID string `json:"sourceWorkId"`
	TargetWorkID string `json:"targetWorkId"`
	Mode         string `json:"mode"`
}

func (f *transferForm) Validate() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.MaterialID, validation.Required),
		validation.Field(&f.TargetWorkID, validation.Required),
		validation.Field(&f.Mode, validation.In(string(estimate.ModeMove), string(estimate.ModeCopy))),
	)
}

func (f *transferForm) request(positionID string) estimate.TransferRequest {
	mode := estimate.Mode(f.Mode)
	if mode == "" {
		mode = estimate.ModeMove
	}
	return estimate.TransferRequest{
		PositionID:   positionID,
		MaterialID:   f.MaterialID,
		SourceWorkID: f.SourceWorkID,
		TargetWorkID: f.TargetWorkID,
		Mode:         mode,
	}
}

type resolveForm struct {
	Strategy string `json:"strategy"`
}

func (f *resolveForm) Validate() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.Strategy, validation.Required,
			validation.In(string(estimate.StrategySum), string(estimate.StrategyReplace))),
	)
}

type linkForm struct {
	WorkID     string `json:"workId"`
	MaterialID string `json:"materialId"`
}

func (f *linkForm) Validate() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.WorkID, validation.Required),
		validation.Field(&f.MaterialID, validation.Required),
	)
}

// linkUpdateForm replaces a link's coefficient snapshot. Omitted or blank
// coefficients make the link inherit the material's value.
type linkUpdateForm struct {
	ConsumptionCoefficient *string `json:"consumptionCoefficient"`
	ConversionCoefficient  *string `json:"conversionCoefficient"`
	SortOrder              *int    `json:"sortOrder"`
}

func (f *linkUpdateForm) Validate() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.ConsumptionCoefficient, isDecimal),
		validation.Field(&f.ConversionCoefficient, isDecimal),
		validation.Field(&f.SortOrder, validation.Min(0)),
	)
}

func (f *linkUpdateForm) update() (estimate.LinkUpdate, error) {
	consumption, err := optionalDecimal(f.ConsumptionCoefficient)
	if err != nil {
		return estimate.LinkUpdate{}, err
	}
	conversion, err := optionalDecimal(f.ConversionCoefficient)
	if err != nil {
		return estimate.LinkUpdate{}, err
	}
	return estimate.LinkUpdate{
		ConsumptionCoefficient: consumption,
		ConversionCoefficient:  conversion,
		SortOrder:              f.SortOrder,
	}, nil
}

// itemForm is a partial update of an item's priced fields. Nil fields keep
// their stored value.
type itemForm struct {
	Name                   *string `json:"name"`
	Unit                   *string `json:"unit"`
	Quantity               *string `json:"quantity"`
	UnitRate               *string `json:"unitRate"`
	Currency               *string `json:"currency"`
	CurrencyRate           *string `json:"currencyRate"`
	DeliveryPolicy         *string `json:"deliveryPolicy"`
	DeliveryAmount         *string `json:"deliveryAmount"`
	ConsumptionCoefficient *string `json:"consumptionCoefficient"`
	ConversionCoefficient  *string `json:"conversionCoefficient"`
	DetailCostCategory     *string `json:"detailCostCategory"`
}

func (f *itemForm) Validate() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.Name, validation.NilOrNotEmpty, validation.Length(1, 500)),
		validation.Field(&f.Quantity, isDecimal),
		validation.Field(&f.UnitRate, isDecimal),
		validation.Field(&f.Currency, validation.In(stringsOf(services.CurrencyOptions)...)),
		validation.Field(&f.CurrencyRate, isDecimal),
		validation.Field(&f.DeliveryPolicy, validation.In(stringsOf(services.DeliveryPolicyOptions)...)),
		validation.Field(&f.DeliveryAmount, isDecimal),
		validation.Field(&f.ConsumptionCoefficient, isDecimal),
		validation.Field(&f.ConversionCoefficient, isDecimal),
	)
}

// apply returns item with the form's fields laid over it.
func (f *itemForm) apply(item estimate.Item) (estimate.Item, error) {
	setText := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	setText(&item.Name, f.Name)
	setText(&item.Unit, f.Unit)
	setText(&item.DetailCostCategory, f.DetailCostCategory)
	if f.Currency != nil {
		item.Currency = services.Currency(*f.Currency)
	}
	if f.DeliveryPolicy != nil {
		item.DeliveryPolicy = services.DeliveryPolicy(*f.DeliveryPolicy)
	}

	for _, n := range []struct {
		src *string
		dst *decimal.Decimal
	}{
		{f.Quantity, &item.Quantity},
		{f.UnitRate, &item.UnitRate},
		{f.CurrencyRate, &item.CurrencyRate},
		{f.DeliveryAmount, &item.DeliveryAmount},
	} {
		if n.src == nil {
			continue
		}
		if strings.TrimSpace(*n.src) == "" {
			*n.dst = decimal.Zero
			continue
		}
		d, err := parseDecimal(*n.src)
		if err != nil {
			return estimate.Item{}, err
		}
		*n.dst = d
	}

	if f.ConsumptionCoefficient != nil {
		c, err := optionalDecimal(f.ConsumptionCoefficient)
		if err != nil {
			return estimate.Item{}, err
		}
		item.ConsumptionCoefficient = c
	}
	if f.ConversionCoefficient != nil {
		c, err := optionalDecimal(f.ConversionCoefficient)
		if err != nil {
			return estimate.Item{}, err
		}
		item.ConversionCoefficient = c
	}
	return item, nil
}
