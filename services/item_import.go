package services

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// ImportColumn describes one column of the item import sheet.
type ImportColumn struct {
	Key        string
	Label      string
	FormatRule string
	Example    string
	Required   bool
}

// ItemImportColumns returns the columns of the item import sheet in template order.
func ItemImportColumns() []ImportColumn {
	return []ImportColumn{
		{Key: "kind", Label: "Тип", Required: true, FormatRule: "work, sub_work, material или sub_material", Example: "material"},
		{Key: "name", Label: "Наименование", Required: true, FormatRule: "Текст", Example: "Смесь для стяжки М150"},
		{Key: "unit", Label: "Ед. изм.", Required: true, FormatRule: "Единица измерения", Example: "т"},
		{Key: "quantity", Label: "Количество", Required: true, FormatRule: "Число не меньше 0", Example: "10"},
		{Key: "unit_rate", Label: "Цена за ед.", Required: true, FormatRule: "Число не меньше 0", Example: "100"},
		{Key: "currency", Label: "Валюта", FormatRule: "RUB, USD, EUR или CNY; пусто = местная", Example: "RUB"},
		{Key: "currency_rate", Label: "Курс", FormatRule: "Обязателен для иностранной валюты", Example: "90"},
		{Key: "delivery_policy", Label: "Доставка", FormatRule: "included, not_included или fixed_amount", Example: "not_included"},
		{Key: "delivery_amount", Label: "Сумма доставки", FormatRule: "Для fixed_amount, за единицу", Example: "15"},
		{Key: "consumption_coefficient", Label: "Коэф. расхода", FormatRule: "Число больше 0; пусто = 1", Example: "1,05"},
		{Key: "conversion_coefficient", Label: "Коэф. перевода", FormatRule: "Число больше 0; пусто = 1", Example: "1,8"},
		{Key: "material_ref", Label: "Код материала", FormatRule: "Код материала в справочнике", Example: "MIX-M150"},
		{Key: "detail_cost_category", Label: "Статья затрат", FormatRule: "Идентификатор статьи затрат", Example: ""},
	}
}

// ValidationError represents a single field-level error on one row.
type ValidationError struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ImportedItem is one parsed and validated row of an item import file.
type ImportedItem struct {
	Row            int
	Kind           ItemKind
	Name           string
	Unit           string
	Quantity       decimal.Decimal
	UnitRate       decimal.Decimal
	Currency       Currency
	CurrencyRate   decimal.Decimal
	DeliveryPolicy DeliveryPolicy
	DeliveryAmount decimal.Decimal

	ConsumptionCoefficient decimal.NullDecimal
	ConversionCoefficient  decimal.NullDecimal

	MaterialRef        string
	DetailCostCategory string
}

// PriceInput returns the row's pricing fields.
func (it ImportedItem) PriceInput() PriceInput {
	return PriceInput{
		Kind:           it.Kind,
		Quantity:       it.Quantity,
		UnitRate:       it.UnitRate,
		Currency:       it.Currency,
		CurrencyRate:   it.CurrencyRate,
		DeliveryPolicy: it.DeliveryPolicy,
		DeliveryAmount: it.DeliveryAmount,
	}
}

// ValidationResult is returned after parsing and validating an uploaded file.
// Items holds only the rows without errors.
type ValidationResult struct {
	TotalRows int               `json:"total_rows"`
	ValidRows int               `json:"valid_rows"`
	ErrorRows int               `json:"error_rows"`
	Errors    []ValidationError `json:"errors"`
	Items     []ImportedItem    `json:"-"`
	FileName  string            `json:"-"`
}

// parseCSV reads a CSV file and returns headers + data rows.
func parseCSV(file io.Reader) ([]string, [][]string, error) {
	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	allRows, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(allRows) < 2 {
		return nil, nil, fmt.Errorf("file must contain a header row and at least one data row")
	}
	return allRows[0], allRows[1:], nil
}

// parseExcel reads an xlsx file and returns headers + data rows from the first sheet.
func parseExcel(file io.Reader) ([]string, [][]string, error) {
	f, err := excelize.OpenReader(file)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read sheet: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil, fmt.Errorf("file must contain a header row and at least one data row")
	}
	return rows[0], rows[1:], nil
}

// mapHeadersToColumns maps uploaded column headers to column keys, either by
// label or by key. Unrecognized columns map to "".
func mapHeadersToColumns(headers []string, columns []ImportColumn) []string {
	lookup := make(map[string]string, 2*len(columns))
	for _, c := range columns {
		lookup[strings.ToLower(c.Label)] = c.Key
		lookup[c.Key] = c.Key
	}

	mapped := make([]string, len(headers))
	for i, h := range headers {
		norm := strings.ToLower(strings.TrimSpace(h))
		// the template marks required columns with " *"
		norm = strings.TrimSpace(strings.TrimSuffix(norm, " *"))
		mapped[i] = lookup[norm]
	}
	return mapped
}

// ParseItemFile parses an uploaded .csv or .xlsx file of BOQ items and
// validates every row against calc.
func ParseItemFile(calc Calculator, file io.Reader, fileName string) (*ValidationResult, error) {
	var headers []string
	var dataRows [][]string
	var err error

	lowerName := strings.ToLower(fileName)
	switch {
	case strings.HasSuffix(lowerName, ".csv"):
		headers, dataRows, err = parseCSV(file)
	case strings.HasSuffix(lowerName, ".xlsx"):
		headers, dataRows, err = parseExcel(file)
	default:
		return nil, fmt.Errorf("unsupported file format: must be .csv or .xlsx")
	}
	if err != nil {
		return nil, err
	}

	columns := ItemImportColumns()
	keys := mapHeadersToColumns(headers, columns)

	result := &ValidationResult{FileName: fileName}
	for rowIdx, row := range dataRows {
		rowNum := rowIdx + 2 // 1-indexed, +1 for header row

		values := make(map[string]string, len(columns))
		blank := true
		for colIdx, key := range keys {
			if key == "" || colIdx >= len(row) {
				continue
			}
			v := strings.TrimSpace(row[colIdx])
			values[key] = v
			if v != "" {
				blank = false
			}
		}
		if blank {
			continue
		}
		result.TotalRows++

		item, rowErrors := parseItemRow(calc, rowNum, values, columns)
		if len(rowErrors) > 0 {
			result.Errors = append(result.Errors, rowErrors...)
			result.ErrorRows++
			continue
		}
		result.Items = append(result.Items, item)
	}
	result.ValidRows = len(result.Items)
	return result, nil
}

func parseItemRow(calc Calculator, rowNum int, values map[string]string, columns []ImportColumn) (ImportedItem, []ValidationError) {
	var errs []ValidationError
	label := make(map[string]string, len(columns))
	for _, c := range columns {
		label[c.Key] = c.Label
		if c.Required && values[c.Key] == "" {
			errs = append(errs, ValidationError{Row: rowNum, Field: c.Label, Message: fmt.Sprintf("%s обязательно", c.Label)})
		}
	}
	if len(errs) > 0 {
		return ImportedItem{}, errs
	}

	number := func(key string) decimal.Decimal {
		raw := values[key]
		if raw == "" {
			return decimal.Zero
		}
		d, err := ParseDecimal(raw)
		if err != nil {
			errs = append(errs, ValidationError{Row: rowNum, Field: label[key], Message: fmt.Sprintf("%q не является числом", raw)})
		}
		return d
	}
	optional := func(key string) decimal.NullDecimal {
		if values[key] == "" {
			return decimal.NullDecimal{}
		}
		return decimal.NewNullDecimal(number(key))
	}

	item := ImportedItem{
		Row:                    rowNum,
		Kind:                   ItemKind(values["kind"]),
		Name:                   values["name"],
		Unit:                   values["unit"],
		Quantity:               number("quantity"),
		UnitRate:               number("unit_rate"),
		Currency:               Currency(strings.ToUpper(values["currency"])),
		CurrencyRate:           number("currency_rate"),
		DeliveryPolicy:         DeliveryPolicy(values["delivery_policy"]),
		DeliveryAmount:         number("delivery_amount"),
		ConsumptionCoefficient: optional("consumption_coefficient"),
		ConversionCoefficient:  optional("conversion_coefficient"),
		MaterialRef:            values["material_ref"],
		DetailCostCategory:     values["detail_cost_category"],
	}
	if len(errs) > 0 {
		return ImportedItem{}, errs
	}

	if !item.Kind.Valid() {
		errs = append(errs, ValidationError{Row: rowNum, Field: label["kind"], Message: fmt.Sprintf("неизвестный тип %q", values["kind"])})
		return ImportedItem{}, errs
	}
	if err := calc.Validate(item.PriceInput()); err != nil {
		errs = append(errs, ValidationError{Row: rowNum, Message: err.Error()})
	}
	if item.Kind.IsMaterial() {
		if _, err := NormalizeCoefficients(item.ConsumptionCoefficient, item.ConversionCoefficient); err != nil {
			errs = append(errs, ValidationError{Row: rowNum, Message: err.Error()})
		}
	} else if item.ConsumptionCoefficient.Valid || item.ConversionCoefficient.Valid {
		errs = append(errs, ValidationError{Row: rowNum, Message: "коэффициенты задаются только для материалов"})
	}
	if len(errs) > 0 {
		return ImportedItem{}, errs
	}
	return item, nil
}

// ParseDecimal parses a decimal written with either a dot or a comma and
// optional spaces between digit groups.
func ParseDecimal(raw string) (decimal.Decimal, error) {
	s := strings.NewReplacer(" ", "", "\u00a0", "", ",", ".").Replace(strings.TrimSpace(raw))
	return decimal.NewFromString(s)
}

// GenerateItemTemplate creates a downloadable .xlsx template for item import.
func GenerateItemTemplate() ([]byte, error) {
	columns := ItemImportColumns()

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Позиции"
	f.SetSheetName(f.GetSheetName(0), sheetName)

	requiredHeaderStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "#FFFFFF", Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#1D4ED8"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
		Border:    thinBorders(),
	})
	optionalHeaderStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "#FFFFFF", Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#6B7280"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
		Border:    thinBorders(),
	})

	for i, c := range columns {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"

		header := c.Label
		style := optionalHeaderStyle
		if c.Required {
			header += " *"
			style = requiredHeaderStyle
		}
		f.SetCellValue(sheetName, cell, header)
		f.SetCellStyle(sheetName, cell, cell, style)
		f.SetColWidth(sheetName, col, col, max(float64(len([]rune(c.Label)))*1.3, 15))

		var options []string
		switch c.Key {
		case "kind":
			options = stringsOf(ItemKindOptions)
		case "currency":
			options = stringsOf(CurrencyOptions)
		case "delivery_policy":
			options = stringsOf(DeliveryPolicyOptions)
		case "unit":
			options = UnitOptions
		}
		if options != nil {
			dv := excelize.NewDataValidation(true)
			dv.Sqref = fmt.Sprintf("%s2:%s1048576", col, col)
			dv.SetDropList(options)
			f.AddDataValidation(sheetName, dv)
		}
	}

	f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})

	addInstructionsSheet(f, columns)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel template: %w", err)
	}
	return buf.Bytes(), nil
}

// addInstructionsSheet creates a hidden sheet with column descriptions.
func addInstructionsSheet(f *excelize.File, columns []ImportColumn) {
	sheet := "Инструкция"
	f.NewSheet(sheet)

	titleStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}})
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E5E7EB"}, Pattern: 1},
	})

	f.SetCellValue(sheet, "A1", "Импорт работ и материалов")
	f.SetCellStyle(sheet, "A1", "A1", titleStyle)

	for i, h := range []string{"Колонка", "Обязательная", "Формат", "Пример"} {
		cell, _ := excelize.CoordinatesToCellName(i+1, 3)
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, headerStyle)
	}
	for i, c := range columns {
		required := "Нет"
		if c.Required {
			required = "Да"
		}
		for j, v := range []string{c.Label, required, c.FormatRule, c.Example} {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+4)
			f.SetCellValue(sheet, cell, v)
		}
	}
	for i, w := range []float64{20, 14, 45, 25} {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, w)
	}
	f.SetSheetVisible(sheet, false)
}

// GenerateErrorReport creates a downloadable .xlsx file from validation errors.
func GenerateErrorReport(errors []ValidationError) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Ошибки"
	f.SetSheetName(f.GetSheetName(0), sheet)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "#FFFFFF", Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DC2626"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
		Border:    thinBorders(),
	})

	f.SetCellValue(sheet, "A1", "Строка")
	f.SetCellValue(sheet, "B1", "Колонка")
	f.SetCellValue(sheet, "C1", "Ошибка")
	f.SetCellStyle(sheet, "A1", "C1", headerStyle)
	f.SetColWidth(sheet, "A", "A", 8)
	f.SetColWidth(sheet, "B", "B", 22)
	f.SetColWidth(sheet, "C", "C", 55)

	for i, e := range errors {
		row := fmt.Sprintf("%d", i+2)
		f.SetCellValue(sheet, "A"+row, e.Row)
		f.SetCellValue(sheet, "B"+row, e.Field)
		f.SetCellValue(sheet, "C"+row, e.Message)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write error report: %w", err)
	}
	return buf.Bytes(), nil
}

func stringsOf[T ~string](vals []T) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = string(v)
	}
	return out
}
