/*
workbook.go - Spreadsheet encoding and decoding for the bulk workflow

PURPOSE:
  The bulk workflow's one bit-exact external surface: an xlsx workbook
  with a single header row followed by one data row per record. Column
  order and header labels are fixed; read-only columns are visually
  distinguished but parsing never trusts that - it reads the declared
  editable columns by position and nothing else.

LAYOUT:
  Columns 1-7 are read-only (id plus display names the caller resolved
  from foreign keys); columns 8-12 are editable. A second INSTRUCTIONS
  sheet explains the rules to the person editing offline; it is cosmetic
  and ignored on re-import.
*/
package bulk

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/curatio/indicator-engine/indicator"
)

const (
	dataSheet         = "Indicators"
	instructionsSheet = "INSTRUCTIONS"
)

// Fixed column positions (1-based). Parse reads editable cells by these
// positions regardless of what the uploaded file claims in its header.
const (
	colID = iota + 1
	colProject
	colCategory
	colType
	colName
	colDescription
	colUnitType
	colObservation
	colDueDate
	colReferencePeriod
	colPresentedValue
	colMandatory
)

var headerLabels = []string{
	"ID (DO NOT EDIT)",
	"Project (DO NOT EDIT)",
	"Category (DO NOT EDIT)",
	"Indicator Type (DO NOT EDIT)",
	"Indicator (DO NOT EDIT)",
	"Description (DO NOT EDIT)",
	"Unit Type (DO NOT EDIT)",
	"Observation",
	"Current Due Date (YYYY-MM-DD)",
	"Reference Period (YYYY-MM-DD)",
	"Presented Value",
	"Mandatory (true/false)",
}

var columnWidths = []float64{14, 25, 25, 22, 40, 40, 18, 40, 26, 26, 18, 20}

// exportRow is one encoded data row with display names already resolved.
type exportRow struct {
	ID              int64
	Project         string
	Category        string
	Type            string
	Name            string
	Description     string
	UnitType        string
	Observation     string
	CurrentDueDate  indicator.Date
	ReferencePeriod indicator.Date
	PresentedValue  string
	Mandatory       bool
}

// encodeWorkbook writes the snapshot rows into an xlsx workbook. Empty
// input produces a header-only sheet, which is valid output.
func encodeWorkbook(rows []exportRow) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(dataSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create data sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}
	readOnlyStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#F2F2F2"}, Pattern: 1},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create read-only style: %w", err)
	}

	for col, label := range headerLabels {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("header coordinates: %w", err)
		}
		if err := f.SetCellValue(dataSheet, cell, label); err != nil {
			f.Close()
			return nil, fmt.Errorf("write header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(dataSheet, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("style header cell %s: %w", cell, err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("column name: %w", err)
		}
		if err := f.SetColWidth(dataSheet, name, name, columnWidths[col]); err != nil {
			f.Close()
			return nil, fmt.Errorf("column width: %w", err)
		}
	}

	for i, row := range rows {
		rowNum := i + 2
		values := []any{
			row.ID,
			row.Project,
			row.Category,
			row.Type,
			row.Name,
			row.Description,
			row.UnitType,
			row.Observation,
			row.CurrentDueDate.String(),
			row.ReferencePeriod.String(),
			row.PresentedValue,
			strconv.FormatBool(row.Mandatory),
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, rowNum)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("cell coordinates: %w", err)
			}
			if err := f.SetCellValue(dataSheet, cell, v); err != nil {
				f.Close()
				return nil, fmt.Errorf("write cell %s: %w", cell, err)
			}
		}
		// Grey out the read-only span. Cosmetic only; parse ignores it.
		start, _ := excelize.CoordinatesToCellName(colID, rowNum)
		end, _ := excelize.CoordinatesToCellName(colUnitType, rowNum)
		if err := f.SetCellStyle(dataSheet, start, end, readOnlyStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("style read-only cells: %w", err)
		}
	}

	if err := f.SetPanes(dataSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	if err := writeInstructions(f); err != nil {
		f.Close()
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeInstructions(f *excelize.File) error {
	if _, err := f.NewSheet(instructionsSheet); err != nil {
		return fmt.Errorf("create instructions sheet: %w", err)
	}
	lines := []string{
		"BULK UPDATE INSTRUCTIONS",
		"",
		"1. Do not edit columns marked DO NOT EDIT, and never change the ID column.",
		"2. Dates must use the YYYY-MM-DD format (or a real date cell).",
		"3. Presented Value must be a number; leave it empty to clear the stored value.",
		"4. Mandatory must be the word true or false; empty counts as false.",
		"5. Do not add or remove columns. Added rows are rejected on upload.",
		"6. When done, upload this same file back in the bulk update dialog.",
	}
	for i, line := range lines {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("instruction coordinates: %w", err)
		}
		if err := f.SetCellValue(instructionsSheet, cell, line); err != nil {
			return fmt.Errorf("write instruction: %w", err)
		}
	}
	if err := f.SetColWidth(instructionsSheet, "A", "A", 90); err != nil {
		return fmt.Errorf("instruction width: %w", err)
	}
	return nil
}

// readDataRows opens an uploaded workbook and returns the raw cell values
// of the data sheet, header row included. Raw values keep date cells as
// Excel serial numbers instead of locale-formatted strings.
func readDataRows(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	idx, err := f.GetSheetIndex(dataSheet)
	if err != nil || idx < 0 {
		return nil, ErrSheetNotFound
	}

	rows, err := f.GetRows(dataSheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return rows, nil
}

// cellAt returns the raw value of a 1-based column in a row slice, or ""
// when the row is ragged (trailing empty cells are omitted by the reader).
func cellAt(row []string, col int) string {
	if col-1 < len(row) {
		return row[col-1]
	}
	return ""
}

// parseDateCell accepts a YYYY-MM-DD literal or a native date cell (an
// Excel serial number in raw mode). Anything else is a validation failure.
func parseDateCell(raw string) (indicator.Date, error) {
	if raw == "" {
		return indicator.Date{}, nil
	}
	if d, err := indicator.ParseDate(raw); err == nil {
		return d, nil
	}
	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return indicator.Date{}, fmt.Errorf("invalid date cell %q", raw)
		}
		return indicator.DateOf(t), nil
	}
	return indicator.Date{}, fmt.Errorf("must be YYYY-MM-DD, got %q", raw)
}
