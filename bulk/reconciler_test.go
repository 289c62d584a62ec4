package bulk_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/curatio/indicator-engine/bulk"
	"github.com/curatio/indicator-engine/indicator"
	"github.com/curatio/indicator-engine/indicator/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func testResolver() bulk.MapResolver {
	return bulk.MapResolver{
		Projects:   map[int64]string{7: "Harbor Expansion"},
		Categories: map[int64]string{3: "Compliance"},
		Types:      map[int64]string{1: "Goal", 2: "Actual"},
		UnitTypes:  map[int64]string{2: "Percent"},
	}
}

func seedRecord(mem *store.Memory, id int64, due indicator.Date) indicator.Record {
	rec := indicator.Record{
		ID:             id,
		ProjectID:      7,
		CategoryID:     3,
		TypeID:         1,
		UnitTypeID:     2,
		Name:           "Delivery volume",
		Description:    "Monthly delivered units",
		CurrentDueDate: due,
		Recurrence:     indicator.Recurrence{Unit: indicator.UnitMonth, Interval: 1},
		Visible:        true,
	}
	mem.Seed(rec)
	return rec
}

func newRun(mem *store.Memory) *bulk.Reconciler {
	return bulk.New(mem, testResolver(), indicator.NopNotifier{}, zerolog.Nop())
}

// editWorkbook opens exported bytes, applies mutate, and reserializes.
func editWorkbook(t *testing.T, data []byte, mutate func(f *excelize.File)) []byte {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	mutate(f)

	var buf bytes.Buffer
	_, err = f.WriteTo(&buf)
	require.NoError(t, err)
	return buf.Bytes()
}

// =============================================================================
// EXPORT PHASE
// =============================================================================

func TestExport_AutoFillReferencePeriod(t *testing.T) {
	// GIVEN: Due 2024-03-15, every 2 months, empty reference period
	// WHEN: Exporting with auto-fill on
	// THEN: The exported cell holds 2024-01-15 and the count reports it

	mem := store.NewMemory()
	rec := seedRecord(mem, 1, indicator.NewDate(2024, time.March, 15))
	rec.Recurrence = indicator.Recurrence{Unit: indicator.UnitMonth, Interval: 2}
	mem.Seed(rec)

	res, err := newRun(mem).Export(context.Background(), indicator.Filter{}, bulk.ExportOptions{AutoFillReferencePeriod: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowCount)
	assert.Equal(t, 1, res.AutoFilled)

	f, err := excelize.OpenReader(bytes.NewReader(res.Workbook))
	require.NoError(t, err)
	defer f.Close()

	got, err := f.GetCellValue("Indicators", "J2")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-15", got)

	// The store itself is untouched by export-time auto-fill.
	stored, _ := mem.Get(context.Background(), 1)
	assert.True(t, stored.ReferencePeriod.IsZero())
}

func TestExport_EmptyInput_HeaderOnly(t *testing.T) {
	mem := store.NewMemory()
	res, err := newRun(mem).Export(context.Background(), indicator.Filter{}, bulk.ExportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.RowCount)
	assert.NotEmpty(t, res.Workbook)

	f, err := excelize.OpenReader(bytes.NewReader(res.Workbook))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Indicators")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, "ID (DO NOT EDIT)", rows[0][0])
}

func TestExport_ResolvesDisplayNames(t *testing.T) {
	mem := store.NewMemory()
	seedRecord(mem, 1, indicator.NewDate(2024, time.March, 15))

	res, err := newRun(mem).Export(context.Background(), indicator.Filter{}, bulk.ExportOptions{})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(res.Workbook))
	require.NoError(t, err)
	defer f.Close()

	project, _ := f.GetCellValue("Indicators", "B2")
	category, _ := f.GetCellValue("Indicators", "C2")
	unitType, _ := f.GetCellValue("Indicators", "G2")
	assert.Equal(t, "Harbor Expansion", project)
	assert.Equal(t, "Compliance", category)
	assert.Equal(t, "Percent", unitType)
}

// =============================================================================
// PARSE PHASE
// =============================================================================

func TestParse_FailClosedOnBadValue(t *testing.T) {
	// GIVEN: An exported workbook where one presented value is "abc"
	// WHEN: Parsing
	// THEN: The error names the row and field and zero patches survive

	mem := store.NewMemory()
	seedRecord(mem, 1, indicator.NewDate(2024, time.March, 15))
	seedRecord(mem, 2, indicator.NewDate(2024, time.April, 15))

	run := newRun(mem)
	res, err := run.Export(context.Background(), indicator.Filter{}, bulk.ExportOptions{})
	require.NoError(t, err)

	edited := editWorkbook(t, res.Workbook, func(f *excelize.File) {
		f.SetCellValue("Indicators", "K3", "abc")
	})

	parsed, err := run.Parse(context.Background(), edited)
	require.NoError(t, err)
	assert.Equal(t, 0, parsed.ValidRows)
	require.Len(t, parsed.Errors, 1)
	assert.Equal(t, 3, parsed.Errors[0].Row)
	assert.Equal(t, "presented_value", parsed.Errors[0].Field)

	// The workflow loops back for a corrected upload.
	assert.Equal(t, bulk.StateAwaitingUpload, run.State())

	fixed := editWorkbook(t, res.Workbook, func(f *excelize.File) {
		f.SetCellValue("Indicators", "K3", "12.5")
	})
	parsed, err = run.Parse(context.Background(), fixed)
	require.NoError(t, err)
	assert.Empty(t, parsed.Errors)
	assert.Equal(t, 2, parsed.ValidRows)
	assert.Equal(t, bulk.StateReadyToApply, run.State())
}

func TestParse_RejectsUnknownAndMissingIDs(t *testing.T) {
	mem := store.NewMemory()
	seedRecord(mem, 1, indicator.NewDate(2024, time.March, 15))

	run := newRun(mem)
	res, err := run.Export(context.Background(), indicator.Filter{}, bulk.ExportOptions{})
	require.NoError(t, err)

	edited := editWorkbook(t, res.Workbook, func(f *excelize.File) {
		// A row invented by the uploader, never part of the export.
		f.SetCellValue("Indicators", "A3", 999)
		f.SetCellValue("Indicators", "E3", "Invented row")
	})

	parsed, err := run.Parse(context.Background(), edited)
	require.NoError(t, err)
	assert.Equal(t, 0, parsed.ValidRows)
	require.Len(t, parsed.Errors, 1)
	assert.Equal(t, bulk.FieldID, parsed.Errors[0].Field)
	assert.Contains(t, parsed.Errors[0].Reason, "snapshot")
}

func TestParse_AcceptsNativeDateCells(t *testing.T) {
	// GIVEN: A due-date cell written as a real date value, not text
	// WHEN: Parsing
	// THEN: The cell converts to its YYYY-MM-DD literal

	mem := store.NewMemory()
	seedRecord(mem, 1, indicator.NewDate(2024, time.March, 15))

	run := newRun(mem)
	res, err := run.Export(context.Background(), indicator.Filter{}, bulk.ExportOptions{})
	require.NoError(t, err)

	edited := editWorkbook(t, res.Workbook, func(f *excelize.File) {
		f.SetCellValue("Indicators", "I2", time.Date(2024, time.June, 30, 0, 0, 0, 0, time.UTC))
	})

	parsed, err := run.Parse(context.Background(), edited)
	require.NoError(t, err)
	require.Equal(t, 1, parsed.ValidRows)

	_, err = run.Apply(context.Background())
	require.NoError(t, err)

	stored, _ := mem.Get(context.Background(), 1)
	assert.Equal(t, "2024-06-30", stored.CurrentDueDate.String())
}

func TestParse_MandatoryBooleanRules(t *testing.T) {
	mem := store.NewMemory()
	seedRecord(mem, 1, indicator.NewDate(2024, time.March, 15))

	run := newRun(mem)
	res, err := run.Export(context.Background(), indicator.Filter{}, bulk.ExportOptions{})
	require.NoError(t, err)

	edited := editWorkbook(t, res.Workbook, func(f *excelize.File) {
		f.SetCellValue("Indicators", "L2", "  TRUE ")
	})
	parsed, err := run.Parse(context.Background(), edited)
	require.NoError(t, err)
	assert.Equal(t, 1, parsed.ValidRows)

	run2 := newRun(mem)
	res2, err := run2.Export(context.Background(), indicator.Filter{}, bulk.ExportOptions{})
	require.NoError(t, err)
	bad := editWorkbook(t, res2.Workbook, func(f *excelize.File) {
		f.SetCellValue("Indicators", "L2", "yes")
	})
	parsed, err = run2.Parse(context.Background(), bad)
	require.NoError(t, err)
	require.Len(t, parsed.Errors, 1)
	assert.Equal(t, "mandatory", parsed.Errors[0].Field)
}

// =============================================================================
// APPLY PHASE
// =============================================================================

func TestApply_PartialFailureTolerant(t *testing.T) {
	// GIVEN: 5 validated patches, row 3's store update fails
	// WHEN: Applying
	// THEN: {success:4, failure:1}; rows 1,2,4,5 mutated, row 3 unchanged

	mem := store.NewMemory()
	for i := int64(1); i <= 5; i++ {
		seedRecord(mem, i, indicator.NewDate(2024, time.March, 15))
	}
	mem.FailUpdateIDs = map[int64]bool{3: true}

	run := newRun(mem)
	res, err := run.Export(context.Background(), indicator.Filter{}, bulk.ExportOptions{})
	require.NoError(t, err)

	edited := editWorkbook(t, res.Workbook, func(f *excelize.File) {
		for _, cell := range []string{"H2", "H3", "H4", "H5", "H6"} {
			f.SetCellValue("Indicators", cell, "reviewed offline")
		}
	})
	parsed, err := run.Parse(context.Background(), edited)
	require.NoError(t, err)
	require.Equal(t, 5, parsed.ValidRows)

	applied, err := run.Apply(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, applied.SuccessCount)
	assert.Equal(t, 1, applied.FailureCount)
	require.Len(t, applied.Failures, 1)
	assert.Equal(t, int64(3), applied.Failures[0].ID)
	assert.Equal(t, bulk.StateDone, run.State())

	for i := int64(1); i <= 5; i++ {
		stored, _ := mem.Get(context.Background(), i)
		if i == 3 {
			assert.Empty(t, stored.Observation, "failed row must be unchanged")
		} else {
			assert.Equal(t, "reviewed offline", stored.Observation)
		}
	}
}

func TestApply_EmptyCellsClearToNull(t *testing.T) {
	// GIVEN: A record with a stored presented value and reference period
	// WHEN: Applying a patch whose cells for those fields are empty
	// THEN: The stored fields are cleared, not left untouched

	mem := store.NewMemory()
	rec := seedRecord(mem, 1, indicator.NewDate(2024, time.March, 15))
	rec.PresentedValue = decimal.NullDecimal{Decimal: decimal.NewFromInt(42), Valid: true}
	rec.ReferencePeriod = indicator.NewDate(2024, time.February, 15)
	mem.Seed(rec)

	run := newRun(mem)
	res, err := run.Export(context.Background(), indicator.Filter{}, bulk.ExportOptions{})
	require.NoError(t, err)

	edited := editWorkbook(t, res.Workbook, func(f *excelize.File) {
		f.SetCellValue("Indicators", "J2", "")
		f.SetCellValue("Indicators", "K2", "")
	})
	_, err = run.Parse(context.Background(), edited)
	require.NoError(t, err)
	_, err = run.Apply(context.Background())
	require.NoError(t, err)

	stored, _ := mem.Get(context.Background(), 1)
	assert.False(t, stored.PresentedValue.Valid)
	assert.True(t, stored.ReferencePeriod.IsZero())
}

func TestApply_Idempotent(t *testing.T) {
	// GIVEN: The same edited workbook applied through two separate runs
	// WHEN: Applying twice
	// THEN: The stored state after the second apply equals the first

	mem := store.NewMemory()
	seedRecord(mem, 1, indicator.NewDate(2024, time.March, 15))

	apply := func() indicator.Record {
		run := newRun(mem)
		res, err := run.Export(context.Background(), indicator.Filter{}, bulk.ExportOptions{})
		require.NoError(t, err)
		edited := editWorkbook(t, res.Workbook, func(f *excelize.File) {
			f.SetCellValue("Indicators", "H2", "same patch")
			f.SetCellValue("Indicators", "K2", "99.9")
		})
		_, err = run.Parse(context.Background(), edited)
		require.NoError(t, err)
		_, err = run.Apply(context.Background())
		require.NoError(t, err)
		stored, _ := mem.Get(context.Background(), 1)
		return *stored
	}

	first := apply()
	second := apply()
	assert.Equal(t, first, second)
}

// =============================================================================
// STATE MACHINE
// =============================================================================

func TestWorkflow_IllegalTransitions(t *testing.T) {
	mem := store.NewMemory()
	seedRecord(mem, 1, indicator.NewDate(2024, time.March, 15))

	run := newRun(mem)
	_, err := run.Apply(context.Background())
	assert.ErrorIs(t, err, bulk.ErrInvalidTransition)

	_, err = run.Parse(context.Background(), nil)
	assert.ErrorIs(t, err, bulk.ErrInvalidTransition)

	run.Cancel()
	assert.Equal(t, bulk.StateCancelled, run.State())

	_, err = run.Export(context.Background(), indicator.Filter{}, bulk.ExportOptions{})
	assert.ErrorIs(t, err, bulk.ErrInvalidTransition)
}

// =============================================================================
// AUTO-FILL (persisting variant)
// =============================================================================

func TestAutoFill_PersistsComputedPeriods(t *testing.T) {
	mem := store.NewMemory()
	seedRecord(mem, 1, indicator.NewDate(2024, time.March, 15))

	// No recurrence: skipped, not failed.
	noRule := seedRecord(mem, 2, indicator.NewDate(2024, time.March, 20))
	noRule.Recurrence = indicator.Recurrence{Unit: indicator.UnitNone}
	mem.Seed(noRule)

	// Already has a reference period: not selected at all.
	done := seedRecord(mem, 3, indicator.NewDate(2024, time.March, 25))
	done.ReferencePeriod = indicator.NewDate(2024, time.February, 25)
	mem.Seed(done)

	res, err := bulk.AutoFill(context.Background(), mem, indicator.Filter{}, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.Failed)

	stored, _ := mem.Get(context.Background(), 1)
	assert.Equal(t, "2024-02-15", stored.ReferencePeriod.String())
	untouched, _ := mem.Get(context.Background(), 3)
	assert.Equal(t, "2024-02-25", untouched.ReferencePeriod.String())
}
