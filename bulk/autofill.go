package bulk

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/curatio/indicator-engine/indicator"
)

// AutoFillResult counts the backfill outcome per record.
type AutoFillResult struct {
	Updated int
	Failed  int
	Skipped int
}

// AutoFill backfills empty reference periods directly in the store: every
// record matching the filter that has a due date and a real recurrence
// gets ReferencePeriod(due, unit, interval) written. Records the rule
// cannot compute are skipped; write failures are counted and do not stop
// the loop.
//
// This is the standalone sibling of the export-time pre-fill: the export
// only fills cells in the workbook, this one persists.
func AutoFill(ctx context.Context, store indicator.Store, f indicator.Filter, notify indicator.Notifier, log zerolog.Logger) (AutoFillResult, error) {
	if notify == nil {
		notify = indicator.NopNotifier{}
	}
	f.EmptyReferencePeriod = true

	records, err := store.List(ctx, f)
	if err != nil {
		return AutoFillResult{}, fmt.Errorf("list records for auto-fill: %w", err)
	}

	var result AutoFillResult
	for _, rec := range records {
		ref, ok := indicator.ReferencePeriod(rec.CurrentDueDate, rec.Recurrence.Unit, rec.Recurrence.Interval)
		if !ok {
			result.Skipped++
			continue
		}
		if err := store.SetReferencePeriod(ctx, rec.ID, ref); err != nil {
			result.Failed++
			log.Error().Err(err).Int64("id", rec.ID).Msg("auto-fill row failed")
			continue
		}
		result.Updated++
	}

	if result.Updated > 0 {
		notify.Success(fmt.Sprintf("%d reference period(s) filled automatically", result.Updated))
	}
	if result.Failed > 0 {
		notify.Error(fmt.Sprintf("%d record(s) failed to update", result.Failed))
	}
	return result, nil
}
