package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/lanewise-ai/lanewise-engine/pkg/apperrors"
	"github.com/lanewise-ai/lanewise-engine/pkg/models"
)

// PeriodWindow is a resolved half-open time window [Start, End). Zero bounds
// mean unbounded on that side ("all" resolves to two zero bounds).
type PeriodWindow struct {
	Preset string
	Start  time.Time
	End    time.Time
}

// Length returns the window duration, or 0 when either bound is open.
func (w PeriodWindow) Length() time.Duration {
	if w.Start.IsZero() || w.End.IsZero() {
		return 0
	}
	return w.End.Sub(w.Start)
}

// ShiftBack returns the adjacent earlier window of the same length. Open
// windows shift to themselves.
func (w PeriodWindow) ShiftBack() PeriodWindow {
	length := w.Length()
	if length == 0 {
		return w
	}
	return PeriodWindow{Preset: w.Preset, Start: w.Start.Add(-length), End: w.Start}
}

// customPrefix marks explicit date-range strings: "custom:2025-01-01:2025-03-31".
const customPrefix = "custom:"

// ResolvePeriod turns a preset name into a concrete window relative to now.
// Presets resolve at execution time, so the same report definition yields a
// moving window when re-run.
func ResolvePeriod(preset string, now time.Time) (PeriodWindow, error) {
	if strings.HasPrefix(preset, customPrefix) {
		return resolveCustom(preset, now)
	}

	switch preset {
	case models.PeriodLast7:
		return PeriodWindow{Preset: preset, Start: now.AddDate(0, 0, -7), End: now}, nil
	case models.PeriodLast30:
		return PeriodWindow{Preset: preset, Start: now.AddDate(0, 0, -30), End: now}, nil
	case models.PeriodLast90:
		return PeriodWindow{Preset: preset, Start: now.AddDate(0, 0, -90), End: now}, nil
	case models.PeriodLast6Month:
		return PeriodWindow{Preset: preset, Start: now.AddDate(0, -6, 0), End: now}, nil
	case models.PeriodYTD:
		start := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())
		return PeriodWindow{Preset: preset, Start: start, End: now}, nil
	case models.PeriodLastYear:
		start := time.Date(now.Year()-1, 1, 1, 0, 0, 0, 0, now.Location())
		end := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())
		return PeriodWindow{Preset: preset, Start: start, End: end}, nil
	case models.PeriodAll:
		return PeriodWindow{Preset: preset}, nil
	}

	return PeriodWindow{}, fmt.Errorf("%w: %q (valid: %s, or custom:YYYY-MM-DD:YYYY-MM-DD)",
		apperrors.ErrInvalidPeriod, preset, strings.Join(models.ValidPeriodPresets, ", "))
}

// ResolveComparisonPeriods resolves the two windows of a period comparison.
// When both presets are the same, the baseline shifts back by one window
// length so "compare last30 to last30" means this month against the month
// before, not a window against itself.
func ResolveComparisonPeriods(baseline, current string, now time.Time) (PeriodWindow, PeriodWindow, error) {
	currentWindow, err := ResolvePeriod(current, now)
	if err != nil {
		return PeriodWindow{}, PeriodWindow{}, err
	}
	baselineWindow, err := ResolvePeriod(baseline, now)
	if err != nil {
		return PeriodWindow{}, PeriodWindow{}, err
	}
	if baseline == current {
		baselineWindow = currentWindow.ShiftBack()
	}
	return baselineWindow, currentWindow, nil
}

// ResolveDateRange converts a report DateRange into a concrete window.
func ResolveDateRange(dr models.DateRange, now time.Time) (PeriodWindow, error) {
	if dr.Type == models.PeriodCustom {
		return resolveCustomBounds(dr.Start, dr.End, now)
	}
	return ResolvePeriod(dr.Type, now)
}

// ParseDateRangeArg parses the date_range tool argument: a preset name or
// "custom:start:end". Empty input defaults to last30.
func ParseDateRangeArg(arg string) (models.DateRange, error) {
	if arg == "" {
		return models.DateRange{Type: models.PeriodLast30}, nil
	}
	if strings.HasPrefix(arg, customPrefix) {
		parts := strings.Split(arg, ":")
		if len(parts) != 3 {
			return models.DateRange{}, fmt.Errorf("%w: custom range must be custom:YYYY-MM-DD:YYYY-MM-DD", apperrors.ErrInvalidPeriod)
		}
		if _, err := time.Parse("2006-01-02", parts[1]); err != nil {
			return models.DateRange{}, fmt.Errorf("%w: bad start date %q", apperrors.ErrInvalidPeriod, parts[1])
		}
		if _, err := time.Parse("2006-01-02", parts[2]); err != nil {
			return models.DateRange{}, fmt.Errorf("%w: bad end date %q", apperrors.ErrInvalidPeriod, parts[2])
		}
		return models.DateRange{Type: models.PeriodCustom, Start: parts[1], End: parts[2]}, nil
	}
	for _, preset := range models.ValidPeriodPresets {
		if arg == preset {
			return models.DateRange{Type: preset}, nil
		}
	}
	return models.DateRange{}, fmt.Errorf("%w: %q", apperrors.ErrInvalidPeriod, arg)
}

func resolveCustom(preset string, now time.Time) (PeriodWindow, error) {
	parts := strings.Split(preset, ":")
	if len(parts) != 3 {
		return PeriodWindow{}, fmt.Errorf("%w: custom range must be custom:YYYY-MM-DD:YYYY-MM-DD", apperrors.ErrInvalidPeriod)
	}
	return resolveCustomBounds(parts[1], parts[2], now)
}

func resolveCustomBounds(startStr, endStr string, now time.Time) (PeriodWindow, error) {
	start, err := time.Parse("2006-01-02", startStr)
	if err != nil {
		return PeriodWindow{}, fmt.Errorf("%w: bad start date %q", apperrors.ErrInvalidPeriod, startStr)
	}
	end, err := time.Parse("2006-01-02", endStr)
	if err != nil {
		return PeriodWindow{}, fmt.Errorf("%w: bad end date %q", apperrors.ErrInvalidPeriod, endStr)
	}
	// End date is inclusive, so start == end is a one-day window.
	if end.Before(start) {
		return PeriodWindow{}, fmt.Errorf("%w: end %s is before start %s", apperrors.ErrInvalidPeriod, endStr, startStr)
	}
	// End date is inclusive in user terms; the window is half-open
	return PeriodWindow{Preset: models.PeriodCustom, Start: start, End: end.AddDate(0, 0, 1)}, nil
}
