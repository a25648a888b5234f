package models

import "strings"

// TimeRange is the chart window requested by the UI
type TimeRange string

const (
	Range1D  TimeRange = "1D"
	Range7D  TimeRange = "7D"
	Range1M  TimeRange = "1M"
	Range3M  TimeRange = "3M"
	Range6M  TimeRange = "6M"
	Range1Y  TimeRange = "1Y"
	RangeAll TimeRange = "All"
)

// DefaultTimeRange is used when the caller does not ask for one
const DefaultTimeRange = Range6M

// AllTimeRanges returns the ranges ordered from shortest to longest
func AllTimeRanges() []TimeRange {
	return []TimeRange{Range1D, Range7D, Range1M, Range3M, Range6M, Range1Y, RangeAll}
}

// ParseTimeRange normalizes user input; unknown values map to the default
func ParseTimeRange(s string) TimeRange {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "1D":
		return Range1D
	case "7D", "1W":
		return Range7D
	case "1M":
		return Range1M
	case "3M":
		return Range3M
	case "6M":
		return Range6M
	case "1Y":
		return Range1Y
	case "ALL", "MAX":
		return RangeAll
	default:
		return DefaultTimeRange
	}
}

// APIRange maps the range onto the pricing API's range parameter.
// The API has no intraday window, so 1D asks for the shortest one.
func (r TimeRange) APIRange() string {
	switch r {
	case Range7D:
		return "7d"
	case Range1M:
		return "1m"
	case Range3M:
		return "3m"
	case Range6M:
		return "6m"
	case Range1Y:
		return "1y"
	case RangeAll:
		return "all"
	default:
		return "7d"
	}
}

// LookbackDays is how far back the archive store looks for the range.
// Windows are padded a few days so sparse daily archives still fill the chart.
// Zero means unbounded.
func (r TimeRange) LookbackDays() int {
	switch r {
	case Range1D:
		return 2
	case Range7D:
		return 7
	case Range1M:
		return 35
	case Range3M:
		return 95
	case Range6M:
		return 185
	case Range1Y:
		return 370
	default:
		return 0
	}
}

// StartDate returns the first date included in the range ending on today.
// ok is false for unbounded ranges.
func (r TimeRange) StartDate(today Date) (start Date, ok bool) {
	days := r.LookbackDays()
	if days == 0 {
		return Date{}, false
	}
	return today.AddDays(-days), true
}

// MaxPoints is the display point budget for the range. It never shrinks as
// the range grows.
func (r TimeRange) MaxPoints() int {
	switch r {
	case Range1D, Range7D, Range1M:
		return 24
	case Range3M:
		return 26
	case Range6M:
		return 28
	case Range1Y:
		return 30
	case RangeAll:
		return 36
	default:
		return 24
	}
}
