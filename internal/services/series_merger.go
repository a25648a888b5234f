package services

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/codyseavey/card-pricing/internal/models"
)

const (
	dayLabelLayout     = "Jan 2"
	dayYearLabelLayout = "Jan 2, 2006"
)

// dayLayout adds the year to day labels when first and last fall in
// different years, so labels stay unique across a year boundary
func dayLayout(first, last time.Time) string {
	if first.UTC().Year() != last.UTC().Year() {
		return dayYearLabelLayout
	}
	return dayLabelLayout
}

var hundred = decimal.NewFromInt(100)

// MergeSeries aligns the archive base series and the API enrichment series
// on date and resolves one value array per requested channel.
//
// Labels are the sorted union of every input date. For each date and channel
// the enrichment series are tried in order; only the raw channel falls back
// to the base series. Anything else is a null gap. The summary change comes
// from the first and last non-null raw values, whether or not raw was
// requested.
func MergeSeries(base []models.PricePoint, enrichments [][]models.HistoryRow, channels []models.Grade) models.ChartSeries {
	baseByDate := dedupPoints(base)
	enrichByDate := make([]map[models.Date]models.HistoryRow, 0, len(enrichments))
	for _, rows := range enrichments {
		enrichByDate = append(enrichByDate, dedupRows(rows))
	}

	dates := unionDates(baseByDate, enrichByDate)
	if len(dates) == 0 {
		return models.EmptyChartSeries()
	}

	resolve := func(ch models.Grade) []decimal.NullDecimal {
		values := make([]decimal.NullDecimal, len(dates))
		for i, d := range dates {
			values[i] = resolveValue(d, ch, baseByDate, enrichByDate)
		}
		return values
	}

	out := models.ChartSeries{
		Labels: make([]string, len(dates)),
		Dates:  make([]string, len(dates)),
		Series: []models.ChartDataset{},
	}
	layout := dayLayout(dates[0].Time, dates[len(dates)-1].Time)
	for i, d := range dates {
		out.Labels[i] = d.Format(layout)
		out.Dates[i] = d.String()
	}

	var raw []decimal.NullDecimal
	for _, ch := range normalizeChannels(channels) {
		values := resolve(ch)
		if ch == models.GradeRaw {
			raw = values
		}
		out.Series = append(out.Series, models.ChartDataset{
			Key:    ch,
			Label:  ch.Label(),
			Data:   values,
			Change: priceChange(values),
		})
	}
	if raw == nil {
		raw = resolve(models.GradeRaw)
	}

	summary := priceChange(raw)
	out.AbsoluteChange = summary.Absolute
	out.PercentageChange = summary.Percentage
	return out
}

func resolveValue(d models.Date, ch models.Grade, base map[models.Date]models.PricePoint, enrichments []map[models.Date]models.HistoryRow) decimal.NullDecimal {
	for _, rows := range enrichments {
		if row, ok := rows[d]; ok {
			if v, ok := row.Value(ch); ok {
				return decimal.NewNullDecimal(v)
			}
		}
	}
	if ch != models.GradeRaw {
		return decimal.NullDecimal{}
	}
	if p, ok := base[d]; ok && p.Price.IsPositive() {
		return decimal.NewNullDecimal(p.Price)
	}
	return decimal.NullDecimal{}
}

// dedupPoints keys points by date; the first record seen for a date wins
func dedupPoints(points []models.PricePoint) map[models.Date]models.PricePoint {
	byDate := make(map[models.Date]models.PricePoint, len(points))
	for _, p := range points {
		if p.Date.IsZero() {
			continue
		}
		if _, seen := byDate[p.Date]; !seen {
			byDate[p.Date] = p
		}
	}
	return byDate
}

// dedupRows keys history rows by date; the first row seen for a date wins
func dedupRows(rows []models.HistoryRow) map[models.Date]models.HistoryRow {
	byDate := make(map[models.Date]models.HistoryRow, len(rows))
	for _, r := range rows {
		if r.Date.IsZero() {
			continue
		}
		if _, seen := byDate[r.Date]; !seen {
			byDate[r.Date] = r
		}
	}
	return byDate
}

func unionDates(base map[models.Date]models.PricePoint, enrichments []map[models.Date]models.HistoryRow) []models.Date {
	seen := make(map[models.Date]struct{}, len(base))
	for d := range base {
		seen[d] = struct{}{}
	}
	for _, rows := range enrichments {
		for d := range rows {
			seen[d] = struct{}{}
		}
	}

	dates := make([]models.Date, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool {
		return dates[i].Before(dates[j].Time)
	})
	return dates
}

// normalizeChannels drops empty and duplicate channels, keeping order
func normalizeChannels(channels []models.Grade) []models.Grade {
	seen := make(map[models.Grade]bool, len(channels))
	out := make([]models.Grade, 0, len(channels))
	for _, ch := range channels {
		if ch == "" || ch == models.GradeAll || seen[ch] {
			continue
		}
		seen[ch] = true
		out = append(out, ch)
	}
	return out
}

// priceChange compares the first and last non-null values. Fewer than two
// values, or a non-positive first value for the percentage, yield zero.
func priceChange(values []decimal.NullDecimal) models.PriceChange {
	var first, last decimal.Decimal
	count := 0
	for _, v := range values {
		if !v.Valid {
			continue
		}
		if count == 0 {
			first = v.Decimal
		}
		last = v.Decimal
		count++
	}
	if count < 2 {
		return models.PriceChange{Absolute: decimal.Zero, Percentage: decimal.Zero}
	}

	abs := last.Sub(first)
	pct := decimal.Zero
	if first.IsPositive() {
		pct = abs.Div(first).Mul(hundred).Round(2)
	}
	return models.PriceChange{Absolute: abs, Percentage: pct}
}
