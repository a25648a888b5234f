package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codyseavey/card-pricing/internal/models"
)

func day(s string) models.Date {
	d, err := models.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func point(date, price string) models.PricePoint {
	return models.PricePoint{Date: day(date), Price: decimal.RequireFromString(price)}
}

func row(date string, prices map[models.Grade]string) models.HistoryRow {
	r := models.HistoryRow{Date: day(date), Prices: map[models.Grade]models.PriceBand{}}
	for g, v := range prices {
		r.Prices[g] = models.PriceBand{Market: decimal.NewNullDecimal(decimal.RequireFromString(v))}
	}
	return r
}

// values renders a dataset as strings with "null" for gaps
func values(t *testing.T, cs models.ChartSeries, g models.Grade) []string {
	t.Helper()
	ds, ok := cs.Dataset(g)
	require.True(t, ok, "missing dataset %s", g)
	out := make([]string, len(ds.Data))
	for i, v := range ds.Data {
		if !v.Valid {
			out[i] = "null"
			continue
		}
		out[i] = v.Decimal.StringFixed(2)
	}
	return out
}

func TestMergeSeriesEndToEnd(t *testing.T) {
	base := []models.PricePoint{
		point("2025-01-01", "1.00"),
		point("2025-01-03", "1.10"),
	}
	enrich := []models.HistoryRow{
		row("2025-01-02", map[models.Grade]string{models.GradeRaw: "1.05", models.GradePSA10: "50.00"}),
		row("2025-01-03", map[models.Grade]string{models.GradeRaw: "1.20", models.GradePSA10: "55.00"}),
	}

	cs := MergeSeries(base, [][]models.HistoryRow{enrich}, []models.Grade{models.GradeRaw, models.GradePSA10})

	assert.Equal(t, []string{"2025-01-01", "2025-01-02", "2025-01-03"}, cs.Dates)
	assert.Equal(t, []string{"Jan 1", "Jan 2", "Jan 3"}, cs.Labels)
	assert.Equal(t, []string{"1.00", "1.05", "1.20"}, values(t, cs, models.GradeRaw))
	assert.Equal(t, []string{"null", "50.00", "55.00"}, values(t, cs, models.GradePSA10))
	assert.Equal(t, "0.2", cs.AbsoluteChange.String())
	assert.Equal(t, "20", cs.PercentageChange.String())

	psa, _ := cs.Dataset(models.GradePSA10)
	assert.Equal(t, "5", psa.Change.Absolute.String())
	assert.Equal(t, "10", psa.Change.Percentage.String())
}

func TestMergeSeriesEmptyEnrichment(t *testing.T) {
	base := []models.PricePoint{
		point("2025-02-01", "3.10"),
		point("2025-02-02", "3.25"),
		point("2025-02-05", "2.90"),
	}

	cs := MergeSeries(base, [][]models.HistoryRow{nil}, []models.Grade{models.GradeRaw, models.GradePSA10, models.GradePSA9})

	assert.Equal(t, []string{"3.10", "3.25", "2.90"}, values(t, cs, models.GradeRaw))
	assert.Equal(t, []string{"null", "null", "null"}, values(t, cs, models.GradePSA10))
	assert.Equal(t, []string{"null", "null", "null"}, values(t, cs, models.GradePSA9))
}

func TestMergeSeriesEnrichmentWins(t *testing.T) {
	base := []models.PricePoint{point("2025-01-10", "4.00")}
	enrich := []models.HistoryRow{row("2025-01-10", map[models.Grade]string{models.GradeRaw: "4.50"})}

	cs := MergeSeries(base, [][]models.HistoryRow{enrich}, []models.Grade{models.GradeRaw})

	assert.Equal(t, []string{"4.50"}, values(t, cs, models.GradeRaw))
}

func TestMergeSeriesZeroApiPriceFallsBackToBase(t *testing.T) {
	base := []models.PricePoint{point("2025-01-10", "4.00")}
	enrich := []models.HistoryRow{row("2025-01-10", map[models.Grade]string{models.GradeRaw: "0"})}

	cs := MergeSeries(base, [][]models.HistoryRow{enrich}, []models.Grade{models.GradeRaw})

	assert.Equal(t, []string{"4.00"}, values(t, cs, models.GradeRaw))
}

func TestMergeSeriesLabelsAreSortedUnion(t *testing.T) {
	base := []models.PricePoint{
		point("2025-03-05", "1"),
		point("2025-03-01", "1"),
		point("2025-03-01", "9"), // duplicate date, first seen wins
	}
	enrich := []models.HistoryRow{
		row("2025-03-04", map[models.Grade]string{models.GradePSA10: "20"}),
		row("2025-02-28", map[models.Grade]string{models.GradePSA10: "18"}),
	}

	cs := MergeSeries(base, [][]models.HistoryRow{enrich}, []models.Grade{models.GradeRaw, models.GradePSA10})

	assert.Equal(t, []string{"2025-02-28", "2025-03-01", "2025-03-04", "2025-03-05"}, cs.Dates)
	assert.Equal(t, []string{"null", "1.00", "null", "1.00"}, values(t, cs, models.GradeRaw))
	for _, ds := range cs.Series {
		assert.Len(t, ds.Data, len(cs.Labels))
	}
}

func TestMergeSeriesLabelsAcrossYears(t *testing.T) {
	base := []models.PricePoint{
		point("2024-01-02", "1"),
		point("2024-12-31", "2"),
		point("2025-01-02", "3"),
	}

	cs := MergeSeries(base, nil, []models.Grade{models.GradeRaw})

	assert.Equal(t, []string{"Jan 2, 2024", "Dec 31, 2024", "Jan 2, 2025"}, cs.Labels)
	assert.NotEqual(t, cs.Labels[0], cs.Labels[2])
}

func TestMergeSeriesChangeUsesNonNullEndpoints(t *testing.T) {
	enrich := []models.HistoryRow{
		row("2025-01-01", map[models.Grade]string{models.GradePSA9: "10"}),
		row("2025-01-02", map[models.Grade]string{models.GradeRaw: "2.00"}),
		row("2025-01-03", map[models.Grade]string{models.GradePSA9: "11"}),
		row("2025-01-04", map[models.Grade]string{models.GradeRaw: "3.00"}),
		row("2025-01-05", map[models.Grade]string{models.GradePSA9: "12"}),
	}

	cs := MergeSeries(nil, [][]models.HistoryRow{enrich}, []models.Grade{models.GradeRaw})

	assert.Equal(t, []string{"null", "2.00", "null", "3.00", "null"}, values(t, cs, models.GradeRaw))
	assert.Equal(t, "1", cs.AbsoluteChange.String())
	assert.Equal(t, "50", cs.PercentageChange.String())
}

func TestMergeSeriesSummaryWithoutRawChannel(t *testing.T) {
	base := []models.PricePoint{point("2025-01-01", "2"), point("2025-01-02", "3")}

	cs := MergeSeries(base, nil, []models.Grade{models.GradePSA10})

	require.Len(t, cs.Series, 1)
	assert.Equal(t, models.GradePSA10, cs.Series[0].Key)
	assert.Equal(t, "1", cs.AbsoluteChange.String(), "summary follows the raw channel even when it is not charted")
}

func TestMergeSeriesSingleValueHasNoChange(t *testing.T) {
	base := []models.PricePoint{point("2025-01-01", "2")}
	enrich := []models.HistoryRow{row("2025-01-02", map[models.Grade]string{models.GradePSA10: "40"})}

	cs := MergeSeries(base, [][]models.HistoryRow{enrich}, []models.Grade{models.GradeRaw})

	assert.True(t, cs.AbsoluteChange.IsZero())
	assert.True(t, cs.PercentageChange.IsZero())
}

func TestMergeSeriesEmpty(t *testing.T) {
	cs := MergeSeries(nil, nil, []models.Grade{models.GradeRaw})

	assert.True(t, cs.IsEmpty())
	assert.NotNil(t, cs.Series)
	assert.True(t, cs.AbsoluteChange.IsZero())
}

func TestMergeSeriesChannelsNormalized(t *testing.T) {
	base := []models.PricePoint{point("2025-01-01", "2")}

	cs := MergeSeries(base, nil, []models.Grade{models.GradeRaw, "", models.GradeRaw, models.GradeAll})

	require.Len(t, cs.Series, 1)
	assert.Equal(t, "Raw Market", cs.Series[0].Label)
}

func TestPriceChange(t *testing.T) {
	nd := func(s string) decimal.NullDecimal {
		if s == "" {
			return decimal.NullDecimal{}
		}
		return decimal.NewNullDecimal(decimal.RequireFromString(s))
	}

	tests := []struct {
		name    string
		values  []string
		wantAbs string
		wantPct string
	}{
		{"empty", nil, "0", "0"},
		{"one value", []string{"", "5", ""}, "0", "0"},
		{"rise", []string{"1", "1.5"}, "0.5", "50"},
		{"fall", []string{"4", "", "3"}, "-1", "-25"},
		{"zero first", []string{"0", "2"}, "2", "0"},
		{"rounded percentage", []string{"3", "4"}, "1", "33.33"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := make([]decimal.NullDecimal, len(tt.values))
			for i, s := range tt.values {
				in[i] = nd(s)
			}
			got := priceChange(in)
			assert.Equal(t, tt.wantAbs, got.Absolute.String())
			assert.Equal(t, tt.wantPct, got.Percentage.String())
		})
	}
}
