package models

import "github.com/shopspring/decimal"

// Chart sources reported on ChartSeries.Source
const (
	ChartSourceHybrid    = "hybrid"
	ChartSourceHistory   = "archive-history"
	ChartSourceScrape    = "scrape"
	ChartSourceSynthetic = "synthetic"
)

// PriceChange is the first-to-last movement of a channel
type PriceChange struct {
	Absolute   decimal.Decimal `json:"absolute"`
	Percentage decimal.Decimal `json:"percentage"`
}

// ChartDataset is one named value array aligned to ChartSeries.Labels.
// Invalid entries are genuine gaps and encode as null.
type ChartDataset struct {
	Key    Grade                 `json:"key"`
	Label  string                `json:"label"`
	Data   []decimal.NullDecimal `json:"data"`
	Change PriceChange           `json:"change"`
}

// ChartSeries is the chart-ready result handed to the UI. Labels, Dates and
// every dataset's Data have the same length.
type ChartSeries struct {
	Labels           []string        `json:"labels"`
	Dates            []string        `json:"dates"`
	Series           []ChartDataset  `json:"series"`
	AbsoluteChange   decimal.Decimal `json:"absolute_change"`
	PercentageChange decimal.Decimal `json:"percentage_change"`
	Source           string          `json:"source,omitempty"`
}

// EmptyChartSeries is the "no price data" result
func EmptyChartSeries() ChartSeries {
	return ChartSeries{
		Labels: []string{},
		Dates:  []string{},
		Series: []ChartDataset{},
	}
}

// IsEmpty reports whether the chart has no points
func (c ChartSeries) IsEmpty() bool {
	return len(c.Labels) == 0
}

// Dataset returns the dataset for a channel, if present
func (c ChartSeries) Dataset(key Grade) (ChartDataset, bool) {
	for _, ds := range c.Series {
		if ds.Key == key {
			return ds, true
		}
	}
	return ChartDataset{}, false
}
