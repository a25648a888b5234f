package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Grade identifies a price channel: ungraded (raw) or a PSA grade
type Grade string

const (
	GradeRaw   Grade = "raw"
	GradePSA10 Grade = "psa10"
	GradePSA9  Grade = "psa9"
	GradePSA8  Grade = "psa8"
	GradePSA7  Grade = "psa7"
)

// GradeAll asks the graded-price lookup for every grade upstream reports
const GradeAll Grade = "all"

// Label returns the display name used for chart datasets
func (g Grade) Label() string {
	switch g {
	case GradeRaw:
		return "Raw Market"
	case "":
		return ""
	}
	if strings.HasPrefix(string(g), "psa") {
		return "PSA " + strings.TrimPrefix(string(g), "psa")
	}
	return string(g)
}

// IsGraded is false only for the raw channel
func (g Grade) IsGraded() bool {
	return g != GradeRaw && g != ""
}

// NormalizeGrade maps upstream grade keys ("10", "PSA10", "psa 10", "PSA-9")
// onto Grade values. Raw synonyms map to GradeRaw.
func NormalizeGrade(s string) Grade {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "", "-", "", "_", "").Replace(key)
	switch key {
	case "":
		return ""
	case "all":
		return GradeAll
	case "raw", "ungraded", "nearmint", "nm":
		return GradeRaw
	}
	key = strings.TrimPrefix(key, "psa")
	if key == "" {
		return ""
	}
	for _, r := range key {
		if (r < '0' || r > '9') && r != '.' {
			return ""
		}
	}
	return Grade("psa" + key)
}

// PrintingType represents card printing variants in the archive feed
type PrintingType string

const (
	PrintingNormal            PrintingType = "Normal"
	PrintingHolofoil          PrintingType = "Holofoil"
	PrintingReverseHolo       PrintingType = "Reverse Holofoil"
	Printing1stEdition        PrintingType = "1st Edition"
	Printing1stEditionHolo    PrintingType = "1st Edition Holofoil"
	PrintingUnlimitedHolofoil PrintingType = "Unlimited Holofoil"
)

// ParsePrinting maps UI variant ids ("holo", "reverseholo") onto the archive's
// sub-type names. Unknown values pass through unchanged; empty means Normal.
func ParsePrinting(variant string) PrintingType {
	switch strings.ToLower(strings.TrimSpace(variant)) {
	case "", "normal":
		return PrintingNormal
	case "holo", "holofoil":
		return PrintingHolofoil
	case "reverseholo", "reverse holofoil":
		return PrintingReverseHolo
	case "1stedition", "1st edition":
		return Printing1stEdition
	case "1steditionholofoil", "1st edition holofoil":
		return Printing1stEditionHolo
	case "unlimitedholofoil", "unlimited holofoil":
		return PrintingUnlimitedHolofoil
	default:
		return PrintingType(variant)
	}
}

// PriceBand is a price snapshot that may carry a low/mid/high/market band
type PriceBand struct {
	Low    decimal.NullDecimal `json:"low"`
	Mid    decimal.NullDecimal `json:"mid"`
	High   decimal.NullDecimal `json:"high"`
	Market decimal.NullDecimal `json:"market"`
}

// Value picks the chartable price from the band: market, then mid.
// Zero values are treated as missing.
func (b PriceBand) Value() (decimal.Decimal, bool) {
	if b.Market.Valid && b.Market.Decimal.IsPositive() {
		return b.Market.Decimal, true
	}
	if b.Mid.Valid && b.Mid.Decimal.IsPositive() {
		return b.Mid.Decimal, true
	}
	return decimal.Zero, false
}

// IsEmpty reports whether no field of the band is set
func (b PriceBand) IsEmpty() bool {
	return !b.Low.Valid && !b.Mid.Valid && !b.High.Valid && !b.Market.Valid
}

// GradedPrice is the current price for one grade of a card
type GradedPrice struct {
	Grade       Grade           `json:"grade"`
	Price       decimal.Decimal `json:"price"`
	LowPrice    decimal.Decimal `json:"low_price"`
	HighPrice   decimal.Decimal `json:"high_price"`
	MarketPrice decimal.Decimal `json:"market_price"`
	Population  int             `json:"population"`
	Source      string          `json:"source"`
	Timestamp   time.Time       `json:"timestamp"`
}

// PricePoint is one daily archive observation
type PricePoint struct {
	Date   Date                `json:"date"`
	Price  decimal.Decimal     `json:"price"`
	Low    decimal.NullDecimal `json:"low"`
	High   decimal.NullDecimal `json:"high"`
	Mid    decimal.NullDecimal `json:"mid"`
	Market decimal.NullDecimal `json:"market"`
	Source string              `json:"source,omitempty"`
}

// HistoryRow is one date of pricing API history. Grades missing from Prices
// had no data upstream on that date.
type HistoryRow struct {
	Date      Date                `json:"date"`
	Prices    map[Grade]PriceBand `json:"prices"`
	Source    string              `json:"source,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// Value returns the chartable price for a grade on this row
func (r HistoryRow) Value(g Grade) (decimal.Decimal, bool) {
	band, ok := r.Prices[g]
	if !ok {
		return decimal.Zero, false
	}
	return band.Value()
}

// CurrentPricing is the latest raw and PSA pricing for a card
type CurrentPricing struct {
	ProductID string       `json:"product_id"`
	Raw       *PriceBand   `json:"raw"`
	PSA10     *GradedPrice `json:"psa10"`
	PSA9      *GradedPrice `json:"psa9"`
	Timestamp *time.Time   `json:"timestamp"`
}
