package services

import (
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/codyseavey/card-pricing/internal/models"
)

// TimedPrice is one point of a single-series chart. At carries a time of day
// for intraday ranges.
type TimedPrice struct {
	At    time.Time       `json:"at"`
	Price decimal.Decimal `json:"price"`
}

var (
	syntheticBasePrice = 0.45
	syntheticFloor     = 0.10
)

// SyntheticSeriesGenerator produces placeholder price series for demos and
// UI development. It is only wired in when SYNTHETIC_PRICES is enabled, and
// the same card and range always produce the same series.
type SyntheticSeriesGenerator struct {
	now func() time.Time
}

func NewSyntheticSeriesGenerator() *SyntheticSeriesGenerator {
	return &SyntheticSeriesGenerator{now: time.Now}
}

// Generate returns a seasonal walk ending today: hourly points for 1D,
// daily points otherwise (All is capped at one year)
func (g *SyntheticSeriesGenerator) Generate(ref models.CardRef, rng models.TimeRange) []TimedPrice {
	h := fnv.New64a()
	_, _ = h.Write([]byte(ref.String() + "|" + string(rng)))
	seed := h.Sum64()
	r := rand.New(rand.NewPCG(seed, seed>>1|1))

	today := models.DateOf(g.now())

	if rng == models.Range1D {
		points := make([]TimedPrice, 0, 24)
		for hour := 0; hour < 24; hour++ {
			drift := math.Sin(float64(hour)/24*2*math.Pi) * 0.05
			noise := (r.Float64() - 0.5) * 0.03
			points = append(points, TimedPrice{
				At:    today.Add(time.Duration(hour) * time.Hour),
				Price: syntheticPrice(syntheticBasePrice + drift + noise),
			})
		}
		return points
	}

	days := rng.LookbackDays()
	if days == 0 || days > 365 {
		days = 365
	}
	points := make([]TimedPrice, 0, days+1)
	for i := days; i >= 0; i-- {
		trend := math.Sin(float64(i)/365*2*math.Pi) * 0.05
		noise := (r.Float64() - 0.5) * 0.08
		points = append(points, TimedPrice{
			At:    today.AddDays(-i).Time,
			Price: syntheticPrice(syntheticBasePrice + trend + noise),
		})
	}
	return points
}

func syntheticPrice(v float64) decimal.Decimal {
	return decimal.NewFromFloat(math.Max(syntheticFloor, v)).Round(2)
}
