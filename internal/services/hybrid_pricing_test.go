package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codyseavey/card-pricing/internal/models"
)

type fakeArchive struct {
	points  []models.PricePoint
	current *models.PricePoint
	panics  bool
	calls   int
	mu      sync.Mutex
}

func (f *fakeArchive) GetDailyHistory(ctx context.Context, productID string, rng models.TimeRange, variant models.PrintingType) []models.PricePoint {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.panics {
		panic("archive exploded")
	}
	return f.points
}

func (f *fakeArchive) GetCurrentPrice(ctx context.Context, productID string, variant models.PrintingType) *models.PricePoint {
	return f.current
}

type fakeTracker struct {
	rows         []models.HistoryRow
	historyErr   error
	comp         *ComprehensivePricing
	compErr      error
	matches      []models.CardMatch
	historyCalls int
	searchCalls  int
	mu           sync.Mutex
}

func (f *fakeTracker) GetHistory(ctx context.Context, productID string, historyType HistoryType, rng models.TimeRange) ([]models.HistoryRow, error) {
	f.mu.Lock()
	f.historyCalls++
	f.mu.Unlock()
	return f.rows, f.historyErr
}

func (f *fakeTracker) GetComprehensivePricing(ctx context.Context, productID string) (*ComprehensivePricing, error) {
	return f.comp, f.compErr
}

func (f *fakeTracker) SearchCards(ctx context.Context, name, set string) ([]models.CardMatch, error) {
	f.searchCalls++
	return f.matches, nil
}

type fakeCatalog struct {
	cards    map[string]*models.Card
	resolved map[string]string
}

func (f *fakeCatalog) Get(ctx context.Context, id string) (*models.Card, error) {
	return f.cards[id], nil
}

func (f *fakeCatalog) SetProductID(ctx context.Context, id, productID string) error {
	if f.resolved == nil {
		f.resolved = map[string]string{}
	}
	f.resolved[id] = productID
	return nil
}

type fakeFallback struct {
	calls int
	ref   models.CardRef
	out   models.ChartSeries
}

func (f *fakeFallback) ChartData(ctx context.Context, ref models.CardRef, rng models.TimeRange) models.ChartSeries {
	f.calls++
	f.ref = ref
	return f.out
}

func TestGetCardPriceHistoryMergesSources(t *testing.T) {
	archive := &fakeArchive{points: []models.PricePoint{
		point("2025-01-01", "1.00"),
		point("2025-01-03", "1.10"),
	}}
	tracker := &fakeTracker{rows: []models.HistoryRow{
		row("2025-01-02", map[models.Grade]string{models.GradeRaw: "1.05", models.GradePSA10: "50.00"}),
		row("2025-01-03", map[models.Grade]string{models.GradeRaw: "1.20", models.GradePSA10: "55.00"}),
	}}
	svc := NewHybridPricingService(archive, tracker, nil, nil, nil)

	cs := svc.GetCardPriceHistory(context.Background(), models.CardRef{ProductID: "42"}, models.Range1M,
		HistoryOptions{IncludeRaw: true, IncludePSA10: true})

	assert.Equal(t, models.ChartSourceHybrid, cs.Source)
	assert.Equal(t, []string{"1.00", "1.05", "1.20"}, values(t, cs, models.GradeRaw))
	assert.Equal(t, []string{"null", "50.00", "55.00"}, values(t, cs, models.GradePSA10))
	assert.Equal(t, "0.2", cs.AbsoluteChange.String())
	assert.Equal(t, "20", cs.PercentageChange.String())
}

func TestGetCardPriceHistorySkipsTrackerWithoutChannels(t *testing.T) {
	archive := &fakeArchive{points: []models.PricePoint{point("2025-01-01", "1")}}
	tracker := &fakeTracker{}
	svc := NewHybridPricingService(archive, tracker, nil, nil, nil)

	cs := svc.GetCardPriceHistory(context.Background(), models.CardRef{ProductID: "42"}, models.Range1M, HistoryOptions{})

	assert.Equal(t, 0, tracker.historyCalls)
	assert.Equal(t, 1, archive.calls)
	assert.Len(t, cs.Labels, 1)
	assert.Empty(t, cs.Series)
}

func TestGetCardPriceHistoryTrackerErrorKeepsArchive(t *testing.T) {
	archive := &fakeArchive{points: []models.PricePoint{point("2025-01-01", "1"), point("2025-01-02", "2")}}
	tracker := &fakeTracker{historyErr: ErrRateLimitExceeded}
	svc := NewHybridPricingService(archive, tracker, nil, nil, nil)

	opts := HistoryOptions{IncludeRaw: true, IncludePSA10: true, IncludePSA9: true}
	cs := svc.GetCardPriceHistory(context.Background(), models.CardRef{ProductID: "42"}, models.Range1M, opts)

	assert.Equal(t, []string{"1.00", "2.00"}, values(t, cs, models.GradeRaw))
	assert.Equal(t, []string{"null", "null"}, values(t, cs, models.GradePSA9))
}

func TestGetCardPriceHistoryDefaultChannels(t *testing.T) {
	archive := &fakeArchive{points: []models.PricePoint{point("2025-01-01", "1")}}
	svc := NewHybridPricingService(archive, &fakeTracker{}, nil, nil, nil)

	cs := svc.GetCardPriceHistory(context.Background(), models.CardRef{ProductID: "42"}, models.Range1M, DefaultHistoryOptions())

	_, hasRaw := cs.Dataset(models.GradeRaw)
	_, hasPSA10 := cs.Dataset(models.GradePSA10)
	_, hasPSA9 := cs.Dataset(models.GradePSA9)
	assert.True(t, hasRaw)
	assert.True(t, hasPSA10)
	assert.False(t, hasPSA9, "psa9 is opt-in")
}

func TestGetCardPriceHistoryPanicYieldsEmpty(t *testing.T) {
	archive := &fakeArchive{panics: true}
	tracker := &fakeTracker{rows: []models.HistoryRow{row("2025-01-02", map[models.Grade]string{models.GradeRaw: "1"})}}
	fallback := &fakeFallback{}
	svc := NewHybridPricingService(archive, tracker, nil, fallback, nil)

	var cs models.ChartSeries
	require.NotPanics(t, func() {
		cs = svc.GetCardPriceHistory(context.Background(), models.CardRef{ProductID: "42"}, models.Range1M, DefaultHistoryOptions())
	})

	assert.True(t, cs.IsEmpty())
	assert.NotNil(t, cs.Series)
	assert.True(t, cs.AbsoluteChange.IsZero())
	assert.Equal(t, 0, fallback.calls)
}

func TestGetCardPriceHistoryFallsBackWhenSourcesEmpty(t *testing.T) {
	fallback := &fakeFallback{out: models.ChartSeries{
		Labels: []string{"Jan 1"},
		Dates:  []string{"2025-01-01"},
		Series: []models.ChartDataset{{Key: models.GradeRaw, Label: "Price", Data: []decimal.NullDecimal{decimal.NewNullDecimal(decimal.NewFromInt(1))}}},
		Source: models.ChartSourceScrape,
	}}
	svc := NewHybridPricingService(&fakeArchive{}, &fakeTracker{}, nil, fallback, nil)

	cs := svc.GetCardPriceHistory(context.Background(), models.CardRef{ProductID: "42"}, models.Range1M, DefaultHistoryOptions())

	assert.Equal(t, 1, fallback.calls)
	assert.Equal(t, "42", fallback.ref.ProductID)
	assert.Equal(t, models.ChartSourceScrape, cs.Source)
}

func TestGetCardPriceHistoryUnresolvedGoesToFallback(t *testing.T) {
	archive := &fakeArchive{}
	fallback := &fakeFallback{out: models.EmptyChartSeries()}
	svc := NewHybridPricingService(archive, &fakeTracker{}, nil, fallback, nil)

	cs := svc.GetCardPriceHistory(context.Background(), models.CardRef{Name: "Pikachu"}, models.Range1M, DefaultHistoryOptions())

	assert.True(t, cs.IsEmpty())
	assert.Equal(t, 1, fallback.calls)
	assert.Equal(t, 0, archive.calls)
}

func TestResolveProductID(t *testing.T) {
	ctx := context.Background()
	pikachu := []models.CardMatch{
		{ProductID: "100", Name: "Pikachu", SetName: "Jungle"},
		{ProductID: "101", Name: "Pikachu", SetName: "Base Set"},
		{ProductID: "102", Name: "Pikachu V", SetName: "Jungle"},
	}

	t.Run("numeric product id wins", func(t *testing.T) {
		tracker := &fakeTracker{matches: pikachu}
		svc := NewHybridPricingService(nil, tracker, nil, nil, nil)
		id, ok := svc.resolveProductID(ctx, models.CardRef{ProductID: "7", Name: "Pikachu", SetName: "Jungle"})
		assert.True(t, ok)
		assert.Equal(t, "7", id)
		assert.Equal(t, 0, tracker.searchCalls)
	})

	t.Run("catalog product id", func(t *testing.T) {
		catalog := &fakeCatalog{cards: map[string]*models.Card{"base1-58": {ID: "base1-58", ProductID: "555"}}}
		svc := NewHybridPricingService(nil, &fakeTracker{}, catalog, nil, nil)
		id, ok := svc.resolveProductID(ctx, models.CardRef{ID: "base1-58"})
		assert.True(t, ok)
		assert.Equal(t, "555", id)
	})

	t.Run("unique name and set match is remembered", func(t *testing.T) {
		catalog := &fakeCatalog{cards: map[string]*models.Card{"jungle-60": {ID: "jungle-60", Name: "pikachu", SetName: "JUNGLE"}}}
		svc := NewHybridPricingService(nil, &fakeTracker{matches: pikachu}, catalog, nil, nil)
		id, ok := svc.resolveProductID(ctx, models.CardRef{ID: "jungle-60"})
		assert.True(t, ok)
		assert.Equal(t, "100", id)
		assert.Equal(t, "100", catalog.resolved["jungle-60"])
	})

	t.Run("ambiguous match is unresolved", func(t *testing.T) {
		matches := append([]models.CardMatch{{ProductID: "200", Name: "Pikachu", SetName: "Jungle"}}, pikachu...)
		svc := NewHybridPricingService(nil, &fakeTracker{matches: matches}, nil, nil, nil)
		_, ok := svc.resolveProductID(ctx, models.CardRef{Name: "Pikachu", SetName: "Jungle"})
		assert.False(t, ok)
	})

	t.Run("no match is unresolved", func(t *testing.T) {
		svc := NewHybridPricingService(nil, &fakeTracker{matches: pikachu}, nil, nil, nil)
		_, ok := svc.resolveProductID(ctx, models.CardRef{Name: "Raichu", SetName: "Fossil"})
		assert.False(t, ok)
	})
}

func TestSearchUniqueReportsAmbiguity(t *testing.T) {
	tracker := &fakeTracker{matches: []models.CardMatch{
		{ProductID: "1", Name: "Eevee", SetName: "Jungle"},
		{ProductID: "2", Name: "Eevee", SetName: "Jungle"},
	}}
	svc := NewHybridPricingService(nil, tracker, nil, nil, nil)

	_, err := svc.searchUnique(context.Background(), "Eevee", "Jungle")
	assert.True(t, errors.Is(err, errAmbiguousCard))

	_, err = svc.searchUnique(context.Background(), "Mew", "Jungle")
	assert.ErrorIs(t, err, errUnknownCard)
}

func TestGetCurrentPricing(t *testing.T) {
	ts := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	psa10 := models.GradedPrice{Grade: models.GradePSA10, Price: decimal.NewFromInt(900)}

	t.Run("from comprehensive pricing", func(t *testing.T) {
		tracker := &fakeTracker{comp: &ComprehensivePricing{
			Raw:       &models.PriceBand{Market: decimal.NewNullDecimal(decimal.NewFromInt(20))},
			PSA:       map[models.Grade]models.GradedPrice{models.GradePSA10: psa10},
			Timestamp: ts,
		}}
		svc := NewHybridPricingService(&fakeArchive{}, tracker, nil, nil, nil)

		out := svc.GetCurrentPricing(context.Background(), "42")
		assert.Equal(t, "42", out.ProductID)
		require.NotNil(t, out.Raw)
		require.NotNil(t, out.PSA10)
		assert.Nil(t, out.PSA9)
		assert.True(t, decimal.NewFromInt(900).Equal(out.PSA10.Price))
		require.NotNil(t, out.Timestamp)
		assert.Equal(t, ts, *out.Timestamp)
	})

	t.Run("upstream failure is nulled", func(t *testing.T) {
		tracker := &fakeTracker{compErr: &UpstreamError{Service: "x", Status: 500}}
		svc := NewHybridPricingService(&fakeArchive{}, tracker, nil, nil, nil)

		out := svc.GetCurrentPricing(context.Background(), "42")
		assert.Nil(t, out.Raw)
		assert.Nil(t, out.PSA10)
		assert.Nil(t, out.PSA9)
		assert.Nil(t, out.Timestamp)
	})

	t.Run("archive stands in for raw", func(t *testing.T) {
		p := point("2025-01-04", "3.5")
		p.Market = decimal.NewNullDecimal(decimal.RequireFromString("3.5"))
		svc := NewHybridPricingService(&fakeArchive{current: &p}, &fakeTracker{compErr: ErrRateLimitExceeded}, nil, nil, nil)

		out := svc.GetCurrentPricing(context.Background(), "42")
		require.NotNil(t, out.Raw)
		assert.Equal(t, "3.5", out.Raw.Market.Decimal.String())
		require.NotNil(t, out.Timestamp)
		assert.Equal(t, "2025-01-04", models.DateOf(*out.Timestamp).String())
	})
}
