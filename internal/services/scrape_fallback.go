package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/codyseavey/card-pricing/internal/cache"
	"github.com/codyseavey/card-pricing/internal/models"
)

const (
	scrapeService     = "scrape"
	hourLabelLayout   = "15:04"
	scrapeSeriesLabel = "Price"
)

// ScrapeFallbackConfig points the fallback at its two remote sources.
// Either URL may be empty to skip that source.
type ScrapeFallbackConfig struct {
	HistoryBaseURL string
	ScrapeBaseURL  string
	TTL            time.Duration
	HTTPClient     *http.Client
}

// ScrapeFallbackService builds a single-series chart when the hybrid path
// has nothing: the flat archive history first, then the scrape endpoint,
// then (only if configured) the synthetic generator.
type ScrapeFallbackService struct {
	client     *http.Client
	historyURL string
	scrapeURL  string
	cache      *cache.Cache
	ttl        time.Duration
	synthetic  *SyntheticSeriesGenerator
	logger     *zap.Logger
}

// NewScrapeFallbackService creates the fallback. c may be nil to disable
// caching and synthetic may be nil to disable placeholder series.
func NewScrapeFallbackService(cfg ScrapeFallbackConfig, c *cache.Cache, synthetic *SyntheticSeriesGenerator, logger *zap.Logger) *ScrapeFallbackService {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &ScrapeFallbackService{
		client:     client,
		historyURL: strings.TrimRight(cfg.HistoryBaseURL, "/"),
		scrapeURL:  strings.TrimRight(cfg.ScrapeBaseURL, "/"),
		cache:      c,
		ttl:        ttl,
		synthetic:  synthetic,
		logger:     logger,
	}
}

// scrapedPoint accepts both wire shapes: {date, price} from the history
// endpoint and {time, value} from the scraper.
type scrapedPoint struct {
	Date  string              `json:"date"`
	Time  string              `json:"time"`
	Price decimal.NullDecimal `json:"price"`
	Value decimal.NullDecimal `json:"value"`
}

func (p scrapedPoint) toTimedPrice() (TimedPrice, bool) {
	price := orElse(p.Price, p.Value)
	if !price.Valid || !price.Decimal.IsPositive() {
		return TimedPrice{}, false
	}
	stamp := p.Date
	if stamp == "" {
		stamp = p.Time
	}
	at, ok := parseTimestamp(stamp)
	if !ok {
		return TimedPrice{}, false
	}
	return TimedPrice{At: at, Price: price.Decimal}, true
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if d, err := models.ParseDate(s); err == nil {
		return d.Time, true
	}
	return time.Time{}, false
}

type scrapeResult struct {
	Points []TimedPrice `json:"points"`
	Source string       `json:"source"`
}

// ChartData returns the single-series chart for ref over rng. It never
// fails; no data from any source yields an empty chart. Failed lookups are
// not cached so a later request can retry the remote sources.
func (s *ScrapeFallbackService) ChartData(ctx context.Context, ref models.CardRef, rng models.TimeRange) models.ChartSeries {
	key := "scrape:" + ref.String() + ":" + string(rng)
	res, err := withCache(ctx, s.cache, key, s.ttl, func(ctx context.Context) (scrapeResult, error) {
		return s.collect(ctx, ref, rng)
	})
	if err != nil && ctx.Err() == nil && s.synthetic != nil {
		res = scrapeResult{Points: s.synthetic.Generate(ref, rng), Source: models.ChartSourceSynthetic}
	} else if err != nil {
		return models.EmptyChartSeries()
	}
	if len(res.Points) == 0 {
		return models.EmptyChartSeries()
	}
	return formatSingleSeries(res.Points, rng, res.Source)
}

// collect errors when ctx is done or when every configured remote source
// failed, so an outage is never stored as "no data"
func (s *ScrapeFallbackService) collect(ctx context.Context, ref models.CardRef, rng models.TimeRange) (scrapeResult, error) {
	var lastErr error
	if ref.HasProductID() {
		sources := []struct {
			base, path, name string
		}{
			{s.historyURL, "/api/tcgplayer/history", models.ChartSourceHistory},
			{s.scrapeURL, "/api/tcgplayer/scrape", models.ChartSourceScrape},
		}
		answered := false
		for _, src := range sources {
			if src.base == "" {
				continue
			}
			points, err := s.fetch(ctx, src.base, src.path, ref.ProductID, rng)
			if err != nil {
				lastErr = err
				continue
			}
			answered = true
			if len(points) > 0 {
				return scrapeResult{Points: points, Source: src.name}, nil
			}
		}
		if answered {
			lastErr = nil
		}
	}
	if err := ctx.Err(); err != nil {
		return scrapeResult{}, err
	}
	if lastErr != nil {
		return scrapeResult{}, lastErr
	}
	if s.synthetic != nil {
		return scrapeResult{Points: s.synthetic.Generate(ref, rng), Source: models.ChartSourceSynthetic}, nil
	}
	return scrapeResult{}, nil
}

// fetch returns the points served at base+path. A transport or status error
// is returned; a payload that is not a point list counts as no points.
func (s *ScrapeFallbackService) fetch(ctx context.Context, base, path, productID string, rng models.TimeRange) ([]TimedPrice, error) {
	query := url.Values{}
	query.Set("productId", productID)
	query.Set("timeRange", string(rng))

	var raw json.RawMessage
	if err := getJSON(ctx, s.client, scrapeService, base+path+"?"+query.Encode(), &raw); err != nil {
		s.logger.Warn("fallback price fetch failed",
			zap.String("product_id", productID),
			zap.String("path", path),
			zap.Error(err))
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var items []scrapedPoint
	if err := json.Unmarshal(unwrapData(raw), &items); err != nil {
		s.logger.Debug("fallback payload is not a point list", zap.String("path", path), zap.Error(err))
		return nil, nil
	}
	points := make([]TimedPrice, 0, len(items))
	for _, item := range items {
		if p, ok := item.toTimedPrice(); ok {
			points = append(points, p)
		}
	}
	return points, nil
}

// formatSingleSeries sorts and dedups points, downsamples them to the
// range's point budget and labels them for display
func formatSingleSeries(points []TimedPrice, rng models.TimeRange, source string) models.ChartSeries {
	sorted := append([]TimedPrice(nil), points...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].At.Before(sorted[j].At)
	})

	layout := ""
	keyOf := func(t time.Time) string { return models.DateOf(t).String() }
	if rng == models.Range1D {
		layout = hourLabelLayout
		keyOf = func(t time.Time) string { return t.UTC().Format(time.RFC3339) }
	}

	unique := sorted[:0]
	seen := make(map[string]bool, len(sorted))
	for _, p := range sorted {
		k := keyOf(p.At)
		if seen[k] {
			continue
		}
		seen[k] = true
		unique = append(unique, p)
	}

	sampled := Downsample(unique, rng.MaxPoints())
	if len(sampled) == 0 {
		return models.EmptyChartSeries()
	}

	out := models.ChartSeries{
		Labels: make([]string, len(sampled)),
		Dates:  make([]string, len(sampled)),
		Source: source,
	}
	if layout == "" {
		layout = dayLayout(sampled[0].At, sampled[len(sampled)-1].At)
	}
	values := make([]decimal.NullDecimal, len(sampled))
	for i, p := range sampled {
		out.Labels[i] = p.At.UTC().Format(layout)
		out.Dates[i] = keyOf(p.At)
		values[i] = decimal.NewNullDecimal(p.Price)
	}

	change := priceChange(values)
	out.Series = []models.ChartDataset{{
		Key:    models.GradeRaw,
		Label:  scrapeSeriesLabel,
		Data:   values,
		Change: change,
	}}
	out.AbsoluteChange = change.Absolute
	out.PercentageChange = change.Percentage
	return out
}
