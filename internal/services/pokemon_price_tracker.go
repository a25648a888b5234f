package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/codyseavey/card-pricing/internal/cache"
	"github.com/codyseavey/card-pricing/internal/models"
)

// HistoryType selects which channels the history endpoint returns
type HistoryType string

const (
	HistoryRaw  HistoryType = "raw"
	HistoryPSA  HistoryType = "psa"
	HistoryBoth HistoryType = "both"
)

const trackerSource = "pokemonpricetracker"

// ComprehensivePricing is the combined raw, graded and condition pricing
// for one card
type ComprehensivePricing struct {
	ProductID  string                             `json:"product_id"`
	Name       string                             `json:"name"`
	SetName    string                             `json:"set_name"`
	Raw        *models.PriceBand                  `json:"raw"`
	PSA        map[models.Grade]models.GradedPrice `json:"psa"`
	Conditions map[string]json.RawMessage         `json:"conditions"`
	History    []models.HistoryRow                `json:"history"`
	Timestamp  time.Time                          `json:"timestamp"`
}

// PriceTrackerService fetches raw and PSA-graded prices from the
// PokemonPriceTracker API. Absent or malformed payloads come back as empty
// results; rate limit, upstream and transport errors are returned.
type PriceTrackerService struct {
	client *PriceTrackerClient
	cache  *cache.Cache
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewPriceTrackerService creates the fetcher. c may be nil to disable caching.
func NewPriceTrackerService(client *PriceTrackerClient, c *cache.Cache, ttl time.Duration, logger *zap.Logger) *PriceTrackerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PriceTrackerService{
		client: client,
		cache:  c,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Budget exposes the client's daily quota
func (s *PriceTrackerService) Budget() *RateBudget {
	return s.client.Budget()
}

type pptCardResponse struct {
	Data []pptCard `json:"data"`
}

type pptCard struct {
	TCGPlayerID flexString                 `json:"tcgPlayerId"`
	Name        string                     `json:"name"`
	Set         string                     `json:"set"`
	SetName     string                     `json:"setName"`
	CardNumber  string                     `json:"cardNumber"`
	ImageURL    string                     `json:"imageUrl"`
	ImageCdnURL string                     `json:"imageCdnUrl"`
	Price       decimal.NullDecimal        `json:"price"`
	MarketPrice decimal.NullDecimal        `json:"marketPrice"`
	LowPrice    decimal.NullDecimal        `json:"lowPrice"`
	HighPrice   decimal.NullDecimal        `json:"highPrice"`
	Conditions  map[string]json.RawMessage `json:"conditions"`
	PSAGrades   map[string]pptGrade        `json:"psaGrades"`
	History     json.RawMessage            `json:"history"`
}

type pptGrade struct {
	Price       decimal.NullDecimal `json:"price"`
	LowPrice    decimal.NullDecimal `json:"lowPrice"`
	HighPrice   decimal.NullDecimal `json:"highPrice"`
	MarketPrice decimal.NullDecimal `json:"marketPrice"`
	Population  int                 `json:"population"`
}

func (c pptCard) setName() string {
	if c.SetName != "" {
		return c.SetName
	}
	return c.Set
}

// flexString accepts ids sent either as JSON strings or numbers
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// getCard looks up one card by TCGplayer product id; nil when unknown
func (s *PriceTrackerService) getCard(ctx context.Context, productID string, includeBoth, includeHistory bool) (*pptCard, error) {
	key := fmt.Sprintf("ppt:card:%s:%t:%t", productID, includeBoth, includeHistory)
	return withCache(ctx, s.cache, key, s.ttl, func(ctx context.Context) (*pptCard, error) {
		query := url.Values{}
		query.Set("tcgPlayerId", productID)
		if includeBoth {
			query.Set("includeBoth", "true")
		}
		if includeHistory {
			query.Set("includeHistory", "true")
		}

		raw, err := s.client.Request(ctx, "/cards", RequestOptions{Query: query})
		if err != nil || raw == nil {
			return nil, err
		}

		var resp pptCardResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			s.logger.Warn("malformed card payload", zap.String("product_id", productID), zap.Error(err))
			return nil, nil
		}
		if len(resp.Data) == 0 {
			return nil, nil
		}
		return &resp.Data[0], nil
	})
}

// GetCurrentPrice returns the latest raw (ungraded) snapshot, or nil when the
// card or its price is unknown
func (s *PriceTrackerService) GetCurrentPrice(ctx context.Context, productID string) (*models.PriceBand, error) {
	card, err := s.getCard(ctx, productID, false, false)
	if err != nil || card == nil {
		return nil, err
	}
	return rawBand(card), nil
}

// rawBand maps the card's top-level prices: mid is the listed price and the
// other fields fall back to it
func rawBand(card *pptCard) *models.PriceBand {
	if !card.Price.Valid || !card.Price.Decimal.IsPositive() {
		return nil
	}
	return &models.PriceBand{
		Low:    orElse(card.LowPrice, card.Price),
		Mid:    card.Price,
		High:   orElse(card.HighPrice, card.Price),
		Market: orElse(card.MarketPrice, card.Price),
	}
}

// GetGradedPrices returns PSA prices keyed by grade. GradeAll returns every
// grade upstream reports; any other grade returns at most one entry.
func (s *PriceTrackerService) GetGradedPrices(ctx context.Context, productID string, grade models.Grade) (map[models.Grade]models.GradedPrice, error) {
	card, err := s.getCard(ctx, productID, true, false)
	if err != nil {
		return nil, err
	}
	graded := make(map[models.Grade]models.GradedPrice)
	if card == nil {
		return graded, nil
	}

	for g, p := range s.gradedPrices(card) {
		if grade == models.GradeAll || grade == g {
			graded[g] = p
		}
	}
	return graded, nil
}

func (s *PriceTrackerService) gradedPrices(card *pptCard) map[models.Grade]models.GradedPrice {
	now := s.now().UTC()
	graded := make(map[models.Grade]models.GradedPrice, len(card.PSAGrades))
	for key, p := range card.PSAGrades {
		g := models.NormalizeGrade(key)
		if !g.IsGraded() || g == models.GradeAll {
			s.logger.Debug("skipping unknown grade key", zap.String("key", key))
			continue
		}
		graded[g] = models.GradedPrice{
			Grade:       g,
			Price:       p.Price.Decimal,
			LowPrice:    p.LowPrice.Decimal,
			HighPrice:   p.HighPrice.Decimal,
			MarketPrice: p.MarketPrice.Decimal,
			Population:  p.Population,
			Source:      trackerSource + "-" + string(g),
			Timestamp:   now,
		}
	}
	return graded
}

// GetHistory returns one row per date upstream reports for the range.
// Rows are sorted by nothing in particular; gaps are allowed.
func (s *PriceTrackerService) GetHistory(ctx context.Context, productID string, historyType HistoryType, rng models.TimeRange) ([]models.HistoryRow, error) {
	if historyType == "" {
		historyType = HistoryBoth
	}
	key := fmt.Sprintf("ppt:history:%s:%s:%s", productID, historyType, rng.APIRange())
	return withCache(ctx, s.cache, key, s.ttl, func(ctx context.Context) ([]models.HistoryRow, error) {
		query := url.Values{}
		query.Set("type", string(historyType))
		query.Set("range", rng.APIRange())

		raw, err := s.client.Request(ctx, "/history/"+url.PathEscape(productID), RequestOptions{Query: query})
		if err != nil {
			return nil, err
		}
		return s.parseHistory(productID, raw), nil
	})
}

// parseHistory accepts either a bare array or {"data": [...]}.
// Each row is {date, raw?, psa10?, psa9?, ..., timestamp?}; grade values may be
// a band object or a bare number.
func (s *PriceTrackerService) parseHistory(productID string, raw json.RawMessage) []models.HistoryRow {
	rows := []models.HistoryRow{}
	if len(raw) == 0 {
		return rows
	}

	var items []map[string]json.RawMessage
	if err := json.Unmarshal(unwrapData(raw), &items); err != nil {
		s.logger.Warn("malformed history payload", zap.String("product_id", productID), zap.Error(err))
		return rows
	}

	skipped := 0
	for _, item := range items {
		row, ok := parseHistoryRow(item)
		if !ok {
			skipped++
			continue
		}
		rows = append(rows, row)
	}
	if skipped > 0 {
		s.logger.Debug("skipped unusable history rows", zap.String("product_id", productID), zap.Int("count", skipped))
	}
	return rows
}

func parseHistoryRow(item map[string]json.RawMessage) (models.HistoryRow, bool) {
	var dateStr string
	if err := json.Unmarshal(item["date"], &dateStr); err != nil {
		return models.HistoryRow{}, false
	}
	date, err := models.ParseDate(dateStr)
	if err != nil {
		return models.HistoryRow{}, false
	}

	row := models.HistoryRow{
		Date:   date,
		Prices: make(map[models.Grade]models.PriceBand),
		Source: trackerSource,
	}
	if ts, ok := item["timestamp"]; ok {
		var s string
		if json.Unmarshal(ts, &s) == nil {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				row.Timestamp = t
			}
		}
	}

	for key, value := range item {
		switch key {
		case "date", "timestamp", "source":
			continue
		}
		g := models.NormalizeGrade(key)
		if g == "" || g == models.GradeAll {
			continue
		}
		if band, ok := parseBand(value); ok {
			row.Prices[g] = band
		}
	}
	return row, true
}

// parseBand decodes {market, mid, low, high} or a bare number. null and
// empty bands are reported as absent.
func parseBand(raw json.RawMessage) (models.PriceBand, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return models.PriceBand{}, false
	}

	if raw[0] == '{' {
		var band models.PriceBand
		if err := json.Unmarshal(raw, &band); err != nil {
			return models.PriceBand{}, false
		}
		return band, !band.IsEmpty()
	}

	var n decimal.NullDecimal
	if err := json.Unmarshal(raw, &n); err != nil || !n.Valid {
		return models.PriceBand{}, false
	}
	return models.PriceBand{Market: n}, true
}

// GetComprehensivePricing returns raw, graded and condition pricing plus the
// embedded history; nil when the card is unknown
func (s *PriceTrackerService) GetComprehensivePricing(ctx context.Context, productID string) (*ComprehensivePricing, error) {
	card, err := s.getCard(ctx, productID, true, true)
	if err != nil || card == nil {
		return nil, err
	}

	conditions := card.Conditions
	if conditions == nil {
		conditions = map[string]json.RawMessage{}
	}
	return &ComprehensivePricing{
		ProductID:  productID,
		Name:       card.Name,
		SetName:    card.setName(),
		Raw:        rawBand(card),
		PSA:        s.gradedPrices(card),
		Conditions: conditions,
		History:    s.parseHistory(productID, card.History),
		Timestamp:  s.now().UTC(),
	}, nil
}

// GetPSAPopulation returns graded copy counts keyed by grade; nil when unknown.
// Values may be bare counts or objects carrying population/count.
func (s *PriceTrackerService) GetPSAPopulation(ctx context.Context, productID string) (map[models.Grade]int, error) {
	key := "ppt:population:" + productID
	return withCache(ctx, s.cache, key, s.ttl, func(ctx context.Context) (map[models.Grade]int, error) {
		raw, err := s.client.Request(ctx, "/psa/population/"+url.PathEscape(productID), RequestOptions{})
		if err != nil || raw == nil {
			return nil, err
		}

		var entries map[string]json.RawMessage
		if err := json.Unmarshal(unwrapData(raw), &entries); err != nil {
			s.logger.Warn("malformed population payload", zap.String("product_id", productID), zap.Error(err))
			return nil, nil
		}

		population := make(map[models.Grade]int)
		for k, v := range entries {
			g := models.NormalizeGrade(k)
			if !g.IsGraded() || g == models.GradeAll {
				continue
			}
			if n, ok := parseCount(v); ok {
				population[g] = n
			}
		}
		return population, nil
	})
}

func parseCount(raw json.RawMessage) (int, bool) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := strconv.Atoi(n.String()); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int(f), true
		}
		return 0, false
	}
	var obj struct {
		Population *int `json:"population"`
		Count      *int `json:"count"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return 0, false
	}
	switch {
	case obj.Population != nil:
		return *obj.Population, true
	case obj.Count != nil:
		return *obj.Count, true
	}
	return 0, false
}

type pptTrendingCard struct {
	TCGPlayerID   flexString          `json:"tcgPlayerId"`
	Name          string              `json:"name"`
	Set           string              `json:"set"`
	SetName       string              `json:"setName"`
	Price         decimal.NullDecimal `json:"price"`
	MarketPrice   decimal.NullDecimal `json:"marketPrice"`
	ChangePercent decimal.NullDecimal `json:"changePercent"`
	PriceChange   decimal.NullDecimal `json:"priceChange"`
}

// GetTrendingCards returns upstream's trending list
func (s *PriceTrackerService) GetTrendingCards(ctx context.Context, limit int) ([]models.TrendingCard, error) {
	if limit <= 0 {
		limit = 50
	}
	key := "ppt:trending:" + strconv.Itoa(limit)
	return withCache(ctx, s.cache, key, s.ttl, func(ctx context.Context) ([]models.TrendingCard, error) {
		query := url.Values{}
		query.Set("limit", strconv.Itoa(limit))

		raw, err := s.client.Request(ctx, "/trending", RequestOptions{Query: query})
		if err != nil {
			return nil, err
		}
		cards := []models.TrendingCard{}
		if raw == nil {
			return cards, nil
		}

		var items []pptTrendingCard
		if err := json.Unmarshal(unwrapData(raw), &items); err != nil {
			s.logger.Warn("malformed trending payload", zap.Error(err))
			return cards, nil
		}
		for _, it := range items {
			set := it.SetName
			if set == "" {
				set = it.Set
			}
			cards = append(cards, models.TrendingCard{
				ProductID:     string(it.TCGPlayerID),
				Name:          it.Name,
				SetName:       set,
				Price:         orElse(it.MarketPrice, it.Price).Decimal,
				ChangePercent: orElse(it.ChangePercent, it.PriceChange).Decimal,
			})
		}
		return cards, nil
	})
}

// SearchCards looks up cards by name and set. Results are candidates only:
// one name is shared by many printings.
func (s *PriceTrackerService) SearchCards(ctx context.Context, name, set string) ([]models.CardMatch, error) {
	key := "ppt:search:" + strings.ToLower(name) + "|" + strings.ToLower(set)
	return withCache(ctx, s.cache, key, s.ttl, func(ctx context.Context) ([]models.CardMatch, error) {
		query := url.Values{}
		query.Set("name", name)
		query.Set("set", set)

		raw, err := s.client.Request(ctx, "/search", RequestOptions{Query: query})
		if err != nil {
			return nil, err
		}
		matches := []models.CardMatch{}
		if raw == nil {
			return matches, nil
		}

		var items []pptCard
		if err := json.Unmarshal(unwrapData(raw), &items); err != nil {
			s.logger.Warn("malformed search payload", zap.String("name", name), zap.String("set", set), zap.Error(err))
			return matches, nil
		}
		for _, it := range items {
			if it.TCGPlayerID == "" {
				continue
			}
			imageURL := it.ImageURL
			if it.ImageCdnURL != "" {
				imageURL = it.ImageCdnURL
			}
			matches = append(matches, models.CardMatch{
				ProductID: string(it.TCGPlayerID),
				Name:      it.Name,
				SetName:   it.setName(),
				Number:    it.CardNumber,
				ImageURL:  imageURL,
			})
		}
		return matches, nil
	})
}

// unwrapData returns the "data" member of an object payload, or the payload
// itself when it has none
func unwrapData(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err == nil && len(envelope.Data) > 0 {
		return envelope.Data
	}
	return trimmed
}

// orElse returns v when it holds a positive value, otherwise fallback
func orElse(v, fallback decimal.NullDecimal) decimal.NullDecimal {
	if v.Valid && v.Decimal.IsPositive() {
		return v
	}
	return fallback
}

// withCache routes through c when caching is enabled
func withCache[T any](ctx context.Context, c *cache.Cache, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return fetch(ctx)
	}
	return cache.GetOrFetch(ctx, c, key, ttl, fetch)
}
