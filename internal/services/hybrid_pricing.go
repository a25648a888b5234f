package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/codyseavey/card-pricing/internal/metrics"
	"github.com/codyseavey/card-pricing/internal/models"
)

// PriceHistorySource is the pricing API surface the hybrid service needs
type PriceHistorySource interface {
	GetHistory(ctx context.Context, productID string, historyType HistoryType, rng models.TimeRange) ([]models.HistoryRow, error)
	GetComprehensivePricing(ctx context.Context, productID string) (*ComprehensivePricing, error)
	SearchCards(ctx context.Context, name, set string) ([]models.CardMatch, error)
}

// ChartFallback produces a chart when neither primary source has data
type ChartFallback interface {
	ChartData(ctx context.Context, ref models.CardRef, rng models.TimeRange) models.ChartSeries
}

// CardLookup is the catalog surface used during id resolution
type CardLookup interface {
	Get(ctx context.Context, id string) (*models.Card, error)
	SetProductID(ctx context.Context, id, productID string) error
}

// HistoryOptions selects the chart channels
type HistoryOptions struct {
	IncludeRaw   bool
	IncludePSA10 bool
	IncludePSA9  bool
}

// Channels returns the requested channels in display order
func (o HistoryOptions) Channels() []models.Grade {
	var channels []models.Grade
	if o.IncludeRaw {
		channels = append(channels, models.GradeRaw)
	}
	if o.IncludePSA10 {
		channels = append(channels, models.GradePSA10)
	}
	if o.IncludePSA9 {
		channels = append(channels, models.GradePSA9)
	}
	return channels
}

// DefaultHistoryOptions charts raw and PSA 10; PSA 9 is opt-in
func DefaultHistoryOptions() HistoryOptions {
	return HistoryOptions{IncludeRaw: true, IncludePSA10: true}
}

// HybridPricingService combines the daily archive with the pricing API into
// one chart. It never returns errors: failures degrade to less data and, at
// worst, to an empty chart.
type HybridPricingService struct {
	archive  ArchivePriceSource
	tracker  PriceHistorySource
	catalog  CardLookup
	fallback ChartFallback
	logger   *zap.Logger
}

// NewHybridPricingService wires the sources. catalog and fallback may be nil.
func NewHybridPricingService(archive ArchivePriceSource, tracker PriceHistorySource, catalog CardLookup, fallback ChartFallback, logger *zap.Logger) *HybridPricingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HybridPricingService{
		archive:  archive,
		tracker:  tracker,
		catalog:  catalog,
		fallback: fallback,
		logger:   logger,
	}
}

// GetCardPriceHistory returns the merged chart for a card. Both sources are
// fetched concurrently under ctx; a panic in either yields an empty chart.
func (s *HybridPricingService) GetCardPriceHistory(ctx context.Context, ref models.CardRef, rng models.TimeRange, opts HistoryOptions) (out models.ChartSeries) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("price history panicked", zap.String("card", ref.String()), zap.Any("panic", r))
			metrics.PriceHistoryRequestsTotal.WithLabelValues("panic").Inc()
			out = models.EmptyChartSeries()
		}
	}()

	productID, ok := s.resolveProductID(ctx, ref)
	if !ok {
		return s.fallbackChart(ctx, ref, rng)
	}
	ref.ProductID = productID

	channels := opts.Channels()
	var (
		base     []models.PricePoint
		rows     []models.HistoryRow
		panicked atomic.Bool
	)

	g, gctx := errgroup.WithContext(ctx)
	s.spawn(g, &panicked, "archive", productID, func() {
		if s.archive != nil {
			base = s.archive.GetDailyHistory(gctx, productID, rng, ref.Variant)
		}
	})
	if len(channels) > 0 && s.tracker != nil {
		s.spawn(g, &panicked, "tracker", productID, func() {
			history, err := s.tracker.GetHistory(gctx, productID, HistoryBoth, rng)
			if err != nil {
				s.logSourceError("tracker history unavailable", productID, err)
				return
			}
			rows = history
		})
	}
	_ = g.Wait()

	if panicked.Load() {
		metrics.PriceHistoryRequestsTotal.WithLabelValues("panic").Inc()
		return models.EmptyChartSeries()
	}
	if len(base) == 0 && len(rows) == 0 {
		return s.fallbackChart(ctx, ref, rng)
	}

	out = MergeSeries(base, [][]models.HistoryRow{rows}, channels)
	out.Source = models.ChartSourceHybrid
	s.observe(out)
	return out
}

// spawn runs fn in the group. fn never fails the group; a panic is
// recorded and logged instead.
func (s *HybridPricingService) spawn(g *errgroup.Group, panicked *atomic.Bool, source, productID string, fn func()) {
	g.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				panicked.Store(true)
				s.logger.Error("price source panicked",
					zap.String("source", source),
					zap.String("product_id", productID),
					zap.Any("panic", r))
			}
		}()
		fn()
		return nil
	})
}

func (s *HybridPricingService) logSourceError(msg, productID string, err error) {
	if IsRateLimited(err) {
		s.logger.Info(msg, zap.String("product_id", productID), zap.Error(err))
		return
	}
	s.logger.Warn(msg, zap.String("product_id", productID), zap.Error(err))
}

func (s *HybridPricingService) fallbackChart(ctx context.Context, ref models.CardRef, rng models.TimeRange) models.ChartSeries {
	if s.fallback == nil {
		metrics.PriceHistoryRequestsTotal.WithLabelValues("empty").Inc()
		return models.EmptyChartSeries()
	}
	out := s.fallback.ChartData(ctx, ref, rng)
	if out.IsEmpty() {
		metrics.PriceHistoryRequestsTotal.WithLabelValues("empty").Inc()
		return out
	}
	s.observe(out)
	return out
}

func (s *HybridPricingService) observe(out models.ChartSeries) {
	metrics.PriceHistoryRequestsTotal.WithLabelValues(out.Source).Inc()
	metrics.PriceHistoryPoints.Observe(float64(len(out.Labels)))
}

// resolveProductID picks the product id for ref: an explicit numeric id,
// then the catalog, then a name+set search that must match exactly one card
func (s *HybridPricingService) resolveProductID(ctx context.Context, ref models.CardRef) (string, bool) {
	if ref.HasProductID() {
		metrics.CardResolutionsTotal.WithLabelValues("product_id").Inc()
		return ref.ProductID, true
	}

	if ref.ID != "" && s.catalog != nil {
		card, err := s.catalog.Get(ctx, ref.ID)
		if err != nil {
			s.logger.Warn("catalog lookup failed", zap.String("card_id", ref.ID), zap.Error(err))
		}
		if card != nil {
			if models.IsProductID(card.ProductID) {
				metrics.CardResolutionsTotal.WithLabelValues("catalog").Inc()
				return card.ProductID, true
			}
			if !ref.HasNameAndSet() {
				ref.Name, ref.SetName = card.Name, card.SetName
			}
		}
	}

	if !ref.HasNameAndSet() || s.tracker == nil {
		metrics.CardResolutionsTotal.WithLabelValues("unresolved").Inc()
		return "", false
	}

	productID, err := s.searchUnique(ctx, ref.Name, ref.SetName)
	if err != nil {
		s.logger.Warn("card not resolved by name and set",
			zap.String("name", ref.Name),
			zap.String("set", ref.SetName),
			zap.Error(err))
		return "", false
	}
	metrics.CardResolutionsTotal.WithLabelValues("search").Inc()

	if ref.ID != "" && s.catalog != nil {
		if err := s.catalog.SetProductID(ctx, ref.ID, productID); err != nil {
			s.logger.Warn("failed to remember product id", zap.String("card_id", ref.ID), zap.Error(err))
		}
	}
	return productID, true
}

var (
	errAmbiguousCard = errors.New("ambiguous name and set")
	errUnknownCard   = errors.New("no card matches name and set")
)

func (s *HybridPricingService) searchUnique(ctx context.Context, name, set string) (string, error) {
	matches, err := s.tracker.SearchCards(ctx, name, set)
	if err != nil {
		metrics.CardResolutionsTotal.WithLabelValues("unresolved").Inc()
		return "", err
	}

	var found []string
	for _, m := range matches {
		if strings.EqualFold(strings.TrimSpace(m.Name), strings.TrimSpace(name)) &&
			strings.EqualFold(strings.TrimSpace(m.SetName), strings.TrimSpace(set)) {
			found = append(found, m.ProductID)
		}
	}

	switch len(found) {
	case 0:
		metrics.CardResolutionsTotal.WithLabelValues("unresolved").Inc()
		return "", errUnknownCard
	case 1:
		return found[0], nil
	default:
		metrics.CardResolutionsTotal.WithLabelValues("ambiguous").Inc()
		return "", fmt.Errorf("%w: %d candidates (%s)", errAmbiguousCard, len(found), strings.Join(found, ", "))
	}
}

// GetCurrentPricing returns the latest raw and PSA 10/9 prices. Fields the
// sources cannot provide are nil; it never fails. The archive's latest day
// stands in for the raw price when the pricing API has none.
func (s *HybridPricingService) GetCurrentPricing(ctx context.Context, productID string) (out models.CurrentPricing) {
	out.ProductID = productID
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("current pricing panicked", zap.String("product_id", productID), zap.Any("panic", r))
			out = models.CurrentPricing{ProductID: productID}
		}
	}()

	if s.tracker != nil {
		comp, err := s.tracker.GetComprehensivePricing(ctx, productID)
		if err != nil {
			s.logSourceError("comprehensive pricing unavailable", productID, err)
		}
		if comp != nil {
			out.Raw = comp.Raw
			if p, ok := comp.PSA[models.GradePSA10]; ok {
				out.PSA10 = &p
			}
			if p, ok := comp.PSA[models.GradePSA9]; ok {
				out.PSA9 = &p
			}
			if !comp.Timestamp.IsZero() {
				ts := comp.Timestamp
				out.Timestamp = &ts
			}
		}
	}

	if out.Raw == nil && s.archive != nil {
		if p := s.archive.GetCurrentPrice(ctx, productID, ""); p != nil {
			out.Raw = &models.PriceBand{Low: p.Low, Mid: p.Mid, High: p.High, Market: p.Market}
			if out.Timestamp == nil {
				ts := p.Date.Time
				out.Timestamp = &ts
			}
		}
	}
	return out
}
