package services

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/codyseavey/card-pricing/internal/metrics"
	"github.com/codyseavey/card-pricing/internal/models"
)

const archiveService = "archive"

// ArchivePriceSource is the daily-archive baseline for price history.
// Implementations never fail: errors are logged and yield empty results.
type ArchivePriceSource interface {
	GetDailyHistory(ctx context.Context, productID string, rng models.TimeRange, variant models.PrintingType) []models.PricePoint
	GetCurrentPrice(ctx context.Context, productID string, variant models.PrintingType) *models.PricePoint
}

// ArchiveHTTPFetcher reads the archive from a remote pricing store over REST
type ArchiveHTTPFetcher struct {
	client  *http.Client
	baseURL string
	logger  *zap.Logger
}

// NewArchiveHTTPFetcher creates a fetcher against baseURL (scheme://host)
func NewArchiveHTTPFetcher(baseURL string, client *http.Client, logger *zap.Logger) *ArchiveHTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveHTTPFetcher{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// GetDailyHistory fetches /api/archive/price-history/:id
func (f *ArchiveHTTPFetcher) GetDailyHistory(ctx context.Context, productID string, rng models.TimeRange, variant models.PrintingType) []models.PricePoint {
	query := url.Values{}
	query.Set("timeRange", string(rng))
	if variant != "" {
		query.Set("variant", string(variant))
	}

	var resp models.ArchiveHistoryResponse
	if err := f.get(ctx, "/api/archive/price-history/"+url.PathEscape(productID), query, &resp); err != nil {
		f.fail("archive history fetch failed", productID, err)
		return []models.PricePoint{}
	}
	if !resp.Success {
		if resp.Error != "" {
			f.logger.Warn("archive history unsuccessful", zap.String("product_id", productID), zap.String("error", resp.Error))
		}
		return []models.PricePoint{}
	}

	points := make([]models.PricePoint, 0, len(resp.Data))
	for _, rec := range resp.Data {
		if p, ok := rec.ToPricePoint(); ok {
			points = append(points, p)
		}
	}
	return points
}

type archiveCurrentResponse struct {
	Success bool                         `json:"success"`
	Data    *models.ArchiveHistoryRecord `json:"data"`
}

// GetCurrentPrice fetches /api/archive/current/:id
func (f *ArchiveHTTPFetcher) GetCurrentPrice(ctx context.Context, productID string, variant models.PrintingType) *models.PricePoint {
	query := url.Values{}
	if variant != "" {
		query.Set("variant", string(variant))
	}

	var resp archiveCurrentResponse
	if err := f.get(ctx, "/api/archive/current/"+url.PathEscape(productID), query, &resp); err != nil {
		f.fail("archive current price fetch failed", productID, err)
		return nil
	}
	if !resp.Success || resp.Data == nil {
		return nil
	}
	p, ok := resp.Data.ToPricePoint()
	if !ok {
		return nil
	}
	return &p
}

func (f *ArchiveHTTPFetcher) fail(msg, productID string, err error) {
	metrics.ArchiveFetchErrorsTotal.WithLabelValues("http").Inc()
	f.logger.Warn(msg, zap.String("product_id", productID), zap.Error(err))
}

func (f *ArchiveHTTPFetcher) get(ctx context.Context, path string, query url.Values, out any) error {
	reqURL := f.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	return getJSON(ctx, f.client, archiveService, reqURL, out)
}
