package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codyseavey/card-pricing/internal/models"
	"github.com/codyseavey/card-pricing/internal/services"
)

const (
	defaultTrendingLimit = 10
	maxTrendingLimit     = 100
)

// HistoryService builds charts and current pricing. It never fails.
type HistoryService interface {
	GetCardPriceHistory(ctx context.Context, ref models.CardRef, rng models.TimeRange, opts services.HistoryOptions) models.ChartSeries
	GetCurrentPricing(ctx context.Context, productID string) models.CurrentPricing
}

// PricingSource is the pricing API surface behind the graded, population and
// trending routes
type PricingSource interface {
	GetGradedPrices(ctx context.Context, productID string, grade models.Grade) (map[models.Grade]models.GradedPrice, error)
	GetPSAPopulation(ctx context.Context, productID string) (map[models.Grade]int, error)
	GetTrendingCards(ctx context.Context, limit int) ([]models.TrendingCard, error)
}

// BudgetReporter reports the pricing API request budget
type BudgetReporter interface {
	Status() services.BudgetStatus
}

// SyncController runs archive syncs on demand
type SyncController interface {
	TriggerSync(ctx context.Context) (string, error)
	Status() services.SyncStatus
}

// ArchiveStatsReader reports archive table totals
type ArchiveStatsReader interface {
	Stats(ctx context.Context) (services.ArchiveStats, error)
}

type PriceHandler struct {
	history HistoryService
	pricing PricingSource
	catalog CardStore
	budget  BudgetReporter
	sync    SyncController
	archive ArchiveStatsReader
	logger  *zap.Logger
}

// PriceHandlerDeps groups the PriceHandler collaborators. sync and archive
// may be nil when the archive sync is disabled.
type PriceHandlerDeps struct {
	History HistoryService
	Pricing PricingSource
	Catalog CardStore
	Budget  BudgetReporter
	Sync    SyncController
	Archive ArchiveStatsReader
}

func NewPriceHandler(deps PriceHandlerDeps, logger *zap.Logger) *PriceHandler {
	return &PriceHandler{
		history: deps.History,
		pricing: deps.Pricing,
		catalog: deps.Catalog,
		budget:  deps.Budget,
		sync:    deps.Sync,
		archive: deps.Archive,
		logger:  orNop(logger),
	}
}

// GetPriceHistory returns the hybrid chart for a card. It always answers
// 200; missing data is an empty chart.
func (h *PriceHandler) GetPriceHistory(c *gin.Context) {
	id := c.Param("id")
	ref := models.CardRef{
		ID:      id,
		Name:    strings.TrimSpace(c.Query("name")),
		SetName: strings.TrimSpace(c.Query("set")),
	}
	if models.IsProductID(id) {
		ref.ProductID = id
	}
	if v := c.Query("variant"); v != "" {
		ref.Variant = models.ParsePrinting(v)
	}

	defaults := services.DefaultHistoryOptions()
	opts := services.HistoryOptions{
		IncludeRaw:   queryBool(c, "raw", defaults.IncludeRaw),
		IncludePSA10: queryBool(c, "psa10", defaults.IncludePSA10),
		IncludePSA9:  queryBool(c, "psa9", defaults.IncludePSA9),
	}

	rng := models.ParseTimeRange(c.Query("timeRange"))
	chart := h.history.GetCardPriceHistory(c.Request.Context(), ref, rng, opts)
	c.JSON(http.StatusOK, gin.H{
		"card_id":    id,
		"time_range": rng,
		"chart":      chart,
	})
}

// GetCurrentPricing returns the latest raw and PSA prices for a card
func (h *PriceHandler) GetCurrentPricing(c *gin.Context) {
	productID, ok := h.productID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.history.GetCurrentPricing(c.Request.Context(), productID))
}

func (h *PriceHandler) GetGradedPrices(c *gin.Context) {
	productID, ok := h.productID(c)
	if !ok {
		return
	}

	grade := models.NormalizeGrade(c.DefaultQuery("grade", string(models.GradeAll)))
	if grade == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown grade"})
		return
	}

	prices, err := h.pricing.GetGradedPrices(c.Request.Context(), productID, grade)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if len(prices) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no graded prices for card"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"product_id": productID,
		"grades":     prices,
	})
}

func (h *PriceHandler) GetPopulation(c *gin.Context) {
	productID, ok := h.productID(c)
	if !ok {
		return
	}

	pop, err := h.pricing.GetPSAPopulation(c.Request.Context(), productID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if pop == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no population data for card"})
		return
	}

	total := 0
	for _, n := range pop {
		total += n
	}
	c.JSON(http.StatusOK, gin.H{
		"product_id": productID,
		"population": pop,
		"total":      total,
	})
}

func (h *PriceHandler) GetTrending(c *gin.Context) {
	limit := defaultTrendingLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxTrendingLimit)
	}

	cards, err := h.pricing.GetTrendingCards(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if cards == nil {
		cards = []models.TrendingCard{}
	}
	c.JSON(http.StatusOK, gin.H{"cards": cards})
}

// GetPriceStatus returns the API budget and archive sync state
func (h *PriceHandler) GetPriceStatus(c *gin.Context) {
	resp := gin.H{}
	if h.budget != nil {
		resp["budget"] = h.budget.Status()
	}
	if h.sync != nil {
		resp["sync"] = h.sync.Status()
	}
	if h.archive != nil {
		stats, err := h.archive.Stats(c.Request.Context())
		if err != nil {
			h.logger.Warn("failed to read archive stats", zap.Error(err))
		} else {
			resp["archive"] = stats
		}
	}
	c.JSON(http.StatusOK, resp)
}

// TriggerSync starts an archive sync in the background
func (h *PriceHandler) TriggerSync(c *gin.Context) {
	if h.sync == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archive sync is disabled"})
		return
	}

	id, err := h.sync.TriggerSync(c.Request.Context())
	if errors.Is(err, services.ErrSyncRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "archive sync started",
		"run_id":  id,
	})
}

// productID resolves the :id param and writes the error response itself
// when it cannot
func (h *PriceHandler) productID(c *gin.Context) (string, bool) {
	productID, err := resolveProductID(c.Request.Context(), h.catalog, c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return "", false
	}
	if productID == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "card has no product id"})
		return "", false
	}
	return productID, true
}

func queryBool(c *gin.Context, key string, fallback bool) bool {
	v, ok := c.GetQuery(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
