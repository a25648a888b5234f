package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/codyseavey/card-pricing/internal/models"
)

// ArchiveReader is the read side of the local pricing store
type ArchiveReader interface {
	History(ctx context.Context, productID string, rng models.TimeRange, variant models.PrintingType) ([]models.ArchivePrice, models.PrintingType, error)
	Latest(ctx context.Context, productID string, variant models.PrintingType) (*models.ArchivePrice, error)
}

// ArchiveHandler serves the internal pricing store endpoints other
// instances read through ArchiveHTTPFetcher and the scrape fallback
type ArchiveHandler struct {
	store  ArchiveReader
	logger *zap.Logger
}

func NewArchiveHandler(store ArchiveReader, logger *zap.Logger) *ArchiveHandler {
	return &ArchiveHandler{store: store, logger: orNop(logger)}
}

type flatPoint struct {
	Date  string          `json:"date"`
	Price decimal.Decimal `json:"price"`
}

func (h *ArchiveHandler) GetPriceHistory(c *gin.Context) {
	productID := c.Param("id")
	if !models.IsProductID(productID) {
		c.JSON(http.StatusBadRequest, models.ArchiveHistoryResponse{Error: "product id must be numeric"})
		return
	}

	rows, variant, err := h.store.History(c.Request.Context(), productID,
		models.ParseTimeRange(c.Query("timeRange")), models.ParsePrinting(c.Query("variant")))
	if err != nil {
		h.logger.Error("archive history query failed", zap.String("product_id", productID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.ArchiveHistoryResponse{Error: "failed to read price history"})
		return
	}

	records := make([]models.ArchiveHistoryRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.Record())
	}
	c.JSON(http.StatusOK, models.ArchiveHistoryResponse{
		Success: true,
		Data:    records,
		Variant: string(variant),
		Count:   len(records),
	})
}

func (h *ArchiveHandler) GetCurrentPrice(c *gin.Context) {
	productID := c.Param("id")
	if !models.IsProductID(productID) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "product id must be numeric"})
		return
	}

	row, err := h.store.Latest(c.Request.Context(), productID, models.ParsePrinting(c.Query("variant")))
	if err != nil {
		h.logger.Error("archive current price query failed", zap.String("product_id", productID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to read current price"})
		return
	}
	if row == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no archived price"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": row.Record()})
}

// GetFlatHistory returns [{date, price}] for the scrape fallback path
func (h *ArchiveHandler) GetFlatHistory(c *gin.Context) {
	productID := c.Query("productId")
	if !models.IsProductID(productID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'productId' must be numeric"})
		return
	}

	rows, _, err := h.store.History(c.Request.Context(), productID, models.ParseTimeRange(c.Query("timeRange")), "")
	if err != nil {
		h.logger.Error("flat history query failed", zap.String("product_id", productID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read price history"})
		return
	}

	points := make([]flatPoint, 0, len(rows))
	for _, row := range rows {
		if p := row.Record().Price; p.Valid && p.Decimal.IsPositive() {
			points = append(points, flatPoint{Date: row.Date, Price: p.Decimal})
		}
	}
	c.JSON(http.StatusOK, points)
}
