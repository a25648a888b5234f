package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/codyseavey/card-pricing/internal/models"
)

// CardStore is the catalog surface the card routes read
type CardStore interface {
	Get(ctx context.Context, id string) (*models.Card, error)
}

// CardSearcher finds pricing API products by name and set
type CardSearcher interface {
	SearchCards(ctx context.Context, name, set string) ([]models.CardMatch, error)
}

type CardHandler struct {
	catalog  CardStore
	searcher CardSearcher
	logger   *zap.Logger
}

func NewCardHandler(catalog CardStore, searcher CardSearcher, logger *zap.Logger) *CardHandler {
	return &CardHandler{
		catalog:  catalog,
		searcher: searcher,
		logger:   orNop(logger),
	}
}

func (h *CardHandler) SearchCards(c *gin.Context) {
	name := strings.TrimSpace(c.Query("name"))
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'name' is required"})
		return
	}

	matches, err := h.searcher.SearchCards(c.Request.Context(), name, strings.TrimSpace(c.Query("set")))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if matches == nil {
		matches = []models.CardMatch{}
	}

	c.JSON(http.StatusOK, gin.H{
		"cards":       matches,
		"total_count": len(matches),
	})
}

func (h *CardHandler) GetCard(c *gin.Context) {
	card, err := h.catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if card == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "card not found"})
		return
	}

	c.JSON(http.StatusOK, card)
}

// resolveProductID treats a numeric id as the product id and otherwise asks
// the catalog. The result is empty when neither knows the card.
func resolveProductID(ctx context.Context, catalog CardStore, id string) (string, error) {
	if models.IsProductID(id) {
		return id, nil
	}
	if catalog == nil {
		return "", nil
	}
	card, err := catalog.Get(ctx, id)
	if err != nil || card == nil {
		return "", err
	}
	return card.ProductID, nil
}
