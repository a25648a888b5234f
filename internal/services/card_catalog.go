package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/codyseavey/card-pricing/internal/metrics"
	"github.com/codyseavey/card-pricing/internal/models"
)

// CardCatalog is the local table of known cards. It remembers the product
// id of a card once name+set resolution has found one.
type CardCatalog struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewCardCatalog(db *gorm.DB, logger *zap.Logger) *CardCatalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CardCatalog{db: db, logger: logger}
}

// Get returns the card with the given id, or nil if it is not in the catalog
func (c *CardCatalog) Get(ctx context.Context, id string) (*models.Card, error) {
	var card models.Card
	err := c.db.WithContext(ctx).First(&card, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load card %s: %w", id, err)
	}
	return &card, nil
}

// FindByNameSet returns catalog cards whose name and set match
// case-insensitively
func (c *CardCatalog) FindByNameSet(ctx context.Context, name, set string) ([]models.Card, error) {
	var cards []models.Card
	err := c.db.WithContext(ctx).
		Where("LOWER(name) = ? AND LOWER(set_name) = ?", strings.ToLower(strings.TrimSpace(name)), strings.ToLower(strings.TrimSpace(set))).
		Find(&cards).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search catalog: %w", err)
	}
	return cards, nil
}

// Upsert inserts or updates cards by id
func (c *CardCatalog) Upsert(ctx context.Context, cards ...models.Card) error {
	if len(cards) == 0 {
		return nil
	}
	err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"product_id", "name", "set_name", "set_code", "card_number", "rarity", "image_url", "updated_at"}),
	}).Create(&cards).Error
	if err != nil {
		return fmt.Errorf("failed to upsert cards: %w", err)
	}
	c.refreshSize(ctx)
	return nil
}

// SetProductID records a resolved product id; unknown ids are ignored
func (c *CardCatalog) SetProductID(ctx context.Context, id, productID string) error {
	if id == "" || !models.IsProductID(productID) {
		return nil
	}
	res := c.db.WithContext(ctx).Model(&models.Card{}).
		Where("id = ?", id).
		Update("product_id", productID)
	if res.Error != nil {
		return fmt.Errorf("failed to set product id for %s: %w", id, res.Error)
	}
	if res.RowsAffected > 0 {
		c.logger.Info("catalog product id resolved", zap.String("card_id", id), zap.String("product_id", productID))
	}
	return nil
}

// Count returns the number of cards in the catalog
func (c *CardCatalog) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := c.db.WithContext(ctx).Model(&models.Card{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (c *CardCatalog) refreshSize(ctx context.Context) {
	n, err := c.Count(ctx)
	if err != nil {
		c.logger.Warn("failed to count catalog", zap.Error(err))
		return
	}
	metrics.CardCatalogSize.Set(float64(n))
}
