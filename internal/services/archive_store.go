package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/codyseavey/card-pricing/internal/metrics"
	"github.com/codyseavey/card-pricing/internal/models"
)

const upsertBatchSize = 500

// variantFallbacks lists printings to try, in order, when the requested one
// has no archived rows
var variantFallbacks = map[models.PrintingType][]models.PrintingType{
	models.PrintingNormal:      {models.PrintingNormal, models.PrintingUnlimitedHolofoil},
	models.PrintingHolofoil:    {models.PrintingHolofoil, models.PrintingUnlimitedHolofoil, models.Printing1stEditionHolo},
	models.Printing1stEdition:  {models.Printing1stEdition, models.Printing1stEditionHolo},
	models.PrintingReverseHolo: {models.PrintingReverseHolo},
}

// variantPriority is the last-resort order when no fallback matches
var variantPriority = []models.PrintingType{
	models.PrintingNormal,
	models.PrintingUnlimitedHolofoil,
	models.PrintingHolofoil,
	models.Printing1stEditionHolo,
	models.Printing1stEdition,
	models.PrintingReverseHolo,
}

// ArchiveStore reads and writes the daily archive table
type ArchiveStore struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewArchiveStore creates a store over db
func NewArchiveStore(db *gorm.DB, logger *zap.Logger) *ArchiveStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

func (s *ArchiveStore) today() models.Date {
	return models.DateOf(s.now())
}

// History returns archived rows for a printing within the range, oldest
// first. When the printing has no rows at all, the closest available
// printing is used instead; the returned variant says which.
func (s *ArchiveStore) History(ctx context.Context, productID string, rng models.TimeRange, variant models.PrintingType) ([]models.ArchivePrice, models.PrintingType, error) {
	if variant == "" {
		variant = models.PrintingNormal
	}

	rows, err := s.history(ctx, productID, rng, variant)
	if err != nil || len(rows) > 0 {
		return rows, variant, err
	}

	best, err := s.bestVariant(ctx, productID, variant)
	if err != nil || best == "" || best == variant {
		return rows, variant, err
	}

	s.logger.Debug("using closest archived printing",
		zap.String("product_id", productID),
		zap.String("requested", string(variant)),
		zap.String("using", string(best)))
	rows, err = s.history(ctx, productID, rng, best)
	return rows, best, err
}

func (s *ArchiveStore) history(ctx context.Context, productID string, rng models.TimeRange, variant models.PrintingType) ([]models.ArchivePrice, error) {
	q := s.db.WithContext(ctx).
		Where("product_id = ? AND sub_type_name = ?", productID, variant)
	if start, ok := rng.StartDate(s.today()); ok {
		q = q.Where("date >= ?", start.String())
	}

	var rows []models.ArchivePrice
	if err := q.Order("date ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Variants lists the printings archived for a product
func (s *ArchiveStore) Variants(ctx context.Context, productID string) ([]models.PrintingType, error) {
	var variants []models.PrintingType
	err := s.db.WithContext(ctx).Model(&models.ArchivePrice{}).
		Where("product_id = ?", productID).
		Distinct("sub_type_name").
		Order("sub_type_name").
		Pluck("sub_type_name", &variants).Error
	return variants, err
}

func (s *ArchiveStore) bestVariant(ctx context.Context, productID string, requested models.PrintingType) (models.PrintingType, error) {
	available, err := s.Variants(ctx, productID)
	if err != nil || len(available) == 0 {
		return "", err
	}

	has := make(map[models.PrintingType]bool, len(available))
	for _, v := range available {
		has[v] = true
	}

	candidates, ok := variantFallbacks[requested]
	if !ok {
		candidates = []models.PrintingType{requested}
	}
	for _, v := range append(candidates, variantPriority...) {
		if has[v] {
			return v, nil
		}
	}
	return available[0], nil
}

// Latest returns the most recent archived row for a printing, or nil
func (s *ArchiveStore) Latest(ctx context.Context, productID string, variant models.PrintingType) (*models.ArchivePrice, error) {
	if variant == "" {
		variant = models.PrintingNormal
	}

	var row models.ArchivePrice
	err := s.db.WithContext(ctx).
		Where("product_id = ? AND sub_type_name = ?", productID, variant).
		Order("date DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Upsert inserts rows, replacing prices already archived for the same
// (product, printing, date)
func (s *ArchiveStore) Upsert(ctx context.Context, rows []models.ArchivePrice) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	// ids are cleared so existing rows conflict on the date key, not the primary key
	batch := make([]models.ArchivePrice, len(rows))
	for i, row := range rows {
		row.ID = 0
		if row.SubTypeName == "" {
			row.SubTypeName = models.PrintingNormal
		}
		batch[i] = row
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "product_id"}, {Name: "sub_type_name"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"low_price", "mid_price", "high_price", "market_price", "direct_low_price", "source", "updated_at",
		}),
	}).CreateInBatches(&batch, upsertBatchSize)
	return result.RowsAffected, result.Error
}

// ArchiveStats summarizes the archive for the status endpoint
type ArchiveStats struct {
	Rows       int64  `json:"rows"`
	Products   int64  `json:"products"`
	LatestDate string `json:"latest_date,omitempty"`
}

func (s *ArchiveStore) Stats(ctx context.Context) (ArchiveStats, error) {
	var stats ArchiveStats
	db := s.db.WithContext(ctx).Model(&models.ArchivePrice{})
	if err := db.Count(&stats.Rows).Error; err != nil {
		return stats, err
	}
	if stats.Rows == 0 {
		return stats, nil
	}
	if err := s.db.WithContext(ctx).Model(&models.ArchivePrice{}).
		Distinct("product_id").Count(&stats.Products).Error; err != nil {
		return stats, err
	}
	var latest models.ArchivePrice
	if err := s.db.WithContext(ctx).Order("date DESC").First(&latest).Error; err != nil {
		return stats, err
	}
	stats.LatestDate = latest.Date
	return stats, nil
}

// GetDailyHistory implements ArchivePriceSource over the local table.
// Failures are logged and degrade to an empty history.
func (s *ArchiveStore) GetDailyHistory(ctx context.Context, productID string, rng models.TimeRange, variant models.PrintingType) []models.PricePoint {
	rows, _, err := s.History(ctx, productID, rng, variant)
	if err != nil {
		metrics.ArchiveFetchErrorsTotal.WithLabelValues("store").Inc()
		s.logger.Warn("archive history query failed", zap.String("product_id", productID), zap.Error(err))
		return []models.PricePoint{}
	}

	points := make([]models.PricePoint, 0, len(rows))
	for _, row := range rows {
		if p, ok := row.Record().ToPricePoint(); ok {
			points = append(points, p)
		}
	}
	return points
}

// GetCurrentPrice implements ArchivePriceSource; nil when nothing is archived
func (s *ArchiveStore) GetCurrentPrice(ctx context.Context, productID string, variant models.PrintingType) *models.PricePoint {
	row, err := s.Latest(ctx, productID, variant)
	if err != nil {
		metrics.ArchiveFetchErrorsTotal.WithLabelValues("store").Inc()
		s.logger.Warn("archive current price query failed", zap.String("product_id", productID), zap.Error(err))
		return nil
	}
	if row == nil {
		return nil
	}
	p, ok := row.Record().ToPricePoint()
	if !ok {
		return nil
	}
	return &p
}
