package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ArchivePrice stores one daily archive price for a product printing
type ArchivePrice struct {
	ID             uint                `json:"id" gorm:"primaryKey;autoIncrement"`
	ProductID      string              `json:"product_id" gorm:"not null;uniqueIndex:idx_product_variant_date"`
	SubTypeName    PrintingType        `json:"sub_type_name" gorm:"not null;uniqueIndex:idx_product_variant_date;default:'Normal'"`
	Date           string              `json:"date" gorm:"type:varchar(10);not null;uniqueIndex:idx_product_variant_date;index"`
	LowPrice       decimal.NullDecimal `json:"low_price" gorm:"type:decimal(12,2)"`
	MidPrice       decimal.NullDecimal `json:"mid_price" gorm:"type:decimal(12,2)"`
	HighPrice      decimal.NullDecimal `json:"high_price" gorm:"type:decimal(12,2)"`
	MarketPrice    decimal.NullDecimal `json:"market_price" gorm:"type:decimal(12,2)"`
	DirectLowPrice decimal.NullDecimal `json:"direct_low_price" gorm:"type:decimal(12,2)"`
	Source         string              `json:"source"` // "tcgcsv" or "tcgcsv-archive"
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// TableName keeps the archive table name used by the import tooling
func (ArchivePrice) TableName() string {
	return "price_history"
}

// ArchiveHistoryRecord is the wire shape of the internal pricing store's
// price-history endpoint
type ArchiveHistoryRecord struct {
	Date        string              `json:"date"`
	Price       decimal.NullDecimal `json:"price"`
	LowPrice    decimal.NullDecimal `json:"low_price"`
	MidPrice    decimal.NullDecimal `json:"mid_price"`
	HighPrice   decimal.NullDecimal `json:"high_price"`
	MarketPrice decimal.NullDecimal `json:"market_price"`
	SubTypeName string              `json:"sub_type_name,omitempty"`
}

// ArchiveHistoryResponse wraps ArchiveHistoryRecord rows
type ArchiveHistoryResponse struct {
	Success bool                   `json:"success"`
	Data    []ArchiveHistoryRecord `json:"data"`
	Variant string                 `json:"variant"`
	Count   int                    `json:"count"`
	Error   string                 `json:"error,omitempty"`
}

// Record converts a stored row into its wire shape
func (p ArchivePrice) Record() ArchiveHistoryRecord {
	price := p.MidPrice
	if !price.Valid {
		price = p.MarketPrice
	}
	return ArchiveHistoryRecord{
		Date:        p.Date,
		Price:       price,
		LowPrice:    p.LowPrice,
		MidPrice:    p.MidPrice,
		HighPrice:   p.HighPrice,
		MarketPrice: p.MarketPrice,
		SubTypeName: string(p.SubTypeName),
	}
}

// ToPricePoint maps a wire record onto a PricePoint:
// price = mid || market || price, low = low || price, high = high || price.
// ok is false when the record has no usable date or price.
func (r ArchiveHistoryRecord) ToPricePoint() (PricePoint, bool) {
	date, err := ParseDate(r.Date)
	if err != nil {
		return PricePoint{}, false
	}

	price := firstPositive(r.MidPrice, r.MarketPrice, r.Price)
	if !price.Valid {
		return PricePoint{}, false
	}

	low := firstPositive(r.LowPrice, r.Price)
	if !low.Valid {
		low = price
	}
	high := firstPositive(r.HighPrice, r.Price)
	if !high.Valid {
		high = price
	}

	return PricePoint{
		Date:   date,
		Price:  price.Decimal,
		Low:    low,
		High:   high,
		Mid:    r.MidPrice,
		Market: r.MarketPrice,
		Source: "tcgcsv",
	}, true
}

func firstPositive(values ...decimal.NullDecimal) decimal.NullDecimal {
	for _, v := range values {
		if v.Valid && v.Decimal.IsPositive() {
			return v
		}
	}
	return decimal.NullDecimal{}
}
