package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Card is a catalog entry. ProductID is the TCGplayer product id shared by the
// archive feed and the pricing API.
type Card struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	ProductID  string    `json:"product_id" gorm:"index"`
	Name       string    `json:"name" gorm:"not null;index"`
	SetName    string    `json:"set_name"`
	SetCode    string    `json:"set_code"`
	CardNumber string    `json:"card_number"`
	Rarity     string    `json:"rarity"`
	ImageURL   string    `json:"image_url"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Ref returns the lookup key for this card
func (c Card) Ref() CardRef {
	return CardRef{
		ID:        c.ID,
		ProductID: c.ProductID,
		Name:      c.Name,
		SetName:   c.SetName,
	}
}

// CardRef identifies a card across pricing sources. A ProductID always wins
// over Name+SetName; the name pair is ambiguous across printings and is only
// a last-resort lookup.
type CardRef struct {
	ID        string       `json:"id,omitempty"`
	ProductID string       `json:"product_id,omitempty"`
	Name      string       `json:"name,omitempty"`
	SetName   string       `json:"set_name,omitempty"`
	Variant   PrintingType `json:"variant,omitempty"`
}

// HasProductID reports whether a usable numeric product id is present
func (r CardRef) HasProductID() bool {
	return IsProductID(r.ProductID)
}

// HasNameAndSet reports whether the degraded name+set lookup is possible
func (r CardRef) HasNameAndSet() bool {
	return strings.TrimSpace(r.Name) != "" && strings.TrimSpace(r.SetName) != ""
}

// String is used as a log key
func (r CardRef) String() string {
	if r.HasProductID() {
		return r.ProductID
	}
	if r.HasNameAndSet() {
		return r.Name + " / " + r.SetName
	}
	return r.ID
}

// IsProductID reports whether s is a non-empty string of digits
func IsProductID(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// CardMatch is a search hit from the pricing API
type CardMatch struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	SetName   string `json:"set_name"`
	Number    string `json:"number,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
}

// TrendingCard is an entry of the pricing API's trending list
type TrendingCard struct {
	ProductID     string          `json:"product_id"`
	Name          string          `json:"name"`
	SetName       string          `json:"set_name"`
	Price         decimal.Decimal `json:"price"`
	ChangePercent decimal.Decimal `json:"change_percent"`
}
