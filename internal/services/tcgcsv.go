package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/codyseavey/card-pricing/internal/models"
)

const (
	tcgcsvService = "tcgcsv"

	// SourceTCGCSV marks rows pulled from the live daily price files
	SourceTCGCSV = "tcgcsv"
	// SourceTCGCSVArchive marks rows imported from historical archive dumps
	SourceTCGCSVArchive = "tcgcsv-archive"
)

// TCGCSVPrice is one row of a group price file
type TCGCSVPrice struct {
	ProductID      int                 `json:"productId"`
	LowPrice       decimal.NullDecimal `json:"lowPrice"`
	MidPrice       decimal.NullDecimal `json:"midPrice"`
	HighPrice      decimal.NullDecimal `json:"highPrice"`
	MarketPrice    decimal.NullDecimal `json:"marketPrice"`
	DirectLowPrice decimal.NullDecimal `json:"directLowPrice"`
	SubTypeName    string              `json:"subTypeName"`
}

// TCGCSVGroup is one set listed for a category
type TCGCSVGroup struct {
	GroupID      int    `json:"groupId"`
	Name         string `json:"name"`
	Abbreviation string `json:"abbreviation"`
}

type tcgcsvResponse[T any] struct {
	Success bool     `json:"success"`
	Errors  []string `json:"errors"`
	Results []T      `json:"results"`
}

// ParseTCGCSVPrices decodes a group price file into archive rows for date.
// Rows without a product id or any price are dropped.
func ParseTCGCSVPrices(data []byte, date models.Date, source string) ([]models.ArchivePrice, error) {
	var resp tcgcsvResponse[TCGCSVPrice]
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode price file: %w", err)
	}
	if !resp.Success && len(resp.Errors) > 0 {
		return nil, fmt.Errorf("price file reports errors: %s", strings.Join(resp.Errors, "; "))
	}

	rows := make([]models.ArchivePrice, 0, len(resp.Results))
	for _, p := range resp.Results {
		if p.ProductID <= 0 {
			continue
		}
		if !p.LowPrice.Valid && !p.MidPrice.Valid && !p.HighPrice.Valid && !p.MarketPrice.Valid {
			continue
		}
		variant := models.PrintingType(p.SubTypeName)
		if variant == "" {
			variant = models.PrintingNormal
		}
		rows = append(rows, models.ArchivePrice{
			ProductID:      strconv.Itoa(p.ProductID),
			SubTypeName:    variant,
			Date:           date.String(),
			LowPrice:       p.LowPrice,
			MidPrice:       p.MidPrice,
			HighPrice:      p.HighPrice,
			MarketPrice:    p.MarketPrice,
			DirectLowPrice: p.DirectLowPrice,
			Source:         source,
		})
	}
	return rows, nil
}

// TCGCSVClient reads the public TCGCSV mirror of TCGplayer catalog and
// price files
type TCGCSVClient struct {
	client  *http.Client
	baseURL string
	pacer   *rate.Limiter
}

// NewTCGCSVClient creates a client paced at rps requests per second
func NewTCGCSVClient(baseURL string, rps float64, client *http.Client) *TCGCSVClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if rps <= 0 {
		rps = 2
	}
	return &TCGCSVClient{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		pacer:   rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Groups lists the groups (sets) of a category
func (c *TCGCSVClient) Groups(ctx context.Context, categoryID int) ([]TCGCSVGroup, error) {
	var resp tcgcsvResponse[TCGCSVGroup]
	if err := c.get(ctx, fmt.Sprintf("/tcgplayer/%d/groups", categoryID), &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Prices fetches one group's current price file as archive rows for date
func (c *TCGCSVClient) Prices(ctx context.Context, categoryID, groupID int, date models.Date) ([]models.ArchivePrice, error) {
	var raw json.RawMessage
	if err := c.get(ctx, fmt.Sprintf("/tcgplayer/%d/%d/prices", categoryID, groupID), &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return ParseTCGCSVPrices(raw, date, SourceTCGCSV)
}

func (c *TCGCSVClient) get(ctx context.Context, path string, out any) error {
	if err := c.pacer.Wait(ctx); err != nil {
		return &TransportError{Service: tcgcsvService, Err: err}
	}
	return getJSON(ctx, c.client, tcgcsvService, c.baseURL+path, out)
}
