package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codyseavey/card-pricing/internal/cache"
	"github.com/codyseavey/card-pricing/internal/models"
)

const testCardPayload = `{
  "data": [{
    "tcgPlayerId": 86552,
    "name": "Charizard",
    "setName": "Base Set",
    "cardNumber": "4/102",
    "price": 350.5,
    "lowPrice": 300,
    "marketPrice": 355.25,
    "psaGrades": {
      "10": {"price": 9500, "population": 121},
      "PSA 9": {"price": 2200, "marketPrice": 2300},
      "mystery": {"price": 1}
    },
    "history": [
      {"date": "2025-01-01", "raw": 340, "psa10": {"market": 9400}},
      {"date": "2025-01-02T08:00:00Z", "raw": {"market": 345, "mid": 344}}
    ]
  }]
}`

func newTrackerService(t *testing.T, handler http.HandlerFunc, c *cache.Cache) (*PriceTrackerService, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client := NewPriceTrackerClient(PriceTrackerClientConfig{BaseURL: srv.URL, RequestsPerSecond: 1000}, NewRateBudget(100, nil), nil)
	svc := NewPriceTrackerService(client, c, time.Minute, zap.NewNop())
	svc.now = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	return svc, &calls
}

func TestGetCurrentPrice(t *testing.T) {
	svc, _ := newTrackerService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testCardPayload))
	}, nil)

	band, err := svc.GetCurrentPrice(context.Background(), "86552")
	require.NoError(t, err)
	require.NotNil(t, band)
	assert.True(t, decimal.RequireFromString("350.5").Equal(band.Mid.Decimal))
	assert.True(t, decimal.RequireFromString("300").Equal(band.Low.Decimal))
	assert.True(t, decimal.RequireFromString("350.5").Equal(band.High.Decimal), "high falls back to price")
	assert.True(t, decimal.RequireFromString("355.25").Equal(band.Market.Decimal))
}

func TestGetCurrentPriceUnknownCard(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload string
	}{
		{"not found", http.StatusNotFound, ``},
		{"empty data", http.StatusOK, `{"data": []}`},
		{"malformed", http.StatusOK, `{"data": "oops"`},
		{"no price", http.StatusOK, `{"data": [{"tcgPlayerId": "1", "price": 0}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTrackerService(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.payload))
			}, nil)

			band, err := svc.GetCurrentPrice(context.Background(), "1")
			assert.NoError(t, err)
			assert.Nil(t, band)
		})
	}
}

func TestGetGradedPrices(t *testing.T) {
	svc, _ := newTrackerService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("includeBoth"))
		w.Write([]byte(testCardPayload))
	}, nil)

	all, err := svc.GetGradedPrices(context.Background(), "86552", models.GradeAll)
	require.NoError(t, err)
	assert.Len(t, all, 2, "unknown grade keys are skipped")
	assert.Equal(t, 121, all[models.GradePSA10].Population)
	assert.True(t, decimal.NewFromInt(2300).Equal(all[models.GradePSA9].MarketPrice))

	only, err := svc.GetGradedPrices(context.Background(), "86552", models.GradePSA9)
	require.NoError(t, err)
	assert.Len(t, only, 1)
	assert.Contains(t, only, models.GradePSA9)
}

func TestGetHistoryShapes(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    int
	}{
		{"bare array", `[{"date":"2025-01-01","raw":1.5},{"date":"2025-01-02","psa10":50}]`, 2},
		{"data envelope", `{"data":[{"date":"2025-01-01","raw":{"market":1.5}}]}`, 1},
		{"bad rows skipped", `[{"date":"not a date","raw":1},{"raw":2},{"date":"2025-01-03","raw":3}]`, 1},
		{"malformed", `{"data":`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTrackerService(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/history/42", r.URL.Path)
				assert.Equal(t, "both", r.URL.Query().Get("type"))
				assert.Equal(t, "6m", r.URL.Query().Get("range"))
				w.Write([]byte(tt.payload))
			}, nil)

			rows, err := svc.GetHistory(context.Background(), "42", HistoryBoth, models.Range6M)
			require.NoError(t, err)
			assert.Len(t, rows, tt.want)
		})
	}
}

func TestGetHistoryGradeValues(t *testing.T) {
	svc, _ := newTrackerService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"date":"2025-01-01","raw":null,"PSA 10":{"market":0,"mid":49.5},"psa9":12}]`))
	}, nil)

	rows, err := svc.GetHistory(context.Background(), "42", HistoryBoth, models.Range1M)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	_, ok := rows[0].Value(models.GradeRaw)
	assert.False(t, ok, "null raw is absent")

	v, ok := rows[0].Value(models.GradePSA10)
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("49.5").Equal(v), "zero market falls back to mid")

	v, ok = rows[0].Value(models.GradePSA9)
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(12).Equal(v))
}

func TestGetHistoryIsCached(t *testing.T) {
	mem, err := cache.NewMemory(10)
	require.NoError(t, err)
	svc, calls := newTrackerService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"date":"2025-01-01","raw":1}]`))
	}, cache.New(mem, nil))

	for i := 0; i < 3; i++ {
		rows, err := svc.GetHistory(context.Background(), "42", HistoryBoth, models.Range3M)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetHistoryPropagatesUpstreamError(t *testing.T) {
	svc, _ := newTrackerService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, nil)

	_, err := svc.GetHistory(context.Background(), "42", HistoryBoth, models.Range3M)
	var upstream *UpstreamError
	assert.ErrorAs(t, err, &upstream)
}

func TestGetComprehensivePricing(t *testing.T) {
	svc, _ := newTrackerService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("includeHistory"))
		w.Write([]byte(testCardPayload))
	}, nil)

	comp, err := svc.GetComprehensivePricing(context.Background(), "86552")
	require.NoError(t, err)
	require.NotNil(t, comp)
	assert.Equal(t, "Charizard", comp.Name)
	assert.Equal(t, "Base Set", comp.SetName)
	assert.NotNil(t, comp.Raw)
	assert.Len(t, comp.PSA, 2)
	assert.Len(t, comp.History, 2)
	assert.NotNil(t, comp.Conditions)
	assert.Equal(t, "2025-01-02", comp.History[1].Date.String())
}

func TestGetPSAPopulation(t *testing.T) {
	svc, _ := newTrackerService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/psa/population/7", r.URL.Path)
		w.Write([]byte(`{"data":{"10":120,"psa9":{"population":340},"8":{"count":55},"raw":999,"bogus":"x"}}`))
	}, nil)

	pop, err := svc.GetPSAPopulation(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, map[models.Grade]int{
		models.GradePSA10: 120,
		models.GradePSA9:  340,
		models.GradePSA8:  55,
	}, pop)
}

func TestSearchCards(t *testing.T) {
	svc, _ := newTrackerService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Pikachu", r.URL.Query().Get("name"))
		w.Write([]byte(`{"data":[
			{"tcgPlayerId":"100","name":"Pikachu","set":"Jungle","imageUrl":"a.png","imageCdnUrl":"cdn.png"},
			{"name":"No Id"}
		]}`))
	}, nil)

	matches, err := svc.SearchCards(context.Background(), "Pikachu", "Jungle")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, models.CardMatch{ProductID: "100", Name: "Pikachu", SetName: "Jungle", ImageURL: "cdn.png"}, matches[0])
}

func TestGetTrendingCards(t *testing.T) {
	svc, _ := newTrackerService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		w.Write([]byte(`[{"tcgPlayerId":9,"name":"Mew","setName":"Promo","price":10,"marketPrice":12,"priceChange":4.5}]`))
	}, nil)

	cards, err := svc.GetTrendingCards(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "9", cards[0].ProductID)
	assert.True(t, decimal.NewFromInt(12).Equal(cards[0].Price))
	assert.True(t, decimal.RequireFromString("4.5").Equal(cards[0].ChangePercent))
}
