package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codyseavey/card-pricing/internal/models"
)

func TestArchiveHTTPFetcherDailyHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/archive/price-history/86552", r.URL.Path)
		assert.Equal(t, "3M", r.URL.Query().Get("timeRange"))
		assert.Equal(t, "Holofoil", r.URL.Query().Get("variant"))
		w.Write([]byte(`{"success":true,"variant":"Holofoil","count":3,"data":[
			{"date":"2025-01-01","price":10,"low_price":8,"mid_price":9.5},
			{"date":"2025-01-02","price":11},
			{"date":"garbage","price":11},
			{"date":"2025-01-03","price":0}
		]}`))
	}))
	defer srv.Close()

	f := NewArchiveHTTPFetcher(srv.URL+"/", nil, nil)
	points := f.GetDailyHistory(context.Background(), "86552", models.Range3M, models.PrintingHolofoil)
	require.Len(t, points, 2)

	assert.Equal(t, "9.5", points[0].Price.String(), "mid wins over the price column")
	assert.Equal(t, "8", points[0].Low.Decimal.String())
	assert.Equal(t, "10", points[0].High.Decimal.String(), "high falls back to price")

	assert.Equal(t, "11", points[1].Price.String())
	assert.Equal(t, "11", points[1].Low.Decimal.String())
}

func TestArchiveHTTPFetcherFailsSoft(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"db down"}`},
		{"not found", http.StatusNotFound, ``},
		{"unsuccessful", http.StatusOK, `{"success":false,"error":"unknown product"}`},
		{"malformed", http.StatusOK, `{"success":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			f := NewArchiveHTTPFetcher(srv.URL, nil, nil)
			points := f.GetDailyHistory(context.Background(), "1", models.Range1M, "")
			assert.NotNil(t, points)
			assert.Empty(t, points)
			assert.Nil(t, f.GetCurrentPrice(context.Background(), "1", ""))
		})
	}
}

func TestArchiveHTTPFetcherUnreachable(t *testing.T) {
	f := NewArchiveHTTPFetcher("http://127.0.0.1:1", nil, nil)
	assert.Empty(t, f.GetDailyHistory(context.Background(), "1", models.Range1M, ""))
}

func TestArchiveHTTPFetcherCurrentPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/archive/current/5", r.URL.Path)
		w.Write([]byte(`{"success":true,"data":{"date":"2025-02-01","market_price":3.25}}`))
	}))
	defer srv.Close()

	f := NewArchiveHTTPFetcher(srv.URL, nil, nil)
	p := f.GetCurrentPrice(context.Background(), "5", "")
	require.NotNil(t, p)
	assert.Equal(t, "2025-02-01", p.Date.String())
	assert.Equal(t, "3.25", p.Price.String())
}
