package services

import (
	"sync"
	"time"

	"github.com/codyseavey/card-pricing/internal/metrics"
)

// RateBudget is a client-side daily request quota. The window is the UTC
// calendar day; the counter resets on the first call of a new day.
type RateBudget struct {
	mu          sync.Mutex
	dailyLimit  int
	used        int
	windowStart time.Time
	now         func() time.Time
}

// BudgetStatus is a snapshot of the quota for the status endpoint
type BudgetStatus struct {
	DailyLimit int       `json:"daily_limit"`
	Used       int       `json:"used"`
	Remaining  int       `json:"remaining"`
	ResetsAt   time.Time `json:"resets_at"`
}

// NewRateBudget creates a budget of dailyLimit requests per UTC day.
// now may be nil to use time.Now.
func NewRateBudget(dailyLimit int, now func() time.Time) *RateBudget {
	if now == nil {
		now = time.Now
	}
	b := &RateBudget{
		dailyLimit: dailyLimit,
		now:        now,
	}
	metrics.PriceTrackerQuotaLimit.Set(float64(dailyLimit))
	metrics.PriceTrackerQuotaRemaining.Set(float64(dailyLimit))
	return b
}

// rollover resets the counter if the UTC day changed. Caller holds mu.
func (b *RateBudget) rollover() time.Time {
	now := b.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if b.windowStart.Before(today) {
		b.used = 0
		b.windowStart = today
	}
	return b.windowStart
}

// TryAcquire reserves one request. It returns the window the reservation
// belongs to, for Release, and false if the budget is spent.
func (b *RateBudget) TryAcquire() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	window := b.rollover()
	if b.used >= b.dailyLimit {
		return window, false
	}
	b.used++
	metrics.PriceTrackerQuotaRemaining.Set(float64(b.dailyLimit - b.used))
	return window, true
}

// Release returns a reservation for a request that was never sent.
// Reservations from an earlier window are ignored.
func (b *RateBudget) Release(window time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.rollover().Equal(window) || b.used == 0 {
		return
	}
	b.used--
	metrics.PriceTrackerQuotaRemaining.Set(float64(b.dailyLimit - b.used))
}

// SyncRemaining lowers the local budget to what the upstream reports is left
// today. It never raises it.
func (b *RateBudget) SyncRemaining(remaining int) {
	if remaining < 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollover()
	if used := b.dailyLimit - remaining; used > b.used {
		b.used = used
		metrics.PriceTrackerQuotaRemaining.Set(float64(b.dailyLimit - b.used))
	}
}

// Remaining returns the number of requests left today
func (b *RateBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollover()
	if remaining := b.dailyLimit - b.used; remaining > 0 {
		return remaining
	}
	return 0
}

// DailyLimit returns the configured limit
func (b *RateBudget) DailyLimit() int {
	return b.dailyLimit
}

// ResetTime returns the next UTC midnight
func (b *RateBudget) ResetTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rollover().AddDate(0, 0, 1)
}

func (b *RateBudget) Status() BudgetStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	window := b.rollover()
	remaining := b.dailyLimit - b.used
	if remaining < 0 {
		remaining = 0
	}
	return BudgetStatus{
		DailyLimit: b.dailyLimit,
		Used:       b.used,
		Remaining:  remaining,
		ResetsAt:   window.AddDate(0, 0, 1),
	}
}
