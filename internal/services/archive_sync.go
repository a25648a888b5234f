package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codyseavey/card-pricing/internal/metrics"
	"github.com/codyseavey/card-pricing/internal/models"
)

// ArchiveSyncConfig configures the daily archive pull
type ArchiveSyncConfig struct {
	CategoryID int
	// GroupIDs limits the sync to these groups; empty means every group of
	// the category
	GroupIDs []int
	Interval time.Duration
	// Hour is the UTC hour of the daily run when Interval is a day or more
	Hour int
}

// PriceFileSource is the TCGCSV surface the sync worker reads from
type PriceFileSource interface {
	Groups(ctx context.Context, categoryID int) ([]TCGCSVGroup, error)
	Prices(ctx context.Context, categoryID, groupID int, date models.Date) ([]models.ArchivePrice, error)
}

// ArchiveWriter is where synced rows land
type ArchiveWriter interface {
	Upsert(ctx context.Context, rows []models.ArchivePrice) (int64, error)
	Stats(ctx context.Context) (ArchiveStats, error)
}

// SyncRun describes one archive sync run
type SyncRun struct {
	ID           string        `json:"id"`
	Date         string        `json:"date"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at,omitempty"`
	Duration     time.Duration `json:"duration"`
	Groups       int           `json:"groups"`
	RowsUpserted int64         `json:"rows_upserted"`
	FailedGroups []int         `json:"failed_groups,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// SyncStatus is reported by the status endpoint
type SyncStatus struct {
	Running  bool      `json:"running"`
	LastRun  *SyncRun  `json:"last_run,omitempty"`
	NextRun  time.Time `json:"next_run"`
	Interval string    `json:"interval"`
}

// ErrSyncRunning is returned when a sync is requested while one is active
var ErrSyncRunning = errors.New("archive sync already running")

// ArchiveSyncWorker pulls the daily TCGCSV price files into the archive
type ArchiveSyncWorker struct {
	source PriceFileSource
	store  ArchiveWriter
	cfg    ArchiveSyncConfig
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	running bool
	lastRun *SyncRun
	nextRun time.Time
}

func NewArchiveSyncWorker(source PriceFileSource, store ArchiveWriter, cfg ArchiveSyncConfig, logger *zap.Logger) *ArchiveSyncWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.Hour < 0 || cfg.Hour > 23 {
		cfg.Hour = 0
	}
	return &ArchiveSyncWorker{
		source: source,
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Start runs the schedule until ctx is done. If today's prices are not
// archived yet, a sync runs immediately.
func (w *ArchiveSyncWorker) Start(ctx context.Context) {
	w.logger.Info("archive sync worker started",
		zap.Int("category_id", w.cfg.CategoryID),
		zap.Ints("group_ids", w.cfg.GroupIDs),
		zap.Duration("interval", w.cfg.Interval))

	if w.needsSync(ctx) {
		w.runLogged(ctx)
	}

	for {
		next := w.scheduleNext()
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			w.logger.Info("archive sync worker stopping")
			return
		case <-timer.C:
			w.runLogged(ctx)
		}
	}
}

// needsSync reports whether the archive lacks today's prices
func (w *ArchiveSyncWorker) needsSync(ctx context.Context) bool {
	stats, err := w.store.Stats(ctx)
	if err != nil {
		w.logger.Warn("failed to read archive stats", zap.Error(err))
		return true
	}
	return stats.LatestDate < models.DateOf(w.now()).String()
}

func (w *ArchiveSyncWorker) scheduleNext() time.Time {
	next := w.nextAfter(w.now())
	w.mu.Lock()
	w.nextRun = next
	w.mu.Unlock()
	return next
}

// nextAfter returns the next scheduled run: the configured UTC hour for
// daily schedules, otherwise now plus the interval
func (w *ArchiveSyncWorker) nextAfter(now time.Time) time.Time {
	if w.cfg.Interval < 24*time.Hour {
		return now.Add(w.cfg.Interval)
	}
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), w.cfg.Hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (w *ArchiveSyncWorker) runLogged(ctx context.Context) {
	if _, err := w.Sync(ctx); err != nil && !errors.Is(err, ErrSyncRunning) {
		w.logger.Error("archive sync failed", zap.Error(err))
	}
}

// TriggerSync starts a sync in the background and returns its run id
func (w *ArchiveSyncWorker) TriggerSync(ctx context.Context) (string, error) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return "", ErrSyncRunning
	}
	w.running = true
	w.mu.Unlock()

	id := uuid.NewString()
	go func() {
		if _, err := w.sync(context.WithoutCancel(ctx), id); err != nil {
			w.logger.Error("triggered archive sync failed", zap.String("run_id", id), zap.Error(err))
		}
	}()
	return id, nil
}

// Sync pulls every configured group once and upserts the rows. Group
// failures are recorded on the run and do not stop the others.
func (w *ArchiveSyncWorker) Sync(ctx context.Context) (*SyncRun, error) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil, ErrSyncRunning
	}
	w.running = true
	w.mu.Unlock()

	return w.sync(ctx, uuid.NewString())
}

// sync expects running to be set by the caller and clears it when done
func (w *ArchiveSyncWorker) sync(ctx context.Context, id string) (*SyncRun, error) {
	start := w.now()
	run := &SyncRun{
		ID:        id,
		Date:      models.DateOf(start).String(),
		StartedAt: start,
	}
	defer func() {
		run.FinishedAt = w.now()
		run.Duration = run.FinishedAt.Sub(start)
		metrics.ArchiveSyncDuration.Observe(run.Duration.Seconds())
		w.mu.Lock()
		w.running = false
		w.lastRun = run
		w.mu.Unlock()
	}()

	log := w.logger.With(zap.String("run_id", id))
	log.Info("archive sync starting", zap.String("date", run.Date))

	groups, err := w.groupIDs(ctx)
	if err != nil {
		run.Error = err.Error()
		metrics.ArchiveSyncFailuresTotal.Inc()
		return run, err
	}
	run.Groups = len(groups)

	date := models.DateOf(start)
	for _, groupID := range groups {
		if ctx.Err() != nil {
			run.Error = ctx.Err().Error()
			return run, ctx.Err()
		}

		rows, err := w.source.Prices(ctx, w.cfg.CategoryID, groupID, date)
		if err != nil {
			log.Warn("group price fetch failed", zap.Int("group_id", groupID), zap.Error(err))
			run.FailedGroups = append(run.FailedGroups, groupID)
			metrics.ArchiveSyncFailuresTotal.Inc()
			continue
		}
		n, err := w.store.Upsert(ctx, rows)
		if err != nil {
			log.Warn("group price upsert failed", zap.Int("group_id", groupID), zap.Error(err))
			run.FailedGroups = append(run.FailedGroups, groupID)
			metrics.ArchiveSyncFailuresTotal.Inc()
			continue
		}
		run.RowsUpserted += n
		metrics.ArchiveSyncRowsTotal.Add(float64(n))
	}

	if len(run.FailedGroups) == 0 {
		metrics.ArchiveSyncLastSuccess.Set(float64(w.now().Unix()))
	}
	log.Info("archive sync finished",
		zap.Int("groups", run.Groups),
		zap.Int64("rows", run.RowsUpserted),
		zap.Ints("failed_groups", run.FailedGroups))
	return run, nil
}

func (w *ArchiveSyncWorker) groupIDs(ctx context.Context) ([]int, error) {
	if len(w.cfg.GroupIDs) > 0 {
		return w.cfg.GroupIDs, nil
	}
	groups, err := w.source.Groups(ctx, w.cfg.CategoryID)
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.GroupID)
	}
	return ids, nil
}

// Status returns the worker state for the status endpoint
func (w *ArchiveSyncWorker) Status() SyncStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	status := SyncStatus{
		Running:  w.running,
		NextRun:  w.nextRun,
		Interval: w.cfg.Interval.String(),
	}
	if w.lastRun != nil {
		run := *w.lastRun
		status.LastRun = &run
	}
	return status
}
