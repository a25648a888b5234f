package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/codyseavey/card-pricing/internal/models"
	"github.com/codyseavey/card-pricing/internal/services"
)

const priceFileName = "prices"

type rowWriter interface {
	Upsert(ctx context.Context, rows []models.ArchivePrice) (int64, error)
}

// importer walks an archive directory. A nil writer parses only.
type importer struct {
	category int
	writer   rowWriter
	logger   *zap.Logger
}

type importSummary struct {
	Days        int
	Files       int
	RowsParsed  int
	RowsWritten int64
	Skipped     []string
}

// Run imports every day folder under dir in date order. Unreadable or
// malformed files are skipped and reported; a database error stops the run.
func (imp *importer) Run(ctx context.Context, dir string) (*importSummary, error) {
	days, err := dayDirs(dir)
	if err != nil {
		return nil, err
	}

	summary := &importSummary{}
	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		categoryDir := filepath.Join(dir, day.String(), strconv.Itoa(imp.category))
		groups, err := os.ReadDir(categoryDir)
		if errors.Is(err, fs.ErrNotExist) {
			summary.Skipped = append(summary.Skipped, fmt.Sprintf("%s: no category %d", day, imp.category))
			continue
		}
		if err != nil {
			return summary, fmt.Errorf("failed to read %s: %w", categoryDir, err)
		}
		summary.Days++

		for _, group := range groups {
			if !group.IsDir() {
				continue
			}
			path := filepath.Join(categoryDir, group.Name(), priceFileName)
			n, written, err := imp.importFile(ctx, path, day)
			if err != nil {
				var skip *skipError
				if errors.As(err, &skip) {
					summary.Skipped = append(summary.Skipped, skip.Error())
					continue
				}
				return summary, err
			}
			summary.Files++
			summary.RowsParsed += n
			summary.RowsWritten += written
		}
		imp.logger.Info("imported archive day",
			zap.String("date", day.String()),
			zap.Int("files", summary.Files),
			zap.Int("rows", summary.RowsParsed))
	}
	return summary, nil
}

type skipError struct {
	path string
	err  error
}

func (e *skipError) Error() string {
	return fmt.Sprintf("%s: %v", e.path, e.err)
}

func (imp *importer) importFile(ctx context.Context, path string, day models.Date) (int, int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, &skipError{path: path, err: err}
	}
	rows, err := services.ParseTCGCSVPrices(data, day, services.SourceTCGCSVArchive)
	if err != nil {
		return 0, 0, &skipError{path: path, err: err}
	}
	if imp.writer == nil || len(rows) == 0 {
		return len(rows), 0, nil
	}

	written, err := imp.writer.Upsert(ctx, rows)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return len(rows), written, nil
}

// dayDirs returns the date-named folders of dir, oldest first
func dayDirs(dir string) ([]models.Date, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var days []models.Date
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		t, err := time.Parse(models.DateLayout, e.Name())
		if err != nil {
			continue
		}
		days = append(days, models.DateOf(t))
	}
	sort.Slice(days, func(i, j int) bool { return days[i].String() < days[j].String() })
	return days, nil
}
