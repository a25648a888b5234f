// import-archive loads extracted TCGCSV price archives into the price_history
// table. An archive directory holds one folder per day laid out as
// <date>/<category>/<group>/prices.
//
// Usage: import-archive -dir=<path> [-category=3] [-dry-run] [-execute]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/codyseavey/card-pricing/internal/config"
	"github.com/codyseavey/card-pricing/internal/database"
	"github.com/codyseavey/card-pricing/internal/logger"
	"github.com/codyseavey/card-pricing/internal/services"
)

func main() {
	dir := flag.String("dir", "", "Path to the extracted archive directory (required)")
	category := flag.Int("category", config.PokemonCategoryID, "TCGplayer category to import")
	dbPath := flag.String("db", "", "SQLite database path (overrides DB_PATH)")
	dryRun := flag.Bool("dry-run", false, "Parse the archive without writing to the database")
	execute := flag.Bool("execute", false, "Write the parsed rows to the database")
	flag.Parse()

	if *dir == "" {
		fmt.Println("Usage: import-archive -dir=<path> [options]")
		fmt.Println("")
		fmt.Println("Imports TCGCSV daily price archives (<date>/<category>/<group>/prices)")
		fmt.Println("into the price_history table. Existing rows for the same product,")
		fmt.Println("printing and date are replaced.")
		fmt.Println("")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if *dryRun == *execute {
		fmt.Println("Error: specify exactly one of -dry-run or -execute")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *dbPath != "" {
		cfg.Database.Driver = "sqlite"
		cfg.Database.Path = *dbPath
	}

	zl, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	var writer rowWriter
	if *execute {
		db, err := database.Open(cfg.Database, zl)
		if err != nil {
			zl.Fatal("failed to open database", zap.Error(err))
		}
		writer = services.NewArchiveStore(db, zl)
	}

	imp := &importer{category: *category, writer: writer, logger: zl}
	summary, err := imp.Run(context.Background(), *dir)
	if err != nil {
		zl.Fatal("import failed", zap.Error(err))
	}

	mode := "dry run"
	if *execute {
		mode = "executed"
	}
	fmt.Printf("\n=== Import summary (%s) ===\n", mode)
	fmt.Printf("Days:         %d\n", summary.Days)
	fmt.Printf("Price files:  %d\n", summary.Files)
	fmt.Printf("Rows parsed:  %d\n", summary.RowsParsed)
	fmt.Printf("Rows written: %d\n", summary.RowsWritten)
	fmt.Printf("Skipped:      %d\n", len(summary.Skipped))
	for _, s := range summary.Skipped {
		fmt.Printf("  - %s\n", s)
	}
}
