/*
main.go - One-shot ingestion CLI

PURPOSE:
  Ingests exported files into the store without starting the server.
  Useful for backfills and for cron setups that do not run the scheduler.

USAGE:
  # Ingest every pending file of DATA_INPUT_DIR and archive what reconciled
  ./ingest

  # Ingest specific files (not archived)
  ./ingest exports/invoices_jan.csv exports/footfall_jan.xlsx

COMMAND-LINE FLAGS:
  -db        Database DSN (overrides DB_DSN)
  -dir       Input directory (overrides DATA_INPUT_DIR)
  -archive   Archive directory (overrides DATA_ARCHIVE_DIR, "" disables)

EXIT STATUS:
  0 when every file reconciled, 1 otherwise.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"github.com/warp/retail-dsr/config"
	"github.com/warp/retail-dsr/etl"
	"github.com/warp/retail-dsr/sales"
	"github.com/warp/retail-dsr/store/sqlstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	dsn := flag.String("db", cfg.Database.DSN, "Database DSN")
	dir := flag.String("dir", cfg.Ingestion.InputDir, "Input directory")
	archive := flag.String("archive", cfg.Ingestion.ArchiveDir, "Archive directory")
	flag.Parse()

	logger := config.NewLogger(cfg.Logger, os.Stderr)
	log := config.Component(logger, "ingest")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlstore.Open(cfg.Database.Driver, *dsn)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	var locker etl.Locker = etl.NewLocalLocker()
	if cfg.Ingestion.RedisAddress != "" {
		connectCtx, cancel := context.WithTimeout(ctx, time.Minute)
		rdb, err := config.ConnectRedis(connectCtx, cfg.Ingestion.RedisAddress, config.Component(logger, "redis"))
		cancel()
		if err != nil {
			log.WithError(err).Fatal("failed to connect redis")
		}
		defer rdb.Close()
		redisLocker := etl.NewRedisLocker(rdb, cfg.Ingestion.LockTTL)
		redisLocker.Logger = config.Component(logger, "lock")
		locker = redisLocker
	}

	normalizer := etl.NewNormalizer(nil, sales.NewWhatsappMatcher(cfg.Reporting.WhatsappPattern))
	runner := etl.NewRunner(store, etl.WithMaxWait(locker, cfg.Ingestion.LockWait), normalizer, logger, *dir, *archive)

	var failed int
	if files := flag.Args(); len(files) > 0 {
		failed = ingestFiles(ctx, runner, files)
	} else {
		failed = ingestDirectory(ctx, runner, log)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func ingestFiles(ctx context.Context, runner *etl.Runner, files []string) int {
	bar := progressbar.Default(int64(len(files)), "ingesting")
	var failed int
	var results []etl.Result
	for _, path := range files {
		res, err := runner.IngestFile(ctx, path)
		bar.Add(1)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", filepath.Base(path), err)
			continue
		}
		results = append(results, res)
	}
	bar.Finish()
	printResults(results)
	return failed
}

func ingestDirectory(ctx context.Context, runner *etl.Runner, log *logrus.Entry) int {
	pending, err := runner.PendingFiles()
	if err != nil {
		log.WithError(err).Fatal("failed to list input directory")
	}
	if len(pending) == 0 {
		fmt.Println("nothing to ingest")
		return 0
	}

	bar := progressbar.Default(int64(len(pending)), "ingesting")
	summary, err := runner.RunDirectory(ctx, func(path string, res etl.Result, err error) {
		bar.Describe(filepath.Base(path))
		bar.Add(1)
	})
	bar.Finish()
	if err != nil {
		log.WithError(err).Error("directory ingestion aborted")
		return summary.Failed + 1
	}

	printResults(summary.Results)
	fmt.Printf("processed=%d skipped=%d failed=%d\n", summary.Processed, summary.Skipped, summary.Failed)
	return summary.Failed
}

func printResults(results []etl.Result) {
	for _, r := range results {
		s := r.Stats
		fmt.Printf("%-40s %-10s read=%d accepted=%d rejected=%d unclassified=%d invoices=%d deleted=%d inserted=%d\n",
			r.Source, r.Kind, s.RowsRead, s.Accepted, s.Rejected, s.Unclassified, s.Invoices, s.Deleted, s.Inserted)
		for i, e := range r.RowErrors {
			if i == 5 {
				fmt.Printf("    ... %d more rejected rows\n", len(r.RowErrors)-5)
				break
			}
			fmt.Printf("    %v\n", e)
		}
	}
}
