package etl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/retail-dsr/sales"
)

// =============================================================================
// RUNNER - Ingests every pending file of a directory
// =============================================================================

// Runner picks up exported files from InputDir, routes each to the matching
// ingestor by its header, and moves successfully reconciled files to
// ArchiveDir. Files that already have a reconciled run are skipped; failed
// files stay in place and are retried on the next pass.
type Runner struct {
	InputDir   string
	ArchiveDir string

	Invoices   *Ingestor
	Footfall   *FootfallIngestor
	Efficiency *EfficiencyIngestor
	Runs       sales.RunStore
	Logger     *logrus.Logger
	Now        func() time.Time
}

// NewRunner wires the three ingestors over one store, sharing one locker so
// that no two files reconcile at the same time.
func NewRunner(st sales.Store, locker Locker, normalizer *Normalizer, logger *logrus.Logger, inputDir, archiveDir string) *Runner {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Runner{
		InputDir:   inputDir,
		ArchiveDir: archiveDir,
		Invoices:   NewIngestor(st, st, locker, normalizer, logger),
		Footfall:   NewFootfallIngestor(st, st, locker, logger),
		Efficiency: NewEfficiencyIngestor(st, st, locker, logger),
		Runs:       st,
		Logger:     logger,
		Now:        time.Now,
	}
}

// Summary reports one directory pass.
type Summary struct {
	Processed int      `json:"processed"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Results   []Result `json:"results"`
}

var ingestibleExt = map[string]bool{".csv": true, ".xlsx": true}

// PendingFiles lists ingestible files in InputDir, oldest name first.
func (r *Runner) PendingFiles() ([]string, error) {
	entries, err := os.ReadDir(r.InputDir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.InputDir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if ingestibleExt[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(r.InputDir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// RunDirectory ingests every pending file. progress, if non-nil, is called
// after each file. A file that cannot get the ingestion lock ends the pass
// with sales.ErrIngestionLocked; other file failures are counted and the
// pass continues.
func (r *Runner) RunDirectory(ctx context.Context, progress func(path string, res Result, err error)) (Summary, error) {
	files, err := r.PendingFiles()
	if err != nil {
		return Summary{}, err
	}

	var summary Summary
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		name := filepath.Base(path)

		if r.Runs != nil {
			done, err := r.Runs.HasReconciledRun(ctx, name)
			if err != nil {
				return summary, err
			}
			if done {
				summary.Skipped++
				r.logger().WithField("source", name).Info("already ingested, skipping")
				r.archive(path)
				continue
			}
		}

		res, err := r.IngestFile(ctx, path)
		if progress != nil {
			progress(path, res, err)
		}
		if errors.Is(err, sales.ErrIngestionLocked) {
			// Another run holds the lock; the rest of the directory waits for the next pass.
			return summary, err
		}
		if err != nil {
			summary.Failed++
			r.logger().WithError(err).WithFields(logrus.Fields{
				"source":    name,
				"retryable": sales.IsRetryable(err),
			}).Error("file ingestion failed")
			continue
		}
		summary.Processed++
		summary.Results = append(summary.Results, res)
		r.archive(path)
	}
	return summary, nil
}

// IngestFile ingests one file, whatever its kind.
func (r *Runner) IngestFile(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{Source: filepath.Base(path)}, fmt.Errorf("%w: %v", sales.ErrStreamRead, err)
	}
	defer f.Close()
	return r.Ingest(ctx, filepath.Base(path), f)
}

// Ingest routes an already opened source to the matching ingestor.
func (r *Runner) Ingest(ctx context.Context, name string, src io.Reader) (Result, error) {
	rows, err := NewReader(name, src)
	if err != nil {
		return Result{Source: name}, err
	}
	kind, err := DetectKind(rows)
	if err != nil {
		return Result{Source: name}, fmt.Errorf("%s: %w", name, err)
	}

	switch kind {
	case sales.SourceInvoices:
		return r.Invoices.Ingest(ctx, name, rows)
	case sales.SourceFootfall:
		return r.Footfall.Ingest(ctx, name, rows)
	default:
		return r.Efficiency.Ingest(ctx, name, r.reportDate(name), rows)
	}
}

var isoInName = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)

// reportDate takes the date embedded in an efficiency file name
// (efficiency_2026-01-08.csv), or today.
func (r *Runner) reportDate(name string) sales.Date {
	if m := isoInName.FindString(name); m != "" {
		if d, err := sales.ParseDate(m); err == nil {
			return d
		}
	}
	return sales.DateOf(r.now())
}

func (r *Runner) archive(path string) {
	if r.ArchiveDir == "" {
		return
	}
	if err := os.MkdirAll(r.ArchiveDir, 0o755); err != nil {
		r.logger().WithError(err).Warn("could not create archive directory")
		return
	}
	dst := filepath.Join(r.ArchiveDir, filepath.Base(path))
	if _, err := os.Stat(dst); err == nil {
		ext := filepath.Ext(dst)
		dst = strings.TrimSuffix(dst, ext) + "_" + r.now().Format("20060102T150405") + ext
	}
	if err := moveFile(path, dst); err != nil {
		r.logger().WithError(err).WithField("source", filepath.Base(path)).Warn("could not archive file")
	}
}

// moveFile renames, falling back to copy+remove across filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		in.Close()
		return err
	}
	_, copyErr := io.Copy(out, in)
	in.Close()
	if err := out.Close(); copyErr == nil {
		copyErr = err
	}
	if copyErr != nil {
		os.Remove(dst)
		return copyErr
	}
	return os.Remove(src)
}

func (r *Runner) logger() *logrus.Entry {
	l := r.Logger
	if l == nil {
		l = logrus.StandardLogger()
	}
	return l.WithField("component", "runner")
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}
