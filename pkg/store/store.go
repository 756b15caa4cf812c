// Package store persists generated datasets as CSV files, a SQLite
// database and a JSON manifest. Output is staged into a hidden directory
// next to the destination and renamed into place only on commit, so an
// aborted run never leaves a half written dataset behind.
package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/generator"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/models"
)

// Output file names inside the dataset directory.
const (
	DemandFile   = "demand.csv"
	CapacityFile = "capacity.csv"
	NodepoolFile = "nodepool_state.csv"
	DBFile       = "analytics.db"
	ManifestFile = "manifest.json"
)

// Writer persists datasets into one output directory.
type Writer struct {
	logger    *slog.Logger
	outputDir string
}

// NewWriter returns a writer rooted at outputDir.
func NewWriter(logger *slog.Logger, outputDir string) *Writer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Writer{logger: logger, outputDir: outputDir}
}

// Staging is a fully written but uncommitted dataset.
type Staging struct {
	Dir   string
	files []string
}

// Stage writes every output file into a fresh staging directory under the
// output directory. The staged files are complete and readable; nothing is
// visible at the destination paths until Commit.
func (w *Writer) Stage(ds *generator.Dataset, manifest *models.Manifest) (*Staging, error) {
	if err := os.MkdirAll(w.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	dir, err := os.MkdirTemp(w.outputDir, ".stage-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	st := &Staging{Dir: dir}

	w.logger.Debug("Staging dataset", "dir", dir)

	if err := writeCSV(filepath.Join(dir, DemandFile), ds.Demand); err != nil {
		return st, err
	}
	if err := writeCSV(filepath.Join(dir, CapacityFile), ds.Capacity); err != nil {
		return st, err
	}
	if err := writeCSV(filepath.Join(dir, NodepoolFile), ds.Nodepool); err != nil {
		return st, err
	}

	db, err := OpenDB(filepath.Join(dir, DBFile), w.logger)
	if err != nil {
		return st, err
	}
	if err := InsertDataset(db, ds); err != nil {
		db.Close()
		return st, err
	}
	if err := db.Close(); err != nil {
		return st, fmt.Errorf("failed to close DB: %w", err)
	}

	if err := WriteManifest(filepath.Join(dir, ManifestFile), manifest); err != nil {
		return st, err
	}

	st.files = []string{DemandFile, CapacityFile, NodepoolFile, DBFile, ManifestFile}
	return st, nil
}

// Commit renames every staged file into the output directory and removes
// the staging directory. Rename within one filesystem keeps the swap
// atomic per file.
func (w *Writer) Commit(st *Staging) error {
	for _, name := range st.files {
		if err := os.Rename(filepath.Join(st.Dir, name), filepath.Join(w.outputDir, name)); err != nil {
			return fmt.Errorf("failed to commit %s: %w", name, err)
		}
	}
	if err := os.Remove(st.Dir); err != nil {
		return fmt.Errorf("failed to remove staging directory: %w", err)
	}
	w.logger.Info("Dataset committed", "dir", w.outputDir)
	return nil
}

// Discard removes the staging directory and everything in it.
func (w *Writer) Discard(st *Staging) error {
	return os.RemoveAll(st.Dir)
}

// Write stages and immediately commits, for callers that validated the
// dataset beforehand.
func (w *Writer) Write(ds *generator.Dataset, manifest *models.Manifest) error {
	st, err := w.Stage(ds, manifest)
	if err != nil {
		if st != nil {
			w.Discard(st)
		}
		return err
	}
	return w.Commit(st)
}
