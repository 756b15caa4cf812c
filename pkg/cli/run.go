package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/analyze"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/catalog"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/generator"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/models"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/scenario"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/store"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/validation"
)

type generateOptions struct {
	scenario       string
	seed           int64
	days           int
	samplesPerHour int
	start          time.Time
	gpus           int64
	outputDir      string
	configFile     string
}

func runGenerate(logger *slog.Logger, opts *generateOptions) error {
	cfg, err := loadConfig(opts.configFile)
	if err != nil {
		return err
	}

	cat, err := buildCatalog(cfg)
	if err != nil {
		return fmt.Errorf("failed to build catalog: %w", err)
	}
	if opts.gpus > 0 {
		if err := cat.ScaleGPUs(opts.gpus); err != nil {
			return fmt.Errorf("failed to scale catalog: %w", err)
		}
	}

	profile, err := scenario.FromName(opts.scenario)
	if err != nil {
		return err
	}

	grid, err := generator.NewTimeGrid(opts.start, opts.days, opts.samplesPerHour)
	if err != nil {
		return fmt.Errorf("failed to build time grid: %w", err)
	}

	logger.Info("Generating dataset",
		"scenario", opts.scenario, "seed", opts.seed,
		"gpus", cat.TotalGPUs(), "queues", len(cat.Queues), "samples", grid.Count)

	gen, err := generator.New(&generator.Config{
		Logger:  logger,
		Catalog: cat,
		Profile: profile,
		Grid:    grid,
		Seed:    opts.seed,
	})
	if err != nil {
		return err
	}

	ds, err := gen.Run()
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}
	manifest := ds.Manifest(opts.seed, opts.scenario, grid, cat.Fingerprint(), cat.Specs.Models())

	writer := store.NewWriter(logger, opts.outputDir)
	staged, err := writer.Stage(ds, manifest)
	if err != nil {
		if staged != nil {
			writer.Discard(staged)
		}
		return fmt.Errorf("failed to stage dataset: %w", err)
	}

	report := validation.Check(ds, manifest, cat, grid)
	if !report.OK() {
		// Keep the staged files around for inspection.
		report.Render(os.Stderr)
		return fmt.Errorf("validation failed with %d violation(s), staged output left in %s",
			len(report.Violations), staged.Dir)
	}

	if err := writer.Commit(staged); err != nil {
		return fmt.Errorf("failed to commit dataset: %w", err)
	}

	logger.Info("Dataset written", "dir", opts.outputDir,
		"demand_rows", len(ds.Demand), "capacity_rows", len(ds.Capacity))
	return nil
}

// readDataset loads a committed dataset directory back into memory.
func readDataset(dir string) (*generator.Dataset, error) {
	demand, err := store.ReadDemandCSV(filepath.Join(dir, store.DemandFile))
	if err != nil {
		return nil, err
	}
	capacity, err := store.ReadCapacityCSV(filepath.Join(dir, store.CapacityFile))
	if err != nil {
		return nil, err
	}
	nodepool, err := store.ReadNodepoolCSV(filepath.Join(dir, store.NodepoolFile))
	if err != nil {
		return nil, err
	}
	return &generator.Dataset{Demand: demand, Capacity: capacity, Nodepool: nodepool}, nil
}

// catalogForManifest rebuilds the catalog a committed dataset was generated
// from, using the grid and row counts recorded in its manifest.
func catalogForManifest(manifest *models.Manifest, grid generator.TimeGrid) (*catalog.Catalog, error) {
	cat, err := catalog.Default()
	if err != nil {
		return nil, err
	}

	if grid.Count > 0 {
		gpus := manifest.RowCounts["capacity"] / int64(grid.Count)
		if gpus > 0 && gpus != cat.TotalGPUs() {
			if err := cat.ScaleGPUs(gpus); err != nil {
				return nil, fmt.Errorf("failed to rebuild scaled catalog: %w", err)
			}
		}
	}

	if fp := cat.Fingerprint(); fp != manifest.CatalogFingerprint {
		return nil, fmt.Errorf("catalog fingerprint mismatch: dataset was generated from %s, rebuilt catalog is %s",
			manifest.CatalogFingerprint, fp)
	}
	return cat, nil
}

func manifestGrid(manifest *models.Manifest) (generator.TimeGrid, error) {
	if manifest.StepSeconds <= 0 {
		return generator.TimeGrid{}, fmt.Errorf("manifest has invalid step_seconds %d", manifest.StepSeconds)
	}
	step := time.Duration(manifest.StepSeconds) * time.Second
	count := int(manifest.EndTime.Sub(manifest.StartTime)/step) + 1
	return generator.TimeGrid{Start: manifest.StartTime.UTC(), Step: step, Count: count}, nil
}

func runValidate(logger *slog.Logger, dir string) error {
	manifest, err := store.ReadManifest(filepath.Join(dir, store.ManifestFile))
	if err != nil {
		return err
	}
	grid, err := manifestGrid(manifest)
	if err != nil {
		return err
	}
	cat, err := catalogForManifest(manifest, grid)
	if err != nil {
		return err
	}

	ds, err := readDataset(dir)
	if err != nil {
		return err
	}

	logger.Info("Validating dataset", "dir", dir,
		"scenario", manifest.Scenario, "seed", manifest.Seed)

	report := validation.Check(ds, manifest, cat, grid)
	report.Render(os.Stdout)
	if !report.OK() {
		return fmt.Errorf("dataset failed validation with %d violation(s)", len(report.Violations))
	}
	return nil
}

func runAnalyze(logger *slog.Logger, dir, configFile string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	ds, err := readDataset(dir)
	if err != nil {
		return err
	}

	logger.Info("Analyzing dataset", "dir", dir)

	rows, err := analyze.Report(ds, catalog.DefaultSpecs(), cfg.Weights)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}
	analyze.RenderReport(os.Stdout, rows)
	return nil
}
