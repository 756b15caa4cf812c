package cli

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/analyze"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/catalog"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/generator"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/models"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func makeConfigFile(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))
	return configPath
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, analyze.DefaultWeights(), cfg.Weights)
	assert.Empty(t, cfg.Catalog.Nodegroups)
}

func TestLoadConfigOverridesWeights(t *testing.T) {
	path := makeConfigFile(t, `
weights:
  pending: 0.7
  wait: 0.3
  dcr: 0.4
  gap: 0.4
  qps: 0.2
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, cfg.Weights.Pending, 1e-9)
	assert.InDelta(t, 0.4, cfg.Weights.DCR, 1e-9)
}

func TestLoadConfigPartialKeepsDefaults(t *testing.T) {
	path := makeConfigFile(t, `
weights:
  pending: 0.8
  wait: 0.2
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, cfg.Weights.Pending, 1e-9)
	// Untouched sections keep their defaults.
	assert.InDelta(t, analyze.DefaultDCRWeight, cfg.Weights.DCR, 1e-9)
}

func TestBuildCatalogFromConfig(t *testing.T) {
	path := makeConfigFile(t, `
catalog:
  clusters:
    - name: test-cluster
      region: eu-central-1
  nodegroups:
    - name: test-pool
      cluster: test-cluster
      region: eu-central-1
      gpu_model: NVIDIA A10G
      capacity_gpu_count: 8
  namespaces:
    - team-a
  queues:
    - name: test-queue
      namespace: team-a
      target_nodegroup: test-pool
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)

	cat, err := buildCatalog(cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(8), cat.TotalGPUs())
	assert.Len(t, cat.Queues, 1)
}

func TestManifestGrid(t *testing.T) {
	start := generator.DefaultStart
	m := &models.Manifest{
		StartTime:   start,
		EndTime:     start.Add(23*time.Hour + 59*time.Minute),
		StepSeconds: 60,
	}
	grid, err := manifestGrid(m)
	require.NoError(t, err)
	assert.Equal(t, 1440, grid.Count)
	assert.Equal(t, time.Minute, grid.Step)

	m.StepSeconds = 0
	_, err = manifestGrid(m)
	assert.Error(t, err)
}

func TestCatalogForManifestDetectsMismatch(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)

	grid, err := generator.NewTimeGrid(generator.DefaultStart, 1, 60)
	require.NoError(t, err)

	m := &models.Manifest{
		RowCounts:          map[string]int64{"capacity": cat.TotalGPUs() * int64(grid.Count)},
		CatalogFingerprint: "deadbeef",
	}
	_, err = catalogForManifest(m, grid)
	assert.ErrorContains(t, err, "fingerprint mismatch")

	m.CatalogFingerprint = cat.Fingerprint()
	rebuilt, err := catalogForManifest(m, grid)
	require.NoError(t, err)
	assert.Equal(t, cat.TotalGPUs(), rebuilt.TotalGPUs())
}

func TestGenerateValidateAnalyzeRoundTrip(t *testing.T) {
	logger := testLogger()
	outDir := filepath.Join(t.TempDir(), "data")

	err := runGenerate(logger, &generateOptions{
		scenario:       "balanced",
		seed:           42,
		days:           1,
		samplesPerHour: 4,
		start:          generator.DefaultStart,
		gpus:           12,
		outputDir:      outDir,
	})
	require.NoError(t, err)

	for _, name := range []string{store.DemandFile, store.CapacityFile, store.NodepoolFile, store.DBFile, store.ManifestFile} {
		_, err := os.Stat(filepath.Join(outDir, name))
		require.NoError(t, err, "missing %s", name)
	}

	manifest, err := store.ReadManifest(filepath.Join(outDir, store.ManifestFile))
	require.NoError(t, err)
	assert.Equal(t, int64(42), manifest.Seed)
	assert.Equal(t, "balanced", manifest.Scenario)
	assert.Equal(t, int64(12*96), manifest.RowCounts["capacity"])

	require.NoError(t, runValidate(logger, outDir))
	require.NoError(t, runAnalyze(logger, outDir, ""))
}

func TestGenerateRejectsBadGrid(t *testing.T) {
	err := runGenerate(testLogger(), &generateOptions{
		scenario:       "balanced",
		seed:           1,
		days:           1,
		samplesPerHour: 7,
		start:          generator.DefaultStart,
		outputDir:      t.TempDir(),
	})
	assert.Error(t, err)
}

func TestValidateMissingDataset(t *testing.T) {
	err := runValidate(testLogger(), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
	assert.ErrorContains(t, err, store.ManifestFile)
}
