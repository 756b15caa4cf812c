package generator

import (
	"time"

	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/models"
)

// Dataset is the complete in-memory output of one run before persistence.
// Rows are ordered deterministically: by entity in catalog order, then by
// timestamp.
type Dataset struct {
	Demand   []models.DemandRow
	Capacity []models.CapacityRow
	Nodepool []models.NodepoolRow
}

// RowCounts returns per table row counts, keyed by table name.
func (d *Dataset) RowCounts() map[string]int64 {
	return map[string]int64{
		models.DemandRow{}.TableName():   int64(len(d.Demand)),
		models.CapacityRow{}.TableName(): int64(len(d.Capacity)),
		models.NodepoolRow{}.TableName(): int64(len(d.Nodepool)),
	}
}

// Manifest assembles the run manifest for this dataset.
func (d *Dataset) Manifest(seed int64, scenarioName string, grid TimeGrid, fingerprint string, gpuModels []string) *models.Manifest {
	return &models.Manifest{
		Seed:               seed,
		Scenario:           scenarioName,
		StartTime:          grid.Start,
		EndTime:            grid.End(),
		StepSeconds:        int64(grid.Step / time.Second),
		RowCounts:          d.RowCounts(),
		CatalogFingerprint: fingerprint,
		GPUModels:          gpuModels,
		GeneratedAt:        time.Now().UTC(),
	}
}
