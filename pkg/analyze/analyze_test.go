package analyze

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/catalog"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/generator"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/models"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/scenario"
)

func TestPowerIntensityFactor(t *testing.T) {
	assert.InDelta(t, 0.5, PowerIntensityFactor(350, 700), 1e-9)
	assert.Equal(t, 1.0, PowerIntensityFactor(900, 700))
	assert.Equal(t, 0.0, PowerIntensityFactor(-10, 700))
	assert.Equal(t, 0.0, PowerIntensityFactor(100, 0))
}

func TestRealizedUtilizationTracksPIF(t *testing.T) {
	spec, err := catalog.DefaultSpecs().Lookup("NVIDIA H100 80GB HBM3")
	require.NoError(t, err)

	pif := PowerIntensityFactor(490, spec.MaxPower)
	realized := RealizedTFLOPS(spec, pif)
	rfu := RealizedUtilization(spec, realized)

	assert.InDelta(t, 100*pif, rfu, 1e-9)
	assert.InDelta(t, spec.AchievableTFLOPS*pif, realized, 1e-9)
}

func TestMemoryPressure(t *testing.T) {
	assert.InDelta(t, 25.0, MemoryPressure(256, 768), 1e-9)
	assert.Equal(t, 0.0, MemoryPressure(0, 0))
}

func TestDemandCapacityRatio(t *testing.T) {
	assert.InDelta(t, 2.0, DemandCapacityRatio(10, 5), 1e-5)
	// Zero capacity must not divide by zero.
	assert.Greater(t, DemandCapacityRatio(10, 0), 1e6)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []float64{0, 0.5, 1}, Normalize([]float64{2, 4, 6}))
	assert.Equal(t, []float64{0, 0, 0}, Normalize([]float64{3, 3, 3}))
	assert.Empty(t, Normalize(nil))
}

func TestClassifyEfficiency(t *testing.T) {
	assert.Equal(t, ClassIdle, ClassifyEfficiency(5, 0.9))
	assert.Equal(t, ClassEfficient, ClassifyEfficiency(85, 0.80))
	assert.Equal(t, ClassBottlenecked, ClassifyEfficiency(85, 0.40))
	assert.Equal(t, ClassModerate, ClassifyEfficiency(55, 0.55))
	assert.Equal(t, ClassInefficient, ClassifyEfficiency(25, 0.20))
	// High utilization with mid-range power is neither efficient nor
	// bottlenecked.
	assert.Equal(t, ClassInefficient, ClassifyEfficiency(85, 0.65))
}

func TestClassifySeverity(t *testing.T) {
	assert.Equal(t, SeverityHealthy, ClassifySeverity(0.2, 0.4))
	assert.Equal(t, SeverityModerate, ClassifySeverity(0.4, 0.4))
	assert.Equal(t, SeverityWarning, ClassifySeverity(0.55, 0.4))
	assert.Equal(t, SeverityWarning, ClassifySeverity(0.2, 1.5))
	assert.Equal(t, SeverityCritical, ClassifySeverity(0.8, 0.4))
	assert.Equal(t, SeverityCritical, ClassifySeverity(0.2, 2.5))
}

func TestEfficiencyForConsistency(t *testing.T) {
	spec, err := catalog.DefaultSpecs().Lookup("NVIDIA A10G")
	require.NoError(t, err)

	row := models.CapacityRow{
		GPUModel:        "NVIDIA A10G",
		GPUUtilPct:      80,
		PowerUsageWatts: 150,
		FBUsedMB:        12288,
		FBFreeMB:        12288,
	}
	eff := EfficiencyFor(row, spec)

	assert.InDelta(t, 0.5, eff.PIF, 1e-9)
	assert.InDelta(t, 50, eff.RFUPct, 1e-9)
	assert.InDelta(t, 30, eff.EfficiencyGap, 1e-9)
	assert.InDelta(t, 50, eff.MemoryPressurePct, 1e-9)
	assert.Equal(t, ClassBottlenecked, eff.Class)
}

func reportFixture(t *testing.T) (*generator.Dataset, *catalog.Catalog) {
	t.Helper()

	cat, err := catalog.Default()
	require.NoError(t, err)
	require.NoError(t, cat.ScaleGPUs(30))

	profile, err := scenario.FromName(scenario.DemandExceedsCapacity)
	require.NoError(t, err)

	grid, err := generator.NewTimeGrid(generator.DefaultStart, 1, 12)
	require.NoError(t, err)

	gen, err := generator.New(&generator.Config{
		Catalog: cat,
		Profile: profile,
		Grid:    grid,
		Seed:    11,
	})
	require.NoError(t, err)

	ds, err := gen.Run()
	require.NoError(t, err)
	return ds, cat
}

func TestReportShape(t *testing.T) {
	ds, cat := reportFixture(t)

	rows, err := Report(ds, cat.Specs, DefaultWeights())
	require.NoError(t, err)

	// One cell per nodegroup per hour of the single generated day.
	assert.Len(t, rows, len(cat.Nodegroups)*24)

	for i, r := range rows {
		assert.NotEmpty(t, r.Severity)
		assert.GreaterOrEqual(t, r.QPS, 0.0)
		assert.LessOrEqual(t, r.QPS, 1.0)
		assert.GreaterOrEqual(t, r.CIS, 0.0)
		assert.GreaterOrEqual(t, r.AvailableCapacity, 0.0)
		if i > 0 {
			prev := rows[i-1]
			ordered := prev.Hour.Before(r.Hour) ||
				(prev.Hour.Equal(r.Hour) && prev.Nodegroup < r.Nodegroup)
			assert.True(t, ordered, "rows out of order at %d", i)
		}
	}
}

func TestReportIdempotent(t *testing.T) {
	ds, cat := reportFixture(t)

	first, err := Report(ds, cat.Specs, DefaultWeights())
	require.NoError(t, err)
	second, err := Report(ds, cat.Specs, DefaultWeights())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestReportRejectsUnknownModel(t *testing.T) {
	ds, cat := reportFixture(t)
	ds.Capacity[0].GPUModel = "NVIDIA T4"

	_, err := Report(ds, cat.Specs, DefaultWeights())
	assert.Error(t, err)
}

func TestRenderReport(t *testing.T) {
	ds, cat := reportFixture(t)
	rows, err := Report(ds, cat.Specs, DefaultWeights())
	require.NoError(t, err)

	var out strings.Builder
	RenderReport(&out, rows[:5])
	assert.Contains(t, out.String(), "Severity")
	assert.Contains(t, out.String(), rows[0].Nodegroup)
}
