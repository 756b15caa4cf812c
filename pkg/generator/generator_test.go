package generator

import (
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/catalog"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/models"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/scenario"
)

func testGenerator(t *testing.T, scenarioName string, seed int64, days, samplesPerHour int) *Generator {
	t.Helper()

	cat, err := catalog.Default()
	require.NoError(t, err)
	profile, err := scenario.FromName(scenarioName)
	require.NoError(t, err)
	grid, err := NewTimeGrid(DefaultStart, days, samplesPerHour)
	require.NoError(t, err)

	gen, err := New(&Config{Catalog: cat, Profile: profile, Grid: grid, Seed: seed})
	require.NoError(t, err)
	return gen
}

func TestTimeGrid(t *testing.T) {
	grid, err := NewTimeGrid(DefaultStart, 1, 60)
	require.NoError(t, err)
	assert.Equal(t, 24*60, grid.Count)
	assert.Equal(t, time.Minute, grid.Step)
	assert.Equal(t, DefaultStart, grid.At(0))
	assert.Equal(t, DefaultStart.Add(time.Minute), grid.At(1))
	assert.Equal(t, DefaultStart.Add(23*time.Hour+59*time.Minute), grid.End())

	_, err = NewTimeGrid(DefaultStart, 0, 60)
	assert.Error(t, err)
	_, err = NewTimeGrid(DefaultStart, 1, 7)
	assert.Error(t, err, "7 samples per hour does not give a whole minute step")
}

func TestNewRejectsInvalidProfile(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)
	grid, err := NewTimeGrid(DefaultStart, 1, 1)
	require.NoError(t, err)

	profile, err := scenario.FromName(scenario.Balanced)
	require.NoError(t, err)
	profile.PowerUtilizationDecoupling = 2

	_, err = New(&Config{Catalog: cat, Profile: profile, Grid: grid, Seed: 1})
	assert.Error(t, err)
}

func TestRowCounts(t *testing.T) {
	gen := testGenerator(t, scenario.Balanced, 42, 1, 4)
	ds, err := gen.Run()
	require.NoError(t, err)

	steps := 24 * 4
	assert.Len(t, ds.Demand, len(gen.catalog.Queues)*steps)
	assert.Len(t, ds.Capacity, len(gen.catalog.GPUs)*steps)
	assert.Len(t, ds.Nodepool, len(gen.catalog.Nodegroups))
}

func TestDeterminism(t *testing.T) {
	first, err := testGenerator(t, scenario.Balanced, 42, 1, 2).Run()
	require.NoError(t, err)
	second, err := testGenerator(t, scenario.Balanced, 42, 1, 2).Run()
	require.NoError(t, err)

	assert.Equal(t, first.Demand, second.Demand)
	assert.Equal(t, first.Capacity, second.Capacity)
	assert.Equal(t, first.Nodepool, second.Nodepool)

	// Different seed must change the signal
	other, err := testGenerator(t, scenario.Balanced, 99, 1, 2).Run()
	require.NoError(t, err)
	assert.NotEqual(t, first.Demand, other.Demand)
}

func TestRangeInvariants(t *testing.T) {
	for _, name := range scenario.Names() {
		t.Run(name, func(t *testing.T) {
			gen := testGenerator(t, name, 7, 1, 2)
			ds, err := gen.Run()
			require.NoError(t, err)

			for _, row := range ds.Capacity {
				spec, err := gen.catalog.Specs.Lookup(row.GPUModel)
				require.NoError(t, err)

				assert.GreaterOrEqual(t, row.GPUUtilPct, 0.0)
				assert.LessOrEqual(t, row.GPUUtilPct, 100.0)
				assert.GreaterOrEqual(t, row.TensorActivePct, 0.0)
				assert.LessOrEqual(t, row.TensorActivePct, 100.0)
				assert.GreaterOrEqual(t, row.PowerUsageWatts, spec.IdlePower)
				assert.LessOrEqual(t, row.PowerUsageWatts, spec.MaxPower)
				assert.Equal(t, spec.MemoryTotalMB, row.FBUsedMB+row.FBFreeMB,
					"memory conservation for %s", row.GPUUUID)
			}
			for _, row := range ds.Demand {
				assert.GreaterOrEqual(t, row.PendingWorkloads, int64(0))
				assert.GreaterOrEqual(t, row.AdmissionWaitSeconds, 0.0)
				assert.LessOrEqual(t, row.ResourceUsage, row.ResourceReservation)
			}
		})
	}
}

func TestMonotonicCounters(t *testing.T) {
	ds, err := testGenerator(t, scenario.DemandExceedsCapacity, 13, 1, 4).Run()
	require.NoError(t, err)

	type counters struct{ admitted, evicted int64 }
	last := make(map[string]counters)
	for _, row := range ds.Demand {
		prev := last[row.QueueID]
		assert.GreaterOrEqual(t, row.AdmittedTotal, prev.admitted, "queue %s at %s", row.QueueID, row.Timestamp)
		assert.GreaterOrEqual(t, row.EvictedTotal, prev.evicted, "queue %s at %s", row.QueueID, row.Timestamp)
		last[row.QueueID] = counters{admitted: row.AdmittedTotal, evicted: row.EvictedTotal}
	}
}

func TestQueueBalanceConsistency(t *testing.T) {
	ds, err := testGenerator(t, scenario.Balanced, 5, 1, 4).Run()
	require.NoError(t, err)

	type prev struct {
		pending, admitted, evicted int64
		seen                       bool
	}
	last := make(map[string]prev)
	for _, row := range ds.Demand {
		p := last[row.QueueID]
		if p.seen {
			floor := p.pending - (row.AdmittedTotal - p.admitted) - (row.EvictedTotal - p.evicted)
			assert.GreaterOrEqual(t, row.PendingWorkloads, max(floor, 0),
				"queue %s drained faster than admissions and evictions explain at %s", row.QueueID, row.Timestamp)
		}
		last[row.QueueID] = prev{
			pending: row.PendingWorkloads, admitted: row.AdmittedTotal, evicted: row.EvictedTotal, seen: true,
		}
	}
}

func TestBalancedScenarioShape(t *testing.T) {
	ds, err := testGenerator(t, scenario.Balanced, 42, 1, 4).Run()
	require.NoError(t, err)

	var utilSum float64
	for _, row := range ds.Capacity {
		utilSum += row.GPUUtilPct
	}
	meanUtil := utilSum / float64(len(ds.Capacity))
	assert.Greater(t, meanUtil, 40.0)
	assert.Less(t, meanUtil, 80.0)
}

func TestDemandExceedsCapacityShape(t *testing.T) {
	ds, err := testGenerator(t, scenario.DemandExceedsCapacity, 42, 1, 4).Run()
	require.NoError(t, err)

	// Pending workloads summed per nodegroup should trend upwards over the
	// run: least squares slope must be positive.
	pendingByStep := make(map[string]map[time.Time]float64)
	for _, row := range ds.Demand {
		if pendingByStep[row.Nodegroup] == nil {
			pendingByStep[row.Nodegroup] = make(map[time.Time]float64)
		}
		pendingByStep[row.Nodegroup][row.Timestamp] += float64(row.PendingWorkloads)
	}

	gen := testGenerator(t, scenario.DemandExceedsCapacity, 42, 1, 4)
	for ngName, series := range pendingByStep {
		var sumX, sumY, sumXY, sumXX float64
		n := float64(gen.grid.Count)
		for i := 0; i < gen.grid.Count; i++ {
			x := float64(i)
			y := series[gen.grid.At(i)]
			sumX += x
			sumY += y
			sumXY += x * y
			sumXX += x * x
		}
		slope := (n*sumXY - sumX*sumY) / (n*sumXX - sumX*sumX)
		assert.Greater(t, slope, 0.0, "nodegroup %s pending series should grow", ngName)
	}
}

func TestIOBottleneckShape(t *testing.T) {
	gen := testGenerator(t, scenario.IOBottleneck, 42, 1, 4)
	ds, err := gen.Run()
	require.NoError(t, err)

	var utilSum, pifSum float64
	for _, row := range ds.Capacity {
		spec, err := gen.catalog.Specs.Lookup(row.GPUModel)
		require.NoError(t, err)
		utilSum += row.GPUUtilPct
		pifSum += row.PowerUsageWatts / spec.MaxPower
	}
	n := float64(len(ds.Capacity))
	assert.Greater(t, utilSum/n, 70.0, "io bottleneck keeps reported utilization high")
	assert.Less(t, pifSum/n, 0.5, "io bottleneck keeps power intensity low")
}

func TestEntityStreamsIndependentOfNeighbors(t *testing.T) {
	// A GPU's series must not depend on which other entities exist: noise
	// streams are keyed by entity id, not by generation order.
	clusters := []catalog.Cluster{{Name: "c1", Region: "us-west-2"}}
	ngA := catalog.Nodegroup{Name: "pool-a-training", Cluster: "c1", Region: "us-west-2", GPUModel: "NVIDIA A10G", CapacityGPUCount: 4}
	ngB := catalog.Nodegroup{Name: "pool-b-training", Cluster: "c1", Region: "us-west-2", GPUModel: "NVIDIA A10G", CapacityGPUCount: 4}
	namespaces := []string{"ml-training"}
	queueA := catalog.Queue{Name: "pool-a-queue", Namespace: "ml-training", TargetNodegroup: "pool-a-training"}
	queueB := catalog.Queue{Name: "pool-b-queue", Namespace: "ml-training", TargetNodegroup: "pool-b-training"}

	solo, err := catalog.New(clusters, []catalog.Nodegroup{ngA}, namespaces, []catalog.Queue{queueA}, catalog.DefaultSpecs())
	require.NoError(t, err)
	both, err := catalog.New(clusters, []catalog.Nodegroup{ngB, ngA}, namespaces, []catalog.Queue{queueB, queueA}, catalog.DefaultSpecs())
	require.NoError(t, err)

	profile, err := scenario.FromName(scenario.Balanced)
	require.NoError(t, err)
	grid, err := NewTimeGrid(DefaultStart, 1, 1)
	require.NoError(t, err)

	genSolo, err := New(&Config{Catalog: solo, Profile: profile, Grid: grid, Seed: 42})
	require.NoError(t, err)
	genBoth, err := New(&Config{Catalog: both, Profile: profile, Grid: grid, Seed: 42})
	require.NoError(t, err)

	dsSolo, err := genSolo.Run()
	require.NoError(t, err)
	dsBoth, err := genBoth.Run()
	require.NoError(t, err)

	var soloDemand, bothDemand []int64
	for _, row := range dsSolo.Demand {
		if row.QueueID == "pool-a-queue" {
			soloDemand = append(soloDemand, row.PendingWorkloads)
		}
	}
	for _, row := range dsBoth.Demand {
		if row.QueueID == "pool-a-queue" {
			bothDemand = append(bothDemand, row.PendingWorkloads)
		}
	}
	assert.Equal(t, soloDemand, bothDemand)

	var soloUtil, bothUtil []float64
	for _, row := range dsSolo.Capacity {
		if row.Nodegroup == "pool-a-training" {
			soloUtil = append(soloUtil, row.GPUUtilPct)
		}
	}
	for _, row := range dsBoth.Capacity {
		if row.Nodegroup == "pool-a-training" {
			bothUtil = append(bothUtil, row.GPUUtilPct)
		}
	}
	assert.Equal(t, soloUtil, bothUtil)
}

func TestBalancedDemandStaysUnderCapacity(t *testing.T) {
	// Balanced demand must leave scheduling headroom at nearly every point
	// in time: summed pending over free allocatable capacity stays below
	// 1.0 for at least 95% of (nodegroup, timestamp) pairs.
	ds, err := testGenerator(t, scenario.Balanced, 42, 1, 60).Run()
	require.NoError(t, err)

	cat, err := catalog.Default()
	require.NoError(t, err)

	type key struct {
		nodegroup string
		ts        time.Time
	}
	pending := make(map[key]float64)
	usage := make(map[key]float64)
	for _, row := range ds.Demand {
		k := key{row.Nodegroup, row.Timestamp}
		pending[k] += float64(row.PendingWorkloads)
		usage[k] += float64(row.ResourceUsage)
	}
	require.NotEmpty(t, pending)

	var saturated int
	for k, p := range pending {
		ng, ok := cat.Nodegroup(k.nodegroup)
		require.True(t, ok)
		avail := math.Max(0, float64(ng.AllocatableCount)-usage[k])
		if p/(avail+1e-6) >= 1.0 {
			saturated++
		}
	}
	assert.LessOrEqual(t, float64(saturated)/float64(len(pending)), 0.05)
}

func TestRunRejectsInvertedPowerSpec(t *testing.T) {
	clusters := []catalog.Cluster{{Name: "c1", Region: "us-west-2"}}
	nodegroups := []catalog.Nodegroup{
		{Name: "pool-a-training", Cluster: "c1", Region: "us-west-2", GPUModel: "VENDOR-X1", CapacityGPUCount: 2},
	}
	queues := []catalog.Queue{
		{Name: "pool-a-queue", Namespace: "ml-training", TargetNodegroup: "pool-a-training"},
	}
	specs := catalog.SpecRegistry{
		"VENDOR-X1": {MaxPower: 300, IdlePower: 400, MemoryTotalMB: 24576, TheoreticalTFLOPS: 125, AchievableTFLOPS: 35},
	}
	cat, err := catalog.New(clusters, nodegroups, []string{"ml-training"}, queues, specs)
	require.NoError(t, err)

	profile, err := scenario.FromName(scenario.Balanced)
	require.NoError(t, err)
	grid, err := NewTimeGrid(DefaultStart, 1, 1)
	require.NoError(t, err)

	gen, err := New(&Config{Catalog: cat, Profile: profile, Grid: grid, Seed: 1})
	require.NoError(t, err)

	_, err = gen.Run()
	var rangeErr *RangeError
	require.ErrorAs(t, err, &rangeErr)
	assert.Equal(t, cat.GPUs[0].UUID, rangeErr.Entity)
	assert.Equal(t, "power_usage_watts", rangeErr.Metric)
	assert.Equal(t, grid.Start, rangeErr.Timestamp)
	assert.Equal(t, 400.0, rangeErr.Value)
	assert.Equal(t, 300.0, rangeErr.High)
}

func TestEnforcerRejectsIrreconcilableRows(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)
	enf := newEnforcer(slog.New(slog.DiscardHandler), cat)
	ts0 := DefaultStart
	ts1 := DefaultStart.Add(time.Minute)

	t.Run("counter regression", func(t *testing.T) {
		ds := &Dataset{Demand: []models.DemandRow{
			{QueueID: "q1", Nodegroup: "gpu-h100-training", Timestamp: ts0, AdmittedTotal: 10, EvictedTotal: 1},
			{QueueID: "q1", Nodegroup: "gpu-h100-training", Timestamp: ts1, AdmittedTotal: 7, EvictedTotal: 1},
		}}
		err := enf.Apply(ds)
		var rangeErr *RangeError
		require.ErrorAs(t, err, &rangeErr)
		assert.Equal(t, "q1", rangeErr.Entity)
		assert.Equal(t, "admitted_workloads_total", rangeErr.Metric)
		assert.Equal(t, ts1, rangeErr.Timestamp)
		assert.Equal(t, 7.0, rangeErr.Value)
		assert.Equal(t, 10.0, rangeErr.Low)
	})

	t.Run("memory overflow", func(t *testing.T) {
		gpu := cat.GPUs[0]
		spec, err := cat.Specs.Lookup(gpu.Model)
		require.NoError(t, err)
		ds := &Dataset{Capacity: []models.CapacityRow{
			{GPUUUID: gpu.UUID, Nodegroup: gpu.Nodegroup, GPUModel: gpu.Model, Timestamp: ts0, FBUsedMB: spec.MemoryTotalMB + 512},
		}}
		err = enf.Apply(ds)
		var rangeErr *RangeError
		require.ErrorAs(t, err, &rangeErr)
		assert.Equal(t, gpu.UUID, rangeErr.Entity)
		assert.Equal(t, "fb_used_mb", rangeErr.Metric)
		assert.Equal(t, ts0, rangeErr.Timestamp)
		assert.Equal(t, float64(spec.MemoryTotalMB), rangeErr.High)
	})
}
