// Package generator implements the scenario driven synthetic time-series
// generator: a time grid, a seeded per-entity noise source, the signal
// synthesizer producing demand, capacity and nodepool rows, and the
// cross-metric consistency enforcer that reconciles signals spanning
// multiple metrics or timestamps.
package generator

import (
	"errors"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/brent-segner/gpu-demand-capacity-analytics/internal/common"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/catalog"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/models"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/scenario"
)

// Config carries everything a run needs. All inputs are resolved before
// synthesis begins; generation itself never blocks on I/O.
type Config struct {
	Logger  *slog.Logger
	Catalog *catalog.Catalog
	Profile scenario.Profile
	Grid    TimeGrid
	Seed    int64
}

// Generator synthesizes one complete dataset per Run call.
type Generator struct {
	logger  *slog.Logger
	catalog *catalog.Catalog
	profile scenario.Profile
	grid    TimeGrid
	seed    int64
	noise   *noiseSource
}

// Amplification applied to the pending signal of high demand nodegroups.
const highDemandBoost = 1.8

// New validates the configuration and returns a Generator.
func New(c *Config) (*Generator, error) {
	if c.Catalog == nil {
		return nil, errors.New("generator requires an entity catalog")
	}
	if c.Grid.Count < 1 {
		return nil, errors.New("generator requires a non-empty time grid")
	}
	if err := c.Profile.Validate(); err != nil {
		return nil, err
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Generator{
		logger:  logger,
		catalog: c.Catalog,
		profile: c.Profile,
		grid:    c.Grid,
		seed:    c.Seed,
		noise:   newNoiseSource(c.Seed),
	}, nil
}

// Run produces the full dataset: nodepool inventory, per queue demand series,
// per GPU capacity series, followed by the consistency pass. Output is a pure
// function of (seed, scenario, catalog, grid).
func (g *Generator) Run() (*Dataset, error) {
	start := time.Now()

	ds := &Dataset{}
	g.synthesizeNodepool(ds)

	// Demand first: capacity signals couple to the admitted workload level
	// of the owning nodegroup.
	activeByNodegroup, err := g.synthesizeDemand(ds)
	if err != nil {
		return nil, err
	}
	if err := g.synthesizeCapacity(ds, activeByNodegroup); err != nil {
		return nil, err
	}

	enforcer := newEnforcer(g.logger, g.catalog)
	if err := enforcer.Apply(ds); err != nil {
		return nil, err
	}

	g.logger.Info("Dataset generated",
		"scenario", g.profile.Name, "seed", g.seed,
		"demand_rows", len(ds.Demand), "capacity_rows", len(ds.Capacity),
		"nodepool_rows", len(ds.Nodepool), "elapsed", time.Since(start))
	return ds, nil
}

// synthesizeNodepool emits one static inventory row per nodegroup. The
// catalog is immutable for the run, so reported counts never change
// mid-series; fragmentation only shrinks the synthesizer-internal effective
// capacity.
func (g *Generator) synthesizeNodepool(ds *Dataset) {
	for _, ng := range g.catalog.Nodegroups {
		ds.Nodepool = append(ds.Nodepool, models.NodepoolRow{
			Nodegroup:        ng.Name,
			Cluster:          ng.Cluster,
			GPUModel:         ng.GPUModel,
			CapacityGPUCount: ng.CapacityGPUCount,
			AllocatableCount: ng.AllocatableCount,
		})
	}
}

// timeOfDayMultiplier models the business hours demand swell: a sinusoid
// peaking mid-afternoon between 09:00 and 18:00 and a flat night floor.
func timeOfDayMultiplier(t time.Time) float64 {
	hour := t.Hour()
	if hour >= 9 && hour <= 18 {
		return 1.2 + 0.3*math.Sin(float64(hour-9)*math.Pi/9)
	}
	return 0.6
}

// synthesizeDemand produces the per queue demand series and returns the
// admitted active workload sum per (nodegroup, step) for capacity coupling.
func (g *Generator) synthesizeDemand(ds *Dataset) (map[string][]float64, error) {
	p := g.profile

	active := make(map[string][]float64, len(g.catalog.Nodegroups))
	for _, ng := range g.catalog.Nodegroups {
		active[ng.Name] = make([]float64, g.grid.Count)
	}

	stepHours := g.grid.Step.Hours()
	for _, q := range g.catalog.Queues {
		ng, _ := g.catalog.Nodegroup(q.TargetNodegroup)
		nQueues := float64(len(g.catalog.QueuesFor(ng.Name)))

		// Queues sharing a nodegroup split its capacity evenly.
		queueCap := float64(ng.AllocatableCount) / nQueues
		effCap := math.Max(1, queueCap*(1-p.FragmentationFactor))
		maxActive := queueCap * p.ActiveRatio
		highDemand := slices.Contains(p.HighDemandNodegroups, ng.Name)

		rng := g.noise.entityStream(q.Name)
		var admittedTotal, evictedTotal int64
		for i := 0; i < g.grid.Count; i++ {
			ts := g.grid.At(i)
			tod := timeOfDayMultiplier(ts)
			todNorm := (tod - 0.6) / 0.9
			elapsedHours := ts.Sub(g.grid.Start).Hours()

			// Base trend plus scenario drift, then bounded noise.
			pendingMean := effCap*p.DemandCapacityRatio*tod + p.QueueGrowthRate*elapsedHours
			if highDemand {
				pendingMean *= highDemandBoost
			}
			pending := int64(math.Round(pendingMean + rng.NormFloat64()*0.2*math.Max(pendingMean, 1)))
			if pending < 0 {
				pending = 0
			}

			baseWait := p.BaseWaitSeconds * p.WaitTimeInflation
			wait := baseWait*(1+float64(pending)/effCap) + rng.NormFloat64()*0.25*math.Max(baseWait, 1)
			if wait < 0 {
				wait = 0
			}

			activeMean := maxActive * (0.7 + 0.3*todNorm)
			adm := int64(math.Round(activeMean + rng.NormFloat64()*2))
			adm = int64(common.Clamp(float64(adm), 0, queueCap))

			// Monotonic counters accumulate a non-negative per-step
			// increment drawn from the same trend and noise process.
			admitRate := float64(adm) * stepHours
			admittedDelta := int64(math.Round(admitRate + rng.NormFloat64()*math.Sqrt(admitRate+1)))
			if admittedDelta < 0 {
				admittedDelta = 0
			}
			evictedDelta := int64(math.Round(float64(admittedDelta)*p.EvictionRate + 0.2*rng.NormFloat64()))
			if evictedDelta < 0 {
				evictedDelta = 0
			}
			admittedTotal += admittedDelta
			evictedTotal += evictedDelta

			reservation := adm + min(pending, int64(math.Round(queueCap/5)))

			ds.Demand = append(ds.Demand, models.DemandRow{
				QueueID:              q.Name,
				Namespace:            q.Namespace,
				Nodegroup:            ng.Name,
				Timestamp:            ts,
				PendingWorkloads:     pending,
				AdmissionWaitSeconds: math.Round(wait*10) / 10,
				AdmittedActive:       adm,
				AdmittedTotal:        admittedTotal,
				EvictedTotal:         evictedTotal,
				ResourceUsage:        adm,
				ResourceReservation:  reservation,
			})
			active[ng.Name][i] += float64(adm)
		}
	}
	return active, nil
}

// synthesizeCapacity produces the per GPU telemetry series. Power and tensor
// activity are derived from utilization through the scenario's decoupling
// factor, applied identically to every GPU, so comparing entities within a
// scenario stays meaningful.
func (g *Generator) synthesizeCapacity(ds *Dataset, activeByNodegroup map[string][]float64) error {
	p := g.profile
	band := p.UtilizationBand
	d := p.PowerUtilizationDecoupling

	for _, gpu := range g.catalog.GPUs {
		ng, _ := g.catalog.Nodegroup(gpu.Nodegroup)
		spec, err := g.catalog.Specs.Lookup(gpu.Model)
		if err != nil {
			return err
		}
		if spec.IdlePower > spec.MaxPower {
			return &RangeError{
				Entity: gpu.UUID, Metric: "power_usage_watts", Timestamp: g.grid.Start,
				Value: spec.IdlePower, Low: 0, High: spec.MaxPower,
			}
		}

		effCap := math.Max(1, float64(ng.AllocatableCount)*(1-p.FragmentationFactor))
		tensorBase := 0.3
		if strings.Contains(ng.Name, "training") {
			tensorBase = 0.85
		}

		rng := g.noise.entityStream(gpu.UUID)
		for i := 0; i < g.grid.Count; i++ {
			ts := g.grid.At(i)

			// Utilization couples to the admitted workload level of the
			// owning nodegroup, mapped into the scenario band.
			frac := common.Clamp(activeByNodegroup[ng.Name][i]/effCap, 0, 1)
			util := common.Clamp(band.Low+(band.High-band.Low)*frac+rng.NormFloat64()*6, 0, 100)

			// Power tracks utilization scaled back by the decoupling
			// factor; a fully decoupled scenario idles near 30% of the
			// power envelope regardless of reported utilization.
			powerFrac := common.Clamp(
				(1-d)*(0.25+0.65*util/100)+d*0.30+rng.NormFloat64()*0.03, 0, 1)
			power := spec.IdlePower + powerFrac*(spec.MaxPower-spec.IdlePower)

			// Memory used/free derive from one pressure fraction, so the
			// conservation invariant holds by construction.
			pressure := common.Clamp(0.30+0.5*util/100+rng.NormFloat64()*0.08, 0.05, 0.95)
			used := int64(math.Round(float64(spec.MemoryTotalMB) * pressure))
			free := spec.MemoryTotalMB - used
			if used < 0 || free < 0 {
				return &RangeError{
					Entity: gpu.UUID, Metric: "fb_used_mb", Timestamp: ts,
					Value: float64(used), Low: 0, High: float64(spec.MemoryTotalMB),
				}
			}

			temp := common.Clamp(30+45*power/spec.MaxPower+rng.NormFloat64()*2, 25, 90)
			tensor := common.Clamp(util*tensorBase*(1-0.5*d)+rng.NormFloat64()*4, 0, 100)

			// Bottlenecked workloads shuffle more data over the bus per
			// unit of compute.
			pcieScale := (1 + util/100) * (1 + 2*d)
			rx := int64((100000 + rng.Float64()*900000) * pcieScale)
			tx := int64((100000 + rng.Float64()*900000) * pcieScale)

			ds.Capacity = append(ds.Capacity, models.CapacityRow{
				GPUUUID:         gpu.UUID,
				Nodegroup:       ng.Name,
				GPUModel:        gpu.Model,
				Timestamp:       ts,
				GPUUtilPct:      math.Round(util*10) / 10,
				PowerUsageWatts: math.Round(power*100) / 100,
				FBUsedMB:        used,
				FBFreeMB:        free,
				GPUTempC:        math.Round(temp*10) / 10,
				TensorActivePct: math.Round(tensor*10) / 10,
				PCIeRxBytes:     rx,
				PCIeTxBytes:     tx,
			})
		}
	}
	return nil
}
