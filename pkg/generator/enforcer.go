package generator

import (
	"log/slog"
	"math"

	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/catalog"
)

// enforcer is the sequential post-pass reconciling invariants that span
// multiple metrics or timestamps, which the per-step synthesizer cannot
// guarantee alone. Violations are corrected in place by folding the
// discrepancy back into the offending row; regenerating rows would break the
// determinism guarantee.
type enforcer struct {
	logger  *slog.Logger
	catalog *catalog.Catalog
}

func newEnforcer(logger *slog.Logger, cat *catalog.Catalog) *enforcer {
	return &enforcer{logger: logger, catalog: cat}
}

// Apply runs all consistency passes over the complete dataset.
func (e *enforcer) Apply(ds *Dataset) error {
	if err := e.reconcileQueues(ds); err != nil {
		return err
	}
	return e.reconcileMemory(ds)
}

// reconcileQueues walks every queue series in timestamp order and enforces
// two properties: the monotonic counters never decrease, and the pending
// count is consistent with a believable queueing process. A queue cannot
// drain faster than its admissions and evictions explain, so
// pending(t) >= pending(t-1) - admittedDelta(t) - evictedDelta(t). Rows
// breaking the floor are clamped up to it; fresh submissions can always push
// pending above the floor, so no upper correction is needed.
func (e *enforcer) reconcileQueues(ds *Dataset) error {
	type prev struct {
		pending  int64
		admitted int64
		evicted  int64
		seen     bool
	}
	last := make(map[string]prev, len(e.catalog.Queues))

	var corrected int
	for i := range ds.Demand {
		row := &ds.Demand[i]
		p := last[row.QueueID]
		if p.seen {
			if row.AdmittedTotal < p.admitted {
				return &RangeError{
					Entity: row.QueueID, Metric: "admitted_workloads_total", Timestamp: row.Timestamp,
					Value: float64(row.AdmittedTotal), Low: float64(p.admitted), High: math.Inf(1),
				}
			}
			if row.EvictedTotal < p.evicted {
				return &RangeError{
					Entity: row.QueueID, Metric: "evicted_workloads_total", Timestamp: row.Timestamp,
					Value: float64(row.EvictedTotal), Low: float64(p.evicted), High: math.Inf(1),
				}
			}

			admittedDelta := row.AdmittedTotal - p.admitted
			evictedDelta := row.EvictedTotal - p.evicted
			floor := p.pending - admittedDelta - evictedDelta
			if floor < 0 {
				floor = 0
			}
			if row.PendingWorkloads < floor {
				row.PendingWorkloads = floor
				corrected++
			}
		}
		last[row.QueueID] = prev{
			pending:  row.PendingWorkloads,
			admitted: row.AdmittedTotal,
			evicted:  row.EvictedTotal,
			seen:     true,
		}
	}
	if corrected > 0 {
		e.logger.Debug("Reconciled pending workload series", "rows_corrected", corrected)
	}
	return nil
}

// reconcileMemory re-derives fb_free from fb_used so used+free equals the
// fixed model memory at every timestamp, and fails hard when the used side
// itself is out of range.
func (e *enforcer) reconcileMemory(ds *Dataset) error {
	var corrected int
	for i := range ds.Capacity {
		row := &ds.Capacity[i]
		spec, err := e.catalog.Specs.Lookup(row.GPUModel)
		if err != nil {
			return err
		}
		if row.FBUsedMB < 0 || row.FBUsedMB > spec.MemoryTotalMB {
			return &RangeError{
				Entity: row.GPUUUID, Metric: "fb_used_mb", Timestamp: row.Timestamp,
				Value: float64(row.FBUsedMB), Low: 0, High: float64(spec.MemoryTotalMB),
			}
		}
		if free := spec.MemoryTotalMB - row.FBUsedMB; row.FBFreeMB != free {
			row.FBFreeMB = free
			corrected++
		}
	}
	if corrected > 0 {
		e.logger.Debug("Re-derived fb_free_mb", "rows_corrected", corrected)
	}
	return nil
}
