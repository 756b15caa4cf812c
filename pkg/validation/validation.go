// Package validation implements the final gate before a dataset is
// persisted: schema level and invariant checks over the complete generated
// output. The validator never stops at the first failure; a single run
// surfaces every violation at once.
package validation

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/brent-segner/gpu-demand-capacity-analytics/internal/common"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/catalog"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/generator"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/models"
)

// Violation is one failed check, pinned to the entity, metric and timestamp
// it was found at.
type Violation struct {
	Table     string
	Entity    string
	Metric    string
	Timestamp time.Time
	Message   string
}

// Report is the outcome of a validation run.
type Report struct {
	Violations []Violation
}

// OK reports whether the dataset passed every check.
func (r *Report) OK() bool {
	return len(r.Violations) == 0
}

// checkFinite flags NaN and infinite samples. The range comparisons in the
// per-table checks silently pass NaN, so non-finite values need their own
// gate; a metric failing it is reported once and skips its range check.
func (r *Report) checkFinite(tableName, entity, metric string, ts time.Time, v float64) bool {
	if common.SanitizeFloat(v) != v {
		r.add(tableName, entity, metric, ts, "non-finite value %v", v)
		return false
	}
	return true
}

func (r *Report) add(tableName, entity, metric string, ts time.Time, format string, args ...any) {
	r.Violations = append(r.Violations, Violation{
		Table:     tableName,
		Entity:    entity,
		Metric:    metric,
		Timestamp: ts,
		Message:   fmt.Sprintf(format, args...),
	})
}

// Render writes the report as a table. Passing datasets render a single OK
// line instead.
func (r *Report) Render(w io.Writer) {
	if r.OK() {
		fmt.Fprintln(w, "validation: OK")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Table", "Entity", "Metric", "Timestamp", "Violation"})
	for _, v := range r.Violations {
		ts := ""
		if !v.Timestamp.IsZero() {
			ts = v.Timestamp.UTC().Format(time.RFC3339)
		}
		t.AppendRow(table.Row{v.Table, v.Entity, v.Metric, ts, v.Message})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
	fmt.Fprintf(w, "validation: %d violation(s)\n", len(r.Violations))
}

// GPU temperatures outside this window indicate a broken thermal model, not
// a plausible sample.
const (
	tempFloorC   = 0.0
	tempCeilingC = 120.0
)

// Check runs every validation over the dataset and manifest.
func Check(ds *generator.Dataset, manifest *models.Manifest, cat *catalog.Catalog, grid generator.TimeGrid) *Report {
	r := &Report{}

	checkRowCounts(r, ds, cat, grid)
	checkDemand(r, ds, cat)
	checkCapacity(r, ds, cat)
	checkNodepool(r, ds, cat)
	checkManifest(r, manifest)

	return r
}

func checkRowCounts(r *Report, ds *generator.Dataset, cat *catalog.Catalog, grid generator.TimeGrid) {
	if want, got := len(cat.Queues)*grid.Count, len(ds.Demand); got != want {
		r.add("demand", "", "", time.Time{}, "row count %d, want queues x timestamps = %d", got, want)
	}
	if want, got := len(cat.GPUs)*grid.Count, len(ds.Capacity); got != want {
		r.add("capacity", "", "", time.Time{}, "row count %d, want gpus x timestamps = %d", got, want)
	}
	if want, got := len(cat.Nodegroups), len(ds.Nodepool); got != want {
		r.add("nodepool_state", "", "", time.Time{}, "row count %d, want nodegroups = %d", got, want)
	}
}

func checkDemand(r *Report, ds *generator.Dataset, cat *catalog.Catalog) {
	queues := make(map[string]bool, len(cat.Queues))
	for _, q := range cat.Queues {
		queues[q.Name] = true
	}
	nodegroups := make(map[string]bool, len(cat.Nodegroups))
	for _, ng := range cat.Nodegroups {
		nodegroups[ng.Name] = true
	}

	type counters struct {
		admitted, evicted int64
		seen              bool
	}
	last := make(map[string]counters)

	for _, row := range ds.Demand {
		if !queues[row.QueueID] {
			r.add("demand", row.QueueID, "queue_id", row.Timestamp, "references queue missing from catalog")
		}
		if !nodegroups[row.Nodegroup] {
			r.add("demand", row.QueueID, "nodegroup", row.Timestamp, "references nodegroup %q missing from catalog", row.Nodegroup)
		}
		if row.PendingWorkloads < 0 {
			r.add("demand", row.QueueID, "pending_workloads", row.Timestamp, "negative value %d", row.PendingWorkloads)
		}
		if r.checkFinite("demand", row.QueueID, "admission_wait_time_seconds", row.Timestamp, row.AdmissionWaitSeconds) &&
			row.AdmissionWaitSeconds < 0 {
			r.add("demand", row.QueueID, "admission_wait_time_seconds", row.Timestamp, "negative value %v", row.AdmissionWaitSeconds)
		}
		if row.AdmittedActive < 0 {
			r.add("demand", row.QueueID, "admitted_active_workloads", row.Timestamp, "negative value %d", row.AdmittedActive)
		}
		if row.ResourceUsage > row.ResourceReservation {
			r.add("demand", row.QueueID, "resource_usage", row.Timestamp,
				"usage %d exceeds reservation %d", row.ResourceUsage, row.ResourceReservation)
		}

		prev := last[row.QueueID]
		if prev.seen {
			if row.AdmittedTotal < prev.admitted {
				r.add("demand", row.QueueID, "admitted_workloads_total", row.Timestamp,
					"counter decreased from %d to %d", prev.admitted, row.AdmittedTotal)
			}
			if row.EvictedTotal < prev.evicted {
				r.add("demand", row.QueueID, "evicted_workloads_total", row.Timestamp,
					"counter decreased from %d to %d", prev.evicted, row.EvictedTotal)
			}
		}
		last[row.QueueID] = counters{admitted: row.AdmittedTotal, evicted: row.EvictedTotal, seen: true}
	}
}

func checkCapacity(r *Report, ds *generator.Dataset, cat *catalog.Catalog) {
	gpus := make(map[string]bool, len(cat.GPUs))
	for _, gpu := range cat.GPUs {
		gpus[gpu.UUID] = true
	}
	nodegroups := make(map[string]bool, len(cat.Nodegroups))
	for _, ng := range cat.Nodegroups {
		nodegroups[ng.Name] = true
	}

	for _, row := range ds.Capacity {
		if !gpus[row.GPUUUID] {
			r.add("capacity", row.GPUUUID, "gpu_uuid", row.Timestamp, "references GPU missing from catalog")
		}
		if !nodegroups[row.Nodegroup] {
			r.add("capacity", row.GPUUUID, "nodegroup", row.Timestamp, "references nodegroup %q missing from catalog", row.Nodegroup)
		}
		if r.checkFinite("capacity", row.GPUUUID, "gpu_util_pct", row.Timestamp, row.GPUUtilPct) &&
			(row.GPUUtilPct < 0 || row.GPUUtilPct > 100) {
			r.add("capacity", row.GPUUUID, "gpu_util_pct", row.Timestamp, "value %v outside [0, 100]", row.GPUUtilPct)
		}
		if r.checkFinite("capacity", row.GPUUUID, "tensor_active_pct", row.Timestamp, row.TensorActivePct) &&
			(row.TensorActivePct < 0 || row.TensorActivePct > 100) {
			r.add("capacity", row.GPUUUID, "tensor_active_pct", row.Timestamp, "value %v outside [0, 100]", row.TensorActivePct)
		}
		if r.checkFinite("capacity", row.GPUUUID, "gpu_temp_c", row.Timestamp, row.GPUTempC) &&
			(row.GPUTempC < tempFloorC || row.GPUTempC > tempCeilingC) {
			r.add("capacity", row.GPUUUID, "gpu_temp_c", row.Timestamp, "value %v outside [%v, %v]", row.GPUTempC, tempFloorC, tempCeilingC)
		}
		if row.PCIeRxBytes < 0 || row.PCIeTxBytes < 0 {
			r.add("capacity", row.GPUUUID, "pcie_bytes_per_sec", row.Timestamp, "negative PCIe throughput")
		}

		spec, err := cat.Specs.Lookup(row.GPUModel)
		if err != nil {
			r.add("capacity", row.GPUUUID, "gpu_model", row.Timestamp, "unknown model %q", row.GPUModel)
			continue
		}
		if r.checkFinite("capacity", row.GPUUUID, "power_usage_watts", row.Timestamp, row.PowerUsageWatts) &&
			(row.PowerUsageWatts < spec.IdlePower || row.PowerUsageWatts > spec.MaxPower) {
			r.add("capacity", row.GPUUUID, "power_usage_watts", row.Timestamp,
				"value %v outside [%v, %v]", row.PowerUsageWatts, spec.IdlePower, spec.MaxPower)
		}
		if row.FBUsedMB+row.FBFreeMB != spec.MemoryTotalMB {
			r.add("capacity", row.GPUUUID, "fb_used_mb", row.Timestamp,
				"used %d + free %d != model memory %d", row.FBUsedMB, row.FBFreeMB, spec.MemoryTotalMB)
		}
	}
}

func checkNodepool(r *Report, ds *generator.Dataset, cat *catalog.Catalog) {
	nodegroups := make(map[string]bool, len(cat.Nodegroups))
	for _, ng := range cat.Nodegroups {
		nodegroups[ng.Name] = true
	}
	for _, row := range ds.Nodepool {
		if !nodegroups[row.Nodegroup] {
			r.add("nodepool_state", row.Nodegroup, "nodegroup", time.Time{}, "references nodegroup missing from catalog")
		}
		if row.CapacityGPUCount < 0 {
			r.add("nodepool_state", row.Nodegroup, "capacity_gpu_count", time.Time{}, "negative value %d", row.CapacityGPUCount)
		}
		if row.AllocatableCount < 0 {
			r.add("nodepool_state", row.Nodegroup, "allocatable_gpu_count", time.Time{}, "negative value %d", row.AllocatableCount)
		}
		if row.AllocatableCount > row.CapacityGPUCount {
			r.add("nodepool_state", row.Nodegroup, "allocatable_gpu_count", time.Time{},
				"allocatable %d exceeds capacity %d", row.AllocatableCount, row.CapacityGPUCount)
		}
	}
}

func checkManifest(r *Report, manifest *models.Manifest) {
	if manifest == nil {
		r.add("manifest", "", "", time.Time{}, "manifest missing")
		return
	}
	if !manifest.Complete() {
		r.add("manifest", "", "", time.Time{}, "manifest has unpopulated mandatory fields")
	}
	if !manifest.EndTime.After(manifest.StartTime) && !manifest.EndTime.Equal(manifest.StartTime) {
		r.add("manifest", "", "end_time", manifest.EndTime, "end time precedes start time")
	}
}
