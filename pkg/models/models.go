// Package models defines the typed rows of the persisted telemetry tables
package models

import (
	"time"

	"github.com/brent-segner/gpu-demand-capacity-analytics/internal/structset"
)

const (
	demandTableName   = "demand"
	capacityTableName = "capacity"
	nodepoolTableName = "nodepool_state"
)

// DemandRow is one workload queue sample, keyed by (queue_id, timestamp).
// The shape mirrors the Kueue metrics scraped off a real cluster.
type DemandRow struct {
	ID                   int64     `json:"-"                           csv:"-"                           sql:"id"                          sqlitetype:"integer not null primary key"`
	QueueID              string    `json:"queue_id"                    csv:"queue_id"                    sql:"queue_id"                    sqlitetype:"text"`
	Namespace            string    `json:"namespace"                   csv:"namespace"                   sql:"namespace"                   sqlitetype:"text"`
	Nodegroup            string    `json:"nodegroup"                   csv:"nodegroup"                   sql:"nodegroup"                   sqlitetype:"text"`
	Timestamp            time.Time `json:"timestamp"                   csv:"timestamp"                   sql:"timestamp"                   sqlitetype:"text"`
	PendingWorkloads     int64     `json:"pending_workloads"           csv:"pending_workloads"           sql:"pending_workloads"           sqlitetype:"integer"` // Workloads waiting for admission
	AdmissionWaitSeconds float64   `json:"admission_wait_time_seconds" csv:"admission_wait_time_seconds" sql:"admission_wait_time_seconds" sqlitetype:"real"`    // Mean wait before admission
	AdmittedActive       int64     `json:"admitted_active_workloads"   csv:"admitted_active_workloads"   sql:"admitted_active_workloads"   sqlitetype:"integer"` // Currently running workloads
	AdmittedTotal        int64     `json:"admitted_workloads_total"    csv:"admitted_workloads_total"    sql:"admitted_workloads_total"    sqlitetype:"integer"` // Monotonic counter
	EvictedTotal         int64     `json:"evicted_workloads_total"     csv:"evicted_workloads_total"     sql:"evicted_workloads_total"     sqlitetype:"integer"` // Monotonic counter
	ResourceUsage        int64     `json:"resource_usage"              csv:"resource_usage"              sql:"resource_usage"              sqlitetype:"integer"` // GPUs in use, always <= reservation
	ResourceReservation  int64     `json:"resource_reservation"        csv:"resource_reservation"        sql:"resource_reservation"        sqlitetype:"integer"` // GPUs reserved by admitted workloads
}

// TableName returns the table which demand rows are stored into.
func (DemandRow) TableName() string {
	return demandTableName
}

// TagNames returns a slice of all tag names.
func (d DemandRow) TagNames(tag string) []string {
	return structset.TagValues(d, tag)
}

// TagMap returns a map of tags based on keyTag and valueTag.
func (d DemandRow) TagMap(keyTag string, valueTag string) map[string]string {
	return structset.TagMap(d, keyTag, valueTag)
}

// CapacityRow is one GPU telemetry sample, keyed by (gpu_uuid, timestamp).
// The shape mirrors DCGM field group exports.
type CapacityRow struct {
	ID              int64     `json:"-"                      csv:"-"                      sql:"id"                     sqlitetype:"integer not null primary key"`
	GPUUUID         string    `json:"gpu_uuid"               csv:"gpu_uuid"               sql:"gpu_uuid"               sqlitetype:"text"`
	Nodegroup       string    `json:"nodegroup"              csv:"nodegroup"              sql:"nodegroup"              sqlitetype:"text"`
	GPUModel        string    `json:"gpu_model"              csv:"gpu_model"              sql:"gpu_model"              sqlitetype:"text"`
	Timestamp       time.Time `json:"timestamp"              csv:"timestamp"              sql:"timestamp"              sqlitetype:"text"`
	GPUUtilPct      float64   `json:"gpu_util_pct"           csv:"gpu_util_pct"           sql:"gpu_util_pct"           sqlitetype:"real"` // [0, 100]
	PowerUsageWatts float64   `json:"power_usage_watts"      csv:"power_usage_watts"      sql:"power_usage_watts"      sqlitetype:"real"` // [idle floor, model max]
	FBUsedMB        int64     `json:"fb_used_mb"             csv:"fb_used_mb"             sql:"fb_used_mb"             sqlitetype:"integer"`
	FBFreeMB        int64     `json:"fb_free_mb"             csv:"fb_free_mb"             sql:"fb_free_mb"             sqlitetype:"integer"` // fb_used + fb_free == model memory
	GPUTempC        float64   `json:"gpu_temp_c"             csv:"gpu_temp_c"             sql:"gpu_temp_c"             sqlitetype:"real"`
	TensorActivePct float64   `json:"tensor_active_pct"      csv:"tensor_active_pct"      sql:"tensor_active_pct"      sqlitetype:"real"` // [0, 100]
	PCIeRxBytes     int64     `json:"pcie_rx_bytes_per_sec"  csv:"pcie_rx_bytes_per_sec"  sql:"pcie_rx_bytes_per_sec"  sqlitetype:"integer"`
	PCIeTxBytes     int64     `json:"pcie_tx_bytes_per_sec"  csv:"pcie_tx_bytes_per_sec"  sql:"pcie_tx_bytes_per_sec"  sqlitetype:"integer"`
}

// TableName returns the table which capacity rows are stored into.
func (CapacityRow) TableName() string {
	return capacityTableName
}

// TagNames returns a slice of all tag names.
func (c CapacityRow) TagNames(tag string) []string {
	return structset.TagValues(c, tag)
}

// TagMap returns a map of tags based on keyTag and valueTag.
func (c CapacityRow) TagMap(keyTag string, valueTag string) map[string]string {
	return structset.TagMap(c, keyTag, valueTag)
}

// NodepoolRow is the static inventory of one nodegroup for the run.
type NodepoolRow struct {
	ID               int64  `json:"-"                     csv:"-"                     sql:"id"                    sqlitetype:"integer not null primary key"`
	Nodegroup        string `json:"nodegroup"             csv:"nodegroup"             sql:"nodegroup"             sqlitetype:"text"`
	Cluster          string `json:"cluster"               csv:"cluster"               sql:"cluster"               sqlitetype:"text"`
	GPUModel         string `json:"gpu_model"             csv:"gpu_model"             sql:"gpu_model"             sqlitetype:"text"`
	CapacityGPUCount int64  `json:"capacity_gpu_count"    csv:"capacity_gpu_count"    sql:"capacity_gpu_count"    sqlitetype:"integer"`
	AllocatableCount int64  `json:"allocatable_gpu_count" csv:"allocatable_gpu_count" sql:"allocatable_gpu_count" sqlitetype:"integer"` // Always <= capacity
}

// TableName returns the table which nodepool rows are stored into.
func (NodepoolRow) TableName() string {
	return nodepoolTableName
}

// TagNames returns a slice of all tag names.
func (n NodepoolRow) TagNames(tag string) []string {
	return structset.TagValues(n, tag)
}

// TagMap returns a map of tags based on keyTag and valueTag.
func (n NodepoolRow) TagMap(keyTag string, valueTag string) map[string]string {
	return structset.TagMap(n, keyTag, valueTag)
}

// Manifest is the run level record written once after a successful run.
// It carries everything needed to reproduce or audit the dataset.
type Manifest struct {
	Seed               int64            `json:"seed"`
	Scenario           string           `json:"scenario"`
	StartTime          time.Time        `json:"start_time"`
	EndTime            time.Time        `json:"end_time"`
	StepSeconds        int64            `json:"step_seconds"`
	RowCounts          map[string]int64 `json:"row_counts"`
	CatalogFingerprint string           `json:"catalog_fingerprint"`
	GPUModels          []string         `json:"gpu_models"`
	GeneratedAt        time.Time        `json:"generated_at"`
}

// Complete reports whether all mandatory manifest fields are populated.
func (m *Manifest) Complete() bool {
	return m.Scenario != "" &&
		!m.StartTime.IsZero() &&
		!m.EndTime.IsZero() &&
		m.StepSeconds > 0 &&
		len(m.RowCounts) > 0 &&
		m.CatalogFingerprint != ""
}
