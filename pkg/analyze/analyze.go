// Package analyze derives efficiency and imbalance metrics from generated
// telemetry. All scalar calculations are pure functions over row values and
// the GPU spec registry so the same input always yields the same report.
package analyze

import (
	"math"

	"github.com/brent-segner/gpu-demand-capacity-analytics/internal/common"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/catalog"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/models"
)

// Guards the demand capacity ratio against division by zero when a
// nodegroup is fully allocated.
const dcrEpsilon = 1e-6

// Weights are the mixing coefficients of the composite scores.
type Weights struct {
	Pending float64 `yaml:"pending"`
	Wait    float64 `yaml:"wait"`
	DCR     float64 `yaml:"dcr"`
	Gap     float64 `yaml:"gap"`
	QPS     float64 `yaml:"qps"`
}

// Default mixing coefficients. Pending and Wait combine into the queue
// pressure score, the remaining three into the composite imbalance score.
const (
	DefaultPendingWeight = 0.6
	DefaultWaitWeight    = 0.4
	DefaultDCRWeight     = 0.5
	DefaultGapWeight     = 0.3
	DefaultQPSWeight     = 0.2
)

// DefaultWeights returns the standard mixing coefficients.
func DefaultWeights() Weights {
	return Weights{
		Pending: DefaultPendingWeight,
		Wait:    DefaultWaitWeight,
		DCR:     DefaultDCRWeight,
		Gap:     DefaultGapWeight,
		QPS:     DefaultQPSWeight,
	}
}

// PowerIntensityFactor is the drawn power as a fraction of the model's
// board limit, clamped to [0, 1].
func PowerIntensityFactor(powerWatts, maxPowerWatts float64) float64 {
	if maxPowerWatts <= 0 {
		return 0
	}
	return common.Clamp(powerWatts/maxPowerWatts, 0, 1)
}

// RealizedTFLOPS estimates delivered compute from the power draw.
func RealizedTFLOPS(spec catalog.GPUSpec, pif float64) float64 {
	return spec.AchievableTFLOPS * pif
}

// RealizedUtilization is realized TFLOPS as a percentage of the model's
// achievable throughput, clamped to [0, 100].
func RealizedUtilization(spec catalog.GPUSpec, realizedTFLOPS float64) float64 {
	if spec.AchievableTFLOPS <= 0 {
		return 0
	}
	return common.Clamp(realizedTFLOPS/spec.AchievableTFLOPS*100, 0, 100)
}

// EfficiencyGap is reported utilization minus realized utilization. A
// positive gap means the GPU is busy without delivering compute.
func EfficiencyGap(gpuUtilPct, rfuPct float64) float64 {
	return gpuUtilPct - rfuPct
}

// MemoryPressure is used framebuffer as a percentage of total.
func MemoryPressure(usedMB, freeMB int64) float64 {
	total := usedMB + freeMB
	if total <= 0 {
		return 0
	}
	return float64(usedMB) / float64(total) * 100
}

// DemandCapacityRatio relates pending workloads to free GPU capacity.
// Values above 1 mean demand exceeds what the nodegroup can absorb.
func DemandCapacityRatio(pending, availableCapacity float64) float64 {
	return pending / (availableCapacity + dcrEpsilon)
}

// Normalize rescales values to [0, 1] with min-max normalization. A
// constant series normalizes to all zeros.
func Normalize(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}

	low, high := values[0], values[0]
	for _, v := range values[1:] {
		low = math.Min(low, v)
		high = math.Max(high, v)
	}
	if high == low {
		return out
	}
	for i, v := range values {
		out[i] = (v - low) / (high - low)
	}
	return out
}

// QueuePressureScores combines queue depth and admission wait into one
// urgency score per sample, normalized over the whole input.
func QueuePressureScores(pending, waitSeconds []float64, w Weights) []float64 {
	normPending := Normalize(pending)
	normWait := Normalize(waitSeconds)

	out := make([]float64, len(pending))
	for i := range out {
		out[i] = w.Pending*normPending[i] + w.Wait*normWait[i]
	}
	return out
}

// CompositeImbalanceScores blends demand pressure and efficiency loss into
// one indicator per sample. Negative efficiency gaps are treated as zero;
// only busy-but-unproductive capacity counts toward imbalance.
func CompositeImbalanceScores(dcr, gap, qps []float64, w Weights) []float64 {
	clippedGap := make([]float64, len(gap))
	for i, g := range gap {
		clippedGap[i] = math.Max(g, 0)
	}

	normDCR := Normalize(dcr)
	normGap := Normalize(clippedGap)

	out := make([]float64, len(dcr))
	for i := range out {
		out[i] = w.DCR*normDCR[i] + w.Gap*normGap[i] + w.QPS*qps[i]
	}
	return out
}

// Efficiency class labels.
const (
	ClassIdle         = "Idle"
	ClassEfficient    = "Efficient"
	ClassBottlenecked = "Bottlenecked"
	ClassModerate     = "Moderate"
	ClassInefficient  = "Inefficient"
)

// ClassifyEfficiency buckets a GPU sample by utilization and power
// intensity. High utilization paired with low power draw marks a
// bottlenecked workload, typically stalled on IO or host memory.
func ClassifyEfficiency(gpuUtilPct, pif float64) string {
	switch {
	case gpuUtilPct < 10:
		return ClassIdle
	case gpuUtilPct >= 70 && pif >= 0.75:
		return ClassEfficient
	case gpuUtilPct >= 70 && pif < 0.60:
		return ClassBottlenecked
	case gpuUtilPct >= 40 && pif >= 0.50:
		return ClassModerate
	default:
		return ClassInefficient
	}
}

// Imbalance severity labels.
const (
	SeverityHealthy  = "Healthy"
	SeverityModerate = "Moderate"
	SeverityWarning  = "Warning"
	SeverityCritical = "Critical"
)

// ClassifySeverity buckets a composite score, escalating on a raw demand
// capacity ratio regardless of the blended score.
func ClassifySeverity(cis, dcr float64) string {
	switch {
	case cis > 0.7 || dcr > 2.0:
		return SeverityCritical
	case cis > 0.5 || dcr > 1.0:
		return SeverityWarning
	case cis > 0.3:
		return SeverityModerate
	default:
		return SeverityHealthy
	}
}

// GPUEfficiency carries the derived per-sample efficiency metrics.
type GPUEfficiency struct {
	PIF               float64
	RealizedTFLOPS    float64
	RFUPct            float64
	EfficiencyGap     float64
	MemoryPressurePct float64
	Class             string
}

// EfficiencyFor derives all efficiency metrics of one capacity sample.
func EfficiencyFor(row models.CapacityRow, spec catalog.GPUSpec) GPUEfficiency {
	pif := PowerIntensityFactor(row.PowerUsageWatts, spec.MaxPower)
	realized := RealizedTFLOPS(spec, pif)
	rfu := RealizedUtilization(spec, realized)

	return GPUEfficiency{
		PIF:               pif,
		RealizedTFLOPS:    realized,
		RFUPct:            rfu,
		EfficiencyGap:     EfficiencyGap(row.GPUUtilPct, rfu),
		MemoryPressurePct: MemoryPressure(row.FBUsedMB, row.FBFreeMB),
		Class:             ClassifyEfficiency(row.GPUUtilPct, pif),
	}
}
