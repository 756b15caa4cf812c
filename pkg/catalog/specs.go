package catalog

import (
	"fmt"
	"slices"
)

// GPUSpec holds the published specifications of one GPU model. Power in
// watts, memory in MB, throughput in FP16 TFLOPS.
type GPUSpec struct {
	MaxPower          float64 `yaml:"max_power"`
	IdlePower         float64 `yaml:"idle_power"`
	MemoryTotalMB     int64   `yaml:"memory_total_mb"`
	TheoreticalTFLOPS float64 `yaml:"theoretical_tflops_fp16"`
	AchievableTFLOPS  float64 `yaml:"achievable_tflops_fp16"`
}

// SpecRegistry maps GPU model names to their specifications. A registry is
// constructed once per run and passed into the synthesizer and the derived
// metric layer explicitly. There is no package level mutable registry.
type SpecRegistry map[string]GPUSpec

// Lookup returns the spec for model or an error for unknown models.
func (r SpecRegistry) Lookup(model string) (GPUSpec, error) {
	spec, ok := r[model]
	if !ok {
		return GPUSpec{}, fmt.Errorf("unknown GPU model %q", model)
	}
	return spec, nil
}

// Models returns all registered model names in sorted order.
func (r SpecRegistry) Models() []string {
	models := make([]string, 0, len(r))
	for model := range r {
		models = append(models, model)
	}
	slices.Sort(models)
	return models
}

// DefaultSpecs returns the built-in registry covering the GPU models used by
// the default catalog. Values are published vendor figures.
func DefaultSpecs() SpecRegistry {
	return SpecRegistry{
		"NVIDIA A10G": {
			MaxPower:          300,
			IdlePower:         40,
			MemoryTotalMB:     24576,
			TheoreticalTFLOPS: 125,
			AchievableTFLOPS:  35,
		},
		"NVIDIA A100-SXM4-40GB": {
			MaxPower:          400,
			IdlePower:         50,
			MemoryTotalMB:     40960,
			TheoreticalTFLOPS: 312,
			AchievableTFLOPS:  102,
		},
		"NVIDIA H100 80GB HBM3": {
			MaxPower:          700,
			IdlePower:         70,
			MemoryTotalMB:     81920,
			TheoreticalTFLOPS: 1979,
			AchievableTFLOPS:  646,
		},
	}
}
