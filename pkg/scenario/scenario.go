// Package scenario defines the closed set of named operating scenarios that
// shape how demand and capacity signals trend and correlate over a synthetic
// run. A scenario is pure configuration: the generator never branches on the
// scenario name, only on profile values, so adding a scenario is a data
// change.
package scenario

import (
	"fmt"
	"strings"
)

// ErrUnknownScenario is returned for scenario names outside the built-in set.
var ErrUnknownScenario = fmt.Errorf("unknown scenario")

// Band is an inclusive target range for a percentage metric.
type Band struct {
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`
}

// Profile is the full parameterization of one scenario.
type Profile struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// UtilizationBand is the band the mean gpu_util_pct should settle in.
	UtilizationBand Band `yaml:"utilization_band"`

	// PowerUtilizationDecoupling controls how far power draw tracks
	// utilization. At 0 power follows utilization tightly; at 1 power is
	// pinned near the idle floor no matter how busy the GPU reports itself.
	// This is the lever behind the io_bottleneck shape.
	PowerUtilizationDecoupling float64 `yaml:"power_utilization_decoupling"`

	// QueueGrowthRate is the net drift of pending workloads per queue in
	// workloads/hour. Positive values make queues grow over the run.
	QueueGrowthRate float64 `yaml:"queue_growth_rate"`

	// WaitTimeInflation multiplies the base admission wait.
	WaitTimeInflation float64 `yaml:"wait_time_inflation"`

	// FragmentationFactor reduces effective schedulable capacity inside the
	// synthesizer without changing the reported nodepool counts.
	FragmentationFactor float64 `yaml:"fragmentation_factor"`

	// DemandCapacityRatio sets mean pending workloads as a fraction of
	// effective capacity.
	DemandCapacityRatio float64 `yaml:"demand_capacity_ratio"`

	// BaseWaitSeconds is the admission wait at an empty queue.
	BaseWaitSeconds float64 `yaml:"base_wait_seconds"`

	// ActiveRatio caps admitted active workloads as a fraction of capacity.
	ActiveRatio float64 `yaml:"active_ratio"`

	// EvictionRate is the fraction of admitted workloads later evicted.
	EvictionRate float64 `yaml:"eviction_rate"`

	// HighDemandNodegroups get their pending signal amplified.
	HighDemandNodegroups []string `yaml:"high_demand_nodegroups"`
}

// Scenario names understood by FromName.
const (
	Balanced              = "balanced"
	DemandExceedsCapacity = "demand_exceeds_capacity"
	CapacityFragmentation = "capacity_fragmentation"
	IOBottleneck          = "io_bottleneck"
)

// builtin profiles in a fixed presentation order.
var builtin = []Profile{
	{
		Name:                       Balanced,
		Description:                "Demand roughly matches capacity. Healthy queue dynamics with moderate utilization.",
		UtilizationBand:            Band{Low: 45, High: 75},
		PowerUtilizationDecoupling: 0.05,
		QueueGrowthRate:            0,
		WaitTimeInflation:          1.0,
		FragmentationFactor:        0,
		DemandCapacityRatio:        0.05,
		BaseWaitSeconds:            45,
		ActiveRatio:                0.5,
		EvictionRate:               0.01,
	},
	{
		Name:                       DemandExceedsCapacity,
		Description:                "More workloads submitted than can be scheduled. Growing queues and long wait times.",
		UtilizationBand:            Band{Low: 75, High: 98},
		PowerUtilizationDecoupling: 0,
		QueueGrowthRate:            2.5,
		WaitTimeInflation:          4.0,
		FragmentationFactor:        0,
		DemandCapacityRatio:        1.8,
		BaseWaitSeconds:            300,
		ActiveRatio:                0.95,
		EvictionRate:               0.05,
		HighDemandNodegroups:       []string{"ml-training-h100", "ml-training-a100"},
	},
	{
		Name:                       CapacityFragmentation,
		Description:                "GPUs exist but cannot be effectively scheduled due to fragmentation or constraints.",
		UtilizationBand:            Band{Low: 15, High: 55},
		PowerUtilizationDecoupling: 0.5,
		QueueGrowthRate:            0.8,
		WaitTimeInflation:          2.5,
		FragmentationFactor:        0.45,
		DemandCapacityRatio:        0.9,
		BaseWaitSeconds:            180,
		ActiveRatio:                0.45,
		EvictionRate:               0.08,
	},
	{
		Name:                       IOBottleneck,
		Description:                "GPUs report high utilization but low power draw. Data-starved or I/O bound workloads.",
		UtilizationBand:            Band{Low: 75, High: 95},
		PowerUtilizationDecoupling: 0.9,
		QueueGrowthRate:            0,
		WaitTimeInflation:          0.8,
		FragmentationFactor:        0,
		DemandCapacityRatio:        0.5,
		BaseWaitSeconds:            30,
		ActiveRatio:                0.85,
		EvictionRate:               0.02,
	},
}

// FromName returns the built-in profile for name.
func FromName(name string) (Profile, error) {
	for _, p := range builtin {
		if p.Name == name {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("%w %q, available: %s", ErrUnknownScenario, name, strings.Join(Names(), ", "))
}

// Names returns all built-in scenario names in presentation order.
func Names() []string {
	names := make([]string, len(builtin))
	for i, p := range builtin {
		names[i] = p.Name
	}
	return names
}

// All returns copies of the built-in profiles in presentation order.
func All() []Profile {
	return append([]Profile(nil), builtin...)
}

// Validate checks profile values against their allowed ranges. Profiles
// loaded from configuration files go through this before a run starts.
func (p Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("scenario profile is missing a name")
	}
	if p.UtilizationBand.Low < 0 || p.UtilizationBand.High > 100 || p.UtilizationBand.Low > p.UtilizationBand.High {
		return fmt.Errorf("scenario %s: utilization band [%v, %v] is not a sub-range of [0, 100]",
			p.Name, p.UtilizationBand.Low, p.UtilizationBand.High)
	}
	for field, v := range map[string]float64{
		"power_utilization_decoupling": p.PowerUtilizationDecoupling,
		"fragmentation_factor":         p.FragmentationFactor,
		"eviction_rate":                p.EvictionRate,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("scenario %s: %s %v outside [0, 1]", p.Name, field, v)
		}
	}
	if p.DemandCapacityRatio < 0 || p.BaseWaitSeconds < 0 || p.WaitTimeInflation < 0 {
		return fmt.Errorf("scenario %s: demand, wait and inflation parameters must be non-negative", p.Name)
	}
	if p.ActiveRatio < 0 || p.ActiveRatio > 1 {
		return fmt.Errorf("scenario %s: active_ratio %v outside [0, 1]", p.Name, p.ActiveRatio)
	}
	return nil
}
