// Package catalog defines the fixed universe of entities a run generates
// telemetry for: clusters, nodegroups, GPUs, namespaces and workload queues.
// The catalog is constructed once per run and held read-only afterwards.
package catalog

import (
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/brent-segner/gpu-demand-capacity-analytics/internal/common"
)

// Cluster is a named cluster with its cloud region label.
type Cluster struct {
	Name   string `yaml:"name"`
	Region string `yaml:"region"`
}

// Nodegroup is a homogeneous pool of GPUs of one model inside a cluster.
type Nodegroup struct {
	Name             string `yaml:"name"`
	Cluster          string `yaml:"cluster"`
	Region           string `yaml:"region"`
	GPUModel         string `yaml:"gpu_model"`
	CapacityGPUCount int64  `yaml:"capacity_gpu_count"`
	AllocatableCount int64  `yaml:"allocatable_gpu_count"`
}

// GPU is one physical unit inside a nodegroup.
type GPU struct {
	UUID      string
	Nodegroup string
	Model     string
	Hostname  string
}

// Queue is a workload queue feeding exactly one nodegroup.
type Queue struct {
	Name            string `yaml:"name"`
	Namespace       string `yaml:"namespace"`
	TargetNodegroup string `yaml:"target_nodegroup"`
}

// Catalog is the complete entity universe of one run together with the GPU
// spec registry. All slices are in deterministic order.
type Catalog struct {
	Clusters   []Cluster
	Nodegroups []Nodegroup
	GPUs       []GPU
	Namespaces []string
	Queues     []Queue
	Specs      SpecRegistry
}

// Ratio of allocatable to capacity GPUs. Matches what a kubelet typically
// reports after system reservations.
const allocatableRatio = 0.95

// New builds a catalog from nodegroups and queues, derives the per-unit GPU
// inventory and validates the referential invariants. Allocatable counts are
// derived from capacity when left zero.
func New(clusters []Cluster, nodegroups []Nodegroup, namespaces []string, queues []Queue, specs SpecRegistry) (*Catalog, error) {
	c := &Catalog{
		Clusters:   clusters,
		Nodegroups: nodegroups,
		Namespaces: namespaces,
		Queues:     queues,
		Specs:      specs,
	}

	clusterNames := make(map[string]bool, len(clusters))
	for _, cluster := range clusters {
		clusterNames[cluster.Name] = true
	}

	for i, ng := range c.Nodegroups {
		if !clusterNames[ng.Cluster] {
			return nil, fmt.Errorf("nodegroup %s references unknown cluster %s", ng.Name, ng.Cluster)
		}
		if _, err := specs.Lookup(ng.GPUModel); err != nil {
			return nil, fmt.Errorf("nodegroup %s: %w", ng.Name, err)
		}
		if ng.CapacityGPUCount < 1 {
			return nil, fmt.Errorf("nodegroup %s has non-positive GPU capacity %d", ng.Name, ng.CapacityGPUCount)
		}
		if ng.AllocatableCount == 0 {
			c.Nodegroups[i].AllocatableCount = max(1, int64(math.Floor(float64(ng.CapacityGPUCount)*allocatableRatio)))
		} else if ng.AllocatableCount > ng.CapacityGPUCount {
			return nil, fmt.Errorf(
				"nodegroup %s allocatable count %d exceeds capacity %d",
				ng.Name, ng.AllocatableCount, ng.CapacityGPUCount,
			)
		}
	}

	nodegroupNames := make(map[string]bool, len(c.Nodegroups))
	for _, ng := range c.Nodegroups {
		nodegroupNames[ng.Name] = true
	}
	for _, q := range c.Queues {
		if !nodegroupNames[q.TargetNodegroup] {
			return nil, fmt.Errorf("queue %s references unknown nodegroup %s", q.Name, q.TargetNodegroup)
		}
		if !slices.Contains(c.Namespaces, q.Namespace) {
			return nil, fmt.Errorf("queue %s references unknown namespace %s", q.Name, q.Namespace)
		}
	}

	if err := c.buildGPUs(); err != nil {
		return nil, err
	}
	return c, nil
}

// buildGPUs derives one GPU per capacity unit of every nodegroup. UUIDs and
// hostnames are deterministic functions of (nodegroup, index) so the
// inventory is stable across runs.
func (c *Catalog) buildGPUs() error {
	c.GPUs = c.GPUs[:0]
	for _, ng := range c.Nodegroups {
		for idx := int64(0); idx < ng.CapacityGPUCount; idx++ {
			id, err := common.GetUUIDFromString([]string{ng.Name, ng.GPUModel, strconv.FormatInt(idx, 10)})
			if err != nil {
				return fmt.Errorf("failed to derive UUID for %s[%d]: %w", ng.Name, idx, err)
			}
			// Eight GPUs per host, the usual DGX style density
			host := fmt.Sprintf("%s-node-%03d.%s.compute.internal", ng.Name, idx/8, ng.Region)
			c.GPUs = append(c.GPUs, GPU{
				UUID:      "GPU-" + id,
				Nodegroup: ng.Name,
				Model:     ng.GPUModel,
				Hostname:  host,
			})
		}
	}
	return nil
}

// Nodegroup returns the named nodegroup.
func (c *Catalog) Nodegroup(name string) (Nodegroup, bool) {
	for _, ng := range c.Nodegroups {
		if ng.Name == name {
			return ng, true
		}
	}
	return Nodegroup{}, false
}

// QueuesFor returns all queues targeting the named nodegroup.
func (c *Catalog) QueuesFor(nodegroup string) []Queue {
	var queues []Queue
	for _, q := range c.Queues {
		if q.TargetNodegroup == nodegroup {
			queues = append(queues, q)
		}
	}
	return queues
}

// TotalGPUs returns the summed GPU capacity of all nodegroups.
func (c *Catalog) TotalGPUs() int64 {
	var total int64
	for _, ng := range c.Nodegroups {
		total += ng.CapacityGPUCount
	}
	return total
}

// Fingerprint returns a stable hash of the catalog contents, recorded in the
// run manifest so downstream consumers can detect catalog drift.
func (c *Catalog) Fingerprint() string {
	var parts []string
	for _, cluster := range c.Clusters {
		parts = append(parts, cluster.Name, cluster.Region)
	}
	for _, ng := range c.Nodegroups {
		parts = append(parts,
			ng.Name, ng.Cluster, ng.GPUModel,
			strconv.FormatInt(ng.CapacityGPUCount, 10),
			strconv.FormatInt(ng.AllocatableCount, 10),
		)
	}
	parts = append(parts, c.Namespaces...)
	for _, q := range c.Queues {
		parts = append(parts, q.Name, q.Namespace, q.TargetNodegroup)
	}
	return strconv.FormatUint(common.Fingerprint(parts), 16)
}

// ScaleGPUs rescales nodegroup capacities so the catalog holds exactly total
// GPUs, preserving relative pool sizes. Largest remainder rounding keeps the
// sum exact. The GPU inventory and allocatable counts are rebuilt.
func (c *Catalog) ScaleGPUs(total int64) error {
	if total < int64(len(c.Nodegroups)) {
		return fmt.Errorf("gpu count %d is below the number of nodegroups (%d)", total, len(c.Nodegroups))
	}

	current := c.TotalGPUs()
	type share struct {
		idx       int
		remainder float64
	}
	var (
		assigned int64
		shares   []share
	)
	for i, ng := range c.Nodegroups {
		exact := float64(ng.CapacityGPUCount) * float64(total) / float64(current)
		count := max(1, int64(math.Floor(exact)))
		c.Nodegroups[i].CapacityGPUCount = count
		assigned += count
		shares = append(shares, share{idx: i, remainder: exact - math.Floor(exact)})
	}

	// Distribute the rounding leftovers to the pools with the largest
	// fractional shares.
	slices.SortStableFunc(shares, func(a, b share) int {
		switch {
		case a.remainder > b.remainder:
			return -1
		case a.remainder < b.remainder:
			return 1
		default:
			return 0
		}
	})
	for i := 0; assigned < total; i = (i + 1) % len(shares) {
		c.Nodegroups[shares[i].idx].CapacityGPUCount++
		assigned++
	}
	for i := 0; assigned > total; i = (i + 1) % len(shares) {
		idx := shares[len(shares)-1-i%len(shares)].idx
		if c.Nodegroups[idx].CapacityGPUCount > 1 {
			c.Nodegroups[idx].CapacityGPUCount--
			assigned--
		}
	}

	for i, ng := range c.Nodegroups {
		c.Nodegroups[i].AllocatableCount = max(1, int64(math.Floor(float64(ng.CapacityGPUCount)*allocatableRatio)))
	}
	return c.buildGPUs()
}

// Default returns the built-in catalog: two clusters, five nodegroups, six
// namespaces and six queues, with the batch training queue sharing the A100
// training pool.
func Default() (*Catalog, error) {
	clusters := []Cluster{
		{Name: "gen-ai-cluster-1", Region: "us-west-2"},
		{Name: "gen-ai-cluster-2", Region: "us-east-1"},
		{Name: "gen-ai-cluster-3", Region: "eu-west-1"},
	}
	nodegroups := []Nodegroup{
		{Name: "ml-training-h100", Cluster: "gen-ai-cluster-1", Region: "us-west-2", GPUModel: "NVIDIA H100 80GB HBM3", CapacityGPUCount: 32},
		{Name: "ml-training-a100", Cluster: "gen-ai-cluster-1", Region: "us-west-2", GPUModel: "NVIDIA A100-SXM4-40GB", CapacityGPUCount: 48},
		{Name: "ml-inference-a10g", Cluster: "gen-ai-cluster-1", Region: "us-west-2", GPUModel: "NVIDIA A10G", CapacityGPUCount: 64},
		{Name: "research-a100", Cluster: "gen-ai-cluster-2", Region: "us-east-1", GPUModel: "NVIDIA A100-SXM4-40GB", CapacityGPUCount: 24},
		{Name: "research-h100", Cluster: "gen-ai-cluster-2", Region: "us-east-1", GPUModel: "NVIDIA H100 80GB HBM3", CapacityGPUCount: 16},
	}
	namespaces := []string{
		"ml-training", "ml-inference", "research",
		"fraud-detection", "recommendations", "nlp-platform",
	}
	queues := []Queue{
		{Name: "training-h100-queue", Namespace: "ml-training", TargetNodegroup: "ml-training-h100"},
		{Name: "training-a100-queue", Namespace: "ml-training", TargetNodegroup: "ml-training-a100"},
		{Name: "inference-a10g-queue", Namespace: "ml-inference", TargetNodegroup: "ml-inference-a10g"},
		{Name: "research-a100-queue", Namespace: "research", TargetNodegroup: "research-a100"},
		{Name: "research-h100-queue", Namespace: "research", TargetNodegroup: "research-h100"},
		{Name: "batch-training-queue", Namespace: "nlp-platform", TargetNodegroup: "ml-training-a100"},
	}
	return New(clusters, nodegroups, namespaces, queues, DefaultSpecs())
}
