package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/brent-segner/gpu-demand-capacity-analytics/internal/structset"
	"github.com/brent-segner/gpu-demand-capacity-analytics/pkg/models"
)

// writeCSV writes header plus one record per row. Column order comes from
// the csv struct tags, which keeps files and row structs in lockstep.
func writeCSV[T any](path string, rows []T) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	var zero T
	if err := w.Write(structset.TagValues(zero, "csv")); err != nil {
		return fmt.Errorf("failed to write header to %s: %w", path, err)
	}
	for _, row := range rows {
		if err := w.Write(structset.StringValues(row, "csv")); err != nil {
			return fmt.Errorf("failed to write record to %s: %w", path, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	return f.Close()
}

// record wraps one CSV line with its header for typed field access. Any
// malformed field aborts the read with the offending line number.
type record struct {
	path   string
	line   int
	fields map[string]string
}

func (r *record) text(col string) (string, error) {
	v, ok := r.fields[col]
	if !ok {
		return "", fmt.Errorf("%s line %d: missing column %q", r.path, r.line, col)
	}
	return v, nil
}

func (r *record) integer(col string) (int64, error) {
	s, err := r.text(col)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s line %d: column %q: %w", r.path, r.line, col, err)
	}
	return v, nil
}

func (r *record) float(col string) (float64, error) {
	s, err := r.text(col)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s line %d: column %q: %w", r.path, r.line, col, err)
	}
	return v, nil
}

func (r *record) timestamp(col string) (time.Time, error) {
	s, err := r.text(col)
	if err != nil {
		return time.Time{}, err
	}
	v, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s line %d: column %q: %w", r.path, r.line, col, err)
	}
	return v.UTC(), nil
}

func readCSV(path string, scan func(*record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read header of %s: %w", path, err)
	}

	for line := 2; ; line++ {
		raw, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		fields := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(raw) {
				fields[col] = raw[i]
			}
		}
		if err := scan(&record{path: path, line: line, fields: fields}); err != nil {
			return err
		}
	}
}

// ReadDemandCSV loads a demand table written by writeCSV.
func ReadDemandCSV(path string) ([]models.DemandRow, error) {
	var rows []models.DemandRow
	err := readCSV(path, func(r *record) error {
		var row models.DemandRow
		var err error
		if row.QueueID, err = r.text("queue_id"); err != nil {
			return err
		}
		if row.Namespace, err = r.text("namespace"); err != nil {
			return err
		}
		if row.Nodegroup, err = r.text("nodegroup"); err != nil {
			return err
		}
		if row.Timestamp, err = r.timestamp("timestamp"); err != nil {
			return err
		}
		if row.PendingWorkloads, err = r.integer("pending_workloads"); err != nil {
			return err
		}
		if row.AdmissionWaitSeconds, err = r.float("admission_wait_time_seconds"); err != nil {
			return err
		}
		if row.AdmittedActive, err = r.integer("admitted_active_workloads"); err != nil {
			return err
		}
		if row.AdmittedTotal, err = r.integer("admitted_workloads_total"); err != nil {
			return err
		}
		if row.EvictedTotal, err = r.integer("evicted_workloads_total"); err != nil {
			return err
		}
		if row.ResourceUsage, err = r.integer("resource_usage"); err != nil {
			return err
		}
		if row.ResourceReservation, err = r.integer("resource_reservation"); err != nil {
			return err
		}
		rows = append(rows, row)
		return nil
	})
	return rows, err
}

// ReadCapacityCSV loads a capacity table written by writeCSV.
func ReadCapacityCSV(path string) ([]models.CapacityRow, error) {
	var rows []models.CapacityRow
	err := readCSV(path, func(r *record) error {
		var row models.CapacityRow
		var err error
		if row.GPUUUID, err = r.text("gpu_uuid"); err != nil {
			return err
		}
		if row.Nodegroup, err = r.text("nodegroup"); err != nil {
			return err
		}
		if row.GPUModel, err = r.text("gpu_model"); err != nil {
			return err
		}
		if row.Timestamp, err = r.timestamp("timestamp"); err != nil {
			return err
		}
		if row.GPUUtilPct, err = r.float("gpu_util_pct"); err != nil {
			return err
		}
		if row.PowerUsageWatts, err = r.float("power_usage_watts"); err != nil {
			return err
		}
		if row.FBUsedMB, err = r.integer("fb_used_mb"); err != nil {
			return err
		}
		if row.FBFreeMB, err = r.integer("fb_free_mb"); err != nil {
			return err
		}
		if row.GPUTempC, err = r.float("gpu_temp_c"); err != nil {
			return err
		}
		if row.TensorActivePct, err = r.float("tensor_active_pct"); err != nil {
			return err
		}
		if row.PCIeRxBytes, err = r.integer("pcie_rx_bytes_per_sec"); err != nil {
			return err
		}
		if row.PCIeTxBytes, err = r.integer("pcie_tx_bytes_per_sec"); err != nil {
			return err
		}
		rows = append(rows, row)
		return nil
	})
	return rows, err
}

// ReadNodepoolCSV loads a nodepool table written by writeCSV.
func ReadNodepoolCSV(path string) ([]models.NodepoolRow, error) {
	var rows []models.NodepoolRow
	err := readCSV(path, func(r *record) error {
		var row models.NodepoolRow
		var err error
		if row.Nodegroup, err = r.text("nodegroup"); err != nil {
			return err
		}
		if row.Cluster, err = r.text("cluster"); err != nil {
			return err
		}
		if row.GPUModel, err = r.text("gpu_model"); err != nil {
			return err
		}
		if row.CapacityGPUCount, err = r.integer("capacity_gpu_count"); err != nil {
			return err
		}
		if row.AllocatableCount, err = r.integer("allocatable_gpu_count"); err != nil {
			return err
		}
		rows = append(rows, row)
		return nil
	})
	return rows, err
}
