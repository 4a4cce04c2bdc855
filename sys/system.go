package sys

import (
	"context"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// MemoryUsedPercent returns the share of host memory in use, 0-100.
func MemoryUsedPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// SystemMemory returns the total host memory in bytes, or 0 when unknown.
func SystemMemory() uint64 {
	if vm, err := mem.VirtualMemory(); err == nil {
		return vm.Total
	}
	return 0
}

// DiskFreeSpace returns the free space of the volume holding dir, or 0 when unknown.
func DiskFreeSpace(dir string) uint64 {
	if usage, err := disk.Usage(dir); err == nil {
		return usage.Free
	}
	return 0
}
