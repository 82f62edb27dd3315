// Package sysinfo collects host metadata for triage run records.
package sysinfo

import (
	"context"
	"math"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/sirupsen/logrus"
)

// Info is a snapshot of the machine a batch was analyzed on. It is
// embedded in each run's config.json so verdicts can be traced back to
// the host that produced them.
type Info struct {
	Hostname           string  `json:"hostname"`
	OS                 string  `json:"os"`
	Platform           string  `json:"platform"`
	PlatformVersion    string  `json:"platform_version"`
	KernelVersion      string  `json:"kernel_version"`
	Arch               string  `json:"arch"`
	Virtualization     string  `json:"virtualization,omitempty"`
	VirtualizationRole string  `json:"virtualization_role,omitempty"`
	CPUVendor          string  `json:"cpu_vendor"`
	CPUModel           string  `json:"cpu_model"`
	CPUCores           int     `json:"cpu_cores"`
	CPUMhz             float64 `json:"cpu_mhz"`
	MemoryTotalGB      float64 `json:"memory_total_gb"`
}

// Collect gathers host metadata. Individual probe failures are logged
// and leave the matching fields zeroed; metadata collection never
// aborts a triage run.
func Collect(ctx context.Context, log logrus.FieldLogger) *Info {
	info := &Info{}

	if hi, err := host.InfoWithContext(ctx); err != nil {
		log.WithError(err).Warn("Failed to read host info")
	} else {
		info.Hostname = hi.Hostname
		info.OS = hi.OS
		info.Platform = hi.Platform
		info.PlatformVersion = hi.PlatformVersion
		info.KernelVersion = hi.KernelVersion
		info.Arch = hi.KernelArch
		info.Virtualization = hi.VirtualizationSystem
		info.VirtualizationRole = hi.VirtualizationRole
	}

	if cpus, err := cpu.InfoWithContext(ctx); err != nil {
		log.WithError(err).Warn("Failed to read CPU info")
	} else if len(cpus) > 0 {
		info.CPUVendor = cpus[0].VendorID
		info.CPUModel = cpus[0].ModelName
		info.CPUMhz = cpus[0].Mhz
	}

	if cores, err := cpu.CountsWithContext(ctx, true); err != nil {
		log.WithError(err).Warn("Failed to count CPU cores")
	} else {
		info.CPUCores = cores
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		log.WithError(err).Warn("Failed to read memory info")
	} else {
		info.MemoryTotalGB = math.Round(float64(vm.Total)/(1<<30)*100) / 100
	}

	return info
}
