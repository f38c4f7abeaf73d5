// Package memstats 提供当前进程的内存统计，用于迁移性能指标采集
package memstats

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessMemoryStats 进程内存统计
type ProcessMemoryStats struct {
	PID int32  `json:"pid"`
	RSS uint64 `json:"rss"` // Resident Set Size (bytes)
	VMS uint64 `json:"vms"` // Virtual Memory Size (bytes)
}

// GetProcessMemory 获取指定进程的内存统计
func GetProcessMemory(pid int) (*ProcessMemoryStats, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, err
	}
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return nil, err
	}
	return &ProcessMemoryStats{
		PID: int32(pid),
		RSS: memInfo.RSS,
		VMS: memInfo.VMS,
	}, nil
}

// CurrentRSS 返回当前进程的 RSS，失败时返回 0
// 指标采集失败不应影响迁移流程
func CurrentRSS() uint64 {
	stats, err := GetProcessMemory(os.Getpid())
	if err != nil {
		return 0
	}
	return stats.RSS
}
