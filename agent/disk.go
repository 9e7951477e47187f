package agent

import (
	"golang.org/x/sys/unix"
)

// diskUsageFraction samples work_dir's filesystem and returns the fraction
// of space in use (0..1). The second return is false when the sample
// couldn't be taken (e.g. a transient statfs error), which callers treat
// as "no pressure" rather than guessing.
func (a *Agent) diskUsageFraction() (float64, bool) {
	var stat unix.Statfs_t
	if err := unix.Statfs(a.cfg.WorkDir, &stat); err != nil {
		return 0, false
	}
	if stat.Blocks == 0 {
		return 0, false
	}
	return 1 - float64(stat.Bfree)/float64(stat.Blocks), true
}

// lowOnDisk reports whether the agent's work_dir filesystem has crossed
// DiskHighWatermarkPercent, per the original slave's disk-full
// backpressure on run_task. A failed sample is treated as "not low" —
// refusing tasks because of a transient statfs error would be worse than
// the problem it guards against.
func (a *Agent) lowOnDisk() bool {
	watermark := a.cfg.DiskHighWatermarkPercent
	if watermark <= 0 || watermark >= 100 {
		return false
	}
	usage, ok := a.diskUsageFraction()
	if !ok {
		return false
	}
	return usage*100 >= watermark
}
