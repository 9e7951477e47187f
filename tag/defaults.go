// Package tag holds the default dimension tags attached to every metric
// this agent reports, read once from the environment at process start.
// Adapted from the teacher's tag package, generalized from Netflix's own
// stack/ASG conventions to a deployment-agnostic cluster/hostname pair.
package tag

import "os"

// Defaults is merged into every metrics.Reporter call's tag set.
var Defaults = map[string]string{
	"cluster":  os.Getenv("AGENTD_CLUSTER"),
	"hostname": hostname(),
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}
