// Package config holds the agent's static configuration (C10): the
// flags listed in spec.md §6 plus the ambient flags (log level, etc.).
// Grounded on the teacher's config package (the RWMutex-guarded
// package-singleton JSON Load idiom) merged with the
// executor/runtime/docker package's func NewConfig() (*Config, []cli.Flag)
// idiom for building a cli.Flag slice tied to struct field pointers.
package config

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/urfave/cli"
)

// duration is a time.Duration that marshals to/from its string form in
// JSON, since time.Duration's own JSON encoding is an opaque integer of
// nanoseconds — copied verbatim from the teacher's config package, which
// hits the same encoding/json limitation.
type duration time.Duration

func (d duration) MarshalJSON() ([]byte, error) {
	return []byte("\"" + time.Duration(d).String() + "\""), nil
}

func (d *duration) UnmarshalJSON(in []byte) error {
	if len(in) < 2 || in[0] != '"' || in[len(in)-1] != '"' {
		return errors.New("invalid duration")
	}
	dur, err := time.ParseDuration(string(in[1 : len(in)-1]))
	if err != nil {
		return err
	}
	*d = duration(dur)
	return nil
}

// RecoverMode selects the behavior of the Recovery Engine (C9) on boot.
type RecoverMode string

const (
	RecoverReconnect RecoverMode = "reconnect"
	RecoverCleanup   RecoverMode = "cleanup"
)

// Config holds every flag spec.md §6 lists as consumed configuration.
type Config struct {
	AgentID    string
	WorkDir    string
	Checkpoint bool
	Recover    string
	Safe       bool
	Resources  string
	Attributes string

	GCDelay                     time.Duration
	DiskWatchInterval            time.Duration
	ExecutorRegistrationTimeout time.Duration
	ExecutorShutdownGracePeriod time.Duration
	ResourceMonitoringInterval  time.Duration
	DiskHighWatermarkPercent    float64

	LogDir      string
	LauncherDir string

	LogLevel       string
	DockerHost     string
	CoordinatorPid string
	DisableMetrics bool
}

// NewConfig builds a zero-valued Config plus the cli.Flag slice that
// populates it, matching the teacher's Destination-pointer idiom so every
// flag writes directly into the struct urfave/cli parses into.
func NewConfig() (*Config, []cli.Flag) {
	cfg := &Config{}
	hostname, _ := os.Hostname()
	flags := []cli.Flag{
		cli.StringFlag{
			Name:   "config",
			EnvVar: "AGENTD_CONFIG",
			Usage:  "path to an optional JSON config file overlaying these flags",
		},
		cli.StringFlag{
			Name:        "agent_id",
			EnvVar:      "AGENTD_AGENT_ID",
			Value:       hostname,
			Destination: &cfg.AgentID,
		},
		cli.StringFlag{
			Name:        "work_dir",
			EnvVar:      "AGENTD_WORK_DIR",
			Value:       "/var/lib/agentd",
			Destination: &cfg.WorkDir,
		},
		cli.BoolFlag{
			Name:        "checkpoint",
			EnvVar:      "AGENTD_CHECKPOINT",
			Destination: &cfg.Checkpoint,
		},
		cli.StringFlag{
			Name:        "recover",
			EnvVar:      "AGENTD_RECOVER",
			Value:       string(RecoverReconnect),
			Destination: &cfg.Recover,
		},
		cli.BoolFlag{
			Name:        "safe",
			EnvVar:      "AGENTD_SAFE",
			Destination: &cfg.Safe,
		},
		cli.StringFlag{
			Name:        "resources",
			EnvVar:      "AGENTD_RESOURCES",
			Destination: &cfg.Resources,
		},
		cli.StringFlag{
			Name:        "attributes",
			EnvVar:      "AGENTD_ATTRIBUTES",
			Destination: &cfg.Attributes,
		},
		cli.DurationFlag{
			Name:        "gc_delay",
			EnvVar:      "AGENTD_GC_DELAY",
			Value:       7 * 24 * time.Hour,
			Destination: &cfg.GCDelay,
		},
		cli.DurationFlag{
			Name:        "disk_watch_interval",
			EnvVar:      "AGENTD_DISK_WATCH_INTERVAL",
			Value:       time.Minute,
			Destination: &cfg.DiskWatchInterval,
		},
		cli.DurationFlag{
			Name:        "executor_registration_timeout",
			EnvVar:      "AGENTD_EXECUTOR_REGISTRATION_TIMEOUT",
			Value:       2 * time.Minute,
			Destination: &cfg.ExecutorRegistrationTimeout,
		},
		cli.DurationFlag{
			Name:        "executor_shutdown_grace_period",
			EnvVar:      "AGENTD_EXECUTOR_SHUTDOWN_GRACE_PERIOD",
			Value:       30 * time.Second,
			Destination: &cfg.ExecutorShutdownGracePeriod,
		},
		cli.DurationFlag{
			Name:        "resource_monitoring_interval",
			EnvVar:      "AGENTD_RESOURCE_MONITORING_INTERVAL",
			Value:       15 * time.Second,
			Destination: &cfg.ResourceMonitoringInterval,
		},
		cli.Float64Flag{
			Name:        "disk_high_watermark_percent",
			EnvVar:      "AGENTD_DISK_HIGH_WATERMARK_PERCENT",
			Value:       90,
			Destination: &cfg.DiskHighWatermarkPercent,
		},
		cli.StringFlag{
			Name:        "log_dir",
			EnvVar:      "AGENTD_LOG_DIR",
			Value:       "/var/log/agentd",
			Destination: &cfg.LogDir,
		},
		cli.StringFlag{
			Name:        "launcher_dir",
			EnvVar:      "AGENTD_LAUNCHER_DIR",
			Value:       "/usr/libexec/agentd",
			Destination: &cfg.LauncherDir,
		},
		cli.StringFlag{
			Name:        "log_level",
			EnvVar:      "AGENTD_LOG_LEVEL",
			Value:       "info",
			Destination: &cfg.LogLevel,
		},
		cli.StringFlag{
			Name:        "docker_host",
			EnvVar:      "DOCKER_HOST",
			Value:       "unix:///var/run/docker.sock",
			Destination: &cfg.DockerHost,
		},
		cli.StringFlag{
			Name:        "coordinator_pid",
			EnvVar:      "AGENTD_COORDINATOR_PID",
			Destination: &cfg.CoordinatorPid,
		},
		cli.BoolFlag{
			Name:        "disable_metrics",
			EnvVar:      "AGENTD_DISABLE_METRICS",
			Destination: &cfg.DisableMetrics,
		},
	}
	return cfg, flags
}

// jsonShadow mirrors Config's fields whose types need the duration
// wrapper for JSON, matching the teacher's separate JSON-shadow-struct
// idiom (logUploadJSON alongside logUpload).
type jsonShadow struct {
	AgentID                      string      `json:"agentId"`
	WorkDir                      string      `json:"workDir"`
	Checkpoint                   *bool       `json:"checkpoint"`
	Recover                      string      `json:"recover"`
	Safe                         *bool       `json:"safe"`
	Resources                    string      `json:"resources"`
	Attributes                   string      `json:"attributes"`
	GCDelay                      duration    `json:"gcDelay"`
	DiskWatchInterval            duration    `json:"diskWatchInterval"`
	ExecutorRegistrationTimeout  duration    `json:"executorRegistrationTimeout"`
	ExecutorShutdownGracePeriod  duration    `json:"executorShutdownGracePeriod"`
	ResourceMonitoringInterval   duration    `json:"resourceMonitoringInterval"`
	DiskHighWatermarkPercent     float64     `json:"diskHighWatermarkPercent"`
	LogDir                       string      `json:"logDir"`
	LauncherDir                  string      `json:"launcherDir"`
	LogLevel                     string      `json:"logLevel"`
	DockerHost                   string      `json:"dockerHost"`
}

// LoadFile overlays JSON config from path onto cfg; values present in the
// file win over whatever cli flags/defaults already populated, matching
// the teacher's Load(path)'s "file is authoritative" semantics. A missing
// file is not an error — flags and defaults are enough to run.
func LoadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	var shadow jsonShadow
	if err := json.NewDecoder(f).Decode(&shadow); err != nil {
		return err
	}

	if shadow.AgentID != "" {
		cfg.AgentID = shadow.AgentID
	}
	if shadow.WorkDir != "" {
		cfg.WorkDir = shadow.WorkDir
	}
	if shadow.Checkpoint != nil {
		cfg.Checkpoint = *shadow.Checkpoint
	}
	if shadow.Recover != "" {
		cfg.Recover = shadow.Recover
	}
	if shadow.Safe != nil {
		cfg.Safe = *shadow.Safe
	}
	if shadow.Resources != "" {
		cfg.Resources = shadow.Resources
	}
	if shadow.Attributes != "" {
		cfg.Attributes = shadow.Attributes
	}
	if shadow.GCDelay != 0 {
		cfg.GCDelay = time.Duration(shadow.GCDelay)
	}
	if shadow.DiskWatchInterval != 0 {
		cfg.DiskWatchInterval = time.Duration(shadow.DiskWatchInterval)
	}
	if shadow.ExecutorRegistrationTimeout != 0 {
		cfg.ExecutorRegistrationTimeout = time.Duration(shadow.ExecutorRegistrationTimeout)
	}
	if shadow.ExecutorShutdownGracePeriod != 0 {
		cfg.ExecutorShutdownGracePeriod = time.Duration(shadow.ExecutorShutdownGracePeriod)
	}
	if shadow.ResourceMonitoringInterval != 0 {
		cfg.ResourceMonitoringInterval = time.Duration(shadow.ResourceMonitoringInterval)
	}
	if shadow.DiskHighWatermarkPercent != 0 {
		cfg.DiskHighWatermarkPercent = shadow.DiskHighWatermarkPercent
	}
	if shadow.LogDir != "" {
		cfg.LogDir = shadow.LogDir
	}
	if shadow.LauncherDir != "" {
		cfg.LauncherDir = shadow.LauncherDir
	}
	if shadow.LogLevel != "" {
		cfg.LogLevel = shadow.LogLevel
	}
	if shadow.DockerHost != "" {
		cfg.DockerHost = shadow.DockerHost
	}
	return nil
}
