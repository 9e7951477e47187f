// Command agentd is the process entrypoint wiring C1-C15 together: parse
// flags, load the optional JSON config overlay, recover checkpointed
// state, start the Agent Actor, and run until a termination signal
// arrives. Modeled directly on the teacher's cmd/titus-executor/main.go:
// the same urfave/cli app-with-Action shape, the same
// mainWithError-returns-into-cli.NewExitError pattern, the same deferred
// metrics.Flush, and the same signals.go/signals_unsupported.go split for
// OS-specific termination signal sets.
package main

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"os/signal"
	"time"

	"github.com/Netflix/metrics-client-go/metrics"
	dockerclient "github.com/docker/docker/client"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/mesosagent/agentd/agent"
	"github.com/mesosagent/agentd/checkpoint"
	"github.com/mesosagent/agentd/config"
	"github.com/mesosagent/agentd/gc"
	"github.com/mesosagent/agentd/ids"
	"github.com/mesosagent/agentd/isolation"
	dockerdriver "github.com/mesosagent/agentd/isolation/docker"
	"github.com/mesosagent/agentd/logsutil"
	"github.com/mesosagent/agentd/recovery"
	"github.com/mesosagent/agentd/tag"
	"github.com/mesosagent/agentd/updates"
	"github.com/mesosagent/agentd/wire"
)

func init() {
	log.SetOutput(ioutil.Discard)
	logsutil.MaybeSetupLoggerIfOnJournaldAvailable()
}

func main() {
	app := cli.NewApp()
	app.Name = "agentd"

	cfg, flags := config.NewConfig()
	app.Flags = flags
	app.Action = func(c *cli.Context) error {
		if err := mainWithError(c, cfg); err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func mainWithError(c *cli.Context, cfg *config.Config) error {
	if err := config.LoadFile(c.String("config"), cfg); err != nil {
		return fmt.Errorf("loading config file: %w", err)
	}
	setupLogging(cfg.LogLevel)
	defer log.Info("agentd terminated")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reporter metrics.Reporter
	if cfg.DisableMetrics {
		reporter = metrics.Discard
	} else {
		reporter = metrics.New(ctx, log.StandardLogger(), tag.Defaults)
		defer reporter.Flush()
	}

	agentID := ids.AgentID(cfg.AgentID)
	layout := checkpoint.NewLayout(cfg.WorkDir, agentID)
	store, err := checkpoint.NewStore(layout)
	if err != nil {
		return fmt.Errorf("opening checkpoint store: %w", err)
	}

	dockerCli, err := dockerclient.NewClientWithOpts(dockerclient.WithHost(cfg.DockerHost), dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("connecting to docker: %w", err)
	}
	var driver isolation.Driver = dockerdriver.New(dockerCli, time.Minute)

	collector := gc.New()
	transport := &logTransport{}
	updateMgr := updates.New(transport, store, time.Second, time.Minute)

	currentInfo := wire.AgentInfo{AgentID: agentID, Hostname: cfg.AgentID, CheckpointEnabled: cfg.Checkpoint}

	mode := recovery.Reconnect
	if cfg.Recover == string(config.RecoverCleanup) {
		mode = recovery.Cleanup
	}

	result, err := recovery.Recover(ctx, store, layout, driver, updateMgr, mode, cfg.Safe, currentInfo, cfg.WorkDir)
	if err != nil {
		return fmt.Errorf("recovery failed: %w", err)
	}

	if err := store.Checkpoint(ctx, layout.AgentInfoPath(), checkpoint.AgentInfoRecord{Info: result.Agent.Info}); err != nil {
		log.WithError(err).Warn("failed to checkpoint agent info")
	}

	a := agent.New(cfg, result.Agent, driver, store, layout, collector, updateMgr, transport, reporter)
	a.Start(ctx)
	a.BeginRecovery(ctx, result.Reconnected, mode)

	if cfg.CoordinatorPid != "" {
		a.NewCoordinatorDetected(ctx, wire.NewCoordinatorDetected{Pid: cfg.CoordinatorPid})
	}

	waitForShutdown(ctx, a, cfg.ExecutorShutdownGracePeriod)
	return nil
}

func setupLogging(level string) {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.WithError(err).WithField("level", level).Warn("unrecognized log level, defaulting to info")
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
}

func waitForShutdown(ctx context.Context, a *agent.Agent, grace time.Duration) {
	term := make(chan os.Signal, 1)
	signal.Notify(term, shutdownSignals()...)
	sig := <-term
	log.Infof("received signal %s, shutting agent down", sig)

	a.Shutdown(ctx)
	if grace <= 0 {
		grace = 30 * time.Second
	}
	time.Sleep(grace)
	a.Stop()
}

// logTransport is the stand-in Agent.Transport implementation: spec.md §1
// scopes network transport implementation out of this repository, so this
// logs every outbound message instead of putting it on a wire. It also
// satisfies updates.Sender, since update delivery is just one more
// outbound message in this transport-less world.
type logTransport struct{}

func (t *logTransport) SendToCoordinator(_ context.Context, pid string, msg interface{}) error {
	log.WithField("pid", pid).WithField("msg", fmt.Sprintf("%T", msg)).Debug("-> coordinator")
	return nil
}

func (t *logTransport) SendToExecutor(_ context.Context, pid string, msg interface{}) error {
	log.WithField("pid", pid).WithField("msg", fmt.Sprintf("%T", msg)).Debug("-> executor")
	return nil
}

func (t *logTransport) Send(ctx context.Context, pid string, update wire.StatusUpdate) error {
	return t.SendToCoordinator(ctx, pid, update)
}

var _ updates.Sender = (*logTransport)(nil)
var _ agent.Transport = (*logTransport)(nil)
