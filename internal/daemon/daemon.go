// Package daemon implements the control-plane process lifecycle manager.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/resinkit-ai/agent-core/internal/command"
	"github.com/resinkit-ai/agent-core/internal/config"
	logpkg "github.com/resinkit-ai/agent-core/internal/log"
	"github.com/resinkit-ai/agent-core/internal/metrics"
	"github.com/resinkit-ai/agent-core/internal/task"
)

// Daemon manages the agent-core daemon process lifecycle.
type Daemon struct {
	config     *config.GlobalConfig
	configPath string
	socketPath string
	pidFile    string

	taskStore     *task.FileStore
	variables     *task.VariableStore
	taskManager   *task.TaskManager
	cmdHandler    *command.CommandHandler
	udsServer     *command.UDSServer
	kafkaConsumer *command.KafkaCommandConsumer
	metricsServer *metrics.Server

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal
}

// New loads configuration from configPath and constructs a Daemon. socketPath
// and pidFile override the loaded configuration's control settings when
// non-empty.
func New(configPath, socketPath, pidFile string) (*Daemon, error) {
	globalConfig, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if socketPath == "" {
		socketPath = globalConfig.Control.Socket
	}
	if pidFile == "" {
		pidFile = globalConfig.Control.PIDFile
	}

	d := &Daemon{
		config:       globalConfig,
		configPath:   configPath,
		socketPath:   socketPath,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start initializes and starts every daemon component.
func (d *Daemon) Start() error {
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting agent-core daemon",
		"hostname", d.config.Node.Hostname,
		"config", d.configPath,
		"socket", d.socketPath,
	)

	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	if err := d.initTaskCore(); err != nil {
		return fmt.Errorf("failed to initialize task core: %w", err)
	}

	d.registerRunners()

	d.cmdHandler = command.NewCommandHandler(d.taskManager, d.variables, d)
	d.cmdHandler.SetShutdownFunc(func() {
		slog.Info("shutdown triggered via daemon_shutdown command")
		close(d.shutdownChan)
	})

	d.udsServer = command.NewUDSServer(d.socketPath, d.cmdHandler)
	go func() {
		if err := d.udsServer.Start(d.ctx); err != nil && err != context.Canceled {
			slog.Error("uds server failed", "error", err)
		}
	}()

	if d.config.CommandChannel.Enabled && d.config.CommandChannel.Type == "kafka" {
		if err := d.startKafkaConsumer(); err != nil {
			slog.Error("failed to start kafka consumer", "error", err)
		}
	}

	slog.Info("daemon started successfully")
	return nil
}

// initTaskCore constructs the file-backed task store, variable store, and
// task manager.
func (d *Daemon) initTaskCore() error {
	storeDir := filepath.Join(d.config.DataDir, "tasks")
	store, err := task.NewFileStore(storeDir)
	if err != nil {
		return fmt.Errorf("create task store at %s: %w", storeDir, err)
	}
	d.taskStore = store
	d.variables = task.NewVariableStore(d.config.Variables.EncryptionSecret)
	d.taskManager = task.NewTaskManager(d.taskStore, d.variables)
	return nil
}

// registerRunners constructs and registers the CDC and SQL runners. Runner
// constructors take config-derived arguments (engine base URLs, Flink home
// paths), so registration happens here rather than via a blank-imported
// init() function.
func (d *Daemon) registerRunners() {
	jm := task.NewJobManagerClient(d.config.Runners.JobManager.BaseURL)
	task.RegisterRunner(task.NewCdcRunner(
		d.config.Runners.FlinkHome,
		d.config.Runners.FlinkCDCHome,
		filepath.Join(d.config.DataDir, "cdc-jobs"),
		jm,
	))

	gw := task.NewGatewayClient(d.config.Runners.SQLGateway.BaseURL)
	task.RegisterRunner(task.NewSqlRunner(gw))
}

// Stop performs graceful shutdown of every daemon component.
func (d *Daemon) Stop() {
	slog.Info("initiating graceful shutdown")

	if d.kafkaConsumer != nil {
		slog.Info("stopping kafka command consumer")
		if err := d.kafkaConsumer.Stop(); err != nil {
			slog.Error("error stopping kafka consumer", "error", err)
		}
		d.kafkaConsumer = nil
	}

	slog.Info("stopping task manager")
	if err := d.taskManager.Shutdown(); err != nil {
		slog.Error("error stopping task manager", "error", err)
	}

	slog.Info("stopping uds server")
	d.udsServer.Stop()

	if d.metricsServer != nil {
		slog.Info("stopping metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}

	d.cancel()

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("daemon stopped gracefully")
}

// Run blocks until shutdown is triggered by an OS signal, a daemon_shutdown
// command, or context cancellation. SIGHUP triggers a config reload.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil
			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				} else {
					slog.Info("configuration reloaded successfully")
				}
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered by command")
			d.Stop()
			return nil

		case <-d.ctx.Done():
			slog.Info("context cancelled", "error", d.ctx.Err())
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload implements command.ConfigReloader. Log level/format are
// hot-reloaded; changes to the node hostname and the metrics listen address
// are logged as requiring a restart and are not applied.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	hotReloaded := []string{}
	oldLevel, oldFormat := d.config.Log.Level, d.config.Log.Format
	oldHostname, oldMetricsListen := d.config.Node.Hostname, d.config.Metrics.Listen
	d.config = newConfig
	if err := d.initLogging(); err != nil {
		slog.Error("failed to reinitialize logging", "error", err)
	} else if newConfig.Log.Level != oldLevel || newConfig.Log.Format != oldFormat {
		hotReloaded = append(hotReloaded, "log")
	}

	requiresRestart := []string{}
	if newConfig.Node.Hostname != oldHostname {
		requiresRestart = append(requiresRestart, "node.hostname")
	}
	if newConfig.Metrics.Listen != oldMetricsListen {
		requiresRestart = append(requiresRestart, "metrics.listen")
	}

	slog.Info("configuration reloaded", "hot_reloaded", hotReloaded, "requires_restart", requiresRestart)
	return nil
}

// TriggerShutdown signals the Run loop to stop from an external caller.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

func (d *Daemon) initLogging() error {
	return logpkg.Init(d.config.Log)
}

func (d *Daemon) startKafkaConsumer() error {
	consumer, err := command.NewKafkaCommandConsumer(d.config.CommandChannel, d.config.Node.Hostname, d.cmdHandler)
	if err != nil {
		return fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	d.kafkaConsumer = consumer

	go func() {
		if err := consumer.Start(d.ctx); err != nil && err != context.Canceled {
			slog.Error("kafka consumer stopped with error", "error", err)
		}
	}()
	return nil
}

func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}
	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	return d.metricsServer.Start(d.ctx)
}

func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	data := []byte(strconv.Itoa(os.Getpid()) + "\n")
	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}
	return nil
}

func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}
	return nil
}
