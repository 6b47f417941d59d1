// Package daemon wires every actor into a single runtime the way the
// teacher's internal/daemon.Daemon does for its own service set: one
// struct holding every component, a New that constructs and connects
// them, and a Serve that runs until a signal or context cancellation asks
// it to stop.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/thin-edge/tedge-core/internal/actor"
	"github.com/thin-edge/tedge-core/internal/config"
	"github.com/thin-edge/tedge-core/internal/domain"
	"github.com/thin-edge/tedge-core/internal/entitystore"
	"github.com/thin-edge/tedge-core/internal/filetransfer"
	"github.com/thin-edge/tedge-core/internal/health"
	"github.com/thin-edge/tedge-core/internal/httpapi"
	"github.com/thin-edge/tedge-core/internal/logging"
	"github.com/thin-edge/tedge-core/internal/mqttclient"
	"github.com/thin-edge/tedge-core/internal/pluginrunner"
	"github.com/thin-edge/tedge-core/internal/snapshot"
	"github.com/thin-edge/tedge-core/internal/workflow"
)

// Daemon is the agent runtime. It wires together the MQTT client, the
// entity store (with its ingest and publisher actors), the workflow
// engine, the plugin runner, the snapshot cache, and the HTTP surfaces
// (REST API, file-transfer service).
type Daemon struct {
	Config config.Config
	Log    zerolog.Logger

	Runtime   *actor.Runtime
	Transport *mqttclient.Client
	Store     *entitystore.Store
	Catalogue *workflow.Catalogue
	Engine    *workflow.Engine
	Plugins   *pluginrunner.Runner
	Snapshot  *snapshot.Cache
	Health    *health.Reporter
	API       *httpapi.Server

	apiServer  *http.Server
	fileServer *http.Server
}

// New constructs a Daemon from the resolved configuration. dataDir is the
// resolved config/data root (config.ConfigDir()).
func New(cfg config.Config, dataDir string) (*Daemon, error) {
	log := logging.New(logging.Config{Level: cfg.Logging.Level, JSON: cfg.Logging.JSON})

	snap, err := snapshot.Open(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open snapshot cache: %w", err)
	}

	transport := mqttclient.New(cfg.MQTT, "agent", log)

	events := make(chan entitystore.StoreEvent, 64)
	store := entitystore.New(cfg.EntityStore, log, events)
	ingest := entitystore.NewIngest(cfg.EntityStore, cfg.MQTT, transport, store, log)
	publisher := entitystore.NewPublisher(cfg.MQTT, transport, events, log)

	catalogue, err := workflow.NewCatalogue(cfg.Workflow.Dir, log)
	if err != nil {
		snap.Close()
		return nil, fmt.Errorf("load workflow catalogue: %w", err)
	}

	plugins := pluginrunner.New(cfg.Plugin, log)
	engine := workflow.New(cfg.Workflow, cfg.MQTT, transport, plugins, catalogue, log)

	reporter := health.New(transport, cfg.MQTT.TopicRoot, domain.MainDevice, 60*time.Second, log)

	api := httpapi.New(store, engine, log)
	if cfg.Telemetry.Enabled {
		api.EnableMetrics()
	}

	rt := actor.NewRuntime(log, time.Duration(cfg.Workflow.DefaultGraceSecs)*time.Second)
	rt.Register(transport)
	rt.Register(ingest)
	rt.Register(publisher)
	rt.Register(engine)
	rt.Register(reporter)

	d := &Daemon{
		Config:    cfg,
		Log:       log,
		Runtime:   rt,
		Transport: transport,
		Store:     store,
		Catalogue: catalogue,
		Engine:    engine,
		Plugins:   plugins,
		Snapshot:  snap,
		Health:    reporter,
		API:       api,
	}

	if err := d.warmStart(); err != nil {
		log.Warn().Err(err).Msg("warm start from snapshot cache failed, starting cold")
	}

	return d, nil
}

// warmStart loads the last-known entity snapshot so queries have an answer
// before the retained-message replay completes (spec's non-authoritative
// snapshot cache, see internal/snapshot).
func (d *Daemon) warmStart() error {
	entities, err := d.Snapshot.LoadEntities()
	if err != nil {
		return err
	}
	for _, e := range entities {
		_ = d.Store.Register(context.Background(), e)
	}
	return nil
}

// Serve starts every actor plus the two loopback HTTP servers (REST API,
// file-transfer) and blocks until ctx is cancelled or a termination
// signal arrives, mirroring the teacher's Daemon.Serve signal handling.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	d.apiServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", d.Config.HTTP.APIHost, d.Config.HTTP.APIPort),
		Handler: d.API.Handler(),
	}
	ft := filetransfer.New(d.Config.HTTP.FileTransferDir, d.Log)
	d.fileServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", d.Config.HTTP.FileTransferHost, d.Config.HTTP.FileTransferPort),
		Handler: ft.Handler(),
	}

	errCh := make(chan error, 3)
	go func() { errCh <- d.Runtime.Run(ctx) }()
	go func() {
		if err := d.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	go func() {
		if err := d.fileServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("file-transfer server: %w", err)
		}
	}()

	d.Log.Info().
		Str("api_addr", d.apiServer.Addr).
		Str("file_transfer_addr", d.fileServer.Addr).
		Msg("daemon serving")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		cancel()
	}

	d.Close()
	return runErr
}

// Close shuts down the HTTP servers and the snapshot cache. The actor
// runtime's own Shutdown is driven by ctx cancellation in Serve.
func (d *Daemon) Close() {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if d.apiServer != nil {
		_ = d.apiServer.Shutdown(shutdownCtx)
	}
	if d.fileServer != nil {
		_ = d.fileServer.Shutdown(shutdownCtx)
	}
	if d.Snapshot != nil {
		_ = d.Snapshot.Close()
	}
}
