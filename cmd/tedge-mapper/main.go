// Command tedge-mapper runs one cloud mapper instance built from the core's
// mapper skeleton (bridge rules, converter, operation bridge). Translation
// to a specific cloud's wire format is supplied by a Converter this binary
// does not itself implement; the skeleton is exercised here with a no-op
// converter, matching a custom (user-scripted) mapper deployment.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thin-edge/tedge-core/internal/actor"
	"github.com/thin-edge/tedge-core/internal/config"
	"github.com/thin-edge/tedge-core/internal/logging"
	"github.com/thin-edge/tedge-core/internal/mapper"
	"github.com/thin-edge/tedge-core/internal/mqttclient"
)

func main() {
	configDir := flag.String("config-dir", "", "Configuration/data directory (overrides TEDGE_CONFIG_DIR)")
	flag.Parse()

	dir := *configDir
	if dir == "" {
		dir = config.ConfigDir()
	}

	cfg, err := config.Load(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{Level: cfg.Logging.Level, JSON: cfg.Logging.JSON})
	transport := mqttclient.New(cfg.MQTT, "mapper-"+cfg.Mapper.Name, log)
	engine := mapper.NewMQTTEngine(transport, cfg.MQTT.TopicRoot)

	global := map[string]string{"device_id": cfg.MQTT.ClientIDPrefix}
	m := mapper.New(cfg.Mapper.Name, transport, engine, nil, global, cfg.Mapper, mapper.Connection{}, cfg.MQTT.TopicRoot, log)

	rt := actor.NewRuntime(log, 30*time.Second)
	rt.Register(transport)
	rt.Register(m)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := rt.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
