// Command nodecore boots one node: it loads configuration, wires the radio
// driver, field-bus master, MQTT-SN broker, function runtime, and
// peripheral abstractions into a nodecore.Node, starts them, and blocks
// until SIGINT/SIGTERM, at which point it stops every module in reverse
// dependency order. Grounded on the teacher's StdApplication.Run (Init,
// Start, signal.Notify, Stop) in application.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldnode/nodecore"
	"github.com/fieldnode/nodecore/internal/busmaster"
	"github.com/fieldnode/nodecore/internal/emulator"
	"github.com/fieldnode/nodecore/internal/function"
	"github.com/fieldnode/nodecore/internal/mqttsn"
	"github.com/fieldnode/nodecore/internal/nodeconfig"
	"github.com/fieldnode/nodecore/internal/peripheral"
	"github.com/fieldnode/nodecore/internal/randsrc"
	"github.com/fieldnode/nodecore/internal/radio"
	"github.com/fieldnode/nodecore/internal/store"
	"github.com/fieldnode/nodecore/internal/sysclock"
	"github.com/fieldnode/nodecore/internal/task"
)

const (
	defaultBrokerCapacity = 8
	radioRxQueueDepth     = 16
	randPoolCapacity      = 64
)

func main() {
	configPath := flag.String("config", "nodecore.toml", "path to the node's TOML configuration file")
	profilePath := flag.String("profile", "", "optional emulator YAML development profile")
	envPrefix := flag.String("env-prefix", "NODECORE_", "prefix for configuration environment overrides")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	if err := run(*configPath, *profilePath, *envPrefix, logger); err != nil {
		logger.Error("nodecore exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath, profilePath, envPrefix string, logger *slog.Logger) error {
	loader := nodeconfig.NewLoader(logger, configPath, envPrefix)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if profilePath != "" {
		profile, err := nodeconfig.LoadEmulatorProfile(profilePath)
		if err != nil {
			return fmt.Errorf("load emulator profile: %w", err)
		}
		logger.Info("loaded emulator profile", "nodes", len(profile.Nodes))
	}

	node := nodecore.NewNode(logger)

	backend := store.NewMemoryBackend()
	registry := store.NewTopicRegistry()
	functionStore := store.NewFunctionStore(backend, registry)

	clock := sysclock.NewClock()
	cal := sysclock.NewCalendar(time.Local)
	rng := randsrc.NewPool(randPoolCapacity)

	phy := emulator.NewLoopbackPHY()
	radioDriver := radio.NewDriver(phy, rng, deriveLongAddress(cfg.Radio.PANID, cfg.Radio.ShortAddress), radioRxQueueDepth)
	radioDriver.AddContext(cfg.Radio.PANID, cfg.Radio.ShortAddress, radio.FilterPassAll|radio.FilterPassDestShort|radio.FilterPassDestBroadcast)

	uart := emulator.NewLoopbackUART()
	busKey := deriveBusKey(cfg.Radio.PANID)
	busMaster := busmaster.NewMaster(uart, busKey)

	transport := emulator.NewLoopbackTransport()
	broker := mqttsn.NewBroker(transport, defaultBrokerCapacity)

	runtime := function.NewRuntime(logger, functionStore, clock, cal)

	gpio := emulator.NewLoopbackGPIO()
	input := peripheral.NewInput(logger, gpio)

	hw := emulator.NewLoopbackHardware()
	spiMaster := peripheral.NewMaster(logger, hw)

	usbDevice := peripheral.NewDevice(logger, vendorHandler(logger))

	for _, m := range []nodecore.Module{radioDriver, busMaster, broker, input, spiMaster, usbDevice, loader} {
		if err := node.Register(m); err != nil {
			return fmt.Errorf("register %s: %w", m.Name(), err)
		}
	}

	if err := node.Init(); err != nil {
		return fmt.Errorf("init modules: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("start modules: %w", err)
	}

	// radio.Driver.Start additionally needs the configured channel, so it
	// is not Startable via the generic Node lifecycle; start it explicitly
	// once every other module is up.
	if err := radioDriver.Start(ctx, cfg.Radio.Channel); err != nil {
		return fmt.Errorf("start radio driver: %w", err)
	}

	task.Spawn(ctx, logger, "radio.monitor", radioMonitorLoop(radioDriver, logger))

	// function.Runtime isn't a nodecore.Module (it has no Init hook to wire
	// against the other modules' public APIs), so it's driven directly
	// rather than through node.Register.
	if err := runtime.LoadAll(ctx); err != nil {
		return fmt.Errorf("load function records: %w", err)
	}

	if err := loader.Watch(ctx, func(reloaded nodeconfig.Config) {
		logger.Info("configuration reloaded", "channel", reloaded.Radio.Channel)
	}); err != nil {
		logger.Warn("config watch unavailable", "error", err)
	}

	logger.Info("nodecore running", "pan_id", cfg.Radio.PANID, "channel", cfg.Radio.Channel)

	<-ctx.Done()
	logger.Info("shutting down")
	radioDriver.Stop()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return node.Stop(stopCtx)
}

// deriveLongAddress builds a stable pseudo-EUI64 from the node's PAN and
// short address for the loopback radio, where no real factory-programmed
// address is available.
func deriveLongAddress(panID, shortAddr uint16) uint64 {
	return uint64(panID)<<48 | uint64(shortAddr)<<32 | 0x4e4f4445 // "NODE"
}

// deriveBusKey builds a development field-bus commissioning key from the
// PAN id, standing in for a key provisioned at manufacture time.
func deriveBusKey(panID uint16) [16]byte {
	var key [16]byte
	key[0] = byte(panID >> 8)
	key[1] = byte(panID)
	return key
}

// radioMonitorLoop drains the radio driver's bounded promiscuous receive
// queue and logs every accepted frame regardless of which context claimed
// it, independent of the per-context Receive API the function runtime and
// field-bus bridging use.
func radioMonitorLoop(d *radio.Driver, logger *slog.Logger) func(ctx context.Context) {
	return func(ctx context.Context) {
		for {
			pkt, err := d.ReceiveAny(ctx)
			if err != nil {
				return
			}
			logger.Debug("radio frame observed", "context", pkt.ContextIdx, "bytes", len(pkt.Frame))
		}
	}
}

// vendorHandler logs every USB vendor control request the host emulator
// receives; a real dongle host driver would translate these into radio
// driver calls (reset, start, stop, set PAN/short/flags, enable receiver).
func vendorHandler(logger *slog.Logger) peripheral.VendorHandler {
	return func(ctx context.Context, req peripheral.ControlRequest) ([]byte, error) {
		logger.Debug("usb vendor request", "command", req.Command, "value", req.Value, "index", req.Index)
		return nil, nil
	}
}
