// Package nodeconfig loads and hot-reloads the node's configuration: a
// TOML file for on-device settings, environment-variable overrides, and an
// fsnotify watcher that reloads the Config when the file changes, grounded
// on the teacher's feeders package and its configwatcher module.
package nodeconfig

import (
	"context"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/fieldnode/nodecore"
	"github.com/fieldnode/nodecore/internal/task"
	"github.com/fsnotify/fsnotify"
	"github.com/golobby/cast"
)

// Config is the node's top-level configuration, loaded from a TOML file on
// disk and overridable by NODECORE_-prefixed environment variables.
type Config struct {
	Radio struct {
		PANID        uint16 `toml:"pan_id"`
		ShortAddress uint16 `toml:"short_address"`
		Channel      uint8  `toml:"channel"`
	} `toml:"radio"`

	Bus struct {
		Device string `toml:"device"`
	} `toml:"bus"`

	Broker struct {
		GatewayAddress string `toml:"gateway_address"`
		KeepAliveS     int    `toml:"keep_alive_seconds"`
	} `toml:"broker"`

	Store struct {
		Path string `toml:"path"`
	} `toml:"store"`
}

// Loader loads Config from a TOML file, applies environment-variable
// overrides, and can watch the file for changes.
type Loader struct {
	logger *slog.Logger
	path   string
	envPre string
}

// NewLoader returns a Loader reading configPath, applying environment
// overrides whose variable names start with envPrefix (the teacher's
// AffixedEnvFeeder convention — see feeders/affixed_env.go).
func NewLoader(logger *slog.Logger, configPath, envPrefix string) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger, path: configPath, envPre: envPrefix}
}

// Name implements nodecore.Module.
func (l *Loader) Name() string { return "nodeconfig.loader" }

// Init implements nodecore.Module.
func (l *Loader) Init(node *nodecore.Node) error { return nil }

// Load reads the TOML file at l.path into a fresh Config, then applies any
// matching environment-variable overrides.
func (l *Loader) Load() (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(l.path, &cfg); err != nil {
		return Config{}, nodecore.NewError(nodecore.KindInvalidParameter, "decode config: "+err.Error())
	}
	if err := l.applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides walks the well-known environment variables this node
// honors and casts each one into the matching Config field using
// github.com/golobby/cast, exactly as the teacher's AffixedEnvFeeder does
// for arbitrary struct fields (feeders/affixed_env.go's fillStruct).
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	overrides := []struct {
		env string
		set func(string) error
	}{
		{l.envPre + "RADIO_PAN_ID", func(v string) error {
			n, err := cast.FromType(v, panIDType)
			if err != nil {
				return err
			}
			cfg.Radio.PANID = n.(uint16)
			return nil
		}},
		{l.envPre + "RADIO_CHANNEL", func(v string) error {
			n, err := cast.FromType(v, channelType)
			if err != nil {
				return err
			}
			cfg.Radio.Channel = n.(uint8)
			return nil
		}},
		{l.envPre + "BUS_DEVICE", func(v string) error {
			cfg.Bus.Device = v
			return nil
		}},
		{l.envPre + "BROKER_GATEWAY_ADDRESS", func(v string) error {
			cfg.Broker.GatewayAddress = v
			return nil
		}},
		{l.envPre + "STORE_PATH", func(v string) error {
			cfg.Store.Path = v
			return nil
		}},
	}

	for _, o := range overrides {
		v, ok := os.LookupEnv(o.env)
		if !ok {
			continue
		}
		if err := o.set(v); err != nil {
			return nodecore.NewError(nodecore.KindInvalidParameter, "env override "+o.env+": "+err.Error())
		}
	}
	return nil
}

// Watch spawns a goroutine that calls onReload every time l.path changes on
// disk, the same fsnotify.NewWatcher/Add/select-on-Events pattern the rest
// of the ecosystem uses for config hot-reload.
func (l *Loader) Watch(ctx context.Context, onReload func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(l.path); err != nil {
		watcher.Close()
		return err
	}

	task.Spawn(ctx, l.logger, "nodeconfig.watch", func(ctx context.Context) {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := l.Load()
				if err != nil {
					l.logger.Error("config reload failed", "path", l.path, "error", err)
					continue
				}
				onReload(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Error("config watcher error", "error", err)
			}
		}
	})
	return nil
}
