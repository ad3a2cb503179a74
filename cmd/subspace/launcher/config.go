package launcher

import (
	"errors"
	"fmt"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"gopkg.in/urfave/cli.v1"

	"github.com/rony4d/go-subspace/integration"
)

// Config aggregates every subsystem's configuration the launcher needs.
type Config struct {
	Node      NodeConfig      `koanf:"node"`
	Network   NetworkConfig   `koanf:"network"`
	Authority AuthorityConfig `koanf:"authority"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

type NodeConfig struct {
	Name string `koanf:"name"`
	// Blocks is the number of blocks to produce. Zero runs until interrupted.
	Blocks   int           `koanf:"blocks"`
	Interval time.Duration `koanf:"interval"`
}

// NetworkConfig selects a preset and overrides parts of its genesis. Zero
// values keep the preset's own.
type NetworkConfig struct {
	Preset     string `koanf:"preset"`
	Modules    int    `koanf:"modules"`
	Validators int    `koanf:"validators"`
	Tempo      uint16 `koanf:"tempo"`
}

type AuthorityConfig struct {
	KeyBits     int   `koanf:"key_bits"`
	Concurrency int   `koanf:"concurrency"`
	CopierStake uint8 `koanf:"copier_stake"`
}

type LogConfig struct {
	Format    string `koanf:"format"`
	Verbosity int    `koanf:"verbosity"`
	Color     bool   `koanf:"color"`
	SentryDSN string `koanf:"sentry_dsn"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
	Port    int    `koanf:"port"`
}

// DefaultConfig returns the configuration used when neither a file nor a
// flag says otherwise.
func DefaultConfig() Config {
	return Config{
		Node: NodeConfig{
			Name:   "subspace",
			Blocks: 100,
		},
		Network: NetworkConfig{
			Preset: "fakenet",
		},
		Authority: AuthorityConfig{
			KeyBits:     2048,
			Concurrency: 4,
			CopierStake: 5,
		},
		Log: LogConfig{
			Format:    "text",
			Verbosity: 3,
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1",
			Port: 6060,
		},
	}
}

// Validate performs config validation.
func (cfg *Config) Validate() error {
	if cfg.Node.Blocks < 0 {
		return errors.New("node: blocks must not be negative")
	}
	if cfg.Node.Interval < 0 {
		return errors.New("node: interval must not be negative")
	}
	if _, err := cfg.Preset(); err != nil {
		return fmt.Errorf("network: %w", err)
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log: unknown format %q", cfg.Log.Format)
	}
	if cfg.Log.Verbosity < 0 || cfg.Log.Verbosity > 5 {
		return fmt.Errorf("log: verbosity %d out of range [0, 5]", cfg.Log.Verbosity)
	}
	if cfg.Metrics.Enabled && (cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("metrics: invalid port %d", cfg.Metrics.Port)
	}
	return nil
}

// Preset resolves the network preset with the configured overrides applied.
func (cfg *Config) Preset() (integration.Preset, error) {
	p, err := integration.GetPresetByName(cfg.Network.Preset)
	if err != nil {
		return p, err
	}
	if cfg.Network.Modules > 0 {
		p.Modules = cfg.Network.Modules
	}
	if cfg.Network.Validators > 0 {
		p.Validators = cfg.Network.Validators
	}
	if cfg.Network.Tempo > 0 {
		p.Rules.Subnet.Tempo = cfg.Network.Tempo
	}
	p.AuthorityKeyBits = cfg.Authority.KeyBits
	p.AuthorityConcurrency = cfg.Authority.Concurrency
	if cfg.Authority.CopierStake > 0 {
		p.Rules.Encryption.MeasuredStakePercent = cfg.Authority.CopierStake
	}
	return p, p.Validate()
}

// MakeAllConfigs merges defaults, the optional config file and the command
// line overrides into a single validated config.
func MakeAllConfigs(ctx *cli.Context) (Config, error) {
	cfg := DefaultConfig()

	if path := ctx.GlobalString("config"); path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	applyCLIOverrides(ctx, &cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return err
	}
	return k.Unmarshal("", cfg)
}

func applyCLIOverrides(ctx *cli.Context, cfg *Config) {
	if ctx.GlobalIsSet("identity") {
		cfg.Node.Name = ctx.GlobalString("identity")
	}
	if ctx.GlobalIsSet("sim.blocks") {
		cfg.Node.Blocks = ctx.GlobalInt("sim.blocks")
	}
	if ctx.GlobalIsSet("sim.interval") {
		cfg.Node.Interval = ctx.GlobalDuration("sim.interval")
	}

	if ctx.GlobalIsSet("preset") {
		cfg.Network.Preset = ctx.GlobalString("preset")
	}
	if ctx.GlobalIsSet("fakenet.modules") {
		cfg.Network.Modules = ctx.GlobalInt("fakenet.modules")
	}
	if ctx.GlobalIsSet("fakenet.validators") {
		cfg.Network.Validators = ctx.GlobalInt("fakenet.validators")
	}
	if ctx.GlobalIsSet("fakenet.tempo") {
		cfg.Network.Tempo = uint16(ctx.GlobalInt("fakenet.tempo"))
	}

	if ctx.GlobalIsSet("authority.keybits") {
		cfg.Authority.KeyBits = ctx.GlobalInt("authority.keybits")
	}
	if ctx.GlobalIsSet("authority.concurrency") {
		cfg.Authority.Concurrency = ctx.GlobalInt("authority.concurrency")
	}
	if ctx.GlobalIsSet("authority.copierstake") {
		cfg.Authority.CopierStake = uint8(ctx.GlobalInt("authority.copierstake"))
	}

	if ctx.GlobalIsSet("log.format") {
		cfg.Log.Format = ctx.GlobalString("log.format")
	}
	if ctx.GlobalIsSet("log.verbosity") {
		cfg.Log.Verbosity = ctx.GlobalInt("log.verbosity")
	}
	if ctx.GlobalIsSet("log.color") {
		cfg.Log.Color = ctx.GlobalBool("log.color")
	}
	if ctx.GlobalIsSet("sentry.dsn") {
		cfg.Log.SentryDSN = ctx.GlobalString("sentry.dsn")
	}

	if ctx.GlobalIsSet("metrics") {
		cfg.Metrics.Enabled = ctx.GlobalBool("metrics")
	}
	if ctx.GlobalIsSet("metrics.addr") {
		cfg.Metrics.Addr = ctx.GlobalString("metrics.addr")
	}
	if ctx.GlobalIsSet("metrics.port") {
		cfg.Metrics.Port = ctx.GlobalInt("metrics.port")
	}
}
