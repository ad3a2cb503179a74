package launcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/urfave/cli.v1"

	"github.com/rony4d/go-subspace/flags"
	"github.com/rony4d/go-subspace/inter"
)

// runConfigFromArgs runs MakeAllConfigs inside a synthetic CLI app.
func runConfigFromArgs(t *testing.T, args []string) (Config, error) {
	t.Helper()

	app := cli.NewApp()
	app.HideHelp = true
	app.HideVersion = true
	app.Flags = flags.AllFlags()

	var (
		got    Config
		makeEr error
	)
	app.Action = func(c *cli.Context) error {
		got, makeEr = MakeAllConfigs(c)
		return nil
	}
	require.NoError(t, app.Run(append([]string{"subspace"}, args...)))
	return got, makeEr
}

func TestMakeAllConfigs_flagOverrides(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want func(t *testing.T, cfg Config)
	}{
		{
			name: "defaults",
			want: func(t *testing.T, cfg Config) {
				require.Equal(t, DefaultConfig(), cfg)
			},
		},
		{
			name: "node",
			args: []string{"--identity", "alice", "--sim.blocks", "7", "--sim.interval", "250ms"},
			want: func(t *testing.T, cfg Config) {
				require.Equal(t, "alice", cfg.Node.Name)
				require.Equal(t, 7, cfg.Node.Blocks)
				require.Equal(t, 250*time.Millisecond, cfg.Node.Interval)
			},
		},
		{
			name: "network",
			args: []string{"--preset", "linear", "--fakenet.modules", "12", "--fakenet.validators", "3", "--fakenet.tempo", "20"},
			want: func(t *testing.T, cfg Config) {
				p, err := cfg.Preset()
				require.NoError(t, err)
				require.Equal(t, "linear", p.Name)
				require.Equal(t, inter.ConsensusLinear, p.Rules.Subnet.ConsensusType)
				require.Equal(t, 12, p.Modules)
				require.Equal(t, 3, p.Validators)
				require.Equal(t, uint16(20), p.Rules.Subnet.Tempo)
			},
		},
		{
			name: "authority",
			args: []string{"--preset", "encrypted", "--authority.keybits", "1024", "--authority.concurrency", "2", "--authority.copierstake", "10"},
			want: func(t *testing.T, cfg Config) {
				p, err := cfg.Preset()
				require.NoError(t, err)
				require.True(t, p.UsesEncryption())
				require.Equal(t, 1024, p.AuthorityKeyBits)
				require.Equal(t, 2, p.AuthorityConcurrency)
				require.Equal(t, uint8(10), p.Rules.Encryption.MeasuredStakePercent)
			},
		},
		{
			name: "logging and metrics",
			args: []string{"--log.format", "json", "--log.verbosity", "5", "--log.color", "--metrics", "--metrics.addr", "0.0.0.0", "--metrics.port", "9100"},
			want: func(t *testing.T, cfg Config) {
				require.Equal(t, LogConfig{Format: "json", Verbosity: 5, Color: true}, cfg.Log)
				require.Equal(t, MetricsConfig{Enabled: true, Addr: "0.0.0.0", Port: 9100}, cfg.Metrics)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := runConfigFromArgs(t, tt.args)
			require.NoError(t, err)
			tt.want(t, cfg)
		})
	}
}

func TestMakeAllConfigs_configFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subspace.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
node:
  name: from-file
  blocks: 30
  interval: 1s
network:
  preset: encrypted
  validators: 3
authority:
  key_bits: 1024
log:
  format: json
`), 0o600))

	cfg, err := runConfigFromArgs(t, []string{"--config", path, "--sim.blocks", "5"})
	require.NoError(t, err)
	require.Equal(t, "from-file", cfg.Node.Name)
	require.Equal(t, 5, cfg.Node.Blocks, "flags override the file")
	require.Equal(t, time.Second, cfg.Node.Interval)
	require.Equal(t, "encrypted", cfg.Network.Preset)
	require.Equal(t, 3, cfg.Network.Validators)
	require.Equal(t, 1024, cfg.Authority.KeyBits)
	require.Equal(t, 4, cfg.Authority.Concurrency, "unset keys keep their defaults")
	require.Equal(t, "json", cfg.Log.Format)
	require.Equal(t, 3, cfg.Log.Verbosity)

	_, err = runConfigFromArgs(t, []string{"--config", filepath.Join(t.TempDir(), "missing.yml")})
	require.Error(t, err)
}

func TestMakeAllConfigs_invalid(t *testing.T) {
	for _, args := range [][]string{
		{"--log.format", "xml"},
		{"--log.verbosity", "9"},
		{"--sim.blocks", "-1"},
		{"--preset", "archive"},
		{"--fakenet.modules", "2", "--fakenet.validators", "2"},
		{"--metrics", "--metrics.port", "70000"},
	} {
		_, err := runConfigFromArgs(t, args)
		require.Error(t, err, "%v", args)
	}
}
