// Package launcher wires the command line to a local Subspace network: it
// builds the configuration, installs logging and the metrics server, and
// drives the network block by block.
package launcher

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/urfave/cli.v1"

	"github.com/rony4d/go-subspace/flags"
	"github.com/rony4d/go-subspace/integration"
	"github.com/rony4d/go-subspace/inter"
	"github.com/rony4d/go-subspace/inter/authoritypk"
)

var logger = log.New("module", "launcher")

var seedFlag = cli.IntFlag{
	Name:  "seed",
	Usage: "Print the deterministic fakenet key with this index instead of a fresh one",
	Value: -1,
}

func newApp() *cli.App {
	app := flags.NewApp("Subspace runtime node running a local network")
	app.Flags = flags.AllFlags()
	app.Action = runNode
	app.Commands = []cli.Command{
		{
			Name:   "keygen",
			Usage:  "Generate an account key and print its addresses",
			Flags:  []cli.Flag{seedFlag},
			Action: keygen,
		},
	}
	return app
}

// Launch parses args and runs the selected command.
func Launch(args []string) error {
	return newApp().Run(args)
}

func runNode(ctx *cli.Context) error {
	cfg, err := MakeAllConfigs(ctx)
	if err != nil {
		return err
	}
	if _, err := setupLogging(cfg.Log, os.Stderr); err != nil {
		return err
	}
	preset, err := cfg.Preset()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	network, err := integration.NewNetwork(preset, reg)
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		srv := startMetricsServer(cfg.Metrics, newMetricsRouter(reg, network.Runtime))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting node", "name", cfg.Node.Name, "preset", preset.Name, "rules", preset.Rules.Hash())
	summary, err := simulate(runCtx, network, cfg.Node)
	printSummary(ctx.App.Writer, network, summary)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// simulate produces cfg.Blocks blocks, or blocks until ctx is done when
// cfg.Blocks is zero.
func simulate(ctx context.Context, network *integration.Network, cfg NodeConfig) (integration.Summary, error) {
	var s integration.Summary
	for i := 0; cfg.Blocks == 0 || i < cfg.Blocks; i++ {
		rep, err := network.Step(ctx)
		if err != nil {
			return s, err
		}
		s.Add(rep)
		if len(rep.Step.Epochs) != 0 {
			logger.Info("Epochs handled", "block", rep.Block, "epochs", len(rep.Step.Epochs), "credited", rep.Step.Credited)
		} else {
			logger.Debug("Block finalized", "block", rep.Block, "events", len(rep.Events))
		}
		if cfg.Interval > 0 {
			select {
			case <-ctx.Done():
				return s, ctx.Err()
			case <-time.After(cfg.Interval):
			}
		}
	}
	return s, nil
}

func printSummary(w io.Writer, network *integration.Network, s integration.Summary) {
	rt := network.Runtime
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "network\t%s (preset %s)\n", rt.Rules().Name, network.Preset.Name)
	fmt.Fprintf(tw, "blocks\t%d..%d\n", s.FirstBlock, s.LastBlock)
	fmt.Fprintf(tw, "epochs\t%d run, %d deferred, %d discarded\n", s.Epochs, s.Deferred, s.Discarded)
	fmt.Fprintf(tw, "emission\t%d issued, %d credited\n", s.Issued, s.Credited)
	fmt.Fprintf(tw, "unsigned\t%d\n", s.Unsigned)
	fmt.Fprintf(tw, "issuance\t%d\n", rt.TotalIssuance())
	fmt.Fprintf(tw, "treasury\t%d\n", rt.FreeBalance(rt.Treasury()))
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "uid\taddress\tstake\tfree")
	for i, uid := range network.UIDs {
		addr := network.Address(i)
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\n", uid, inter.AddressToString(addr), rt.DelegatedStake(addr), rt.FreeBalance(addr))
	}
	_ = tw.Flush()
}

func keygen(ctx *cli.Context) error {
	var (
		key *ecdsa.PrivateKey
		err error
	)
	if seed := ctx.Int(seedFlag.Name); seed >= 0 {
		key = integration.FakeKey(seed)
	} else if key, err = crypto.GenerateKey(); err != nil {
		return err
	}
	writeKey(ctx.App.Writer, key)
	return nil
}

func writeKey(w io.Writer, key *ecdsa.PrivateKey) {
	addr := crypto.PubkeyToAddress(key.PublicKey)
	fmt.Fprintf(w, "private key: %x\n", crypto.FromECDSA(key))
	fmt.Fprintf(w, "public key:  %s\n", authoritypk.FromECDSA(&key.PublicKey))
	fmt.Fprintf(w, "address:     %s\n", inter.AddressToString(addr))
	fmt.Fprintf(w, "hex address: %s\n", addr.Hex())
}
