package flags

import (
	"gopkg.in/urfave/cli.v1"
)

// NodeFlags holds knobs specific to the local node instance: its name and
// how long and how fast it produces blocks.
func NodeFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{
			Name:  "identity",
			Usage: "Custom node name used in logs",
		},
		cli.IntFlag{
			Name:  "sim.blocks",
			Usage: "Number of blocks to produce before exiting (0 runs until interrupted)",
			Value: 100,
		},
		cli.DurationFlag{
			Name:  "sim.interval",
			Usage: "Wall-clock delay between blocks (0 produces blocks back to back)",
		},
	}
}

// AuthorityFlags tune the in-process decryption authority of encrypted networks.
func AuthorityFlags() []cli.Flag {
	return []cli.Flag{
		cli.IntFlag{
			Name:  "authority.keybits",
			Usage: "RSA key size of the decryption authority",
			Value: 2048,
		},
		cli.IntFlag{
			Name:  "authority.concurrency",
			Usage: "Maximum number of subnets decrypted in parallel",
			Value: 4,
		},
		cli.IntFlag{
			Name:  "authority.copierstake",
			Usage: "Stake of the simulated weight copier, in percent of the active stake",
			Value: 5,
		},
	}
}
