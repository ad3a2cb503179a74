package flags

import (
	"gopkg.in/urfave/cli.v1"
)

// NetworkFlags select the network preset and reshape its genesis.
func NetworkFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{
			Name:  "preset",
			Usage: "Network preset (fakenet|linear|encrypted)",
			Value: "fakenet",
		},
		cli.IntFlag{
			Name:  "fakenet.modules",
			Usage: "Number of modules registered at genesis",
		},
		cli.IntFlag{
			Name:  "fakenet.validators",
			Usage: "Number of genesis modules that set weights",
		},
		cli.IntFlag{
			Name:  "fakenet.tempo",
			Usage: "Blocks between epochs of the genesis subnet",
		},
	}
}
