package flags

import (
	"os"

	cli "gopkg.in/urfave/cli.v1"
)

// Version of the node binary.
const Version = "0.1.0"

// NewApp creates an app with sane defaults. Flags are attached by the launcher.
func NewApp(usage string) *cli.App {
	app := cli.NewApp()
	app.Name = "subspace"
	app.Usage = usage
	app.Version = Version
	app.Writer = os.Stdout
	return app
}

// AllFlags lists every flag of the default command in help order.
func AllFlags() []cli.Flag {
	var all []cli.Flag
	for _, group := range [][]cli.Flag{
		CommonFlags(),
		NodeFlags(),
		NetworkFlags(),
		AuthorityFlags(),
		MetricsFlags(),
	} {
		all = append(all, group...)
	}
	return all
}
