// Command blockgraphctl is an operator tool for the block-graph
// consensus core: it inspects bootstrap images and reports the
// effective configuration.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/urfave/cli"

	"github.com/threadchain/blockgraph/consensus/blockgraph"
)

var configFileFlag = cli.StringFlag{
	Name:  "config",
	Usage: "TOML configuration file overriding the built-in defaults",
}

func loadConfigOrDefault(ctx *cli.Context) blockgraph.Config {
	cfg := defaultConfig()
	if file := ctx.GlobalString(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "blockgraphctl: %v\n", err)
			os.Exit(1)
		}
	}
	return cfg
}

func main() {
	app := cli.NewApp()
	app.Name = "blockgraphctl"
	app.Usage = "Inspect block-graph bootstrap images and configuration"
	app.HideVersion = true
	app.Flags = []cli.Flag{configFileFlag}
	app.Commands = []cli.Command{
		dumpConfigCommand,
		inspectCommand,
	}
	sort.Sort(cli.CommandsByName(app.Commands))

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
