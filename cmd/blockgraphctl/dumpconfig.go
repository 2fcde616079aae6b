package main

import (
	"os"

	"github.com/urfave/cli"
)

var dumpConfigCommand = cli.Command{
	Action:      dumpConfig,
	Name:        "dumpconfig",
	Usage:       "Show configuration values",
	ArgsUsage:   "",
	Flags:       []cli.Flag{configFileFlag},
	Category:    "MISCELLANEOUS COMMANDS",
	Description: "The dumpconfig command shows the effective block-graph configuration: defaults overridden by --config, if given.",
}

func dumpConfig(ctx *cli.Context) error {
	cfg := loadConfigOrDefault(ctx)
	out, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		return err
	}
	os.Stdout.Write(out)
	return nil
}
