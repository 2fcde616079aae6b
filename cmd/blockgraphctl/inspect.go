package main

import (
	"fmt"
	"io/ioutil"

	"github.com/urfave/cli"

	"github.com/threadchain/blockgraph/consensus/blockgraph"
)

var inspectCommand = cli.Command{
	Action:      inspect,
	Name:        "inspect",
	Usage:       "Decode a bootstrap image and print a summary",
	ArgsUsage:   "<bootstrap-file>",
	Flags:       []cli.Flag{configFileFlag},
	Category:    "BOOTSTRAP COMMANDS",
	Description: "The inspect command decodes a file written by blockgraph.Serialize and reports its active block, clique and ledger-delta counts.",
}

func inspect(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("inspect: expected exactly one argument, the bootstrap file path")
	}
	cfg := loadConfigOrDefault(ctx)

	data, err := ioutil.ReadFile(ctx.Args().Get(0))
	if err != nil {
		return err
	}

	bg, err := blockgraph.Deserialize(data, boundsFromConfig(cfg))
	if err != nil {
		return err
	}

	fmt.Printf("active blocks:       %d\n", len(bg.ActiveBlocks))
	fmt.Printf("best parents:        %d\n", len(bg.BestParents))
	fmt.Printf("gi_head entries:     %d\n", len(bg.GiHead))
	fmt.Printf("max cliques:         %d\n", len(bg.MaxCliques))
	fmt.Printf("ledger entries:      %d\n", len(bg.Ledger.Entries))

	var final int
	var ledgerEntries int
	for _, ab := range bg.ActiveBlocks {
		if ab.IsFinal {
			final++
		}
		for _, changes := range ab.BlockLedgerChange {
			ledgerEntries += len(changes)
		}
	}
	fmt.Printf("final blocks:        %d\n", final)
	fmt.Printf("ledger delta rows:   %d\n", ledgerEntries)

	for t, pr := range bg.LatestFinalBlocksPeriods {
		fmt.Printf("thread %-4d latest final period %d (%s)\n", t, pr.Period, pr.ID)
	}
	return nil
}

// boundsFromConfig mirrors consensus/blockgraph's unexported
// boundsFromConfig: the ctl binary has no access to it, so it
// recomputes the same mapping from the loaded Config.
func boundsFromConfig(cfg blockgraph.Config) blockgraph.BootstrapBounds {
	return blockgraph.BootstrapBounds{
		MaxBlocks:        cfg.MaxBootstrapBlocks,
		MaxChildren:      cfg.MaxBootstrapChildren,
		MaxDeps:          cfg.MaxBootstrapDeps,
		MaxCliques:       cfg.MaxBootstrapCliques,
		MaxPosEntries:    cfg.MaxBootstrapPosEntries,
		MaxLedgerEntries: cfg.MaxBootstrapLedgerEntries,
		ThreadCount:      int(cfg.ThreadCount),
	}
}
