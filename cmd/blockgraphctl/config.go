package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"unicode"

	"github.com/naoina/toml"

	"github.com/threadchain/blockgraph/consensus/blockgraph"
)

// tomlSettings makes TOML keys match Go struct field names exactly;
// a missing field is a hard error rather than silently ignored.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		link := ""
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

func defaultConfig() blockgraph.Config {
	return blockgraph.Config{
		ThreadCount:                     32,
		PeriodsPerCycle:                 128,
		DeltaF0:                         320,
		BlockReward:                     1,
		RollPrice:                       100,
		OperationValidityPeriods:        10,
		FutureBlockProcessingMaxPeriods: 3,
		MaxFutureProcessingBlocks:       1000,
		MaxDependencyBlocks:             2000,
		MaxDiscardedBlocks:              40000,
		MaxBootstrapBlocks:              100000,
		MaxBootstrapChildren:            1000,
		MaxBootstrapDeps:                1000,
		MaxBootstrapCliques:             1000,
		MaxBootstrapPosEntries:          100000,
		MaxBootstrapLedgerEntries:       1000000,
	}
}

func loadConfig(file string, cfg *blockgraph.Config) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}
