package main

import (
	"github.com/weisyn-labs/ledgerhost/internal/contractcode"
	"github.com/weisyn-labs/ledgerhost/internal/obslog"
	"github.com/weisyn-labs/ledgerhost/internal/universe"
	"github.com/weisyn-labs/ledgerhost/pkg/interfaces/infrastructure/log"
)

// openHost constructs the logger, contract-code registry, and Universe
// store shared by every subcommand, wired the same way regardless of
// which operation is being run.
func openHost() (log.Logger, *contractcode.Registry, *universe.Store, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, nil, nil, err
	}

	store, err := universe.Open(globalFlags.UniverseDir, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	registry, err := contractcode.NewRegistry(contractcode.DefaultConfig(), store, nil, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	return logger, registry, store, nil
}

func newLogger() (log.Logger, error) {
	if globalFlags.Verbose {
		return obslog.NewDevelopment()
	}
	return obslog.NewProduction()
}
