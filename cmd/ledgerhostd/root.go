// Command ledgerhostd is a thin CLI front-end over the transaction
// scheduler: it opens a Universe, loads contract code, and drives one
// transaction at a time against it. It is a development and operator
// tool, not a node: there is no networking, mempool, or consensus layer
// here.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// GlobalFlags are the flags every subcommand shares: which Universe to
// operate against and how verbosely to log.
type GlobalFlags struct {
	UniverseDir string
	Verbose     bool
}

var globalFlags GlobalFlags

var rootCmd = &cobra.Command{
	Use:   "ledgerhostd",
	Short: "transactional coroutine scheduler and UTXO ledger host",
	Long: `ledgerhostd drives transactions against a WASM coordination program:
loading contract code, instancing UTXOs, routing resume/query/mutate/consume
calls, enforcing token-intermediate linearity, and committing or rolling
back the Universe atomically.`,
}

// Execute runs the root command, exiting nonzero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalFlags.UniverseDir, "universe-dir", "",
		"directory backing the Badger universe store (empty = in-memory)")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false,
		"enable debug-level logging")

	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(inspectCmd)
}

func main() {
	Execute()
}
