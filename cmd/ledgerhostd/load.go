package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var loadCmd = &cobra.Command{
	Use:   "load <wasm-file>",
	Short: "compile a contract module and report its program id",
	Long: `load compiles the given WASM file, stages its bytes in the
Universe's content-addressed side store, and prints the program id
(SHA-256 of its canonical bytes) it is addressed by. A later transaction
that references the program id pulls the bytes back in through the
registry's byte-provider fallback.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wasmBytes, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading wasm file: %w", err)
		}

		_, registry, store, err := openHost()
		if err != nil {
			return err
		}
		defer store.Close(context.Background())

		cc, err := registry.Load(cmd.Context(), wasmBytes)
		if err != nil {
			return err
		}

		if _, _, err := store.Put(cmd.Context(), wasmBytes); err != nil {
			return fmt.Errorf("staging bytes in the universe byte provider: %w", err)
		}

		fmt.Printf("program_id=%s bytes=%d imports=%d\n", cc.ID, len(cc.Bytes), len(cc.Compiled.ImportedFunctions()))
		return nil
	},
}
