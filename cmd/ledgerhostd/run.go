package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/weisyn-labs/ledgerhost/internal/scheduler"
	"github.com/weisyn-labs/ledgerhost/internal/wasmerr"
	"github.com/weisyn-labs/ledgerhost/pkg/types"
)

var (
	runWasmFile   string
	runProgramID  string
	runEntryPoint string
	runArgsFile   string
	runInputs     []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "execute one transaction against the Universe",
	Long: `run instances a coordination program's entry point, drives it
to completion through the scheduler, and commits the resulting UTXO set
to the Universe on success or leaves it untouched on failure. Either
--wasm or --program-id must name the coordination code; --wasm
additionally loads it into the registry and the Universe's byte store
first. --input hands an existing UTXO to the transaction; its handle is
appended after the raw argument bytes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if runEntryPoint == "" {
			return fmt.Errorf("--entry is required")
		}
		if runWasmFile == "" && runProgramID == "" {
			return fmt.Errorf("one of --wasm or --program-id is required")
		}

		logger, registry, store, err := openHost()
		if err != nil {
			return err
		}
		defer store.Close(context.Background())

		ctx := cmd.Context()

		var coordID types.ProgramID
		if runWasmFile != "" {
			wasmBytes, err := os.ReadFile(runWasmFile)
			if err != nil {
				return fmt.Errorf("reading wasm file: %w", err)
			}
			cc, err := registry.Load(ctx, wasmBytes)
			if err != nil {
				return err
			}
			if _, _, err := store.Put(ctx, wasmBytes); err != nil {
				return fmt.Errorf("staging coordination bytes: %w", err)
			}
			coordID = cc.ID
		} else {
			raw, err := hex.DecodeString(runProgramID)
			if err != nil || len(raw) != 32 {
				return fmt.Errorf("--program-id must be a 64-character hex SHA-256 digest")
			}
			copy(coordID[:], raw)
		}

		var inputs []byte
		if runArgsFile != "" {
			inputs, err = os.ReadFile(runArgsFile)
			if err != nil {
				return fmt.Errorf("reading args file: %w", err)
			}
		}

		inputUtxos := make([]types.UtxoID, 0, len(runInputs))
		for _, raw := range runInputs {
			parsed, err := uuid.Parse(raw)
			if err != nil {
				return fmt.Errorf("--input %q is not a valid UTXO id: %w", raw, err)
			}
			inputUtxos = append(inputUtxos, types.UtxoID(parsed))
		}

		res, txLog, err := scheduler.RunTransaction(ctx, registry, store, scheduler.DefaultConfig(), logger, coordID, runEntryPoint, inputs, inputUtxos...)
		if err != nil {
			var werr *wasmerr.Error
			if kindErr, ok := err.(*wasmerr.Error); ok {
				werr = kindErr
			}
			if werr != nil {
				return fmt.Errorf("transaction failed: %s: %s", werr.Kind, werr.Message)
			}
			return fmt.Errorf("transaction failed: %w", err)
		}

		return printTransactionResult(res, txLog)
	},
}

func printTransactionResult(res scheduler.Result, txLog []types.TransactionLogEntry) error {
	out := struct {
		TxID   string                      `json:"tx_id"`
		Utxo   *string                     `json:"utxo,omitempty"`
		Scalar *uint64                     `json:"scalar,omitempty"`
		Log    []types.TransactionLogEntry `json:"log"`
	}{TxID: res.TxID.String(), Log: txLog}

	if res.Utxo != nil {
		id := res.Utxo.ID.String()
		out.Utxo = &id
	} else {
		out.Scalar = &res.Scalar
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func init() {
	runCmd.Flags().StringVar(&runWasmFile, "wasm", "", "path to the coordination program's WASM bytes")
	runCmd.Flags().StringVar(&runProgramID, "program-id", "", "hex program id of already-loaded coordination code")
	runCmd.Flags().StringVar(&runEntryPoint, "entry", "", "exported entry-point function name (required)")
	runCmd.Flags().StringVar(&runArgsFile, "args", "", "path to a file holding the raw entry-point argument bytes")
	runCmd.Flags().StringSliceVar(&runInputs, "input", nil, "UTXO id to hand to the transaction as an input (repeatable)")
}
