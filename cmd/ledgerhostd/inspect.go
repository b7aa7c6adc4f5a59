package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "list every live UTXO currently held by the Universe",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, store, err := openHost()
		if err != nil {
			return err
		}
		defer store.Close(context.Background())

		ids, err := store.LiveUtxoIDs(cmd.Context())
		if err != nil {
			return err
		}

		for _, id := range ids {
			u, found, err := store.GetUtxo(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !found {
				continue
			}
			fmt.Printf("%s program=%s entry=%s state=%s tokens=%d\n",
				u.ID, u.ProgramID, u.EntryPoint, u.State, len(u.Tokens))
		}
		return nil
	},
}
