package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meshnet-labs/meshnet/core"
	"github.com/meshnet-labs/meshnet/pkg/config"
)

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "ledger"}
	cmd.AddCommand(ledgerBalanceCmd())
	return cmd
}

func ledgerBalanceCmd() *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "print an account's committed balance and tx history",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}
			ledger, err := core.NewTokenLedger(core.LedgerConfig{WALPath: cfg.Ledger.WALPath})
			if err != nil {
				return err
			}
			defer ledger.Close()

			if err := ledger.CheckInvariant(account); err != nil {
				return err
			}
			fmt.Printf("account=%s balance=%.8f\n", account, ledger.GetBalance(account))
			for _, tx := range ledger.GetHistory(account) {
				fmt.Printf("  tx=%s %s %.8f kind=%s at=%s\n", tx.TxID, tx.Direction, tx.Amount, tx.Kind, tx.Timestamp.Format("2006-01-02T15:04:05Z"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account id")
	return cmd
}
