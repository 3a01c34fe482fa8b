package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"Manof-Chain/internal/record"
)

func parseAddress(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}

func newInspectCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <address>",
		Short: "Decode and print the record stored at an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			store, err := buildStore(cmd.Context(), cfg.Ledger)
			if err != nil {
				return err
			}
			defer store.Close()

			slot, err := store.Load(cmd.Context(), addr)
			if err != nil {
				return err
			}
			rec, err := record.Decode(slot.Data)
			if err != nil {
				return err
			}
			out := map[string]any{
				"address":    slot.Address,
				"kind":       slot.Kind,
				"payer":      slot.Payer,
				"size":       slot.Size,
				"created_at": slot.CreatedAt,
				"updated_at": slot.UpdatedAt,
				"record":     rec,
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

func newFundCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "fund <payer> <amount>",
		Short: "Credit a payer balance used to cover record rent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payer, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			amount, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[1], err)
			}
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			store, err := buildStore(cmd.Context(), cfg.Ledger)
			if err != nil {
				return err
			}
			defer store.Close()

			balance, err := store.Deposit(cmd.Context(), payer, amount)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s balance %d\n", payer.Hex(), balance)
			return nil
		},
	}
}
