package cli

// ──────────────────────────────────────────────────────────────────────────────
// Cheat CLI — simulator-only state overrides outside the contract ABI
//
// Root command:          `cheat`
// Sub-routes:
//   block-number     – set the simulated height
//   block-timestamp  – set the simulated block time (unix nanoseconds)
//   balance          – pin a bank balance
//   sender           – set the transaction origin
//   code             – swap a contract's bytecode from a .wasm file
//   storage          – write one storage entry (hex key, hex value)
// ──────────────────────────────────────────────────────────────────────────────

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"cwfork/core"
)

func handleCheatBlockNumber(cmd *cobra.Command, args []string) error {
	height, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid height: %w", err)
	}
	return simModel.CheatBlockNumber(height)
}

func handleCheatBlockTimestamp(cmd *cobra.Command, args []string) error {
	ns, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	return simModel.CheatBlockTimestamp(core.Timestamp(ns))
}

func handleCheatBalance(cmd *cobra.Command, args []string) error {
	amount, err := core.ParseUint128(args[2])
	if err != nil {
		return err
	}
	return simModel.CheatBankBalance(args[0], args[1], amount)
}

func handleCheatSender(cmd *cobra.Command, args []string) error {
	return simModel.CheatMessageSender(args[0])
}

func handleCheatCode(cmd *cobra.Command, args []string) error {
	code, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("read wasm file: %w", err)
	}
	return simModel.CheatCode(args[0], code)
}

func handleCheatStorage(cmd *cobra.Command, args []string) error {
	key, err := hex.DecodeString(args[1])
	if err != nil {
		return fmt.Errorf("invalid hex key: %w", err)
	}
	value, err := hex.DecodeString(args[2])
	if err != nil {
		return fmt.Errorf("invalid hex value: %w", err)
	}
	return simModel.CheatStorage(args[0], key, value)
}

var cheatCmd = &cobra.Command{
	Use:               "cheat",
	Short:             "override simulator state outside the contract ABI",
	PersistentPreRunE: initSimulatorMiddleware,
	PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
		if simModel != nil {
			return simModel.Close()
		}
		return nil
	},
}

func init() {
	cheatCmd.AddCommand(
		&cobra.Command{
			Use:   "block-number <height>",
			Short: "set the simulated height",
			Args:  cobra.ExactArgs(1),
			RunE:  handleCheatBlockNumber,
		},
		&cobra.Command{
			Use:   "block-timestamp <unix-ns>",
			Short: "set the simulated block time",
			Args:  cobra.ExactArgs(1),
			RunE:  handleCheatBlockTimestamp,
		},
		&cobra.Command{
			Use:   "balance <addr> <denom> <amount>",
			Short: "pin a bank balance",
			Args:  cobra.ExactArgs(3),
			RunE:  handleCheatBalance,
		},
		&cobra.Command{
			Use:   "sender <addr>",
			Short: "set the transaction origin",
			Args:  cobra.ExactArgs(1),
			RunE:  handleCheatSender,
		},
		&cobra.Command{
			Use:   "code <addr> <wasm-file>",
			Short: "swap a contract's bytecode",
			Args:  cobra.ExactArgs(2),
			RunE:  handleCheatCode,
		},
		&cobra.Command{
			Use:   "storage <addr> <hex-key> <hex-value>",
			Short: "write one storage entry",
			Args:  cobra.ExactArgs(3),
			RunE:  handleCheatStorage,
		},
	)
}

// CheatCmd exposes the consolidated command tree.
func CheatCmd() *cobra.Command { return cheatCmd }
