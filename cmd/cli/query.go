package cli

// ──────────────────────────────────────────────────────────────────────────────
// Read-only query CLI
//
// Root command:          `query`
// Sub-routes:
//   wasm      – smart-query a contract with a JSON payload
//   balance   – bank balance of one denom for an address
//   balances  – all bank balances for an address
// ──────────────────────────────────────────────────────────────────────────────

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"cwfork/core"
)

func handleWasmQuery(cmd *cobra.Command, args []string) error {
	resp, err := simModel.WasmQuery(args[0], []byte(args[1]))
	if err != nil {
		return err
	}
	fmt.Println(string(resp))
	return nil
}

func handleBalanceQuery(cmd *cobra.Command, args []string) error {
	query := core.BankQuery{
		Balance: &core.BankBalanceQuery{Address: args[0], Denom: args[1]},
	}
	raw, err := json.Marshal(&query)
	if err != nil {
		return err
	}
	resp, err := simModel.BankQuery(raw)
	if err != nil {
		return err
	}
	fmt.Println(string(resp))
	return nil
}

func handleAllBalancesQuery(cmd *cobra.Command, args []string) error {
	query := core.BankQuery{
		AllBalances: &core.BankAllBalancesQuery{Address: args[0]},
	}
	raw, err := json.Marshal(&query)
	if err != nil {
		return err
	}
	resp, err := simModel.BankQuery(raw)
	if err != nil {
		return err
	}
	fmt.Println(string(resp))
	return nil
}

var queryCmd = &cobra.Command{
	Use:               "query",
	Short:             "read-only queries against the forked state",
	PersistentPreRunE: initSimulatorMiddleware,
	PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
		if simModel != nil {
			return simModel.Close()
		}
		return nil
	},
}

var wasmQueryCmd = &cobra.Command{
	Use:   "wasm <contract-addr> <json-msg>",
	Short: "smart-query a contract",
	Args:  cobra.ExactArgs(2),
	RunE:  handleWasmQuery,
}

var balanceQueryCmd = &cobra.Command{
	Use:   "balance <addr> <denom>",
	Short: "bank balance for one denom",
	Args:  cobra.ExactArgs(2),
	RunE:  handleBalanceQuery,
}

var allBalancesQueryCmd = &cobra.Command{
	Use:   "balances <addr>",
	Short: "all bank balances of an address",
	Args:  cobra.ExactArgs(1),
	RunE:  handleAllBalancesQuery,
}

func init() {
	queryCmd.AddCommand(wasmQueryCmd, balanceQueryCmd, allBalancesQueryCmd)
}

// QueryCmd exposes the consolidated command tree.
func QueryCmd() *cobra.Command { return queryCmd }
