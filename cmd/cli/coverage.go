package cli

// Coverage CLI: run one transaction with collection enabled and dump the
// buffers as hex, one line per (address, buffer) pair.

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

func handleCoverageExecute(cmd *cobra.Command, args []string) error {
	fundsFlag, _ := cmd.Flags().GetString("funds")
	funds, err := parseCoins(fundsFlag)
	if err != nil {
		return err
	}
	simModel.EnableCodeCoverage()
	defer simModel.DisableCodeCoverage()

	log, err := simModel.Execute(args[0], []byte(args[1]), funds)
	if err != nil {
		return err
	}
	printDebugLog(log)
	for addr, bufs := range simModel.GetCodeCoverage() {
		for i, buf := range bufs {
			fmt.Printf("%s[%d] %s\n", addr, i, hex.EncodeToString(buf))
		}
	}
	return nil
}

var coverageCmd = &cobra.Command{
	Use:               "coverage",
	Short:             "collect code coverage from instrumented contracts",
	PersistentPreRunE: initSimulatorMiddleware,
	PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
		if simModel != nil {
			return simModel.Close()
		}
		return nil
	},
}

var coverageExecuteCmd = &cobra.Command{
	Use:   "execute <contract-addr> <json-msg>",
	Short: "execute with coverage collection enabled",
	Args:  cobra.ExactArgs(2),
	RunE:  handleCoverageExecute,
}

func init() {
	coverageExecuteCmd.Flags().String("funds", "", "coins to attach")
	coverageCmd.AddCommand(coverageExecuteCmd)
}

// CoverageCmd exposes the consolidated command tree.
func CoverageCmd() *cobra.Command { return coverageCmd }
