package cli

// ──────────────────────────────────────────────────────────────────────────────
// Simulator CLI
//
// Root command:          `sim`
// Sub-routes (micro-CLIs):
//   instantiate  – instantiate a code id with a JSON payload and funds
//   execute      – execute a contract with a JSON payload and funds
//
// Layout rules honored:
//   • Command objects declared first; export consolidated at bottom.
//   • PersistentPreRunE wires middleware once (config, logger, model).
//   • Controllers implement business logic with robust error handling.
//
// Env variables (add to .env):
//   CWFORK_ENDPOINT_URL   – RPC or LCD endpoint of the chain to fork (required)
//   CWFORK_TRANSPORT      – rpc|lcd (default rpc)
//   CWFORK_FORK_BLOCK     – block height to pin (default: latest)
//   CWFORK_BECH32_PREFIX  – address prefix (default wasm)
//   LOG_LEVEL             – trace|debug|info|warn|error (default info)
// ──────────────────────────────────────────────────────────────────────────────

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"cwfork/core"
	"cwfork/pkg/config"
	"cwfork/pkg/utils"
)

var (
	simModel  *core.Model
	simConfig *config.Config
	simLogger = logrus.StandardLogger()
	simOnce   sync.Once
)

func initSimulatorMiddleware(cmd *cobra.Command, _ []string) error {
	var err error
	simOnce.Do(func() {
		_ = godotenv.Load()

		simConfig, err = config.Load(os.Getenv("CWFORK_CONFIG"))
		if err != nil {
			return
		}
		lvl, e := logrus.ParseLevel(simConfig.Log.Level)
		if e != nil {
			err = fmt.Errorf("invalid LOG_LEVEL: %w", e)
			return
		}
		simLogger.SetLevel(lvl)

		url := simConfig.Endpoint.URL
		if url == "" {
			err = fmt.Errorf("CWFORK_ENDPOINT_URL env not set")
			return
		}
		prefix := simConfig.Fork.Bech32Prefix

		switch strings.ToLower(utils.EnvOrDefault("CWFORK_TRANSPORT", simConfig.Endpoint.Transport)) {
		case "lcd":
			simModel, err = core.NewModelLCD(url, prefix)
		default:
			var block *uint64
			if simConfig.Fork.Block != 0 {
				b := simConfig.Fork.Block
				block = &b
			}
			simModel, err = core.NewModel(url, block, prefix)
		}
		if err != nil {
			return
		}
		if simConfig.Fork.MessageSender != "" {
			err = simModel.CheatMessageSender(simConfig.Fork.MessageSender)
		}
	})
	return err
}

// parseCoins turns "10umlg,5uatom" into a coin list.
var coinRe = regexp.MustCompile(`^([0-9]+)([a-zA-Z/\-]+)$`)

func parseCoins(s string) ([]core.Coin, error) {
	if s == "" {
		return nil, nil
	}
	var coins []core.Coin
	for _, part := range strings.Split(s, ",") {
		match := coinRe.FindStringSubmatch(strings.TrimSpace(part))
		if match == nil {
			return nil, fmt.Errorf("invalid coin %q, want <amount><denom>", part)
		}
		amount, err := core.ParseUint128(match[1])
		if err != nil {
			return nil, err
		}
		coins = append(coins, core.Coin{Denom: match[2], Amount: amount})
	}
	return coins, nil
}

func printDebugLog(log *core.DebugLog) {
	for _, entry := range log.Logs {
		fmt.Println(entry.String())
	}
	if out := log.GetStdout(); out != "" {
		fmt.Println(out)
	}
	if log.ErrMsg != nil {
		simLogger.Errorf("transaction failed: %s", *log.ErrMsg)
	}
}

//---------------------------------------------------------------------
// Controllers
//---------------------------------------------------------------------

func handleInstantiate(cmd *cobra.Command, args []string) error {
	codeID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid code id: %w", err)
	}
	fundsFlag, _ := cmd.Flags().GetString("funds")
	funds, err := parseCoins(fundsFlag)
	if err != nil {
		return err
	}
	log, err := simModel.Instantiate(codeID, []byte(args[1]), funds)
	if err != nil {
		return err
	}
	printDebugLog(log)
	if addr, ok := log.ContractAddressFromLogs(); ok {
		fmt.Printf("contract address: %s\n", addr)
	}
	return nil
}

func handleExecute(cmd *cobra.Command, args []string) error {
	fundsFlag, _ := cmd.Flags().GetString("funds")
	funds, err := parseCoins(fundsFlag)
	if err != nil {
		return err
	}
	log, err := simModel.Execute(args[0], []byte(args[1]), funds)
	if err != nil {
		return err
	}
	printDebugLog(log)
	return nil
}

//---------------------------------------------------------------------
// Command declarations
//---------------------------------------------------------------------

var simCmd = &cobra.Command{
	Use:               "sim",
	Short:             "run transactions against the forked chain state",
	PersistentPreRunE: initSimulatorMiddleware,
	PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
		if simModel != nil {
			return simModel.Close()
		}
		return nil
	},
}

var instantiateCmd = &cobra.Command{
	Use:   "instantiate <code-id> <json-msg>",
	Short: "instantiate a code id with a JSON payload",
	Args:  cobra.ExactArgs(2),
	RunE:  handleInstantiate,
}

var executeCmd = &cobra.Command{
	Use:   "execute <contract-addr> <json-msg>",
	Short: "execute a contract with a JSON payload",
	Args:  cobra.ExactArgs(2),
	RunE:  handleExecute,
}

func init() {
	instantiateCmd.Flags().String("funds", "", "coins to attach, e.g. 10umlg,5uatom")
	executeCmd.Flags().String("funds", "", "coins to attach, e.g. 10umlg,5uatom")
	simCmd.AddCommand(instantiateCmd, executeCmd)
}

// SimCmd exposes the consolidated command tree.
func SimCmd() *cobra.Command { return simCmd }
