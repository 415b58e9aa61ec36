package cli

// Config CLI: resolve and render the effective configuration.

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"cwfork/pkg/config"
)

func handleConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(os.Getenv("CWFORK_CONFIG"))
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("render config: %w", err)
	}
	fmt.Print(string(out))
	return nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "inspect simulator configuration",
}

func init() {
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE:  handleConfigShow,
	})
}

// ConfigCmd exposes the consolidated command tree.
func ConfigCmd() *cobra.Command { return configCmd }
