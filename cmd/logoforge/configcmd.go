package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/logoforge/logoforge/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Print a starter configuration file",
	Long: `Print a starter configuration with defaults applied. Redirect the
output to a file and fill in the comfy credentials before serving.`,
	RunE: runConfigInit,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	data, err := yaml.Marshal(config.Example())
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	fmt.Print(string(data))

	return nil
}
