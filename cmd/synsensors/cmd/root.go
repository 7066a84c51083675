// Package cmd provides the CLI commands for the synsensors demo harness.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"synsensors/internal/config"
	"synsensors/internal/logging"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "synsensors",
	Short: "Run the synthetic-sensor computation engine against a fixture",
	Long: `synsensors loads a compiled sensor config plus a fixture of backing-entity
and host-state values, runs one evaluation cycle, and prints each sensor's
published output.

Examples:
  synsensors evaluate sensors.json fixture.json
  synsensors evaluate --config harness.json sensors.json fixture.json`,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "harness config file (default is built-in defaults)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		config.Set(cfg)
	}

	cfg := config.Get()
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
	}
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("synsensors version 0.1.0")
	},
}
