// Coral CLI - exercises the coral object runtime and its containers.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"

	"github.com/chazu/coral/config"
)

var log = commonlog.GetLogger("coral.cmd")

// Set at link time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath string
	verbosity  int
	cfg        = config.Default()
)

var rootCmd = &cobra.Command{
	Use:   "coral",
	Short: "Drive the coral object runtime",
	Long: `coral runs demonstrations and concurrency stress tests against the
coral reference counted object runtime and its ordered containers.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath != "" {
			cfg, err = config.LoadFile(configPath)
		} else {
			cfg, err = config.FindAndLoad(".")
		}
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("verbose") {
			cfg.Log.Verbosity = verbosity
		}
		cfg.ConfigureLogging()
		if cfg.Path != "" {
			log.Infof("configuration loaded from %s", cfg.Path)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the coral version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "coral %s (%s %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "configuration file (default: nearest coral.toml or coral.yaml)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (repeatable)")
	rootCmd.AddCommand(versionCmd, demoCmd, stressCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
