package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artbay/market-bridge/cmd/drain"
	"github.com/artbay/market-bridge/cmd/server"
	"github.com/artbay/market-bridge/internal/config"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Version: config.GetFormattedBuildArgs(),
	Use:     "app",
	Short:   config.ModuleName,
	Long: fmt.Sprintf(`%v

Asynchronous transaction orchestrator for the asset marketplace.
Requires configuration through ENV.`, config.ModuleName),
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		server.New(),
		drain.New(),
	)
}
