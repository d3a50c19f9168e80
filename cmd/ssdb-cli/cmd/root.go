// Package cmd holds the ssdb-cli commands. All of them read the same
// configuration file as the relayer and talk to the clusters directly.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gallir/smart-ssdb/lib"
	"github.com/gallir/smart-ssdb/ssdb/client"
)

var (
	configFlag  string
	timeoutFlag int
	outputFlag  string

	ssdbClient *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "ssdb-cli",
	Short: "Command-line client for sharded SSDB clusters",
	Long: `ssdb-cli sends commands to the SSDB clusters described in a smart-ssdb
configuration file, routing every key to the cluster that owns it.

Use "ssdb-cli [command] --help" for more information about a command.`,
	PersistentPreRunE: initializeClient,
	PersistentPostRun: closeClient,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "smart-ssdb.conf",
		"Configuration filename")
	rootCmd.PersistentFlags().IntVar(&timeoutFlag, "timeout", 10,
		"Request timeout in seconds")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "text",
		"Output format: text, json")
	rootCmd.PersistentFlags().BoolVarP(&lib.GlobalConfig.Debug, "debug", "d", false,
		"Show debug info")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(rangesCmd)
	rootCmd.AddCommand(splitCmd)
}

func initializeClient(cmd *cobra.Command, args []string) error {
	if outputFlag != "text" && outputFlag != "json" {
		return fmt.Errorf("unknown output format %q", outputFlag)
	}

	closeClient(cmd, args) // Left open by a failed command

	conf, err := lib.ReadConfig(configFlag)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	ssdbClient, err = client.NewFromConfig(conf)
	return err
}

func closeClient(cmd *cobra.Command, args []string) {
	if ssdbClient != nil {
		ssdbClient.Close()
		ssdbClient = nil
	}
}

func getContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(timeoutFlag)*time.Second)
}
