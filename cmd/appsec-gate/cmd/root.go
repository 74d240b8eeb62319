// Package cmd provides the CLI commands for appsec-gate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/appsec-gate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "appsec-gate",
	Short: "appsec-gate - HTTP application security gateway",
	Long: `appsec-gate is a reverse proxy that inspects HTTP traffic with CEL rules.

Each request is collected into a value tree (query, URI, method, headers,
cookies, client IP) and evaluated before it reaches the upstream. The
upstream's status and headers are evaluated again before they reach the
client. A matching block rule answers with an HTML or JSON block page
chosen from the client's Accept header.

Quick start:
  1. Create a config file: appsec-gate.yaml
  2. Run: appsec-gate start

Configuration:
  Config is loaded from appsec-gate.yaml in the current directory,
  $HOME/.appsec-gate/, or /etc/appsec-gate/.

  Environment variables can override config values with the APPSEC_GATE_ prefix.
  Example: APPSEC_GATE_SERVER_HTTP_ADDR=:9090

Commands:
  start       Start the gateway
  stop        Stop the running gateway
  validate    Validate the config file and compile its rules
  inspect     Show the value tree and decision for a raw HTTP request
  negotiate   Show the block content type chosen for an Accept header
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./appsec-gate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
