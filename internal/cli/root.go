// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-stepup.
//
// go-stepup is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package cli implements the stepup command line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	configFile string
	debug      bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "stepup",
	Short: "go-stepup - WebAuthn, MFA and step-up authentication service",
	Long: `go-stepup runs the reference authentication service: WebAuthn
ceremonies for security keys and passkeys, authenticator-app and
recovery-code second factors, and sliding-window step-up (sudo)
re-authentication, exposed over a REST API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "/etc/stepup/config.yaml",
		"path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false,
		"enable debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(recoveryCmd)
}
