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

package cli

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-stepup/pkg/recovery"
)

var recoverySetSize int

var recoveryCmd = &cobra.Command{
	Use:   "recovery",
	Short: "Recovery code utilities",
}

var recoveryGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a recovery code set",
	Long: `Generates a set of single-use recovery codes in the same format
the service issues to users. Useful for operational break-glass
procedures; codes printed here are not registered to any account.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		codes, err := recovery.Generate(recoverySetSize)
		if err != nil {
			return err
		}
		for _, code := range codes {
			fmt.Println(code)
		}
		return nil
	},
}

var recoveryKeyCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a recovery seal key",
	Long: `Generates a random 32 byte key, hex encoded, suitable for the
recovery.seal_key configuration setting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return err
		}
		fmt.Println(hex.EncodeToString(key))
		return nil
	},
}

func init() {
	recoveryGenerateCmd.Flags().IntVarP(&recoverySetSize, "count", "n",
		recovery.DefaultSetSize, "number of codes to generate")

	recoveryCmd.AddCommand(recoveryGenerateCmd)
	recoveryCmd.AddCommand(recoveryKeyCmd)
}
