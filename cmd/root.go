package cmd

import (
	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "shredlead",
	Short: "Measures shred-vs-baseline transaction lead time on Solana",
}
