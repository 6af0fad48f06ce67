package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/tablecache/pkg/tablecache"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the tablecache version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "tablecache", tablecache.Version)
	},
}
