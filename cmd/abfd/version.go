package main

import (
	"fmt"

	abfproto "github.com/marmos91/abfd/internal/protocol/abf"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "abfd %s (commit %s), %s API %d.%d\n",
			version, commit, abfproto.PluginName, abfproto.VersionMajor, abfproto.VersionMinor)
	},
}
