package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sigreer/chrootctl/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "chrootctl %s\n", version.Version)
	},
}
