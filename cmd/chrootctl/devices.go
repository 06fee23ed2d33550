package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sigreer/chrootctl/internal/device"
	"github.com/sigreer/chrootctl/internal/sysexec"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the block devices chrootctl can mount",
	Run: func(cmd *cobra.Command, args []string) {
		devices, err := device.List(sysexec.New(), nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing devices: %v\n", err)
			os.Exit(1)
		}

		jsonOut, _ := cmd.Flags().GetBool("json")
		if jsonOut {
			if err := device.PrintJSON(os.Stdout, devices); err != nil {
				fmt.Fprintf(os.Stderr, "Error encoding output: %v\n", err)
				os.Exit(1)
			}
			return
		}
		device.PrintTable(os.Stdout, devices)
	},
}

func init() {
	devicesCmd.Flags().Bool("json", false, "Output as JSON")
}
