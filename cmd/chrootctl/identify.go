package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sigreer/chrootctl/internal/device"
	"github.com/sigreer/chrootctl/internal/sysexec"
)

var identifyCmd = &cobra.Command{
	Use:   "identify <reference>",
	Short: "Resolve a device reference the way fstab and crypttab do",
	Long: `Resolve a device reference to the block device it names.

Supports: device paths, UUID=, PARTUUID=, LABEL=, PARTLABEL= and the
/dev/disk/by-* symlink forms.

Examples:
  chrootctl identify /dev/sda2
  chrootctl identify UUID=2f4ca112-c476-4b5e-9d2a-0c1d7a3e5f10
  chrootctl identify LABEL=archroot
  chrootctl identify /dev/disk/by-partlabel/root`,
	Args: cobra.ExactArgs(1),
	Run:  runIdentify,
}

func init() {
	identifyCmd.Flags().StringP("output", "o", "table", "Output format: json, table")
	identifyCmd.Flags().BoolP("quiet", "q", false, "Only output device path")
}

func runIdentify(cmd *cobra.Command, args []string) {
	ref := args[0]
	outputFmt, _ := cmd.Flags().GetString("output")
	quiet, _ := cmd.Flags().GetBool("quiet")

	devices, err := device.List(sysexec.New(), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing devices: %v\n", err)
		os.Exit(1)
	}

	// A label can be shared; every match is reported
	matches := device.FindAll(devices, ref)
	if len(matches) == 0 {
		fmt.Fprintf(os.Stderr, "Not found: %s\n", ref)
		os.Exit(1)
	}

	if quiet {
		for _, d := range matches {
			fmt.Println(d.Name)
		}
		return
	}

	switch outputFmt {
	case "json":
		if err := device.PrintJSON(os.Stdout, matches); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding output: %v\n", err)
			os.Exit(1)
		}
	default:
		for i, d := range matches {
			if i > 0 {
				fmt.Println()
			}
			device.PrintDetail(os.Stdout, d)
		}
	}
}
