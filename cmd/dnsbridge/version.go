package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var Version = "unknown"

var versionCommand = &cobra.Command{
	Use: "version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("dnsbridge %s\n", Version)
	},
}
