package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "host",
	Short:   "Inspect cloudsync configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if outputFormat() == "json" {
			emit(cfg)
			return
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			fatalf("failed to encode config: %v", err)
		}
		if file := v.ConfigFileUsed(); file != "" {
			fmt.Printf("# %s\n", file)
		}
		fmt.Print(string(out))
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
