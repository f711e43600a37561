package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/learningpaths/learningpaths/internal/config"
	"github.com/learningpaths/learningpaths/internal/storage"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or save the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print every configuration key with its effective value",
	RunE: func(cmd *cobra.Command, args []string) error {
		v := config.GetViper()
		keys := v.AllKeys()
		sort.Strings(keys)

		out := cmd.OutOrStdout()
		if file := v.ConfigFileUsed(); file != "" {
			fmt.Fprintf(out, "# %s\n", file)
		}
		for _, key := range keys {
			value := v.Get(key)
			if key == "auth.signing_key" || key == "token" {
				if s, _ := value.(string); s != "" {
					value = "********"
				}
			}
			fmt.Fprintf(out, "%s = %v\n", key, value)
		}
		return nil
	},
}

var configSaveCmd = &cobra.Command{
	Use:   "save [path]",
	Short: "Write the effective configuration to a YAML file",
	Long: `Writes the effective configuration (defaults, config file, environment
and flags merged) to path, or to config.yaml in the user config directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		if len(args) == 1 {
			path = args[0]
		} else {
			paths, err := storage.NewPaths()
			if err != nil {
				return err
			}
			path = paths.ConfigPath()
		}
		if err := config.SaveConfig(path); err != nil {
			return fmt.Errorf("failed to save configuration: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configSaveCmd)
}
