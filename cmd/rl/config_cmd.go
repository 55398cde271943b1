package main

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/steveyegge/redline/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Manage configuration settings",
	Long: `Manage rl settings.

Settings are read from .redline/config.yaml in the current directory or any
parent, then from the user config dir, and can be overridden with REDLINE_*
environment variables (dots become underscores).

Examples:
  rl config set lock-window 10s
  rl config set shrink-guard.ratio 0.1
  rl config set --user actor alice
  rl config get listen
  rl config list`,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a configuration value",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		key := args[0]
		settings := flattenSettings(config.AllSettings())
		value, ok := settings[key]
		if jsonOutput {
			outputJSON(map[string]any{"key": key, "value": value, "set": ok})
			return
		}
		if !ok {
			fmt.Printf("%s (not set)\n", key)
			return
		}
		fmt.Println(value)
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		user, _ := cmd.Flags().GetBool("user")
		path, err := configWritePath(user)
		if err != nil {
			FatalError("%v", err)
		}
		if err := config.SetInFile(path, args[0], args[1]); err != nil {
			FatalError("setting config: %v", err)
		}

		if jsonOutput {
			outputJSON(map[string]string{"key": args[0], "value": args[1], "location": path})
			return
		}
		fmt.Printf("Set %s = %s (in %s)\n", args[0], args[1], path)
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all effective settings",
	Args:  cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		settings := flattenSettings(config.AllSettings())
		if jsonOutput {
			outputJSON(settings)
			return
		}
		if used := config.ConfigFileUsed(); used != "" {
			fmt.Printf("# %s\n", used)
		}
		keys := make([]string, 0, len(settings))
		for k := range settings {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Printf("%s = %v\n", k, settings[k])
		}
	},
}

func init() {
	configSetCmd.Flags().Bool("user", false, "Write to the user config instead of the project config")
	configCmd.AddCommand(configGetCmd, configSetCmd, configListCmd)
	rootCmd.AddCommand(configCmd)
}

// configWritePath is the file config set edits: the config file already in
// use, else .redline/config.yaml in the working directory.
func configWritePath(user bool) (string, error) {
	if user {
		dir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("no user config directory: %w", err)
		}
		return filepath.Join(dir, "redline", "config.yaml"), nil
	}
	if used := config.ConfigFileUsed(); used != "" {
		return used, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return config.ProjectConfigPath(cwd), nil
}

// flattenSettings turns viper's nested maps into dotted keys.
func flattenSettings(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if sub, ok := v.(map[string]any); ok {
				walk(key, sub)
				continue
			}
			out[key] = v
		}
	}
	walk("", m)
	return out
}
