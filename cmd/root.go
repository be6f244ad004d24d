// Package cmd provides the command-line interface for modserve with
// configuration management across multiple sources.
//
// Configuration precedence, highest first:
//  1. Command-line flags (--port, --host, ...)
//  2. Environment variables with the MODSERVE_ prefix
//     (MODSERVE_SERVER_PORT, MODSERVE_LOG_LEVEL, ...)
//  3. Configuration file (.modserve.yml in the project root)
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "modserve",
	Short: "Development-time module server with hot updates",
	Long: `Modserve serves source files as runtime-loadable ES modules, transforming
them on demand through a plugin pipeline. It tracks the module dependency
graph and pushes fine-grained hot-update notifications to connected pages,
falling back to a full reload only when a precise update cannot be proven
safe. Bare package imports are pre-bundled once at startup.

Quick start:
  modserve serve                 Serve the current directory
  modserve serve --root ./web    Serve another project root
  modserve plugins               List the builtin plugins`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .modserve.yml)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("MODSERVE_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".modserve")
	}

	viper.SetEnvPrefix("MODSERVE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
