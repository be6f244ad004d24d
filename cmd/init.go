package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/modserve/internal/config"
)

var initForce bool

type starterConfig struct {
	Server    config.ServerConfig    `yaml:"server"`
	Root      string                 `yaml:"root"`
	Entries   []string               `yaml:"entries"`
	Optimizer config.OptimizerConfig `yaml:"optimizer"`
	Watch     starterWatch           `yaml:"watch"`
	Log       config.LogConfig       `yaml:"log"`
}

type starterWatch struct {
	Debounce string   `yaml:"debounce"`
	Ignore   []string `yaml:"ignore"`
}

var initCmd = &cobra.Command{
	Use:     "init [dir]",
	Aliases: []string{"i"},
	Short:   "Write a starter .modserve.yml",
	Long: `Write a .modserve.yml with the default settings spelled out, ready to
edit. Refuses to overwrite an existing file unless --force is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}

	target := filepath.Join(dir, ".modserve.yml")
	if !initForce {
		if _, err := os.Stat(target); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", target)
		}
	}

	// Watch.Debounce is written as a duration string rather than raw
	// nanoseconds; viper parses it back on load.
	starter := starterConfig{
		Server: config.ServerConfig{
			Port:           3000,
			Host:           "localhost",
			AllowedOrigins: []string{},
		},
		Root:    ".",
		Entries: []string{"index.html"},
		Optimizer: config.OptimizerConfig{
			CacheDir: filepath.Join("node_modules", ".modserve"),
			Manifest: "package.json",
		},
		Watch: starterWatch{
			Debounce: (100 * time.Millisecond).String(),
			Ignore:   []string{"node_modules", ".git"},
		},
		Log: config.LogConfig{
			Level:  "info",
			Format: "text",
		},
	}

	data, err := yaml.Marshal(&starter)
	if err != nil {
		return err
	}
	if err := os.WriteFile(target, data, 0644); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", target)
	return nil
}
