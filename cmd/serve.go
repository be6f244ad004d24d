package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/modserve/internal/config"
	"github.com/conneroisu/modserve/internal/logging"
	"github.com/conneroisu/modserve/internal/server"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Start the development server",
	Long: `Start the development server over a project root. The server pre-bundles
bare package imports, watches the root for changes, and pushes hot updates
to connected pages.

Examples:
  modserve serve
  modserve serve --root ./web --port 4000
  modserve serve --entry src/index.html --no-optimize`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	bindServeFlags(serveCmd.Flags())
}

func bindServeFlags(flags *pflag.FlagSet) {
	flags.StringP("root", "r", "", "project root to serve (default \".\")")
	flags.IntP("port", "p", 0, "port to listen on (default 3000)")
	flags.String("host", "", "host to bind (default \"localhost\")")
	flags.StringSliceP("entry", "e", nil, "entry points, relative to root (default [index.html])")
	flags.StringSlice("allowed-origins", nil, "origins accepted on the hot-update channel")
	flags.Bool("no-optimize", false, "skip dependency pre-bundling")
	flags.Duration("debounce", 0, "file change debounce window (default 100ms)")

	_ = viper.BindPFlag("root", flags.Lookup("root"))
	_ = viper.BindPFlag("server.port", flags.Lookup("port"))
	_ = viper.BindPFlag("server.host", flags.Lookup("host"))
	_ = viper.BindPFlag("entries", flags.Lookup("entry"))
	_ = viper.BindPFlag("server.allowed_origins", flags.Lookup("allowed-origins"))
	_ = viper.BindPFlag("optimizer.disabled", flags.Lookup("no-optimize"))
	_ = viper.BindPFlag("watch.debounce", flags.Lookup("debounce"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  parseLogLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})

	srv, err := server.New(cfg, nil, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Start(ctx)
}

func parseLogLevel(level string) logging.LogLevel {
	switch level {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
