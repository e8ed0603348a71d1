package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/imerljak/flow-craft-sub001/internal/errx"
	"github.com/imerljak/flow-craft-sub001/pkg/api"
)

var rootCmd = &cobra.Command{
	Use:           "flowcraft",
	Short:         "HTTP traffic interception engine: rules, mocks, redirects and header rewrites",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(viper.GetBool("verbose"))
	},
}

func init() {
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (default ~/.flowcraft)")
	rootCmd.PersistentFlags().String("config", "", "Path to a JSON config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	viper.BindPFlag("data-dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	viper.SetEnvPrefix("FLOWCRAFT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// loadConfig builds the effective config: file (when given), then flag and
// environment overrides on top.
func loadConfig() (*api.Config, error) {
	cfg := api.DefaultConfig()
	if path := viper.GetString("config"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errx.Wrap(ErrReadConfig, err)
		}
		parsed, err := api.ParseConfig(raw)
		if err != nil {
			return nil, errx.Wrap(ErrParseConfig, err)
		}
		cfg = parsed
	}
	if dir := viper.GetString("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
