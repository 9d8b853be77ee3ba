// Package cmd implements the chatgate command line interface.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chatgate/internal/config"
)

var (
	flagConfigPath  string
	flagPairingPath string
	flagVerbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "chatgate",
	Short: "Multi-platform chat gateway with admission control and pairing",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if flagVerbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})))
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "",
		"channel config file (default ~/.chatgate/channels.json)")
	rootCmd.PersistentFlags().StringVar(&flagPairingPath, "pairing-file", "",
		"pairing state file (default ~/.chatgate/pairing.json)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false,
		"enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(channelsCmd())
	rootCmd.AddCommand(pairingCmd())
	rootCmd.AddCommand(configCmd())
}

func resolveConfigPath() string {
	if flagConfigPath != "" {
		return flagConfigPath
	}
	return config.DefaultPath()
}

func resolvePairingPath() string {
	if flagPairingPath != "" {
		return flagPairingPath
	}
	return config.DefaultPairingPath()
}
