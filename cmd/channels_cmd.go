package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chatgate/internal/channels"
	"github.com/nextlevelbuilder/chatgate/internal/config"
	"github.com/nextlevelbuilder/chatgate/pkg/protocol"
)

func channelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "List and manage messaging channels",
	}
	cmd.AddCommand(channelsListCmd())
	cmd.AddCommand(channelsStatusCmd())
	cmd.AddCommand(channelsStartCmd())
	cmd.AddCommand(channelsStopCmd())
	cmd.AddCommand(channelsLogsCmd())
	cmd.AddCommand(channelsProbeCmd())
	return cmd
}

type channelEntry struct {
	Name           string `json:"name"`
	Enabled        bool   `json:"enabled"`
	HasCredentials bool   `json:"hasCredentials"`
}

func channelsListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured channels and their readiness",
		Run: func(cmd *cobra.Command, args []string) {
			store := config.NewStore(resolveConfigPath())
			byChannel := make(map[string]config.ChannelConfig)
			for _, cfg := range store.Load() {
				byChannel[cfg.Channel] = cfg
			}

			entries := make([]channelEntry, 0, len(config.KnownChannels))
			for _, name := range config.KnownChannels {
				cfg, ok := byChannel[name]
				entries = append(entries, channelEntry{
					Name:           name,
					Enabled:        ok && cfg.Enabled,
					HasCredentials: ok && channels.Ready(cfg),
				})
			}

			if jsonOutput {
				data, _ := json.MarshalIndent(entries, "", "  ")
				fmt.Println(string(data))
				return
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "CHANNEL\tENABLED\tCREDENTIALS\n")
			for _, e := range entries {
				creds := "missing"
				if e.HasCredentials {
					creds = "ok"
				}
				fmt.Fprintf(tw, "%s\t%v\t%s\n", e.Name, e.Enabled, creds)
			}
			tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func channelsStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [channel]",
		Short: "Show live connection status from the running gateway",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			params := map[string]string{}
			if len(args) == 1 {
				params["channel"] = args[0]
			}
			raw, _ := json.Marshal(params)
			printRPCResult(gatewayRPC(protocol.MethodChannelsStatus, raw))
		},
	}
}

func channelsStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <channel>",
		Short: "Start a channel on the running gateway",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			raw, _ := json.Marshal(map[string]string{"channel": args[0]})
			printRPCResult(gatewayRPC(protocol.MethodChannelsStart, raw))
		},
	}
}

func channelsStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <channel>",
		Short: "Stop a channel on the running gateway",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			raw, _ := json.Marshal(map[string]string{"channel": args[0]})
			printRPCResult(gatewayRPC(protocol.MethodChannelsStop, raw))
		},
	}
}

func channelsLogsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "logs [channel]",
		Short: "Show recent channel log entries",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			params := map[string]interface{}{"limit": limit}
			if len(args) == 1 {
				params["channel"] = args[0]
			}
			raw, _ := json.Marshal(params)
			printRPCResult(gatewayRPC(protocol.MethodChannelsLogs, raw))
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to show")
	return cmd
}

func channelsProbeCmd() *cobra.Command {
	var live bool
	var timeoutMs int
	cmd := &cobra.Command{
		Use:   "probe <channel>",
		Short: "Run health checks for a channel",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			raw, _ := json.Marshal(map[string]interface{}{
				"channel": args[0],
				"options": map[string]interface{}{
					"live":       live,
					"timeout_ms": timeoutMs,
				},
			})
			printRPCResult(gatewayRPC(protocol.MethodChannelsProbe, raw))
		},
	}
	cmd.Flags().BoolVar(&live, "live", false, "include a live auth check against the platform API")
	cmd.Flags().IntVar(&timeoutMs, "timeout-ms", 0, "live check timeout in milliseconds")
	return cmd
}
