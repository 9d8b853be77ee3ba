package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chatgate/pkg/protocol"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit channel configuration",
	}
	cmd.AddCommand(configGetCmd())
	cmd.AddCommand(configPatchCmd())
	return cmd
}

func configGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show the channel configuration (secrets masked)",
		Run: func(cmd *cobra.Command, args []string) {
			printRPCResult(gatewayRPC(protocol.MethodConfigGet, nil))
		},
	}
}

func configPatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "patch <channel> <json>",
		Short: "Merge a partial update into one channel's config",
		Long: `Merge a partial update into one channel's config.

The patch is JSON5, so comments and trailing commas are fine:

  chatgate config patch telegram '{token: "123:abc", dm_policy: "pairing"}'`,
		Args: cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			raw, _ := json.Marshal(map[string]string{
				"channel": args[0],
				"raw":     args[1],
			})
			printRPCResult(gatewayRPC(protocol.MethodConfigPatch, raw))
		},
	}
}
