package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chatgate/pkg/protocol"
)

func pairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Manage DM pairing (approve, reject, list, revoke)",
	}
	cmd.AddCommand(pairingListCmd())
	cmd.AddCommand(pairingApproveCmd())
	cmd.AddCommand(pairingRejectCmd())
	cmd.AddCommand(pairingRevokeCmd())
	return cmd
}

func pairingListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pairing requests and approvals",
		Run: func(cmd *cobra.Command, args []string) {
			printRPCResult(gatewayRPC(protocol.MethodPairingList, nil))
		},
	}
}

func pairingApproveCmd() *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "approve <code>",
		Short: "Approve a pairing request by code",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			raw, _ := json.Marshal(map[string]string{
				"channel": channel,
				"code":    args[0],
				"by":      "cli-operator",
			})
			resp, err := gatewayRPC(protocol.MethodPairingApprove, raw)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}
			if !resp.OK {
				fmt.Printf("Failed: %s\n", resp.Error.Message)
				os.Exit(1)
			}
			fmt.Printf("Pairing approved! Code: %s\n", args[0])
			if resp.Payload != nil {
				data, _ := json.MarshalIndent(resp.Payload, "", "  ")
				fmt.Println(string(data))
			}
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "channel the code belongs to (required when codes collide)")
	return cmd
}

func pairingRejectCmd() *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "reject <code>",
		Short: "Reject a pairing request by code",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			raw, _ := json.Marshal(map[string]string{
				"channel": channel,
				"code":    args[0],
				"by":      "cli-operator",
			})
			printRPCResult(gatewayRPC(protocol.MethodPairingReject, raw))
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "channel the code belongs to")
	return cmd
}

func pairingRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <channel> <userId>",
		Short: "Revoke an approved user",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			raw, _ := json.Marshal(map[string]string{
				"channel": args[0],
				"user_id": args[1],
			})
			resp, err := gatewayRPC(protocol.MethodPairingRevoke, raw)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}
			if !resp.OK {
				fmt.Printf("Failed: %s\n", resp.Error.Message)
				os.Exit(1)
			}
			fmt.Printf("Revoked pairing for %s/%s\n", args[0], args[1])
		},
	}
}
