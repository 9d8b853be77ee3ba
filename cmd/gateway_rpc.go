package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/chatgate/pkg/protocol"
)

var (
	flagGatewayHost  string
	flagGatewayPort  int
	flagGatewayToken string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagGatewayHost, "gateway-host", "127.0.0.1",
		"gateway host for RPC commands")
	rootCmd.PersistentFlags().IntVar(&flagGatewayPort, "gateway-port", 18789,
		"gateway port for RPC commands")
	rootCmd.PersistentFlags().StringVar(&flagGatewayToken, "gateway-token", "",
		"gateway auth token (env CHATGATE_GATEWAY_TOKEN)")
}

// gatewayRPC connects to the running gateway, authenticates, sends one RPC
// call, and returns the response.
func gatewayRPC(method string, params json.RawMessage) (*protocol.ResponseFrame, error) {
	token := flagGatewayToken
	if token == "" {
		token = os.Getenv("CHATGATE_GATEWAY_TOKEN")
	}

	u := url.URL{
		Scheme: "ws",
		Host:   fmt.Sprintf("%s:%d", flagGatewayHost, flagGatewayPort),
		Path:   "/ws",
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("connect to gateway at %s: %w", u.String(), err)
	}
	defer conn.Close()

	connectParams, _ := json.Marshal(map[string]interface{}{
		"token":    token,
		"protocol": protocol.ProtocolVersion,
	})
	connectReq := protocol.RequestFrame{
		Type:   protocol.FrameTypeRequest,
		ID:     "cli-connect",
		Method: protocol.MethodConnect,
		Params: connectParams,
	}
	if err := conn.WriteJSON(connectReq); err != nil {
		return nil, fmt.Errorf("send connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var connectResp protocol.ResponseFrame
	if err := conn.ReadJSON(&connectResp); err != nil {
		return nil, fmt.Errorf("read connect response: %w", err)
	}
	if !connectResp.OK {
		msg := "unknown error"
		if connectResp.Error != nil {
			msg = connectResp.Error.Message
		}
		return nil, fmt.Errorf("connect failed: %s", msg)
	}

	rpcReq := protocol.RequestFrame{
		Type:   protocol.FrameTypeRequest,
		ID:     "cli-rpc",
		Method: method,
		Params: params,
	}
	if err := conn.WriteJSON(rpcReq); err != nil {
		return nil, fmt.Errorf("send RPC: %w", err)
	}

	// Skip events; find the response with the matching ID.
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		frameType, _ := protocol.ParseFrameType(msg)
		if frameType == protocol.FrameTypeEvent {
			continue
		}

		var resp protocol.ResponseFrame
		if err := json.Unmarshal(msg, &resp); err != nil {
			return nil, fmt.Errorf("parse response: %w", err)
		}
		if resp.ID == "cli-rpc" {
			return &resp, nil
		}
	}
}

// printRPCResult handles the common response/error pattern for CLI RPC calls.
func printRPCResult(resp *protocol.ResponseFrame, err error) {
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if !resp.OK {
		fmt.Printf("Failed: %s\n", resp.Error.Message)
		os.Exit(1)
	}
	if resp.Payload != nil {
		data, _ := json.MarshalIndent(resp.Payload, "", "  ")
		fmt.Println(string(data))
	}
}
