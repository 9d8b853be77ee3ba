package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/chatgate/internal/bus"
	"github.com/nextlevelbuilder/chatgate/pkg/protocol"
)

func dialTestServer(t *testing.T, opts Options) (*websocket.Conn, *bus.EventBus, func()) {
	t.Helper()

	events := bus.NewEventBus()
	server := NewServer(opts, events)

	ctx, cancel := context.WithCancel(context.Background())
	addr, start := StartTestServer(server, ctx)
	go start()

	var conn *websocket.Conn
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, _, err = websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		cancel()
		t.Fatalf("dial: %v", err)
	}

	cleanup := func() {
		conn.Close()
		cancel()
	}
	return conn, events, cleanup
}

func sendRequest(t *testing.T, conn *websocket.Conn, id, method string, params any) protocol.ResponseFrame {
	t.Helper()

	var raw json.RawMessage
	if params != nil {
		raw, _ = json.Marshal(params)
	}
	req := protocol.RequestFrame{Type: protocol.FrameTypeRequest, ID: id, Method: method, Params: raw}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		frameType, _ := protocol.ParseFrameType(data)
		if frameType == protocol.FrameTypeEvent {
			continue
		}
		var resp protocol.ResponseFrame
		if err := json.Unmarshal(data, &resp); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if resp.ID == id {
			return resp
		}
	}
}

func TestConnect_NoTokenConfigured(t *testing.T) {
	conn, _, cleanup := dialTestServer(t, Options{})
	defer cleanup()

	resp := sendRequest(t, conn, "1", protocol.MethodConnect, nil)
	if !resp.OK {
		t.Fatalf("connect failed: %+v", resp.Error)
	}

	health := sendRequest(t, conn, "2", protocol.MethodHealth, nil)
	if !health.OK {
		t.Errorf("health failed: %+v", health.Error)
	}
}

func TestConnect_TokenRequired(t *testing.T) {
	conn, _, cleanup := dialTestServer(t, Options{Token: "secret"})
	defer cleanup()

	bad := sendRequest(t, conn, "1", protocol.MethodConnect, map[string]string{"token": "wrong"})
	if bad.OK || bad.Error.Code != protocol.ErrUnauthorized {
		t.Fatalf("wrong token should be rejected, got %+v", bad)
	}

	good := sendRequest(t, conn, "2", protocol.MethodConnect, map[string]string{"token": "secret"})
	if !good.OK {
		t.Errorf("correct token should connect: %+v", good.Error)
	}
}

func TestRequestBeforeConnect(t *testing.T) {
	conn, _, cleanup := dialTestServer(t, Options{Token: "secret"})
	defer cleanup()

	resp := sendRequest(t, conn, "1", protocol.MethodHealth, nil)
	if resp.OK || resp.Error.Code != protocol.ErrUnauthorized {
		t.Errorf("requests before connect should fail, got %+v", resp)
	}
}

func TestUnknownMethod(t *testing.T) {
	conn, _, cleanup := dialTestServer(t, Options{})
	defer cleanup()

	if resp := sendRequest(t, conn, "1", protocol.MethodConnect, nil); !resp.OK {
		t.Fatalf("connect: %+v", resp.Error)
	}
	resp := sendRequest(t, conn, "2", "no.such.method", nil)
	if resp.OK || resp.Error.Code != protocol.ErrInvalidRequest {
		t.Errorf("unknown method should be rejected, got %+v", resp)
	}
}

func TestEventForwarding(t *testing.T) {
	conn, events, cleanup := dialTestServer(t, Options{})
	defer cleanup()

	if resp := sendRequest(t, conn, "1", protocol.MethodConnect, nil); !resp.OK {
		t.Fatalf("connect: %+v", resp.Error)
	}

	events.Emit(protocol.EventChannel, protocol.ChannelEventStarted, map[string]any{"channel": "telegram"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		frameType, _ := protocol.ParseFrameType(data)
		if frameType != protocol.FrameTypeEvent {
			continue
		}
		var event protocol.EventFrame
		if err := json.Unmarshal(data, &event); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if event.Event != protocol.EventChannel {
			t.Errorf("event = %s, want %s", event.Event, protocol.EventChannel)
		}
		return
	}
}
