package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/pairchat/pairchat-server/internal/proto"
)

// outboundFrame mirrors proto.Outbound with raw data for inspection.
type outboundFrame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func dialWS(t *testing.T, env *testEnv, token string) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(env.ts.URL, "http", "ws", 1) + "/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, frameType string, data any) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal %s data: %v", frameType, err)
		}
		raw = encoded
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: frameType, Data: raw}); err != nil {
		t.Fatalf("write %s frame: %v", frameType, err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) *outboundFrame {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var frame outboundFrame
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return &frame
}

func expectNoFrame(t *testing.T, conn *websocket.Conn, within time.Duration) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()

	var frame outboundFrame
	if err := wsjson.Read(ctx, conn, &frame); err == nil {
		t.Fatalf("expected no frame, got %s/%s", frame.Type, frame.Event)
	}
}

// syncReady subscribes the connection to all of the user's chats and waits
// until the subscription has been applied. The bogus mark_read is processed
// strictly after the ready command, so its error reply proves the join went
// through the hub.
func syncReady(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	sendFrame(t, conn, proto.InboundTypeReady, nil)
	sendFrame(t, conn, proto.InboundTypeMarkRead, proto.MarkReadData{ChatID: 0, MessageID: 0})

	frame := readFrame(t, conn, 5*time.Second)
	if frame.Type != proto.OutboundTypeError {
		t.Fatalf("expected sync error frame, got %s/%s", frame.Type, frame.Event)
	}
}

func createChatBetween(t *testing.T, env *testEnv, token string, peerID int64) int64 {
	t.Helper()

	status, body := doJSON(t, env, http.MethodPost, "/api/chat/create", token, map[string]int64{
		"user_id": peerID,
	})
	if status != http.StatusOK {
		t.Fatalf("create chat: unexpected status %d: %s", status, body)
	}
	var created ChatResponse
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("create chat: bad response: %v", err)
	}
	return created.ID
}

func TestWSRejectsBadToken(t *testing.T) {
	env := startTestServer(t)

	wsURL := strings.Replace(env.ts.URL, "http", "ws", 1) + "/ws?token=garbage"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, wsURL, nil)
	if err == nil {
		conn.Close(websocket.StatusNormalClosure, "")
		t.Fatal("expected dial to fail for bad token")
	}
	if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake response, got %d", resp.StatusCode)
	}
}

func TestWSPresenceFollowsConnection(t *testing.T) {
	env := startTestServer(t)

	aliceID, aliceToken := registerUser(t, env, "alice", "alice@example.com")

	if env.registry.IsOnline(aliceID) {
		t.Fatal("alice should be offline before connecting")
	}

	conn := dialWS(t, env, aliceToken)
	syncReady(t, conn)

	if !env.registry.IsOnline(aliceID) {
		t.Fatal("alice should be online after connecting")
	}

	conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.After(3 * time.Second)
	for env.registry.IsOnline(aliceID) {
		select {
		case <-deadline:
			t.Fatal("alice still online after disconnect")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestWSMessageFanout(t *testing.T) {
	env := startTestServer(t)

	_, aliceToken := registerUser(t, env, "alice", "alice@example.com")
	bobID, bobToken := registerUser(t, env, "bob", "bob@example.com")
	chatID := createChatBetween(t, env, aliceToken, bobID)

	alice := dialWS(t, env, aliceToken)
	bob := dialWS(t, env, bobToken)
	syncReady(t, alice)
	syncReady(t, bob)

	sendFrame(t, alice, proto.InboundTypeSendMessage, proto.SendMessageData{
		ChatID:  chatID,
		Content: "hello bob",
	})

	for name, conn := range map[string]*websocket.Conn{"alice": alice, "bob": bob} {
		frame := readFrame(t, conn, 5*time.Second)
		if frame.Type != proto.OutboundTypeEvent || frame.Event != proto.EventMessageReceived {
			t.Fatalf("%s: expected message_received, got %s/%s", name, frame.Type, frame.Event)
		}
		var data proto.EventMessageReceivedData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			t.Fatalf("%s: bad event data: %v", name, err)
		}
		if data.ChatID != chatID || data.Message.Content != "hello bob" {
			t.Fatalf("%s: unexpected event payload: %+v", name, data)
		}
	}
}

func TestWSJoinChatSubscribesNewChat(t *testing.T) {
	env := startTestServer(t)

	_, aliceToken := registerUser(t, env, "alice", "alice@example.com")
	bobID, bobToken := registerUser(t, env, "bob", "bob@example.com")

	bob := dialWS(t, env, bobToken)
	syncReady(t, bob)

	// The chat is created after bob's ready, so he must join it explicitly.
	chatID := createChatBetween(t, env, aliceToken, bobID)

	sendFrame(t, bob, proto.InboundTypeJoinChat, proto.JoinChatData{ChatID: chatID})
	sendFrame(t, bob, proto.InboundTypeMarkRead, proto.MarkReadData{ChatID: 0, MessageID: 0})
	if frame := readFrame(t, bob, 5*time.Second); frame.Type != proto.OutboundTypeError {
		t.Fatalf("expected sync error frame, got %s/%s", frame.Type, frame.Event)
	}

	alice := dialWS(t, env, aliceToken)
	syncReady(t, alice)

	sendFrame(t, alice, proto.InboundTypeSendMessage, proto.SendMessageData{
		ChatID:  chatID,
		Content: "are you there",
	})

	frame := readFrame(t, bob, 5*time.Second)
	if frame.Event != proto.EventMessageReceived {
		t.Fatalf("expected message_received, got %s/%s", frame.Type, frame.Event)
	}
}

func TestWSReadReceiptBroadcastOnlyOnChange(t *testing.T) {
	env := startTestServer(t)

	_, aliceToken := registerUser(t, env, "alice", "alice@example.com")
	bobID, bobToken := registerUser(t, env, "bob", "bob@example.com")
	chatID := createChatBetween(t, env, aliceToken, bobID)

	alice := dialWS(t, env, aliceToken)
	bob := dialWS(t, env, bobToken)
	syncReady(t, alice)
	syncReady(t, bob)

	sendFrame(t, alice, proto.InboundTypeSendMessage, proto.SendMessageData{
		ChatID:  chatID,
		Content: "read me",
	})

	var msg proto.EventMessageReceivedData
	frame := readFrame(t, bob, 5*time.Second)
	if err := json.Unmarshal(frame.Data, &msg); err != nil {
		t.Fatalf("bad message event: %v", err)
	}
	readFrame(t, alice, 5*time.Second)

	sendFrame(t, bob, proto.InboundTypeMarkRead, proto.MarkReadData{
		ChatID:    chatID,
		MessageID: msg.Message.ID,
	})

	frame = readFrame(t, alice, 5*time.Second)
	if frame.Event != proto.EventReadReceiptUpdated {
		t.Fatalf("expected read_receipt_updated, got %s/%s", frame.Type, frame.Event)
	}
	var receipt proto.EventReadReceiptUpdatedData
	if err := json.Unmarshal(frame.Data, &receipt); err != nil {
		t.Fatalf("bad receipt event: %v", err)
	}
	if receipt.MessageID != msg.Message.ID || len(receipt.ReadBy) != 1 || receipt.ReadBy[0] != bobID {
		t.Fatalf("unexpected receipt payload: %+v", receipt)
	}

	// The repeat read changes nothing and must broadcast nothing.
	sendFrame(t, bob, proto.InboundTypeMarkRead, proto.MarkReadData{
		ChatID:    chatID,
		MessageID: msg.Message.ID,
	})
	expectNoFrame(t, alice, 300*time.Millisecond)
}

func TestWSSendErrorStaysPrivate(t *testing.T) {
	env := startTestServer(t)

	_, aliceToken := registerUser(t, env, "alice", "alice@example.com")
	bobID, _ := registerUser(t, env, "bob", "bob@example.com")
	_, eveToken := registerUser(t, env, "eve", "eve@example.com")
	chatID := createChatBetween(t, env, aliceToken, bobID)

	alice := dialWS(t, env, aliceToken)
	eve := dialWS(t, env, eveToken)
	syncReady(t, alice)
	syncReady(t, eve)

	sendFrame(t, eve, proto.InboundTypeSendMessage, proto.SendMessageData{
		ChatID:  chatID,
		Content: "let me in",
	})

	frame := readFrame(t, eve, 5*time.Second)
	if frame.Type != proto.OutboundTypeError || frame.Error == nil {
		t.Fatalf("expected error frame for eve, got %s/%s", frame.Type, frame.Event)
	}
	expectNoFrame(t, alice, 300*time.Millisecond)
}

func TestWSProtocolVersionMismatch(t *testing.T) {
	env := startTestServer(t)

	_, aliceToken := registerUser(t, env, "alice", "alice@example.com")
	alice := dialWS(t, env, aliceToken)

	sendFrame(t, alice, proto.InboundTypeReady, proto.ReadyData{Protocol: proto.ProtocolVersion + 1})

	frame := readFrame(t, alice, 5*time.Second)
	if frame.Type != proto.OutboundTypeError || frame.Error == nil || frame.Error.Code != "unsupported_version" {
		t.Fatalf("expected unsupported_version error, got %+v", frame)
	}
}

func TestWSReadyAcceptsCurrentVersion(t *testing.T) {
	env := startTestServer(t)

	_, aliceToken := registerUser(t, env, "alice", "alice@example.com")
	bobID, bobToken := registerUser(t, env, "bob", "bob@example.com")
	chatID := createChatBetween(t, env, aliceToken, bobID)

	alice := dialWS(t, env, aliceToken)
	sendFrame(t, alice, proto.InboundTypeReady, proto.ReadyData{Protocol: proto.ProtocolVersion})
	sendFrame(t, alice, proto.InboundTypeMarkRead, proto.MarkReadData{ChatID: 0, MessageID: 0})
	if frame := readFrame(t, alice, 5*time.Second); frame.Type != proto.OutboundTypeError {
		t.Fatalf("expected sync error frame, got %s/%s", frame.Type, frame.Event)
	}

	bob := dialWS(t, env, bobToken)
	syncReady(t, bob)

	sendFrame(t, bob, proto.InboundTypeSendMessage, proto.SendMessageData{
		ChatID:  chatID,
		Content: "versioned hello",
	})

	frame := readFrame(t, alice, 5*time.Second)
	if frame.Event != proto.EventMessageReceived {
		t.Fatalf("expected message_received, got %s/%s", frame.Type, frame.Event)
	}
}
