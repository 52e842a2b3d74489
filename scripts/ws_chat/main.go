package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/pairchat/pairchat-server/internal/proto"
)

// Minimal interactive client for poking at a running server:
//
//	go run ./scripts/ws_chat -token $TOKEN -chat 1
func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	token := flag.String("token", "", "JWT from /api/auth/login")
	chatID := flag.Int64("chat", 0, "chat id to send into")
	flag.Parse()

	if *token == "" {
		return errors.New("-token is required")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + *token}},
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	send := func(frameType string, data any) {
		var raw json.RawMessage
		if data != nil {
			encoded, marshalErr := json.Marshal(data)
			if marshalErr != nil {
				log.Printf("marshal %s: %v", frameType, marshalErr)
				return
			}
			raw = encoded
		}
		if writeErr := wsjson.Write(ctx, conn, proto.Inbound{Type: frameType, Data: raw}); writeErr != nil {
			cancel()
			log.Printf("send: %v", writeErr)
		}
	}

	send(proto.InboundTypeReady, proto.ReadyData{Protocol: proto.ProtocolVersion})

	fmt.Printf("Connected to %s\n", *addr)
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		send(proto.InboundTypeSendMessage, proto.SendMessageData{ChatID: *chatID, Content: text})
	}

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var frame struct {
			Type  string          `json:"type"`
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
			Error *proto.Error    `json:"error"`
		}
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		switch frame.Event {
		case proto.EventMessageReceived:
			var evt proto.EventMessageReceivedData
			if err := json.Unmarshal(frame.Data, &evt); err != nil {
				log.Printf("unmarshal message: %v", err)
				continue
			}
			fmt.Printf("[chat %d] user %d: %s\n", evt.ChatID, evt.Message.SenderID, evt.Message.Content)
		case proto.EventReadReceiptUpdated:
			var evt proto.EventReadReceiptUpdatedData
			if err := json.Unmarshal(frame.Data, &evt); err != nil {
				log.Printf("unmarshal receipt: %v", err)
				continue
			}
			fmt.Printf("[chat %d] message %d read by %v\n", evt.ChatID, evt.MessageID, evt.ReadBy)
		default:
			if frame.Error != nil {
				fmt.Printf("[error %s] %s\n", frame.Error.Code, frame.Error.Msg)
			}
		}
	}
}
